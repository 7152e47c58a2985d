package statecache

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"telehub/robot"
)

type fakeSink struct {
	mu         sync.Mutex
	snapshots  []*robot.State
	transcript []string
	ttl        time.Duration
	maxLines   int64
	err        error
}

func (f *fakeSink) SetSnapshot(_ context.Context, st *robot.State, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.snapshots = append(f.snapshots, st)
	f.ttl = ttl
	return nil
}

func (f *fakeSink) AppendTranscript(_ context.Context, chunks []string, maxLines int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcript = append(f.transcript, chunks...)
	f.maxLines = maxLines
	return nil
}

func TestMirrorCoalescesSnapshots(t *testing.T) {
	sink := &fakeSink{}
	m := NewMirror(sink, time.Hour, 10*time.Second, 100)

	store := robot.NewStore()
	store.AddListener(m.Observe)
	store.SetBatteryLevel(90)
	store.SetBatteryLevel(80)
	store.SetBatteryLevel(70)

	m.flush()
	m.flush() // nothing new

	if len(sink.snapshots) != 1 {
		t.Fatalf("snapshots written = %d, want 1", len(sink.snapshots))
	}
	if got := sink.snapshots[0].BatteryLevel; got != 70 {
		t.Errorf("BatteryLevel = %v, want latest 70", got)
	}
	if sink.ttl != 10*time.Second {
		t.Errorf("ttl = %v, want 10s", sink.ttl)
	}
}

func TestMirrorKeepsNewestOnLateNotification(t *testing.T) {
	sink := &fakeSink{}
	m := NewMirror(sink, time.Hour, 0, 0)

	store := robot.NewStore()
	hold := make(chan struct{})
	store.AddListener(func(st *robot.State) {
		if st.Score == 1 {
			<-hold
		}
	})
	store.AddListener(m.Observe)

	first := make(chan struct{})
	go func() {
		store.UpdateScore(1)
		close(first)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for store.Snapshot().Score != 1 {
		if time.Now().After(deadline) {
			t.Fatal("first update never published")
		}
		time.Sleep(time.Millisecond)
	}

	// The second update notifies fully while the first is still held.
	store.UpdateScore(2)
	close(hold)
	<-first

	m.flush()
	if len(sink.snapshots) != 1 {
		t.Fatalf("snapshots written = %d, want 1", len(sink.snapshots))
	}
	if got := sink.snapshots[0].Score; got != 2 {
		t.Errorf("mirrored score = %d, want 2 (store has %d)", got, store.Snapshot().Score)
	}
}

func TestMirrorRetriesFailedSnapshot(t *testing.T) {
	sink := &fakeSink{err: errors.New("redis down")}
	m := NewMirror(sink, time.Hour, 0, 0)
	m.Observe(robot.NewState("r", "t"))

	m.flush()
	sink.err = nil
	m.flush()

	if len(sink.snapshots) != 1 {
		t.Errorf("snapshots written = %d, want 1 after retry", len(sink.snapshots))
	}
}

func TestMirrorTranscript(t *testing.T) {
	sink := &fakeSink{}
	m := NewMirror(sink, time.Hour, 0, 500)

	m.ShellOutput("$ ls\n")
	m.ShellOutput("test.py\n")
	m.flush()

	if len(sink.transcript) != 2 || sink.transcript[0] != "$ ls\n" {
		t.Errorf("transcript = %q", sink.transcript)
	}
	if sink.maxLines != 500 {
		t.Errorf("maxLines = %d, want 500", sink.maxLines)
	}

	for range maxPendingChunks + 10 {
		m.ShellOutput("x")
	}
	m.flush()
	if len(sink.transcript) != 2+maxPendingChunks {
		t.Errorf("transcript len = %d, want %d", len(sink.transcript), 2+maxPendingChunks)
	}
}

func TestMirrorStopFlushes(t *testing.T) {
	sink := &fakeSink{}
	m := NewMirror(sink, time.Hour, 0, 0)
	m.Start()
	m.Observe(robot.NewState("r", "t"))
	m.Stop()
	m.Stop()

	if len(sink.snapshots) != 1 {
		t.Errorf("snapshots written = %d, want 1 on stop", len(sink.snapshots))
	}
}

// TestRedisStore runs against a live server when TELEHUB_TEST_REDIS is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TELEHUB_TEST_REDIS")
	if addr == "" {
		t.Skip("TELEHUB_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	rs := NewRedisStore(client, "test-"+time.Now().Format("150405.000"))
	if err := rs.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(func() {
		client.Del(ctx, rs.stateKey(), rs.transcriptKey())
	})

	got, err := rs.GetSnapshot(ctx)
	if err != nil || got != nil {
		t.Fatalf("empty GetSnapshot = %v, %v; want nil, nil", got, err)
	}

	st := robot.NewState("R2", "Team")
	st.BatteryLevel = 42
	if err := rs.SetSnapshot(ctx, st, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, err = rs.GetSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.RobotName != "R2" || got.BatteryLevel != 42 {
		t.Errorf("snapshot = %s/%v", got.RobotName, got.BatteryLevel)
	}

	rs.AppendTranscript(ctx, []string{"a", "b"}, 3)
	rs.AppendTranscript(ctx, []string{"c", "d"}, 3)
	lines, err := rs.Transcript(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b", "c", "d"}
	if len(lines) != len(want) {
		t.Fatalf("transcript = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("transcript = %q, want %q", lines, want)
			break
		}
	}
}
