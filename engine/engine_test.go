package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"telehub/config"
	"telehub/robot"
	"telehub/shell"
	"telehub/store"
)

// --- Fakes ---

// fakeChannel is an in-memory shell channel. push queues remote output;
// hangup makes the channel report closed once that output is drained.
type fakeChannel struct {
	mu     sync.Mutex
	out    bytes.Buffer
	in     bytes.Buffer
	closed bool
	hungUp bool
}

func (c *fakeChannel) push(s string) {
	c.mu.Lock()
	c.out.WriteString(s)
	c.mu.Unlock()
}

func (c *fakeChannel) hangup() {
	c.mu.Lock()
	c.hungUp = true
	c.mu.Unlock()
}

func (c *fakeChannel) written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.String()
}

func (c *fakeChannel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Len() > 0
}

func (c *fakeChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || (c.hungUp && c.out.Len() == 0)
}

func (c *fakeChannel) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out.Len() == 0 {
		return 0, io.EOF
	}
	return c.out.Read(b)
}

func (c *fakeChannel) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	return c.in.Write(b)
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type fakeConn struct {
	ch *fakeChannel

	mu    sync.Mutex
	execs []string
}

func (c *fakeConn) OpenShell() (shell.Channel, error) { return c.ch, nil }

func (c *fakeConn) Exec(cmd string) error {
	c.mu.Lock()
	c.execs = append(c.execs, cmd)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error { return nil }

type fakeDialer struct {
	conn *fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ config.ShellConfig) (shell.Conn, error) {
	return d.conn, nil
}

// --- Helpers ---

type testRig struct {
	eng  *Engine
	db   *store.DB
	ch   *fakeChannel
	conn *fakeConn
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Defaults()
	cfg.Shell.PollInterval = 2 * time.Millisecond
	cfg.Shell.RemoteScript = "test.py"
	cfg.Shell.LogPrefix = "test_remote"

	ch := &fakeChannel{}
	conn := &fakeConn{ch: ch}
	rs := robot.NewStore()
	eng := New(Config{
		AppConfig: cfg,
		DB:        db,
		Store:     rs,
		Simulator: robot.NewSimulator(rs, 5*time.Millisecond),
		Shell:     shell.NewSession(&fakeDialer{conn: conn}, shell.WithTiming(cfg.Shell)),
		LogFunc:   func(string, ...any) {},
	})
	eng.Start()
	t.Cleanup(eng.Stop)
	return &testRig{eng: eng, db: db, ch: ch, conn: conn}
}

// collect subscribes to the given types and returns a channel of events.
func collect(eng *Engine, types ...EventType) <-chan Event {
	out := make(chan Event, 256)
	eng.Events.SubscribeTypes(func(evt Event) {
		select {
		case out <- evt:
		default:
		}
	}, types...)
	return out
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-events:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// --- EventBus ---

func TestEventBusFilterAndUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var all, modes int
	bus.Subscribe(func(Event) { all++ })
	id := bus.SubscribeTypes(func(Event) { modes++ }, EventModeChanged)

	bus.Emit(Event{Type: EventModeChanged})
	bus.Emit(Event{Type: EventEmergencyStop})
	if !bus.Unsubscribe(id) {
		t.Error("Unsubscribe should find the subscriber")
	}
	if bus.Unsubscribe(id) {
		t.Error("second Unsubscribe should report false")
	}
	bus.Emit(Event{Type: EventModeChanged})

	if all != 3 {
		t.Errorf("all = %d, want 3", all)
	}
	if modes != 1 {
		t.Errorf("modes = %d, want 1", modes)
	}
}

func TestEventBusPanicIsolated(t *testing.T) {
	bus := NewEventBus()
	var got Event
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(evt Event) { got = evt })

	bus.Emit(Event{Type: EventShellOutput})

	if got.Type != EventShellOutput {
		t.Errorf("second subscriber got %v, want shell-output", got.Type)
	}
	if got.Timestamp.IsZero() {
		t.Error("Emit should stamp the event")
	}
}

func TestEventTypeString(t *testing.T) {
	if s := EventShellClosed.String(); s != "shell-closed" {
		t.Errorf("String = %q, want shell-closed", s)
	}
	if s := EventType(999).String(); s != "unknown" {
		t.Errorf("String = %q, want unknown", s)
	}
}

// --- Robot commands ---

func TestStateChangesReachBusAndMetrics(t *testing.T) {
	r := newTestRig(t)
	events := collect(r.eng, EventStateChanged)

	r.eng.Store().SetBatteryLevel(42)

	ev := waitEvent(t, events).Payload.(StateChangedEvent)
	if ev.State.BatteryLevel != 42 {
		t.Errorf("event battery = %v, want 42", ev.State.BatteryLevel)
	}
	m := r.eng.Metrics()
	if v := testutil.ToFloat64(m.battery); v != 42 {
		t.Errorf("battery gauge = %v, want 42", v)
	}
	if v := testutil.ToFloat64(m.mode.WithLabelValues("idle")); v != 1 {
		t.Errorf("idle mode gauge = %v, want 1", v)
	}
}

func TestLateSnapshotDoesNotOverwriteNewer(t *testing.T) {
	r := newTestRig(t)
	s := r.eng.Store()
	s.SetBatteryLevel(30)
	older := s.Snapshot()
	s.SetBatteryLevel(70)
	newer := s.Snapshot()
	events := collect(r.eng, EventStateChanged)

	// A notification of the older mutation arriving last, then a repeat.
	r.eng.onState(older)
	r.eng.onState(newer)

	select {
	case evt := <-events:
		t.Errorf("stale snapshot emitted: battery %v", evt.Payload.(StateChangedEvent).State.BatteryLevel)
	default:
	}
	if v := testutil.ToFloat64(r.eng.Metrics().battery); v != 70 {
		t.Errorf("battery gauge = %v, want 70", v)
	}

	s.SetBatteryLevel(55)
	if ev := waitEvent(t, events).Payload.(StateChangedEvent); ev.State.BatteryLevel != 55 {
		t.Errorf("next event battery = %v, want 55", ev.State.BatteryLevel)
	}
}

func TestChangeModeClearsEmergencyStop(t *testing.T) {
	r := newTestRig(t)
	events := collect(r.eng, EventEmergencyStop, EventModeChanged)

	r.eng.EmergencyStop(true, "alice")
	if st := r.eng.Store().Snapshot(); !st.EmergencyStop || st.Mode != robot.ModeEmergencyStop {
		t.Fatalf("after estop: active=%v mode=%s", st.EmergencyStop, st.Mode)
	}

	if err := r.eng.ChangeMode(robot.ModeManual, "bob"); err != nil {
		t.Fatal(err)
	}
	st := r.eng.Store().Snapshot()
	if st.EmergencyStop {
		t.Error("mode change should clear the emergency stop")
	}
	if st.Mode != robot.ModeManual {
		t.Errorf("Mode = %s, want manual", st.Mode)
	}

	want := []EventType{EventEmergencyStop, EventEmergencyStop, EventModeChanged}
	for i, w := range want {
		if got := waitEvent(t, events); got.Type != w {
			t.Errorf("event %d = %s, want %s", i, got.Type, w)
		}
	}

	entries, err := r.db.ListEntityAudit(store.EntityRobot, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("robot audit entries = %d, want 3", len(entries))
	}
}

func TestChangeModeRejectsUnknownMode(t *testing.T) {
	r := newTestRig(t)
	if err := r.eng.ChangeMode("turbo", "alice"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("err = %v, want ErrInvalidMode", err)
	}
	if r.eng.Store().Snapshot().Mode != robot.ModeIdle {
		t.Error("mode should be unchanged")
	}
}

// --- Simulation ---

func TestSimulationStartStop(t *testing.T) {
	r := newTestRig(t)
	events := collect(r.eng, EventSimulationStarted, EventSimulationStopped)

	if !r.eng.StartSimulation("alice") {
		t.Fatal("first start should succeed")
	}
	if r.eng.StartSimulation("alice") {
		t.Error("second start should report already running")
	}
	waitFor(t, "simulated telemetry", func() bool {
		return r.eng.Store().Snapshot().Mode == robot.ModeAutonomous
	})
	if v := testutil.ToFloat64(r.eng.Metrics().simulation); v != 1 {
		t.Errorf("simulation gauge = %v, want 1", v)
	}

	if !r.eng.StopSimulation("alice") {
		t.Fatal("stop should succeed")
	}
	if r.eng.StopSimulation("alice") {
		t.Error("second stop should report not running")
	}
	if r.eng.SimulationRunning() {
		t.Error("simulation should be stopped")
	}

	if got := waitEvent(t, events).Type; got != EventSimulationStarted {
		t.Errorf("first event = %s", got)
	}
	if got := waitEvent(t, events).Type; got != EventSimulationStopped {
		t.Errorf("second event = %s", got)
	}
}

// --- Remote shell ---

func TestShellSessionRecorded(t *testing.T) {
	r := newTestRig(t)
	output := collect(r.eng, EventShellOutput)

	if err := r.eng.ConnectShell(context.Background(), "alice"); err != nil {
		t.Fatalf("ConnectShell: %v", err)
	}
	if err := r.eng.ConnectShell(context.Background(), "alice"); err != nil {
		t.Fatalf("second ConnectShell: %v", err)
	}
	status := r.eng.ShellStatus()
	if !status.ShellStarted || status.SessionID == 0 {
		t.Fatalf("status = %+v, want started with a session id", status)
	}
	if v := testutil.ToFloat64(r.eng.Metrics().shellConnected); v != 1 {
		t.Errorf("shell gauge = %v, want 1", v)
	}

	r.ch.push("hello\n")
	if ev := waitEvent(t, output).Payload.(ShellOutputEvent); ev.Text != "hello\n" {
		t.Errorf("output = %q, want %q", ev.Text, "hello\n")
	}

	if err := r.eng.Move(shell.Forward, 0, "alice"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got := r.ch.written(); got != "MOVE forward 200\n" {
		t.Errorf("written = %q", got)
	}

	r.eng.CloseShell("alice")
	if r.eng.ShellStatus().Connected {
		t.Error("shell should be disconnected")
	}

	rec, err := r.db.GetShellSession(status.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClosedAt == nil || rec.CloseReason != "operator" {
		t.Errorf("record = %+v, want closed by operator", rec)
	}
	if rec.CommandsSent != 1 || rec.BytesReceived != 6 {
		t.Errorf("counters = %d/%d, want 1/6", rec.CommandsSent, rec.BytesReceived)
	}

	entries, err := r.db.ListEntityAudit(store.EntityShell, status.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("shell audit entries = %d, want connect, command, close", len(entries))
	}
}

func TestRemoteHangupClosesSession(t *testing.T) {
	r := newTestRig(t)
	closed := collect(r.eng, EventShellClosed)

	if err := r.eng.ConnectShell(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	r.ch.push("bye\n")
	r.ch.hangup()

	ev := waitEvent(t, closed).Payload.(ShellClosedEvent)
	if ev.Reason != "remote closed" {
		t.Errorf("Reason = %q, want remote closed", ev.Reason)
	}
	if ev.BytesReceived != 4 {
		t.Errorf("BytesReceived = %d, want 4", ev.BytesReceived)
	}
	waitFor(t, "session release", func() bool { return !r.eng.ShellStatus().Connected })

	if err := r.eng.SendCommand("ls", "alice"); !errors.Is(err, shell.ErrShellNotStarted) {
		t.Errorf("send after hangup err = %v, want ErrShellNotStarted", err)
	}
}

func TestConnectShellInvalidTarget(t *testing.T) {
	r := newTestRig(t)
	r.eng.AppConfig().Shell.Address = ""

	if err := r.eng.ConnectShell(context.Background(), "alice"); !errors.Is(err, shell.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestMoveRejectsUnknownDirection(t *testing.T) {
	r := newTestRig(t)
	if err := r.eng.Move("sideways", 100, "alice"); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("err = %v, want ErrInvalidDirection", err)
	}
}

func TestRunRemoteScript(t *testing.T) {
	r := newTestRig(t)
	if _, err := r.eng.RunRemoteScript("alice"); !errors.Is(err, shell.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if err := r.eng.ConnectShell(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	logfile, err := r.eng.RunRemoteScript("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.conn.execs) != 1 {
		t.Fatalf("execs = %q, want one", r.conn.execs)
	}
	if want := shell.DetachedCommand("test.py", logfile); r.conn.execs[0] != want {
		t.Errorf("exec = %q, want %q", r.conn.execs[0], want)
	}
}

func TestStopClosesShell(t *testing.T) {
	r := newTestRig(t)
	if err := r.eng.ConnectShell(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	id := r.eng.ShellStatus().SessionID
	r.eng.StartSimulation("system")

	r.eng.Stop()
	r.eng.Stop()

	if r.eng.SimulationRunning() {
		t.Error("simulation should be stopped")
	}
	rec, _ := r.db.GetShellSession(id)
	if rec == nil || rec.CloseReason != "hub shutdown" {
		t.Errorf("record = %+v, want hub shutdown", rec)
	}
}
