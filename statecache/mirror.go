package statecache

import (
	"context"
	"log"
	"sync"
	"time"

	"telehub/robot"
)

// Sink is where the mirror writes. RedisStore implements it.
type Sink interface {
	SetSnapshot(ctx context.Context, st *robot.State, ttl time.Duration) error
	AppendTranscript(ctx context.Context, chunks []string, maxLines int64) error
}

// Mirror copies store snapshots and shell output to a Sink off the hot
// path. Snapshots are coalesced: at most one write per interval, always the
// latest. Transcript chunks are queued and dropped when the queue is full.
type Mirror struct {
	sink     Sink
	interval time.Duration
	ttl      time.Duration
	maxLines int64

	mu      sync.Mutex
	latest  *robot.State
	written *robot.State
	chunks  []string

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

const maxPendingChunks = 256

func NewMirror(sink Sink, interval, ttl time.Duration, maxLines int64) *Mirror {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Mirror{
		sink:     sink,
		interval: interval,
		ttl:      ttl,
		maxLines: maxLines,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Observe is a robot.Listener. A snapshot older than the one already held
// is ignored, since concurrent mutations may notify out of order.
func (m *Mirror) Observe(st *robot.State) {
	m.mu.Lock()
	if st.NewerThan(m.latest) {
		m.latest = st
	}
	m.mu.Unlock()
}

// ShellOutput queues a transcript chunk.
func (m *Mirror) ShellOutput(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.chunks) >= maxPendingChunks {
		return
	}
	m.chunks = append(m.chunks, text)
}

func (m *Mirror) Start() {
	go m.loop()
}

// Stop flushes once more and waits for the loop to exit.
func (m *Mirror) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

func (m *Mirror) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			m.flush()
			return
		case <-ticker.C:
			m.flush()
		}
	}
}

func (m *Mirror) flush() {
	m.mu.Lock()
	st := m.latest
	pending := m.written != st
	chunks := m.chunks
	m.chunks = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.interval+time.Second)
	defer cancel()

	if pending && st != nil {
		if err := m.sink.SetSnapshot(ctx, st, m.ttl); err != nil {
			log.Printf("statecache: write snapshot: %v", err)
		} else {
			m.mu.Lock()
			m.written = st
			m.mu.Unlock()
		}
	}
	if len(chunks) > 0 {
		if err := m.sink.AppendTranscript(ctx, chunks, m.maxLines); err != nil {
			log.Printf("statecache: write transcript (%d chunks dropped): %v", len(chunks), err)
		}
	}
}
