package messaging

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"telehub/protocol"
	"telehub/robot"
)

// SnapshotPublisher periodically publishes the robot state as
// telemetry.snapshot, skipping ticks where nothing changed.
type SnapshotPublisher struct {
	pub      Publisher
	store    *robot.Store
	hubID    string
	topic    string
	interval time.Duration

	last time.Time
	seq  uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewSnapshotPublisher(pub Publisher, store *robot.Store, hubID, topic string, interval time.Duration) *SnapshotPublisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &SnapshotPublisher{
		pub:      pub,
		store:    store,
		hubID:    hubID,
		topic:    topic,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *SnapshotPublisher) Start() {
	go p.loop()
}

// Stop halts the loop and waits for an in-flight publish to finish.
func (p *SnapshotPublisher) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.done
}

func (p *SnapshotPublisher) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.publishIfChanged()
		}
	}
}

// publishIfChanged reports whether a snapshot was sent.
func (p *SnapshotPublisher) publishIfChanged() bool {
	st := p.store.Snapshot()
	if st.LastUpdate.Equal(p.last) {
		return false
	}
	data, err := json.Marshal(st)
	if err != nil {
		log.Printf("snapshot_publisher: marshal state: %v", err)
		return false
	}
	p.seq++
	env, err := protocol.NewEnvelope(protocol.TypeTelemetrySnapshot,
		protocol.Address{Role: protocol.RoleHub, Node: p.hubID},
		protocol.Address{Node: "*"},
		&protocol.TelemetrySnapshot{Seq: p.seq, State: data},
	)
	if err != nil {
		log.Printf("snapshot_publisher: build envelope: %v", err)
		return false
	}
	if err := p.pub.PublishEnvelope(p.topic, env); err != nil {
		log.Printf("snapshot_publisher: publish: %v", err)
		return false
	}
	p.last = st.LastUpdate
	return true
}
