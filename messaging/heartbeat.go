package messaging

import (
	"log"
	"sync"
	"time"

	"telehub/protocol"
)

// StatusFunc fills the live fields of a heartbeat.
type StatusFunc func(hb *protocol.HubHeartbeat)

// Heartbeater publishes hub.heartbeat on startup and then periodically.
type Heartbeater struct {
	pub       Publisher
	hubID     string
	topic     string
	interval  time.Duration
	status    StatusFunc
	startTime time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewHeartbeater(pub Publisher, hubID, topic string, interval time.Duration, status StatusFunc) *Heartbeater {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Heartbeater{
		pub:      pub,
		hubID:    hubID,
		topic:    topic,
		interval: interval,
		status:   status,
		stopCh:   make(chan struct{}),
	}
}

// Start sends an initial heartbeat and begins the heartbeat loop.
func (h *Heartbeater) Start() {
	h.startTime = time.Now()
	h.send()
	go h.loop()
}

func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *Heartbeater) send() {
	hb := &protocol.HubHeartbeat{
		HubID:  h.hubID,
		Uptime: int64(time.Since(h.startTime).Seconds()),
	}
	if h.status != nil {
		h.status(hb)
	}
	env, err := protocol.NewEnvelope(protocol.TypeHubHeartbeat,
		protocol.Address{Role: protocol.RoleHub, Node: h.hubID},
		protocol.Address{Node: "*"},
		hb,
	)
	if err != nil {
		log.Printf("heartbeater: build heartbeat: %v", err)
		return
	}
	if err := h.pub.PublishEnvelope(h.topic, env); err != nil {
		log.Printf("heartbeater: send heartbeat: %v", err)
	}
}

func (h *Heartbeater) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.send()
		}
	}
}
