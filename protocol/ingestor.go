package protocol

import (
	"encoding/json"
	"log"
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *RawHeader) bool

// MessageHandler receives decoded messages. Embed NoOpHandler and override
// only the methods you need.
type MessageHandler interface {
	// Robot -> Hub
	HandleTelemetryUpdate(env *Envelope, p *TelemetryUpdate)
	HandleMatchUpdate(env *Envelope, p *MatchUpdate)

	// Operator -> Hub
	HandleRobotCommand(env *Envelope, p *RobotCommand)
	HandleEmergencyStop(env *Envelope, p *EmergencyStop)
	HandleModeChange(env *Envelope, p *ModeChange)

	// Hub -> anyone
	HandleTelemetrySnapshot(env *Envelope, p *TelemetrySnapshot)
	HandleHubHeartbeat(env *Envelope, p *HubHeartbeat)

	// HandleDecodeError is called when a message with a readable header
	// carries an envelope or payload that does not decode.
	HandleDecodeError(hdr *RawHeader, err error)
}

// Ingestor performs two-phase decode and dispatches to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
}

func NewIngestor(handler MessageHandler, filter FilterFunc) *Ingestor {
	return &Ingestor{
		handler: handler,
		filter:  filter,
	}
}

// HandleRaw is the entry point for raw message bytes from the messaging layer.
func (ing *Ingestor) HandleRaw(data []byte) {
	// Phase 1: decode routing header only
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		log.Printf("protocol: header decode error: %v", err)
		return
	}

	if IsExpiredHeader(&hdr) {
		log.Printf("protocol: dropping expired message %s (type=%s)", hdr.ID, hdr.Type)
		return
	}

	if ing.filter != nil && !ing.filter(&hdr) {
		return
	}

	// Phase 2: full envelope decode
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("protocol: envelope decode error: %v", err)
		ing.handler.HandleDecodeError(&hdr, err)
		return
	}

	switch env.Type {
	case TypeTelemetryUpdate:
		decodeAndCall(ing, &hdr, ing.handler.HandleTelemetryUpdate, &env)
	case TypeMatchUpdate:
		decodeAndCall(ing, &hdr, ing.handler.HandleMatchUpdate, &env)
	case TypeRobotCommand:
		decodeAndCall(ing, &hdr, ing.handler.HandleRobotCommand, &env)
	case TypeEmergencyStop:
		decodeAndCall(ing, &hdr, ing.handler.HandleEmergencyStop, &env)
	case TypeModeChange:
		decodeAndCall(ing, &hdr, ing.handler.HandleModeChange, &env)
	case TypeTelemetrySnapshot:
		decodeAndCall(ing, &hdr, ing.handler.HandleTelemetrySnapshot, &env)
	case TypeHubHeartbeat:
		decodeAndCall(ing, &hdr, ing.handler.HandleHubHeartbeat, &env)
	default:
		log.Printf("protocol: unknown message type: %s", env.Type)
	}
}

// decodeAndCall unmarshals the payload and calls the handler method.
func decodeAndCall[T any](ing *Ingestor, hdr *RawHeader, fn func(*Envelope, *T), env *Envelope) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Printf("protocol: payload decode error for %s: %v", env.Type, err)
		ing.handler.HandleDecodeError(hdr, err)
		return
	}
	fn(env, &p)
}
