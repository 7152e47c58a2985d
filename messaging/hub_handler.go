package messaging

import (
	"log"

	"telehub/protocol"
	"telehub/robot"
	"telehub/shell"
)

// CommandSink carries out operator commands received over the bus.
type CommandSink interface {
	SendCommand(line, actor string) error
	EmergencyStop(active bool, actor string)
	ChangeMode(mode robot.Mode, actor string) error
}

// HubHandler applies inbound telemetry to the store and forwards operator
// commands to the sink.
type HubHandler struct {
	protocol.NoOpHandler

	store *robot.Store
	sink  CommandSink
}

func NewHubHandler(store *robot.Store, sink CommandSink) *HubHandler {
	return &HubHandler{store: store, sink: sink}
}

// HubFilter accepts messages addressed to hubID, broadcast ("*") or
// unaddressed.
func HubFilter(hubID string) protocol.FilterFunc {
	return func(hdr *protocol.RawHeader) bool {
		switch hdr.Dst.Node {
		case "", "*", hubID:
			return true
		}
		return false
	}
}

// HandleTelemetryUpdate applies the whole frame as one store batch so
// listeners never see half a frame.
func (h *HubHandler) HandleTelemetryUpdate(env *protocol.Envelope, p *protocol.TelemetryUpdate) {
	err := h.store.Batch(func(tx *robot.Tx) {
		if p.Position != nil {
			tx.SetPosition(p.Position.X, p.Position.Y, p.Position.Theta)
		}
		if p.Target != nil {
			tx.SetTargetPosition(p.Target.X, p.Target.Y, p.Target.Theta)
		}
		if p.Battery != nil {
			tx.SetBatteryLevel(*p.Battery)
		}
		if p.Connected != nil {
			tx.SetConnected(*p.Connected)
		} else {
			tx.SetConnected(true)
		}
		if p.LinearVelocity != nil {
			tx.SetLinearVelocity(*p.LinearVelocity)
		}
		if p.AngularVelocity != nil {
			tx.SetAngularVelocity(*p.AngularVelocity)
		}
		for i, w := range p.Wheels {
			u := robot.WheelUpdate{Speed: w.Speed, TargetSpeed: w.TargetSpeed}
			if ws := robot.WheelState(w.State); ws.Valid() {
				u.State = &ws
			}
			tx.UpdateWheel(i, u)
		}
		for i, v := range p.Sensors {
			tx.UpdateSensor(i, v)
		}
		for i, a := range p.Actuators {
			tx.UpdateActuator(i, robot.ActuatorUpdate{Position: a.Position, Enabled: a.Enabled})
		}
		if p.Detection != nil {
			tx.UpdateDetection(p.Detection.Detected, p.Detection.IDs)
		}
		if p.Obstacle != nil {
			tx.SetObstacleDetected(*p.Obstacle)
		}
		if p.Calibrated != nil {
			tx.SetCalibrationDone(*p.Calibrated)
		}
	})
	if err != nil {
		log.Printf("hub_handler: telemetry from %s rejected: %v", env.Src.Node, err)
	}
}

func (h *HubHandler) HandleMatchUpdate(_ *protocol.Envelope, p *protocol.MatchUpdate) {
	h.store.Batch(func(tx *robot.Tx) {
		if p.TimeRemaining != nil {
			tx.SetMatchTime(*p.TimeRemaining)
		}
		if p.Score != nil {
			tx.SetScore(*p.Score)
		}
	})
}

func (h *HubHandler) HandleRobotCommand(env *protocol.Envelope, p *protocol.RobotCommand) {
	line := p.Line
	if line == "" {
		dir := shell.Direction(p.Direction)
		if !dir.Valid() {
			log.Printf("hub_handler: command from %s: unknown direction %q", env.Src.Node, p.Direction)
			return
		}
		speed := p.Speed
		if speed <= 0 {
			speed = shell.DefaultSpeed
		}
		line = shell.Move(dir, speed)
	}
	if err := h.sink.SendCommand(line, actorOf(env, p.Actor)); err != nil {
		log.Printf("hub_handler: forward command %q: %v", line, err)
	}
}

func (h *HubHandler) HandleEmergencyStop(env *protocol.Envelope, p *protocol.EmergencyStop) {
	log.Printf("hub_handler: emergency stop active=%v from %s (%s)", p.Active, env.Src.Node, p.Reason)
	h.sink.EmergencyStop(p.Active, actorOf(env, p.Actor))
}

func (h *HubHandler) HandleModeChange(env *protocol.Envelope, p *protocol.ModeChange) {
	mode := robot.Mode(p.Mode)
	if !mode.Valid() {
		log.Printf("hub_handler: mode change from %s: unknown mode %q", env.Src.Node, p.Mode)
		return
	}
	if err := h.sink.ChangeMode(mode, actorOf(env, p.Actor)); err != nil {
		log.Printf("hub_handler: mode change to %s: %v", mode, err)
	}
}

// HandleDecodeError marks the robot disconnected when its telemetry frame
// cannot be read.
func (h *HubHandler) HandleDecodeError(hdr *protocol.RawHeader, err error) {
	if hdr.Type != protocol.TypeTelemetryUpdate {
		return
	}
	log.Printf("hub_handler: bad telemetry from %s: %v", hdr.Src.Node, err)
	h.store.SetConnected(false)
}

func actorOf(env *protocol.Envelope, actor string) string {
	if actor != "" {
		return actor
	}
	if env.Src.Node != "" {
		return env.Src.Role + ":" + env.Src.Node
	}
	return "bus"
}
