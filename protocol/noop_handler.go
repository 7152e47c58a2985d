package protocol

// NoOpHandler implements MessageHandler with no-op methods.
// Embed this and override only the methods you need.
type NoOpHandler struct{}

func (NoOpHandler) HandleTelemetryUpdate(*Envelope, *TelemetryUpdate)     {}
func (NoOpHandler) HandleMatchUpdate(*Envelope, *MatchUpdate)             {}
func (NoOpHandler) HandleRobotCommand(*Envelope, *RobotCommand)           {}
func (NoOpHandler) HandleEmergencyStop(*Envelope, *EmergencyStop)         {}
func (NoOpHandler) HandleModeChange(*Envelope, *ModeChange)               {}
func (NoOpHandler) HandleTelemetrySnapshot(*Envelope, *TelemetrySnapshot) {}
func (NoOpHandler) HandleHubHeartbeat(*Envelope, *HubHeartbeat)           {}
func (NoOpHandler) HandleDecodeError(*RawHeader, error)                   {}

var _ MessageHandler = NoOpHandler{}
