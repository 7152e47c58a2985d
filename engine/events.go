package engine

import "telehub/robot"

const (
	EventStateChanged EventType = iota + 1
	EventShellConnected
	EventShellClosed
	EventShellOutput
	EventShellCommand
	EventRemoteScriptStarted
	EventSimulationStarted
	EventSimulationStopped
	EventEmergencyStop
	EventModeChanged
	EventMessagingConnected
	EventMessagingDisconnected
)

var eventNames = map[EventType]string{
	EventStateChanged:          "state-changed",
	EventShellConnected:        "shell-connected",
	EventShellClosed:           "shell-closed",
	EventShellOutput:           "shell-output",
	EventShellCommand:          "shell-command",
	EventRemoteScriptStarted:   "remote-script-started",
	EventSimulationStarted:     "simulation-started",
	EventSimulationStopped:     "simulation-stopped",
	EventEmergencyStop:         "emergency-stop",
	EventModeChanged:           "mode-changed",
	EventMessagingConnected:    "messaging-connected",
	EventMessagingDisconnected: "messaging-disconnected",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

// --- Event payloads ---

// StateChangedEvent carries the shared snapshot published by the store.
// Subscribers must not modify it.
type StateChangedEvent struct {
	State *robot.State
}

type ShellConnectedEvent struct {
	SessionID int64
	Target    string
	Actor     string
}

type ShellClosedEvent struct {
	SessionID     int64
	Target        string
	Reason        string // "operator", "remote closed", "hub shutdown"
	Actor         string
	CommandsSent  int64
	BytesReceived int64
}

type ShellOutputEvent struct {
	Text string
}

type ShellCommandEvent struct {
	SessionID int64
	Line      string
	Actor     string
}

type RemoteScriptEvent struct {
	SessionID int64
	Script    string
	LogFile   string
	Actor     string
}

type SimulationEvent struct {
	Actor string
}

type EmergencyStopEvent struct {
	Active bool
	Actor  string
}

type ModeChangedEvent struct {
	OldMode robot.Mode
	NewMode robot.Mode
	Actor   string
}

type ConnectionEvent struct {
	Detail string
}
