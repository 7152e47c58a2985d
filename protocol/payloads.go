package protocol

import "encoding/json"

// --- Robot -> Hub payloads ---

// Pose is a table position in millimetres with heading in degrees.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// WheelSample updates the wheel at the same index in the robot's wheel
// list. Omitted fields are left unchanged.
type WheelSample struct {
	State       string   `json:"state,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	TargetSpeed *float64 `json:"target_speed,omitempty"`
}

type ActuatorSample struct {
	Position *float64 `json:"position,omitempty"`
	Enabled  *bool    `json:"enabled,omitempty"`
}

type DetectionSample struct {
	Detected bool  `json:"detected"`
	IDs      []int `json:"ids"`
}

// TelemetryUpdate is one frame from the robot. Every field is optional;
// Sensors carries positional values.
type TelemetryUpdate struct {
	Position        *Pose            `json:"position,omitempty"`
	Target          *Pose            `json:"target,omitempty"`
	Battery         *float64         `json:"battery,omitempty"`
	Connected       *bool            `json:"connected,omitempty"`
	LinearVelocity  *float64         `json:"linear_velocity,omitempty"`
	AngularVelocity *float64         `json:"angular_velocity,omitempty"`
	Wheels          []WheelSample    `json:"wheels,omitempty"`
	Sensors         []float64        `json:"sensors,omitempty"`
	Actuators       []ActuatorSample `json:"actuators,omitempty"`
	Detection       *DetectionSample `json:"detection,omitempty"`
	Obstacle        *bool            `json:"obstacle,omitempty"`
	Calibrated      *bool            `json:"calibrated,omitempty"`
}

type MatchUpdate struct {
	TimeRemaining *int `json:"time_remaining,omitempty"`
	Score         *int `json:"score,omitempty"`
}

// --- Operator -> Hub payloads ---

// RobotCommand is forwarded to the remote shell. Line wins over
// Direction/Speed when both are set.
type RobotCommand struct {
	Line      string `json:"line,omitempty"`
	Direction string `json:"direction,omitempty"`
	Speed     int    `json:"speed,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

type EmergencyStop struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

type ModeChange struct {
	Mode  string `json:"mode"`
	Actor string `json:"actor,omitempty"`
}

// --- Hub -> anyone payloads ---

// TelemetrySnapshot carries the full robot state as JSON.
type TelemetrySnapshot struct {
	Seq   uint64          `json:"seq"`
	State json.RawMessage `json:"state"`
}

type HubHeartbeat struct {
	HubID          string `json:"hub_id"`
	Uptime         int64  `json:"uptime_s"`
	RobotConnected bool   `json:"robot_connected"`
	ShellConnected bool   `json:"shell_connected"`
	Simulation     bool   `json:"simulation"`
}
