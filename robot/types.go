package robot

import (
	"slices"
	"time"
)

// Mode is the robot's operating mode.
type Mode string

const (
	ModeIdle          Mode = "idle"
	ModeManual        Mode = "manual"
	ModeAutonomous    Mode = "autonomous"
	ModeEmergencyStop Mode = "emergency_stop"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeIdle, ModeManual, ModeAutonomous, ModeEmergencyStop:
		return true
	}
	return false
}

// WheelState is the drive direction of a single wheel.
type WheelState string

const (
	WheelStopped  WheelState = "stopped"
	WheelForward  WheelState = "forward"
	WheelBackward WheelState = "backward"
)

func (w WheelState) Valid() bool {
	switch w {
	case WheelStopped, WheelForward, WheelBackward:
		return true
	}
	return false
}

// Position is a pose on the table: millimetres and degrees (0 = facing right).
type Position struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

type Wheel struct {
	Name         string     `json:"name"`
	State        WheelState `json:"state"`
	Speed        float64    `json:"speed"`        // RPM
	TargetSpeed  float64    `json:"target_speed"` // RPM
	EncoderTicks int64      `json:"encoder_ticks"`
}

type Sensor struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
	Active bool    `json:"active"`
}

type Actuator struct {
	Name     string  `json:"name"`
	Position float64 `json:"position"` // percent, 0-100
	Enabled  bool    `json:"enabled"`
}

// Detection is the latest marker detection result. IDs is sorted and
// free of duplicates.
type Detection struct {
	Detected bool  `json:"detected"`
	IDs      []int `json:"ids"`
}

// State is one complete telemetry record. Values published by a Store are
// snapshots: the store never modifies a State after publishing it.
type State struct {
	RobotName          string     `json:"robot_name"`
	TeamName           string     `json:"team_name"`
	Mode               Mode       `json:"mode"`
	Connected          bool       `json:"connected"`
	BatteryLevel       float64    `json:"battery_level"`
	MatchTimeRemaining int        `json:"match_time_remaining"`
	Score              int        `json:"score"`
	Position           Position   `json:"position"`
	TargetPosition     Position   `json:"target_position"`
	Direction          float64    `json:"direction"`
	LinearVelocity     float64    `json:"linear_velocity"`  // mm/s
	AngularVelocity    float64    `json:"angular_velocity"` // deg/s
	Wheels             []Wheel    `json:"wheels"`
	Sensors            []Sensor   `json:"sensors"`
	Actuators          []Actuator `json:"actuators"`
	ObstacleDetected   bool       `json:"obstacle_detected"`
	EmergencyStop      bool       `json:"emergency_stop_active"`
	CalibrationDone    bool       `json:"calibration_done"`
	Detection          Detection  `json:"detection"`
	LastUpdate         time.Time  `json:"last_update"`
	Revision           uint64     `json:"revision"` // +1 per published mutation
}

// NewerThan reports whether s was published after old. Every state is
// newer than nil.
func (s *State) NewerThan(old *State) bool {
	return old == nil || s.Revision > old.Revision
}

// DefaultMatchTime is the match clock a new state starts with, in seconds.
const DefaultMatchTime = 100

// NewState returns the default record for a freshly constructed store.
func NewState(robotName, teamName string) *State {
	return &State{
		RobotName:          robotName,
		TeamName:           teamName,
		Mode:               ModeIdle,
		BatteryLevel:       100,
		MatchTimeRemaining: DefaultMatchTime,
		Wheels: []Wheel{
			{Name: "front_left", State: WheelStopped},
			{Name: "front_right", State: WheelStopped},
			{Name: "rear_left", State: WheelStopped},
			{Name: "rear_right", State: WheelStopped},
		},
		Sensors: []Sensor{
			{Name: "lidar_front", Unit: "mm", Active: true},
			{Name: "lidar_rear", Unit: "mm", Active: true},
			{Name: "ultrasonic_left", Unit: "mm", Active: true},
			{Name: "ultrasonic_right", Unit: "mm", Active: true},
			{Name: "line_sensor_1", Active: true},
			{Name: "line_sensor_2", Active: true},
			{Name: "line_sensor_3", Active: true},
		},
		Actuators: []Actuator{
			{Name: "gripper"},
			{Name: "arm_elevation"},
			{Name: "arm_rotation"},
			{Name: "flag_deployer"},
		},
		Detection:  Detection{IDs: []int{}},
		LastUpdate: time.Now(),
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	c := *s
	c.Wheels = slices.Clone(s.Wheels)
	c.Sensors = slices.Clone(s.Sensors)
	c.Actuators = slices.Clone(s.Actuators)
	c.Detection.IDs = slices.Clone(s.Detection.IDs)
	if c.Detection.IDs == nil {
		c.Detection.IDs = []int{}
	}
	return &c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeIDs sorts ids and removes duplicates. A nil slice becomes empty.
func normalizeIDs(ids []int) []int {
	out := slices.Clone(ids)
	if out == nil {
		return []int{}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
