package robot

import "fmt"

// WheelUpdate carries the optional fields of a wheel update. Nil fields
// are left unchanged.
type WheelUpdate struct {
	State       *WheelState
	Speed       *float64
	TargetSpeed *float64
}

// ActuatorUpdate carries the optional fields of an actuator update.
type ActuatorUpdate struct {
	Position *float64
	Enabled  *bool
}

// Ptr returns a pointer to v, for filling optional update fields.
func Ptr[T any](v T) *T { return &v }

// Tx is the draft state handed to a Store.Batch callback. It is only valid
// for the duration of the callback.
type Tx struct {
	draft   *State
	strict  bool
	changed bool
	err     error
}

func (tx *Tx) outOfRange(kind string, index, length int) {
	if tx.strict && tx.err == nil {
		tx.err = fmt.Errorf("%w: %s %d (have %d)", ErrIndexOutOfRange, kind, index, length)
	}
}

// SetPosition moves the robot; Direction mirrors theta.
func (tx *Tx) SetPosition(x, y, theta float64) {
	tx.draft.Position = Position{X: x, Y: y, Theta: theta}
	tx.draft.Direction = theta
	tx.changed = true
}

func (tx *Tx) SetTargetPosition(x, y, theta float64) {
	tx.draft.TargetPosition = Position{X: x, Y: y, Theta: theta}
	tx.changed = true
}

func (tx *Tx) SetVelocity(linear, angular float64) {
	tx.draft.LinearVelocity = linear
	tx.draft.AngularVelocity = angular
	tx.changed = true
}

func (tx *Tx) SetLinearVelocity(v float64) {
	tx.draft.LinearVelocity = v
	tx.changed = true
}

func (tx *Tx) SetAngularVelocity(v float64) {
	tx.draft.AngularVelocity = v
	tx.changed = true
}

func (tx *Tx) UpdateWheel(index int, u WheelUpdate) {
	if index < 0 || index >= len(tx.draft.Wheels) {
		tx.outOfRange("wheel", index, len(tx.draft.Wheels))
		return
	}
	w := &tx.draft.Wheels[index]
	if u.State != nil {
		w.State = *u.State
	}
	if u.Speed != nil {
		w.Speed = *u.Speed
	}
	if u.TargetSpeed != nil {
		w.TargetSpeed = *u.TargetSpeed
	}
	tx.changed = true
}

func (tx *Tx) UpdateSensor(index int, value float64) {
	if index < 0 || index >= len(tx.draft.Sensors) {
		tx.outOfRange("sensor", index, len(tx.draft.Sensors))
		return
	}
	tx.draft.Sensors[index].Value = value
	tx.changed = true
}

func (tx *Tx) SetSensorActive(index int, active bool) {
	if index < 0 || index >= len(tx.draft.Sensors) {
		tx.outOfRange("sensor", index, len(tx.draft.Sensors))
		return
	}
	tx.draft.Sensors[index].Active = active
	tx.changed = true
}

// UpdateActuator clamps the position into [0,100].
func (tx *Tx) UpdateActuator(index int, u ActuatorUpdate) {
	if index < 0 || index >= len(tx.draft.Actuators) {
		tx.outOfRange("actuator", index, len(tx.draft.Actuators))
		return
	}
	a := &tx.draft.Actuators[index]
	if u.Position != nil {
		a.Position = clamp(*u.Position, 0, 100)
	}
	if u.Enabled != nil {
		a.Enabled = *u.Enabled
	}
	tx.changed = true
}

func (tx *Tx) SetMode(mode Mode) {
	tx.draft.Mode = mode
	tx.changed = true
}

func (tx *Tx) SetConnected(connected bool) {
	tx.draft.Connected = connected
	tx.changed = true
}

// SetBatteryLevel clamps level into [0,100].
func (tx *Tx) SetBatteryLevel(level float64) {
	tx.draft.BatteryLevel = clamp(level, 0, 100)
	tx.changed = true
}

func (tx *Tx) SetEmergencyStop(active bool) {
	tx.draft.EmergencyStop = active
	if active {
		tx.draft.Mode = ModeEmergencyStop
		for i := range tx.draft.Wheels {
			tx.draft.Wheels[i].State = WheelStopped
			tx.draft.Wheels[i].Speed = 0
		}
	}
	tx.changed = true
}

// UpdateDetection replaces the detection result. A nil ids slice clears
// the id set.
func (tx *Tx) UpdateDetection(detected bool, ids []int) {
	tx.draft.Detection = Detection{Detected: detected, IDs: normalizeIDs(ids)}
	tx.changed = true
}

// SetMatchTime clamps negative values to zero.
func (tx *Tx) SetMatchTime(seconds int) {
	tx.draft.MatchTimeRemaining = max(0, seconds)
	tx.changed = true
}

func (tx *Tx) SetScore(score int) {
	tx.draft.Score = score
	tx.changed = true
}

func (tx *Tx) SetObstacleDetected(detected bool) {
	tx.draft.ObstacleDetected = detected
	tx.changed = true
}

func (tx *Tx) SetCalibrationDone(done bool) {
	tx.draft.CalibrationDone = done
	tx.changed = true
}
