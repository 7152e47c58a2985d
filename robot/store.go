package robot

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultRobotName = "Robot cool qui casse tout"
	DefaultTeamName  = "Pas encore ingénieur"
)

// ErrIndexOutOfRange is returned by indexed updates in strict mode.
// Lenient stores (the default) ignore such updates silently.
var ErrIndexOutOfRange = errors.New("robot: index out of range")

// Listener receives the snapshot produced by a mutation. The snapshot is
// shared between all listeners and must be treated as read-only.
type Listener func(st *State)

type ListenerID int

type listener struct {
	id ListenerID
	fn Listener
}

type Option func(*Store)

// WithNames sets the static identity fields of the initial state.
func WithNames(robotName, teamName string) Option {
	return func(s *Store) {
		s.robotName = robotName
		s.teamName = teamName
	}
}

// WithStrictIndexes makes out-of-range indexed updates return
// ErrIndexOutOfRange instead of being ignored.
func WithStrictIndexes() Option {
	return func(s *Store) { s.strict = true }
}

// WithClock replaces the clock used to stamp LastUpdate.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store owns the live robot state. Writers are serialized by mu; each
// mutation builds a new snapshot from a copy of the current one and
// publishes it with a single pointer swap, so readers never observe a
// partially applied mutation. Listeners run after mu is released, so two
// concurrent mutations may notify in either order; consumers that keep a
// latest state compare Revision.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[State]
	strict  bool
	now     func() time.Time

	robotName string
	teamName  string

	lmu       sync.RWMutex
	listeners []listener
	nextID    ListenerID
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		now:       time.Now,
		robotName: DefaultRobotName,
		teamName:  DefaultTeamName,
	}
	for _, opt := range opts {
		opt(s)
	}
	st := NewState(s.robotName, s.teamName)
	st.LastUpdate = s.now()
	s.current.Store(st)
	return s
}

// Snapshot returns the currently published state without copying.
// The returned value must not be modified.
func (s *Store) Snapshot() *State {
	return s.current.Load()
}

// State returns a deep copy of the current state.
func (s *Store) State() *State {
	return s.current.Load().Clone()
}

// AddListener registers fn to be called after every mutation, in
// registration order.
func (s *Store) AddListener(fn Listener) ListenerID {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextID++
	s.listeners = append(s.listeners, listener{id: s.nextID, fn: fn})
	return s.nextID
}

// RemoveListener unregisters a listener. Unknown ids are ignored.
func (s *Store) RemoveListener(id ListenerID) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of registered listeners.
func (s *Store) ListenerCount() int {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	return len(s.listeners)
}

// Batch applies every mutation made through tx as one critical section
// followed by one notification. In strict mode a batch that touches an
// out-of-range index is discarded and the error returned.
func (s *Store) Batch(fn func(tx *Tx)) error {
	var txErr error
	s.commit(func(draft *State) bool {
		tx := &Tx{draft: draft, strict: s.strict}
		fn(tx)
		txErr = tx.err
		if tx.err != nil {
			return false
		}
		return tx.changed
	})
	return txErr
}

// commit runs apply on a private copy of the current state and, if apply
// reports a change, stamps and publishes the copy and notifies listeners.
func (s *Store) commit(apply func(draft *State) bool) {
	if next := s.publish(apply); next != nil {
		s.notify(next)
	}
}

func (s *Store) publish(apply func(draft *State) bool) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := s.current.Load().Clone()
	if !apply(draft) {
		return nil
	}
	draft.LastUpdate = s.now()
	draft.Revision++
	s.current.Store(draft)
	return draft
}

func (s *Store) notify(st *State) {
	s.lmu.RLock()
	subs := make([]listener, len(s.listeners))
	copy(subs, s.listeners)
	s.lmu.RUnlock()

	for _, l := range subs {
		s.call(l, st)
	}
}

func (s *Store) call(l listener, st *State) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("robot: listener %d panicked: %v", l.id, r)
		}
	}()
	l.fn(st)
}

// --- Single-field mutations ---

func (s *Store) UpdatePosition(x, y, theta float64) {
	s.Batch(func(tx *Tx) { tx.SetPosition(x, y, theta) })
}

func (s *Store) SetTargetPosition(x, y, theta float64) {
	s.Batch(func(tx *Tx) { tx.SetTargetPosition(x, y, theta) })
}

func (s *Store) SetVelocity(linear, angular float64) {
	s.Batch(func(tx *Tx) { tx.SetVelocity(linear, angular) })
}

func (s *Store) UpdateWheel(index int, u WheelUpdate) error {
	return s.Batch(func(tx *Tx) { tx.UpdateWheel(index, u) })
}

func (s *Store) UpdateSensor(index int, value float64) error {
	return s.Batch(func(tx *Tx) { tx.UpdateSensor(index, value) })
}

func (s *Store) SetSensorActive(index int, active bool) error {
	return s.Batch(func(tx *Tx) { tx.SetSensorActive(index, active) })
}

func (s *Store) UpdateActuator(index int, u ActuatorUpdate) error {
	return s.Batch(func(tx *Tx) { tx.UpdateActuator(index, u) })
}

func (s *Store) SetMode(mode Mode) {
	s.Batch(func(tx *Tx) { tx.SetMode(mode) })
}

func (s *Store) SetConnected(connected bool) {
	s.Batch(func(tx *Tx) { tx.SetConnected(connected) })
}

func (s *Store) SetBatteryLevel(level float64) {
	s.Batch(func(tx *Tx) { tx.SetBatteryLevel(level) })
}

// SetEmergencyStop(true) switches to ModeEmergencyStop and stops every
// wheel in the same snapshot. SetEmergencyStop(false) only clears the flag;
// the previous mode is not restored.
func (s *Store) SetEmergencyStop(active bool) {
	s.Batch(func(tx *Tx) { tx.SetEmergencyStop(active) })
}

func (s *Store) UpdateDetection(detected bool, ids []int) {
	s.Batch(func(tx *Tx) { tx.UpdateDetection(detected, ids) })
}

func (s *Store) UpdateMatchTime(seconds int) {
	s.Batch(func(tx *Tx) { tx.SetMatchTime(seconds) })
}

func (s *Store) UpdateScore(score int) {
	s.Batch(func(tx *Tx) { tx.SetScore(score) })
}

func (s *Store) SetObstacleDetected(detected bool) {
	s.Batch(func(tx *Tx) { tx.SetObstacleDetected(detected) })
}

func (s *Store) SetCalibrationDone(done bool) {
	s.Batch(func(tx *Tx) { tx.SetCalibrationDone(done) })
}
