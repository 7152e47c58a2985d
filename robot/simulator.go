package robot

import (
	"log"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// DefaultSimInterval is the simulator cadence (10 Hz).
const DefaultSimInterval = 100 * time.Millisecond

// Trajectory and noise parameters of the simulated feed.
const (
	simCenterX      = 1500.0
	simCenterY      = 1000.0
	simRadiusX      = 500.0
	simRadiusY      = 400.0
	simOmega        = 0.1  // rad per tick
	simThetaStep    = 10.0 // deg per tick
	simLinearBase   = 100.0
	simLinearJitter = 10.0
	simAngularBase  = 5.0
	simAngularJit   = 2.0
	simWheelBase    = 60.0
	simWheelJitter  = 5.0
	simRangeBase    = 200.0
	simRangeJitter  = 50.0
	simBatteryStep  = 0.05
	simBatteryFloor = 20.0
	simDetectChance = 0.7
	simMarkerID     = 23
)

// Simulator drives a Store with synthetic telemetry at a fixed cadence.
// Each tick is applied as one snapshot and one notification pass.
type Simulator struct {
	store    *Store
	interval time.Duration

	mu   sync.Mutex
	rng  *rand.Rand
	stop chan struct{}
	done chan struct{}
}

type SimOption func(*Simulator)

// WithSeed makes the simulator's jitter reproducible.
func WithSeed(seed uint64) SimOption {
	return func(sim *Simulator) { sim.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func NewSimulator(store *Store, interval time.Duration, opts ...SimOption) *Simulator {
	if interval <= 0 {
		interval = DefaultSimInterval
	}
	now := uint64(time.Now().UnixNano())
	sim := &Simulator{
		store:    store,
		interval: interval,
		rng:      rand.New(rand.NewPCG(now, now>>1)),
	}
	for _, opt := range opts {
		opt(sim)
	}
	return sim
}

// Start launches the tick loop. It returns false and does nothing if the
// simulator is already running.
func (sim *Simulator) Start() bool {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if sim.stop != nil {
		return false
	}
	sim.stop = make(chan struct{})
	sim.done = make(chan struct{})
	go sim.run(sim.stop, sim.done)
	log.Printf("robot: simulation started (%s)", sim.interval)
	return true
}

// Stop ends the tick loop and waits for it to exit, so no simulator
// notification is delivered after Stop returns. It must not be called from
// a store listener, which runs on the loop goroutine.
func (sim *Simulator) Stop() {
	sim.mu.Lock()
	stop, done := sim.stop, sim.done
	sim.stop, sim.done = nil, nil
	sim.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	log.Printf("robot: simulation stopped")
}

func (sim *Simulator) Running() bool {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.stop != nil
}

func (sim *Simulator) Interval() time.Duration { return sim.interval }

func (sim *Simulator) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(sim.interval)
	defer ticker.Stop()

	for t := 0; ; t++ {
		sim.step(t)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		// Both cases may be ready at once; stop wins.
		select {
		case <-stop:
			return
		default:
		}
	}
}

func (sim *Simulator) jitter(base, spread float64) float64 {
	return base - spread + 2*spread*sim.rng.Float64()
}

// step applies tick t. Only the loop goroutine calls it, so rng needs no lock.
func (sim *Simulator) step(t int) {
	sim.store.commit(func(st *State) bool {
		ft := float64(t)
		theta := math.Mod(ft*simThetaStep, 360)
		st.Position = Position{
			X:     simCenterX + simRadiusX*math.Sin(ft*simOmega),
			Y:     simCenterY + simRadiusY*math.Cos(ft*simOmega),
			Theta: theta,
		}
		st.Direction = theta
		st.LinearVelocity = sim.jitter(simLinearBase, simLinearJitter)
		st.AngularVelocity = sim.jitter(simAngularBase, simAngularJit)

		for i := range st.Wheels {
			w := &st.Wheels[i]
			w.State = WheelForward
			w.Speed = sim.jitter(simWheelBase, simWheelJitter)
			w.EncoderTicks += int64(math.Round(w.Speed))
		}

		for i := range st.Sensors {
			s := &st.Sensors[i]
			if isRangeSensor(s) {
				s.Value = sim.jitter(simRangeBase, simRangeJitter)
			} else {
				s.Value = float64(sim.rng.IntN(2))
			}
		}

		if st.BatteryLevel <= simBatteryFloor {
			st.BatteryLevel = 100
		} else {
			st.BatteryLevel = clamp(st.BatteryLevel-simBatteryStep, 0, 100)
		}

		if sim.rng.Float64() < simDetectChance {
			st.Detection = Detection{Detected: true, IDs: []int{simMarkerID}}
		} else {
			st.Detection = Detection{IDs: []int{}}
		}

		st.Connected = true
		st.Mode = ModeAutonomous
		return true
	})
}

// isRangeSensor reports whether s measures a distance: millimetre units or
// a lidar/ultrasonic name.
func isRangeSensor(s *Sensor) bool {
	return s.Unit == "mm" || strings.Contains(s.Name, "lidar") || strings.Contains(s.Name, "ultrasonic")
}
