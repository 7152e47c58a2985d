package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"telehub/config"
	"telehub/messaging"
	"telehub/protocol"
	"telehub/robot"
	"telehub/shell"
	"telehub/store"
)

var (
	ErrInvalidMode      = errors.New("engine: invalid mode")
	ErrInvalidDirection = errors.New("engine: invalid direction")
)

const healthInterval = 30 * time.Second

type LogFunc func(format string, args ...any)

// StateMirror receives every snapshot and every shell output chunk.
// statecache.Mirror implements it.
type StateMirror interface {
	Observe(st *robot.State)
	ShellOutput(text string)
}

type Config struct {
	AppConfig *config.Config
	DB        *store.DB
	Store     *robot.Store
	Simulator *robot.Simulator
	Shell     *shell.Session
	MsgClient *messaging.Client // nil when messaging is disabled
	Mirror    StateMirror       // nil when redis is not configured
	Metrics   *Metrics
	LogFunc   LogFunc
}

// shellRun tracks one interactive shell from open to close.
type shellRun struct {
	id       int64
	target   string
	actor    string
	done     <-chan struct{}
	commands atomic.Int64
	bytes    atomic.Int64
	once     sync.Once
}

type Engine struct {
	cfg     *config.Config
	db      *store.DB
	store   *robot.Store
	sim     *robot.Simulator
	shell   *shell.Session
	msg     *messaging.Client
	mirror  StateMirror
	metrics *Metrics
	Events  *EventBus
	logFn   LogFunc

	listenerID robot.ListenerID
	startedAt  time.Time

	stateMu   sync.Mutex
	lastState *robot.State

	// shellMu serializes connect and close. Output delivery never takes it.
	shellMu sync.Mutex
	run     *shellRun
	active  atomic.Pointer[shellRun]

	msgConnected bool

	stopOnce sync.Once
	stopChan chan struct{}
}

var _ messaging.CommandSink = (*Engine)(nil)

func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	m := c.Metrics
	if m == nil {
		m = NewMetrics()
	}
	return &Engine{
		cfg:      c.AppConfig,
		db:       c.DB,
		store:    c.Store,
		sim:      c.Simulator,
		shell:    c.Shell,
		msg:      c.MsgClient,
		mirror:   c.Mirror,
		metrics:  m,
		Events:   NewEventBus(),
		logFn:    logFn,
		stopChan: make(chan struct{}),
	}
}

func (e *Engine) Start() {
	e.startedAt = time.Now()
	e.wireEventHandlers()

	e.listenerID = e.store.AddListener(e.onState)
	e.shell.SetOutputCallback(e.onShellOutput)
	e.onState(e.store.Snapshot())

	if e.cfg.Simulator.Autostart {
		e.StartSimulation("system")
	}

	e.checkConnectionStatus()
	go e.connectionHealthLoop()

	e.logFn("engine: started")
}

// Stop halts the simulator, closes any open shell and detaches from the
// store. It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		e.StopSimulation("system")
		e.closeShell("system", "hub shutdown")
		e.store.RemoveListener(e.listenerID)
		e.shell.SetOutputCallback(nil)
		e.logFn("engine: stopped")
	})
}

// Accessors
func (e *Engine) DB() *store.DB             { return e.db }
func (e *Engine) AppConfig() *config.Config { return e.cfg }
func (e *Engine) Store() *robot.Store       { return e.store }
func (e *Engine) Metrics() *Metrics         { return e.metrics }
func (e *Engine) Uptime() time.Duration     { return time.Since(e.startedAt) }

// onState forwards snapshots in revision order and drops any that arrive
// after a newer one. EventStateChanged subscribers run under stateMu and
// must not mutate the store.
func (e *Engine) onState(st *robot.State) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if !st.NewerThan(e.lastState) {
		return
	}
	e.lastState = st
	e.metrics.observeState(st)
	e.Events.Emit(Event{Type: EventStateChanged, Payload: StateChangedEvent{State: st}})
}

func (e *Engine) onShellOutput(text string) {
	if r := e.active.Load(); r != nil {
		r.bytes.Add(int64(len(text)))
	}
	e.metrics.shellBytes.Add(float64(len(text)))
	e.Events.Emit(Event{Type: EventShellOutput, Payload: ShellOutputEvent{Text: text}})
}

// --- Simulation ---

// StartSimulation starts the simulator. It reports false if it was already
// running.
func (e *Engine) StartSimulation(actor string) bool {
	if !e.sim.Start() {
		return false
	}
	e.metrics.simulation.Set(1)
	e.Events.Emit(Event{Type: EventSimulationStarted, Payload: SimulationEvent{Actor: actor}})
	return true
}

// StopSimulation stops the simulator and waits for its last tick. It
// reports false if it was not running.
func (e *Engine) StopSimulation(actor string) bool {
	if !e.sim.Running() {
		return false
	}
	e.sim.Stop()
	e.metrics.simulation.Set(0)
	e.Events.Emit(Event{Type: EventSimulationStopped, Payload: SimulationEvent{Actor: actor}})
	return true
}

func (e *Engine) SimulationRunning() bool { return e.sim.Running() }

// --- Robot commands ---

func (e *Engine) EmergencyStop(active bool, actor string) {
	e.store.SetEmergencyStop(active)
	e.Events.Emit(Event{Type: EventEmergencyStop, Payload: EmergencyStopEvent{Active: active, Actor: actor}})
}

// ChangeMode clears an active emergency stop, then sets the mode. The two
// steps publish two snapshots.
func (e *Engine) ChangeMode(mode robot.Mode, actor string) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	prev := e.store.Snapshot()
	if prev.EmergencyStop {
		e.EmergencyStop(false, actor)
	}
	e.store.SetMode(mode)
	e.Events.Emit(Event{Type: EventModeChanged, Payload: ModeChangedEvent{OldMode: prev.Mode, NewMode: mode, Actor: actor}})
	return nil
}

// --- Remote shell ---

// ShellStatus describes the remote shell for status endpoints.
type ShellStatus struct {
	Connected     bool   `json:"connected"`
	ShellStarted  bool   `json:"shell_started"`
	Target        string `json:"target,omitempty"`
	SessionID     int64  `json:"session_id,omitempty"`
	CommandsSent  int64  `json:"commands_sent"`
	BytesReceived int64  `json:"bytes_received"`
}

// ConnectShell connects to the configured robot and opens its interactive
// shell. It does nothing when a shell is already open.
func (e *Engine) ConnectShell(ctx context.Context, actor string) error {
	e.shellMu.Lock()
	defer e.shellMu.Unlock()
	if e.run != nil {
		return nil
	}
	cfg := e.cfg.ShellSettings()
	if err := e.shell.Connect(ctx, cfg); err != nil {
		return err
	}
	run := &shellRun{target: e.shell.Target(), actor: actor}
	if rec, err := e.db.OpenShellSession(cfg.Address, cfg.User, actor); err != nil {
		e.logFn("engine: record shell session: %v", err)
	} else {
		run.id = rec.ID
	}
	e.active.Store(run)
	if err := e.shell.StartShell(cfg.InitialCommand); err != nil {
		e.active.Store(nil)
		e.shell.Close()
		if run.id != 0 {
			e.db.CloseShellSession(run.id, "shell failed", 0, 0)
		}
		return err
	}
	run.done = e.shell.Done()
	e.run = run
	e.metrics.shellConnected.Set(1)
	e.Events.Emit(Event{Type: EventShellConnected, Payload: ShellConnectedEvent{SessionID: run.id, Target: run.target, Actor: actor}})
	go e.watchShell(run)
	return nil
}

// CloseShell closes the shell and the connection. It is safe to call when
// nothing is open.
func (e *Engine) CloseShell(actor string) {
	e.closeShell(actor, "operator")
}

func (e *Engine) closeShell(actor, reason string) {
	// Close before taking shellMu so a connect still dialing is cancelled
	// instead of waited on.
	e.shell.Close()
	e.shellMu.Lock()
	defer e.shellMu.Unlock()
	run := e.run
	e.shell.Close()
	if run != nil {
		e.finishShell(run, reason, actor)
	}
}

// watchShell closes the session when the remote end hangs up.
func (e *Engine) watchShell(run *shellRun) {
	<-run.done
	e.shellMu.Lock()
	defer e.shellMu.Unlock()
	if e.run != run {
		return
	}
	e.logFn("engine: shell on %s closed by remote", run.target)
	e.shell.Close()
	e.finishShell(run, "remote closed", "system")
}

// finishShell must be called with shellMu held.
func (e *Engine) finishShell(run *shellRun, reason, actor string) {
	run.once.Do(func() {
		if e.run == run {
			e.run = nil
		}
		e.active.CompareAndSwap(run, nil)
		cmds, n := run.commands.Load(), run.bytes.Load()
		if run.id != 0 {
			if err := e.db.CloseShellSession(run.id, reason, cmds, n); err != nil {
				e.logFn("engine: close shell session %d: %v", run.id, err)
			}
		}
		e.metrics.shellConnected.Set(0)
		e.Events.Emit(Event{Type: EventShellClosed, Payload: ShellClosedEvent{
			SessionID:     run.id,
			Target:        run.target,
			Reason:        reason,
			Actor:         actor,
			CommandsSent:  cmds,
			BytesReceived: n,
		}})
	})
}

// SendCommand writes one line to the open shell.
func (e *Engine) SendCommand(line, actor string) error {
	if err := e.shell.Send(line); err != nil {
		return err
	}
	var id int64
	if r := e.active.Load(); r != nil {
		r.commands.Add(1)
		id = r.id
	}
	e.metrics.shellCommands.Inc()
	e.Events.Emit(Event{Type: EventShellCommand, Payload: ShellCommandEvent{SessionID: id, Line: line, Actor: actor}})
	return nil
}

// Move sends a MOVE command. A speed of zero or less uses the default speed.
func (e *Engine) Move(d shell.Direction, speed int, actor string) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, d)
	}
	if speed <= 0 {
		speed = shell.DefaultSpeed
	}
	return e.SendCommand(shell.Move(d, speed), actor)
}

// RunRemoteScript starts the configured script on the robot in the
// background and returns the remote log file.
func (e *Engine) RunRemoteScript(actor string) (string, error) {
	cfg := e.cfg.ShellSettings()
	logfile, err := e.shell.RunDetached(cfg.RemoteScript, cfg.LogPrefix)
	if err != nil {
		return "", err
	}
	var id int64
	if r := e.active.Load(); r != nil {
		id = r.id
	}
	e.Events.Emit(Event{Type: EventRemoteScriptStarted, Payload: RemoteScriptEvent{
		SessionID: id,
		Script:    cfg.RemoteScript,
		LogFile:   logfile,
		Actor:     actor,
	}})
	return logfile, nil
}

func (e *Engine) ShellStatus() ShellStatus {
	st := ShellStatus{
		Connected:    e.shell.Connected(),
		ShellStarted: e.shell.ShellStarted(),
		Target:       e.shell.Target(),
	}
	if r := e.active.Load(); r != nil {
		st.SessionID = r.id
		st.CommandsSent = r.commands.Load()
		st.BytesReceived = r.bytes.Load()
	}
	return st
}

// HeartbeatStatus fills the live fields of an outgoing hub heartbeat.
func (e *Engine) HeartbeatStatus(hb *protocol.HubHeartbeat) {
	hb.RobotConnected = e.store.Snapshot().Connected
	hb.ShellConnected = e.shell.ShellStarted()
	hb.Simulation = e.sim.Running()
}

// --- Connection health ---

func (e *Engine) MessagingConnected() bool {
	return e.msg != nil && e.msg.IsConnected()
}

func (e *Engine) checkConnectionStatus() {
	if e.msg == nil {
		return
	}
	if e.msg.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: e.msg.Backend() + " connected"}})
		}
	} else {
		if e.msgConnected {
			e.msgConnected = false
			e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: e.msg.Backend() + " disconnected"}})
		}
	}
}

func (e *Engine) connectionHealthLoop() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}
