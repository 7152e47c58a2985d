package engine

import (
	"strconv"

	"telehub/store"
)

func (e *Engine) wireEventHandlers() {
	// Keep the redis mirror current
	if e.mirror != nil {
		e.Events.SubscribeTypes(func(evt Event) {
			e.mirror.Observe(evt.Payload.(StateChangedEvent).State)
		}, EventStateChanged)
		e.Events.SubscribeTypes(func(evt Event) {
			e.mirror.ShellOutput(evt.Payload.(ShellOutputEvent).Text)
		}, EventShellOutput)
	}

	// Shell lifecycle: log and audit
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ShellConnectedEvent)
		e.logFn("engine: shell session %d opened on %s by %s", ev.SessionID, ev.Target, ev.Actor)
		e.audit(store.EntityShell, ev.SessionID, "connect", "", ev.Target, ev.Actor)
	}, EventShellConnected)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ShellClosedEvent)
		e.logFn("engine: shell session %d closed (%s): %d commands, %d bytes", ev.SessionID, ev.Reason, ev.CommandsSent, ev.BytesReceived)
		e.audit(store.EntityShell, ev.SessionID, "close", ev.Target, ev.Reason, ev.Actor)
	}, EventShellClosed)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ShellCommandEvent)
		e.audit(store.EntityShell, ev.SessionID, "command", "", ev.Line, ev.Actor)
	}, EventShellCommand)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(RemoteScriptEvent)
		e.logFn("engine: remote script %s started, log %s", ev.Script, ev.LogFile)
		e.audit(store.EntityShell, ev.SessionID, "run-script", ev.Script, ev.LogFile, ev.Actor)
	}, EventRemoteScriptStarted)

	// Robot commands: audit
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(EmergencyStopEvent)
		if ev.Active {
			e.logFn("engine: emergency stop activated by %s", ev.Actor)
		}
		e.audit(store.EntityRobot, 0, "estop", strconv.FormatBool(!ev.Active), strconv.FormatBool(ev.Active), ev.Actor)
	}, EventEmergencyStop)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ModeChangedEvent)
		e.audit(store.EntityRobot, 0, "mode", string(ev.OldMode), string(ev.NewMode), ev.Actor)
	}, EventModeChanged)

	// Simulation: audit
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(SimulationEvent)
		action := "stop"
		if evt.Type == EventSimulationStarted {
			action = "start"
		}
		e.logFn("engine: simulation %s by %s", action, ev.Actor)
		e.audit(store.EntitySimulation, 0, action, "", e.sim.Interval().String(), ev.Actor)
	}, EventSimulationStarted, EventSimulationStopped)

	// Messaging connectivity: log
	e.Events.SubscribeTypes(func(evt Event) {
		e.logFn("engine: %s", evt.Payload.(ConnectionEvent).Detail)
	}, EventMessagingConnected, EventMessagingDisconnected)
}

func (e *Engine) audit(entityType string, entityID int64, action, oldValue, newValue, actor string) {
	if err := e.db.AppendAudit(entityType, entityID, action, oldValue, newValue, actor); err != nil {
		e.logFn("engine: audit %s %s: %v", entityType, action, err)
	}
}
