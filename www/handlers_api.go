package www

import (
	"errors"
	"net/http"

	"telehub/engine"
	"telehub/robot"
)

func (h *Handlers) apiState(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.Store().Snapshot())
}

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, map[string]any{
		"status":          "ok",
		"robot_connected": h.engine.Store().Snapshot().Connected,
		"shell":           h.engine.ShellStatus().ShellStarted,
		"messaging":       h.engine.MessagingConnected(),
		"simulation":      h.engine.SimulationRunning(),
		"uptime_seconds":  int64(h.engine.Uptime().Seconds()),
		"sse_clients":     h.eventHub.ClientCount(),
	})
}

func (h *Handlers) apiAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.DB().ListAuditLog(queryInt(r, "limit", 100))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, entries)
}

func (h *Handlers) apiSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode robot.Mode `json:"mode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.engine.ChangeMode(req.Mode, h.getUsername(r)); err != nil {
		if errors.Is(err, engine.ErrInvalidMode) {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, h.engine.Store().Snapshot())
}

func (h *Handlers) apiEmergencyStop(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Active bool `json:"active"`
	}{Active: true}
	if err := decodeJSON(r, &req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	h.engine.EmergencyStop(req.Active, h.getUsername(r))
	h.jsonOK(w, h.engine.Store().Snapshot())
}

func (h *Handlers) apiUpdateWheel(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r)
	if err != nil || index < 0 || index >= len(h.engine.Store().Snapshot().Wheels) {
		h.jsonError(w, "wheel index out of range", http.StatusBadRequest)
		return
	}
	var req struct {
		State       *robot.WheelState `json:"state"`
		Speed       *float64          `json:"speed"`
		TargetSpeed *float64          `json:"target_speed"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.State != nil && !req.State.Valid() {
		h.jsonError(w, "invalid wheel state", http.StatusBadRequest)
		return
	}
	u := robot.WheelUpdate{State: req.State, Speed: req.Speed, TargetSpeed: req.TargetSpeed}
	if err := h.engine.Store().UpdateWheel(index, u); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.jsonOK(w, h.engine.Store().Snapshot().Wheels[index])
}

func (h *Handlers) apiUpdateActuator(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r)
	if err != nil || index < 0 || index >= len(h.engine.Store().Snapshot().Actuators) {
		h.jsonError(w, "actuator index out of range", http.StatusBadRequest)
		return
	}
	var req struct {
		Position *float64 `json:"position"`
		Enabled  *bool    `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.engine.Store().UpdateActuator(index, robot.ActuatorUpdate{Position: req.Position, Enabled: req.Enabled}); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.jsonOK(w, h.engine.Store().Snapshot().Actuators[index])
}

func (h *Handlers) apiSimulationStart(w http.ResponseWriter, r *http.Request) {
	started := h.engine.StartSimulation(h.getUsername(r))
	h.jsonOK(w, map[string]bool{"running": true, "changed": started})
}

func (h *Handlers) apiSimulationStop(w http.ResponseWriter, r *http.Request) {
	stopped := h.engine.StopSimulation(h.getUsername(r))
	h.jsonOK(w, map[string]bool{"running": false, "changed": stopped})
}
