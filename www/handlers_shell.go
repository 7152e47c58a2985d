package www

import (
	"errors"
	"net/http"

	"telehub/engine"
	"telehub/shell"
)

func (h *Handlers) apiShellStatus(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.ShellStatus())
}

func (h *Handlers) apiShellTranscript(w http.ResponseWriter, r *http.Request) {
	if h.transcript == nil {
		h.jsonError(w, "transcript cache not configured", http.StatusServiceUnavailable)
		return
	}
	lines, err := h.transcript.Transcript(r.Context(), int64(queryInt(r, "lines", 100)))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.jsonOK(w, lines)
}

func (h *Handlers) apiShellSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.DB().ListShellSessions(queryInt(r, "limit", 50))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, sessions)
}

func (h *Handlers) apiShellConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
		User    string `json:"user"`
		Secret  string `json:"secret"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	h.engine.AppConfig().SetShellTarget(req.Address, req.User, req.Secret)

	if err := h.engine.ConnectShell(r.Context(), h.getUsername(r)); err != nil {
		h.shellError(w, err)
		return
	}
	h.jsonOK(w, h.engine.ShellStatus())
}

func (h *Handlers) apiShellSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Line string `json:"line"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.engine.SendCommand(req.Line, h.getUsername(r)); err != nil {
		h.shellError(w, err)
		return
	}
	h.jsonOK(w, map[string]string{"status": "sent"})
}

func (h *Handlers) apiShellMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction shell.Direction `json:"direction"`
		Speed     int             `json:"speed"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.engine.Move(req.Direction, req.Speed, h.getUsername(r)); err != nil {
		h.shellError(w, err)
		return
	}
	h.jsonOK(w, map[string]string{"status": "sent"})
}

func (h *Handlers) apiShellClose(w http.ResponseWriter, r *http.Request) {
	h.engine.CloseShell(h.getUsername(r))
	h.jsonOK(w, h.engine.ShellStatus())
}

func (h *Handlers) apiShellRunScript(w http.ResponseWriter, r *http.Request) {
	logfile, err := h.engine.RunRemoteScript(h.getUsername(r))
	if err != nil {
		h.shellError(w, err)
		return
	}
	h.jsonOK(w, map[string]string{"log_file": logfile})
}

func (h *Handlers) shellError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shell.ErrInvalidConfig), errors.Is(err, engine.ErrInvalidDirection):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, shell.ErrNotConnected), errors.Is(err, shell.ErrShellNotStarted),
		errors.Is(err, shell.ErrConnectInProgress), errors.Is(err, shell.ErrConnectAborted):
		h.jsonError(w, err.Error(), http.StatusConflict)
	default:
		h.jsonError(w, err.Error(), http.StatusBadGateway)
	}
}
