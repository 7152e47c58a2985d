package www

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telehub/engine"
)

// TranscriptSource returns the most recent shell output chunks, oldest
// first. statecache.RedisStore implements it.
type TranscriptSource interface {
	Transcript(ctx context.Context, n int64) ([]string, error)
}

type Handlers struct {
	engine     *engine.Engine
	sessions   *sessions.CookieStore
	eventHub   *EventHub
	transcript TranscriptSource
}

// NewRouter builds the HTTP API. transcript may be nil when no cache is
// configured. The returned func stops the SSE hub.
func NewRouter(eng *engine.Engine, transcript TranscriptSource) (http.Handler, func()) {
	hub := NewEventHub()
	hub.Start()
	hub.SetupEngineListeners(eng)

	h := &Handlers{
		engine:     eng,
		sessions:   newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub:   hub,
		transcript: transcript,
	}

	h.ensureDefaultAdmin(eng.DB())

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// SSE
	r.Get("/events", hub.SSEHandler)

	// Prometheus
	r.Handle("/metrics", promhttp.HandlerFor(eng.Metrics().Registry(), promhttp.HandlerOpts{}))

	// API routes (no auth required for read)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Get("/state", h.apiState)
		r.Get("/health", h.apiHealthCheck)
		r.Get("/shell/status", h.apiShellStatus)
		r.Get("/shell/transcript", h.apiShellTranscript)
		r.Get("/shell/sessions", h.apiShellSessions)
		r.Get("/audit", h.apiAuditLog)
		r.Post("/login", h.apiLogin)
		r.Post("/logout", h.apiLogout)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/operators", h.apiOperators)
			r.Post("/mode", h.apiSetMode)
			r.Post("/estop", h.apiEmergencyStop)
			r.Post("/wheels/{index}", h.apiUpdateWheel)
			r.Post("/actuators/{index}", h.apiUpdateActuator)
			r.Post("/simulation/start", h.apiSimulationStart)
			r.Post("/simulation/stop", h.apiSimulationStop)
			r.Post("/shell/connect", h.apiShellConnect)
			r.Post("/shell/send", h.apiShellSend)
			r.Post("/shell/move", h.apiShellMove)
			r.Post("/shell/close", h.apiShellClose)
			r.Post("/shell/run-script", h.apiShellRunScript)
		})
	})

	return r, hub.Stop
}
