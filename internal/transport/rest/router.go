// Package rest implements the command-ingest HTTP surface: POST
// /commands/{name}, health/readiness probes and /metrics. Grounded on
// join-service/internal/transport/rest/router.go's middleware chain and
// route grouping.
package rest

import (
	"net/http"
	"time"

	"github.com/baechuer/reliable-command-engine/internal/commandbus"
	"github.com/baechuer/reliable-command-engine/internal/syncwait"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps are the collaborators the router needs.
type RouterDeps struct {
	Bus      *commandbus.CommandBus
	Registry *syncwait.Registry
	SyncWait time.Duration
	// AuthMiddleware, when non-nil, wraps the /commands route group. When
	// nil the engine runs with no authentication, which is the default —
	// spec.md's External Interfaces section never requires one.
	AuthMiddleware func(http.Handler) http.Handler
}

// NewRouter builds the full HTTP handler.
func NewRouter(d RouterDeps) http.Handler {
	if d.Bus == nil {
		panic("rest.NewRouter: nil command bus")
	}
	if d.Registry == nil {
		panic("rest.NewRouter: nil response registry")
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(HTTPLogger)
	r.Use(Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/healthz", healthzHandler)
	r.Get("/readyz", healthzHandler)
	r.Handle("/metrics", promhttp.Handler())

	h := &Handler{bus: d.Bus, registry: d.Registry, syncWait: d.SyncWait}

	r.Route("/commands", func(rt chi.Router) {
		if d.AuthMiddleware != nil {
			rt.Use(d.AuthMiddleware)
		}
		rt.Post("/{name}", h.Accept)
	})

	return r
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
