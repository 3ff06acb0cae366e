// Package api is the read-only admin HTTP surface of a server node
// (SPEC_FULL.md §6.1): a health check, federation snapshots (time factory,
// federate, regulator and instance counts) and the Prometheus metrics
// endpoint. It is an operational window onto node
// state, never part of the HLA wire protocol.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openrti-go/rticore/internal/config"
	"github.com/openrti-go/rticore/internal/server"
	"github.com/openrti-go/rticore/internal/telemetry"
)

// Router serves the admin surface for one node.
type Router struct {
	node   *server.Node
	logger *zap.SugaredLogger
	config *config.Config
}

// NewRouter creates the admin router for node.
func NewRouter(node *server.Node, logger *zap.SugaredLogger, cfg *config.Config) *Router {
	return &Router{node: node, logger: logger, config: cfg}
}

// Handler builds the chi mux.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.LoggingMiddleware(rt.logger))

	r.Get("/healthz", rt.handleHealth)
	r.Get("/federations", rt.handleFederations)
	r.Get("/federations/{name}", rt.handleFederation)
	if rt.config == nil || rt.config.Metrics.Enabled {
		path := "/metrics"
		if rt.config != nil && rt.config.Metrics.Path != "" {
			path = rt.config.Metrics.Path
		}
		r.Handle(path, promhttp.Handler())
	}
	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := rt.node.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"server": snap.Name,
		"root":   snap.Root,
	})
}

func (rt *Router) handleFederations(w http.ResponseWriter, r *http.Request) {
	snap := rt.node.Snapshot()
	if snap.Federations == nil {
		snap.Federations = []server.FederationSnapshot{}
	}
	writeJSON(w, http.StatusOK, snap.Federations)
}

func (rt *Router) handleFederation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snap := rt.node.Snapshot()
	for _, f := range snap.Federations {
		if f.Name == name {
			writeJSON(w, http.StatusOK, f)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such federation execution"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
