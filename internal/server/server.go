// Package server exposes the per-network HTTP inspection surface of
// spec.md Section 6 (board JSON, status, raw/filtered entities, roster,
// stops) using chi and cors, the way the teacher's apps/api/main.go wires
// its router.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/raillive/ledrails-ltm/internal/network"
)

// New builds the full HTTP handler: one mount point per network under
// /<id-lower>-ltm/.
func New(networks map[string]*network.Network) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	for id, n := range networks {
		mount(r, routePrefix(id), n)
	}

	return r
}

func routePrefix(id string) string {
	lower := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[i] = c
	}
	return "/" + string(lower) + "-ltm"
}

func mount(r chi.Router, prefix string, n *network.Network) {
	r.Route(prefix, func(sr chi.Router) {
		sr.Get("/{version}.json", func(w http.ResponseWriter, req *http.Request) {
			version := chi.URLParam(req, "version")
			board, ok := n.Board(version)
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown board revision"})
				return
			}
			out := board.Output()
			if out == nil {
				writeUnavailable(w, n)
				return
			}
			writeJSON(w, http.StatusOK, out)
		})

		sr.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, n.Status())
		})

		sr.Get("/api/vehicles", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, n.VehicleSnapshot())
		})

		sr.Get("/api/vehicles/trains", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, n.FilteredTrains())
		})

		sr.Get("/api/trackedtrains", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, n.RosterSnapshot())
		})

		sr.Get("/api/stops", func(w http.ResponseWriter, req *http.Request) {
			stopsMap := n.Stops()
			if stopsMap == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no stops loaded for this network"})
				return
			}
			writeJSON(w, http.StatusOK, stopsMap)
		})
	})
}

// writeUnavailable implements spec.md Section 7's 503 fallback: no
// successful tick has completed yet.
func writeUnavailable(w http.ResponseWriter, n *network.Network) {
	status := n.Status()
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"reason":        "no successful update cycle has completed yet",
		"lastAttempt":   status.Epoch,
		"lastErrorSeen": status.LastError,
		"checkedAt":     time.Now().Unix(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
