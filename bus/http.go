package bus

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// DebugRoutes registers GET /bus/stats and GET /bus/retained on r,
// following the same RouterOption-applies-to-chi.Router shape as
// app.WithDebugRoutes.
func DebugRoutes(router *Router) func(chi.Router) error {
	return func(r chi.Router) error {
		r.Get("/bus/stats", handleBusStats(router))
		r.Get("/bus/retained", handleBusRetained(router))
		return nil
	}
}

func handleBusStats(router *Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(router.Stats())
	}
}

func handleBusRetained(router *Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pattern := r.URL.Query().Get("pattern")
		if pattern == "" {
			pattern = GlobalWildcard
		}
		entries := router.retained.matching([]string{pattern}, true)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}
