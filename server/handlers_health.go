package server

import (
	"database/sql"
	"net/http"
	"time"
)

// HandleHealthz reports process liveness.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// newReadyzHandler reports readiness: the database must answer a ping.
// Kept separate from Handlers because readiness is about infrastructure,
// not the credential subsystem.
func newReadyzHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := contextWithTimeout(r, 2*time.Second)
		defer cancel()
		if db == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "db": "none"})
			return
		}
		if err := db.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "db": "down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "db": "up"})
	}
}
