package main

import "net/http"

// handleHealth is a bare liveness probe: if the process can answer HTTP at
// all, it's alive.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness additionally pings the database, since a court that
// can't reach its store can't safely accept mutating traffic.
func (s *server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleStartup reports the same readiness check; kept distinct from
// /readiness because orchestrators probe it only once during boot.
func (s *server) handleStartup(w http.ResponseWriter, r *http.Request) {
	s.handleReadiness(w, r)
}
