package api

import "net/http"

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.cfg.Version})
}

// handleReadyz reports whether a new cycle can expect to run, plus queue
// depth and subsystem counters.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	st := s.status()
	status := http.StatusOK
	if !st.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, st)
}
