package api

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/Kunsh1/spin-gpt/pkg/logging"
)

const (
	defaultRecentEvents = 100
	maxRecentEvents     = 1000
)

// handleRecentEvents returns the last n event log entries, oldest first.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	n := defaultRecentEvents
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = min(v, maxRecentEvents)
	}

	events, err := logging.ReadRecentEvents(s.eventLog, n)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		events = []logging.Event{}
	case err != nil:
		s.logger.Printf("read event log: %v", err)
		writeError(w, http.StatusInternalServerError, "event log unavailable")
		return
	case events == nil:
		events = []logging.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
