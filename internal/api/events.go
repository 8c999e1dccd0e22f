package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// heartbeatLine is a comment line in the newline-delimited stream; JSON
// consumers skip lines that do not start with '{'.
const heartbeatLine = ": heartbeat\n"

// streamEvents handles GET /events: a long-lived newline-delimited JSON
// stream of progress events, optionally scoped to one job via ?job_id=.
// A heartbeat comment keeps intermediaries from closing the idle
// connection; delivery carries no acknowledgment, observers reconcile
// through the pull path.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.events.Subscribe(r.URL.Query().Get("job_id"))
	defer sub.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.Duration(s.cfg.Events.HeartbeatSeconds) * time.Second
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case evt := <-sub.C():
			if err := enc.Encode(evt); err != nil {
				s.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(heartbeatLine)); err != nil {
				s.logger.Debug("event stream heartbeat failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}
