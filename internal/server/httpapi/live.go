package httpapi

import (
	"net/http"
	"time"
)

// handleLive upgrades to a websocket and waits for the next non-empty delta
// past the client's cursor, writes it, and closes. The client is expected to
// commit the delta and resubscribe with its advanced cursor; reconnecting
// per delta keeps the channel stateless on the server side.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	cursor, err := parseCursor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cursor")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}
	defer conn.Close()

	ctx := r.Context()
	owner := ownerID(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := s.sync.Pull(ctx, owner, cursor)
		if err != nil {
			s.logger.Error(ctx, "live pull failed", "error", err.Error())
			return
		}
		if len(resp.Records) > 0 {
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
			s.metrics.LiveDeltas.Inc()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
