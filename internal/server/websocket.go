package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/TDHINGRA16/Scrappy/internal/models"
)

// pushInterval is how often the snapshot is pushed to a subscribed client,
// per §6's WebSocket contract.
const pushInterval = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleScrapeWS implements GET /ws/scrape/{scrape_id}: it pushes the
// progress snapshot every 500ms until the scrape reaches a terminal status,
// then closes the connection.
func (s *Server) handleScrapeWS(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/ws/scrape/")
	if id == "" {
		writeError(w, http.StatusNotFound, "missing scrape id")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.Log != nil {
			s.Log.Warn("websocket upgrade failed", zap.Error(err))
		}
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for {
		snap, ok := s.Progress.Snapshot(id)
		if !ok {
			_ = conn.WriteJSON(map[string]string{"status": "error", "message": "unknown scrape_id"})
			return
		}
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
		if isTerminal(snap.Status) {
			return
		}

		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}

func isTerminal(status models.ProgressStatus) bool {
	return status == models.ProgressCompleted || status == models.ProgressFailed
}
