package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"seqscope/go-backend/internal/stream"
)

const wsWriteTimeout = 10 * time.Second

// wsSender adapts a websocket connection to the channel Sender contract.
// The orchestrator serializes sends, so no extra locking is needed here.
type wsSender struct {
	conn *websocket.Conn
}

func (s wsSender) Send(event stream.Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(event)
}

// handleAnalysisSocket upgrades the connection and runs one session over
// it. The session owns artifact cleanup; this handler owns the transport.
func (s *Server) handleAnalysisSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowClient(r) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	token := r.PathValue("file_id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.Warn("websocket upgrade failed", "file_id", token, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	s.orch.Run(r.Context(), token, wsSender{conn: conn})

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
