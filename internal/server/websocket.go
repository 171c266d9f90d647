package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/runbox/internal/metrics"
	"github.com/michaelbrown/runbox/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // authentication lives in front of the service
	},
}

// wsOutgoing wraps a pipeline response with the execution id.
type wsOutgoing struct {
	ID string `json:"id,omitempty"`
	pipeline.Response
}

// handleWebSocket accepts one submission per text message, using the same
// JSON body as POST /api/execute/, and answers each in order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.maxBodyBytes())
	ip := clientIP(r)

	// Read loop
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("websocket read")
			}
			return
		}

		var resp pipeline.Response
		switch {
		case msgType != websocket.TextMessage:
			resp = pipeline.ErrorResponse(http.StatusBadRequest, "submissions must be text messages")
		case s.limiter != nil && !s.limiter.allow(ip):
			metrics.RateLimitHits.Inc()
			resp = pipeline.ErrorResponse(http.StatusTooManyRequests, "Too many requests")
			resp.RetryAfter = time.Second
		default:
			resp = s.pipeline.Execute(r.Context(), data)
		}

		if err := conn.WriteJSON(wsOutgoing{ID: resp.ID, Response: resp}); err != nil {
			s.logger.Debug().Err(err).Msg("websocket write")
			return
		}
	}
}
