package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"kirimkan/internal/constants"
	"kirimkan/internal/validation"

	"github.com/coder/websocket"
)

// wsMessage is a client-to-server frame on the push channel.
type wsMessage struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

// wsSink adapts one WebSocket connection to the push hub's Sink.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(constants.DefaultPushWriteTimeoutSec)*time.Second)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSink) Close() {
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
}

// handleWebSocket upgrades the connection and processes subscribe and
// unsubscribe actions until the client goes away. Pushed frames flow
// through the hub, never directly from here.
func (s *Server) handleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && !secureCompare(apiKeyFromRequest(r), s.cfg.APIKey) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Debug("WebSocket upgrade failed")
			return
		}

		sink := &wsSink{conn: conn}
		defer s.hub.Drop(sink)

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}

			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.sendWSError(ctx, conn, "malformed message")
				continue
			}
			if err := validation.ValidateSessionID(msg.SessionID); err != nil {
				s.sendWSError(ctx, conn, "invalid session id")
				continue
			}

			switch msg.Action {
			case "subscribe":
				if err := s.hub.Subscribe(msg.SessionID, sink); err != nil {
					s.sendWSError(ctx, conn, err.Error())
				}
			case "unsubscribe":
				s.hub.Unsubscribe(msg.SessionID, sink)
			default:
				s.sendWSError(ctx, conn, "unknown action")
			}
		}
	}
}

func (s *Server) sendWSError(ctx context.Context, conn *websocket.Conn, message string) {
	frame, err := json.Marshal(map[string]interface{}{
		"event": "error",
		"data":  map[string]string{"message": message},
	})
	if err != nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx,
		time.Duration(constants.DefaultPushWriteTimeoutSec)*time.Second)
	defer cancel()
	_ = conn.Write(writeCtx, websocket.MessageText, frame)
}
