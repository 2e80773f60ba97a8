package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"darts/internal/auth"
	"darts/internal/game"
)

// WSMessage is the JSON envelope for WebSocket messages.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type roundPayload struct {
	Round game.Submission `json:"round"`
}

type errorPayload struct {
	Message string           `json:"message"`
	Slots   map[int][]string `json:"slots,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "id")
	c, _ := auth.CurrentUser(r.Context())
	g, err := s.manager.Get(r.Context(), gameID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originHost(),
	})
	if err != nil {
		log.Warn().Err(err).Str("game", gameID).Msg("websocket accept")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	sub := s.feed.Subscribe(gameID, c.ID)
	defer s.feed.Unsubscribe(sub)

	if err := writeWS(ctx, conn, "state", g); err != nil {
		return
	}

	// Writer goroutine: forward feed messages. The channel closes when the
	// subscriber is replaced by a newer connection or the game is deleted.
	go func() {
		for msg := range sub.Send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusGoingAway, "feed closed")
	}()

	// Reader loop: handle incoming messages
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			writeWS(ctx, conn, "error", errorPayload{Message: "invalid message"})
			continue
		}
		s.handleMessage(ctx, conn, gameID, c.ID, msg)
	}

	log.Debug().Str("game", gameID).Str("user", c.ID).Msg("feed client disconnected")
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, gameID, userID string, msg WSMessage) {
	switch msg.Type {
	case "round":
		var rp roundPayload
		if err := json.Unmarshal(msg.Payload, &rp); err != nil || rp.Round == nil {
			writeWS(ctx, conn, "error", errorPayload{Message: "invalid round payload"})
			return
		}
		g, err := s.manager.SubmitRound(ctx, gameID, userID, rp.Round)
		if err != nil {
			status, body := errorStatus(err)
			if status == http.StatusInternalServerError {
				log.Error().Err(err).Str("game", gameID).Msg("websocket round failed")
			}
			writeWS(ctx, conn, "error", errorPayload{Message: body.Error, Slots: body.Slots})
			return
		}
		s.publishState(g)

	default:
		writeWS(ctx, conn, "error", errorPayload{Message: "unknown message type: " + msg.Type})
	}
}

func encodeWS(msgType string, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{Type: msgType, Payload: p})
}

func writeWS(ctx context.Context, conn *websocket.Conn, msgType string, payload any) error {
	msg, err := encodeWS(msgType, payload)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, msg)
}
