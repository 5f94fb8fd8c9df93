package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"MessengerCore/server/internal/chats"
	"MessengerCore/server/internal/delivery"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsFrame is the client-to-server command envelope. after_seq omitted or
// negative skips replay on subscribe; 0 replays the whole chat.
type wsFrame struct {
	Action      string `json:"action"`
	ChatID      string `json:"chat_id,omitempty"`
	AfterSeq    *int64 `json:"after_seq,omitempty"`
	Content     string `json:"content,omitempty"`
	MessageType string `json:"message_type,omitempty"`
}

type wsError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wsConn serializes writes: the event writer goroutine and the read loop's
// error replies share one connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writeError(msg string) {
	_ = c.writeJSON(wsError{Type: "error", Message: msg})
}

// ServeWS authenticates via the token query parameter, upgrades, then runs
// a read loop for commands and a writer goroutine draining hub events.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.gateway.Authenticate(r.Context(), tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "err", err)
		return
	}
	conn := &wsConn{conn: raw}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.hub.Connect(ctx, claims.SessionID, claims.UserID)
	defer h.hub.Disconnect(context.Background(), sub)

	go h.writeEvents(conn, sub, cancel)
	h.readCommands(ctx, conn, sub)
}

func (h *Handler) writeEvents(conn *wsConn, sub *delivery.Subscriber, cancel context.CancelFunc) {
	defer cancel()
	defer conn.conn.Close()
	for {
		select {
		case ev := <-sub.Events():
			if err := conn.writeJSON(ev); err != nil {
				return
			}
		case <-sub.Done():
			return
		}
	}
}

func (h *Handler) readCommands(ctx context.Context, conn *wsConn, sub *delivery.Subscriber) {
	for {
		var frame wsFrame
		if err := conn.conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Action {
		case "subscribe":
			h.handleSubscribe(ctx, conn, sub, frame)
		case "unsubscribe":
			if chatID, err := uuid.Parse(frame.ChatID); err == nil {
				h.hub.Unsubscribe(sub, chatID)
			}
		case "send_message":
			h.handleSendMessage(ctx, conn, sub, frame)
		default:
			conn.writeError("unknown action")
		}
	}
}

func (h *Handler) handleSubscribe(ctx context.Context, conn *wsConn, sub *delivery.Subscriber, frame wsFrame) {
	chatID, err := uuid.Parse(frame.ChatID)
	if err != nil {
		conn.writeError("invalid chat_id")
		return
	}

	in, err := h.chats.IsParticipant(ctx, chatID, sub.UserID)
	if err != nil {
		conn.writeError("subscription failed")
		return
	}
	if !in {
		conn.writeError("not a participant of this chat")
		return
	}

	afterSeq := int64(-1)
	if frame.AfterSeq != nil {
		afterSeq = *frame.AfterSeq
	}
	if err := h.hub.Subscribe(ctx, sub, chatID, afterSeq); err != nil {
		h.log.Debugw("subscribe aborted", "chat_id", chatID, "user_id", sub.UserID, "err", err)
	}
}

func (h *Handler) handleSendMessage(ctx context.Context, conn *wsConn, sub *delivery.Subscriber, frame wsFrame) {
	chatID, err := uuid.Parse(frame.ChatID)
	if err != nil {
		conn.writeError("invalid chat_id")
		return
	}

	if _, err := h.chats.PostMessage(ctx, chats.PostMessageParams{
		ChatID:      chatID,
		SenderID:    sub.UserID,
		Content:     frame.Content,
		MessageType: frame.MessageType,
	}); err != nil {
		conn.writeError("message rejected")
	}
}
