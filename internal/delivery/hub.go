// Package delivery fans chat events out to live subscribers. Delivery is
// at-least-once per subscriber; message ids are the idempotency keys clients
// de-duplicate on. The message table is the durable replay log, so a crash
// between commit and fan-out loses nothing: reconnecting subscribers catch
// up from their last seen seq.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"MessengerCore/server/internal/models"
)

type EventType string

const (
	EventMessagePosted   EventType = "message_posted"
	EventMessageEdited   EventType = "message_edited"
	EventMessageDeleted  EventType = "message_deleted"
	EventChatUpdated     EventType = "chat_updated"
	EventPresenceChanged EventType = "presence_changed"
	EventMessagesRead    EventType = "messages_read"
)

type Event struct {
	Type    EventType   `json:"type"`
	ChatID  uuid.UUID   `json:"chat_id"`
	Seq     int64       `json:"seq,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type PresencePayload struct {
	UserID   uuid.UUID  `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// ReplaySource supplies missed messages for catch-up; chats.Store satisfies it.
type ReplaySource interface {
	ListMessagesAfterSeq(ctx context.Context, chatID uuid.UUID, afterSeq int64, limit int) ([]models.Message, error)
}

// PresenceStore records online state; users.Store satisfies it.
type PresenceStore interface {
	SetPresence(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error
}

const defaultBuffer = 64

// Subscriber is one connected session's event stream. Its buffer is bounded;
// if the consumer falls behind, the subscriber is dropped rather than the
// publisher blocked.
type Subscriber struct {
	SessionID uuid.UUID
	UserID    uuid.UUID

	send chan Event
	done chan struct{}
}

// Events is the stream the transport (websocket writer) drains alongside
// Done.
func (s *Subscriber) Events() <-chan Event { return s.send }

// Done is closed when the hub has discarded this subscriber.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

type Hub struct {
	replay   ReplaySource
	presence PresenceStore
	clock    clockwork.Clock
	log      *zap.SugaredLogger
	buffer   int

	mu     sync.Mutex
	byChat map[uuid.UUID]map[*Subscriber]struct{}
	chats  map[*Subscriber]map[uuid.UUID]struct{}
}

func NewHub(replay ReplaySource, presence PresenceStore, clock clockwork.Clock, log *zap.SugaredLogger) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		replay:   replay,
		presence: presence,
		clock:    clock,
		log:      log,
		buffer:   defaultBuffer,
		byChat:   make(map[uuid.UUID]map[*Subscriber]struct{}),
		chats:    make(map[*Subscriber]map[uuid.UUID]struct{}),
	}
}

// Connect registers a session's stream and marks the user online. Presence
// writes are best-effort: a storage hiccup must not refuse the connection.
func (h *Hub) Connect(ctx context.Context, sessionID, userID uuid.UUID) *Subscriber {
	sub := &Subscriber{
		SessionID: sessionID,
		UserID:    userID,
		send:      make(chan Event, h.buffer),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.chats[sub] = make(map[uuid.UUID]struct{})
	h.mu.Unlock()

	if err := h.presence.SetPresence(ctx, userID, true, h.clock.Now().UTC()); err != nil {
		h.log.Warnw("presence update failed on connect", "user_id", userID, "err", err)
	}
	return sub
}

// Subscribe attaches sub to a chat's fan-out and, when afterSeq >= 0, replays
// every message past that offset before live events settle in. Replay may
// overlap with concurrent publishes; duplicates are fine by contract.
func (h *Hub) Subscribe(ctx context.Context, sub *Subscriber, chatID uuid.UUID, afterSeq int64) error {
	h.mu.Lock()
	if _, ok := h.chats[sub]; !ok {
		h.mu.Unlock()
		return context.Canceled
	}
	if h.byChat[chatID] == nil {
		h.byChat[chatID] = make(map[*Subscriber]struct{})
	}
	h.byChat[chatID][sub] = struct{}{}
	h.chats[sub][chatID] = struct{}{}
	h.mu.Unlock()

	// The joiner is excluded from its own announcement.
	h.publishExcept(Event{
		Type:   EventPresenceChanged,
		ChatID: chatID,
		Payload: PresencePayload{
			UserID:   sub.UserID,
			IsOnline: true,
		},
	}, sub)

	if afterSeq < 0 {
		return nil
	}
	return h.replayTo(ctx, sub, chatID, afterSeq)
}

func (h *Hub) replayTo(ctx context.Context, sub *Subscriber, chatID uuid.UUID, afterSeq int64) error {
	for {
		page, err := h.replay.ListMessagesAfterSeq(ctx, chatID, afterSeq, h.buffer)
		if err != nil {
			return err
		}
		for i := range page {
			msg := page[i]
			ev := Event{
				Type:    EventMessagePosted,
				ChatID:  chatID,
				Seq:     msg.Seq,
				Payload: msg,
			}
			select {
			case sub.send <- ev:
			case <-sub.done:
				return context.Canceled
			case <-ctx.Done():
				return ctx.Err()
			}
			afterSeq = msg.Seq
		}
		if len(page) < h.buffer {
			return nil
		}
	}
}

func (h *Hub) Unsubscribe(sub *Subscriber, chatID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(sub, chatID)
}

func (h *Hub) detachLocked(sub *Subscriber, chatID uuid.UUID) {
	if set, ok := h.byChat[chatID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.byChat, chatID)
		}
	}
	if set, ok := h.chats[sub]; ok {
		delete(set, chatID)
	}
}

// Publish fans ev out to every live subscriber of the chat. One slow
// consumer never stalls the rest: a full buffer drops that subscriber.
func (h *Hub) Publish(ev Event) {
	h.publishExcept(ev, nil)
}

func (h *Hub) publishExcept(ev Event, skip *Subscriber) {
	h.mu.Lock()
	var dropped []*Subscriber
	for sub := range h.byChat[ev.ChatID] {
		if sub == skip {
			continue
		}
		select {
		case sub.send <- ev:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		h.log.Warnw("dropping slow subscriber",
			"session_id", sub.SessionID, "user_id", sub.UserID, "chat_id", ev.ChatID)
		h.removeLocked(sub)
	}
	h.mu.Unlock()
}

// Disconnect tears the subscriber down and marks the user offline with a
// last-seen stamp, announcing it to the chats it was watching.
func (h *Hub) Disconnect(ctx context.Context, sub *Subscriber) {
	h.mu.Lock()
	watched := make([]uuid.UUID, 0, len(h.chats[sub]))
	for chatID := range h.chats[sub] {
		watched = append(watched, chatID)
	}
	h.removeLocked(sub)
	h.mu.Unlock()

	now := h.clock.Now().UTC()
	if err := h.presence.SetPresence(ctx, sub.UserID, false, now); err != nil {
		h.log.Warnw("presence update failed on disconnect", "user_id", sub.UserID, "err", err)
	}

	for _, chatID := range watched {
		h.Publish(Event{
			Type:   EventPresenceChanged,
			ChatID: chatID,
			Payload: PresencePayload{
				UserID:   sub.UserID,
				IsOnline: false,
				LastSeen: &now,
			},
		})
	}
}

func (h *Hub) removeLocked(sub *Subscriber) {
	if _, ok := h.chats[sub]; !ok {
		return
	}
	for chatID := range h.chats[sub] {
		h.detachLocked(sub, chatID)
	}
	delete(h.chats, sub)
	// send stays open: replay goroutines may still hold a reference, and
	// they bail out on done. Consumers exit via Done, not channel close.
	close(sub.done)
}
