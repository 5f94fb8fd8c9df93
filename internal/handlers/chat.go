package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"MessengerCore/server/internal/appMiddleware"
	"MessengerCore/server/internal/apperrors"
	"MessengerCore/server/internal/chats"
)

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID := appMiddleware.UserIDFrom(r.Context())

	out, err := h.chats.ListChats(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type createGroupChatRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

func (h *Handler) CreateGroupChat(w http.ResponseWriter, r *http.Request) {
	userID := appMiddleware.UserIDFrom(r.Context())

	var req createGroupChatRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	memberIDs := make([]uuid.UUID, 0, len(req.MemberIDs))
	for _, raw := range req.MemberIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, apperrors.InvalidArg("invalid member id"))
			return
		}
		memberIDs = append(memberIDs, id)
	}

	chat, err := h.chats.CreateGroupChat(r.Context(), req.Name, userID, memberIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

type createDirectChatRequest struct {
	UserID string `json:"user_id"`
}

// CreateDirectChat is find-or-create: posting the same pair twice, even
// concurrently, yields the same chat.
func (h *Handler) CreateDirectChat(w http.ResponseWriter, r *http.Request) {
	callerID := appMiddleware.UserIDFrom(r.Context())

	var req createDirectChatRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	otherID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, apperrors.InvalidArg("invalid user id"))
		return
	}

	chat, err := h.chats.FindOrCreateDirectChat(r.Context(), callerID, otherID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	callerID := appMiddleware.UserIDFrom(r.Context())

	chatID, err := uuid.Parse(chi.URLParam(r, "chat_id"))
	if err != nil {
		h.writeError(w, apperrors.InvalidArg("invalid chat id"))
		return
	}

	chat, err := h.chats.GetChat(r.Context(), chatID, callerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	participants, err := h.chats.Participants(r.Context(), chatID, callerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chat":            chat,
		"participant_ids": participants,
	})
}

// ListMessages pages oldest-first; after_at/after_id together form the
// cursor and must both come from the previous page's last row.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	callerID := appMiddleware.UserIDFrom(r.Context())

	chatID, err := uuid.Parse(chi.URLParam(r, "chat_id"))
	if err != nil {
		h.writeError(w, apperrors.InvalidArg("invalid chat id"))
		return
	}

	var after *chats.Cursor
	if afterAt := r.URL.Query().Get("after_at"); afterAt != "" {
		at, err := time.Parse(time.RFC3339Nano, afterAt)
		if err != nil {
			h.writeError(w, apperrors.InvalidArg("invalid after_at cursor"))
			return
		}
		id, err := uuid.Parse(r.URL.Query().Get("after_id"))
		if err != nil {
			h.writeError(w, apperrors.InvalidArg("invalid after_id cursor"))
			return
		}
		after = &chats.Cursor{CreatedAt: at, ID: id}
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, apperrors.InvalidArg("invalid limit"))
			return
		}
	}

	msgs, err := h.chats.ListMessages(r.Context(), chatID, callerID, after, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type postMessageRequest struct {
	Content     string  `json:"content"`
	MessageType string  `json:"message_type"`
	ReplyToID   *string `json:"reply_to_id"`
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	callerID := appMiddleware.UserIDFrom(r.Context())

	chatID, err := uuid.Parse(chi.URLParam(r, "chat_id"))
	if err != nil {
		h.writeError(w, apperrors.InvalidArg("invalid chat id"))
		return
	}

	var req postMessageRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	var replyTo *uuid.UUID
	if req.ReplyToID != nil {
		id, err := uuid.Parse(*req.ReplyToID)
		if err != nil {
			h.writeError(w, apperrors.InvalidArg("invalid reply_to_id"))
			return
		}
		replyTo = &id
	}

	msg, err := h.chats.PostMessage(r.Context(), chats.PostMessageParams{
		ChatID:      chatID,
		SenderID:    callerID,
		Content:     req.Content,
		MessageType: req.MessageType,
		ReplyToID:   replyTo,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	callerID := appMiddleware.UserIDFrom(r.Context())

	messageID, err := uuid.Parse(chi.URLParam(r, "message_id"))
	if err != nil {
		h.writeError(w, apperrors.InvalidArg("invalid message id"))
		return
	}

	var req editMessageRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	msg, err := h.chats.EditMessage(r.Context(), messageID, callerID, req.Content)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	callerID := appMiddleware.UserIDFrom(r.Context())

	messageID, err := uuid.Parse(chi.URLParam(r, "message_id"))
	if err != nil {
		h.writeError(w, apperrors.InvalidArg("invalid message id"))
		return
	}

	if err := h.chats.DeleteMessage(r.Context(), messageID, callerID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

type markReadRequest struct {
	LastReadMessageID string `json:"last_read_message_id"`
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	callerID := appMiddleware.UserIDFrom(r.Context())

	chatID, err := uuid.Parse(chi.URLParam(r, "chat_id"))
	if err != nil {
		h.writeError(w, apperrors.InvalidArg("invalid chat id"))
		return
	}

	var req markReadRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	lastReadID, err := uuid.Parse(req.LastReadMessageID)
	if err != nil {
		h.writeError(w, apperrors.InvalidArg("invalid last_read_message_id"))
		return
	}

	if err := h.chats.MarkRead(r.Context(), chatID, callerID, lastReadID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "marked read"})
}

type addParticipantsRequest struct {
	UserIDs []string `json:"user_ids"`
}

func (h *Handler) AddParticipants(w http.ResponseWriter, r *http.Request) {
	callerID := appMiddleware.UserIDFrom(r.Context())

	chatID, err := uuid.Parse(chi.URLParam(r, "chat_id"))
	if err != nil {
		h.writeError(w, apperrors.InvalidArg("invalid chat id"))
		return
	}

	var req addParticipantsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if len(req.UserIDs) == 0 {
		h.writeError(w, apperrors.InvalidArg("user_ids is required"))
		return
	}

	userIDs := make([]uuid.UUID, 0, len(req.UserIDs))
	for _, raw := range req.UserIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, apperrors.InvalidArg("invalid user id"))
			return
		}
		userIDs = append(userIDs, id)
	}

	if err := h.chats.AddParticipants(r.Context(), chatID, callerID, userIDs); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "participants added"})
}

func (h *Handler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	callerID := appMiddleware.UserIDFrom(r.Context())

	chatID, err := uuid.Parse(chi.URLParam(r, "chat_id"))
	if err != nil {
		h.writeError(w, apperrors.InvalidArg("invalid chat id"))
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		h.writeError(w, apperrors.InvalidArg("invalid user id"))
		return
	}

	if err := h.chats.RemoveParticipant(r.Context(), chatID, callerID, userID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "participant removed"})
}
