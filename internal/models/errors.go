package models

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrChatNotFound       = errors.New("chat not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrUserNotParticipant = errors.New("user is not a participant")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrNotMessageSender   = errors.New("only the sender may modify a message")
)
