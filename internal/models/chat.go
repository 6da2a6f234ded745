package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxMessageLength = 2000

var (
	ErrInvalidThreadID = errors.New("invalid chat id")
	ErrEmptyMessage    = errors.New("message text is required")
	ErrMessageTooLong  = errors.New("message text must be 2000 characters or fewer")
)

type ChatThread struct {
	ID                string      `json:"id"`
	Participants      []uuid.UUID `json:"participants"`
	LastMessage       string      `json:"last_message"`
	LastMessageTime   *time.Time  `json:"last_message_time,omitempty"`
	LastMessageSender *uuid.UUID  `json:"last_message_sender,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// ChatThreadView is a thread as listed for one participant.
type ChatThreadView struct {
	ChatThread
	FriendID          uuid.UUID `json:"friend_id"`
	FriendUsername    string    `json:"friend_username"`
	FriendDisplayName string    `json:"friend_display_name"`
	FriendPhotoURL    string    `json:"friend_photo_url"`
}

type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Text      string    `json:"text"`
	SenderID  uuid.UUID `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// ThreadID is the canonical id for the conversation between a and b. It does
// not depend on argument order.
func ThreadID(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if bs < as {
		as, bs = bs, as
	}
	return as + "_" + bs
}

// ThreadParticipants parses a canonical thread id back into its two users,
// smaller id first.
func ThreadParticipants(threadID string) (uuid.UUID, uuid.UUID, error) {
	left, right, ok := strings.Cut(threadID, "_")
	if !ok {
		return uuid.Nil, uuid.Nil, ErrInvalidThreadID
	}
	a, err := uuid.Parse(left)
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrInvalidThreadID
	}
	b, err := uuid.Parse(right)
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrInvalidThreadID
	}
	if a == b || ThreadID(a, b) != threadID {
		return uuid.Nil, uuid.Nil, ErrInvalidThreadID
	}
	return a, b, nil
}

// ThreadPeer returns the participant of threadID that is not userID.
func ThreadPeer(threadID string, userID uuid.UUID) (uuid.UUID, bool) {
	a, b, err := ThreadParticipants(threadID)
	if err != nil {
		return uuid.Nil, false
	}
	switch userID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return uuid.Nil, false
}

func NormalizeMessageText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return text, nil
}
