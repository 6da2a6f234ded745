package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/HammerMeetNail/globenis/internal/metrics"
	"github.com/HammerMeetNail/globenis/internal/models"
)

var (
	ErrNotThreadParticipant = errors.New("not a participant of this chat")
	ErrNotFriends           = errors.New("you can only chat with friends")
)

const pgForeignKeyViolation = "23503"

// ChatService stores one-to-one conversations between friends. A thread is
// identified by the canonical pair id of its two participants and is created
// by its first message. History stays readable after the friendship ends.
type ChatService struct {
	db       DB
	notifier Notifier
}

func NewChatService(db DB, notifier Notifier) *ChatService {
	return &ChatService{db: db, notifier: notifier}
}

// ThreadID returns the conversation id for two users.
func (s *ChatService) ThreadID(a, b uuid.UUID) string {
	return models.ThreadID(a, b)
}

func checkParticipant(threadID string, userID uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	a, b, err := models.ThreadParticipants(threadID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if userID != a && userID != b {
		return uuid.Nil, uuid.Nil, ErrNotThreadParticipant
	}
	return a, b, nil
}

// Send appends a message to threadID. The participants must be friends; the
// friendship row is share-locked so a concurrent removal waits for the send.
// The timestamp is assigned by the database; the thread summary is created
// on first use and advanced with each message.
func (s *ChatService) Send(ctx context.Context, threadID string, senderID uuid.UUID, text string) (*models.ChatMessage, error) {
	text, err := models.NormalizeMessageText(text)
	if err != nil {
		return nil, err
	}
	a, b, err := checkParticipant(threadID, senderID)
	if err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{ThreadID: threadID, Text: text, SenderID: senderID}
	err = inTx(ctx, s.db, func(tx Tx) error {
		var one int
		err := tx.QueryRow(ctx,
			`SELECT 1 FROM user_friends WHERE user_id = $1 AND friend_id = $2 FOR SHARE`,
			a, b,
		).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFriends
		}
		if err != nil {
			return fmt.Errorf("checking friendship: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_threads (id, user_a_id, user_b_id)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO NOTHING`,
			threadID, a, b,
		); err != nil {
			if isForeignKeyViolation(err) {
				return ErrUserNotFound
			}
			return fmt.Errorf("creating chat thread: %w", err)
		}

		if err := tx.QueryRow(ctx,
			`INSERT INTO chat_messages (thread_id, sender_id, text, read)
			 VALUES ($1, $2, $3, false)
			 RETURNING id, created_at, read`,
			threadID, senderID, text,
		).Scan(&msg.ID, &msg.Timestamp, &msg.Read); err != nil {
			return fmt.Errorf("inserting chat message: %w", err)
		}

		// A message committed later may carry an earlier timestamp; keep the newest.
		if _, err := tx.Exec(ctx,
			`UPDATE chat_threads
			 SET last_message = $2, last_message_time = $3, last_message_sender = $4
			 WHERE id = $1 AND (last_message_time IS NULL OR last_message_time <= $3)`,
			threadID, text, msg.Timestamp, senderID,
		); err != nil {
			return fmt.Errorf("updating chat summary: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ChatMessagesSent.Inc()
	publishAll(ctx, s.notifier, ChatTopic(threadID))
	return msg, nil
}

// ListMessages returns the whole thread oldest first. A thread without
// messages yields an empty list.
func (s *ChatService) ListMessages(ctx context.Context, threadID string, viewerID uuid.UUID) ([]models.ChatMessage, error) {
	if _, _, err := checkParticipant(threadID, viewerID); err != nil {
		return nil, err
	}
	return s.listMessages(ctx, threadID)
}

func (s *ChatService) listMessages(ctx context.Context, threadID string) ([]models.ChatMessage, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, thread_id, text, sender_id, created_at, read
		 FROM chat_messages
		 WHERE thread_id = $1
		 ORDER BY created_at, seq`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chat messages: %w", err)
	}
	defer rows.Close()

	messages := []models.ChatMessage{}
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Text, &m.SenderID, &m.Timestamp, &m.Read); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat messages: %w", err)
	}
	return messages, nil
}

// ListThreads returns userID's conversations, most recent activity first.
func (s *ChatService) ListThreads(ctx context.Context, userID uuid.UUID) ([]models.ChatThreadView, error) {
	rows, err := s.db.Query(ctx,
		`SELECT t.id, t.user_a_id, t.user_b_id, t.last_message, t.last_message_time, t.last_message_sender, t.created_at,
		        u.id, u.username, u.display_name, u.photo_url
		 FROM chat_threads t
		 JOIN users u ON u.id = CASE WHEN t.user_a_id = $1 THEN t.user_b_id ELSE t.user_a_id END
		 WHERE t.user_a_id = $1 OR t.user_b_id = $1
		 ORDER BY t.last_message_time DESC NULLS LAST, t.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chat threads: %w", err)
	}
	defer rows.Close()

	threads := []models.ChatThreadView{}
	for rows.Next() {
		var (
			v            models.ChatThreadView
			userA, userB uuid.UUID
			lastTime     *time.Time
			lastSender   *uuid.UUID
		)
		if err := rows.Scan(&v.ID, &userA, &userB, &v.LastMessage, &lastTime, &lastSender, &v.CreatedAt,
			&v.FriendID, &v.FriendUsername, &v.FriendDisplayName, &v.FriendPhotoURL); err != nil {
			return nil, fmt.Errorf("scanning chat thread: %w", err)
		}
		v.Participants = []uuid.UUID{userA, userB}
		v.LastMessageTime = lastTime
		v.LastMessageSender = lastSender
		threads = append(threads, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat threads: %w", err)
	}
	return threads, nil
}

// Subscribe streams the full ordered message list of threadID to viewerID.
// Live updates are for friends only.
func (s *ChatService) Subscribe(ctx context.Context, threadID string, viewerID uuid.UUID) (*Subscription[[]models.ChatMessage], error) {
	a, b, err := checkParticipant(threadID, viewerID)
	if err != nil {
		return nil, err
	}
	friends, err := areFriends(ctx, s.db, a, b)
	if err != nil {
		return nil, err
	}
	if !friends {
		return nil, ErrNotFriends
	}
	return NewSubscription(ctx, s.notifier, ChatTopic(threadID), func(ctx context.Context) ([]models.ChatMessage, error) {
		return s.listMessages(ctx, threadID)
	})
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
