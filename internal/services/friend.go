package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/globenis/internal/metrics"
	"github.com/HammerMeetNail/globenis/internal/models"
)

var (
	ErrEmptySearchTerm       = errors.New("username or email is required")
	ErrCannotFriendSelf      = errors.New("cannot send friend request to yourself")
	ErrAlreadyFriends        = errors.New("already friends")
	ErrFriendRequestExists   = errors.New("a pending friend request already exists")
	ErrFriendRequestNotFound = errors.New("friend request not found")
	ErrFriendshipNotFound    = errors.New("friendship not found")
)

const prefixedUserColumns = `u.id, u.display_name, u.username, u.email, COALESCE(u.password_hash, ''), u.photo_url, u.is_private,
	u.level, u.xp, u.xp_to_next_level, u.matches_played, u.wins, u.loses, u.created_at, u.updated_at`

// FriendService owns the friend request ledger and the symmetric friendship
// relation. Both sides of a friendship are always written in one transaction
// with both user rows locked.
type FriendService struct {
	db       DB
	notifier Notifier
}

func NewFriendService(db DB, notifier Notifier) *FriendService {
	return &FriendService{db: db, notifier: notifier}
}

// SendRequest resolves term to a user by exact username, then exact email,
// and files a pending request from fromID to that user.
func (s *FriendService) SendRequest(ctx context.Context, fromID uuid.UUID, term string) (*models.FriendRequest, error) {
	term = models.NormalizeUsername(term)
	if term == "" {
		return nil, ErrEmptySearchTerm
	}

	var req *models.FriendRequest
	err := inTx(ctx, s.db, func(tx Tx) error {
		toID, err := resolveUserID(ctx, tx, term)
		if err != nil {
			return err
		}
		if toID == fromID {
			return ErrCannotFriendSelf
		}

		if err := lockUserPairForUpdate(ctx, tx, fromID, toID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock users: %w", err)
		}

		if friends, err := existsQuery(ctx, tx,
			`SELECT EXISTS(SELECT 1 FROM user_friends WHERE user_id = $1 AND friend_id = $2)`,
			fromID, toID,
		); err != nil {
			return fmt.Errorf("checking friendship: %w", err)
		} else if friends {
			return ErrAlreadyFriends
		}

		if pending, err := existsQuery(ctx, tx,
			`SELECT EXISTS(
				SELECT 1 FROM friend_requests
				WHERE status = 'pending'
				  AND ((from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1))
			)`,
			fromID, toID,
		); err != nil {
			return fmt.Errorf("checking pending requests: %w", err)
		} else if pending {
			return ErrFriendRequestExists
		}

		req = &models.FriendRequest{}
		err = tx.QueryRow(ctx,
			`INSERT INTO friend_requests (from_user_id, to_user_id, status)
			 VALUES ($1, $2, 'pending')
			 RETURNING id, from_user_id, to_user_id, status, created_at`,
			fromID, toID,
		).Scan(&req.ID, &req.FromUserID, &req.ToUserID, &req.Status, &req.CreatedAt)
		if _, dup := uniqueViolation(err); dup {
			return ErrFriendRequestExists
		}
		if err != nil {
			return fmt.Errorf("inserting friend request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.FriendRequestTransitions.WithLabelValues("sent").Inc()
	publishAll(ctx, s.notifier, FriendRequestsTopic(req.ToUserID))
	return req, nil
}

// AcceptRequest makes the two users friends and removes the request. Only
// the recipient may accept.
func (s *FriendService) AcceptRequest(ctx context.Context, userID, requestID uuid.UUID) (*models.FriendRequest, error) {
	req := &models.FriendRequest{}
	err := inTx(ctx, s.db, func(tx Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT id, from_user_id, to_user_id, status, created_at
			 FROM friend_requests
			 WHERE id = $1 AND to_user_id = $2 AND status = 'pending'
			 FOR UPDATE`,
			requestID, userID,
		).Scan(&req.ID, &req.FromUserID, &req.ToUserID, &req.Status, &req.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrFriendRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("loading friend request: %w", err)
		}

		if err := lockUserPairForUpdate(ctx, tx, req.FromUserID, req.ToUserID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock users: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO user_friends (user_id, friend_id)
			 VALUES ($1, $2), ($2, $1)
			 ON CONFLICT DO NOTHING`,
			req.FromUserID, req.ToUserID,
		); err != nil {
			return fmt.Errorf("inserting friendship: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM friend_requests WHERE id = $1`, req.ID); err != nil {
			return fmt.Errorf("deleting friend request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req.Status = models.FriendRequestAccepted
	metrics.FriendRequestTransitions.WithLabelValues("accepted").Inc()
	publishAll(ctx, s.notifier,
		FriendRequestsTopic(req.ToUserID),
		FriendsTopic(req.FromUserID), FriendsTopic(req.ToUserID),
		ProfileTopic(req.FromUserID), ProfileTopic(req.ToUserID),
	)
	return req, nil
}

// RejectRequest removes a pending request addressed to userID.
func (s *FriendService) RejectRequest(ctx context.Context, userID, requestID uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`DELETE FROM friend_requests WHERE id = $1 AND to_user_id = $2 AND status = 'pending'`,
		requestID, userID,
	)
	if err != nil {
		return fmt.Errorf("rejecting friend request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrFriendRequestNotFound
	}

	metrics.FriendRequestTransitions.WithLabelValues("rejected").Inc()
	publishAll(ctx, s.notifier, FriendRequestsTopic(userID))
	return nil
}

// CancelRequest withdraws a pending request sent by userID.
func (s *FriendService) CancelRequest(ctx context.Context, userID, requestID uuid.UUID) error {
	var toID uuid.UUID
	err := s.db.QueryRow(ctx,
		`DELETE FROM friend_requests
		 WHERE id = $1 AND from_user_id = $2 AND status = 'pending'
		 RETURNING to_user_id`,
		requestID, userID,
	).Scan(&toID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrFriendRequestNotFound
	}
	if err != nil {
		return fmt.Errorf("cancelling friend request: %w", err)
	}

	metrics.FriendRequestTransitions.WithLabelValues("cancelled").Inc()
	publishAll(ctx, s.notifier, FriendRequestsTopic(toID))
	return nil
}

// ListPendingIncoming returns requests addressed to userID with the sender's
// profile, oldest first.
func (s *FriendService) ListPendingIncoming(ctx context.Context, userID uuid.UUID) ([]models.FriendRequestView, error) {
	return s.listPending(ctx,
		`SELECT r.id, r.from_user_id, r.to_user_id, r.status, r.created_at, u.username, u.display_name, u.photo_url
		 FROM friend_requests r
		 JOIN users u ON u.id = r.from_user_id
		 WHERE r.to_user_id = $1 AND r.status = 'pending'
		 ORDER BY r.created_at, r.id`,
		userID,
	)
}

// ListPendingOutgoing returns requests sent by userID with the recipient's profile.
func (s *FriendService) ListPendingOutgoing(ctx context.Context, userID uuid.UUID) ([]models.FriendRequestView, error) {
	return s.listPending(ctx,
		`SELECT r.id, r.from_user_id, r.to_user_id, r.status, r.created_at, u.username, u.display_name, u.photo_url
		 FROM friend_requests r
		 JOIN users u ON u.id = r.to_user_id
		 WHERE r.from_user_id = $1 AND r.status = 'pending'
		 ORDER BY r.created_at, r.id`,
		userID,
	)
}

func (s *FriendService) listPending(ctx context.Context, sql string, userID uuid.UUID) ([]models.FriendRequestView, error) {
	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("listing friend requests: %w", err)
	}
	defer rows.Close()

	requests := []models.FriendRequestView{}
	for rows.Next() {
		var v models.FriendRequestView
		if err := rows.Scan(&v.ID, &v.FromUserID, &v.ToUserID, &v.Status, &v.CreatedAt, &v.Username, &v.DisplayName, &v.PhotoURL); err != nil {
			return nil, fmt.Errorf("scanning friend request: %w", err)
		}
		requests = append(requests, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating friend requests: %w", err)
	}
	return requests, nil
}

// SubscribePendingIncoming streams the incoming request list of userID.
func (s *FriendService) SubscribePendingIncoming(ctx context.Context, userID uuid.UUID) (*Subscription[[]models.FriendRequestView], error) {
	return NewSubscription(ctx, s.notifier, FriendRequestsTopic(userID), func(ctx context.Context) ([]models.FriendRequestView, error) {
		return s.ListPendingIncoming(ctx, userID)
	})
}

// RemoveFriend deletes both directions of the friendship.
func (s *FriendService) RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error {
	err := inTx(ctx, s.db, func(tx Tx) error {
		if err := lockUserPairForUpdate(ctx, tx, userID, friendID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrFriendshipNotFound
			}
			return fmt.Errorf("lock users: %w", err)
		}

		result, err := tx.Exec(ctx,
			`DELETE FROM user_friends
			 WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)`,
			userID, friendID,
		)
		if err != nil {
			return fmt.Errorf("removing friendship: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrFriendshipNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	publishAll(ctx, s.notifier,
		FriendsTopic(userID), FriendsTopic(friendID),
		ProfileTopic(userID), ProfileTopic(friendID),
	)
	return nil
}

// ListFriends returns the full profiles of userID's friends ordered by username.
func (s *FriendService) ListFriends(ctx context.Context, userID uuid.UUID) ([]models.User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+prefixedUserColumns+`
		 FROM user_friends f
		 JOIN users u ON u.id = f.friend_id
		 WHERE f.user_id = $1
		 ORDER BY u.username`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing friends: %w", err)
	}
	defer rows.Close()

	friends := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning friend: %w", err)
		}
		friends = append(friends, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating friends: %w", err)
	}
	return friends, nil
}

// SubscribeFriends streams the friend list of userID.
func (s *FriendService) SubscribeFriends(ctx context.Context, userID uuid.UUID) (*Subscription[[]models.User], error) {
	return NewSubscription(ctx, s.notifier, FriendsTopic(userID), func(ctx context.Context) ([]models.User, error) {
		return s.ListFriends(ctx, userID)
	})
}

func (s *FriendService) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	return areFriends(ctx, s.db, a, b)
}

// areFriends reads one direction; accept and remove keep both in step.
func areFriends(ctx context.Context, q DBConn, a, b uuid.UUID) (bool, error) {
	ok, err := existsQuery(ctx, q,
		`SELECT EXISTS(SELECT 1 FROM user_friends WHERE user_id = $1 AND friend_id = $2)`,
		a, b,
	)
	if err != nil {
		return false, fmt.Errorf("checking friendship: %w", err)
	}
	return ok, nil
}

// resolveUserID looks term up as a username and then as an email address.
func resolveUserID(ctx context.Context, q DBConn, term string) (uuid.UUID, error) {
	for _, sql := range []string{
		`SELECT id FROM users WHERE username = $1`,
		`SELECT id FROM users WHERE email = $1`,
	} {
		var id uuid.UUID
		err := q.QueryRow(ctx, sql, term).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("resolving user: %w", err)
		}
	}
	return uuid.Nil, ErrUserNotFound
}
