package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/globenis/internal/models"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrEmailAlreadyExists    = errors.New("email already exists")
	ErrUsernameAlreadyExists = errors.New("username already taken")
)

const userColumns = `id, display_name, username, email, COALESCE(password_hash, ''), photo_url, is_private,
	level, xp, xp_to_next_level, matches_played, wins, loses, created_at, updated_at`

func scanUser(row Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(
		&u.ID, &u.DisplayName, &u.Username, &u.Email, &u.PasswordHash, &u.PhotoURL, &u.IsPrivate,
		&u.Level, &u.XP, &u.XPToNextLevel, &u.MatchesPlayed, &u.Wins, &u.Loses, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

type UserService struct {
	db       DBConn
	notifier Notifier
}

func NewUserService(db DBConn) *UserService {
	return &UserService{db: db}
}

func (s *UserService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Create inserts a profile with registration defaults. Username and email
// must already be normalized and validated.
func (s *UserService) Create(ctx context.Context, params models.CreateUserParams) (*models.User, error) {
	return s.create(ctx, s.db, params)
}

func (s *UserService) create(ctx context.Context, q DBConn, params models.CreateUserParams) (*models.User, error) {
	if exists, err := existsQuery(ctx, q, "SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", params.Email); err != nil {
		return nil, fmt.Errorf("checking email existence: %w", err)
	} else if exists {
		return nil, ErrEmailAlreadyExists
	}
	if exists, err := existsQuery(ctx, q, "SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)", params.Username); err != nil {
		return nil, fmt.Errorf("checking username existence: %w", err)
	} else if exists {
		return nil, ErrUsernameAlreadyExists
	}

	var passwordHash any
	if params.PasswordHash != "" {
		passwordHash = params.PasswordHash
	}
	defaults := models.NewMatchCounters()
	user, err := scanUser(q.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash, display_name, level, xp, xp_to_next_level)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+userColumns,
		params.Username, params.Email, passwordHash, params.DisplayName,
		defaults.Level, defaults.XP, defaults.XPToNextLevel,
	))
	if err != nil {
		if conflict := userConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	user.Friends = []uuid.UUID{}
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getOne(ctx, "id = $1", id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getOne(ctx, "email = $1", models.NormalizeEmail(email))
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getOne(ctx, "username = $1", models.NormalizeUsername(username))
}

// FindByUsernameOrEmail resolves a search term by exact username first and
// exact email second. Both columns are stored lower-cased and indexed.
func (s *UserService) FindByUsernameOrEmail(ctx context.Context, term string) (*models.User, error) {
	term = models.NormalizeUsername(term)
	if term == "" {
		return nil, ErrUserNotFound
	}
	user, err := s.GetByUsername(ctx, term)
	if err == nil || !errors.Is(err, ErrUserNotFound) {
		return user, err
	}
	return s.GetByEmail(ctx, term)
}

func (s *UserService) getOne(ctx context.Context, where string, arg any) (*models.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	if user.Friends, err = friendIDs(ctx, s.db, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of params.
func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, params models.UpdateProfileParams) (*models.User, error) {
	var displayName, username, photoURL *string
	if params.DisplayName != nil {
		name, err := models.NormalizeDisplayName(*params.DisplayName)
		if err != nil {
			return nil, err
		}
		displayName = &name
	}
	if params.Username != nil {
		name := models.NormalizeUsername(*params.Username)
		if err := models.ValidateUsername(name); err != nil {
			return nil, err
		}
		taken, err := existsQuery(ctx, s.db, "SELECT EXISTS(SELECT 1 FROM users WHERE username = $1 AND id <> $2)", name, userID)
		if err != nil {
			return nil, fmt.Errorf("checking username existence: %w", err)
		}
		if taken {
			return nil, ErrUsernameAlreadyExists
		}
		username = &name
	}
	if params.PhotoURL != nil {
		photoURL = params.PhotoURL
	}

	user, err := scanUser(s.db.QueryRow(ctx,
		`UPDATE users SET
		     display_name = COALESCE($2, display_name),
		     username     = COALESCE($3, username),
		     is_private   = COALESCE($4, is_private),
		     photo_url    = COALESCE($5, photo_url),
		     updated_at   = NOW()
		 WHERE id = $1
		 RETURNING `+userColumns,
		userID, displayName, username, params.IsPrivate, photoURL,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		if conflict := userConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	if user.Friends, err = friendIDs(ctx, s.db, user.ID); err != nil {
		return nil, err
	}

	publishAll(ctx, s.notifier, ProfileTopic(userID))
	return user, nil
}

// SubscribeProfile streams userID's own profile, reloaded after every
// change to its counters, settings or friend list.
func (s *UserService) SubscribeProfile(ctx context.Context, userID uuid.UUID) (*Subscription[*models.User], error) {
	return NewSubscription(ctx, s.notifier, ProfileTopic(userID), func(ctx context.Context) (*models.User, error) {
		return s.GetByID(ctx, userID)
	})
}

func (s *UserService) UpdatePassword(ctx context.Context, userID uuid.UUID, newPasswordHash string) error {
	result, err := s.db.Exec(ctx,
		`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`,
		newPasswordHash, userID,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetPublicProfile returns the profile of id as seen by viewerID.
func (s *UserService) GetPublicProfile(ctx context.Context, viewerID, id uuid.UUID) (*models.PublicProfile, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	isFriend := false
	for _, friendID := range user.Friends {
		if friendID == viewerID {
			isFriend = true
			break
		}
	}
	profile := user.PublicView(viewerID, isFriend)
	return &profile, nil
}

func friendIDs(ctx context.Context, q DBConn, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx,
		`SELECT friend_id FROM user_friends WHERE user_id = $1 ORDER BY created_at, friend_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing friend ids: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning friend id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating friend ids: %w", err)
	}
	return ids, nil
}

func existsQuery(ctx context.Context, q DBConn, sql string, args ...any) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, sql, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// userConflict maps a unique index violation on users to its sentinel.
func userConflict(err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return nil
	}
	switch constraint {
	case "idx_users_email":
		return ErrEmailAlreadyExists
	case "idx_users_username":
		return ErrUsernameAlreadyExists
	}
	return ErrUsernameAlreadyExists
}
