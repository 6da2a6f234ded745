package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/globenis/internal/models"
)

var (
	ErrInvalidProviderClaims   = errors.New("invalid provider claims")
	ErrProviderEmailUnverified = errors.New("provider email not verified")
	ErrNoAvailableUsername     = errors.New("could not derive an available username")
)

const (
	fallbackUsername       = "player"
	usernameSuffixDigits   = 10000
	usernameDeriveAttempts = 8
)

// ProviderAuthService maps external sign-in identities onto profiles.
type ProviderAuthService struct {
	db    DB
	users *UserService
}

func NewProviderAuthService(db DB, users *UserService) *ProviderAuthService {
	return &ProviderAuthService{db: db, users: users}
}

// SignIn returns the profile linked to claims. An unlinked identity is linked
// to the profile with the same verified email, or a new profile is created
// with a username derived from the email. created reports the latter.
func (s *ProviderAuthService) SignIn(ctx context.Context, claims IdentityClaims) (user *models.User, created bool, err error) {
	provider := strings.TrimSpace(string(claims.Provider))
	subject := strings.TrimSpace(claims.Subject)
	if provider == "" || subject == "" {
		return nil, false, ErrInvalidProviderClaims
	}

	if userID, err := s.linkedUserID(ctx, s.db, claims.Provider, subject); err == nil {
		user, err := s.users.GetByID(ctx, userID)
		return user, false, err
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	email := models.NormalizeEmail(claims.Email)
	if email == "" || !claims.EmailVerified {
		return nil, false, ErrProviderEmailUnverified
	}

	var userID uuid.UUID
	err = inTx(ctx, s.db, func(tx Tx) error {
		existing, err := scanUser(tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email))
		switch {
		case err == nil:
			userID = existing.ID
		case errors.Is(err, pgx.ErrNoRows):
			newUser, err := s.createFromClaims(ctx, tx, email, claims)
			if err != nil {
				return err
			}
			userID = newUser.ID
			created = true
		default:
			return fmt.Errorf("getting user by email: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO user_identities (provider, subject, user_id, email) VALUES ($1, $2, $3, $4)`,
			claims.Provider, subject, userID, email,
		); err != nil {
			return fmt.Errorf("linking user identity: %w", err)
		}
		return nil
	})
	if _, ok := uniqueViolation(err); ok {
		// a concurrent callback linked the same identity first
		linkedID, lookupErr := s.linkedUserID(ctx, s.db, claims.Provider, subject)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		user, err := s.users.GetByID(ctx, linkedID)
		return user, false, err
	}
	if err != nil {
		return nil, false, err
	}

	user, err = s.users.GetByID(ctx, userID)
	return user, created, err
}

func (s *ProviderAuthService) createFromClaims(ctx context.Context, tx Tx, email string, claims IdentityClaims) (*models.User, error) {
	username, err := deriveUsername(ctx, tx, email)
	if err != nil {
		return nil, err
	}
	displayName := strings.TrimSpace(claims.Name)
	if utf8.RuneCountInString(displayName) > models.MaxDisplayNameLength {
		displayName = string([]rune(displayName)[:models.MaxDisplayNameLength])
	}
	if displayName == "" {
		displayName = username
	}

	user, err := s.users.create(ctx, tx, models.CreateUserParams{
		Username:    username,
		Email:       email,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, err
	}

	if picture := strings.TrimSpace(claims.Picture); picture != "" {
		if _, err := tx.Exec(ctx, `UPDATE users SET photo_url = $2 WHERE id = $1`, user.ID, picture); err != nil {
			return nil, fmt.Errorf("setting provider photo: %w", err)
		}
		user.PhotoURL = picture
	}
	return user, nil
}

func (s *ProviderAuthService) linkedUserID(ctx context.Context, q DBConn, provider Provider, subject string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := q.QueryRow(ctx,
		`SELECT user_id FROM user_identities WHERE provider = $1 AND subject = $2`,
		provider, subject,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrUserNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("getting user by provider subject: %w", err)
	}
	return userID, nil
}

// deriveUsername builds a valid username from the local part of email and
// appends a random numeric suffix until it finds one that is free.
func deriveUsername(ctx context.Context, q DBConn, email string) (string, error) {
	base := usernameBase(email)
	candidate := base
	for attempt := 0; attempt < usernameDeriveAttempts; attempt++ {
		taken, err := existsQuery(ctx, q, "SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)", candidate)
		if err != nil {
			return "", fmt.Errorf("checking username existence: %w", err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, rand.IntN(usernameSuffixDigits))
	}
	return "", ErrNoAvailableUsername
}

func usernameBase(email string) string {
	local := email
	if at := strings.Index(local, "@"); at >= 0 {
		local = local[:at]
	}

	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	base := b.String()
	if len(base) < models.MinUsernameLength {
		base = fallbackUsername
	}
	// room for the numeric suffix
	if limit := models.MaxUsernameLength - 4; len(base) > limit {
		base = base[:limit]
	}
	return base
}
