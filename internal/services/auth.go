package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/HammerMeetNail/globenis/internal/logging"
	"github.com/HammerMeetNail/globenis/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

const (
	sessionKeyPrefix    = "session:"
	userSessionsPrefix  = "user_sessions:"
	passwordResetTTL    = time.Hour
	sessionTokenBytes   = 32
	resetTokenBytes     = 32
	defaultSessionTTL   = 30 * 24 * time.Hour
	resetPasswordPath   = "/reset-password?token="
	minResetTokenLength = 16
)

var bcryptCost = bcrypt.DefaultCost

type RegisterParams struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

// AuthService handles credentials, Redis-backed sessions and password resets.
type AuthService struct {
	db         DB
	redis      RedisClient
	users      *UserService
	email      EmailServiceInterface
	baseURL    string
	sessionTTL time.Duration
}

func NewAuthService(db DB, redis RedisClient, users *UserService, sessionTTL time.Duration) *AuthService {
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	return &AuthService{db: db, redis: redis, users: users, sessionTTL: sessionTTL}
}

// SetEmailService enables password reset emails with links under baseURL.
func (s *AuthService) SetEmailService(email EmailServiceInterface, baseURL string) {
	s.email = email
	s.baseURL = baseURL
}

// Register validates the input and creates a profile with registration defaults.
func (s *AuthService) Register(ctx context.Context, params RegisterParams) (*models.User, error) {
	username := models.NormalizeUsername(params.Username)
	if err := models.ValidateUsername(username); err != nil {
		return nil, err
	}
	email := models.NormalizeEmail(params.Email)
	if err := models.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := models.ValidatePassword(params.Password); err != nil {
		return nil, err
	}
	displayName, err := models.NormalizeDisplayName(params.DisplayName)
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = username
	}

	hash, err := s.HashPassword(params.Password)
	if err != nil {
		return nil, err
	}
	return s.users.Create(ctx, models.CreateUserParams{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
	})
}

// Login checks credentials and opens a session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if !user.HasPassword() || !s.VerifyPassword(user.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

func (s *AuthService) VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (s *AuthService) CreateSession(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := randomToken(sessionTokenBytes)
	if err != nil {
		return "", err
	}
	if err := s.redis.Set(ctx, sessionKeyPrefix+token, userID.String(), s.sessionTTL); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}
	// An unindexed session could not be revoked on a password change.
	indexKey := userSessionsKey(userID)
	if err := s.redis.SAdd(ctx, indexKey, token); err != nil {
		_ = s.redis.Del(ctx, sessionKeyPrefix+token)
		return "", fmt.Errorf("indexing session: %w", err)
	}
	if err := s.redis.Expire(ctx, indexKey, s.sessionTTL); err != nil {
		logging.Warn("Session index refresh failed", map[string]interface{}{"error": err.Error()})
	}
	return token, nil
}

// ValidateSession resolves a session token and extends its lifetime.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrSessionNotFound
	}
	key := sessionKeyPrefix + token
	value, err := s.redis.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrSessionNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("reading session: %w", err)
	}
	userID, err := uuid.Parse(value)
	if err != nil {
		_ = s.redis.Del(ctx, key)
		return uuid.Nil, ErrSessionNotFound
	}
	for _, k := range []string{key, userSessionsKey(userID)} {
		if err := s.redis.Expire(ctx, k, s.sessionTTL); err != nil {
			logging.Warn("Session refresh failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return userID, nil
}

func (s *AuthService) DeleteSession(ctx context.Context, token string) error {
	key := sessionKeyPrefix + token
	value, err := s.redis.Get(ctx, key)
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reading session: %w", err)
	}
	if err := s.redis.Del(ctx, key); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if userID, err := uuid.Parse(value); err == nil {
		if err := s.redis.SRem(ctx, userSessionsKey(userID), token); err != nil {
			logging.Warn("Session index cleanup failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

// RevokeSessions ends every session of userID.
func (s *AuthService) RevokeSessions(ctx context.Context, userID uuid.UUID) error {
	indexKey := userSessionsKey(userID)
	tokens, err := s.redis.SMembers(ctx, indexKey)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, sessionKeyPrefix+token)
	}
	keys = append(keys, indexKey)
	if err := s.redis.Del(ctx, keys...); err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}
	return nil
}

// ChangePassword replaces the password after checking the current one and
// signs the user out everywhere. Callers issue a fresh session afterwards.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasPassword() || !s.VerifyPassword(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if err := models.ValidatePassword(next); err != nil {
		return err
	}
	hash, err := s.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.RevokeSessions(ctx, userID)
}

// RequestPasswordReset emails a single-use reset link when the account
// exists. Unknown addresses succeed silently.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		logging.Debug("Password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	token, err := randomToken(resetTokenBytes)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO password_reset_tokens (token_hash, user_id, expires_at)
		 VALUES ($1, $2, $3)`,
		hashToken(token), user.ID, time.Now().Add(passwordResetTTL),
	); err != nil {
		return fmt.Errorf("storing reset token: %w", err)
	}

	if s.email == nil {
		logging.Warn("Password reset requested but email is not configured", map[string]interface{}{"user_id": user.ID.String()})
		return nil
	}
	return s.email.SendPasswordReset(ctx, user.Email, s.baseURL+resetPasswordPath+token)
}

// ResetPassword consumes a reset token, sets a new password and ends the
// account's sessions.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(token) < minResetTokenLength {
		return ErrInvalidResetToken
	}
	if err := models.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return err
	}

	var userID uuid.UUID
	err = inTx(ctx, s.db, func(tx Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT user_id FROM password_reset_tokens
			 WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
			 FOR UPDATE`,
			hashToken(token),
		).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvalidResetToken
		}
		if err != nil {
			return fmt.Errorf("loading reset token: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`,
			hash, userID,
		); err != nil {
			return fmt.Errorf("updating password: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE password_reset_tokens SET used_at = NOW() WHERE token_hash = $1`,
			hashToken(token),
		); err != nil {
			return fmt.Errorf("consuming reset token: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.RevokeSessions(ctx, userID)
}

// PurgeResetTokens deletes expired and used reset tokens.
func (s *AuthService) PurgeResetTokens(ctx context.Context) (int64, error) {
	result, err := s.db.Exec(ctx,
		`DELETE FROM password_reset_tokens WHERE expires_at < NOW() OR used_at IS NOT NULL`,
	)
	if err != nil {
		return 0, fmt.Errorf("purging reset tokens: %w", err)
	}
	return result.RowsAffected(), nil
}

func userSessionsKey(userID uuid.UUID) string {
	return userSessionsPrefix + userID.String()
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
