package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/globenis/internal/models"
)

type AuthServiceInterface interface {
	Register(ctx context.Context, params RegisterParams) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, string, error)
	CreateSession(ctx context.Context, userID uuid.UUID) (string, error)
	ValidateSession(ctx context.Context, token string) (uuid.UUID, error)
	DeleteSession(ctx context.Context, token string) error
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type UserServiceInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, params models.UpdateProfileParams) (*models.User, error)
	GetPublicProfile(ctx context.Context, viewerID, id uuid.UUID) (*models.PublicProfile, error)
	SubscribeProfile(ctx context.Context, userID uuid.UUID) (*Subscription[*models.User], error)
}

type FriendServiceInterface interface {
	SendRequest(ctx context.Context, fromID uuid.UUID, term string) (*models.FriendRequest, error)
	AcceptRequest(ctx context.Context, userID, requestID uuid.UUID) (*models.FriendRequest, error)
	RejectRequest(ctx context.Context, userID, requestID uuid.UUID) error
	CancelRequest(ctx context.Context, userID, requestID uuid.UUID) error
	ListPendingIncoming(ctx context.Context, userID uuid.UUID) ([]models.FriendRequestView, error)
	ListPendingOutgoing(ctx context.Context, userID uuid.UUID) ([]models.FriendRequestView, error)
	SubscribePendingIncoming(ctx context.Context, userID uuid.UUID) (*Subscription[[]models.FriendRequestView], error)
	RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error
	ListFriends(ctx context.Context, userID uuid.UUID) ([]models.User, error)
	SubscribeFriends(ctx context.Context, userID uuid.UUID) (*Subscription[[]models.User], error)
}

type MatchServiceInterface interface {
	RecordMatch(ctx context.Context, userID uuid.UUID, outcome models.MatchOutcome) (*models.MatchResult, error)
}

type ChatServiceInterface interface {
	ThreadID(a, b uuid.UUID) string
	Send(ctx context.Context, threadID string, senderID uuid.UUID, text string) (*models.ChatMessage, error)
	ListMessages(ctx context.Context, threadID string, viewerID uuid.UUID) ([]models.ChatMessage, error)
	ListThreads(ctx context.Context, userID uuid.UUID) ([]models.ChatThreadView, error)
	Subscribe(ctx context.Context, threadID string, viewerID uuid.UUID) (*Subscription[[]models.ChatMessage], error)
}

type PhotoServiceInterface interface {
	UploadProfilePhoto(ctx context.Context, userID uuid.UUID, data []byte) (string, error)
}

type ProviderAuthServiceInterface interface {
	SignIn(ctx context.Context, claims IdentityClaims) (*models.User, bool, error)
}

type EmailServiceInterface interface {
	SendPasswordReset(ctx context.Context, to, resetURL string) error
}

type AssistantServiceInterface interface {
	Ask(ctx context.Context, userID uuid.UUID, question string) (string, error)
}
