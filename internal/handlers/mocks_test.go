package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/globenis/internal/models"
	"github.com/HammerMeetNail/globenis/internal/services"
)

type mockAuthService struct {
	RegisterFunc       func(ctx context.Context, params services.RegisterParams) (*models.User, error)
	LoginFunc          func(ctx context.Context, email, password string) (*models.User, string, error)
	CreateSessionFunc  func(ctx context.Context, userID uuid.UUID) (string, error)
	DeleteSessionFunc  func(ctx context.Context, token string) error
	ChangePasswordFunc func(ctx context.Context, userID uuid.UUID, current, next string) error
	RequestResetFunc   func(ctx context.Context, email string) error
	ResetPasswordFunc  func(ctx context.Context, token, newPassword string) error
	deletedSessions    []string
}

func (m *mockAuthService) Register(ctx context.Context, params services.RegisterParams) (*models.User, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, params)
	}
	return &models.User{ID: uuid.New(), Username: params.Username}, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}
	return nil, "", services.ErrInvalidCredentials
}

func (m *mockAuthService) CreateSession(ctx context.Context, userID uuid.UUID) (string, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, userID)
	}
	return "session-token", nil
}

func (m *mockAuthService) ValidateSession(ctx context.Context, token string) (uuid.UUID, error) {
	return uuid.Nil, services.ErrSessionNotFound
}

func (m *mockAuthService) DeleteSession(ctx context.Context, token string) error {
	m.deletedSessions = append(m.deletedSessions, token)
	if m.DeleteSessionFunc != nil {
		return m.DeleteSessionFunc(ctx, token)
	}
	return nil
}

func (m *mockAuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, userID, current, next)
	}
	return nil
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.RequestResetFunc != nil {
		return m.RequestResetFunc(ctx, email)
	}
	return nil
}

func (m *mockAuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, token, newPassword)
	}
	return nil
}

type mockUserService struct {
	UpdateProfileFunc    func(ctx context.Context, userID uuid.UUID, params models.UpdateProfileParams) (*models.User, error)
	GetPublicProfileFunc func(ctx context.Context, viewerID, id uuid.UUID) (*models.PublicProfile, error)
	SubscribeFunc        func(ctx context.Context, userID uuid.UUID) (*services.Subscription[*models.User], error)
}

func (m *mockUserService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return nil, services.ErrUserNotFound
}

func (m *mockUserService) UpdateProfile(ctx context.Context, userID uuid.UUID, params models.UpdateProfileParams) (*models.User, error) {
	if m.UpdateProfileFunc != nil {
		return m.UpdateProfileFunc(ctx, userID, params)
	}
	return &models.User{ID: userID}, nil
}

func (m *mockUserService) GetPublicProfile(ctx context.Context, viewerID, id uuid.UUID) (*models.PublicProfile, error) {
	if m.GetPublicProfileFunc != nil {
		return m.GetPublicProfileFunc(ctx, viewerID, id)
	}
	return nil, services.ErrUserNotFound
}

func (m *mockUserService) SubscribeProfile(ctx context.Context, userID uuid.UUID) (*services.Subscription[*models.User], error) {
	return m.SubscribeFunc(ctx, userID)
}

type mockFriendService struct {
	SendRequestFunc      func(ctx context.Context, fromID uuid.UUID, term string) (*models.FriendRequest, error)
	AcceptRequestFunc    func(ctx context.Context, userID, requestID uuid.UUID) (*models.FriendRequest, error)
	RejectRequestFunc    func(ctx context.Context, userID, requestID uuid.UUID) error
	CancelRequestFunc    func(ctx context.Context, userID, requestID uuid.UUID) error
	ListIncomingFunc     func(ctx context.Context, userID uuid.UUID) ([]models.FriendRequestView, error)
	ListOutgoingFunc     func(ctx context.Context, userID uuid.UUID) ([]models.FriendRequestView, error)
	SubscribeIncomingFn  func(ctx context.Context, userID uuid.UUID) (*services.Subscription[[]models.FriendRequestView], error)
	RemoveFriendFunc     func(ctx context.Context, userID, friendID uuid.UUID) error
	ListFriendsFunc      func(ctx context.Context, userID uuid.UUID) ([]models.User, error)
	SubscribeFriendsFunc func(ctx context.Context, userID uuid.UUID) (*services.Subscription[[]models.User], error)
}

func (m *mockFriendService) SendRequest(ctx context.Context, fromID uuid.UUID, term string) (*models.FriendRequest, error) {
	return m.SendRequestFunc(ctx, fromID, term)
}

func (m *mockFriendService) AcceptRequest(ctx context.Context, userID, requestID uuid.UUID) (*models.FriendRequest, error) {
	return m.AcceptRequestFunc(ctx, userID, requestID)
}

func (m *mockFriendService) RejectRequest(ctx context.Context, userID, requestID uuid.UUID) error {
	return m.RejectRequestFunc(ctx, userID, requestID)
}

func (m *mockFriendService) CancelRequest(ctx context.Context, userID, requestID uuid.UUID) error {
	return m.CancelRequestFunc(ctx, userID, requestID)
}

func (m *mockFriendService) ListPendingIncoming(ctx context.Context, userID uuid.UUID) ([]models.FriendRequestView, error) {
	return m.ListIncomingFunc(ctx, userID)
}

func (m *mockFriendService) ListPendingOutgoing(ctx context.Context, userID uuid.UUID) ([]models.FriendRequestView, error) {
	return m.ListOutgoingFunc(ctx, userID)
}

func (m *mockFriendService) SubscribePendingIncoming(ctx context.Context, userID uuid.UUID) (*services.Subscription[[]models.FriendRequestView], error) {
	return m.SubscribeIncomingFn(ctx, userID)
}

func (m *mockFriendService) RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error {
	return m.RemoveFriendFunc(ctx, userID, friendID)
}

func (m *mockFriendService) ListFriends(ctx context.Context, userID uuid.UUID) ([]models.User, error) {
	return m.ListFriendsFunc(ctx, userID)
}

func (m *mockFriendService) SubscribeFriends(ctx context.Context, userID uuid.UUID) (*services.Subscription[[]models.User], error) {
	return m.SubscribeFriendsFunc(ctx, userID)
}

type mockChatService struct {
	SendFunc         func(ctx context.Context, threadID string, senderID uuid.UUID, text string) (*models.ChatMessage, error)
	ListMessagesFunc func(ctx context.Context, threadID string, viewerID uuid.UUID) ([]models.ChatMessage, error)
	ListThreadsFunc  func(ctx context.Context, userID uuid.UUID) ([]models.ChatThreadView, error)
	SubscribeFunc    func(ctx context.Context, threadID string, viewerID uuid.UUID) (*services.Subscription[[]models.ChatMessage], error)
}

func (m *mockChatService) ThreadID(a, b uuid.UUID) string {
	return models.ThreadID(a, b)
}

func (m *mockChatService) Send(ctx context.Context, threadID string, senderID uuid.UUID, text string) (*models.ChatMessage, error) {
	return m.SendFunc(ctx, threadID, senderID, text)
}

func (m *mockChatService) ListMessages(ctx context.Context, threadID string, viewerID uuid.UUID) ([]models.ChatMessage, error) {
	return m.ListMessagesFunc(ctx, threadID, viewerID)
}

func (m *mockChatService) ListThreads(ctx context.Context, userID uuid.UUID) ([]models.ChatThreadView, error) {
	return m.ListThreadsFunc(ctx, userID)
}

func (m *mockChatService) Subscribe(ctx context.Context, threadID string, viewerID uuid.UUID) (*services.Subscription[[]models.ChatMessage], error) {
	return m.SubscribeFunc(ctx, threadID, viewerID)
}

type mockMatchService struct {
	RecordMatchFunc func(ctx context.Context, userID uuid.UUID, outcome models.MatchOutcome) (*models.MatchResult, error)
}

func (m *mockMatchService) RecordMatch(ctx context.Context, userID uuid.UUID, outcome models.MatchOutcome) (*models.MatchResult, error) {
	return m.RecordMatchFunc(ctx, userID, outcome)
}

type mockPhotoService struct {
	UploadFunc func(ctx context.Context, userID uuid.UUID, data []byte) (string, error)
}

func (m *mockPhotoService) UploadProfilePhoto(ctx context.Context, userID uuid.UUID, data []byte) (string, error) {
	return m.UploadFunc(ctx, userID, data)
}

type mockAssistant struct {
	AskFunc func(ctx context.Context, userID uuid.UUID, question string) (string, error)
}

func (m *mockAssistant) Ask(ctx context.Context, userID uuid.UUID, question string) (string, error) {
	return m.AskFunc(ctx, userID, question)
}

type fakeRedisClient struct {
	values map[string]string
	setErr error
}

func (f *fakeRedisClient) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[key] = value.(string)
	return nil
}

func (f *fakeRedisClient) Get(ctx context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeRedisClient) GetDel(ctx context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", services.ErrSessionNotFound
	}
	delete(f.values, key)
	return v, nil
}

func (f *fakeRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}

func (f *fakeRedisClient) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func (f *fakeRedisClient) SAdd(ctx context.Context, key string, members ...any) error { return nil }

func (f *fakeRedisClient) SRem(ctx context.Context, key string, members ...any) error { return nil }

func (f *fakeRedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return nil, nil
}

func testUser() *models.User {
	return &models.User{ID: uuid.New(), Username: "rafa", DisplayName: "Rafa", Email: "rafa@example.com"}
}

// authed returns a request carrying user in its context.
func authed(t *testing.T, user *models.User, method, target string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req = req.WithContext(SetUserInContext(req.Context(), user))
	}
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error response %q: %v", rr.Body.String(), err)
	}
	return resp.Error
}
