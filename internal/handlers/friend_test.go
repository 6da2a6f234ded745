package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/globenis/internal/models"
	"github.com/HammerMeetNail/globenis/internal/services"
)

func TestFriendHandler_Unauthenticated(t *testing.T) {
	handler := NewFriendHandler(&mockFriendService{})
	endpoints := map[string]http.HandlerFunc{
		"list":     handler.List,
		"remove":   handler.Remove,
		"send":     handler.SendRequest,
		"incoming": handler.ListIncoming,
		"outgoing": handler.ListOutgoing,
		"accept":   handler.AcceptRequest,
		"reject":   handler.RejectRequest,
		"cancel":   handler.CancelRequest,
		"stream":   handler.StreamFriends,
	}
	for name, fn := range endpoints {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			fn(rr, httptest.NewRequest(http.MethodGet, "/api/friends", nil))
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
}

func TestFriendHandler_List(t *testing.T) {
	user := testUser()
	friends := &mockFriendService{
		ListFriendsFunc: func(ctx context.Context, userID uuid.UUID) ([]models.User, error) {
			if userID != user.ID {
				t.Fatalf("unexpected user %s", userID)
			}
			return []models.User{{ID: uuid.New(), Username: "roger"}}, nil
		},
	}

	rr := httptest.NewRecorder()
	NewFriendHandler(friends).List(rr, authed(t, user, http.MethodGet, "/api/friends", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp FriendsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Friends) != 1 || resp.Friends[0].Username != "roger" {
		t.Fatalf("unexpected friends %+v", resp.Friends)
	}
}

func TestFriendHandler_SendRequest(t *testing.T) {
	user := testUser()
	var gotTerm string
	friends := &mockFriendService{
		SendRequestFunc: func(ctx context.Context, fromID uuid.UUID, term string) (*models.FriendRequest, error) {
			gotTerm = term
			return &models.FriendRequest{ID: uuid.New(), FromUserID: fromID, Status: models.FriendRequestPending}, nil
		},
	}

	rr := httptest.NewRecorder()
	NewFriendHandler(friends).SendRequest(rr, authed(t, user, http.MethodPost, "/api/friends/requests", SendRequestRequest{Query: "roger@example.com"}))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotTerm != "roger@example.com" {
		t.Fatalf("unexpected term %q", gotTerm)
	}

	rr = httptest.NewRecorder()
	NewFriendHandler(friends).SendRequest(rr, authed(t, user, http.MethodPost, "/api/friends/requests", `{}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if msg := decodeError(t, rr); msg != "query is required" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestFriendHandler_SendRequest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"blank term", services.ErrEmptySearchTerm, http.StatusBadRequest, services.ErrEmptySearchTerm.Error()},
		{"no match", services.ErrUserNotFound, http.StatusNotFound, "User not found"},
		{"self", services.ErrCannotFriendSelf, http.StatusConflict, "Cannot send friend request to yourself"},
		{"already friends", services.ErrAlreadyFriends, http.StatusConflict, "Already friends"},
		{"duplicate", services.ErrFriendRequestExists, http.StatusConflict, "A pending friend request already exists"},
		{"failure", errors.New("db down"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			friends := &mockFriendService{
				SendRequestFunc: func(ctx context.Context, fromID uuid.UUID, term string) (*models.FriendRequest, error) {
					return nil, tt.err
				},
			}
			rr := httptest.NewRecorder()
			NewFriendHandler(friends).SendRequest(rr, authed(t, testUser(), http.MethodPost, "/api/friends/requests", SendRequestRequest{Query: "roger"}))
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			if msg := decodeError(t, rr); msg != tt.message {
				t.Fatalf("expected %q, got %q", tt.message, msg)
			}
		})
	}
}

func TestFriendHandler_ListRequests(t *testing.T) {
	view := models.FriendRequestView{Username: "roger"}
	friends := &mockFriendService{
		ListIncomingFunc: func(ctx context.Context, userID uuid.UUID) ([]models.FriendRequestView, error) {
			return []models.FriendRequestView{view}, nil
		},
		ListOutgoingFunc: func(ctx context.Context, userID uuid.UUID) ([]models.FriendRequestView, error) {
			return nil, errors.New("db down")
		},
	}
	handler := NewFriendHandler(friends)

	rr := httptest.NewRecorder()
	handler.ListIncoming(rr, authed(t, testUser(), http.MethodGet, "/api/friends/requests/incoming", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp FriendRequestsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Requests) != 1 || resp.Requests[0].Username != "roger" {
		t.Fatalf("unexpected requests %+v", resp.Requests)
	}

	rr = httptest.NewRecorder()
	handler.ListOutgoing(rr, authed(t, testUser(), http.MethodGet, "/api/friends/requests/outgoing", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestFriendHandler_AcceptRequest(t *testing.T) {
	requestID := uuid.New()
	friends := &mockFriendService{
		AcceptRequestFunc: func(ctx context.Context, userID, id uuid.UUID) (*models.FriendRequest, error) {
			if id != requestID {
				return nil, services.ErrFriendRequestNotFound
			}
			return &models.FriendRequest{ID: id, ToUserID: userID, Status: models.FriendRequestAccepted}, nil
		},
	}
	handler := NewFriendHandler(friends)

	tests := []struct {
		name   string
		id     string
		status int
	}{
		{"accepted", requestID.String(), http.StatusOK},
		{"unknown", uuid.New().String(), http.StatusNotFound},
		{"malformed", "nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authed(t, testUser(), http.MethodPost, "/api/friends/requests/"+tt.id+"/accept", nil)
			req.SetPathValue("id", tt.id)
			rr := httptest.NewRecorder()
			handler.AcceptRequest(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

func TestFriendHandler_RejectAndCancel(t *testing.T) {
	var rejected, cancelled uuid.UUID
	friends := &mockFriendService{
		RejectRequestFunc: func(ctx context.Context, userID, requestID uuid.UUID) error {
			rejected = requestID
			return nil
		},
		CancelRequestFunc: func(ctx context.Context, userID, requestID uuid.UUID) error {
			cancelled = requestID
			return services.ErrFriendRequestNotFound
		},
	}
	handler := NewFriendHandler(friends)
	id := uuid.New()

	req := authed(t, testUser(), http.MethodPost, "/api/friends/requests/"+id.String()+"/reject", nil)
	req.SetPathValue("id", id.String())
	rr := httptest.NewRecorder()
	handler.RejectRequest(rr, req)
	if rr.Code != http.StatusOK || rejected != id {
		t.Fatalf("expected reject of %s, got %d", id, rr.Code)
	}

	req = authed(t, testUser(), http.MethodDelete, "/api/friends/requests/"+id.String(), nil)
	req.SetPathValue("id", id.String())
	rr = httptest.NewRecorder()
	handler.CancelRequest(rr, req)
	if rr.Code != http.StatusNotFound || cancelled != id {
		t.Fatalf("expected 404 for cancel, got %d", rr.Code)
	}
}

func TestFriendHandler_Remove(t *testing.T) {
	friendID := uuid.New()
	friends := &mockFriendService{
		RemoveFriendFunc: func(ctx context.Context, userID, id uuid.UUID) error {
			if id != friendID {
				return services.ErrFriendshipNotFound
			}
			return nil
		},
	}
	handler := NewFriendHandler(friends)

	tests := []struct {
		name    string
		id      string
		status  int
		message string
	}{
		{"removed", friendID.String(), http.StatusOK, ""},
		{"not a friend", uuid.New().String(), http.StatusNotFound, "Friendship not found"},
		{"malformed", "123", http.StatusBadRequest, "Invalid friend ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authed(t, testUser(), http.MethodDelete, "/api/friends/"+tt.id, nil)
			req.SetPathValue("id", tt.id)
			rr := httptest.NewRecorder()
			handler.Remove(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			if tt.message != "" {
				if msg := decodeError(t, rr); msg != tt.message {
					t.Fatalf("expected %q, got %q", tt.message, msg)
				}
			}
		})
	}
}

func TestFriendHandler_Stream_SubscribeFailure(t *testing.T) {
	friends := &mockFriendService{
		SubscribeFriendsFunc: func(ctx context.Context, userID uuid.UUID) (*services.Subscription[[]models.User], error) {
			return nil, errors.New("redis down")
		},
		SubscribeIncomingFn: func(ctx context.Context, userID uuid.UUID) (*services.Subscription[[]models.FriendRequestView], error) {
			return nil, errors.New("redis down")
		},
	}
	handler := NewFriendHandler(friends)

	for name, fn := range map[string]http.HandlerFunc{"friends": handler.StreamFriends, "incoming": handler.StreamIncoming} {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			fn(rr, authed(t, testUser(), http.MethodGet, "/api/friends/stream", nil))
			if rr.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503, got %d", rr.Code)
			}
		})
	}
}
