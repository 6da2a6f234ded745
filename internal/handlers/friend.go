package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/globenis/internal/models"
	"github.com/HammerMeetNail/globenis/internal/services"
)

type FriendHandler struct {
	friends services.FriendServiceInterface
}

func NewFriendHandler(friends services.FriendServiceInterface) *FriendHandler {
	return &FriendHandler{friends: friends}
}

type SendRequestRequest struct {
	Query string `json:"query" validate:"required,max=254"`
}

type FriendsResponse struct {
	Friends []models.User `json:"friends"`
}

type FriendRequestsResponse struct {
	Requests []models.FriendRequestView `json:"requests"`
}

type FriendRequestResponse struct {
	Request *models.FriendRequest `json:"request"`
}

// writeFriendError maps ledger and relation errors to statuses.
func writeFriendError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, services.ErrEmptySearchTerm):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, services.ErrFriendRequestNotFound):
		writeError(w, http.StatusNotFound, "Friend request not found")
	case errors.Is(err, services.ErrFriendshipNotFound):
		writeError(w, http.StatusNotFound, "Friendship not found")
	case errors.Is(err, services.ErrCannotFriendSelf):
		writeError(w, http.StatusConflict, "Cannot send friend request to yourself")
	case errors.Is(err, services.ErrAlreadyFriends):
		writeError(w, http.StatusConflict, "Already friends")
	case errors.Is(err, services.ErrFriendRequestExists):
		writeError(w, http.StatusConflict, "A pending friend request already exists")
	default:
		log.Printf("Error %s: %v", action, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	friends, err := h.friends.ListFriends(r.Context(), user.ID)
	if err != nil {
		writeFriendError(w, err, "listing friends")
		return
	}
	writeJSON(w, http.StatusOK, FriendsResponse{Friends: friends})
}

func (h *FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	friendID, ok := parsePathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid friend ID")
		return
	}

	if err := h.friends.RemoveFriend(r.Context(), user.ID, friendID); err != nil {
		writeFriendError(w, err, "removing friend")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Friend removed"})
}

func (h *FriendHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req SendRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	request, err := h.friends.SendRequest(r.Context(), user.ID, req.Query)
	if err != nil {
		writeFriendError(w, err, "sending friend request")
		return
	}
	writeJSON(w, http.StatusCreated, FriendRequestResponse{Request: request})
}

func (h *FriendHandler) ListIncoming(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requests, err := h.friends.ListPendingIncoming(r.Context(), user.ID)
	if err != nil {
		writeFriendError(w, err, "listing friend requests")
		return
	}
	writeJSON(w, http.StatusOK, FriendRequestsResponse{Requests: requests})
}

func (h *FriendHandler) ListOutgoing(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requests, err := h.friends.ListPendingOutgoing(r.Context(), user.ID)
	if err != nil {
		writeFriendError(w, err, "listing sent friend requests")
		return
	}
	writeJSON(w, http.StatusOK, FriendRequestsResponse{Requests: requests})
}

func (h *FriendHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requestID, ok := parsePathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	request, err := h.friends.AcceptRequest(r.Context(), user.ID, requestID)
	if err != nil {
		writeFriendError(w, err, "accepting friend request")
		return
	}
	writeJSON(w, http.StatusOK, FriendRequestResponse{Request: request})
}

func (h *FriendHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.closeRequest(w, r, h.friends.RejectRequest, "rejecting friend request", "Friend request rejected")
}

func (h *FriendHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	h.closeRequest(w, r, h.friends.CancelRequest, "cancelling friend request", "Friend request cancelled")
}

func (h *FriendHandler) closeRequest(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, requestID uuid.UUID) error, action, message string) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requestID, ok := parsePathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	if err := op(r.Context(), user.ID, requestID); err != nil {
		writeFriendError(w, err, action)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: message})
}

// StreamFriends pushes the full friend list on every change to it.
func (h *FriendHandler) StreamFriends(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	sub, err := h.friends.SubscribeFriends(r.Context(), user.ID)
	if err != nil {
		log.Printf("Error subscribing to friends: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Live updates are unavailable")
		return
	}
	serveSnapshots[[]models.User](w, r, "friends", sub)
}

// StreamIncoming pushes the pending incoming requests on every change.
func (h *FriendHandler) StreamIncoming(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	sub, err := h.friends.SubscribePendingIncoming(r.Context(), user.ID)
	if err != nil {
		log.Printf("Error subscribing to friend requests: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Live updates are unavailable")
		return
	}
	serveSnapshots[[]models.FriendRequestView](w, r, "friend_requests", sub)
}
