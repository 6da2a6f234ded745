package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/HammerMeetNail/globenis/internal/models"
	"github.com/HammerMeetNail/globenis/internal/services"
)

type ChatHandler struct {
	chats services.ChatServiceInterface
}

func NewChatHandler(chats services.ChatServiceInterface) *ChatHandler {
	return &ChatHandler{chats: chats}
}

type SendMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

type ThreadsResponse struct {
	Threads []models.ChatThreadView `json:"threads"`
}

type MessagesResponse struct {
	ThreadID string               `json:"thread_id"`
	Messages []models.ChatMessage `json:"messages"`
}

type MessageSentResponse struct {
	Message *models.ChatMessage `json:"message"`
}

func writeChatError(w http.ResponseWriter, err error, action string) {
	switch {
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotThreadParticipant), errors.Is(err, services.ErrNotFriends):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	default:
		log.Printf("Error %s: %v", action, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// threadFor resolves the conversation between the caller and {friendId}.
func (h *ChatHandler) threadFor(w http.ResponseWriter, r *http.Request) (*models.User, string, bool) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil, "", false
	}
	friendID, ok := parsePathUUID(r, "friendId")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid friend ID")
		return nil, "", false
	}
	if friendID == user.ID {
		writeError(w, http.StatusBadRequest, "Cannot chat with yourself")
		return nil, "", false
	}
	return user, h.chats.ThreadID(user.ID, friendID), true
}

func (h *ChatHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	threads, err := h.chats.ListThreads(r.Context(), user.ID)
	if err != nil {
		writeChatError(w, err, "listing chats")
		return
	}
	writeJSON(w, http.StatusOK, ThreadsResponse{Threads: threads})
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user, threadID, ok := h.threadFor(w, r)
	if !ok {
		return
	}

	messages, err := h.chats.ListMessages(r.Context(), threadID, user.ID)
	if err != nil {
		writeChatError(w, err, "listing messages")
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{ThreadID: threadID, Messages: messages})
}

func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	user, threadID, ok := h.threadFor(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	message, err := h.chats.Send(r.Context(), threadID, user.ID, req.Text)
	if err != nil {
		writeChatError(w, err, "sending message")
		return
	}
	writeJSON(w, http.StatusCreated, MessageSentResponse{Message: message})
}

// Stream pushes the full ordered message list on every append.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user, threadID, ok := h.threadFor(w, r)
	if !ok {
		return
	}

	sub, err := h.chats.Subscribe(r.Context(), threadID, user.ID)
	if err != nil {
		if isValidationError(err) || errors.Is(err, services.ErrNotThreadParticipant) || errors.Is(err, services.ErrNotFriends) {
			writeChatError(w, err, "subscribing to chat")
			return
		}
		log.Printf("Error subscribing to chat: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Live updates are unavailable")
		return
	}
	serveSnapshots[[]models.ChatMessage](w, r, "chat", sub)
}
