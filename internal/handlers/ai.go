package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/HammerMeetNail/globenis/internal/metrics"
	"github.com/HammerMeetNail/globenis/internal/services"
	"github.com/HammerMeetNail/globenis/internal/services/ai"
)

type AssistantHandler struct {
	assistant services.AssistantServiceInterface
}

// NewAssistantHandler accepts a nil assistant; every request then answers
// 503.
func NewAssistantHandler(assistant services.AssistantServiceInterface) *AssistantHandler {
	return &AssistantHandler{assistant: assistant}
}

type AskRequest struct {
	Message string `json:"message" validate:"required"`
}

type AskResponse struct {
	Reply string `json:"reply"`
}

func (h *AssistantHandler) Ask(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req AskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.assistant == nil {
		metrics.AssistantRequests.WithLabelValues("unconfigured").Inc()
		writeError(w, http.StatusServiceUnavailable, "The assistant is not available right now.")
		return
	}

	reply, err := h.assistant.Ask(r.Context(), user.ID, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "An unexpected error occurred."
		result := "error"

		switch {
		case errors.Is(err, ai.ErrInvalidInput):
			status = http.StatusBadRequest
			msg = "Message must be between 1 and 1000 characters."
			result = "invalid"
		case errors.Is(err, ai.ErrSafetyViolation):
			status = http.StatusBadRequest
			msg = "We couldn't answer that safely. Please try rephrasing."
			result = "blocked"
		case errors.Is(err, ai.ErrRateLimitExceeded):
			status = http.StatusTooManyRequests
			msg = "AI provider rate limit exceeded."
			result = "rate_limited"
		case errors.Is(err, ai.ErrAIProviderUnavailable), errors.Is(err, ai.ErrAINotConfigured):
			status = http.StatusServiceUnavailable
			msg = "The assistant is currently down. Please try again later."
			result = "unavailable"
		default:
			log.Printf("Assistant request failed: %v", err)
		}

		metrics.AssistantRequests.WithLabelValues(result).Inc()
		writeError(w, status, msg)
		return
	}

	metrics.AssistantRequests.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, AskResponse{Reply: reply})
}
