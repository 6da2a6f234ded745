package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/HammerMeetNail/globenis/internal/models"
	"github.com/HammerMeetNail/globenis/internal/services"
)

type MatchHandler struct {
	matches services.MatchServiceInterface
}

func NewMatchHandler(matches services.MatchServiceInterface) *MatchHandler {
	return &MatchHandler{matches: matches}
}

// RecordMatchRequest takes the outcome in any letter case.
type RecordMatchRequest struct {
	Outcome string `json:"outcome" validate:"required"`
}

func (h *MatchHandler) Record(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req RecordMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := models.ParseMatchOutcome(req.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.matches.RecordMatch(r.Context(), user.ID, outcome)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		case isValidationError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("Error recording match: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}
