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

func TestMatchHandler_Record(t *testing.T) {
	var gotOutcome models.MatchOutcome
	matches := &mockMatchService{
		RecordMatchFunc: func(ctx context.Context, userID uuid.UUID, outcome models.MatchOutcome) (*models.MatchResult, error) {
			gotOutcome = outcome
			counters, leveled := models.ApplyMatchResult(models.MatchCounters{Level: 3, XP: 80, XPToNextLevel: 100}, outcome)
			return &models.MatchResult{Outcome: outcome, XPGained: outcome.XP(), LeveledUp: leveled, Counters: counters}, nil
		},
	}
	handler := NewMatchHandler(matches)

	rr := httptest.NewRecorder()
	handler.Record(rr, authed(t, testUser(), http.MethodPost, "/api/matches", RecordMatchRequest{Outcome: "win"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotOutcome != models.MatchOutcomeWin {
		t.Fatalf("expected win, got %q", gotOutcome)
	}
	var result models.MatchResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !result.LeveledUp || result.Counters.Level != 4 || result.Counters.XP != 30 || result.Counters.XPToNextLevel != 150 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestMatchHandler_Record_OutcomeLetterCase(t *testing.T) {
	for in, want := range map[string]models.MatchOutcome{"WIN": models.MatchOutcomeWin, " Loss ": models.MatchOutcomeLoss} {
		var got models.MatchOutcome
		matches := &mockMatchService{
			RecordMatchFunc: func(ctx context.Context, userID uuid.UUID, outcome models.MatchOutcome) (*models.MatchResult, error) {
				got = outcome
				return &models.MatchResult{Outcome: outcome}, nil
			},
		}
		rr := httptest.NewRecorder()
		NewMatchHandler(matches).Record(rr, authed(t, testUser(), http.MethodPost, "/api/matches", RecordMatchRequest{Outcome: in}))
		if rr.Code != http.StatusOK || got != want {
			t.Fatalf("outcome %q: expected 200 with %q, got %d with %q", in, want, rr.Code, got)
		}
	}
}

func TestMatchHandler_Record_Errors(t *testing.T) {
	tests := []struct {
		name    string
		user    *models.User
		body    interface{}
		err     error
		status  int
		message string
	}{
		{"unauthenticated", nil, RecordMatchRequest{Outcome: "win"}, nil, http.StatusUnauthorized, "Authentication required"},
		{"missing outcome", testUser(), `{}`, nil, http.StatusBadRequest, "outcome is required"},
		{"bad outcome", testUser(), RecordMatchRequest{Outcome: "draw"}, nil, http.StatusBadRequest, `outcome must be "win" or "loss"`},
		{"profile missing", testUser(), RecordMatchRequest{Outcome: "loss"}, services.ErrUserNotFound, http.StatusNotFound, "User not found"},
		{"failure", testUser(), RecordMatchRequest{Outcome: "loss"}, errors.New("deadlock"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := &mockMatchService{
				RecordMatchFunc: func(ctx context.Context, userID uuid.UUID, outcome models.MatchOutcome) (*models.MatchResult, error) {
					return nil, tt.err
				},
			}
			rr := httptest.NewRecorder()
			NewMatchHandler(matches).Record(rr, authed(t, tt.user, http.MethodPost, "/api/matches", tt.body))
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			if msg := decodeError(t, rr); msg != tt.message {
				t.Fatalf("expected %q, got %q", tt.message, msg)
			}
		})
	}
}
