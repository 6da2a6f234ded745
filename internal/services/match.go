package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/globenis/internal/metrics"
	"github.com/HammerMeetNail/globenis/internal/models"
)

// MatchService records match outcomes against a player's counters. Matches
// themselves are not stored.
type MatchService struct {
	db       DB
	notifier Notifier
}

func NewMatchService(db DB, notifier Notifier) *MatchService {
	return &MatchService{db: db, notifier: notifier}
}

// RecordMatch applies one outcome to userID's counters. The profile row is
// locked for the read-modify-write so concurrent matches serialize.
func (s *MatchService) RecordMatch(ctx context.Context, userID uuid.UUID, outcome models.MatchOutcome) (*models.MatchResult, error) {
	if outcome != models.MatchOutcomeWin && outcome != models.MatchOutcomeLoss {
		return nil, models.ErrInvalidMatchOutcome
	}

	var result models.MatchResult
	err := inTx(ctx, s.db, func(tx Tx) error {
		var c models.MatchCounters
		err := tx.QueryRow(ctx,
			`SELECT level, xp, xp_to_next_level, matches_played, wins, loses
			 FROM users WHERE id = $1
			 FOR UPDATE`,
			userID,
		).Scan(&c.Level, &c.XP, &c.XPToNextLevel, &c.MatchesPlayed, &c.Wins, &c.Loses)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("loading counters: %w", err)
		}

		next, leveledUp := models.ApplyMatchResult(c, outcome)
		if _, err := tx.Exec(ctx,
			`UPDATE users SET
			     level = $2, xp = $3, xp_to_next_level = $4,
			     matches_played = $5, wins = $6, loses = $7,
			     updated_at = NOW()
			 WHERE id = $1`,
			userID, next.Level, next.XP, next.XPToNextLevel, next.MatchesPlayed, next.Wins, next.Loses,
		); err != nil {
			return fmt.Errorf("updating counters: %w", err)
		}

		result = models.MatchResult{
			Outcome:   outcome,
			XPGained:  outcome.XP(),
			LeveledUp: leveledUp,
			Counters:  next,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.MatchesRecorded.WithLabelValues(string(outcome)).Inc()
	if result.LeveledUp {
		metrics.LevelUps.Inc()
	}
	publishAll(ctx, s.notifier, ProfileTopic(userID))
	return &result, nil
}
