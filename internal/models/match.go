package models

import (
	"errors"
	"strings"
)

type MatchOutcome string

const (
	MatchOutcomeWin  MatchOutcome = "win"
	MatchOutcomeLoss MatchOutcome = "loss"
)

const (
	XPPerWin  = 50
	XPPerLoss = 20

	// Each level-up raises the next threshold by this much.
	XPThresholdStep = 50

	DefaultLevel         = 1
	DefaultXPToNextLevel = 100
)

var ErrInvalidMatchOutcome = errors.New("outcome must be \"win\" or \"loss\"")

// MatchCounters is the progression part of a profile.
type MatchCounters struct {
	Level         int `json:"level"`
	XP            int `json:"xp"`
	XPToNextLevel int `json:"xp_to_next_level"`
	MatchesPlayed int `json:"matches_played"`
	Wins          int `json:"wins"`
	Loses         int `json:"loses"`
}

// NewMatchCounters returns the counters of a freshly registered player.
func NewMatchCounters() MatchCounters {
	return MatchCounters{
		Level:         DefaultLevel,
		XPToNextLevel: DefaultXPToNextLevel,
	}
}

// MatchResult is the response of recording one match.
type MatchResult struct {
	Outcome   MatchOutcome  `json:"outcome"`
	XPGained  int           `json:"xp_gained"`
	LeveledUp bool          `json:"leveled_up"`
	Counters  MatchCounters `json:"counters"`
}

func ParseMatchOutcome(s string) (MatchOutcome, error) {
	switch MatchOutcome(strings.ToLower(strings.TrimSpace(s))) {
	case MatchOutcomeWin:
		return MatchOutcomeWin, nil
	case MatchOutcomeLoss:
		return MatchOutcomeLoss, nil
	}
	return "", ErrInvalidMatchOutcome
}

func (o MatchOutcome) XP() int {
	if o == MatchOutcomeWin {
		return XPPerWin
	}
	return XPPerLoss
}

// ApplyMatchResult returns the counters after one match. At most one level is
// gained per match: when the new xp reaches the threshold the threshold is
// subtracted once, even if the remainder still exceeds the raised threshold.
func ApplyMatchResult(c MatchCounters, outcome MatchOutcome) (MatchCounters, bool) {
	c.MatchesPlayed++
	if outcome == MatchOutcomeWin {
		c.Wins++
	} else {
		c.Loses++
	}
	c.XP += outcome.XP()

	leveledUp := false
	if c.XP >= c.XPToNextLevel {
		c.Level++
		c.XP -= c.XPToNextLevel
		c.XPToNextLevel += XPThresholdStep
		leveledUp = true
	}
	return c, leveledUp
}
