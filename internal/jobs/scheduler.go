// Package jobs runs periodic maintenance next to the HTTP server.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/HammerMeetNail/globenis/internal/logging"
)

const jobTimeout = 30 * time.Second

// ResetTokenPurger is satisfied by services.AuthService.
type ResetTokenPurger interface {
	PurgeResetTokens(ctx context.Context) (int64, error)
}

type Scheduler struct {
	sched  gocron.Scheduler
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers the cleanup job. Nothing runs until Start.
func NewScheduler(logger *logging.Logger, interval time.Duration, purger ResetTokenPurger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("cleanup interval must be positive")
	}

	sched, err := gocron.NewScheduler(gocron.WithStopTimeout(jobTimeout))
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{sched: sched, logger: logger, ctx: ctx, cancel: cancel}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.purgeResetTokens, purger),
		gocron.WithName("purge-reset-tokens"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return nil, fmt.Errorf("registering purge job: %w", err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown cancels running jobs and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.sched.Shutdown()
}

func (s *Scheduler) purgeResetTokens(purger ResetTokenPurger) {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	deleted, err := purger.PurgeResetTokens(ctx)
	if err != nil {
		s.logger.Warn("Reset token purge failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if deleted > 0 {
		s.logger.Info("Purged reset tokens", map[string]interface{}{"deleted": deleted})
	}
}
