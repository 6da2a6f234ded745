package jobs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/HammerMeetNail/globenis/internal/logging"
)

type fakePurger struct {
	calls   chan struct{}
	deleted int64
	err     error
}

func (f *fakePurger) PurgeResetTokens(ctx context.Context) (int64, error) {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return f.deleted, f.err
}

func waitForCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("purge job did not run")
	}
}

func TestScheduler_RunsPurgeOnStart(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New().SetOutput(&buf)
	purger := &fakePurger{calls: make(chan struct{}, 1), deleted: 3}

	s, err := NewScheduler(logger, time.Hour, purger)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	waitForCall(t, purger.calls)
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if !strings.Contains(buf.String(), "Purged reset tokens") {
		t.Fatalf("expected purge to be logged, got %q", buf.String())
	}
}

func TestScheduler_FailureIsLoggedAndRetried(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New().SetOutput(&buf)
	purger := &fakePurger{calls: make(chan struct{}, 1), err: errors.New("db down")}

	s, err := NewScheduler(logger, 20*time.Millisecond, purger)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	waitForCall(t, purger.calls)
	waitForCall(t, purger.calls)
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if !strings.Contains(buf.String(), "Reset token purge failed") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
}

func TestNewScheduler_RejectsNonPositiveInterval(t *testing.T) {
	if _, err := NewScheduler(logging.New(), 0, &fakePurger{}); err == nil {
		t.Fatal("expected error for zero interval")
	}
}
