package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/HammerMeetNail/globenis/internal/logging"
)

// Subscription streams full snapshots of a query. The first snapshot is
// delivered on start and a fresh one after every change notification on the
// topic. It runs until Close is called or its context ends, after which
// Updates is closed. Subscribing again restarts it.
type Subscription[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// NewSubscription listens on topic before taking the first snapshot so that a
// change committed in between is not missed.
func NewSubscription[T any](ctx context.Context, n Notifier, topic string, load func(ctx context.Context) (T, error)) (*Subscription[T], error) {
	listener, err := n.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		updates: make(chan T),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx, topic, listener, load)
	return s, nil
}

func (s *Subscription[T]) run(ctx context.Context, topic string, listener Listener, load func(ctx context.Context) (T, error)) {
	defer close(s.done)
	defer close(s.updates)
	defer func() { _ = listener.Close() }()

	for {
		snapshot, err := load(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logging.Warn("Subscription snapshot failed", map[string]interface{}{
					"topic": topic,
					"error": err.Error(),
				})
				s.setErr(err)
			}
			return
		}

		select {
		case s.updates <- snapshot:
		case <-ctx.Done():
			return
		}

		select {
		case <-ctx.Done():
			return
		case _, ok := <-listener.C():
			if !ok {
				return
			}
		}
	}
}

func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Err reports why the subscription stopped on its own, if it did.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription[T]) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Close stops the subscription and waits for its goroutine to exit.
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}
