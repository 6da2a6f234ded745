package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/globenis/internal/logging"
)

// Notifier fans out "something changed" signals per topic. Payloads are not
// carried: subscribers re-read the store after every tick, so coalesced or
// duplicate ticks are harmless.
type Notifier interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (Listener, error)
}

// Listener receives ticks for one topic. Close must be called.
type Listener interface {
	C() <-chan struct{}
	Close() error
}

func ChatTopic(threadID string) string {
	return "chat:" + threadID
}

func FriendRequestsTopic(userID uuid.UUID) string {
	return "friend-requests:" + userID.String()
}

func FriendsTopic(userID uuid.UUID) string {
	return "friends:" + userID.String()
}

func ProfileTopic(userID uuid.UUID) string {
	return "profile:" + userID.String()
}

// publishAll is best effort: the write it reports on has already committed,
// so a failed publish is logged rather than returned.
func publishAll(ctx context.Context, n Notifier, topics ...string) {
	if n == nil {
		return
	}
	for _, topic := range topics {
		if err := n.Publish(ctx, topic); err != nil {
			logging.Warn("Change notification failed", map[string]interface{}{
				"topic": topic,
				"error": err.Error(),
			})
		}
	}
}

const redisTopicPrefix = "globenis:changes:"

// RedisNotifier delivers ticks across server instances through Redis pub/sub.
type RedisNotifier struct {
	client PubSubClient
}

func NewRedisNotifier(client PubSubClient) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, topic string) error {
	if err := n.client.Publish(ctx, redisTopicPrefix+topic, "1"); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, topic string) (Listener, error) {
	ps, err := n.client.Subscribe(ctx, redisTopicPrefix+topic)
	if err != nil {
		return nil, err
	}
	l := &redisListener{ps: ps, c: make(chan struct{}, 1), done: make(chan struct{})}
	go l.pump()
	return l, nil
}

type redisListener struct {
	ps        PubSub
	c         chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (l *redisListener) pump() {
	defer close(l.c)
	for {
		select {
		case <-l.done:
			return
		case _, ok := <-l.ps.Messages():
			if !ok {
				return
			}
			select {
			case l.c <- struct{}{}:
			default:
			}
		}
	}
}

func (l *redisListener) C() <-chan struct{} {
	return l.c
}

func (l *redisListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.ps.Close()
	})
	return err
}

// MemoryNotifier delivers ticks within one process.
type MemoryNotifier struct {
	mu        sync.Mutex
	listeners map[string]map[*memoryListener]struct{}
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{listeners: make(map[string]map[*memoryListener]struct{})}
}

func (n *MemoryNotifier) Publish(ctx context.Context, topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for l := range n.listeners[topic] {
		select {
		case l.c <- struct{}{}:
		default:
		}
	}
	return nil
}

func (n *MemoryNotifier) Subscribe(ctx context.Context, topic string) (Listener, error) {
	l := &memoryListener{n: n, topic: topic, c: make(chan struct{}, 1)}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners[topic] == nil {
		n.listeners[topic] = make(map[*memoryListener]struct{})
	}
	n.listeners[topic][l] = struct{}{}
	return l, nil
}

func (n *MemoryNotifier) remove(l *memoryListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set := n.listeners[l.topic]
	if _, ok := set[l]; !ok {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(n.listeners, l.topic)
	}
	close(l.c)
}

// listenerCount is used by tests to check that subscriptions are released.
func (n *MemoryNotifier) listenerCount(topic string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners[topic])
}

type memoryListener struct {
	n     *MemoryNotifier
	topic string
	c     chan struct{}
}

func (l *memoryListener) C() <-chan struct{} {
	return l.c
}

func (l *memoryListener) Close() error {
	l.n.remove(l)
	return nil
}
