package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/globenis/internal/handlers"
	"github.com/HammerMeetNail/globenis/internal/models"
)

type fakeCounter struct {
	counts map[string]int64
	keys   []string
	ttl    interface{}
	err    error
	result interface{}
}

func (f *fakeCounter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	f.keys = append(f.keys, keys[0])
	if len(args) > 0 {
		f.ttl = args[0]
	}
	if f.result != nil {
		return redis.NewCmdResult(f.result, nil)
	}
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[keys[0]]++
	return redis.NewCmdResult(f.counts[keys[0]], nil)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	counter := &fakeCounter{}
	rl := NewRateLimiter(counter, 2, time.Hour, "ratelimit:test:", IPKey, true)
	handler := rl.Middleware(okHandler())

	remaining := []string{"1", "0", "0"}
	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/assistant", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i+1, want, rr.Code)
		}
		if got := rr.Header().Get("X-RateLimit-Remaining"); got != remaining[i] {
			t.Fatalf("request %d: expected remaining %s, got %q", i+1, remaining[i], got)
		}
		if want == http.StatusTooManyRequests && rr.Header().Get("Retry-After") != "3600" {
			t.Fatalf("expected Retry-After 3600, got %q", rr.Header().Get("Retry-After"))
		}
	}
	if counter.keys[0] != "ratelimit:test:10.0.0.1" {
		t.Fatalf("unexpected key %q", counter.keys[0])
	}
	if counter.ttl != int64(3600) {
		t.Fatalf("expected window ttl 3600, got %v", counter.ttl)
	}
}

func TestRateLimiter_UserKey(t *testing.T) {
	counter := &fakeCounter{}
	rl := NewRateLimiter(counter, 10, time.Minute, "ratelimit:ai:", UserKey, false)

	user := &models.User{ID: uuid.New()}
	req := httptest.NewRequest(http.MethodPost, "/api/assistant", nil)
	req = req.WithContext(handlers.SetUserInContext(req.Context(), user))
	rl.Middleware(okHandler()).ServeHTTP(httptest.NewRecorder(), req)

	anon := httptest.NewRequest(http.MethodPost, "/api/assistant", nil)
	anon.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rl.Middleware(okHandler()).ServeHTTP(httptest.NewRecorder(), anon)

	if counter.keys[0] != "ratelimit:ai:"+user.ID.String() {
		t.Fatalf("expected user key, got %q", counter.keys[0])
	}
	if counter.keys[1] != "ratelimit:ai:203.0.113.9" {
		t.Fatalf("expected ip fallback key, got %q", counter.keys[1])
	}
}

func TestRateLimiter_RedisFailure(t *testing.T) {
	tests := []struct {
		name     string
		counter  *fakeCounter
		failOpen bool
		want     int
	}{
		{"fail open", &fakeCounter{err: errors.New("down")}, true, http.StatusOK},
		{"fail closed", &fakeCounter{err: errors.New("down")}, false, http.StatusServiceUnavailable},
		{"unexpected result type", &fakeCounter{result: "nope"}, false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(tt.counter, 1, time.Minute, "p:", IPKey, tt.failOpen)
			rr := httptest.NewRecorder()
			rl.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := GetClientIP(req); got != "192.0.2.1" {
		t.Fatalf("expected remote addr host, got %q", got)
	}
	req.Header.Set("X-Real-IP", " 198.51.100.7 ")
	if got := GetClientIP(req); got != "198.51.100.7" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	if got := GetClientIP(req); got != "203.0.113.5" {
		t.Fatalf("expected X-Forwarded-For, got %q", got)
	}
}
