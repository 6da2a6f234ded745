package models

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestThreadIDIsOrderIndependent(t *testing.T) {
	a := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	b := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	if ThreadID(a, b) != ThreadID(b, a) {
		t.Fatal("thread id depends on argument order")
	}
	want := a.String() + "_" + b.String()
	if got := ThreadID(b, a); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestThreadParticipants(t *testing.T) {
	a := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")
	b := uuid.MustParse("0fffffff-0000-0000-0000-000000000000")
	id := ThreadID(a, b)

	first, second, err := ThreadParticipants(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != b || second != a {
		t.Fatalf("expected smaller id first, got %s %s", first, second)
	}

	bad := []string{
		"",
		"not-a-thread",
		a.String() + "_" + a.String(),
		a.String() + "_" + b.String(),
		b.String() + "_garbage",
	}
	for _, in := range bad {
		if _, _, err := ThreadParticipants(in); !errors.Is(err, ErrInvalidThreadID) {
			t.Errorf("ThreadParticipants(%q): expected ErrInvalidThreadID, got %v", in, err)
		}
	}
}

func TestThreadPeer(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	id := ThreadID(a, b)

	if peer, ok := ThreadPeer(id, a); !ok || peer != b {
		t.Fatalf("expected peer %s, got %s (%v)", b, peer, ok)
	}
	if peer, ok := ThreadPeer(id, b); !ok || peer != a {
		t.Fatalf("expected peer %s, got %s (%v)", a, peer, ok)
	}
	if _, ok := ThreadPeer(id, c); ok {
		t.Fatal("outsider should not be a participant")
	}
}

func TestNormalizeMessageText(t *testing.T) {
	got, err := NormalizeMessageText("  see you at court 3  ")
	if err != nil || got != "see you at court 3" {
		t.Fatalf("unexpected result %q, %v", got, err)
	}
	if _, err := NormalizeMessageText(" \n\t "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := NormalizeMessageText(strings.Repeat("é", MaxMessageLength)); err != nil {
		t.Fatalf("max length should be accepted, got %v", err)
	}
	if _, err := NormalizeMessageText(strings.Repeat("a", MaxMessageLength+1)); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
}
