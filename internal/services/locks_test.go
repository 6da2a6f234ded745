package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func TestLockUserPairForUpdate_SingleOrderedStatement(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	var calls int
	db := &fakeDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			calls++
			if !strings.Contains(sql, "ORDER BY id FOR UPDATE") {
				t.Fatalf("unexpected sql: %q", sql)
			}
			ids := args[0].([]uuid.UUID)
			if len(ids) != 2 || ids[0] != a || ids[1] != b {
				t.Fatalf("unexpected ids: %v", ids)
			}
			return &fakeRows{rows: [][]any{{a}, {b}}}, nil
		},
	}

	if err := lockUserPairForUpdate(context.Background(), db, a, b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one statement, got %d", calls)
	}
}

func TestLockUserPairForUpdate_SameUser(t *testing.T) {
	id := uuid.New()
	db := &fakeDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			return &fakeRows{rows: [][]any{{id}}}, nil
		},
	}
	if err := lockUserPairForUpdate(context.Background(), db, id, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLockUserPairForUpdate_MissingUser(t *testing.T) {
	a := uuid.New()
	db := &fakeDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			return &fakeRows{rows: [][]any{{a}}}, nil
		},
	}
	err := lockUserPairForUpdate(context.Background(), db, a, uuid.New())
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestLockUserPairForUpdate_QueryError(t *testing.T) {
	boom := errors.New("boom")
	db := &fakeDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			return nil, boom
		},
	}
	err := lockUserPairForUpdate(context.Background(), db, uuid.New(), uuid.New())
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "lock users") {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	rowsErr := errors.New("conn reset")
	db.QueryFunc = func(ctx context.Context, sql string, args ...any) (Rows, error) {
		return &fakeRows{err: rowsErr}, nil
	}
	if err := lockUserPairForUpdate(context.Background(), db, uuid.New(), uuid.New()); !errors.Is(err, rowsErr) {
		t.Fatalf("expected rows error, got %v", err)
	}
}
