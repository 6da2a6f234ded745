package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeCommandTag struct {
	rowsAffected int64
}

func (f fakeCommandTag) RowsAffected() int64 {
	return f.rowsAffected
}

type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (f fakeRow) Scan(dest ...any) error {
	if f.scanFunc == nil {
		return fmt.Errorf("scanFunc not set")
	}
	return f.scanFunc(dest...)
}

func errRow(err error) Row {
	return fakeRow{scanFunc: func(dest ...any) error { return err }}
}

type fakeRows struct {
	rows   [][]any
	idx    int
	err    error
	closed bool
}

func (f *fakeRows) Close() {
	f.closed = true
}

func (f *fakeRows) Err() error {
	return f.err
}

func (f *fakeRows) Next() bool {
	if f.idx >= len(f.rows) {
		return false
	}
	f.idx++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	if f.idx == 0 || f.idx > len(f.rows) {
		return fmt.Errorf("scan called without active row")
	}
	return assignRow(dest, f.rows[f.idx-1])
}

type fakeDB struct {
	ExecFunc     func(ctx context.Context, sql string, args ...any) (CommandTag, error)
	QueryFunc    func(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) Row
	BeginFunc    func(ctx context.Context) (Tx, error)
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	if f.ExecFunc != nil {
		return f.ExecFunc(ctx, sql, args...)
	}
	return fakeCommandTag{}, nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	if f.QueryFunc != nil {
		return f.QueryFunc(ctx, sql, args...)
	}
	return &fakeRows{}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) Row {
	if f.QueryRowFunc != nil {
		return f.QueryRowFunc(ctx, sql, args...)
	}
	return errRow(fmt.Errorf("queryRowFunc not set"))
}

func (f *fakeDB) Begin(ctx context.Context) (Tx, error) {
	if f.BeginFunc != nil {
		return f.BeginFunc(ctx)
	}
	return nil, fmt.Errorf("beginFunc not set")
}

// fakeTx records the statements it executes and how it was finished.
type fakeTx struct {
	ExecFunc     func(ctx context.Context, sql string, args ...any) (CommandTag, error)
	QueryFunc    func(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) Row
	CommitFunc   func(ctx context.Context) error

	execs      []string
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	f.execs = append(f.execs, sql)
	if f.ExecFunc != nil {
		return f.ExecFunc(ctx, sql, args...)
	}
	return fakeCommandTag{rowsAffected: 1}, nil
}

func (f *fakeTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	if f.QueryFunc != nil {
		return f.QueryFunc(ctx, sql, args...)
	}
	return &fakeRows{}, nil
}

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	if f.QueryRowFunc != nil {
		return f.QueryRowFunc(ctx, sql, args...)
	}
	return errRow(fmt.Errorf("queryRowFunc not set"))
}

func (f *fakeTx) Commit(ctx context.Context) error {
	if f.CommitFunc != nil {
		if err := f.CommitFunc(ctx); err != nil {
			return err
		}
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

func (f *fakeTx) execCount(substr string) int {
	n := 0
	for _, sql := range f.execs {
		if strings.Contains(sql, substr) {
			n++
		}
	}
	return n
}

func dbWithTx(tx *fakeTx) *fakeDB {
	return &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
}

func rowFromValues(values ...any) Row {
	return fakeRow{scanFunc: func(dest ...any) error {
		return assignRow(dest, values)
	}}
}

func assignRow(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan dest mismatch: got %d want %d", len(dest), len(values))
	}
	for i, value := range values {
		dv := reflect.ValueOf(dest[i])
		if dv.Kind() != reflect.Ptr || dv.IsNil() {
			return fmt.Errorf("dest %d not pointer", i)
		}
		if value == nil {
			dv.Elem().Set(reflect.Zero(dv.Elem().Type()))
			continue
		}
		vv := reflect.ValueOf(value)
		if vv.Type().AssignableTo(dv.Elem().Type()) {
			dv.Elem().Set(vv)
			continue
		}
		// nullable columns scan into pointers
		if dv.Elem().Kind() == reflect.Ptr && vv.Type().AssignableTo(dv.Elem().Type().Elem()) {
			p := reflect.New(vv.Type())
			p.Elem().Set(vv)
			dv.Elem().Set(p)
			continue
		}
		if vv.Type().ConvertibleTo(dv.Elem().Type()) {
			dv.Elem().Set(vv.Convert(dv.Elem().Type()))
			continue
		}
		return fmt.Errorf("cannot assign %T to %s", value, dv.Elem().Type())
	}
	return nil
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	tx := &fakeTx{}
	err := inTx(context.Background(), dbWithTx(tx), func(tx Tx) error {
		_, err := tx.Exec(context.Background(), "UPDATE users SET xp = 1")
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tx.committed || tx.rolledBack {
		t.Fatalf("expected commit without rollback, got committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
}

func TestInTx_RollsBackAndPassesErrorThrough(t *testing.T) {
	tx := &fakeTx{}
	sentinel := errors.New("domain failure")
	err := inTx(context.Background(), dbWithTx(tx), func(tx Tx) error { return sentinel })
	if err != sentinel {
		t.Fatalf("expected sentinel unwrapped, got %v", err)
	}
	if tx.committed || !tx.rolledBack {
		t.Fatal("expected rollback")
	}
}

func TestInTx_BeginAndCommitErrors(t *testing.T) {
	beginErr := errors.New("pool exhausted")
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return nil, beginErr }}
	if err := inTx(context.Background(), db, func(Tx) error { return nil }); !errors.Is(err, beginErr) {
		t.Fatalf("expected begin error, got %v", err)
	}

	commitErr := errors.New("serialization failure")
	tx := &fakeTx{CommitFunc: func(ctx context.Context) error { return commitErr }}
	err := inTx(context.Background(), dbWithTx(tx), func(Tx) error { return nil })
	if !errors.Is(err, commitErr) || !strings.Contains(err.Error(), "commit transaction") {
		t.Fatalf("expected wrapped commit error, got %v", err)
	}
	if !tx.rolledBack {
		t.Fatal("failed commit should roll back")
	}
}

func TestUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "idx_users_email"})
	name, ok := uniqueViolation(err)
	if !ok || name != "idx_users_email" {
		t.Fatalf("expected idx_users_email violation, got %q %v", name, ok)
	}
	if _, ok := uniqueViolation(&pgconn.PgError{Code: "23503"}); ok {
		t.Fatal("foreign key violation is not a unique violation")
	}
	if _, ok := uniqueViolation(errors.New("plain")); ok {
		t.Fatal("plain error is not a unique violation")
	}
}
