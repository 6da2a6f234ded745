package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// lockUserPairForUpdate row-locks both profiles in id order in one statement,
// so concurrent two-sided friend writes on the same pair serialize instead of
// deadlocking. It returns pgx.ErrNoRows when either profile is missing.
func lockUserPairForUpdate(ctx context.Context, q DBConn, userA, userB uuid.UUID) error {
	want := 2
	if userA == userB {
		want = 1
	}

	rows, err := q.Query(ctx,
		`SELECT id FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		[]uuid.UUID{userA, userB},
	)
	if err != nil {
		return fmt.Errorf("lock users: %w", err)
	}
	defer rows.Close()

	locked := 0
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("lock users: %w", err)
		}
		locked++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock users: %w", err)
	}
	if locked < want {
		return pgx.ErrNoRows
	}
	return nil
}
