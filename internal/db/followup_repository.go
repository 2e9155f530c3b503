package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
)

// FollowUpRepository is the outbox of post-commit order work.
type FollowUpRepository struct {
	db *sql.DB
}

func NewFollowUpRepository(database *PostgresDB) *FollowUpRepository {
	return &FollowUpRepository{db: database.Conn}
}

// ClaimFollowUps takes up to limit pending rows untouched for longer than
// lease. Bumping updated_at starts a new lease, so concurrent relays never
// claim the same row twice within one.
func (r *FollowUpRepository) ClaimFollowUps(ctx context.Context, lease time.Duration, limit int) ([]models.FollowUp, error) {
	query := `
		UPDATE order_followups SET attempts = attempts + 1, updated_at = now()
		WHERE id IN (
			SELECT id FROM order_followups
			WHERE status = 'pending' AND updated_at < now() - make_interval(secs => $1)
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, order_id, kind, attempts
	`

	rows, err := r.db.QueryContext(ctx, query, lease.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim follow-ups: %w", err)
	}
	defer rows.Close()

	var claimed []models.FollowUp
	for rows.Next() {
		var f models.FollowUp
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Kind, &f.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan follow-up: %w", err)
		}
		claimed = append(claimed, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read follow-ups: %w", err)
	}

	return claimed, nil
}

// RetryFollowUp records the failure and leaves the row pending. It becomes
// claimable again when the current lease runs out.
func (r *FollowUpRepository) RetryFollowUp(ctx context.Context, id int64, reason string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE order_followups SET last_error = $2 WHERE id = $1`, id, reason); err != nil {
		return fmt.Errorf("failed to record follow-up error: %w", err)
	}
	return nil
}

func (r *FollowUpRepository) FailFollowUp(ctx context.Context, id int64, reason string) error {
	query := `UPDATE order_followups SET status = 'failed', last_error = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, reason); err != nil {
		return fmt.Errorf("failed to mark follow-up failed: %w", err)
	}
	return nil
}

// PendingFollowUps counts rows still waiting, by kind.
func (r *FollowUpRepository) PendingFollowUps(ctx context.Context) (map[models.FollowUpKind]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT kind, count(*) FROM order_followups WHERE status = 'pending' GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count follow-ups: %w", err)
	}
	defer rows.Close()

	counts := map[models.FollowUpKind]int{}
	for rows.Next() {
		var kind models.FollowUpKind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan follow-up count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
