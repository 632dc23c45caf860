// Package postgres stores audit entries in the query_log table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/querydesk/querydesk/internal/audit"
)

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	return nil
}

func (r *Repository) Append(ctx context.Context, entry audit.Entry) error {
	createdAt := entry.Timestamp
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}
	var reason any
	if entry.RejectionReason != "" {
		reason = entry.RejectionReason
	}

	query := `
INSERT INTO query_log (dataset_id, subject, query_text, intent, is_rejected, rejection_reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query,
		entry.DatasetID,
		entry.Subject,
		entry.QueryText,
		entry.Intent,
		entry.IsRejected,
		reason,
		createdAt,
	); err != nil {
		return fmt.Errorf("insert query log: %w", err)
	}
	return nil
}

func (r *Repository) Stats(ctx context.Context) (audit.Stats, error) {
	query := `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE is_rejected),
	COUNT(DISTINCT NULLIF(subject, ''))
FROM query_log`
	var stats audit.Stats
	if err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalQueries,
		&stats.RejectedQueries,
		&stats.ActiveSubjects,
	); err != nil {
		return audit.Stats{}, fmt.Errorf("query log stats: %w", err)
	}
	return stats, nil
}

func (r *Repository) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, dataset_id, subject, query_text, intent, is_rejected, COALESCE(rejection_reason, ''), created_at
FROM query_log
ORDER BY id DESC
LIMIT $1`, audit.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list query log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var entry audit.Entry
		if err := rows.Scan(
			&entry.ID,
			&entry.DatasetID,
			&entry.Subject,
			&entry.QueryText,
			&entry.Intent,
			&entry.IsRejected,
			&entry.RejectionReason,
			&entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan query log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query log: %w", err)
	}
	return entries, nil
}
