// Package postgres executes guarded queries against per-dataset PostgreSQL
// read replicas.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/querydesk/querydesk/internal/dataset"
	"github.com/querydesk/querydesk/internal/query"
)

var ErrNoReplica = errors.New("no replica configured for dataset")

type Executor struct {
	replicas map[dataset.ID]*sql.DB
	maxRows  int
}

func NewExecutor(replicas map[dataset.ID]*sql.DB, maxRows int) *Executor {
	copied := make(map[dataset.ID]*sql.DB, len(replicas))
	for id, db := range replicas {
		copied[id] = db
	}
	return &Executor{replicas: copied, maxRows: maxRows}
}

// Execute runs the statement in a read-only transaction that is always
// rolled back.
func (e *Executor) Execute(ctx context.Context, req query.Request) ([]query.Row, error) {
	db, ok := e.replicas[req.Dataset]
	if !ok || db == nil {
		return nil, &query.ExecutionError{Dataset: req.Dataset, Err: ErrNoReplica}
	}
	sqlText := req.Query.SQL()
	if sqlText == "" {
		return nil, &query.ExecutionError{Dataset: req.Dataset, Err: fmt.Errorf("sql is required")}
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, &query.ExecutionError{Dataset: req.Dataset, Err: fmt.Errorf("begin read-only tx: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, &query.ExecutionError{Dataset: req.Dataset, Err: fmt.Errorf("execute query: %w", err)}
	}
	defer func() { _ = rows.Close() }()

	out, err := query.ScanRows(rows, e.maxRows)
	if err != nil {
		return nil, &query.ExecutionError{Dataset: req.Dataset, Err: err}
	}
	return out, nil
}

// HealthCheck pings every replica.
func (e *Executor) HealthCheck(ctx context.Context) error {
	for _, id := range e.datasets() {
		if err := e.replicas[id].PingContext(ctx); err != nil {
			return fmt.Errorf("ping replica %s: %w", id, err)
		}
	}
	return nil
}

func (e *Executor) Close() error {
	var errs []error
	for _, id := range e.datasets() {
		if err := e.replicas[id].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close replica %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) datasets() []dataset.ID {
	ids := make([]dataset.ID, 0, len(e.replicas))
	for id := range e.replicas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
