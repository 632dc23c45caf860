package seed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/querydesk/querydesk/internal/storage"
)

const defaultConcurrency = 4

type Summary struct {
	Tables int
	Rows   int64
	Bytes  int64
	Keys   []string
}

type Uploader struct {
	Store       storage.ObjectStore
	Concurrency int
	Logger      *slog.Logger
}

// Upload writes every table to <dataset>/<table>.parquet. The first failure
// cancels the remaining uploads.
func (u Uploader) Upload(ctx context.Context, tables []Table) (Summary, error) {
	if u.Store == nil {
		return Summary{}, fmt.Errorf("object store is required")
	}
	limit := u.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	var (
		mu      sync.Mutex
		summary Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, table := range tables {
		g.Go(func() error {
			key, err := storage.BuildTablePath(string(table.Dataset), table.Name)
			if err != nil {
				return err
			}
			info, err := u.Store.Put(gctx, key, bytes.NewReader(table.Data), int64(len(table.Data)),
				storage.SnapshotOptions(table.Dataset, table.Name, table.Rows))
			if err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			if u.Logger != nil {
				u.Logger.InfoContext(gctx, "seed table uploaded",
					slog.String("key", info.Key),
					slog.Int64("rows", table.Rows),
					slog.Int64("bytes", int64(len(table.Data))),
				)
			}

			mu.Lock()
			summary.Tables++
			summary.Rows += table.Rows
			summary.Bytes += int64(len(table.Data))
			summary.Keys = append(summary.Keys, key)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return summary, nil
}
