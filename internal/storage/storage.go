// Package storage defines the object store holding dataset table snapshots.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/querydesk/querydesk/internal/dataset"
)

var ErrObjectNotFound = errors.New("object not found")

// Snapshot metadata keys, in the canonical form S3 returns them.
const (
	MetaDataset = "Dataset"
	MetaTable   = "Table"
	MetaRows    = "Rows"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}

// Rows returns the row count recorded when the snapshot was written, or -1
// when the object carries none.
func (i ObjectInfo) Rows() int64 {
	raw, ok := i.Metadata[MetaRows]
	if !ok {
		return -1
	}
	rows, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	return rows
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SnapshotOptions describes a Parquet table snapshot upload.
func SnapshotOptions(id dataset.ID, table string, rows int64) PutOptions {
	return PutOptions{
		ContentType: ContentTypeParquet,
		Metadata: map[string]string{
			MetaDataset: string(id),
			MetaTable:   table,
			MetaRows:    strconv.FormatInt(rows, 10),
		},
	}
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

// VerifyTables checks that every table of every dataset has a snapshot in
// store. All missing keys are reported together.
func VerifyTables(ctx context.Context, store ObjectStore, datasets []dataset.Dataset) error {
	var errs []error
	for _, ds := range datasets {
		for _, table := range ds.Tables {
			key, err := BuildTablePath(string(ds.ID), table.Name)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if _, err := store.Stat(ctx, key); err != nil {
				errs = append(errs, fmt.Errorf("table snapshot %s: %w", key, err))
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	return errors.Join(errs...)
}
