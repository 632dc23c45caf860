// Package duckdb executes guarded queries with an in-process DuckDB over
// Parquet table snapshots held in an object store.
package duckdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2"
	"golang.org/x/sync/singleflight"

	"github.com/querydesk/querydesk/internal/query"
	"github.com/querydesk/querydesk/internal/storage"
)

// lockdownStatements run after the snapshots are loaded. Guarded SQL can
// then read only the loaded tables: file readers, httpfs and extension
// loading are refused, and the settings cannot be switched back.
var lockdownStatements = []string{
	"SET enable_external_access = false",
	"SET lock_configuration = true",
}

type Engine struct {
	store   storage.ObjectStore
	maxRows int

	cacheDir  string
	ownsCache bool
	initOnce  sync.Once
	initErr   error
	downloads singleflight.Group
}

type Option func(*Engine)

// WithCacheDir keeps downloaded snapshots in dir. Without it the engine
// creates a temporary directory and removes it on Close.
func WithCacheDir(dir string) Option {
	return func(e *Engine) {
		e.cacheDir = dir
	}
}

func NewEngine(store storage.ObjectStore, maxRows int, opts ...Option) *Engine {
	e := &Engine{store: store, maxRows: maxRows}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute loads every table the query references from its cached snapshot
// into a fresh in-memory database, locks it down and runs the statement.
func (e *Engine) Execute(ctx context.Context, req query.Request) ([]query.Row, error) {
	rows, err := e.execute(ctx, req)
	if err != nil {
		return nil, &query.ExecutionError{Dataset: req.Dataset, Err: err}
	}
	return rows, nil
}

func (e *Engine) Close() error {
	if e.ownsCache && e.cacheDir != "" {
		return os.RemoveAll(e.cacheDir)
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, req query.Request) ([]query.Row, error) {
	sqlText := stripTrailingSemicolons(req.Query.SQL())
	if sqlText == "" {
		return nil, fmt.Errorf("sql is required")
	}
	tables := req.Query.Tables()
	if len(tables) == 0 {
		return nil, fmt.Errorf("query references no tables")
	}
	if e.store == nil {
		return nil, fmt.Errorf("object store is required")
	}

	localPaths := make(map[string]string, len(tables))
	for _, table := range tables {
		localPath, err := e.snapshot(ctx, string(req.Dataset), table)
		if err != nil {
			return nil, err
		}
		localPaths[table] = localPath
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	// The lockdown and the guarded statement share one session.
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open duckdb connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	for _, table := range tables {
		loadSQL := fmt.Sprintf(`CREATE TABLE %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(table), quoteString(localPaths[table]))
		if _, err := conn.ExecContext(ctx, loadSQL); err != nil {
			return nil, fmt.Errorf("load table %q: %w", table, err)
		}
	}
	for _, stmt := range lockdownStatements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("lock down duckdb: %w", err)
		}
	}

	if e.maxRows > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, e.maxRows)
	}

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return query.ScanRows(rows, e.maxRows)
}

// snapshot returns a local copy of <dataset>/<table>.parquet. Copies are
// keyed by the object's version, so a reseeded table is fetched again and an
// unchanged one never is.
func (e *Engine) snapshot(ctx context.Context, datasetID, table string) (string, error) {
	if err := e.ensureCacheDir(); err != nil {
		return "", err
	}
	key, err := storage.BuildTablePath(datasetID, table)
	if err != nil {
		return "", err
	}
	info, err := e.store.Stat(ctx, key)
	if err != nil {
		return "", fmt.Errorf("stat object %q: %w", key, err)
	}
	localPath := filepath.Join(e.cacheDir, snapshotFileName(datasetID, table, objectVersion(info)))

	_, err, _ = e.downloads.Do(localPath, func() (any, error) {
		if _, err := os.Stat(localPath); err == nil {
			return nil, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, e.download(ctx, key, localPath)
	})
	if err != nil {
		return "", err
	}
	return localPath, nil
}

func (e *Engine) ensureCacheDir() error {
	e.initOnce.Do(func() {
		if e.cacheDir != "" {
			e.initErr = os.MkdirAll(e.cacheDir, 0o755)
			return
		}
		dir, err := os.MkdirTemp("", "querydesk-snapshots-")
		if err != nil {
			e.initErr = err
			return
		}
		e.cacheDir = dir
		e.ownsCache = true
	})
	if e.initErr != nil {
		return fmt.Errorf("prepare snapshot cache: %w", e.initErr)
	}
	return nil
}

// download writes to a temporary file and renames it into place so readers
// never see a partial snapshot.
func (e *Engine) download(ctx context.Context, key, localPath string) error {
	reader, err := e.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	tmpPath := file.Name()
	_, copyErr := io.Copy(file, reader)
	closeErr := file.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write snapshot %q: %w", key, err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store snapshot %q: %w", key, err)
	}
	return nil
}

func objectVersion(info storage.ObjectInfo) string {
	if etag := strings.Trim(info.ETag, `"`); etag != "" {
		return etag
	}
	return strconv.FormatInt(info.Size, 10) + "-" + strconv.FormatInt(info.LastModified.UnixNano(), 10)
}

func snapshotFileName(datasetID, table, version string) string {
	sum := sha256.Sum256([]byte(version))
	return sanitizeFileComponent(datasetID) + "_" + sanitizeFileComponent(table) + "_" + hex.EncodeToString(sum[:6]) + ".parquet"
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
