package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const migrationTable = "querydesk_schema_migrations"

// lockKey is the pg_advisory_lock key held while migrating.
const lockKey int64 = 0x7164736b // "qdsk"

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

// Runner applies the audit schema embedded under sql/. Each migration runs in
// its own transaction together with its bookkeeping row, and the whole run
// holds an advisory lock.
type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// NewRunnerFS reads migrations from fsys instead of the embedded set.
func NewRunnerFS(fsys fs.FS) *Runner {
	return &Runner{fsys: fsys}
}

// Status describes one known migration. Modified is set when an applied
// migration's up SQL no longer matches the checksum recorded for it.
type Status struct {
	Version  int64
	Applied  bool
	Modified bool
}

type migration struct {
	Version  int64
	UpSQL    string
	DownSQL  string
	Checksum string
}

type appliedVersion struct {
	Version  int64
	Checksum string
}

func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	migrations, err := loadMigrations(r.fsys)
	if err != nil {
		return 0, err
	}

	runCount := 0
	err = withLock(ctx, db, func(conn *sql.Conn) error {
		applied, err := listAppliedVersions(ctx, conn, false)
		if err != nil {
			return err
		}
		appliedSet := make(map[int64]struct{}, len(applied))
		for _, item := range applied {
			appliedSet[item.Version] = struct{}{}
		}

		for _, item := range migrations {
			if _, ok := appliedSet[item.Version]; ok {
				continue
			}
			if steps > 0 && runCount >= steps {
				break
			}
			if err := applyMigration(ctx, conn, item); err != nil {
				return err
			}
			runCount++
		}
		return nil
	})
	return runCount, err
}

func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	migrations, err := loadMigrations(r.fsys)
	if err != nil {
		return 0, err
	}
	lookup := make(map[int64]migration, len(migrations))
	for _, item := range migrations {
		lookup[item.Version] = item
	}

	runCount := 0
	err = withLock(ctx, db, func(conn *sql.Conn) error {
		applied, err := listAppliedVersions(ctx, conn, true)
		if err != nil {
			return err
		}
		for _, version := range applied {
			if runCount >= steps {
				break
			}
			item, ok := lookup[version.Version]
			if !ok {
				return fmt.Errorf("applied migration %d is missing from source", version.Version)
			}
			if err := rollbackMigration(ctx, conn, item); err != nil {
				return err
			}
			runCount++
		}
		return nil
	})
	return runCount, err
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	migrations, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, err
	}

	var out []Status
	err = withLock(ctx, db, func(conn *sql.Conn) error {
		applied, err := listAppliedVersions(ctx, conn, false)
		if err != nil {
			return err
		}
		checksums := make(map[int64]string, len(applied))
		for _, item := range applied {
			checksums[item.Version] = item.Checksum
		}
		out = make([]Status, 0, len(migrations))
		for _, item := range migrations {
			recorded, ok := checksums[item.Version]
			out = append(out, Status{
				Version:  item.Version,
				Applied:  ok,
				Modified: ok && recorded != "" && recorded != item.Checksum,
			})
		}
		return nil
	})
	return out, err
}

// withLock runs fn on a single connection holding the migration advisory
// lock, after making sure the bookkeeping table exists.
func withLock(ctx context.Context, db *sql.DB, fn func(conn *sql.Conn) error) (err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, unlockErr := conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey); unlockErr != nil && err == nil {
			err = fmt.Errorf("release migration lock: %w", unlockErr)
		}
	}()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func ensureMigrationTable(ctx context.Context, conn *sql.Conn) error {
	query := `
CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
	version BIGINT PRIMARY KEY,
	checksum TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func applyMigration(ctx context.Context, conn *sql.Conn, item migration) error {
	return inTx(ctx, conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, item.UpSQL); err != nil {
			return fmt.Errorf("apply migration %d: %w", item.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+migrationTable+` (version, checksum) VALUES ($1, $2)`, item.Version, item.Checksum); err != nil {
			return fmt.Errorf("mark migration %d: %w", item.Version, err)
		}
		return nil
	})
}

func rollbackMigration(ctx context.Context, conn *sql.Conn, item migration) error {
	return inTx(ctx, conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, item.DownSQL); err != nil {
			return fmt.Errorf("rollback migration %d: %w", item.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+migrationTable+` WHERE version = $1`, item.Version); err != nil {
			return fmt.Errorf("unmark migration %d: %w", item.Version, err)
		}
		return nil
	})
}

func inTx(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func listAppliedVersions(ctx context.Context, conn *sql.Conn, descending bool) ([]appliedVersion, error) {
	order := "ASC"
	if descending {
		order = "DESC"
	}
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM `+migrationTable+` ORDER BY version `+order)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []appliedVersion
	for rows.Next() {
		var item appliedVersion
		if err := rows.Scan(&item.Version, &item.Checksum); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return versions, nil
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	items := map[int64]migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 3 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item := items[version]
		item.Version = version
		if matches[2] == "up" {
			if item.UpSQL != "" {
				return nil, fmt.Errorf("duplicate up migration for version %d", version)
			}
			item.UpSQL = string(script)
		} else {
			if item.DownSQL != "" {
				return nil, fmt.Errorf("duplicate down migration for version %d", version)
			}
			item.DownSQL = string(script)
		}
		items[version] = item
	}

	migrations := make([]migration, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		item.Checksum = checksum(item.UpSQL)
		migrations = append(migrations, item)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func checksum(script string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(script)))
	return hex.EncodeToString(sum[:])
}
