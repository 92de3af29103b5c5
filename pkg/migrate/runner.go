// Package migrate applies SQL schema migrations to the knowledge graph
// store. Migrations are plain .sql files applied in lexicographic order and
// recorded in an applied_migrations ledger keyed by filename and sha256
// checksum, so re-running the runner is a no-op.
package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/noemakg/noema/pkg/store"
	"github.com/noemakg/noema/pkg/types"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS applied_migrations (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    filename   TEXT NOT NULL UNIQUE,
    checksum   TEXT NOT NULL,
    applied_at TIMESTAMP NOT NULL
)`

// Options configures a Runner.
type Options struct {
	// StorePath is the SQLite database file to migrate.
	StorePath string
	// Dir is the directory containing *.sql migration files.
	Dir string
	// Backup controls whether the database file is copied aside before any
	// pending migration runs. A failed backup aborts the run.
	Backup bool
}

// Report describes the outcome of a migration run.
type Report struct {
	Applied    []string `json:"applied"`
	Skipped    []string `json:"skipped"`
	BackupPath string   `json:"backup_path,omitempty"`
}

// Runner applies pending migrations to a store.
type Runner struct {
	opts Options
	log  *slog.Logger
}

// New creates a Runner. A nil logger falls back to slog.Default.
func New(opts Options, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{opts: opts, log: log}
}

type unit struct {
	filename string
	path     string
	checksum string
	body     string
}

// Apply runs all pending migrations. Each migration executes in its own
// transaction and is recorded in the ledger on commit, so a failure mid-run
// leaves earlier migrations applied and recorded. A checksum mismatch
// between a file and its ledger entry aborts the run before anything is
// applied.
func (r *Runner) Apply(ctx context.Context) (*Report, error) {
	units, err := r.loadUnits()
	if err != nil {
		return nil, err
	}

	db, err := store.Open(r.opts.StorePath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	applied, err := r.appliedChecksums(ctx, db)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var pending []unit
	for _, u := range units {
		recorded, ok := applied[u.filename]
		if !ok {
			pending = append(pending, u)
			continue
		}
		if recorded != u.checksum {
			return nil, fmt.Errorf("%w: %s was applied with checksum %s but file now has %s",
				types.ErrMigrationConflict, u.filename, recorded, u.checksum)
		}
		report.Skipped = append(report.Skipped, u.filename)
	}

	if len(pending) == 0 {
		r.log.Debug("no pending migrations", "dir", r.opts.Dir)
		return report, nil
	}

	// The backup must capture the store as it was before this run, so it is
	// taken before the ledger table is ensured.
	if r.opts.Backup {
		report.BackupPath, err = r.backup(ctx, db)
		if err != nil {
			return nil, err
		}
	}

	if _, err := db.DB().ExecContext(ctx, ledgerSchema); err != nil {
		return nil, &types.StoreError{Op: "ensure migration ledger", Err: err}
	}

	for _, u := range pending {
		if err := r.applyUnit(ctx, db, u); err != nil {
			return nil, fmt.Errorf("apply %s: %w", u.filename, err)
		}
		report.Applied = append(report.Applied, u.filename)
		r.log.Info("applied migration", "filename", u.filename, "checksum", u.checksum[:12])
	}
	return report, nil
}

// loadUnits reads and checksums every *.sql file in the migrations
// directory, in lexicographic filename order.
func (r *Runner) loadUnits() ([]unit, error) {
	entries, err := os.ReadDir(r.opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", r.opts.Dir, err)
	}

	var units []unit
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		path := filepath.Join(r.opts.Dir, entry.Name())
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", path, err)
		}
		sum := sha256.Sum256(body)
		units = append(units, unit{
			filename: entry.Name(),
			path:     path,
			checksum: hex.EncodeToString(sum[:]),
			body:     string(body),
		})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].filename < units[j].filename })
	return units, nil
}

// appliedChecksums reads the ledger. A store that has never been migrated
// has no ledger table yet; that reads as an empty ledger, not an error.
func (r *Runner) appliedChecksums(ctx context.Context, db *store.SQLiteStore) (map[string]string, error) {
	var count int
	err := db.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'applied_migrations'").Scan(&count)
	if err != nil {
		return nil, &types.StoreError{Op: "check migration ledger", Err: err}
	}
	if count == 0 {
		return map[string]string{}, nil
	}

	rows, err := db.DB().QueryContext(ctx, "SELECT filename, checksum FROM applied_migrations")
	if err != nil {
		return nil, &types.StoreError{Op: "read migration ledger", Err: err}
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var filename, checksum string
		if err := rows.Scan(&filename, &checksum); err != nil {
			return nil, &types.StoreError{Op: "scan migration ledger", Err: err}
		}
		applied[filename] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: "read migration ledger", Err: err}
	}
	return applied, nil
}

// backup copies the database file aside before pending migrations run. The
// WAL is checkpointed first so the copy is a complete snapshot.
func (r *Runner) backup(ctx context.Context, db *store.SQLiteStore) (string, error) {
	if _, err := os.Stat(r.opts.StorePath); os.IsNotExist(err) {
		return "", nil
	}
	if _, err := db.DB().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("%w: checkpoint: %v", types.ErrBackup, err)
	}

	backupPath := fmt.Sprintf("%s.bak.%s", r.opts.StorePath, time.Now().UTC().Format("20060102150405"))
	if err := copyFile(r.opts.StorePath, backupPath); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrBackup, err)
	}
	r.log.Info("store backed up", "path", backupPath)
	return backupPath, nil
}

func (r *Runner) applyUnit(ctx context.Context, db *store.SQLiteStore, u unit) error {
	tx, err := db.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, u.body); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO applied_migrations (filename, checksum, applied_at) VALUES (?, ?, ?)",
		u.filename, u.checksum, time.Now().UTC()); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
