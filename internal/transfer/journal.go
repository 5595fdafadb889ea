package transfer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// Journal persists per-unit completion so an interrupted transfer can be
// resumed without re-sending finished files. Rows are keyed by a
// deterministic plan key (direction + source + target), so re-running the
// same command after a crash picks up where it left off.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenJournal opens (or creates) the journal database at dbPath and
// applies migrations.
func OpenJournal(ctx context.Context, dbPath string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("transfer: creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("transfer: opening journal: %w", err)
	}

	// Sole-writer: one connection avoids SQLITE_BUSY between workers.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("journal ready", slog.String("path", dbPath))

	return &Journal{db: db, logger: logger}, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("transfer: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// PlanKey builds the deterministic journal key for a plan. Two runs of the
// same command produce the same key, which is what makes resume work.
func PlanKey(direction Direction, source, target string) string {
	return direction.String() + "\x00" + source + "\x00" + target
}

// DoneUnits returns the set of destination rel paths already completed
// under the given plan key.
func (j *Journal) DoneUnits(ctx context.Context, key string) (map[string]bool, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT rel_path FROM transfer_log WHERE plan_key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("transfer: querying journal: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)

	for rows.Next() {
		var rel string
		if err := rows.Scan(&rel); err != nil {
			return nil, fmt.Errorf("transfer: scanning journal row: %w", err)
		}

		done[rel] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transfer: iterating journal rows: %w", err)
	}

	return done, nil
}

// MarkDone records a completed unit. Re-recording the same unit is a
// no-op.
func (j *Journal) MarkDone(ctx context.Context, key, relPath string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO transfer_log (plan_key, rel_path, done_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (plan_key, rel_path) DO NOTHING`,
		key, relPath, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("transfer: recording completed unit: %w", err)
	}

	return nil
}

// Clear removes all journal rows for a plan key. Called after a fully
// successful run so a later transfer to the same destination starts fresh.
func (j *Journal) Clear(ctx context.Context, key string) error {
	if _, err := j.db.ExecContext(ctx,
		`DELETE FROM transfer_log WHERE plan_key = ?`, key); err != nil {
		return fmt.Errorf("transfer: clearing journal: %w", err)
	}

	return nil
}
