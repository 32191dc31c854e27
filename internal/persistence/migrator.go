package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Migrator applies the numbered SQL files in a migrations directory.
// File naming is {version}_{name}.up.sql with a matching .down.sql pair;
// applied versions are tracked in public.schema_migrations. Each file runs
// inside its own transaction together with its bookkeeping row, so a failed
// migration leaves the ledger schema exactly where it was.
type Migrator struct {
	db  *sql.DB
	dir string
	log zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, dir: migrationsDir, log: logger}
}

// Up applies every pending up-migration in version order.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("load applied versions: %w", err)
	}

	pending, err := m.sortedFiles(".up.sql")
	if err != nil {
		return fmt.Errorf("scan %s: %w", m.dir, err)
	}

	for _, name := range pending {
		version := versionPrefix(name)
		if applied[version] {
			continue
		}
		if err := m.runFile(ctx, name, version, true); err != nil {
			return err
		}
		m.log.Info().Str("file", name).Msg("migration applied")
	}
	return nil
}

// Down rolls back the most recently applied migration only. Rolling back
// further is a repeat invocation, never a single destructive sweep.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}

	var version, upName string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &upName)
	if err == sql.ErrNoRows {
		m.log.Info().Msg("nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest applied version: %w", err)
	}

	downName := strings.Replace(upName, ".up.sql", ".down.sql", 1)
	if err := m.runFile(ctx, downName, version, false); err != nil {
		return err
	}
	m.log.Info().Str("file", downName).Msg("migration rolled back")
	return nil
}

// runFile executes one migration file and its version-table mutation in a
// single transaction.
func (m *Migrator) runFile(ctx context.Context, name, version string, up bool) error {
	body, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec %s: %w", name, err)
	}

	if up {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
			version, name,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM public.schema_migrations WHERE version = $1`, version,
		)
	}
	if err != nil {
		return fmt.Errorf("record version %s: %w", version, err)
	}

	return tx.Commit()
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) sortedFiles(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func versionPrefix(filename string) string {
	if i := strings.IndexByte(filename, '_'); i > 0 {
		return filename[:i]
	}
	return filename
}
