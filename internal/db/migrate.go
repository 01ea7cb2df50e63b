package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration is one embedded schema change.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LoadMigrations returns the embedded migrations sorted by version. File
// names must start with a numeric version followed by an underscore.
func LoadMigrations() ([]Migration, error) {
	return loadMigrations(migrationFS, "migrations")
}

func loadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var out []Migration
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("migration %q: missing version prefix", e.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %q: invalid version: %w", e.Name(), err)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration %q: version %d already used by %q", e.Name(), version, prev)
		}
		seen[version] = e.Name()

		body, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading migration %q: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: e.Name(), SQL: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrator applies embedded migrations, one transaction per migration.
type Migrator struct {
	db         TxBeginner
	conn       DBTX
	migrations []Migration
	logger     *slog.Logger
}

// NewMigrator creates a Migrator over the embedded migrations.
func NewMigrator(pool Pool, logger *slog.Logger) (*Migrator, error) {
	migrations, err := LoadMigrations()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: pool, conn: pool, migrations: migrations, logger: logger}, nil
}

// Up applies every migration not yet recorded in schema_migrations and
// returns how many were applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if _, err := m.conn.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return 0, wrapDBError("failed to create schema_migrations", err)
	}

	applied := 0
	for _, mig := range m.migrations {
		err := WithTx(ctx, m.db, func(tx pgx.Tx) error {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`,
				mig.Version,
			).Scan(&exists); err != nil {
				return wrapDBError("failed to read schema_migrations", err)
			}
			if exists {
				return nil
			}

			if _, err := tx.Exec(ctx, mig.SQL); err != nil {
				return wrapDBError(fmt.Sprintf("failed to apply migration %s", mig.Name), err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version) VALUES ($1)`, mig.Version); err != nil {
				return wrapDBError("failed to record migration", err)
			}
			applied++
			m.logger.InfoContext(ctx, "migration applied", "version", mig.Version, "name", mig.Name)
			return nil
		})
		if err != nil {
			return applied, err
		}
	}
	return applied, nil
}
