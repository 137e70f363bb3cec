package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

//go:embed migrations/sqlite3/*.sql migrations/postgres/*.sql
var embeddedMigrations embed.FS

const (
	listAppliedMigrationsSQL = `SELECT name, seq, applied_at FROM schema_migrations ORDER BY seq;`

	recordMigrationSQL = `INSERT INTO schema_migrations (name, seq, applied_at) VALUES (?, ?, ?);`

	isMigrationRecordedSQL = `SELECT COUNT(*) FROM schema_migrations WHERE name = ?;`

	nextMigrationSeqSQL = `SELECT COALESCE(MAX(seq), 0) + 1 FROM schema_migrations;`

	sqliteMigrationTableSQL = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations';`

	postgresMigrationTableSQL = `SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = current_schema() AND table_name = 'schema_migrations';`

	// held until commit so concurrent postgres runners apply one script at a time
	postgresMigrationLockSQL = `SELECT pg_advisory_xact_lock(7316204519);`
)

// Migration is one named schema script.
type Migration struct {
	Name string
	SQL  string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Name      string    `db:"name"`
	Seq       int       `db:"seq"`
	AppliedAt time.Time `db:"applied_at"`
}

// MigrationStatus lists applied and pending migrations in apply order.
type MigrationStatus struct {
	Applied []AppliedMigration
	Pending []string
}

// Migrator applies ordered schema scripts, each in its own transaction.
type Migrator struct {
	db     *sqlx.DB
	source fs.FS
	logger zerolog.Logger
}

// NewMigrator returns a migrator over the scripts embedded for the store's dialect.
func NewMigrator(store *Store, logger zerolog.Logger) (*Migrator, error) {
	db, err := store.getDB()
	if err != nil {
		return nil, err
	}
	source, err := fs.Sub(embeddedMigrations, path.Join("migrations", string(store.Dialect())))
	if err != nil {
		return nil, fmt.Errorf("migrations for dialect %q: %w", store.Dialect(), err)
	}
	return NewMigratorFS(db, source, logger), nil
}

// NewMigratorFS returns a migrator over *.sql files at the root of source.
func NewMigratorFS(db *sqlx.DB, source fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{
		db:     db,
		source: source,
		logger: logger.With().Str("component", "migrator").Logger(),
	}
}

// Load lists the migration scripts in lexical filename order.
func (m *Migrator) Load() ([]Migration, error) {
	names, err := fs.Glob(m.source, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(m.source, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		migrations = append(migrations, Migration{
			Name: strings.TrimSuffix(name, ".sql"),
			SQL:  string(body),
		})
	}
	return migrations, nil
}

// Applied reads the migration-record table. A missing table means nothing
// has been applied yet.
func (m *Migrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	applied := make([]AppliedMigration, 0)
	if err := m.db.SelectContext(ctx, &applied, listAppliedMigrationsSQL); err != nil {
		if isUndefinedTable(err) {
			return []AppliedMigration{}, nil
		}
		return nil, unavailable("list applied migrations", err)
	}
	return applied, nil
}

// Status reports applied and pending migrations.
func (m *Migrator) Status(ctx context.Context) (MigrationStatus, error) {
	migrations, err := m.Load()
	if err != nil {
		return MigrationStatus{}, err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return MigrationStatus{}, err
	}

	done := make(map[string]struct{}, len(applied))
	for _, a := range applied {
		done[a.Name] = struct{}{}
	}
	status := MigrationStatus{Applied: applied, Pending: make([]string, 0)}
	for _, mig := range migrations {
		if _, ok := done[mig.Name]; !ok {
			status.Pending = append(status.Pending, mig.Name)
		}
	}
	return status, nil
}

// ApplyPending applies every unrecorded migration in order and returns the
// names it applied. The first failing script aborts the run with a
// *SchemaError; migrations committed before it are left in place. Each
// script is re-checked inside its transaction, so a migration another
// runner committed in the meantime is skipped rather than re-applied.
func (m *Migrator) ApplyPending(ctx context.Context) ([]string, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if len(status.Pending) == 0 {
		m.logger.Debug().Int("applied", len(status.Applied)).Msg("schema up to date")
		return []string{}, nil
	}

	migrations, err := m.Load()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]Migration, len(migrations))
	for _, mig := range migrations {
		byName[mig.Name] = mig
	}

	applied := make([]string, 0, len(status.Pending))
	for _, name := range status.Pending {
		seq, err := m.apply(ctx, byName[name])
		if err != nil {
			return applied, err
		}
		if seq == 0 {
			m.logger.Debug().Str("migration", name).Msg("migration already applied by another runner")
			continue
		}
		m.logger.Info().Str("migration", name).Int("seq", seq).Msg("migration applied")
		applied = append(applied, name)
	}
	return applied, nil
}

// apply runs one script and records it, returning the assigned seq, or 0 when
// the script was already recorded.
func (m *Migrator) apply(ctx context.Context, mig Migration) (int, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin migration "+mig.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	recorded, err := m.recorded(ctx, tx, mig.Name)
	if err != nil {
		return 0, unavailable("check migration "+mig.Name, err)
	}
	if recorded {
		return 0, nil
	}

	// no bind args, so pgx falls back to the simple protocol and accepts multi-statement scripts
	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return 0, &SchemaError{Migration: mig.Name, Err: err}
	}
	var seq int
	if err := tx.GetContext(ctx, &seq, nextMigrationSeqSQL); err != nil {
		return 0, &SchemaError{Migration: mig.Name, Err: err}
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(recordMigrationSQL), mig.Name, seq, time.Now().UTC()); err != nil {
		return 0, &SchemaError{Migration: mig.Name, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &SchemaError{Migration: mig.Name, Err: err}
	}
	return seq, nil
}

// recorded reports whether name is already in schema_migrations as seen from
// tx. A missing table counts as not recorded; the lookup avoids querying it
// directly because a failed statement aborts a postgres transaction.
func (m *Migrator) recorded(ctx context.Context, tx *sqlx.Tx, name string) (bool, error) {
	tableSQL := sqliteMigrationTableSQL
	if m.db.DriverName() == "pgx" {
		if _, err := tx.ExecContext(ctx, postgresMigrationLockSQL); err != nil {
			return false, err
		}
		tableSQL = postgresMigrationTableSQL
	}

	var tables int
	if err := tx.GetContext(ctx, &tables, tableSQL); err != nil {
		return false, err
	}
	if tables == 0 {
		return false, nil
	}

	var count int
	if err := tx.GetContext(ctx, &count, tx.Rebind(isMigrationRecordedSQL), name); err != nil {
		return false, err
	}
	return count > 0, nil
}
