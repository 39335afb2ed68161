package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5"
)

type migration struct {
	version int
	name    string
	sql     string
}

// migrations are applied in order; append only.
var migrations = []migration{
	{version: 1, name: "create_firings", sql: `
CREATE TABLE IF NOT EXISTS firings (
    id          BIGSERIAL PRIMARY KEY,
    kind        VARCHAR(32) NOT NULL,
    alarm_id    VARCHAR(64),
    task_id     VARCHAR(64),
    sound       VARCHAR(100),
    sound_ref   VARCHAR(255),
    label       TEXT,
    title       TEXT,
    at          TIMESTAMPTZ NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_kind CHECK (kind IN ('alarm_ring', 'alarm_dismissed', 'task_reminder'))
);
CREATE INDEX IF NOT EXISTS idx_firings_at ON firings(at DESC);
CREATE INDEX IF NOT EXISTS idx_firings_alarm_id ON firings(alarm_id) WHERE alarm_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_firings_task_id ON firings(task_id) WHERE task_id IS NOT NULL;
`},
}

// migrationLock serializes daemons migrating the same database.
const migrationLock int64 = 0x6368726f6e6f73

// ErrMigrationFailed wraps any failure inside Migrate.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// Migrator brings the schema up to date.
type Migrator struct {
	conn   *Connection
	logger *slog.Logger
}

func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, logger: slog.Default().With("component", "migrator")}
}

// Migrate applies every pending migration in one transaction, holding an
// advisory lock so concurrent daemons apply each version once.
func (m *Migrator) Migrate(ctx context.Context) error {
	tx, err := m.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrMigrationFailed, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLock); err != nil {
		return fmt.Errorf("%w: lock: %v", ErrMigrationFailed, err)
	}
	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chronos_schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("%w: version table: %v", ErrMigrationFailed, err)
	}

	applied, err := appliedVersions(ctx, tx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	todo := pending(migrations, applied)
	for _, mig := range todo {
		if _, err := tx.Exec(ctx, mig.sql); err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.version, err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO chronos_schema_migrations (version, name) VALUES ($1, $2)",
			mig.version, mig.name); err != nil {
			return fmt.Errorf("%w: record version %d: %v", ErrMigrationFailed, mig.version, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrMigrationFailed, err)
	}
	if len(todo) > 0 {
		m.logger.Info("schema migrated", "applied", len(todo), "version", todo[len(todo)-1].version)
	}
	return nil
}

func appliedVersions(ctx context.Context, tx pgx.Tx) ([]int, error) {
	rows, err := tx.Query(ctx, "SELECT version FROM chronos_schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

// pending returns the migrations whose version is not in applied.
func pending(all []migration, applied []int) []migration {
	var out []migration
	for _, m := range all {
		if !slices.Contains(applied, m.version) {
			out = append(out, m)
		}
	}
	return out
}
