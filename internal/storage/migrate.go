package storage

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultMigrationsTable is the goose version table used when none is configured.
const DefaultMigrationsTable = "emailer_schema_migrations"

// Migrate applies all pending schema migrations.
func Migrate(ctx context.Context, db *DB, table string, log zerolog.Logger) error {
	if table == "" {
		table = DefaultMigrationsTable
	}

	// The sql.DB shares connections with the pool, so it is not closed here.
	sqlDB := stdlib.OpenDBFromPool(db.Pool)

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{log: log})
	goose.SetTableName(table)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

type gooseLogger struct {
	log zerolog.Logger
}

func (g *gooseLogger) Printf(format string, args ...any) {
	g.log.Info().Msgf(format, args...)
}

// Fatalf logs at error level only; goose returns the error to the caller.
func (g *gooseLogger) Fatalf(format string, args ...any) {
	g.log.Error().Msgf(format, args...)
}
