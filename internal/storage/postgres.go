// Package storage owns the database lifecycle: connection pooling and
// schema migrations. Query code lives next to the stores that run it.
package storage

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"MessengerCore/server/migrations"
)

// Connect opens a pgx pool and pings it once so a bad DSN fails at startup
// instead of on the first request.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "storage.Connect.ParseConfig")
	}

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "storage.Connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "storage.Connect.Ping")
	}
	return pool, nil
}

// Migrate applies the embedded goose migrations. It opens its own short
// lived database/sql connection; goose does not speak pgxpool.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errors.Wrap(err, "storage.Migrate.Open")
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "storage.Migrate.SetDialect")
	}
	if err := goose.Up(db, "."); err != nil {
		return errors.Wrap(err, "storage.Migrate.Up")
	}
	return nil
}
