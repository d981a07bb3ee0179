// Package persistence opens the accounts database and applies the
// embedded migrations for its dialect.
package persistence

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/migrate"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// MigrationsRoot is where the dialect directories live in the
	// embedded filesystem
	MigrationsRoot = "data/sql/migrations"
)

// Config holds the database settings
type Config interface {
	GetDriver() string
	GetDSN() string
	GetDebug() bool
}

// Logger takes a message followed by key/value pairs
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Open connects to the configured database and returns a bun client for it
func Open(cfg Config) (*bun.DB, error) {
	driver := strings.ToLower(cfg.GetDriver())

	var db *bun.DB
	switch driver {
	case DriverSQLite, "":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.GetDSN())
		if err != nil {
			return nil, wrapOpenError(err, DriverSQLite)
		}
		// sqlite serializes writers, a single connection avoids SQLITE_BUSY
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		sqldb, err := sql.Open("pgx", cfg.GetDSN())
		if err != nil {
			return nil, wrapOpenError(err, DriverPostgres)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, goerrors.New("unsupported database driver", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"driver": driver})
	}

	if cfg.GetDebug() {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	return db, nil
}

// Dialect returns the migrations directory name for db
func Dialect(db *bun.DB) string {
	if db.Dialect().Name() == dialect.PG {
		return DriverPostgres
	}
	return DriverSQLite
}

// Migrate applies every pending migration found in fsys under
// data/sql/migrations/<dialect>
func Migrate(ctx context.Context, db *bun.DB, fsys fs.FS, logger Logger) error {
	dialectFS, err := fs.Sub(fsys, MigrationsRoot+"/"+Dialect(db))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open migrations directory")
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(dialectFS); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to discover migrations")
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to init migrations")
	}

	if err := migrator.Lock(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to lock migrations")
	}
	defer migrator.Unlock(ctx)

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to apply migrations")
	}

	if logger != nil {
		if group.IsZero() {
			logger.Info("database schema up to date", "dialect", Dialect(db))
		} else {
			logger.Info("database migrated", "dialect", Dialect(db), "group", group.String())
		}
	}

	return nil
}

// Rollback reverts the last migration group
func Rollback(ctx context.Context, db *bun.DB, fsys fs.FS) error {
	dialectFS, err := fs.Sub(fsys, MigrationsRoot+"/"+Dialect(db))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open migrations directory")
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(dialectFS); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to discover migrations")
	}

	migrator := migrate.NewMigrator(db, migrations)
	if _, err := migrator.Rollback(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to roll back migrations")
	}
	return nil
}

func wrapOpenError(err error, driver string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open database").
		WithMetadata(map[string]any{"driver": driver})
}
