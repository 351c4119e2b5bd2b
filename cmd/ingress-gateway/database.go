package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-ingress/core"
	ingressmigrations "github.com/goliatone/go-ingress/migrations"
)

const otelIdentifier = "go-ingress"

type persistenceConfig struct {
	database core.DatabaseConfig
}

func (c persistenceConfig) GetDebug() bool {
	return c.database.Debug
}

func (c persistenceConfig) GetDriver() string {
	return c.database.Driver
}

func (c persistenceConfig) GetServer() string {
	return c.database.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	if c.database.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.database.PingTimeout
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return otelIdentifier
}

// openDatabase connects with the configured driver, registers the embedded
// migrations for the matching dialect and applies them.
func openDatabase(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver != core.DatabaseDriverPostgres && driver != core.DatabaseDriverSQLite {
		return nil, fmt.Errorf("database: unsupported driver %q", cfg.Driver)
	}
	migrationDialect, err := ingressmigrations.DialectForDriver(driver)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", driver, err)
	}

	var client *persistence.Client
	if migrationDialect == ingressmigrations.DialectPostgres {
		client, err = persistence.New(persistenceConfig{database: cfg}, sqlDB, pgdialect.New())
	} else {
		sqlDB.SetMaxOpenConns(1)
		client, err = persistence.New(persistenceConfig{database: cfg}, sqlDB, sqlitedialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database: new persistence client: %w", err)
	}

	_, err = ingressmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != migrationDialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, ingressmigrations.WithValidationTargets(migrationDialect))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("database: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("database: migrate: %w", err)
	}
	return client, nil
}
