// Package migrations exposes the embedded gateway schema, one filesystem per
// SQL dialect, and hands the matching tree to a migration runner.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"strings"

	ingress "github.com/goliatone/go-ingress"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	defaultSourceLabel = "go-ingress"
	migrationsDir      = "data/sql/migrations"
)

// Source is the migration tree for one dialect. Versions lists the migration
// file stems in apply order, e.g. "00001_ingress_core".
type Source struct {
	Dialect  string
	Path     string
	FS       fs.FS
	Versions []string
}

type Registration struct {
	SourceLabel string
	Dialects    []string
	Sources     []Source
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.SourceLabel = trimmed
		}
	}
}

// WithValidationTargets restricts registration to the given dialects.
// Driver names such as "sqlite3" are accepted.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		var dialects []string
		for _, target := range targets {
			dialect, err := DialectForDriver(target)
			if err != nil || slices.Contains(dialects, dialect) {
				continue
			}
			dialects = append(dialects, dialect)
		}
		if len(dialects) > 0 {
			r.Dialects = dialects
		}
	}
}

// DialectForDriver maps a database/sql driver name onto a migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: no dialect for driver %q", driver)
	}
}

// Sources returns the postgres tree (the migrations root) and the sqlite
// tree (its sqlite/ subdirectory). root defaults to the embedded schema.
func Sources(root ...fs.FS) ([]Source, error) {
	tree := ingress.GetMigrationsFS()
	if len(root) > 0 && root[0] != nil {
		tree = root[0]
	}
	base, basePath, err := migrationsRoot(tree)
	if err != nil {
		return nil, err
	}

	postgres, err := loadSource(DialectPostgres, basePath, base)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}
	sqlite, err := loadSource(DialectSQLite, joinPath(basePath, "sqlite"), sqliteFS)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(postgres.Versions, sqlite.Versions) {
		return nil, fmt.Errorf("migrations: dialect trees diverge: postgres %v, sqlite %v", postgres.Versions, sqlite.Versions)
	}
	return []Source{postgres, sqlite}, nil
}

// Register calls registerFn once per selected dialect, in a stable order.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel: defaultSourceLabel,
		Dialects:    []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	sources, err := Sources()
	if err != nil {
		return reg, err
	}
	reg.Sources = sources

	for _, source := range sources {
		if !slices.Contains(reg.Dialects, source.Dialect) {
			continue
		}
		if err := registerFn(ctx, source.Dialect, reg.SourceLabel, source.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", source.Dialect, source.Path, err)
		}
	}
	return reg, nil
}

// loadSource lists the up migrations of fsys and requires a down migration
// for each of them.
func loadSource(dialect string, path string, fsys fs.FS) (Source, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return Source{}, fmt.Errorf("migrations: glob %s: %w", path, err)
	}
	if len(ups) == 0 {
		return Source{}, fmt.Errorf("migrations: %s tree %q has no *.up.sql files", dialect, path)
	}
	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(fsys, version+".down.sql"); err != nil {
			return Source{}, fmt.Errorf("migrations: %s %s has no down migration", dialect, version)
		}
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return Source{Dialect: dialect, Path: path, FS: fsys, Versions: versions}, nil
}

func migrationsRoot(tree fs.FS) (fs.FS, string, error) {
	if info, err := fs.Stat(tree, migrationsDir); err == nil && info.IsDir() {
		sub, err := fs.Sub(tree, migrationsDir)
		if err != nil {
			return nil, "", fmt.Errorf("migrations: resolve %s: %w", migrationsDir, err)
		}
		return sub, migrationsDir, nil
	}
	if matches, _ := fs.Glob(tree, "*.up.sql"); len(matches) > 0 {
		return tree, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", migrationsDir)
}

func joinPath(base string, name string) string {
	if base == "." {
		return name
	}
	return strings.TrimSuffix(base, "/") + "/" + name
}
