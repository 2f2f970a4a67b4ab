package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	gateway "github.com/goliatone/go-webhook-gateway"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootDir = "data/sql/migrations"
)

// Set is the ledger schema for one SQL dialect. Versions lists the migration
// ids in apply order; every id has both an up and a down file.
type Set struct {
	Dialect  string
	Path     string
	FS       fs.FS
	Versions []string
}

type ApplyFunc func(ctx context.Context, set Set) error

// ForDialect resolves the embedded schema for dialect. An alternative tree
// may be passed for tests; it must contain data/sql/migrations.
func ForDialect(dialect string, sources ...fs.FS) (Set, error) {
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	root := gateway.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}

	dir := rootDir
	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		dir = rootDir + "/sqlite"
	default:
		return Set{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}

	sub, err := fs.Sub(root, dir)
	if err != nil {
		return Set{}, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	versions, err := pairedVersions(sub)
	if err != nil {
		return Set{}, fmt.Errorf("migrations: %s: %w", dir, err)
	}
	return Set{Dialect: dialect, Path: dir, FS: sub, Versions: versions}, nil
}

// All returns the postgres and sqlite sets.
func All(sources ...fs.FS) ([]Set, error) {
	sets := make([]Set, 0, 2)
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		set, err := ForDialect(dialect, sources...)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// Apply resolves the set for dialect and hands it to apply, typically a
// persistence client registering and running the files.
func Apply(ctx context.Context, dialect string, apply ApplyFunc) (Set, error) {
	if apply == nil {
		return Set{}, fmt.Errorf("migrations: apply function is required")
	}
	set, err := ForDialect(dialect)
	if err != nil {
		return Set{}, err
	}
	if err := apply(ctx, set); err != nil {
		return set, fmt.Errorf("migrations: apply %s (%s): %w", set.Dialect, set.Path, err)
	}
	return set, nil
}

func pairedVersions(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("no *.up.sql files")
	}
	versions := make([]string, 0, len(ups))
	for version := range ups {
		if !downs[version] {
			return nil, fmt.Errorf("%s has no down migration", version)
		}
		versions = append(versions, version)
	}
	for version := range downs {
		if !ups[version] {
			return nil, fmt.Errorf("%s has no up migration", version)
		}
	}
	sort.Strings(versions)
	return versions, nil
}
