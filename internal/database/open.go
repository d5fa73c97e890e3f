package database

import (
	"context"
	"strings"
)

// IsPostgresDSN reports whether dsn selects the PostgreSQL backend
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open returns a migrated detection log for dsn: a postgres:// URL selects
// PostgreSQL, anything else is a SQLite path.
func Open(ctx context.Context, dsn string) (Log, error) {
	if IsPostgresDSN(dsn) {
		return NewPostgres(ctx, dsn)
	}

	db, err := New(dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
