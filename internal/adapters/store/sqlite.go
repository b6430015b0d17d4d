package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// NewSQLiteStore opens a SQLite database and creates the schema if needed.
// A path of ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// One connection serializes writers and keeps an in-memory database alive
	db.SetMaxOpenConns(1)

	store, err := newSQLStore(db, sqliteDialect(), logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func sqliteDialect() dialect {
	return dialect{
		name:   "sqlite",
		schema: sqliteSchema(),
		upsertTrust: `
			INSERT INTO %s (tenant_id, entry_type, value, comment, source, hit_count, last_seen_at, created_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(tenant_id, entry_type, value)
			DO UPDATE SET hit_count = hit_count + 1, last_seen_at = excluded.last_seen_at`,
		upsertOffense: `
			INSERT INTO offense_counters (tenant_id, sender, count, last_seen_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(tenant_id, sender)
			DO UPDATE SET count = count + 1, last_seen_at = excluded.last_seen_at`,
		isDuplicate: func(err error) bool {
			var se sqlite3.Error
			if !errors.As(err, &se) {
				return false
			}
			return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
				se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
		},
	}
}
