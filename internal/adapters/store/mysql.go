package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

const mysqlDuplicateEntry = 1062

// NewMySQLStore opens a MySQL database and creates the schema if needed
func NewMySQLStore(dsn string, maxOpenConns int, logger *zap.Logger) (*SQLStore, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	parsed.ParseTime = true

	db, err := sql.Open("mysql", parsed.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	store, err := newSQLStore(db, mysqlDialect(), logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func mysqlDialect() dialect {
	return dialect{
		name:   "mysql",
		schema: mysqlSchema(),
		upsertTrust: `
			INSERT INTO %s (tenant_id, entry_type, value, comment, source, hit_count, last_seen_at, created_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)
			ON DUPLICATE KEY UPDATE hit_count = hit_count + 1, last_seen_at = VALUES(last_seen_at)`,
		upsertOffense: `
			INSERT INTO offense_counters (tenant_id, sender, count, last_seen_at)
			VALUES (?, ?, 1, ?)
			ON DUPLICATE KEY UPDATE count = count + 1, last_seen_at = VALUES(last_seen_at)`,
		isDuplicate: func(err error) bool {
			var me *mysql.MySQLError
			return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
		},
	}
}
