package store

import (
	"fmt"

	"github.com/mikey/mailguard/internal/core"
)

// tableFor maps a list kind to its table. Only these two names are ever
// interpolated into SQL.
func tableFor(list core.ListKind) (string, error) {
	switch list {
	case core.AllowList:
		return "allow_list", nil
	case core.DenyList:
		return "deny_list", nil
	default:
		return "", core.Invalid("list", "unknown list %q", list)
	}
}

func mysqlSchema() []string {
	var stmts []string
	for _, table := range []string{"allow_list", "deny_list"} {
		stmts = append(stmts, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			entry_type VARCHAR(16) NOT NULL,
			value VARCHAR(255) NOT NULL,
			comment TEXT NOT NULL,
			source VARCHAR(32) NOT NULL,
			hit_count BIGINT NOT NULL DEFAULT 1,
			last_seen_at DATETIME(6) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_%[1]s_key (tenant_id, entry_type, value),
			INDEX idx_%[1]s_created (created_at)
		)`, table))
	}
	return append(stmts, `
		CREATE TABLE IF NOT EXISTS offense_counters (
			tenant_id BIGINT NOT NULL,
			sender VARCHAR(255) NOT NULL,
			count BIGINT NOT NULL,
			last_seen_at DATETIME(6) NOT NULL,
			PRIMARY KEY (tenant_id, sender)
		)`, `
		CREATE TABLE IF NOT EXISTS quarantine_messages (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			message_id VARCHAR(512) NOT NULL,
			from_address VARCHAR(512) NOT NULL,
			to_address TEXT NOT NULL,
			subject TEXT NOT NULL,
			reason TEXT NOT NULL,
			spam_score DOUBLE NOT NULL,
			body LONGTEXT NOT NULL,
			headers LONGTEXT NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			released_at DATETIME(6) NULL,
			deleted_at DATETIME(6) NULL,
			expires_at DATETIME(6) NOT NULL,
			INDEX idx_quarantine_tenant_status (tenant_id, status),
			INDEX idx_quarantine_expires (expires_at)
		)`, `
		CREATE TABLE IF NOT EXISTS tenants (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`, `
		CREATE TABLE IF NOT EXISTS domains (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			name VARCHAR(255) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			UNIQUE KEY uq_domains_name (name)
		)`)
}

func sqliteSchema() []string {
	var stmts []string
	for _, table := range []string{"allow_list", "deny_list"} {
		stmts = append(stmts, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL,
			entry_type TEXT NOT NULL,
			value TEXT NOT NULL,
			comment TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			hit_count INTEGER NOT NULL DEFAULT 1,
			last_seen_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (tenant_id, entry_type, value)
		)`, table), fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%[1]s_created ON %[1]s(created_at)`, table))
	}
	return append(stmts, `
		CREATE TABLE IF NOT EXISTS offense_counters (
			tenant_id INTEGER NOT NULL,
			sender TEXT NOT NULL,
			count INTEGER NOT NULL,
			last_seen_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tenant_id, sender)
		)`, `
		CREATE TABLE IF NOT EXISTS quarantine_messages (
			id TEXT PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			message_id TEXT NOT NULL,
			from_address TEXT NOT NULL,
			to_address TEXT NOT NULL,
			subject TEXT NOT NULL,
			reason TEXT NOT NULL,
			spam_score REAL NOT NULL,
			body TEXT NOT NULL,
			headers TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			released_at TIMESTAMP NULL,
			deleted_at TIMESTAMP NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quarantine_tenant_status ON quarantine_messages(tenant_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_quarantine_expires ON quarantine_messages(expires_at)`, `
		CREATE TABLE IF NOT EXISTS tenants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 1
		)`, `
		CREATE TABLE IF NOT EXISTS domains (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL,
			name TEXT NOT NULL UNIQUE,
			active BOOLEAN NOT NULL DEFAULT 1
		)`)
}
