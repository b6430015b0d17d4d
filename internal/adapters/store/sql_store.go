package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/mailguard/internal/core"
	"go.uber.org/zap"
)

// dialect holds the statements that differ between MySQL and SQLite
type dialect struct {
	name          string
	schema        []string
	upsertTrust   string // %s is the table name
	upsertOffense string
	isDuplicate   func(error) bool
}

// SQLStore is a database/sql implementation of the trust list, offense
// counter, quarantine and tenant repositories
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
	now     func() time.Time
}

const trustColumns = `id, tenant_id, entry_type, value, comment, source, hit_count, last_seen_at, created_at`

const quarantineColumns = `id, tenant_id, message_id, from_address, to_address, subject, reason,
	spam_score, body, headers, status, created_at, released_at, deleted_at, expires_at`

func newSQLStore(db *sql.DB, d dialect, logger *zap.Logger) (*SQLStore, error) {
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create %s schema: %w", d.name, err)
		}
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// DB exposes the underlying handle for collaborators that share the database
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrustEntry(row rowScanner, list core.ListKind) (*core.TrustEntry, error) {
	var e core.TrustEntry
	var typ, source string
	if err := row.Scan(&e.ID, &e.TenantID, &typ, &e.Value, &e.Comment, &source,
		&e.HitCount, &e.LastSeenAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.List = list
	e.Type = core.EntryType(typ)
	e.Source = core.Source(source)
	return &e, nil
}

// Upsert inserts the entry or increments the hit counter of the existing row
func (s *SQLStore) Upsert(ctx context.Context, entry *core.TrustEntry) (*core.TrustEntry, error) {
	table, err := tableFor(entry.List)
	if err != nil {
		return nil, err
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.upsertTrust, table),
		entry.TenantID, string(entry.Type), entry.Value, entry.Comment, string(entry.Source), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert %s entry: %w", entry.List, err)
	}
	return s.Get(ctx, entry.List, entry.TenantID, entry.Type, entry.Value)
}

// Insert creates the entry and fails with ErrConflict when the key exists
func (s *SQLStore) Insert(ctx context.Context, entry *core.TrustEntry) (*core.TrustEntry, error) {
	table, err := tableFor(entry.List)
	if err != nil {
		return nil, err
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (tenant_id, entry_type, value, comment, source, hit_count, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
	`, table), entry.TenantID, string(entry.Type), entry.Value, entry.Comment, string(entry.Source), now, now)
	if err != nil {
		if s.dialect.isDuplicate(err) {
			return nil, core.ErrConflict
		}
		return nil, fmt.Errorf("failed to insert %s entry: %w", entry.List, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return s.Get(ctx, entry.List, entry.TenantID, entry.Type, entry.Value)
	}
	return s.GetByID(ctx, entry.List, id)
}

// Get loads one entry by its unique key
func (s *SQLStore) Get(ctx context.Context, list core.ListKind, tenantID int64, typ core.EntryType, value string) (*core.TrustEntry, error) {
	table, err := tableFor(list)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE tenant_id = ? AND entry_type = ? AND value = ?
	`, trustColumns, table), tenantID, string(typ), value)

	e, err := scanTrustEntry(row, list)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query %s entry: %w", list, err)
	}
	return e, nil
}

// GetByID loads one entry by id
func (s *SQLStore) GetByID(ctx context.Context, list core.ListKind, id int64) (*core.TrustEntry, error) {
	table, err := tableFor(list)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, trustColumns, table), id)

	e, err := scanTrustEntry(row, list)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query %s entry: %w", list, err)
	}
	return e, nil
}

// Delete removes one entry by key
func (s *SQLStore) Delete(ctx context.Context, list core.ListKind, tenantID int64, typ core.EntryType, value string) (bool, error) {
	table, err := tableFor(list)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE tenant_id = ? AND entry_type = ? AND value = ?
	`, table), tenantID, string(typ), value)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s entry: %w", list, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete %s entry: %w", list, err)
	}
	return n > 0, nil
}

// DeleteByID removes one entry by id
func (s *SQLStore) DeleteByID(ctx context.Context, list core.ListKind, id int64) error {
	table, err := tableFor(list)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s entry: %w", list, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// List returns a page of entries and the total number of matches
func (s *SQLStore) List(ctx context.Context, q core.TrustQuery) ([]*core.TrustEntry, int, error) {
	table, err := tableFor(q.List)
	if err != nil {
		return nil, 0, err
	}

	var where []string
	var args []any
	if q.TenantID != nil {
		where = append(where, "tenant_id = ?")
		args = append(args, *q.TenantID)
	}
	if q.Type != "" {
		where = append(where, "entry_type = ?")
		args = append(args, string(q.Type))
	}
	if q.Search != "" {
		where = append(where, "value LIKE ?")
		args = append(args, "%"+q.Search+"%")
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, table, clause), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count %s entries: %w", q.List, err)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY id DESC LIMIT ? OFFSET ?`, trustColumns, table, clause),
		append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list %s entries: %w", q.List, err)
	}
	defer rows.Close()

	var entries []*core.TrustEntry
	for rows.Next() {
		e, err := scanTrustEntry(rows, q.List)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan %s entry: %w", q.List, err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// Walk visits every entry of a list in id order. Each batch is read fully
// before fn runs so no cursor stays open across callbacks.
func (s *SQLStore) Walk(ctx context.Context, list core.ListKind, tenantID *int64, batch int, fn func(*core.TrustEntry) error) error {
	table, err := tableFor(list)
	if err != nil {
		return err
	}
	if batch <= 0 {
		batch = 500
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id > ? ORDER BY id LIMIT ?`, trustColumns, table)
	if tenantID != nil {
		query = fmt.Sprintf(`SELECT %s FROM %s WHERE id > ? AND tenant_id = ? ORDER BY id LIMIT ?`, trustColumns, table)
	}

	var lastID int64
	for {
		args := []any{lastID}
		if tenantID != nil {
			args = append(args, *tenantID)
		}
		args = append(args, batch)

		entries, err := s.queryTrust(ctx, list, query, args...)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := fn(e); err != nil {
				return err
			}
			lastID = e.ID
		}
		if len(entries) < batch {
			return nil
		}
	}
}

func (s *SQLStore) queryTrust(ctx context.Context, list core.ListKind, query string, args ...any) ([]*core.TrustEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s entries: %w", list, err)
	}
	defer rows.Close()

	var entries []*core.TrustEntry
	for rows.Next() {
		e, err := scanTrustEntry(rows, list)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s entry: %w", list, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PurgeStale deletes auto-sourced entries created before cutoff that have
// fewer than minHits hits. Each delete re-checks the predicate so a row that
// was hit after selection survives.
func (s *SQLStore) PurgeStale(ctx context.Context, list core.ListKind, cutoff time.Time, minHits int64) ([]*core.TrustEntry, error) {
	table, err := tableFor(list)
	if err != nil {
		return nil, err
	}
	cutoff = cutoff.UTC()

	candidates, err := s.queryTrust(ctx, list, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE created_at < ? AND hit_count < ? AND source <> ?
		ORDER BY id
	`, trustColumns, table), cutoff, minHits, string(core.SourceManual))
	if err != nil {
		return nil, err
	}

	var purged []*core.TrustEntry
	for _, e := range candidates {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %s WHERE id = ? AND created_at < ? AND hit_count < ?
		`, table), e.ID, cutoff, minHits)
		if err != nil {
			return purged, fmt.Errorf("failed to purge %s entry %d: %w", list, e.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			purged = append(purged, e)
		}
	}
	return purged, nil
}

// IncrementOffense atomically increments and returns a sender's rejection counter
func (s *SQLStore) IncrementOffense(ctx context.Context, tenantID int64, sender string) (int64, error) {
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertOffense, tenantID, sender, s.now()); err != nil {
		return 0, fmt.Errorf("failed to increment offense counter: %w", err)
	}

	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM offense_counters WHERE tenant_id = ? AND sender = ?
	`, tenantID, sender).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to read offense counter: %w", err)
	}
	return count, nil
}

// TenantForDomain resolves the active tenant owning a domain
func (s *SQLStore) TenantForDomain(ctx context.Context, domain string) (*core.Tenant, error) {
	var t core.Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.name, t.active
		FROM domains d JOIN tenants t ON t.id = d.tenant_id
		WHERE d.name = ? AND d.active = ? AND t.active = ?
		LIMIT 1
	`, domain, true, true).Scan(&t.ID, &t.Name, &t.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve tenant for domain: %w", err)
	}
	return &t, nil
}

// FirstActiveTenant returns the active tenant with the lowest id
func (s *SQLStore) FirstActiveTenant(ctx context.Context) (*core.Tenant, error) {
	var t core.Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, active FROM tenants WHERE active = ? ORDER BY id LIMIT 1
	`, true).Scan(&t.ID, &t.Name, &t.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query active tenant: %w", err)
	}
	return &t, nil
}

// AddTenant creates a tenant owning the given domains. Tenant management
// belongs to the CRUD layer; this exists for seeding and the admin CLI.
func (s *SQLStore) AddTenant(ctx context.Context, name string, domains ...string) (*core.Tenant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO tenants (name, active) VALUES (?, ?)`, name, true)
	if err != nil {
		return nil, fmt.Errorf("failed to insert tenant: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant id: %w", err)
	}

	for _, d := range domains {
		domain, err := core.NormalizeDomain(d)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO domains (tenant_id, name, active) VALUES (?, ?, ?)`,
			id, domain, true); err != nil {
			if s.dialect.isDuplicate(err) {
				return nil, &core.ConflictError{Message: fmt.Sprintf("domain %s already belongs to a tenant", domain)}
			}
			return nil, fmt.Errorf("failed to insert domain: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tenant: %w", err)
	}
	return &core.Tenant{ID: id, Name: name, Active: true}, nil
}

// SetTenantActive toggles a tenant
func (s *SQLStore) SetTenantActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tenants SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}
	return nil
}
