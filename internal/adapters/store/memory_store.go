package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mikey/mailguard/internal/core"
)

type trustKey struct {
	tenantID int64
	typ      core.EntryType
	value    string
}

type offenseKey struct {
	tenantID int64
	sender   string
}

// MemoryStore is an in-memory implementation of the trust list, offense
// counter and tenant repositories. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[core.ListKind]map[trustKey]*core.TrustEntry
	nextID   map[core.ListKind]int64
	offenses map[offenseKey]int64
	tenants  []*core.Tenant
	domains  map[string]int64
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[core.ListKind]map[trustKey]*core.TrustEntry{
			core.AllowList: {},
			core.DenyList:  {},
		},
		nextID:   map[core.ListKind]int64{},
		offenses: map[offenseKey]int64{},
		domains:  map[string]int64{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) table(list core.ListKind) (map[trustKey]*core.TrustEntry, error) {
	if _, err := tableFor(list); err != nil {
		return nil, err
	}
	return s.entries[list], nil
}

func keyOf(e *core.TrustEntry) trustKey {
	return trustKey{tenantID: e.TenantID, typ: e.Type, value: e.Value}
}

func clone(e *core.TrustEntry) *core.TrustEntry {
	c := *e
	return &c
}

// Upsert inserts the entry or increments the hit counter of the existing one
func (s *MemoryStore) Upsert(ctx context.Context, entry *core.TrustEntry) (*core.TrustEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.table(entry.List)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if existing, ok := table[keyOf(entry)]; ok {
		existing.HitCount++
		existing.LastSeenAt = now
		return clone(existing), nil
	}
	return clone(s.insertLocked(table, entry, now)), nil
}

// Insert creates the entry and fails with ErrConflict when the key exists
func (s *MemoryStore) Insert(ctx context.Context, entry *core.TrustEntry) (*core.TrustEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.table(entry.List)
	if err != nil {
		return nil, err
	}
	if _, ok := table[keyOf(entry)]; ok {
		return nil, core.ErrConflict
	}
	return clone(s.insertLocked(table, entry, s.now())), nil
}

func (s *MemoryStore) insertLocked(table map[trustKey]*core.TrustEntry, entry *core.TrustEntry, now time.Time) *core.TrustEntry {
	s.nextID[entry.List]++
	stored := clone(entry)
	stored.ID = s.nextID[entry.List]
	stored.HitCount = 1
	stored.LastSeenAt = now
	stored.CreatedAt = now
	table[keyOf(stored)] = stored
	return stored
}

// Get loads one entry by key
func (s *MemoryStore) Get(ctx context.Context, list core.ListKind, tenantID int64, typ core.EntryType, value string) (*core.TrustEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.table(list)
	if err != nil {
		return nil, err
	}
	e, ok := table[trustKey{tenantID, typ, value}]
	if !ok {
		return nil, core.ErrNotFound
	}
	return clone(e), nil
}

// GetByID loads one entry by id
func (s *MemoryStore) GetByID(ctx context.Context, list core.ListKind, id int64) (*core.TrustEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.table(list)
	if err != nil {
		return nil, err
	}
	for _, e := range table {
		if e.ID == id {
			return clone(e), nil
		}
	}
	return nil, core.ErrNotFound
}

// Delete removes one entry by key
func (s *MemoryStore) Delete(ctx context.Context, list core.ListKind, tenantID int64, typ core.EntryType, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.table(list)
	if err != nil {
		return false, err
	}
	k := trustKey{tenantID, typ, value}
	if _, ok := table[k]; !ok {
		return false, nil
	}
	delete(table, k)
	return true, nil
}

// DeleteByID removes one entry by id
func (s *MemoryStore) DeleteByID(ctx context.Context, list core.ListKind, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.table(list)
	if err != nil {
		return err
	}
	for k, e := range table {
		if e.ID == id {
			delete(table, k)
			return nil
		}
	}
	return core.ErrNotFound
}

// sorted returns the entries matching keep ordered by ascending id
func (s *MemoryStore) sorted(table map[trustKey]*core.TrustEntry, keep func(*core.TrustEntry) bool) []*core.TrustEntry {
	var out []*core.TrustEntry
	for _, e := range table {
		if keep(e) {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns a page of entries, newest first, and the total number of matches
func (s *MemoryStore) List(ctx context.Context, q core.TrustQuery) ([]*core.TrustEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.table(q.List)
	if err != nil {
		return nil, 0, err
	}
	matches := s.sorted(table, func(e *core.TrustEntry) bool {
		if q.TenantID != nil && e.TenantID != *q.TenantID {
			return false
		}
		if q.Type != "" && e.Type != q.Type {
			return false
		}
		return q.Search == "" || strings.Contains(e.Value, q.Search)
	})
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID > matches[j].ID })
	return page(matches, q.Offset, q.Limit), len(matches), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Walk visits every entry of a list in id order. The callback runs without
// the lock held.
func (s *MemoryStore) Walk(ctx context.Context, list core.ListKind, tenantID *int64, batch int, fn func(*core.TrustEntry) error) error {
	s.mu.Lock()
	table, err := s.table(list)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	entries := s.sorted(table, func(e *core.TrustEntry) bool {
		return tenantID == nil || e.TenantID == *tenantID
	})
	s.mu.Unlock()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// PurgeStale deletes auto-sourced entries created before cutoff with fewer
// than minHits hits
func (s *MemoryStore) PurgeStale(ctx context.Context, list core.ListKind, cutoff time.Time, minHits int64) ([]*core.TrustEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.table(list)
	if err != nil {
		return nil, err
	}
	purged := s.sorted(table, func(e *core.TrustEntry) bool {
		return e.Source.IsAuto() && e.CreatedAt.Before(cutoff) && e.HitCount < minHits
	})
	for _, e := range purged {
		delete(table, keyOf(e))
	}
	return purged, nil
}

// IncrementOffense increments and returns a sender's rejection counter
func (s *MemoryStore) IncrementOffense(ctx context.Context, tenantID int64, sender string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := offenseKey{tenantID, sender}
	s.offenses[k]++
	return s.offenses[k], nil
}

// AddTenant creates an active tenant owning the given domains
func (s *MemoryStore) AddTenant(ctx context.Context, name string, domains ...string) (*core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		domain, err := core.NormalizeDomain(d)
		if err != nil {
			return nil, err
		}
		if _, taken := s.domains[domain]; taken {
			return nil, &core.ConflictError{Message: "domain " + domain + " already belongs to a tenant"}
		}
		normalized = append(normalized, domain)
	}

	t := &core.Tenant{ID: int64(len(s.tenants) + 1), Name: name, Active: true}
	s.tenants = append(s.tenants, t)
	for _, d := range normalized {
		s.domains[d] = t.ID
	}
	c := *t
	return &c, nil
}

// SetTenantActive toggles a tenant
func (s *MemoryStore) SetTenantActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tenants {
		if t.ID == id {
			t.Active = active
			return nil
		}
	}
	return core.ErrNotFound
}

// TenantForDomain resolves the active tenant owning a domain
func (s *MemoryStore) TenantForDomain(ctx context.Context, domain string) (*core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.domains[domain]
	if !ok {
		return nil, core.ErrNotFound
	}
	for _, t := range s.tenants {
		if t.ID == id && t.Active {
			c := *t
			return &c, nil
		}
	}
	return nil, core.ErrNotFound
}

// FirstActiveTenant returns the active tenant with the lowest id
func (s *MemoryStore) FirstActiveTenant(ctx context.Context) (*core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tenants {
		if t.Active {
			c := *t
			return &c, nil
		}
	}
	return nil, core.ErrNotFound
}
