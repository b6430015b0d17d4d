// Package trustlist is the validated entry point to the allow and deny lists.
// Every successful write schedules the matching cache projection.
package trustlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/mailguard/internal/cachesync"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/metrics"
	"go.uber.org/zap"
)

// Service validates trust list writes and keeps the cache projection current
type Service struct {
	repo       core.TrustListRepository
	projector  *cachesync.Projector
	dispatcher *cachesync.Dispatcher
	logger     *zap.Logger
}

// NewService creates a trust list service
func NewService(repo core.TrustListRepository, projector *cachesync.Projector, dispatcher *cachesync.Dispatcher, logger *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		projector:  projector,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Key identifies a trust entry within one list
type Key struct {
	TenantID int64
	Type     core.EntryType
	Value    string
}

// normalize validates a key and returns it in canonical form
func normalize(list core.ListKind, k Key) (Key, error) {
	if !list.Valid() {
		return k, core.Invalid("list", "unknown list %q", list)
	}
	if k.TenantID <= 0 {
		return k, core.Invalid("tenant_id", "must be a positive id")
	}
	if !k.Type.Valid() {
		return k, core.Invalid("type", "must be one of email, domain, ip")
	}
	value, err := core.NormalizeValue(k.Type, k.Value)
	if err != nil {
		return k, err
	}
	k.Value = value
	return k, nil
}

// Upsert creates the entry or, if the key exists, increments its hit count
func (s *Service) Upsert(ctx context.Context, list core.ListKind, k Key, comment string, source core.Source) (*core.TrustEntry, error) {
	k, err := normalize(list, k)
	if err != nil {
		return nil, err
	}
	if !source.Valid() {
		return nil, core.Invalid("source", "unknown source %q", source)
	}

	entry, err := s.repo.Upsert(ctx, &core.TrustEntry{
		List:     list,
		TenantID: k.TenantID,
		Type:     k.Type,
		Value:    k.Value,
		Comment:  strings.TrimSpace(comment),
		Source:   source,
	})
	if err != nil {
		return nil, err
	}

	metrics.TrustWrites.WithLabelValues(string(list), "upsert").Inc()
	s.project(entry)
	return entry, nil
}

// Add creates a manual entry and fails with a ConflictError if the key exists
func (s *Service) Add(ctx context.Context, list core.ListKind, k Key, comment string) (*core.TrustEntry, error) {
	k, err := normalize(list, k)
	if err != nil {
		return nil, err
	}

	entry, err := s.repo.Insert(ctx, &core.TrustEntry{
		List:     list,
		TenantID: k.TenantID,
		Type:     k.Type,
		Value:    k.Value,
		Comment:  strings.TrimSpace(comment),
		Source:   core.SourceManual,
	})
	if errors.Is(err, core.ErrConflict) {
		return nil, &core.ConflictError{
			Message: fmt.Sprintf("%s %s is already on the %s list for tenant %d", k.Type, k.Value, list, k.TenantID),
		}
	}
	if err != nil {
		return nil, err
	}

	metrics.TrustWrites.WithLabelValues(string(list), "add").Inc()
	s.project(entry)
	return entry, nil
}

// Exists reports whether the key is on the list
func (s *Service) Exists(ctx context.Context, list core.ListKind, k Key) (bool, error) {
	k, err := normalize(list, k)
	if err != nil {
		return false, err
	}
	_, err = s.repo.Get(ctx, list, k.TenantID, k.Type, k.Value)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes the key from the list and reports whether it was present
func (s *Service) Remove(ctx context.Context, list core.ListKind, k Key) (bool, error) {
	k, err := normalize(list, k)
	if err != nil {
		return false, err
	}
	removed, err := s.repo.Delete(ctx, list, k.TenantID, k.Type, k.Value)
	if err != nil {
		return false, err
	}

	// Retract even when nothing was removed; a stale key may outlive its row
	s.retract(&core.TrustEntry{List: list, TenantID: k.TenantID, Type: k.Type, Value: k.Value})
	if removed {
		metrics.TrustWrites.WithLabelValues(string(list), "remove").Inc()
	}
	return removed, nil
}

// RemoveByID deletes an entry by id
func (s *Service) RemoveByID(ctx context.Context, list core.ListKind, id int64) (*core.TrustEntry, error) {
	if !list.Valid() {
		return nil, core.Invalid("list", "unknown list %q", list)
	}
	entry, err := s.repo.GetByID(ctx, list, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, &core.NotFoundError{Resource: string(list) + " entry", ID: fmt.Sprint(id)}
	}
	if err != nil {
		return nil, err
	}

	err = s.repo.DeleteByID(ctx, list, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, &core.NotFoundError{Resource: string(list) + " entry", ID: fmt.Sprint(id)}
	}
	if err != nil {
		return nil, err
	}

	metrics.TrustWrites.WithLabelValues(string(list), "remove").Inc()
	s.retract(entry)
	return entry, nil
}

// List returns a page of entries
func (s *Service) List(ctx context.Context, q core.TrustQuery) ([]*core.TrustEntry, int, error) {
	if !q.List.Valid() {
		return nil, 0, core.Invalid("list", "unknown list %q", q.List)
	}
	if q.Type != "" && !q.Type.Valid() {
		return nil, 0, core.Invalid("type", "must be one of email, domain, ip")
	}
	q.Search = strings.ToLower(strings.TrimSpace(q.Search))
	return s.repo.List(ctx, q)
}

// Lookup resolves the effective policy of a key. Deny wins when the key is
// on both lists.
func (s *Service) Lookup(ctx context.Context, k Key) (core.Disposition, error) {
	for _, list := range []core.ListKind{core.DenyList, core.AllowList} {
		found, err := s.Exists(ctx, list, k)
		if err != nil {
			return core.DispositionNone, err
		}
		if found {
			if list == core.DenyList {
				return core.DispositionDenied, nil
			}
			return core.DispositionAllowed, nil
		}
	}
	return core.DispositionNone, nil
}

// PurgeStaleDenies removes auto-sourced deny entries created before cutoff
// that were hit fewer than minHits times. Manual entries are never purged.
func (s *Service) PurgeStaleDenies(ctx context.Context, cutoff time.Time, minHits int64) ([]*core.TrustEntry, error) {
	purged, err := s.repo.PurgeStale(ctx, core.DenyList, cutoff, minHits)
	for _, e := range purged {
		s.retract(e)
	}
	if n := len(purged); n > 0 {
		metrics.PurgedEntries.WithLabelValues("deny").Add(float64(n))
		s.logger.Info("Purged stale deny entries", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return purged, err
}

// ResyncTenant schedules a full cache rebuild for one tenant
func (s *Service) ResyncTenant(tenantID int64) bool {
	return s.dispatcher.Submit(cachesync.Task{
		Key:  fmt.Sprintf("resync:tenant:%d", tenantID),
		Name: fmt.Sprintf("resync tenant %d", tenantID),
		Run: func(ctx context.Context) error {
			_, err := s.projector.ResyncAll(ctx, &tenantID)
			return err
		},
		Timeout: s.projector.ResyncTimeout(),
	})
}

func (s *Service) project(e *core.TrustEntry) {
	tenantKey, _ := s.projector.Keys(e)
	s.dispatcher.Submit(cachesync.Task{
		Key:  tenantKey,
		Name: "project " + tenantKey,
		Run:  func(ctx context.Context) error { return s.projector.Project(ctx, e) },
	})
}

func (s *Service) retract(e *core.TrustEntry) {
	tenantKey, _ := s.projector.Keys(e)
	s.dispatcher.Submit(cachesync.Task{
		Key:  tenantKey,
		Name: "retract " + tenantKey,
		Run:  func(ctx context.Context) error { return s.projector.Retract(ctx, e) },
	})
}
