package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mikey/mailguard/internal/core"
)

// MemoryQuarantine is an in-memory quarantine repository
type MemoryQuarantine struct {
	mu       sync.Mutex
	messages map[string]*core.QuarantinedMessage
}

// NewMemoryQuarantine creates an empty in-memory quarantine
func NewMemoryQuarantine() *MemoryQuarantine {
	return &MemoryQuarantine{messages: map[string]*core.QuarantinedMessage{}}
}

func cloneMessage(m *core.QuarantinedMessage) *core.QuarantinedMessage {
	c := *m
	if m.Headers != nil {
		c.Headers = make(map[string][]string, len(m.Headers))
		for k, v := range m.Headers {
			c.Headers[k] = append([]string(nil), v...)
		}
	}
	return &c
}

// Create stores a newly quarantined message
func (q *MemoryQuarantine) Create(ctx context.Context, msg *core.QuarantinedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.messages[msg.ID]; ok {
		return core.ErrConflict
	}
	q.messages[msg.ID] = cloneMessage(msg)
	return nil
}

// Get loads a quarantined message by id
func (q *MemoryQuarantine) Get(ctx context.Context, id string) (*core.QuarantinedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.messages[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneMessage(m), nil
}

// List returns a page of quarantined messages, newest first
func (q *MemoryQuarantine) List(ctx context.Context, query core.QuarantineQuery) ([]*core.QuarantinedMessage, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var matches []*core.QuarantinedMessage
	for _, m := range q.messages {
		if query.TenantID != nil && m.TenantID != *query.TenantID {
			continue
		}
		if query.Status != "" && m.Status != query.Status {
			continue
		}
		if query.Search != "" && !strings.Contains(m.FromAddress, query.Search) &&
			!strings.Contains(m.ToAddress, query.Search) && !strings.Contains(m.Subject, query.Search) {
			continue
		}
		matches = append(matches, cloneMessage(m))
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return page(matches, query.Offset, query.Limit), len(matches), nil
}

// Transition moves a quarantined message into a terminal status
func (q *MemoryQuarantine) Transition(ctx context.Context, id string, to core.QuarantineStatus, at time.Time) error {
	if !to.Valid() || !to.Terminal() {
		return core.Invalid("status", "cannot transition to %q", to)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.messages[id]
	if !ok {
		return core.ErrNotFound
	}
	if m.Status != core.StatusQuarantined {
		return core.ErrConflict
	}
	at = at.UTC()
	m.Status = to
	if to == core.StatusReleased {
		m.ReleasedAt = &at
	} else {
		m.DeletedAt = &at
	}
	return nil
}

// PurgeExpired deletes messages whose retention has passed
func (q *MemoryQuarantine) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	for id, m := range q.messages {
		if !m.ExpiresAt.After(now) {
			delete(q.messages, id)
			n++
		}
	}
	return n, nil
}
