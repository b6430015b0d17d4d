// Package quarantine drives held messages through their lifecycle:
// quarantined, then exactly one of released, reported or deleted.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/escalation"
	"github.com/mikey/mailguard/internal/metrics"
	"github.com/mikey/mailguard/internal/trustlist"
	"go.uber.org/zap"
)

// MaxBulk caps the number of ids accepted by BulkRelease
const MaxBulk = 500

// Escalator applies escalation rules to an AI classification
type Escalator interface {
	EvaluateClassification(ctx context.Context, tenantID int64, sender string, cls *core.Classification) (*escalation.Decision, error)
}

// Config holds the manager's timeouts and retention
type Config struct {
	RelayTimeout    time.Duration
	ClassifyTimeout time.Duration
	Retention       time.Duration
}

// Manager executes operator decisions on quarantined messages
type Manager struct {
	repo       core.QuarantineRepository
	trust      *trustlist.Service
	tenants    core.TenantResolver
	relay      core.Relay
	classifier core.Classifier
	escalator  Escalator
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewManager creates a quarantine manager. classifier and escalator may be
// nil, in which case Classify is unavailable.
func NewManager(
	repo core.QuarantineRepository,
	trust *trustlist.Service,
	tenants core.TenantResolver,
	relay core.Relay,
	classifier core.Classifier,
	escalator Escalator,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.RelayTimeout <= 0 {
		cfg.RelayTimeout = 30 * time.Second
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = 30 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &Manager{
		repo:       repo,
		trust:      trust,
		tenants:    tenants,
		relay:      relay,
		classifier: classifier,
		escalator:  escalator,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Get loads a message
func (m *Manager) Get(ctx context.Context, id string) (*core.QuarantinedMessage, error) {
	msg, err := m.repo.Get(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, &core.NotFoundError{Resource: "quarantined message", ID: id}
	}
	return msg, err
}

// List returns a page of messages
func (m *Manager) List(ctx context.Context, q core.QuarantineQuery) ([]*core.QuarantinedMessage, int, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, 0, core.Invalid("status", "unknown status %q", q.Status)
	}
	return m.repo.List(ctx, q)
}

// Release delivers the message and only then marks it released. A delivery
// failure leaves the message quarantined.
func (m *Manager) Release(ctx context.Context, id string) (*core.QuarantinedMessage, error) {
	msg, err := m.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.deliver(ctx, msg); err != nil {
		return nil, err
	}
	return m.transition(ctx, msg, core.StatusReleased)
}

// Approve releases the message, then allow-lists its sender on the message's
// tenant and lifts any deny entry for it. Nothing is listed if delivery fails.
func (m *Manager) Approve(ctx context.Context, id string) (*core.QuarantinedMessage, error) {
	msg, err := m.Release(ctx, id)
	if err != nil {
		return nil, err
	}

	key, ok := m.senderKey(msg)
	if !ok {
		return msg, nil
	}
	if _, err := m.trust.Upsert(ctx, core.AllowList, key, "Approved from quarantine", core.SourceManual); err != nil {
		return msg, fmt.Errorf("message released but allow-listing failed: %w", err)
	}
	if _, err := m.trust.Remove(ctx, core.DenyList, key); err != nil {
		return msg, fmt.Errorf("message released but deny entry removal failed: %w", err)
	}
	return msg, nil
}

// Reject reports the message as spam and deny-lists its sender. No delivery
// is attempted.
func (m *Manager) Reject(ctx context.Context, id string) (*core.QuarantinedMessage, error) {
	msg, err := m.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	msg, err = m.transition(ctx, msg, core.StatusReported)
	if err != nil {
		return nil, err
	}

	key, ok := m.senderKey(msg)
	if !ok {
		return msg, nil
	}
	if _, err := m.trust.Upsert(ctx, core.DenyList, key, "Rejected from quarantine", core.SourceManual); err != nil {
		return msg, fmt.Errorf("message reported but deny-listing failed: %w", err)
	}
	if _, err := m.trust.Remove(ctx, core.AllowList, key); err != nil {
		return msg, fmt.Errorf("message reported but allow entry removal failed: %w", err)
	}
	return msg, nil
}

// Delete discards the message without touching the trust lists
func (m *Manager) Delete(ctx context.Context, id string) (*core.QuarantinedMessage, error) {
	msg, err := m.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.transition(ctx, msg, core.StatusDeleted)
}

// BulkError is one failed id of a bulk release
type BulkError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkResult summarizes a bulk release
type BulkResult struct {
	SuccessCount int         `json:"success_count"`
	ErrorCount   int         `json:"error_count"`
	Errors       []BulkError `json:"errors,omitempty"`
}

// BulkRelease releases each id independently. Failures are collected and do
// not stop the batch.
func (m *Manager) BulkRelease(ctx context.Context, ids []string) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, core.Invalid("ids", "must not be empty")
	}
	if len(ids) > MaxBulk {
		return nil, core.Invalid("ids", "at most %d ids per request", MaxBulk)
	}

	result := &BulkResult{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := m.Release(ctx, id); err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, BulkError{ID: id, Error: err.Error()})
			m.logger.Warn("Bulk release failed for message", zap.String("id", id), zap.Error(err))
			continue
		}
		result.SuccessCount++
	}

	m.logger.Info("Bulk release finished",
		zap.Int("success_count", result.SuccessCount),
		zap.Int("error_count", result.ErrorCount))
	return result, nil
}

// PurgeExpired deletes messages past their retention
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.repo.PurgeExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.PurgedEntries.WithLabelValues("quarantine").Add(float64(n))
		m.logger.Info("Purged expired quarantined messages", zap.Int64("count", n))
	}
	return n, nil
}

// pending loads a message and checks it is still quarantined
func (m *Manager) pending(ctx context.Context, id string) (*core.QuarantinedMessage, error) {
	msg, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Status != core.StatusQuarantined {
		return nil, &core.ConflictError{Message: fmt.Sprintf("message %s is already %s", id, msg.Status)}
	}
	return msg, nil
}

func (m *Manager) deliver(ctx context.Context, msg *core.QuarantinedMessage) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RelayTimeout)
	defer cancel()

	// Body is the raw message kept by Ingest and already carries its headers
	env := &core.Envelope{
		From:    msg.FromAddress,
		To:      splitAddresses(msg.ToAddress),
		Subject: msg.Subject,
		Body:    msg.Body,
	}
	if err := m.relay.Deliver(ctx, env); err != nil {
		metrics.DeliveryFailures.Inc()
		m.logger.Error("Failed to deliver released message",
			zap.String("id", msg.ID),
			zap.String("from", msg.FromAddress),
			zap.Error(err))
		return &core.DeliveryError{MessageID: msg.ID, Err: err}
	}
	return nil
}

func (m *Manager) transition(ctx context.Context, msg *core.QuarantinedMessage, to core.QuarantineStatus) (*core.QuarantinedMessage, error) {
	at := m.now()
	err := m.repo.Transition(ctx, msg.ID, to, at)
	switch {
	case errors.Is(err, core.ErrConflict):
		if to == core.StatusReleased {
			m.logger.Warn("Message was delivered but changed state concurrently", zap.String("id", msg.ID))
		}
		return nil, &core.ConflictError{Message: fmt.Sprintf("message %s is no longer quarantined", msg.ID)}
	case errors.Is(err, core.ErrNotFound):
		return nil, &core.NotFoundError{Resource: "quarantined message", ID: msg.ID}
	case err != nil:
		return nil, err
	}

	metrics.QuarantineTransitions.WithLabelValues(string(to)).Inc()
	m.logger.Info("Quarantined message transitioned",
		zap.String("id", msg.ID),
		zap.Int64("tenant_id", msg.TenantID),
		zap.String("status", string(to)))

	msg.Status = to
	if to == core.StatusReleased {
		msg.ReleasedAt = &at
	} else {
		msg.DeletedAt = &at
	}
	return msg, nil
}

// senderKey returns the trust key of the message's sender on its tenant
func (m *Manager) senderKey(msg *core.QuarantinedMessage) (trustlist.Key, bool) {
	if _, err := core.NormalizeValue(core.EntryEmail, msg.FromAddress); err != nil {
		m.logger.Warn("Message has no usable sender, trust lists left unchanged",
			zap.String("id", msg.ID),
			zap.String("from", msg.FromAddress))
		return trustlist.Key{}, false
	}
	return trustlist.Key{TenantID: msg.TenantID, Type: core.EntryEmail, Value: msg.FromAddress}, true
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
