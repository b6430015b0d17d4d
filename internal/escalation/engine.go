// Package escalation promotes senders, domains and IPs into the deny list
// based on the verdicts of the filtering pipeline.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/metrics"
	"github.com/mikey/mailguard/internal/trustlist"
	"go.uber.org/zap"
)

// Action is the outcome of an evaluation
type Action string

const (
	ActionSkipped     Action = "skipped"
	ActionTracked     Action = "tracked"
	ActionBlacklisted Action = "blacklisted"
)

const labelPhishing = "phishing"

// Decision describes what the engine did with a verdict
type Decision struct {
	Action   Action           `json:"action"`
	TenantID int64            `json:"tenant_id,omitempty"`
	Type     core.EntryType   `json:"type,omitempty"`
	Value    string           `json:"value,omitempty"`
	Source   core.Source      `json:"source,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Entry    *core.TrustEntry `json:"-"`
}

// Config holds the escalation thresholds
type Config struct {
	AutoDenyScore           float64
	AIConfidenceThreshold   float64
	RepeatOffenderThreshold int64
	VirusSymbols            []string
	TenantFallback          bool
}

// Engine evaluates verdicts against the fixed rule order
type Engine struct {
	trust    *trustlist.Service
	offenses core.OffenseCounter
	tenants  core.TenantResolver
	cfg      Config
	logger   *zap.Logger
}

// NewEngine creates an escalation engine
func NewEngine(trust *trustlist.Service, offenses core.OffenseCounter, tenants core.TenantResolver, cfg Config, logger *zap.Logger) *Engine {
	if cfg.AIConfidenceThreshold <= 0 {
		cfg.AIConfidenceThreshold = 0.7
	}
	if cfg.RepeatOffenderThreshold <= 0 {
		cfg.RepeatOffenderThreshold = 5
	}
	if len(cfg.VirusSymbols) == 0 {
		cfg.VirusSymbols = []string{"VIRUS", "MALWARE", "CLAM_"}
	}
	markers := make([]string, len(cfg.VirusSymbols))
	for i, m := range cfg.VirusSymbols {
		markers[i] = strings.ToUpper(m)
	}
	cfg.VirusSymbols = markers

	return &Engine{
		trust:    trust,
		offenses: offenses,
		tenants:  tenants,
		cfg:      cfg,
		logger:   logger,
	}
}

func skipped(reason string) *Decision {
	return &Decision{Action: ActionSkipped, Reason: reason}
}

// Evaluate applies the escalation rules to a verdict. Rules are tried in a
// fixed order and the first match wins: virus, AI phishing, score, repeat
// offender.
func (e *Engine) Evaluate(ctx context.Context, v *Verdict) (*Decision, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	d, err := e.evaluate(ctx, v)
	if err != nil {
		return nil, err
	}
	metrics.EscalationDecisions.WithLabelValues(string(d.Action)).Inc()

	e.logger.Debug("Verdict evaluated",
		zap.String("sender", v.Sender),
		zap.String("recipient_domain", v.RecipientDomain),
		zap.Float64("score", v.Score),
		zap.String("decision", string(d.Action)),
		zap.String("reason", d.Reason))
	return d, nil
}

func (e *Engine) evaluate(ctx context.Context, v *Verdict) (*Decision, error) {
	if !v.rejected() {
		return skipped(fmt.Sprintf("action %q is not a rejection", v.Action)), nil
	}

	tenant, err := e.resolveTenant(ctx, v.RecipientDomain)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return skipped(fmt.Sprintf("no active tenant owns recipient domain %s", v.RecipientDomain)), nil
	}

	if ip := v.clientIP(); ip != "" && e.hasVirusSymbol(v.Symbols) {
		return e.deny(ctx, tenant.ID, core.EntryIP, ip, "virus detected", core.SourceAutoVirus)
	}

	domain := v.senderDomain()
	if domain != "" && strings.EqualFold(v.AILabel, labelPhishing) &&
		v.AIConfidence != nil && *v.AIConfidence >= e.cfg.AIConfidenceThreshold {
		return e.deny(ctx, tenant.ID, core.EntryDomain, domain, phishingReason(*v.AIConfidence), core.SourceAutoAI)
	}

	if domain != "" && e.cfg.AutoDenyScore > 0 && v.Score >= e.cfg.AutoDenyScore {
		reason := fmt.Sprintf("High spam score (%s)", strconv.FormatFloat(v.Score, 'f', -1, 64))
		return e.deny(ctx, tenant.ID, core.EntryDomain, domain, reason, core.SourceAutoRspamd)
	}

	sender := v.senderEmail()
	if sender == "" {
		return skipped("no sender to track"), nil
	}

	count, err := e.offenses.IncrementOffense(ctx, tenant.ID, sender)
	if err != nil {
		return nil, err
	}
	if count >= e.cfg.RepeatOffenderThreshold {
		reason := fmt.Sprintf("repeat offender (%d rejections)", count)
		return e.deny(ctx, tenant.ID, core.EntryEmail, sender, reason, core.SourceAutoRspamd)
	}
	return &Decision{
		Action:   ActionTracked,
		TenantID: tenant.ID,
		Type:     core.EntryEmail,
		Value:    sender,
		Reason:   fmt.Sprintf("rejection %d of %d", count, e.cfg.RepeatOffenderThreshold),
	}, nil
}

// EvaluateClassification applies the AI phishing rule to a classification
// requested for a quarantined message
func (e *Engine) EvaluateClassification(ctx context.Context, tenantID int64, sender string, cls *core.Classification) (*Decision, error) {
	if cls == nil {
		return nil, core.Invalid("classification", "is required")
	}

	var d *Decision
	domain := ""
	if email, err := core.NormalizeEmail(sender); err == nil {
		domain = core.DomainOf(email)
	}

	switch {
	case !strings.EqualFold(cls.Label, labelPhishing):
		d = skipped(fmt.Sprintf("classified as %s", cls.Label))
	case cls.Confidence < e.cfg.AIConfidenceThreshold:
		d = skipped(fmt.Sprintf("phishing confidence %s below threshold", percent(cls.Confidence)))
	case domain == "":
		d = skipped("no sender domain to deny")
	default:
		var err error
		d, err = e.deny(ctx, tenantID, core.EntryDomain, domain, phishingReason(cls.Confidence), core.SourceAutoAI)
		if err != nil {
			return nil, err
		}
	}

	metrics.EscalationDecisions.WithLabelValues(string(d.Action)).Inc()
	return d, nil
}

// resolveTenant returns nil when no tenant applies
func (e *Engine) resolveTenant(ctx context.Context, recipientDomain string) (*core.Tenant, error) {
	domain, err := core.NormalizeDomain(recipientDomain)
	if err != nil {
		return nil, err
	}

	tenant, err := e.tenants.TenantForDomain(ctx, domain)
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("failed to resolve tenant: %w", err)
	}
	if !e.cfg.TenantFallback {
		return nil, nil
	}

	tenant, err = e.tenants.FirstActiveTenant(ctx)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fallback tenant: %w", err)
	}
	e.logger.Warn("Recipient domain has no tenant, attributing verdict to first active tenant",
		zap.String("recipient_domain", domain),
		zap.Int64("tenant_id", tenant.ID))
	return tenant, nil
}

func (e *Engine) hasVirusSymbol(symbols []string) bool {
	for _, sym := range symbols {
		upper := strings.ToUpper(sym)
		for _, marker := range e.cfg.VirusSymbols {
			if strings.Contains(upper, marker) {
				return true
			}
		}
	}
	return false
}

// deny writes the deny entry and schedules a resync of the whole tenant
func (e *Engine) deny(ctx context.Context, tenantID int64, typ core.EntryType, value, reason string, source core.Source) (*Decision, error) {
	entry, err := e.trust.Upsert(ctx, core.DenyList, trustlist.Key{TenantID: tenantID, Type: typ, Value: value}, reason, source)
	if err != nil {
		return nil, err
	}
	e.trust.ResyncTenant(tenantID)

	e.logger.Info("Auto-denied",
		zap.Int64("tenant_id", tenantID),
		zap.String("type", string(typ)),
		zap.String("value", entry.Value),
		zap.String("source", string(source)),
		zap.String("reason", reason),
		zap.Int64("hit_count", entry.HitCount))

	return &Decision{
		Action:   ActionBlacklisted,
		TenantID: tenantID,
		Type:     typ,
		Value:    entry.Value,
		Source:   source,
		Reason:   reason,
		Entry:    entry,
	}, nil
}

func percent(confidence float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(confidence*100)))
}

func phishingReason(confidence float64) string {
	return fmt.Sprintf("AI phishing detection (%s confidence)", percent(confidence))
}
