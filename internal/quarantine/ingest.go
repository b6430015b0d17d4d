package quarantine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime/v2"
	"github.com/mikey/mailguard/internal/core"
	"go.uber.org/zap"
)

// IngestRequest is a message handed over by the filtering pipeline. Raw is
// the full RFC 5322 message; From and To are the SMTP envelope and win over
// the message headers when set.
type IngestRequest struct {
	Raw       string   `json:"raw"`
	From      string   `json:"from"`
	To        []string `json:"to"`
	Reason    string   `json:"reason"`
	SpamScore float64  `json:"spam_score"`
	TenantID  int64    `json:"tenant_id"`
}

// Ingest parses and stores a newly held message
func (m *Manager) Ingest(ctx context.Context, req *IngestRequest) (*core.QuarantinedMessage, error) {
	if strings.TrimSpace(req.Raw) == "" {
		return nil, core.Invalid("raw", "is required")
	}

	env, err := enmime.ReadEnvelope(strings.NewReader(req.Raw))
	if err != nil {
		return nil, core.Invalid("raw", "cannot parse message: %v", err)
	}

	from := strings.TrimSpace(req.From)
	if from == "" {
		if addrs, err := env.AddressList("From"); err == nil && len(addrs) > 0 {
			from = addrs[0].Address
		}
	}
	if from != "" {
		if normalized, err := core.NormalizeEmail(from); err == nil {
			from = normalized
		}
	}

	to := req.To
	if len(to) == 0 {
		if addrs, err := env.AddressList("To"); err == nil {
			for _, a := range addrs {
				to = append(to, a.Address)
			}
		}
	}
	if len(to) == 0 {
		return nil, core.Invalid("to", "message has no recipients")
	}

	tenantID, err := m.ingestTenant(ctx, req.TenantID, to)
	if err != nil {
		return nil, err
	}

	headers := make(map[string][]string)
	for _, key := range env.GetHeaderKeys() {
		headers[key] = env.GetHeaderValues(key)
	}

	now := m.now()
	msg := &core.QuarantinedMessage{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		MessageID:   strings.Trim(env.GetHeader("Message-Id"), "<> "),
		FromAddress: from,
		ToAddress:   strings.Join(to, ", "),
		Subject:     env.GetHeader("Subject"),
		Reason:      req.Reason,
		SpamScore:   req.SpamScore,
		Body:        req.Raw,
		Headers:     headers,
		Status:      core.StatusQuarantined,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.Retention),
	}
	if err := m.repo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store quarantined message: %w", err)
	}

	m.logger.Info("Message quarantined",
		zap.String("id", msg.ID),
		zap.Int64("tenant_id", tenantID),
		zap.String("from", from),
		zap.Float64("spam_score", req.SpamScore),
		zap.String("reason", req.Reason))
	return msg, nil
}

// ingestTenant returns the explicit tenant or the owner of the first
// recipient domain that resolves
func (m *Manager) ingestTenant(ctx context.Context, explicit int64, to []string) (int64, error) {
	if explicit > 0 {
		return explicit, nil
	}
	for _, rcpt := range to {
		domain := core.DomainOf(rcpt)
		if domain == "" {
			continue
		}
		tenant, err := m.tenants.TenantForDomain(ctx, domain)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to resolve tenant: %w", err)
		}
		return tenant.ID, nil
	}
	return 0, &core.NotFoundError{Resource: "tenant for recipients", ID: strings.Join(to, ", ")}
}
