package quarantine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/escalation"
	"go.uber.org/zap"
)

// ErrNoClassifier is returned by Classify when no AI provider is configured
var ErrNoClassifier = errors.New("no classifier configured")

// ClassifyResult pairs the model's label with what escalation did about it
type ClassifyResult struct {
	Classification *core.Classification `json:"classification"`
	Decision       *escalation.Decision `json:"decision"`
}

// Classify runs a held message through the AI classifier and lets the
// escalation engine act on a confident phishing label. The message's status
// is not changed.
func (m *Manager) Classify(ctx context.Context, id string) (*ClassifyResult, error) {
	if m.classifier == nil || m.escalator == nil {
		return nil, ErrNoClassifier
	}

	msg, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	email := &core.Email{
		From:    msg.FromAddress,
		To:      splitAddresses(msg.ToAddress),
		Subject: msg.Subject,
		Body:    msg.Body,
		Headers: msg.Headers,
	}
	if p, err := m.Preview(ctx, id); err == nil && p.Text != "" {
		email.Body = p.Text
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.ClassifyTimeout)
	defer cancel()
	cls, err := m.classifier.Classify(cctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to classify message %s: %w", id, err)
	}

	decision, err := m.escalator.EvaluateClassification(ctx, msg.TenantID, msg.FromAddress, cls)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Quarantined message classified",
		zap.String("id", id),
		zap.String("label", cls.Label),
		zap.Float64("confidence", cls.Confidence),
		zap.String("decision", string(decision.Action)))
	return &ClassifyResult{Classification: cls, Decision: decision}, nil
}
