package quarantine

import (
	"context"
	"strings"

	"github.com/jhillyerd/enmime/v2"
	"github.com/microcosm-cc/bluemonday"
)

var htmlPolicy = bluemonday.UGCPolicy()

// Preview is an operator-safe rendering of a held message
type Preview struct {
	ID          string   `json:"id"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Subject     string   `json:"subject"`
	Text        string   `json:"text"`
	HTML        string   `json:"html,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Preview parses the stored message and sanitizes its HTML part. Scripts,
// event handlers and remote-loading tricks are stripped.
func (m *Manager) Preview(ctx context.Context, id string) (*Preview, error) {
	msg, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		ID:      msg.ID,
		From:    msg.FromAddress,
		To:      msg.ToAddress,
		Subject: msg.Subject,
	}

	env, err := enmime.ReadEnvelope(strings.NewReader(msg.Body))
	if err != nil {
		p.Text = msg.Body
		p.Warnings = append(p.Warnings, "message could not be parsed: "+err.Error())
		return p, nil
	}

	p.Text = env.Text
	if env.HTML != "" {
		p.HTML = htmlPolicy.Sanitize(env.HTML)
	}
	for _, a := range env.Attachments {
		p.Attachments = append(p.Attachments, a.FileName)
	}
	for _, e := range env.Errors {
		p.Warnings = append(p.Warnings, e.Error())
	}
	return p, nil
}
