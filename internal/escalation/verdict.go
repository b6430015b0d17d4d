package escalation

import (
	"math"
	"strings"

	"github.com/mikey/mailguard/internal/core"
)

// Verdict is the classification the filtering pipeline posts for one message
type Verdict struct {
	Sender          string   `json:"sender"`
	SenderDomain    string   `json:"sender_domain"`
	IP              string   `json:"ip"`
	Score           float64  `json:"score"`
	Action          string   `json:"action"`
	Symbols         []string `json:"symbols"`
	AILabel         string   `json:"ai_label"`
	AIConfidence    *float64 `json:"ai_confidence"`
	RecipientDomain string   `json:"recipient_domain"`
}

// Validate checks the verdict's shape. Malformed sender, domain or IP values
// are not errors here; the rules that need them treat them as absent. The
// recipient domain is only required for rejections, which are the only
// verdicts that resolve a tenant.
func (v *Verdict) Validate() error {
	if strings.TrimSpace(v.Action) == "" {
		return core.Invalid("action", "is required")
	}
	if math.IsNaN(v.Score) || math.IsInf(v.Score, 0) {
		return core.Invalid("score", "must be a finite number")
	}
	if v.AIConfidence != nil {
		c := *v.AIConfidence
		if math.IsNaN(c) || c < 0 || c > 1 {
			return core.Invalid("ai_confidence", "must be between 0 and 1")
		}
	}
	if v.rejected() && strings.TrimSpace(v.RecipientDomain) == "" {
		return core.Invalid("recipient_domain", "is required")
	}
	return nil
}

func (v *Verdict) rejected() bool {
	return strings.EqualFold(strings.TrimSpace(v.Action), "reject")
}

// senderEmail returns the normalized sender or "" when absent or malformed
func (v *Verdict) senderEmail() string {
	if strings.TrimSpace(v.Sender) == "" {
		return ""
	}
	email, err := core.NormalizeValue(core.EntryEmail, v.Sender)
	if err != nil {
		return ""
	}
	return email
}

// senderDomain prefers the explicit field and falls back to the sender's domain
func (v *Verdict) senderDomain() string {
	if strings.TrimSpace(v.SenderDomain) != "" {
		if d, err := core.NormalizeValue(core.EntryDomain, v.SenderDomain); err == nil {
			return d
		}
	}
	if email := v.senderEmail(); email != "" {
		return core.DomainOf(email)
	}
	return ""
}

func (v *Verdict) clientIP() string {
	if strings.TrimSpace(v.IP) == "" {
		return ""
	}
	ip, err := core.NormalizeValue(core.EntryIP, v.IP)
	if err != nil {
		return ""
	}
	return ip
}
