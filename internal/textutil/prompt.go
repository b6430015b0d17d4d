package textutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mikey/mailguard/internal/core"
)

// Labels a classifier may return
const (
	LabelHam      = "ham"
	LabelSpam     = "spam"
	LabelPhishing = "phishing"
	LabelMalware  = "malware"
)

const promptFormat = `You are an email security classifier. Classify the following email as exactly one of: ham, spam, phishing, malware.
Respond with a JSON object containing:
- label: string (one of ham, spam, phishing, malware)
- confidence: number between 0 and 1 (how confident you are in the label)
- explanation: string (brief explanation of the label)

Email:
From: %s
To: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

// ErrNoJSON is returned when a model response holds no JSON object
var ErrNoJSON = errors.New("no JSON object in model response")

// BuildPrompt renders the classification prompt for an email. The body is
// sanitized and truncated to maxBodySize bytes.
func (tp *TextProcessor) BuildPrompt(email *core.Email, maxBodySize int) string {
	to := ""
	if len(email.To) > 0 {
		to = email.To[0]
		if len(email.To) > 1 {
			to += fmt.Sprintf(" and %d others", len(email.To)-1)
		}
	}
	return fmt.Sprintf(promptFormat,
		tp.SanitizeUTF8(email.From),
		tp.SanitizeUTF8(to),
		tp.SanitizeUTF8(email.Subject),
		tp.ProcessText(email.Body, maxBodySize))
}

// ExtractJSON returns the outermost {...} span of a model response
func ExtractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

type classificationResponse struct {
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// ParseClassification decodes a model response into a Classification.
// Surrounding prose and markdown fences are tolerated.
func ParseClassification(text, model string) (*core.Classification, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	var resp classificationResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse model response as JSON: %w", err)
	}

	label := strings.ToLower(strings.TrimSpace(resp.Label))
	switch label {
	case LabelHam, LabelSpam, LabelPhishing, LabelMalware:
	case "virus":
		label = LabelMalware
	case "legitimate", "clean":
		label = LabelHam
	default:
		return nil, fmt.Errorf("unknown label %q in model response", resp.Label)
	}

	if math.IsNaN(resp.Confidence) {
		resp.Confidence = 0
	}
	confidence := math.Min(math.Max(resp.Confidence, 0), 1)

	return &core.Classification{
		Label:       label,
		Confidence:  confidence,
		Explanation: resp.Explanation,
		ModelUsed:   model,
		AnalyzedAt:  time.Now(),
	}, nil
}
