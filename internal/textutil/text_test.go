package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mikey/mailguard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTruncateTextKeepsRunes(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	// "é" is two bytes; cutting at 3 would split the second one
	out := tp.TruncateText("\u00e9\u00e9", 3)
	assert.True(t, strings.HasPrefix(out, "\u00e9\n"))
	assert.True(t, utf8.ValidString(out))

	assert.Equal(t, "short", tp.TruncateText("short", 10))
	assert.Equal(t, "unbounded", tp.TruncateText("unbounded", 0))
}

func TestSanitizeUTF8(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "ab", tp.SanitizeUTF8("a\xffb"))
	// e + combining acute composes to a single rune
	assert.Equal(t, "é", tp.SanitizeUTF8("é"))
}

func TestBuildPrompt(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	prompt := tp.BuildPrompt(&core.Email{
		From:    "a@example.com",
		To:      []string{"b@example.org", "c@example.org"},
		Subject: "hello",
		Body:    strings.Repeat("x", 100),
	}, 10)

	assert.Contains(t, prompt, "From: a@example.com")
	assert.Contains(t, prompt, "To: b@example.org and 1 others")
	assert.Contains(t, prompt, "Content truncated")
	assert.NotContains(t, prompt, strings.Repeat("x", 11))
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		label      string
		confidence float64
		wantErr    bool
	}{
		{
			name:       "plain json",
			input:      `{"label":"phishing","confidence":0.83,"explanation":"spoofed bank"}`,
			label:      LabelPhishing,
			confidence: 0.83,
		},
		{
			name:       "fenced with prose",
			input:      "Here you go:\n```json\n{\"label\": \"Spam\", \"confidence\": 0.6}\n```",
			label:      LabelSpam,
			confidence: 0.6,
		},
		{
			name:       "synonym and clamped confidence",
			input:      `{"label":"virus","confidence":1.7}`,
			label:      LabelMalware,
			confidence: 1,
		},
		{
			name:    "unknown label",
			input:   `{"label":"newsletter","confidence":0.9}`,
			wantErr: true,
		},
		{
			name:    "no json",
			input:   "I cannot classify this message.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseClassification(tt.input, "test-model")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.label, c.Label)
			assert.InDelta(t, tt.confidence, c.Confidence, 1e-9)
			assert.Equal(t, "test-model", c.ModelUsed)
			assert.False(t, c.AnalyzedAt.IsZero())
		})
	}
}
