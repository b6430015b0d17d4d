package gemini

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text(`{"label":"ham",`),
				genai.Blob{MIMEType: "image/png"},
				genai.Text(`"confidence":0.9}`),
			}},
		}},
	}

	text, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, `{"label":"ham","confidence":0.9}`, text)
}

func TestResponseTextEmpty(t *testing.T) {
	for name, resp := range map[string]*genai.GenerateContentResponse{
		"nil":           nil,
		"no candidates": {},
		"no content":    {Candidates: []*genai.Candidate{{}}},
		"no text":       {Candidates: []*genai.Candidate{{Content: &genai.Content{}}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := responseText(resp)
			assert.ErrorIs(t, err, errEmptyResponse)
		})
	}
}
