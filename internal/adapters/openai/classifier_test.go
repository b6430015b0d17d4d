package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mikey/mailguard/internal/config"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/textutil"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClassifier(t *testing.T, content string, status int) (*Classifier, *openai.ChatCompletionRequest) {
	t.Helper()
	var seen openai.ChatCompletionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&seen))

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-42",
			"object": "chat.completion",
			"model":  "gpt-4",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	logger := zap.NewNop()
	c := NewClassifier(openai.NewClientWithConfig(cfg), "gpt-4", 200, 0.1, 0.9, 64, logger, textutil.NewTextProcessor(logger))
	return c, &seen
}

func TestClassify(t *testing.T) {
	c, seen := newTestClassifier(t, `{"label":"spam","confidence":0.75,"explanation":"bulk offer"}`, http.StatusOK)

	got, err := c.Classify(context.Background(), &core.Email{
		From:    "deals@shop.example",
		To:      []string{"bob@example.com"},
		Subject: "50% off",
		Body:    "Buy now",
	})
	require.NoError(t, err)
	assert.Equal(t, "spam", got.Label)
	assert.InDelta(t, 0.75, got.Confidence, 1e-9)
	assert.Equal(t, "chatcmpl-42", got.ProcessingID)
	assert.Equal(t, "gpt-4", got.ModelUsed)

	assert.Equal(t, "gpt-4", seen.Model)
	require.Len(t, seen.Messages, 2)
	assert.Contains(t, seen.Messages[1].Content, "Subject: 50% off")
	require.NotNil(t, seen.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, seen.ResponseFormat.Type)
}

func TestClassifyAPIError(t *testing.T) {
	c, _ := newTestClassifier(t, "", http.StatusTooManyRequests)

	_, err := c.Classify(context.Background(), &core.Email{From: "a@b.example"})
	assert.ErrorContains(t, err, "OpenAI")
}

func TestFactoryRequiresKey(t *testing.T) {
	_, err := NewFactory(config.NewFromViper(config.NewEmptyViper()), zap.NewNop(), nil).CreateClassifier()
	assert.ErrorContains(t, err, "api_key")
}
