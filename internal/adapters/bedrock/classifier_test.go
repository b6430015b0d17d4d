package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/textutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeInvoker struct {
	body  []byte
	err   error
	input *bedrockruntime.InvokeModelInput
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func newTestClassifier(inv modelInvoker, model string) *Classifier {
	logger := zap.NewNop()
	return NewClassifier(inv, model, 500, 0.1, 0.9, 1024, logger, textutil.NewTextProcessor(logger))
}

var testEmail = &core.Email{
	From:    "billing@paypa1.example",
	To:      []string{"alice@example.com"},
	Subject: "Account suspended",
	Body:    "Verify your password here",
}

func TestClassifyModelFamilies(t *testing.T) {
	answer := `{"label":"phishing","confidence":0.91,"explanation":"credential lure"}`

	tests := []struct {
		name     string
		model    string
		response any
		reqKey   string
	}{
		{"anthropic", "anthropic.claude-v2", map[string]string{"completion": " " + answer}, "max_tokens_to_sample"},
		{"titan", "amazon.titan-text-express-v1", map[string]any{"results": []map[string]string{{"outputText": answer}}}, "textGenerationConfig"},
		{"generic", "meta.llama3-8b-instruct-v1:0", map[string]string{"output": answer}, "max_tokens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(tt.response)
			require.NoError(t, err)
			inv := &fakeInvoker{body: body}

			got, err := newTestClassifier(inv, tt.model).Classify(context.Background(), testEmail)
			require.NoError(t, err)
			assert.Equal(t, "phishing", got.Label)
			assert.InDelta(t, 0.91, got.Confidence, 1e-9)
			assert.Equal(t, tt.model, got.ModelUsed)

			require.NotNil(t, inv.input)
			assert.Equal(t, tt.model, *inv.input.ModelId)
			var sent map[string]any
			require.NoError(t, json.Unmarshal(inv.input.Body, &sent))
			assert.Contains(t, sent, tt.reqKey)
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	_, err := newTestClassifier(&fakeInvoker{err: errors.New("throttled")}, "anthropic.claude-v2").
		Classify(context.Background(), testEmail)
	assert.ErrorContains(t, err, "throttled")

	_, err = newTestClassifier(&fakeInvoker{body: []byte(`{"results":[]}`)}, "amazon.titan-text-lite-v1").
		Classify(context.Background(), testEmail)
	assert.ErrorContains(t, err, "empty response")

	_, err = newTestClassifier(&fakeInvoker{body: []byte(`{"completion":"no idea"}`)}, "anthropic.claude-v2").
		Classify(context.Background(), testEmail)
	assert.ErrorIs(t, err, textutil.ErrNoJSON)
}
