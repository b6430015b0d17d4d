package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/textutil"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// errEmptyResponse is returned when Gemini produces no text candidate
var errEmptyResponse = errors.New("empty response from Gemini")

// Classifier labels messages with a Google Gemini model
type Classifier struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *textutil.TextProcessor
}

// NewClassifier creates a new Gemini classifier
func NewClassifier(
	ctx context.Context,
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *textutil.TextProcessor,
) (*Classifier, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.ResponseMIMEType = "application/json"

	return &Classifier{
		client:        client,
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}, nil
}

// Close closes the Gemini client
func (c *Classifier) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Classify implements core.Classifier
func (c *Classifier) Classify(ctx context.Context, email *core.Email) (*core.Classification, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(c.textProcessor.BuildPrompt(email, c.maxBodySize)))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	result, err := textutil.ParseClassification(text, c.modelName)
	if err != nil {
		c.logger.Warn("Unparseable Gemini response",
			zap.String("model", c.modelName),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// responseText joins the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errEmptyResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", errEmptyResponse
	}
	return sb.String(), nil
}
