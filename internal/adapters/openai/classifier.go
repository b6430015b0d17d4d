package openai

import (
	"context"
	"fmt"

	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/textutil"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const systemPrompt = "You are an email security classifier. Respond only with JSON."

// Classifier labels messages with an OpenAI chat model
type Classifier struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *textutil.TextProcessor
}

// NewClassifier creates a new OpenAI classifier
func NewClassifier(
	client *openai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *textutil.TextProcessor,
) *Classifier {
	return &Classifier{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Classify implements core.Classifier
func (c *Classifier) Classify(ctx context.Context, email *core.Email) (*core.Classification, error) {
	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: c.textProcessor.BuildPrompt(email, c.maxBodySize)},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	result, err := textutil.ParseClassification(resp.Choices[0].Message.Content, c.modelName)
	if err != nil {
		c.logger.Warn("Unparseable OpenAI response",
			zap.String("model", c.modelName),
			zap.String("response_id", resp.ID),
			zap.Error(err))
		return nil, err
	}
	result.ProcessingID = resp.ID
	return result, nil
}
