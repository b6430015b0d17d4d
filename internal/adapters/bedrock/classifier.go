package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/textutil"
	"go.uber.org/zap"
)

// modelInvoker is the part of the Bedrock runtime client the classifier uses
type modelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Classifier labels messages with a model hosted on Amazon Bedrock
type Classifier struct {
	client        modelInvoker
	modelID       string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *textutil.TextProcessor
}

// NewClassifier creates a new Bedrock classifier
func NewClassifier(
	client modelInvoker,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *textutil.TextProcessor,
) *Classifier {
	return &Classifier{
		client:        client,
		modelID:       modelID,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

func (c *Classifier) isAnthropicModel() bool {
	return strings.Contains(c.modelID, "anthropic")
}

func (c *Classifier) isAmazonTitanModel() bool {
	return strings.Contains(c.modelID, "amazon.titan")
}

// payload builds the model-family specific request body
func (c *Classifier) payload(prompt string) ([]byte, error) {
	switch {
	case c.isAnthropicModel():
		return json.Marshal(map[string]any{
			"prompt":               "\n\nHuman: " + prompt + "\n\nAssistant:",
			"max_tokens_to_sample": c.maxTokens,
			"temperature":          c.temperature,
			"top_p":                c.topP,
		})
	case c.isAmazonTitanModel():
		return json.Marshal(map[string]any{
			"inputText": prompt,
			"textGenerationConfig": map[string]any{
				"maxTokenCount": c.maxTokens,
				"temperature":   c.temperature,
				"topP":          c.topP,
			},
		})
	default:
		return json.Marshal(map[string]any{
			"prompt":      prompt,
			"max_tokens":  c.maxTokens,
			"temperature": c.temperature,
			"top_p":       c.topP,
		})
	}
}

// completion extracts the generated text from a model-family specific response body
func (c *Classifier) completion(body []byte) (string, error) {
	switch {
	case c.isAnthropicModel():
		var resp struct {
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		return resp.Completion, nil
	case c.isAmazonTitanModel():
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(resp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return resp.Results[0].OutputText, nil
	default:
		var resp struct {
			Output   string `json:"output"`
			Text     string `json:"text"`
			Response string `json:"response"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
		}
		for _, s := range []string{resp.Output, resp.Text, resp.Response} {
			if s != "" {
				return s, nil
			}
		}
		return string(body), nil
	}
}

// Classify implements core.Classifier
func (c *Classifier) Classify(ctx context.Context, email *core.Email) (*core.Classification, error) {
	payload, err := c.payload(c.textProcessor.BuildPrompt(email, c.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	text, err := c.completion(resp.Body)
	if err != nil {
		return nil, err
	}

	result, err := textutil.ParseClassification(text, c.modelID)
	if err != nil {
		c.logger.Warn("Unparseable Bedrock response",
			zap.String("model", c.modelID),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}
