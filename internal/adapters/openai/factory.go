package openai

import (
	"fmt"

	"github.com/mikey/mailguard/internal/config"
	"github.com/mikey/mailguard/internal/textutil"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Factory creates OpenAI classifiers
type Factory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *textutil.TextProcessor
}

// NewFactory creates a new factory for OpenAI classifiers
func NewFactory(cfg *config.Config, logger *zap.Logger, textProcessor *textutil.TextProcessor) *Factory {
	return &Factory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateClassifier creates a new OpenAI classifier
func (f *Factory) CreateClassifier() (*Classifier, error) {
	openaiCfg := f.cfg.GetOpenAI()
	if openaiCfg.APIKey == "" {
		return nil, fmt.Errorf("openai.api_key is required")
	}

	return NewClassifier(
		openai.NewClient(openaiCfg.APIKey),
		openaiCfg.ModelName,
		openaiCfg.MaxTokens,
		openaiCfg.Temperature,
		openaiCfg.TopP,
		openaiCfg.MaxBodySize,
		f.logger,
		f.textProcessor,
	), nil
}
