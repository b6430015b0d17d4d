package gemini

import (
	"context"
	"fmt"

	"github.com/mikey/mailguard/internal/config"
	"github.com/mikey/mailguard/internal/textutil"
	"go.uber.org/zap"
)

// Factory creates Gemini classifiers
type Factory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *textutil.TextProcessor
}

// NewFactory creates a new factory for Gemini classifiers
func NewFactory(cfg *config.Config, logger *zap.Logger, textProcessor *textutil.TextProcessor) *Factory {
	return &Factory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateClassifier creates a new Gemini classifier
func (f *Factory) CreateClassifier(ctx context.Context) (*Classifier, error) {
	geminiCfg := f.cfg.GetGemini()
	if geminiCfg.APIKey == "" {
		return nil, fmt.Errorf("gemini.api_key is required")
	}

	return NewClassifier(
		ctx,
		geminiCfg.APIKey,
		geminiCfg.ModelName,
		geminiCfg.MaxTokens,
		geminiCfg.Temperature,
		geminiCfg.TopP,
		geminiCfg.MaxBodySize,
		f.logger,
		f.textProcessor,
	)
}
