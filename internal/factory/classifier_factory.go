package factory

import (
	"context"
	"fmt"

	"github.com/mikey/mailguard/internal/adapters/bedrock"
	"github.com/mikey/mailguard/internal/adapters/gemini"
	"github.com/mikey/mailguard/internal/adapters/openai"
	"github.com/mikey/mailguard/internal/config"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/textutil"
	"go.uber.org/zap"
)

// ClassifierFactory creates the AI classifier selected by classifier.provider
type ClassifierFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *textutil.TextProcessor
}

// NewClassifierFactory creates a new classifier factory
func NewClassifierFactory(cfg *config.Config, logger *zap.Logger, textProcessor *textutil.TextProcessor) *ClassifierFactory {
	return &ClassifierFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateClassifier returns nil when the provider is "none" or empty
func (f *ClassifierFactory) CreateClassifier(ctx context.Context) (core.Classifier, error) {
	cc, err := f.cfg.GetClassifier()
	if err != nil {
		return nil, err
	}

	var classifier core.Classifier
	switch cc.Provider {
	case "", "none":
		f.logger.Info("No AI classifier configured")
		return nil, nil
	case "bedrock":
		classifier, err = bedrock.NewFactory(f.cfg, f.logger, f.textProcessor).CreateClassifier(ctx)
	case "gemini":
		classifier, err = gemini.NewFactory(f.cfg, f.logger, f.textProcessor).CreateClassifier(ctx)
	case "openai":
		classifier, err = openai.NewFactory(f.cfg, f.logger, f.textProcessor).CreateClassifier()
	default:
		return nil, fmt.Errorf("unsupported classifier provider: %s", cc.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s classifier: %w", cc.Provider, err)
	}

	f.logger.Info("Using AI classifier", zap.String("provider", cc.Provider))
	return classifier, nil
}
