package textutil

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

const truncationMarker = "\n[... Content truncated due to size limits ...]"

// TextProcessor prepares message text before it is sent to a classifier
type TextProcessor struct {
	logger *zap.Logger
}

// NewTextProcessor creates a new TextProcessor
func NewTextProcessor(logger *zap.Logger) *TextProcessor {
	return &TextProcessor{
		logger: logger,
	}
}

// TruncateText truncates text to maxSize bytes without splitting a rune
func (tp *TextProcessor) TruncateText(text string, maxSize int) string {
	if maxSize <= 0 || len(text) <= maxSize {
		return text
	}

	truncated := text[:maxSize]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}

	tp.logger.Debug("Text truncated",
		zap.Int("original_size", len(text)),
		zap.Int("truncated_size", len(truncated)),
		zap.Int("max_size", maxSize))

	return truncated + truncationMarker
}

// SanitizeUTF8 drops invalid UTF-8 bytes and returns the NFC form of text
func (tp *TextProcessor) SanitizeUTF8(text string) string {
	if !utf8.ValidString(text) {
		original := len(text)
		text = strings.ToValidUTF8(text, "")
		tp.logger.Debug("Text sanitized",
			zap.Int("original_size", original),
			zap.Int("sanitized_size", len(text)))
	}
	return norm.NFC.String(text)
}

// ProcessText sanitizes and then truncates text
func (tp *TextProcessor) ProcessText(text string, maxSize int) string {
	return tp.TruncateText(tp.SanitizeUTF8(text), maxSize)
}
