// File: internal/strategy/vision.go
// Description: Evaluator for the optical-text strategy. It is a thin adapter
// over the text recognizer; the recognizer owns confidence calibration, so
// its score passes through unmodified.
package strategy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
)

// VisionEvaluator relocates elements by matching recorded on-screen text
// against the recognizer's view of the current frame.
type VisionEvaluator struct {
	recognizer schemas.TextRecognizer
	logger     *zap.Logger
}

func NewVisionEvaluator(recognizer schemas.TextRecognizer, logger *zap.Logger) *VisionEvaluator {
	return &VisionEvaluator{recognizer: recognizer, logger: logger.Named("strategy.vision")}
}

func (e *VisionEvaluator) Handles() []schemas.StrategyTag {
	return []schemas.StrategyTag{schemas.StrategyVisionText}
}

func (e *VisionEvaluator) Evaluate(ctx context.Context, tab string, variant schemas.StrategyVariant) schemas.EvaluationResult {
	start := time.Now()
	if e.recognizer == nil {
		return notFound(variant.Tag, start, "no text recognizer configured")
	}
	if variant.Vision == nil || variant.Vision.TargetText == "" {
		return notFound(variant.Tag, start, "variant carries no target text")
	}

	match, err := e.recognizer.EvaluateText(ctx, tab, variant.Vision.TargetText)
	if err != nil {
		e.logger.Debug("text recognition failed", zap.String("tab", tab), zap.Error(err))
		return notFound(variant.Tag, start, err.Error())
	}
	if !match.Found {
		return notFound(variant.Tag, start, "target text not visible on screen")
	}
	// No element handle: optical matches are positional. The engine clicks
	// the point directly.
	return schemas.EvaluationResult{
		Tag:        variant.Tag,
		Found:      true,
		Confidence: clamp01(match.Confidence),
		MatchCount: 1,
		ClickPoint: match.ClickPoint,
		Duration:   time.Since(start),
	}
}
