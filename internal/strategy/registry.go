// File: internal/strategy/registry.go
// Description: Maps strategy tags to the evaluator responsible for them. The
// decision engine asks the registry per variant; a tag nobody claims comes
// back as a clean not-found result rather than an error, so descriptors
// recorded by newer collaborators degrade gracefully.
package strategy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
)

// Registry routes strategy variants to evaluators by tag.
type Registry struct {
	byTag  map[schemas.StrategyTag]schemas.Evaluator
	logger *zap.Logger
}

// NewRegistry builds a registry from the given evaluators. A later evaluator
// claiming an already-registered tag wins; the handoff is logged.
func NewRegistry(logger *zap.Logger, evaluators ...schemas.Evaluator) *Registry {
	r := &Registry{
		byTag:  make(map[schemas.StrategyTag]schemas.Evaluator),
		logger: logger.Named("strategy"),
	}
	for _, e := range evaluators {
		for _, tag := range e.Handles() {
			if _, dup := r.byTag[tag]; dup {
				r.logger.Warn("evaluator tag re-registered", zap.String("tag", string(tag)))
			}
			r.byTag[tag] = e
		}
	}
	return r
}

// NewDefaultRegistry wires the full production evaluator set against one
// protocol client. Evidence-heuristic variants carry no replay-side handler;
// the capture buffer that could resolve them lives in the recorder, so they
// fall through to the unclaimed-tag path.
func NewDefaultRegistry(ops schemas.ProtocolOps, recognizer schemas.TextRecognizer, logger *zap.Logger) *Registry {
	return NewRegistry(logger,
		NewSemanticEvaluator(ops, logger),
		NewSelectorEvaluator(ops, logger),
		NewVisionEvaluator(recognizer, logger),
		NewCoordinatesEvaluator(ops, logger),
	)
}

// Evaluate resolves the variant's tag and runs the matching evaluator. An
// unclaimed tag produces a not-found result carrying an explanation, never a
// panic or an error return.
func (r *Registry) Evaluate(ctx context.Context, tab string, variant schemas.StrategyVariant) schemas.EvaluationResult {
	e, ok := r.byTag[variant.Tag]
	if !ok {
		r.logger.Debug("no evaluator registered for tag", zap.String("tag", string(variant.Tag)))
		return schemas.EvaluationResult{
			Tag:   variant.Tag,
			Found: false,
			Error: "no evaluator registered for strategy tag",
		}
	}
	return e.Evaluate(ctx, tab, variant)
}

// Tags returns the set of tags with a registered evaluator.
func (r *Registry) Tags() []schemas.StrategyTag {
	tags := make([]schemas.StrategyTag, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	return tags
}

// notFound builds the standard failure result. Every evaluator reports
// misses through this shape so the engine's per-variant trail reads the
// same regardless of which probe failed.
func notFound(tag schemas.StrategyTag, start time.Time, reason string) schemas.EvaluationResult {
	return schemas.EvaluationResult{
		Tag:      tag,
		Found:    false,
		Duration: time.Since(start),
		Error:    reason,
	}
}
