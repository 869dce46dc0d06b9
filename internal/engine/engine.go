// File: internal/engine/engine.go
// Description: The decision engine. For each action it fans every recorded
// strategy variant out to its evaluator concurrently, waits for the full
// trail rather than short-circuiting on the first hit, arbitrates by
// weighted score, and hands the winner to the interaction layer. Failures
// always carry the complete per-variant trail; replay debugging lives or
// dies on that.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
	"github.com/xkilldash9x/rewind-cli/internal/config"
)

// State is the engine's externally visible lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StateEvaluating State = "evaluating"
	StateExecuting  State = "executing"
	StateError      State = "error"
)

// VariantEvaluator routes one variant to whichever evaluator claims its
// tag. Satisfied by strategy.Registry.
type VariantEvaluator interface {
	Evaluate(ctx context.Context, tab string, variant schemas.StrategyVariant) schemas.EvaluationResult
}

// ReadinessWaiter gates interactions on element actionability. Satisfied by
// actionability.Waiter.
type ReadinessWaiter interface {
	WaitFor(ctx context.Context, handle schemas.ElementHandle, conditions []schemas.Condition) (schemas.ActionabilityState, error)
}

// Engine arbitrates strategy variants and executes actions.
type Engine struct {
	ops       schemas.ProtocolOps
	evaluator VariantEvaluator
	waiter    ReadinessWaiter
	cfg       config.EngineConfig
	weights   WeightTable
	logger    *zap.Logger

	mu    sync.RWMutex
	state State
}

func New(ops schemas.ProtocolOps, evaluator VariantEvaluator, waiter ReadinessWaiter, cfg config.EngineConfig, logger *zap.Logger) *Engine {
	return &Engine{
		ops:       ops,
		evaluator: evaluator,
		waiter:    waiter,
		cfg:       cfg,
		weights:   NewWeightTable(cfg.Weights),
		logger:    logger.Named("engine"),
		state:     StateIdle,
	}
}

// State reports the engine's current phase.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// ExecuteAction relocates the action's element through every recorded
// variant and performs the interaction with the best find. The returned
// result is always complete: id, full trail, phase durations and, on
// failure, a classified error.
func (e *Engine) ExecuteAction(ctx context.Context, tab string, req schemas.ActionRequest) (result schemas.ActionExecutionResult) {
	start := time.Now()
	result.ID = uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			e.setState(StateError)
			e.logger.Error("action execution panicked",
				zap.String("action_id", result.ID), zap.Any("panic", r))
			result.Success = false
			result.Error = fmt.Sprintf("internal failure: %v", r)
			result.ErrorKind = schemas.ErrorKindInternal
			result.Total = time.Since(start)
		}
	}()

	if err := req.Descriptor.Validate(); err != nil {
		result.Error = fmt.Sprintf("invalid locator descriptor: %v", err)
		result.ErrorKind = schemas.ErrorKindInternal
		result.Total = time.Since(start)
		return result
	}

	timeout := e.cfg.ActionTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.setState(StateEvaluating)
	defer func() {
		if e.State() != StateError {
			e.setState(StateIdle)
		}
	}()

	evalStart := time.Now()
	results := e.evaluateAll(ctx, tab, req.Descriptor.Variants)
	e.weights.SortByScore(results)
	result.Results = results
	result.Evaluation = time.Since(evalStart)

	best := bestFound(results)
	if best == nil {
		result.Error = "no strategy relocated the element"
		result.ErrorKind = schemas.ErrorKindNoStrategy
		result.Total = time.Since(start)
		e.logger.Warn("every strategy variant missed",
			zap.String("action_id", result.ID), zap.String("tab", tab),
			zap.Int("variants", len(results)))
		return result
	}

	score := e.weights.Score(*best)
	if score < e.cfg.MinConfidence {
		// The floor is advisory: a weak find still beats giving up.
		e.logger.Warn("best variant scores below the confidence floor",
			zap.String("action_id", result.ID),
			zap.String("tag", string(best.Tag)),
			zap.Float64("score", score),
			zap.Float64("floor", e.cfg.MinConfidence))
	}
	e.logger.Debug("variant arbitration settled",
		zap.String("action_id", result.ID),
		zap.String("tag", string(best.Tag)),
		zap.Float64("confidence", best.Confidence),
		zap.Float64("score", score))

	e.setState(StateExecuting)
	execStart := time.Now()
	if err := e.perform(ctx, tab, req, best); err != nil {
		result.Error = err.Error()
		result.ErrorKind = schemas.ErrorKindInteraction
		result.Execution = time.Since(execStart)
		result.Total = time.Since(start)
		e.logger.Warn("interaction failed",
			zap.String("action_id", result.ID),
			zap.String("tag", string(best.Tag)), zap.Error(err))
		return result
	}

	tag := best.Tag
	result.Success = true
	result.UsedVariant = &tag
	result.Execution = time.Since(execStart)
	result.Total = time.Since(start)
	return result
}

// EvaluateStrategies runs the full evaluation fan-out without acting, for
// diagnosing why a recording stopped replaying. Results come back sorted by
// weighted score.
func (e *Engine) EvaluateStrategies(ctx context.Context, tab string, descriptor schemas.LocatorDescriptor) []schemas.EvaluationResult {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EvaluationTimeout+time.Second)
	defer cancel()
	results := e.evaluateAll(ctx, tab, descriptor.Variants)
	e.weights.SortByScore(results)
	return results
}

// evaluateAll fans one goroutine out per variant and gathers the complete
// trail. Every variant gets its own timeout; a variant that outlives the
// whole action deadline is dropped late rather than waited on.
func (e *Engine) evaluateAll(ctx context.Context, tab string, variants []schemas.StrategyVariant) []schemas.EvaluationResult {
	out := make(chan schemas.EvaluationResult, len(variants))
	var wg sync.WaitGroup
	for _, variant := range variants {
		wg.Add(1)
		go func(v schemas.StrategyVariant) {
			defer wg.Done()
			out <- e.evaluateOne(ctx, tab, v)
		}(variant)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]schemas.EvaluationResult, 0, len(variants))
	for {
		select {
		case r, ok := <-out:
			if !ok {
				return results
			}
			results = append(results, r)
		case <-ctx.Done():
			// Stragglers finish into the buffered channel and are
			// dropped with it.
			e.logger.Debug("evaluation cut short by deadline",
				zap.Int("collected", len(results)), zap.Int("expected", len(variants)))
			return results
		}
	}
}

// evaluateOne applies the per-variant timeout and converts panics into
// failed results so one broken evaluator cannot take the batch down.
func (e *Engine) evaluateOne(ctx context.Context, tab string, v schemas.StrategyVariant) (result schemas.EvaluationResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluator panicked",
				zap.String("tag", string(v.Tag)), zap.Any("panic", r))
			result = schemas.EvaluationResult{
				Tag:   v.Tag,
				Found: false,
				Error: fmt.Sprintf("evaluator panic: %v", r),
			}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.EvaluationTimeout)
	defer cancel()
	return e.evaluator.Evaluate(ctx, tab, v)
}

// bestFound returns the first found result of a score-sorted trail.
func bestFound(results []schemas.EvaluationResult) *schemas.EvaluationResult {
	for i := range results {
		if results[i].Found {
			return &results[i]
		}
	}
	return nil
}
