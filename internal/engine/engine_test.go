// File: internal/engine/engine_test.go
package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
	"github.com/xkilldash9x/rewind-cli/internal/config"
	"github.com/xkilldash9x/rewind-cli/internal/mocks"
)

const testTab = "tab-1"

type stubWaiter struct {
	mu    sync.Mutex
	state schemas.ActionabilityState
	err   error
	calls int
}

func (w *stubWaiter) WaitFor(ctx context.Context, handle schemas.ElementHandle, conditions []schemas.Condition) (schemas.ActionabilityState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = w.calls + 1
	return w.state, w.err
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		EvaluationTimeout: 2 * time.Second,
		ActionTimeout:     5 * time.Second,
		MinConfidence:     0.3,
		SelectOpenWait:    0,
	}
}

func newTestEngine(ops *mocks.MockProtocolOps, eval VariantEvaluator) (*Engine, *stubWaiter) {
	w := &stubWaiter{}
	return New(ops, eval, w, testEngineConfig(), zap.NewNop()), w
}

// exampleDescriptor mirrors a realistic recording: a primary semantic
// variant backed by a CSS selector and raw coordinates.
func exampleDescriptor() schemas.LocatorDescriptor {
	return schemas.LocatorDescriptor{Variants: []schemas.StrategyVariant{
		{
			Tag: schemas.StrategySemanticRole, Confidence: 0.95, Primary: true,
			Semantic: &schemas.SemanticMeta{Role: "button", Name: "Submit"},
		},
		{
			Tag: schemas.StrategyCSSSelector, Confidence: 0.85,
			Selector: &schemas.SelectorMeta{Expression: "#submit-btn"},
		},
		{
			Tag: schemas.StrategyCoordinates, Confidence: 0.60,
			Coordinates: &schemas.CoordinatesMeta{X: 120, Y: 340},
		},
	}}
}

// expectVariant wires one evaluation answer, optionally delayed to shuffle
// arrival order.
func expectVariant(eval *mocks.MockEvaluator, tag schemas.StrategyTag, result schemas.EvaluationResult, delay time.Duration) {
	eval.On("Evaluate", mock.Anything, testTab,
		mock.MatchedBy(func(v schemas.StrategyVariant) bool { return v.Tag == tag })).
		Run(func(mock.Arguments) {
			if delay > 0 {
				time.Sleep(delay)
			}
		}).
		Return(result)
}

func foundAt(tag schemas.StrategyTag, confidence, x, y float64) schemas.EvaluationResult {
	return schemas.EvaluationResult{
		Tag: tag, Found: true, Confidence: confidence, MatchCount: 1,
		ClickPoint: &schemas.Point{X: x, Y: y},
	}
}

func missed(tag schemas.StrategyTag, reason string) schemas.EvaluationResult {
	return schemas.EvaluationResult{Tag: tag, Found: false, Error: reason}
}

// captureMouse records every dispatched mouse event.
func captureMouse(ops *mocks.MockProtocolOps) *[]*input.DispatchMouseEventParams {
	var events []*input.DispatchMouseEventParams
	var mu sync.Mutex
	ops.On("DispatchMouseEvent", mock.Anything, testTab, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			events = append(events, args.Get(2).(*input.DispatchMouseEventParams))
			mu.Unlock()
		}).
		Return(nil)
	return &events
}

func TestExecuteActionPicksHighestWeightedScore(t *testing.T) {
	defer goleak.VerifyNone(t)

	ops := new(mocks.MockProtocolOps)
	events := captureMouse(ops)

	eval := new(mocks.MockEvaluator)
	// The strongest variant arrives last; arbitration must not reward
	// arrival order.
	expectVariant(eval, schemas.StrategySemanticRole, foundAt(schemas.StrategySemanticRole, 0.95, 50, 60), 30*time.Millisecond)
	expectVariant(eval, schemas.StrategyCSSSelector, foundAt(schemas.StrategyCSSSelector, 0.85, 51, 61), 0)
	expectVariant(eval, schemas.StrategyCoordinates, foundAt(schemas.StrategyCoordinates, 0.60, 120, 340), 0)

	e, _ := newTestEngine(ops, eval)
	got := e.ExecuteAction(context.Background(), testTab, schemas.ActionRequest{
		Type:       schemas.ActionClick,
		Descriptor: exampleDescriptor(),
	})

	require.True(t, got.Success, "error: %s", got.Error)
	require.NotNil(t, got.UsedVariant)
	assert.Equal(t, schemas.StrategySemanticRole, *got.UsedVariant)
	assert.Len(t, got.Results, 3)
	// Trail is sorted by weighted score, and each entry carries its score
	// alongside the raw confidence.
	assert.Equal(t, schemas.StrategySemanticRole, got.Results[0].Tag)
	assert.InDelta(t, 0.95*0.95, got.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.80*0.85, got.Results[1].Score, 1e-9)
	assert.InDelta(t, 0.60*0.60, got.Results[2].Score, 1e-9)

	// One full click at the winner's point: move, press, release.
	require.Len(t, *events, 3)
	assert.Equal(t, input.MouseMoved, (*events)[0].Type)
	assert.Equal(t, input.MousePressed, (*events)[1].Type)
	assert.Equal(t, input.MouseReleased, (*events)[2].Type)
	assert.InDelta(t, 50.0, (*events)[1].X, 1e-9)
	assert.InDelta(t, 60.0, (*events)[1].Y, 1e-9)
	assert.Equal(t, input.Left, (*events)[1].Button)
	assert.Equal(t, StateIdle, e.State())
}

func TestExecuteActionFallsBackToCoordinatesBelowFloor(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	captureMouse(ops)

	eval := new(mocks.MockEvaluator)
	expectVariant(eval, schemas.StrategySemanticRole, missed(schemas.StrategySemanticRole, "no accessibility node"), 0)
	expectVariant(eval, schemas.StrategyCSSSelector, missed(schemas.StrategyCSSSelector, "selector matched no elements"), 0)
	expectVariant(eval, schemas.StrategyCoordinates, foundAt(schemas.StrategyCoordinates, 0.40, 120, 340), 0)

	e, _ := newTestEngine(ops, eval)
	got := e.ExecuteAction(context.Background(), testTab, schemas.ActionRequest{
		Type:       schemas.ActionClick,
		Descriptor: exampleDescriptor(),
	})

	// 0.40 x 0.60 = 0.24 sits under the 0.3 floor; the floor is advisory
	// and the last-resort coordinates still execute.
	require.True(t, got.Success)
	assert.Equal(t, schemas.StrategyCoordinates, *got.UsedVariant)
}

func TestExecuteActionReportsFullTrailWhenNothingFound(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	eval := new(mocks.MockEvaluator)
	expectVariant(eval, schemas.StrategySemanticRole, missed(schemas.StrategySemanticRole, "no accessibility node"), 0)
	expectVariant(eval, schemas.StrategyCSSSelector, missed(schemas.StrategyCSSSelector, "selector matched no elements"), 0)
	expectVariant(eval, schemas.StrategyCoordinates, missed(schemas.StrategyCoordinates, "outside the viewport"), 0)

	e, _ := newTestEngine(ops, eval)
	got := e.ExecuteAction(context.Background(), testTab, schemas.ActionRequest{
		Type:       schemas.ActionClick,
		Descriptor: exampleDescriptor(),
	})

	assert.False(t, got.Success)
	assert.Equal(t, schemas.ErrorKindNoStrategy, got.ErrorKind)
	assert.Len(t, got.Results, 3)
	for _, r := range got.Results {
		assert.False(t, r.Found)
		assert.NotEmpty(t, r.Error)
	}
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, StateIdle, e.State())
}

func TestEvaluationRunsVariantsConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t)

	ops := new(mocks.MockProtocolOps)
	captureMouse(ops)

	perVariant := 60 * time.Millisecond
	eval := new(mocks.MockEvaluator)
	expectVariant(eval, schemas.StrategySemanticRole, foundAt(schemas.StrategySemanticRole, 0.95, 1, 1), perVariant)
	expectVariant(eval, schemas.StrategyCSSSelector, foundAt(schemas.StrategyCSSSelector, 0.85, 1, 1), perVariant)
	expectVariant(eval, schemas.StrategyCoordinates, foundAt(schemas.StrategyCoordinates, 0.60, 1, 1), perVariant)

	e, _ := newTestEngine(ops, eval)
	got := e.ExecuteAction(context.Background(), testTab, schemas.ActionRequest{
		Type:       schemas.ActionClick,
		Descriptor: exampleDescriptor(),
	})

	require.True(t, got.Success)
	// Three 60ms evaluations in parallel finish near max, far from 180ms.
	assert.Less(t, got.Evaluation, 3*perVariant-perVariant/2)
	assert.GreaterOrEqual(t, got.Evaluation, perVariant)
}

func TestExecuteActionRejectsInvalidDescriptor(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	eval := new(mocks.MockEvaluator)

	e, _ := newTestEngine(ops, eval)
	got := e.ExecuteAction(context.Background(), testTab, schemas.ActionRequest{
		Type:       schemas.ActionClick,
		Descriptor: schemas.LocatorDescriptor{},
	})

	assert.False(t, got.Success)
	assert.Equal(t, schemas.ErrorKindInternal, got.ErrorKind)
	assert.Contains(t, got.Error, "invalid locator descriptor")
	eval.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything, mock.Anything)
}

func TestEvaluatorPanicSpoilsOnlyItsOwnVariant(t *testing.T) {
	defer goleak.VerifyNone(t)

	ops := new(mocks.MockProtocolOps)
	captureMouse(ops)

	eval := new(mocks.MockEvaluator)
	eval.On("Evaluate", mock.Anything, testTab,
		mock.MatchedBy(func(v schemas.StrategyVariant) bool { return v.Tag == schemas.StrategySemanticRole })).
		Run(func(mock.Arguments) { panic("broken evaluator") }).
		Return(schemas.EvaluationResult{})
	expectVariant(eval, schemas.StrategyCSSSelector, foundAt(schemas.StrategyCSSSelector, 0.85, 10, 10), 0)
	expectVariant(eval, schemas.StrategyCoordinates, missed(schemas.StrategyCoordinates, "outside the viewport"), 0)

	e, _ := newTestEngine(ops, eval)
	got := e.ExecuteAction(context.Background(), testTab, schemas.ActionRequest{
		Type:       schemas.ActionClick,
		Descriptor: exampleDescriptor(),
	})

	require.True(t, got.Success)
	assert.Equal(t, schemas.StrategyCSSSelector, *got.UsedVariant)

	var panicked *schemas.EvaluationResult
	for i := range got.Results {
		if got.Results[i].Tag == schemas.StrategySemanticRole {
			panicked = &got.Results[i]
		}
	}
	require.NotNil(t, panicked)
	assert.False(t, panicked.Found)
	assert.Contains(t, panicked.Error, "panic")
}

func TestInteractionFailureIsTypedWithTrail(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	ops.On("DispatchMouseEvent", mock.Anything, testTab, mock.Anything).
		Return(assert.AnError)

	eval := new(mocks.MockEvaluator)
	expectVariant(eval, schemas.StrategySemanticRole, foundAt(schemas.StrategySemanticRole, 0.95, 5, 5), 0)
	expectVariant(eval, schemas.StrategyCSSSelector, missed(schemas.StrategyCSSSelector, "selector matched no elements"), 0)
	expectVariant(eval, schemas.StrategyCoordinates, missed(schemas.StrategyCoordinates, "outside the viewport"), 0)

	e, _ := newTestEngine(ops, eval)
	got := e.ExecuteAction(context.Background(), testTab, schemas.ActionRequest{
		Type:       schemas.ActionClick,
		Descriptor: exampleDescriptor(),
	})

	assert.False(t, got.Success)
	assert.Equal(t, schemas.ErrorKindInteraction, got.ErrorKind)
	assert.Len(t, got.Results, 3)
	assert.Nil(t, got.UsedVariant)
}

func TestWeightTableOverridesAndUnknownTags(t *testing.T) {
	table := NewWeightTable(map[string]float64{
		"css-selector": 0.99,
		"coordinates":  1.7, // out of range, ignored
	})

	assert.InDelta(t, 0.99, table.Weight(schemas.StrategyCSSSelector), 1e-9)
	assert.InDelta(t, 0.60, table.Weight(schemas.StrategyCoordinates), 1e-9)
	assert.InDelta(t, 0.95, table.Weight(schemas.StrategySemanticRole), 1e-9)
	assert.InDelta(t, unknownTagWeight, table.Weight(schemas.StrategyTag("future-strategy")), 1e-9)

	assert.Zero(t, table.Score(schemas.EvaluationResult{Tag: schemas.StrategyCSSSelector, Found: false, Confidence: 0.9}))
	assert.InDelta(t, 0.99*0.9, table.Score(schemas.EvaluationResult{Tag: schemas.StrategyCSSSelector, Found: true, Confidence: 0.9}), 1e-9)
}
