// File: internal/strategy/coordinates_test.go
package strategy

import (
	"context"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
	"github.com/xkilldash9x/rewind-cli/internal/mocks"
)

func coordVariant(meta schemas.CoordinatesMeta, confidence float64) schemas.StrategyVariant {
	return schemas.StrategyVariant{
		Tag:         schemas.StrategyCoordinates,
		Confidence:  confidence,
		Coordinates: &meta,
	}
}

// expectViewport wires one viewport snapshot read.
func expectViewport(ops *mocks.MockProtocolOps, vp viewportState) *mock.Call {
	return ops.On("Evaluate", mock.Anything, testTab, viewportExpr, mock.Anything).
		Run(func(args mock.Arguments) {
			*args.Get(3).(*viewportState) = vp
		}).
		Return(nil).Once()
}

func expectScroll(ops *mocks.MockProtocolOps) *mock.Call {
	return ops.On("Evaluate", mock.Anything, testTab,
		mock.MatchedBy(func(expr string) bool { return strings.HasPrefix(expr, "window.scrollTo") }),
		nil).
		Return(nil).Once()
}

func TestCoordinatesScrollDeltaCorrection(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	// Recorded at scroll (0, 500); the page now sits at (0, 440), so the
	// point shifts down by the 60px delta.
	expectViewport(ops, viewportState{ScrollX: 0, ScrollY: 440, Width: 1280, Height: 800})
	ops.On("GetNodeForLocation", mock.Anything, testTab, int64(100), int64(110)).
		Return(cdp.BackendNodeID(0), assert.AnError)

	e := NewCoordinatesEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, coordVariant(schemas.CoordinatesMeta{
		X: 100, Y: 50, ScrollX: 0, ScrollY: 500,
	}, 0.60))

	require.True(t, got.Found)
	require.NotNil(t, got.ClickPoint)
	assert.InDelta(t, 100.0, got.ClickPoint.X, 1e-9)
	assert.InDelta(t, 110.0, got.ClickPoint.Y, 1e-9)
	assert.InDelta(t, 0.60, got.Confidence, 1e-9)
	assert.Nil(t, got.Handle)
}

func TestCoordinatesVerifiedOccupantEarnsBoost(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	expectViewport(ops, viewportState{ScrollX: 0, ScrollY: 0, Width: 1280, Height: 800})
	ops.On("GetNodeForLocation", mock.Anything, testTab, int64(100), int64(50)).
		Return(cdp.BackendNodeID(77), nil)
	ops.On("DescribeBackendNode", mock.Anything, testTab, cdp.BackendNodeID(77), int64(0)).
		Return(&cdp.Node{
			NodeName:   "BUTTON",
			Attributes: []string{"id", "pay-now", "class", "btn btn-primary"},
		}, nil)

	e := NewCoordinatesEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, coordVariant(schemas.CoordinatesMeta{
		X: 100, Y: 50,
		Tag:     "button",
		ID:      "pay-now",
		Classes: []string{"btn-primary"},
	}, 0.60))

	require.True(t, got.Found)
	assert.InDelta(t, 0.70, got.Confidence, 1e-9)
	require.NotNil(t, got.Handle)
	assert.Equal(t, cdp.BackendNodeID(77), got.Handle.BackendNodeID)
}

func TestCoordinatesMismatchedOccupantGetsNoBoost(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	expectViewport(ops, viewportState{ScrollX: 0, ScrollY: 0, Width: 1280, Height: 800})
	ops.On("GetNodeForLocation", mock.Anything, testTab, int64(100), int64(50)).
		Return(cdp.BackendNodeID(77), nil)
	ops.On("DescribeBackendNode", mock.Anything, testTab, cdp.BackendNodeID(77), int64(0)).
		Return(&cdp.Node{NodeName: "DIV"}, nil)

	e := NewCoordinatesEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, coordVariant(schemas.CoordinatesMeta{
		X: 100, Y: 50, Tag: "button",
	}, 0.60))

	require.True(t, got.Found)
	assert.InDelta(t, 0.60, got.Confidence, 1e-9)
}

func TestCoordinatesConfidenceCeiling(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	expectViewport(ops, viewportState{ScrollX: 0, ScrollY: 0, Width: 1280, Height: 800})
	ops.On("GetNodeForLocation", mock.Anything, testTab, int64(100), int64(50)).
		Return(cdp.BackendNodeID(77), nil)
	ops.On("DescribeBackendNode", mock.Anything, testTab, cdp.BackendNodeID(77), int64(0)).
		Return(&cdp.Node{NodeName: "BUTTON"}, nil)

	e := NewCoordinatesEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, coordVariant(schemas.CoordinatesMeta{
		X: 100, Y: 50, Tag: "button",
	}, 0.90))

	require.True(t, got.Found)
	// Recorded 0.90 is capped at 0.75 before the boost and stays capped
	// after it.
	assert.InDelta(t, 0.75, got.Confidence, 1e-9)
}

func TestCoordinatesScrollsTargetBackIntoViewport(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	// Point sits 550px down a 400px viewport, so the evaluator scrolls and
	// re-reads the offsets.
	expectViewport(ops, viewportState{ScrollX: 0, ScrollY: 0, Width: 1280, Height: 400})
	expectScroll(ops)
	expectViewport(ops, viewportState{ScrollX: 0, ScrollY: 350, Width: 1280, Height: 400})
	ops.On("GetNodeForLocation", mock.Anything, testTab, int64(100), int64(200)).
		Return(cdp.BackendNodeID(0), assert.AnError)

	e := NewCoordinatesEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, coordVariant(schemas.CoordinatesMeta{
		X: 100, Y: 550, ScrollX: 0, ScrollY: 0,
	}, 0.60))

	require.True(t, got.Found)
	assert.InDelta(t, 200.0, got.ClickPoint.Y, 1e-9)
	ops.AssertExpectations(t)
}

func TestCoordinatesGiveUpWhenScrollCannotReach(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	expectViewport(ops, viewportState{ScrollX: 0, ScrollY: 0, Width: 1280, Height: 400})
	expectScroll(ops)
	// The page did not move; the point is simply beyond the document.
	expectViewport(ops, viewportState{ScrollX: 0, ScrollY: 0, Width: 1280, Height: 400})

	e := NewCoordinatesEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, coordVariant(schemas.CoordinatesMeta{
		X: 100, Y: 5000,
	}, 0.60))

	assert.False(t, got.Found)
	assert.Zero(t, got.Confidence)
	assert.Contains(t, got.Error, "outside the viewport")
	ops.AssertNotCalled(t, "GetNodeForLocation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
