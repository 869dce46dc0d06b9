// File: internal/strategy/semantic_test.go
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

func roleVariant(role, name string, confidence float64) schemas.StrategyVariant {
	return schemas.StrategyVariant{
		Tag:        schemas.StrategySemanticRole,
		Confidence: confidence,
		Semantic:   &schemas.SemanticMeta{Role: role, Name: name},
	}
}

func attrVariant(meta schemas.AttributesMeta, confidence float64) schemas.StrategyVariant {
	return schemas.StrategyVariant{
		Tag:        schemas.StrategyPowerAttributes,
		Confidence: confidence,
		Attributes: &meta,
	}
}

// expectBackendMaterialize wires the box-model call for an already-known
// backend node ID.
func expectBackendMaterialize(ops *mocks.MockProtocolOps, backendID cdp.BackendNodeID) {
	ops.On("GetBoxModel", mock.Anything, testTab, backendID).
		Return(boxAt(0, 0, 40, 20), nil)
}

func TestSemanticRoleAppliesFloor(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	ops.On("GetAccessibilityTree", mock.Anything, testTab).Return([]schemas.AXNode{
		{Role: "link", Name: "Home", BackendNodeID: 2},
		{Role: "button", Name: "Submit Order", BackendNodeID: 9},
		{Role: "button", Name: "Cancel", BackendNodeID: 11},
	}, nil)
	expectBackendMaterialize(ops, 9)

	e := NewSemanticEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, roleVariant("button", "Submit Order", 0.70))

	require.True(t, got.Found)
	assert.InDelta(t, 0.90, got.Confidence, 1e-9)
	assert.Equal(t, 1, got.MatchCount)
	assert.Equal(t, cdp.BackendNodeID(9), got.Handle.BackendNodeID)
}

func TestSemanticRoleKeepsHigherRecordedConfidence(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	ops.On("GetAccessibilityTree", mock.Anything, testTab).Return([]schemas.AXNode{
		{Role: "button", Name: "Pay", BackendNodeID: 4},
	}, nil)
	expectBackendMaterialize(ops, 4)

	e := NewSemanticEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, roleVariant("button", "Pay", 0.95))

	require.True(t, got.Found)
	assert.InDelta(t, 0.95, got.Confidence, 1e-9)
}

func TestSemanticRoleNormalizesNames(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	ops.On("GetAccessibilityTree", mock.Anything, testTab).Return([]schemas.AXNode{
		{Role: "Button", Name: "  submit   order ", BackendNodeID: 9},
	}, nil)
	expectBackendMaterialize(ops, 9)

	e := NewSemanticEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, roleVariant("button", "Submit Order", 0.70))

	assert.True(t, got.Found)
}

func TestSemanticRolePenalizesDuplicates(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	ops.On("GetAccessibilityTree", mock.Anything, testTab).Return([]schemas.AXNode{
		{Role: "button", Name: "More", BackendNodeID: 5},
		{Role: "button", Name: "More", BackendNodeID: 6},
	}, nil)
	expectBackendMaterialize(ops, 5)

	e := NewSemanticEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, roleVariant("button", "More", 0.70))

	require.True(t, got.Found)
	assert.Equal(t, 2, got.MatchCount)
	assert.InDelta(t, 0.90-0.12, got.Confidence, 1e-9)
}

func TestSemanticRoleSkipsIgnoredNodes(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	ops.On("GetAccessibilityTree", mock.Anything, testTab).Return([]schemas.AXNode{
		{Role: "button", Name: "Go", BackendNodeID: 5, Ignored: true},
	}, nil)

	e := NewSemanticEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, roleVariant("button", "Go", 0.70))

	assert.False(t, got.Found)
	assert.Contains(t, got.Error, "no accessibility node")
}

func TestPowerAttributesPrefersTestID(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	ops.On("GetDocument", mock.Anything, testTab).Return(&cdp.Node{NodeID: 1}, nil)
	ops.On("QuerySelectorAll", mock.Anything, testTab, cdp.NodeID(1),
		mock.MatchedBy(func(sel string) bool { return strings.Contains(sel, `data-testid="checkout"`) })).
		Return([]cdp.NodeID{21}, nil)
	expectMaterialize(ops, 21, 30, boxAt(0, 0, 10, 10))

	e := NewSemanticEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, attrVariant(schemas.AttributesMeta{
		TestID:      "checkout",
		Placeholder: "Search",
	}, 0.60))

	require.True(t, got.Found)
	assert.InDelta(t, 0.85, got.Confidence, 1e-9)
	ops.AssertExpectations(t)
}

func TestPowerAttributesTextGoesThroughSearchAPI(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	ops.On("PerformSearch", mock.Anything, testTab,
		mock.MatchedBy(func(q string) bool {
			return strings.Contains(q, "normalize-space") && strings.Contains(q, `"Log in"`)
		})).
		Return([]cdp.NodeID{21}, nil)
	expectMaterialize(ops, 21, 30, boxAt(0, 0, 10, 10))

	e := NewSemanticEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, attrVariant(schemas.AttributesMeta{
		Text: "  Log in ",
	}, 0.50))

	require.True(t, got.Found)
	assert.InDelta(t, 0.65, got.Confidence, 1e-9)
}

func TestPowerAttributesAmbiguityStaysAboveFloorMinusPenalty(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	ops.On("GetDocument", mock.Anything, testTab).Return(&cdp.Node{NodeID: 1}, nil)
	ops.On("QuerySelectorAll", mock.Anything, testTab, cdp.NodeID(1), mock.Anything).
		Return([]cdp.NodeID{21, 22}, nil)
	expectMaterialize(ops, 21, 30, boxAt(0, 0, 10, 10))

	e := NewSemanticEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, attrVariant(schemas.AttributesMeta{
		Placeholder: "Email",
	}, 0.40))

	require.True(t, got.Found)
	assert.InDelta(t, 0.75-0.12, got.Confidence, 1e-9)
}

func TestPowerAttributesNoSignalMatched(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	ops.On("GetDocument", mock.Anything, testTab).Return(&cdp.Node{NodeID: 1}, nil)
	ops.On("QuerySelectorAll", mock.Anything, testTab, cdp.NodeID(1), mock.Anything).
		Return([]cdp.NodeID{}, nil)
	ops.On("PerformSearch", mock.Anything, testTab, mock.Anything).
		Return([]cdp.NodeID{}, nil)

	e := NewSemanticEvaluator(ops, zap.NewNop())
	got := e.Evaluate(context.Background(), testTab, attrVariant(schemas.AttributesMeta{
		Title: "Close dialog",
	}, 0.40))

	assert.False(t, got.Found)
	assert.Contains(t, got.Error, "title signal")
}

func TestStrongestSignalOrder(t *testing.T) {
	full := schemas.AttributesMeta{
		TestID:      "t",
		Label:       "l",
		Placeholder: "p",
		Text:        "x",
		AltText:     "a",
		Title:       "i",
	}

	name, _, floor := strongestSignal(full)
	assert.Equal(t, "test-id", name)
	assert.InDelta(t, 0.85, floor, 1e-9)

	full.TestID = ""
	name, _, floor = strongestSignal(full)
	assert.Equal(t, "label", name)
	assert.InDelta(t, 0.80, floor, 1e-9)

	full.Label = ""
	name, _, floor = strongestSignal(full)
	assert.Equal(t, "placeholder", name)
	assert.InDelta(t, 0.75, floor, 1e-9)

	full.Placeholder = ""
	name, _, floor = strongestSignal(full)
	assert.Equal(t, "text", name)
	assert.InDelta(t, 0.65, floor, 1e-9)

	full.Text = ""
	name, _, floor = strongestSignal(full)
	assert.Equal(t, "alt", name)
	assert.InDelta(t, 0.60, floor, 1e-9)

	full.AltText = ""
	name, _, floor = strongestSignal(full)
	assert.Equal(t, "title", name)
	assert.InDelta(t, 0.55, floor, 1e-9)
}
