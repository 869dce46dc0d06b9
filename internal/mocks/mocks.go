// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
)

// -- ProtocolOps Mock --

// MockProtocolOps mocks schemas.ProtocolOps for evaluator, waiter and
// engine tests.
type MockProtocolOps struct {
	mock.Mock
}

var _ schemas.ProtocolOps = (*MockProtocolOps)(nil)

func (m *MockProtocolOps) Attach(ctx context.Context, tab string) error {
	return m.Called(ctx, tab).Error(0)
}

func (m *MockProtocolOps) Detach(ctx context.Context, tab string) error {
	return m.Called(ctx, tab).Error(0)
}

func (m *MockProtocolOps) Cleanup(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockProtocolOps) Subscribe(tab, event string, h schemas.EventHandler) {
	m.Called(tab, event, h)
}

func (m *MockProtocolOps) Unsubscribe(tab, event string) {
	m.Called(tab, event)
}

func (m *MockProtocolOps) GetDocument(ctx context.Context, tab string) (*cdp.Node, error) {
	args := m.Called(ctx, tab)
	node, _ := args.Get(0).(*cdp.Node)
	return node, args.Error(1)
}

func (m *MockProtocolOps) QuerySelectorAll(ctx context.Context, tab string, root cdp.NodeID, selector string) ([]cdp.NodeID, error) {
	args := m.Called(ctx, tab, root, selector)
	ids, _ := args.Get(0).([]cdp.NodeID)
	return ids, args.Error(1)
}

func (m *MockProtocolOps) PerformSearch(ctx context.Context, tab, query string) ([]cdp.NodeID, error) {
	args := m.Called(ctx, tab, query)
	ids, _ := args.Get(0).([]cdp.NodeID)
	return ids, args.Error(1)
}

func (m *MockProtocolOps) DescribeNode(ctx context.Context, tab string, nodeID cdp.NodeID, depth int64, pierce bool) (*cdp.Node, error) {
	args := m.Called(ctx, tab, nodeID, depth, pierce)
	node, _ := args.Get(0).(*cdp.Node)
	return node, args.Error(1)
}

func (m *MockProtocolOps) DescribeBackendNode(ctx context.Context, tab string, backendID cdp.BackendNodeID, depth int64) (*cdp.Node, error) {
	args := m.Called(ctx, tab, backendID, depth)
	node, _ := args.Get(0).(*cdp.Node)
	return node, args.Error(1)
}

func (m *MockProtocolOps) PushNodesByBackendIDs(ctx context.Context, tab string, ids []cdp.BackendNodeID) ([]cdp.NodeID, error) {
	args := m.Called(ctx, tab, ids)
	nodeIDs, _ := args.Get(0).([]cdp.NodeID)
	return nodeIDs, args.Error(1)
}

func (m *MockProtocolOps) GetNodeForLocation(ctx context.Context, tab string, x, y int64) (cdp.BackendNodeID, error) {
	args := m.Called(ctx, tab, x, y)
	id, _ := args.Get(0).(cdp.BackendNodeID)
	return id, args.Error(1)
}

func (m *MockProtocolOps) GetBoxModel(ctx context.Context, tab string, backendID cdp.BackendNodeID) (*dom.BoxModel, error) {
	args := m.Called(ctx, tab, backendID)
	model, _ := args.Get(0).(*dom.BoxModel)
	return model, args.Error(1)
}

func (m *MockProtocolOps) ResolveNode(ctx context.Context, tab string, backendID cdp.BackendNodeID) (runtime.RemoteObjectID, error) {
	args := m.Called(ctx, tab, backendID)
	id, _ := args.Get(0).(runtime.RemoteObjectID)
	return id, args.Error(1)
}

func (m *MockProtocolOps) CallFunctionOn(ctx context.Context, tab string, objectID runtime.RemoteObjectID, fn string, out any, args ...any) error {
	callArgs := m.Called(ctx, tab, objectID, fn, out, args)
	return callArgs.Error(0)
}

func (m *MockProtocolOps) Evaluate(ctx context.Context, tab, expression string, out any) error {
	args := m.Called(ctx, tab, expression, out)
	return args.Error(0)
}

func (m *MockProtocolOps) GetLayoutViewport(ctx context.Context, tab string) (*page.VisualViewport, error) {
	args := m.Called(ctx, tab)
	viewport, _ := args.Get(0).(*page.VisualViewport)
	return viewport, args.Error(1)
}

func (m *MockProtocolOps) GetAccessibilityTree(ctx context.Context, tab string) ([]schemas.AXNode, error) {
	args := m.Called(ctx, tab)
	nodes, _ := args.Get(0).([]schemas.AXNode)
	return nodes, args.Error(1)
}

func (m *MockProtocolOps) Focus(ctx context.Context, tab string, backendID cdp.BackendNodeID) error {
	return m.Called(ctx, tab, backendID).Error(0)
}

func (m *MockProtocolOps) ScrollIntoView(ctx context.Context, tab string, backendID cdp.BackendNodeID) error {
	return m.Called(ctx, tab, backendID).Error(0)
}

func (m *MockProtocolOps) DispatchMouseEvent(ctx context.Context, tab string, p *input.DispatchMouseEventParams) error {
	return m.Called(ctx, tab, p).Error(0)
}

func (m *MockProtocolOps) DispatchKeyEvent(ctx context.Context, tab string, p *input.DispatchKeyEventParams) error {
	return m.Called(ctx, tab, p).Error(0)
}

func (m *MockProtocolOps) InsertText(ctx context.Context, tab, text string) error {
	return m.Called(ctx, tab, text).Error(0)
}

func (m *MockProtocolOps) CaptureScreenshot(ctx context.Context, tab string) ([]byte, error) {
	args := m.Called(ctx, tab)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// -- TextRecognizer Mock --

// MockTextRecognizer mocks the vision collaborator.
type MockTextRecognizer struct {
	mock.Mock
}

var _ schemas.TextRecognizer = (*MockTextRecognizer)(nil)

func (m *MockTextRecognizer) EvaluateText(ctx context.Context, tab, targetText string) (schemas.TextMatch, error) {
	args := m.Called(ctx, tab, targetText)
	match, _ := args.Get(0).(schemas.TextMatch)
	return match, args.Error(1)
}

// -- Evaluator Mock --

// MockEvaluator mocks one strategy evaluator for engine tests.
type MockEvaluator struct {
	mock.Mock
}

var _ schemas.Evaluator = (*MockEvaluator)(nil)

func (m *MockEvaluator) Handles() []schemas.StrategyTag {
	args := m.Called()
	tags, _ := args.Get(0).([]schemas.StrategyTag)
	return tags
}

func (m *MockEvaluator) Evaluate(ctx context.Context, tab string, variant schemas.StrategyVariant) schemas.EvaluationResult {
	args := m.Called(ctx, tab, variant)
	result, _ := args.Get(0).(schemas.EvaluationResult)
	return result
}
