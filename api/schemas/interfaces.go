// File: api/schemas/interfaces.go
// Description: Canonical interface definitions live here, at the API level,
// so that internal packages can depend on each other's contracts without
// import cycles. The protocol client is the sole owner of the DevTools
// channel; every other component reaches the browser only through
// ProtocolOps.
package schemas

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
)

// AXNode is the slice of the accessibility tree the semantic evaluator
// consumes: role, computed name and the backing DOM node.
type AXNode struct {
	Role          string
	Name          string
	BackendNodeID cdp.BackendNodeID
	Ignored       bool
}

// EventHandler receives a raw protocol event's parameter payload.
type EventHandler func(params []byte)

// ProtocolOps is the typed surface of the debugging protocol exposed to the
// evaluators, the actionability waiter and the decision engine. One
// implementation exists (internal/protocol.Client); tests substitute mocks.
type ProtocolOps interface {
	// Lifecycle.
	Attach(ctx context.Context, tab string) error
	Detach(ctx context.Context, tab string) error
	Cleanup(ctx context.Context)

	// Events.
	Subscribe(tab, event string, h EventHandler)
	Unsubscribe(tab, event string)

	// DOM queries. Node IDs are query-session-scoped; backend node IDs are
	// the mutation-resistant currency handed around in ElementHandles.
	GetDocument(ctx context.Context, tab string) (*cdp.Node, error)
	QuerySelectorAll(ctx context.Context, tab string, root cdp.NodeID, selector string) ([]cdp.NodeID, error)
	PerformSearch(ctx context.Context, tab, query string) ([]cdp.NodeID, error)
	DescribeNode(ctx context.Context, tab string, nodeID cdp.NodeID, depth int64, pierce bool) (*cdp.Node, error)
	DescribeBackendNode(ctx context.Context, tab string, backendID cdp.BackendNodeID, depth int64) (*cdp.Node, error)
	PushNodesByBackendIDs(ctx context.Context, tab string, ids []cdp.BackendNodeID) ([]cdp.NodeID, error)
	GetNodeForLocation(ctx context.Context, tab string, x, y int64) (cdp.BackendNodeID, error)

	// Geometry and scripting.
	GetBoxModel(ctx context.Context, tab string, backendID cdp.BackendNodeID) (*dom.BoxModel, error)
	ResolveNode(ctx context.Context, tab string, backendID cdp.BackendNodeID) (runtime.RemoteObjectID, error)
	CallFunctionOn(ctx context.Context, tab string, objectID runtime.RemoteObjectID, fn string, out any, args ...any) error
	Evaluate(ctx context.Context, tab, expression string, out any) error
	GetLayoutViewport(ctx context.Context, tab string) (*page.VisualViewport, error)

	// Accessibility.
	GetAccessibilityTree(ctx context.Context, tab string) ([]AXNode, error)

	// Interaction primitives.
	Focus(ctx context.Context, tab string, backendID cdp.BackendNodeID) error
	ScrollIntoView(ctx context.Context, tab string, backendID cdp.BackendNodeID) error
	DispatchMouseEvent(ctx context.Context, tab string, p *input.DispatchMouseEventParams) error
	DispatchKeyEvent(ctx context.Context, tab string, p *input.DispatchKeyEventParams) error
	InsertText(ctx context.Context, tab, text string) error
	CaptureScreenshot(ctx context.Context, tab string) ([]byte, error)
}

// Evaluator relocates an element for the variant tags it declares. Evaluate
// never returns an error value: internal failures surface as a result with
// Found=false and the Error field set, so one broken probe can never abort a
// concurrently evaluated batch.
type Evaluator interface {
	Handles() []StrategyTag
	Evaluate(ctx context.Context, tab string, variant StrategyVariant) EvaluationResult
}

// TextRecognizer is the vision collaborator's contract: match a recorded
// target text against the already-computed recognition of the current
// screen. The optical-text evaluator is a thin adapter over this.
type TextRecognizer interface {
	EvaluateText(ctx context.Context, tab, targetText string) (TextMatch, error)
}
