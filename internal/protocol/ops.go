// File: internal/protocol/ops.go
// Description: The typed operation surface over the raw command channel.
// This is the only place in the repository that spells out protocol
// domain.method commands; evaluators, the waiter and the engine consume
// these through schemas.ProtocolOps.
package protocol

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
)

var _ schemas.ProtocolOps = (*Client)(nil)

// GetDocument returns the document root. Depth 0 keeps the payload small;
// callers needing the subtree use DescribeNode.
func (c *Client) GetDocument(ctx context.Context, tab string) (*cdp.Node, error) {
	var res dom.GetDocumentReturns
	err := c.Send(ctx, tab, dom.CommandGetDocument, &dom.GetDocumentParams{Depth: 0}, &res)
	if err != nil {
		return nil, err
	}
	if res.Root == nil {
		return nil, fmt.Errorf("protocol: document root missing")
	}
	return res.Root, nil
}

// QuerySelectorAll runs a CSS query under the given node.
func (c *Client) QuerySelectorAll(ctx context.Context, tab string, root cdp.NodeID, selector string) ([]cdp.NodeID, error) {
	var res dom.QuerySelectorAllReturns
	err := c.Send(ctx, tab, dom.CommandQuerySelectorAll,
		&dom.QuerySelectorAllParams{NodeID: root, Selector: selector}, &res)
	if err != nil {
		return nil, err
	}
	return res.NodeIDs, nil
}

// PerformSearch resolves a search query (XPath, CSS selector or plain text)
// to node IDs via the DOM search API. Shadow trees are included so results
// match what the page actually renders.
func (c *Client) PerformSearch(ctx context.Context, tab, query string) ([]cdp.NodeID, error) {
	var search dom.PerformSearchReturns
	err := c.Send(ctx, tab, dom.CommandPerformSearch,
		&dom.PerformSearchParams{Query: query, IncludeUserAgentShadowDOM: true}, &search)
	if err != nil {
		return nil, err
	}
	// The search session must always be discarded, results or not.
	defer func() {
		_ = c.Send(ctx, tab, dom.CommandDiscardSearchResults,
			&dom.DiscardSearchResultsParams{SearchID: search.SearchID}, nil)
	}()

	if search.ResultCount == 0 {
		return nil, nil
	}
	var res dom.GetSearchResultsReturns
	err = c.Send(ctx, tab, dom.CommandGetSearchResults,
		&dom.GetSearchResultsParams{SearchID: search.SearchID, FromIndex: 0, ToIndex: search.ResultCount}, &res)
	if err != nil {
		return nil, err
	}
	return res.NodeIDs, nil
}

// DescribeNode describes a node by its session-scoped ID.
func (c *Client) DescribeNode(ctx context.Context, tab string, nodeID cdp.NodeID, depth int64, pierce bool) (*cdp.Node, error) {
	var res dom.DescribeNodeReturns
	err := c.Send(ctx, tab, dom.CommandDescribeNode,
		&dom.DescribeNodeParams{NodeID: nodeID, Depth: depth, Pierce: pierce}, &res)
	if err != nil {
		return nil, err
	}
	return res.Node, nil
}

// DescribeBackendNode describes a node by its mutation-resistant backend ID.
func (c *Client) DescribeBackendNode(ctx context.Context, tab string, backendID cdp.BackendNodeID, depth int64) (*cdp.Node, error) {
	var res dom.DescribeNodeReturns
	err := c.Send(ctx, tab, dom.CommandDescribeNode,
		&dom.DescribeNodeParams{BackendNodeID: backendID, Depth: depth}, &res)
	if err != nil {
		return nil, err
	}
	return res.Node, nil
}

// PushNodesByBackendIDs promotes backend node IDs into session node IDs so
// they can be used with the query commands.
func (c *Client) PushNodesByBackendIDs(ctx context.Context, tab string, ids []cdp.BackendNodeID) ([]cdp.NodeID, error) {
	params := struct {
		BackendNodeIDs []cdp.BackendNodeID `json:"backendNodeIds"`
	}{ids}
	var res struct {
		NodeIDs []cdp.NodeID `json:"nodeIds"`
	}
	if err := c.Send(ctx, tab, "DOM.pushNodesByBackendIdsToFrontend", params, &res); err != nil {
		return nil, err
	}
	return res.NodeIDs, nil
}

// GetNodeForLocation resolves the element physically present at a viewport
// point.
func (c *Client) GetNodeForLocation(ctx context.Context, tab string, x, y int64) (cdp.BackendNodeID, error) {
	var res dom.GetNodeForLocationReturns
	err := c.Send(ctx, tab, dom.CommandGetNodeForLocation,
		&dom.GetNodeForLocationParams{X: x, Y: y}, &res)
	if err != nil {
		return 0, err
	}
	return res.BackendNodeID, nil
}

// GetBoxModel returns the node's box model, or an error when the node has no
// layout (e.g. display:none).
func (c *Client) GetBoxModel(ctx context.Context, tab string, backendID cdp.BackendNodeID) (*dom.BoxModel, error) {
	var res dom.GetBoxModelReturns
	err := c.Send(ctx, tab, dom.CommandGetBoxModel,
		&dom.GetBoxModelParams{BackendNodeID: backendID}, &res)
	if err != nil {
		return nil, err
	}
	if res.Model == nil {
		return nil, fmt.Errorf("protocol: node %d has no box model", backendID)
	}
	return res.Model, nil
}

// ResolveNode turns a backend node ID into a script object handle.
func (c *Client) ResolveNode(ctx context.Context, tab string, backendID cdp.BackendNodeID) (runtime.RemoteObjectID, error) {
	var res dom.ResolveNodeReturns
	err := c.Send(ctx, tab, dom.CommandResolveNode,
		&dom.ResolveNodeParams{BackendNodeID: backendID}, &res)
	if err != nil {
		return "", err
	}
	if res.Object == nil || res.Object.ObjectID == "" {
		return "", fmt.Errorf("protocol: node %d did not resolve to an object", backendID)
	}
	return res.Object.ObjectID, nil
}

// CallFunctionOn invokes fn with `this` bound to the given object, passing
// args by value, and unmarshals the by-value result into out (which may be
// nil). A thrown exception is returned as an error.
func (c *Client) CallFunctionOn(ctx context.Context, tab string, objectID runtime.RemoteObjectID, fn string, out any, args ...any) error {
	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for _, a := range args {
		buf, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshalling call argument: %w", err)
		}
		callArgs = append(callArgs, &runtime.CallArgument{Value: buf})
	}

	var res runtime.CallFunctionOnReturns
	err := c.Send(ctx, tab, runtime.CommandCallFunctionOn, &runtime.CallFunctionOnParams{
		FunctionDeclaration: fn,
		ObjectID:            objectID,
		Arguments:           callArgs,
		ReturnByValue:       true,
		AwaitPromise:        true,
		Silent:              true,
	}, &res)
	if err != nil {
		return err
	}
	if res.ExceptionDetails != nil {
		return res.ExceptionDetails
	}
	if out == nil || res.Result == nil || len(res.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(res.Result.Value, out)
}

// Evaluate runs an expression in the page and unmarshals the by-value
// result into out (which may be nil).
func (c *Client) Evaluate(ctx context.Context, tab, expression string, out any) error {
	var res runtime.EvaluateReturns
	err := c.Send(ctx, tab, runtime.CommandEvaluate, &runtime.EvaluateParams{
		Expression:    expression,
		ReturnByValue: true,
		AwaitPromise:  true,
		Silent:        true,
	}, &res)
	if err != nil {
		return err
	}
	if res.ExceptionDetails != nil {
		return res.ExceptionDetails
	}
	if out == nil || res.Result == nil || len(res.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(res.Result.Value, out)
}

// GetLayoutViewport returns the CSS visual viewport.
func (c *Client) GetLayoutViewport(ctx context.Context, tab string) (*page.VisualViewport, error) {
	var res page.GetLayoutMetricsReturns
	if err := c.Send(ctx, tab, page.CommandGetLayoutMetrics, nil, &res); err != nil {
		return nil, err
	}
	if res.CSSVisualViewport == nil {
		return nil, fmt.Errorf("protocol: layout metrics carry no visual viewport")
	}
	return res.CSSVisualViewport, nil
}

// GetAccessibilityTree flattens the full accessibility tree into the slice
// the semantic evaluator consumes. Ignored nodes are dropped.
func (c *Client) GetAccessibilityTree(ctx context.Context, tab string) ([]schemas.AXNode, error) {
	var res accessibility.GetFullAXTreeReturns
	if err := c.Send(ctx, tab, accessibility.CommandGetFullAXTree, &accessibility.GetFullAXTreeParams{}, &res); err != nil {
		return nil, err
	}

	nodes := make([]schemas.AXNode, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		if n == nil || n.Ignored {
			continue
		}
		nodes = append(nodes, schemas.AXNode{
			Role:          axValueString(n.Role),
			Name:          axValueString(n.Name),
			BackendNodeID: n.BackendDOMNodeID,
		})
	}
	return nodes, nil
}

// axValueString extracts the string payload of an accessibility value.
func axValueString(v *accessibility.Value) string {
	if v == nil || len(v.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err != nil {
		return ""
	}
	return s
}

// Focus gives keyboard focus to the node.
func (c *Client) Focus(ctx context.Context, tab string, backendID cdp.BackendNodeID) error {
	return c.Send(ctx, tab, dom.CommandFocus, &dom.FocusParams{BackendNodeID: backendID}, nil)
}

// ScrollIntoView brings the node into the viewport if it is not already.
func (c *Client) ScrollIntoView(ctx context.Context, tab string, backendID cdp.BackendNodeID) error {
	return c.Send(ctx, tab, dom.CommandScrollIntoViewIfNeeded,
		&dom.ScrollIntoViewIfNeededParams{BackendNodeID: backendID}, nil)
}

// DispatchMouseEvent sends one raw mouse event.
func (c *Client) DispatchMouseEvent(ctx context.Context, tab string, p *input.DispatchMouseEventParams) error {
	return c.Send(ctx, tab, input.CommandDispatchMouseEvent, p, nil)
}

// DispatchKeyEvent sends one raw key event.
func (c *Client) DispatchKeyEvent(ctx context.Context, tab string, p *input.DispatchKeyEventParams) error {
	return c.Send(ctx, tab, input.CommandDispatchKeyEvent, p, nil)
}

// InsertText inserts text as if typed by an IME, replacing the current
// selection.
func (c *Client) InsertText(ctx context.Context, tab, text string) error {
	return c.Send(ctx, tab, input.CommandInsertText, &input.InsertTextParams{Text: text}, nil)
}

// CaptureScreenshot grabs a PNG of the current viewport. The protocol hands
// the image back base64-encoded; callers get raw bytes.
func (c *Client) CaptureScreenshot(ctx context.Context, tab string) ([]byte, error) {
	var res page.CaptureScreenshotReturns
	err := c.Send(ctx, tab, page.CommandCaptureScreenshot,
		&page.CaptureScreenshotParams{Format: page.CaptureScreenshotFormatPng}, &res)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot payload: %w", err)
	}
	return data, nil
}

// ClickPointFromBox computes the click point of a box model: the center of
// its content quad.
func ClickPointFromBox(model *dom.BoxModel) (schemas.Point, bool) {
	if model == nil || len(model.Content) < 8 {
		return schemas.Point{}, false
	}
	var x, y float64
	for i := 0; i+1 < 8; i += 2 {
		x += model.Content[i]
		y += model.Content[i+1]
	}
	return schemas.Point{X: x / 4, Y: y / 4}, true
}
