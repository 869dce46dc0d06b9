// File: internal/strategy/resolve.go
// Description: Shared plumbing for turning protocol query results into the
// handles and click points the engine consumes. Session node IDs are
// converted to backend node IDs immediately; only backend IDs leave this
// package.
package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
	"github.com/xkilldash9x/rewind-cli/internal/protocol"
)

// materializeNodeID promotes a session-scoped node ID into an element handle
// plus, when the node has layout, a click point at its content-box center.
func materializeNodeID(ctx context.Context, ops schemas.ProtocolOps, tab string, id cdp.NodeID) (*schemas.ElementHandle, *schemas.Point, error) {
	node, err := ops.DescribeNode(ctx, tab, id, 0, false)
	if err != nil {
		return nil, nil, fmt.Errorf("describe node %d: %w", id, err)
	}
	if node.BackendNodeID == 0 {
		return nil, nil, fmt.Errorf("node %d has no backend id", id)
	}
	return materializeBackendID(ctx, ops, tab, node.BackendNodeID)
}

// materializeBackendID wraps a backend node ID into a handle and best-effort
// resolves its click point. A node without a box model (detached, display
// none) still yields a handle; the waiter decides what that means.
func materializeBackendID(ctx context.Context, ops schemas.ProtocolOps, tab string, backendID cdp.BackendNodeID) (*schemas.ElementHandle, *schemas.Point, error) {
	handle := &schemas.ElementHandle{TabID: tab, BackendNodeID: backendID}
	box, err := ops.GetBoxModel(ctx, tab, backendID)
	if err != nil {
		return handle, nil, nil
	}
	if pt, ok := protocol.ClickPointFromBox(box); ok {
		return handle, &pt, nil
	}
	return handle, nil, nil
}

// nodeAttr reads one attribute from the flat name/value pair list the
// protocol uses for node attributes.
func nodeAttr(node *cdp.Node, name string) (string, bool) {
	if node == nil {
		return "", false
	}
	for i := 0; i+1 < len(node.Attributes); i += 2 {
		if node.Attributes[i] == name {
			return node.Attributes[i+1], true
		}
	}
	return "", false
}

// cssAttrEscape escapes a value for embedding inside a double-quoted CSS
// attribute selector.
func cssAttrEscape(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `"`, `\"`)
}

// xpathLiteral renders a Go string as an XPath string literal. XPath 1.0 has
// no escape sequences, so a value containing both quote kinds needs the
// concat() workaround.
func xpathLiteral(v string) string {
	if !strings.Contains(v, `"`) {
		return `"` + v + `"`
	}
	if !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	parts := strings.Split(v, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
