// File: internal/engine/interactions.go
// Description: The interaction layer: turns a winning evaluation into real
// input events. Clicks and hovers are dispatched as trusted mouse events at
// the element's current center; text entry goes through focus plus input
// insertion so page-side key handling still fires. Handle-less wins
// (optical and coordinate matches) act on the bare point.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
	"github.com/xkilldash9x/rewind-cli/internal/protocol"
)

var (
	errNoTarget = errors.New("winning variant carries neither element handle nor click point")
	errNoValue  = errors.New("action requires a value and the request carries none")
)

// perform routes the request to its interaction primitive after the
// readiness gate. Waiting is best effort: a timed-out wait is logged and
// the interaction attempted anyway, because a false negative from the
// waiter should not kill a replay the browser would have accepted.
func (e *Engine) perform(ctx context.Context, tab string, req schemas.ActionRequest, best *schemas.EvaluationResult) error {
	if req.Value == "" && (req.Type == schemas.ActionInput || req.Type == schemas.ActionSelect) {
		return fmt.Errorf("%s: %w", req.Type, errNoValue)
	}
	point := best.ClickPoint

	if best.Handle != nil {
		if err := e.ops.ScrollIntoView(ctx, tab, best.Handle.BackendNodeID); err != nil {
			e.logger.Debug("scroll into view failed", zap.String("tab", tab), zap.Error(err))
		}
		state, err := e.waiter.WaitFor(ctx, *best.Handle, conditionsFor(req.Type))
		if err != nil {
			e.logger.Warn("element not actionable, attempting interaction anyway",
				zap.String("tab", tab),
				zap.String("failing_condition", string(state.FailingCondition)),
				zap.Error(err))
		}
		// Scrolling and settling may have moved the element; re-derive
		// the click point from its current box.
		if box, berr := e.ops.GetBoxModel(ctx, tab, best.Handle.BackendNodeID); berr == nil {
			if pt, ok := protocol.ClickPointFromBox(box); ok {
				point = &pt
			}
		}
	}

	switch req.Type {
	case schemas.ActionClick:
		return e.click(ctx, tab, point)
	case schemas.ActionHover:
		return e.hover(ctx, tab, point)
	case schemas.ActionInput:
		return e.typeText(ctx, tab, best, point, req.Value)
	case schemas.ActionSelect:
		return e.selectOption(ctx, tab, best, point, req.Value)
	case schemas.ActionScroll:
		// The element was already scrolled into view above; a handle-less
		// scroll has nothing left to do.
		return nil
	default:
		return fmt.Errorf("unsupported action type %q", req.Type)
	}
}

// conditionsFor returns the readiness gate for an action type. Text entry
// additionally requires an editable target.
func conditionsFor(t schemas.ActionType) []schemas.Condition {
	if t == schemas.ActionInput {
		return append(append([]schemas.Condition{}, schemas.DefaultConditions...), schemas.ConditionEditable)
	}
	return schemas.DefaultConditions
}

func (e *Engine) click(ctx context.Context, tab string, pt *schemas.Point) error {
	if pt == nil {
		return errNoTarget
	}
	events := []*input.DispatchMouseEventParams{
		{Type: input.MouseMoved, X: pt.X, Y: pt.Y, Button: input.None},
		{Type: input.MousePressed, X: pt.X, Y: pt.Y, Button: input.Left, ClickCount: 1},
		{Type: input.MouseReleased, X: pt.X, Y: pt.Y, Button: input.Left, ClickCount: 1},
	}
	for _, ev := range events {
		if err := e.ops.DispatchMouseEvent(ctx, tab, ev); err != nil {
			return fmt.Errorf("dispatch %s: %w", ev.Type, err)
		}
	}
	return nil
}

func (e *Engine) hover(ctx context.Context, tab string, pt *schemas.Point) error {
	if pt == nil {
		return errNoTarget
	}
	err := e.ops.DispatchMouseEvent(ctx, tab, &input.DispatchMouseEventParams{
		Type: input.MouseMoved, X: pt.X, Y: pt.Y, Button: input.None,
	})
	if err != nil {
		return fmt.Errorf("dispatch hover move: %w", err)
	}
	return nil
}

// selectExistingFn replaces a text control's current content by selecting
// it, so the subsequent insertion overwrites instead of appending.
const selectExistingFn = `function() {
	if (typeof this.select === 'function') {
		this.select();
	} else if (this.isContentEditable) {
		const range = document.createRange();
		range.selectNodeContents(this);
		const sel = window.getSelection();
		sel.removeAllRanges();
		sel.addRange(range);
	}
}`

func (e *Engine) typeText(ctx context.Context, tab string, best *schemas.EvaluationResult, pt *schemas.Point, value string) error {
	if best.Handle != nil {
		if err := e.ops.Focus(ctx, tab, best.Handle.BackendNodeID); err != nil {
			return fmt.Errorf("focus target: %w", err)
		}
		objectID, err := e.ops.ResolveNode(ctx, tab, best.Handle.BackendNodeID)
		if err == nil {
			if cerr := e.ops.CallFunctionOn(ctx, tab, objectID, selectExistingFn, nil); cerr != nil {
				e.logger.Debug("clearing existing content failed", zap.Error(cerr))
			}
		}
	} else {
		// No handle: click the point to give the control focus.
		if err := e.click(ctx, tab, pt); err != nil {
			return err
		}
	}

	if err := e.ops.InsertText(ctx, tab, value); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

// selectOptionFn picks the option matching the requested label or value and
// fires the events frameworks listen for. Returns ok=false when no option
// matches.
const selectOptionFn = `function(wanted) {
	const options = Array.from(this.options || []);
	const match = options.find(o =>
		o.label === wanted || o.value === wanted || o.textContent.trim() === wanted);
	if (!match) {
		return {ok: false, count: options.length};
	}
	this.value = match.value;
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
	return {ok: true, count: options.length};
}`

type selectOutcome struct {
	OK    bool `json:"ok"`
	Count int  `json:"count"`
}

func (e *Engine) selectOption(ctx context.Context, tab string, best *schemas.EvaluationResult, pt *schemas.Point, value string) error {
	if best.Handle == nil {
		return fmt.Errorf("select needs an element handle, %w", errNoTarget)
	}
	// Open the dropdown like a user would before committing the choice;
	// some pages populate options lazily on first interaction.
	if pt != nil {
		if err := e.click(ctx, tab, pt); err != nil {
			return err
		}
		if e.cfg.SelectOpenWait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.SelectOpenWait):
			}
		}
	}

	objectID, err := e.ops.ResolveNode(ctx, tab, best.Handle.BackendNodeID)
	if err != nil {
		return fmt.Errorf("resolve select element: %w", err)
	}
	var outcome selectOutcome
	if err := e.ops.CallFunctionOn(ctx, tab, objectID, selectOptionFn, &outcome, value); err != nil {
		return fmt.Errorf("apply option selection: %w", err)
	}
	if !outcome.OK {
		return fmt.Errorf("option %q not present among %d options", value, outcome.Count)
	}
	return nil
}
