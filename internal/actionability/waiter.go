// File: internal/actionability/waiter.go
// Description: Polls an element's readiness until every required condition
// holds or the wait times out. Each poll is one scripted probe against the
// live element plus a stability check against the recorded position history;
// a timed-out wait names the first condition that still failed, which is
// the difference between a debuggable replay and a shrug.
package actionability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
	"github.com/xkilldash9x/rewind-cli/internal/config"
)

// ErrNotActionable is wrapped by every wait timeout.
var ErrNotActionable = errors.New("element did not become actionable")

// probeFn is the scripted per-poll readiness check, evaluated with the
// element bound as this.
const probeFn = `function() {
	const el = this;
	const attached = el.isConnected === true;
	let rect = null, visible = false, inViewport = false, receives = false;
	if (attached) {
		const style = window.getComputedStyle(el);
		const r = el.getBoundingClientRect();
		rect = {x: r.x, y: r.y, width: r.width, height: r.height};
		visible = style.display !== 'none' && style.visibility !== 'hidden' &&
			parseFloat(style.opacity) > 0 && r.width > 0 && r.height > 0;
		inViewport = r.bottom > 0 && r.right > 0 &&
			r.top < window.innerHeight && r.left < window.innerWidth;
		if (visible && inViewport) {
			const hit = document.elementFromPoint(r.x + r.width / 2, r.y + r.height / 2);
			receives = hit !== null && (hit === el || el.contains(hit) || hit.contains(el));
		}
	}
	const enabled = attached && el.disabled !== true &&
		el.getAttribute('aria-disabled') !== 'true' &&
		el.closest('fieldset[disabled]') === null;
	const tag = attached ? el.tagName : '';
	const editable = enabled && (
		(tag === 'INPUT' && !el.readOnly) ||
		(tag === 'TEXTAREA' && !el.readOnly) ||
		tag === 'SELECT' ||
		el.isContentEditable === true);
	return {attached, visible, enabled, editable, inViewport, receives, rect};
}`

// elementProbe is the probe's wire shape.
type elementProbe struct {
	Attached   bool                 `json:"attached"`
	Visible    bool                 `json:"visible"`
	Enabled    bool                 `json:"enabled"`
	Editable   bool                 `json:"editable"`
	InViewport bool                 `json:"inViewport"`
	Receives   bool                 `json:"receives"`
	Rect       *schemas.BoundingBox `json:"rect"`
}

// Waiter gates physical interaction on element readiness.
type Waiter struct {
	ops     schemas.ProtocolOps
	cfg     config.WaiterConfig
	logger  *zap.Logger
	history *positionHistory

	// now is swappable for tests.
	now func() time.Time
}

func NewWaiter(ops schemas.ProtocolOps, cfg config.WaiterConfig, logger *zap.Logger) *Waiter {
	return &Waiter{
		ops:     ops,
		cfg:     cfg,
		logger:  logger.Named("actionability"),
		history: newPositionHistory(),
		now:     time.Now,
	}
}

// TrackTab subscribes to the tab's navigation events so stale position
// history cannot vouch for elements of a page that no longer exists.
func (w *Waiter) TrackTab(tab string) {
	w.ops.Subscribe(tab, "Page.frameNavigated", func([]byte) {
		w.history.PruneTab(tab)
	})
}

// ReleaseTab undoes TrackTab and drops the tab's history.
func (w *Waiter) ReleaseTab(tab string) {
	w.ops.Unsubscribe(tab, "Page.frameNavigated")
	w.history.PruneTab(tab)
}

// WaitFor polls until every listed condition holds at once, then returns
// the passing snapshot. On timeout the returned state carries the first
// still-failing condition and the error wraps ErrNotActionable.
func (w *Waiter) WaitFor(ctx context.Context, handle schemas.ElementHandle, conditions []schemas.Condition) (schemas.ActionabilityState, error) {
	if len(conditions) == 0 {
		conditions = schemas.DefaultConditions
	}
	deadline := w.cfg.Timeout
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	var last schemas.ActionabilityState
	for {
		state, err := w.Check(ctx, handle)
		if err == nil {
			last = state
			if failing := firstFailing(state, conditions); failing == "" {
				return state, nil
			}
		} else if ctx.Err() == nil {
			w.logger.Debug("actionability probe failed",
				zap.String("element", handle.Key()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			last.FailingCondition = firstFailing(last, conditions)
			if last.FailingCondition == "" {
				// Never got a successful probe in.
				last.FailingCondition = conditions[0]
			}
			return last, fmt.Errorf("%w within %s: condition %q failed", ErrNotActionable, deadline, last.FailingCondition)
		case <-ticker.C:
		}
	}
}

// Check performs a single readiness probe and records the element's position
// for the stability window. An element whose handle no longer resolves is
// reported detached, not as an error.
func (w *Waiter) Check(ctx context.Context, handle schemas.ElementHandle) (schemas.ActionabilityState, error) {
	now := w.now()
	state := schemas.ActionabilityState{ObservedAt: now}

	objectID, err := w.ops.ResolveNode(ctx, handle.TabID, handle.BackendNodeID)
	if err != nil {
		if ctx.Err() != nil {
			return state, ctx.Err()
		}
		// Unresolvable means the node left the DOM.
		w.history.Forget(handle.Key())
		return state, nil
	}

	var probe elementProbe
	if err := w.ops.CallFunctionOn(ctx, handle.TabID, objectID, probeFn, &probe); err != nil {
		return state, err
	}

	state.Attached = probe.Attached
	state.Visible = probe.Visible
	state.Enabled = probe.Enabled
	state.Editable = probe.Editable
	state.InViewport = probe.InViewport
	state.ReceivesInput = probe.Receives
	state.Box = probe.Rect

	if probe.Rect != nil {
		w.history.Record(handle.Key(), probe.Rect.Center(), now)
	}
	state.Stable = probe.Attached && w.history.Stable(handle.Key(), w.cfg.StabilityWindow, now)
	return state, nil
}

// firstFailing returns the first condition in the requested order the state
// does not satisfy, or empty when all hold.
func firstFailing(state schemas.ActionabilityState, conditions []schemas.Condition) schemas.Condition {
	for _, c := range conditions {
		if !state.Holds(c) {
			return c
		}
	}
	return ""
}
