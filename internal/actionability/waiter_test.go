// File: internal/actionability/waiter_test.go
package actionability

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
	"github.com/xkilldash9x/rewind-cli/internal/config"
	"github.com/xkilldash9x/rewind-cli/internal/mocks"
)

const testTab = "tab-1"

var testHandle = schemas.ElementHandle{TabID: testTab, BackendNodeID: 42}

func testWaiterConfig() config.WaiterConfig {
	return config.WaiterConfig{
		PollInterval:    2 * time.Millisecond,
		StabilityWindow: 10 * time.Millisecond,
		Timeout:         250 * time.Millisecond,
	}
}

// expectProbe wires node resolution plus one scripted probe answer. The
// returned call can be restricted with Once for sequential scenarios.
func expectProbe(ops *mocks.MockProtocolOps, probe elementProbe) *mock.Call {
	ops.On("ResolveNode", mock.Anything, testTab, cdp.BackendNodeID(42)).
		Return(runtime.RemoteObjectID("obj-42"), nil)
	return ops.On("CallFunctionOn", mock.Anything, testTab, runtime.RemoteObjectID("obj-42"),
		mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			*args.Get(4).(*elementProbe) = probe
		}).
		Return(nil)
}

func readyProbe(x, y float64) elementProbe {
	return elementProbe{
		Attached:   true,
		Visible:    true,
		Enabled:    true,
		Editable:   true,
		InViewport: true,
		Receives:   true,
		Rect:       &schemas.BoundingBox{X: x, Y: y, Width: 100, Height: 30},
	}
}

func TestCheckReportsDetachedNodeAsUnattached(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	ops.On("ResolveNode", mock.Anything, testTab, cdp.BackendNodeID(42)).
		Return(runtime.RemoteObjectID(""), assert.AnError)

	w := NewWaiter(ops, testWaiterConfig(), zap.NewNop())
	state, err := w.Check(context.Background(), testHandle)

	require.NoError(t, err)
	assert.False(t, state.Attached)
	assert.False(t, state.Holds(schemas.ConditionAttached))
}

func TestCheckStabilityNeedsFullWindow(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	expectProbe(ops, readyProbe(10, 10))

	w := NewWaiter(ops, testWaiterConfig(), zap.NewNop())
	clock := time.Now()
	w.now = func() time.Time { return clock }

	// First sample: no history yet, cannot be stable.
	state, err := w.Check(context.Background(), testHandle)
	require.NoError(t, err)
	assert.False(t, state.Stable)

	// Second sample inside the window: still not enough coverage.
	clock = clock.Add(5 * time.Millisecond)
	state, err = w.Check(context.Background(), testHandle)
	require.NoError(t, err)
	assert.False(t, state.Stable)

	// History now spans the full window at an unmoved position.
	clock = clock.Add(10 * time.Millisecond)
	state, err = w.Check(context.Background(), testHandle)
	require.NoError(t, err)
	assert.True(t, state.Stable)
}

func TestCheckMovementResetsStability(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	expectProbe(ops, readyProbe(10, 10)).Times(3)
	expectProbe(ops, readyProbe(10, 60))

	w := NewWaiter(ops, testWaiterConfig(), zap.NewNop())
	clock := time.Now()
	w.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		_, err := w.Check(context.Background(), testHandle)
		require.NoError(t, err)
		clock = clock.Add(6 * time.Millisecond)
	}

	// The element jumped 50px; samples inside the window now disagree.
	state, err := w.Check(context.Background(), testHandle)
	require.NoError(t, err)
	assert.True(t, state.Attached)
	assert.False(t, state.Stable)
}

func TestCheckToleratesSubpixelJitter(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	expectProbe(ops, readyProbe(10, 10)).Times(2)
	expectProbe(ops, readyProbe(10.4, 9.7))

	w := NewWaiter(ops, testWaiterConfig(), zap.NewNop())
	clock := time.Now()
	w.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		_, err := w.Check(context.Background(), testHandle)
		require.NoError(t, err)
		clock = clock.Add(6 * time.Millisecond)
	}
	state, err := w.Check(context.Background(), testHandle)

	require.NoError(t, err)
	assert.True(t, state.Stable)
}

func TestWaitForSucceedsOnceAllConditionsHold(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	expectProbe(ops, readyProbe(10, 10))

	w := NewWaiter(ops, testWaiterConfig(), zap.NewNop())
	state, err := w.WaitFor(context.Background(), testHandle, schemas.DefaultConditions)

	require.NoError(t, err)
	assert.True(t, state.Stable)
	assert.Empty(t, state.FailingCondition)
}

func TestWaitForTimesOutNamingFirstFailingCondition(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	probe := readyProbe(10, 10)
	probe.Visible = false
	probe.Receives = false
	expectProbe(ops, probe)

	cfg := testWaiterConfig()
	cfg.Timeout = 30 * time.Millisecond
	w := NewWaiter(ops, cfg, zap.NewNop())
	state, err := w.WaitFor(context.Background(), testHandle, schemas.DefaultConditions)

	require.ErrorIs(t, err, ErrNotActionable)
	assert.Equal(t, schemas.ConditionVisible, state.FailingCondition)
	assert.Contains(t, err.Error(), string(schemas.ConditionVisible))
}

func TestWaitForEditableCondition(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	probe := readyProbe(10, 10)
	probe.Editable = false
	expectProbe(ops, probe)

	cfg := testWaiterConfig()
	cfg.Timeout = 30 * time.Millisecond
	w := NewWaiter(ops, cfg, zap.NewNop())
	conditions := append(append([]schemas.Condition{}, schemas.DefaultConditions...), schemas.ConditionEditable)
	state, err := w.WaitFor(context.Background(), testHandle, conditions)

	require.ErrorIs(t, err, ErrNotActionable)
	assert.Equal(t, schemas.ConditionEditable, state.FailingCondition)
}

func TestTrackTabPrunesHistoryOnNavigation(t *testing.T) {
	ops := new(mocks.MockProtocolOps)
	var navHandler schemas.EventHandler
	ops.On("Subscribe", testTab, "Page.frameNavigated", mock.Anything).
		Run(func(args mock.Arguments) {
			navHandler = args.Get(2).(schemas.EventHandler)
		})
	expectProbe(ops, readyProbe(10, 10))

	w := NewWaiter(ops, testWaiterConfig(), zap.NewNop())
	w.TrackTab(testTab)
	require.NotNil(t, navHandler)

	_, err := w.Check(context.Background(), testHandle)
	require.NoError(t, err)
	require.Equal(t, 1, w.history.Len())

	navHandler([]byte(`{"frame":{"id":"f1"}}`))
	assert.Zero(t, w.history.Len())
}

func TestPositionHistoryDriftAnchorsToEarliestSample(t *testing.T) {
	h := newPositionHistory()
	window := 10 * time.Millisecond
	t0 := time.Now()
	// The element wobbles around its first observed position: each sample
	// stays within tolerance of the earliest one even though the extremes
	// are two pixels apart.
	h.Record("tab-1#5", schemas.Point{X: 1, Y: 10}, t0)
	h.Record("tab-1#5", schemas.Point{X: 0, Y: 10}, t0.Add(5*time.Millisecond))
	h.Record("tab-1#5", schemas.Point{X: 2, Y: 10}, t0.Add(10*time.Millisecond))

	assert.True(t, h.Stable("tab-1#5", window, t0.Add(10*time.Millisecond)))
}

func TestPositionHistoryUnobservedWindowIsNotStable(t *testing.T) {
	h := newPositionHistory()
	t0 := time.Now()
	h.Record("tab-1#5", schemas.Point{X: 1, Y: 1}, t0)

	// The only sample predates the window entirely; standing still long ago
	// says nothing about now.
	assert.False(t, h.Stable("tab-1#5", 10*time.Millisecond, t0.Add(25*time.Millisecond)))
}

func TestPositionHistoryPruneIsTabScoped(t *testing.T) {
	h := newPositionHistory()
	now := time.Now()
	h.Record("tab-1#5", schemas.Point{X: 1, Y: 1}, now)
	h.Record("tab-2#5", schemas.Point{X: 2, Y: 2}, now)

	h.PruneTab("tab-1")

	assert.Equal(t, 1, h.Len())
	assert.False(t, h.Stable("tab-1#5", 0, now))
}
