// File: internal/actionability/history.go
// Description: Bounded per-element position history backing the stability
// condition. Stability is judged over a full window: an element with too
// little history is not yet stable, no matter how still its last two
// samples were.
package actionability

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
)

// maxTolerableDrift is the per-axis movement, in CSS pixels, still counted
// as standing still. Sub-pixel jitter from layout rounding is not motion.
const maxTolerableDrift = 1.0

// historyCapacity bounds samples kept per element. At the default poll
// interval this covers several stability windows.
const historyCapacity = 32

type sample struct {
	at time.Time
	pt schemas.Point
}

// positionHistory tracks recent center positions per element handle key.
// Safe for concurrent use; the waiter polls and the navigation handler
// prunes from different goroutines.
type positionHistory struct {
	mu    sync.Mutex
	byKey map[string][]sample
}

func newPositionHistory() *positionHistory {
	return &positionHistory{byKey: make(map[string][]sample)}
}

// Record appends one observed center position for the element.
func (h *positionHistory) Record(key string, pt schemas.Point, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	samples := append(h.byKey[key], sample{at: at, pt: pt})
	if len(samples) > historyCapacity {
		samples = samples[len(samples)-historyCapacity:]
	}
	h.byKey[key] = samples
}

// Stable reports whether the element's recorded positions cover the whole
// window ending at now and none of them drifted beyond tolerance from the
// earliest in-window position.
func (h *positionHistory) Stable(key string, window time.Duration, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	samples := h.byKey[key]
	if len(samples) == 0 {
		return false
	}
	cutoff := now.Add(-window)
	if samples[0].at.After(cutoff) {
		// History does not yet span the window.
		return false
	}
	anchored := false
	var anchor schemas.Point
	for _, s := range samples {
		if s.at.Before(cutoff) {
			continue
		}
		if !anchored {
			anchor = s.pt
			anchored = true
			continue
		}
		if math.Abs(s.pt.X-anchor.X) > maxTolerableDrift ||
			math.Abs(s.pt.Y-anchor.Y) > maxTolerableDrift {
			return false
		}
	}
	// No sample inside the window means the element went unobserved.
	return anchored
}

// Forget drops one element's history.
func (h *positionHistory) Forget(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byKey, key)
}

// PruneTab drops every element tracked under the given tab. Called on
// navigation and detach, when all handles for the tab die at once.
func (h *positionHistory) PruneTab(tabID string) {
	prefix := tabID + "#"
	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.byKey {
		if strings.HasPrefix(key, prefix) {
			delete(h.byKey, key)
		}
	}
}

// Len reports the number of tracked elements.
func (h *positionHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byKey)
}
