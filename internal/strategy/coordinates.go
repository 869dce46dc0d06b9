// File: internal/strategy/coordinates.go
// Description: Evaluator for the coordinate fallback strategy. Raw recorded
// positions drift with scroll state, so the evaluator corrects for the delta
// between recorded and current scroll offsets, scrolls the target back into
// the viewport when needed, and cross-checks whatever element now sits at
// the corrected point against the recorded element identity.
package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
)

const (
	// coordinateCeiling caps coordinate confidence below every structural
	// strategy; position is the least trustworthy signal available.
	coordinateCeiling = 0.75
	// verifyBoost rewards a corrected point whose occupant still matches
	// the recorded element identity.
	verifyBoost = 0.10
	// boxTolerance is the relative size drift allowed before the occupant
	// box no longer corroborates the recorded one.
	boxTolerance = 0.30
)

// viewportState is the scroll and size snapshot read from the page.
type viewportState struct {
	ScrollX float64 `json:"sx"`
	ScrollY float64 `json:"sy"`
	Width   float64 `json:"w"`
	Height  float64 `json:"h"`
}

const viewportExpr = `({sx: window.scrollX, sy: window.scrollY, w: window.innerWidth, h: window.innerHeight})`

// CoordinatesEvaluator replays recorded click positions with scroll
// correction and identity verification.
type CoordinatesEvaluator struct {
	ops    schemas.ProtocolOps
	logger *zap.Logger
}

func NewCoordinatesEvaluator(ops schemas.ProtocolOps, logger *zap.Logger) *CoordinatesEvaluator {
	return &CoordinatesEvaluator{ops: ops, logger: logger.Named("strategy.coordinates")}
}

func (e *CoordinatesEvaluator) Handles() []schemas.StrategyTag {
	return []schemas.StrategyTag{schemas.StrategyCoordinates}
}

func (e *CoordinatesEvaluator) Evaluate(ctx context.Context, tab string, variant schemas.StrategyVariant) schemas.EvaluationResult {
	start := time.Now()
	meta := variant.Coordinates
	if meta == nil {
		return notFound(variant.Tag, start, "variant carries no coordinate metadata")
	}

	vp, err := e.viewport(ctx, tab)
	if err != nil {
		return notFound(variant.Tag, start, err.Error())
	}

	// Document-absolute position is scroll-invariant; re-derive the
	// viewport-relative point under the current scroll offsets.
	pageX := meta.X + meta.ScrollX
	pageY := meta.Y + meta.ScrollY
	point := schemas.Point{X: pageX - vp.ScrollX, Y: pageY - vp.ScrollY}

	if !inViewport(point, vp) {
		if err := e.scrollTo(ctx, tab, pageX, pageY, vp); err != nil {
			return notFound(variant.Tag, start, err.Error())
		}
		if vp, err = e.viewport(ctx, tab); err != nil {
			return notFound(variant.Tag, start, err.Error())
		}
		point = schemas.Point{X: pageX - vp.ScrollX, Y: pageY - vp.ScrollY}
		if !inViewport(point, vp) {
			return notFound(variant.Tag, start, "corrected point remains outside the viewport after scrolling")
		}
	}

	result := schemas.EvaluationResult{
		Tag:        variant.Tag,
		Found:      true,
		Confidence: math.Min(variant.Confidence, coordinateCeiling),
		MatchCount: 1,
		ClickPoint: &point,
		Duration:   time.Since(start),
	}

	backendID, err := e.ops.GetNodeForLocation(ctx, tab, int64(point.X), int64(point.Y))
	if err != nil || backendID == 0 {
		// Nothing to verify against; the raw point stands at its base score.
		result.Duration = time.Since(start)
		return result
	}
	result.Handle = &schemas.ElementHandle{TabID: tab, BackendNodeID: backendID}

	if e.verifyOccupant(ctx, tab, backendID, meta) {
		result.Confidence = math.Min(result.Confidence+verifyBoost, coordinateCeiling)
	} else {
		e.logger.Debug("element at corrected point does not match recorded identity",
			zap.String("tab", tab), zap.Float64("x", point.X), zap.Float64("y", point.Y))
	}
	result.Duration = time.Since(start)
	return result
}

func (e *CoordinatesEvaluator) viewport(ctx context.Context, tab string) (viewportState, error) {
	var vp viewportState
	if err := e.ops.Evaluate(ctx, tab, viewportExpr, &vp); err != nil {
		return vp, fmt.Errorf("read viewport state: %w", err)
	}
	if vp.Width <= 0 || vp.Height <= 0 {
		return vp, fmt.Errorf("viewport reports non-positive size %gx%g", vp.Width, vp.Height)
	}
	return vp, nil
}

func (e *CoordinatesEvaluator) scrollTo(ctx context.Context, tab string, pageX, pageY float64, vp viewportState) error {
	expr := fmt.Sprintf("window.scrollTo(%g, %g)",
		math.Max(0, pageX-vp.Width/2), math.Max(0, pageY-vp.Height/2))
	if err := e.ops.Evaluate(ctx, tab, expr, nil); err != nil {
		return fmt.Errorf("scroll toward recorded point: %w", err)
	}
	return nil
}

// verifyOccupant checks the element now at the corrected point against the
// identity recorded with the coordinates: tag name, then id, then class
// overlap, then box size. Absent recorded fields are skipped, not failed;
// any recorded field that contradicts the occupant fails the verification.
func (e *CoordinatesEvaluator) verifyOccupant(ctx context.Context, tab string, backendID cdp.BackendNodeID, meta *schemas.CoordinatesMeta) bool {
	node, err := e.ops.DescribeBackendNode(ctx, tab, backendID, 0)
	if err != nil || node == nil {
		return false
	}
	if meta.Tag != "" && !strings.EqualFold(node.NodeName, meta.Tag) {
		return false
	}
	if meta.ID != "" {
		id, _ := nodeAttr(node, "id")
		if id != meta.ID {
			return false
		}
	}
	if len(meta.Classes) > 0 && !classesOverlap(node, meta.Classes) {
		return false
	}
	if meta.Box != nil {
		box, err := e.ops.GetBoxModel(ctx, tab, backendID)
		if err != nil || !boxSizeMatches(float64(box.Width), float64(box.Height), meta.Box) {
			return false
		}
	}
	return true
}

func classesOverlap(node *cdp.Node, recorded []string) bool {
	raw, ok := nodeAttr(node, "class")
	if !ok {
		return false
	}
	current := make(map[string]struct{})
	for _, c := range strings.Fields(raw) {
		current[c] = struct{}{}
	}
	for _, c := range recorded {
		if _, ok := current[c]; ok {
			return true
		}
	}
	return false
}

func boxSizeMatches(w, h float64, recorded *schemas.BoundingBox) bool {
	if recorded.Width <= 0 || recorded.Height <= 0 {
		return true
	}
	return math.Abs(w-recorded.Width) <= recorded.Width*boxTolerance &&
		math.Abs(h-recorded.Height) <= recorded.Height*boxTolerance
}

func inViewport(p schemas.Point, vp viewportState) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < vp.Width && p.Y < vp.Height
}
