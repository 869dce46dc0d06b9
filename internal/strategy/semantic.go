// File: internal/strategy/semantic.go
// Description: Evaluator for the two semantic strategies. Role and
// accessible name are resolved against the live accessibility tree; power
// attributes are resolved through the strongest captured signal in a fixed
// priority order. Both apply per-signal confidence floors because semantic
// identity survives DOM churn better than structure does.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
)

// Confidence floors per semantic signal. The recorded confidence wins when
// it is higher; a live semantic match is never scored below its floor.
const (
	floorRoleName    = 0.90
	floorTestID      = 0.85
	floorLabel       = 0.80
	floorPlaceholder = 0.75
	floorText        = 0.65
	floorAltText     = 0.60
	floorTitle       = 0.55
)

// SemanticEvaluator relocates elements by accessibility role and name, or by
// the secondary attribute signals captured at record time.
type SemanticEvaluator struct {
	ops    schemas.ProtocolOps
	logger *zap.Logger
}

func NewSemanticEvaluator(ops schemas.ProtocolOps, logger *zap.Logger) *SemanticEvaluator {
	return &SemanticEvaluator{ops: ops, logger: logger.Named("strategy.semantic")}
}

func (e *SemanticEvaluator) Handles() []schemas.StrategyTag {
	return []schemas.StrategyTag{schemas.StrategySemanticRole, schemas.StrategyPowerAttributes}
}

func (e *SemanticEvaluator) Evaluate(ctx context.Context, tab string, variant schemas.StrategyVariant) schemas.EvaluationResult {
	switch variant.Tag {
	case schemas.StrategySemanticRole:
		return e.evaluateRole(ctx, tab, variant)
	case schemas.StrategyPowerAttributes:
		return e.evaluateAttributes(ctx, tab, variant)
	default:
		return notFound(variant.Tag, time.Now(), "tag not handled by semantic evaluator")
	}
}

func (e *SemanticEvaluator) evaluateRole(ctx context.Context, tab string, variant schemas.StrategyVariant) schemas.EvaluationResult {
	start := time.Now()
	if variant.Semantic == nil || variant.Semantic.Role == "" {
		return notFound(variant.Tag, start, "variant carries no role")
	}

	nodes, err := e.ops.GetAccessibilityTree(ctx, tab)
	if err != nil {
		return notFound(variant.Tag, start, err.Error())
	}

	var matches []cdp.BackendNodeID
	for _, n := range nodes {
		if n.Ignored || n.BackendNodeID == 0 {
			continue
		}
		if semanticEq(n.Role, variant.Semantic.Role) && semanticEq(n.Name, variant.Semantic.Name) {
			matches = append(matches, n.BackendNodeID)
		}
	}
	if len(matches) == 0 {
		return notFound(variant.Tag, start,
			fmt.Sprintf("no accessibility node with role %q and name %q", variant.Semantic.Role, variant.Semantic.Name))
	}

	handle, point, err := materializeBackendID(ctx, e.ops, tab, matches[0])
	if err != nil {
		return notFound(variant.Tag, start, err.Error())
	}
	base := floored(variant.Confidence, floorRoleName)
	return schemas.EvaluationResult{
		Tag:        variant.Tag,
		Found:      true,
		Confidence: scoreMatches(base, len(matches)),
		MatchCount: len(matches),
		Handle:     handle,
		ClickPoint: point,
		Duration:   time.Since(start),
	}
}

func (e *SemanticEvaluator) evaluateAttributes(ctx context.Context, tab string, variant schemas.StrategyVariant) schemas.EvaluationResult {
	start := time.Now()
	if variant.Attributes == nil || variant.Attributes.Empty() {
		return notFound(variant.Tag, start, "variant carries no attribute signal")
	}

	signal, query, floor := strongestSignal(*variant.Attributes)
	ids, err := e.query(ctx, tab, query)
	if err != nil {
		e.logger.Debug("attribute probe failed",
			zap.String("tab", tab), zap.String("signal", signal), zap.Error(err))
		return notFound(variant.Tag, start, err.Error())
	}
	if len(ids) == 0 {
		return notFound(variant.Tag, start, fmt.Sprintf("no element matched %s signal", signal))
	}

	handle, point, err := materializeNodeID(ctx, e.ops, tab, ids[0])
	if err != nil {
		return notFound(variant.Tag, start, err.Error())
	}
	base := floored(variant.Confidence, floor)
	return schemas.EvaluationResult{
		Tag:        variant.Tag,
		Found:      true,
		Confidence: scoreMatches(base, len(ids)),
		MatchCount: len(ids),
		Handle:     handle,
		ClickPoint: point,
		Duration:   time.Since(start),
	}
}

// attrQuery is one resolvable probe: a CSS selector or an XPath expression,
// routed by the selector evaluator's own dialect rules.
type attrQuery struct {
	css   string
	xpath string
}

func (e *SemanticEvaluator) query(ctx context.Context, tab string, q attrQuery) ([]cdp.NodeID, error) {
	if q.xpath != "" {
		return e.ops.PerformSearch(ctx, tab, q.xpath)
	}
	doc, err := e.ops.GetDocument(ctx, tab)
	if err != nil {
		return nil, err
	}
	ids, err := e.ops.QuerySelectorAll(ctx, tab, doc.NodeID, q.css)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return ids, nil
	}
	// Shadow-root fallback through the search API.
	return e.ops.PerformSearch(ctx, tab, q.css)
}

// strongestSignal picks the highest-priority captured signal and builds its
// probe. Priority: test-id > label > placeholder > visible text > alt >
// title.
func strongestSignal(m schemas.AttributesMeta) (name string, q attrQuery, floor float64) {
	switch {
	case m.TestID != "":
		v := cssAttrEscape(m.TestID)
		sel := `[data-testid="` + v + `"], [data-test-id="` + v + `"], [data-test="` + v + `"]`
		return "test-id", attrQuery{css: sel}, floorTestID
	case m.Label != "":
		lit := xpathLiteral(m.Label)
		x := fmt.Sprintf(`//*[@aria-label=%s] | //input[@id=//label[normalize-space(.)=%s]/@for] | //label[normalize-space(.)=%s]//input`,
			lit, lit, lit)
		return "label", attrQuery{xpath: x}, floorLabel
	case m.Placeholder != "":
		return "placeholder", attrQuery{css: `[placeholder="` + cssAttrEscape(m.Placeholder) + `"]`}, floorPlaceholder
	case m.Text != "":
		x := fmt.Sprintf(`//*[normalize-space(text())=%s]`, xpathLiteral(strings.TrimSpace(m.Text)))
		return "text", attrQuery{xpath: x}, floorText
	case m.AltText != "":
		return "alt", attrQuery{css: `[alt="` + cssAttrEscape(m.AltText) + `"]`}, floorAltText
	default:
		return "title", attrQuery{css: `[title="` + cssAttrEscape(m.Title) + `"]`}, floorTitle
	}
}

// floored returns the recorded confidence raised to the signal's floor.
func floored(recorded, floor float64) float64 {
	if recorded > floor {
		return recorded
	}
	return floor
}

// semanticEq compares roles and accessible names the way assistive tech
// does: case-insensitively with collapsed whitespace.
func semanticEq(a, b string) bool {
	return strings.EqualFold(collapseSpace(a), collapseSpace(b))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
