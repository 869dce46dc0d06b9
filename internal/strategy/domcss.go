// File: internal/strategy/domcss.go
// Description: Evaluator for the two selector-based strategies. CSS goes
// through querySelectorAll against the current document root; XPath and the
// shadow-DOM fallback go through the DOM search API, which pierces shadow
// trees. Both paths land on backend node IDs before reporting.
package strategy

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
)

var errInvalidSelector = errors.New("selector has unbalanced quotes or brackets")

// SelectorEvaluator relocates elements from recorded CSS selectors and XPath
// expressions.
type SelectorEvaluator struct {
	ops    schemas.ProtocolOps
	logger *zap.Logger
}

func NewSelectorEvaluator(ops schemas.ProtocolOps, logger *zap.Logger) *SelectorEvaluator {
	return &SelectorEvaluator{ops: ops, logger: logger.Named("strategy.selector")}
}

func (e *SelectorEvaluator) Handles() []schemas.StrategyTag {
	return []schemas.StrategyTag{schemas.StrategyDOMSelector, schemas.StrategyCSSSelector}
}

func (e *SelectorEvaluator) Evaluate(ctx context.Context, tab string, variant schemas.StrategyVariant) schemas.EvaluationResult {
	start := time.Now()
	if variant.Selector == nil || variant.Selector.Expression == "" {
		return notFound(variant.Tag, start, "variant carries no selector expression")
	}
	expr := variant.Selector.Expression

	var (
		ids []cdp.NodeID
		err error
	)
	if isXPath(expr) {
		ids, err = e.ops.PerformSearch(ctx, tab, expr)
	} else {
		if verr := checkCSSSyntax(expr); verr != nil {
			return notFound(variant.Tag, start, verr.Error())
		}
		ids, err = e.queryCSS(ctx, tab, expr)
	}
	if err != nil {
		e.logger.Debug("selector query failed",
			zap.String("tab", tab), zap.String("expression", expr), zap.Error(err))
		return notFound(variant.Tag, start, err.Error())
	}
	if len(ids) == 0 {
		return notFound(variant.Tag, start, "selector matched no elements")
	}

	handle, point, err := materializeNodeID(ctx, e.ops, tab, ids[0])
	if err != nil {
		return notFound(variant.Tag, start, err.Error())
	}
	return schemas.EvaluationResult{
		Tag:        variant.Tag,
		Found:      true,
		Confidence: scoreMatches(variant.Confidence, len(ids)),
		MatchCount: len(ids),
		Handle:     handle,
		ClickPoint: point,
		Duration:   time.Since(start),
	}
}

// queryCSS runs the selector against the document root. Zero matches in the
// light DOM trigger one retry through the search API, which also walks open
// shadow roots.
func (e *SelectorEvaluator) queryCSS(ctx context.Context, tab, selector string) ([]cdp.NodeID, error) {
	doc, err := e.ops.GetDocument(ctx, tab)
	if err != nil {
		return nil, err
	}
	ids, err := e.ops.QuerySelectorAll(ctx, tab, doc.NodeID, selector)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return ids, nil
	}
	return e.ops.PerformSearch(ctx, tab, selector)
}

// isXPath distinguishes XPath from CSS the way recorders emit them: XPath
// expressions start with an axis step or a parenthesized one.
func isXPath(expr string) bool {
	return strings.HasPrefix(expr, "/") || strings.HasPrefix(expr, "(") ||
		strings.HasPrefix(expr, "./") || strings.HasPrefix(expr, "..")
}

// checkCSSSyntax rejects selectors with unbalanced quoting or bracketing
// before they reach the browser, producing a clearer miss reason than the
// protocol's generic invalid-parameters error.
func checkCSSSyntax(selector string) error {
	var depthSquare, depthParen int
	var quote byte
	for i := 0; i < len(selector); i++ {
		c := selector[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '[':
			depthSquare++
		case ']':
			depthSquare--
		case '(':
			depthParen++
		case ')':
			depthParen--
		}
		if depthSquare < 0 || depthParen < 0 {
			return errInvalidSelector
		}
	}
	if quote != 0 || depthSquare != 0 || depthParen != 0 {
		return errInvalidSelector
	}
	return nil
}
