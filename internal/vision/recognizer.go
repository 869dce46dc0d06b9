// File: internal/vision/recognizer.go
// Description: The optical-text collaborator. The production recognizer
// reads visible text regions out of the rendered page and fuzzy-matches the
// recorded target against them; the match's similarity is the confidence it
// reports, so the evaluator can pass it through unchanged.
package vision

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
)

// DefaultMatchThreshold is the minimum similarity counted as a match.
const DefaultMatchThreshold = 0.80

// maxRegions bounds how much of a pathological page gets scanned.
const maxRegions = 512

// TextRegion is one piece of visible on-screen text with its box.
type TextRegion struct {
	Text   string  `json:"text"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// collectRegionsExpr walks visible text nodes and reports their content and
// boxes. Hidden and zero-area text never reaches the matcher.
var collectRegionsExpr = fmt.Sprintf(`(() => {
	const out = [];
	const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
	while (walker.nextNode() && out.length < %d) {
		const node = walker.currentNode;
		const text = node.textContent.trim();
		if (!text) continue;
		const el = node.parentElement;
		if (!el) continue;
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden') continue;
		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) continue;
		out.push({text: text, x: r.x, y: r.y, width: r.width, height: r.height});
	}
	return out;
})()`, maxRegions)

// ScreenTextRecognizer matches recorded text against the live page.
type ScreenTextRecognizer struct {
	ops       schemas.ProtocolOps
	logger    *zap.Logger
	threshold float64
}

var _ schemas.TextRecognizer = (*ScreenTextRecognizer)(nil)

func NewScreenTextRecognizer(ops schemas.ProtocolOps, logger *zap.Logger) *ScreenTextRecognizer {
	return &ScreenTextRecognizer{
		ops:       ops,
		logger:    logger.Named("vision"),
		threshold: DefaultMatchThreshold,
	}
}

// EvaluateText scans the current screen for the target text and reports the
// best fuzzy match.
func (r *ScreenTextRecognizer) EvaluateText(ctx context.Context, tab, targetText string) (schemas.TextMatch, error) {
	var regions []TextRegion
	if err := r.ops.Evaluate(ctx, tab, collectRegionsExpr, &regions); err != nil {
		return schemas.TextMatch{}, fmt.Errorf("collect text regions: %w", err)
	}
	r.logger.Debug("scanned text regions", zap.String("tab", tab), zap.Int("regions", len(regions)))
	return MatchAgainst(regions, targetText, r.threshold), nil
}

// StaticRecognizer answers from a fixed region set. Serves tests and
// offline diagnosis of recorded screens.
type StaticRecognizer struct {
	Regions   []TextRegion
	Threshold float64
}

var _ schemas.TextRecognizer = (*StaticRecognizer)(nil)

func (r *StaticRecognizer) EvaluateText(_ context.Context, _ string, targetText string) (schemas.TextMatch, error) {
	threshold := r.Threshold
	if threshold == 0 {
		threshold = DefaultMatchThreshold
	}
	return MatchAgainst(r.Regions, targetText, threshold), nil
}

// MatchAgainst finds the region most similar to the target and converts it
// into a TextMatch. Similarity doubles as the reported confidence.
func MatchAgainst(regions []TextRegion, target string, threshold float64) schemas.TextMatch {
	wanted := normalizeText(target)
	if wanted == "" {
		return schemas.TextMatch{}
	}

	var best *TextRegion
	bestScore := 0.0
	for i := range regions {
		score := Similarity(wanted, normalizeText(regions[i].Text))
		if score > bestScore {
			bestScore = score
			best = &regions[i]
		}
	}
	if best == nil || bestScore < threshold {
		return schemas.TextMatch{}
	}
	return schemas.TextMatch{
		Found:      true,
		Confidence: bestScore,
		ClickPoint: &schemas.Point{X: best.X + best.Width/2, Y: best.Y + best.Height/2},
	}
}

// Similarity is 1 minus the normalized edit distance between two strings,
// in [0,1]. Equal strings score 1; nothing in common scores 0.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	ar, br := []rune(a), []rune(b)
	longest := len(ar)
	if len(br) > longest {
		longest = len(br)
	}
	return 1 - float64(editDistance(ar, br))/float64(longest)
}

// editDistance is the classic two-row Levenshtein distance.
func editDistance(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
