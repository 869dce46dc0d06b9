// File: api/schemas/schemas.go
// Description: Canonical data model shared by every component: locator
// descriptors, strategy variants, evaluation results and action execution
// results. These types cross the boundary between the recording collaborator
// (which produces descriptors) and the replay engine (which consumes them),
// so their JSON shape is the contract.
package schemas

import (
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
)

// -- Strategy Variants --

// StrategyTag identifies one typed way of relocating an element.
type StrategyTag string

const (
	StrategySemanticRole      StrategyTag = "semantic-role"
	StrategyPowerAttributes   StrategyTag = "power-attributes"
	StrategyDOMSelector       StrategyTag = "dom-selector"
	StrategyCSSSelector       StrategyTag = "css-selector"
	StrategyEvidenceHeuristic StrategyTag = "evidence-heuristic"
	StrategyVisionText        StrategyTag = "vision-text"
	StrategyCoordinates       StrategyTag = "coordinates"
)

// AllStrategyTags lists every known tag in descending default weight order.
var AllStrategyTags = []StrategyTag{
	StrategySemanticRole,
	StrategyPowerAttributes,
	StrategyDOMSelector,
	StrategyCSSSelector,
	StrategyEvidenceHeuristic,
	StrategyVisionText,
	StrategyCoordinates,
}

// SemanticMeta carries role and accessible-name data for semantic variants.
type SemanticMeta struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

// AttributesMeta carries the secondary locating signals captured at record
// time. Resolution priority when several are present: test-id > label >
// placeholder > visible text > alt text > title. Identifiers are least
// likely to change incidentally.
type AttributesMeta struct {
	TestID      string `json:"test_id,omitempty"`
	Label       string `json:"label,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Text        string `json:"text,omitempty"`
	AltText     string `json:"alt_text,omitempty"`
	Title       string `json:"title,omitempty"`
}

// Empty reports whether no signal was captured at all.
func (m AttributesMeta) Empty() bool {
	return m.TestID == "" && m.Label == "" && m.Placeholder == "" &&
		m.Text == "" && m.AltText == "" && m.Title == ""
}

// SelectorMeta carries a CSS selector or XPath expression.
type SelectorMeta struct {
	Expression string `json:"expression"`
}

// VisionMeta carries the on-screen text recorded for optical matching.
type VisionMeta struct {
	TargetText string `json:"target_text"`
}

// CoordinatesMeta carries the raw click position plus enough recorded
// context (scroll offsets, element identity) to correct and verify it.
type CoordinatesMeta struct {
	X       float64      `json:"x"`
	Y       float64      `json:"y"`
	ScrollX float64      `json:"scroll_x"`
	ScrollY float64      `json:"scroll_y"`
	Tag     string       `json:"tag,omitempty"`
	ID      string       `json:"id,omitempty"`
	Classes []string     `json:"classes,omitempty"`
	Box     *BoundingBox `json:"box,omitempty"`
}

// StrategyVariant is one recorded way of finding an element, tagged with the
// strategy that produced it and the confidence it earned at record time.
// The metadata pointer matching the tag must be set; all others must be nil.
type StrategyVariant struct {
	Tag        StrategyTag `json:"tag"`
	Confidence float64     `json:"confidence"`
	Primary    bool        `json:"primary,omitempty"`

	Semantic    *SemanticMeta    `json:"semantic,omitempty"`
	Attributes  *AttributesMeta  `json:"attributes,omitempty"`
	Selector    *SelectorMeta    `json:"selector,omitempty"`
	Vision      *VisionMeta      `json:"vision,omitempty"`
	Coordinates *CoordinatesMeta `json:"coordinates,omitempty"`
}

// Validate checks the tag/metadata pairing and the confidence range.
func (v StrategyVariant) Validate() error {
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("variant %q: confidence %v outside [0,1]", v.Tag, v.Confidence)
	}

	want := func(name string, present bool) error {
		if !present {
			return fmt.Errorf("variant %q: missing %s metadata", v.Tag, name)
		}
		return nil
	}

	switch v.Tag {
	case StrategySemanticRole:
		return want("semantic", v.Semantic != nil)
	case StrategyPowerAttributes:
		if err := want("attributes", v.Attributes != nil); err != nil {
			return err
		}
		if v.Attributes.Empty() {
			return fmt.Errorf("variant %q: attributes metadata carries no signal", v.Tag)
		}
		return nil
	case StrategyDOMSelector, StrategyCSSSelector:
		if err := want("selector", v.Selector != nil); err != nil {
			return err
		}
		if v.Selector.Expression == "" {
			return fmt.Errorf("variant %q: empty selector expression", v.Tag)
		}
		return nil
	case StrategyEvidenceHeuristic:
		// Evidence variants are opaque to the replay side; the capture
		// buffer that could resolve them lives with the recorder.
		return nil
	case StrategyVisionText:
		if err := want("vision", v.Vision != nil); err != nil {
			return err
		}
		if v.Vision.TargetText == "" {
			return fmt.Errorf("variant %q: empty target text", v.Tag)
		}
		return nil
	case StrategyCoordinates:
		return want("coordinates", v.Coordinates != nil)
	default:
		return fmt.Errorf("unknown strategy tag %q", v.Tag)
	}
}

// -- Locator Descriptor --

// LocatorDescriptor is the ordered set of strategy variants recorded for one
// action. Variants are sorted by descending recorded confidence and exactly
// one of them is flagged primary. Descriptors are immutable after recording;
// the replay side only reads them.
type LocatorDescriptor struct {
	Variants []StrategyVariant `json:"variants"`
}

// Primary returns the variant flagged primary, or nil when the descriptor is
// malformed.
func (d LocatorDescriptor) Primary() *StrategyVariant {
	for i := range d.Variants {
		if d.Variants[i].Primary {
			return &d.Variants[i]
		}
	}
	return nil
}

// Validate enforces the descriptor invariants: at least one variant, sorted
// by descending recorded confidence, exactly one primary, and every variant
// internally consistent.
func (d LocatorDescriptor) Validate() error {
	if len(d.Variants) == 0 {
		return fmt.Errorf("descriptor has no variants")
	}
	primaries := 0
	for i, v := range d.Variants {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("variant %d: %w", i, err)
		}
		if v.Primary {
			primaries++
		}
		if i > 0 && d.Variants[i-1].Confidence < v.Confidence {
			return fmt.Errorf("variants not sorted by descending confidence at index %d", i)
		}
	}
	if primaries != 1 {
		return fmt.Errorf("descriptor must flag exactly one primary variant, got %d", primaries)
	}
	return nil
}

// -- Geometry --

// Point is a viewport-relative coordinate pair.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BoundingBox is a viewport-relative rectangle.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// -- Element Handle --

// ElementHandle is a connection-scoped, mutation-resistant reference to a
// node. Backend node IDs survive DOM mutation, unlike the session-scoped
// node IDs handed out per query. A handle is invalidated by detach or
// navigation of its owning tab.
type ElementHandle struct {
	TabID         string            `json:"tab_id"`
	BackendNodeID cdp.BackendNodeID `json:"backend_node_id"`
}

// Key returns a map key unique within one connection's lifetime.
func (h ElementHandle) Key() string {
	return fmt.Sprintf("%s#%d", h.TabID, h.BackendNodeID)
}

// -- Evaluation --

// EvaluationResult is the per-variant outcome of one relocation attempt. It
// lives for a single action execution; handles inside it must not outlive
// the connection that produced them.
type EvaluationResult struct {
	Tag        StrategyTag `json:"tag"`
	Found      bool        `json:"found"`
	Confidence float64     `json:"confidence"`
	// Score is the runtime confidence used for arbitration: Confidence
	// scaled by the strategy's weight. Zero until the engine stamps it.
	Score      float64        `json:"score"`
	MatchCount int            `json:"match_count,omitempty"`
	Handle     *ElementHandle `json:"handle,omitempty"`
	ClickPoint *Point         `json:"click_point,omitempty"`
	Duration   time.Duration  `json:"duration"`
	Error      string         `json:"error,omitempty"`
}

// -- Actions --

// ActionType enumerates the interactions the engine can perform.
type ActionType string

const (
	ActionClick  ActionType = "click"
	ActionInput  ActionType = "type"
	ActionSelect ActionType = "select"
	ActionHover  ActionType = "hover"
	ActionScroll ActionType = "scroll"
)

// ActionRequest asks the decision engine to perform one recorded action
// against a live tab.
type ActionRequest struct {
	Type       ActionType        `json:"type"`
	Descriptor LocatorDescriptor `json:"descriptor"`
	// Value is the payload for type and select actions.
	Value string `json:"value,omitempty"`
	// Timeout overrides the configured per-action timeout when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ErrorKind classifies action failures for callers that dispatch on them.
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindNoStrategy  ErrorKind = "no_strategy_found_element"
	ErrorKindInteraction ErrorKind = "interaction_failed"
	ErrorKindInternal    ErrorKind = "internal"
)

// ActionExecutionResult reports the full outcome of one action: which
// variant won, what every evaluator saw, and where the time went. A failed
// action always carries the complete per-variant trail.
type ActionExecutionResult struct {
	ID          string             `json:"id"`
	Success     bool               `json:"success"`
	UsedVariant *StrategyTag       `json:"used_variant,omitempty"`
	Results     []EvaluationResult `json:"results"`
	Evaluation  time.Duration      `json:"evaluation_duration"`
	Execution   time.Duration      `json:"execution_duration"`
	Total       time.Duration      `json:"total_duration"`
	Error       string             `json:"error,omitempty"`
	ErrorKind   ErrorKind          `json:"error_kind,omitempty"`
}

// -- Actionability --

// Condition names one polled actionability requirement.
type Condition string

const (
	ConditionAttached      Condition = "attached"
	ConditionVisible       Condition = "visible"
	ConditionEnabled       Condition = "enabled"
	ConditionStable        Condition = "stable"
	ConditionReceivesInput Condition = "receives-input"
	ConditionEditable      Condition = "editable"
	ConditionInViewport    Condition = "in-viewport"
)

// DefaultConditions is the standard gate before any physical interaction.
var DefaultConditions = []Condition{
	ConditionAttached,
	ConditionVisible,
	ConditionEnabled,
	ConditionStable,
	ConditionReceivesInput,
}

// ActionabilityState is one poll's snapshot of an element's readiness.
type ActionabilityState struct {
	Attached      bool         `json:"attached"`
	Visible       bool         `json:"visible"`
	Enabled       bool         `json:"enabled"`
	Stable        bool         `json:"stable"`
	ReceivesInput bool         `json:"receives_input"`
	Editable      bool         `json:"editable"`
	InViewport    bool         `json:"in_viewport"`
	Box           *BoundingBox `json:"box,omitempty"`
	ObservedAt    time.Time    `json:"observed_at"`
	// FailingCondition is set when a wait timed out: the first required
	// condition that still did not hold, for precise diagnosis.
	FailingCondition Condition `json:"failing_condition,omitempty"`
}

// Holds reports whether one named condition is satisfied in this snapshot.
func (s ActionabilityState) Holds(c Condition) bool {
	switch c {
	case ConditionAttached:
		return s.Attached
	case ConditionVisible:
		return s.Visible
	case ConditionEnabled:
		return s.Enabled
	case ConditionStable:
		return s.Stable
	case ConditionReceivesInput:
		return s.ReceivesInput
	case ConditionEditable:
		return s.Editable
	case ConditionInViewport:
		return s.InViewport
	default:
		return false
	}
}

// -- Recordings --

// RecordedAction is one step of a recording as handed over by the recording
// collaborator: the action plus its pre-scored descriptor. The engine never
// re-scores these; it only arbitrates among the variants at replay time.
type RecordedAction struct {
	Type       ActionType        `json:"type"`
	Value      string            `json:"value,omitempty"`
	Descriptor LocatorDescriptor `json:"descriptor"`
}

// Recording is an ordered sequence of recorded actions for one flow.
type Recording struct {
	Name    string           `json:"name,omitempty"`
	URL     string           `json:"url,omitempty"`
	Actions []RecordedAction `json:"actions"`
}

// TextMatch is the vision collaborator's answer for one target text: whether
// recognized text on the current screen matches it, the recognizer's own
// normalized confidence, and the match's click point.
type TextMatch struct {
	Found      bool    `json:"found"`
	Confidence float64 `json:"confidence"`
	ClickPoint *Point  `json:"click_point,omitempty"`
}
