package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which primitive an action performs
type Kind int

const (
	KindUnknown Kind = iota
	KindNavigate
	KindClick
	KindFill
	KindScroll
	KindWait
)

var kindNames = map[Kind]string{
	KindNavigate: "navigateToWebsite",
	KindClick:    "clickElement",
	KindFill:     "fillInput",
	KindScroll:   "scrollToElement",
	KindWait:     "waitForElement",
}

// String returns the wire name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func parseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// SelectorKind is the interpretation strategy for a selector string
type SelectorKind int

const (
	SelectorUnknown SelectorKind = iota
	SelectorID
	SelectorCSS
	SelectorXPath
	SelectorText
)

var selectorKindNames = map[SelectorKind]string{
	SelectorID:    "id",
	SelectorCSS:   "css",
	SelectorXPath: "xpath",
	SelectorText:  "text",
}

func (k SelectorKind) String() string {
	if name, ok := selectorKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseSelectorKind maps a wire selectorType onto a SelectorKind
func ParseSelectorKind(name string) SelectorKind {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range selectorKindNames {
		if n == name {
			return k
		}
	}
	return SelectorUnknown
}

// Target is a selector plus the strategy used to resolve it
type Target struct {
	Selector string
	Kind     SelectorKind
}

func (t Target) String() string {
	return t.Kind.String() + ":" + t.Selector
}

// Action is one instruction proposed by the model. URL is only meaningful
// for Navigate, Text for Fill and Timeout for Wait; Target for every other
// kind. Unknown action or selector names are kept verbatim so they can be
// reported when the action runs and round-trip unchanged.
type Action struct {
	Kind      Kind
	URL       string
	Target    Target
	Text      string
	Timeout   time.Duration
	Reasoning string
	PhaseEnds bool
	Completes bool

	rawKind     string
	rawSelector string
}

// Navigate builds a navigation action
func Navigate(url string) Action {
	return Action{Kind: KindNavigate, URL: url, PhaseEnds: true}
}

// Click builds a click action
func Click(selector string, kind SelectorKind) Action {
	return Action{Kind: KindClick, Target: Target{Selector: selector, Kind: kind}}
}

// Fill builds a fill action
func Fill(selector string, kind SelectorKind, text string) Action {
	return Action{Kind: KindFill, Target: Target{Selector: selector, Kind: kind}, Text: text}
}

// Scroll builds a scroll action
func Scroll(selector string, kind SelectorKind) Action {
	return Action{Kind: KindScroll, Target: Target{Selector: selector, Kind: kind}}
}

// Wait builds a wait action
func Wait(selector string, kind SelectorKind, timeout time.Duration) Action {
	return Action{Kind: KindWait, Target: Target{Selector: selector, Kind: kind}, Timeout: timeout}
}

// EndingPhase returns a copy flagged as phase-ending
func (a Action) EndingPhase() Action {
	a.PhaseEnds = true
	return a
}

// CompletingTask returns a copy flagged as task-completing
func (a Action) CompletingTask() Action {
	a.Completes = true
	return a
}

// Name returns the wire action name, including unrecognised ones
func (a Action) Name() string {
	if a.Kind == KindUnknown {
		return a.rawKind
	}
	return a.Kind.String()
}

// String renders a compact human form used in logs and prompts
func (a Action) String() string {
	switch a.Kind {
	case KindNavigate:
		return fmt.Sprintf("%s(%s)", a.Name(), a.URL)
	case KindFill:
		return fmt.Sprintf("%s(%s, %q)", a.Name(), a.Target, a.Text)
	case KindUnknown:
		return fmt.Sprintf("%s(%s)", a.Name(), a.Target.Selector)
	default:
		return fmt.Sprintf("%s(%s)", a.Name(), a.Target)
	}
}

// Validate checks the per-kind contract
func (a Action) Validate() error {
	switch a.Kind {
	case KindUnknown:
		return &ActionError{Kind: ErrUnsupportedAction, Action: a, Err: fmt.Errorf("unsupported action %q", a.rawKind)}
	case KindNavigate:
		if strings.TrimSpace(a.URL) == "" {
			return &ActionError{Kind: ErrNoURLProvided, Action: a, Err: fmt.Errorf("no URL provided")}
		}
		return nil
	}
	if a.Target.Kind == SelectorUnknown {
		return &ActionError{Kind: ErrUnsupportedSelectorKind, Action: a, Err: fmt.Errorf("unsupported selector type %q", a.rawSelector)}
	}
	if strings.TrimSpace(a.Target.Selector) == "" {
		return &ActionError{Kind: ErrInvalidParams, Action: a, Err: fmt.Errorf("%s requires a selector", a.Name())}
	}
	return nil
}

// Batch is the ordered set of actions proposed for one phase
type Batch []Action

// Truncated drops every action after the first phase-ending one
func (b Batch) Truncated() Batch {
	for i, a := range b {
		if a.PhaseEnds {
			return b[:i+1]
		}
	}
	return b
}

type wireAction struct {
	Action         string     `json:"action"`
	Params         wireParams `json:"params"`
	Reasoning      string     `json:"reasoning"`
	PhaseCompleted bool       `json:"phaseCompleted"`
	Completed      bool       `json:"completed"`
}

type wireParams struct {
	Website      string `json:"website,omitempty"`
	Selector     string `json:"selector,omitempty"`
	SelectorType string `json:"selectorType,omitempty"`
	Text         string `json:"text,omitempty"`
	Timeout      wireTimeout `json:"timeout,omitempty"`
}

// wireTimeout is a millisecond count. Models write it as 5000, 5000.0 or
// "5000"; anything else decodes to zero so the locator default applies.
type wireTimeout int64

func (t *wireTimeout) UnmarshalJSON(data []byte) error {
	*t = 0
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	ms, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !(ms > 0 && ms < math.MaxInt64/float64(time.Millisecond)) {
		return nil
	}
	*t = wireTimeout(ms)
	return nil
}

// MarshalJSON writes the model-facing wire format
func (a Action) MarshalJSON() ([]byte, error) {
	w := wireAction{
		Action:         a.Name(),
		Reasoning:      a.Reasoning,
		PhaseCompleted: a.PhaseEnds,
		Completed:      a.Completes,
	}
	switch a.Kind {
	case KindNavigate:
		w.Params.Website = a.URL
	default:
		w.Params.Selector = a.Target.Selector
		w.Params.SelectorType = a.Target.Kind.String()
		if a.Target.Kind == SelectorUnknown {
			w.Params.SelectorType = a.rawSelector
		}
		w.Params.Text = a.Text
		if a.Timeout > 0 {
			w.Params.Timeout = wireTimeout(a.Timeout.Milliseconds())
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the model-facing wire format. Navigate falls back to
// params.selector when params.website is empty; waitForElement defaults to
// the id selector type.
func (a *Action) UnmarshalJSON(data []byte) error {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Action{
		Kind:      parseKind(w.Action),
		Reasoning: w.Reasoning,
		PhaseEnds: w.PhaseCompleted,
		Completes: w.Completed,
		rawKind:   w.Action,
	}
	switch out.Kind {
	case KindNavigate:
		out.URL = strings.TrimSpace(w.Params.Website)
		if out.URL == "" {
			out.URL = strings.TrimSpace(w.Params.Selector)
		}
	default:
		selectorType := w.Params.SelectorType
		if selectorType == "" && out.Kind == KindWait {
			selectorType = "id"
		}
		out.Target = Target{Selector: w.Params.Selector, Kind: ParseSelectorKind(selectorType)}
		out.rawSelector = selectorType
		out.Text = w.Params.Text
		if w.Params.Timeout > 0 {
			out.Timeout = time.Duration(w.Params.Timeout) * time.Millisecond
		}
	}
	*a = out
	return nil
}
