package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/v0xg/screenpilot/internal/executor"
)

// ErrMalformedOutput marks model output that could not be decoded
var ErrMalformedOutput = errors.New("malformed model output")

// MalformedOutputError carries the raw text that failed to decode
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("%v: %v (response: %q)", ErrMalformedOutput, e.Err, raw)
}

func (e *MalformedOutputError) Unwrap() []error {
	return []error{ErrMalformedOutput, e.Err}
}

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// DecodeBatch extracts an action batch from free-form model output: strip
// code fences, parse directly, else parse the first balanced [...] or {...}
// span, else run JSON repair. A single action object is accepted as a
// one-element batch, as is {"actions": [...]}.
func DecodeBatch(raw string) (executor.Batch, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, &MalformedOutputError{Raw: raw, Err: errors.New("empty response")}
	}
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	batch, firstErr := parseBatch(text)
	if firstErr == nil {
		return batch, nil
	}

	if batch, ok := firstParsableSpan(text); ok {
		return batch, nil
	}

	if repaired, err := jsonrepair.JSONRepair(text); err == nil {
		if batch, err := parseBatch(repaired); err == nil {
			return batch, nil
		}
	}

	return nil, &MalformedOutputError{Raw: raw, Err: firstErr}
}

func parseBatch(s string) (executor.Batch, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		var wrapped struct {
			Actions *executor.Batch `json:"actions"`
		}
		if err := json.Unmarshal([]byte(s), &wrapped); err == nil && wrapped.Actions != nil {
			return *wrapped.Actions, nil
		}
		var single executor.Action
		if err := json.Unmarshal([]byte(s), &single); err != nil {
			return nil, err
		}
		if single.Name() == "" {
			return nil, errors.New("object has no action field")
		}
		return executor.Batch{single}, nil
	}

	var batch executor.Batch
	if err := json.Unmarshal([]byte(s), &batch); err != nil {
		return nil, err
	}
	for i, a := range batch {
		if a.Name() == "" {
			return nil, fmt.Errorf("element %d has no action field", i)
		}
	}
	return batch, nil
}

// firstParsableSpan tries every [ or { in s as the start of a balanced
// span and returns the first one that decodes as a batch. Prose such as
// "click the [Search] button" ahead of the JSON is skipped this way.
func firstParsableSpan(s string) (executor.Batch, bool) {
	for off := 0; off < len(s); {
		rel := strings.IndexAny(s[off:], "[{")
		if rel < 0 {
			break
		}
		start := off + rel
		if span := balancedSpan(s, start); span != "" && span != s {
			if batch, err := parseBatch(span); err == nil {
				return batch, true
			}
		}
		off = start + 1
	}
	return nil, false
}

// balancedSpan returns the complete [...] or {...} opening at s[start],
// ignoring brackets inside JSON strings
func balancedSpan(s string, start int) string {
	open := s[start]
	closer := byte(']')
	if open == '{' {
		closer = '}'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
