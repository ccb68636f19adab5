// Package driver defines the browser capabilities the executor and the
// observation builder rely on. The rod-backed implementation lives in
// internal/browser; drivertest provides an in-memory fixture.
package driver

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoMatch is returned by the Find methods when nothing matches yet.
// Find never waits; polling is the locator's job.
var ErrNoMatch = errors.New("no matching element")

// InterceptedError reports that another element sits on top of the target
// and would receive a click.
type InterceptedError struct {
	Interceptor string // outer HTML of the covering element, possibly truncated
}

func (e *InterceptedError) Error() string {
	return fmt.Sprintf("Other element would receive the click: %s", e.Interceptor)
}

// NotInteractableError reports an element that exists but cannot be acted on
type NotInteractableError struct {
	Reason string
}

func (e *NotInteractableError) Error() string {
	return "element not interactable: " + e.Reason
}

// Point is a viewport coordinate in CSS pixels
type Point struct {
	X, Y float64
}

// Page is one browser tab
type Page interface {
	// Navigate loads url and waits for the load event
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)

	FindByID(ctx context.Context, id string) (Element, error)
	FindCSS(ctx context.Context, selector string) (Element, error)
	FindXPath(ctx context.Context, xpath string) (Element, error)
	// FindAllByText returns every element whose own text, value, alt or
	// title contains text, in document order
	FindAllByText(ctx context.Context, text string, foldCase bool) ([]Element, error)

	// Screenshot captures the current viewport as PNG
	Screenshot(ctx context.Context) ([]byte, error)
	// Snapshot collects planning candidates, at most limit of them
	Snapshot(ctx context.Context, limit int) (*Snapshot, error)
}

// Element is a handle to one DOM node
type Element interface {
	// Describe returns a short outer-HTML style label for logs and hints
	Describe() string

	ScrollIntoCenter(ctx context.Context) error
	WaitVisible(ctx context.Context) error
	WaitEnabled(ctx context.Context) error
	Center(ctx context.Context) (Point, error)
	// ElementAtCenter returns the topmost element at the target's center
	// point and whether it is the target itself (or one of its descendants)
	ElementAtCenter(ctx context.Context) (Element, bool, error)
	// DispatchMouseSequence fires mouseover, mousedown, mouseup and click
	DispatchMouseSequence(ctx context.Context) error
	// Click performs a native input click through the driver
	Click(ctx context.Context) error

	Focus(ctx context.Context) error
	// SetValue clears the element and assigns value through the native setter
	SetValue(ctx context.Context, value string) error
	DispatchEvents(ctx context.Context, names ...string) error
}

// Snapshot is the raw material for the DOM digest
type Snapshot struct {
	URL         string
	Title       string
	Description string
	Elements    []ElementRecord
}

// ElementRecord is one candidate element as seen by the page. Attrs holds
// the live value property under "value" when the element has one.
type ElementRecord struct {
	Tag     string
	Attrs   map[string]string
	Text    string
	Visible bool
}
