package executor

import (
	"errors"
	"fmt"

	"github.com/v0xg/screenpilot/internal/driver"
)

// ErrorKind classifies why an action failed
type ErrorKind int

const (
	ErrDriverFailure ErrorKind = iota
	ErrLocatorTimeout
	ErrElementIntercepted
	ErrElementNotInteractable
	ErrUnsupportedAction
	ErrUnsupportedSelectorKind
	ErrNoURLProvided
	ErrBrowserNotInitialized
	ErrInvalidParams
)

var errorKindNames = [...]string{
	ErrDriverFailure:           "DriverFailure",
	ErrLocatorTimeout:          "LocatorTimeout",
	ErrElementIntercepted:      "ElementIntercepted",
	ErrElementNotInteractable:  "ElementNotInteractable",
	ErrUnsupportedAction:       "UnsupportedAction",
	ErrUnsupportedSelectorKind: "UnsupportedSelectorKind",
	ErrNoURLProvided:           "NoUrlProvided",
	ErrBrowserNotInitialized:   "BrowserNotInitialized",
	ErrInvalidParams:           "InvalidParams",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Recoverable reports whether asking the model for a different action can
// plausibly fix the failure
func (k ErrorKind) Recoverable() bool {
	switch k {
	case ErrUnsupportedAction, ErrUnsupportedSelectorKind, ErrBrowserNotInitialized:
		return false
	}
	return true
}

// ErrNotFound is returned by the locator when the wait window expires
var ErrNotFound = errors.New("wait timed out")

// ActionError is the only error type Execute returns
type ActionError struct {
	Kind   ErrorKind
	Action Action
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action.Name(), e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind of err, or ErrDriverFailure
func KindOf(err error) ErrorKind {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ErrDriverFailure
}

// classify turns a driver error into an ActionError
func classify(a Action, err error) *ActionError {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae
	}
	kind := ErrDriverFailure
	var intercepted *driver.InterceptedError
	var notInteractable *driver.NotInteractableError
	switch {
	case errors.Is(err, ErrNotFound):
		kind = ErrLocatorTimeout
	case errors.As(err, &intercepted):
		kind = ErrElementIntercepted
	case errors.As(err, &notInteractable):
		kind = ErrElementNotInteractable
	}
	return &ActionError{Kind: kind, Action: a, Err: err}
}
