package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/v0xg/screenpilot/internal/driver"
)

// Element is a rod-backed driver.Element
type Element struct {
	el   *rod.Element
	page *Page

	once sync.Once
	tag  string
}

var _ driver.Element = (*Element)(nil)

// Describe returns the opening tag of the element, e.g. <button id="go">
func (e *Element) Describe() string {
	e.once.Do(func() {
		e.tag = "<unknown>"
		res, err := e.el.Timeout(2 * time.Second).Eval(jsOpeningTag)
		if err == nil && res.Value.Str() != "" {
			e.tag = res.Value.Str()
		}
	})
	return e.tag
}

func (e *Element) ScrollIntoCenter(ctx context.Context) error {
	if _, err := e.el.Context(ctx).Eval(jsScrollIntoCenter); err != nil {
		return interaction(err)
	}
	return nil
}

func (e *Element) WaitVisible(ctx context.Context) error {
	if err := e.el.Context(ctx).WaitVisible(); err != nil {
		if ctx.Err() != nil {
			return &driver.NotInteractableError{Reason: "element did not become visible"}
		}
		return interaction(err)
	}
	return nil
}

func (e *Element) WaitEnabled(ctx context.Context) error {
	if err := e.el.Context(ctx).WaitEnabled(); err != nil {
		if ctx.Err() != nil {
			return &driver.NotInteractableError{Reason: "element stayed disabled"}
		}
		return interaction(err)
	}
	return nil
}

// Center returns the middle of the element's first content quad
func (e *Element) Center(ctx context.Context) (driver.Point, error) {
	shape, err := e.el.Context(ctx).Shape()
	if err != nil {
		return driver.Point{}, err
	}
	if len(shape.Quads) == 0 {
		return driver.Point{}, &driver.NotInteractableError{Reason: "element has no shape"}
	}
	q := shape.Quads[0]
	return driver.Point{
		X: (q[0] + q[2] + q[4] + q[6]) / 4,
		Y: (q[1] + q[3] + q[5] + q[7]) / 4,
	}, nil
}

func (e *Element) ElementAtCenter(ctx context.Context) (driver.Element, bool, error) {
	obj, err := e.el.Context(ctx).Evaluate(rod.Eval(jsElementAtCenter).ByObject())
	if err != nil {
		return nil, false, err
	}
	top, err := e.page.fromObject(obj)
	if errors.Is(err, driver.ErrNoMatch) {
		return e, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return top, false, nil
}

func (e *Element) DispatchMouseSequence(ctx context.Context) error {
	if _, err := e.el.Context(ctx).Eval(jsMouseSequence); err != nil {
		return fmt.Errorf("dispatch mouse events: %w", err)
	}
	return nil
}

// Click performs a native left click through the input domain
func (e *Element) Click(ctx context.Context) error {
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return interaction(err)
	}
	return nil
}

func (e *Element) Focus(ctx context.Context) error {
	return e.el.Context(ctx).Focus()
}

func (e *Element) SetValue(ctx context.Context, value string) error {
	disabled, err := e.el.Context(ctx).Eval(jsIsDisabled)
	if err == nil && disabled.Value.Bool() {
		return &driver.NotInteractableError{Reason: "element is disabled"}
	}
	if _, err := e.el.Context(ctx).Eval(jsSetValue, value); err != nil {
		return interaction(err)
	}
	return nil
}

func (e *Element) DispatchEvents(ctx context.Context, names ...string) error {
	_, err := e.el.Context(ctx).Eval(jsDispatchEvents, names)
	return err
}

// interaction maps rod's hit-test errors onto driver errors
func interaction(err error) error {
	var covered *rod.CoveredError
	if errors.As(err, &covered) {
		desc := "<unknown>"
		if covered.Element != nil {
			desc = (&Element{el: covered.Element}).Describe()
		}
		return &driver.InterceptedError{Interceptor: desc}
	}
	var invisible *rod.InvisibleShapeError
	if errors.As(err, &invisible) {
		return &driver.NotInteractableError{Reason: "element has no visible shape"}
	}
	var noPointer *rod.NoPointerEventsError
	if errors.As(err, &noPointer) {
		return &driver.NotInteractableError{Reason: "element ignores pointer events"}
	}
	return err
}
