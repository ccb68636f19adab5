package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/screenpilot/internal/driver"
)

// Browser gives the executor access to the session's page. Acquire may
// start the browser; Current never does.
type Browser interface {
	Current() (driver.Page, bool)
	Acquire(ctx context.Context) (driver.Page, error)
}

// Options configures execution behavior
type Options struct {
	VisibleTimeout    time.Duration
	EnabledTimeout    time.Duration
	NavigationTimeout time.Duration
}

// DefaultOptions returns the stock execution timeouts
func DefaultOptions() Options {
	return Options{
		VisibleTimeout:    3 * time.Second,
		EnabledTimeout:    3 * time.Second,
		NavigationTimeout: 30 * time.Second,
	}
}

// Result describes a successfully executed action
type Result struct {
	// Point is where the action landed, when it targeted an element
	Point *driver.Point
}

// Executor performs single actions against the session page
type Executor struct {
	browser Browser
	locator *Locator
	opts    Options
	logger  *zap.Logger
}

// New creates an executor
func New(browser Browser, locator *Locator, opts Options, logger *zap.Logger) *Executor {
	defaults := DefaultOptions()
	if opts.VisibleTimeout <= 0 {
		opts.VisibleTimeout = defaults.VisibleTimeout
	}
	if opts.EnabledTimeout <= 0 {
		opts.EnabledTimeout = defaults.EnabledTimeout
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = defaults.NavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if locator == nil {
		locator = NewLocator(0, 0, logger)
	}
	return &Executor{browser: browser, locator: locator, opts: opts, logger: logger}
}

// Execute runs one action. Every returned error is an *ActionError.
func (e *Executor) Execute(ctx context.Context, a Action) (Result, error) {
	if err := a.Validate(); err != nil {
		return Result{}, err
	}
	if a.Kind == KindNavigate {
		return Result{}, e.navigate(ctx, a)
	}

	page, ok := e.browser.Current()
	if !ok {
		return Result{}, &ActionError{
			Kind:   ErrBrowserNotInitialized,
			Action: a,
			Err:    fmt.Errorf("no page is open; navigate first"),
		}
	}

	switch a.Kind {
	case KindClick:
		return e.click(ctx, page, a)
	case KindFill:
		return e.fill(ctx, page, a)
	case KindScroll:
		return Result{}, e.scroll(ctx, page, a)
	case KindWait:
		return Result{}, e.wait(ctx, page, a)
	default:
		return Result{}, &ActionError{Kind: ErrUnsupportedAction, Action: a, Err: fmt.Errorf("unsupported action %q", a.Name())}
	}
}

func (e *Executor) navigate(ctx context.Context, a Action) error {
	page, err := e.browser.Acquire(ctx)
	if err != nil {
		return &ActionError{Kind: ErrBrowserNotInitialized, Action: a, Err: fmt.Errorf("start browser: %w", err)}
	}
	nctx, cancel := context.WithTimeout(ctx, e.opts.NavigationTimeout)
	defer cancel()
	if err := page.Navigate(nctx, a.URL); err != nil {
		return classify(a, fmt.Errorf("navigate to %s: %w", a.URL, err))
	}
	return nil
}

func (e *Executor) locate(ctx context.Context, page driver.Page, a Action) (driver.Element, error) {
	el, err := e.locator.Locate(ctx, page, a.Target, a.Timeout)
	if err != nil {
		return nil, classify(a, err)
	}
	return el, nil
}

func (e *Executor) click(ctx context.Context, page driver.Page, a Action) (Result, error) {
	el, err := e.locate(ctx, page, a)
	if err != nil {
		return Result{}, err
	}

	point := center(ctx, el)
	robustErr := e.robustClick(ctx, el)
	if robustErr != nil {
		e.logger.Debug("robust click failed, falling back to native click",
			zap.String("element", el.Describe()),
			zap.Error(robustErr))
		if err := el.Click(ctx); err != nil {
			return Result{}, classify(a, fmt.Errorf("%w (robust click: %w)", err, robustErr))
		}
	}
	return Result{Point: point}, nil
}

// robustClick centers the element, waits until it can be acted on, then
// fires a full mouse event sequence at whatever element is on top of its
// center point
func (e *Executor) robustClick(ctx context.Context, el driver.Element) error {
	if err := el.ScrollIntoCenter(ctx); err != nil {
		return err
	}
	if err := e.bounded(ctx, e.opts.VisibleTimeout, el.WaitVisible); err != nil {
		return err
	}
	if err := e.bounded(ctx, e.opts.EnabledTimeout, el.WaitEnabled); err != nil {
		return err
	}

	target := el
	top, same, err := el.ElementAtCenter(ctx)
	switch {
	case err != nil:
		e.logger.Debug("element at center unavailable", zap.Error(err))
	case !same && top != nil:
		e.logger.Info("another element covers the target, clicking it instead",
			zap.String("target", el.Describe()),
			zap.String("covering", top.Describe()))
		target = top
	}
	return target.DispatchMouseSequence(ctx)
}

func (e *Executor) bounded(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	bctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(bctx)
}

func (e *Executor) fill(ctx context.Context, page driver.Page, a Action) (Result, error) {
	el, err := e.locate(ctx, page, a)
	if err != nil {
		return Result{}, err
	}
	if err := el.ScrollIntoCenter(ctx); err != nil {
		e.logger.Debug("scroll before fill failed", zap.Error(err))
	}
	if err := el.Focus(ctx); err != nil {
		return Result{}, classify(a, fmt.Errorf("focus: %w", err))
	}
	if err := el.SetValue(ctx, a.Text); err != nil {
		return Result{}, classify(a, fmt.Errorf("set value: %w", err))
	}
	// controlled inputs only pick up the change through these events
	if err := el.DispatchEvents(ctx, "input", "change", "blur"); err != nil {
		return Result{}, classify(a, fmt.Errorf("dispatch input events: %w", err))
	}
	return Result{Point: center(ctx, el)}, nil
}

func (e *Executor) scroll(ctx context.Context, page driver.Page, a Action) error {
	el, err := e.locate(ctx, page, a)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoCenter(ctx); err != nil {
		e.logger.Warn("could not center element, continuing",
			zap.String("element", el.Describe()),
			zap.Error(err))
	}
	return nil
}

func (e *Executor) wait(ctx context.Context, page driver.Page, a Action) error {
	el, err := e.locate(ctx, page, a)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoCenter(ctx); err != nil {
		e.logger.Debug("could not center awaited element", zap.Error(err))
	}
	return nil
}

func center(ctx context.Context, el driver.Element) *driver.Point {
	p, err := el.Center(ctx)
	if err != nil {
		return nil
	}
	return &p
}
