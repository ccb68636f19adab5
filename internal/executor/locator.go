package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/screenpilot/internal/driver"
)

const (
	DefaultLocateTimeout = 5 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond
)

// Locator resolves a Target to exactly one element, polling until it
// appears or the wait window closes
type Locator struct {
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewLocator creates a locator; zero durations select the defaults
func NewLocator(timeout, interval time.Duration, logger *zap.Logger) *Locator {
	if timeout <= 0 {
		timeout = DefaultLocateTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{timeout: timeout, interval: interval, logger: logger}
}

// Locate finds t on page. A zero timeout uses the locator default. When the
// window expires the error wraps ErrNotFound.
func (l *Locator) Locate(ctx context.Context, page driver.Page, t Target, timeout time.Duration) (driver.Element, error) {
	if timeout <= 0 {
		timeout = l.timeout
	}
	find, err := l.strategy(t)
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		el, err := find(lctx, page)
		if err == nil {
			l.logger.Debug("located element",
				zap.Stringer("target", t),
				zap.Int("attempts", attempts),
				zap.String("element", el.Describe()))
			return el, nil
		}
		if !errors.Is(err, driver.ErrNoMatch) && lctx.Err() == nil {
			return nil, err
		}

		select {
		case <-lctx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w after %s waiting for %s", ErrNotFound, timeout, t)
		case <-ticker.C:
		}
	}
}

type findFunc func(ctx context.Context, page driver.Page) (driver.Element, error)

func (l *Locator) strategy(t Target) (findFunc, error) {
	selector := strings.TrimSpace(t.Selector)
	switch t.Kind {
	case SelectorID:
		id := strings.TrimPrefix(selector, "#")
		return func(ctx context.Context, page driver.Page) (driver.Element, error) {
			return page.FindByID(ctx, id)
		}, nil
	case SelectorCSS:
		return func(ctx context.Context, page driver.Page) (driver.Element, error) {
			return page.FindCSS(ctx, t.Selector)
		}, nil
	case SelectorXPath:
		return func(ctx context.Context, page driver.Page) (driver.Element, error) {
			return page.FindXPath(ctx, t.Selector)
		}, nil
	case SelectorText:
		return func(ctx context.Context, page driver.Page) (driver.Element, error) {
			return findByText(ctx, page, selector)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported selector type %q", t.Kind)
	}
}

// findByText tries an exact-case match first, then a case-insensitive one.
// The last match in document order wins: repeated labels usually nest, and
// the innermost node is the one that handles the click.
func findByText(ctx context.Context, page driver.Page, text string) (driver.Element, error) {
	for _, fold := range []bool{false, true} {
		matches, err := page.FindAllByText(ctx, text, fold)
		if err != nil && !errors.Is(err, driver.ErrNoMatch) {
			return nil, err
		}
		if len(matches) > 0 {
			return matches[len(matches)-1], nil
		}
	}
	return nil, driver.ErrNoMatch
}
