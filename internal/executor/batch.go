package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/v0xg/screenpilot/internal/driver"
)

// OutcomeKind is the result class of running a batch
type OutcomeKind int

const (
	OutcomeAllSucceededNoSignal OutcomeKind = iota
	OutcomePhaseEnded
	OutcomeCompleted
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePhaseEnded:
		return "PhaseEnded"
	case OutcomeCompleted:
		return "Completed"
	case OutcomeFailed:
		return "Failed"
	default:
		return "AllSucceededNoSignal"
	}
}

// Outcome is the result of running one batch
type Outcome struct {
	Kind OutcomeKind
	// Executed counts attempted actions, including a failed one
	Executed int
	// Failed fields
	FailedAction  *Action
	Err           error
	InterceptHint string
}

func (o Outcome) String() string {
	if o.Kind == OutcomeFailed && o.FailedAction != nil {
		return fmt.Sprintf("%s at %s: %v", o.Kind, o.FailedAction, o.Err)
	}
	return fmt.Sprintf("%s after %d action(s)", o.Kind, o.Executed)
}

// Performer executes a single action
type Performer interface {
	Execute(ctx context.Context, a Action) (Result, error)
}

// History records every attempted action
type History interface {
	Append(a Action)
}

// FrameSink receives the screenshot taken after each successful action
type FrameSink interface {
	AddFrame(png []byte, point *driver.Point)
}

// Runner executes batches in order with the phase rules applied
type Runner struct {
	exec    Performer
	browser Browser
	frames  FrameSink
	logger  *zap.Logger
}

// NewRunner creates a batch runner. frames may be nil; screenshots are
// still taken so the driver state is settled before the next decision.
func NewRunner(exec Performer, browser Browser, frames FrameSink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{exec: exec, browser: browser, frames: frames, logger: logger}
}

// Run executes batch until it completes the task, ends the phase, fails,
// or runs out of actions
func (r *Runner) Run(ctx context.Context, batch Batch, history History) Outcome {
	planned := r.normalize(batch)
	run := planned.Truncated()
	if dropped := len(planned) - len(run); dropped > 0 {
		r.logger.Info("dropping actions after phase-ending action", zap.Int("dropped", dropped))
	}

	for i, a := range run {
		if err := ctx.Err(); err != nil {
			return Outcome{Kind: OutcomeFailed, Executed: i, FailedAction: &a, Err: err}
		}

		r.logger.Info("executing action",
			zap.Int("index", i+1),
			zap.Int("of", len(run)),
			zap.Stringer("action", a),
			zap.String("reasoning", a.Reasoning))

		res, err := r.exec.Execute(ctx, a)
		history.Append(a)
		if err != nil {
			r.logger.Warn("action failed",
				zap.Stringer("action", a),
				zap.Stringer("kind", KindOf(err)),
				zap.Error(err))
			return Outcome{
				Kind:          OutcomeFailed,
				Executed:      i + 1,
				FailedAction:  &a,
				Err:           err,
				InterceptHint: InterceptHint(err),
			}
		}

		r.capture(ctx, res)

		if a.Completes {
			return Outcome{Kind: OutcomeCompleted, Executed: i + 1}
		}
		if a.PhaseEnds {
			return Outcome{Kind: OutcomePhaseEnded, Executed: i + 1}
		}
	}
	return Outcome{Kind: OutcomeAllSucceededNoSignal, Executed: len(run)}
}

// normalize forces navigation to end the phase
func (r *Runner) normalize(batch Batch) Batch {
	out := make(Batch, len(batch))
	for i, a := range batch {
		if a.Kind == KindNavigate && !a.PhaseEnds {
			r.logger.Warn("navigation not flagged as phase-ending, treating it as one", zap.String("url", a.URL))
			a.PhaseEnds = true
		}
		out[i] = a
	}
	return out
}

func (r *Runner) capture(ctx context.Context, res Result) {
	page, ok := r.browser.Current()
	if !ok {
		return
	}
	shot, err := page.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("post-action screenshot failed", zap.Error(err))
		return
	}
	if r.frames != nil {
		r.frames.AddFrame(shot, res.Point)
	}
}
