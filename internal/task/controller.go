package task

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/v0xg/screenpilot/internal/ai"
	"github.com/v0xg/screenpilot/internal/driver"
	"github.com/v0xg/screenpilot/internal/executor"
	"github.com/v0xg/screenpilot/internal/metrics"
	"github.com/v0xg/screenpilot/internal/observe"
)

const tracerName = "screenpilot/task"

// Planner is the model round-trip used by the loop
type Planner interface {
	ProcessQuery(ctx context.Context, q ai.Query) (executor.Batch, error)
	HandleError(ctx context.Context, q ai.ErrorQuery) (executor.Batch, error)
}

// Observer captures the page state handed to the planner
type Observer interface {
	Capture(ctx context.Context, page driver.Page) (observe.Observation, error)
}

// BatchRunner executes one batch against the session page
type BatchRunner interface {
	Run(ctx context.Context, batch executor.Batch, history executor.History) executor.Outcome
}

// Options bounds the loop
type Options struct {
	MaxPhases     int
	ErrorBudget   int
	HistoryWindow int
}

// DefaultOptions returns the stock loop bounds
func DefaultOptions() Options {
	return Options{MaxPhases: 20, ErrorBudget: 5, HistoryWindow: 3}
}

// Result is the terminal state of one Run
type Result struct {
	State   State
	Reason  string
	Phases  int
	Actions int
}

func (r Result) Completed() bool { return r.State == StateCompleted }

// Controller drives a session until the model completes the task or a
// budget runs out
type Controller struct {
	planner  Planner
	observer Observer
	runner   BatchRunner
	browser  executor.Browser
	opts     Options
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewController creates a phase controller
func NewController(planner Planner, observer Observer, runner BatchRunner, browser executor.Browser,
	opts Options, m *metrics.Metrics, logger *zap.Logger) *Controller {
	d := DefaultOptions()
	if opts.MaxPhases <= 0 {
		opts.MaxPhases = d.MaxPhases
	}
	if opts.ErrorBudget <= 0 {
		opts.ErrorBudget = d.ErrorBudget
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = d.HistoryWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		planner:  planner,
		observer: observer,
		runner:   runner,
		browser:  browser,
		opts:     opts,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// phaseResult is what one loop iteration reports back
type phaseResult struct {
	completed bool
	failed    bool
	label     string
}

// Run executes the loop for s. It returns when the task completes, a
// budget is exhausted or ctx is cancelled.
func (c *Controller) Run(ctx context.Context, s *Session) Result {
	ctx, span := c.tracer.Start(ctx, "task.run", trace.WithAttributes(
		attribute.String("screenpilot.task_id", s.ID),
	))
	defer span.End()

	log := c.logger.With(zap.String("task_id", s.ID))
	log.Info("task started", zap.String("query", s.Query))
	s.start()
	c.metrics.TaskStarted()

	failures := 0
	for {
		var reason string
		switch {
		case ctx.Err() != nil:
			reason = ReasonCancelled
		case s.Phase() >= c.opts.MaxPhases:
			reason = ReasonPhaseLimit
		case failures >= c.opts.ErrorBudget:
			reason = ReasonErrorBudget
		}
		if reason != "" {
			s.abort(reason)
			span.SetStatus(codes.Error, reason)
			return c.finish(log, s, reason)
		}

		res := c.runPhase(ctx, log, s)
		c.metrics.ObservePhase(res.label)
		if res.completed {
			s.complete()
			span.SetStatus(codes.Ok, "")
			return c.finish(log, s, "")
		}
		if res.failed {
			failures++
		} else {
			failures = 0
		}
		s.advance()
	}
}

func (c *Controller) finish(log *zap.Logger, s *Session, reason string) Result {
	res := Result{State: s.State(), Reason: reason, Phases: s.Phase() + 1, Actions: s.Len()}
	if res.State == StateAborted {
		// the phase that tripped the limit never ran
		res.Phases = s.Phase()
		log.Warn("task aborted", zap.String("reason", reason), zap.Int("phases", res.Phases), zap.Int("actions", res.Actions))
	} else {
		log.Info("task completed", zap.Int("phases", res.Phases), zap.Int("actions", res.Actions))
	}
	c.metrics.TaskFinished(res.State.String(), reason)
	return res
}

// runPhase runs one observe, plan and execute round, plus at most one
// recovery round. A panic fails the phase instead of the process.
func (c *Controller) runPhase(ctx context.Context, log *zap.Logger, s *Session) (res phaseResult) {
	phase := s.Phase()
	ctx, span := c.tracer.Start(ctx, "task.phase", trace.WithAttributes(attribute.Int("screenpilot.phase", phase)))
	log = log.With(zap.Int("phase", phase))

	defer func() {
		if r := recover(); r != nil {
			log.Error("phase panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			res = phaseResult{failed: true, label: "Panic"}
		}
		span.SetAttributes(attribute.String("screenpilot.phase_outcome", res.label))
		span.End()
	}()

	obs := c.observe(ctx, log)
	batch, err := c.planner.ProcessQuery(ctx, ai.Query{
		Task:            s.Query,
		Screenshot:      obs.Screenshot,
		ScreenshotMIME:  "image/png",
		DOMDigest:       obs.DOMDigest,
		PreviousActions: s.Recent(c.opts.HistoryWindow),
		Phase:           phase,
	})
	if err != nil {
		log.Warn("planning failed, advancing phase", zap.Error(err))
		return phaseResult{failed: true, label: "PlanError"}
	}
	if len(batch) == 0 {
		log.Warn("model returned an empty batch, advancing phase")
		return phaseResult{failed: true, label: "EmptyBatch"}
	}

	log.Info("running batch", zap.Int("actions", len(batch)))
	outcome := c.runner.Run(ctx, batch, s)
	log.Info("batch finished", zap.Stringer("outcome", outcome))

	switch outcome.Kind {
	case executor.OutcomeCompleted:
		return phaseResult{completed: true, label: outcome.Kind.String()}
	case executor.OutcomeFailed:
		return c.recoverPhase(ctx, log, s, outcome)
	default:
		return phaseResult{label: outcome.Kind.String()}
	}
}

// recoverPhase asks for one alternative batch after a failure. A second
// failure is logged and the phase still advances.
func (c *Controller) recoverPhase(ctx context.Context, log *zap.Logger, s *Session, failed executor.Outcome) phaseResult {
	if ctx.Err() != nil {
		return phaseResult{failed: true, label: "Failed"}
	}
	obs := c.observe(ctx, log)
	batch, err := c.planner.HandleError(ctx, ai.ErrorQuery{
		Task:            s.Query,
		Screenshot:      obs.Screenshot,
		ScreenshotMIME:  "image/png",
		DOMDigest:       obs.DOMDigest,
		PreviousActions: s.Recent(c.opts.HistoryWindow),
		LastAction:      failed.FailedAction,
		Error:           failed.Err.Error(),
		InterceptHint:   failed.InterceptHint,
	})
	if err != nil {
		log.Warn("recovery planning failed", zap.Error(err))
		return phaseResult{failed: true, label: "Failed"}
	}
	if len(batch) == 0 {
		log.Warn("model returned an empty recovery batch")
		return phaseResult{failed: true, label: "Failed"}
	}

	log.Info("running recovery batch", zap.Int("actions", len(batch)))
	outcome := c.runner.Run(ctx, batch, s)
	log.Info("recovery batch finished", zap.Stringer("outcome", outcome))

	switch outcome.Kind {
	case executor.OutcomeCompleted:
		return phaseResult{completed: true, label: "Recovered"}
	case executor.OutcomeFailed:
		return phaseResult{failed: true, label: "RecoveryFailed"}
	default:
		return phaseResult{label: "Recovered"}
	}
}

// observe captures a fresh observation, or nothing before the browser starts
func (c *Controller) observe(ctx context.Context, log *zap.Logger) observe.Observation {
	page, ok := c.browser.Current()
	if !ok {
		log.Debug("no page open, planning without an observation")
		return observe.Observation{}
	}
	obs, err := c.observer.Capture(ctx, page)
	if err != nil {
		log.Warn("observation failed, planning without one", zap.Error(err))
	}
	return obs
}
