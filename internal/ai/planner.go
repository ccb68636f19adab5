package ai

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/v0xg/screenpilot/internal/executor"
	"github.com/v0xg/screenpilot/internal/metrics"
)

const tracerName = "screenpilot/ai"

// Query is a planning request for the next batch
type Query struct {
	Task            string
	Screenshot      []byte
	ScreenshotMIME  string
	DOMDigest       string
	PreviousActions []executor.Action
	Phase           int
}

// ErrorQuery is a recovery request after a failed action
type ErrorQuery struct {
	Task            string
	Screenshot      []byte
	ScreenshotMIME  string
	DOMDigest       string
	PreviousActions []executor.Action
	LastAction      *executor.Action
	Error           string
	InterceptHint   string
}

// PlannerOptions bounds planner requests and responses
type PlannerOptions struct {
	MaxBatchSize      int
	HistoryWindow     int
	RequestsPerSecond float64
	Burst             int
}

// Planner turns observations into action batches through a Provider
type Planner struct {
	provider Provider
	opts     PlannerOptions
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewPlanner creates a planner. A zero RequestsPerSecond disables rate limiting.
func NewPlanner(provider Provider, opts PlannerOptions, m *metrics.Metrics, logger *zap.Logger) *Planner {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 3
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 3
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		provider: provider,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, opts.Burst),
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// ProcessQuery asks for the next batch. Phase 0 uses the cold-start prompt;
// later phases add the most recent actions.
func (p *Planner) ProcessQuery(ctx context.Context, q Query) (executor.Batch, error) {
	mode := "cold"
	user := buildUserPrompt(q.DOMDigest, q.Task)
	if q.Phase > 0 {
		mode = "continue"
		user = buildContinuePrompt(q.DOMDigest, q.Task, q.Phase, lastN(q.PreviousActions, p.opts.HistoryWindow))
	}
	return p.plan(ctx, mode, Prompt{
		System:    buildSystemPrompt(p.opts.MaxBatchSize),
		User:      user,
		Image:     q.Screenshot,
		ImageMIME: q.ScreenshotMIME,
	})
}

// HandleError asks for a recovery batch
func (p *Planner) HandleError(ctx context.Context, q ErrorQuery) (executor.Batch, error) {
	user := buildRecoveryPrompt(q.DOMDigest, q.Task, q.LastAction, q.Error, q.InterceptHint,
		lastN(q.PreviousActions, p.opts.HistoryWindow))
	return p.plan(ctx, "recovery", Prompt{
		System:    buildSystemPrompt(p.opts.MaxBatchSize),
		User:      user,
		Image:     q.Screenshot,
		ImageMIME: q.ScreenshotMIME,
	})
}

func (p *Planner) plan(ctx context.Context, mode string, prompt Prompt) (batch executor.Batch, err error) {
	ctx, span := p.tracer.Start(ctx, "ai.plan", trace.WithAttributes(
		attribute.String("screenpilot.prompt_mode", mode),
		attribute.String("screenpilot.provider", p.provider.Name()),
		attribute.Bool("screenpilot.has_image", len(prompt.Image) > 0),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("screenpilot.batch_size", len(batch)))
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for model rate limit: %w", err)
	}

	start := time.Now()
	raw, err := p.provider.Complete(ctx, prompt)
	if err != nil {
		p.metrics.ObserveModelCall(mode, "error", time.Since(start))
		return nil, fmt.Errorf("%s model call: %w", mode, err)
	}

	batch, err = DecodeBatch(raw)
	if err != nil {
		p.metrics.ObserveModelCall(mode, "malformed", time.Since(start))
		p.logger.Warn("model returned malformed output", zap.String("mode", mode), zap.Error(err))
		return nil, err
	}
	p.metrics.ObserveModelCall(mode, "ok", time.Since(start))

	if len(batch) > p.opts.MaxBatchSize {
		p.logger.Warn("model exceeded the batch size, truncating",
			zap.Int("returned", len(batch)),
			zap.Int("max", p.opts.MaxBatchSize))
		batch = batch[:p.opts.MaxBatchSize]
	}

	p.logger.Debug("planned batch", zap.String("mode", mode), zap.Int("actions", len(batch)))
	return batch, nil
}

func lastN(actions []executor.Action, n int) []executor.Action {
	if len(actions) <= n {
		return actions
	}
	return actions[len(actions)-n:]
}
