package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/v0xg/screenpilot/internal/ai"
	"github.com/v0xg/screenpilot/internal/browser"
	"github.com/v0xg/screenpilot/internal/config"
	"github.com/v0xg/screenpilot/internal/executor"
	"github.com/v0xg/screenpilot/internal/metrics"
	"github.com/v0xg/screenpilot/internal/observe"
	"github.com/v0xg/screenpilot/internal/recording"
	"github.com/v0xg/screenpilot/internal/task"
)

// app is the wired component graph shared by run and serve
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	browser  *browser.SessionManager
	planner  *ai.Planner
	observer *observe.Builder
	recorder *recording.Recorder // nil unless recording is enabled
	ctrl     *task.Controller
	manager  *task.Manager
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(registry)

	provider, err := ai.NewProvider(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("AI provider init failed: %w", err)
	}
	planner := ai.NewPlanner(provider, ai.PlannerOptions{
		MaxBatchSize:      cfg.Task.MaxBatchSize,
		HistoryWindow:     cfg.Task.HistoryWindow,
		RequestsPerSecond: cfg.Model.RequestsPerSecond,
		Burst:             cfg.Model.Burst,
	}, m, logger.Named("planner"))

	sessions := browser.NewSessionManager(cfg.Browser, logger)
	locator := executor.NewLocator(cfg.Task.LocatorTimeout, cfg.Task.PollInterval, logger.Named("locator"))
	exec := executor.New(sessions, locator, executor.Options{
		VisibleTimeout:    cfg.Task.VisibleTimeout,
		EnabledTimeout:    cfg.Task.EnabledTimeout,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
	}, logger.Named("executor"))

	a := &app{cfg: cfg, logger: logger, registry: registry, browser: sessions, planner: planner}

	var frames executor.FrameSink
	if cfg.Recording.Enabled {
		a.recorder = recording.NewRecorder(recording.OptionsFromConfig(cfg.Recording), logger)
		frames = a.recorder
	}
	runner := executor.NewRunner(executor.WithObserver(exec, m), sessions, frames, logger.Named("batch"))

	a.observer = observe.NewBuilder(observe.Limits{
		MaxChars:    cfg.Observation.MaxChars,
		MaxElements: cfg.Observation.MaxElements,
	}, cfg.Observation.ScreenshotMaxWidth, logger.Named("observe"))

	a.ctrl = task.NewController(planner, a.observer, runner, sessions, task.Options{
		MaxPhases:     cfg.Task.MaxPhases,
		ErrorBudget:   cfg.Task.ErrorBudget,
		HistoryWindow: cfg.Task.HistoryWindow,
	}, m, logger.Named("task"))
	a.manager = task.NewManager(a.ctrl, sessions, logger.Named("manager"))
	if a.recorder != nil {
		output := cfg.Recording.Output
		a.manager.RecordTo(a.recorder, func(taskID string) string {
			return taskRecordingPath(output, taskID)
		})
	}
	return a, nil
}

// taskRecordingPath puts the task id before the extension of the
// configured output, so session.gif becomes session-<id>.gif
func taskRecordingPath(output, taskID string) string {
	if output == "" {
		output = "session.gif"
	}
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + "-" + taskID + ext
}
