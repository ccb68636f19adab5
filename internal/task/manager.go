package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/v0xg/screenpilot/internal/executor"
)

var (
	// ErrTaskActive is returned when a task is started while another runs
	ErrTaskActive = errors.New("a task is already running")
	// ErrNoTask is returned when there is no task to close or report
	ErrNoTask = errors.New("no task")
)

// SessionBrowser is the shared browser session owned by the manager
type SessionBrowser interface {
	executor.Browser
	Close() error
}

// Recording collects the frames of one task at a time
type Recording interface {
	Save(path string) (int64, error)
	Reset()
}

// Manager runs at most one task at a time against the shared browser.
// The browser stays open after a task ends until CloseTask.
type Manager struct {
	ctrl    *Controller
	browser SessionBrowser
	logger  *zap.Logger

	rec     Recording
	recPath func(taskID string) string

	mu      sync.Mutex
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
	result  Result
	closing int
}

// NewManager creates a task manager
func NewManager(ctrl *Controller, browser SessionBrowser, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{ctrl: ctrl, browser: browser, logger: logger}
}

// RecordTo saves each finished task's frames to pathFor(taskID) and then
// empties rec for the next task. Call it before the first StartTask.
func (m *Manager) RecordTo(rec Recording, pathFor func(taskID string) string) {
	m.rec, m.recPath = rec, pathFor
}

// StartTask launches the loop for query in the background and returns its id
func (m *Manager) StartTask(query string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing > 0 || m.running() {
		return "", ErrTaskActive
	}

	if m.rec != nil {
		m.rec.Reset()
	}
	s := NewSession(uuid.NewString(), query)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.session, m.cancel, m.done = s, cancel, done

	go func() {
		defer close(done)
		defer cancel()
		res := m.ctrl.Run(ctx, s)
		m.saveRecording(s.ID)
		m.mu.Lock()
		if m.session == s {
			m.result = res
		}
		m.mu.Unlock()
	}()
	return s.ID, nil
}

func (m *Manager) saveRecording(taskID string) {
	if m.rec == nil {
		return
	}
	defer m.rec.Reset()
	path := m.recPath(taskID)
	size, err := m.rec.Save(path)
	if err != nil {
		m.logger.Warn("recording not saved", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if size > 0 {
		m.logger.Info("task recording saved", zap.String("task_id", taskID), zap.String("path", path))
	}
}

// running must be called with mu held
func (m *Manager) running() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// CloseTask cancels a running loop, waits for it, then closes the browser.
// StartTask fails with ErrTaskActive until CloseTask returns.
func (m *Manager) CloseTask() error {
	m.mu.Lock()
	m.closing++
	cancel, done, s := m.cancel, m.done, m.session
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.closing--
		m.mu.Unlock()
	}()

	if s == nil {
		if _, open := m.browser.Current(); !open {
			return ErrNoTask
		}
	}
	if cancel != nil {
		cancel()
		<-done
	}
	if err := m.browser.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	if s != nil {
		m.logger.Info("task closed", zap.String("task_id", s.ID), zap.Stringer("state", s.State()))
	}
	return nil
}

// Status reports the current or most recent task
func (m *Manager) Status(recent int) (Status, bool) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return Status{}, false
	}
	return s.Status(recent), true
}

// Result returns the terminal result of the most recent task once it ended
func (m *Manager) Result() (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.running() {
		return Result{}, false
	}
	return m.result, true
}

// Wait blocks until the current task ends or ctx is done
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return ErrNoTask
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
