// Package task runs the observe, plan and execute loop for one natural
// language task at a time
package task

import (
	"sync"
	"time"

	"github.com/v0xg/screenpilot/internal/executor"
)

// State is the lifecycle state of a task session
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateAborted:
		return "Aborted"
	default:
		return "Idle"
	}
}

// Abort reasons
const (
	ReasonPhaseLimit  = "phase limit"
	ReasonErrorBudget = "error budget"
	ReasonCancelled   = "cancelled"
)

// Session is the mutable state of one task. It is safe for concurrent
// readers while the loop writes.
type Session struct {
	ID    string
	Query string

	mu          sync.RWMutex
	phase       int
	history     []executor.Action
	state       State
	abortReason string
	startedAt   time.Time
	finishedAt  time.Time
}

// NewSession creates an idle session
func NewSession(id, query string) *Session {
	return &Session{ID: id, Query: query}
}

// Append records an attempted action
func (s *Session) Append(a executor.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, a)
}

// Recent returns a copy of the last n actions
func (s *Session) Recent(n int) []executor.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	start := max(len(s.history)-n, 0)
	return append([]executor.Action(nil), s.history[start:]...)
}

// Len returns the number of attempted actions
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

func (s *Session) Phase() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Completed reports whether the model declared the task done
func (s *Session) Completed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateCompleted
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) AbortReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.abortReason
}

func (s *Session) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateRunning
	s.startedAt = time.Now()
}

func (s *Session) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase++
}

func (s *Session) complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateCompleted
	s.finishedAt = time.Now()
}

func (s *Session) abort(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateAborted
	s.abortReason = reason
	s.finishedAt = time.Now()
}

// Status is a point-in-time view of a session
type Status struct {
	ID          string            `json:"taskId"`
	Query       string            `json:"query"`
	Phase       int               `json:"phase"`
	State       string            `json:"state"`
	Completed   bool              `json:"completed"`
	AbortReason string            `json:"abortReason,omitempty"`
	Actions     int               `json:"actions"`
	Recent      []executor.Action `json:"recentActions"`
	StartedAt   time.Time         `json:"startedAt"`
	FinishedAt  *time.Time        `json:"finishedAt,omitempty"`
}

// Status snapshots the session, including the last n actions
func (s *Session) Status(n int) Status {
	recent := s.Recent(n)
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		ID:          s.ID,
		Query:       s.Query,
		Phase:       s.phase,
		State:       s.state.String(),
		Completed:   s.state == StateCompleted,
		AbortReason: s.abortReason,
		Actions:     len(s.history),
		Recent:      recent,
		StartedAt:   s.startedAt,
	}
	if !s.finishedAt.IsZero() {
		finished := s.finishedAt
		st.FinishedAt = &finished
	}
	return st
}
