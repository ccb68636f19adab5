package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/screenpilot/internal/ai"
	"github.com/v0xg/screenpilot/internal/driver"
	"github.com/v0xg/screenpilot/internal/driver/drivertest"
	"github.com/v0xg/screenpilot/internal/executor"
	"github.com/v0xg/screenpilot/internal/observe"
)

// blockingPlanner holds every call until its context ends
type blockingPlanner struct {
	entered chan struct{}
}

func (p *blockingPlanner) ProcessQuery(ctx context.Context, _ ai.Query) (executor.Batch, error) {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingPlanner) HandleError(ctx context.Context, _ ai.ErrorQuery) (executor.Batch, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type nopObserver struct{}

func (nopObserver) Capture(context.Context, driver.Page) (observe.Observation, error) {
	return observe.Observation{}, nil
}

func TestManagerRejectsConcurrentStart(t *testing.T) {
	browser := drivertest.NewBrowser(site)
	_, err := browser.Acquire(context.Background())
	require.NoError(t, err)

	planner := &blockingPlanner{entered: make(chan struct{}, 1)}
	runner := executor.NewRunner(executor.New(browser, nil, executor.Options{}, nil), browser, nil, nil)
	ctrl := NewController(planner, nopObserver{}, runner, browser, DefaultOptions(), nil, nil)
	m := NewManager(ctrl, browser, nil)

	id, err := m.StartTask("first")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case <-planner.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never reached the planner")
	}

	_, err = m.StartTask("second")
	assert.ErrorIs(t, err, ErrTaskActive)

	st, ok := m.Status(3)
	require.True(t, ok)
	assert.Equal(t, id, st.ID)
	assert.Equal(t, "Running", st.State)
	assert.False(t, st.Completed)
	_, finished := m.Result()
	assert.False(t, finished)

	require.NoError(t, m.CloseTask())
	assert.True(t, browser.Closed())

	st, _ = m.Status(3)
	assert.Equal(t, "Aborted", st.State)
	assert.Equal(t, ReasonCancelled, st.AbortReason)
	res, finished := m.Result()
	require.True(t, finished)
	assert.Equal(t, ReasonCancelled, res.Reason)

	// a new task may start once the previous one ended
	_, err = m.StartTask("third")
	require.NoError(t, err)
	require.NoError(t, m.CloseTask())
}

func TestManagerKeepsBrowserOpenAfterCompletion(t *testing.T) {
	h := newHarness(t, DefaultOptions(), true,
		ok(executor.Click("go", executor.SelectorID).CompletingTask()),
	)
	m := NewManager(h.ctrl, h.browser, nil)

	_, err := m.StartTask("press go")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))

	st, ok := m.Status(3)
	require.True(t, ok)
	assert.True(t, st.Completed)
	assert.NotNil(t, st.FinishedAt)
	assert.False(t, h.browser.Closed())

	require.NoError(t, m.CloseTask())
	assert.True(t, h.browser.Closed())
}

func TestManagerWithoutTask(t *testing.T) {
	m := NewManager(nil, drivertest.NewBrowser(nil), nil)
	assert.ErrorIs(t, m.CloseTask(), ErrNoTask)
	assert.ErrorIs(t, m.Wait(context.Background()), ErrNoTask)
	_, ok := m.Status(3)
	assert.False(t, ok)
}

// gatedBrowser holds Close until release is closed
type gatedBrowser struct {
	*drivertest.Browser
	closing chan struct{}
	release chan struct{}
}

func (b *gatedBrowser) Close() error {
	select {
	case b.closing <- struct{}{}:
	default:
	}
	<-b.release
	return b.Browser.Close()
}

func TestManagerRejectsStartWhileClosing(t *testing.T) {
	browser := &gatedBrowser{
		Browser: drivertest.NewBrowser(site),
		closing: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	_, err := browser.Acquire(context.Background())
	require.NoError(t, err)

	planner := &blockingPlanner{entered: make(chan struct{}, 1)}
	runner := executor.NewRunner(executor.New(browser, nil, executor.Options{}, nil), browser, nil, nil)
	ctrl := NewController(planner, nopObserver{}, runner, browser, DefaultOptions(), nil, nil)
	m := NewManager(ctrl, browser, nil)

	_, err = m.StartTask("first")
	require.NoError(t, err)
	select {
	case <-planner.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never reached the planner")
	}

	closed := make(chan error, 1)
	go func() { closed <- m.CloseTask() }()

	select {
	case <-browser.closing:
	case <-time.After(2 * time.Second):
		t.Fatal("CloseTask never reached the browser")
	}
	// the old loop has ended but the browser is still being torn down
	_, err = m.StartTask("too early")
	assert.ErrorIs(t, err, ErrTaskActive)

	close(browser.release)
	require.NoError(t, <-closed)
	assert.True(t, browser.Closed())

	_, err = m.StartTask("after close")
	require.NoError(t, err)
	require.NoError(t, m.CloseTask())
}

type savedRecording struct {
	mu     sync.Mutex
	saved  []string
	resets int
}

func (r *savedRecording) Save(path string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, path)
	return 1, nil
}

func (r *savedRecording) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
}

func TestManagerSavesRecordingPerTask(t *testing.T) {
	h := newHarness(t, DefaultOptions(), true,
		ok(executor.Click("go", executor.SelectorID).CompletingTask()),
	)
	rec := &savedRecording{}
	m := NewManager(h.ctrl, h.browser, nil)
	m.RecordTo(rec, func(id string) string { return "session-" + id + ".gif" })

	id, err := m.StartTask("press go")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))

	rec.mu.Lock()
	assert.Equal(t, []string{"session-" + id + ".gif"}, rec.saved)
	// once before the task starts and once after its frames are saved
	assert.Equal(t, 2, rec.resets)
	rec.mu.Unlock()

	require.NoError(t, m.CloseTask())
}
