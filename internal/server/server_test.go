package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/v0xg/screenpilot/internal/ai"
	"github.com/v0xg/screenpilot/internal/config"
	"github.com/v0xg/screenpilot/internal/driver/drivertest"
	"github.com/v0xg/screenpilot/internal/executor"
	"github.com/v0xg/screenpilot/internal/observe"
	"github.com/v0xg/screenpilot/internal/task"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type fakeTasks struct {
	startErr error
	closeErr error
	status   *task.Status
	started  []string
}

func (f *fakeTasks) StartTask(query string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, query)
	return "task-1", nil
}

func (f *fakeTasks) CloseTask() error { return f.closeErr }

func (f *fakeTasks) Status(int) (task.Status, bool) {
	if f.status == nil {
		return task.Status{}, false
	}
	return *f.status, true
}

type fakePlanner struct {
	mu        sync.Mutex
	batch     executor.Batch
	err       error
	queries   []ai.Query
	recovered []ai.ErrorQuery
}

func (p *fakePlanner) ProcessQuery(_ context.Context, q ai.Query) (executor.Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, q)
	return p.batch, p.err
}

func (p *fakePlanner) HandleError(_ context.Context, q ai.ErrorQuery) (executor.Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recovered = append(p.recovered, q)
	return p.batch, p.err
}

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

func dataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.NewRegistry()
	}
	return New(config.Default(), deps, nil)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Deps{})
	for _, path := range []string{"/health", "/api/health", "/extension/health"} {
		w := do(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), "Server is running")
	}
}

func TestConfigReportsModel(t *testing.T) {
	s := newTestServer(t, Deps{})
	w := do(t, s, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "claude", body["provider"])
	assert.EqualValues(t, 3, body["maxBatchSize"])
}

func TestStartTask(t *testing.T) {
	tasks := &fakeTasks{}
	s := newTestServer(t, Deps{Tasks: tasks})

	w := do(t, s, http.MethodPost, "/api/startTask", gin.H{"query": "  find shoes  "})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"taskId":"task-1"}`, w.Body.String())
	assert.Equal(t, []string{"find shoes"}, tasks.started)

	w = do(t, s, http.MethodPost, "/api/startTask", gin.H{"query": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	tasks.startErr = task.ErrTaskActive
	w = do(t, s, http.MethodPost, "/api/startTask", gin.H{"query": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCloseTask(t *testing.T) {
	tasks := &fakeTasks{closeErr: task.ErrNoTask}
	s := newTestServer(t, Deps{Tasks: tasks})

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/api/closeTask", nil).Code)

	tasks.closeErr = errors.New("browser hung")
	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodPost, "/api/closeTask", nil).Code)

	tasks.closeErr = nil
	w := do(t, s, http.MethodPost, "/api/closeTask", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Browser closed")
}

func TestStatus(t *testing.T) {
	tasks := &fakeTasks{}
	s := newTestServer(t, Deps{Tasks: tasks})

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/status", nil).Code)

	tasks.status = &task.Status{
		ID:          "task-1",
		Query:       "find shoes",
		Phase:       4,
		State:       "Aborted",
		AbortReason: task.ReasonErrorBudget,
		Recent:      []executor.Action{executor.Click("go", executor.SelectorID)},
	}
	w := do(t, s, http.MethodGet, "/api/status?recent=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Aborted", body["state"])
	assert.Equal(t, "error budget", body["abortReason"])
	assert.EqualValues(t, 4, body["phase"])
	assert.Equal(t, false, body["completed"])
	assert.Len(t, body["recentActions"], 1)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/status?recent=x", nil).Code)
}

func TestExtensionProcessQuery(t *testing.T) {
	planner := &fakePlanner{batch: executor.Batch{
		executor.Fill("q", executor.SelectorID, "shoes"),
		executor.Click("go", executor.SelectorID).EndingPhase(),
	}}
	s := newTestServer(t, Deps{Planner: planner})

	w := do(t, s, http.MethodPost, "/extension/processQuery", gin.H{
		"screenshotDataUrl": dataURL(),
		"query":             "search for shoes",
		"htmlSnippet":       `<html><head><title>Shop</title></head><body><input id="q"><button id="go">Go</button></body></html>`,
		"previousActions":   []executor.Action{executor.Navigate("https://shop.test").EndingPhase()},
		"phase":             1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "fillInput", out[0]["action"])
	assert.Equal(t, true, out[1]["phaseCompleted"])

	require.Len(t, planner.queries, 1)
	q := planner.queries[0]
	assert.Equal(t, pngBytes, q.Screenshot)
	assert.Equal(t, "image/png", q.ScreenshotMIME)
	assert.Equal(t, 1, q.Phase)
	assert.Contains(t, q.DOMDigest, `<meta title="Shop">`)
	assert.Contains(t, q.DOMDigest, `<button id="go">Go</button>`)
	require.Len(t, q.PreviousActions, 1)
	assert.Equal(t, "https://shop.test", q.PreviousActions[0].URL)
}

func TestExtensionProcessQueryRejectsBadInput(t *testing.T) {
	planner := &fakePlanner{}
	s := newTestServer(t, Deps{Planner: planner})

	w := do(t, s, http.MethodPost, "/extension/processQuery", gin.H{"query": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/extension/processQuery", gin.H{"query": "x", "screenshotDataUrl": "https://example.com/a.png"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid screenshot data format")

	assert.Empty(t, planner.queries)
}

func TestExtensionHandleError(t *testing.T) {
	planner := &fakePlanner{batch: executor.Batch{executor.Click(".promo-close", executor.SelectorCSS)}}
	s := newTestServer(t, Deps{Planner: planner})

	w := do(t, s, http.MethodPost, "/extension/handleError", gin.H{
		"screenshotDataUrl": dataURL(),
		"query":             "buy shoes",
		"lastAction":        executor.Click("buy", executor.SelectorID),
		"error":             `Element is not clickable. Other element would receive the click: <div class="promo-overlay modal">`,
		"htmlSnippet":       `<meta title="Shop"><button id="buy">Buy</button>`,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, planner.recovered, 1)
	q := planner.recovered[0]
	assert.Equal(t, "buy", q.LastAction.Target.Selector)
	assert.Contains(t, q.InterceptHint, ".promo-overlay")
	assert.Equal(t, `<meta title="Shop"><button id="buy">Buy</button>`, q.DOMDigest)

	w = do(t, s, http.MethodPost, "/extension/handleError", gin.H{
		"screenshotDataUrl": dataURL(),
		"query":             "buy shoes",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMalformedModelOutputIsBadGateway(t *testing.T) {
	planner := &fakePlanner{err: &ai.MalformedOutputError{Raw: "sure!", Err: errors.New("no json")}}
	s := newTestServer(t, Deps{Planner: planner})

	w := do(t, s, http.MethodPost, "/extension/processQuery", gin.H{"screenshotDataUrl": dataURL(), "query": "x"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	planner.err = errors.New("provider down")
	w = do(t, s, http.MethodPost, "/extension/processQuery", gin.H{"screenshotDataUrl": dataURL(), "query": "x"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestLiveProcessQueryUsesSessionPage(t *testing.T) {
	const url = "https://shop.test/"
	browser := drivertest.NewBrowser(map[string]string{
		url: `<html><head><title>Shop</title></head><body><input id="q" placeholder="Search"></body></html>`,
	})
	planner := &fakePlanner{batch: executor.Batch{executor.Fill("q", executor.SelectorID, "shoes")}}
	s := newTestServer(t, Deps{
		Planner:  planner,
		Browser:  browser,
		Observer: observe.NewBuilder(observe.DefaultLimits(), 0, nil),
	})

	w := do(t, s, http.MethodPost, "/api/processQuery", gin.H{"query": "search"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "no page yet")

	page, err := browser.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, page.Navigate(context.Background(), url))

	w = do(t, s, http.MethodPost, "/api/processQuery", gin.H{"query": "search"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, planner.queries, 1)
	assert.NotEmpty(t, planner.queries[0].Screenshot)
	assert.Contains(t, planner.queries[0].DOMDigest, `placeholder="Search"`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, Deps{})
	req := httptest.NewRequest(http.MethodOptions, "/extension/processQuery", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Less(t, w.Code, 300)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "screenpilot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := newTestServer(t, Deps{Gatherer: reg})
	w := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "screenpilot_test_total 1")
}

func TestDigestSnippet(t *testing.T) {
	limits := observe.Limits{MaxChars: 10, MaxElements: 5}

	out, err := digestSnippet("plain text that is long", limits)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)

	out, err = digestSnippet(`<meta title="x">`, limits)
	require.NoError(t, err)
	assert.Equal(t, `<meta title="x">`, out)

	out, err = digestSnippet("", limits)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecodeDataURL(t *testing.T) {
	data, mime, err := decodeDataURL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpg")))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpg"), data)
	assert.Equal(t, "image/jpeg", mime)

	_, _, err = decodeDataURL("data:image/png;base64,@@@")
	assert.ErrorIs(t, err, errNotDataURL)
	_, _, err = decodeDataURL("data:text/plain;base64,aGk=")
	assert.ErrorIs(t, err, errNotDataURL)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, Deps{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
