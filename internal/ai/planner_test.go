package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/screenpilot/internal/executor"
)

type recordingProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []Prompt
}

func (p *recordingProvider) Name() string { return "fake/test" }

func (p *recordingProvider) Complete(_ context.Context, prompt Prompt) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	if len(p.responses) == 0 {
		return "[]", nil
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r, nil
}

func history(n int) []executor.Action {
	out := make([]executor.Action, n)
	for i := range out {
		out[i] = executor.Click(fmt.Sprintf("step-%d", i), executor.SelectorID)
	}
	return out
}

func TestProcessQueryColdStart(t *testing.T) {
	provider := &recordingProvider{responses: []string{
		`[{"action":"navigateToWebsite","params":{"website":"https://example.com"},"phaseCompleted":true}]`,
	}}
	planner := NewPlanner(provider, PlannerOptions{}, nil, nil)

	batch, err := planner.ProcessQuery(context.Background(), Query{Task: "find the docs", Phase: 0})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, executor.KindNavigate, batch[0].Kind)

	require.Len(t, provider.prompts, 1)
	prompt := provider.prompts[0]
	assert.Contains(t, prompt.System, "at most 3 actions")
	assert.Contains(t, prompt.User, "User request: find the docs")
	assert.Contains(t, prompt.User, "no page is open yet")
	assert.NotContains(t, prompt.User, "Most recent actions")
	assert.Empty(t, prompt.Image)
}

func TestProcessQueryContinuationBoundsHistory(t *testing.T) {
	provider := &recordingProvider{}
	planner := NewPlanner(provider, PlannerOptions{HistoryWindow: 3}, nil, nil)

	_, err := planner.ProcessQuery(context.Background(), Query{
		Task:            "checkout",
		Phase:           4,
		DOMDigest:       `<button id="pay">Pay</button>`,
		Screenshot:      []byte{0x89, 'P', 'N', 'G'},
		PreviousActions: history(10),
	})
	require.NoError(t, err)

	user := provider.prompts[0].User
	assert.Contains(t, user, "Current phase: 4")
	assert.Contains(t, user, `<button id="pay">Pay</button>`)
	assert.Equal(t, 3, strings.Count(user, `"action":"clickElement"`))
	assert.Contains(t, user, "step-9")
	assert.Contains(t, user, "step-7")
	assert.NotContains(t, user, "step-6")
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, provider.prompts[0].Image)
}

func TestHandleErrorPrompt(t *testing.T) {
	provider := &recordingProvider{}
	planner := NewPlanner(provider, PlannerOptions{}, nil, nil)
	failed := executor.Click("buy", executor.SelectorID)

	_, err := planner.HandleError(context.Background(), ErrorQuery{
		Task:            "buy the book",
		LastAction:      &failed,
		Error:           "clickElement ElementIntercepted: Other element would receive the click: <div class=\"modal\">",
		InterceptHint:   "SUGGESTED SELECTORS: CSS class: .modal",
		PreviousActions: history(5),
	})
	require.NoError(t, err)

	user := provider.prompts[0].User
	assert.Contains(t, user, "Original user request: buy the book")
	assert.Contains(t, user, `"selector":"buy"`)
	assert.Contains(t, user, "ElementIntercepted")
	assert.Contains(t, user, "SUGGESTED SELECTORS: CSS class: .modal")
	assert.Contains(t, user, "Do NOT retry the failed action")
	assert.NotContains(t, user, "step-1\"")
}

func TestPlannerTruncatesOversizedBatch(t *testing.T) {
	provider := &recordingProvider{responses: []string{`[
		{"action":"clickElement","params":{"selector":"a","selectorType":"id"}},
		{"action":"clickElement","params":{"selector":"b","selectorType":"id"}},
		{"action":"clickElement","params":{"selector":"c","selectorType":"id"}},
		{"action":"clickElement","params":{"selector":"d","selectorType":"id"}}
	]`}}
	planner := NewPlanner(provider, PlannerOptions{MaxBatchSize: 3}, nil, nil)

	batch, err := planner.ProcessQuery(context.Background(), Query{Task: "t", Phase: 1})
	require.NoError(t, err)
	assert.Len(t, batch, 3)
}

func TestPlannerErrors(t *testing.T) {
	planner := NewPlanner(&recordingProvider{responses: []string{"no idea"}}, PlannerOptions{}, nil, nil)
	_, err := planner.ProcessQuery(context.Background(), Query{Task: "t"})
	assert.ErrorIs(t, err, ErrMalformedOutput)

	boom := errors.New("overloaded")
	planner = NewPlanner(&recordingProvider{err: boom}, PlannerOptions{}, nil, nil)
	_, err = planner.ProcessQuery(context.Background(), Query{Task: "t"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrMalformedOutput)
}

func TestPlannerRespectsCancelledContext(t *testing.T) {
	planner := NewPlanner(&recordingProvider{}, PlannerOptions{RequestsPerSecond: 0.001, Burst: 1}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := planner.ProcessQuery(ctx, Query{Task: "t"})
	require.NoError(t, err)

	cancel()
	_, err = planner.ProcessQuery(ctx, Query{Task: "t"})
	assert.Error(t, err)
}
