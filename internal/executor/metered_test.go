package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordedResults []string

func (r *recordedResults) ObserveAction(action, result string) {
	*r = append(*r, action+"="+result)
}

func TestWithObserverReportsResults(t *testing.T) {
	p := &scriptedPerformer{fail: map[string]error{
		"gone": &ActionError{Kind: ErrLocatorTimeout, Err: ErrNotFound},
		"boom": errors.New("websocket closed"),
	}}
	var got recordedResults
	metered := WithObserver(p, &got)

	ctx := context.Background()
	_, err := metered.Execute(ctx, Click("ok", SelectorID))
	assert.NoError(t, err)
	_, err = metered.Execute(ctx, Click("gone", SelectorID))
	assert.Error(t, err)
	_, _ = metered.Execute(ctx, Fill("boom", SelectorID, "x"))

	assert.Equal(t, recordedResults{
		"clickElement=ok",
		"clickElement=LocatorTimeout",
		"fillInput=DriverFailure",
	}, got)
	assert.Len(t, p.executed, 3)
}

func TestWithObserverNilIsPassThrough(t *testing.T) {
	p := &scriptedPerformer{}
	assert.Same(t, Performer(p), WithObserver(p, nil))
}
