package executor

import "context"

// ActionObserver records per-action results
type ActionObserver interface {
	ObserveAction(action, result string)
}

type meteredPerformer struct {
	next Performer
	obs  ActionObserver
}

// WithObserver reports every Execute result to obs. Results are "ok" or
// the error kind.
func WithObserver(p Performer, obs ActionObserver) Performer {
	if obs == nil {
		return p
	}
	return &meteredPerformer{next: p, obs: obs}
}

func (m *meteredPerformer) Execute(ctx context.Context, a Action) (Result, error) {
	res, err := m.next.Execute(ctx, a)
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	m.obs.ObserveAction(a.Name(), result)
	return res, err
}
