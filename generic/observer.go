package generic

import "context"

// Observer is notified after every Record call, whatever the result.
// Implementations must not block for long and must not fail the request.
type Observer interface {
	Observe(ctx context.Context, scope Scope, out Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, scope Scope, out Outcome)

func (f ObserverFunc) Observe(ctx context.Context, scope Scope, out Outcome) {
	f(ctx, scope, out)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, scope Scope, out Outcome) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, scope, out)
		}
	}
}
