package lifecycle

import (
	"context"
	"time"
)

// Default convergence bounds, mirroring the short/long waits the original
// environment tooling used for hosts and storage pools.
const (
	DefaultShortWait    = 3 * time.Minute
	DefaultLongWait     = 10 * time.Minute
	DefaultPollInterval = 3 * time.Second
)

// waitFor polls check until it reports true, a bounded timeout elapses, or
// the context is cancelled. check errors propagate immediately; a false
// result keeps the poll going. On timeout it returns a *ConvergenceError.
func (c *Controller) waitFor(ctx context.Context, timeout time.Duration, entity, want string, check func(ctx context.Context) (bool, error)) error {
	started := time.Now()
	deadline := started.Add(timeout)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := check(ctx)
		if err != nil {
			return err
		}
		if ok {
			c.metrics.ObserveConvergence(entity, want, time.Since(started), false)
			c.log.Debug().
				Str("entity", entity).
				Str("state", want).
				Dur("waited", time.Since(started)).
				Msg("state converged")
			return nil
		}
		if time.Now().After(deadline) {
			c.metrics.ObserveConvergence(entity, want, time.Since(started), true)
			return &ConvergenceError{Entity: entity, Want: want, Waited: timeout}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
