package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openvlab/openvlab/pkg/mgmt"
	"github.com/openvlab/openvlab/pkg/rollback"
	"github.com/openvlab/openvlab/pkg/runner"
	"github.com/openvlab/openvlab/pkg/stores"
)

// CreateSnapshot captures a named point-in-time snapshot of the
// environment's persistent disks.
//
// The environment must be quiesced first: snapshotting under a running
// management service risks inconsistent on-disk state. The transaction
// deactivates storage domains and hosts, stops the engine's management
// service, stops the virtualization services on every host, and only then
// captures. Every quiesce step pushes its inverse onto a rollback stack;
// on any failure the stack is unwound in strict reverse order before the
// original failure is propagated, so the environment is never left
// partially quiesced.
//
// On success the stack is discarded and the environment stays quiesced for
// the caller to reactivate - unless restore is true, in which case the
// stack is unwound to bring everything back up immediately.
func (e *Environment) CreateSnapshot(ctx context.Context, name string, restore bool) error {
	if e.snapshots == nil {
		return fmt.Errorf("no snapshotter configured")
	}

	ctx, end := e.span(ctx, "environment.snapshot",
		attribute.String("snapshot", name),
		attribute.Bool("restore", restore),
	)
	started := time.Now()

	err := e.recordRun(ctx, stores.RunKindSnapshot, func(ctx context.Context) error {
		return e.snapshotTransaction(ctx, name, restore)
	})
	if err == nil {
		e.metrics.ObserveSnapshot(time.Since(started))
	}
	end(err)
	return err
}

func (e *Environment) snapshotTransaction(ctx context.Context, name string, restore bool) error {
	log := e.log.With().Str("snapshot", name).Logger()
	log.Info().Bool("restore", restore).Msg("creating snapshot")

	st := rollback.New(log)
	defer st.Release(context.WithoutCancel(ctx))

	e.setPhase(PhaseQuiescing)
	defer e.setPhase(PhaseRunning)

	fail := func(cause error) error {
		e.setPhase(PhaseRestoring)
		return e.abort(ctx, st, cause)
	}

	// Quiesce managed resources: domains masters-last, then hosts. Each
	// group's reactivation goes on the stack as soon as its deactivation
	// holds.
	if err := e.deactivateStorageDomainsForSnapshot(ctx, st); err != nil {
		return fail(err)
	}

	if err := e.controller.DeactivateAllHosts(ctx); err != nil {
		return fail(err)
	}
	st.Push("reactivate hosts", func(ctx context.Context) error {
		return e.controller.ActivateAllHosts(ctx)
	})

	// Stop the engine's management service.
	for _, svc := range e.Engine.Services {
		svc := svc
		if err := e.Engine.Remote.StopService(ctx, svc); err != nil {
			return fail(fmt.Errorf("stopping %s on %s: %w", svc, e.Engine.Name, err))
		}
		st.Push(fmt.Sprintf("restart %s on %s", svc, e.Engine.Name), func(ctx context.Context) error {
			return e.Engine.Remote.StartService(ctx, svc)
		})
	}

	// Stop the virtualization services on every host concurrently:
	// stopping services across many hosts is I/O-latency-bound and
	// independent per host. Undos are pushed from inside the jobs, which
	// is safe because the batch is joined before the stack is touched
	// again - and a stopped service gets its restart registered even
	// when a sibling host fails.
	if err := e.stopHostServices(ctx, st); err != nil {
		return fail(err)
	}

	e.log.Info().Msg("environment quiesced, capturing disks")
	if err := e.snapshots.Capture(ctx, name); err != nil {
		return fail(fmt.Errorf("capture failed: %w", err))
	}

	e.setPhase(PhaseCaptured)
	if e.store != nil {
		if err := e.store.SaveSnapshot(ctx, &stores.Snapshot{Name: name, TakenAt: time.Now(), Restored: restore}); err != nil {
			log.Warn().Err(err).Msg("failed to record snapshot")
		}
	}

	if restore {
		// The caller wants the environment back up right away; reuse the
		// quiesce undos instead of a separate activation path.
		e.setPhase(PhaseRestoring)
		steps := st.Len()
		if err := st.Unwind(ctx); err != nil {
			var undoErr *rollback.UndoError
			errors.As(err, &undoErr)
			failed := 0
			if undoErr != nil {
				failed = len(undoErr.Failures)
			}
			e.metrics.ObserveUnwind(steps, failed)
			return &AbortError{Cause: fmt.Errorf("snapshot %q captured but restore incomplete", name), Undo: undoErr}
		}
		e.metrics.ObserveUnwind(steps, 0)
		log.Info().Msg("snapshot captured and environment restored")
		return nil
	}

	st.Discard()
	log.Info().Msg("snapshot captured, environment left quiesced")
	return nil
}

// RevertSnapshot rolls the environment's disks back to a named snapshot
// and brings the whole environment back up.
func (e *Environment) RevertSnapshot(ctx context.Context, name string) error {
	if e.snapshots == nil {
		return fmt.Errorf("no snapshotter configured")
	}
	ctx, end := e.span(ctx, "environment.revert", attribute.String("snapshot", name))
	var err error
	defer func() { end(err) }()

	if err = e.snapshots.Revert(ctx, name); err != nil {
		return fmt.Errorf("reverting to snapshot %q: %w", name, err)
	}
	err = e.Activate(ctx)
	return err
}

// deactivateStorageDomainsForSnapshot deactivates every storage domain
// masters-last, pushing each group's reactivation onto the stack so the
// unwind reactivates masters before their dependents.
func (e *Environment) deactivateStorageDomainsForSnapshot(ctx context.Context, st *rollback.Stack) error {
	dcs, err := e.api.ListDataCenters(ctx)
	if err != nil {
		return err
	}
	for _, dc := range dcs {
		sds, err := e.api.ListStorageDomains(ctx, dc.ID)
		if err != nil {
			return err
		}
		var masters, others []mgmt.StorageDomain
		for _, sd := range sds {
			if sd.Master {
				masters = append(masters, sd)
			} else {
				others = append(others, sd)
			}
		}

		if err := e.controller.DeactivateStorageDomains(ctx, others); err != nil {
			return err
		}
		st.Push(fmt.Sprintf("reactivate storage domains of %s", dc.Name), func(ctx context.Context) error {
			return e.controller.ActivateStorageDomains(ctx, others)
		})

		if err := e.controller.DeactivateStorageDomains(ctx, masters); err != nil {
			return err
		}
		st.Push(fmt.Sprintf("reactivate master storage domains of %s", dc.Name), func(ctx context.Context) error {
			return e.controller.ActivateStorageDomains(ctx, masters)
		})
	}
	return nil
}

// stopHostServices stops every host's virtualization services through the
// runner, registering each successful stop's restart on the stack.
func (e *Environment) stopHostServices(ctx context.Context, st *rollback.Stack) error {
	var mu sync.Mutex

	jobs := make([]runner.NamedJob, 0, len(e.Hosts))
	for _, host := range e.Hosts {
		host := host
		jobs = append(jobs, runner.NamedJob{
			Name: "stop services on " + host.Name,
			Run: func(ctx context.Context) error {
				for _, svc := range host.Services {
					svc := svc
					if err := host.Remote.StopService(ctx, svc); err != nil {
						return fmt.Errorf("stopping %s on %s: %w", svc, host.Name, err)
					}
					mu.Lock()
					st.Push(fmt.Sprintf("restart %s on %s", svc, host.Name), func(ctx context.Context) error {
						return host.Remote.StartService(ctx, svc)
					})
					mu.Unlock()
				}
				return nil
			},
		})
	}
	return e.runner.Run(ctx, jobs).Err()
}

// abort unwinds the stack and wraps the triggering failure together with
// any undo failures.
func (e *Environment) abort(ctx context.Context, st *rollback.Stack, cause error) error {
	e.log.Error().Err(cause).Msg("snapshot transaction failed, rolling back")

	steps := st.Len()
	err := st.Unwind(context.WithoutCancel(ctx))
	var undoErr *rollback.UndoError
	if err != nil {
		errors.As(err, &undoErr)
	}
	failed := 0
	if undoErr != nil {
		failed = len(undoErr.Failures)
	}
	e.metrics.ObserveUnwind(steps, failed)

	return &AbortError{Cause: cause, Undo: undoErr}
}
