package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openvlab/openvlab/pkg/mgmt"
	"github.com/openvlab/openvlab/pkg/runner"
	"github.com/openvlab/openvlab/pkg/stores"
	"github.com/openvlab/openvlab/pkg/telemetry"
)

// RemoteControl is the per-machine command channel the environment uses
// inside jobs and undo steps. The lifecycle core never drives it
// algorithmically; it only sequences calls to it.
type RemoteControl interface {
	// WaitReady blocks until the machine accepts connections or the
	// context expires.
	WaitReady(ctx context.Context) error

	// StartService and StopService control a named system service.
	StartService(ctx context.Context, name string) error
	StopService(ctx context.Context, name string) error

	// RunScript uploads and executes a local script on the machine.
	RunScript(ctx context.Context, localPath string) error

	// Download copies a remote file or directory tree to a local path.
	Download(ctx context.Context, remotePath, localPath string) error
}

// Snapshotter captures and reverts point-in-time snapshots of the
// environment's persistent disks. It must only be invoked while the
// environment is quiesced.
type Snapshotter interface {
	Capture(ctx context.Context, name string) error
	Revert(ctx context.Context, name string) error
}

// Machine is one addressable member of the environment.
type Machine struct {
	// Name is the machine's name as known to the environment.
	Name string

	// Remote is the machine's command channel.
	Remote RemoteControl

	// Services are the machine's managed services, stopped during
	// quiesce and restarted on rollback. For the engine this is the
	// management service; for hosts, the virtualization services.
	Services []string

	// DeployScripts are provisioning scripts run on first deploy.
	DeployScripts []string

	// ArtifactPaths are remote paths collected into the artifact
	// directory.
	ArtifactPaths []string
}

// Phase describes where the environment stands in a snapshot transaction.
type Phase string

const (
	PhaseRunning   Phase = "running"
	PhaseQuiescing Phase = "quiescing"
	PhaseCaptured  Phase = "captured"
	PhaseRestoring Phase = "restoring"
)

// Environment is the live prefix: one engine machine, its hypervisor
// hosts, and the collaborators that act on them. It is an explicit struct
// passed to every operation; there is no process-wide instance.
type Environment struct {
	Engine *Machine
	Hosts  []*Machine

	api        mgmt.Client
	controller *Controller
	runner     *runner.Runner
	snapshots  Snapshotter
	store      stores.Store
	tracer     *telemetry.Tracer
	log        zerolog.Logger
	metrics    *telemetry.Metrics

	mu    sync.Mutex
	phase Phase
}

// EnvironmentDeps carries the collaborators an environment operates
// through. Store, Tracer, and Metrics may be nil.
type EnvironmentDeps struct {
	API        mgmt.Client
	Controller *Controller
	Runner     *runner.Runner
	Snapshots  Snapshotter
	Store      stores.Store
	Tracer     *telemetry.Tracer
	Metrics    *telemetry.Metrics
	Log        zerolog.Logger
}

// NewEnvironment assembles an environment from its machines and
// collaborators.
func NewEnvironment(engine *Machine, hosts []*Machine, deps EnvironmentDeps) (*Environment, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine machine is required")
	}
	if deps.API == nil {
		return nil, fmt.Errorf("management API client is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("activation controller is required")
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("job runner is required")
	}
	return &Environment{
		Engine:     engine,
		Hosts:      hosts,
		api:        deps.API,
		controller: deps.Controller,
		runner:     deps.Runner,
		snapshots:  deps.Snapshots,
		store:      deps.Store,
		tracer:     deps.Tracer,
		log:        deps.Log.With().Str("component", "environment").Logger(),
		metrics:    deps.Metrics,
		phase:      PhaseRunning,
	}, nil
}

// Phase returns the environment's current transaction phase.
func (e *Environment) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Environment) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// machines returns the engine plus every host.
func (e *Environment) machines() []*Machine {
	all := make([]*Machine, 0, len(e.Hosts)+1)
	all = append(all, e.Engine)
	all = append(all, e.Hosts...)
	return all
}

// span starts a tracing span when a tracer is wired, returning a closer
// that records the operation's error.
func (e *Environment) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if e.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, sp := e.tracer.StartSpan(ctx, name, attrs...)
	return ctx, func(err error) { telemetry.EndSpan(sp, err) }
}

// Activate brings the whole environment up: waits for every machine to be
// reachable, activates all hosts, then all storage domains masters-first.
func (e *Environment) Activate(ctx context.Context) error {
	ctx, end := e.span(ctx, "environment.activate")
	var err error
	defer func() { end(err) }()

	if err = e.waitAllReady(ctx); err != nil {
		return err
	}
	e.log.Info().Msg("all machines reachable")

	if err = e.controller.ActivateAllHosts(ctx); err != nil {
		return err
	}
	e.log.Info().Msg("hosts activated")

	if err = e.controller.ActivateAllStorageDomains(ctx); err != nil {
		return err
	}
	e.log.Info().Msg("storage domains activated")
	return nil
}

// Deactivate quiesces the managed resources: storage domains masters-last,
// then all hosts.
func (e *Environment) Deactivate(ctx context.Context) error {
	ctx, end := e.span(ctx, "environment.deactivate")
	var err error
	defer func() { end(err) }()

	if err = e.controller.DeactivateAllStorageDomains(ctx); err != nil {
		return err
	}
	err = e.controller.DeactivateAllHosts(ctx)
	return err
}

// Deploy waits for every machine to be reachable and runs each machine's
// provisioning scripts, fanned out across the runner.
func (e *Environment) Deploy(ctx context.Context) error {
	ctx, end := e.span(ctx, "environment.deploy")

	jobs := make([]runner.NamedJob, 0, len(e.machines()))
	for _, m := range e.machines() {
		m := m
		jobs = append(jobs, runner.NamedJob{
			Name: "deploy " + m.Name,
			Run: func(ctx context.Context) error {
				if err := m.Remote.WaitReady(ctx); err != nil {
					return fmt.Errorf("%s not reachable: %w", m.Name, err)
				}
				for _, script := range m.DeployScripts {
					if err := m.Remote.RunScript(ctx, script); err != nil {
						return fmt.Errorf("%s on %s: %w", script, m.Name, err)
					}
				}
				return nil
			},
		})
	}

	err := e.recordRun(ctx, stores.RunKindDeploy, func(ctx context.Context) error {
		return e.runner.Run(ctx, jobs).Err()
	})
	end(err)
	return err
}

// waitAllReady blocks until every machine accepts connections, checking
// them concurrently.
func (e *Environment) waitAllReady(ctx context.Context) error {
	jobs := make([]runner.NamedJob, 0, len(e.machines()))
	for _, m := range e.machines() {
		m := m
		jobs = append(jobs, runner.NamedJob{
			Name: "wait " + m.Name,
			Run:  m.Remote.WaitReady,
		})
	}
	return e.runner.Run(ctx, jobs).Err()
}

// recordRun wraps an operation with a run row in the store when one is
// wired. The operation's error is returned unchanged either way.
func (e *Environment) recordRun(ctx context.Context, kind stores.RunKind, op func(ctx context.Context) error) error {
	if e.store == nil {
		return op(ctx)
	}
	run := stores.NewRun(kind)
	if err := e.store.CreateRun(ctx, run); err != nil {
		e.log.Warn().Err(err).Msg("failed to record run start")
		return op(ctx)
	}
	err := op(ctx)
	status := stores.RunStatusCompleted
	var msg *string
	if err != nil {
		status = stores.RunStatusFailed
		s := err.Error()
		msg = &s
	}
	if serr := e.store.FinishRun(ctx, run.ID, status, msg); serr != nil {
		e.log.Warn().Err(serr).Msg("failed to record run result")
	}
	return err
}
