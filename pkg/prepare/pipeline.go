// Package prepare builds the unified artifact repository for a prefix:
// upstream repository syncs and package builds run as one concurrent
// batch, and their outputs are merged into a single per-dist repository
// the environment installs from.
package prepare

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openvlab/openvlab/pkg/envcfg"
	"github.com/openvlab/openvlab/pkg/runner"
	"github.com/openvlab/openvlab/pkg/stores"
)

// CommandRunner executes an external command. It exists so tests can
// replace process execution; the default implementation shells out.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// ExecCommand is the default CommandRunner.
func ExecCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w\n%s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Pipeline schedules the build and sync jobs of an environment spec and
// merges their outputs into the unified artifact repository.
type Pipeline struct {
	cfg    envcfg.Prepare
	runner *runner.Runner
	exec   CommandRunner
	store  stores.Store
	log    zerolog.Logger
}

// NewPipeline creates a preparation pipeline. store may be nil; exec
// defaults to ExecCommand.
func NewPipeline(cfg envcfg.Prepare, r *runner.Runner, store stores.Store, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		runner: r,
		exec:   ExecCommand,
		store:  store,
		log:    log.With().Str("component", "prepare").Logger(),
	}
}

// SetCommandRunner replaces process execution, for tests.
func (p *Pipeline) SetCommandRunner(exec CommandRunner) {
	p.exec = exec
}

// Run executes every sync and build job concurrently, waits for all of
// them, and merges the outputs. Job failures are aggregated: a failing
// build does not cancel the repository sync, and vice versa.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.cfg.RepoDir == "" {
		return fmt.Errorf("no repository directory configured")
	}

	var jobs []runner.NamedJob
	if p.cfg.SyncConfig != "" && len(p.cfg.Repos) > 0 {
		jobs = append(jobs, runner.NamedJob{Name: "sync repositories", Run: p.syncRepos})
	}
	for _, b := range p.cfg.Builds {
		b := b
		jobs = append(jobs, runner.NamedJob{
			Name: "build " + b.Name,
			Run: func(ctx context.Context) error {
				return p.build(ctx, b)
			},
		})
	}
	if len(jobs) == 0 {
		p.log.Info().Msg("nothing to prepare")
		return nil
	}

	return p.recordRun(ctx, func(ctx context.Context) error {
		if err := p.runner.Run(ctx, jobs).Err(); err != nil {
			return err
		}
		return p.merge()
	})
}

// syncRepos mirrors the configured upstream repositories into the sync
// directory, newest packages only.
func (p *Pipeline) syncRepos(ctx context.Context) error {
	if err := os.MkdirAll(p.syncDir(), 0o755); err != nil {
		return err
	}

	args := []string{
		"--config=" + p.cfg.SyncConfig,
		"--download_path=" + p.syncDir(),
		"--newest-only",
		"--delete",
	}
	for _, repo := range p.cfg.Repos {
		args = append(args, "--repoid="+repo)
	}

	p.log.Info().Strs("repos", p.cfg.Repos).Msg("syncing upstream repositories")
	return p.exec(ctx, "reposync", args...)
}

// build invokes one build script with the source dir, output dir, and
// target dists, the way the build scripts expect their arguments.
func (p *Pipeline) build(ctx context.Context, b envcfg.Build) error {
	if err := os.MkdirAll(b.OutputDir, 0o755); err != nil {
		return err
	}

	args := []string{b.SourceDir, b.OutputDir}
	args = append(args, p.cfg.Dists...)

	p.log.Info().
		Str("name", b.Name).
		Str("source", b.SourceDir).
		Strs("dists", p.cfg.Dists).
		Msg("building packages")
	return p.exec(ctx, b.Script, args...)
}

func (p *Pipeline) recordRun(ctx context.Context, op func(ctx context.Context) error) error {
	if p.store == nil {
		return op(ctx)
	}
	run := stores.NewRun(stores.RunKindPrepare)
	if err := p.store.CreateRun(ctx, run); err != nil {
		p.log.Warn().Err(err).Msg("failed to record run start")
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
	if serr := p.store.FinishRun(ctx, run.ID, status, msg); serr != nil {
		p.log.Warn().Err(serr).Msg("failed to record run result")
	}
	return err
}
