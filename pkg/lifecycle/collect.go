package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openvlab/openvlab/pkg/runner"
	"github.com/openvlab/openvlab/pkg/stores"
)

// CollectArtifacts downloads every machine's artifact paths (logs, cores,
// reports) into per-machine subdirectories of outputDir. Collection is
// fanned out across the runner; per-machine failures are aggregated, and a
// failing machine does not stop the others.
func (e *Environment) CollectArtifacts(ctx context.Context, outputDir string) error {
	ctx, end := e.span(ctx, "environment.collect")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		end(err)
		return fmt.Errorf("creating output dir: %w", err)
	}

	jobs := make([]runner.NamedJob, 0, len(e.machines()))
	for _, m := range e.machines() {
		m := m
		jobs = append(jobs, runner.NamedJob{
			Name: "collect " + m.Name,
			Run: func(ctx context.Context) error {
				dest := filepath.Join(outputDir, m.Name)
				if err := os.MkdirAll(dest, 0o755); err != nil {
					return err
				}
				for _, remote := range m.ArtifactPaths {
					local := filepath.Join(dest, filepath.Base(remote))
					if err := m.Remote.Download(ctx, remote, local); err != nil {
						return fmt.Errorf("collecting %s from %s: %w", remote, m.Name, err)
					}
				}
				return nil
			},
		})
	}

	err := e.recordRun(ctx, stores.RunKindCollect, func(ctx context.Context) error {
		return e.runner.Run(ctx, jobs).Err()
	})
	end(err)
	return err
}
