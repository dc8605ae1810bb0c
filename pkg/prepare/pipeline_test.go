package prepare

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openvlab/openvlab/pkg/envcfg"
	"github.com/openvlab/openvlab/pkg/runner"
)

// Mock command runner for testing
type mockCommands struct {
	mu       sync.Mutex
	invoked  [][]string
	failures map[string]error
	onRun    func(name string, args []string)
}

func newMockCommands() *mockCommands {
	return &mockCommands{failures: make(map[string]error)}
}

func (m *mockCommands) run(ctx context.Context, name string, args ...string) error {
	m.mu.Lock()
	m.invoked = append(m.invoked, append([]string{name}, args...))
	onRun := m.onRun
	err := m.failures[name]
	m.mu.Unlock()
	if onRun != nil {
		onRun(name, args)
	}
	return err
}

func (m *mockCommands) invocations() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.invoked))
	copy(out, m.invoked)
	return out
}

func testConfig(t *testing.T) envcfg.Prepare {
	t.Helper()
	base := t.TempDir()
	return envcfg.Prepare{
		RepoDir:    filepath.Join(base, "repo"),
		SyncConfig: filepath.Join(base, "reposync.conf"),
		Repos:      []string{"upstream-el9"},
		Builds: []envcfg.Build{
			{
				Name:      "engine",
				Script:    "build-engine.sh",
				SourceDir: filepath.Join(base, "src-engine"),
				OutputDir: filepath.Join(base, "out-engine"),
			},
			{
				Name:      "vdsm",
				Script:    "build-vdsm.sh",
				SourceDir: filepath.Join(base, "src-vdsm"),
				OutputDir: filepath.Join(base, "out-vdsm"),
			},
		},
		Dists: []string{"el9"},
	}
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("pkg"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunExecutesSyncAndBuilds(t *testing.T) {
	cfg := testConfig(t)
	cmds := newMockCommands()

	p := NewPipeline(cfg, runner.New(zerolog.Nop(), nil), nil, zerolog.Nop())
	p.SetCommandRunner(cmds.run)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	var names []string
	for _, inv := range cmds.invocations() {
		names = append(names, inv[0])
	}
	want := map[string]bool{"reposync": false, "build-engine.sh": false, "build-vdsm.sh": false}
	for _, n := range names {
		want[n] = true
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("command %q never invoked (got %v)", n, names)
		}
	}
}

func TestRunAggregatesFailuresWithoutCancellingSiblings(t *testing.T) {
	cfg := testConfig(t)
	cmds := newMockCommands()
	buildErr := errors.New("compilation failed")
	cmds.failures["build-engine.sh"] = buildErr

	p := NewPipeline(cfg, runner.New(zerolog.Nop(), nil), nil, zerolog.Nop())
	p.SetCommandRunner(cmds.run)

	err := p.Run(context.Background())
	var batchErr *runner.BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected *BatchError, got %v", err)
	}
	if !errors.Is(err, buildErr) {
		t.Error("BatchError does not unwrap to the build failure")
	}

	// The failing build must not stop the sync or the sibling build.
	ran := map[string]bool{}
	for _, inv := range cmds.invocations() {
		ran[inv[0]] = true
	}
	if !ran["reposync"] || !ran["build-vdsm.sh"] {
		t.Errorf("siblings did not run to completion: %v", ran)
	}
}

func TestRunMergesBuildOutputsAndSyncedPackages(t *testing.T) {
	cfg := testConfig(t)
	cmds := newMockCommands()

	p := NewPipeline(cfg, runner.New(zerolog.Nop(), nil), nil, zerolog.Nop())
	cmds.onRun = func(name string, args []string) {
		switch name {
		case "reposync":
			writeFile(t, filepath.Join(p.syncDir(), "upstream-el9", "base-libs.rpm"))
		case "build-engine.sh":
			writeFile(t, filepath.Join(cfg.Builds[0].OutputDir, "el9", "engine.rpm"))
			writeFile(t, filepath.Join(cfg.Builds[0].OutputDir, "el9", "engine.log"))
		case "build-vdsm.sh":
			writeFile(t, filepath.Join(cfg.Builds[1].OutputDir, "el9", "vdsm.rpm"))
		}
	}
	p.SetCommandRunner(cmds.run)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	dist := filepath.Join(cfg.RepoDir, "el9")
	for _, rpm := range []string{"base-libs.rpm", "engine.rpm", "vdsm.rpm"} {
		if _, err := os.Stat(filepath.Join(dist, rpm)); err != nil {
			t.Errorf("merged repository missing %s: %v", rpm, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dist, "engine.log")); err == nil {
		t.Error("non-package file leaked into merged repository")
	}
}

func TestMergeFiltersByDist(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dists = []string{"el9", "el10"}

	p := NewPipeline(cfg, runner.New(zerolog.Nop(), nil), nil, zerolog.Nop())
	writeFile(t, filepath.Join(cfg.Builds[0].OutputDir, "el9", "engine-el9.rpm"))
	writeFile(t, filepath.Join(cfg.Builds[0].OutputDir, "el10", "engine-el10.rpm"))

	if err := p.merge(); err != nil {
		t.Fatalf("merge() = %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.RepoDir, "el9", "engine-el9.rpm")); err != nil {
		t.Errorf("el9 repository missing its package: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.RepoDir, "el9", "engine-el10.rpm")); err == nil {
		t.Error("el10 package leaked into el9 repository")
	}
	if _, err := os.Stat(filepath.Join(cfg.RepoDir, "el10", "engine-el10.rpm")); err != nil {
		t.Errorf("el10 repository missing its package: %v", err)
	}
}

func TestRunWithNothingConfigured(t *testing.T) {
	cfg := envcfg.Prepare{RepoDir: t.TempDir()}
	p := NewPipeline(cfg, runner.New(zerolog.Nop(), nil), nil, zerolog.Nop())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() with nothing to do = %v", err)
	}
}

func TestRunWithoutRepoDir(t *testing.T) {
	p := NewPipeline(envcfg.Prepare{}, runner.New(zerolog.Nop(), nil), nil, zerolog.Nop())
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error without a repository directory")
	}
}
