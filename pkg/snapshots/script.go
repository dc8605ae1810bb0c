// Package snapshots provides disk snapshot drivers for the environment.
//
// The only driver is script-based: snapshot mechanics depend on the
// virtualization layer underneath the prefix (libvirt, cloud volumes),
// so the spec file points at a script and the driver invokes it with a
// verb and the snapshot name.
package snapshots

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// ScriptDriver captures and reverts snapshots by running an external
// script as `script capture <name>` and `script revert <name>`.
type ScriptDriver struct {
	script string
	log    zerolog.Logger
}

// NewScriptDriver creates a script-backed snapshot driver.
func NewScriptDriver(script string, log zerolog.Logger) (*ScriptDriver, error) {
	if script == "" {
		return nil, fmt.Errorf("snapshot script is required")
	}
	return &ScriptDriver{
		script: script,
		log:    log.With().Str("component", "snapshots").Logger(),
	}, nil
}

func (d *ScriptDriver) Capture(ctx context.Context, name string) error {
	return d.run(ctx, "capture", name)
}

func (d *ScriptDriver) Revert(ctx context.Context, name string) error {
	return d.run(ctx, "revert", name)
}

func (d *ScriptDriver) run(ctx context.Context, verb, name string) error {
	d.log.Info().Str("verb", verb).Str("snapshot", name).Msg("running snapshot script")

	cmd := exec.CommandContext(ctx, d.script, verb, name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("snapshot %s %q failed: %w\n%s", verb, name, err, strings.TrimSpace(string(out)))
	}
	return nil
}
