// Package envcfg loads and validates the environment spec file: the YAML
// description of a prefix's engine, hosts, storage layout, and build/sync
// settings.
package envcfg

import "time"

// File is the top-level environment spec.
type File struct {
	// Engine is the engine machine.
	Engine Machine `yaml:"engine" validate:"required"`

	// Hosts are the compute host machines.
	Hosts []Machine `yaml:"hosts" validate:"min=1,dive"`

	// API is the engine's management API endpoint.
	API API `yaml:"api" validate:"required"`

	// StorageDomains declares the expected storage layout, one master
	// per data center.
	StorageDomains []StorageDomain `yaml:"storage_domains" validate:"dive"`

	// Prepare configures the artifact repository pipeline.
	Prepare Prepare `yaml:"prepare"`

	// Snapshots configures the disk snapshot driver.
	Snapshots Snapshots `yaml:"snapshots"`

	// Store is the path of the SQLite ledger. Empty disables recording.
	Store string `yaml:"store"`

	// Telemetry configures metrics and tracing. Logging is configured on
	// the command line.
	Telemetry Telemetry `yaml:"telemetry"`

	// Timeouts bound convergence polling.
	Timeouts Timeouts `yaml:"timeouts"`
}

// Machine describes one addressable machine of the prefix.
type Machine struct {
	Name     string `yaml:"name" validate:"required"`
	Address  string `yaml:"address" validate:"required"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user" validate:"required"`
	KeyPath  string `yaml:"key_path"`
	Password string `yaml:"password"`

	// Services are the machine's managed services, stopped during
	// quiesce and restarted on rollback.
	Services []string `yaml:"services"`

	// DeployScripts run on first deploy, in order.
	DeployScripts []string `yaml:"deploy_scripts"`

	// ArtifactPaths are collected by `vlab collect`.
	ArtifactPaths []string `yaml:"artifact_paths"`
}

// API describes the management API endpoint.
type API struct {
	URL      string        `yaml:"url" validate:"required,url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// StorageDomain declares one expected storage domain.
type StorageDomain struct {
	Name       string `yaml:"name" validate:"required"`
	DataCenter string `yaml:"data_center" validate:"required"`
	Master     bool   `yaml:"master"`
}

// Prepare configures the artifact repository pipeline.
type Prepare struct {
	// RepoDir is the unified artifact repository directory.
	RepoDir string `yaml:"repo_dir"`

	// SyncConfig is the repo sync tool's config file.
	SyncConfig string `yaml:"sync_config"`

	// Repos are the upstream repository IDs to sync.
	Repos []string `yaml:"repos"`

	// Builds are the package build steps.
	Builds []Build `yaml:"builds" validate:"dive"`

	// Dists are the target distributions.
	Dists []string `yaml:"dists"`
}

// Build describes one package build step: a script invoked with a source
// directory, an output directory, and the target dists.
type Build struct {
	Name      string `yaml:"name" validate:"required"`
	Script    string `yaml:"script" validate:"required"`
	SourceDir string `yaml:"source_dir" validate:"required"`
	OutputDir string `yaml:"output_dir" validate:"required"`
}

// Telemetry configures the optional metrics endpoint and trace exporter.
type Telemetry struct {
	// MetricsListen is the address of the Prometheus endpoint. Empty
	// disables metrics.
	MetricsListen string `yaml:"metrics_listen"`

	// Tracing selects a trace exporter.
	Tracing Tracing `yaml:"tracing"`
}

// Tracing configures the trace exporter.
type Tracing struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Snapshots configures the disk snapshot driver. The script is invoked
// as `script capture <name>` and `script revert <name>`.
type Snapshots struct {
	Script string `yaml:"script"`
}

// Timeouts bound convergence polling.
type Timeouts struct {
	ShortWait    time.Duration `yaml:"short_wait"`
	LongWait     time.Duration `yaml:"long_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
}
