// Package config loads service configuration from defaults, an optional
// cloudres.yaml, CLOUDRES_* environment variables and runtime overrides, in
// increasing order of precedence.
package config

import (
	"path/filepath"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"

	"github.com/3leaps/cloudres/pkg/artifactstore"
	"github.com/3leaps/cloudres/pkg/launcher"
	"github.com/3leaps/cloudres/pkg/orchestrator"
	"github.com/3leaps/cloudres/pkg/registry"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig              `mapstructure:"server"`
	Logging  LoggingConfig             `mapstructure:"logging"`
	Storage  StorageConfig             `mapstructure:"storage"`
	Registry RegistryConfig            `mapstructure:"registry"`
	Launcher LauncherConfig            `mapstructure:"launcher"`
	Poller   orchestrator.PollerConfig `mapstructure:"poller"`
	Resolver ResolverConfig            `mapstructure:"resolver"`
	Pipeline PipelineConfig            `mapstructure:"pipeline"`
	Health   HealthConfig              `mapstructure:"health"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `mapstructure:"cors_origins"`

	// MaxUploadBytes caps a multipart upload request body.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`

	// TestDataDir holds the downloadable example reads.
	TestDataDir string `mapstructure:"test_data_dir"`
}

// LoggingConfig configures the service logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// StorageConfig locates the input and output stores.
type StorageConfig struct {
	Provider       string `mapstructure:"provider"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	BaseDir        string `mapstructure:"base_dir"`

	InputBucket  string `mapstructure:"input_bucket"`
	OutputBucket string `mapstructure:"output_bucket"`

	// MaxObjectSize caps artifact downloads. Zero disables the cap.
	MaxObjectSize int64 `mapstructure:"max_object_size"`
}

// RegistryConfig selects the run registry backend.
type RegistryConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LauncherConfig selects and configures the compute launcher.
type LauncherConfig struct {
	Backend string      `mapstructure:"backend"`
	Region  string      `mapstructure:"region"`
	Profile string      `mapstructure:"profile"`
	EC2     EC2Config   `mapstructure:"ec2"`
	Batch   BatchConfig `mapstructure:"batch"`
}

// EC2Config configures the EC2 launcher.
type EC2Config struct {
	LaunchTemplateID      string            `mapstructure:"launch_template_id"`
	LaunchTemplateVersion string            `mapstructure:"launch_template_version"`
	InstanceType          string            `mapstructure:"instance_type"`
	Tags                  map[string]string `mapstructure:"tags"`
}

// BatchConfig configures the Batch launcher.
type BatchConfig struct {
	JobQueue      string            `mapstructure:"job_queue"`
	JobDefinition string            `mapstructure:"job_definition"`
	Profile       string            `mapstructure:"profile"`
	Tags          map[string]string `mapstructure:"tags"`
}

// ResolverConfig tunes store access shared by pollers and resolvers.
type ResolverConfig struct {
	StoreRate  float64 `mapstructure:"store_rate"`
	StoreBurst int     `mapstructure:"store_burst"`
}

// PipelineConfig points at the pipeline profile.
type PipelineConfig struct {
	// Profile is a YAML profile path. Empty uses the embedded default.
	Profile string `mapstructure:"profile"`
}

// HealthConfig toggles the health endpoints' dependency checks.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Backend returns the artifact store settings.
func (c StorageConfig) Backend() artifactstore.Backend {
	return artifactstore.Backend{
		Provider:       c.Provider,
		Region:         c.Region,
		Endpoint:       c.Endpoint,
		Profile:        c.Profile,
		ForcePathStyle: c.ForcePathStyle,
		BaseDir:        c.BaseDir,
	}
}

// StoreOptions returns the artifact store options.
func (c StorageConfig) StoreOptions() []artifactstore.Option {
	if c.MaxObjectSize <= 0 {
		return nil
	}
	return []artifactstore.Option{artifactstore.WithMaxObjectSize(c.MaxObjectSize)}
}

// Open returns the registry backend settings. Local backends without a path
// default to the app data directory.
func (c RegistryConfig) Open() registry.Config {
	path := c.Path
	if strings.TrimSpace(path) == "" {
		path = defaultRegistryPath(c.Driver, c.URL)
	}
	return registry.Config{Driver: c.Driver, Path: path, URL: c.URL, AuthToken: c.AuthToken}
}

func defaultRegistryPath(driver, url string) string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case registry.DriverFile:
		return filepath.Join(dataDir, "runs")
	case registry.DriverSQLite, "libsql":
		if strings.TrimSpace(url) != "" {
			return ""
		}
		return filepath.Join(dataDir, "registry", "cloudres-runs.db")
	default:
		return ""
	}
}

// Open returns the launcher settings.
func (c LauncherConfig) Open() launcher.Config {
	return launcher.Config{
		Backend: c.Backend,
		Region:  c.Region,
		Profile: c.Profile,
		EC2: launcher.EC2Config{
			LaunchTemplateID:      c.EC2.LaunchTemplateID,
			LaunchTemplateVersion: c.EC2.LaunchTemplateVersion,
			InstanceType:          c.EC2.InstanceType,
			Tags:                  c.EC2.Tags,
		},
		Batch: launcher.BatchConfig{
			JobQueue:      c.Batch.JobQueue,
			JobDefinition: c.Batch.JobDefinition,
			Profile:       c.Batch.Profile,
			Tags:          c.Batch.Tags,
		},
	}
}

// Orchestrator returns the orchestrator settings.
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		Poller:     c.Poller,
		StoreRate:  c.Resolver.StoreRate,
		StoreBurst: c.Resolver.StoreBurst,
	}
}
