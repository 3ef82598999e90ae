package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/cloudres/pkg/orchestrator"
)

const (
	// AppName names the config file (cloudres.yaml) and the user config dir.
	AppName = "cloudres"

	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "CLOUDRES"
)

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// EnvSpec maps a short environment variable onto a config path.
type EnvSpec struct {
	Name string
	Path string
}

// SetConfigFile makes Load read path instead of searching for cloudres.yaml.
// An empty path restores the search.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load builds the configuration. Later sources win: defaults, config file,
// environment, then overrides in order. Each override is a nested map keyed
// like the YAML file.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName(AppName)
		v.AddConfigPath(".")
		for _, p := range getUserConfigPaths() {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Logging.Profile = strings.ToLower(cfg.Logging.Profile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks values Load cannot fix with defaults.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if err := c.Poller.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Storage.InputBucket) == "" {
		errs = append(errs, errors.New("storage.input_bucket is required"))
	}
	if strings.TrimSpace(c.Storage.OutputBucket) == "" {
		errs = append(errs, errors.New("storage.output_bucket is required"))
	}
	if c.Resolver.StoreRate < 0 {
		errs = append(errs, fmt.Errorf("resolver.store_rate must be >= 0, got %v", c.Resolver.StoreRate))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{
		"http://localhost:8000",
		"http://localhost:3000",
		"http://localhost:5173",
	})
	v.SetDefault("server.max_upload_bytes", int64(10<<30))
	v.SetDefault("server.test_data_dir", "test_data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("storage.provider", "s3")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.profile", "")
	v.SetDefault("storage.force_path_style", false)
	v.SetDefault("storage.base_dir", "")
	v.SetDefault("storage.input_bucket", "cloudresinput")
	v.SetDefault("storage.output_bucket", "cloudresoutput")
	v.SetDefault("storage.max_object_size", int64(256<<20))

	v.SetDefault("registry.driver", "memory")
	v.SetDefault("registry.path", "")
	v.SetDefault("registry.url", "")
	v.SetDefault("registry.auth_token", "")

	v.SetDefault("launcher.backend", "ec2")
	v.SetDefault("launcher.region", "")
	v.SetDefault("launcher.profile", "")
	v.SetDefault("launcher.ec2.launch_template_id", "")
	v.SetDefault("launcher.ec2.launch_template_version", "$Latest")
	v.SetDefault("launcher.ec2.instance_type", "")
	v.SetDefault("launcher.batch.job_queue", "nextflow-job-queue")
	v.SetDefault("launcher.batch.job_definition", "nextflow-job-def")
	v.SetDefault("launcher.batch.profile", "awsbatch")

	v.SetDefault("poller.grace", orchestrator.DefaultGrace.String())
	v.SetDefault("poller.interval", orchestrator.DefaultInterval.String())
	v.SetDefault("poller.attempts", orchestrator.DefaultAttempts)

	v.SetDefault("resolver.store_rate", 0)
	v.SetDefault("resolver.store_burst", 1)

	v.SetDefault("pipeline.profile", "")

	v.SetDefault("health.enabled", true)
}

// getEnvSpecs lists the short environment variable names. Every other key is
// also reachable as CLOUDRES_<SECTION>_<KEY>.
func getEnvSpecs() []EnvSpec {
	short := map[string]string{
		"HOST":             "server.host",
		"PORT":             "server.port",
		"READ_TIMEOUT":     "server.read_timeout",
		"WRITE_TIMEOUT":    "server.write_timeout",
		"SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
		"CORS_ORIGINS":     "server.cors_origins",
		"LOG_LEVEL":        "logging.level",
		"LOG_PROFILE":      "logging.profile",
		"INPUT_BUCKET":     "storage.input_bucket",
		"OUTPUT_BUCKET":    "storage.output_bucket",
		"STORAGE_ENDPOINT": "storage.endpoint",
		"REGISTRY_DRIVER":  "registry.driver",
		"DATABASE_URL":     "registry.url",
		"LAUNCHER":         "launcher.backend",
		"LAUNCH_TEMPLATE":  "launcher.ec2.launch_template_id",
		"REGION":           "launcher.region",
		"POLL_GRACE":       "poller.grace",
		"POLL_INTERVAL":    "poller.interval",
		"POLL_ATTEMPTS":    "poller.attempts",
		"PIPELINE_PROFILE": "pipeline.profile",
	}

	specs := make([]EnvSpec, 0, len(short))
	for name, path := range short {
		specs = append(specs, EnvSpec{Name: EnvPrefix + "_" + name, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// getUserConfigPaths returns directories searched for cloudres.yaml after the
// working directory.
func getUserConfigPaths() []string {
	paths := []string{gfconfig.GetAppConfigDir(AppName)}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, "."+AppName))
	}
	return paths
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
