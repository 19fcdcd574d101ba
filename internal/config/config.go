// Package config holds process configuration for the manager and the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/aykay76/msginfra/pkg/infra"
)

// Environment variables read by FromEnv.
const (
	EnvFile              = "ENV_FILE"
	EnvNamespace         = "INFRA_NAMESPACE"
	EnvTemplateDir       = "INFRA_TEMPLATE_DIR"
	EnvTeardownTimeout   = "INFRA_TEARDOWN_TIMEOUT"
	EnvTeardownInterval  = "INFRA_TEARDOWN_INTERVAL"
	EnvPatchVolumeClaims = "INFRA_PATCH_VOLUME_CLAIMS"
	EnvRoutes            = "INFRA_ROUTES"
	EnvMetricsAddr       = "INFRA_METRICS_ADDR"
	EnvProbeAddr         = "INFRA_PROBE_ADDR"
	EnvLogDev            = "INFRA_LOG_DEV"
)

// Config is the runtime configuration.
type Config struct {
	// Namespace restricts the manager to one namespace; empty watches all.
	Namespace         string
	TemplateDir       string
	TeardownTimeout   time.Duration
	TeardownInterval  time.Duration
	PatchVolumeClaims bool
	Routes            bool
	MetricsAddr       string
	ProbeAddr         string
	LeaderElection    bool
	DevLogging        bool
	Kubeconfig        string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		TemplateDir:      "/templates",
		TeardownTimeout:  infra.DefaultTeardownTimeout,
		TeardownInterval: infra.DefaultTeardownInterval,
		MetricsAddr:      ":8080",
		ProbeAddr:        ":8081",
	}
}

// LoadDotenv reads .env files for local development. Variables already
// present in the process environment are never overridden.
//
// Locations (loaded in order, if present):
//  1. $ENV_FILE (if set)
//  2. <cwd>/.env
//
// A file that exists but cannot be parsed is reported; the others are still loaded.
func LoadDotenv() error {
	candidates := make([]string, 0, 2)
	if envFile := os.Getenv(EnvFile); envFile != "" {
		candidates = append(candidates, envFile)
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, ".env"))
	} else {
		candidates = append(candidates, ".env")
	}

	var errs []error
	seen := map[string]struct{}{}
	for _, f := range candidates {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", f, err))
		}
	}
	return errors.Join(errs...)
}

// Load reads .env files and then the process environment on top of Default.
func Load() (Config, error) {
	if err := LoadDotenv(); err != nil {
		return Config{}, err
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from Default and the variables visible through lookup.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}

	str(EnvNamespace, &cfg.Namespace)
	str(EnvTemplateDir, &cfg.TemplateDir)
	dur(EnvTeardownTimeout, &cfg.TeardownTimeout)
	dur(EnvTeardownInterval, &cfg.TeardownInterval)
	boolean(EnvPatchVolumeClaims, &cfg.PatchVolumeClaims)
	boolean(EnvRoutes, &cfg.Routes)
	str(EnvMetricsAddr, &cfg.MetricsAddr)
	str(EnvProbeAddr, &cfg.ProbeAddr)
	boolean(EnvLogDev, &cfg.DevLogging)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BindFlags registers flags overriding the values already in c.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Namespace, "namespace", "n", c.Namespace, "Namespace holding the infrastructure")
	fs.StringVar(&c.TemplateDir, "template-dir", c.TemplateDir, "Directory containing <name>.yaml infrastructure templates")
	fs.DurationVar(&c.TeardownTimeout, "teardown-timeout", c.TeardownTimeout, "How long teardown waits for deployments to scale down")
	fs.DurationVar(&c.TeardownInterval, "teardown-interval", c.TeardownInterval, "Delay between scale-down checks")
	fs.BoolVar(&c.PatchVolumeClaims, "patch-volume-claims", c.PatchVolumeClaims, "Replace existing persistent volume claims on apply")
	fs.BoolVar(&c.Routes, "routes", c.Routes, "Manage route.openshift.io Routes")
	fs.StringVar(&c.Kubeconfig, "kubeconfig", c.Kubeconfig, "Path to a kubeconfig file")
}

// BindManagerFlags registers the flags only the manager uses.
func (c *Config) BindManagerFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.MetricsAddr, "metrics-bind-address", c.MetricsAddr, "The address the metric endpoint binds to")
	fs.StringVar(&c.ProbeAddr, "health-probe-bind-address", c.ProbeAddr, "The address the probe endpoint binds to")
	fs.BoolVar(&c.LeaderElection, "leader-elect", c.LeaderElection, "Enable leader election for the controller manager")
	fs.BoolVar(&c.DevLogging, "dev-logging", c.DevLogging, "Use human readable development logging")
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	if c.TemplateDir == "" {
		errs = append(errs, errors.New("template directory must be set"))
	}
	if c.TeardownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("teardown timeout must be positive, got %s", c.TeardownTimeout))
	}
	if c.TeardownInterval <= 0 {
		errs = append(errs, fmt.Errorf("teardown interval must be positive, got %s", c.TeardownInterval))
	}
	if c.TeardownInterval > c.TeardownTimeout {
		errs = append(errs, fmt.Errorf("teardown interval %s exceeds timeout %s", c.TeardownInterval, c.TeardownTimeout))
	}
	return errors.Join(errs...)
}

// EngineOptions converts the settings into engine options.
func (c Config) EngineOptions() []infra.Option {
	return []infra.Option{
		infra.WithPatchVolumeClaims(c.PatchVolumeClaims),
		infra.WithTeardownTimeout(c.TeardownTimeout),
		infra.WithTeardownInterval(c.TeardownInterval),
	}
}
