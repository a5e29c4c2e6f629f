// Package config loads runtime-wide settings (loop bounds, the workspace
// root safe_path is scoped to, and event-bus connectivity) the way
// station's internal/config.Config loads its settings: typed fields
// populated from viper, environment variables bound on top.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// RuntimeConfig holds the settings a host wires into an Evaluator/Runtime
// pair before executing workflows.
type RuntimeConfig struct {
	// WorkspaceRoot bounds safe_path/file_exists and loop-results file
	// storage.
	WorkspaceRoot string

	// Loop bounds loaded from config. Nothing in the engine reads them: a
	// step that sets no bound of its own gets the workflow package's
	// DefaultMax* constants instead.
	DefaultMaxIterations int
	DefaultMaxResults    int
	DefaultMaxErrors     int

	// EventBus configures the optional NATS-JetStream-backed Observer.
	EventBus EventBusConfig
}

// EventBusConfig mirrors station's workflow runtime Options
// (internal/workflows/runtime/options.go), trimmed to what an
// action-agnostic engine needs: it has no worker pool of its own, so
// WorkerPoolSize isn't carried over.
type EventBusConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	ConsumerName  string `mapstructure:"consumer_name"`
	Embedded      bool   `mapstructure:"embedded"`
	EmbeddedPort  int    `mapstructure:"embedded_port"`
}

const defaultEventBusURL = "nats://127.0.0.1:4222"

// Load builds a RuntimeConfig from an optional config file plus environment
// variables, following InitViper/bindEnvVars in station's config.go: an
// explicit file path is read if given, otherwise workflow.* is searched for
// in the working directory only; environment variables override values
// from the file.
func Load(cfgFile string) (RuntimeConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("WORKFLOW")
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if cwd, err := os.Getwd(); err == nil {
			v.AddConfigPath(cwd)
		}
		v.SetConfigName("workflow")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return RuntimeConfig{}, err
		}
	}

	cfg := RuntimeConfig{
		WorkspaceRoot:        v.GetString("workspace_root"),
		DefaultMaxIterations: v.GetInt("default_max_iterations"),
		DefaultMaxResults:    v.GetInt("default_max_results"),
		DefaultMaxErrors:     v.GetInt("default_max_errors"),
		EventBus: EventBusConfig{
			Enabled:       v.GetBool("event_bus.enabled"),
			URL:           v.GetString("event_bus.url"),
			Stream:        v.GetString("event_bus.stream"),
			SubjectPrefix: v.GetString("event_bus.subject_prefix"),
			ConsumerName:  v.GetString("event_bus.consumer_name"),
			Embedded:      v.GetBool("event_bus.embedded"),
			EmbeddedPort:  v.GetInt("event_bus.embedded_port"),
		},
	}

	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot, _ = os.Getwd()
	}
	cfg.WorkspaceRoot = filepath.Clean(cfg.WorkspaceRoot)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_max_iterations", 10_000)
	v.SetDefault("default_max_results", 100)
	v.SetDefault("default_max_errors", 50)
	v.SetDefault("event_bus.enabled", false)
	v.SetDefault("event_bus.url", defaultEventBusURL)
	v.SetDefault("event_bus.stream", "WORKFLOW_EVENTS")
	v.SetDefault("event_bus.subject_prefix", "workflow")
	v.SetDefault("event_bus.consumer_name", "workflowctl")
	v.SetDefault("event_bus.embedded", true)
	v.SetDefault("event_bus.embedded_port", 4222)
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("workspace_root", "WORKFLOW_WORKSPACE_ROOT")
	_ = v.BindEnv("event_bus.enabled", "WORKFLOW_NATS_ENABLED")
	_ = v.BindEnv("event_bus.url", "WORKFLOW_NATS_URL")
	_ = v.BindEnv("event_bus.stream", "WORKFLOW_NATS_STREAM")
	_ = v.BindEnv("event_bus.subject_prefix", "WORKFLOW_NATS_SUBJECT_PREFIX")
	_ = v.BindEnv("event_bus.consumer_name", "WORKFLOW_NATS_CONSUMER")
	_ = v.BindEnv("event_bus.embedded", "WORKFLOW_NATS_EMBEDDED")
	_ = v.BindEnv("event_bus.embedded_port", "WORKFLOW_NATS_PORT")
}
