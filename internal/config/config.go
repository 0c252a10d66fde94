// Package config loads quackformers settings from YAML and QUACK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/raaihank/quackformers/internal/embeddings"
)

// EnvPrefix prefixes every environment override, e.g. QUACK_SERVER_PORT.
const EnvPrefix = "QUACK"

var (
	mu      sync.Mutex
	current *viper.Viper
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/quackformers/")
	v.AddConfigPath("$HOME/.quackformers/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults are registered key by key so environment overrides apply to
	// keys the file does not mention.
	setDefaults(v, "", reflect.ValueOf(*GetDefaults()))

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	current = v
	mu.Unlock()
	return config, nil
}

func decode(v *viper.Viper) (*Config, error) {
	config := GetDefaults()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setDefaults registers every leaf of val under its mapstructure key.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		fv := val.Field(i)

		if opts == "squash" {
			setDefaults(v, prefix, fv)
			continue
		}
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if fv.Kind() == reflect.Struct && fv.Type() != durationType {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Models.BatchSize <= 0 {
		return fmt.Errorf("invalid models.batch_size: %d (must be positive)", config.Models.BatchSize)
	}

	for name, spec := range map[string]embeddings.ModelSpec{"bert": config.Models.Bert, "jina": config.Models.Jina} {
		if spec.Repo == "" {
			return fmt.Errorf("models.%s.repo must be set", name)
		}
		switch spec.Backend {
		case "", embeddings.BackendNative, embeddings.BackendOnnx:
		default:
			return fmt.Errorf("invalid models.%s.backend: %s (must be native or onnx)", name, spec.Backend)
		}
	}

	if config.Bedrock.Enabled && config.Bedrock.Concurrency < 0 {
		return fmt.Errorf("invalid bedrock.concurrency: %d", config.Bedrock.Concurrency)
	}

	if config.Server.RateLimit.Enabled && (config.Server.RateLimit.RequestsPerSecond <= 0 || config.Server.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests_per_second and burst")
	}

	if config.ETL.BatchSize <= 0 {
		return fmt.Errorf("invalid etl.batch_size: %d (must be positive)", config.ETL.BatchSize)
	}

	return nil
}

// Watch calls callback with the reloaded configuration whenever the file
// loaded by the last Load changes. Invalid edits are reported to onError
// and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) error {
	mu.Lock()
	v := current
	mu.Unlock()
	if v == nil {
		return fmt.Errorf("configuration not loaded")
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("ignoring change to %s: %w", e.Name, err))
			}
			return
		}
		callback(newConfig)
	})
	v.WatchConfig()
	return nil
}
