package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{
			".",
			"./config",
			"./configs",
			"/etc/observe",
			os.Getenv("HOME") + "/.observe",
		},
		envPrefix:     "OBSERVE",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from the specified file, or from defaults and
// the environment when filename is empty
func (l *Loader) Load(filename string) (*Config, error) {
	if filename != "" {
		config, err := l.loadFromFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", filename, err)
		}
		return config, nil
	}

	return l.finish(l.defaults())
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	return l.loadFromFile(filename)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(config)
}

// AutoLoad automatically discovers and loads configuration
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, _, err := l.findConfigFile()
	if err != nil {
		if errors.Is(err, ErrConfigFileNotFound) {
			return l.finish(l.defaults())
		}
		return nil, err
	}

	return l.loadFromFile(configFile)
}

// defaults returns a private copy of the default configuration
func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	config := *l.defaultConfig
	return &config
}

// finish applies environment overrides and validates
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, ConfigFormat, error) {
	filenames := []string{
		"observe.yaml", "observe.yml",
		"config.yaml", "config.yml",
		"observe.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				format, err := formatOf(filename)
				if err != nil {
					continue
				}
				return fullPath, format, nil
			}
		}
	}

	return "", "", ErrConfigFileNotFound
}

// formatOf determines the configuration format from a file extension
func formatOf(filename string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file format: %s", filepath.Ext(filename))
	}
}

// loadFromFile loads configuration from a file
func (l *Loader) loadFromFile(filename string) (*Config, error) {
	format, err := formatOf(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}

	return l.finish(config)
}

// parseConfig decodes data on top of the defaults so that fields missing
// from the file keep their default values
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := l.defaults()

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML config: %v", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON config: %v", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	return config, nil
}

// envBinding maps one OBSERVE_<KEY> variable onto a config field.
type envBinding struct {
	key   string
	apply func(c *Config, val string) error
}

func stringVar(get func(*Config) *string) func(*Config, string) error {
	return func(c *Config, val string) error {
		*get(c) = val
		return nil
	}
}

func durationVar(get func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, val string) error {
		d, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*get(c) = d
		return nil
	}
}

func intVar(get func(*Config) *int) func(*Config, string) error {
	return func(c *Config, val string) error {
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		*get(c) = n
		return nil
	}
}

var envBindings = []envBinding{
	{"APP_NAME", stringVar(func(c *Config) *string { return &c.App.Name })},
	{"APP_ENVIRONMENT", func(c *Config, val string) error {
		c.App.Environment = Environment(val)
		return nil
	}},
	{"APP_DEBUG", func(c *Config, val string) error {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		c.App.Debug = b
		return nil
	}},
	{"APP_NODE_ID", func(c *Config, val string) error {
		id, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return err
		}
		c.App.NodeID = uint32(id)
		return nil
	}},
	{"LOG_LEVEL", func(c *Config, val string) error {
		c.Log.Level = LogLevel(val)
		return nil
	}},
	{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Log.Format })},
	{"LOG_OUTPUT", stringVar(func(c *Config) *string { return &c.Log.Output })},
	{"CHANNEL_OBSERVER_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Channel.ObserverTimeout })},
	{"CHANNEL_DELIVERY_WORKERS", intVar(func(c *Config) *int { return &c.Channel.DeliveryWorkers })},
	{"CLIENT_CALL_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Client.CallTimeout })},
	{"CLIENT_REFRESH_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Client.RefreshInterval })},
	{"CLIENT_RESUBSCRIBE_MIN_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Client.ResubscribeMinInterval })},
}

// loadFromEnv applies the set environment variables over config.
func (l *Loader) loadFromEnv(config *Config) error {
	for _, b := range envBindings {
		name := l.envPrefix + "_" + b.key
		val, ok := os.LookupEnv(name)
		if !ok || val == "" {
			continue
		}
		if err := b.apply(config, val); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrEnvironmentVarError, name, err)
		}
	}
	return nil
}
