// Package config loads, validates and watches the settings of observe hosts
// and clients.
package config

import "time"

// Environment names a deployment stage.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

func (e Environment) String() string { return string(e) }

func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	}
	return false
}

// LogLevel is the textual log level accepted in config files.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

func (l LogLevel) String() string { return string(l) }

func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	}
	return false
}

// Config is the root of an observe config file.
type Config struct {
	App     AppConfig     `yaml:"app" json:"app"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Actor   ActorConfig   `yaml:"actor" json:"actor"`
	Channel ChannelConfig `yaml:"channel" json:"channel"`
	Client  ClientConfig  `yaml:"client" json:"client"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Node identifier encoded into actor handles
	NodeID uint32 `yaml:"node_id" json:"node_id"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, console)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable colored level names in console format
	Color bool `yaml:"color" json:"color"`
}

// ActorConfig contains actor system configuration
type ActorConfig struct {
	// Default actor mailbox size
	DefaultMailboxSize int `yaml:"default_mailbox_size" json:"default_mailbox_size"`

	// Per-message processing timeout
	ProcessTimeout time.Duration `yaml:"process_timeout" json:"process_timeout"`

	// Shutdown timeout for the whole system
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ChannelConfig contains settings for hosted channel entities
type ChannelConfig struct {
	// Observers not refreshed within this window are pruned on the next broadcast.
	// Zero disables expiry.
	ObserverTimeout time.Duration `yaml:"observer_timeout" json:"observer_timeout"`

	// Number of goroutines delivering broadcasts, shared by all channels
	DeliveryWorkers int `yaml:"delivery_workers" json:"delivery_workers"`

	// Deliveries allowed to wait for a worker before a broadcast falls back
	// to dedicated goroutines
	DeliveryQueue int `yaml:"delivery_queue" json:"delivery_queue"`

	// Mailbox size for channel entity actors
	MailboxSize int `yaml:"mailbox_size" json:"mailbox_size"`
}

// ClientConfig contains subscription client settings
type ClientConfig struct {
	// Upper bound for a remote subscribe/unsubscribe call
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`

	// How often active subscriptions are re-registered to keep them from
	// expiring. Zero disables refreshing.
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`

	// Minimum spacing between resubscription attempts for one subscription
	ResubscribeMinInterval time.Duration `yaml:"resubscribe_min_interval" json:"resubscribe_min_interval"`

	// Attempts allowed back to back before the spacing applies
	ResubscribeBurst int `yaml:"resubscribe_burst" json:"resubscribe_burst"`

	// Mailbox size for observer actors
	ObserverMailboxSize int `yaml:"observer_mailbox_size" json:"observer_mailbox_size"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "observe",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       true,
			NodeID:      1,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "console",
			Output: "stdout",
			Color:  true,
		},
		Actor: ActorConfig{
			DefaultMailboxSize: 1000,
			ProcessTimeout:     30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
		},
		Channel: ChannelConfig{
			ObserverTimeout: 60 * time.Second,
			DeliveryWorkers: 64,
			DeliveryQueue:   1024,
			MailboxSize:     1000,
		},
		Client: ClientConfig{
			CallTimeout:            5 * time.Second,
			RefreshInterval:        20 * time.Second,
			ResubscribeMinInterval: time.Second,
			ResubscribeBurst:       3,
			ObserverMailboxSize:    256,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return ErrInvalidLogFormat
	}

	if c.Actor.DefaultMailboxSize <= 0 {
		return ErrInvalidMailboxSize
	}

	if c.Channel.ObserverTimeout < 0 {
		return ErrInvalidObserverTimeout
	}
	if c.Channel.DeliveryWorkers <= 0 {
		return ErrInvalidDeliveryWorkers
	}

	if c.Client.CallTimeout <= 0 {
		return ErrInvalidCallTimeout
	}
	if c.Client.RefreshInterval < 0 {
		return ErrInvalidRefreshInterval
	}
	// A refresh slower than the expiry window lets live subscriptions lapse.
	if c.Channel.ObserverTimeout > 0 && c.Client.RefreshInterval >= c.Channel.ObserverTimeout {
		return ErrInvalidRefreshInterval
	}

	return nil
}

func (c *Config) IsDevelopment() bool { return c.App.Environment == EnvDevelopment }

func (c *Config) IsProduction() bool { return c.App.Environment == EnvProduction }

// IsDebugEnabled reports whether the debug flag is set or the environment is
// development.
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
