package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, 60*time.Second, config.Channel.ObserverTimeout)
	assert.Less(t, config.Client.RefreshInterval, config.Channel.ObserverTimeout)
	assert.True(t, config.IsDevelopment())
	assert.False(t, config.IsProduction())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"valid", func(c *Config) {}, nil},
		{"empty app name", func(c *Config) { c.App.Name = "" }, ErrInvalidAppName},
		{"bad environment", func(c *Config) { c.App.Environment = "moon" }, ErrInvalidEnvironment},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, ErrInvalidLogLevel},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, ErrInvalidLogFormat},
		{"zero mailbox", func(c *Config) { c.Actor.DefaultMailboxSize = 0 }, ErrInvalidMailboxSize},
		{"negative observer timeout", func(c *Config) { c.Channel.ObserverTimeout = -time.Second }, ErrInvalidObserverTimeout},
		{"no delivery workers", func(c *Config) { c.Channel.DeliveryWorkers = 0 }, ErrInvalidDeliveryWorkers},
		{"zero call timeout", func(c *Config) { c.Client.CallTimeout = 0 }, ErrInvalidCallTimeout},
		{"refresh slower than expiry", func(c *Config) { c.Client.RefreshInterval = c.Channel.ObserverTimeout }, ErrInvalidRefreshInterval},
		{"expiry disabled allows any refresh", func(c *Config) {
			c.Channel.ObserverTimeout = 0
			c.Client.RefreshInterval = time.Hour
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoaderYAML(t *testing.T) {
	tempDir := t.TempDir()
	yamlFile := filepath.Join(tempDir, "observe.yaml")

	yamlContent := `
app:
  name: "chat-host"
  environment: "production"
channel:
  observer_timeout: 90s
  delivery_workers: 8
client:
  call_timeout: 2s
  refresh_interval: 30s
`
	require.NoError(t, os.WriteFile(yamlFile, []byte(yamlContent), 0644))

	config, err := NewLoader().Load(yamlFile)
	require.NoError(t, err)

	assert.Equal(t, "chat-host", config.App.Name)
	assert.Equal(t, EnvProduction, config.App.Environment)
	assert.Equal(t, 90*time.Second, config.Channel.ObserverTimeout)
	assert.Equal(t, 8, config.Channel.DeliveryWorkers)
	assert.Equal(t, 2*time.Second, config.Client.CallTimeout)
	assert.Equal(t, 30*time.Second, config.Client.RefreshInterval)

	// Untouched sections keep their defaults
	assert.Equal(t, LogLevelInfo, config.Log.Level)
	assert.Equal(t, 1000, config.Actor.DefaultMailboxSize)
	assert.Equal(t, 1024, config.Channel.DeliveryQueue)
}

func TestLoaderJSON(t *testing.T) {
	tempDir := t.TempDir()
	jsonFile := filepath.Join(tempDir, "observe.json")

	jsonContent := `{
  "app": {"name": "json-app"},
  "log": {"level": "debug", "format": "json"}
}`
	require.NoError(t, os.WriteFile(jsonFile, []byte(jsonContent), 0644))

	config, err := NewLoader().Load(jsonFile)
	require.NoError(t, err)

	assert.Equal(t, "json-app", config.App.Name)
	assert.Equal(t, LogLevelDebug, config.Log.Level)
	assert.Equal(t, "json", config.Log.Format)
}

func TestLoaderRejectsInvalidFile(t *testing.T) {
	tempDir := t.TempDir()

	badYAML := filepath.Join(tempDir, "bad.yaml")
	require.NoError(t, os.WriteFile(badYAML, []byte("app: [unclosed"), 0644))
	_, err := NewLoader().Load(badYAML)
	assert.ErrorIs(t, err, ErrConfigParseError)

	invalid := filepath.Join(tempDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("log:\n  level: loud\n"), 0644))
	_, err = NewLoader().Load(invalid)
	assert.ErrorIs(t, err, ErrInvalidLogLevel)

	_, err = NewLoader().Load(filepath.Join(tempDir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigFileNotFound)

	_, err = NewLoader().Load(filepath.Join(tempDir, "config.toml"))
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OBSERVE_APP_NAME", "env-test-app")
	t.Setenv("OBSERVE_LOG_LEVEL", "error")
	t.Setenv("OBSERVE_CHANNEL_OBSERVER_TIMEOUT", "2m")
	t.Setenv("OBSERVE_CLIENT_REFRESH_INTERVAL", "40s")

	config, err := NewLoader().Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-test-app", config.App.Name)
	assert.Equal(t, LogLevelError, config.Log.Level)
	assert.Equal(t, 2*time.Minute, config.Channel.ObserverTimeout)
	assert.Equal(t, 40*time.Second, config.Client.RefreshInterval)
}

func TestEnvironmentOverrideErrors(t *testing.T) {
	t.Setenv("OBSERVE_CHANNEL_OBSERVER_TIMEOUT", "soon")

	_, err := NewLoader().Load("")
	assert.True(t, errors.Is(err, ErrEnvironmentVarError), "got %v", err)
}

func TestAutoLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("app:\n  name: auto-app\n"), 0644))

	config, err := NewLoader().SetSearchPaths([]string{tempDir}).AutoLoad()
	require.NoError(t, err)
	assert.Equal(t, "auto-app", config.App.Name)

	// No file anywhere falls back to defaults
	config, err = NewLoader().SetSearchPaths([]string{t.TempDir()}).AutoLoad()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().App.Name, config.App.Name)
}

func TestWatcher(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "observe.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("channel:\n  observer_timeout: 60s\n"), 0644))

	watcher, err := NewWatcher(configFile, NewLoader(), nil)
	require.NoError(t, err)
	watcher.debounce = 10 * time.Millisecond

	assert.Equal(t, 60*time.Second, watcher.GetConfig().Channel.ObserverTimeout)

	changes := make(chan time.Duration, 16)
	watcher.OnConfigChange(func(oldConfig, newConfig *Config) {
		select {
		case changes <- newConfig.Channel.ObserverTimeout:
		default:
		}
	})

	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(configFile, []byte("channel:\n  observer_timeout: 45s\n"), 0644))

	// A reload may catch the truncated file first; wait for the final value.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-changes:
			if got == 45*time.Second {
				assert.Equal(t, 45*time.Second, watcher.GetConfig().Channel.ObserverTimeout)
				return
			}
		case <-deadline:
			t.Fatal("config change was not observed")
		}
	}
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "observe.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("app:\n  name: keep-me\n"), 0644))

	watcher, err := NewWatcher(configFile, NewLoader(), nil)
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(configFile, []byte("log:\n  level: loud\n"), 0644))
	assert.Error(t, watcher.Reload())
	assert.Equal(t, "keep-me", watcher.GetConfig().App.Name)
}
