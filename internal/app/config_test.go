package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metal-toolbox/nbsync/internal/model"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvKeys = []string{
	"NETBOX_URL",
	"NETBOX_TOKEN",
	"NBSYNC_NETBOX_URL",
	"NBSYNC_NETBOX_TOKEN",
	"NBSYNC_NETBOX_TIMEOUT",
	"NBSYNC_NETBOX_MAX_RETRIES",
	"NBSYNC_SNAPSHOT_FILE",
	"NBSYNC_LOG_LEVEL",
}

// unsetEnv clears the given variables for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()

	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func newTestApp() *App {
	return &App{v: viper.New(), Config: &Configuration{AppKind: model.AppKindSync}}
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o600))

	return p
}

func TestLoadConfiguration_EnvAliases(t *testing.T) {
	unsetEnv(t, configEnvKeys...)
	t.Setenv("NETBOX_URL", "https://netbox.example.com")
	t.Setenv("NETBOX_TOKEN", "s3cr3t")

	a := newTestApp()
	require.NoError(t, a.LoadConfiguration("", ""))

	assert.Equal(t, "https://netbox.example.com", a.Config.NetboxOptions.Endpoint)
	assert.Equal(t, "netbox.example.com", a.Config.NetboxOptions.EndpointURL.Host)
	assert.Equal(t, "s3cr3t", a.Config.NetboxOptions.Token)
	assert.Equal(t, 30*time.Second, a.Config.NetboxOptions.Timeout)
	assert.Equal(t, 3, a.Config.NetboxOptions.MaxRetries)
	assert.Equal(t, "devices.json", a.Config.SnapshotOptions.File)
	assert.Equal(t, model.DefaultBucket{Name: "Discovered", Slug: "discovered", RoleColor: "9e9e9e"}, a.Config.DefaultsOptions.Bucket())
	assert.Equal(t, "nbsync.devices.reconciled", a.Config.EventsOptions.Subject)
	assert.Equal(t, "", a.Config.EventsOptions.NatsURL)
}

func TestLoadConfiguration_FileWithEnvOverrides(t *testing.T) {
	unsetEnv(t, configEnvKeys...)

	cfg := `
log_level: debug
netbox:
  url: http://netbox.local:8000
  token: file-token
  timeout: 10s
  max_retries: 1
snapshot:
  file: /var/lib/nbsync/snapshot.json
defaults:
  name: Descoberto
  slug: descoberto
server:
  listen_address: 127.0.0.1:8080
events:
  nats_url: nats://127.0.0.1:4222
`
	cfgFile := writeFile(t, "nbsync.yaml", cfg)

	t.Setenv("NBSYNC_NETBOX_TIMEOUT", "5s")
	t.Setenv("NBSYNC_NETBOX_TOKEN", "env-token")

	a := newTestApp()
	require.NoError(t, a.LoadConfiguration(cfgFile, ""))

	assert.Equal(t, "http://netbox.local:8000", a.Config.NetboxOptions.Endpoint)
	assert.Equal(t, "env-token", a.Config.NetboxOptions.Token)
	assert.Equal(t, 5*time.Second, a.Config.NetboxOptions.Timeout)
	assert.Equal(t, 1, a.Config.NetboxOptions.MaxRetries)
	assert.Equal(t, "/var/lib/nbsync/snapshot.json", a.Config.SnapshotOptions.File)
	assert.Equal(t, "Descoberto", a.Config.DefaultsOptions.Name)
	assert.Equal(t, "9e9e9e", a.Config.DefaultsOptions.RoleColor)
	assert.Equal(t, "127.0.0.1:8080", a.Config.ServerOptions.ListenAddress)
	assert.Equal(t, "nats://127.0.0.1:4222", a.Config.EventsOptions.NatsURL)
	assert.Equal(t, "debug", a.Config.LogLevel)
}

func TestLoadConfiguration_EnvFile(t *testing.T) {
	unsetEnv(t, configEnvKeys...)

	envFile := writeFile(t, "nbsync.env", "NETBOX_URL=https://netbox.dotenv\nNETBOX_TOKEN=dotenv-token\n")

	a := newTestApp()
	require.NoError(t, a.LoadConfiguration("", envFile))

	assert.Equal(t, "https://netbox.dotenv", a.Config.NetboxOptions.Endpoint)
	assert.Equal(t, "dotenv-token", a.Config.NetboxOptions.Token)
}

func TestLoadConfiguration_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		cfg  string
		env2 string
	}{
		{
			name: "url missing",
			env:  map[string]string{"NETBOX_TOKEN": "s3cr3t"},
		},
		{
			name: "token missing",
			env:  map[string]string{"NETBOX_URL": "https://netbox.example.com"},
		},
		{
			name: "url without scheme",
			env:  map[string]string{"NETBOX_URL": "netbox.example.com", "NETBOX_TOKEN": "s3cr3t"},
		},
		{
			name: "negative retries",
			env: map[string]string{
				"NETBOX_URL":                "https://netbox.example.com",
				"NETBOX_TOKEN":              "s3cr3t",
				"NBSYNC_NETBOX_MAX_RETRIES": "-1",
			},
		},
		{
			name: "config file missing",
			env:  map[string]string{"NETBOX_URL": "https://netbox.example.com", "NETBOX_TOKEN": "s3cr3t"},
			cfg:  "/does/not/exist.yaml",
		},
		{
			name: "env file missing",
			env:  map[string]string{"NETBOX_URL": "https://netbox.example.com", "NETBOX_TOKEN": "s3cr3t"},
			env2: "/does/not/exist.env",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unsetEnv(t, configEnvKeys...)

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			err := newTestApp().LoadConfiguration(tt.cfg, tt.env2)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestLoadConfiguration_LogLevel(t *testing.T) {
	tests := []struct {
		name     string
		cfg      string
		env      string
		expected string
	}{
		{"default", "", "", "info"},
		{"from file", "log_level: debug\n", "", "debug"},
		{"env overrides file", "log_level: debug\n", "trace", "trace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unsetEnv(t, configEnvKeys...)

			t.Setenv("NETBOX_URL", "https://netbox.example.com")
			t.Setenv("NETBOX_TOKEN", "s3cr3t")

			if tt.env != "" {
				t.Setenv("NBSYNC_LOG_LEVEL", tt.env)
			}

			var cfgFile string
			if tt.cfg != "" {
				cfgFile = writeFile(t, "nbsync.yaml", tt.cfg)
			}

			a := newTestApp()
			require.NoError(t, a.LoadConfiguration(cfgFile, ""))
			assert.Equal(t, tt.expected, a.Config.LogLevel)
		})
	}
}
