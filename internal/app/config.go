package app

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jeremywohl/flatten"
	"github.com/joho/godotenv"
	"github.com/metal-toolbox/nbsync/internal/model"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const (
	defaultNetboxTimeout      = 30 * time.Second
	defaultNetboxMaxRetries   = 3
	defaultNetboxRetryWaitMin = 1 * time.Second
	defaultNetboxRetryWaitMax = 30 * time.Second
	defaultSnapshotFile       = "devices.json"
	defaultListenAddress      = "0.0.0.0:8000"
	defaultMetricsAddress     = "0.0.0.0:9090"
	defaultEventsSubject      = "nbsync.devices.reconciled"
	defaultBucketName         = "Discovered"
	defaultBucketSlug         = "discovered"
	defaultBucketRoleColor    = "9e9e9e"
	defaultEnvFile            = ".env"
)

var (
	ErrConfig = errors.New("configuration error")
)

// Configuration holds application configuration read from a YAML or set by env variables.
//
// nolint:govet // prefer readability over field alignment optimization for this case.
type Configuration struct {
	// LogLevel is the app verbose logging level.
	// one of - info, debug, trace
	LogLevel string `mapstructure:"log_level"`

	// AppKind is the application kind - sync / server
	AppKind model.AppKind `mapstructure:"app_kind"`

	// NetboxOptions defines the NetBox API client configuration parameters.
	NetboxOptions *NetboxOptions `mapstructure:"netbox"`

	// SnapshotOptions defines where device snapshots are read from.
	SnapshotOptions *SnapshotOptions `mapstructure:"snapshot"`

	// DefaultsOptions names the sentinel objects devices fall back to.
	DefaultsOptions *DefaultsOptions `mapstructure:"defaults"`

	// ServerOptions configures the discover endpoint listener.
	ServerOptions *ServerOptions `mapstructure:"server"`

	// MetricsOptions configures the prometheus metrics listener.
	MetricsOptions *MetricsOptions `mapstructure:"metrics"`

	// EventsOptions configures publishing of reconcile results,
	// publishing is disabled when the NATS URL is not set.
	EventsOptions *EventsOptions `mapstructure:"events"`
}

// NetboxOptions defines configuration for the NetBox API client.
type NetboxOptions struct {
	EndpointURL        *url.URL      `mapstructure:"-"`
	Endpoint           string        `mapstructure:"url"`
	Token              string        `mapstructure:"token"`
	Timeout            time.Duration `mapstructure:"timeout"`
	RetryWaitMin       time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax       time.Duration `mapstructure:"retry_wait_max"`
	MaxRetries         int           `mapstructure:"max_retries"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

type SnapshotOptions struct {
	File string `mapstructure:"file"`
}

type DefaultsOptions struct {
	Name      string `mapstructure:"name"`
	Slug      string `mapstructure:"slug"`
	RoleColor string `mapstructure:"role_color"`
}

// Bucket returns the default bucket the reconciler resolves at startup.
func (d *DefaultsOptions) Bucket() model.DefaultBucket {
	return model.DefaultBucket{Name: d.Name, Slug: d.Slug, RoleColor: d.RoleColor}
}

type ServerOptions struct {
	ListenAddress string `mapstructure:"listen_address"`
}

type MetricsOptions struct {
	ListenAddress string `mapstructure:"listen_address"`
}

type EventsOptions struct {
	NatsURL        string        `mapstructure:"nats_url"`
	Subject        string        `mapstructure:"subject"`
	CredsFile      string        `mapstructure:"creds_file"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoadConfiguration loads application configuration
//
// Reads in the envFile, cfgFile when available and overrides from environment variables.
func (a *App) LoadConfiguration(cfgFile, envFile string) error {
	if err := loadEnvFile(envFile); err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}

	a.v.SetConfigType("yaml")
	a.v.SetEnvPrefix(model.AppName)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	// these are initialized here so viper can read in configuration from env vars
	a.Config.NetboxOptions = &NetboxOptions{}
	a.Config.SnapshotOptions = &SnapshotOptions{}
	a.Config.DefaultsOptions = &DefaultsOptions{}
	a.Config.ServerOptions = &ServerOptions{}
	a.Config.MetricsOptions = &MetricsOptions{}
	a.Config.EventsOptions = &EventsOptions{}

	if cfgFile != "" {
		fh, err := os.Open(cfgFile)
		if err != nil {
			return errors.Wrap(ErrConfig, err.Error())
		}

		defer fh.Close()

		if err = a.v.ReadConfig(fh); err != nil {
			return errors.Wrap(ErrConfig, "ReadConfig error:"+err.Error())
		}
	}

	a.setDefaults()

	if err := a.envBindVars(); err != nil {
		return errors.Wrap(ErrConfig, "env var bind error:"+err.Error())
	}

	if err := a.v.Unmarshal(a.Config); err != nil {
		return errors.Wrap(ErrConfig, "Unmarshal error: "+err.Error())
	}

	return a.validateNetboxOptions()
}

func (a *App) setDefaults() {
	a.v.SetDefault("log_level", "info")
	a.v.SetDefault("netbox.timeout", defaultNetboxTimeout)
	a.v.SetDefault("netbox.max_retries", defaultNetboxMaxRetries)
	a.v.SetDefault("netbox.retry_wait_min", defaultNetboxRetryWaitMin)
	a.v.SetDefault("netbox.retry_wait_max", defaultNetboxRetryWaitMax)
	a.v.SetDefault("snapshot.file", defaultSnapshotFile)
	a.v.SetDefault("defaults.name", defaultBucketName)
	a.v.SetDefault("defaults.slug", defaultBucketSlug)
	a.v.SetDefault("defaults.role_color", defaultBucketRoleColor)
	a.v.SetDefault("server.listen_address", defaultListenAddress)
	a.v.SetDefault("metrics.listen_address", defaultMetricsAddress)
	a.v.SetDefault("events.subject", defaultEventsSubject)
}

// envBindVars binds environment variables to the struct
// without a configuration file being unmarshalled,
// this is a workaround for a viper bug,
//
// This can be replaced by the solution in https://github.com/spf13/viper/pull/1429
// once that PR is merged.
func (a *App) envBindVars() error {
	envKeysMap := map[string]interface{}{}
	if err := mapstructure.Decode(a.Config, &envKeysMap); err != nil {
		return err
	}

	// Flatten nested conf map
	flat, err := flatten.Flatten(envKeysMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "Unable to flatten config")
	}

	for k := range flat {
		if err := a.v.BindEnv(k); err != nil {
			return errors.Wrap(ErrConfig, "env var bind error: "+err.Error())
		}
	}

	// the NetBox endpoint and token are also accepted from the commonly used
	// unprefixed variables.
	if err := a.v.BindEnv("netbox.url", "NBSYNC_NETBOX_URL", "NETBOX_URL"); err != nil {
		return errors.Wrap(ErrConfig, "env var bind error: "+err.Error())
	}

	if err := a.v.BindEnv("netbox.token", "NBSYNC_NETBOX_TOKEN", "NETBOX_TOKEN"); err != nil {
		return errors.Wrap(ErrConfig, "env var bind error: "+err.Error())
	}

	return nil
}

// validateNetboxOptions checks the required NetBox parameters are present
// and sets the endpoint URL.
func (a *App) validateNetboxOptions() error {
	opts := a.Config.NetboxOptions

	if opts.Endpoint == "" {
		return errors.Wrap(ErrConfig, "netbox.url not defined")
	}

	endpointURL, err := url.Parse(opts.Endpoint)
	if err != nil {
		return errors.Wrap(ErrConfig, "netbox endpoint URL error: "+err.Error())
	}

	if endpointURL.Scheme != "http" && endpointURL.Scheme != "https" {
		return errors.Wrap(ErrConfig, "netbox endpoint URL requires a http or https scheme: "+opts.Endpoint)
	}

	opts.EndpointURL = endpointURL

	if opts.Token == "" {
		return errors.Wrap(ErrConfig, "netbox.token not defined")
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultNetboxTimeout
	}

	if opts.MaxRetries < 0 {
		return errors.Wrap(ErrConfig, "netbox.max_retries must not be negative")
	}

	return nil
}

// loadEnvFile loads variables from a dotenv file into the environment,
// variables already set in the environment are not overridden.
//
// A missing .env in the working directory is not an error, an explicitly given file is required.
func loadEnvFile(envFile string) error {
	if envFile != "" {
		return godotenv.Load(envFile)
	}

	if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}
