package app

import (
	"os"
	"os/signal"
	"syscall"

	runtime "github.com/banzaicloud/logrus-runtime-formatter"
	"github.com/bombsimon/logrusr/v2"
	"github.com/metal-toolbox/nbsync/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

// App holds attributes for the nbsync application
type App struct {
	// Viper loads configuration parameters.
	v *viper.Viper
	// nbsync configuration.
	Config *Configuration
	// Logger is the app logger
	Logger *logrus.Logger
}

// New returns returns a new instance of the nbsync app
func New(appKind model.AppKind, cfgFile, envFile string, loglevel int) (*App, <-chan os.Signal, error) {
	app := &App{
		v:      viper.New(),
		Config: &Configuration{AppKind: appKind},
		Logger: logrus.New(),
	}

	if err := app.LoadConfiguration(cfgFile, envFile); err != nil {
		return nil, nil, err
	}

	switch model.LogLevel(loglevel, app.Config.LogLevel) {
	case model.LogLevelDebug:
		app.Logger.Level = logrus.DebugLevel
	case model.LogLevelTrace:
		app.Logger.Level = logrus.TraceLevel
	default:
		app.Logger.Level = logrus.InfoLevel
	}

	runtimeFormatter := &runtime.Formatter{
		ChildFormatter: &logrus.JSONFormatter{},
		File:           true,
		Line:           true,
		BaseNameOnly:   true,
	}

	app.Logger.SetFormatter(runtimeFormatter)

	// otel internal errors are logged through the app logger
	otel.SetLogger(logrusr.New(app.Logger))

	termCh := make(chan os.Signal, 1)

	// register for SIGINT, SIGTERM
	signal.Notify(termCh, syscall.SIGINT, syscall.SIGTERM)

	return app, termCh, nil
}
