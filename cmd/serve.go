package cmd

import (
	"context"
	"log"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/metal-toolbox/nbsync/internal/api"
	"github.com/metal-toolbox/nbsync/internal/app"
	"github.com/metal-toolbox/nbsync/internal/metrics"
	"github.com/metal-toolbox/nbsync/internal/model"
	"github.com/metal-toolbox/nbsync/internal/snapshot"
	"github.com/metal-toolbox/nbsync/internal/version"
	"github.com/spf13/cobra"
)

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Serve the discover endpoint, each request syncs the device snapshot into NetBox",
	Run: func(cmd *cobra.Command, args []string) {
		runServer(cmd.Context())
	},
}

// serve command flags
var (
	listenAddress string
)

func runServer(ctx context.Context) {
	nbsync, termCh, err := app.New(model.AppKindServer, cfgFile, envFile, logLevel)
	if err != nil {
		log.Fatal(err)
	}

	// serve metrics endpoint
	metrics.ListenAndServe(nbsync.Config.MetricsOptions.ListenAddress)
	version.ExportBuildInfoMetric()

	ctx, otelShutdown := otelinit.InitOpenTelemetry(ctx, model.AppName)
	defer otelShutdown(ctx)

	// Setup cancel context with cancel func.
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	// routine listens for termination signal and cancels the context
	go func() {
		<-termCh
		nbsync.Logger.Info("got TERM signal, exiting...")
		cancelFunc()
	}()

	// the default references are resolved before the endpoint is served
	rec, publisher, err := initReconciler(ctx, nbsync)
	if err != nil {
		nbsync.Logger.Fatal(err)
	}

	defer publisher.Close()

	if listenAddress == "" {
		listenAddress = nbsync.Config.ServerOptions.ListenAddress
	}

	server := api.New(
		listenAddress,
		snapshot.NewLoader(nbsync.Config.SnapshotOptions.File, nbsync.Logger),
		rec,
		nbsync.Logger,
	)

	if err := server.ListenAndServe(ctx); err != nil {
		nbsync.Logger.Fatal(err)
	}
}

func init() {
	cmdServe.PersistentFlags().StringVar(&listenAddress, "listen-address", "", "The address to serve the discover endpoint on (default from configuration, 0.0.0.0:8000)")

	rootCmd.AddCommand(cmdServe)
}
