package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/metal-toolbox/nbsync/internal/api"
	"github.com/metal-toolbox/nbsync/internal/app"
	"github.com/metal-toolbox/nbsync/internal/events"
	"github.com/metal-toolbox/nbsync/internal/model"
	"github.com/metal-toolbox/nbsync/internal/netbox"
	"github.com/metal-toolbox/nbsync/internal/reconciler"
	"github.com/metal-toolbox/nbsync/internal/snapshot"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var cmdSync = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the devices in a snapshot into NetBox and exit",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSync(cmd.Context()); err != nil {
			log.Fatal(err)
		}
	},
}

// sync command flags
var (
	snapshotFile string
	filters      []string
	failOnError  bool
)

var (
	ErrSyncFailures = errors.New("one or more devices failed to sync")
)

func runSync(ctx context.Context) error {
	nbsync, termCh, err := app.New(model.AppKindSync, cfgFile, envFile, logLevel)
	if err != nil {
		return err
	}

	criteria, err := snapshot.ParseCriteria(filters)
	if err != nil {
		return err
	}

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

	rec, publisher, err := initReconciler(ctx, nbsync)
	if err != nil {
		return err
	}

	defer publisher.Close()

	if snapshotFile == "" {
		snapshotFile = nbsync.Config.SnapshotOptions.File
	}

	records := snapshot.FilterRecords(
		snapshot.NewLoader(snapshotFile, nbsync.Logger).Load(),
		criteria,
	)

	if len(records) == 0 {
		nbsync.Logger.WithField("snapshot", snapshotFile).Info("no devices to sync")
	}

	summary := rec.Run(ctx, records)

	out, err := json.MarshalIndent(&api.DiscoverResponse{Status: summary.Status(), Summary: summary}, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))

	if failOnError && summary.Failed > 0 {
		return errors.Wrap(ErrSyncFailures, summary.Err().Error())
	}

	return nil
}

// initReconciler returns a Reconciler with its default references resolved in NetBox.
func initReconciler(ctx context.Context, nbsync *app.App) (*reconciler.Reconciler, events.Publisher, error) {
	client, err := netbox.New(nbsync.Config.NetboxOptions, nbsync.Logger)
	if err != nil {
		return nil, nil, err
	}

	publisher, err := events.New(nbsync.Config.EventsOptions, nbsync.Logger)
	if err != nil {
		return nil, nil, err
	}

	rec, err := reconciler.New(
		ctx,
		client,
		nbsync.Config.DefaultsOptions.Bucket(),
		nbsync.Logger,
		reconciler.WithPublisher(publisher),
	)
	if err != nil {
		publisher.Close()
		return nil, nil, err
	}

	return rec, publisher, nil
}

func init() {
	cmdSync.PersistentFlags().StringVar(&snapshotFile, "snapshot", "", "The device snapshot file, JSON or YAML (default from configuration, devices.json)")
	cmdSync.PersistentFlags().StringSliceVar(&filters, "filter", nil, "Only sync devices with the attribute key=value, may be repeated")
	cmdSync.PersistentFlags().BoolVarP(&failOnError, "fail-on-error", "", false, "Exit with a non zero status when any device failed to sync")

	rootCmd.AddCommand(cmdSync)
}
