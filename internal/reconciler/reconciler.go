// Package reconciler writes discovered device records into NetBox,
// creating devices that do not exist and updating the ones that do.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/metal-toolbox/nbsync/internal/events"
	"github.com/metal-toolbox/nbsync/internal/metrics"
	"github.com/metal-toolbox/nbsync/internal/model"
	"github.com/metal-toolbox/nbsync/internal/netbox"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	pkgName = "internal/reconciler"
)

var (
	ErrRunAborted = errors.New("reconcile run aborted")
	ErrDeviceID   = errors.New("device returned no ID")
)

// Option sets optional Reconciler parameters.
type Option func(*Reconciler)

// WithPublisher sets the publisher reconcile results are sent to.
func WithPublisher(publisher events.Publisher) Option {
	return func(r *Reconciler) {
		r.publisher = publisher
	}
}

// Reconciler reconciles device records against the inventory.
type Reconciler struct {
	inventory Inventory
	resolver  *Resolver
	defaults  model.DefaultReferences
	sites     *SiteCache
	publisher events.Publisher
	logger    *logrus.Logger

	// runMu serializes runs, two runs never write the same device at once.
	runMu sync.Mutex
}

// New returns a Reconciler with the default bucket objects resolved.
//
// An error is returned when any of the default references cannot be found or created,
// no device can be reconciled without them.
func New(ctx context.Context, inventory Inventory, bucket model.DefaultBucket, logger *logrus.Logger, opts ...Option) (*Reconciler, error) {
	r := &Reconciler{
		inventory: inventory,
		resolver:  NewResolver(inventory, logger),
		sites:     NewSiteCache(),
		publisher: &events.Noop{},
		logger:    logger,
	}

	for _, opt := range opts {
		opt(r)
	}

	defaults, err := r.resolver.ResolveDefaults(ctx, bucket)
	if err != nil {
		return nil, err
	}

	r.defaults = defaults

	r.logger.WithFields(logrus.Fields{
		"manufacturer": defaults.Manufacturer,
		"deviceType":   defaults.DeviceType,
		"role":         defaults.Role,
		"site":         defaults.Site,
	}).Info("default references resolved")

	return r, nil
}

// Defaults returns the resolved default references.
func (r *Reconciler) Defaults() model.DefaultReferences {
	return r.defaults
}

// SiteID returns the ID of the site named by the location.
//
// Sites are never created here, an unknown location resolves to the default site.
// Known sites and fallbacks are cached, lookup errors are not.
func (r *Reconciler) SiteID(ctx context.Context, location string) int {
	if location == "" {
		return r.defaults.Site
	}

	if id, ok := r.sites.Get(location); ok {
		registerSiteLookupMetric("cache_hit")
		return id
	}

	id, found, err := r.resolver.Find(ctx, netbox.Sites, location)
	if err != nil {
		registerSiteLookupMetric("error")

		r.logger.WithFields(logrus.Fields{
			"location": location,
			"err":      err.Error(),
		}).Warn("site lookup failed, using default site")

		return r.defaults.Site
	}

	if !found {
		registerSiteLookupMetric("fallback")

		r.logger.WithField("location", location).Debug("site not found, using default site")

		r.sites.Set(location, r.defaults.Site)

		return r.defaults.Site
	}

	registerSiteLookupMetric("found")
	r.sites.Set(location, id)

	return id
}

// Upsert creates or updates the device described by the record.
func (r *Reconciler) Upsert(ctx context.Context, record model.DeviceRecord) model.Result {
	record.ApplyNameFallback()

	result := model.Result{
		Name:         record.Name(),
		ManagementIP: record.ManagementIP(),
	}

	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"Reconciler.Upsert",
		trace.WithAttributes(attribute.String("device", result.Name)),
	)
	defer span.End()

	if err := record.Validate(); err != nil {
		return result.Failed(model.OutcomeValidationError, err)
	}

	payload := BuildPayload(result.Name, r.SiteID(ctx, record.Location()), r.defaults)

	existing, err := r.inventory.Find(ctx, netbox.Devices, result.Name)
	if err != nil {
		return result.Failed(model.OutcomeTransportError, err)
	}

	if existing != nil && existing.ID > 0 {
		return r.update(ctx, result, existing.ID, payload)
	}

	result.Action = model.ActionCreate

	created, err := r.inventory.Create(ctx, netbox.Devices, payload)
	if err != nil {
		if !netbox.IsConflict(err) {
			return result.Failed(model.OutcomeTransportError, err)
		}

		// created by someone else since the lookup
		existing, ferr := r.inventory.Find(ctx, netbox.Devices, result.Name)
		if ferr != nil {
			return result.Failed(model.OutcomeTransportError, ferr)
		}

		if existing == nil || existing.ID <= 0 {
			return result.Failed(model.OutcomeTransportError, err)
		}

		return r.update(ctx, result, existing.ID, payload)
	}

	if created == nil || created.ID <= 0 {
		return result.Failed(model.OutcomeTransportError, errors.Wrap(ErrDeviceID, result.Name))
	}

	return result.Succeeded(model.ActionCreate, created.ID)
}

func (r *Reconciler) update(ctx context.Context, result model.Result, id int, payload model.DevicePayload) model.Result {
	result.Action = model.ActionUpdate

	if _, err := r.inventory.Update(ctx, netbox.Devices, id, payload.WithoutName()); err != nil {
		return result.Failed(model.OutcomeTransportError, err)
	}

	return result.Succeeded(model.ActionUpdate, id)
}

// Run reconciles the records in order and returns the summary of results.
//
// A failed record does not stop the run, a cancelled context does, the records
// not yet reconciled are reported failed.
func (r *Reconciler) Run(ctx context.Context, records []model.DeviceRecord) *model.Summary {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	summary := model.NewSummary()

	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"Reconciler.Run",
		trace.WithAttributes(
			attribute.String("runID", summary.RunID.String()),
			attribute.Int("records", len(records)),
		),
	)
	defer span.End()

	le := r.logger.WithField("runID", summary.RunID.String())
	le.WithField("records", len(records)).Info("reconcile run started")

	for _, record := range records {
		var result model.Result

		if err := ctx.Err(); err != nil {
			record.ApplyNameFallback()

			result = model.Result{
				Name:         record.Name(),
				ManagementIP: record.ManagementIP(),
			}.Failed(model.OutcomeTransportError, fmt.Errorf("%w: %w", ErrRunAborted, err))
		} else {
			result = r.Upsert(ctx, record)
		}

		summary.Add(result)
		registerRecordMetric(result)
		r.logResult(le, result)
		r.publish(ctx, summary.RunID, result)
	}

	summary.Finish()

	status := summary.Status()
	metrics.RunCounter.With(prometheus.Labels{"status": status}).Inc()
	metrics.RunRunTimeSummary.With(prometheus.Labels{"status": status}).Observe(summary.Duration.Seconds())

	span.SetAttributes(
		attribute.Int("succeeded", summary.Succeeded),
		attribute.Int("failed", summary.Failed),
	)

	le.WithFields(logrus.Fields{
		"status":           status,
		"total":            summary.Total,
		"succeeded":        summary.Succeeded,
		"failed":           summary.Failed,
		"validationErrors": summary.CountOutcome(model.OutcomeValidationError),
		"transportErrors":  summary.CountOutcome(model.OutcomeTransportError),
		"duration":         summary.Duration.String(),
	}).Info("reconcile run completed")

	return summary
}

func (r *Reconciler) logResult(le *logrus.Entry, result model.Result) {
	le = le.WithFields(logrus.Fields{
		"device":       result.Name,
		"managementIP": result.ManagementIP,
		"action":       result.Action,
	})

	if result.OK() {
		le.WithField("deviceID", result.DeviceID).Info("device reconciled")
		return
	}

	le.WithFields(logrus.Fields{
		"outcome": result.Outcome,
		"err":     result.Error,
	}).Warn("device not reconciled")
}

func (r *Reconciler) publish(ctx context.Context, runID uuid.UUID, result model.Result) {
	event := &events.Event{
		RunID:     runID,
		Timestamp: time.Now(),
		Result:    result,
	}

	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.WithFields(logrus.Fields{
			"runID":  runID.String(),
			"device": result.Name,
			"err":    err.Error(),
		}).Debug("reconcile event not published")
	}
}

func registerRecordMetric(result model.Result) {
	metrics.RecordsCounter.With(
		prometheus.Labels{
			"action":  string(result.Action),
			"outcome": string(result.Outcome),
		},
	).Inc()
}

func registerSiteLookupMetric(result string) {
	metrics.SiteLookupCounter.With(prometheus.Labels{"result": result}).Inc()
}

