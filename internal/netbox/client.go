package netbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/jpillora/backoff"
	"github.com/metal-toolbox/nbsync/internal/app"
	"github.com/metal-toolbox/nbsync/internal/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	pkgName = "internal/netbox"

	apiPath = "/api/dcim/"

	// maxErrorBody is the most bytes of an error response kept in an APIError.
	maxErrorBody = 4096

	defaultTimeout      = 30 * time.Second
	defaultRetryWaitMin = 1 * time.Second
	defaultRetryWaitMax = 30 * time.Second
)

type ctxKey int

// noRetryKey marks requests that must not be retried, creates are not idempotent.
const noRetryKey ctxKey = iota

// Client is a NetBox DCIM REST API client.
type Client struct {
	baseURL string
	token   string
	client  *retryablehttp.Client
	logger  *logrus.Logger
}

// New returns a NetBox client with retries, request timeouts and telemetry wrapped in.
func New(cfg *app.NetboxOptions, logger *logrus.Logger) (*Client, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, errors.Wrap(app.ErrConfig, "netbox endpoint not defined")
	}

	if cfg.Token == "" {
		return nil, errors.Wrap(app.ErrConfig, "netbox token not defined")
	}

	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, errors.Wrap(app.ErrConfig, "netbox endpoint URL error: "+err.Error())
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	// nolint:gosec // skipping verification is opt-in, for NetBox instances with self signed certificates.
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}

	// init retryable http client
	retryableClient := retryablehttp.NewClient()

	// the otel transport collects telemetry on each attempt
	retryableClient.HTTPClient = &http.Client{
		Transport: otelhttp.NewTransport(transport),
		Timeout:   timeout,
	}

	retryableClient.RetryMax = cfg.MaxRetries
	retryableClient.RetryWaitMin = cfg.RetryWaitMin
	retryableClient.RetryWaitMax = cfg.RetryWaitMax

	if retryableClient.RetryWaitMin <= 0 {
		retryableClient.RetryWaitMin = defaultRetryWaitMin
	}

	if retryableClient.RetryWaitMax <= 0 {
		retryableClient.RetryWaitMax = defaultRetryWaitMax
	}

	retryableClient.CheckRetry = checkRetry
	retryableClient.Backoff = jitterBackoff

	// the final response is returned as is, non 2xx responses are turned into an APIError here.
	retryableClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	// disable default debug logging on the retryable client
	if logger.Level < logrus.DebugLevel {
		retryableClient.Logger = nil
	} else {
		retryableClient.Logger = logger
	}

	baseURL := strings.TrimRight(cfg.Endpoint, "/")
	baseURL = strings.TrimSuffix(baseURL, "/api")

	return &Client{
		baseURL: baseURL,
		token:   cfg.Token,
		client:  retryableClient,
		logger:  logger,
	}, nil
}

// checkRetry retries idempotent requests on connection errors, 429 and 5xx responses.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if noRetry, _ := ctx.Value(noRetryKey).(bool); noRetry {
		return false, nil
	}

	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// jitterBackoff returns the wait before the next attempt,
// a Retry-After header sent by the server takes precedence.
func jitterBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil && resp.Header.Get("Retry-After") != "" {
		return retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	}

	b := &backoff.Backoff{
		Min:    min,
		Max:    max,
		Factor: 2,
		Jitter: true,
	}

	return b.ForAttempt(float64(attemptNum))
}

// Find returns the first object in the collection matching the name, nil when there is no match.
func (c *Client) Find(ctx context.Context, collection Collection, name string) (*Object, error) {
	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"Client.Find",
		trace.WithAttributes(attribute.String("collection", string(collection))),
	)
	defer span.End()

	params := url.Values{}
	params.Set(collection.LookupField(), name)

	list := &ListResponse{}
	if err := c.do(ctx, http.MethodGet, collection, c.collectionURL(collection)+"?"+params.Encode(), nil, list); err != nil {
		return nil, err
	}

	if list.Count == 0 || len(list.Results) == 0 {
		return nil, nil
	}

	return &list.Results[0], nil
}

// Create creates an object in the collection and returns it.
func (c *Client) Create(ctx context.Context, collection Collection, payload interface{}) (*Object, error) {
	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"Client.Create",
		trace.WithAttributes(attribute.String("collection", string(collection))),
	)
	defer span.End()

	// creates are not retried, a retried create may succeed twice.
	ctx = context.WithValue(ctx, noRetryKey, true)

	obj := &Object{}
	if err := c.do(ctx, http.MethodPost, collection, c.collectionURL(collection), payload, obj); err != nil {
		return nil, err
	}

	return obj, nil
}

// Update partially updates the object identified by id with the payload.
func (c *Client) Update(ctx context.Context, collection Collection, id int, payload interface{}) (*Object, error) {
	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"Client.Update",
		trace.WithAttributes(
			attribute.String("collection", string(collection)),
			attribute.Int("id", id),
		),
	)
	defer span.End()

	obj := &Object{}
	if err := c.do(ctx, http.MethodPatch, collection, c.objectURL(collection, id), payload, obj); err != nil {
		return nil, err
	}

	return obj, nil
}

func (c *Client) collectionURL(collection Collection) string {
	return c.baseURL + apiPath + string(collection) + "/"
}

func (c *Client) objectURL(collection Collection, id int) string {
	return c.collectionURL(collection) + strconv.Itoa(id) + "/"
}

func (c *Client) do(ctx context.Context, method string, collection Collection, endpoint string, payload, out interface{}) error {
	var body interface{}

	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "netbox request payload marshal error")
		}

		body = b
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return errors.Wrap(ErrTransport, err.Error())
	}

	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.registerErrorMetric(collection, method, "transport")

		return errors.Wrap(ErrTransport, method+" "+endpoint+": "+err.Error())
	}

	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.registerErrorMetric(collection, method, strconv.Itoa(resp.StatusCode))

		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(detail)),
		}

		c.logger.WithFields(logrus.Fields{
			"method": method,
			"url":    endpoint,
			"status": resp.StatusCode,
			"detail": apiErr.Body,
		}).Debug("netbox request error")

		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(ErrTransport, "response read error: "+err.Error())
	}

	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}

	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrap(ErrDecode, err.Error())
	}

	return nil
}

func (c *Client) registerErrorMetric(collection Collection, method, kind string) {
	metrics.NetboxRequestErrorCount.With(
		prometheus.Labels{
			"collection": string(collection),
			"method":     method,
			"kind":       kind,
		},
	).Inc()
}
