// Package events publishes the result of each reconciled device record for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/metal-toolbox/nbsync/internal/app"
	"github.com/metal-toolbox/nbsync/internal/model"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	defaultConnectTimeout = 5 * time.Second
	reconnectWait         = 2 * time.Second
)

var (
	ErrPublisherInit = errors.New("error initializing event publisher")
	ErrPublish       = errors.New("error publishing event")
)

// Event is the message published for each reconciled device record.
type Event struct {
	RunID     uuid.UUID    `json:"run_id"`
	Timestamp time.Time    `json:"timestamp"`
	Result    model.Result `json:"result"`
}

// Publisher publishes reconcile events.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close()
}

// Noop is the Publisher used when no event broker is configured.
type Noop struct{}

func (n *Noop) Publish(context.Context, *Event) error { return nil }

func (n *Noop) Close() {}

// NatsPublisher publishes events as JSON messages on a NATS subject.
type NatsPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *logrus.Logger
}

// New returns a NATS Publisher when a NATS URL is configured, a Noop publisher otherwise.
func New(cfg *app.EventsOptions, logger *logrus.Logger) (Publisher, error) {
	if cfg == nil || cfg.NatsURL == "" {
		return &Noop{}, nil
	}

	if cfg.Subject == "" {
		return nil, errors.Wrap(ErrPublisherInit, "events subject not defined")
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	opts := []nats.Option{
		nats.Name(model.AppName),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	}

	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}

	conn, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, errors.Wrap(ErrPublisherInit, err.Error())
	}

	return &NatsPublisher{conn: conn, subject: cfg.Subject, logger: logger}, nil
}

// Publish implements the Publisher interface.
func (p *NatsPublisher) Publish(ctx context.Context, event *Event) error {
	if ctx.Err() != nil {
		return errors.Wrap(ErrPublish, ctx.Err().Error())
	}

	if p.conn == nil || p.conn.IsClosed() {
		return errors.Wrap(ErrPublish, "nats connection closed")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(ErrPublish, err.Error())
	}

	if err := p.conn.Publish(p.subject, payload); err != nil {
		return errors.Wrap(ErrPublish, err.Error())
	}

	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NatsPublisher) Close() {
	if p.conn == nil {
		return
	}

	if err := p.conn.Drain(); err != nil {
		p.logger.WithError(err).Debug("nats drain error")
		p.conn.Close()
	}
}
