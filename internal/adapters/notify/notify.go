// Package notify delivers verification progress events to logs and to a NATS subject
package notify

import (
	"context"
	"encoding/json"
	"time"

	"miping/internal/platform/config"
	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/services/sampler/domain"

	"github.com/nats-io/nats.go"
)

// Log writes every event as a structured log line
type Log struct{}

// Progress implements domain.Notifier
func (Log) Progress(ctx context.Context, ev domain.ProgressEvent) {
	logger.C(ctx).Info().
		Str("pool", string(ev.Pool)).
		Int("verified", ev.Verified).
		Int("quota", ev.Quota).
		Int("inspected", ev.Inspected).
		Bool("done", ev.Done).
		Msg("verification progress")
}

// Multi fans an event out to every notifier in order
type Multi []domain.Notifier

// Progress implements domain.Notifier
func (m Multi) Progress(ctx context.Context, ev domain.ProgressEvent) {
	for _, n := range m {
		if n != nil {
			n.Progress(ctx, ev)
		}
	}
}

// publisher is the part of *nats.Conn the notifier needs
type publisher interface {
	Publish(subj string, data []byte) error
}

// NATSOptions configures the NATS connection
type NATSOptions struct {
	URL            string
	Subject        string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// NATSFromConfig reads NATS_* style keys from c; an empty URL disables publishing
func NATSFromConfig(c config.Conf) NATSOptions {
	return NATSOptions{
		URL:            c.MayString("URL", ""),
		Subject:        c.MayString("SUBJECT", "miping"),
		MaxReconnects:  c.MayInt("MAX_RECONNECTS", 10),
		ReconnectWait:  c.MayDuration("RECONNECT_WAIT", 2*time.Second),
		ConnectTimeout: c.MayDuration("CONNECT_TIMEOUT", 5*time.Second),
	}
}

// NATS publishes events as JSON on "<subject>.progress.<region>"
type NATS struct {
	pub     publisher
	subject string
	close   func()
}

// event is the wire form of a domain.ProgressEvent
type event struct {
	RunID     string    `json:"run_id"`
	Region    string    `json:"region"`
	Pool      string    `json:"pool"`
	Verified  int       `json:"verified"`
	Quota     int       `json:"quota"`
	Inspected int       `json:"inspected"`
	Done      bool      `json:"done"`
	At        time.Time `json:"at"`
}

// DialNATS connects to o.URL
func DialNATS(o NATSOptions) (*NATS, error) {
	if o.URL == "" {
		return nil, perr.Configf("nats url is empty")
	}
	log := logger.Named("nats")
	nc, err := nats.Connect(o.URL,
		nats.Name("miping-sampler"),
		nats.MaxReconnects(o.MaxReconnects),
		nats.ReconnectWait(o.ReconnectWait),
		nats.Timeout(o.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Debug().Msg("nats connection closed")
		}),
	)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "connect to nats at %s", o.URL)
	}
	n := newNATS(nc, o.Subject)
	n.close = func() {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("nats drain failed")
		}
	}
	return n, nil
}

func newNATS(pub publisher, subject string) *NATS {
	if subject == "" {
		subject = "miping"
	}
	return &NATS{pub: pub, subject: subject}
}

// Subject is the subject events for region are published on
func (n *NATS) Subject(region string) string { return n.subject + ".progress." + region }

// Progress implements domain.Notifier. Publish failures are logged, never returned
func (n *NATS) Progress(ctx context.Context, ev domain.ProgressEvent) {
	data, err := json.Marshal(event{
		RunID:     ev.RunID,
		Region:    ev.Region,
		Pool:      string(ev.Pool),
		Verified:  ev.Verified,
		Quota:     ev.Quota,
		Inspected: ev.Inspected,
		Done:      ev.Done,
		At:        ev.At.UTC(),
	})
	if err != nil {
		logger.C(ctx).Warn().Err(err).Msg("progress event not encoded")
		return
	}
	if err := n.pub.Publish(n.Subject(ev.Region), data); err != nil {
		logger.C(ctx).Warn().Err(err).Str("subject", n.Subject(ev.Region)).Msg("progress event not published")
	}
}

// Close flushes pending events and closes the connection
func (n *NATS) Close() {
	if n.close != nil {
		n.close()
	}
}
