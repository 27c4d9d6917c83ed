// Package events publishes change notifications for applied updates
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Op names the kind of change an event reports
type Op string

const (
	OpUpdate  Op = "update"
	OpReplace Op = "replace"
	OpAppend  Op = "append"
	OpRemove  Op = "remove"
)

// Event describes a change that was applied to a resource
type Event struct {
	Type         string    `json:"type"`
	ID           string    `json:"id"`
	Relationship string    `json:"relationship,omitempty"`
	Op           Op        `json:"op"`
	At           time.Time `json:"at"`
}

// Notifier receives change events. Implementations must not block the
// request for long and must not fail it.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop discards events
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// DefaultSubjectPrefix is used when no prefix is configured
const DefaultSubjectPrefix = "endpoints"

// Subject returns the subject an event for typ is published on
func Subject(prefix, typ string) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return fmt.Sprintf("%s.%s.updated", prefix, typ)
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes events as JSON on NATS core subjects
type NATSNotifier struct {
	pub    publisher
	conn   *nats.Conn
	prefix string
}

// Config holds NATS connection settings
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// NewNATSNotifier connects to NATS
func NewNATSNotifier(cfg Config) (*NATSNotifier, error) {
	name := cfg.Name
	if name == "" {
		name = "endpoints"
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info().Str("url", conn.ConnectedUrl()).Msg("nats connected")
	return &NATSNotifier{pub: conn, conn: conn, prefix: cfg.SubjectPrefix}, nil
}

// Notify publishes ev. Failures are logged.
func (n *NATSNotifier) Notify(ctx context.Context, ev Event) {
	logger := log.Ctx(ctx)
	subject := Subject(n.prefix, ev.Type)

	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error().Err(err).Str("subject", subject).Msg("failed to encode change event")
		return
	}
	if err := n.pub.Publish(subject, data); err != nil {
		logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish change event")
		return
	}
	logger.Debug().Str("subject", subject).Str("id", ev.ID).Str("op", string(ev.Op)).Msg("change event published")
}

// Close drains the connection
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
