// Package bridge republishes between the in-process bus and a NATS
// subject space, letting a bus deployed on one process fan traffic out
// to peers elsewhere. It is opt-in and outside the bus's core scope
// (spec.md §9, Non-goals — "no distributed bus").
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aquamarinepk/evbus/bus"
	"github.com/aquamarinepk/evbus/log"
	"github.com/nats-io/nats.go"
)

// Config holds the NATS connection settings for a Bridge.
type Config struct {
	URL            string
	MaxReconnect   int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DefaultConfig returns sensible NATS connection defaults.
func DefaultConfig() Config {
	return Config{
		URL:            "nats://localhost:4222",
		MaxReconnect:   60,
		ReconnectWait:  time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

// wireEnvelope is the JSON shape carried over NATS subjects. It mirrors
// bus.Envelope but excludes Retain/ReplyTo/CorrelationID bookkeeping that
// only makes sense within a single process's router.
type wireEnvelope struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Data      any               `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Bridge republishes envelopes published on the local Router to a NATS
// subject derived from their topic (dots are valid NATS subject
// separators, so topics map onto subjects unchanged), and republishes
// inbound NATS messages on Router's own subjects back onto the bus.
// Grounded on the teacher's pubsub/nats.Broker: same Start/Stop lifecycle
// and connection-option wiring, generalized to move bus.Envelope values
// instead of the teacher's generic pubsub.Envelope.
type Bridge struct {
	router *bus.Router
	cfg    Config
	log    log.Logger

	mu            sync.RWMutex
	conn          *nats.Conn
	subscriptions map[string]*nats.Subscription
	cancelLocal   func()
	closed        bool
}

// New creates a Bridge for router. Call Start to connect to NATS.
func New(router *bus.Router, cfg Config, logger log.Logger) *Bridge {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Bridge{
		router:        router,
		cfg:           cfg,
		log:           logger.With("component", "bus.bridge"),
		subscriptions: make(map[string]*nats.Subscription),
	}
}

// Start connects to NATS. Implements the teacher's Startable convention.
func (b *Bridge) Start(ctx context.Context) error {
	opts := []nats.Option{
		nats.MaxReconnects(b.cfg.MaxReconnect),
		nats.ReconnectWait(b.cfg.ReconnectWait),
		nats.Timeout(b.cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				b.log.Errorf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.log.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(b.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("bridge: cannot connect to NATS: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	b.log.Infof("bridge connected to NATS at %s", b.cfg.URL)
	return nil
}

// Stop unsubscribes every remote and local forwarding hook and closes the
// NATS connection.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for subject, sub := range b.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			b.log.Errorf("cannot unsubscribe from %s: %v", subject, err)
		}
	}
	b.subscriptions = make(map[string]*nats.Subscription)

	if b.cancelLocal != nil {
		b.cancelLocal()
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.log.Info("bridge stopped")
	return nil
}

// ForwardLocal subscribes the bus's pattern on the local router and
// republishes every matching local publish to the corresponding NATS
// subject, so remote bridges can pick it up.
func (b *Bridge) ForwardLocal(clientID, pattern string) error {
	cancel, err := b.router.Subscribe(clientID, []string{pattern}, func(env bus.Envelope) {
		b.publishRemote(env)
	}, bus.SubscribeOptions{}, nil)
	if err != nil {
		return fmt.Errorf("bridge: cannot forward local pattern %q: %w", pattern, err)
	}

	b.mu.Lock()
	prev := b.cancelLocal
	b.cancelLocal = func() {
		if prev != nil {
			prev()
		}
		cancel()
	}
	b.mu.Unlock()
	return nil
}

func (b *Bridge) publishRemote(env bus.Envelope) {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return
	}

	wire := wireEnvelope{ID: env.ID, Topic: env.Topic, Data: env.Data, Timestamp: env.Timestamp, Headers: env.Headers}
	data, err := json.Marshal(wire)
	if err != nil {
		b.log.Errorf("bridge: cannot marshal envelope for %s: %v", env.Topic, err)
		return
	}
	if err := conn.Publish(env.Topic, data); err != nil {
		b.log.Errorf("bridge: cannot publish to NATS subject %s: %v", env.Topic, err)
	}
}

// ForwardRemote subscribes to a NATS subject and republishes every
// message it receives onto the local router under the same topic,
// tagged as coming from clientID.
func (b *Bridge) ForwardRemote(clientID, subject string) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("bridge: not connected")
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		var wire wireEnvelope
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			b.log.Errorf("bridge: cannot unmarshal message on subject %s: %v", subject, err)
			return
		}
		env := bus.Envelope{ID: wire.ID, Topic: wire.Topic, Data: wire.Data, Timestamp: wire.Timestamp, Headers: wire.Headers}
		if err := b.router.Publish(clientID, env); err != nil {
			b.log.Errorf("bridge: cannot republish subject %s onto bus: %v", subject, err)
		}
	})
	if err != nil {
		return fmt.Errorf("bridge: cannot subscribe to subject %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subscriptions[subject] = sub
	b.mu.Unlock()
	return nil
}
