// Package client is the bus-facing facade application components use
// instead of talking to a *bus.Router directly: it tracks its own
// subscriptions for clean disposal and correlates request/reply traffic
// over ephemeral reply topics.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aquamarinepk/evbus/bus"
	"github.com/aquamarinepk/evbus/client/persistence"
	"github.com/aquamarinepk/evbus/log"
	"github.com/aquamarinepk/evbus/model"
)

// Handler processes a delivered envelope.
type Handler func(bus.Envelope)

type pendingRequest struct {
	resultCh chan bus.Envelope
	aborted  chan struct{}
	cancel   func()
}

// Client is one participant's view of a Router: a stable ID, its own
// tracked subscriptions, and a table of in-flight requests awaiting a
// reply. Grounded on pubsub/nats.Broker's subscription-table shape,
// generalized with the request/reply correlation from
// httpclient.Client.Do's retry-loop-over-ctx.Done() pattern.
type Client struct {
	id     string
	router *bus.Router
	log    log.Logger
	store  persistence.Store

	mu               sync.Mutex
	subs             []func()
	trackedPatterns  []string
	sessionCreatedAt time.Time
	sessionUpdatedAt time.Time
	pending          map[string]*pendingRequest
	closed           bool
}

// New creates a Client bound to router with a freshly generated ID.
// With WithSessionStore, every Subscribe call persists the client's
// accumulated pattern set so Resume can restore it across a restart.
func New(router *bus.Router, logger log.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	id := model.NewID()
	c := &Client{
		id:      id,
		router:  router,
		log:     logger.With("component", "client", "client_id", id),
		store:   persistence.NoopStore{},
		pending: make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the client's stable identifier.
func (c *Client) ID() string { return c.id }

// Ready blocks until the underlying router has started, or ctx ends.
func (c *Client) Ready(ctx context.Context) error {
	return c.router.Ready(ctx)
}

// Publish sends data on topic. If retain, the router keeps it as the
// topic's retained message for future subscribers.
func (c *Client) Publish(topic string, data any, retain bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return bus.ErrClientDisposed
	}
	c.mu.Unlock()

	env := bus.NewEnvelope(topic, data)
	env.Retain = retain
	return c.router.Publish(c.id, env)
}

// Subscribe registers handler for every pattern in patterns and tracks
// the resulting cancel function so Close can tear it down later. The
// returned cancel function can also be called directly to unsubscribe
// early.
func (c *Client) Subscribe(patterns []string, handler Handler, opts ...SubscribeOption) (func(), error) {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}, bus.ErrClientDisposed
	}
	c.mu.Unlock()

	cancel, err := c.router.Subscribe(c.id, patterns, bus.Handler(handler), bus.SubscribeOptions{
		RetainedRequested: o.retained,
	}, c.isAlive)
	if err != nil {
		return func() {}, err
	}

	c.mu.Lock()
	c.subs = append(c.subs, cancel)
	c.trackedPatterns = append(c.trackedPatterns, patterns...)
	snapshot := append([]string{}, c.trackedPatterns...)
	c.mu.Unlock()

	c.persistSession(snapshot)

	return cancel, nil
}

// Resume loads the client's last-persisted session, if any, and
// re-subscribes handler to its recorded patterns. It returns the
// restored patterns, or a nil slice if no session was on record.
func (c *Client) Resume(ctx context.Context, handler Handler, opts ...SubscribeOption) ([]string, error) {
	session, err := c.store.Load(ctx, c.id)
	if err == persistence.ErrSessionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("client: cannot load session: %w", err)
	}
	if len(session.Patterns) == 0 {
		return nil, nil
	}
	if _, err := c.Subscribe(session.Patterns, handler, opts...); err != nil {
		return nil, err
	}
	return session.Patterns, nil
}

// persistSession saves the client's current pattern set through its
// session store, carrying its created_at forward across calls the way
// model.SetCreated/SetUpdated do for any other durable record.
func (c *Client) persistSession(patterns []string) {
	c.mu.Lock()
	if c.sessionCreatedAt.IsZero() {
		model.SetCreated(&c.sessionCreatedAt, &c.sessionUpdatedAt)
	} else {
		model.SetUpdated(&c.sessionUpdatedAt)
	}
	createdAt, updatedAt := c.sessionCreatedAt, c.sessionUpdatedAt
	c.mu.Unlock()

	session := persistence.Session{
		ClientID:  c.id,
		Patterns:  patterns,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.Save(ctx, session); err != nil {
		c.log.Errorf("persist session: %v", err)
	}
}

// Request publishes data on topic and waits for a single reply
// correlated by an ephemeral reply topic. It returns bus.ErrRequestTimeout
// if no reply arrives within the configured timeout.
func (c *Client) Request(ctx context.Context, topic string, data any, opts ...RequestOption) (bus.Envelope, error) {
	o := requestOptions{timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return bus.Envelope{}, bus.ErrClientDisposed
	}
	c.mu.Unlock()

	correlationID := model.NewID()
	replyTopic := fmt.Sprintf("_reply.%s.%s", c.id, correlationID)

	resultCh := make(chan bus.Envelope, 1)
	var once sync.Once
	var subCancel func()

	subCancel, err := c.router.Subscribe(c.id, []string{replyTopic}, func(env bus.Envelope) {
		once.Do(func() {
			select {
			case resultCh <- env:
			default:
			}
		})
	}, bus.SubscribeOptions{}, c.isAlive)
	if err != nil {
		return bus.Envelope{}, fmt.Errorf("client: cannot subscribe to reply topic: %w", err)
	}

	aborted := make(chan struct{})
	c.mu.Lock()
	c.pending[correlationID] = &pendingRequest{resultCh: resultCh, aborted: aborted, cancel: subCancel}
	c.mu.Unlock()

	cleanup := func() {
		subCancel()
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
	}
	defer cleanup()

	req := bus.NewEnvelope(topic, data)
	req.ReplyTo = replyTopic
	req.CorrelationID = correlationID
	if err := c.router.Request(c.id, req); err != nil {
		return bus.Envelope{}, err
	}

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case env := <-resultCh:
		return env, nil
	case <-timer.C:
		return bus.Envelope{}, bus.ErrRequestTimeout
	case <-ctx.Done():
		return bus.Envelope{}, ctx.Err()
	case <-o.cancel:
		return bus.Envelope{}, bus.ErrRequestTimeout
	case <-aborted:
		return bus.Envelope{}, bus.ErrClientDisposed
	}
}

// Reply answers an incoming request envelope with data, addressed to its
// ReplyTo topic and tagged with its CorrelationID.
func (c *Client) Reply(to bus.Envelope, data any) error {
	if to.ReplyTo == "" {
		return fmt.Errorf("client: envelope has no ReplyTo topic to reply to")
	}
	reply := bus.NewEnvelope(to.ReplyTo, data)
	reply.CorrelationID = to.CorrelationID
	return c.router.Reply(c.id, reply)
}

// Hello announces the client to the router. capabilityToken is an
// optional signed token (see bus.CapabilityVerifier) granting elevated
// capabilities such as clearing retained messages.
func (c *Client) Hello(capabilityToken string) error {
	return c.router.Hello(c.id, capabilityToken)
}

// ClearRetained clears retained messages matching pattern, subject to
// whatever capability the client was granted via Hello.
func (c *Client) ClearRetained(pattern string) (int, error) {
	return c.router.ClearRetainedAs(c.id, pattern)
}

// Matches reports whether pattern would match topic under this client's
// router's actual wildcard policy, without needing a live subscription.
func (c *Client) Matches(topic, pattern string) bool {
	return bus.Matches(topic, pattern, c.router.AllowGlobalWildcard())
}

// Close cancels every tracked subscription and aborts every pending
// request, mirroring pubsub/nats.Broker.Close's "unsubscribe everything,
// then release" shape.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := append([]func(){}, c.subs...)
	pending := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		pending = append(pending, p)
	}
	c.subs = nil
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	for _, p := range pending {
		p.cancel()
		close(p.aborted)
	}

	c.log.Debug("client closed")
	return nil
}

func (c *Client) isAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}
