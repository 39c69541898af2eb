// Package bus implements the in-process publish/subscribe router
// described in spec.md §4.1: pattern matching, a bounded retained
// store, per-client rate limiting, payload validation, and synchronous
// fanout.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/aquamarinepk/evbus/log"
	"github.com/aquamarinepk/evbus/validate"
)

// state is the router's own uninitialized -> ready -> disposed lifecycle
// (spec.md §4.1, "State machine").
type state int

const (
	stateUninitialized state = iota
	stateReady
	stateDisposed
)

// Handler is invoked synchronously for every delivery to a subscription.
type Handler func(Envelope)

// SubscribeOptions configures a Subscribe call.
type SubscribeOptions struct {
	RetainedRequested bool
}

// subscription is one (clientId, pattern) registration. Grounded on the
// map-of-handlers shape of pubsub.MemoryBroker, extended with the
// bookkeeping spec.md §3 requires (owner liveness, precomputed segments).
type subscription struct {
	id       uint64
	clientID string
	pattern  string
	segs     []string // nil for the bare global wildcard
	handler  Handler
	alive    func() bool // reports whether the owning Client is still reachable
}

// Stats mirrors the counters spec.md §4.1 requires the "stats" ingress
// operation to report.
type Stats struct {
	Published     uint64
	Delivered     uint64
	Dropped       uint64
	Evicted       uint64
	Swept         uint64
	Errors        uint64
	Subscriptions int
	Clients       int
	Retained      int
}

// Router is the bus's single, central dispatcher. One Router instance
// serves an entire process; see Default for the enforced single-router
// convention described in spec.md §9.
type Router struct {
	cfg Config
	log log.Logger

	mu            sync.Mutex
	state         state
	subs          []*subscription
	nextSubID     uint64
	clients       map[string]struct{}
	capabilities  map[string][]string
	verifier      *CapabilityVerifier
	retained      *retainedStore
	limiter       *rateLimiter
	readyCh       chan struct{}
	readyOnce     sync.Once
	stats         Stats

	stopSweep context.CancelFunc
	sweepDone chan struct{}
}

// New creates a Router in the uninitialized state. Call Start to make it
// ready for traffic.
func New(cfg Config, logger log.Logger) *Router {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Router{
		cfg:          cfg,
		log:          logger.With("component", "bus"),
		clients:      make(map[string]struct{}),
		capabilities: make(map[string][]string),
		retained:     newRetainedStore(cfg.MaxRetained),
		limiter:      newRateLimiter(cfg.RateLimit, cfg.RateLimitIdleGrace),
		readyCh:      make(chan struct{}),
	}
}

var (
	defaultRouter     *Router
	defaultRouterOnce sync.Once
)

// Default returns the process-wide singleton Router, constructing it
// with DefaultConfig on first use. This enforces "exactly one bus per
// document" from spec.md §9's first open question; New remains
// available for isolated or test routers that are never implicitly
// aliased to this singleton.
func Default() *Router {
	defaultRouterOnce.Do(func() {
		defaultRouter = New(DefaultConfig(), log.NewLogger("info"))
	})
	return defaultRouter
}

// Start announces readiness: it begins the periodic sweep and closes the
// internal ready signal that Client.Ready waits on. Implements the
// Startable convention used throughout the teacher
// (pubsub/nats.Broker.Start, db.Database.Start).
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == stateDisposed {
		r.mu.Unlock()
		return ErrRouterClosed
	}
	r.state = stateReady
	r.mu.Unlock()

	r.readyOnce.Do(func() { close(r.readyCh) })

	sweepCtx, cancel := context.WithCancel(ctx)
	r.stopSweep = cancel
	r.sweepDone = make(chan struct{})
	go r.sweepLoop(sweepCtx)

	r.publishSystemRetained(TopicSysReady, SystemReady{Config: r.cfg})

	r.log.Info("bus ready")
	return nil
}

// Stop disposes the router: it stops the sweep loop and marks the
// router disposed so further publishes return ErrRouterClosed.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state == stateDisposed {
		r.mu.Unlock()
		return nil
	}
	r.state = stateDisposed
	r.mu.Unlock()

	if r.stopSweep != nil {
		r.stopSweep()
		<-r.sweepDone
	}
	r.log.Info("bus disposed")
	return nil
}

// AllowGlobalWildcard reports whether this router's configured policy
// permits the bare "*" subscription pattern, so callers outside the
// router (e.g. Client.Matches) can pre-check a match under the same
// policy the router itself enforces.
func (r *Router) AllowGlobalWildcard() bool {
	return r.cfg.AllowGlobalWildcard
}

// Ready blocks until Start has been called (or ctx is cancelled).
func (r *Router) Ready(ctx context.Context) error {
	select {
	case <-r.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish validates and enriches msg, updates the retained store if
// Retain is set, then fans it out synchronously to every matching
// subscription in subscription order. Delivery completes before Publish
// returns, per spec.md §5.
func (r *Router) Publish(clientID string, msg Envelope) error {
	return r.ingress(clientID, msg)
}

// Request is semantically identical to Publish; ReplyTo/CorrelationID
// signal that a reply is expected, but the router treats it the same as
// any other publish (spec.md §4.1).
func (r *Router) Request(clientID string, msg Envelope) error {
	return r.ingress(clientID, msg)
}

// Reply fans out msg without ever touching the retained store, even if
// Retain happens to be true — unless the caller explicitly wants a
// reply retained, spec.md §4.1 treats replies as fanout-only.
func (r *Router) Reply(clientID string, msg Envelope) error {
	msg.Retain = false
	return r.ingress(clientID, msg)
}

func (r *Router) ingress(clientID string, msg Envelope) error {
	r.mu.Lock()
	if r.state == stateDisposed {
		r.mu.Unlock()
		return ErrRouterClosed
	}
	r.mu.Unlock()

	if !r.limiter.allow(clientID) {
		r.recordDrop()
		r.emitSystemError(newSystemError(CodeRateLimitExceeded,
			"client %s exceeded rate limit", clientID))
		return SystemError{Code: CodeRateLimitExceeded, Message: "rate limit exceeded"}
	}

	if err := validate.Topic(msg.Topic); err != nil {
		r.recordDrop()
		se := newSystemError(CodeTopicInvalid, "%v", err)
		r.emitSystemError(se)
		return se
	}

	limits := validate.Limits{MaxPayloadSize: r.cfg.MaxPayloadSize, MaxMessageSize: r.cfg.MaxMessageSize}
	headerSize := estimateHeaderSize(msg)
	if err := validate.Message(msg.Data, headerSize, limits); err != nil {
		r.recordDrop()
		code := CodeMessageInvalid
		switch err {
		case validate.ErrPayloadTooLarge:
			code = CodePayloadTooLarge
		case validate.ErrMessageTooLarge:
			code = CodeMessageTooLarge
		}
		se := newSystemError(code, "%v", err)
		r.emitSystemError(se)
		return se
	}

	msg = msg.enrich()

	r.handleSystemRequest(clientID, msg)

	r.mu.Lock()
	r.stats.Published++
	if msg.Retain {
		if evicted, did := r.retained.put(msg); did {
			r.stats.Evicted++
			r.log.Debugf("evicted retained entry for topic %q", evicted)
		}
	}
	matching := r.matchingSubscriptionsLocked(msg.Topic)
	r.mu.Unlock()

	r.deliver(matching, msg)
	return nil
}

// matchingSubscriptionsLocked returns the live subscriptions matching
// topic, in subscription order. Caller must hold r.mu.
func (r *Router) matchingSubscriptionsLocked(topic string) []*subscription {
	var out []*subscription
	for _, sub := range r.subs {
		if matchesSegments(splitPattern(topic), sub.pattern, sub.segs, r.cfg.AllowGlobalWildcard) {
			out = append(out, sub)
		}
	}
	return out
}

// deliver invokes each subscription's handler synchronously, isolating
// panics/errors per-subscriber per spec.md §4.1's failure semantics.
func (r *Router) deliver(subs []*subscription, msg Envelope) {
	for _, sub := range subs {
		if sub.alive != nil && !sub.alive() {
			continue
		}
		r.safeInvoke(sub, msg)
	}
}

func (r *Router) safeInvoke(sub *subscription, msg Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.mu.Lock()
			r.stats.Errors++
			r.mu.Unlock()
			r.log.Errorf("subscriber panic for client %s pattern %q: %v", sub.clientID, sub.pattern, rec)
			r.emitSystemError(newSystemError(CodeMessageInvalid,
				"handler for client %s pattern %q panicked: %v", sub.clientID, sub.pattern, rec))
		}
	}()
	sub.handler(msg)
	r.mu.Lock()
	r.stats.Delivered++
	r.mu.Unlock()
}

// Subscribe registers handler for every pattern in patterns under
// clientID. If opts.RetainedRequested, every currently retained entry
// matching any of the patterns is delivered synchronously before
// Subscribe returns (spec.md §4.1's "Retained replay").
//
// It returns a cancel function; calling it removes the subscriptions it
// created before returning control, satisfying the "late unsubscribe
// safety" property in spec.md §8.
func (r *Router) Subscribe(clientID string, patterns []string, handler Handler, opts SubscribeOptions, alive func() bool) (func(), error) {
	policy := validate.Policy{AllowGlobalWildcard: r.cfg.AllowGlobalWildcard}
	for _, p := range patterns {
		if err := validate.Pattern(p, policy); err != nil {
			se := newSystemError(CodeSubscriptionInvalid, "%v", err)
			r.emitSystemError(se)
			return func() {}, se
		}
	}

	r.mu.Lock()
	if r.state == stateDisposed {
		r.mu.Unlock()
		return func() {}, ErrRouterClosed
	}

	for _, p := range patterns {
		for _, existing := range r.subs {
			if existing.clientID == clientID && existing.pattern == p {
				r.mu.Unlock()
				return func() {}, ErrSubscriberExists
			}
		}
	}

	r.clients[clientID] = struct{}{}

	created := make([]*subscription, 0, len(patterns))
	for _, p := range patterns {
		r.nextSubID++
		sub := &subscription{
			id:       r.nextSubID,
			clientID: clientID,
			pattern:  p,
			segs:     splitPattern(p),
			handler:  handler,
			alive:    alive,
		}
		r.subs = append(r.subs, sub)
		created = append(created, sub)
	}
	r.stats.Subscriptions = len(r.subs)
	r.stats.Clients = len(r.clients)

	var replay []Envelope
	if opts.RetainedRequested {
		replay = r.retained.matching(patterns, r.cfg.AllowGlobalWildcard)
	}
	r.mu.Unlock()

	for _, env := range replay {
		r.safeInvoke(created[0], env)
	}

	cancel := func() {
		r.unsubscribeByID(created)
	}
	return cancel, nil
}

func (r *Router) unsubscribeByID(subs []*subscription) {
	ids := make(map[uint64]struct{}, len(subs))
	for _, s := range subs {
		ids[s.id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.subs[:0:0]
	for _, s := range r.subs {
		if _, match := ids[s.id]; match {
			continue
		}
		kept = append(kept, s)
	}
	r.subs = kept
	r.stats.Subscriptions = len(r.subs)
}

// Unsubscribe removes every (clientID, pattern) entry named in patterns.
func (r *Router) Unsubscribe(clientID string, patterns []string) {
	wanted := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		wanted[p] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.subs[:0:0]
	for _, s := range r.subs {
		if s.clientID == clientID {
			if _, match := wanted[s.pattern]; match {
				continue
			}
		}
		kept = append(kept, s)
	}
	r.subs = kept
	r.stats.Subscriptions = len(r.subs)
}

// SetCapabilityVerifier configures the verifier used to grant elevated
// capabilities to clients presenting a signed token in Hello.
func (r *Router) SetCapabilityVerifier(v *CapabilityVerifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifier = v
}

// Hello registers clientID in the client directory. If capabilityToken
// is non-empty and a CapabilityVerifier is configured, the token is
// verified and its granted capabilities recorded for clientID.
func (r *Router) Hello(clientID string, capabilityToken string) error {
	r.mu.Lock()
	r.clients[clientID] = struct{}{}
	r.stats.Clients = len(r.clients)
	verifier := r.verifier
	r.mu.Unlock()

	if capabilityToken == "" || verifier == nil {
		return nil
	}

	claims, err := verifier.Verify(capabilityToken)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.capabilities[clientID] = claims.Capabilities
	r.mu.Unlock()
	return nil
}

func (r *Router) hasCapability(clientID, capability string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.capabilities[clientID] {
		if c == capability {
			return true
		}
	}
	return false
}

// ClearRetained removes retained entries matching pattern, or every
// retained entry if pattern is empty. It performs no capability check;
// use ClearRetainedAs to enforce one.
func (r *Router) ClearRetained(pattern string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retained.clear(pattern, r.cfg.AllowGlobalWildcard)
}

// ClearRetainedAs is the capability-gated entry point for clearing
// retained messages: when a CapabilityVerifier is configured, clientID
// must have been granted CapabilityClearRetained via Hello.
func (r *Router) ClearRetainedAs(clientID, pattern string) (int, error) {
	r.mu.Lock()
	verifier := r.verifier
	r.mu.Unlock()

	if verifier != nil && !r.hasCapability(clientID, CapabilityClearRetained) {
		return 0, ErrCapabilityDenied
	}
	return r.ClearRetained(pattern), nil
}

// Stats returns a snapshot of the router's counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Subscriptions = len(r.subs)
	s.Clients = len(r.clients)
	s.Retained = r.retained.len()
	return s
}

// emitSystemError increments the error counter and delivers se to every
// subscriber matching sys.error (or a wider sys.* pattern), exactly the
// way any other publish reaches its subscribers.
func (r *Router) emitSystemError(se SystemError) {
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()

	r.publishSystem(TopicSysError, se)
}

func (r *Router) recordDrop() {
	r.mu.Lock()
	r.stats.Dropped++
	r.mu.Unlock()
}

func (r *Router) sweepLoop(ctx context.Context) {
	defer close(r.sweepDone)

	interval := r.cfg.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep walks the subscription table dropping entries whose owner is no
// longer reachable, decays idle rate-limit buckets, and reports counts
// via Stats.Swept (spec.md §4.1's "Periodic sweep").
func (r *Router) sweep() {
	r.mu.Lock()
	kept := r.subs[:0:0]
	reaped := 0
	for _, s := range r.subs {
		if s.alive != nil && !s.alive() {
			reaped++
			continue
		}
		kept = append(kept, s)
	}
	r.subs = kept
	r.stats.Subscriptions = len(r.subs)
	r.mu.Unlock()

	decayed := r.limiter.sweep()

	r.mu.Lock()
	r.stats.Swept += uint64(reaped + decayed)
	r.mu.Unlock()

	if reaped > 0 || decayed > 0 {
		r.log.Debugf("sweep reaped %d dead subscriptions, decayed %d rate buckets", reaped, decayed)
	}
}

func estimateHeaderSize(msg Envelope) int {
	size := len(msg.Topic) + len(msg.ID) + len(msg.ReplyTo) + len(msg.CorrelationID)
	for k, v := range msg.Headers {
		size += len(k) + len(v)
	}
	return size
}
