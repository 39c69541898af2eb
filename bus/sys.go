package bus

// Reserved sys.* topics, delivered through the same Subscribe path as
// any other topic (spec.md §6's external-interface table) instead of a
// side-channel callback. A client subscribes to these exactly like any
// other pattern: Subscribe([]string{"sys.error"}, h) or
// Subscribe([]string{"sys.*"}, h).
const (
	TopicSysReady         = "sys.ready"
	TopicSysError         = "sys.error"
	TopicSysStats         = "sys.stats"
	TopicSysClearRetained = "sys.clear-retained"
)

// SystemReady is the payload of sys.ready, published once per Start and
// retained so a late subscriber still observes it.
type SystemReady struct {
	Config Config
}

// ClearRetainedRequest is the expected Data shape for a sys.clear-retained
// publish. An empty Pattern clears every retained entry.
type ClearRetainedRequest struct {
	Pattern string
}

// publishSystem delivers a router-originated envelope straight to the
// subscription table, bypassing rate limiting and validation: these are
// notifications the router itself generates, not client input.
func (r *Router) publishSystem(topic string, data any) {
	env := Envelope{Topic: topic, Data: data}.enrich()
	r.mu.Lock()
	matching := r.matchingSubscriptionsLocked(topic)
	r.mu.Unlock()
	r.deliver(matching, env)
}

// publishSystemRetained is publishSystem plus a retained-store write, so
// WithRetained() subscribers that join after the fact still see it.
func (r *Router) publishSystemRetained(topic string, data any) {
	env := Envelope{Topic: topic, Data: data, Retain: true}.enrich()
	r.mu.Lock()
	r.retained.put(env)
	matching := r.matchingSubscriptionsLocked(topic)
	r.mu.Unlock()
	r.deliver(matching, env)
}

// handleSystemRequest services the two "client -> bus" sys.* operations.
// It has no effect for any other topic; ingress calls it unconditionally
// on every publish since the switch is cheap.
func (r *Router) handleSystemRequest(clientID string, msg Envelope) {
	switch msg.Topic {
	case TopicSysStats:
		r.replyStats(msg)
	case TopicSysClearRetained:
		r.handleClearRetainedRequest(clientID, msg)
	}
}

// replyStats answers a sys.stats request with the current Stats
// snapshot: to msg.ReplyTo if the caller is doing a request/reply, or
// broadcast back over sys.stats itself otherwise.
func (r *Router) replyStats(msg Envelope) {
	stats := r.Stats()
	if msg.ReplyTo != "" {
		r.publishSystem(msg.ReplyTo, stats)
		return
	}
	r.publishSystem(TopicSysStats, stats)
}

// handleClearRetainedRequest services a sys.clear-retained publish: it
// runs the same capability check as ClearRetainedAs, then replies with
// the number of entries cleared if the caller set ReplyTo.
func (r *Router) handleClearRetainedRequest(clientID string, msg Envelope) {
	var pattern string
	switch data := msg.Data.(type) {
	case ClearRetainedRequest:
		pattern = data.Pattern
	case map[string]any:
		if p, ok := data["pattern"].(string); ok {
			pattern = p
		}
	}

	n, err := r.ClearRetainedAs(clientID, pattern)
	if err != nil {
		r.emitSystemError(newSystemError(CodeCapabilityDenied,
			"client %s cannot clear-retained: %v", clientID, err))
		return
	}
	if msg.ReplyTo != "" {
		r.publishSystem(msg.ReplyTo, n)
	}
}
