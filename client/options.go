package client

import (
	"time"

	"github.com/aquamarinepk/evbus/client/persistence"
)

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithSessionStore gives the client a durable session store so its
// accumulated subscription patterns survive a process restart. The
// default, set by New, is persistence.NoopStore.
func WithSessionStore(store persistence.Store) ClientOption {
	return func(c *Client) {
		if store != nil {
			c.store = store
		}
	}
}

// SubscribeOption configures a Client.Subscribe call. Grounded on the
// teacher's httpclient.Option / config.Option functional-options shape.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	retained bool
}

// WithRetained requests synchronous replay of currently retained
// messages matching the subscription's patterns before Subscribe
// returns.
func WithRetained() SubscribeOption {
	return func(o *subscribeOptions) {
		o.retained = true
	}
}

// RequestOption configures a Client.Request call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	timeout time.Duration
	cancel  <-chan struct{}
}

// DefaultRequestTimeout is used when a Request call does not supply
// WithTimeout.
const DefaultRequestTimeout = 30 * time.Second

// WithTimeout bounds how long Request waits for a reply.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithCancellationHandle lets the caller abort a pending Request early
// by closing ch, independent of ctx.
func WithCancellationHandle(ch <-chan struct{}) RequestOption {
	return func(o *requestOptions) {
		o.cancel = ch
	}
}
