package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aquamarinepk/evbus/log"
)

func testRouter(t *testing.T, cfg Config) *Router {
	t.Helper()
	r := New(cfg, log.NewNoopLogger())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { r.Stop(context.Background()) })
	return r
}

func TestPublishFansOutToMatchingSubscribers(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	var mu sync.Mutex
	var received []string
	cancel, err := r.Subscribe("client-a", []string{"widgets.created"}, func(env Envelope) {
		mu.Lock()
		received = append(received, env.Topic)
		mu.Unlock()
	}, SubscribeOptions{}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := r.Publish("publisher", NewEnvelope("widgets.created", map[string]any{"id": 1})); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "widgets.created" {
		t.Fatalf("expected one delivery to widgets.created, got %v", received)
	}
}

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	var mu sync.Mutex
	var order []string
	sub := func(name string) {
		cancel, err := r.Subscribe(name, []string{"topic"}, func(Envelope) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}, SubscribeOptions{}, nil)
		if err != nil {
			t.Fatalf("Subscribe(%s): %v", name, err)
		}
		t.Cleanup(cancel)
	}
	sub("first")
	sub("second")
	sub("third")

	if err := r.Publish("publisher", NewEnvelope("topic", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestRetainedMessageReplaysOnSubscribe(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	env := NewEnvelope("status.online", true)
	env.Retain = true
	if err := r.Publish("publisher", env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var mu sync.Mutex
	var got []Envelope
	cancel, err := r.Subscribe("late-joiner", []string{"status.online"}, func(e Envelope) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}, SubscribeOptions{RetainedRequested: true}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Topic != "status.online" {
		t.Fatalf("expected retained replay of status.online, got %v", got)
	}
}

func TestRetainedStoreEvictsOldestBeyondCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetained = 2
	r := testRouter(t, cfg)

	for _, topic := range []string{"a", "b", "c"} {
		env := NewEnvelope(topic, nil)
		env.Retain = true
		if err := r.Publish("publisher", env); err != nil {
			t.Fatalf("Publish(%s): %v", topic, err)
		}
	}

	if got := r.Stats().Retained; got != 2 {
		t.Fatalf("expected 2 retained entries after eviction, got %d", got)
	}
	if _, ok := r.retained.get("a"); ok {
		t.Fatal("expected oldest retained entry \"a\" to have been evicted")
	}
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	calls := 0
	cancel, err := r.Subscribe("client-a", []string{"topic"}, func(Envelope) {
		calls++
	}, SubscribeOptions{}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	r.Publish("publisher", NewEnvelope("topic", nil))
	cancel()
	r.Publish("publisher", NewEnvelope("topic", nil))

	if calls != 1 {
		t.Fatalf("expected exactly 1 delivery before unsubscribe, got %d", calls)
	}
}

func TestLateUnsubscribeDoesNotPanicOnInFlightDelivery(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	cancel, err := r.Subscribe("client-a", []string{"topic"}, func(Envelope) {}, SubscribeOptions{}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()
	cancel() // calling cancel twice must be safe

	if err := r.Publish("publisher", NewEnvelope("topic", nil)); err != nil {
		t.Fatalf("Publish after unsubscribe: %v", err)
	}
}

func TestGlobalWildcardRequiresPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowGlobalWildcard = false
	r := testRouter(t, cfg)

	_, err := r.Subscribe("client-a", []string{"*"}, func(Envelope) {}, SubscribeOptions{}, nil)
	if err == nil {
		t.Fatal("expected subscribing to the bare global wildcard to fail when disabled")
	}
}

func TestSegmentWildcardMatchesSingleSegment(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	var mu sync.Mutex
	hits := 0
	cancel, err := r.Subscribe("client-a", []string{"widgets.*"}, func(Envelope) {
		mu.Lock()
		hits++
		mu.Unlock()
	}, SubscribeOptions{}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	r.Publish("publisher", NewEnvelope("widgets.created", nil))
	r.Publish("publisher", NewEnvelope("widgets.created.extra", nil))
	r.Publish("publisher", NewEnvelope("gadgets.created", nil))

	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("expected exactly 1 match for widgets.*, got %d", hits)
	}
}

func TestPublishRejectsOversizedPayload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPayloadSize = 8
	r := testRouter(t, cfg)

	err := r.Publish("publisher", NewEnvelope("topic", "this payload is definitely too large"))
	if err == nil {
		t.Fatal("expected oversized payload to be rejected")
	}
	se, ok := err.(SystemError)
	if !ok || se.Code != CodePayloadTooLarge {
		t.Fatalf("expected CodePayloadTooLarge, got %v", err)
	}
}

func TestPublishRejectsInvalidTopic(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	err := r.Publish("publisher", NewEnvelope("", "data"))
	if err == nil {
		t.Fatal("expected empty topic to be rejected")
	}
}

func TestRateLimitExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 1
	r := testRouter(t, cfg)

	if err := r.Publish("noisy-client", NewEnvelope("topic", nil)); err != nil {
		t.Fatalf("first publish should succeed: %v", err)
	}

	var lastErr error
	for i := 0; i < 20; i++ {
		if lastErr = r.Publish("noisy-client", NewEnvelope("topic", nil)); lastErr != nil {
			break
		}
	}
	if lastErr == nil {
		t.Fatal("expected rate limit to eventually reject a burst of publishes")
	}
}

func TestStatsReflectsPublishAndDelivery(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	cancel, err := r.Subscribe("client-a", []string{"topic"}, func(Envelope) {}, SubscribeOptions{}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	r.Publish("publisher", NewEnvelope("topic", nil))
	stats := r.Stats()
	if stats.Published != 1 || stats.Delivered != 1 {
		t.Fatalf("expected Published=1 Delivered=1, got %+v", stats)
	}
}

func TestClearRetainedRemovesMatchingEntries(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	for _, topic := range []string{"status.a", "status.b", "other"} {
		env := NewEnvelope(topic, nil)
		env.Retain = true
		r.Publish("publisher", env)
	}

	removed := r.ClearRetained("status.*")
	if removed != 2 {
		t.Fatalf("expected 2 retained entries removed, got %d", removed)
	}
	if r.Stats().Retained != 1 {
		t.Fatalf("expected 1 retained entry remaining, got %d", r.Stats().Retained)
	}
}

func TestDisposedRouterRejectsPublish(t *testing.T) {
	r := New(DefaultConfig(), log.NewNoopLogger())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := r.Publish("publisher", NewEnvelope("topic", nil)); err != ErrRouterClosed {
		t.Fatalf("expected ErrRouterClosed after Stop, got %v", err)
	}
}

func TestSweepReapsDeadSubscriptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CleanupInterval = 10 * time.Millisecond
	r := testRouter(t, cfg)

	alive := false
	_, err := r.Subscribe("client-a", []string{"topic"}, func(Envelope) {}, SubscribeOptions{}, func() bool { return alive })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if r.Stats().Subscriptions != 1 {
		t.Fatal("expected 1 subscription before sweep")
	}

	time.Sleep(50 * time.Millisecond)

	if r.Stats().Subscriptions != 0 {
		t.Fatalf("expected sweep to reap the dead subscription, got %d remaining", r.Stats().Subscriptions)
	}
}
