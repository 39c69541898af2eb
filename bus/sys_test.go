package bus

import (
	"sync"
	"testing"
)

func TestSysReadyIsRetainedForLateSubscribers(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	var received []Envelope
	cancel, err := r.Subscribe("client-a", []string{TopicSysReady}, func(env Envelope) {
		received = append(received, env)
	}, SubscribeOptions{RetainedRequested: true}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if len(received) != 1 {
		t.Fatalf("expected one retained sys.ready delivery, got %d", len(received))
	}
	ready, ok := received[0].Data.(SystemReady)
	if !ok {
		t.Fatalf("expected SystemReady payload, got %T", received[0].Data)
	}
	if ready.Config.MaxRetained != r.cfg.MaxRetained {
		t.Errorf("sys.ready config mismatch: got %+v", ready.Config)
	}
}

func TestSysErrorDeliveredThroughSubscribe(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	var mu sync.Mutex
	var received []Envelope
	cancel, err := r.Subscribe("client-a", []string{"sys.*"}, func(env Envelope) {
		mu.Lock()
		received = append(received, env)
		mu.Unlock()
	}, SubscribeOptions{}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := r.Publish("publisher", NewEnvelope("", nil)); err == nil {
		t.Fatal("expected Publish with an empty topic to fail")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Topic != TopicSysError {
		t.Fatalf("expected one sys.error delivery via sys.* subscription, got %v", received)
	}
	if _, ok := received[0].Data.(SystemError); !ok {
		t.Fatalf("expected SystemError payload, got %T", received[0].Data)
	}
}

func TestSysStatsRequestReplyRoundTrip(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	replyTopic := "_reply.client-a.1"
	replyCh := make(chan Envelope, 1)
	cancel, err := r.Subscribe("client-a", []string{replyTopic}, func(env Envelope) {
		replyCh <- env
	}, SubscribeOptions{}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	req := NewEnvelope(TopicSysStats, nil)
	req.ReplyTo = replyTopic
	if err := r.Publish("client-a", req); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-replyCh:
		if _, ok := env.Data.(Stats); !ok {
			t.Fatalf("expected Stats payload, got %T", env.Data)
		}
	default:
		t.Fatal("expected a synchronous reply on the reply topic")
	}
}

func TestSysClearRetainedRequestClearsAndReplies(t *testing.T) {
	r := testRouter(t, DefaultConfig())

	retained := NewEnvelope("widgets.created", map[string]any{"id": 1})
	retained.Retain = true
	if err := r.Publish("publisher", retained); err != nil {
		t.Fatalf("Publish retained: %v", err)
	}
	if got := r.Stats().Retained; got != 1 {
		t.Fatalf("expected one retained entry before clear, got %d", got)
	}

	replyTopic := "_reply.client-a.2"
	replyCh := make(chan Envelope, 1)
	cancel, err := r.Subscribe("client-a", []string{replyTopic}, func(env Envelope) {
		replyCh <- env
	}, SubscribeOptions{}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	req := NewEnvelope(TopicSysClearRetained, ClearRetainedRequest{Pattern: "widgets.created"})
	req.ReplyTo = replyTopic
	if err := r.Publish("client-a", req); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-replyCh:
		n, ok := env.Data.(int)
		if !ok || n != 1 {
			t.Fatalf("expected reply payload 1, got %v (%T)", env.Data, env.Data)
		}
	default:
		t.Fatal("expected a synchronous reply on the reply topic")
	}

	if got := r.Stats().Retained; got != 0 {
		t.Fatalf("expected retained store to be empty after clear, got %d", got)
	}
}
