package client

import (
	"context"
	"sync"
	"testing"

	"github.com/aquamarinepk/evbus/bus"
	"github.com/aquamarinepk/evbus/client/persistence"
	"github.com/aquamarinepk/evbus/log"
)

// memStore is an in-memory persistence.Store used only to exercise
// Client's session bookkeeping without a real database.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]persistence.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]persistence.Session)}
}

func (s *memStore) Save(ctx context.Context, session persistence.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ClientID] = session
	return nil
}

func (s *memStore) Load(ctx context.Context, clientID string) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[clientID]
	if !ok {
		return persistence.Session{}, persistence.ErrSessionNotFound
	}
	return session, nil
}

func (s *memStore) Delete(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, clientID)
	return nil
}

func (s *memStore) Start(ctx context.Context) error { return nil }
func (s *memStore) Stop(ctx context.Context) error  { return nil }

var _ persistence.Store = (*memStore)(nil)

func TestClientSubscribePersistsSessionPatterns(t *testing.T) {
	router := testSetup(t)
	store := newMemStore()
	c := New(router, log.NewNoopLogger(), WithSessionStore(store))
	t.Cleanup(func() { c.Close() })

	if _, err := c.Subscribe([]string{"orders.created"}, func(bus.Envelope) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := c.Subscribe([]string{"orders.shipped"}, func(bus.Envelope) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	session, err := store.Load(context.Background(), c.ID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(session.Patterns) != 2 {
		t.Fatalf("expected 2 persisted patterns, got %v", session.Patterns)
	}
	if session.CreatedAt.IsZero() || session.UpdatedAt.IsZero() {
		t.Fatal("expected both CreatedAt and UpdatedAt to be stamped")
	}
}

func TestClientResumeRestoresLastKnownSubscriptions(t *testing.T) {
	router := testSetup(t)
	store := newMemStore()

	first := New(router, log.NewNoopLogger(), WithSessionStore(store))
	if _, err := first.Subscribe([]string{"widgets.updated"}, func(bus.Envelope) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	clientID := first.id
	first.Close()

	second := New(router, log.NewNoopLogger(), WithSessionStore(store))
	second.id = clientID
	second.log = second.log.With("client_id", clientID)
	t.Cleanup(func() { second.Close() })

	var mu sync.Mutex
	var got bus.Envelope
	patterns, err := second.Resume(context.Background(), func(env bus.Envelope) {
		mu.Lock()
		got = env
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(patterns) != 1 || patterns[0] != "widgets.updated" {
		t.Fatalf("expected to restore [widgets.updated], got %v", patterns)
	}

	publisher := New(router, log.NewNoopLogger())
	t.Cleanup(func() { publisher.Close() })
	if err := publisher.Publish("widgets.updated", "ping", false); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Topic != "widgets.updated" {
		t.Fatalf("expected resumed subscription to receive the publish, got %+v", got)
	}
}

func TestClientResumeWithNoSessionIsANoop(t *testing.T) {
	router := testSetup(t)
	store := newMemStore()
	c := New(router, log.NewNoopLogger(), WithSessionStore(store))
	t.Cleanup(func() { c.Close() })

	patterns, err := c.Resume(context.Background(), func(bus.Envelope) {})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if patterns != nil {
		t.Fatalf("expected no restored patterns, got %v", patterns)
	}
}
