package autoloader

import (
	"sort"
	"sync"
)

// candidate tracks one kind's current proximity signal: how far it is
// from becoming an eager-load candidate under RootMargin.
type candidate struct {
	kind     string
	distance int
}

// Scheduler is the Go stand-in for a viewport-proximity observer: kinds
// are tracked with an explicit distance signal instead of geometry, and
// become "due" once that distance crosses RootMargin. Grounded on
// preflight.Checker's ordered-list-of-named-units shape, repurposed from
// "run every check in registration order" to "report every candidate
// that has crossed its threshold, nearest first".
type Scheduler struct {
	mu         sync.Mutex
	rootMargin int
	tracked    map[string]*candidate
}

// NewScheduler returns a Scheduler gating eager loads at rootMargin.
func NewScheduler(rootMargin int) *Scheduler {
	return &Scheduler{rootMargin: rootMargin, tracked: make(map[string]*candidate)}
}

// Track registers kind with an initial proximity distance, or updates it
// if already tracked.
func (s *Scheduler) Track(kind string, distance int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.tracked[kind]; ok {
		c.distance = distance
		return
	}
	s.tracked[kind] = &candidate{kind: kind, distance: distance}
}

// Untrack stops tracking kind, e.g. once it has been defined or failed
// permanently.
func (s *Scheduler) Untrack(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracked, kind)
}

// Due returns every tracked kind whose distance has crossed rootMargin,
// nearest first, without untracking them — the caller untracks once a
// load is actually attempted.
func (s *Scheduler) Due() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]candidate, 0, len(s.tracked))
	for _, c := range s.tracked {
		if c.distance <= s.rootMargin {
			due = append(due, *c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].distance < due[j].distance })

	kinds := make([]string, len(due))
	for i, c := range due {
		kinds[i] = c.kind
	}
	return kinds
}

// IsTracked reports whether kind currently has a live proximity signal.
func (s *Scheduler) IsTracked(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracked[kind]
	return ok
}
