package autoloader

import "testing"

func TestSchedulerDueOrdersByProximity(t *testing.T) {
	s := NewScheduler(600)
	s.Track("far", 900)
	s.Track("near", 100)
	s.Track("at-threshold", 600)

	due := s.Due()
	if len(due) != 2 {
		t.Fatalf("expected 2 due candidates, got %v", due)
	}
	if due[0] != "near" || due[1] != "at-threshold" {
		t.Fatalf("expected nearest-first order [near at-threshold], got %v", due)
	}
}

func TestSchedulerTrackUpdatesExistingCandidate(t *testing.T) {
	s := NewScheduler(600)
	s.Track("widget-card", 900)
	if len(s.Due()) != 0 {
		t.Fatal("expected no due candidates before crossing root margin")
	}

	s.Track("widget-card", 50)
	due := s.Due()
	if len(due) != 1 || due[0] != "widget-card" {
		t.Fatalf("expected widget-card to become due, got %v", due)
	}
}

func TestSchedulerUntrack(t *testing.T) {
	s := NewScheduler(600)
	s.Track("widget-card", 0)
	s.Untrack("widget-card")

	if s.IsTracked("widget-card") {
		t.Fatal("expected widget-card to no longer be tracked")
	}
	if len(s.Due()) != 0 {
		t.Fatal("expected no due candidates after untracking")
	}
}
