package progress

import (
	"testing"

	"github.com/TDHINGRA16/Scrappy/internal/models"
)

func ptr[T any](v T) *T { return &v }

func TestMonotonicPercent(t *testing.T) {
	tr := New(nil)
	tr.Create("s1", 50, 20)

	tr.Update("s1", Fields{ProgressPercent: ptr(20.0)})
	tr.Update("s1", Fields{ProgressPercent: ptr(10.0)}) // should not regress
	tr.Update("s1", Fields{ProgressPercent: ptr(40.0)})

	snap, ok := tr.Snapshot("s1")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if snap.ProgressPercent != 40 {
		t.Fatalf("expected percent 40 (non-decreasing), got %v", snap.ProgressPercent)
	}
}

func TestUnknownScrapeIDIsSilent(t *testing.T) {
	tr := New(nil)
	tr.Update("missing", Fields{ProgressPercent: ptr(10.0)})
	if _, ok := tr.Snapshot("missing"); ok {
		t.Fatal("expected no entry for unknown scrape id")
	}
}

func TestCompleteSetsTerminalState(t *testing.T) {
	tr := New(nil)
	tr.Create("s1", 10, 20)
	tr.Update("s1", Fields{Status: ptr(models.ProgressScrolling)})
	tr.Update("s1", Fields{Status: ptr(models.ProgressExtracting)})
	tr.Complete("s1", []models.BusinessRecord{{Name: "A"}}, true)

	snap, _ := tr.Snapshot("s1")
	if snap.Status != models.ProgressCompleted || snap.ProgressPercent != 100 {
		t.Fatalf("expected completed/100, got %+v", snap)
	}
	if snap.ETA != "Complete!" {
		t.Fatalf("expected ETA 'Complete!', got %q", snap.ETA)
	}
}

func TestFailPreservesLastPercent(t *testing.T) {
	tr := New(nil)
	tr.Create("s1", 10, 20)
	tr.Update("s1", Fields{ProgressPercent: ptr(55.0)})
	tr.Fail("s1", nil)

	snap, _ := tr.Snapshot("s1")
	if snap.Status != models.ProgressFailed {
		t.Fatalf("expected failed status")
	}
	if snap.ProgressPercent != 55 {
		t.Fatalf("expected percent held at 55, got %v", snap.ProgressPercent)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	tr := New(nil)
	tr.Create("s1", 10, 20)
	tr.Update("s1", Fields{Status: ptr(models.ProgressCompleted)}) // starting -> completed invalid
	snap, _ := tr.Snapshot("s1")
	if snap.Status != models.ProgressStarting {
		t.Fatalf("expected transition rejected, status stayed starting, got %v", snap.Status)
	}
}
