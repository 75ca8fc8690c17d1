package history

import "testing"

func TestRecordPlacesUpsert(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.RecordPlaces("u1", []string{"0x1", "0x2"}, "hash1", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordPlaces("u1", []string{"0x1"}, "hash1", nil); err != nil {
		t.Fatal(err)
	}

	seen, err := s.SeenPlaces("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 seen places, got %d", len(seen))
	}

	f, err := s.readPlaces("u1")
	if err != nil {
		t.Fatal(err)
	}
	if f.Places["0x1"].ScrapedCount != 2 {
		t.Fatalf("expected scraped_count 2 after second upsert, got %d", f.Places["0x1"].ScrapedCount)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	sess, err := s.CreateSession("sess1", "u1", "dentist amritsar", "hash1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != "pending" {
		t.Fatalf("expected pending status, got %s", sess.Status)
	}

	if err := s.MarkRunning("sess1"); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteSession("sess1", CompletionFields{TotalFound: 10, NewResults: 8, SkippedDuplicates: 2}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.UserStats("u1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalSessions != 1 || stats.TotalNewResults != 8 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUserStatsDedupEfficiency(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateSession("sess1", "u1", "q", "h"); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteSession("sess1", CompletionFields{NewResults: 3, SkippedDuplicates: 1}); err != nil {
		t.Fatal(err)
	}
	stats, err := s.UserStats("u1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.DedupEfficiency != 0.25 {
		t.Fatalf("expected dedup efficiency 0.25, got %f", stats.DedupEfficiency)
	}
	if stats.TimeSaved != TimeSavedPerDuplicate {
		t.Fatalf("expected time saved to equal one duplicate's credit")
	}
}
