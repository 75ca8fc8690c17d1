package cursor

import (
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Create("u1", "dentist amritsar"); err != nil {
		t.Fatal(err)
	}

	u := Update{LastScrollPosition: 5000, CardsCollected: 50, LastPlaceID: "0x1"}
	if _, err := m.Update("u1", "dentist amritsar", u); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("u1", "dentist amritsar")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.CardsCollected != 50 || got.LastScrollPosition != 5000 {
		t.Fatalf("got %+v, want fields matching update", got)
	}

	if err := m.Clear("u1", "dentist amritsar"); err != nil {
		t.Fatal(err)
	}
	got, err = m.Get("u1", "dentist amritsar")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected no cursor after clear, got %+v", got)
	}
}

func TestFuzzyMatchAcrossQueries(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create("u1", "dentist in amritsar"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Update("u1", "dentist in amritsar", Update{CardsCollected: 12}); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("u1", "amritsar dentist")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatalf("expected fuzzy match to resolve a cursor")
	}
	if got.CardsCollected != 12 {
		t.Fatalf("expected fuzzy-matched cursor to carry prior progress, got %+v", got)
	}
}

func TestCleanupExpired(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c, err := m.Create("u1", "plumber delhi")
	if err != nil {
		t.Fatal(err)
	}
	c.ExpiresAt = time.Now().Add(-time.Hour)
	if err := m.write(c); err != nil {
		t.Fatal(err)
	}

	removed, err := m.CleanupExpired()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	got, err := m.Get("u1", "plumber delhi")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expired cursor must be invisible to Get")
	}
}
