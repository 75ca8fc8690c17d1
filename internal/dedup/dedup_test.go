package dedup

import (
	"math/rand"
	"testing"

	"github.com/TDHINGRA16/Scrappy/internal/models"
)

func rec(placeID string) models.BusinessRecord {
	return models.BusinessRecord{PlaceID: placeID, Name: "Biz " + placeID, Address: "Addr " + placeID}
}

func TestCheckAndAddOrderIndependent(t *testing.T) {
	ids := []string{"0x1", "0x2", "0x1", "0x3", "0x2", "0x4"}
	shuffled := append([]string(nil), ids...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	s := New()
	accepted := map[string]bool{}
	for _, id := range shuffled {
		if !s.CheckAndAdd(rec(id)) {
			accepted[id] = true
		}
	}

	want := map[string]bool{"0x1": true, "0x2": true, "0x3": true, "0x4": true}
	if len(accepted) != len(want) {
		t.Fatalf("accepted %v, want %v", accepted, want)
	}
	for id := range want {
		if !accepted[id] {
			t.Errorf("expected %s accepted", id)
		}
	}
}

func TestSeedPlaceIDsRejectsHistorical(t *testing.T) {
	s := New()
	s.SeedPlaceIDs([]string{"0x1"})
	if !s.CheckAndAdd(rec("0x1")) {
		t.Fatalf("expected seeded place id to be rejected as duplicate")
	}
}

func TestPriorityFallsBackToHref(t *testing.T) {
	s := New()
	a := models.BusinessRecord{Href: "https://maps.example.com/place/x?sid=1"}
	b := models.BusinessRecord{Href: "http://maps.example.com/place/x?sid=2"}
	if s.CheckAndAdd(a) {
		t.Fatalf("first record should not be a duplicate")
	}
	if !s.CheckAndAdd(b) {
		t.Fatalf("differing scheme/query should still collide on normalized href")
	}
}

func TestReset(t *testing.T) {
	s := New()
	s.CheckAndAdd(rec("0x1"))
	s.Reset()
	if s.CheckAndAdd(rec("0x1")) {
		t.Fatalf("expected clean state after reset")
	}
}
