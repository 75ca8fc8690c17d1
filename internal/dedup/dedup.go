// Package dedup implements the per-run, in-memory duplicate rejection used
// while a single scrape is collecting and extracting cards.
package dedup

import (
	"net/url"
	"strings"
	"sync"

	"github.com/TDHINGRA16/Scrappy/internal/models"
)

// Counters tracks how a scrape's duplicate checks resolved.
type Counters struct {
	TotalChecks        int
	DuplicatesRemoved  int
	PlaceIDMatches     int
	CIDMatches         int
	HrefMatches        int
	NameAddressMatches int
}

// Service holds the four identity sets for one scrape run.
type Service struct {
	mu              sync.Mutex
	seenPlaceIDs    map[string]struct{}
	seenCIDs        map[string]struct{}
	seenHrefs       map[string]struct{}
	seenNameAddress map[string]struct{}
	counters        Counters
}

// New returns an empty Service.
func New() *Service {
	return &Service{
		seenPlaceIDs:    make(map[string]struct{}),
		seenCIDs:        make(map[string]struct{}),
		seenHrefs:       make(map[string]struct{}),
		seenNameAddress: make(map[string]struct{}),
	}
}

// NormalizeHref strips scheme and query string, lowercases the remainder, so
// that two URLs that differ only in protocol or tracking parameters collide.
func NormalizeHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return strings.ToLower(href)
	}
	u.Scheme = ""
	u.RawQuery = ""
	u.Fragment = ""
	s := strings.TrimPrefix(u.String(), "//")
	return strings.ToLower(s)
}

func nameAddressKey(name, address string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(address))
}

// Check reports whether rec collides with any identifier seen so far, in
// priority order place_id > cid > href > name+address. It does not mutate
// the service's sets; call Add separately once a record is accepted.
func (s *Service) Check(rec models.BusinessRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.TotalChecks++

	if rec.PlaceID != "" {
		if _, ok := s.seenPlaceIDs[rec.PlaceID]; ok {
			s.counters.DuplicatesRemoved++
			s.counters.PlaceIDMatches++
			return true
		}
	}
	if rec.CID != "" {
		if _, ok := s.seenCIDs[rec.CID]; ok {
			s.counters.DuplicatesRemoved++
			s.counters.CIDMatches++
			return true
		}
	}
	if rec.Href != "" {
		if _, ok := s.seenHrefs[NormalizeHref(rec.Href)]; ok {
			s.counters.DuplicatesRemoved++
			s.counters.HrefMatches++
			return true
		}
	}
	if rec.Name != "" && rec.Address != "" {
		if _, ok := s.seenNameAddress[nameAddressKey(rec.Name, rec.Address)]; ok {
			s.counters.DuplicatesRemoved++
			s.counters.NameAddressMatches++
			return true
		}
	}
	return false
}

// Add records rec's identifiers as seen. Call only for accepted records.
func (s *Service) Add(rec models.BusinessRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.PlaceID != "" {
		s.seenPlaceIDs[rec.PlaceID] = struct{}{}
	}
	if rec.CID != "" {
		s.seenCIDs[rec.CID] = struct{}{}
	}
	if rec.Href != "" {
		s.seenHrefs[NormalizeHref(rec.Href)] = struct{}{}
	}
	if rec.Name != "" && rec.Address != "" {
		s.seenNameAddress[nameAddressKey(rec.Name, rec.Address)] = struct{}{}
	}
}

// CheckAndAdd is the common case: reject duplicates, else remember the record.
func (s *Service) CheckAndAdd(rec models.BusinessRecord) (duplicate bool) {
	if s.Check(rec) {
		return true
	}
	s.Add(rec)
	return false
}

// SeedPlaceIDs preloads already-known place IDs (the user's history-store
// seen-set) so that cards colliding with prior scrapes are rejected too.
func (s *Service) SeedPlaceIDs(placeIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range placeIDs {
		s.seenPlaceIDs[id] = struct{}{}
	}
}

// Counters returns a snapshot of the running tallies.
func (s *Service) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Reset clears all sets and counters for a new scrape.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seenPlaceIDs = make(map[string]struct{})
	s.seenCIDs = make(map[string]struct{})
	s.seenHrefs = make(map[string]struct{})
	s.seenNameAddress = make(map[string]struct{})
	s.counters = Counters{}
}
