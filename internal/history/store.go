// Package history is the persistent dedup oracle: the set of place IDs a
// user has ever collected, plus the record of past scrape sessions. It
// follows the teacher's file-per-key JSON persistence pattern (there is no
// database driver anywhere in the reference corpus this module was grounded
// on) rather than reaching for an unlisted SQL or KV driver.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/TDHINGRA16/Scrappy/internal/apperrors"
	"github.com/TDHINGRA16/Scrappy/internal/models"
)

// TimeSavedPerDuplicate is the display heuristic from the original product:
// every duplicate skipped is credited as three seconds saved. It is not a
// measurement.
const TimeSavedPerDuplicate = 3 * time.Second

type userPlacesFile struct {
	Places map[string]*models.UserPlace `json:"places"`
}

// Store persists UserPlace rows and ScrapeSession rows as one JSON document
// per user and one per session, guarded by a mutex, written atomically via
// write-then-rename.
type Store struct {
	basePath string
	mu       sync.RWMutex
}

// New creates (if needed) the storage directories rooted at basePath.
func New(basePath string) (*Store, error) {
	for _, dir := range []string{"places", "sessions"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0o755); err != nil {
			return nil, fmt.Errorf("history: create %s dir: %w", dir, err)
		}
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) placesPath(userID string) string {
	return filepath.Join(s.basePath, "places", userID+".json")
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.basePath, "sessions", id+".json")
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) readPlaces(userID string) (*userPlacesFile, error) {
	data, err := os.ReadFile(s.placesPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return &userPlacesFile{Places: map[string]*models.UserPlace{}}, nil
		}
		return nil, err
	}
	var f userPlacesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Places == nil {
		f.Places = map[string]*models.UserPlace{}
	}
	return &f, nil
}

// SeenPlaces returns the full set of place IDs the user has ever collected.
func (s *Store) SeenPlaces(userID string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := s.readPlaces(userID)
	if err != nil {
		return nil, apperrors.NewPersistence("history.SeenPlaces", err)
	}
	out := make(map[string]struct{}, len(f.Places))
	for id := range f.Places {
		out[id] = struct{}{}
	}
	return out, nil
}

// SeenPlacesForQuery returns the subset of userID's place IDs that were last
// recorded against queryHash, for user-visible duplicate counts that reflect
// only the current query rather than the user's entire history.
func (s *Store) SeenPlacesForQuery(userID, queryHash string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := s.readPlaces(userID)
	if err != nil {
		return nil, apperrors.NewPersistence("history.SeenPlacesForQuery", err)
	}
	out := make(map[string]struct{})
	for id, up := range f.Places {
		if up.QueryHash == queryHash {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// RecordPlaces upserts placeIDs for userID: a new entry gets FirstSeen/LastSeen
// set to now with ScrapedCount 1; an existing entry bumps LastSeen and
// ScrapedCount.
func (s *Store) RecordPlaces(userID string, placeIDs []string, queryHash string, cids map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.readPlaces(userID)
	if err != nil {
		return apperrors.NewPersistence("history.RecordPlaces", err)
	}

	now := time.Now()
	for _, id := range placeIDs {
		if up, ok := f.Places[id]; ok {
			up.LastSeen = now
			up.ScrapedCount++
			if queryHash != "" {
				up.QueryHash = queryHash
			}
			continue
		}
		f.Places[id] = &models.UserPlace{
			UserID:       userID,
			PlaceID:      id,
			CID:          cids[id],
			QueryHash:    queryHash,
			FirstSeen:    now,
			LastSeen:     now,
			ScrapedCount: 1,
		}
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return apperrors.NewPersistence("history.RecordPlaces", err)
	}
	if err := writeAtomic(s.placesPath(userID), data); err != nil {
		return apperrors.NewPersistence("history.RecordPlaces", err)
	}
	return nil
}

// CreateSession writes a new pending ScrapeSession under id and returns it.
func (s *Store) CreateSession(id, userID, query, queryHash string) (*models.ScrapeSession, error) {
	sess := &models.ScrapeSession{
		ID:        id,
		UserID:    userID,
		Query:     query,
		QueryHash: queryHash,
		CreatedAt: time.Now(),
		Status:    models.ScrapeStatusPending,
	}
	if err := s.saveSession(sess); err != nil {
		return nil, apperrors.NewPersistence("history.CreateSession", err)
	}
	return sess, nil
}

// CompletionFields are the counters supplied to CompleteSession.
type CompletionFields struct {
	TotalFound        int
	NewResults        int
	SkippedDuplicates int
	TimeTakenSeconds  float64
	SheetURL          string
	Error             string
}

// CompleteSession transitions a session to completed or failed and fills in
// its final counters.
func (s *Store) CompleteSession(id string, f CompletionFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		return apperrors.NewPersistence("history.CompleteSession", err)
	}
	var sess models.ScrapeSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return apperrors.NewPersistence("history.CompleteSession", err)
	}

	now := time.Now()
	sess.CompletedAt = &now
	sess.TotalFound = f.TotalFound
	sess.NewResults = f.NewResults
	sess.SkippedDuplicates = f.SkippedDuplicates
	sess.TimeTakenSeconds = f.TimeTakenSeconds
	sess.SheetURL = f.SheetURL
	if f.Error != "" {
		sess.Status = models.ScrapeStatusFailed
		sess.ErrorMessage = f.Error
	} else {
		sess.Status = models.ScrapeStatusCompleted
	}

	out, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return apperrors.NewPersistence("history.CompleteSession", err)
	}
	if err := writeAtomic(s.sessionPath(id), out); err != nil {
		return apperrors.NewPersistence("history.CompleteSession", err)
	}
	return nil
}

// MarkRunning transitions a session from pending to running.
func (s *Store) MarkRunning(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		return apperrors.NewPersistence("history.MarkRunning", err)
	}
	var sess models.ScrapeSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return apperrors.NewPersistence("history.MarkRunning", err)
	}
	sess.Status = models.ScrapeStatusRunning
	out, _ := json.MarshalIndent(sess, "", "  ")
	if err := writeAtomic(s.sessionPath(id), out); err != nil {
		return apperrors.NewPersistence("history.MarkRunning", err)
	}
	return nil
}

func (s *Store) saveSession(sess *models.ScrapeSession) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.sessionPath(sess.ID), data)
}

// UserStats is the aggregate summary returned by Store.UserStats.
type UserStats struct {
	TotalPlaces      int           `json:"total_places"`
	TotalSessions    int           `json:"total_sessions"`
	TotalNewResults  int           `json:"total_new_results"`
	TotalSkipped     int           `json:"total_skipped_duplicates"`
	DedupEfficiency  float64       `json:"dedup_efficiency"`
	TimeSaved        time.Duration `json:"time_saved"`
}

// UserStats aggregates a user's place count and session history.
func (s *Store) UserStats(userID string) (UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := s.readPlaces(userID)
	if err != nil {
		return UserStats{}, apperrors.NewPersistence("history.UserStats", err)
	}

	entries, err := os.ReadDir(filepath.Join(s.basePath, "sessions"))
	if err != nil {
		return UserStats{}, apperrors.NewPersistence("history.UserStats", err)
	}

	var stats UserStats
	stats.TotalPlaces = len(f.Places)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.basePath, "sessions", e.Name()))
		if err != nil {
			continue
		}
		var sess models.ScrapeSession
		if json.Unmarshal(data, &sess) != nil || sess.UserID != userID {
			continue
		}
		stats.TotalSessions++
		stats.TotalNewResults += sess.NewResults
		stats.TotalSkipped += sess.SkippedDuplicates
	}

	if stats.TotalNewResults+stats.TotalSkipped > 0 {
		stats.DedupEfficiency = float64(stats.TotalSkipped) / float64(stats.TotalNewResults+stats.TotalSkipped)
	}
	stats.TimeSaved = time.Duration(stats.TotalSkipped) * TimeSavedPerDuplicate
	return stats, nil
}

// Sessions returns all sessions for a user, newest first.
func (s *Store) Sessions(userID string) ([]models.ScrapeSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.basePath, "sessions"))
	if err != nil {
		return nil, apperrors.NewPersistence("history.Sessions", err)
	}
	var out []models.ScrapeSession
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.basePath, "sessions", e.Name()))
		if err != nil {
			continue
		}
		var sess models.ScrapeSession
		if json.Unmarshal(data, &sess) != nil || sess.UserID != userID {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
