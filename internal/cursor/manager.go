// Package cursor is the persistent per-user-per-query resume point: where a
// scrape left off, so a repeat scrape of the same (or a fuzzily-equivalent)
// query can skip the scroll positions already explored. Storage follows the
// same file-per-key JSON pattern as internal/history, grounded on the
// teacher's pkg/session.FileStore.
package cursor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/TDHINGRA16/Scrappy/internal/apperrors"
	"github.com/TDHINGRA16/Scrappy/internal/models"
	"github.com/TDHINGRA16/Scrappy/internal/normalize"
)

// TTL is how long a cursor remains valid after its last update.
const TTL = 30 * 24 * time.Hour

// HashQuery exposes the normalizer's query hash to callers (the history
// store and orchestrator) that need to key by the same query_hash this
// package uses internally, without importing normalize directly.
func HashQuery(query string) string { return normalize.Hash(query) }

// FuzzyScanCap bounds the linear scan used for fuzzy matching, so a user
// with many distinct queries doesn't turn a cache-miss into an O(n) sweep
// with unbounded n. Fuzzy matching is best-effort, not exhaustive.
const FuzzyScanCap = 200

// Manager persists ScrapeSessionCursor rows, one JSON file per
// (user_id, query_hash) pair.
type Manager struct {
	basePath string
	mu       sync.RWMutex
}

// New creates (if needed) the storage directory rooted at basePath.
func New(basePath string) (*Manager, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Manager{basePath: basePath}, nil
}

func (m *Manager) path(userID, queryHash string) string {
	return filepath.Join(m.basePath, userID+"__"+queryHash+".json")
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (m *Manager) read(userID, queryHash string) (*models.ScrapeSessionCursor, error) {
	data, err := os.ReadFile(m.path(userID, queryHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var c models.ScrapeSessionCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (m *Manager) write(c *models.ScrapeSessionCursor) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(m.path(c.UserID, c.QueryHash), data)
}

// userCursors lists every non-expired cursor belonging to userID, newest
// last-accessed first, capped at FuzzyScanCap entries.
func (m *Manager) userCursors(userID string) ([]*models.ScrapeSessionCursor, error) {
	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		return nil, err
	}
	prefix := userID + "__"
	var out []*models.ScrapeSessionCursor
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() || len(e.Name()) <= len(prefix) || e.Name()[:len(prefix)] != prefix {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.basePath, e.Name()))
		if err != nil {
			continue
		}
		var c models.ScrapeSessionCursor
		if json.Unmarshal(data, &c) != nil {
			continue
		}
		if c.Expired(now) {
			continue
		}
		out = append(out, &c)
		if len(out) >= FuzzyScanCap {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessed.After(out[j].LastAccessed) })
	return out, nil
}

// Get returns the cursor for (userID, query) via exact hash lookup, falling
// back to a fuzzy-matched cursor among the user's other active cursors.
// Accessing a cursor touches LastAccessed.
func (m *Manager) Get(userID, query string) (*models.ScrapeSessionCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := normalize.Hash(query)
	c, err := m.read(userID, hash)
	if err != nil {
		return nil, apperrors.NewPersistence("cursor.Get", err)
	}
	if c != nil && !c.Expired(time.Now()) {
		c.LastAccessed = time.Now()
		_ = m.write(c)
		return c, nil
	}

	candidates, err := m.userCursors(userID)
	if err != nil {
		return nil, apperrors.NewPersistence("cursor.Get", err)
	}
	for _, cand := range candidates {
		if normalize.FuzzyMatch(query, cand.QueryOriginal) >= normalize.DefaultFuzzyThreshold {
			cand.LastAccessed = time.Now()
			_ = m.write(cand)
			return cand, nil
		}
	}
	return nil, nil
}

// Create inserts a zeroed cursor for (userID, query) with a fresh TTL.
func (m *Manager) Create(userID, query string) (*models.ScrapeSessionCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c := &models.ScrapeSessionCursor{
		UserID:          userID,
		QueryHash:       normalize.Hash(query),
		QueryOriginal:   query,
		QueryNormalized: normalize.Query(query),
		CreatedAt:       now,
		UpdatedAt:       now,
		LastAccessed:    now,
		ExpiresAt:       now.Add(TTL),
	}
	if err := m.write(c); err != nil {
		return nil, apperrors.NewPersistence("cursor.Create", err)
	}
	return c, nil
}

// Update overwrites a cursor's progress fields, extending its TTL.
type Update struct {
	LastScrollPosition    int
	CardsCollected        int
	LastPlaceID           string
	LastCardIndex         int
	TotalScrollsPerformed int
	LastVisibleCardCount  int
	CursorData            map[string]any
}

// Update writes the fields in u into the cursor for (userID, query),
// creating it first if absent.
func (m *Manager) Update(userID, query string, u Update) (*models.ScrapeSessionCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := normalize.Hash(query)
	c, err := m.read(userID, hash)
	if err != nil {
		return nil, apperrors.NewPersistence("cursor.Update", err)
	}
	now := time.Now()
	if c == nil {
		c = &models.ScrapeSessionCursor{
			UserID:          userID,
			QueryHash:       hash,
			QueryOriginal:   query,
			QueryNormalized: normalize.Query(query),
			CreatedAt:       now,
		}
	}
	c.LastScrollPosition = u.LastScrollPosition
	c.CardsCollected = u.CardsCollected
	c.LastPlaceID = u.LastPlaceID
	c.LastCardIndex = u.LastCardIndex
	c.TotalScrollsPerformed = u.TotalScrollsPerformed
	c.LastVisibleCardCount = u.LastVisibleCardCount
	c.CursorData = u.CursorData
	c.UpdatedAt = now
	c.LastAccessed = now
	c.ExpiresAt = now.Add(TTL)

	if err := m.write(c); err != nil {
		return nil, apperrors.NewPersistence("cursor.Update", err)
	}
	return c, nil
}

// Clear removes the cursor for (userID, query), if any.
func (m *Manager) Clear(userID, query string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := os.Remove(m.path(userID, normalize.Hash(query)))
	if err != nil && !os.IsNotExist(err) {
		return apperrors.NewPersistence("cursor.Clear", err)
	}
	return nil
}

// CleanupExpired deletes every cursor whose TTL has lapsed and returns the
// count removed.
func (m *Manager) CleanupExpired() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		return 0, apperrors.NewPersistence("cursor.CleanupExpired", err)
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		full := filepath.Join(m.basePath, e.Name())
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		var c models.ScrapeSessionCursor
		if json.Unmarshal(data, &c) != nil {
			continue
		}
		if c.Expired(now) {
			if os.Remove(full) == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Summary is the client-facing display form of a cursor.
type Summary struct {
	QueryOriginal  string    `json:"query_original"`
	CardsCollected int       `json:"cards_collected"`
	ScrollPosition int       `json:"last_scroll_position"`
	UpdatedAt      time.Time `json:"updated_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Summary returns the display form for (userID, query), or nil if absent.
func (m *Manager) Summary(userID, query string) (*Summary, error) {
	c, err := m.Get(userID, query)
	if err != nil || c == nil {
		return nil, err
	}
	return &Summary{
		QueryOriginal:  c.QueryOriginal,
		CardsCollected: c.CardsCollected,
		ScrollPosition: c.LastScrollPosition,
		UpdatedAt:      c.UpdatedAt,
		ExpiresAt:      c.ExpiresAt,
	}, nil
}

// List returns userID's active cursors, at most FuzzyScanCap of them, for
// the /cursors endpoint.
func (m *Manager) List(userID string) ([]*models.ScrapeSessionCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cursors, err := m.userCursors(userID)
	if err != nil {
		return nil, apperrors.NewPersistence("cursor.List", err)
	}
	return cursors, nil
}
