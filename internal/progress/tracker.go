// Package progress is the in-memory live state machine that drives client
// polling and the WebSocket push during an async scrape.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/TDHINGRA16/Scrappy/internal/models"
	"go.uber.org/zap"
)

// ReapAfter is how long a progress entry survives past its last update
// before the background reaper removes it.
const ReapAfter = time.Hour

var validTransitions = map[models.ProgressStatus]map[models.ProgressStatus]bool{
	models.ProgressStarting:   {models.ProgressScrolling: true, models.ProgressFailed: true},
	models.ProgressScrolling:  {models.ProgressExtracting: true, models.ProgressFailed: true},
	models.ProgressExtracting: {models.ProgressCompleted: true, models.ProgressFailed: true},
	models.ProgressCompleted:  {},
	models.ProgressFailed:     {},
}

// Tracker is the thread-safe scrape_id -> ProgressData map.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*models.ProgressData
	log     *zap.Logger

	stopReaper chan struct{}
}

// New starts a Tracker and its idle-entry reaper.
func New(log *zap.Logger) *Tracker {
	t := &Tracker{
		entries:    make(map[string]*models.ProgressData),
		log:        log,
		stopReaper: make(chan struct{}),
	}
	go t.reapLoop()
	return t
}

// Create registers a fresh entry in the "starting" phase.
func (t *Tracker) Create(scrapeID string, targetCount, maxScrolls int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.entries[scrapeID] = &models.ProgressData{
		ScrapeID:   scrapeID,
		Status:     models.ProgressStarting,
		Phase:      "starting",
		StartTime:  now,
		LastUpdate: now,
		Stats: models.ProgressStats{
			TargetCount: targetCount,
			MaxScrolls:  maxScrolls,
		},
	}
}

// Fields is a partial update applied to an existing entry.
type Fields struct {
	Status          *models.ProgressStatus
	ProgressPercent *float64
	Phase           *string
	Stats           *models.ProgressStats
	ResultsPreview  []models.BusinessRecord
	SampleResult    *models.BusinessRecord
}

// Update applies a partial update to scrapeID. An unknown scrapeID is logged
// and ignored rather than treated as an error — the caller is a background
// task that must never fail because progress bookkeeping raced a reaper.
func (t *Tracker) Update(scrapeID string, f Fields) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[scrapeID]
	if !ok {
		if t.log != nil {
			t.log.Warn("progress update for unknown scrape", zap.String("scrape_id", scrapeID))
		}
		return
	}

	if f.Status != nil && *f.Status != e.Status {
		if validTransitions[e.Status][*f.Status] {
			e.Status = *f.Status
		} else if t.log != nil {
			t.log.Warn("rejected invalid progress transition",
				zap.String("scrape_id", scrapeID),
				zap.String("from", string(e.Status)),
				zap.String("to", string(*f.Status)))
		}
	}
	if f.ProgressPercent != nil {
		if *f.ProgressPercent >= e.ProgressPercent || e.Status == models.ProgressFailed {
			e.ProgressPercent = *f.ProgressPercent
		}
	}
	if f.Phase != nil {
		e.Phase = *f.Phase
	}
	if f.Stats != nil {
		e.Stats = *f.Stats
	}
	if f.ResultsPreview != nil {
		if len(f.ResultsPreview) > 10 {
			f.ResultsPreview = f.ResultsPreview[:10]
		}
		e.ResultsPreview = f.ResultsPreview
	}
	if f.SampleResult != nil {
		e.SampleResult = f.SampleResult
	}
	e.LastUpdate = time.Now()
}

// Complete marks scrapeID completed or failed and stores its final results.
func (t *Tracker) Complete(scrapeID string, results []models.BusinessRecord, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[scrapeID]
	if !ok {
		return
	}
	if success {
		e.Status = models.ProgressCompleted
		e.ProgressPercent = 100
	} else {
		e.Status = models.ProgressFailed
	}
	e.FinalResults = results
	e.LastUpdate = time.Now()
}

// Fail marks scrapeID failed, preserving the last progress percent reached.
func (t *Tracker) Fail(scrapeID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[scrapeID]
	if !ok {
		return
	}
	e.Status = models.ProgressFailed
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	e.LastUpdate = time.Now()
}

// Snapshot is the client-facing view of a progress entry, including the
// live-computed ETA.
type Snapshot struct {
	models.ProgressData
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	ETA            string  `json:"eta"`
}

// Snapshot returns the current state of scrapeID, or false if unknown.
func (t *Tracker) Snapshot(scrapeID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[scrapeID]
	if !ok {
		return Snapshot{}, false
	}
	elapsed := time.Since(e.StartTime).Seconds()
	return Snapshot{
		ProgressData:   *e,
		ElapsedSeconds: elapsed,
		ETA:            eta(elapsed, e.ProgressPercent),
	}, true
}

func eta(elapsed, percent float64) string {
	switch {
	case percent >= 100:
		return "Complete!"
	case percent <= 0:
		return "Calculating..."
	default:
		remaining := elapsed * (100 - percent) / percent
		return fmt.Sprintf("%.0fs", remaining)
	}
}

func (t *Tracker) reapLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopReaper:
			return
		case <-ticker.C:
			t.reap()
		}
	}
}

func (t *Tracker) reap() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-ReapAfter)
	for id, e := range t.entries {
		if e.LastUpdate.Before(cutoff) {
			delete(t.entries, id)
		}
	}
}

// Stop halts the reaper goroutine.
func (t *Tracker) Stop() {
	close(t.stopReaper)
}
