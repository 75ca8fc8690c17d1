// Package orchestrator ties the session pool, scraper pipeline, dedup
// oracle, cursor manager and progress tracker together into the one
// user-facing operation: start a scrape, return immediately, and finish the
// work in the background. It is the explicit collaborator-wiring the source
// patterns hid behind module-level singletons — every dependency here is a
// constructor argument, not a package-level variable, so the orchestrator
// can be tested against fakes.
package orchestrator

import (
	"context"
	cryptorand "crypto/rand"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TDHINGRA16/Scrappy/internal/apperrors"
	"github.com/TDHINGRA16/Scrappy/internal/config"
	"github.com/TDHINGRA16/Scrappy/internal/cursor"
	"github.com/TDHINGRA16/Scrappy/internal/history"
	"github.com/TDHINGRA16/Scrappy/internal/metrics"
	"github.com/TDHINGRA16/Scrappy/internal/models"
	"github.com/TDHINGRA16/Scrappy/internal/pipeline"
	"github.com/TDHINGRA16/Scrappy/internal/progress"
	"github.com/TDHINGRA16/Scrappy/internal/sessionpool"
)

// CursorStatus reports to the caller whether a scrape is starting fresh or
// resuming a prior scroll position.
type CursorStatus string

const (
	CursorNew      CursorStatus = "new"
	CursorResuming CursorStatus = "resuming"
)

// BrowserFactory builds the Browser a Pipeline drives against one pooled
// session. Production wiring supplies pipeline.ChromeBrowser; tests supply a
// fake.
type BrowserFactory func(sess *sessionpool.Session, cfg config.Config) pipeline.Browser

// Orchestrator is the §4.8 Scrape Orchestrator: it assembles the seen-set,
// cursor and progress record for a new scrape, spawns the background
// extraction, and persists results on completion without ever letting a
// persistence failure reach the user-visible result.
type Orchestrator struct {
	Pool       *sessionpool.Pool
	History    *history.Store
	Cursors    *cursor.Manager
	Progress   *progress.Tracker
	Metrics    *metrics.Collector
	Config     config.Config
	Log        *zap.Logger
	NewBrowser BrowserFactory
}

// New builds an Orchestrator. newBrowser may be nil, in which case
// pipeline.ChromeBrowser is used.
func New(pool *sessionpool.Pool, hist *history.Store, cursors *cursor.Manager, prog *progress.Tracker, mc *metrics.Collector, cfg config.Config, log *zap.Logger, newBrowser BrowserFactory) *Orchestrator {
	if newBrowser == nil {
		newBrowser = func(sess *sessionpool.Session, cfg config.Config) pipeline.Browser {
			return &pipeline.ChromeBrowser{Session: sess, Timeout: cfg.BrowserTimeout}
		}
	}
	return &Orchestrator{
		Pool:       pool,
		History:    hist,
		Cursors:    cursors,
		Progress:   prog,
		Metrics:    mc,
		Config:     cfg,
		Log:        log,
		NewBrowser: newBrowser,
	}
}

// StartResult is returned to the client immediately after ScrapeAsync
// accepts the request, before the background extraction finishes.
type StartResult struct {
	ScrapeID            string       `json:"scrape_id"`
	CursorStatus        CursorStatus `json:"cursor_status"`
	PreviouslyCollected int          `json:"previously_collected"`
	SeenPlacesCount     int          `json:"seen_places_count"`
	TargetCount         int          `json:"target_count"`
}

// ScrapeAsync implements §4.8: generate a scrape ID, assemble the seen-set
// and cursor, create a progress entry, and spawn the background task. It
// returns as soon as that bookkeeping is done; the scrape itself runs after
// the call returns.
func (o *Orchestrator) ScrapeAsync(ctx context.Context, userID, query string, targetCount, maxScrolls int) (StartResult, error) {
	if userID == "" {
		return StartResult{}, apperrors.NewPolicy("orchestrator.ScrapeAsync", fmt.Errorf("missing user_id"))
	}
	if query == "" {
		return StartResult{}, apperrors.NewPolicy("orchestrator.ScrapeAsync", fmt.Errorf("missing search_query"))
	}
	if targetCount <= 0 {
		targetCount = o.Config.DefaultTargetCount
	}

	scrapeID := newScrapeID()

	// Seen-places for the response reflects only this query's prior history,
	// matching the user-visible duplicate count the client expects; the
	// pipeline itself still dedups against the user's *entire* history (see
	// below), since a business already captured under any query is still a
	// duplicate business.
	queryHash := queryHashFor(query)
	queryScopedSeen, err := o.History.SeenPlacesForQuery(userID, queryHash)
	if err != nil && o.Log != nil {
		o.Log.Warn("history lookup failed, continuing with empty seen set", zap.Error(err))
	}
	globalSeen, err := o.History.SeenPlaces(userID)
	if err != nil {
		if o.Log != nil {
			o.Log.Warn("global history lookup failed, continuing with empty seen set", zap.Error(err))
		}
		globalSeen = map[string]struct{}{}
	}

	cur, err := o.Cursors.Get(userID, query)
	if err != nil && o.Log != nil {
		o.Log.Warn("cursor lookup failed, starting fresh", zap.Error(err))
	}
	status := CursorNew
	var pipelineCursor *models.Cursor
	if cur != nil && cur.CardsCollected > 0 {
		status = CursorResuming
		pipelineCursor = &models.Cursor{
			LastScrollPosition: cur.LastScrollPosition,
			CardsCollected:     cur.CardsCollected,
			LastPlaceID:        cur.LastPlaceID,
			LastCardIndex:      cur.LastCardIndex,
		}
	} else {
		if _, err := o.Cursors.Create(userID, query); err != nil && o.Log != nil {
			o.Log.Warn("cursor create failed", zap.Error(err))
		}
	}

	if _, err := o.History.CreateSession(scrapeID, userID, query, queryHash); err != nil && o.Log != nil {
		o.Log.Warn("session row create failed", zap.Error(err))
	}

	o.Progress.Create(scrapeID, targetCount, maxScrolls)

	if o.Metrics != nil {
		o.Metrics.ScrapesStarted.Inc()
	}

	go o.run(scrapeID, userID, query, targetCount, maxScrolls, globalSeen, pipelineCursor)

	return StartResult{
		ScrapeID:            scrapeID,
		CursorStatus:        status,
		PreviouslyCollected: len(queryScopedSeen),
		SeenPlacesCount:     len(queryScopedSeen),
		TargetCount:         targetCount,
	}, nil
}

// run is the background task spawned by ScrapeAsync. Any exception
// propagated from the pipeline transitions progress to failed; persistence
// failures afterward are logged and swallowed so the user-visible scrape
// result is unaffected by them.
func (o *Orchestrator) run(scrapeID, userID, query string, targetCount, maxScrolls int, seen map[string]struct{}, cur *models.Cursor) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	_ = o.History.MarkRunning(scrapeID)
	start := time.Now()

	sess, err := o.Pool.Acquire(ctx, userID)
	if err != nil {
		o.failScrape(scrapeID, userID, start, apperrors.NewPolicy("orchestrator.acquire", err))
		return
	}
	defer o.Pool.Release(userID)

	browser := o.NewBrowser(sess, o.Config)

	o.Progress.Update(scrapeID, progress.Fields{
		Status: statusPtr(models.ProgressScrolling),
		Phase:  strPtr("scrolling"),
	})

	pl := pipeline.New()
	result, err := pl.Scrape(ctx, pipeline.Params{
		Query:       query,
		TargetCount: targetCount,
		MaxScrolls:  maxScrolls,
		SeenPlaces:  seen,
		Cursor:      cur,
		Browser:     browser,
		Config:      o.Config,
		Log:         o.Log,
		Metrics:     o.Metrics,
		OnProgress: func(percent float64, phase string, stats pipeline.ProgressStats, preview []models.BusinessRecord) {
			status := models.ProgressScrolling
			if phase == "extracting" || phase == "completed" {
				status = models.ProgressExtracting
			}
			o.Progress.Update(scrapeID, progress.Fields{
				Status:          statusPtr(status),
				ProgressPercent: floatPtr(percent),
				Phase:           strPtr(phase),
				Stats:           &stats,
				ResultsPreview:  preview,
			})
		},
	})
	if err != nil {
		o.failScrape(scrapeID, userID, start, err)
		return
	}

	o.Progress.Complete(scrapeID, result.Records, true)
	if o.Metrics != nil {
		o.Metrics.ScrapesCompleted.Inc()
		o.Metrics.ObserveScrapeDuration(time.Since(start))
	}

	o.persist(scrapeID, userID, query, result, time.Since(start))
}

// persist writes the scrape's durable side effects: new place IDs, the
// resume cursor, and the completed session row. Every failure here is
// logged and swallowed — the scrape already succeeded from the client's
// point of view by the time this runs.
func (o *Orchestrator) persist(scrapeID, userID, query string, result pipeline.Result, elapsed time.Duration) {
	defer func() {
		if r := recover(); r != nil && o.Log != nil {
			o.Log.Error("panic in post-scrape persistence, ignoring", zap.Any("recover", r))
		}
	}()

	placeIDs := make([]string, 0, len(result.Records))
	cids := make(map[string]string, len(result.Records))
	for _, rec := range result.Records {
		if rec.PlaceID == "" {
			continue
		}
		placeIDs = append(placeIDs, rec.PlaceID)
		if rec.CID != "" {
			cids[rec.PlaceID] = rec.CID
		}
	}

	queryHash := queryHashFor(query)
	if err := o.History.RecordPlaces(userID, placeIDs, queryHash, cids); err != nil {
		o.logPersistenceFailure("record places", err)
	}

	if _, err := o.Cursors.Update(userID, query, cursor.Update{
		LastScrollPosition:    result.Cursor.LastScrollPosition,
		CardsCollected:        result.Cursor.CardsCollected,
		LastPlaceID:           result.Cursor.LastPlaceID,
		LastCardIndex:         result.Cursor.LastCardIndex,
		TotalScrollsPerformed: result.Cursor.TotalScrollsPerformed,
		LastVisibleCardCount:  result.Cursor.LastVisibleCardCount,
	}); err != nil {
		o.logPersistenceFailure("update cursor", err)
	}

	if err := o.History.CompleteSession(scrapeID, history.CompletionFields{
		TotalFound:        result.CardsFound,
		NewResults:        len(result.Records),
		SkippedDuplicates: result.SkippedDuplicates,
		TimeTakenSeconds:  elapsed.Seconds(),
	}); err != nil {
		o.logPersistenceFailure("complete session", err)
	}
}

func (o *Orchestrator) failScrape(scrapeID, userID string, start time.Time, err error) {
	o.Progress.Fail(scrapeID, err)
	if o.Metrics != nil {
		o.Metrics.ScrapesFailed.Inc()
	}
	if cerr := o.History.CompleteSession(scrapeID, history.CompletionFields{
		TimeTakenSeconds: time.Since(start).Seconds(),
		Error:            apperrors.Truncate(err.Error(), 50),
	}); cerr != nil {
		o.logPersistenceFailure("complete failed session", cerr)
	}
	if o.Log != nil {
		o.Log.Error("scrape failed", zap.String("scrape_id", scrapeID), zap.String("user_id", userID), zap.Error(err))
	}
}

func (o *Orchestrator) logPersistenceFailure(op string, err error) {
	if o.Log != nil {
		o.Log.Warn("background persistence failed, scrape result unaffected", zap.String("op", op), zap.Error(err))
	}
}

func queryHashFor(query string) string {
	// Deferred to the normalize package via the cursor manager's own hashing
	// so the two never drift; used for the history store's query-scoped
	// lookups, session rows and RecordPlaces.
	return cursor.HashQuery(query)
}

func newScrapeID() string {
	b := make([]byte, 8)
	_, _ = cryptorand.Read(b)
	return fmt.Sprintf("%x", b)
}

func statusPtr(s models.ProgressStatus) *models.ProgressStatus { return &s }
func strPtr(s string) *string                                  { return &s }
func floatPtr(f float64) *float64                              { return &f }
