package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TDHINGRA16/Scrappy/internal/apperrors"
	"github.com/TDHINGRA16/Scrappy/internal/config"
	"github.com/TDHINGRA16/Scrappy/internal/dedup"
	"github.com/TDHINGRA16/Scrappy/internal/metrics"
	"github.com/TDHINGRA16/Scrappy/internal/models"
)

// scrollDelta is how far the results-feed container is scrolled between
// collection iterations, in pixels. The map-search UI lazily renders new
// cards as the feed nears its current bottom, so a delta comfortably
// smaller than one viewport keeps new cards appearing every iteration.
const scrollDelta = 800

// consecutiveSeenDuplicateLimit is the early-exit threshold: once this many
// consecutive cards in a row are already in the seen set, the feed is
// judged to be dominated by previously-collected businesses and further
// scrolling isn't worth the cost.
const consecutiveSeenDuplicateLimit = 15

// ProgressStats mirrors the counters the caller's progress tracker displays;
// the pipeline reports through a callback rather than importing the
// tracker, so it stays testable without a live Tracker.
type ProgressStats = models.ProgressStats

// Params configures one Scrape call.
type Params struct {
	Query       string
	TargetCount int
	MaxScrolls  int // 0 means compute from TargetCount
	SeenPlaces  map[string]struct{}
	Cursor      *models.Cursor

	Browser Browser
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Collector

	// OnProgress is invoked after every meaningful state change. percent is
	// in [0,100]; phase is a short display phase ("scrolling",
	// "extracting"...). It must not block.
	OnProgress func(percent float64, phase string, stats ProgressStats, preview []models.BusinessRecord)
}

// CursorUpdate is the resume state the pipeline reports at the end of a
// scrape, for the caller to persist via the cursor manager.
type CursorUpdate struct {
	LastScrollPosition    int
	CardsCollected        int
	LastPlaceID           string
	LastCardIndex         int
	TotalScrollsPerformed int
	LastVisibleCardCount  int
}

// Result is everything one Scrape call produces.
type Result struct {
	Records           []models.BusinessRecord
	SkippedDuplicates int
	CardsFound        int
	ExtractionErrors  int
	ScrollsPerformed  int
	Cursor            CursorUpdate
}

// Pipeline drives one scrape. It holds no per-scrape state itself — callers
// construct one per scrape (or reuse the zero value) and call Scrape.
type Pipeline struct{}

// New returns a ready Pipeline. It exists for symmetry with the rest of the
// package constructors and to leave room for shared state later without
// breaking callers.
func New() *Pipeline { return &Pipeline{} }

// Scrape runs the navigate/collect/extract cycle described by p and returns
// up to p.TargetCount new, deduplicated records.
func (pl *Pipeline) Scrape(ctx context.Context, p Params) (Result, error) {
	maxScrolls := p.MaxScrolls
	if maxScrolls <= 0 {
		maxScrolls = clamp(20, ceilDiv(p.TargetCount, 5), 150)
	}

	collectionMultiplier := 1.2
	if len(p.SeenPlaces) > 0 {
		collectionMultiplier = 1.5
	}
	collectionTarget := int(math.Ceil(float64(p.TargetCount) * collectionMultiplier))

	feed, err := p.Browser.Search(ctx)
	if err != nil {
		return Result{}, apperrors.NewFatal("pipeline.search", err)
	}
	if err := feed.Navigate(ctx, p.Query); err != nil {
		return Result{}, apperrors.NewFatal("pipeline.navigate", err)
	}
	if err := feed.DismissConsent(ctx); err != nil && p.Log != nil {
		p.Log.Warn("consent dismissal failed, continuing", zap.Error(err))
	}

	dedupSvc := dedup.New()
	for id := range p.SeenPlaces {
		dedupSvc.SeedPlaceIDs([]string{id})
	}

	startPos := 0
	if p.Cursor != nil {
		startPos = p.Cursor.LastScrollPosition
	}
	if startPos > 0 {
		if err := feed.SetFeedScrollPosition(ctx, startPos); err != nil && p.Log != nil {
			p.Log.Warn("failed to seek resume scroll position", zap.Error(err))
		}
		if verified := verifyResumeAnchor(ctx, feed, p.Cursor.LastPlaceID); !verified {
			if p.Log != nil {
				p.Log.Info("resume anchor mismatch, falling back to fresh scroll")
			}
			_ = feed.SetFeedScrollPosition(ctx, 0)
			startPos = 0
		}
	}

	collected, skipped, scrollsDone, lastScrollPos, lastVisible, err := collectCards(ctx, feed, collectPlan{
		seen:             p.SeenPlaces,
		collectionTarget: collectionTarget,
		maxScrolls:       maxScrolls,
		staleLimit:       maxInt(1, p.Config.StaleScrollLimit),
		delayMin:         p.Config.ScrollDelayMin,
		delayMax:         p.Config.ScrollDelayMax,
		onProgress: func(cardsFound, scrollsDone int) {
			if p.OnProgress == nil {
				return
			}
			pct := 15 + 15*math.Min(1, float64(scrollsDone)/float64(maxScrolls))
			p.OnProgress(pct, "scrolling", ProgressStats{
				CardsFound:  cardsFound,
				ScrollsDone: scrollsDone,
				MaxScrolls:  maxScrolls,
				TargetCount: p.TargetCount,
			}, nil)
		},
	})
	if err != nil {
		return Result{}, err
	}

	records, extractionErrors := pl.extractCards(ctx, p, collected, dedupSvc)

	skippedFinal := skipped
	final := make([]models.BusinessRecord, 0, len(records))
	for _, rec := range records {
		if dedupSvc.CheckAndAdd(rec) {
			skippedFinal++
			continue
		}
		final = append(final, rec)
		if len(final) >= p.TargetCount {
			break
		}
	}

	lastPlaceID := ""
	if len(collected) > 0 {
		lastPlaceID = collected[len(collected)-1].PlaceID
	}

	if p.OnProgress != nil {
		p.OnProgress(100, "completed", ProgressStats{
			CardsFound:       len(collected) + skipped,
			CardsExtracted:   len(records),
			UniqueResults:    len(final),
			ScrollsDone:      scrollsDone,
			MaxScrolls:       maxScrolls,
			TargetCount:      p.TargetCount,
			ExtractionErrors: extractionErrors,
		}, previewOf(final))
	}

	return Result{
		Records:           final,
		SkippedDuplicates: skippedFinal,
		CardsFound:        len(collected) + skipped,
		ExtractionErrors:  extractionErrors,
		ScrollsPerformed:  scrollsDone,
		Cursor: CursorUpdate{
			LastScrollPosition:    lastScrollPos,
			CardsCollected:        len(collected) + skipped,
			LastPlaceID:           lastPlaceID,
			LastCardIndex:         len(collected) - 1,
			TotalScrollsPerformed: scrollsDone,
			LastVisibleCardCount:  lastVisible,
		},
	}, nil
}

func verifyResumeAnchor(ctx context.Context, feed SearchFeed, lastPlaceID string) bool {
	if lastPlaceID == "" {
		return true
	}
	cards, err := feed.VisibleCards(ctx)
	if err != nil {
		return false
	}
	for _, c := range cards {
		if c.PlaceID == lastPlaceID {
			return true
		}
	}
	return false
}

func previewOf(records []models.BusinessRecord) []models.BusinessRecord {
	if len(records) > 10 {
		return records[:10]
	}
	return records
}

type collectPlan struct {
	seen             map[string]struct{}
	collectionTarget int
	maxScrolls       int
	staleLimit       int
	delayMin         time.Duration
	delayMax         time.Duration
	onProgress       func(cardsFound, scrollsDone int)
}

// collectCards runs the scroll loop: enumerate visible cards, record new
// ones, skip already-seen ones, and scroll further until one of the
// stopping criteria in the component design fires.
func collectCards(ctx context.Context, feed SearchFeed, plan collectPlan) (collected []CardLink, skipped, scrollsDone, lastScrollPos, lastVisible int, err error) {
	byID := map[string]struct{}{}
	staleCount := 0
	consecutiveSeenDuplicates := 0

	for scrollNum := 0; ; scrollNum++ {
		select {
		case <-ctx.Done():
			return collected, skipped, scrollsDone, lastScrollPos, lastVisible, ctx.Err()
		default:
		}

		cards, cerr := feed.VisibleCards(ctx)
		if cerr != nil {
			return collected, skipped, scrollsDone, lastScrollPos, lastVisible, apperrors.NewFatal("pipeline.collect", cerr)
		}
		lastVisible = len(cards)

		newThisScroll := 0
		for _, c := range cards {
			if c.PlaceID == "" {
				continue
			}
			if _, already := byID[c.PlaceID]; already {
				continue
			}
			if _, seen := plan.seen[c.PlaceID]; seen {
				skipped++
				consecutiveSeenDuplicates++
				byID[c.PlaceID] = struct{}{}
				continue
			}
			byID[c.PlaceID] = struct{}{}
			collected = append(collected, c)
			newThisScroll++
			consecutiveSeenDuplicates = 0
		}

		if newThisScroll == 0 {
			staleCount++
		} else {
			staleCount = 0
		}

		if plan.onProgress != nil {
			plan.onProgress(len(collected), scrollsDone)
		}

		if len(collected) >= plan.collectionTarget {
			break
		}
		if staleCount >= plan.staleLimit {
			break
		}
		if scrollNum >= plan.maxScrolls {
			break
		}
		if consecutiveSeenDuplicates >= consecutiveSeenDuplicateLimit {
			break
		}

		if err := feed.ScrollFeedBy(ctx, scrollDelta); err != nil {
			return collected, skipped, scrollsDone, lastScrollPos, lastVisible, apperrors.NewFatal("pipeline.scroll", err)
		}
		scrollsDone++

		jitter(ctx, plan.delayMin, plan.delayMax)

		if pos, perr := feed.FeedScrollPosition(ctx); perr == nil {
			lastScrollPos = pos
		}
	}

	return collected, skipped, scrollsDone, lastScrollPos, lastVisible, nil
}

func jitter(ctx context.Context, min, max time.Duration) {
	if max <= min {
		time.Sleep(min)
		return
	}
	d := min + time.Duration(rand.Int63n(int64(max-min)))
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// extractCards runs up to Config.MaxConcurrentCards card extractions in
// parallel via a bounded worker pool, never OS-threading one goroutine per
// card beyond that cap. Per-card failures are counted and swallowed; they
// never abort the batch.
func (pl *Pipeline) extractCards(ctx context.Context, p Params, cards []CardLink, dedupSvc *dedup.Service) ([]models.BusinessRecord, int) {
	maxConcurrent := p.Config.MaxConcurrentCards
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	sem := make(chan struct{}, maxConcurrent)

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		out    []models.BusinessRecord
		errors int
	)

	total := len(cards)
	done := 0

	for i, card := range cards {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return out, errors
		}
		wg.Add(1)
		go func(idx int, c CardLink) {
			defer wg.Done()
			defer func() { <-sem }()

			rec, err := pl.extractOne(ctx, p, c)

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				errors++
				if p.Log != nil {
					p.Log.Warn("card extraction failed", zap.String("place_id", c.PlaceID), zap.Error(err))
				}
			} else if rec != nil {
				out = append(out, *rec)
				if p.Metrics != nil {
					p.Metrics.RecordCard(false)
				}
			}
			if p.OnProgress != nil {
				pct := 30 + 65*float64(done)/float64(maxInt(1, total))
				p.OnProgress(pct, "extracting", ProgressStats{
					CardsFound:       total,
					CardsExtracted:   len(out),
					ScrollsDone:      0,
					TargetCount:      p.TargetCount,
					ExtractionErrors: errors,
				}, nil)
			}
		}(i, card)
	}
	wg.Wait()
	return out, errors
}

// extractOne performs the click-to-trigger detail load for one card and
// maps its snapshot into a BusinessRecord. A nil, nil return means the
// record failed validation (e.g. no usable name) and should be discarded
// without counting as an extraction error.
func (pl *Pipeline) extractOne(ctx context.Context, p Params, card CardLink) (*models.BusinessRecord, error) {
	tab, err := p.Browser.OpenDetail(ctx)
	if err != nil {
		return nil, fmt.Errorf("open detail tab: %w", err)
	}
	defer tab.Close(ctx)

	if err := tab.NavigateSearch(ctx, p.Query); err != nil {
		return nil, fmt.Errorf("navigate search: %w", err)
	}
	if err := tab.DismissConsent(ctx); err != nil && p.Log != nil {
		p.Log.Debug("consent dismissal skipped in detail tab", zap.Error(err))
	}

	clickErr := tab.ClickCard(ctx, card.PlaceID, card.Href)
	if clickErr != nil {
		if err := tab.FallbackDirectNavigate(ctx, card.Href); err != nil {
			return nil, fmt.Errorf("click and fallback navigate both failed: %w", err)
		}
	}

	if err := tab.WaitDetailReady(ctx); err != nil {
		return nil, fmt.Errorf("detail panel never populated: %w", err)
	}

	jitter(ctx, p.Config.CardExtractDelayMin, p.Config.CardExtractDelayMax)

	snapshot, err := tab.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	name, ok := resolve(NameChain, snapshot)
	if !ok || !models.ValidName(name) {
		name = card.CardName
	}
	if !models.ValidName(name) {
		if p.Metrics != nil {
			p.Metrics.SelectorFailures.WithLabelValues("name").Inc()
		}
		return nil, nil
	}

	rec := models.BusinessRecord{
		Name:    name,
		Href:    card.Href,
		PlaceID: card.PlaceID,
	}
	rec.Address, _ = resolve(AddressChain, snapshot)
	rec.Phone, _ = resolve(PhoneChain, snapshot)
	rec.Website, _ = resolve(WebsiteChain, snapshot)
	rec.Category, _ = resolve(CategoryChain, snapshot)
	rec.Hours, _ = resolve(HoursChain, snapshot)
	rec.PhotoURL, _ = resolve(PhotoChain, snapshot)
	rec.IsClaimed = ParseClaimed(snapshot)
	if rating, ok := ParseRating(snapshot); ok {
		rec.Rating = rating
	}
	if reviews, ok := ParseReviewsCount(snapshot); ok {
		rec.ReviewsCount = reviews
	}

	if url, err := tab.CurrentURL(ctx); err == nil {
		id := ExtractPlaceID(url)
		if rec.PlaceID == "" {
			rec.PlaceID = id.PlaceID
		}
		if id.CID != "" {
			rec.CID = id.CID
		}
		if lat, lng, ok := ExtractCoordinates(url); ok {
			rec.Lat, rec.Lng = lat, lng
		}
	}

	return &rec, nil
}

func clamp(lo, v, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return int(math.Ceil(float64(a) / float64(b)))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
