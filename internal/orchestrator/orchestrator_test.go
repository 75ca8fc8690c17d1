package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/TDHINGRA16/Scrappy/internal/config"
	"github.com/TDHINGRA16/Scrappy/internal/cursor"
	"github.com/TDHINGRA16/Scrappy/internal/history"
	"github.com/TDHINGRA16/Scrappy/internal/models"
	"github.com/TDHINGRA16/Scrappy/internal/pipeline"
	"github.com/TDHINGRA16/Scrappy/internal/progress"
	"github.com/TDHINGRA16/Scrappy/internal/sessionpool"
	"github.com/TDHINGRA16/Scrappy/pkg/useragent"
)

// fakeBrowser is a minimal synthetic Browser so the orchestrator can be
// exercised end to end without a real chromedp session, mirroring the
// fixture style used by the pipeline's own tests.
type fakeBrowser struct {
	n int
}

func (b *fakeBrowser) Search(ctx context.Context) (pipeline.SearchFeed, error) {
	return &fakeFeed{total: b.n}, nil
}

func (b *fakeBrowser) OpenDetail(ctx context.Context) (pipeline.DetailTab, error) {
	return &fakeTab{}, nil
}

type fakeFeed struct {
	total    int
	revealed int
}

func (f *fakeFeed) Navigate(ctx context.Context, query string) error { return nil }
func (f *fakeFeed) DismissConsent(ctx context.Context) error         { return nil }
func (f *fakeFeed) VisibleCards(ctx context.Context) ([]pipeline.CardLink, error) {
	out := make([]pipeline.CardLink, 0, f.revealed)
	for i := 0; i < f.revealed && i < f.total; i++ {
		id := fmt.Sprintf("0x%013xabc", i+1)
		out = append(out, pipeline.CardLink{PlaceID: id, Href: "https://maps.example/place/x/data=!1s" + id, CardName: fmt.Sprintf("Business %d", i)})
	}
	return out, nil
}
func (f *fakeFeed) FeedScrollPosition(ctx context.Context) (int, error) { return f.revealed, nil }
func (f *fakeFeed) SetFeedScrollPosition(ctx context.Context, px int) error {
	f.revealed = px
	return nil
}
func (f *fakeFeed) ScrollFeedBy(ctx context.Context, delta int) error {
	f.revealed += 10
	if f.revealed > f.total {
		f.revealed = f.total
	}
	return nil
}

type fakeTab struct{ id string }

func (t *fakeTab) NavigateSearch(ctx context.Context, query string) error { return nil }
func (t *fakeTab) DismissConsent(ctx context.Context) error               { return nil }
func (t *fakeTab) ClickCard(ctx context.Context, placeID, href string) error {
	t.id = placeID
	return nil
}
func (t *fakeTab) WaitDetailReady(ctx context.Context) error { return nil }
func (t *fakeTab) Snapshot(ctx context.Context) (pipeline.DetailSnapshot, error) {
	return pipeline.DetailSnapshot{"h1": {Text: "Business " + t.id}}, nil
}
func (t *fakeTab) CurrentURL(ctx context.Context) (string, error) {
	return "https://maps.example/place/x/data=!1s" + t.id, nil
}
func (t *fakeTab) FallbackDirectNavigate(ctx context.Context, href string) error { return nil }
func (t *fakeTab) Close(ctx context.Context)                                    {}

func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.ScrollDelayMinMS, cfg.ScrollDelayMaxMS = 0, 1
	cfg.CardExtractDelayMinMS, cfg.CardExtractDelayMaxMS = 0, 1
	cfg.PoolMaxSessions = 5
	cfg.ComputeDerived()

	pool := sessionpool.New(cfg, useragent.NewPool(nil), nil, nil)
	t.Cleanup(pool.Shutdown)

	hist, err := history.New(dir + "/history")
	if err != nil {
		t.Fatalf("history.New: %v", err)
	}
	cursors, err := cursor.New(dir + "/cursors")
	if err != nil {
		t.Fatalf("cursor.New: %v", err)
	}
	prog := progress.New(nil)
	t.Cleanup(prog.Stop)

	return New(pool, hist, cursors, prog, nil, cfg, nil, func(sess *sessionpool.Session, cfg config.Config) pipeline.Browser {
		return &fakeBrowser{n: 200}
	})
}

func waitTerminal(t *testing.T, o *Orchestrator, scrapeID string) progress.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := o.Progress.Snapshot(scrapeID)
		if ok && (snap.Status == models.ProgressCompleted || snap.Status == models.ProgressFailed) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("scrape %s never reached a terminal state", scrapeID)
	return progress.Snapshot{}
}

func TestScrapeAsync_FreshUserCompletes(t *testing.T) {
	o := testOrchestrator(t)

	start, err := o.ScrapeAsync(context.Background(), "user-1", "dentist amritsar", 20, 0)
	if err != nil {
		t.Fatalf("ScrapeAsync: %v", err)
	}
	if start.CursorStatus != CursorNew {
		t.Errorf("want cursor_status=new, got %s", start.CursorStatus)
	}

	snap := waitTerminal(t, o, start.ScrapeID)
	if snap.Status != models.ProgressCompleted {
		t.Fatalf("want completed, got %s (%s)", snap.Status, snap.ErrorMessage)
	}
	if len(snap.FinalResults) != 20 {
		t.Errorf("want 20 final results, got %d", len(snap.FinalResults))
	}

	seen, err := o.History.SeenPlaces("user-1")
	if err != nil {
		t.Fatalf("SeenPlaces: %v", err)
	}
	if len(seen) != 20 {
		t.Errorf("want 20 recorded places, got %d", len(seen))
	}
}

func TestScrapeAsync_SecondScrapeResumesCursor(t *testing.T) {
	o := testOrchestrator(t)

	first, err := o.ScrapeAsync(context.Background(), "user-2", "plumber chicago", 20, 0)
	if err != nil {
		t.Fatalf("ScrapeAsync: %v", err)
	}
	waitTerminal(t, o, first.ScrapeID)

	second, err := o.ScrapeAsync(context.Background(), "user-2", "plumber chicago", 20, 0)
	if err != nil {
		t.Fatalf("ScrapeAsync (2nd): %v", err)
	}
	if second.CursorStatus != CursorResuming {
		t.Errorf("want cursor_status=resuming on repeat query, got %s", second.CursorStatus)
	}
	if second.SeenPlacesCount < 20 {
		t.Errorf("want seen_places_count >= 20, got %d", second.SeenPlacesCount)
	}
	waitTerminal(t, o, second.ScrapeID)
}

func TestScrapeAsync_RejectsMissingUser(t *testing.T) {
	o := testOrchestrator(t)
	if _, err := o.ScrapeAsync(context.Background(), "", "dentist amritsar", 10, 0); err == nil {
		t.Fatal("expected error for missing user_id")
	}
}
