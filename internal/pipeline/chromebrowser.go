package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/TDHINGRA16/Scrappy/internal/sessionpool"
)

const searchBaseURL = "https://www.google.com/maps/search/"

// ChromeBrowser backs Browser with chromedp: Search reuses the caller's
// pooled per-user tab, OpenDetail opens a fresh sibling tab under the same
// isolated browser context so concurrent card extraction never shares page
// state with the scroll-collection tab or with other users.
type ChromeBrowser struct {
	Session *sessionpool.Session
	Timeout time.Duration
}

func (b *ChromeBrowser) Search(ctx context.Context) (SearchFeed, error) {
	return &chromeFeed{ctx: b.Session.Context(), timeout: b.Timeout}, nil
}

func (b *ChromeBrowser) OpenDetail(ctx context.Context) (DetailTab, error) {
	tabCtx, cancel := chromedp.NewContext(b.Session.BrowserContext())
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open detail tab: %w", err)
	}
	return &chromeDetailTab{ctx: tabCtx, cancel: cancel, timeout: b.Timeout}, nil
}

func searchURL(query string) string {
	return searchBaseURL + url.PathEscape(query)
}

type chromeFeed struct {
	ctx     context.Context
	timeout time.Duration
}

const feedContainerSelector = `div[role="feed"]`

func (f *chromeFeed) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(f.ctx, f.timeout)
	defer cancel()
	_ = ctx
	return chromedp.Run(runCtx, actions...)
}

func (f *chromeFeed) Navigate(ctx context.Context, query string) error {
	return f.run(ctx,
		chromedp.Navigate(searchURL(query)),
		chromedp.WaitVisible(feedContainerSelector, chromedp.ByQuery),
	)
}

func (f *chromeFeed) DismissConsent(ctx context.Context) error {
	var clicked bool
	script := `(function(){
		const btn = document.querySelector('form button[aria-label*="Accept"], form button[aria-label*="Reject"]');
		if (btn) { btn.click(); return true; }
		return false;
	})()`
	err := f.run(ctx, chromedp.Evaluate(script, &clicked))
	return err
}

func (f *chromeFeed) VisibleCards(ctx context.Context) ([]CardLink, error) {
	var raw string
	script := `JSON.stringify(Array.from(document.querySelectorAll('a[href*="/maps/place/"]')).map(a => ({
		href: a.href, ariaLabel: a.getAttribute('aria-label') || ''
	})))`
	if err := f.run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, err
	}
	var raws []struct {
		Href      string `json:"href"`
		AriaLabel string `json:"ariaLabel"`
	}
	if err := json.Unmarshal([]byte(raw), &raws); err != nil {
		return nil, fmt.Errorf("decode visible cards: %w", err)
	}
	cards := make([]CardLink, 0, len(raws))
	for _, r := range raws {
		if !isPlaceDetailHref(r.Href) {
			continue
		}
		id := ExtractPlaceID(r.Href)
		cards = append(cards, CardLink{PlaceID: id.PlaceID, Href: r.Href, CardName: r.AriaLabel})
	}
	return cards, nil
}

func (f *chromeFeed) FeedScrollPosition(ctx context.Context) (int, error) {
	var pos int
	script := fmt.Sprintf(`(document.querySelector(%q) || {}).scrollTop || 0`, feedContainerSelector)
	err := f.run(ctx, chromedp.Evaluate(script, &pos))
	return pos, err
}

func (f *chromeFeed) SetFeedScrollPosition(ctx context.Context, px int) error {
	script := fmt.Sprintf(`(function(){ const el = document.querySelector(%q); if (el) el.scrollTop = %d; })()`, feedContainerSelector, px)
	var result any
	return f.run(ctx, chromedp.Evaluate(script, &result))
}

func (f *chromeFeed) ScrollFeedBy(ctx context.Context, deltaPX int) error {
	script := fmt.Sprintf(`(function(){ const el = document.querySelector(%q); if (el) el.scrollTop += %d; })()`, feedContainerSelector, deltaPX)
	var result any
	return f.run(ctx, chromedp.Evaluate(script, &result))
}

type chromeDetailTab struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

func (t *chromeDetailTab) run(actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (t *chromeDetailTab) NavigateSearch(ctx context.Context, query string) error {
	return t.run(
		chromedp.Navigate(searchURL(query)),
		chromedp.WaitVisible(feedContainerSelector, chromedp.ByQuery),
	)
}

func (t *chromeDetailTab) DismissConsent(ctx context.Context) error {
	var clicked bool
	script := `(function(){
		const btn = document.querySelector('form button[aria-label*="Accept"], form button[aria-label*="Reject"]');
		if (btn) { btn.click(); return true; }
		return false;
	})()`
	return t.run(chromedp.Evaluate(script, &clicked))
}

// ClickCard locates the anchor whose href contains placeID and dispatches a
// trusted click on it, the only sequence that makes the detail sidebar's
// in-page XHR fire. A direct chromedp.Navigate to the place URL here would
// skip that XHR and return a skeletal page.
func (t *chromeDetailTab) ClickCard(ctx context.Context, placeID, href string) error {
	script := fmt.Sprintf(`(function(){
		const anchors = Array.from(document.querySelectorAll('a[href*="/maps/place/"]'));
		const target = anchors.find(a => a.href.toLowerCase().includes(%q));
		if (!target) return false;
		target.scrollIntoView({block: "center"});
		target.click();
		return true;
	})()`, placeID)
	var clicked bool
	if err := t.run(chromedp.Evaluate(script, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("card anchor for %s not found", placeID)
	}
	return nil
}

func (t *chromeDetailTab) WaitDetailReady(ctx context.Context) error {
	return t.run(
		chromedp.WaitVisible("h1", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var text string
			if err := chromedp.Text("h1", &text, chromedp.ByQuery).Do(ctx); err != nil {
				return err
			}
			if text == "" {
				return fmt.Errorf("h1 empty after wait")
			}
			return nil
		}),
	)
}

func (t *chromeDetailTab) Snapshot(ctx context.Context) (DetailSnapshot, error) {
	selectors := Selectors()
	selJSON, err := json.Marshal(selectors)
	if err != nil {
		return nil, err
	}
	script := fmt.Sprintf(`(function(){
		const sels = %s;
		const out = {};
		sels.forEach(function(sel){
			const el = document.querySelector(sel);
			if (!el) return;
			const attrs = {};
			for (const a of el.attributes) attrs[a.name] = a.value;
			out[sel] = {
				text: (el.textContent || '').trim(),
				ariaLabel: el.getAttribute('aria-label') || '',
				attrs: attrs
			};
		});
		return JSON.stringify(out);
	})()`, selJSON)

	var raw string
	if err := t.run(chromedp.Evaluate(script, &raw)); err != nil {
		return nil, err
	}
	var decoded map[string]ElementInfo
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return DetailSnapshot(decoded), nil
}

func (t *chromeDetailTab) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := t.run(chromedp.Location(&u))
	return u, err
}

// FallbackDirectNavigate is used when ClickCard's anchor lookup fails
// (timeout or a re-rendered feed): navigate straight to href and fire a
// synthetic popstate so any router listening for it still updates. This
// yields a weaker extraction (the in-page XHR ClickCard relies on never
// fires) but keeps the card from aborting the whole batch.
func (t *chromeDetailTab) FallbackDirectNavigate(ctx context.Context, href string) error {
	var result any
	return t.run(
		chromedp.Navigate(href),
		chromedp.Evaluate(`window.dispatchEvent(new PopStateEvent('popstate'))`, &result),
	)
}

func (t *chromeDetailTab) Close(ctx context.Context) {
	t.cancel()
}
