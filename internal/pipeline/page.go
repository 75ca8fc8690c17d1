package pipeline

import "context"

// CardLink is one result-card anchor recovered during the collection phase:
// its recovered identity, its raw href, and a fallback display name pulled
// from the anchor's own aria-label (used when the detail page never yields
// a usable name).
type CardLink struct {
	PlaceID  string
	Href     string
	CardName string
}

// SearchFeed is the interactive surface of one open map-search results page:
// navigation, consent handling, card enumeration and scrolling. One
// implementation backs it with chromedp against a pooled user session; the
// fake used by tests backs it with an in-memory card list.
type SearchFeed interface {
	Navigate(ctx context.Context, query string) error
	DismissConsent(ctx context.Context) error
	VisibleCards(ctx context.Context) ([]CardLink, error)
	FeedScrollPosition(ctx context.Context) (int, error)
	SetFeedScrollPosition(ctx context.Context, px int) error
	ScrollFeedBy(ctx context.Context, deltaPX int) error
}

// DetailTab is one fresh tab opened to extract a single card's detail panel.
// The correctness-critical sequence it implements is: navigate to the
// search URL (not the place URL), click the card's anchor so the detail
// panel's in-page XHR fires, then wait for it to populate. Direct
// navigation to the place URL yields a skeletal, unclickable page.
type DetailTab interface {
	NavigateSearch(ctx context.Context, query string) error
	DismissConsent(ctx context.Context) error
	ClickCard(ctx context.Context, placeID, href string) error
	WaitDetailReady(ctx context.Context) error
	Snapshot(ctx context.Context) (DetailSnapshot, error)
	CurrentURL(ctx context.Context) (string, error)
	// FallbackDirectNavigate is used when ClickCard times out: it navigates
	// directly to href and fires a synthetic popstate, the documented
	// fallback for a stuck click handler.
	FallbackDirectNavigate(ctx context.Context, href string) error
	Close(ctx context.Context)
}

// Browser opens the search feed the pipeline scrolls, and the fresh detail
// tabs extraction clicks into. Search runs against the caller's long-lived
// pooled session; OpenDetail opens an independent tab so up to
// MaxConcurrentCards can run concurrently without contending on the same
// page state.
type Browser interface {
	Search(ctx context.Context) (SearchFeed, error)
	OpenDetail(ctx context.Context) (DetailTab, error)
}
