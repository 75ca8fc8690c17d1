package pipeline

import (
	"regexp"
	"strconv"
	"strings"
)

// Strategy is one way of pulling a value for a field out of an element the
// chain has located, tried in the priority order the chain lists them.
type Strategy int

const (
	// StrategyAriaLabel reads the element's aria-label attribute verbatim.
	StrategyAriaLabel Strategy = iota
	// StrategyTextContent reads the element's rendered text content.
	StrategyTextContent
	// StrategyAttribute reads an arbitrary named attribute.
	StrategyAttribute
	// StrategyRegexOnAria applies a capture-group regex to the aria-label,
	// used for fields (rating, review count) embedded in a sentence like
	// "4.5 stars 230 Reviews".
	StrategyRegexOnAria
)

// ElementInfo is everything a selector chain needs from one matched element,
// gathered in a single batched page evaluation rather than one round trip
// per candidate selector.
type ElementInfo struct {
	Text      string
	AriaLabel string
	Attrs     map[string]string
}

// DetailSnapshot is every candidate element on a detail panel, keyed by the
// CSS selector that located it. A selector absent from the map means the
// page evaluation found no matching element.
type DetailSnapshot map[string]ElementInfo

// FieldSelector is one entry in a field's fallback chain: a CSS selector
// paired with the strategy used to pull a string out of whatever it finds.
type FieldSelector struct {
	Selector string
	Strategy Strategy
	Attr     string
	Regex    *regexp.Regexp
}

// Selectors returns the full set of CSS selectors a DetailSnapshot must be
// built from to satisfy every field chain below — the real chromedp
// implementation evaluates all of them in one round trip.
func Selectors() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(chain []FieldSelector) {
		for _, fs := range chain {
			if _, ok := seen[fs.Selector]; !ok {
				seen[fs.Selector] = struct{}{}
				out = append(out, fs.Selector)
			}
		}
	}
	add(NameChain)
	add(AddressChain)
	add(PhoneChain)
	add(WebsiteChain)
	add(RatingChain)
	add(ReviewsChain)
	add(CategoryChain)
	add(HoursChain)
	add(ClaimedChain)
	add(PhotoChain)
	return out
}

// resolve tries each entry of chain against snapshot in order, short
// circuiting on the first non-empty result, so each chain's order is its
// fallback priority.
func resolve(chain []FieldSelector, snapshot DetailSnapshot) (string, bool) {
	for _, fs := range chain {
		el, ok := snapshot[fs.Selector]
		if !ok {
			continue
		}
		var val string
		switch fs.Strategy {
		case StrategyAriaLabel:
			val = el.AriaLabel
		case StrategyTextContent:
			val = el.Text
		case StrategyAttribute:
			val = el.Attrs[fs.Attr]
		case StrategyRegexOnAria:
			if fs.Regex == nil {
				continue
			}
			m := fs.Regex.FindStringSubmatch(el.AriaLabel)
			if len(m) < 2 {
				continue
			}
			val = m[1]
		}
		val = strings.TrimSpace(val)
		if val != "" {
			return val, true
		}
	}
	return "", false
}

// Field chains below try the aria-label before text content wherever an
// element carries one (address, phone, hours, rating, reviews), since
// aria-labels survive the map provider's class-name churn far better than
// CSS class selectors. The name chain reads the h1 text first, and the
// website and photo chains read an attribute first.

var NameChain = []FieldSelector{
	{Selector: "h1", Strategy: StrategyTextContent},
	{Selector: "h1", Strategy: StrategyAriaLabel},
	{Selector: "[data-attrid=\"title\"]", Strategy: StrategyTextContent},
}

var AddressChain = []FieldSelector{
	{Selector: "button[data-item-id=\"address\"]", Strategy: StrategyAriaLabel},
	{Selector: "button[data-item-id=\"address\"]", Strategy: StrategyTextContent},
	{Selector: "[data-tooltip=\"Copy address\"]", Strategy: StrategyTextContent},
}

var PhoneChain = []FieldSelector{
	{Selector: "button[data-item-id^=\"phone\"]", Strategy: StrategyAriaLabel},
	{Selector: "button[data-item-id^=\"phone\"]", Strategy: StrategyTextContent},
	{Selector: "[data-tooltip=\"Copy phone number\"]", Strategy: StrategyTextContent},
}

var WebsiteChain = []FieldSelector{
	{Selector: "a[data-item-id=\"authority\"]", Strategy: StrategyAttribute, Attr: "href"},
	{Selector: "a[data-item-id=\"authority\"]", Strategy: StrategyAriaLabel},
}

// ratingAriaRe parses a sentence like "4.5 stars 230 Reviews" out of an
// aria-label, capturing the rating; ReviewsChain reuses the same element
// with a second regex that captures the review count.
var ratingAriaRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*star`)
var reviewsAriaRe = regexp.MustCompile(`(?i)([\d,]+)\s*review`)

var RatingChain = []FieldSelector{
	{Selector: "span[role=\"img\"][aria-label*=\"star\"]", Strategy: StrategyRegexOnAria, Regex: ratingAriaRe},
	{Selector: "span.rating", Strategy: StrategyTextContent},
}

var ReviewsChain = []FieldSelector{
	{Selector: "span[role=\"img\"][aria-label*=\"star\"]", Strategy: StrategyRegexOnAria, Regex: reviewsAriaRe},
	{Selector: "button[aria-label*=\"review\"]", Strategy: StrategyAriaLabel},
}

var CategoryChain = []FieldSelector{
	{Selector: "button[jsaction*=\"category\"]", Strategy: StrategyTextContent},
	{Selector: "span.category", Strategy: StrategyTextContent},
}

var HoursChain = []FieldSelector{
	{Selector: "[data-item-id=\"oh\"]", Strategy: StrategyAriaLabel},
	{Selector: "[data-item-id=\"oh\"]", Strategy: StrategyTextContent},
}

var ClaimedChain = []FieldSelector{
	{Selector: "[data-item-id=\"claim-link\"]", Strategy: StrategyTextContent},
}

var PhotoChain = []FieldSelector{
	{Selector: "button[jsaction*=\"heroHeaderImage\"] img", Strategy: StrategyAttribute, Attr: "src"},
	{Selector: "img.photo", Strategy: StrategyAttribute, Attr: "src"},
}

// ParseRating extracts the numeric rating from snapshot via RatingChain.
func ParseRating(snapshot DetailSnapshot) (float64, bool) {
	s, ok := resolve(RatingChain, snapshot)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

// ParseReviewsCount extracts the review count from snapshot via ReviewsChain.
func ParseReviewsCount(snapshot DetailSnapshot) (int, bool) {
	s, ok := resolve(ReviewsChain, snapshot)
	if !ok {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// ParseClaimed reports whether the listing presents as claimed: absence of
// a "claim this business" prompt is treated as claimed, matching the
// provider's convention of only showing the prompt to unclaimed listings.
func ParseClaimed(snapshot DetailSnapshot) bool {
	_, found := resolve(ClaimedChain, snapshot)
	return !found
}
