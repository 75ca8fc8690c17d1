// Package pipeline drives the scroll/collect/extract cycle against a single
// search result feed, honoring a resume cursor and a pre-seeded seen set,
// and returns deduplicated BusinessRecords.
package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/TDHINGRA16/Scrappy/internal/models"
)

// featureIDRe matches the "!1s0xHEX:0xHEX" feature-ID pair Google Maps embeds
// in a place URL: the first token is the place_id, the second is an
// auxiliary hex-encoded CID.
var featureIDRe = regexp.MustCompile(`(0x[0-9a-f]+):(0x[0-9a-f]+)`)

// hexTokenRe matches a standalone place_id hex token when no feature-ID pair
// is present.
var hexTokenRe = regexp.MustCompile(`0x[0-9a-f]+`)

// cidParamRe matches an explicit decimal "cid" query parameter.
var cidParamRe = regexp.MustCompile(`[?&]cid=(\d+)`)

// ExtractPlaceID recovers the primary and auxiliary identity from a detail
// URL, in priority order: an explicit "cid" query parameter always wins for
// CID; otherwise the second token of a "0xHEX:0xHEX" feature-ID pair is
// converted from hex to decimal. place_id is always the first hex token
// found, whichever form it came from.
func ExtractPlaceID(href string) models.PlaceID {
	lower := strings.ToLower(href)

	var placeID, cid string
	if m := featureIDRe.FindStringSubmatch(lower); m != nil {
		placeID = m[1]
		if v, err := strconv.ParseUint(strings.TrimPrefix(m[2], "0x"), 16, 64); err == nil {
			cid = strconv.FormatUint(v, 10)
		}
	} else if m := hexTokenRe.FindString(lower); m != "" {
		placeID = m
	}

	if m := cidParamRe.FindStringSubmatch(href); m != nil {
		cid = m[1]
	}

	return models.PlaceID{PlaceID: placeID, CID: cid}
}

// isPlaceDetailHref reports whether href points at a map-search detail page
// worth collecting, i.e. it carries a recoverable place identity.
func isPlaceDetailHref(href string) bool {
	id := ExtractPlaceID(href)
	return !id.Empty()
}

// coordsRe recovers the "@lat,lng" pair Google Maps appends to a detail URL
// once navigation completes.
var coordsRe = regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`)

// ExtractCoordinates parses lat/lng from a detail URL, returning ok=false if
// absent.
func ExtractCoordinates(url string) (lat, lng float64, ok bool) {
	m := coordsRe.FindStringSubmatch(url)
	if m == nil {
		return 0, 0, false
	}
	lat, errLat := strconv.ParseFloat(m[1], 64)
	lng, errLng := strconv.ParseFloat(m[2], 64)
	if errLat != nil || errLng != nil {
		return 0, 0, false
	}
	return lat, lng, true
}
