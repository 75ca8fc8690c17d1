// Package normalize implements the deterministic canonical form used to key
// and fuzzy-match search queries for cursor resume.
package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {},
}

var locationWords = map[string]struct{}{
	"in": {}, "near": {}, "around": {}, "at": {}, "of": {}, "for": {},
}

// Query returns the canonical form of q: lowercase, punctuation stripped to
// spaces, stop words dropped, service tokens and location tokens each sorted
// alphabetically and rejoined service-then-location.
func Query(q string) string {
	lowered := strings.ToLower(q)

	var b strings.Builder
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '-', r == '&':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())

	var service, location []string
	for _, tok := range fields {
		if !hasAlnum(tok) {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, loc := locationWords[tok]; loc {
			location = append(location, tok)
			continue
		}
		service = append(service, tok)
	}

	sort.Strings(service)
	sort.Strings(location)

	return strings.Join(append(service, location...), " ")
}

// Hash returns the MD5 hex digest of a query's normalized form.
func Hash(q string) string {
	sum := md5.Sum([]byte(Query(q)))
	return hex.EncodeToString(sum[:])
}

// DefaultFuzzyThreshold is the minimum LCS-ratio similarity required for two
// normalized queries to be treated as the same cursor row.
const DefaultFuzzyThreshold = 0.85

// FuzzyMatch reports the longest-common-subsequence similarity ratio between
// the normalized forms of a and b, in [0, 1].
func FuzzyMatch(a, b string) float64 {
	na, nb := Query(a), Query(b)
	if na == nb {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}
	l := lcsLength(na, nb)
	return 2 * float64(l) / float64(len(na)+len(nb))
}

func hasAlnum(tok string) bool {
	for _, r := range tok {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}

func lcsLength(a, b string) int {
	m, n := len(a), len(b)
	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[n]
}
