package normalize

import "testing"

func TestQueryExamples(t *testing.T) {
	cases := map[string]string{
		"DENTIST Amritsar":                   "amritsar dentist",
		"  the best dentist near amritsar  ":  "amritsar best dentist near",
	}
	for in, want := range cases {
		if got := Query(in); got != want {
			t.Errorf("Query(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQueryDeterministic(t *testing.T) {
	a := "Dentist in Amritsar"
	b := "amritsar in dentist"
	if Query(a) != Query(b) {
		t.Fatalf("expected equal normalization, got %q vs %q", Query(a), Query(b))
	}
	if Hash(a) != Hash(b) {
		t.Fatalf("expected equal hash for equal normalization")
	}
}

func TestHashFollowsNormalization(t *testing.T) {
	q1, q2 := "Dentist - in Amritsar", "amritsar, dentist in"
	if Query(q1) == Query(q2) && Hash(q1) != Hash(q2) {
		t.Fatalf("equal normalization must yield equal hash")
	}
}

func TestFuzzyMatch(t *testing.T) {
	r := FuzzyMatch("dentist amritsar", "dentist in amritsar")
	if r < DefaultFuzzyThreshold {
		t.Fatalf("fuzzy ratio = %.3f, want >= %.2f", r, DefaultFuzzyThreshold)
	}
}

func TestFuzzyMatchUnrelated(t *testing.T) {
	r := FuzzyMatch("dentist amritsar", "plumber mumbai")
	if r >= DefaultFuzzyThreshold {
		t.Fatalf("fuzzy ratio = %.3f for unrelated queries, want below threshold", r)
	}
}
