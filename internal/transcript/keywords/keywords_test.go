package keywords

import "testing"

func TestSpot_ExactMatch(t *testing.T) {
	t.Parallel()

	s := New([]string{"VoxMark"})
	hits := s.Spot("Welcome back to VoxMark, your marketing studio.")
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].Keyword != "VoxMark" {
		t.Errorf("keyword = %q, want VoxMark", hits[0].Keyword)
	}
	if hits[0].Confidence < 0.9 {
		t.Errorf("confidence = %v, want >= 0.9 for a near-exact mention", hits[0].Confidence)
	}
}

func TestSpot_PhoneticVariant(t *testing.T) {
	t.Parallel()

	// "arora" shares Double Metaphone codes with "aurora" and scores well
	// on Jaro-Winkler, so the lower phonetic threshold applies.
	s := New([]string{"Aurora"})
	hits := s.Spot("the arora launch is next week")
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].Keyword != "Aurora" || hits[0].Matched != "arora" {
		t.Errorf("hit = %+v", hits[0])
	}
}

func TestSpot_FuzzyFallback(t *testing.T) {
	t.Parallel()

	// "boxmark" is phonetically distinct (B vs V) but close enough on pure
	// string similarity to clear the fuzzy threshold.
	s := New([]string{"voxmark"})
	hits := s.Spot("I heard boxmark mentioned on the podcast")
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].Matched != "boxmark" {
		t.Errorf("matched = %q, want boxmark", hits[0].Matched)
	}
}

func TestSpot_MultiWordKeyword(t *testing.T) {
	t.Parallel()

	s := New([]string{"brand voice"})
	hits := s.Spot("keep your brand voice consistent across channels")
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].Matched != "brand voice" {
		t.Errorf("matched = %q, want %q", hits[0].Matched, "brand voice")
	}
	if hits[0].Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 for an exact phrase", hits[0].Confidence)
	}
}

func TestSpot_NoFalsePositives(t *testing.T) {
	t.Parallel()

	s := New([]string{"zenith"})
	if hits := s.Spot("the weather is nice today"); len(hits) != 0 {
		t.Errorf("hits = %v, want none", hits)
	}
}

func TestSpot_EmptyInputs(t *testing.T) {
	t.Parallel()

	if hits := New(nil).Spot("anything"); hits != nil {
		t.Errorf("no keywords: hits = %v, want nil", hits)
	}
	if hits := New([]string{"term"}).Spot(""); hits != nil {
		t.Errorf("empty text: hits = %v, want nil", hits)
	}
	if got := len(New([]string{" ", ""}).keywords); got != 0 {
		t.Errorf("blank keywords kept: %d", got)
	}
}

func TestSpot_StricterFuzzyThresholdFiltersWeakMatches(t *testing.T) {
	t.Parallel()

	loose := New([]string{"voxmark"}, WithFuzzyThreshold(0.80))
	strict := New([]string{"voxmark"}, WithFuzzyThreshold(0.99))

	text := "boxmark came up again"
	if len(loose.Spot(text)) != 1 {
		t.Error("loose threshold should accept the variant")
	}
	if len(strict.Spot(text)) != 0 {
		t.Error("strict threshold should reject the variant")
	}
}
