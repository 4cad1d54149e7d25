// Package keywords spots campaign keywords in live transcript text using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity.
//
// Spoken-word transcription mangles brand names and campaign terms
// ("VoxMark" arrives as "vox mark" or "boxmark"), so exact substring search
// misses most mentions. The spotter proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each transcript token and each keyword. A code overlap makes the
//     keyword a candidate.
//
//  2. Jaro-Winkler ranking: candidates are accepted when their similarity
//     to the matched token run exceeds the phonetic threshold. Without a
//     phonetic overlap a stricter fuzzy threshold applies.
//
// Multi-word keywords are matched against token n-grams of the same length.
package keywords

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Hit is one keyword occurrence found in a transcript fragment.
type Hit struct {
	// Keyword is the configured keyword that matched.
	Keyword string

	// Matched is the transcript token run that triggered the match.
	Matched string

	// Confidence is the Jaro-Winkler similarity between Keyword and Matched.
	Confidence float64
}

// Option is a functional option for configuring a [Spotter].
type Option func(*Spotter)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched keyword to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(s *Spotter) { s.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when there
// is no phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(s *Spotter) { s.fuzzyThreshold = threshold }
}

// Spotter finds configured keywords in transcript text. Read-only after
// construction, safe for concurrent use.
type Spotter struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	keywords []keyword
}

type keyword struct {
	raw    string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// New returns a Spotter for the given keywords. Blank keywords are skipped.
func New(words []string, opts ...Option) *Spotter {
	s := &Spotter{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	for _, w := range words {
		lower := strings.ToLower(strings.TrimSpace(w))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		s.keywords = append(s.keywords, keyword{
			raw:    strings.TrimSpace(w),
			lower:  lower,
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
	}
	return s
}

// Spot scans text and returns one Hit per keyword occurrence, in reading
// order. Overlapping n-grams report at most one hit per starting token.
func (s *Spotter) Spot(text string) []Hit {
	if len(s.keywords) == 0 {
		return nil
	}
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return nil
	}

	var hits []Hit
	for i := range tokens {
		var best *Hit
		for _, kw := range s.keywords {
			n := len(kw.tokens)
			if i+n > len(tokens) {
				continue
			}
			run := tokens[i : i+n]
			runJoined := strings.Join(run, " ")

			phonetic := codesOverlap(codesForTokens(run), kw.codes)
			score := bestJWScore(run, kw.tokens, runJoined, kw.lower)

			threshold := s.fuzzyThreshold
			if phonetic {
				threshold = s.phoneticThreshold
			}
			if score < threshold {
				continue
			}
			if best == nil || score > best.Confidence {
				best = &Hit{Keyword: kw.raw, Matched: runJoined, Confidence: score}
			}
		}
		if best != nil {
			hits = append(hits, *best)
		}
	}
	return hits
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the token
// run and the keyword: full strings, space-stripped strings, and the best
// pairwise token score.
func bestJWScore(runTokens, kwTokens []string, runFull, kwFull string) float64 {
	score := matchr.JaroWinkler(runFull, kwFull, false)

	if len(runTokens) > 1 || len(kwTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(runTokens, ""), strings.Join(kwTokens, ""), false); s > score {
			score = s
		}
	}

	for _, rt := range runTokens {
		for _, kt := range kwTokens {
			if s := matchr.JaroWinkler(rt, kt, false); s > score {
				score = s
			}
		}
	}
	return score
}
