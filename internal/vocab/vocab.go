// Package vocab corrects misheard vocabulary in transcripts.
//
// Speech models routinely mangle product names, people's names and other
// terms the assistant is expected to know ("live kit" for LiveKit,
// "apointment" for appointment). A [Corrector] slides n-gram windows over the
// transcript and replaces a window with a configured term when the two are
// close enough, phonetically or by spelling.
//
// Matching runs in two stages:
//
//  1. Phonetic candidates: Double Metaphone codes of the window and the term
//     share at least one code, and their Jaro-Winkler similarity reaches the
//     phonetic threshold.
//  2. Fuzzy fallback: with no phonetic candidate, a term is accepted when the
//     Jaro-Winkler similarity reaches the higher fuzzy threshold.
//
// Similarity is the better of the full-string and space-stripped comparisons,
// so "live kit" matches "LiveKit".
package vocab

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.85
	defaultFuzzyThreshold    = 0.92

	// minRunes is the shortest window considered for correction.
	minRunes = 3
)

// Correction records a single substitution.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64

	// Phonetic is true when the match came from the phonetic stage.
	Phonetic bool
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matched term. Default: 0.85.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no phonetic
// match exists. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

type term struct {
	text  string
	lower string
	flat  string // lower, spaces removed
	words int
	codes map[string]struct{}
}

// Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Corrector for terms. Blank terms are ignored.
func New(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		lower := strings.ToLower(t)
		words := strings.Fields(lower)
		c.terms = append(c.terms, term{
			text:  t,
			lower: lower,
			flat:  strings.Join(words, ""),
			words: len(words),
			codes: codesForTokens(words),
		})
		// A term can be heard as one more word than it has ("live kit").
		c.maxWords = max(c.maxWords, len(words)+1)
	}
	return c
}

// Len returns the number of usable terms.
func (c *Corrector) Len() int { return len(c.terms) }

// Correct returns text with matching windows replaced by their terms, and the
// substitutions made. Longer windows win over shorter ones at the same
// position. Trailing punctuation of the last word in a window is kept.
func (c *Corrector) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(c.terms) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n, corr, ok := c.matchAt(tokens[i:])
		switch {
		case n == 0:
			out = append(out, tokens[i])
			i++
			continue
		case !ok:
			out = append(out, tokens[i:i+n]...)
			i += n
			continue
		}
		out = append(out, corr.Corrected+trailingPunct(tokens[i+n-1]))
		corrections = append(corrections, corr)
		i += n
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// matchAt tries windows starting at tokens[0], longest first, and returns
// the number of tokens consumed. A window that already spells a term is
// consumed with ok set to false.
func (c *Corrector) matchAt(tokens []string) (int, Correction, bool) {
	for n := min(c.maxWords, len(tokens)); n >= 1; n-- {
		words := make([]string, 0, n)
		for _, t := range tokens[:n] {
			if w := strings.ToLower(strings.TrimFunc(t, unicode.IsPunct)); w != "" {
				words = append(words, w)
			}
		}
		if len(words) != n {
			continue
		}
		window := strings.Join(words, " ")
		if len([]rune(window)) < minRunes {
			continue
		}
		t, score, phonetic, ok := c.match(words, window)
		if !ok {
			continue
		}
		if t.lower == window {
			// Already correct; consume it so shorter windows don't rewrite it.
			return n, Correction{}, false
		}
		return n, Correction{
			Original:   strings.Join(tokens[:n], " "),
			Corrected:  t.text,
			Confidence: score,
			Phonetic:   phonetic,
		}, true
	}
	return 0, Correction{}, false
}

// match returns the best term for window.
func (c *Corrector) match(words []string, window string) (best term, score float64, phonetic bool, ok bool) {
	codes := codesForTokens(words)
	flat := strings.Join(words, "")

	for _, t := range c.terms {
		if t.words > len(words)+1 || len(words) > t.words+1 || !lengthClose(len(flat), len(t.flat)) {
			continue
		}
		s := max(matchr.JaroWinkler(window, t.lower, false), matchr.JaroWinkler(flat, t.flat, false))
		if codesOverlap(codes, t.codes) {
			if s >= c.phoneticThreshold && (!phonetic || s > score) {
				best, score, phonetic, ok = t, s, true, true
			}
		} else if !phonetic && s >= c.fuzzyThreshold && s > score {
			best, score, ok = t, s, true
		}
	}
	return best, score, phonetic, ok
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
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

// lengthClose reports whether a and b differ by at most a quarter of the
// longer one.
func lengthClose(a, b int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return 4*d <= max(a, b)
}

func trailingPunct(tok string) string {
	trimmed := strings.TrimRightFunc(tok, unicode.IsPunct)
	return tok[len(trimmed):]
}
