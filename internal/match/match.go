// Package match scores how well a provider-supplied candidate name agrees with
// the name a lead typed in.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the minimum score accepted as a verified name match.
const DefaultThreshold = 0.7

// firstNameBonus is added when both names start with the same given name.
const firstNameBonus = 0.1

// connectives are dropped before comparison; they carry no identity signal.
var connectives = map[string]bool{
	"de": true, "da": true, "do": true, "das": true, "dos": true, "e": true,
}

// Candidate is a scored name option from a provider.
type Candidate struct {
	ID    string
	Name  string
	Score float64
}

// Fold lowercases s and strips diacritics ("João" -> "joao").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// tokens returns the folded, punctuation-trimmed words of s in order.
func tokens(s string) []string {
	fields := strings.Fields(Fold(s))
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		w = strings.Trim(w, ".,;:!?()[]{}\"'-")
		if w == "" || connectives[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Score returns a similarity in [0, 1] between a candidate name and the
// supplied lead name: the Jaccard index of their word sets, plus a small
// bonus when the given names agree. Empty input scores 0.
func Score(candidate, supplied string) float64 {
	a := tokens(candidate)
	b := tokens(supplied)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(a))
	for _, w := range a {
		setA[w] = true
	}
	setB := make(map[string]bool, len(b))
	for _, w := range b {
		setB[w] = true
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA)
	for w := range setB {
		if !setA[w] {
			union++
		}
	}
	if intersection == 0 {
		return 0
	}

	score := float64(intersection) / float64(union)
	if a[0] == b[0] {
		score += firstNameBonus
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Best scores every candidate against supplied and returns the highest
// scoring one. Ties keep the earlier candidate so provider ordering is
// preserved. ok is false when candidates is empty.
func Best(candidates []Candidate, supplied string) (best Candidate, ok bool) {
	for i, c := range candidates {
		c.Score = Score(c.Name, supplied)
		if i == 0 || c.Score > best.Score {
			best = c
			ok = true
		}
	}
	return best, ok
}
