package ratecatalog

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases s and strips diacritics ("Ściana" -> "sciana").
func fold(s string) string {
	s = strings.ToLower(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	// ł has no decomposition.
	return strings.ReplaceAll(out, "ł", "l")
}

// normalize folds s and reduces it to space-separated letter/digit tokens.
func normalize(s string) string {
	s = fold(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Score rates how well choice matches query on a 0-100 scale. The metric
// is order-insensitive and tolerant of a short query against a long
// catalog description: it takes the best of the plain edit ratio, the
// token-sort and token-set ratios, and for very uneven lengths the best
// partial alignment.
func Score(query, choice string) float64 {
	return weightedRatio(normalize(query), normalize(choice))
}

const (
	tokenScale        = 0.95
	partialScale      = 0.9
	longPartialScale  = 0.6
	partialLenRatio   = 1.5
	longPartialLenMin = 8.0
)

// weightedRatio expects normalized input.
func weightedRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	la, lb := runeLen(a), runeLen(b)
	lenRatio := float64(max(la, lb)) / float64(min(la, lb))

	best := ratio(a, b)
	best = max(best, tokenSortRatio(a, b)*tokenScale)
	best = max(best, tokenSetRatio(a, b)*tokenScale)

	if lenRatio >= partialLenRatio {
		scale := partialScale
		if lenRatio >= longPartialLenMin {
			scale = longPartialScale
		}
		best = max(best, partialRatio(a, b)*scale)
	}
	return round4(best)
}

// ratio is 100 * (1 - editDistance / longerLength).
func ratio(a, b string) float64 {
	la, lb := runeLen(a), runeLen(b)
	if la == 0 && lb == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(d)/float64(max(la, lb)))
}

func tokenSortRatio(a, b string) float64 {
	return ratio(sortedTokens(a), sortedTokens(b))
}

func tokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)

	var sect, onlyA, onlyB []string
	for t := range ta {
		if tb[t] {
			sect = append(sect, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if !ta[t] {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(sect)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	if len(sect) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	base := strings.Join(sect, " ")
	withA := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	withB := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	best := ratio(withA, withB)
	if base != "" {
		best = max(best, ratio(base, withA), ratio(base, withB))
	}
	return best
}

// partialRatio slides the shorter string across the longer one and keeps
// the best window ratio.
func partialRatio(a, b string) float64 {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	s := string(short)
	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		r := ratio(s, string(long[i:i+len(short)]))
		if r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

func sortedTokens(s string) string {
	f := strings.Fields(s)
	sort.Strings(f)
	return strings.Join(f, " ")
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(s) {
		set[f] = true
	}
	return set
}

func runeLen(s string) int { return len([]rune(s)) }
