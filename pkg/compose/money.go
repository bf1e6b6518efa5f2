package compose

import (
	"math"
	"strconv"
	"strings"

	"github.com/ollbud/quotebot/pkg/pricing"
)

// maxCents bounds the integer path; beyond it float64 has no cent
// precision left and int64 would overflow.
const maxCents = 1 << 53

// FormatMoney renders v as "12 345,67 zł". Non-finite values render as
// "b.d." (brak danych).
func FormatMoney(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "b.d."
	}

	var whole, frac string
	if c := math.Round(math.Abs(v) * 100); c < maxCents {
		cents := int64(c)
		whole = strconv.FormatInt(cents/100, 10)
		frac = strconv.FormatInt(100+cents%100, 10)[1:]
	} else {
		whole, frac, _ = strings.Cut(strconv.FormatFloat(math.Abs(v), 'f', 2, 64), ".")
	}

	var b strings.Builder
	if v < 0 && strings.Trim(whole+frac, "0") != "" {
		b.WriteByte('-')
	}
	b.WriteString(group(whole))
	b.WriteByte(',')
	b.WriteString(frac)
	b.WriteString(" zł")
	return b.String()
}

// FormatRange renders a money range as "min – max".
func FormatRange(r pricing.Range) string {
	return FormatMoney(r.Min) + " – " + FormatMoney(r.Max)
}

// FormatNumber renders v with up to decimals fractional digits, trailing
// zeros dropped and a decimal comma: 0.25 -> "0,25", 45 -> "45".
func FormatNumber(v float64, decimals int) string {
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return strings.Replace(s, ".", ",", 1)
}

// group inserts a space every three digits from the right.
func group(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
