// Package compose renders user-facing replies: the cost-notice footer, the
// quick reply built from tool results, and the degraded fallbacks.
package compose

import (
	"fmt"
	"strings"

	"github.com/ollbud/quotebot/pkg/pricing"
	"github.com/ollbud/quotebot/pkg/ratecatalog"
	"github.com/ollbud/quotebot/pkg/toolreg"
)

// Footer is appended to every reply that carries a price.
const Footer = "📍 *Dokładna wycena możliwa jest po wizji lokalnej.* " +
	"Koszt wizji lokalnej wynosi **od 400 do 1250 zł netto**, " +
	"w zależności od zakresu inwestycji.\n" +
	"Dziękujemy za uwagę i do zobaczenia!"

// Contact names the human channels every failure reply points to.
const Contact = "telefonicznie albo przez formularz kontaktowy na stronie"

// Apology is the reply when no useful answer could be produced.
const Apology = "Przepraszamy, wystąpił chwilowy problem z przygotowaniem odpowiedzi. " +
	"Spróbuj ponownie za chwilę lub skontaktuj się z nami " + Contact + "."

// ConfigHint prefixes Apology when the assistant is not configured to reach
// the model service.
const ConfigHint = "⚙️ Asystent nie jest skonfigurowany (brak klucza API usługi językowej). "

// QuoteLimit is the maximum number of runes quoted from the user message.
const QuoteLimit = 120

const quickRateLimit = 3

// WithFooter appends the footer to text.
func WithFooter(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return Footer
	}
	return text + "\n\n" + Footer
}

// ConfigApology is the reply for a missing credential.
func ConfigApology() string {
	return ConfigHint + Apology
}

// QuickReply summarizes the most recent estimate and the most recent rate
// lookup, quoting the last user message for context.
func QuickReply(lastUserMessage string, results []toolreg.Result) string {
	var b strings.Builder

	if q := Truncate(strings.TrimSpace(lastUserMessage), QuoteLimit); q != "" {
		fmt.Fprintf(&b, "Na podstawie Twojej wiadomości: „%s”\n\n", q)
	}

	est, rates := latest(results)
	if est != nil {
		writeEstimate(&b, est.Estimate)
	}
	if rates != nil {
		if est != nil {
			b.WriteString("\n")
		}
		writeRates(&b, rates, quickRateLimit)
	}
	if est == nil && rates == nil {
		b.WriteString("Nie udało się przygotować wyceny na podstawie podanych informacji.\n")
	}
	return WithFooter(b.String())
}

// Fallback renders every tool result as a bullet summary after an apology.
func Fallback(results []toolreg.Result) string {
	if len(results) == 0 {
		return Apology
	}

	var b strings.Builder
	b.WriteString("Przepraszamy, nie udało się przygotować pełnej odpowiedzi. ")
	b.WriteString("W razie pytań skontaktuj się z nami " + Contact + ". ")
	b.WriteString("Poniżej przekazujemy wyniki wyliczeń:\n\n")
	for _, r := range results {
		switch r.Kind {
		case toolreg.KindEstimateOffer:
			if r.Estimate != nil {
				writeEstimate(&b, r.Estimate)
			}
		case toolreg.KindGetRate:
			writeRates(&b, &r, len(r.Rates))
		}
		b.WriteString("\n")
	}
	return WithFooter(b.String())
}

func latest(results []toolreg.Result) (est, rates *toolreg.Result) {
	for i := len(results) - 1; i >= 0; i-- {
		r := &results[i]
		switch {
		case r.Kind == toolreg.KindEstimateOffer && r.Estimate != nil && est == nil:
			est = r
		case r.Kind == toolreg.KindGetRate && rates == nil:
			rates = r
		}
	}
	return est, rates
}

func writeEstimate(b *strings.Builder, e *pricing.EstimateResult) {
	fmt.Fprintf(b, "💰 Szacunkowa wycena (%s, %s m²):\n", StandardLabel(e.WorkType), FormatNumber(e.AreaM2, 2))
	fmt.Fprintf(b, "• Robocizna: %s netto\n", FormatRange(e.Labor))
	fmt.Fprintf(b, "• Materiały: %s netto\n", FormatRange(e.Material))
	fmt.Fprintf(b, "• Razem: %s netto\n", FormatRange(e.Total))
	fmt.Fprintf(b, "• VAT: %d%%\n", e.VATRate)
}

func writeRates(b *strings.Builder, r *toolreg.Result, limit int) {
	if len(r.Rates) == 0 {
		fmt.Fprintf(b, "🔎 Brak dopasowań w katalogu KNR dla „%s”.\n", r.Query)
		return
	}
	fmt.Fprintf(b, "🔎 Pozycje z katalogu KNR dla „%s”:\n", r.Query)
	for i, m := range r.Rates {
		if i >= limit {
			break
		}
		fmt.Fprintf(b, "%d. %s\n", i+1, describeMatch(m))
	}
}

func describeMatch(m ratecatalog.RateMatch) string {
	var parts []string
	name := m.Name
	if m.Code != "" {
		name = m.Code + " " + name
	}
	if m.Unit != "" {
		name += " [" + m.Unit + "]"
	}
	parts = append(parts, name)

	if m.LaborHoursPerUnit != nil {
		parts = append(parts, FormatNumber(*m.LaborHoursPerUnit, 4)+" r-g/j.m.")
	}
	if m.CostPerUnit != nil {
		parts = append(parts, "robocizna "+FormatRange(*m.CostPerUnit)+" /j.m.")
	}
	if m.TotalLaborHours != nil && m.Quantity != nil && m.CostTotal != nil {
		parts = append(parts, fmt.Sprintf("dla %s: %s r-g, %s netto",
			FormatNumber(*m.Quantity, 4), FormatNumber(*m.TotalLaborHours, 4), FormatRange(*m.CostTotal)))
	}
	return strings.Join(parts, "; ")
}

// StandardLabel returns the Polish name of a building standard.
func StandardLabel(s pricing.Standard) string {
	switch s {
	case pricing.StandardBlock:
		return "blok"
	case pricing.StandardTenement:
		return "kamienica"
	case pricing.StandardDeveloperFinish:
		return "stan deweloperski"
	case pricing.StandardHouseShell:
		return "dom, stan surowy"
	}
	return string(s)
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
