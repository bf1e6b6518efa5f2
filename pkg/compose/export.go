package compose

import (
	"fmt"
	"strings"
	"time"

	"github.com/ollbud/quotebot/pkg/pricing"
)

// ExportText renders est as a plain-text offer draft and returns it with
// a download file name for day.
func ExportText(est pricing.EstimateResult, day time.Time) (content, filename string) {
	var b strings.Builder
	b.WriteString("OLLBUD – szkic oferty (wstępny)\n\n")
	fmt.Fprintf(&b, "Standard: %s\n", StandardLabel(est.WorkType))
	fmt.Fprintf(&b, "Metraż: %s m²\n\n", FormatNumber(est.AreaM2, 2))
	fmt.Fprintf(&b, "Robocizna: %s netto\n", FormatRange(est.Labor))
	fmt.Fprintf(&b, "Materiały: %s netto\n", FormatRange(est.Material))
	fmt.Fprintf(&b, "Razem: %s netto\n", FormatRange(est.Total))
	fmt.Fprintf(&b, "VAT: %d%%\n\n", est.VATRate)
	b.WriteString("Uwaga: dokument wygenerowany automatycznie, wymaga weryfikacji po wizji lokalnej.\n")
	return b.String(), "OLL_BUD_szkic_" + day.Format(time.DateOnly) + ".txt"
}
