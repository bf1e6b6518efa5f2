// Package pricing computes renovation cost ranges from floor area and
// building standard. Everything here is pure: no I/O and no errors.
package pricing

import (
	"math"
	"strings"
)

// Standard is the building category an estimate is priced for.
type Standard string

const (
	StandardBlock           Standard = "block"
	StandardTenement        Standard = "tenement"
	StandardDeveloperFinish Standard = "developer-finish"
	StandardHouseShell      Standard = "house-shell"
)

// Standards lists every recognized category in a stable order.
var Standards = []Standard{StandardBlock, StandardTenement, StandardDeveloperFinish, StandardHouseShell}

const (
	// Overhead is the 42.5% markup applied to labor and materials.
	Overhead = 1.425

	// MaxAreaM2 is the largest floor area priced; larger inputs are
	// rejected at the edges and clamped here.
	MaxAreaM2 = 100000.0

	houseShellRate     = 1900.0
	houseShellMaterial = 0.55

	materialMinFactor = 0.6
	materialMaxFactor = 1.5

	vatReduced  = 8
	vatStandard = 23

	vatThreshold           = 150.0
	vatThresholdHouseShell = 300.0
)

type rate struct {
	base   float64 // labor per m2, net
	spread float64
}

var rates = map[Standard]rate{
	StandardBlock:           {base: 1000, spread: 0.35},
	StandardTenement:        {base: 1200, spread: 0.35},
	StandardDeveloperFinish: {base: 900, spread: 0.30},
	StandardHouseShell:      {base: houseShellRate, spread: 0.30},
}

var aliases = map[string]Standard{
	"block":            StandardBlock,
	"blok":             StandardBlock,
	"tenement":         StandardTenement,
	"kamienica":        StandardTenement,
	"developer-finish": StandardDeveloperFinish,
	"developer":        StandardDeveloperFinish,
	"deweloperski":     StandardDeveloperFinish,
	"deweloperka":      StandardDeveloperFinish,
	"house-shell":      StandardHouseShell,
	"house":            StandardHouseShell,
	"dom":              StandardHouseShell,
	"stan surowy":      StandardHouseShell,
}

// ParseStandard maps a category name (English or Polish) to a Standard.
// Unrecognized names yield StandardBlock with ok=false: pricing an unknown
// category at the block rate is an accepted business rule, and callers
// decide whether to log it.
func ParseStandard(s string) (Standard, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "_", "-")
	if st, ok := aliases[key]; ok {
		return st, true
	}
	return StandardBlock, false
}

// Range is a closed money interval, Min <= Max.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) add(o Range) Range {
	return Range{Min: round2(r.Min + o.Min), Max: round2(r.Max + o.Max)}
}

// EstimateResult is a priced estimate. All money values are net and
// rounded to 2 decimal places.
type EstimateResult struct {
	WorkType Standard `json:"work_type"`
	AreaM2   float64  `json:"area_m2"`
	Labor    Range    `json:"labor"`
	Material Range    `json:"material"`
	Total    Range    `json:"total"`
	VATRate  int      `json:"vat_rate"`
}

// Estimate prices a job of areaM2 square meters in the given standard.
// Negative, NaN and infinite areas are treated as zero; areas above
// MaxAreaM2 are priced as MaxAreaM2.
func Estimate(areaM2 float64, standard Standard) EstimateResult {
	area := clampArea(areaM2)

	r, ok := rates[standard]
	if !ok {
		standard = StandardBlock
		r = rates[StandardBlock]
	}

	res := EstimateResult{
		WorkType: standard,
		AreaM2:   area,
		VATRate:  VATRate(area, standard),
	}

	if standard == StandardHouseShell {
		totalMin := area * r.base * Overhead
		totalMax := totalMin * (1 + r.spread)
		res.Material = Range{
			Min: round2(totalMin * houseShellMaterial),
			Max: round2(totalMax * houseShellMaterial),
		}
		res.Labor = Range{
			Min: round2(round2(totalMin) - res.Material.Min),
			Max: round2(round2(totalMax) - res.Material.Max),
		}
	} else {
		rawMin := area * r.base
		rawMax := rawMin * (1 + r.spread)
		res.Labor = Range{
			Min: round2(rawMin * Overhead),
			Max: round2(rawMax * Overhead),
		}
		// Materials scale off the lower labor bound in both directions.
		res.Material = Range{
			Min: round2(rawMin * materialMinFactor * Overhead),
			Max: round2(rawMin * materialMaxFactor * Overhead),
		}
	}

	res.Total = res.Labor.add(res.Material)
	return res
}

// VATRate returns 8 for areas at or below the category threshold
// (150 m2, or 300 m2 for house-shell) and 23 above it.
func VATRate(areaM2 float64, standard Standard) int {
	threshold := vatThreshold
	if standard == StandardHouseShell {
		threshold = vatThresholdHouseShell
	}
	if clampArea(areaM2) <= threshold {
		return vatReduced
	}
	return vatStandard
}

// ValidArea reports whether a is a finite area in [0, MaxAreaM2].
func ValidArea(a float64) bool {
	return !math.IsNaN(a) && a >= 0 && a <= MaxAreaM2
}

func clampArea(a float64) float64 {
	switch {
	case math.IsNaN(a) || math.IsInf(a, 0) || a < 0:
		return 0
	case a > MaxAreaM2:
		return MaxAreaM2
	}
	return a
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
