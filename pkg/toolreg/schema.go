package toolreg

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/ollbud/quotebot/pkg/pricing"
)

func ptr[T any](v T) *T { return &v }

func standardEnum() []any {
	out := make([]any, len(pricing.Standards))
	for i, s := range pricing.Standards {
		out[i] = string(s)
	}
	return out
}

var estimateOfferSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"area_m2": {
			Type:        "number",
			Description: "Powierzchnia w m2 (floor area in square meters).",
			Minimum:     ptr(0.0),
			Maximum:     ptr(pricing.MaxAreaM2),
		},
		"standard": {
			Type:        "string",
			Description: "Building standard: block (blok), tenement (kamienica), developer-finish (stan deweloperski), house-shell (dom, stan surowy).",
			Enum:        standardEnum(),
		},
	},
	Required: []string{"area_m2", "standard"},
}

var getRateSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"query": {
			Type:        "string",
			Description: "Work description to look up in the KNR rate catalog, e.g. \"malowanie ścian\".",
			MinLength:   ptr(1),
		},
		"quantity": {
			Type:        "number",
			Description: "Quantity in the catalog unit (m2, m, szt.); enables totals.",
			Minimum:     ptr(0.0),
		},
		"top_n": {
			Type:        "integer",
			Description: "Maximum number of matches to return.",
			Minimum:     ptr(1.0),
			Maximum:     ptr(10.0),
		},
	},
	Required: []string{"query"},
}

// schemaMap renders a schema as the generic map handed to providers.
func schemaMap(s *jsonschema.Schema) map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("toolreg: marshal schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("toolreg: unmarshal schema: %v", err))
	}
	return m
}

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	rs, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("toolreg: resolve schema: %v", err))
	}
	return rs
}
