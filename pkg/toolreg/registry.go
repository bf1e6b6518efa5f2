// Package toolreg declares the tools the model may call and dispatches
// calls to the pricing calculator and the rate catalog.
package toolreg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/ollbud/quotebot/pkg/pricing"
	"github.com/ollbud/quotebot/pkg/provider"
	"github.com/ollbud/quotebot/pkg/ratecatalog"
)

// Kind identifies a registered tool.
type Kind string

const (
	KindEstimateOffer Kind = "estimate_offer"
	KindGetRate       Kind = "get_rate"
)

// ParseKind maps a tool name from the model to a Kind.
func ParseKind(name string) (Kind, error) {
	switch Kind(strings.TrimSpace(name)) {
	case KindEstimateOffer:
		return KindEstimateOffer, nil
	case KindGetRate:
		return KindGetRate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
}

// EstimateArgs are the decoded arguments of estimate_offer.
type EstimateArgs struct {
	AreaM2   float64 `json:"area_m2"`
	Standard string  `json:"standard"`
}

// RateArgs are the decoded arguments of get_rate.
type RateArgs struct {
	Query    string   `json:"query"`
	Quantity *float64 `json:"quantity,omitempty"`
	TopN     int      `json:"top_n,omitempty"`
}

// RateFinder looks up catalog rates. *ratecatalog.Catalog satisfies it.
type RateFinder interface {
	Find(ctx context.Context, query string, topN int, quantity *float64) ([]ratecatalog.RateMatch, error)
}

// Result is the typed output of one executed tool call.
type Result struct {
	Kind     Kind                    `json:"tool"`
	CallID   string                  `json:"call_id"`
	Estimate *pricing.EstimateResult `json:"estimate,omitempty"`
	Query    string                  `json:"query,omitempty"`
	Rates    []ratecatalog.RateMatch `json:"rates,omitempty"`
}

// Content renders the result as the JSON body of a tool turn.
func (r Result) Content() string {
	var v any
	switch r.Kind {
	case KindEstimateOffer:
		v = r.Estimate
	case KindGetRate:
		rates := r.Rates
		if rates == nil {
			rates = []ratecatalog.RateMatch{}
		}
		v = struct {
			Query   string                  `json:"query"`
			Matches []ratecatalog.RateMatch `json:"matches"`
		}{r.Query, rates}
	default:
		v = r
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

type definition struct {
	kind        Kind
	description string
	schema      *jsonschema.Schema
	resolved    *jsonschema.Resolved
}

// definitions is ordered; ToToolDefs keeps this order.
var definitions = []definition{
	{
		kind: KindEstimateOffer,
		description: "Wycena remontu: zwraca widełki kosztów robocizny, materiałów i sumy netto " +
			"oraz stawkę VAT dla podanej powierzchni i standardu budynku.",
		schema:   estimateOfferSchema,
		resolved: mustResolve(estimateOfferSchema),
	},
	{
		kind: KindGetRate,
		description: "Wyszukuje pozycje w katalogu KNR (nakłady roboczogodzin na jednostkę) " +
			"i wylicza koszt robocizny dla podanej ilości.",
		schema:   getRateSchema,
		resolved: mustResolve(getRateSchema),
	},
}

// Registry is the immutable set of callable tools bound to their handlers.
type Registry struct {
	rates  RateFinder
	logger *zap.SugaredLogger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry binds the tool set to a rate finder.
func NewRegistry(rates RateFinder, opts ...Option) *Registry {
	r := &Registry{
		rates:  rates,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ToToolDefs converts the registered tools to provider tool definitions.
func (r *Registry) ToToolDefs() []provider.ToolDef {
	defs := make([]provider.ToolDef, 0, len(definitions))
	for _, d := range definitions {
		defs = append(defs, provider.ToolDef{
			Name:        string(d.kind),
			Description: d.description,
			Parameters:  schemaMap(d.schema),
		})
	}
	return defs
}

// Execute parses, validates and runs one tool call. Unknown tools and bad
// arguments yield *ArgumentError; handler failures yield *CalculatorError.
func (r *Registry) Execute(ctx context.Context, call provider.ToolCall) (Result, error) {
	kind, err := ParseKind(call.Name)
	if err != nil {
		return Result{}, &ArgumentError{Tool: call.Name, Err: err}
	}
	def := lookup(kind)

	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		raw = "{}"
	}
	var instance map[string]any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return Result{}, &ArgumentError{Tool: call.Name, Err: fmt.Errorf("parse arguments: %w", err)}
	}
	if kind == KindEstimateOffer {
		r.canonicalizeStandard(instance)
	}
	if err := def.resolved.Validate(instance); err != nil {
		return Result{}, &ArgumentError{Tool: call.Name, Err: err}
	}

	// Re-encode the validated instance so decoding sees any canonicalized values.
	normalized, err := json.Marshal(instance)
	if err != nil {
		return Result{}, &ArgumentError{Tool: call.Name, Err: err}
	}

	res := Result{Kind: kind, CallID: call.ID}
	switch kind {
	case KindEstimateOffer:
		var args EstimateArgs
		if err := json.Unmarshal(normalized, &args); err != nil {
			return Result{}, &ArgumentError{Tool: call.Name, Err: err}
		}
		est := r.estimate(args)
		res.Estimate = &est

	case KindGetRate:
		var args RateArgs
		if err := json.Unmarshal(normalized, &args); err != nil {
			return Result{}, &ArgumentError{Tool: call.Name, Err: err}
		}
		matches, err := r.findRates(ctx, args)
		if err != nil {
			return Result{}, &CalculatorError{Tool: call.Name, Err: err}
		}
		res.Query = args.Query
		res.Rates = matches
	}
	return res, nil
}

// canonicalizeStandard rewrites aliases ("blok", "kamienica") to their
// canonical names. Unrecognized strings are priced as block; that branch
// is logged so the rule stays visible.
func (r *Registry) canonicalizeStandard(instance map[string]any) {
	s, ok := instance["standard"].(string)
	if !ok {
		return
	}
	st, known := pricing.ParseStandard(s)
	if !known {
		r.logger.Warnw("unrecognized building standard, pricing as block", "standard", s)
	}
	instance["standard"] = string(st)
}

func (r *Registry) estimate(args EstimateArgs) pricing.EstimateResult {
	st, _ := pricing.ParseStandard(args.Standard)
	return pricing.Estimate(args.AreaM2, st)
}

func (r *Registry) findRates(ctx context.Context, args RateArgs) ([]ratecatalog.RateMatch, error) {
	if r.rates == nil {
		return nil, ratecatalog.ErrCatalogUnavailable
	}
	return r.rates.Find(ctx, args.Query, args.TopN, args.Quantity)
}

func lookup(kind Kind) definition {
	for _, d := range definitions {
		if d.kind == kind {
			return d
		}
	}
	panic("toolreg: no definition for " + string(kind))
}
