// Package ratecatalog looks up unit labor rates (KNR-style rows) by fuzzy
// name match and derives cost ranges from them.
package ratecatalog

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ollbud/quotebot/pkg/pricing"
)

// ErrCatalogUnavailable is returned when the catalog source is missing,
// unreadable, or lacks a required column.
var ErrCatalogUnavailable = errors.New("rate catalog unavailable")

const (
	// DefaultTopN is used when Find is called with topN <= 0.
	DefaultTopN = 5
	// DefaultMinScore is the relevance floor below which rows are dropped.
	DefaultMinScore = 50.0

	hourlyRateMin = 100.0
	hourlyRateMax = 180.0
)

// Row is one catalog entry. Nil numbers are unknown.
type Row struct {
	Code              string   `json:"code,omitempty"`
	Name              string   `json:"name"`
	Unit              string   `json:"unit"`
	LaborHoursPerUnit *float64 `json:"labor_hours_per_unit"`
	MaterialPerUnit   *float64 `json:"material_per_unit,omitempty"`
	EquipmentPerUnit  *float64 `json:"equipment_per_unit,omitempty"`
	UnitPrice         *float64 `json:"unit_price,omitempty"`
}

// RateMatch is a scored catalog row with costs derived from its labor
// hours. TotalLaborHours and CostTotal are set only when a quantity was
// given and the row's labor hours are known.
type RateMatch struct {
	Row
	Score           float64        `json:"match_score"`
	Quantity        *float64       `json:"quantity,omitempty"`
	TotalLaborHours *float64       `json:"total_labor_hours,omitempty"`
	CostTotal       *pricing.Range `json:"cost_total,omitempty"`
	CostPerUnit     *pricing.Range `json:"cost_per_unit,omitempty"`
}

type table struct {
	rows  []Row
	names []string // normalized Row.Name, same index
}

// Catalog serves lookups against a catalog file. The file is read on first
// use; concurrent first calls share a single read. A failed read is not
// remembered, so the next call tries again.
type Catalog struct {
	path     string
	minScore float64
	logger   *zap.SugaredLogger
	load     func(path string) (*table, error)

	group singleflight.Group
	data  atomic.Pointer[table]
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithMinScore sets the relevance floor (0-100).
func WithMinScore(score float64) Option {
	return func(c *Catalog) { c.minScore = score }
}

// WithLogger sets the logger used to report catalog loads.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Catalog backed by the .xlsx or .csv file at path. Nothing
// is read until the first lookup.
func New(path string, opts ...Option) *Catalog {
	c := &Catalog{
		path:     path,
		minScore: DefaultMinScore,
		logger:   zap.NewNop().Sugar(),
		load:     readTable,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rows returns every catalog row in file order. The slice is shared and
// must not be modified.
func (c *Catalog) Rows(ctx context.Context) ([]Row, error) {
	t, err := c.table(ctx)
	if err != nil {
		return nil, err
	}
	return t.rows, nil
}

// Find returns up to topN rows whose names best match query, ordered by
// descending score with ties kept in catalog order. An empty result is not
// an error. When quantity is non-nil, hour and cost totals are derived for
// rows with known labor hours.
func (c *Catalog) Find(ctx context.Context, query string, topN int, quantity *float64) ([]RateMatch, error) {
	t, err := c.table(ctx)
	if err != nil {
		return nil, err
	}
	if topN <= 0 {
		topN = DefaultTopN
	}

	q := normalize(query)
	if q == "" {
		return []RateMatch{}, nil
	}

	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i, name := range t.names {
		s := weightedRatio(q, name)
		if s >= c.minScore {
			hits = append(hits, scored{idx: i, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > topN {
		hits = hits[:topN]
	}

	matches := make([]RateMatch, 0, len(hits))
	for _, h := range hits {
		matches = append(matches, newMatch(t.rows[h.idx], h.score, quantity))
	}
	return matches, nil
}

func (c *Catalog) table(ctx context.Context) (*table, error) {
	if t := c.data.Load(); t != nil {
		return t, nil
	}

	ch := c.group.DoChan(c.path, func() (any, error) {
		if t := c.data.Load(); t != nil {
			return t, nil
		}
		start := time.Now()
		t, err := c.load(c.path)
		if err != nil {
			c.logger.Warnw("rate catalog load failed", "path", c.path, "error", err)
			return nil, err
		}
		c.data.Store(t)
		c.logger.Infow("rate catalog loaded",
			"path", c.path,
			"rows", len(t.rows),
			"duration", time.Since(start),
		)
		return t, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*table), nil
	}
}

func newMatch(row Row, score float64, quantity *float64) RateMatch {
	m := RateMatch{
		Row:   row,
		Score: score,
	}
	m.LaborHoursPerUnit = round4Ptr(row.LaborHoursPerUnit)
	m.MaterialPerUnit = round4Ptr(row.MaterialPerUnit)
	m.EquipmentPerUnit = round4Ptr(row.EquipmentPerUnit)
	m.UnitPrice = round4Ptr(row.UnitPrice)

	if quantity != nil {
		q := round4(*quantity)
		m.Quantity = &q
	}
	if row.LaborHoursPerUnit == nil {
		return m
	}

	hours := *row.LaborHoursPerUnit
	m.CostPerUnit = costRange(hours)
	if quantity != nil {
		total := round4(hours * *quantity)
		m.TotalLaborHours = &total
		m.CostTotal = costRange(hours * *quantity)
	}
	return m
}

// costRange prices labor hours at the hourly band plus overhead.
func costRange(hours float64) *pricing.Range {
	return &pricing.Range{
		Min: round4(hours * hourlyRateMin * pricing.Overhead),
		Max: round4(hours * hourlyRateMax * pricing.Overhead),
	}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func round4Ptr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round4(*v)
	return &r
}
