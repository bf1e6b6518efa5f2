// Package leads records every estimate produced for a client in SQLite.
package leads

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ollbud/quotebot/pkg/pricing"
)

// Lead is one recorded estimate.
type Lead struct {
	ID        string           `json:"id"`
	ClientID  string           `json:"client_id"`
	CreatedAt time.Time        `json:"created_at"`
	WorkType  pricing.Standard `json:"work_type"`
	AreaM2    float64          `json:"area_m2"`
	VATRate   int              `json:"vat_rate"`
	TotalMin  float64          `json:"total_min"`
	TotalMax  float64          `json:"total_max"`
}

// Store is a lead log backed by a SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create leads dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// database/sql would otherwise open several connections to one file.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		work_type TEXT NOT NULL,
		area_m2 REAL NOT NULL,
		vat_rate INTEGER NOT NULL,
		total_min REAL NOT NULL,
		total_max REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_leads_created ON leads(created_at);
	CREATE INDEX IF NOT EXISTS idx_leads_client ON leads(client_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts l, filling ID and CreatedAt when empty.
func (s *Store) Record(ctx context.Context, l Lead) (Lead, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, client_id, created_at, work_type, area_m2, vat_rate, total_min, total_max)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ClientID, l.CreatedAt, string(l.WorkType), l.AreaM2, l.VATRate, l.TotalMin, l.TotalMax,
	)
	if err != nil {
		return l, fmt.Errorf("failed to insert lead: %w", err)
	}
	return l, nil
}

// RecordEstimate stores est as a lead for clientID.
func (s *Store) RecordEstimate(ctx context.Context, clientID string, est pricing.EstimateResult) error {
	_, err := s.Record(ctx, Lead{
		ClientID: clientID,
		WorkType: est.WorkType,
		AreaM2:   est.AreaM2,
		VATRate:  est.VATRate,
		TotalMin: est.Total.Min,
		TotalMax: est.Total.Max,
	})
	return err
}

// Recent returns up to limit leads, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Lead, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, created_at, work_type, area_m2, vat_rate, total_min, total_max
		FROM leads
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		var (
			l        Lead
			workType string
		)
		if err := rows.Scan(&l.ID, &l.ClientID, &l.CreatedAt, &workType, &l.AreaM2, &l.VATRate, &l.TotalMin, &l.TotalMax); err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		l.WorkType = pricing.Standard(workType)
		out = append(out, l)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
