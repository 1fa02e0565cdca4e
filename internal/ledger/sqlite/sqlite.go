// Package sqlite implements the cost ledger on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/gridware/genai-gateway/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS cost_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('compute','llm_tokens','retrieval')),
	amount REAL NOT NULL,
	tokens INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cost_events_tenant_created ON cost_events(tenant_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new cost event.
func (s *Store) Record(ctx context.Context, ev ledger.CostEvent) error {
	if ev.TenantID == "" {
		return errors.New("cost event requires tenant id")
	}
	switch ev.Kind {
	case ledger.KindCompute, ledger.KindLLMTokens, ledger.KindRetrieval:
	default:
		return fmt.Errorf("invalid cost kind %q", ev.Kind)
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cost_events(tenant_id, request_id, kind, amount, tokens, created_at)
VALUES(?, ?, ?, ?, ?, ?)`,
		ev.TenantID,
		ev.RequestID,
		string(ev.Kind),
		ev.Amount,
		ev.Tokens,
		created,
	)
	return err
}

// Summary returns aggregated cost for the given tenant.
func (s *Store) Summary(ctx context.Context, tenantID string) (ledger.Summary, error) {
	if tenantID == "" {
		return ledger.Summary{}, errors.New("tenant id required")
	}

	summary := ledger.Summary{DollarsByKind: make(map[string]float64)}
	rows, err := s.db.QueryContext(ctx, `
SELECT kind, COALESCE(SUM(amount), 0), COALESCE(SUM(tokens), 0), COUNT(*)
FROM cost_events
WHERE tenant_id = ?
GROUP BY kind`, tenantID)
	if err != nil {
		return ledger.Summary{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var dollars float64
		var tokens, count int64
		if err := rows.Scan(&kind, &dollars, &tokens, &count); err != nil {
			return ledger.Summary{}, err
		}
		summary.DollarsByKind[kind] = dollars
		summary.TotalDollars += dollars
		summary.TotalTokens += tokens
		summary.EventCount += count
	}
	return summary, rows.Err()
}

// ListRecent returns the latest cost events for a tenant.
func (s *Store) ListRecent(ctx context.Context, tenantID string, limit int) ([]ledger.CostEvent, error) {
	if tenantID == "" {
		return nil, errors.New("tenant id required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, tenant_id, request_id, kind, amount, tokens, created_at
FROM cost_events
WHERE tenant_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ledger.CostEvent
	for rows.Next() {
		var ev ledger.CostEvent
		var kind string
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.RequestID, &kind, &ev.Amount, &ev.Tokens, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = ledger.Kind(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}
