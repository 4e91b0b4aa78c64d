// Package store persists the last-known-good cache snapshot and the daily
// usage history in a local sqlite database, so a restart starts from real
// data instead of an empty dashboard.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "reqwatch", "usage.db"), nil
}

func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating DB dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening DB: %w", err)
	}

	store := NewStore(db)
	if err := store.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// OpenStoreReadOnly opens the database without write access, for status
// queries against a DB owned by a running daemon.
func OpenStoreReadOnly(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("store: opening DB read-only: %w", err)
	}
	return NewStore(db), nil
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS cache_snapshots (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			fetched_at TEXT NOT NULL,
			summary_json TEXT NOT NULL,
			history_json TEXT NOT NULL,
			prediction_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS usage_days (
			date TEXT PRIMARY KEY,
			included_requests INTEGER NOT NULL,
			billed_requests INTEGER NOT NULL,
			gross_amount REAL NOT NULL,
			billed_amount REAL NOT NULL,
			models_json TEXT,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_usage_days_date ON usage_days(date);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

// SaveSnapshot atomically replaces the single cached snapshot and upserts
// its daily rows. Partial writes never survive: everything happens in one
// transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap core.CacheSnapshot) error {
	summaryJSON, err := json.Marshal(snap.Summary)
	if err != nil {
		return fmt.Errorf("store: marshal summary: %w", err)
	}
	historyJSON, err := json.Marshal(snap.History)
	if err != nil {
		return fmt.Errorf("store: marshal history: %w", err)
	}
	predictionJSON, err := json.Marshal(snap.Prediction)
	if err != nil {
		return fmt.Errorf("store: marshal prediction: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_snapshots (id, fetched_at, summary_json, history_json, prediction_json)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			summary_json = excluded.summary_json,
			history_json = excluded.history_json,
			prediction_json = excluded.prediction_json`,
		snap.FetchedAt.UTC().Format(time.RFC3339), summaryJSON, historyJSON, predictionJSON)
	if err != nil {
		return fmt.Errorf("store: upsert snapshot: %w", err)
	}

	updatedAt := s.now().UTC().Format(time.RFC3339)
	for _, day := range snap.History.Days {
		var modelsJSON []byte
		if len(day.Models) > 0 {
			modelsJSON, _ = json.Marshal(day.Models)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO usage_days (date, included_requests, billed_requests, gross_amount, billed_amount, models_json, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				included_requests = excluded.included_requests,
				billed_requests = excluded.billed_requests,
				gross_amount = excluded.gross_amount,
				billed_amount = excluded.billed_amount,
				models_json = excluded.models_json,
				updated_at = excluded.updated_at`,
			day.Date, day.IncludedRequests, day.BilledRequests,
			day.GrossAmount, day.BilledAmount, nullableString(modelsJSON), updatedAt)
		if err != nil {
			return fmt.Errorf("store: upsert usage day %s: %w", day.Date, err)
		}
	}

	return tx.Commit()
}

// LoadSnapshot returns the persisted snapshot, or ok=false when none has
// ever been written.
func (s *Store) LoadSnapshot(ctx context.Context) (core.CacheSnapshot, bool, error) {
	var (
		fetchedAt      string
		summaryJSON    string
		historyJSON    string
		predictionJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT fetched_at, summary_json, history_json, prediction_json
		FROM cache_snapshots WHERE id = 1`).
		Scan(&fetchedAt, &summaryJSON, &historyJSON, &predictionJSON)
	if err == sql.ErrNoRows {
		return core.CacheSnapshot{}, false, nil
	}
	if err != nil {
		return core.CacheSnapshot{}, false, fmt.Errorf("store: load snapshot: %w", err)
	}

	var snap core.CacheSnapshot
	if err := json.Unmarshal([]byte(summaryJSON), &snap.Summary); err != nil {
		return core.CacheSnapshot{}, false, fmt.Errorf("store: decode summary: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &snap.History); err != nil {
		return core.CacheSnapshot{}, false, fmt.Errorf("store: decode history: %w", err)
	}
	if err := json.Unmarshal([]byte(predictionJSON), &snap.Prediction); err != nil {
		return core.CacheSnapshot{}, false, fmt.Errorf("store: decode prediction: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, fetchedAt); err == nil {
		snap.FetchedAt = t
	}
	return snap, true, nil
}

// UsageDays returns up to limit persisted daily rows, most recent first.
func (s *Store) UsageDays(ctx context.Context, limit int) ([]core.DailyUsageRecord, error) {
	if limit <= 0 {
		limit = 90
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, included_requests, billed_requests, gross_amount, billed_amount, models_json
		FROM usage_days ORDER BY date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query usage days: %w", err)
	}
	defer rows.Close()

	var out []core.DailyUsageRecord
	for rows.Next() {
		var rec core.DailyUsageRecord
		var modelsJSON sql.NullString
		if err := rows.Scan(&rec.Date, &rec.IncludedRequests, &rec.BilledRequests,
			&rec.GrossAmount, &rec.BilledAmount, &modelsJSON); err != nil {
			return nil, fmt.Errorf("store: scan usage day: %w", err)
		}
		if modelsJSON.Valid && modelsJSON.String != "" {
			_ = json.Unmarshal([]byte(modelsJSON.String), &rec.Models)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneOldDays removes daily rows older than retentionDays.
func (s *Store) PruneOldDays(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_days WHERE date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune usage days: %w", err)
	}
	return res.RowsAffected()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
