package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/sqlite"
)

const (
	KindBacktest = "backtest"
	KindLive     = "live"
)

type Store struct {
	db *sql.DB
}

type RunRecord struct {
	ID         string
	Kind       string
	Name       string
	Status     string
	ConfigJSON string
	Error      string
}

type RunWithMeta struct {
	RunRecord
	RowID       int64
	MetricsJSON string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DecisionRecord struct {
	RunID       string
	Ticker      string
	Date        time.Time
	Stance      string
	Strength    float64
	SignalsJSON string
	Failures    int
}

type EquityPoint struct {
	Date  time.Time
	Value decimal.Decimal
}

func Open(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(db, schema...); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    name TEXT,
    status TEXT NOT NULL,
    config_json TEXT NOT NULL DEFAULT '{}',
    metrics_json TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, `
CREATE TABLE IF NOT EXISTS orders (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    trade_date TEXT NOT NULL,
    ticker TEXT NOT NULL,
    action TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    price TEXT NOT NULL,
    PRIMARY KEY (run_id, seq)
)`, `
CREATE TABLE IF NOT EXISTS decisions (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    trade_date TEXT NOT NULL,
    ticker TEXT NOT NULL,
    stance TEXT NOT NULL,
    strength REAL NOT NULL,
    signals_json TEXT NOT NULL DEFAULT '[]',
    failures INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, trade_date, ticker)
)`, `
CREATE TABLE IF NOT EXISTS equity (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    trade_date TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (run_id, trade_date)
)`,
}

func (s *Store) CreateRun(ctx context.Context, run RunRecord) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	if run.Kind == "" {
		run.Kind = KindBacktest
	}
	if run.ConfigJSON == "" {
		run.ConfigJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, kind, name, status, config_json, error)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status=excluded.status,
    updated_at=CURRENT_TIMESTAMP
`, run.ID, run.Kind, run.Name, run.Status, run.ConfigJSON, run.Error)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID, status, errMsg, metricsJSON string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs
SET status = ?, error = ?, metrics_json = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?
`, status, errMsg, metricsJSON, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("finish run: run %s not found", runID)
	}
	return nil
}

// AppendOrders stores orders after those already recorded for the run.
func (s *Store) AppendOrders(ctx context.Context, runID string, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin orders: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM orders WHERE run_id = ?`, runID).Scan(&next); err != nil {
		return fmt.Errorf("next order seq: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO orders (run_id, seq, trade_date, ticker, action, quantity, price)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare orders: %w", err)
	}
	defer stmt.Close()

	for _, o := range orders {
		next++
		if _, err := stmt.ExecContext(ctx, runID, next, o.Date.Format(models.DateLayout), o.Ticker, string(o.Action), o.Quantity, o.Price.String()); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) UpsertDecision(ctx context.Context, d DecisionRecord) error {
	if d.SignalsJSON == "" {
		d.SignalsJSON = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO decisions (run_id, trade_date, ticker, stance, strength, signals_json, failures)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, trade_date, ticker) DO UPDATE SET
    stance=excluded.stance,
    strength=excluded.strength,
    signals_json=excluded.signals_json,
    failures=excluded.failures
`, d.RunID, d.Date.Format(models.DateLayout), d.Ticker, d.Stance, d.Strength, d.SignalsJSON, d.Failures)
	if err != nil {
		return fmt.Errorf("upsert decision: %w", err)
	}
	return nil
}

func (s *Store) UpsertEquity(ctx context.Context, runID string, date time.Time, value decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO equity (run_id, trade_date, value)
VALUES (?, ?, ?)
ON CONFLICT(run_id, trade_date) DO UPDATE SET value=excluded.value
`, runID, date.Format(models.DateLayout), value.String())
	if err != nil {
		return fmt.Errorf("upsert equity: %w", err)
	}
	return nil
}

// ListRuns 按 rowid 倒序分页列出运行记录
func (s *Store) ListRuns(ctx context.Context, cursor int64, limit int) ([]RunWithMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT rowid, id, kind, name, status, config_json, error, metrics_json, created_at, updated_at
FROM runs
WHERE (? = 0 OR rowid < ?)
ORDER BY rowid DESC
LIMIT ?
`, cursor, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunWithMeta
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs rows: %w", err)
	}
	return runs, nil
}

// GetRun returns nil without error when the run does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunWithMeta, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT rowid, id, kind, name, status, config_json, error, metrics_json, created_at, updated_at
FROM runs
WHERE id = ?
LIMIT 1
`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunWithMeta, error) {
	var rec RunWithMeta
	var name sql.NullString
	err := row.Scan(&rec.RowID, &rec.ID, &rec.Kind, &name, &rec.Status, &rec.ConfigJSON, &rec.Error, &rec.MetricsJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	rec.Name = name.String
	return &rec, nil
}

func (s *Store) ListOrders(ctx context.Context, runID string) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT trade_date, ticker, action, quantity, price
FROM orders
WHERE run_id = ?
ORDER BY seq ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		var day, action, price string
		if err := rows.Scan(&day, &o.Ticker, &action, &o.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if o.Date, err = models.ParseDate(day); err != nil {
			return nil, err
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order price: %w", err)
		}
		o.Action = models.Action(action)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *Store) ListEquity(ctx context.Context, runID string) ([]EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT trade_date, value FROM equity WHERE run_id = ? ORDER BY trade_date ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list equity: %w", err)
	}
	defer rows.Close()

	var points []EquityPoint
	for rows.Next() {
		var day, value string
		if err := rows.Scan(&day, &value); err != nil {
			return nil, fmt.Errorf("scan equity: %w", err)
		}
		var p EquityPoint
		if p.Date, err = models.ParseDate(day); err != nil {
			return nil, err
		}
		if p.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("equity value: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Store) ListDecisions(ctx context.Context, runID string) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT trade_date, ticker, stance, strength, signals_json, failures
FROM decisions
WHERE run_id = ?
ORDER BY trade_date ASC, rowid ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		d := DecisionRecord{RunID: runID}
		var day string
		if err := rows.Scan(&day, &d.Ticker, &d.Stance, &d.Strength, &d.SignalsJSON, &d.Failures); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if d.Date, err = models.ParseDate(day); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
