package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/logging"
	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens or creates the database at dbPath.
func NewSQLiteStorage(dbPath string, logger *zap.Logger) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db, logger: logging.OrNop(logger).Named("storage")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		duration_ms INTEGER DEFAULT 0,
		config TEXT,
		status TEXT DEFAULT 'running',
		makers INTEGER DEFAULT 0,
		takers INTEGER DEFAULT 0,
		markets INTEGER DEFAULT 0,
		markets_failed INTEGER DEFAULT 0,
		accounts INTEGER DEFAULT 0,
		orders INTEGER DEFAULT 0,
		take_orders INTEGER DEFAULT 0,
		take_orders_failed INTEGER DEFAULT 0,
		settlements INTEGER DEFAULT 0,
		tx_sent INTEGER DEFAULT 0,
		tx_confirmed INTEGER DEFAULT 0,
		tx_failed INTEGER DEFAULT 0,
		tx_latency TEXT,
		settle_latency TEXT,
		verification TEXT,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS run_markets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		address TEXT NOT NULL,
		name TEXT NOT NULL,
		owner TEXT NOT NULL,
		base_mint TEXT NOT NULL,
		quote_mint TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_run_markets_run ON run_markets(run_id);
	`)
	return err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run record at run start.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, started_at, config, status)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Kind, run.StartedAt, nullString(string(run.Config)), run.Status)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// CompleteRun stores the final state of a run.
func (s *SQLiteStorage) CompleteRun(ctx context.Context, run *types.RunSummary) error {
	completedAt := time.Now()
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}

	txLatency, err := marshalOptional(run.TxLatency)
	if err != nil {
		return err
	}
	settleLatency, err := marshalOptional(run.SettleLatency)
	if err != nil {
		return err
	}
	verification, err := marshalOptional(run.Verification)
	if err != nil {
		return err
	}

	c := run.Counts
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			completed_at = ?,
			duration_ms = ?,
			status = ?,
			makers = ?,
			takers = ?,
			markets = ?,
			markets_failed = ?,
			accounts = ?,
			orders = ?,
			take_orders = ?,
			take_orders_failed = ?,
			settlements = ?,
			tx_sent = ?,
			tx_confirmed = ?,
			tx_failed = ?,
			tx_latency = ?,
			settle_latency = ?,
			verification = ?,
			error_message = ?
		WHERE id = ?
	`, completedAt, run.DurationMs, run.Status,
		c.Makers, c.Takers, c.Markets, c.MarketsFailed, c.Accounts, c.Orders,
		c.TakeOrders, c.TakeOrdersFailed, c.Settlements,
		run.TxSent, run.TxConfirmed, run.TxFailed,
		txLatency, settleLatency, verification, nullString(run.Error), run.ID)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("complete run %s: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

// GetRun retrieves a run by id. It returns nil, nil when the run does not exist.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := s.scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns runs newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*types.RunList, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]types.RunSummary, 0, limit)
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &types.RunList{Runs: runs, Total: total}, nil
}

// DeleteRun removes a run and its markets.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	return err
}

// SaveMarkets records the markets a run created.
func (s *SQLiteStorage) SaveMarkets(ctx context.Context, runID string, markets []types.MarketInfo) error {
	if len(markets) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_markets (run_id, address, name, owner, base_mint, quote_mint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range markets {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, runID, m.Address, m.Name, m.Owner, m.BaseMint, m.QuoteMint, createdAt); err != nil {
			return fmt.Errorf("insert market %s: %w", m.Address, err)
		}
	}
	return tx.Commit()
}

// ListMarkets returns the markets of a run in creation order.
func (s *SQLiteStorage) ListMarkets(ctx context.Context, runID string) ([]types.MarketInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, name, owner, base_mint, quote_mint, created_at
		FROM run_markets WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []types.MarketInfo
	for rows.Next() {
		var m types.MarketInfo
		if err := rows.Scan(&m.Address, &m.Name, &m.Owner, &m.BaseMint, &m.QuoteMint, &m.CreatedAt); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}
