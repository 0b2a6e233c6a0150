// Package storage provides persistence for run history.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// ErrRunNotFound is returned when updating a run that was never created.
var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, kind, started_at, completed_at, duration_ms, config, status,
	makers, takers, markets, markets_failed, accounts, orders, take_orders, take_orders_failed, settlements,
	tx_sent, tx_confirmed, tx_failed, tx_latency, settle_latency, verification, error_message`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStorage) scanRun(row rowScanner) (*types.RunSummary, error) {
	var run types.RunSummary
	var completedAt sql.NullTime
	var configJSON, txLatencyJSON, settleLatencyJSON, verificationJSON, errorMsg sql.NullString
	c := &run.Counts

	err := row.Scan(&run.ID, &run.Kind, &run.StartedAt, &completedAt, &run.DurationMs, &configJSON, &run.Status,
		&c.Makers, &c.Takers, &c.Markets, &c.MarketsFailed, &c.Accounts, &c.Orders, &c.TakeOrders, &c.TakeOrdersFailed, &c.Settlements,
		&run.TxSent, &run.TxConfirmed, &run.TxFailed, &txLatencyJSON, &settleLatencyJSON, &verificationJSON, &errorMsg)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errorMsg.Valid {
		run.Error = errorMsg.String
	}
	if configJSON.Valid && configJSON.String != "" {
		run.Config = json.RawMessage(configJSON.String)
	}
	if txLatencyJSON.Valid && txLatencyJSON.String != "" {
		run.TxLatency = &types.LatencyStats{}
		s.unmarshalJSON(txLatencyJSON.String, run.TxLatency, "tx_latency", run.ID)
	}
	if settleLatencyJSON.Valid && settleLatencyJSON.String != "" {
		run.SettleLatency = &types.LatencyStats{}
		s.unmarshalJSON(settleLatencyJSON.String, run.SettleLatency, "settle_latency", run.ID)
	}
	if verificationJSON.Valid && verificationJSON.String != "" {
		run.Verification = &types.Verification{}
		s.unmarshalJSON(verificationJSON.String, run.Verification, "verification", run.ID)
	}
	return &run, nil
}

// unmarshalJSON decodes a non-critical JSON column, logging corruption
// instead of failing the query.
func (s *SQLiteStorage) unmarshalJSON(data string, v any, field, runID string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		s.logger.Warn("failed to unmarshal JSON field",
			zap.String("field", field),
			zap.String("run_id", runID),
			zap.Int("data_len", len(data)),
			zap.Error(err),
		)
	}
}

func marshalOptional[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal %T: %w", v, err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
