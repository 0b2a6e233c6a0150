// Package types contains public API types for the OpenBook load generator.
// These types form the external interface of the HTTP API and run history.
package types

import (
	"encoding/json"
	"time"
)

// RunKind identifies which scenario produced a run.
type RunKind string

const (
	KindTradingLoad RunKind = "trading-load"
	KindLimitOrders RunKind = "limit-orders"
)

// RunStatus represents the current run state.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
)

// AllStatuses lists every status, used to reset status gauges.
var AllStatuses = []RunStatus{StatusIdle, StatusRunning, StatusCompleted, StatusError}

// Phase is the step the driver is executing.
type Phase string

const (
	PhaseNone             Phase = ""
	PhaseCreatingActors   Phase = "creating_actors"
	PhaseCreatingMarkets  Phase = "creating_markets"
	PhaseSnapshot         Phase = "snapshot"
	PhaseCreatingAccounts Phase = "creating_accounts"
	PhasePlacingOrders    Phase = "placing_orders"
	PhaseTakingOrders     Phase = "taking_orders"
	PhaseSettling         Phase = "settling"
	PhaseVerifying        Phase = "verifying"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds latency statistics in milliseconds.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`
	Max     float64         `json:"max"`
	Avg     float64         `json:"avg"`
	P50     float64         `json:"p50"`
	P90     float64         `json:"p90"`
	P99     float64         `json:"p99"`
	Buckets []LatencyBucket `json:"buckets"`
}

// RunCounts tallies the entities and instructions of a run.
type RunCounts struct {
	Makers           int `json:"makers"`
	Takers           int `json:"takers"`
	Markets          int `json:"markets"`
	MarketsFailed    int `json:"marketsFailed,omitempty"`
	Accounts         int `json:"accounts"`
	Orders           int `json:"orders"`
	TakeOrders       int `json:"takeOrders"`
	TakeOrdersFailed int `json:"takeOrdersFailed,omitempty"`
	Settlements      int `json:"settlements"`
}

// BalanceCheck compares one expected balance delta, in native units, with the observed one.
type BalanceCheck struct {
	Name      string `json:"name"`
	Expected  int64  `json:"expected"`
	Observed  int64  `json:"observed"`
	Tolerance int64  `json:"tolerance"`
	OK        bool   `json:"ok"`
}

// Verification is the outcome of the post-run balance comparison.
type Verification struct {
	Passed bool           `json:"passed"`
	Checks []BalanceCheck `json:"checks"`
}

// Failed returns the checks that did not hold.
func (v *Verification) Failed() []BalanceCheck {
	var out []BalanceCheck
	for _, c := range v.Checks {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

// PairBalance is an actor's native base and quote token balances on one market.
type PairBalance struct {
	Owner  string `json:"owner"`
	Market string `json:"market"`
	Base   uint64 `json:"base"`
	Quote  uint64 `json:"quote"`
}

// LiveStatus is the real-time view served on /v1/status.
type LiveStatus struct {
	Status        RunStatus     `json:"status"`
	RunID         string        `json:"runId,omitempty"`
	Kind          RunKind       `json:"kind,omitempty"`
	Phase         Phase         `json:"phase,omitempty"`
	StartedAt     *time.Time    `json:"startedAt,omitempty"`
	ElapsedMs     int64         `json:"elapsedMs"`
	TxSent        uint64        `json:"txSent"`
	TxConfirmed   uint64        `json:"txConfirmed"`
	TxFailed      uint64        `json:"txFailed"`
	Counts        RunCounts     `json:"counts"`
	TxLatency     *LatencyStats `json:"txLatency,omitempty"`
	SettleLatency *LatencyStats `json:"settleLatency,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// RunSummary is the persisted record of a run.
type RunSummary struct {
	ID            string          `json:"id"`
	Kind          RunKind         `json:"kind"`
	Status        RunStatus       `json:"status"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	DurationMs    int64           `json:"durationMs"`
	Config        json.RawMessage `json:"config,omitempty"`
	Counts        RunCounts       `json:"counts"`
	TxSent        uint64          `json:"txSent"`
	TxConfirmed   uint64          `json:"txConfirmed"`
	TxFailed      uint64          `json:"txFailed"`
	TxLatency     *LatencyStats   `json:"txLatency,omitempty"`
	SettleLatency *LatencyStats   `json:"settleLatency,omitempty"`
	Verification  *Verification   `json:"verification,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// RunList is the paginated response of /v1/runs.
type RunList struct {
	Runs  []RunSummary `json:"runs"`
	Total int          `json:"total"`
}

// MarketInfo is a market created during a run.
type MarketInfo struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	BaseMint  string    `json:"baseMint"`
	QuoteMint string    `json:"quoteMint"`
	CreatedAt time.Time `json:"createdAt"`
}

// RunDetail is the response of /v1/runs/{id}.
type RunDetail struct {
	RunSummary
	Markets []MarketInfo `json:"markets,omitempty"`
}
