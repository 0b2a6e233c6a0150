package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// User kinds for users_number_by_type.
const (
	UserMaker = "Maker"
	UserTaker = "Taker"
)

// Error categories for obload_errors_total.
const (
	CategorySwallowed = "swallowed"
	CategoryFatal     = "fatal"
	CategoryTx        = "transaction"
)

// Collector tracks the live state of one run and forwards every event to
// prometheus when configured. It satisfies chain.TxObserver.
type Collector struct {
	prom *PrometheusMetrics

	mu        sync.RWMutex
	runID     string
	kind      types.RunKind
	status    types.RunStatus
	phase     types.Phase
	startedAt time.Time
	endedAt   time.Time
	lastErr   string
	counts    types.RunCounts

	txSent      atomic.Uint64
	txConfirmed atomic.Uint64
	txFailed    atomic.Uint64

	txLatency     *StreamingLatencyStats
	settleLatency *StreamingLatencyStats
}

// NewCollector creates an idle collector. prom may be nil.
func NewCollector(prom *PrometheusMetrics) *Collector {
	c := &Collector{
		prom:          prom,
		status:        types.StatusIdle,
		txLatency:     NewStreamingLatencyStats(),
		settleLatency: NewStreamingLatencyStats(),
	}
	if prom != nil {
		prom.SetRunStatus(types.StatusIdle)
	}
	return c
}

// Start resets the collector for a new run.
func (c *Collector) Start(runID string, kind types.RunKind) {
	c.mu.Lock()
	c.runID = runID
	c.kind = kind
	c.status = types.StatusRunning
	c.phase = types.PhaseNone
	c.startedAt = time.Now()
	c.endedAt = time.Time{}
	c.lastErr = ""
	c.counts = types.RunCounts{}
	c.mu.Unlock()

	c.txSent.Store(0)
	c.txConfirmed.Store(0)
	c.txFailed.Store(0)
	c.txLatency.Reset()
	c.settleLatency.Reset()

	if c.prom != nil {
		c.prom.SetRunStatus(types.StatusRunning)
	}
}

// SetPhase records the driver step in progress.
func (c *Collector) SetPhase(p types.Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Finish marks the run completed, or errored when err is non-nil.
func (c *Collector) Finish(err error) {
	status := types.StatusCompleted
	c.mu.Lock()
	c.endedAt = time.Now()
	c.phase = types.PhaseNone
	if err != nil {
		status = types.StatusError
		c.lastErr = err.Error()
	}
	c.status = status
	c.mu.Unlock()

	if c.prom != nil {
		c.prom.SetRunStatus(status)
	}
}

// ObserveTx records a submitted transaction.
func (c *Collector) ObserveTx(op string, latency time.Duration, err error) {
	c.txSent.Add(1)
	if err != nil {
		c.txFailed.Add(1)
	} else {
		c.txConfirmed.Add(1)
		c.txLatency.AddDuration(latency)
	}
	if c.prom != nil {
		c.prom.RecordTx(op, err == nil, latency.Seconds())
		if err != nil {
			c.prom.RecordError(CategoryTx, op)
		}
	}
}

// RecordError counts an error outside transaction submission.
func (c *Collector) RecordError(category, instruction string) {
	if c.prom != nil {
		c.prom.RecordError(category, instruction)
	}
}

// RecordUser records a funded maker or taker.
func (c *Collector) RecordUser(kind string) {
	c.mu.Lock()
	switch kind {
	case UserMaker:
		c.counts.Makers++
	case UserTaker:
		c.counts.Takers++
	}
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.RecordUser(kind)
	}
}

// RecordMarket records a created market.
func (c *Collector) RecordMarket(name, owner string) {
	c.mu.Lock()
	c.counts.Markets++
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.RecordMarket(name, owner)
	}
}

// RecordMarketFailed records a market creation whose error was swallowed.
func (c *Collector) RecordMarketFailed() {
	c.mu.Lock()
	c.counts.MarketsFailed++
	c.mu.Unlock()
	c.RecordError(CategorySwallowed, "create_market")
}

// RecordTradingAccount records a created open orders account.
func (c *Collector) RecordTradingAccount(owner, market string) {
	c.mu.Lock()
	c.counts.Accounts++
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.RecordTradingAccount(owner, market)
	}
}

// RecordOrder records a placed limit order.
func (c *Collector) RecordOrder(side, owner, market, account string) {
	c.mu.Lock()
	c.counts.Orders++
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.RecordOrder(side, owner, market, account)
	}
}

// RecordTakeOrder records a placed take order.
func (c *Collector) RecordTakeOrder(side, owner, market string) {
	c.mu.Lock()
	c.counts.TakeOrders++
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.RecordTakeOrder(side, owner, market)
	}
}

// RecordTakeOrderFailed records a take order whose error was swallowed.
func (c *Collector) RecordTakeOrderFailed() {
	c.mu.Lock()
	c.counts.TakeOrdersFailed++
	c.mu.Unlock()
	c.RecordError(CategorySwallowed, "place_take_order")
}

// RecordSettle records a settle funds transaction and how long it took.
func (c *Collector) RecordSettle(owner, market string, d time.Duration) {
	c.mu.Lock()
	c.counts.Settlements++
	c.mu.Unlock()
	c.settleLatency.AddDuration(d)
	if c.prom != nil {
		c.prom.RecordSettle(owner, market, d.Seconds())
	}
}

// Counts returns a copy of the run counts.
func (c *Collector) Counts() types.RunCounts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts
}

// Status returns the live view of the current or last run.
func (c *Collector) Status() types.LiveStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := types.LiveStatus{
		Status:        c.status,
		RunID:         c.runID,
		Kind:          c.kind,
		Phase:         c.phase,
		TxSent:        c.txSent.Load(),
		TxConfirmed:   c.txConfirmed.Load(),
		TxFailed:      c.txFailed.Load(),
		Counts:        c.counts,
		TxLatency:     c.txLatency.GetStats(),
		SettleLatency: c.settleLatency.GetStats(),
		Error:         c.lastErr,
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		st.StartedAt = &started
		end := c.endedAt
		if end.IsZero() {
			end = time.Now()
		}
		st.ElapsedMs = end.Sub(started).Milliseconds()
	}
	return st
}

// Summary returns the run record for persistence. Config and verification
// are filled in by the caller.
func (c *Collector) Summary() types.RunSummary {
	st := c.Status()
	sum := types.RunSummary{
		ID:            st.RunID,
		Kind:          st.Kind,
		Status:        st.Status,
		DurationMs:    st.ElapsedMs,
		Counts:        st.Counts,
		TxSent:        st.TxSent,
		TxConfirmed:   st.TxConfirmed,
		TxFailed:      st.TxFailed,
		TxLatency:     st.TxLatency,
		SettleLatency: st.SettleLatency,
		Error:         st.Error,
	}
	if st.StartedAt != nil {
		sum.StartedAt = *st.StartedAt
	}
	c.mu.RLock()
	if !c.endedAt.IsZero() {
		ended := c.endedAt
		sum.CompletedAt = &ended
	}
	c.mu.RUnlock()
	return sum
}
