package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// DefaultApplicationLabel is attached to every metric as a constant label.
const DefaultApplicationLabel = "monitoring"

// PrometheusMetrics holds all Prometheus metrics for the load generator.
type PrometheusMetrics struct {
	// Trading entity counters
	Users           *prometheus.CounterVec
	Markets         *prometheus.CounterVec
	TradingAccounts *prometheus.CounterVec
	Orders          *prometheus.CounterVec
	TakeOrders      *prometheus.CounterVec
	Settlements     *prometheus.CounterVec

	// Histograms
	SettleDuration *prometheus.HistogramVec
	TxLatency      *prometheus.HistogramVec

	// Transaction and error tracking
	TxTotal     *prometheus.CounterVec
	ErrorsTotal *prometheus.CounterVec

	RunStatus *prometheus.GaugeVec
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	constLabels := prometheus.Labels{"application": DefaultApplicationLabel}

	return &PrometheusMetrics{
		Users: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "users_number_by_type",
				Help:        "Number of funded users by type",
				ConstLabels: constLabels,
			},
			[]string{"type"},
		),

		Markets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "markets_number",
				Help:        "Number of created markets",
				ConstLabels: constLabels,
			},
			[]string{"name", "owner"},
		),

		TradingAccounts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "trading_account_number_by_owner",
				Help:        "Number of open orders accounts by owner",
				ConstLabels: constLabels,
			},
			[]string{"owner", "market"},
		),

		Orders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "orders_number_by_type",
				Help:        "Number of placed limit orders by side",
				ConstLabels: constLabels,
			},
			[]string{"type", "owner", "market", "tradingAccount"},
		),

		TakeOrders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "take_orders_number_by_type",
				Help:        "Number of placed take orders by side",
				ConstLabels: constLabels,
			},
			[]string{"type", "owner", "market"},
		),

		Settlements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "settle_funds_number_by_owner",
				Help:        "Number of settle funds transactions by owner",
				ConstLabels: constLabels,
			},
			[]string{"owner", "market"},
		),

		SettleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "settle_funds_duration_seconds",
				Help:        "Settle funds duration in seconds",
				ConstLabels: constLabels,
				Buckets:     []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"owner", "market"},
		),

		TxLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "obload_transaction_latency_seconds",
				Help:        "Send to confirmation latency by instruction",
				ConstLabels: constLabels,
				Buckets:     []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"instruction"},
		),

		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "obload_transactions_total",
				Help:        "Transactions by instruction and status",
				ConstLabels: constLabels,
			},
			[]string{"instruction", "status"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "obload_errors_total",
				Help:        "Errors by category and instruction",
				ConstLabels: constLabels,
			},
			[]string{"category", "instruction"},
		),

		RunStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "obload_run_status",
				Help:        "Current run status (1 if active, 0 otherwise)",
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),
	}
}

// knownInstructions bounds the instruction label.
var knownInstructions = map[string]bool{
	"create_market":              true,
	"create_open_orders_account": true,
	"place_order":                true,
	"place_take_order":           true,
	"cancel_order":               true,
	"cancel_all_orders":          true,
	"consume_events":             true,
	"settle_funds":               true,
	"deposit":                    true,
	"airdrop":                    true,
	"create_mint":                true,
	"mint_to":                    true,
}

func instructionLabel(instruction string) string {
	if knownInstructions[instruction] {
		return instruction
	}
	return "other"
}

// RecordUser records a funded maker or taker.
func (m *PrometheusMetrics) RecordUser(kind string) {
	m.Users.WithLabelValues(kind).Inc()
}

// RecordMarket records a created market.
func (m *PrometheusMetrics) RecordMarket(name, owner string) {
	m.Markets.WithLabelValues(name, owner).Inc()
}

// RecordTradingAccount records a created open orders account.
func (m *PrometheusMetrics) RecordTradingAccount(owner, market string) {
	m.TradingAccounts.WithLabelValues(owner, market).Inc()
}

// RecordOrder records a placed limit order.
func (m *PrometheusMetrics) RecordOrder(side, owner, market, account string) {
	m.Orders.WithLabelValues(side, owner, market, account).Inc()
}

// RecordTakeOrder records a placed take order.
func (m *PrometheusMetrics) RecordTakeOrder(side, owner, market string) {
	m.TakeOrders.WithLabelValues(side, owner, market).Inc()
}

// RecordSettle records a settle funds transaction and its duration.
func (m *PrometheusMetrics) RecordSettle(owner, market string, seconds float64) {
	m.Settlements.WithLabelValues(owner, market).Inc()
	m.SettleDuration.WithLabelValues(owner, market).Observe(seconds)
}

// RecordTx records a transaction outcome. Latency is observed for confirmed transactions only.
func (m *PrometheusMetrics) RecordTx(instruction string, confirmed bool, latencySeconds float64) {
	label := instructionLabel(instruction)
	if !confirmed {
		m.TxTotal.WithLabelValues(label, "failed").Inc()
		return
	}
	m.TxTotal.WithLabelValues(label, "confirmed").Inc()
	m.TxLatency.WithLabelValues(label).Observe(latencySeconds)
}

// RecordError records an error.
func (m *PrometheusMetrics) RecordError(category, instruction string) {
	m.ErrorsTotal.WithLabelValues(category, instructionLabel(instruction)).Inc()
}

// SetRunStatus updates the run status gauges.
func (m *PrometheusMetrics) SetRunStatus(status types.RunStatus) {
	for _, s := range types.AllStatuses {
		if s == status {
			m.RunStatus.WithLabelValues(string(s)).Set(1)
		} else {
			m.RunStatus.WithLabelValues(string(s)).Set(0)
		}
	}
}

// Reset resets all counters between runs served by one process.
// Histograms are cumulative and are left as is.
func (m *PrometheusMetrics) Reset() {
	m.Users.Reset()
	m.Markets.Reset()
	m.TradingAccounts.Reset()
	m.Orders.Reset()
	m.TakeOrders.Reset()
	m.Settlements.Reset()
	m.TxTotal.Reset()
	m.ErrorsTotal.Reset()
	m.SetRunStatus(types.StatusIdle)
}
