package trading

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/logging"
	"github.com/gateway-fm/openbook-loadgen/internal/metrics"
	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// Scenario is a run that produces a Report.
type Scenario interface {
	Run(ctx context.Context) (*Report, error)
}

var (
	_ Scenario = (*Driver)(nil)
	_ Scenario = (*LimitOrdersScenario)(nil)
)

// RunStore persists run records.
type RunStore interface {
	CreateRun(ctx context.Context, run *types.RunSummary) error
	CompleteRun(ctx context.Context, run *types.RunSummary) error
	SaveMarkets(ctx context.Context, runID string, markets []types.MarketInfo) error
}

// Runner wraps scenarios with the run lifecycle: a fresh id, live status in
// the collector, and a persisted record when a store is configured.
type Runner struct {
	metrics *metrics.Collector
	store   RunStore
	logger  *zap.Logger
	newID   func() string
}

// NewRunner creates a Runner. store may be nil.
func NewRunner(collector *metrics.Collector, store RunStore, logger *zap.Logger) *Runner {
	if collector == nil {
		collector = metrics.NewCollector(nil)
	}
	return &Runner{
		metrics: collector,
		store:   store,
		logger:  logging.OrNop(logger).Named("runner"),
		newID:   uuid.NewString,
	}
}

// Run executes s as a run of the given kind. cfg is stored with the run
// record. The returned summary reflects the final state even when the run
// failed. Persistence errors are logged and never fail the run.
func (r *Runner) Run(ctx context.Context, kind types.RunKind, cfg any, s Scenario) (*types.RunSummary, error) {
	id := r.newID()
	r.metrics.Start(id, kind)
	logger := r.logger.With(zap.String("run_id", id), zap.String("kind", string(kind)))

	var rawConfig json.RawMessage
	if cfg != nil {
		b, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode run config: %w", err)
		}
		rawConfig = b
	}

	start := r.metrics.Summary()
	start.Config = rawConfig
	if r.store != nil {
		if err := r.store.CreateRun(ctx, &start); err != nil {
			logger.Warn("failed to record run start", zap.Error(err))
		}
	}
	logger.Info("run started")

	report, runErr := s.Run(ctx)
	r.metrics.Finish(runErr)

	summary := r.metrics.Summary()
	summary.Config = rawConfig
	if report != nil {
		summary.Verification = report.Verification
	}

	if r.store != nil {
		// The caller's context may be cancelled; the record is still written.
		persistCtx := context.WithoutCancel(ctx)
		if report != nil {
			if err := r.store.SaveMarkets(persistCtx, id, report.MarketInfos()); err != nil {
				logger.Warn("failed to record run markets", zap.Error(err))
			}
		}
		if err := r.store.CompleteRun(persistCtx, &summary); err != nil {
			logger.Warn("failed to record run completion", zap.Error(err))
		}
	}

	if runErr != nil {
		logger.Error("run failed", zap.Error(runErr), zap.Any("counts", summary.Counts))
		return &summary, runErr
	}
	logger.Info("run completed",
		zap.Int64("duration_ms", summary.DurationMs),
		zap.Any("counts", summary.Counts),
	)
	return &summary, nil
}
