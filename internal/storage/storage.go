package storage

import (
	"context"

	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// Storage defines the persistence interface for run history.
type Storage interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *types.RunSummary) error
	CompleteRun(ctx context.Context, run *types.RunSummary) error
	GetRun(ctx context.Context, id string) (*types.RunSummary, error)

	// History queries
	ListRuns(ctx context.Context, limit, offset int) (*types.RunList, error)
	DeleteRun(ctx context.Context, id string) error

	// Markets created by a run
	SaveMarkets(ctx context.Context, runID string, markets []types.MarketInfo) error
	ListMarkets(ctx context.Context, runID string) ([]types.MarketInfo, error)

	Close() error
}
