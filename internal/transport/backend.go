package transport

import (
	"context"
	"fmt"

	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// StatusSource reports the live run status.
type StatusSource interface {
	Status() types.LiveStatus
}

// RunHistory reads persisted runs.
type RunHistory interface {
	GetRun(ctx context.Context, id string) (*types.RunSummary, error)
	ListRuns(ctx context.Context, limit, offset int) (*types.RunList, error)
	ListMarkets(ctx context.Context, runID string) ([]types.MarketInfo, error)
	DeleteRun(ctx context.Context, id string) error
}

// Backend serves the API from a live status source and an optional run
// history.
type Backend struct {
	status  StatusSource
	history RunHistory
}

var _ RunsAPI = (*Backend)(nil)

// NewBackend creates a Backend. history may be nil, in which case history
// endpoints fail with ErrNoHistory.
func NewBackend(status StatusSource, history RunHistory) *Backend {
	return &Backend{status: status, history: history}
}

// Status returns the live status.
func (b *Backend) Status() types.LiveStatus {
	return b.status.Status()
}

// ListRuns lists runs newest first.
func (b *Backend) ListRuns(ctx context.Context, limit, offset int) (*types.RunList, error) {
	if b.history == nil {
		return nil, ErrNoHistory
	}
	return b.history.ListRuns(ctx, limit, offset)
}

// GetRun returns a run with the markets it created.
func (b *Backend) GetRun(ctx context.Context, id string) (*types.RunDetail, error) {
	if b.history == nil {
		return nil, ErrNoHistory
	}
	run, err := b.history.GetRun(ctx, id)
	if err != nil || run == nil {
		return nil, err
	}
	markets, err := b.history.ListMarkets(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list markets of run %s: %w", id, err)
	}
	return &types.RunDetail{RunSummary: *run, Markets: markets}, nil
}

// DeleteRun removes a run.
func (b *Backend) DeleteRun(ctx context.Context, id string) error {
	if b.history == nil {
		return ErrNoHistory
	}
	return b.history.DeleteRun(ctx, id)
}
