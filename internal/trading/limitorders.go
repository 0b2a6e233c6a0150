package trading

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/logging"
	"github.com/gateway-fm/openbook-loadgen/internal/metrics"
	"github.com/gateway-fm/openbook-loadgen/internal/verification"
	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// DefaultLimitOrders is the number of orders the limit-orders scenario places.
const DefaultLimitOrders = 2

// LimitOrdersScenario fills one open-orders account with n asks from a
// single maker, lists them, lifts them with a single taker and settles n
// times. Counts in the LoadConfig are ignored.
type LimitOrdersScenario struct {
	load     LoadConfig
	orders   int
	chain    Chain
	clients  ClientFactory
	metrics  *metrics.Collector
	verifier *verification.Verifier
	actions  *Actions
	logger   *zap.Logger
}

// NewLimitOrdersScenario creates the scenario for n orders.
func NewLimitOrdersScenario(cfg Config, n int) *LimitOrdersScenario {
	d := NewDriver(cfg)
	return &LimitOrdersScenario{
		load:     cfg.Load,
		orders:   n,
		chain:    d.chain,
		clients:  d.clients,
		metrics:  d.metrics,
		verifier: d.verifier,
		actions:  d.actions,
		logger:   logging.OrNop(cfg.Logger).Named("limit_orders"),
	}
}

// Run executes the scenario.
func (s *LimitOrdersScenario) Run(ctx context.Context) (*Report, error) {
	r := &Report{}
	if err := s.run(ctx, r); err != nil {
		s.metrics.RecordError(metrics.CategoryFatal, "limit_orders")
		return r, err
	}
	return r, nil
}

func (s *LimitOrdersScenario) run(ctx context.Context, r *Report) error {
	s.metrics.SetPhase(types.PhaseCreatingActors)
	makerKey, err := s.chain.CreateAccountWithBalance(ctx, s.load.MakerFunding)
	if err != nil {
		return fmt.Errorf("create maker: %w", err)
	}
	maker := &Maker{Key: makerKey, Client: s.clients(makerKey)}
	r.Makers = append(r.Makers, maker)
	s.metrics.RecordUser(metrics.UserMaker)
	s.logger.Info("maker created", zap.Stringer("maker", makerKey.PublicKey()))

	takerKey, err := s.chain.CreateAccountWithBalance(ctx, s.load.TakerFunding)
	if err != nil {
		return fmt.Errorf("create taker: %w", err)
	}
	taker := &Taker{Key: takerKey, Client: s.clients(takerKey)}
	r.Takers = append(r.Takers, taker)
	s.metrics.RecordUser(metrics.UserTaker)
	s.logger.Info("taker created", zap.Stringer("taker", takerKey.PublicKey()))

	s.metrics.SetPhase(types.PhaseCreatingMarkets)
	signers := signersFor(maker, r)
	quote, err := s.chain.CreateToken(ctx, signers, s.load.TokenDecimals, s.load.MintAmount)
	if err != nil {
		return fmt.Errorf("create quote token: %w", err)
	}
	base, err := s.chain.CreateToken(ctx, signers, s.load.TokenDecimals, s.load.MintAmount)
	if err != nil {
		return fmt.Errorf("create base token: %w", err)
	}
	m, err := s.actions.CreateMarket(ctx, "0", maker, quote.Name+"-"+base.Name, quote.Mint, base.Mint, s.load.Market)
	if err != nil {
		s.metrics.RecordMarketFailed()
		return err
	}
	maker.Markets = append(maker.Markets, m)
	r.Markets = append(r.Markets, m)

	s.metrics.SetPhase(types.PhaseSnapshot)
	if r.Before, err = Snapshot(ctx, s.chain, r.Makers, r.Takers, r.Markets); err != nil {
		return fmt.Errorf("snapshot balances: %w", err)
	}

	s.metrics.SetPhase(types.PhaseCreatingAccounts)
	acc, err := s.actions.CreateOpenOrders(ctx, "0", maker, m)
	if err != nil {
		return err
	}

	s.metrics.SetPhase(types.PhasePlacingOrders)
	for i := 0; i < s.orders; i++ {
		if _, err := s.actions.PlaceOrder(ctx, strconv.Itoa(i), maker, m, acc); err != nil {
			return err
		}
	}
	if _, err := s.actions.GetMarketOpenOrders(ctx, maker.Client, maker.PublicKey(), m.Address); err != nil {
		return err
	}
	if _, err := s.actions.GetUserOpenOrders(ctx, maker.Client, acc.Address); err != nil {
		return err
	}

	s.metrics.SetPhase(types.PhaseTakingOrders)
	for i := 0; i < s.orders; i++ {
		id := strconv.Itoa(i)
		if _, err := s.actions.PlaceTakeOrder(ctx, id, taker, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.metrics.RecordTakeOrderFailed()
			s.logger.Error("take order failed", zap.String("id", id), zap.Error(err))
		}
	}

	s.metrics.SetPhase(types.PhaseSettling)
	for i := 0; i < s.orders; i++ {
		if _, err := s.actions.SettleFunds(ctx, strconv.Itoa(i), maker, m, acc); err != nil {
			return err
		}
	}

	s.metrics.SetPhase(types.PhaseVerifying)
	if r.After, err = Snapshot(ctx, s.chain, r.Makers, r.Takers, r.Markets); err != nil {
		return fmt.Errorf("snapshot balances: %w", err)
	}
	s.logger.Info("maker balances",
		zap.Any("before", r.Before.Makers),
		zap.Any("after", r.After.Makers),
	)
	s.logger.Info("taker balances",
		zap.Any("before", r.Before.Takers),
		zap.Any("after", r.After.Takers),
	)

	r.Verification, err = s.verifier.Verify(s.load.Expectation(r.Orders()), r.Before, r.After)
	return err
}
