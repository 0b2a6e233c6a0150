package trading

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/config"
	"github.com/gateway-fm/openbook-loadgen/internal/logging"
	"github.com/gateway-fm/openbook-loadgen/internal/metrics"
	"github.com/gateway-fm/openbook-loadgen/internal/openbook"
	"github.com/gateway-fm/openbook-loadgen/internal/verification"
	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// ErrNoMarkets is returned when every market creation of a run failed.
var ErrNoMarkets = errors.New("no market could be created")

// LoadConfig configures a trading-load run.
type LoadConfig struct {
	Makers            int
	MarketsPerMaker   int
	AccountsPerMarket int
	OrdersPerAccount  int

	MakerFunding  float64 // SOL
	TakerFunding  float64 // SOL
	MintAmount    uint64  // whole tokens minted to every actor per token
	TokenDecimals uint8

	Orders OrderParams
	Market MarketParams
}

// LoadConfigFrom builds a LoadConfig from the trading configuration.
func LoadConfigFrom(t config.TradingConfig) LoadConfig {
	return LoadConfig{
		Makers:            t.Makers,
		MarketsPerMaker:   t.Markets,
		AccountsPerMarket: t.AccountsPerMarket,
		OrdersPerAccount:  t.OrdersPerAccount,
		MakerFunding:      t.MakerFunding(),
		TakerFunding:      t.TakerAccountBalance,
		MintAmount:        t.InitialMintAmount,
		TokenDecimals:     t.TokenDecimals,
		Orders: OrderParams{
			Quantity:        decimal.NewFromFloat(t.TradeQuantity),
			Price:           decimal.NewFromFloat(t.TradePrice),
			TakerPriceLimit: decimal.NewFromFloat(t.TakerPriceLimit),
			TakerMaxQuote:   decimal.NewFromFloat(t.TakerMaxQuote),
			EventLimit:      t.EventLimit,
		},
		Market: MarketParams{
			BaseLotSize:  t.BaseLotSize,
			QuoteLotSize: t.QuoteLotSize,
			MakerFee:     t.MakerFee,
			TakerFee:     t.TakerFee,
		},
	}
}

// Takers returns the number of takers: one per maker open-orders account.
func (l LoadConfig) Takers() int {
	return l.Makers * l.MarketsPerMaker * l.AccountsPerMarket
}

// lots returns the lot parameters of the markets a run creates.
func (l LoadConfig) lots() openbook.LotSizes {
	return openbook.LotSizes{
		BaseDecimals:  l.TokenDecimals,
		QuoteDecimals: l.TokenDecimals,
		BaseLotSize:   l.Market.BaseLotSize,
		QuoteLotSize:  l.Market.QuoteLotSize,
	}
}

// Expectation returns the balance movements of the given number of fully
// matched asks.
func (l LoadConfig) Expectation(orders int) verification.Expectation {
	lots := l.lots()
	baseLots := lots.BaseToLots(l.Orders.Quantity)
	priceLots := lots.PriceToLots(l.Orders.Price)
	return verification.Expectation{
		Orders:      int64(orders),
		BaseNative:  uint64(baseLots * l.Market.BaseLotSize),
		QuoteNative: uint64(priceLots * baseLots * l.Market.QuoteLotSize),
		MakerFee:    l.Market.MakerFee,
		TakerFee:    l.Market.TakerFee,
	}
}

// Config for creating a Driver.
type Config struct {
	Load     LoadConfig
	Chain    Chain
	Clients  ClientFactory
	Metrics  *metrics.Collector // optional
	Verifier *verification.Verifier
	Logger   *zap.Logger
}

// Report is the outcome of a run. It is returned, partially filled, when a
// run fails.
type Report struct {
	Makers       []*Maker
	Takers       []*Taker
	Markets      []*Market
	Before       verification.Snapshot
	After        verification.Snapshot
	Verification *types.Verification
}

// MarketInfos returns the run's markets in creation order.
func (r *Report) MarketInfos() []types.MarketInfo {
	out := make([]types.MarketInfo, 0, len(r.Markets))
	for _, m := range r.Markets {
		out = append(out, m.Info())
	}
	return out
}

// Orders returns the number of asks placed during the run.
func (r *Report) Orders() int {
	n := 0
	for _, m := range r.Markets {
		for _, acc := range m.Accounts {
			n += len(acc.Orders)
		}
	}
	return n
}

// Driver runs the maker/taker trading load: provision actors, tokens and
// markets, post asks, lift them, settle, and verify balances.
type Driver struct {
	load     LoadConfig
	chain    Chain
	clients  ClientFactory
	metrics  *metrics.Collector
	verifier *verification.Verifier
	actions  *Actions
	logger   *zap.Logger
}

// NewDriver creates a new Driver.
func NewDriver(cfg Config) *Driver {
	logger := logging.OrNop(cfg.Logger)
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewCollector(nil)
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = verification.NewVerifier(logger)
	}
	return &Driver{
		load:     cfg.Load,
		chain:    cfg.Chain,
		clients:  cfg.Clients,
		metrics:  collector,
		verifier: verifier,
		actions:  NewActions(cfg.Load.Orders, collector, logger),
		logger:   logger.Named("driver"),
	}
}

type step struct {
	phase types.Phase
	run   func(context.Context, *Report) error
}

// Run executes every step in order and stops at the first error. Market
// creation and take order failures are logged, counted and skipped.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	r := &Report{}
	steps := []step{
		{types.PhaseCreatingActors, d.createActors},
		{types.PhaseCreatingMarkets, d.createMarkets},
		{types.PhaseSnapshot, d.snapshotBefore},
		{types.PhaseCreatingAccounts, d.createAccounts},
		{types.PhasePlacingOrders, d.placeOrders},
		{types.PhaseTakingOrders, d.takeOrders},
		{types.PhaseSettling, d.settle},
		{types.PhaseVerifying, d.verify},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		d.metrics.SetPhase(s.phase)
		d.logger.Info("step started", zap.String("phase", string(s.phase)))
		if err := s.run(ctx, r); err != nil {
			d.metrics.RecordError(metrics.CategoryFatal, string(s.phase))
			return r, err
		}
	}
	return r, nil
}

func (d *Driver) createActors(ctx context.Context, r *Report) error {
	for i := 0; i < d.load.Makers; i++ {
		key, err := d.chain.CreateAccountWithBalance(ctx, d.load.MakerFunding)
		if err != nil {
			return fmt.Errorf("create maker %d: %w", i, err)
		}
		r.Makers = append(r.Makers, &Maker{Key: key, Client: d.clients(key)})
		d.metrics.RecordUser(metrics.UserMaker)
		d.logger.Info("maker created", zap.String("id", strconv.Itoa(i)), zap.Stringer("maker", key.PublicKey()))
	}

	for i := 0; i < d.load.Takers(); i++ {
		key, err := d.chain.CreateAccountWithBalance(ctx, d.load.TakerFunding)
		if err != nil {
			return fmt.Errorf("create taker %d: %w", i, err)
		}
		r.Takers = append(r.Takers, &Taker{Key: key, Client: d.clients(key)})
		d.metrics.RecordUser(metrics.UserTaker)
		d.logger.Info("taker created", zap.String("id", strconv.Itoa(i)), zap.Stringer("taker", key.PublicKey()))
	}
	return nil
}

// signersFor lists every actor with owner first, so owner pays for and
// holds the mint authority of the tokens it deploys.
func signersFor(owner *Maker, r *Report) []solana.PrivateKey {
	out := make([]solana.PrivateKey, 0, len(r.Makers)+len(r.Takers))
	out = append(out, owner.Key)
	for _, m := range r.Makers {
		if m != owner {
			out = append(out, m.Key)
		}
	}
	for _, t := range r.Takers {
		out = append(out, t.Key)
	}
	return out
}

func (d *Driver) createMarkets(ctx context.Context, r *Report) error {
	for i, maker := range r.Makers {
		signers := signersFor(maker, r)
		for j := 0; j < d.load.MarketsPerMaker; j++ {
			id := fmt.Sprintf("%d_%d", i, j)
			quote, err := d.chain.CreateToken(ctx, signers, d.load.TokenDecimals, d.load.MintAmount)
			if err != nil {
				return fmt.Errorf("create quote token %s: %w", id, err)
			}
			base, err := d.chain.CreateToken(ctx, signers, d.load.TokenDecimals, d.load.MintAmount)
			if err != nil {
				return fmt.Errorf("create base token %s: %w", id, err)
			}

			name := quote.Name + "-" + base.Name
			m, err := d.actions.CreateMarket(ctx, id, maker, name, quote.Mint, base.Mint, d.load.Market)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.metrics.RecordMarketFailed()
				d.logger.Error("market creation failed", zap.String("id", id), zap.String("name", name), zap.Error(err))
				continue
			}
			maker.Markets = append(maker.Markets, m)
			r.Markets = append(r.Markets, m)
		}
		d.logger.Info("maker markets", zap.Stringer("maker", maker.PublicKey()), zap.Int("markets", len(maker.Markets)))
	}

	if len(r.Markets) == 0 {
		return ErrNoMarkets
	}
	return nil
}

func (d *Driver) snapshotBefore(ctx context.Context, r *Report) error {
	s, err := Snapshot(ctx, d.chain, r.Makers, r.Takers, r.Markets)
	if err != nil {
		return fmt.Errorf("snapshot balances: %w", err)
	}
	r.Before = s
	return nil
}

func (d *Driver) createAccounts(ctx context.Context, r *Report) error {
	for _, maker := range r.Makers {
		short := logging.ShortKey(maker.PublicKey().String())
		for _, m := range maker.Markets {
			for k := 0; k < d.load.AccountsPerMarket; k++ {
				id := strconv.Itoa(k) + "_" + short
				if _, err := d.actions.CreateOpenOrders(ctx, id, maker, m); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *Driver) placeOrders(ctx context.Context, r *Report) error {
	for _, maker := range r.Makers {
		for _, m := range maker.Markets {
			for i, acc := range m.Accounts {
				short := logging.ShortKey(acc.Address.String())
				for j := 0; j < d.load.OrdersPerAccount; j++ {
					id := fmt.Sprintf("%s_%d_%d", short, i, j)
					if _, err := d.actions.PlaceOrder(ctx, id, maker, m, acc); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// takeOrders gives every maker open-orders account its own taker, which
// takes as many orders as the account posted.
func (d *Driver) takeOrders(ctx context.Context, r *Report) error {
	t := 0
	for i, maker := range r.Makers {
		for j, m := range maker.Markets {
			for k := range m.Accounts {
				taker := r.Takers[t]
				t++
				for o := 0; o < d.load.OrdersPerAccount; o++ {
					id := fmt.Sprintf("%d_%d_%d_%d", i, j, k, o)
					if _, err := d.actions.PlaceTakeOrder(ctx, id, taker, m); err != nil {
						if ctx.Err() != nil {
							return ctx.Err()
						}
						d.metrics.RecordTakeOrderFailed()
						d.logger.Error("take order failed", zap.String("id", id), zap.Error(err))
					}
				}
			}
		}
	}
	return nil
}

func (d *Driver) settle(ctx context.Context, r *Report) error {
	for _, maker := range r.Makers {
		for _, m := range maker.Markets {
			for i, acc := range m.Accounts {
				for j, order := range acc.Orders {
					id := fmt.Sprintf("%s_%d_%d", logging.ShortKey(order.Signature.String()), i, j)
					if _, err := d.actions.SettleFunds(ctx, id, maker, m, acc); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (d *Driver) verify(ctx context.Context, r *Report) error {
	after, err := Snapshot(ctx, d.chain, r.Makers, r.Takers, r.Markets)
	if err != nil {
		return fmt.Errorf("snapshot balances: %w", err)
	}
	r.After = after

	v, err := d.verifier.Verify(d.load.Expectation(r.Orders()), r.Before, r.After)
	r.Verification = v
	return err
}
