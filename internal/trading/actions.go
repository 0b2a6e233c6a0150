package trading

import (
	"context"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/logging"
	"github.com/gateway-fm/openbook-loadgen/internal/metrics"
	"github.com/gateway-fm/openbook-loadgen/internal/openbook"
)

// ErrOldOpenOrdersVersion is returned for open-orders accounts created by an
// older program version; they must be closed before use.
var ErrOldOpenOrdersVersion = openbook.ErrOldOpenOrdersVersion

// matchLimit is how many opposite-side orders one order may walk.
const matchLimit = 255

// OrderParams are the fixed parameters of every order a run places.
type OrderParams struct {
	Quantity        decimal.Decimal // base tokens per order
	Price           decimal.Decimal // ask price
	TakerPriceLimit decimal.Decimal
	TakerMaxQuote   decimal.Decimal
	EventLimit      uint64 // events consumed before each settlement
}

// DefaultOrderParams returns 10 base tokens at 25, lifted with a limit of 30.
func DefaultOrderParams() OrderParams {
	return OrderParams{
		Quantity:        decimal.NewFromInt(10),
		Price:           decimal.NewFromInt(25),
		TakerPriceLimit: decimal.NewFromInt(30),
		TakerMaxQuote:   decimal.NewFromInt(1000),
		EventLimit:      10,
	}
}

// MarketParams configure markets created by the actions.
type MarketParams struct {
	BaseLotSize  int64
	QuoteLotSize int64
	MakerFee     int64
	TakerFee     int64
}

// Actions issues OpenBook operations with logging and metrics. Every action
// takes a correlation id that is attached to its log lines.
type Actions struct {
	params  OrderParams
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

// NewActions creates Actions. A nil collector records nothing.
func NewActions(params OrderParams, collector *metrics.Collector, logger *zap.Logger) *Actions {
	if collector == nil {
		collector = metrics.NewCollector(nil)
	}
	return &Actions{
		params:  params,
		metrics: collector,
		logger:  logging.OrNop(logger).Named("trading"),
		now:     time.Now,
	}
}

// Params returns the order parameters.
func (a *Actions) Params() OrderParams {
	return a.params
}

// CreateMarket creates a market owned by maker, who is also its consume
// events and close market admin.
func (a *Actions) CreateMarket(ctx context.Context, id string, maker *Maker, name string, quoteMint, baseMint solana.PublicKey, p MarketParams) (*Market, error) {
	owner := maker.Client.Wallet()
	addr, sig, err := maker.Client.CreateMarket(ctx, openbook.CreateMarketParams{
		Name:               name,
		QuoteMint:          quoteMint,
		BaseMint:           baseMint,
		QuoteLotSize:       p.QuoteLotSize,
		BaseLotSize:        p.BaseLotSize,
		MakerFee:           p.MakerFee,
		TakerFee:           p.TakerFee,
		ConsumeEventsAdmin: owner,
		CloseMarketAdmin:   owner,
	})
	if err != nil {
		return nil, fmt.Errorf("create market %s: %w", name, err)
	}

	m := &Market{
		Address:   addr,
		Name:      name,
		BaseMint:  baseMint,
		QuoteMint: quoteMint,
		Owner:     maker,
		CreatedAt: a.now(),
	}
	a.metrics.RecordMarket(name, owner.String())
	a.logger.Info("market deployed",
		zap.String("id", id),
		zap.String("name", name),
		zap.Stringer("market", addr),
		zap.Stringer("quote_mint", quoteMint),
		zap.Stringer("base_mint", baseMint),
		zap.Stringer("signature", sig),
	)
	return m, nil
}

// CreateOpenOrders creates an open-orders account for maker on m, named
// after the market, and appends it to m.Accounts.
func (a *Actions) CreateOpenOrders(ctx context.Context, id string, maker *Maker, m *Market) (*OpenOrderAccount, error) {
	addr, err := maker.Client.CreateOpenOrders(ctx, m.Address, m.Name)
	if err != nil {
		return nil, fmt.Errorf("create open orders on %s: %w", m.Name, err)
	}
	acc := &OpenOrderAccount{Address: addr}
	m.Accounts = append(m.Accounts, acc)

	a.metrics.RecordTradingAccount(maker.Client.Wallet().String(), m.Address.String())
	a.logger.Info("open orders account created",
		zap.String("id", id),
		zap.Stringer("account", addr),
		zap.Stringer("market", m.Address),
	)
	return acc, nil
}

// marketState returns the decoded market, fetching it once.
func (a *Actions) marketState(ctx context.Context, ex Exchange, m *Market) (*openbook.Market, error) {
	if m.state != nil {
		return m.state, nil
	}
	state, err := ex.FetchMarket(ctx, m.Address)
	if err != nil {
		return nil, fmt.Errorf("fetch market %s: %w", m.Address, err)
	}
	m.state = state
	return state, nil
}

// PlaceOrder places a resting ask of Quantity at Price from acc and records
// it on the account.
func (a *Actions) PlaceOrder(ctx context.Context, id string, maker *Maker, m *Market, acc *OpenOrderAccount) (PlacedOrder, error) {
	state, err := a.marketState(ctx, maker.Client, m)
	if err != nil {
		return PlacedOrder{}, err
	}
	lots := state.Lots()
	now := a.now()

	args := openbook.PlaceOrderArgs{
		Side:                      openbook.SideAsk,
		PriceLots:                 lots.PriceToLots(a.params.Price),
		MaxBaseLots:               lots.BaseToLots(a.params.Quantity),
		MaxQuoteLotsIncludingFees: lots.QuoteToLots(a.params.Quantity.Mul(decimal.NewFromInt(3))),
		ClientOrderID:             uint64(now.UnixMilli()),
		OrderType:                 openbook.OrderTypeLimit,
		SelfTradeBehavior:         openbook.SelfTradeDecrementTake,
		Limit:                     matchLimit,
	}
	sig, err := maker.Client.PlaceOrder(ctx, state, acc.Address, args)
	if err != nil {
		return PlacedOrder{}, fmt.Errorf("place order %s: %w", id, err)
	}

	order := PlacedOrder{ID: id, Timestamp: now, Signature: sig}
	acc.Orders = append(acc.Orders, order)

	a.metrics.RecordOrder(openbook.SideAsk.String(), maker.Client.Wallet().String(), m.Address.String(), acc.Address.String())
	a.logger.Info("order placed",
		zap.String("id", id),
		zap.Stringer("account", acc.Address),
		zap.Int64("price_lots", args.PriceLots),
		zap.Int64("base_lots", args.MaxBaseLots),
		zap.Stringer("signature", sig),
	)
	return order, nil
}

// PlaceTakeOrder buys Quantity on m at up to TakerPriceLimit, settling
// straight to the taker's token accounts.
func (a *Actions) PlaceTakeOrder(ctx context.Context, id string, taker *Taker, m *Market) (solana.Signature, error) {
	state, err := a.marketState(ctx, taker.Client, m)
	if err != nil {
		return solana.Signature{}, err
	}
	lots := state.Lots()

	args := openbook.PlaceTakeOrderArgs{
		Side:                      openbook.SideBid,
		PriceLots:                 lots.PriceToLots(a.params.TakerPriceLimit),
		MaxBaseLots:               lots.BaseToLots(a.params.Quantity),
		MaxQuoteLotsIncludingFees: lots.QuoteToLots(a.params.TakerMaxQuote),
		OrderType:                 openbook.OrderTypeMarket,
		Limit:                     matchLimit,
	}
	sig, err := taker.Client.PlaceTakeOrder(ctx, state, args)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("place take order %s: %w", id, err)
	}

	a.metrics.RecordTakeOrder(openbook.SideBid.String(), taker.Client.Wallet().String(), m.Name)
	a.logger.Info("take order placed",
		zap.String("id", id),
		zap.Stringer("market", m.Address),
		zap.Stringer("signature", sig),
	)
	return sig, nil
}

// SettleFunds consumes pending events for acc, then settles its free
// balances to the maker's wallet. Only the settle transaction is timed.
func (a *Actions) SettleFunds(ctx context.Context, id string, maker *Maker, m *Market, acc *OpenOrderAccount) (time.Duration, error) {
	state, err := a.marketState(ctx, maker.Client, m)
	if err != nil {
		return 0, err
	}

	consumeSig, err := maker.Client.ConsumeEvents(ctx, state, a.params.EventLimit, []solana.PublicKey{acc.Address})
	if err != nil {
		return 0, fmt.Errorf("consume events %s: %w", id, err)
	}
	a.logger.Info("events consumed", zap.String("id", id), zap.Stringer("signature", consumeSig))

	oo, err := maker.Client.FetchOpenOrders(ctx, acc.Address)
	if err != nil {
		return 0, fmt.Errorf("fetch open orders %s: %w", acc.Address, err)
	}

	start := a.now()
	sig, err := maker.Client.SettleFunds(ctx, state, acc.Address)
	elapsed := a.now().Sub(start)
	if err != nil {
		return elapsed, fmt.Errorf("settle funds %s: %w", id, err)
	}

	a.metrics.RecordSettle(maker.Client.Wallet().String(), m.Address.String(), elapsed)
	a.logger.Info("funds settled",
		zap.String("id", id),
		zap.Uint64("base_free", oo.Position.BaseFreeNative),
		zap.Uint64("quote_free", oo.Position.QuoteFreeNative),
		zap.Duration("elapsed", elapsed),
		zap.Stringer("signature", sig),
	)
	return elapsed, nil
}

// ConsumeAndSettle consumes events for openOrders on market and settles it
// with the client's wallet as owner.
func (a *Actions) ConsumeAndSettle(ctx context.Context, id string, ex Exchange, market, openOrders solana.PublicKey) (time.Duration, error) {
	return a.SettleFunds(ctx, id, &Maker{Client: ex}, &Market{Address: market}, &OpenOrderAccount{Address: openOrders})
}

// CancelOrder cancels one resting order by id.
func (a *Actions) CancelOrder(ctx context.Context, id string, ex Exchange, market, openOrders solana.PublicKey, orderID bin.Uint128) (solana.Signature, error) {
	state, err := ex.FetchMarket(ctx, market)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("fetch market %s: %w", market, err)
	}
	sig, err := ex.CancelOrder(ctx, state, openOrders, orderID)
	if err != nil {
		return sig, fmt.Errorf("cancel order %s: %w", id, err)
	}
	a.logger.Info("order cancelled", zap.String("id", id), zap.Stringer("account", openOrders), zap.Stringer("signature", sig))
	return sig, nil
}

// CancelAllOrders cancels up to limit resting orders on side, or both sides when side is nil.
func (a *Actions) CancelAllOrders(ctx context.Context, id string, ex Exchange, market, openOrders solana.PublicKey, side *openbook.Side, limit uint8) (solana.Signature, error) {
	state, err := ex.FetchMarket(ctx, market)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("fetch market %s: %w", market, err)
	}
	sig, err := ex.CancelAllOrders(ctx, state, openOrders, side, limit)
	if err != nil {
		return sig, fmt.Errorf("cancel all orders %s: %w", id, err)
	}
	a.logger.Info("orders cancelled", zap.String("id", id), zap.Stringer("account", openOrders), zap.Stringer("signature", sig))
	return sig, nil
}

// Deposit moves native base and quote amounts into openOrders.
func (a *Actions) Deposit(ctx context.Context, id string, ex Exchange, market, openOrders solana.PublicKey, base, quote uint64) (solana.Signature, error) {
	state, err := ex.FetchMarket(ctx, market)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("fetch market %s: %w", market, err)
	}
	sig, err := ex.Deposit(ctx, state, openOrders, base, quote)
	if err != nil {
		return sig, fmt.Errorf("deposit %s: %w", id, err)
	}
	a.logger.Info("deposited",
		zap.String("id", id),
		zap.Stringer("account", openOrders),
		zap.Uint64("base", base),
		zap.Uint64("quote", quote),
		zap.Stringer("signature", sig),
	)
	return sig, nil
}

// GetMarkets lists every market of the program.
func (a *Actions) GetMarkets(ctx context.Context, ex Exchange) ([]openbook.MarketSummary, error) {
	markets, err := ex.FindAllMarkets(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Info("markets found", zap.Int("count", len(markets)))
	return markets, nil
}

// GetMarketOpenOrders returns owner's open-orders accounts on market. It
// fails with ErrOldOpenOrdersVersion when any of them predates the current
// layout.
func (a *Actions) GetMarketOpenOrders(ctx context.Context, ex Exchange, owner, market solana.PublicKey) ([]solana.PublicKey, error) {
	accounts, err := a.marketOpenOrders(ctx, ex, owner, market)
	if err != nil {
		return nil, err
	}
	out := make([]solana.PublicKey, 0, len(accounts))
	for _, oo := range accounts {
		out = append(out, oo.Address)
	}
	a.logger.Info("market open orders", zap.Stringer("market", market), zap.Stringers("accounts", out))
	return out, nil
}

func (a *Actions) marketOpenOrders(ctx context.Context, ex Exchange, owner, market solana.PublicKey) ([]*openbook.OpenOrdersAccount, error) {
	addrs, err := ex.FindOpenOrdersForMarket(ctx, owner, market)
	if err != nil {
		return nil, err
	}
	accounts := make([]*openbook.OpenOrdersAccount, 0, len(addrs))
	for _, addr := range addrs {
		oo, err := ex.FetchOpenOrders(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("fetch open orders %s: %w", addr, err)
		}
		if oo.Version != openbook.OpenOrdersVersion {
			return nil, fmt.Errorf("%s: %w", addr, ErrOldOpenOrdersVersion)
		}
		accounts = append(accounts, oo)
	}
	return accounts, nil
}

// GetUserOpenOrders returns the occupied order slots of openOrders.
func (a *Actions) GetUserOpenOrders(ctx context.Context, ex Exchange, openOrders solana.PublicKey) ([]openbook.OpenOrder, error) {
	oo, err := ex.FetchOpenOrders(ctx, openOrders)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders %s: %w", openOrders, err)
	}
	orders := oo.ActiveOrders()
	a.logger.Info("user open orders", zap.Stringer("account", openOrders), zap.Int("count", len(orders)))
	return orders, nil
}

// PricedOrder is a resting order with its locked price in quote per base.
type PricedOrder struct {
	openbook.OpenOrder
	Price decimal.Decimal
}

// GetUserOpenOrdersWithPrices is GetUserOpenOrders with each locked price
// converted through the lot sizes of the account's market.
func (a *Actions) GetUserOpenOrdersWithPrices(ctx context.Context, ex Exchange, openOrders solana.PublicKey) ([]PricedOrder, error) {
	oo, err := ex.FetchOpenOrders(ctx, openOrders)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders %s: %w", openOrders, err)
	}
	m, err := ex.FetchMarket(ctx, oo.Market)
	if err != nil {
		return nil, fmt.Errorf("fetch market %s: %w", oo.Market, err)
	}
	lots := m.Lots()

	active := oo.ActiveOrders()
	orders := make([]PricedOrder, 0, len(active))
	for _, o := range active {
		orders = append(orders, PricedOrder{OpenOrder: o, Price: lots.PriceLotsToUI(o.LockedPrice)})
	}
	a.logger.Info("user open orders",
		zap.Stringer("account", openOrders),
		zap.Stringer("market", oo.Market),
		zap.Int("count", len(orders)),
	)
	return orders, nil
}

// FreeBalances are the unsettled native amounts held by an open-orders account.
type FreeBalances struct {
	Base  uint64 `json:"base_free_balance"`
	Quote uint64 `json:"quote_free_balance"`
}

// GetOpenOrdersFreeBalances returns the free balances of openOrders.
func (a *Actions) GetOpenOrdersFreeBalances(ctx context.Context, ex Exchange, openOrders solana.PublicKey) (FreeBalances, error) {
	oo, err := ex.FetchOpenOrders(ctx, openOrders)
	if err != nil {
		return FreeBalances{}, fmt.Errorf("fetch open orders %s: %w", openOrders, err)
	}
	fb := FreeBalances{Base: oo.Position.BaseFreeNative, Quote: oo.Position.QuoteFreeNative}
	a.logger.Info("free balances",
		zap.Stringer("account", openOrders),
		zap.Uint64("quote_free", fb.Quote),
		zap.Uint64("base_free", fb.Base),
	)
	return fb, nil
}

// OrderTotals are the lots locked in resting orders of one open-orders account.
type OrderTotals struct {
	BidsQuoteLots int64           `json:"bids_quote_lots"`
	AsksBaseLots  int64           `json:"asks_base_lots"`
	BidsQuote     decimal.Decimal `json:"bids_quote"`
	AsksBase      decimal.Decimal `json:"asks_base"`
}

// GetTotalAmountsForOpenOrders returns the locked totals of each of owner's
// open-orders accounts on market, keyed by account address.
func (a *Actions) GetTotalAmountsForOpenOrders(ctx context.Context, ex Exchange, owner, market solana.PublicKey) (map[string]OrderTotals, error) {
	m, err := ex.FetchMarket(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("fetch market %s: %w", market, err)
	}
	lots := m.Lots()

	accounts, err := a.marketOpenOrders(ctx, ex, owner, market)
	if err != nil {
		return nil, err
	}
	out := make(map[string]OrderTotals, len(accounts))
	for _, oo := range accounts {
		t := OrderTotals{
			BidsQuoteLots: oo.Position.BidsQuoteLots,
			AsksBaseLots:  oo.Position.AsksBaseLots,
			BidsQuote:     lots.QuoteLotsToUI(oo.Position.BidsQuoteLots),
			AsksBase:      lots.BaseLotsToUI(oo.Position.AsksBaseLots),
		}
		out[oo.Address.String()] = t
		a.logger.Info("market totals",
			zap.Stringer("market", market),
			zap.Stringer("account", oo.Address),
			zap.Int64("bids_quote_lots", t.BidsQuoteLots),
			zap.Int64("asks_base_lots", t.AsksBaseLots),
		)
	}
	return out, nil
}
