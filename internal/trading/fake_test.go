package trading

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/gateway-fm/openbook-loadgen/internal/chain"
	"github.com/gateway-fm/openbook-loadgen/internal/openbook"
)

// fakeLedger is an in-memory chain holding SOL funding and token balances.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[solana.PublicKey]map[solana.PublicKey]uint64
	decimals map[solana.PublicKey]uint8
	funded   map[solana.PublicKey]float64
	payers   [][]solana.PublicKey // payers of each CreateToken call
	tokens   int

	createAccountErr error
	createTokenErr   error
}

var _ Chain = (*fakeLedger)(nil)

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: make(map[solana.PublicKey]map[solana.PublicKey]uint64),
		decimals: make(map[solana.PublicKey]uint8),
		funded:   make(map[solana.PublicKey]float64),
	}
}

func (l *fakeLedger) CreateAccountWithBalance(_ context.Context, sol float64) (solana.PrivateKey, error) {
	if l.createAccountErr != nil {
		return nil, l.createAccountErr
	}
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.funded[key.PublicKey()] = sol
	l.mu.Unlock()
	return key, nil
}

func (l *fakeLedger) CreateToken(_ context.Context, payers []solana.PrivateKey, decimals uint8, mintAmount uint64) (*chain.Token, error) {
	if l.createTokenErr != nil {
		return nil, l.createTokenErr
	}
	mint := randomKey()
	native := chain.ToNative(decimal.NewFromUint64(mintAmount), decimals)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens++
	l.decimals[mint] = decimals
	var keys []solana.PublicKey
	for _, p := range payers {
		l.credit(p.PublicKey(), mint, native)
		keys = append(keys, p.PublicKey())
	}
	l.payers = append(l.payers, keys)
	return &chain.Token{Name: fmt.Sprintf("T%03d", l.tokens), Mint: mint, Decimals: decimals}, nil
}

func (l *fakeLedger) TokenBalance(_ context.Context, owner, mint solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[owner][mint], nil
}

// credit and debit require l.mu.
func (l *fakeLedger) credit(owner, mint solana.PublicKey, amount uint64) {
	if l.balances[owner] == nil {
		l.balances[owner] = make(map[solana.PublicKey]uint64)
	}
	l.balances[owner][mint] += amount
}

func (l *fakeLedger) debit(owner, mint solana.PublicKey, amount uint64) error {
	if l.balances[owner][mint] < amount {
		return fmt.Errorf("insufficient funds: %s has %d of %s, needs %d", owner, l.balances[owner][mint], mint, amount)
	}
	l.balances[owner][mint] -= amount
	return nil
}

func randomKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

type restingAsk struct {
	openOrders solana.PublicKey
	orderID    uint64
	priceLots  int64
	baseLots   int64
}

type fillEvent struct {
	openOrders solana.PublicKey
	orderID    uint64
	priceLots  int64
	baseLots   int64
}

type fakeMarket struct {
	state  openbook.Market
	asks   []*restingAsk
	events []fillEvent
}

// fakeBook matches take orders against resting asks in FIFO order and
// settles fills through an event queue, the way the program does.
type fakeBook struct {
	ledger *fakeLedger

	mu         sync.Mutex
	markets    map[solana.PublicKey]*fakeMarket
	marketList []solana.PublicKey
	openOrders map[solana.PublicKey]*openbook.OpenOrdersAccount
	ooList     []solana.PublicKey
	nextID     uint64
	sigs       uint64

	placed    []openbook.PlaceOrderArgs
	taken     []openbook.PlaceTakeOrderArgs
	consumed  []uint64
	takeCalls int

	createMarketErr func(n int) error
	takeErr         func(n int) error
	placeErr        error
	marketCalls     int
}

func newFakeBook(l *fakeLedger) *fakeBook {
	return &fakeBook{
		ledger:     l,
		markets:    make(map[solana.PublicKey]*fakeMarket),
		openOrders: make(map[solana.PublicKey]*openbook.OpenOrdersAccount),
	}
}

func (b *fakeBook) clients() ClientFactory {
	return func(wallet solana.PrivateKey) Exchange {
		return &fakeExchange{book: b, wallet: wallet.PublicKey()}
	}
}

// signature requires b.mu.
func (b *fakeBook) signature() solana.Signature {
	b.sigs++
	var sig solana.Signature
	binary.LittleEndian.PutUint64(sig[:], b.sigs)
	sig[63] = 1
	return sig
}

func takerFee(notional uint64, ppm int64) uint64 {
	return uint64(decimal.NewFromUint64(notional).Mul(decimal.NewFromInt(ppm)).Div(decimal.NewFromInt(1_000_000)).Ceil().IntPart())
}

func makerFee(notional uint64, ppm int64) uint64 {
	return uint64(decimal.NewFromUint64(notional).Mul(decimal.NewFromInt(ppm)).Div(decimal.NewFromInt(1_000_000)).Floor().IntPart())
}

type fakeExchange struct {
	book   *fakeBook
	wallet solana.PublicKey
}

var _ Exchange = (*fakeExchange)(nil)

func (f *fakeExchange) Wallet() solana.PublicKey { return f.wallet }

func (f *fakeExchange) CreateMarket(_ context.Context, p openbook.CreateMarketParams) (solana.PublicKey, solana.Signature, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.marketCalls
	b.marketCalls++
	if b.createMarketErr != nil {
		if err := b.createMarketErr(n); err != nil {
			return solana.PublicKey{}, solana.Signature{}, err
		}
	}

	addr := randomKey()
	m := &fakeMarket{}
	m.state.Address = addr
	copy(m.state.Name[:], p.Name)
	m.state.BaseMint = p.BaseMint
	m.state.QuoteMint = p.QuoteMint
	b.ledger.mu.Lock()
	m.state.BaseDecimals = b.ledger.decimals[p.BaseMint]
	m.state.QuoteDecimals = b.ledger.decimals[p.QuoteMint]
	b.ledger.mu.Unlock()
	m.state.BaseLotSize = p.BaseLotSize
	m.state.QuoteLotSize = p.QuoteLotSize
	m.state.MakerFee = p.MakerFee
	m.state.TakerFee = p.TakerFee
	m.state.ConsumeEventsAdmin = p.ConsumeEventsAdmin
	m.state.CloseMarketAdmin = p.CloseMarketAdmin
	m.state.CollectFeeAdmin = f.wallet

	b.markets[addr] = m
	b.marketList = append(b.marketList, addr)
	return addr, b.signature(), nil
}

func (f *fakeExchange) CreateOpenOrders(_ context.Context, market solana.PublicKey, name string) (solana.PublicKey, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.markets[market]; !ok {
		return solana.PublicKey{}, chain.ErrAccountNotFound
	}

	oo := &openbook.OpenOrdersAccount{Address: randomKey()}
	oo.Owner = f.wallet
	oo.Market = market
	oo.Version = openbook.OpenOrdersVersion
	copy(oo.Name[:], name)
	for i := range oo.OpenOrders {
		oo.OpenOrders[i].IsFree = 1
	}
	b.openOrders[oo.Address] = oo
	b.ooList = append(b.ooList, oo.Address)
	return oo.Address, nil
}

func (f *fakeExchange) ownedOpenOrders(addr, market solana.PublicKey) (*openbook.OpenOrdersAccount, error) {
	oo, ok := f.book.openOrders[addr]
	if !ok {
		return nil, chain.ErrAccountNotFound
	}
	if oo.Owner != f.wallet {
		return nil, errors.New("open orders owner mismatch")
	}
	if oo.Market != market {
		return nil, errors.New("open orders market mismatch")
	}
	return oo, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, m *openbook.Market, openOrders solana.PublicKey, args openbook.PlaceOrderArgs) (solana.Signature, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.placeErr != nil {
		return solana.Signature{}, b.placeErr
	}
	if args.Side != openbook.SideAsk {
		return solana.Signature{}, errors.New("fake book only rests asks")
	}
	market := b.markets[m.Address]
	oo, err := f.ownedOpenOrders(openOrders, m.Address)
	if err != nil {
		return solana.Signature{}, err
	}

	slot := -1
	for i := range oo.OpenOrders {
		if oo.OpenOrders[i].IsFree == 1 {
			slot = i
			break
		}
	}
	if slot < 0 {
		return solana.Signature{}, errors.New("open orders account full")
	}

	b.ledger.mu.Lock()
	err = b.ledger.debit(f.wallet, m.BaseMint, uint64(args.MaxBaseLots*m.BaseLotSize))
	b.ledger.mu.Unlock()
	if err != nil {
		return solana.Signature{}, err
	}

	b.nextID++
	oo.OpenOrders[slot] = openbook.OpenOrder{
		ID:          bin.Uint128{Lo: b.nextID},
		ClientID:    args.ClientOrderID,
		LockedPrice: args.PriceLots,
		SideAndTree: 1,
	}
	oo.Position.AsksBaseLots += args.MaxBaseLots
	market.asks = append(market.asks, &restingAsk{
		openOrders: openOrders,
		orderID:    b.nextID,
		priceLots:  args.PriceLots,
		baseLots:   args.MaxBaseLots,
	})
	b.placed = append(b.placed, args)
	return b.signature(), nil
}

func (f *fakeExchange) PlaceTakeOrder(_ context.Context, m *openbook.Market, args openbook.PlaceTakeOrderArgs) (solana.Signature, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.takeCalls
	b.takeCalls++
	if b.takeErr != nil {
		if err := b.takeErr(n); err != nil {
			return solana.Signature{}, err
		}
	}
	if args.Side != openbook.SideBid {
		return solana.Signature{}, errors.New("fake book only takes with bids")
	}
	market := b.markets[m.Address]

	remaining := args.MaxBaseLots
	var fills []fillEvent
	var filledBase, quote uint64
	for _, ask := range market.asks {
		if remaining == 0 || ask.priceLots > args.PriceLots {
			break
		}
		lots := min(remaining, ask.baseLots)
		remaining -= lots
		fills = append(fills, fillEvent{openOrders: ask.openOrders, orderID: ask.orderID, priceLots: ask.priceLots, baseLots: lots})
		filledBase += uint64(lots * m.BaseLotSize)
		quote += uint64(ask.priceLots * lots * m.QuoteLotSize)
	}
	cost := quote + takerFee(quote, m.TakerFee)
	if cost > uint64(args.MaxQuoteLotsIncludingFees*m.QuoteLotSize) {
		return solana.Signature{}, errors.New("max quote exceeded")
	}

	b.ledger.mu.Lock()
	err := b.ledger.debit(f.wallet, m.QuoteMint, cost)
	if err == nil {
		b.ledger.credit(f.wallet, m.BaseMint, filledBase)
	}
	b.ledger.mu.Unlock()
	if err != nil {
		return solana.Signature{}, err
	}

	for _, fill := range fills {
		market.asks[0].baseLots -= fill.baseLots
		if market.asks[0].baseLots == 0 {
			market.asks = market.asks[1:]
		}
	}
	market.events = append(market.events, fills...)
	b.taken = append(b.taken, args)
	return b.signature(), nil
}

func (f *fakeExchange) releaseSlot(oo *openbook.OpenOrdersAccount, orderID uint64) {
	for i := range oo.OpenOrders {
		if oo.OpenOrders[i].IsFree == 0 && oo.OpenOrders[i].ID.Lo == orderID {
			oo.OpenOrders[i] = openbook.OpenOrder{IsFree: 1}
			return
		}
	}
}

func (f *fakeExchange) cancel(m *openbook.Market, oo *openbook.OpenOrdersAccount, match func(*restingAsk) bool, limit int) {
	market := f.book.markets[m.Address]
	kept := market.asks[:0]
	n := 0
	for _, ask := range market.asks {
		if ask.openOrders == oo.Address && n < limit && match(ask) {
			n++
			oo.Position.AsksBaseLots -= ask.baseLots
			oo.Position.BaseFreeNative += uint64(ask.baseLots * m.BaseLotSize)
			f.releaseSlot(oo, ask.orderID)
			continue
		}
		kept = append(kept, ask)
	}
	market.asks = kept
}

func (f *fakeExchange) CancelOrder(_ context.Context, m *openbook.Market, openOrders solana.PublicKey, orderID bin.Uint128) (solana.Signature, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()
	oo, err := f.ownedOpenOrders(openOrders, m.Address)
	if err != nil {
		return solana.Signature{}, err
	}
	f.cancel(m, oo, func(a *restingAsk) bool { return a.orderID == orderID.Lo }, 1)
	return b.signature(), nil
}

func (f *fakeExchange) CancelAllOrders(_ context.Context, m *openbook.Market, openOrders solana.PublicKey, side *openbook.Side, limit uint8) (solana.Signature, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()
	oo, err := f.ownedOpenOrders(openOrders, m.Address)
	if err != nil {
		return solana.Signature{}, err
	}
	if side != nil && *side == openbook.SideBid {
		return b.signature(), nil
	}
	f.cancel(m, oo, func(*restingAsk) bool { return true }, int(limit))
	return b.signature(), nil
}

func (f *fakeExchange) ConsumeEvents(_ context.Context, m *openbook.Market, limit uint64, openOrders []solana.PublicKey) (solana.Signature, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()
	if !m.ConsumeEventsAdmin.IsZero() && m.ConsumeEventsAdmin != f.wallet {
		return solana.Signature{}, errors.New("consume events admin required")
	}
	market := b.markets[m.Address]
	provided := make(map[solana.PublicKey]bool, len(openOrders))
	for _, k := range openOrders {
		provided[k] = true
	}

	var processed uint64
	kept := market.events[:0]
	for _, ev := range market.events {
		if processed >= limit || !provided[ev.openOrders] {
			kept = append(kept, ev)
			continue
		}
		processed++
		oo := b.openOrders[ev.openOrders]
		quote := uint64(ev.priceLots * ev.baseLots * m.QuoteLotSize)
		oo.Position.QuoteFreeNative += quote - makerFee(quote, m.MakerFee)
		oo.Position.AsksBaseLots -= ev.baseLots

		filled := true
		for _, ask := range market.asks {
			if ask.orderID == ev.orderID {
				filled = false
			}
		}
		if filled {
			f.releaseSlot(oo, ev.orderID)
		}
	}
	market.events = kept
	b.consumed = append(b.consumed, processed)
	return b.signature(), nil
}

func (f *fakeExchange) SettleFunds(_ context.Context, m *openbook.Market, openOrders solana.PublicKey) (solana.Signature, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()
	oo, err := f.ownedOpenOrders(openOrders, m.Address)
	if err != nil {
		return solana.Signature{}, err
	}
	b.ledger.mu.Lock()
	b.ledger.credit(f.wallet, m.BaseMint, oo.Position.BaseFreeNative)
	b.ledger.credit(f.wallet, m.QuoteMint, oo.Position.QuoteFreeNative)
	b.ledger.mu.Unlock()
	oo.Position.BaseFreeNative = 0
	oo.Position.QuoteFreeNative = 0
	return b.signature(), nil
}

func (f *fakeExchange) Deposit(_ context.Context, m *openbook.Market, openOrders solana.PublicKey, base, quote uint64) (solana.Signature, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()
	oo, err := f.ownedOpenOrders(openOrders, m.Address)
	if err != nil {
		return solana.Signature{}, err
	}
	b.ledger.mu.Lock()
	err = b.ledger.debit(f.wallet, m.BaseMint, base)
	if err == nil {
		err = b.ledger.debit(f.wallet, m.QuoteMint, quote)
	}
	b.ledger.mu.Unlock()
	if err != nil {
		return solana.Signature{}, err
	}
	oo.Position.BaseFreeNative += base
	oo.Position.QuoteFreeNative += quote
	return b.signature(), nil
}

func (f *fakeExchange) FetchMarket(_ context.Context, address solana.PublicKey) (*openbook.Market, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.markets[address]
	if !ok {
		return nil, chain.ErrAccountNotFound
	}
	state := m.state
	return &state, nil
}

func (f *fakeExchange) FetchOpenOrders(_ context.Context, address solana.PublicKey) (*openbook.OpenOrdersAccount, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()
	oo, ok := b.openOrders[address]
	if !ok {
		return nil, chain.ErrAccountNotFound
	}
	cp := *oo
	return &cp, nil
}

func (f *fakeExchange) FindOpenOrdersForMarket(_ context.Context, owner, market solana.PublicKey) ([]solana.PublicKey, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []solana.PublicKey
	for _, addr := range b.ooList {
		oo := b.openOrders[addr]
		if oo.Owner == owner && oo.Market == market {
			out = append(out, addr)
		}
	}
	return out, nil
}

func (f *fakeExchange) FindAllMarkets(context.Context) ([]openbook.MarketSummary, error) {
	b := f.book
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]openbook.MarketSummary, 0, len(b.marketList))
	for _, addr := range b.marketList {
		m := b.markets[addr]
		out = append(out, openbook.MarketSummary{
			Address:   addr,
			Name:      m.state.MarketName(),
			BaseMint:  m.state.BaseMint,
			QuoteMint: m.state.QuoteMint,
		})
	}
	return out, nil
}
