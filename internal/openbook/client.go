package openbook

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/chain"
	"github.com/gateway-fm/openbook-loadgen/internal/logging"
)

// Chain is the transaction and account access the client needs.
type Chain interface {
	SendAndConfirm(ctx context.Context, op string, ixs []solana.Instruction, payer solana.PublicKey, signers ...solana.PrivateKey) (solana.Signature, error)
	AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
	ProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) ([]chain.KeyedData, error)
	RentExemption(ctx context.Context, size uint64) (uint64, error)
}

var _ Chain = (*chain.Client)(nil)

// Client issues OpenBook instructions on behalf of one wallet.
type Client struct {
	chain     Chain
	programID solana.PublicKey
	wallet    solana.PrivateKey
	logger    *zap.Logger
}

// NewClient creates a Client signing with wallet.
func NewClient(ch Chain, programID solana.PublicKey, wallet solana.PrivateKey, logger *zap.Logger) *Client {
	return &Client{
		chain:     ch,
		programID: programID,
		wallet:    wallet,
		logger:    logging.OrNop(logger).Named("openbook"),
	}
}

// ProgramID returns the program the client targets.
func (c *Client) ProgramID() solana.PublicKey {
	return c.programID
}

// Wallet returns the signing wallet's public key.
func (c *Client) Wallet() solana.PublicKey {
	return c.wallet.PublicKey()
}

func (c *Client) send(ctx context.Context, op string, ixs []solana.Instruction, extra ...solana.PrivateKey) (solana.Signature, error) {
	signers := append([]solana.PrivateKey{c.wallet}, extra...)
	return c.chain.SendAndConfirm(ctx, op, ixs, c.wallet.PublicKey(), signers...)
}

var defaultMaxStalenessSlots uint32 = 100

// CreateMarketParams configures a new market. Zero keys leave the
// corresponding admin or oracle unset.
type CreateMarketParams struct {
	Name               string
	QuoteMint          solana.PublicKey
	BaseMint           solana.PublicKey
	QuoteLotSize       int64
	BaseLotSize        int64
	MakerFee           int64
	TakerFee           int64
	TimeExpiry         int64
	OracleA            solana.PublicKey
	OracleB            solana.PublicKey
	OpenOrdersAdmin    solana.PublicKey
	ConsumeEventsAdmin solana.PublicKey
	CloseMarketAdmin   solana.PublicKey
}

// CreateMarket allocates the book and event heap accounts and creates a
// market with the wallet as fee collector. It returns the market address.
func (c *Client) CreateMarket(ctx context.Context, p CreateMarketParams) (solana.PublicKey, solana.Signature, error) {
	keys := make([]solana.PrivateKey, 4) // market, bids, asks, event heap
	for i := range keys {
		k, err := solana.NewRandomPrivateKey()
		if err != nil {
			return solana.PublicKey{}, solana.Signature{}, fmt.Errorf("generate market keypair: %w", err)
		}
		keys[i] = k
	}
	market, bids, asks, eventHeap := keys[0], keys[1], keys[2], keys[3]

	booksideRent, err := c.chain.RentExemption(ctx, BooksideSpace)
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, err
	}
	heapRent, err := c.chain.RentExemption(ctx, EventHeapSpace)
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, err
	}

	authority, err := MarketAuthority(c.programID, market.PublicKey())
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, err
	}
	eventAuthority, err := EventAuthority(c.programID)
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, err
	}
	baseVault, quoteVault, err := MarketVaults(authority, p.BaseMint, p.QuoteMint)
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, err
	}

	payer := c.wallet.PublicKey()
	createIx, err := NewCreateMarketInstruction(c.programID, CreateMarketAccounts{
		Market:             market.PublicKey(),
		MarketAuthority:    authority,
		Bids:               bids.PublicKey(),
		Asks:               asks.PublicKey(),
		EventHeap:          eventHeap.PublicKey(),
		Payer:              payer,
		MarketBaseVault:    baseVault,
		MarketQuoteVault:   quoteVault,
		BaseMint:           p.BaseMint,
		QuoteMint:          p.QuoteMint,
		OracleA:            p.OracleA,
		OracleB:            p.OracleB,
		CollectFeeAdmin:    payer,
		OpenOrdersAdmin:    p.OpenOrdersAdmin,
		ConsumeEventsAdmin: p.ConsumeEventsAdmin,
		CloseMarketAdmin:   p.CloseMarketAdmin,
		EventAuthority:     eventAuthority,
	}, CreateMarketArgs{
		Name:         p.Name,
		OracleConfig: OracleConfigParams{ConfFilter: 0.1, MaxStalenessSlots: &defaultMaxStalenessSlots},
		QuoteLotSize: p.QuoteLotSize,
		BaseLotSize:  p.BaseLotSize,
		MakerFee:     p.MakerFee,
		TakerFee:     p.TakerFee,
		TimeExpiry:   p.TimeExpiry,
	})
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, err
	}

	ixs := []solana.Instruction{
		system.NewCreateAccountInstruction(booksideRent, BooksideSpace, c.programID, payer, bids.PublicKey()).Build(),
		system.NewCreateAccountInstruction(booksideRent, BooksideSpace, c.programID, payer, asks.PublicKey()).Build(),
		system.NewCreateAccountInstruction(heapRent, EventHeapSpace, c.programID, payer, eventHeap.PublicKey()).Build(),
		createIx,
	}

	sig, err := c.send(ctx, ixCreateMarket, ixs, keys...)
	if err != nil {
		return solana.PublicKey{}, sig, err
	}
	c.logger.Info("market created",
		zap.String("name", p.Name),
		zap.Stringer("market", market.PublicKey()),
		zap.Stringer("signature", sig),
	)
	return market.PublicKey(), sig, nil
}

// FetchMarket reads and decodes a market.
func (c *Client) FetchMarket(ctx context.Context, address solana.PublicKey) (*Market, error) {
	data, err := c.chain.AccountData(ctx, address)
	if err != nil {
		return nil, err
	}
	return DecodeMarket(address, data)
}

// FetchOpenOrders reads and decodes an open-orders account.
func (c *Client) FetchOpenOrders(ctx context.Context, address solana.PublicKey) (*OpenOrdersAccount, error) {
	data, err := c.chain.AccountData(ctx, address)
	if err != nil {
		return nil, err
	}
	return DecodeOpenOrders(address, data)
}

// FetchIndexer reads the owner's open-orders indexer. A missing indexer
// returns chain.ErrAccountNotFound.
func (c *Client) FetchIndexer(ctx context.Context, owner solana.PublicKey) (*OpenOrdersIndexer, error) {
	addr, err := OpenOrdersIndexerAddress(c.programID, owner)
	if err != nil {
		return nil, err
	}
	data, err := c.chain.AccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return DecodeOpenOrdersIndexer(data)
}

// CreateOpenOrders creates the wallet's next open-orders account on market,
// creating the indexer first when the wallet has none.
func (c *Client) CreateOpenOrders(ctx context.Context, market solana.PublicKey, name string) (solana.PublicKey, error) {
	owner := c.wallet.PublicKey()
	indexer, err := OpenOrdersIndexerAddress(c.programID, owner)
	if err != nil {
		return solana.PublicKey{}, err
	}

	var ixs []solana.Instruction
	var next uint32 = 1
	idx, err := c.FetchIndexer(ctx, owner)
	switch {
	case err == nil:
		next = idx.CreatedCounter + 1
	case errors.Is(err, chain.ErrAccountNotFound):
		ix, err := NewCreateOpenOrdersIndexerInstruction(c.programID, owner, owner, indexer)
		if err != nil {
			return solana.PublicKey{}, err
		}
		ixs = append(ixs, ix)
	default:
		return solana.PublicKey{}, err
	}

	openOrders, err := OpenOrdersAddress(c.programID, owner, next)
	if err != nil {
		return solana.PublicKey{}, err
	}
	ix, err := NewCreateOpenOrdersAccountInstruction(c.programID, CreateOpenOrdersAccounts{
		Payer:      owner,
		Owner:      owner,
		Indexer:    indexer,
		OpenOrders: openOrders,
		Market:     market,
	}, name)
	if err != nil {
		return solana.PublicKey{}, err
	}
	ixs = append(ixs, ix)

	sig, err := c.send(ctx, ixCreateOpenOrdersAccount, ixs)
	if err != nil {
		return solana.PublicKey{}, err
	}
	c.logger.Debug("open orders account created",
		zap.Stringer("account", openOrders),
		zap.Uint32("account_num", next),
		zap.Stringer("signature", sig),
	)
	return openOrders, nil
}

// userTokenAccounts returns the wallet's base and quote associated token accounts.
func (c *Client) userTokenAccounts(m *Market) (base, quote solana.PublicKey, err error) {
	owner := c.wallet.PublicKey()
	if base, _, err = solana.FindAssociatedTokenAddress(owner, m.BaseMint); err != nil {
		return base, quote, fmt.Errorf("derive base token account: %w", err)
	}
	if quote, _, err = solana.FindAssociatedTokenAddress(owner, m.QuoteMint); err != nil {
		return base, quote, fmt.Errorf("derive quote token account: %w", err)
	}
	return base, quote, nil
}

// PlaceOrder places a resting order from openOrders, funded from the
// wallet's token account for the order side.
func (c *Client) PlaceOrder(ctx context.Context, m *Market, openOrders solana.PublicKey, args PlaceOrderArgs) (solana.Signature, error) {
	base, quote, err := c.userTokenAccounts(m)
	if err != nil {
		return solana.Signature{}, err
	}
	userAccount, vault := quote, m.MarketQuoteVault
	if args.Side == SideAsk {
		userAccount, vault = base, m.MarketBaseVault
	}

	ix, err := NewPlaceOrderInstruction(c.programID, m, c.wallet.PublicKey(), openOrders, userAccount, vault, args)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.send(ctx, ixPlaceOrder, []solana.Instruction{ix})
}

// PlaceTakeOrder places an order that matches immediately and settles to
// the wallet's token accounts.
func (c *Client) PlaceTakeOrder(ctx context.Context, m *Market, args PlaceTakeOrderArgs) (solana.Signature, error) {
	base, quote, err := c.userTokenAccounts(m)
	if err != nil {
		return solana.Signature{}, err
	}
	ix, err := NewPlaceTakeOrderInstruction(c.programID, m, c.wallet.PublicKey(), base, quote, args)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.send(ctx, ixPlaceTakeOrder, []solana.Instruction{ix})
}

// CancelOrder cancels a resting order by its program-assigned id.
func (c *Client) CancelOrder(ctx context.Context, m *Market, openOrders solana.PublicKey, orderID bin.Uint128) (solana.Signature, error) {
	ix, err := NewCancelOrderInstruction(c.programID, m, c.wallet.PublicKey(), openOrders, orderID)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.send(ctx, ixCancelOrder, []solana.Instruction{ix})
}

// CancelAllOrders cancels up to limit resting orders; nil side means both.
func (c *Client) CancelAllOrders(ctx context.Context, m *Market, openOrders solana.PublicKey, side *Side, limit uint8) (solana.Signature, error) {
	ix, err := NewCancelAllOrdersInstruction(c.programID, m, c.wallet.PublicKey(), openOrders, side, limit)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.send(ctx, ixCancelAllOrders, []solana.Instruction{ix})
}

// ConsumeEvents processes up to limit events touching openOrders.
func (c *Client) ConsumeEvents(ctx context.Context, m *Market, limit uint64, openOrders []solana.PublicKey) (solana.Signature, error) {
	var admin solana.PublicKey
	if !m.ConsumeEventsAdmin.IsZero() {
		admin = c.wallet.PublicKey()
	}
	ix, err := NewConsumeEventsInstruction(c.programID, m, admin, limit, openOrders)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.send(ctx, ixConsumeEvents, []solana.Instruction{ix})
}

// SettleFunds moves the open-orders account's free balances to the wallet.
func (c *Client) SettleFunds(ctx context.Context, m *Market, openOrders solana.PublicKey) (solana.Signature, error) {
	base, quote, err := c.userTokenAccounts(m)
	if err != nil {
		return solana.Signature{}, err
	}
	ix, err := NewSettleFundsInstruction(c.programID, m, c.wallet.PublicKey(), openOrders, base, quote, solana.PublicKey{})
	if err != nil {
		return solana.Signature{}, err
	}
	return c.send(ctx, ixSettleFunds, []solana.Instruction{ix})
}

// Deposit moves native base and quote amounts into openOrders.
func (c *Client) Deposit(ctx context.Context, m *Market, openOrders solana.PublicKey, base, quote uint64) (solana.Signature, error) {
	userBase, userQuote, err := c.userTokenAccounts(m)
	if err != nil {
		return solana.Signature{}, err
	}
	ix, err := NewDepositInstruction(c.programID, m, c.wallet.PublicKey(), openOrders, userBase, userQuote, base, quote)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.send(ctx, ixDeposit, []solana.Instruction{ix})
}

func memcmp(offset uint64, b []byte) rpc.RPCFilter {
	return rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{Offset: offset, Bytes: solana.Base58(b)}}
}

// FindOpenOrdersForMarket returns owner's open-orders accounts on market.
func (c *Client) FindOpenOrdersForMarket(ctx context.Context, owner, market solana.PublicKey) ([]solana.PublicKey, error) {
	d := AccountDiscriminator(accountOpenOrdersAccount)
	accounts, err := c.chain.ProgramAccounts(ctx, c.programID,
		memcmp(0, d[:]),
		memcmp(openOrdersOwnerOffset, owner.Bytes()),
		memcmp(openOrdersMarketOffset, market.Bytes()),
	)
	if err != nil {
		return nil, fmt.Errorf("find open orders for market %s: %w", market, err)
	}
	out := make([]solana.PublicKey, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Address)
	}
	return out, nil
}

// MarketSummary identifies a market.
type MarketSummary struct {
	Address   solana.PublicKey `json:"address"`
	Name      string           `json:"name"`
	BaseMint  solana.PublicKey `json:"base_mint"`
	QuoteMint solana.PublicKey `json:"quote_mint"`
}

// FindAllMarkets lists every market of the program.
func (c *Client) FindAllMarkets(ctx context.Context) ([]MarketSummary, error) {
	d := AccountDiscriminator(accountMarket)
	accounts, err := c.chain.ProgramAccounts(ctx, c.programID, memcmp(0, d[:]))
	if err != nil {
		return nil, fmt.Errorf("find markets: %w", err)
	}

	out := make([]MarketSummary, 0, len(accounts))
	for _, a := range accounts {
		m, err := DecodeMarket(a.Address, a.Data)
		if err != nil {
			c.logger.Warn("skipping undecodable market", zap.Stringer("market", a.Address), zap.Error(err))
			continue
		}
		out = append(out, MarketSummary{
			Address:   m.Address,
			Name:      m.MarketName(),
			BaseMint:  m.BaseMint,
			QuoteMint: m.QuoteMint,
		})
	}
	return out, nil
}
