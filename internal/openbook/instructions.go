package openbook

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// OracleConfigParams configures oracle staleness checks at market creation.
type OracleConfigParams struct {
	ConfFilter        float32
	MaxStalenessSlots *uint32 `bin:"optional"`
}

// CreateMarketArgs are the create_market instruction arguments.
type CreateMarketArgs struct {
	Name         string
	OracleConfig OracleConfigParams
	QuoteLotSize int64
	BaseLotSize  int64
	MakerFee     int64
	TakerFee     int64
	TimeExpiry   int64
}

// PlaceOrderArgs are the place_order instruction arguments.
type PlaceOrderArgs struct {
	Side                      Side
	PriceLots                 int64
	MaxBaseLots               int64
	MaxQuoteLotsIncludingFees int64
	ClientOrderID             uint64
	OrderType                 PlaceOrderType
	ExpiryTimestamp           uint64
	SelfTradeBehavior         SelfTradeBehavior
	Limit                     uint8
}

// PlaceTakeOrderArgs are the place_take_order instruction arguments.
type PlaceTakeOrderArgs struct {
	Side                      Side
	PriceLots                 int64
	MaxBaseLots               int64
	MaxQuoteLotsIncludingFees int64
	OrderType                 PlaceOrderType
	Limit                     uint8
}

type cancelOrderArgs struct {
	OrderID bin.Uint128
}

type cancelAllOrdersArgs struct {
	SideOption *Side `bin:"optional"`
	Limit      uint8
}

type consumeEventsArgs struct {
	Limit uint64
}

type depositArgs struct {
	BaseAmount  uint64
	QuoteAmount uint64
}

type createOpenOrdersAccountArgs struct {
	Name string
}

// encodeInstruction writes the instruction discriminator followed by the
// borsh encoded args. args may be nil.
func encodeInstruction(name string, args interface{}) ([]byte, error) {
	d := InstructionDiscriminator(name)
	buf := new(bytes.Buffer)
	buf.Write(d[:])
	if args != nil {
		if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
			return nil, fmt.Errorf("encode %s args: %w", name, err)
		}
	}
	return buf.Bytes(), nil
}

func newInstruction(programID solana.PublicKey, name string, args interface{}, accounts solana.AccountMetaSlice) (solana.Instruction, error) {
	data, err := encodeInstruction(name, args)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// optional returns the meta for an optional account, substituting the
// program id when k is zero.
func optional(k, programID solana.PublicKey, writable, signer bool) *solana.AccountMeta {
	if k.IsZero() {
		return solana.NewAccountMeta(programID, false, false)
	}
	return solana.NewAccountMeta(k, writable, signer)
}

// CreateMarketAccounts lists the accounts of create_market.
type CreateMarketAccounts struct {
	Market             solana.PublicKey
	MarketAuthority    solana.PublicKey
	Bids               solana.PublicKey
	Asks               solana.PublicKey
	EventHeap          solana.PublicKey
	Payer              solana.PublicKey
	MarketBaseVault    solana.PublicKey
	MarketQuoteVault   solana.PublicKey
	BaseMint           solana.PublicKey
	QuoteMint          solana.PublicKey
	OracleA            solana.PublicKey
	OracleB            solana.PublicKey
	CollectFeeAdmin    solana.PublicKey
	OpenOrdersAdmin    solana.PublicKey
	ConsumeEventsAdmin solana.PublicKey
	CloseMarketAdmin   solana.PublicKey
	EventAuthority     solana.PublicKey
}

// NewCreateMarketInstruction builds create_market. The bids, asks and event
// heap accounts must already be allocated and owned by the program.
func NewCreateMarketInstruction(programID solana.PublicKey, a CreateMarketAccounts, args CreateMarketArgs) (solana.Instruction, error) {
	return newInstruction(programID, ixCreateMarket, &args, solana.AccountMetaSlice{
		solana.Meta(a.Market).WRITE().SIGNER(),
		solana.Meta(a.MarketAuthority),
		solana.Meta(a.Bids).WRITE(),
		solana.Meta(a.Asks).WRITE(),
		solana.Meta(a.EventHeap).WRITE(),
		solana.Meta(a.Payer).WRITE().SIGNER(),
		solana.Meta(a.MarketBaseVault).WRITE(),
		solana.Meta(a.MarketQuoteVault).WRITE(),
		solana.Meta(a.BaseMint),
		solana.Meta(a.QuoteMint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SPLAssociatedTokenAccountProgramID),
		optional(a.OracleA, programID, false, false),
		optional(a.OracleB, programID, false, false),
		solana.Meta(a.CollectFeeAdmin),
		optional(a.OpenOrdersAdmin, programID, false, false),
		optional(a.ConsumeEventsAdmin, programID, false, false),
		optional(a.CloseMarketAdmin, programID, false, false),
		solana.Meta(a.EventAuthority),
		solana.Meta(programID),
	})
}

// NewCreateOpenOrdersIndexerInstruction builds create_open_orders_indexer.
func NewCreateOpenOrdersIndexerInstruction(programID, payer, owner, indexer solana.PublicKey) (solana.Instruction, error) {
	return newInstruction(programID, ixCreateOpenOrdersIndexer, nil, solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(owner).SIGNER(),
		solana.Meta(indexer).WRITE(),
		solana.Meta(solana.SystemProgramID),
	})
}

// CreateOpenOrdersAccounts lists the accounts of create_open_orders_account.
type CreateOpenOrdersAccounts struct {
	Payer      solana.PublicKey
	Owner      solana.PublicKey
	Delegate   solana.PublicKey // optional
	Indexer    solana.PublicKey
	OpenOrders solana.PublicKey
	Market     solana.PublicKey
}

// NewCreateOpenOrdersAccountInstruction builds create_open_orders_account.
func NewCreateOpenOrdersAccountInstruction(programID solana.PublicKey, a CreateOpenOrdersAccounts, name string) (solana.Instruction, error) {
	return newInstruction(programID, ixCreateOpenOrdersAccount, &createOpenOrdersAccountArgs{Name: name}, solana.AccountMetaSlice{
		solana.Meta(a.Payer).WRITE().SIGNER(),
		solana.Meta(a.Owner).SIGNER(),
		optional(a.Delegate, programID, false, false),
		solana.Meta(a.Indexer).WRITE(),
		solana.Meta(a.OpenOrders).WRITE(),
		solana.Meta(a.Market),
		solana.Meta(solana.SystemProgramID),
	})
}

// NewPlaceOrderInstruction builds place_order against market for the
// open-orders account. userTokenAccount and marketVault are the base side
// for asks and the quote side for bids.
func NewPlaceOrderInstruction(programID solana.PublicKey, m *Market, signer, openOrders, userTokenAccount, marketVault solana.PublicKey, args PlaceOrderArgs) (solana.Instruction, error) {
	return newInstruction(programID, ixPlaceOrder, &args, solana.AccountMetaSlice{
		solana.Meta(signer).SIGNER(),
		solana.Meta(openOrders).WRITE(),
		optional(m.OpenOrdersAdmin, programID, false, true),
		solana.Meta(userTokenAccount).WRITE(),
		solana.Meta(m.Address).WRITE(),
		solana.Meta(m.Bids).WRITE(),
		solana.Meta(m.Asks).WRITE(),
		solana.Meta(m.EventHeap).WRITE(),
		solana.Meta(marketVault).WRITE(),
		optional(m.OracleA, programID, false, false),
		optional(m.OracleB, programID, false, false),
		solana.Meta(solana.TokenProgramID),
	})
}

// NewPlaceTakeOrderInstruction builds place_take_order. The taker needs no
// open-orders account; fills settle directly to its token accounts.
func NewPlaceTakeOrderInstruction(programID solana.PublicKey, m *Market, signer, userBase, userQuote solana.PublicKey, args PlaceTakeOrderArgs) (solana.Instruction, error) {
	return newInstruction(programID, ixPlaceTakeOrder, &args, solana.AccountMetaSlice{
		solana.Meta(signer).WRITE().SIGNER(),
		solana.Meta(signer).WRITE().SIGNER(), // penalty payer
		solana.Meta(m.Address).WRITE(),
		solana.Meta(m.MarketAuthority),
		solana.Meta(m.Bids).WRITE(),
		solana.Meta(m.Asks).WRITE(),
		solana.Meta(m.MarketBaseVault).WRITE(),
		solana.Meta(m.MarketQuoteVault).WRITE(),
		solana.Meta(m.EventHeap).WRITE(),
		solana.Meta(userBase).WRITE(),
		solana.Meta(userQuote).WRITE(),
		optional(m.OracleA, programID, false, false),
		optional(m.OracleB, programID, false, false),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SystemProgramID),
		optional(m.OpenOrdersAdmin, programID, false, true),
	})
}

func cancelAccounts(m *Market, signer, openOrders solana.PublicKey) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.Meta(signer).SIGNER(),
		solana.Meta(openOrders).WRITE(),
		solana.Meta(m.Address),
		solana.Meta(m.Bids).WRITE(),
		solana.Meta(m.Asks).WRITE(),
	}
}

// NewCancelOrderInstruction builds cancel_order for a resting order id.
func NewCancelOrderInstruction(programID solana.PublicKey, m *Market, signer, openOrders solana.PublicKey, orderID bin.Uint128) (solana.Instruction, error) {
	return newInstruction(programID, ixCancelOrder, &cancelOrderArgs{OrderID: orderID}, cancelAccounts(m, signer, openOrders))
}

// NewCancelAllOrdersInstruction builds cancel_all_orders. A nil side cancels both sides.
func NewCancelAllOrdersInstruction(programID solana.PublicKey, m *Market, signer, openOrders solana.PublicKey, side *Side, limit uint8) (solana.Instruction, error) {
	return newInstruction(programID, ixCancelAllOrders, &cancelAllOrdersArgs{SideOption: side, Limit: limit}, cancelAccounts(m, signer, openOrders))
}

// NewConsumeEventsInstruction builds consume_events. The open-orders
// accounts referenced by the pending events go in remaining accounts.
func NewConsumeEventsInstruction(programID solana.PublicKey, m *Market, admin solana.PublicKey, limit uint64, openOrders []solana.PublicKey) (solana.Instruction, error) {
	accounts := solana.AccountMetaSlice{
		optional(admin, programID, false, true),
		solana.Meta(m.Address).WRITE(),
		solana.Meta(m.EventHeap).WRITE(),
	}
	for _, oo := range openOrders {
		accounts = append(accounts, solana.Meta(oo).WRITE())
	}
	return newInstruction(programID, ixConsumeEvents, &consumeEventsArgs{Limit: limit}, accounts)
}

// NewSettleFundsInstruction builds settle_funds, moving free balances from
// the open-orders account to the owner's token accounts.
func NewSettleFundsInstruction(programID solana.PublicKey, m *Market, owner, openOrders, userBase, userQuote, referrer solana.PublicKey) (solana.Instruction, error) {
	return newInstruction(programID, ixSettleFunds, nil, solana.AccountMetaSlice{
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(owner).WRITE().SIGNER(), // penalty payer
		solana.Meta(openOrders).WRITE(),
		solana.Meta(m.Address).WRITE(),
		solana.Meta(m.MarketAuthority),
		solana.Meta(m.MarketBaseVault).WRITE(),
		solana.Meta(m.MarketQuoteVault).WRITE(),
		solana.Meta(userBase).WRITE(),
		solana.Meta(userQuote).WRITE(),
		optional(referrer, programID, true, false),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SystemProgramID),
	})
}

// NewDepositInstruction builds deposit of native base and quote amounts
// into an open-orders account.
func NewDepositInstruction(programID solana.PublicKey, m *Market, owner, openOrders, userBase, userQuote solana.PublicKey, base, quote uint64) (solana.Instruction, error) {
	return newInstruction(programID, ixDeposit, &depositArgs{BaseAmount: base, QuoteAmount: quote}, solana.AccountMetaSlice{
		solana.Meta(owner).SIGNER(),
		solana.Meta(userBase).WRITE(),
		solana.Meta(userQuote).WRITE(),
		solana.Meta(openOrders).WRITE(),
		solana.Meta(m.Address).WRITE(),
		solana.Meta(m.MarketBaseVault).WRITE(),
		solana.Meta(m.MarketQuoteVault).WRITE(),
		solana.Meta(solana.TokenProgramID),
	})
}
