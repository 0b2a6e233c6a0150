// Package openbook is a client for the OpenBook v2 program: instruction
// encoders, account decoders, address derivation and lot conversions.
package openbook

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the mainnet OpenBook v2 deployment.
var DefaultProgramID = solana.MustPublicKeyFromBase58("opnb2LAfJYbRMAHHvqjCwQxanZn7ReEHp1k81EohpZb")

// Account sizes including the 8 byte discriminator.
const (
	BooksideSpace  = 90944 + 8
	EventHeapSpace = 91280 + 8
)

// Side of an order.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideAsk {
		return "ask"
	}
	return "bid"
}

// PlaceOrderType selects matching behaviour.
type PlaceOrderType uint8

const (
	OrderTypeLimit PlaceOrderType = iota
	OrderTypeImmediateOrCancel
	OrderTypePostOnly
	OrderTypeMarket
	OrderTypePostOnlySlide
	OrderTypeFillOrKill
)

// SelfTradeBehavior controls matching against one's own orders.
type SelfTradeBehavior uint8

const (
	SelfTradeDecrementTake SelfTradeBehavior = iota
	SelfTradeCancelProvide
	SelfTradeAbortTransaction
)

// Instruction names as declared by the program.
const (
	ixCreateMarket            = "create_market"
	ixCreateOpenOrdersIndexer = "create_open_orders_indexer"
	ixCreateOpenOrdersAccount = "create_open_orders_account"
	ixPlaceOrder              = "place_order"
	ixPlaceTakeOrder          = "place_take_order"
	ixCancelOrder             = "cancel_order"
	ixCancelAllOrders         = "cancel_all_orders"
	ixConsumeEvents           = "consume_events"
	ixSettleFunds             = "settle_funds"
	ixDeposit                 = "deposit"
)

// Account type names.
const (
	accountMarket            = "Market"
	accountOpenOrdersAccount = "OpenOrdersAccount"
	accountOpenOrdersIndexer = "OpenOrdersIndexer"
)

// Discriminator is the 8 byte prefix identifying an instruction or account.
type Discriminator [8]byte

func discriminator(namespace, name string) Discriminator {
	var d Discriminator
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	copy(d[:], sum[:8])
	return d
}

// InstructionDiscriminator returns the discriminator of a snake_case instruction name.
func InstructionDiscriminator(name string) Discriminator {
	return discriminator("global", name)
}

// AccountDiscriminator returns the discriminator of a CamelCase account type.
func AccountDiscriminator(name string) Discriminator {
	return discriminator("account", name)
}

// Seeds
var (
	seedMarket            = []byte("Market")
	seedEventAuthority    = []byte("__event_authority")
	seedOpenOrdersIndexer = []byte("OpenOrdersIndexer")
	seedOpenOrders        = []byte("OpenOrders")
)

// MarketAuthority derives the PDA that owns a market's vaults.
func MarketAuthority(programID, market solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{seedMarket, market.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive market authority: %w", err)
	}
	return addr, nil
}

// EventAuthority derives the PDA used for self-CPI event logging.
func EventAuthority(programID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{seedEventAuthority}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive event authority: %w", err)
	}
	return addr, nil
}

// OpenOrdersIndexerAddress derives the per-owner indexer PDA.
func OpenOrdersIndexerAddress(programID, owner solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{seedOpenOrdersIndexer, owner.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive open orders indexer: %w", err)
	}
	return addr, nil
}

// OpenOrdersAddress derives the accountNum-th open-orders PDA of owner.
// Account numbers start at 1.
func OpenOrdersAddress(programID, owner solana.PublicKey, accountNum uint32) (solana.PublicKey, error) {
	num := make([]byte, 4)
	binary.LittleEndian.PutUint32(num, accountNum)
	addr, _, err := solana.FindProgramAddress([][]byte{seedOpenOrders, owner.Bytes(), num}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive open orders account %d: %w", accountNum, err)
	}
	return addr, nil
}

// MarketVaults returns the base and quote vaults: associated token accounts
// of the market authority.
func MarketVaults(authority, baseMint, quoteMint solana.PublicKey) (base, quote solana.PublicKey, err error) {
	if base, _, err = solana.FindAssociatedTokenAddress(authority, baseMint); err != nil {
		return base, quote, fmt.Errorf("derive base vault: %w", err)
	}
	if quote, _, err = solana.FindAssociatedTokenAddress(authority, quoteMint); err != nil {
		return base, quote, fmt.Errorf("derive quote vault: %w", err)
	}
	return base, quote, nil
}

// trimName decodes a zero padded name field.
func trimName(b []byte) string {
	return strings.TrimRightFunc(string(b), func(r rune) bool { return r == 0 || unicode.IsSpace(r) })
}
