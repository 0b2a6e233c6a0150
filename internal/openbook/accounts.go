package openbook

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// MaxOpenOrders is the number of order slots in an open-orders account.
const MaxOpenOrders = 24

// OpenOrdersVersion is the only account version this client operates on.
const OpenOrdersVersion = 1

var (
	// ErrWrongAccountType is returned when account data carries another discriminator.
	ErrWrongAccountType = errors.New("unexpected account discriminator")

	// ErrOldOpenOrdersVersion is returned for open-orders accounts created by an older program.
	ErrOldOpenOrdersVersion = errors.New("using an old open orders account, please close it")
)

// OracleConfig as stored in the market.
type OracleConfig struct {
	ConfFilter        float64
	MaxStalenessSlots int64
	Reserved          [72]uint8
}

// StablePriceModel as stored in the market. Decoded only to keep field offsets.
type StablePriceModel struct {
	StablePrice            float64
	LastUpdateTimestamp    uint64
	DelayPrices            [24]float64
	DelayAccumulatorPrice  float64
	DelayAccumulatorTime   uint32
	DelayIntervalSeconds   uint32
	DelayGrowthLimit       float32
	StableGrowthLimit      float32
	LastDelayIntervalIndex uint8
	ResetOnNonzeroPrice    uint8
	Padding                [6]uint8
	Reserved               [48]uint8
}

// MarketState is the on-chain market layout after the discriminator.
// Optional admin and oracle keys are all-zero when unset.
type MarketState struct {
	Bump               uint8
	BaseDecimals       uint8
	QuoteDecimals      uint8
	Padding1           [5]uint8
	MarketAuthority    solana.PublicKey
	TimeExpiry         int64
	CollectFeeAdmin    solana.PublicKey
	OpenOrdersAdmin    solana.PublicKey
	ConsumeEventsAdmin solana.PublicKey
	CloseMarketAdmin   solana.PublicKey
	Name               [16]uint8
	Bids               solana.PublicKey
	Asks               solana.PublicKey
	EventHeap          solana.PublicKey
	OracleA            solana.PublicKey
	OracleB            solana.PublicKey
	OracleConfig       OracleConfig
	StablePriceModel   StablePriceModel
	QuoteLotSize       int64
	BaseLotSize        int64
	SeqNum             uint64
	RegistrationTime   int64
	MakerFee           int64
	TakerFee           int64
	FeesAccrued        bin.Uint128
	FeesToReferrers    bin.Uint128
	ReferrerRebates    uint64
	FeesAvailable      uint64
	MakerVolume        bin.Uint128
	TakerVolumeWoOo    bin.Uint128
	BaseMint           solana.PublicKey
	QuoteMint          solana.PublicKey
	MarketBaseVault    solana.PublicKey
	BaseDepositTotal   uint64
	MarketQuoteVault   solana.PublicKey
	QuoteDepositTotal  uint64
	Reserved           [128]uint8
}

// Market is a decoded market with its address.
type Market struct {
	Address solana.PublicKey
	MarketState
}

// MarketName returns the market's human readable name.
func (m *MarketState) MarketName() string {
	return trimName(m.Name[:])
}

// Position tracks an open-orders account's balances.
type Position struct {
	BidsBaseLots             int64
	AsksBaseLots             int64
	BaseFreeNative           uint64
	QuoteFreeNative          uint64
	LockedMakerFees          uint64
	ReferrerRebatesAvailable uint64
	PenaltyHeapCount         uint64
	MakerVolume              bin.Uint128
	TakerVolume              bin.Uint128
	BidsQuoteLots            int64
	Reserved                 [64]uint8
}

// OpenOrder is one order slot.
type OpenOrder struct {
	ID          bin.Uint128
	ClientID    uint64
	LockedPrice int64
	IsFree      uint8
	SideAndTree uint8
	Padding     [6]uint8
}

// Side returns the order side encoded in SideAndTree.
func (o *OpenOrder) Side() Side {
	// Bid fixed/oracle = 0/2, ask fixed/oracle = 1/3.
	if o.SideAndTree%2 == 1 {
		return SideAsk
	}
	return SideBid
}

// OpenOrdersState is the on-chain open-orders layout after the discriminator.
type OpenOrdersState struct {
	Owner      solana.PublicKey
	Market     solana.PublicKey
	Name       [32]uint8
	Delegate   solana.PublicKey
	AccountNum uint32
	Bump       uint8
	Version    uint8
	Padding    [2]uint8
	Position   Position
	OpenOrders [MaxOpenOrders]OpenOrder
}

// OpenOrdersAccount is a decoded open-orders account with its address.
type OpenOrdersAccount struct {
	Address solana.PublicKey
	OpenOrdersState
}

// AccountName returns the account's name.
func (o *OpenOrdersState) AccountName() string {
	return trimName(o.Name[:])
}

// ActiveOrders returns the occupied order slots.
func (o *OpenOrdersState) ActiveOrders() []OpenOrder {
	var out []OpenOrder
	for _, oo := range o.OpenOrders {
		if oo.IsFree == 0 {
			out = append(out, oo)
		}
	}
	return out
}

// Offsets of the owner and market keys used for getProgramAccounts filters.
const (
	openOrdersOwnerOffset  = 8
	openOrdersMarketOffset = 8 + 32
)

// OpenOrdersIndexer lists the open-orders accounts created by an owner.
type OpenOrdersIndexer struct {
	Bump           uint8
	CreatedCounter uint32
	Addresses      []solana.PublicKey
}

// DecodeMarket decodes raw market account data.
func DecodeMarket(address solana.PublicKey, data []byte) (*Market, error) {
	m := &Market{Address: address}
	if err := decodeAccount(accountMarket, data, &m.MarketState); err != nil {
		return nil, fmt.Errorf("decode market %s: %w", address, err)
	}
	return m, nil
}

// DecodeOpenOrders decodes raw open-orders account data.
func DecodeOpenOrders(address solana.PublicKey, data []byte) (*OpenOrdersAccount, error) {
	oo := &OpenOrdersAccount{Address: address}
	if err := decodeAccount(accountOpenOrdersAccount, data, &oo.OpenOrdersState); err != nil {
		return nil, fmt.Errorf("decode open orders %s: %w", address, err)
	}
	return oo, nil
}

// DecodeOpenOrdersIndexer decodes raw indexer account data.
func DecodeOpenOrdersIndexer(data []byte) (*OpenOrdersIndexer, error) {
	idx := &OpenOrdersIndexer{}
	if err := decodeAccount(accountOpenOrdersIndexer, data, idx); err != nil {
		return nil, fmt.Errorf("decode open orders indexer: %w", err)
	}
	return idx, nil
}

func decodeAccount(name string, data []byte, v interface{}) error {
	want := AccountDiscriminator(name)
	if len(data) < len(want) {
		return fmt.Errorf("account data too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], want[:]) {
		return ErrWrongAccountType
	}
	return bin.NewBorshDecoder(data[8:]).Decode(v)
}
