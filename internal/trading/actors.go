// Package trading drives makers and takers against OpenBook markets.
package trading

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/gateway-fm/openbook-loadgen/internal/openbook"
	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// Maker owns markets and posts resting asks on them.
type Maker struct {
	Key     solana.PrivateKey
	Client  Exchange
	Markets []*Market
}

// PublicKey returns the maker's address.
func (m *Maker) PublicKey() solana.PublicKey {
	return m.Key.PublicKey()
}

// Taker lifts resting orders with take orders.
type Taker struct {
	Key    solana.PrivateKey
	Client Exchange
}

// PublicKey returns the taker's address.
func (t *Taker) PublicKey() solana.PublicKey {
	return t.Key.PublicKey()
}

// Market is a market created during a run.
type Market struct {
	Address   solana.PublicKey
	Name      string
	BaseMint  solana.PublicKey
	QuoteMint solana.PublicKey
	Owner     *Maker
	Accounts  []*OpenOrderAccount
	CreatedAt time.Time

	state *openbook.Market
}

// Info returns the market record persisted with the run.
func (m *Market) Info() types.MarketInfo {
	info := types.MarketInfo{
		Address:   m.Address.String(),
		Name:      m.Name,
		BaseMint:  m.BaseMint.String(),
		QuoteMint: m.QuoteMint.String(),
		CreatedAt: m.CreatedAt,
	}
	if m.Owner != nil {
		info.Owner = m.Owner.PublicKey().String()
	}
	return info
}

// OpenOrderAccount is a maker's open-orders account and the orders placed from it.
type OpenOrderAccount struct {
	Address solana.PublicKey
	Orders  []PlacedOrder
}

// PlacedOrder records a submitted limit order.
type PlacedOrder struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Signature solana.Signature `json:"signature"`
}
