package trading

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/gateway-fm/openbook-loadgen/internal/verification"
	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// PairBalance returns owner's native base and quote token balances on m.
func PairBalance(ctx context.Context, ch Chain, owner solana.PublicKey, m *Market) (types.PairBalance, error) {
	base, err := ch.TokenBalance(ctx, owner, m.BaseMint)
	if err != nil {
		return types.PairBalance{}, fmt.Errorf("base balance of %s on %s: %w", owner, m.Name, err)
	}
	quote, err := ch.TokenBalance(ctx, owner, m.QuoteMint)
	if err != nil {
		return types.PairBalance{}, fmt.Errorf("quote balance of %s on %s: %w", owner, m.Name, err)
	}
	return types.PairBalance{
		Owner:  owner.String(),
		Market: m.Address.String(),
		Base:   base,
		Quote:  quote,
	}, nil
}

// Snapshot captures every maker's and taker's balances on every market.
func Snapshot(ctx context.Context, ch Chain, makers []*Maker, takers []*Taker, markets []*Market) (verification.Snapshot, error) {
	var s verification.Snapshot
	for _, m := range markets {
		for _, mk := range makers {
			b, err := PairBalance(ctx, ch, mk.PublicKey(), m)
			if err != nil {
				return s, err
			}
			s.Makers = append(s.Makers, b)
		}
		for _, tk := range takers {
			b, err := PairBalance(ctx, ch, tk.PublicKey(), m)
			if err != nil {
				return s, err
			}
			s.Takers = append(s.Takers, b)
		}
	}
	return s, nil
}
