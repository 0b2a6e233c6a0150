package chain

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// ToNative converts a UI amount to native units for a token with the given
// decimals, truncating any sub-unit remainder.
func ToNative(ui decimal.Decimal, decimals uint8) uint64 {
	return ui.Shift(int32(decimals)).Truncate(0).BigInt().Uint64()
}

// FromNative converts native units back to a UI amount.
func FromNative(native uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromUint64(native).Shift(-int32(decimals))
}

// SolToLamports converts a SOL amount to lamports.
func SolToLamports(sol float64) uint64 {
	return decimal.NewFromFloat(sol).Mul(decimal.NewFromUint64(solana.LAMPORTS_PER_SOL)).Truncate(0).BigInt().Uint64()
}
