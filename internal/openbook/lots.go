package openbook

import (
	"github.com/shopspring/decimal"
)

// LotSizes is the subset of market parameters needed to convert between
// UI amounts, native units and lots.
type LotSizes struct {
	BaseDecimals  uint8
	QuoteDecimals uint8
	BaseLotSize   int64
	QuoteLotSize  int64
}

// Lots returns the market's lot parameters.
func (m *MarketState) Lots() LotSizes {
	return LotSizes{
		BaseDecimals:  m.BaseDecimals,
		QuoteDecimals: m.QuoteDecimals,
		BaseLotSize:   m.BaseLotSize,
		QuoteLotSize:  m.QuoteLotSize,
	}
}

// PriceToLots converts a UI price (quote per base) to price lots.
func (l LotSizes) PriceToLots(price decimal.Decimal) int64 {
	num := price.Shift(int32(l.QuoteDecimals)).Mul(decimal.NewFromInt(l.BaseLotSize))
	den := decimal.NewFromInt(l.QuoteLotSize).Shift(int32(l.BaseDecimals))
	return num.Div(den).Truncate(0).IntPart()
}

// BaseToLots converts a UI base quantity to base lots.
func (l LotSizes) BaseToLots(qty decimal.Decimal) int64 {
	return qty.Shift(int32(l.BaseDecimals)).Div(decimal.NewFromInt(l.BaseLotSize)).Truncate(0).IntPart()
}

// QuoteToLots converts a UI quote amount to quote lots.
func (l LotSizes) QuoteToLots(amount decimal.Decimal) int64 {
	return amount.Shift(int32(l.QuoteDecimals)).Div(decimal.NewFromInt(l.QuoteLotSize)).Truncate(0).IntPart()
}

// PriceLotsToUI converts price lots back to a UI price.
func (l LotSizes) PriceLotsToUI(lots int64) decimal.Decimal {
	return decimal.NewFromInt(lots).
		Mul(decimal.NewFromInt(l.QuoteLotSize)).
		Shift(int32(l.BaseDecimals)).
		Div(decimal.NewFromInt(l.BaseLotSize)).
		Shift(-int32(l.QuoteDecimals))
}

// BaseLotsToUI converts base lots back to a UI quantity.
func (l LotSizes) BaseLotsToUI(lots int64) decimal.Decimal {
	return decimal.NewFromInt(lots).Mul(decimal.NewFromInt(l.BaseLotSize)).Shift(-int32(l.BaseDecimals))
}

// QuoteLotsToUI converts quote lots back to a UI amount.
func (l LotSizes) QuoteLotsToUI(lots int64) decimal.Decimal {
	return decimal.NewFromInt(lots).Mul(decimal.NewFromInt(l.QuoteLotSize)).Shift(-int32(l.QuoteDecimals))
}
