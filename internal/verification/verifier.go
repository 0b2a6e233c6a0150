// Package verification provides post-run balance verification.
package verification

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/logging"
	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// ErrBalanceMismatch is returned when observed token movements do not match
// the orders that were placed and taken.
var ErrBalanceMismatch = errors.New("balance mismatch")

// Check names.
const (
	CheckMakerBase  = "maker_base"
	CheckMakerQuote = "maker_quote"
	CheckTakerBase  = "taker_base"
	CheckTakerQuote = "taker_quote"
)

// feeDenominator is the scale of market fees: 1000 means 0.1%.
var feeDenominator = decimal.NewFromInt(1_000_000)

// Expectation describes the trades a run should have produced. All amounts
// are native token units.
type Expectation struct {
	Orders      int64  // asks placed by makers, each taken in full
	BaseNative  uint64 // base amount of one order
	QuoteNative uint64 // quote notional of one order
	MakerFee    int64  // parts per million of notional
	TakerFee    int64
}

// Fee returns the fee charged on one order's notional at rate ppm, rounded up.
func (e Expectation) Fee(ppm int64) int64 {
	return decimal.NewFromUint64(e.QuoteNative).
		Mul(decimal.NewFromInt(ppm)).
		Div(feeDenominator).
		Ceil().
		IntPart()
}

// Snapshot holds the token balances of every maker and taker on every market.
type Snapshot struct {
	Makers []types.PairBalance `json:"makers"`
	Takers []types.PairBalance `json:"takers"`
}

type totals struct {
	base, quote int64
}

func sum(balances []types.PairBalance) totals {
	var t totals
	for _, b := range balances {
		t.base += int64(b.Base)
		t.quote += int64(b.Quote)
	}
	return t
}

// Verifier compares balance snapshots taken around a run.
type Verifier struct {
	logger *zap.Logger
}

// NewVerifier creates a verifier.
func NewVerifier(logger *zap.Logger) *Verifier {
	return &Verifier{logger: logging.OrNop(logger).Named("verification")}
}

// Verify checks that makers sold and takers bought exactly Orders·BaseNative,
// and that quote moved by the notional adjusted for fees. Quote checks allow
// one native unit of rounding per order. The returned error wraps
// ErrBalanceMismatch when any check fails; the Verification is always
// returned.
func (v *Verifier) Verify(exp Expectation, before, after Snapshot) (*types.Verification, error) {
	mb, ma := sum(before.Makers), sum(after.Makers)
	tb, ta := sum(before.Takers), sum(after.Takers)

	n := exp.Orders
	base := n * int64(exp.BaseNative)
	notional := n * int64(exp.QuoteNative)

	checks := []types.BalanceCheck{
		check(CheckMakerBase, -base, ma.base-mb.base, 0),
		check(CheckTakerBase, base, ta.base-tb.base, 0),
		check(CheckMakerQuote, notional-n*exp.Fee(exp.MakerFee), ma.quote-mb.quote, n),
		check(CheckTakerQuote, -(notional + n*exp.Fee(exp.TakerFee)), ta.quote-tb.quote, n),
	}

	result := &types.Verification{Passed: true, Checks: checks}
	for _, c := range checks {
		if !c.OK {
			result.Passed = false
		}
		v.logger.Info("balance check",
			zap.String("check", c.Name),
			zap.Int64("expected", c.Expected),
			zap.Int64("observed", c.Observed),
			zap.Int64("tolerance", c.Tolerance),
			zap.Bool("ok", c.OK),
		)
	}

	if !result.Passed {
		failed := result.Failed()
		return result, fmt.Errorf("%w: %s expected %d, observed %d (%d checks failed)",
			ErrBalanceMismatch, failed[0].Name, failed[0].Expected, failed[0].Observed, len(failed))
	}
	return result, nil
}

func check(name string, expected, observed, tolerance int64) types.BalanceCheck {
	diff := observed - expected
	if diff < 0 {
		diff = -diff
	}
	return types.BalanceCheck{
		Name:      name,
		Expected:  expected,
		Observed:  observed,
		Tolerance: tolerance,
		OK:        diff <= tolerance,
	}
}
