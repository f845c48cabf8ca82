package rates

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoLiquidity is returned when a quote is requested against an
	// empty reserve.
	ErrNoLiquidity = errors.New("reserve has no liquidity")
)

var (
	// feeRate is the reserve's taker fee.
	feeRate = decimal.RequireFromString("0.005")

	// slippageRate is the headroom between the quoted amount and the
	// least acceptable amount a trade commits to.
	slippageRate = decimal.RequireFromString("0.01")

	one = decimal.NewFromInt(1)
)

// Reserves is a snapshot of a market's reserve pool balances, in
// human-readable token amounts.
type Reserves struct {
	// Src is the pool's source-token balance.
	Src decimal.Decimal

	// Dst is the pool's destination-token balance.
	Dst decimal.Decimal
}

// ReceiveAmount quotes the destination amount for a source amount against
// the given reserve snapshot. The quote is a pure function of its inputs:
// recomputing with the same amount and the same snapshot yields the same
// value, and a fresh snapshot is all it takes to refresh the quote.
//
// The reserve prices on the constant product of its balances, with the fee
// taken from the input amount.
func ReceiveAmount(srcAmount decimal.Decimal,
	reserves Reserves) (decimal.Decimal, error) {

	if reserves.Src.Sign() <= 0 || reserves.Dst.Sign() <= 0 {
		return decimal.Decimal{}, ErrNoLiquidity
	}
	if srcAmount.Sign() <= 0 {
		return decimal.Zero, nil
	}

	inAfterFee := srcAmount.Mul(one.Sub(feeRate))

	return reserves.Dst.Mul(inAfterFee).
		Div(reserves.Src.Add(inAfterFee)), nil
}

// MinReceiveAmount returns the least acceptable destination amount for a
// quoted amount, leaving slippage headroom for reserve movement between
// quote and settlement.
func MinReceiveAmount(quoted decimal.Decimal) decimal.Decimal {
	return quoted.Mul(one.Sub(slippageRate))
}
