package shift

import (
	"errors"
)

var (
	// ErrTradeInFlight is returned when a new trade is opened while
	// another trade is still pending. Only one trade runs at a time.
	ErrTradeInFlight = errors.New("another trade is in flight")

	// ErrNoConfirmedOrder is returned when a trade-level operation runs
	// before the live order has been confirmed.
	ErrNoConfirmedOrder = errors.New("order not confirmed")

	// ErrNoPendingTrade is returned when a trade snapshot or cancel is
	// requested while no trade is in flight.
	ErrNoPendingTrade = errors.New("no trade in flight")

	// ErrAmountBelowMinimum is returned when the source amount is below
	// the token's minimum trade volume.
	ErrAmountBelowMinimum = errors.New("amount below minimum volume")

	// ErrInsufficientBalance is returned when the wallet's token balance
	// does not cover the source amount of an Ethereum-based trade.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrAddressesIncomplete is returned when a trade is opened before
	// both the destination and refund addresses are set.
	ErrAddressesIncomplete = errors.New("trade addresses incomplete")

	// ErrNoQuote is returned when the destination amount cannot be
	// derived because no reserve snapshot is available for the market.
	ErrNoQuote = errors.New("no reserve snapshot for market")

	// ErrTradeExpired is returned when the refund window passes before
	// the deposit arrives. The deposit, if any, is refundable through
	// the bridge.
	ErrTradeExpired = errors.New("refund window passed")

	// ErrTradeNotFailed is returned when a retry is requested for a trade
	// that has not reported a step failure.
	ErrTradeNotFailed = errors.New("trade has no failed step to retry")
)
