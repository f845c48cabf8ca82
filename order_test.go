package shift

import (
	"testing"

	"github.com/shiftex/shift/rates"
	"github.com/shiftex/shift/registry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testOrderBook(t *testing.T) *OrderBook {
	t.Helper()

	orders := NewOrderBook(registry.Regtest)
	orders.UpdateReserves(
		registry.Market{Src: registry.BTC, Dst: registry.DAI},
		rates.Reserves{
			Src: decimal.RequireFromString("10"),
			Dst: decimal.RequireFromString("150000"),
		},
	)

	return orders
}

// TestOrderBookQuote asserts that the destination amount always reflects
// the current inputs and the current reserve snapshot.
func TestOrderBookQuote(t *testing.T) {
	orders := testOrderBook(t)

	require.NoError(
		t, orders.SetSrcAmount(decimal.RequireFromString("0.01")),
	)

	quote := orders.Inputs().DstAmount
	require.True(t, quote.IsPositive())

	// A reserve refresh requotes immediately.
	orders.UpdateReserves(
		registry.Market{Src: registry.BTC, Dst: registry.DAI},
		rates.Reserves{
			Src: decimal.RequireFromString("20"),
			Dst: decimal.RequireFromString("150000"),
		},
	)
	requoted := orders.Inputs().DstAmount
	require.True(t, requoted.LessThan(quote))

	// Switching to a market without reserves clears the quote rather
	// than keeping a stale one.
	require.NoError(t, orders.SetDstToken(registry.REN))
	require.True(t, orders.Inputs().DstAmount.IsZero())
}

// TestOrderBookPairFlip asserts that selecting the opposite side's token
// flips the pair.
func TestOrderBookPairFlip(t *testing.T) {
	orders := testOrderBook(t)

	require.NoError(t, orders.SetSrcToken(registry.DAI))

	inputs := orders.Inputs()
	require.Equal(t, registry.DAI, inputs.SrcToken)
	require.Equal(t, registry.BTC, inputs.DstToken)
}

// TestOrderBookConfirm asserts the confirmation preconditions.
func TestOrderBookConfirm(t *testing.T) {
	orders := testOrderBook(t)

	// Below the minimum source volume.
	require.NoError(
		t, orders.SetSrcAmount(decimal.RequireFromString("0.0001")),
	)
	_, err := orders.Confirm()
	require.ErrorIs(t, err, ErrAmountBelowMinimum)

	require.NoError(
		t, orders.SetSrcAmount(decimal.RequireFromString("0.01")),
	)

	_, err = orders.Confirm()
	require.NoError(t, err)

	// Ethereum-source orders require a covering wallet balance.
	require.NoError(t, orders.SetSrcToken(registry.DAI))
	require.NoError(
		t, orders.SetSrcAmount(decimal.RequireFromString("100")),
	)
	_, err = orders.Confirm()
	require.ErrorIs(t, err, ErrInsufficientBalance)

	orders.UpdateBalances(map[registry.Token]decimal.Decimal{
		registry.DAI: decimal.RequireFromString("100"),
	})

	// A market without reserves has no quote to confirm.
	require.NoError(t, orders.SetDstToken(registry.ZEC))
	_, err = orders.Confirm()
	require.ErrorIs(t, err, ErrNoQuote)

	// Source and destination on the same chain cannot confirm.
	require.NoError(t, orders.SetSrcToken(registry.WBTC))
	require.NoError(t, orders.SetDstToken(registry.DAI))
	_, err = orders.Confirm()
	require.ErrorIs(t, err, registry.ErrSameChainPair)
}

// TestOrderBookBalance asserts that Ethereum-source orders require a
// covering wallet balance while foreign sources always pass.
func TestOrderBookBalance(t *testing.T) {
	orders := testOrderBook(t)

	// Foreign source: deposited externally, balance does not apply.
	require.NoError(
		t, orders.SetSrcAmount(decimal.RequireFromString("0.01")),
	)
	require.True(t, orders.SufficientBalance())

	// Ethereum source without a known balance fails.
	require.NoError(t, orders.SetSrcToken(registry.DAI))
	require.NoError(
		t, orders.SetSrcAmount(decimal.RequireFromString("100")),
	)
	require.False(t, orders.SufficientBalance())

	orders.UpdateBalances(map[registry.Token]decimal.Decimal{
		registry.DAI: decimal.RequireFromString("99"),
	})
	require.False(t, orders.SufficientBalance())

	orders.UpdateBalances(map[registry.Token]decimal.Decimal{
		registry.DAI: decimal.RequireFromString("100"),
	})
	require.True(t, orders.SufficientBalance())
}

// TestOrderBookGenerations asserts that confirmation generations discard
// results of cancelled confirmations.
func TestOrderBookGenerations(t *testing.T) {
	orders := testOrderBook(t)

	require.NoError(
		t, orders.SetSrcAmount(decimal.RequireFromString("0.01")),
	)

	first, err := orders.Confirm()
	require.NoError(t, err)
	require.True(t, orders.Current(first.generation))

	// Cancelling invalidates the confirmed generation.
	orders.Cancel()
	require.False(t, orders.Current(first.generation))

	// The live form survives the cancellation.
	require.Equal(t, "0.01", orders.Inputs().SrcAmount.String())

	second, err := orders.Confirm()
	require.NoError(t, err)
	require.NotEqual(t, first.generation, second.generation)
	require.True(t, orders.Current(second.generation))

	// A later confirmation invalidates the earlier one.
	require.False(t, orders.Current(first.generation))
}

// TestOrderBookAddresses asserts the direction-dependent address entry
// order and validation.
func TestOrderBookAddresses(t *testing.T) {
	orders := testOrderBook(t)

	require.NoError(
		t, orders.SetSrcAmount(decimal.RequireFromString("0.01")),
	)

	// No confirmed order yet.
	require.ErrorIs(
		t, orders.SetToAddress(testDestAddr), ErrNoConfirmedOrder,
	)

	_, err := orders.Confirm()
	require.NoError(t, err)

	// Mint: destination before refund.
	require.Error(t, orders.SetRefundAddress(testRefundAddr))
	require.NoError(t, orders.SetToAddress(testDestAddr))
	require.NoError(t, orders.SetRefundAddress(testRefundAddr))

	// Malformed addresses are rejected.
	require.ErrorIs(
		t, orders.SetToAddress("not-an-address"),
		registry.ErrInvalidAddress,
	)

	confirmed, err := orders.Confirmed()
	require.NoError(t, err)
	require.True(t, confirmed.AddressesComplete())
	require.Equal(t, testDestAddr, confirmed.ToAddress)
}
