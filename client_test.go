package shift

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shiftex/shift/rates"
	"github.com/shiftex/shift/registry"
	"github.com/shiftex/shift/shiftdb"
	"github.com/shiftex/shift/test"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// daiWei converts a whole DAI amount to base units.
func daiWei(whole int64) *big.Int {
	return new(big.Int).Mul(
		big.NewInt(whole),
		new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
	)
}

// zcashTestAddr builds a well-formed transparent zcash address for the test
// network.
func zcashTestAddr() string {
	payload := make([]byte, 22)
	payload[0], payload[1] = 0x1d, 0x25
	for i := 2; i < 22; i++ {
		payload[i] = byte(i)
	}

	checksum := chainhash.DoubleHashB(payload)[:4]

	return base58.Encode(append(payload, checksum...))
}

func confirmMintOrder(t *testing.T, ctx *testContext) {
	t.Helper()

	orders := ctx.client.Orders()

	require.NoError(t, orders.Prepopulate("BTC", "DAI"))
	orders.UpdateReserves(
		registry.Market{Src: registry.BTC, Dst: registry.DAI},
		rates.Reserves{
			Src: decimal.RequireFromString("10"),
			Dst: decimal.RequireFromString("150000"),
		},
	)
	require.NoError(
		t, orders.SetSrcAmount(decimal.RequireFromString("0.01")),
	)

	_, err := orders.Confirm()
	require.NoError(t, err)

	// Address entry order for mints: destination first, then refund.
	require.Error(t, orders.SetRefundAddress(testRefundAddr))
	require.NoError(t, orders.SetToAddress(testDestAddr))
	require.NoError(t, orders.SetRefundAddress(testRefundAddr))
}

// TestMintTrade exercises a complete mint: deposit address, deposit
// confirmation, bridge signature, on-chain settlement and the history
// record.
func TestMintTrade(t *testing.T) {
	defer test.Guard(t)()

	daiAddr, err := registry.TokenAddress(testNetwork, registry.DAI)
	require.NoError(t, err)
	adapterAddr, err := registry.AdapterAddress(testNetwork)
	require.NoError(t, err)

	chain := newChainMock()

	// The settlement transaction transfers the minted amount to the
	// user's destination address.
	received := new(big.Int).Div(daiWei(125), big.NewInt(10))
	chain.nextLogs = [][]*types.Log{{
		transferLog(
			daiAddr, adapterAddr,
			common.HexToAddress(testDestAddr), received,
		),
	}}

	harness := &bridgeMock{
		depositAddr: testRefundAddr,
		deposit: &bridgeDeposit{
			TxHash:        "aa11",
			Amount:        "1000000",
			Confirmations: 2,
		},
		messageID: "msg-1",
		signature: "deadbeef",
	}

	ctx := newTestContext(t, chain, harness)
	ctx.start()
	defer ctx.finish()

	confirmMintOrder(t, ctx)

	callCtx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()

	info, err := ctx.client.OpenTrade(callCtx)
	require.NoError(t, err)
	require.Equal(t, shiftdb.StateInitiated, info.State)

	// Only one trade may be in flight.
	_, err = ctx.client.OpenTrade(callCtx)
	require.ErrorIs(t, err, ErrTradeInFlight)

	contract := ctx.store.AssertTradeStored()
	require.Equal(t, registry.DirectionMint, contract.Direction)
	require.Equal(t, "0.01", contract.SrcAmount)
	require.Equal(t, uint64(11_000), contract.RefundBlockNumber)

	update := ctx.store.AssertState(
		shiftdb.StateDepositAddressGenerated,
	)
	require.Equal(t, harness.depositAddr, update.DepositAddress)

	update = ctx.store.AssertState(shiftdb.StateDepositConfirmed)
	require.Equal(t, "aa11", update.InTx.Hash)
	require.Equal(t, registry.ChainBitcoin, update.InTx.Chain)
	require.Equal(t, "1000000", update.DepositAmount)

	update = ctx.store.AssertState(shiftdb.StateBridgeSubmitted)
	require.Equal(t, "msg-1", update.MessageID)

	ctx.store.AssertState(shiftdb.StateBridgeSigned)

	update = ctx.store.AssertState(shiftdb.StateSettlementPublished)
	require.Equal(t, registry.ChainEthereum, update.OutTx.Chain)

	ctx.store.AssertState(shiftdb.StateSuccess)

	final := ctx.waitForStatus(shiftdb.StateSuccess)
	require.Equal(t, "12.5", final.ReceivedAmount)

	settleTx := chain.sentTxs[0]
	require.Equal(t, settleTx.Hash().Hex(), final.OutTx.Hash)

	ctx.store.AssertHistorySize(1)
	event := ctx.store.History[settleTx.Hash().Hex()]
	require.True(t, event.Complete)
	require.Equal(t, "12.5", event.ReceivedAmount)
	require.Equal(t, "0.01", event.SrcAmount)

	// The finished trade is detached and the order form reset.
	_, err = ctx.client.Trade()
	require.ErrorIs(t, err, ErrNoPendingTrade)

	_, err = ctx.client.Orders().Confirmed()
	require.ErrorIs(t, err, ErrNoConfirmedOrder)
}

// TestBurnTrade exercises a complete burn: allowance, on-chain burn, the
// incomplete history record and its completion on the foreign payout.
func TestBurnTrade(t *testing.T) {
	defer test.Guard(t)()

	zecAddr, err := registry.TokenAddress(testNetwork, registry.ZEC)
	require.NoError(t, err)

	chain := newChainMock()

	// First broadcast is the approval, second the burn. The burn
	// destroys the destination token's Ethereum representation.
	burned := big.NewInt(49_500_000)
	chain.nextLogs = [][]*types.Log{
		nil,
		{transferLog(
			zecAddr, common.HexToAddress(testDestAddr),
			common.Address{}, burned,
		)},
	}

	harness := &bridgeMock{
		payout: &bridgePayout{
			TxHash:    "dd44",
			Amount:    "49000000",
			Completed: true,
		},
	}

	ctx := newTestContext(t, chain, harness)
	ctx.start()
	defer ctx.finish()

	orders := ctx.client.Orders()
	require.NoError(t, orders.Prepopulate("DAI", "ZEC"))
	orders.UpdateReserves(
		registry.Market{Src: registry.DAI, Dst: registry.ZEC},
		rates.Reserves{
			Src: decimal.RequireFromString("150000"),
			Dst: decimal.RequireFromString("1500"),
		},
	)
	orders.UpdateBalances(map[registry.Token]decimal.Decimal{
		registry.DAI: decimal.RequireFromString("200"),
	})
	require.NoError(
		t, orders.SetSrcAmount(decimal.RequireFromString("100")),
	)

	_, err = orders.Confirm()
	require.NoError(t, err)

	// Address entry order for burns: refund first, then destination.
	zcashAddr := zcashTestAddr()
	require.Error(t, orders.SetToAddress(zcashAddr))
	require.NoError(t, orders.SetRefundAddress(testDestAddr))
	require.NoError(t, orders.SetToAddress(zcashAddr))

	callCtx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()

	_, err = ctx.client.OpenTrade(callCtx)
	require.NoError(t, err)

	contract := ctx.store.AssertTradeStored()
	require.Equal(t, registry.DirectionBurn, contract.Direction)

	ctx.store.AssertState(shiftdb.StateAllowanceApproved)

	update := ctx.store.AssertState(shiftdb.StateSettlementPublished)
	burnTxHash := update.InTx.Hash

	update = ctx.store.AssertState(shiftdb.StateAwaitingPayout)
	require.Equal(t, "0.495", update.ReceivedAmount)

	// The burn is recorded before the payout, incomplete.
	event := ctx.store.History[burnTxHash]
	require.NotNil(t, event)
	require.False(t, event.Complete)

	update = ctx.store.AssertState(shiftdb.StateSuccess)
	require.Equal(t, "dd44", update.OutTx.Hash)
	require.Equal(t, registry.ChainZcash, update.OutTx.Chain)

	ctx.waitForStatus(shiftdb.StateSuccess)

	// The payout completed the history record in place.
	ctx.store.AssertHistorySize(1)
	require.True(t, ctx.store.History[burnTxHash].Complete)

	// Two transactions were broadcast: approve, then burn.
	require.Len(t, chain.sentTxs, 2)
	require.Equal(t, chain.sentTxs[1].Hash().Hex(), burnTxHash)
}

// TestCancelTrade asserts that cancelling detaches the in-flight trade,
// abandons it in the store and keeps the live order form.
func TestCancelTrade(t *testing.T) {
	defer test.Guard(t)()

	chain := newChainMock()
	harness := &bridgeMock{
		depositAddr: testRefundAddr,
		holdDeposit: true,
	}

	ctx := newTestContext(t, chain, harness)
	ctx.start()
	defer ctx.finish()

	confirmMintOrder(t, ctx)

	callCtx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()

	_, err := ctx.client.OpenTrade(callCtx)
	require.NoError(t, err)

	ctx.store.AssertTradeStored()
	ctx.store.AssertState(shiftdb.StateDepositAddressGenerated)

	// The trade is blocked waiting for a deposit that never comes. No
	// step has failed, so there is nothing to retry.
	require.ErrorIs(
		t, ctx.client.RetryTrade(callCtx), ErrTradeNotFailed,
	)

	require.NoError(t, ctx.client.CancelTrade(callCtx))

	ctx.store.AssertState(shiftdb.StateFailAbandoned)

	_, err = ctx.client.Trade()
	require.ErrorIs(t, err, ErrNoPendingTrade)

	require.ErrorIs(t, ctx.client.CancelTrade(callCtx), ErrNoPendingTrade)

	// The live form keeps its edits, only the confirmation is gone.
	inputs := ctx.client.Orders().Inputs()
	require.Equal(t, "0.01", inputs.SrcAmount.String())

	_, err = ctx.client.Orders().Confirmed()
	require.ErrorIs(t, err, ErrNoConfirmedOrder)
}

// TestResumeTrade asserts that a trade persisted mid-settlement resumes
// from the published transaction instead of publishing again.
func TestResumeTrade(t *testing.T) {
	defer test.Guard(t)()

	daiAddr, err := registry.TokenAddress(testNetwork, registry.DAI)
	require.NoError(t, err)
	adapterAddr, err := registry.AdapterAddress(testNetwork)
	require.NoError(t, err)

	contract := &shiftdb.TradeContract{
		Market: registry.Market{
			Src: registry.BTC, Dst: registry.DAI,
		},
		Direction:         registry.DirectionMint,
		SrcAmount:         "0.01",
		DstAmount:         "148.2",
		MinDstAmount:      "146.7",
		ToAddress:         testDestAddr,
		RefundAddress:     testRefundAddr,
		RefundBlockNumber: 11_000,
		InitiationTime:    time.Now(),
	}

	commitment, err := contractCommitment(testNetwork, contract)
	require.NoError(t, err)
	hash, err := commitment.Hash()
	require.NoError(t, err)

	// The settlement was published in an earlier run and has since been
	// mined.
	publishedTx := common.HexToHash("0xabcd")

	chain := newChainMock()
	received := new(big.Int).Div(daiWei(1482), big.NewInt(10))
	chain.mineReceipt(publishedTx, []*types.Log{
		transferLog(
			daiAddr, adapterAddr,
			common.HexToAddress(testDestAddr), received,
		),
	})

	harness := &bridgeMock{}
	ctx := newTestContext(t, chain, harness)

	ctx.store.Trades[hash] = contract
	ctx.store.Updates[hash] = []shiftdb.TradeStateData{{
		State:          shiftdb.StateSettlementPublished,
		DepositAddress: testRefundAddr,
		DepositAmount:  "1000000",
		MessageID:      "msg-1",
		InTx: &registry.Tx{
			Hash:  "aa11",
			Chain: registry.ChainBitcoin,
		},
		OutTx: &registry.Tx{
			Hash:  publishedTx.Hex(),
			Chain: registry.ChainEthereum,
		},
	}}

	ctx.start()
	defer ctx.finish()

	// No new transaction is broadcast; the resumed trade waits on the
	// published one.
	update := ctx.store.AssertState(shiftdb.StateSuccess)
	require.Equal(t, publishedTx.Hex(), update.OutTx.Hash)
	require.Equal(t, "148.2", update.ReceivedAmount)

	require.Empty(t, chain.sentTxs)

	ctx.store.AssertHistorySize(1)
	require.True(t, ctx.store.History[publishedTx.Hex()].Complete)
}

// TestResumeSignedTrade asserts that a trade restored after the bridge
// signed it recovers the signature through its persisted message id before
// publishing the settlement.
func TestResumeSignedTrade(t *testing.T) {
	defer test.Guard(t)()

	daiAddr, err := registry.TokenAddress(testNetwork, registry.DAI)
	require.NoError(t, err)
	adapterAddr, err := registry.AdapterAddress(testNetwork)
	require.NoError(t, err)

	contract := &shiftdb.TradeContract{
		Market: registry.Market{
			Src: registry.BTC, Dst: registry.DAI,
		},
		Direction:         registry.DirectionMint,
		SrcAmount:         "0.01",
		DstAmount:         "148.2",
		MinDstAmount:      "146.7",
		ToAddress:         testDestAddr,
		RefundAddress:     testRefundAddr,
		RefundBlockNumber: 11_000,
		InitiationTime:    time.Now(),
	}

	commitment, err := contractCommitment(testNetwork, contract)
	require.NoError(t, err)
	hash, err := commitment.Hash()
	require.NoError(t, err)

	chain := newChainMock()
	received := new(big.Int).Div(daiWei(1482), big.NewInt(10))
	chain.nextLogs = [][]*types.Log{{
		transferLog(
			daiAddr, adapterAddr,
			common.HexToAddress(testDestAddr), received,
		),
	}}

	harness := &bridgeMock{
		messageID: "msg-1",
		signature: "deadbeef",
	}
	ctx := newTestContext(t, chain, harness)

	ctx.store.Trades[hash] = contract
	ctx.store.Updates[hash] = []shiftdb.TradeStateData{{
		State:          shiftdb.StateBridgeSigned,
		DepositAddress: testRefundAddr,
		DepositAmount:  "1000000",
		MessageID:      "msg-1",
		InTx: &registry.Tx{
			Hash:  "aa11",
			Chain: registry.ChainBitcoin,
		},
	}}

	ctx.start()
	defer ctx.finish()

	ctx.store.AssertState(shiftdb.StateSettlementPublished)
	ctx.store.AssertState(shiftdb.StateSuccess)

	ctx.waitForStatus(shiftdb.StateSuccess)

	// The broadcast settlement carries the re-queried signature.
	require.Len(t, chain.sentTxs, 1)
	require.True(t, bytes.Contains(
		chain.sentTxs[0].Data(),
		[]byte{0xde, 0xad, 0xbe, 0xef},
	))

	ctx.store.AssertHistorySize(1)
}

// TestConcurrentOpenTrade asserts that concurrent opens admit exactly one
// trade.
func TestConcurrentOpenTrade(t *testing.T) {
	defer test.Guard(t)()

	chain := newChainMock()
	harness := &bridgeMock{
		depositAddr: testRefundAddr,
		holdDeposit: true,
	}

	ctx := newTestContext(t, chain, harness)
	ctx.start()
	defer ctx.finish()

	confirmMintOrder(t, ctx)

	callCtx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := ctx.client.OpenTrade(callCtx)
			errs <- err
		}()
	}

	first, second := <-errs, <-errs
	if first != nil {
		first, second = second, first
	}
	require.NoError(t, first)
	require.ErrorIs(t, second, ErrTradeInFlight)

	// Exactly one trade was persisted and started.
	ctx.store.AssertTradeStored()
	ctx.store.AssertState(shiftdb.StateDepositAddressGenerated)
	require.Len(t, ctx.store.Trades, 1)

	require.NoError(t, ctx.client.CancelTrade(callCtx))
	ctx.store.AssertState(shiftdb.StateFailAbandoned)
}

// TestRetryFailedTrade asserts that a step failure is surfaced without
// advancing the persisted state and that a retry reruns the failed step.
func TestRetryFailedTrade(t *testing.T) {
	defer test.Guard(t)()

	daiAddr, err := registry.TokenAddress(testNetwork, registry.DAI)
	require.NoError(t, err)
	adapterAddr, err := registry.AdapterAddress(testNetwork)
	require.NoError(t, err)

	chain := newChainMock()
	received := new(big.Int).Div(daiWei(125), big.NewInt(10))
	chain.nextLogs = [][]*types.Log{{
		transferLog(
			daiAddr, adapterAddr,
			common.HexToAddress(testDestAddr), received,
		),
	}}

	harness := &bridgeMock{
		depositAddr: testRefundAddr,
		deposit: &bridgeDeposit{
			TxHash:        "aa11",
			Amount:        "1000000",
			Confirmations: 2,
		},
		messageID: "msg-1",
		signature: "deadbeef",
		failRPC:   true,
	}

	ctx := newTestContext(t, chain, harness)
	ctx.start()
	defer ctx.finish()

	confirmMintOrder(t, ctx)

	callCtx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()

	_, err = ctx.client.OpenTrade(callCtx)
	require.NoError(t, err)

	ctx.store.AssertTradeStored()

	// The first step fails against the unavailable bridge. The failure is
	// surfaced, the persisted state stays untouched.
	failed := ctx.waitForStatus(shiftdb.StateFailTemporary)
	require.Contains(t, failed.LastError, "generate deposit address")

	info, err := ctx.client.Trade()
	require.NoError(t, err)
	require.Equal(t, shiftdb.StateFailTemporary, info.State)

	// With the bridge back, a retry runs the trade to completion.
	ctx.bridge.setFailRPC(false)
	require.NoError(t, ctx.client.RetryTrade(callCtx))

	ctx.store.AssertState(shiftdb.StateDepositAddressGenerated)
	ctx.store.AssertState(shiftdb.StateDepositConfirmed)
	ctx.store.AssertState(shiftdb.StateBridgeSubmitted)
	ctx.store.AssertState(shiftdb.StateBridgeSigned)
	ctx.store.AssertState(shiftdb.StateSettlementPublished)
	ctx.store.AssertState(shiftdb.StateSuccess)

	ctx.waitForStatus(shiftdb.StateSuccess)
	ctx.store.AssertHistorySize(1)

	// Nothing left to retry.
	require.ErrorIs(t, ctx.client.RetryTrade(callCtx), ErrNoPendingTrade)
}
