package shiftdb

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shiftex/shift/registry"
	"github.com/stretchr/testify/require"
)

var (
	testContract = TradeContract{
		Market: registry.Market{
			Src: registry.BTC,
			Dst: registry.DAI,
		},
		Direction:         registry.DirectionMint,
		SrcAmount:         "0.01",
		DstAmount:         "12.6",
		MinDstAmount:      "12.5",
		ToAddress:         "0x5aeda56215b167893e80b4fe645ba6d5bab767de",
		RefundAddress:     "mfcHP2WMCVLsVZA8yrovmhMgxNFW9r98xw",
		RefundBlockNumber: 10600,
		InitiationTime:    time.Unix(1000, 0).UTC(),
	}

	testHash = common.HexToHash(
		"0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
	)
)

// TestBoltTradeStore tests that the bolt store round-trips trade contracts
// and their update logs.
func TestBoltTradeStore(t *testing.T) {
	ctx := context.Background()

	store, err := NewBoltTradeStore(t.TempDir())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, store.Close())
	}()

	// An empty store contains no trades.
	trades, err := store.FetchTrades(ctx)
	require.NoError(t, err)
	require.Empty(t, trades)

	contract := testContract
	require.NoError(t, store.CreateTrade(ctx, testHash, &contract))

	// Creating the same trade twice must fail.
	require.Error(t, store.CreateTrade(ctx, testHash, &contract))

	// A freshly created trade reports the initiated state.
	trades, err = store.FetchTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, testHash, trades[0].Hash)
	require.Equal(t, &contract, trades[0].Contract)
	require.Equal(t, StateInitiated, trades[0].State().State)
	require.Equal(
		t, contract.InitiationTime, trades[0].LastUpdateTime(),
	)

	// Append a couple of updates and verify ordering.
	update1 := TradeStateData{
		State:          StateDepositAddressGenerated,
		DepositAddress: "2MxkB6kBwwdYQrwy9NsCDBPSeRBGTUPbEFp",
	}
	err = store.UpdateTrade(ctx, testHash, time.Unix(2000, 0), update1)
	require.NoError(t, err)

	update2 := TradeStateData{
		State:          StateDepositConfirmed,
		DepositAddress: update1.DepositAddress,
		InTx: &registry.Tx{
			Hash:  "a0b1",
			Chain: registry.ChainBitcoin,
		},
	}
	err = store.UpdateTrade(ctx, testHash, time.Unix(3000, 0), update2)
	require.NoError(t, err)

	trades, err = store.FetchTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Len(t, trades[0].Events, 2)
	require.Equal(t, update2, trades[0].State())
	require.Equal(
		t, time.Unix(3000, 0).UTC(),
		trades[0].LastUpdateTime().UTC(),
	)

	// Updating an unknown trade must fail.
	err = store.UpdateTrade(
		ctx, common.Hash{1}, time.Unix(0, 0), update1,
	)
	require.Error(t, err)
}

// TestHistoryMerge tests that history writes merge into the existing bucket
// and never record the same outbound transaction twice.
func TestHistoryMerge(t *testing.T) {
	ctx := context.Background()

	store, err := NewBoltTradeStore(t.TempDir())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, store.Close())
	}()

	event := &HistoryEvent{
		Time: time.Unix(5000, 0).UTC(),
		OutTx: registry.Tx{
			Hash:  "0xaa11",
			Chain: registry.ChainEthereum,
		},
		ReceivedAmount: "12.5",
		Market: registry.Market{
			Src: registry.BTC,
			Dst: registry.DAI,
		},
		SrcAmount: "0.01",
		DstAmount: "12.6",
		Complete:  true,
	}

	added, err := store.AddHistoryEvent(ctx, event)
	require.NoError(t, err)
	require.True(t, added)

	// The same outbound tx must not be recorded twice.
	dup := *event
	dup.ReceivedAmount = "999"
	added, err = store.AddHistoryEvent(ctx, &dup)
	require.NoError(t, err)
	require.False(t, added)

	// A second trade merges alongside the first.
	second := &HistoryEvent{
		Time: time.Unix(6000, 0).UTC(),
		OutTx: registry.Tx{
			Hash:  "f1e2",
			Chain: registry.ChainZcash,
		},
		ReceivedAmount: "0.2",
		Market: registry.Market{
			Src: registry.DAI,
			Dst: registry.ZEC,
		},
		SrcAmount: "25",
		DstAmount: "0.21",
		Complete:  false,
	}
	added, err = store.AddHistoryEvent(ctx, second)
	require.NoError(t, err)
	require.True(t, added)

	// Most recent first, and the duplicate write left the original
	// event untouched.
	events, err := store.FetchHistory(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, second, events[0])
	require.Equal(t, event, events[1])

	// An incomplete burn event is completed in place once the payout is
	// reported.
	require.NoError(t, store.MarkHistoryComplete(ctx, second.OutTx.Hash))

	events, err = store.FetchHistory(ctx)
	require.NoError(t, err)
	require.True(t, events[0].Complete)

	// Completing an unknown event fails.
	require.Error(t, store.MarkHistoryComplete(ctx, "0xdeadbeef"))
}

// TestHistoryEventRequiresOutTx tests that an event without an outbound tx
// hash is rejected.
func TestHistoryEventRequiresOutTx(t *testing.T) {
	store, err := NewBoltTradeStore(t.TempDir())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, store.Close())
	}()

	_, err = store.AddHistoryEvent(
		context.Background(), &HistoryEvent{},
	)
	require.Error(t, err)
}
