package shiftdb

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shiftex/shift/registry"
)

// TradeContract is the immutable part of a trade: the confirmed order
// snapshot plus the commitment derived from it. It is created exactly once
// when the user commits to the trade and never mutated afterwards;
// everything downstream references this contract, never the live order
// form.
type TradeContract struct {
	// Market is the confirmed source/destination token pair.
	Market registry.Market `json:"market"`

	// Direction is the lifecycle shape the market classifies into.
	Direction registry.Direction `json:"direction"`

	// SrcAmount is the confirmed source amount in whole token units.
	SrcAmount string `json:"src_amount"`

	// DstAmount is the destination amount quoted at confirmation time,
	// in whole token units.
	DstAmount string `json:"dst_amount"`

	// MinDstAmount is the least destination amount the user accepts,
	// bound into the commitment.
	MinDstAmount string `json:"min_dst_amount"`

	// ToAddress is the destination address on the destination chain.
	ToAddress string `json:"to_address"`

	// RefundAddress receives the deposit back if the bridge leg is not
	// completed before the refund block.
	RefundAddress string `json:"refund_address"`

	// RefundBlockNumber is the Ethereum block after which the deposit is
	// refundable: the block height at initiation plus a fixed window.
	RefundBlockNumber uint64 `json:"refund_block_number"`

	// InitiationTime is the time at which the trade was confirmed.
	InitiationTime time.Time `json:"initiation_time"`
}

// TradeEvent is a single state update of a trade.
type TradeEvent struct {
	TradeStateData

	// Time is the time the update was applied.
	Time time.Time `json:"time"`
}

// Trade is a trade contract together with its append-only update log,
// keyed by the commitment hash.
type Trade struct {
	// Hash is the commitment hash that uniquely identifies this trade.
	Hash common.Hash

	// Contract is the immutable trade contract.
	Contract *TradeContract

	// Events is the ordered list of state updates.
	Events []*TradeEvent
}

// State returns the most recent state data of the trade.
func (t *Trade) State() TradeStateData {
	if len(t.Events) == 0 {
		return TradeStateData{State: StateInitiated}
	}

	return t.Events[len(t.Events)-1].TradeStateData
}

// LastUpdateTime returns the time of the most recent update, falling back
// to the initiation time for trades without updates.
func (t *Trade) LastUpdateTime() time.Time {
	if len(t.Events) == 0 {
		return t.Contract.InitiationTime
	}

	return t.Events[len(t.Events)-1].Time
}

// HistoryEvent records a completed trade. It is immutable once created and
// keyed by the outbound transaction hash.
type HistoryEvent struct {
	// Time is the completion time.
	Time time.Time `json:"time"`

	// OutTx is the outbound settlement transaction.
	OutTx registry.Tx `json:"out_tx"`

	// ReceivedAmount is the actually received amount in whole token
	// units.
	ReceivedAmount string `json:"received_amount"`

	// Market is the traded pair.
	Market registry.Market `json:"market"`

	// SrcAmount is the confirmed source amount in whole token units.
	SrcAmount string `json:"src_amount"`

	// DstAmount is the destination amount quoted at confirmation.
	DstAmount string `json:"dst_amount"`

	// Complete is false for burns whose foreign payout has not been
	// reported yet.
	Complete bool `json:"complete"`
}

// Store is the persistence layer for trades and trade history.
type Store interface {
	// FetchTrades returns all trades currently in the store.
	FetchTrades(ctx context.Context) ([]*Trade, error)

	// CreateTrade adds an initiated trade to the store.
	CreateTrade(ctx context.Context, hash common.Hash,
		contract *TradeContract) error

	// UpdateTrade appends a state update to an existing trade.
	UpdateTrade(ctx context.Context, hash common.Hash, t time.Time,
		state TradeStateData) error

	// AddHistoryEvent merges a completed trade into the history bucket.
	// It reports whether the event was newly recorded: an event for an
	// outbound transaction hash that is already present is left
	// untouched and false is returned.
	AddHistoryEvent(ctx context.Context, event *HistoryEvent) (bool,
		error)

	// MarkHistoryComplete flips the Complete flag of the history event
	// keyed by the given outbound transaction hash.
	MarkHistoryComplete(ctx context.Context, outTxHash string) error

	// FetchHistory returns all recorded history events, most recent
	// first.
	FetchHistory(ctx context.Context) ([]*HistoryEvent, error)

	// Close closes the underlying database.
	Close() error
}
