package shift

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shiftex/shift/adapter"
	"github.com/shiftex/shift/bridge"
	"github.com/shiftex/shift/registry"
	"github.com/shiftex/shift/shiftdb"
	"github.com/shopspring/decimal"
)

// tradeConfig bundles the dependencies a trade needs to execute.
type tradeConfig struct {
	network registry.Network
	store   shiftdb.Store
	bridge  *bridge.Client
	adapter *adapter.Client
}

func newTradeConfig(network registry.Network, store shiftdb.Store,
	bridgeClient *bridge.Client, adapterClient *adapter.Client) *tradeConfig {

	return &tradeConfig{
		network: network,
		store:   store,
		bridge:  bridgeClient,
		adapter: adapterClient,
	}
}

// tradeKit is the part shared by mint and burn trades: identity, contract,
// current state and persistence plumbing.
type tradeKit struct {
	tradeConfig

	hash common.Hash

	log *TradeLog

	lastUpdateTime time.Time

	state shiftdb.TradeStateData

	contract *shiftdb.TradeContract
}

func newTradeKit(hash common.Hash, cfg *tradeConfig,
	contract *shiftdb.TradeContract) *tradeKit {

	return &tradeKit{
		tradeConfig: *cfg,
		hash:        hash,
		log: &TradeLog{
			Hash:   hash,
			Logger: log,
		},
		state:    shiftdb.TradeStateData{State: shiftdb.StateInitiated},
		contract: contract,
	}
}

// genericTrade is implemented by mint and burn trades.
type genericTrade interface {
	execute(mainCtx context.Context, cfg *executeConfig,
		height uint64) error

	// tradeInfo returns the trade's current status snapshot.
	tradeInfo() *TradeInfo
}

// executeConfig is passed to a trade by the executor on execution.
type executeConfig struct {
	statusChan chan<- TradeInfo

	blockEpochChan <-chan interface{}

	depositConfs uint32
}

// persistState appends the given state to the trade's update log and pushes
// a status snapshot to subscribers. The kit keeps the new state as current.
func (t *tradeKit) persistState(ctx context.Context, cfg *executeConfig,
	update shiftdb.TradeStateData) error {

	t.log.Infof("State %v", update.State)

	now := time.Now()
	err := t.store.UpdateTrade(ctx, t.hash, now, update)
	if err != nil {
		return fmt.Errorf("persist state %v: %w", update.State, err)
	}

	t.state = update
	t.lastUpdateTime = now

	if cfg != nil && cfg.statusChan != nil {
		select {
		case cfg.statusChan <- *t.tradeInfo():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// tradeInfo constructs and returns a filled TradeInfo from the tradeKit.
func (t *tradeKit) tradeInfo() *TradeInfo {
	return &TradeInfo{
		Hash:           t.hash,
		Contract:       *t.contract,
		State:          t.state.State,
		LastUpdate:     t.lastUpdateTime,
		DepositAddress: t.state.DepositAddress,
		MessageID:      t.state.MessageID,
		InTx:           t.state.InTx,
		OutTx:          t.state.OutTx,
		ReceivedAmount: t.state.ReceivedAmount,
	}
}

// completeTrade merges the trade into the history store and marks it
// successful. The history write is at most once: recording and the success
// state change belong together, and a trade whose outbound transaction is
// already in the history is not recorded again.
func (t *tradeKit) completeTrade(ctx context.Context, cfg *executeConfig,
	outTx registry.Tx, receivedAmount string, payoutComplete bool) error {

	added, err := t.store.AddHistoryEvent(ctx, &shiftdb.HistoryEvent{
		Time:           time.Now(),
		OutTx:          outTx,
		ReceivedAmount: receivedAmount,
		Market:         t.contract.Market,
		SrcAmount:      t.contract.SrcAmount,
		DstAmount:      t.contract.DstAmount,
		Complete:       payoutComplete,
	})
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	if !added {
		t.log.Warnf("History already contains %v, not recording "+
			"again", outTx.Hash)
	}

	update := t.state
	update.State = shiftdb.StateSuccess
	update.OutTx = &outTx
	update.ReceivedAmount = receivedAmount

	return t.persistState(ctx, cfg, update)
}

// contractCommitment rebuilds the bridge commitment from a trade contract.
// The commitment is a pure function of the contract, so the rebuilt
// commitment hashes to the trade's hash.
func contractCommitment(network registry.Network,
	contract *shiftdb.TradeContract) (bridge.Commitment, error) {

	srcToken, err := registry.TokenAddress(network, contract.Market.Src)
	if err != nil {
		return bridge.Commitment{}, err
	}
	dstToken, err := registry.TokenAddress(network, contract.Market.Dst)
	if err != nil {
		return bridge.Commitment{}, err
	}

	minDst, err := decimal.NewFromString(contract.MinDstAmount)
	if err != nil {
		return bridge.Commitment{}, fmt.Errorf("parse minimum "+
			"amount %q: %w", contract.MinDstAmount, err)
	}

	minDstAmount, err := registry.BaseUnits(contract.Market.Dst, minDst)
	if err != nil {
		return bridge.Commitment{}, err
	}

	var toAddress common.Address
	switch contract.Direction {
	case registry.DirectionMint:
		// Minted tokens are delivered to the user's Ethereum address.
		toAddress = common.HexToAddress(contract.ToAddress)

	case registry.DirectionBurn:
		// Burns settle against the adapter, the foreign payout goes
		// to the user's destination address instead.
		toAddress, err = registry.AdapterAddress(network)
		if err != nil {
			return bridge.Commitment{}, err
		}
	}

	return bridge.Commitment{
		SrcToken:          srcToken,
		DstToken:          dstToken,
		MinDstAmount:      minDstAmount.BigInt(),
		ToAddress:         toAddress,
		RefundBlockNumber: contract.RefundBlockNumber,
		RefundAddress:     []byte(contract.RefundAddress),
	}, nil
}

// newTradeContract snapshots a confirmed order into a trade contract.
func newTradeContract(order *ConfirmedOrder,
	currentHeight uint64) *shiftdb.TradeContract {

	return &shiftdb.TradeContract{
		Market:            order.Market(),
		Direction:         order.Direction,
		SrcAmount:         order.SrcAmount.String(),
		DstAmount:         order.DstAmount.String(),
		MinDstAmount:      order.MinDstAmount.String(),
		ToAddress:         order.ToAddress,
		RefundAddress:     order.RefundAddress,
		RefundBlockNumber: currentHeight + RefundWindowBlocks,
		InitiationTime:    time.Now(),
	}
}

// RefundWindowBlocks is the number of Ethereum blocks a deposit stays locked
// to the trade before it becomes refundable.
const RefundWindowBlocks = 1_000

// baseUnitsBig converts a whole-unit decimal string to base units as a
// big integer.
func baseUnitsBig(symbol registry.Token, amount string) (*big.Int, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}

	base, err := registry.BaseUnits(symbol, dec)
	if err != nil {
		return nil, err
	}

	return base.BigInt(), nil
}

// settlementAmount extracts the amount delivered to the trade's destination
// address from a settlement receipt and converts it to whole token units. A
// receipt without the expected transfer log is a hard error; the amount is
// never guessed.
func settlementAmount(network registry.Network,
	contract *shiftdb.TradeContract,
	receipt *types.Receipt) (string, error) {

	dstToken, err := registry.TokenAddress(network, contract.Market.Dst)
	if err != nil {
		return "", err
	}

	amount, err := adapter.ParseTransferAmount(
		receipt, dstToken, common.HexToAddress(contract.ToAddress),
	)
	if err != nil {
		return "", err
	}

	return fromBaseUnitsString(contract.Market.Dst, amount)
}

// fromBaseUnitsString converts a base-unit big integer to a whole-unit
// decimal string.
func fromBaseUnitsString(symbol registry.Token,
	base *big.Int) (string, error) {

	amount, err := registry.FromBaseUnits(
		symbol, decimal.NewFromBigInt(base, 0),
	)
	if err != nil {
		return "", err
	}

	return amount.String(), nil
}
