package shift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shiftex/shift/adapter"
	"github.com/shiftex/shift/registry"
	"github.com/shiftex/shift/shiftdb"
)

// burnTrade is an in-flight trade from an Ethereum-based source into a
// foreign-chain destination: allowance, burn through the adapter contract,
// foreign-chain payout by the bridge.
type burnTrade struct {
	*tradeKit
}

// newBurnTrade initiates a burn trade from a confirmed order and persists
// its contract.
func newBurnTrade(ctx context.Context, cfg *tradeConfig,
	order *ConfirmedOrder, currentHeight uint64) (*burnTrade, error) {

	contract := newTradeContract(order, currentHeight)

	trade, err := buildBurnTrade(cfg, contract)
	if err != nil {
		return nil, err
	}

	err = cfg.store.CreateTrade(ctx, trade.hash, contract)
	if err != nil {
		return nil, fmt.Errorf("persist trade: %w", err)
	}

	trade.log.Infof("Initiated burn %v, %v -> %v", contract.Market,
		contract.SrcAmount, contract.DstAmount)

	return trade, nil
}

// resumeBurnTrade restores a burn trade from its persisted contract and
// update log.
func resumeBurnTrade(cfg *tradeConfig,
	pend *shiftdb.Trade) (*burnTrade, error) {

	trade, err := buildBurnTrade(cfg, pend.Contract)
	if err != nil {
		return nil, err
	}

	if trade.hash != pend.Hash {
		return nil, fmt.Errorf("resumed trade %v hashes to %v",
			pend.Hash, trade.hash)
	}

	state := pend.State()
	trade.state = state
	trade.lastUpdateTime = pend.LastUpdateTime()

	trade.log.Infof("Resumed burn %v in state %v", pend.Contract.Market,
		state.State)

	return trade, nil
}

func buildBurnTrade(cfg *tradeConfig,
	contract *shiftdb.TradeContract) (*burnTrade, error) {

	// Burns share the commitment hash derivation with mints, so trades
	// in both directions are keyed uniformly.
	commitment, err := contractCommitment(cfg.network, contract)
	if err != nil {
		return nil, err
	}

	hash, err := commitment.Hash()
	if err != nil {
		return nil, err
	}

	return &burnTrade{
		tradeKit: newTradeKit(hash, cfg, contract),
	}, nil
}

// execute runs the burn through its remaining lifecycle steps. Like mints,
// every step persists before the next starts and failed steps retry in
// place.
func (b *burnTrade) execute(mainCtx context.Context, cfg *executeConfig,
	height uint64) error {

	if b.state.State.IsFinal() {
		return nil
	}

	if b.state.State == shiftdb.StateInitiated {
		if err := b.ensureAllowance(mainCtx, cfg); err != nil {
			return err
		}
	}

	if b.state.State == shiftdb.StateAllowanceApproved ||
		b.state.State == shiftdb.StateSettlementPublished {

		if err := b.burn(mainCtx, cfg); err != nil {
			return err
		}
	}

	if b.state.State == shiftdb.StateAwaitingPayout {
		if err := b.awaitPayout(mainCtx, cfg); err != nil {
			return err
		}
	}

	return nil
}

// ensureAllowance makes sure the adapter contract can pull the source
// tokens. Approval short circuits when the standing allowance already
// covers the amount.
func (b *burnTrade) ensureAllowance(mainCtx context.Context,
	cfg *executeConfig) error {

	srcToken, err := registry.TokenAddress(b.network, b.contract.Market.Src)
	if err != nil {
		return err
	}

	amount, err := baseUnitsBig(b.contract.Market.Src, b.contract.SrcAmount)
	if err != nil {
		return err
	}

	sent, err := b.adapter.ApproveIfNeeded(mainCtx, srcToken, amount)
	if err != nil {
		return fmt.Errorf("approve allowance: %w", err)
	}
	if sent {
		b.log.Infof("Approved %v %v for adapter",
			b.contract.SrcAmount, b.contract.Market.Src)
	}

	update := b.state
	update.State = shiftdb.StateAllowanceApproved

	return b.persistState(mainCtx, cfg, update)
}

// burn publishes the burn on the adapter contract, waits for it to be mined
// and records the history event. The event starts incomplete; the payout
// wait completes it. A trade resumed after the publish waits on the
// published transaction instead of publishing again.
func (b *burnTrade) burn(mainCtx context.Context, cfg *executeConfig) error {
	receipt, err := b.burnReceipt(mainCtx, cfg)
	if err != nil {
		return err
	}

	burned, err := b.burnedAmount(receipt)
	if err != nil {
		return err
	}

	outTx := registry.Tx{
		Hash:  receipt.TxHash.Hex(),
		Chain: registry.ChainEthereum,
	}

	b.log.Infof("Burned %v %v in %v, awaiting payout", burned,
		b.contract.Market.Dst, outTx.Hash)

	added, err := b.store.AddHistoryEvent(mainCtx, &shiftdb.HistoryEvent{
		Time:           time.Now(),
		OutTx:          outTx,
		ReceivedAmount: burned,
		Market:         b.contract.Market,
		SrcAmount:      b.contract.SrcAmount,
		DstAmount:      b.contract.DstAmount,
		Complete:       false,
	})
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	if !added {
		b.log.Warnf("History already contains %v", outTx.Hash)
	}

	update := b.state
	update.State = shiftdb.StateAwaitingPayout
	update.InTx = &outTx
	update.ReceivedAmount = burned

	return b.persistState(mainCtx, cfg, update)
}

func (b *burnTrade) burnReceipt(mainCtx context.Context,
	cfg *executeConfig) (*types.Receipt, error) {

	if b.state.State == shiftdb.StateSettlementPublished {
		if b.state.InTx == nil {
			return nil, errors.New("published burn without " +
				"transaction hash")
		}

		return b.adapter.WaitMined(
			mainCtx, common.HexToHash(b.state.InTx.Hash),
		)
	}

	srcToken, err := registry.TokenAddress(b.network, b.contract.Market.Src)
	if err != nil {
		return nil, err
	}

	amount, err := baseUnitsBig(b.contract.Market.Src, b.contract.SrcAmount)
	if err != nil {
		return nil, err
	}

	return b.adapter.SubmitBurn(mainCtx, &adapter.BurnParams{
		Token:  srcToken,
		Amount: amount,
		To:     []byte(b.contract.ToAddress),
	}, func(txHash common.Hash) error {
		update := b.state
		update.State = shiftdb.StateSettlementPublished
		update.InTx = &registry.Tx{
			Hash:  txHash.Hex(),
			Chain: registry.ChainEthereum,
		}

		return b.persistState(mainCtx, cfg, update)
	})
}

// burnedAmount extracts the destroyed amount of the destination token's
// Ethereum representation from the burn receipt, in whole units.
func (b *burnTrade) burnedAmount(receipt *types.Receipt) (string, error) {
	dstToken, err := registry.TokenAddress(b.network, b.contract.Market.Dst)
	if err != nil {
		return "", err
	}

	amount, err := adapter.ParseBurnAmount(receipt, dstToken)
	if err != nil {
		return "", err
	}

	return fromBaseUnitsString(b.contract.Market.Dst, amount)
}

// awaitPayout polls the bridge until the foreign-chain payout of the burn
// is final, then completes the trade and its history event.
func (b *burnTrade) awaitPayout(mainCtx context.Context,
	cfg *executeConfig) error {

	if b.state.InTx == nil {
		return errors.New("awaiting payout without burn transaction")
	}

	payout, err := b.bridge.WaitForBurnPayout(
		mainCtx, common.HexToHash(b.state.InTx.Hash),
	)
	if err != nil {
		return fmt.Errorf("await payout: %w", err)
	}

	err = b.store.MarkHistoryComplete(mainCtx, b.state.InTx.Hash)
	if err != nil {
		return err
	}

	foreign, err := b.contract.Market.ForeignToken()
	if err != nil {
		return err
	}

	update := b.state
	update.State = shiftdb.StateSuccess
	update.OutTx = &registry.Tx{
		Hash:  payout.TxHash,
		Chain: foreign.Chain,
	}

	b.log.Infof("Payout %v received on %v", payout.TxHash, foreign.Chain)

	return b.persistState(mainCtx, cfg, update)
}
