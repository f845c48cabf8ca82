package shift

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shiftex/shift/adapter"
	"github.com/shiftex/shift/bridge"
	"github.com/shiftex/shift/registry"
	"github.com/shiftex/shift/shiftdb"
)

// mintTrade is an in-flight trade from a foreign-chain source into an
// Ethereum-based destination: deposit on the foreign chain, bridge
// signature, settlement through the adapter contract.
type mintTrade struct {
	*tradeKit

	shift *bridge.Shift
}

// newMintTrade initiates a mint trade from a confirmed order and persists
// its contract.
func newMintTrade(ctx context.Context, cfg *tradeConfig,
	order *ConfirmedOrder, currentHeight uint64) (*mintTrade, error) {

	contract := newTradeContract(order, currentHeight)

	trade, err := buildMintTrade(cfg, contract)
	if err != nil {
		return nil, err
	}

	err = cfg.store.CreateTrade(ctx, trade.hash, contract)
	if err != nil {
		return nil, fmt.Errorf("persist trade: %w", err)
	}

	trade.log.Infof("Initiated mint %v, %v -> %v", contract.Market,
		contract.SrcAmount, contract.DstAmount)

	return trade, nil
}

// resumeMintTrade restores a mint trade from its persisted contract and
// update log.
func resumeMintTrade(cfg *tradeConfig,
	pend *shiftdb.Trade) (*mintTrade, error) {

	trade, err := buildMintTrade(cfg, pend.Contract)
	if err != nil {
		return nil, err
	}

	// The commitment is rebuilt from the contract, so a mismatch means
	// the stored trade does not belong to this deployment.
	if trade.hash != pend.Hash {
		return nil, fmt.Errorf("resumed trade %v hashes to %v",
			pend.Hash, trade.hash)
	}

	state := pend.State()
	trade.state = state
	trade.lastUpdateTime = pend.LastUpdateTime()

	// Hand the completed bridge steps back to the shift handle.
	var deposit *bridge.Deposit
	if state.InTx != nil {
		deposit = &bridge.Deposit{
			TxHash: state.InTx.Hash,
			Amount: state.DepositAmount,
		}
	}
	trade.shift.ResumeDeposit(
		state.DepositAddress, deposit, state.MessageID,
	)

	trade.log.Infof("Resumed mint %v in state %v", pend.Contract.Market,
		state.State)

	return trade, nil
}

func buildMintTrade(cfg *tradeConfig,
	contract *shiftdb.TradeContract) (*mintTrade, error) {

	commitment, err := contractCommitment(cfg.network, contract)
	if err != nil {
		return nil, err
	}

	foreign, err := contract.Market.ForeignToken()
	if err != nil {
		return nil, err
	}

	shift, err := cfg.bridge.NewShift(foreign.Chain, commitment)
	if err != nil {
		return nil, err
	}

	return &mintTrade{
		tradeKit: newTradeKit(shift.Hash(), cfg, contract),
		shift:    shift,
	}, nil
}

// execute runs the mint through its remaining lifecycle steps. Each step
// persists its result before the next starts, so a restart resumes at the
// step that was interrupted. A step that fails leaves the persisted state
// untouched and is retried in place on the next execution.
func (m *mintTrade) execute(mainCtx context.Context, cfg *executeConfig,
	height uint64) error {

	if m.state.State.IsFinal() {
		return nil
	}

	// Address derivation repeats the commitment hash, so re-running it
	// after a restart returns the address we already persisted.
	if m.state.DepositAddress == "" {
		addr, err := m.shift.GenerateAddress(mainCtx)
		if err != nil {
			return fmt.Errorf("generate deposit address: %w", err)
		}

		update := m.state
		update.State = shiftdb.StateDepositAddressGenerated
		update.DepositAddress = addr
		if err := m.persistState(mainCtx, cfg, update); err != nil {
			return err
		}
	}

	if m.state.State == shiftdb.StateDepositAddressGenerated {
		if err := m.waitForDeposit(mainCtx, cfg, height); err != nil {
			return err
		}
	}

	// A trade restored in the signed state no longer holds the signature
	// itself; the persisted message id lets the bridge hand it out again.
	if m.state.State == shiftdb.StateDepositConfirmed ||
		m.state.State == shiftdb.StateBridgeSubmitted ||
		(m.state.State == shiftdb.StateBridgeSigned &&
			m.shift.Signature() == nil) {

		if err := m.obtainSignature(mainCtx, cfg); err != nil {
			return err
		}
	}

	if m.state.State == shiftdb.StateBridgeSigned ||
		m.state.State == shiftdb.StateSettlementPublished {

		if err := m.settle(mainCtx, cfg); err != nil {
			return err
		}
	}

	return nil
}

// waitForDeposit blocks until the deposit is confirmed or the refund window
// passes. An expired trade is abandoned; a deposit that arrives late is
// refundable through the bridge.
func (m *mintTrade) waitForDeposit(mainCtx context.Context,
	cfg *executeConfig, height uint64) error {

	if height >= m.contract.RefundBlockNumber {
		return m.abandon(mainCtx, cfg)
	}

	// Cancel the poll when the refund block is reached.
	depositCtx, cancel := context.WithCancel(mainCtx)
	defer cancel()

	expired := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)

		for {
			select {
			case epoch := <-cfg.blockEpochChan:
				h, ok := epoch.(uint64)
				if !ok {
					continue
				}
				if h >= m.contract.RefundBlockNumber {
					close(expired)
					cancel()
					return
				}

			case <-depositCtx.Done():
				return
			}
		}
	}()
	defer func() {
		cancel()
		<-watchDone
	}()

	deposit, err := m.shift.WaitForDeposit(depositCtx, cfg.depositConfs)
	if err != nil {
		select {
		case <-expired:
			return m.abandon(mainCtx, cfg)
		default:
		}

		return fmt.Errorf("wait for deposit: %w", err)
	}

	update := m.state
	update.State = shiftdb.StateDepositConfirmed
	update.DepositAmount = deposit.Amount
	update.InTx = &registry.Tx{
		Hash:  deposit.TxHash,
		Chain: m.foreignChain(),
	}

	return m.persistState(mainCtx, cfg, update)
}

// obtainSignature submits the deposit to the bridge network and waits for
// the settlement signature. The message id is persisted as soon as the
// bridge issues it, before the signature wait.
func (m *mintTrade) obtainSignature(mainCtx context.Context,
	cfg *executeConfig) error {

	_, err := m.shift.SubmitDeposit(mainCtx, func(messageID string) error {
		if m.state.MessageID == messageID {
			return nil
		}

		update := m.state
		update.State = shiftdb.StateBridgeSubmitted
		update.MessageID = messageID

		return m.persistState(mainCtx, cfg, update)
	})
	if err != nil {
		if errors.Is(err, bridge.ErrMessageRejected) {
			return m.abandon(mainCtx, cfg)
		}

		return fmt.Errorf("submit deposit: %w", err)
	}

	// Recovering the signature for an already signed trade does not
	// advance the state.
	if m.state.State == shiftdb.StateBridgeSigned {
		return nil
	}

	update := m.state
	update.State = shiftdb.StateBridgeSigned

	return m.persistState(mainCtx, cfg, update)
}

// settle publishes the settlement on the adapter contract, extracts the
// received amount from the settlement's transfer log and records the trade
// in the history. A trade resumed after the publish waits on the published
// transaction instead of publishing again.
func (m *mintTrade) settle(mainCtx context.Context,
	cfg *executeConfig) error {

	receipt, err := m.settlementReceipt(mainCtx, cfg)
	if err != nil {
		return err
	}

	received, err := settlementAmount(m.network, m.contract, receipt)
	if err != nil {
		return err
	}

	outTx := registry.Tx{
		Hash:  receipt.TxHash.Hex(),
		Chain: registry.ChainEthereum,
	}

	m.log.Infof("Settled, received %v %v in %v", received,
		m.contract.Market.Dst, outTx.Hash)

	return m.completeTrade(mainCtx, cfg, outTx, received, true)
}

func (m *mintTrade) settlementReceipt(mainCtx context.Context,
	cfg *executeConfig) (*types.Receipt, error) {

	if m.state.State == shiftdb.StateSettlementPublished {
		if m.state.OutTx == nil {
			return nil, errors.New("published settlement " +
				"without transaction hash")
		}

		return m.adapter.WaitMined(
			mainCtx, common.HexToHash(m.state.OutTx.Hash),
		)
	}

	commitment, err := contractCommitment(m.network, m.contract)
	if err != nil {
		return nil, err
	}

	depositAmount, err := m.depositAmount()
	if err != nil {
		return nil, err
	}

	return m.adapter.SubmitSwap(mainCtx, &adapter.SwapParams{
		SrcToken:          commitment.SrcToken,
		DstToken:          commitment.DstToken,
		Amount:            depositAmount,
		MinDstAmount:      commitment.MinDstAmount,
		To:                commitment.ToAddress,
		RefundBlockNumber: commitment.RefundBlockNumber,
		RefundAddress:     commitment.RefundAddress,
		Signature:         m.shift.Signature(),
	}, func(txHash common.Hash) error {
		update := m.state
		update.State = shiftdb.StateSettlementPublished
		update.OutTx = &registry.Tx{
			Hash:  txHash.Hex(),
			Chain: registry.ChainEthereum,
		}

		return m.persistState(mainCtx, cfg, update)
	})
}

// depositAmount returns the confirmed deposit's base-unit amount.
func (m *mintTrade) depositAmount() (*big.Int, error) {
	deposit := m.shift.Deposit()
	if deposit == nil {
		return nil, bridge.ErrNoDeposit
	}

	amount, ok := new(big.Int).SetString(deposit.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("bad deposit amount %q",
			deposit.Amount)
	}

	return amount, nil
}

// abandon finalizes a trade that cannot complete.
func (m *mintTrade) abandon(ctx context.Context, cfg *executeConfig) error {
	m.log.Warnf("Abandoning mint, refund block %v",
		m.contract.RefundBlockNumber)

	update := m.state
	update.State = shiftdb.StateFailAbandoned
	if err := m.persistState(ctx, cfg, update); err != nil {
		return err
	}

	return ErrTradeExpired
}

func (m *mintTrade) foreignChain() registry.Chain {
	foreign, err := m.contract.Market.ForeignToken()
	if err != nil {
		// The contract was validated at initiation.
		return registry.ChainEthereum
	}

	return foreign.Chain
}
