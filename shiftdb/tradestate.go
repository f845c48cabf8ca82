package shiftdb

import (
	"github.com/shiftex/shift/registry"
)

// TradeState indicates the current state of a trade. The enumeration is the
// union of mint and burn states. A single type is used for both directions
// to be able to reduce code duplication that would otherwise be required.
type TradeState uint8

const (
	// StateInitiated is the initial state of a trade. The confirmed order
	// snapshot and the commitment have been built and persisted.
	StateInitiated TradeState = 0

	// StateDepositAddressGenerated is reached when the bridge has derived
	// a deposit address from the commitment hash. Mint direction only.
	StateDepositAddressGenerated TradeState = 1

	// StateDepositConfirmed means a deposit with the required number of
	// confirmations has been observed at the deposit address.
	StateDepositConfirmed TradeState = 2

	// StateBridgeSubmitted means the deposit has been submitted to the
	// bridge network for signing and a message id has been issued.
	StateBridgeSubmitted TradeState = 3

	// StateBridgeSigned means the bridge returned the settlement
	// signature for the deposit.
	StateBridgeSigned TradeState = 4

	// StateAllowanceApproved means the adapter contract has a sufficient
	// ERC20 allowance for the source amount. Burn direction only, and
	// only for ERC20 sources.
	StateAllowanceApproved TradeState = 5

	// StateSettlementPublished means the settlement transaction has been
	// sent to the adapter contract.
	StateSettlementPublished TradeState = 6

	// StateAwaitingPayout means the Ethereum-side burn confirmed and the
	// trade is waiting for the bridge to report the foreign-chain payout.
	// Burn direction only.
	StateAwaitingPayout TradeState = 7

	// StateSuccess is the final state of a completed trade. The history
	// event has been recorded.
	StateSuccess TradeState = 8

	// StateFailTemporary indicates that the trade cannot progress because
	// of an error. This is not a final state; the failed step is retried
	// on the next execution attempt.
	StateFailTemporary TradeState = 9

	// StateFailAbandoned indicates the trade was cancelled by the user
	// before settlement. It won't further be processed.
	StateFailAbandoned TradeState = 10
)

// TradeStateType defines the types of trade states that exist. Every state
// falls into one of these categories.
type TradeStateType uint8

const (
	// StateTypePending indicates that the trade is still in flight.
	StateTypePending TradeStateType = 0

	// StateTypeSuccess indicates that the trade completed successfully.
	StateTypeSuccess TradeStateType = 1

	// StateTypeFail indicates that the trade has failed.
	StateTypeFail TradeStateType = 2
)

// Type returns the type of the TradeState it is called on.
func (s TradeState) Type() TradeStateType {
	switch s {
	case StateSuccess:
		return StateTypeSuccess

	case StateFailAbandoned:
		return StateTypeFail

	default:
		return StateTypePending
	}
}

// IsPending returns true if the trade is in a pending state.
func (s TradeState) IsPending() bool {
	return s.Type() == StateTypePending
}

// IsFinal returns true if the trade is in a final state.
func (s TradeState) IsFinal() bool {
	return !s.IsPending()
}

// String returns a string representation of the trade's state.
func (s TradeState) String() string {
	switch s {
	case StateInitiated:
		return "Initiated"

	case StateDepositAddressGenerated:
		return "DepositAddressGenerated"

	case StateDepositConfirmed:
		return "DepositConfirmed"

	case StateBridgeSubmitted:
		return "BridgeSubmitted"

	case StateBridgeSigned:
		return "BridgeSigned"

	case StateAllowanceApproved:
		return "AllowanceApproved"

	case StateSettlementPublished:
		return "SettlementPublished"

	case StateAwaitingPayout:
		return "AwaitingPayout"

	case StateSuccess:
		return "Success"

	case StateFailTemporary:
		return "FailTemporary"

	case StateFailAbandoned:
		return "FailAbandoned"

	default:
		return "Unknown"
	}
}

// TradeStateData is all persistent data describing the current trade state.
// Fields other than State are filled in as the steps that produce them
// complete.
type TradeStateData struct {
	// State is the state the trade is in.
	State TradeState `json:"state"`

	// DepositAddress is the bridge-derived deposit address. Mint only.
	DepositAddress string `json:"deposit_address,omitempty"`

	// DepositAmount is the observed deposit amount in base units of the
	// source token. Mint only.
	DepositAmount string `json:"deposit_amount,omitempty"`

	// MessageID is the bridge tracking id issued on deposit submission.
	MessageID string `json:"message_id,omitempty"`

	// InTx is the inbound leg: the foreign-chain deposit for mints, the
	// Ethereum burn transaction for burns.
	InTx *registry.Tx `json:"in_tx,omitempty"`

	// OutTx is the outbound leg: the Ethereum settlement transaction for
	// mints, the foreign-chain payout for burns.
	OutTx *registry.Tx `json:"out_tx,omitempty"`

	// ReceivedAmount is the amount actually received, in whole token
	// units, decoded from the settlement transfer log or the bridge
	// payout report.
	ReceivedAmount string `json:"received_amount,omitempty"`
}
