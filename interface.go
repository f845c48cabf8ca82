package shift

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shiftex/shift/registry"
	"github.com/shiftex/shift/shiftdb"
	"github.com/shopspring/decimal"
)

// OrderInputs is the live order form. The destination amount is derived: it
// is recomputed whenever a token, the source amount or the reserve snapshot
// changes and is never set directly.
type OrderInputs struct {
	// SrcToken is the token the user sends.
	SrcToken registry.Token `json:"src_token"`

	// DstToken is the token the user receives.
	DstToken registry.Token `json:"dst_token"`

	// SrcAmount is the user-entered source amount in whole token units.
	SrcAmount decimal.Decimal `json:"src_amount"`

	// DstAmount is the quoted destination amount. Read only.
	DstAmount decimal.Decimal `json:"dst_amount"`
}

// Market returns the order's token pair.
func (o OrderInputs) Market() registry.Market {
	return registry.Market{Src: o.SrcToken, Dst: o.DstToken}
}

// ConfirmedOrder is the snapshot taken when the user commits to the current
// order form. Trade execution binds to the snapshot; later edits of the live
// form do not affect it.
type ConfirmedOrder struct {
	OrderInputs

	// Direction is the lifecycle shape of the confirmed pair.
	Direction registry.Direction `json:"direction"`

	// MinDstAmount is the least destination amount the user accepts,
	// derived from the quote with slippage headroom.
	MinDstAmount decimal.Decimal `json:"min_dst_amount"`

	// ToAddress is the destination-chain address, set after
	// confirmation.
	ToAddress string `json:"to_address"`

	// RefundAddress is the refund address, set after the destination
	// address.
	RefundAddress string `json:"refund_address"`

	// generation ties async results to this confirmation. Results
	// carrying a stale generation are discarded.
	generation uint64
}

// AddressesComplete reports whether both trade addresses have been set.
func (o *ConfirmedOrder) AddressesComplete() bool {
	return o.ToAddress != "" && o.RefundAddress != ""
}

// TradeInfo is a snapshot of an in-flight or resumed trade, exposed to the
// daemon's api surface.
type TradeInfo struct {
	// Hash is the commitment hash identifying the trade.
	Hash common.Hash `json:"hash"`

	// Contract is the immutable trade contract.
	Contract shiftdb.TradeContract `json:"contract"`

	// State is the trade's current lifecycle state.
	State shiftdb.TradeState `json:"state"`

	// LastUpdate is the time of the last state change.
	LastUpdate time.Time `json:"last_update"`

	// DepositAddress is the bridge deposit address, empty until
	// generated. Mint trades only.
	DepositAddress string `json:"deposit_address,omitempty"`

	// MessageID is the bridge message id, empty until the deposit has
	// been submitted. Mint trades only.
	MessageID string `json:"message_id,omitempty"`

	// InTx is the inbound transaction: the foreign deposit for mints,
	// the Ethereum burn for burns.
	InTx *registry.Tx `json:"in_tx,omitempty"`

	// OutTx is the outbound settlement transaction.
	OutTx *registry.Tx `json:"out_tx,omitempty"`

	// ReceivedAmount is the actually received amount in whole token
	// units, set at completion.
	ReceivedAmount string `json:"received_amount,omitempty"`

	// LastError describes the step failure a trade in the temporary
	// failure state is waiting out. The persisted state is untouched;
	// the failed step reruns on retry.
	LastError string `json:"last_error,omitempty"`
}
