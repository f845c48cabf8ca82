package shift

import (
	"fmt"
	"sync"

	"github.com/shiftex/shift/rates"
	"github.com/shiftex/shift/registry"
	"github.com/shopspring/decimal"
)

// OrderBook owns the live order form and the read-side snapshots it is
// quoted against. The destination amount is always derived from the current
// inputs and the current reserve snapshot; edits and reserve refreshes both
// requote, so the form never shows a quote computed against stale reserves.
type OrderBook struct {
	mu sync.Mutex

	network registry.Network

	inputs OrderInputs

	reserves map[string]rates.Reserves

	balances map[registry.Token]decimal.Decimal

	confirmed *ConfirmedOrder

	// generation increments on every confirmation and cancellation.
	// Async results produced for an earlier generation are discarded by
	// their consumers.
	generation uint64
}

// NewOrderBook returns an order book with the default market.
func NewOrderBook(network registry.Network) *OrderBook {
	return &OrderBook{
		network: network,
		inputs: OrderInputs{
			SrcToken: registry.BTC,
			DstToken: registry.DAI,
		},
		reserves: make(map[string]rates.Reserves),
		balances: make(map[registry.Token]decimal.Decimal),
	}
}

// Prepopulate applies the send/receive token symbols carried in the page's
// query parameters to the live form. Unknown symbols are rejected.
func (o *OrderBook) Prepopulate(send, receive string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if send != "" {
		info, err := registry.Lookup(registry.Token(send))
		if err != nil {
			return err
		}
		o.inputs.SrcToken = info.Symbol
	}
	if receive != "" {
		info, err := registry.Lookup(registry.Token(receive))
		if err != nil {
			return err
		}
		o.inputs.DstToken = info.Symbol
	}

	o.requote()

	return nil
}

// SetSrcToken updates the source token of the live form. Selecting the
// current destination token flips the pair.
func (o *OrderBook) SetSrcToken(token registry.Token) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := registry.Lookup(token); err != nil {
		return err
	}

	if token == o.inputs.DstToken {
		o.inputs.DstToken = o.inputs.SrcToken
	}
	o.inputs.SrcToken = token

	o.requote()

	return nil
}

// SetDstToken updates the destination token of the live form. Selecting the
// current source token flips the pair.
func (o *OrderBook) SetDstToken(token registry.Token) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := registry.Lookup(token); err != nil {
		return err
	}

	if token == o.inputs.SrcToken {
		o.inputs.SrcToken = o.inputs.DstToken
	}
	o.inputs.DstToken = token

	o.requote()

	return nil
}

// SetSrcAmount updates the source amount of the live form.
func (o *OrderBook) SetSrcAmount(amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative amount %v", amount)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.inputs.SrcAmount = amount
	o.requote()

	return nil
}

// UpdateReserves installs a fresh reserve snapshot for a market and requotes
// the live form if it trades that market.
func (o *OrderBook) UpdateReserves(market registry.Market,
	reserves rates.Reserves) {

	o.mu.Lock()
	defer o.mu.Unlock()

	o.reserves[market.String()] = reserves

	// Keep the reverse market usable with the same pool.
	reversed := registry.Market{Src: market.Dst, Dst: market.Src}
	o.reserves[reversed.String()] = rates.Reserves{
		Src: reserves.Dst,
		Dst: reserves.Src,
	}

	o.requote()
}

// UpdateBalances installs the wallet's current Ethereum token balances.
func (o *OrderBook) UpdateBalances(
	balances map[registry.Token]decimal.Decimal) {

	o.mu.Lock()
	defer o.mu.Unlock()

	for token, balance := range balances {
		o.balances[token] = balance
	}
}

// requote rederives the destination amount from the current inputs and
// reserve snapshot. Called with the lock held.
func (o *OrderBook) requote() {
	o.inputs.DstAmount = decimal.Zero

	reserves, ok := o.reserves[o.inputs.Market().String()]
	if !ok {
		return
	}

	quote, err := rates.ReceiveAmount(o.inputs.SrcAmount, reserves)
	if err != nil {
		log.Debugf("Quote %v: %v", o.inputs.Market(), err)
		return
	}

	o.inputs.DstAmount = quote
}

// Inputs returns a snapshot of the live order form.
func (o *OrderBook) Inputs() OrderInputs {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.inputs
}

// ValidVolume reports whether the source amount meets the source token's
// minimum trade volume.
func (o *OrderBook) ValidVolume() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.validVolume()
}

func (o *OrderBook) validVolume() bool {
	info, err := registry.Lookup(o.inputs.SrcToken)
	if err != nil {
		return false
	}

	return o.inputs.SrcAmount.GreaterThanOrEqual(info.MinVolume)
}

// SufficientBalance reports whether the wallet balance covers the source
// amount. Foreign-chain sources are deposited externally and always pass.
func (o *OrderBook) SufficientBalance() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.sufficientBalance()
}

func (o *OrderBook) sufficientBalance() bool {
	info, err := registry.Lookup(o.inputs.SrcToken)
	if err != nil {
		return false
	}
	if !info.Ethereum() {
		return true
	}

	balance, ok := o.balances[o.inputs.SrcToken]
	if !ok {
		return false
	}

	return balance.GreaterThanOrEqual(o.inputs.SrcAmount)
}

// Confirm snapshots the live form into a confirmed order. Trade execution
// binds to the snapshot; the live form stays editable without affecting it.
func (o *OrderBook) Confirm() (*ConfirmedOrder, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	direction, err := o.inputs.Market().Direction()
	if err != nil {
		return nil, err
	}

	if !o.validVolume() {
		return nil, ErrAmountBelowMinimum
	}
	if !o.sufficientBalance() {
		return nil, ErrInsufficientBalance
	}
	if o.inputs.DstAmount.Sign() <= 0 {
		return nil, ErrNoQuote
	}

	dstInfo, err := registry.Lookup(o.inputs.DstToken)
	if err != nil {
		return nil, err
	}

	o.generation++
	o.confirmed = &ConfirmedOrder{
		OrderInputs: o.inputs,
		Direction:   direction,
		MinDstAmount: rates.MinReceiveAmount(
			o.inputs.DstAmount,
		).Truncate(dstInfo.Decimals),
		generation: o.generation,
	}

	return o.snapshotConfirmed(), nil
}

// SetToAddress sets the destination address on the confirmed order. For
// mints this is the first address entered; for burns the refund address
// must be set first.
func (o *OrderBook) SetToAddress(addr string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.confirmed == nil {
		return ErrNoConfirmedOrder
	}
	if o.confirmed.Direction == registry.DirectionBurn &&
		o.confirmed.RefundAddress == "" {

		return fmt.Errorf("refund address must be set before the " +
			"destination address")
	}

	err := registry.ValidateAddress(
		o.network, o.confirmed.DstToken, addr,
	)
	if err != nil {
		return err
	}

	o.confirmed.ToAddress = addr

	return nil
}

// SetRefundAddress sets the refund address on the confirmed order. For
// mints the destination address must be set first; for burns this is the
// first address entered.
func (o *OrderBook) SetRefundAddress(addr string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.confirmed == nil {
		return ErrNoConfirmedOrder
	}
	if o.confirmed.Direction == registry.DirectionMint &&
		o.confirmed.ToAddress == "" {

		return fmt.Errorf("destination address must be set before " +
			"the refund address")
	}

	err := registry.ValidateAddress(
		o.network, o.confirmed.SrcToken, addr,
	)
	if err != nil {
		return err
	}

	o.confirmed.RefundAddress = addr

	return nil
}

// Confirmed returns a copy of the confirmed order.
func (o *OrderBook) Confirmed() (*ConfirmedOrder, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.confirmed == nil {
		return nil, ErrNoConfirmedOrder
	}

	return o.snapshotConfirmed(), nil
}

func (o *OrderBook) snapshotConfirmed() *ConfirmedOrder {
	confirmed := *o.confirmed
	return &confirmed
}

// Cancel discards the confirmed order and bumps the generation so results
// of the discarded confirmation cannot reappear. The live form keeps its
// edits.
func (o *OrderBook) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.confirmed = nil
	o.generation++
}

// Generation returns the current confirmation generation.
func (o *OrderBook) Generation() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.generation
}

// Current reports whether a generation still refers to the live
// confirmation.
func (o *OrderBook) Current(generation uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.confirmed != nil && o.generation == generation
}
