package shift

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/shiftex/shift/adapter"
	"github.com/shiftex/shift/bridge"
	"github.com/shiftex/shift/rates"
	"github.com/shiftex/shift/registry"
	"github.com/shiftex/shift/shiftdb"
	"github.com/shopspring/decimal"
)

const (
	// defaultBlockPollInterval is the pause between chain tip polls.
	defaultBlockPollInterval = 10 * time.Second

	// defaultDepositConfs is the confirmation depth required of a
	// foreign-chain deposit.
	defaultDepositConfs uint32 = 2

	// priceCurrency is the quote currency of the cached price map.
	priceCurrency = "USD"
)

// ClientConfig is the exported configuration structure that is required to
// instantiate the shift client.
type ClientConfig struct {
	// Network selects the deployed contract set and address formats.
	Network registry.Network

	// Store is the trade and history database.
	Store shiftdb.Store

	// Bridge is the bridge gateway client.
	Bridge *bridge.Client

	// Adapter is the on-chain adapter contract client.
	Adapter *adapter.Client

	// Oracle serves spot prices for the ui surface.
	Oracle rates.Oracle

	// Clock drives poll timers. Defaults to the wall clock.
	Clock clock.Clock

	// BlockPollInterval is the pause between chain tip polls.
	BlockPollInterval time.Duration

	// RefreshInterval is the pause between background reserve, balance
	// and price refreshes.
	RefreshInterval time.Duration

	// DepositConfs is the confirmation depth required of a deposit.
	DepositConfs uint32
}

// activeTrade tracks the currently executing trade. The slot is reserved
// under the client mutex before the trade is built, so two concurrent opens
// cannot both claim it.
type activeTrade struct {
	hash     common.Hash
	trade    genericTrade
	quit     chan struct{}
	quitOnce sync.Once

	// failed is set when a step failure has been surfaced and cleared
	// when a retry is accepted.
	failed bool
}

// Client performs the client side part of cross-chain trades.
type Client struct {
	started uint32 // To be used atomically.

	clientConfig

	orders   *OrderBook
	executor *executor

	resumeReady chan struct{}
	wg          sync.WaitGroup

	mu         sync.Mutex
	active     *activeTrade
	tradeInfos map[common.Hash]TradeInfo
	prices     rates.PriceMap

	refreshers []*rates.Refresher
}

// clientConfig is the internal configuration with defaults applied.
type clientConfig struct {
	ClientConfig
}

// NewClient returns a new instance to initiate trades with.
func NewClient(cfg *ClientConfig) (*Client, func(), error) {
	config := *cfg
	if config.Clock == nil {
		config.Clock = clock.NewDefaultClock()
	}
	if config.BlockPollInterval == 0 {
		config.BlockPollInterval = defaultBlockPollInterval
	}
	if config.RefreshInterval == 0 {
		config.RefreshInterval = rates.DefaultRefreshInterval
	}
	if config.DepositConfs == 0 {
		config.DepositConfs = defaultDepositConfs
	}

	executor := newExecutor(&executorConfig{
		adapter:           config.Adapter,
		store:             config.Store,
		clock:             config.Clock,
		blockPollInterval: config.BlockPollInterval,
		depositConfs:      config.DepositConfs,
	})

	client := &Client{
		clientConfig: clientConfig{ClientConfig: config},
		orders:       NewOrderBook(config.Network),
		executor:     executor,
		resumeReady:  make(chan struct{}),
		tradeInfos:   make(map[common.Hash]TradeInfo),
	}

	cleanup := func() {
		config.Store.Close()
	}

	return client, cleanup, nil
}

// Orders returns the client's order book.
func (s *Client) Orders() *OrderBook {
	return s.orders
}

// Run is a blocking call that executes all trades. Any pending trades are
// restored from persistent storage and resumed. Subsequent updates will be
// sent through the passed in statusChan. The function can be terminated by
// cancelling the context.
func (s *Client) Run(ctx context.Context,
	statusChan chan<- TradeInfo) error {

	if !atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		return errors.New("shift client can only be started once")
	}

	// Setup main context used for cancellation.
	mainCtx, mainCancel := context.WithCancel(ctx)
	defer mainCancel()

	// Query store before starting event loop to prevent new trades from
	// being treated as trades that need to be resumed.
	pendingTrades, err := s.Store.FetchTrades(mainCtx)
	if err != nil {
		return err
	}

	// Internal status channel, filtered before forwarding.
	internalStatus := make(chan TradeInfo)

	// Start goroutine to deliver all pending trades to the main loop.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Wait for the executor to learn the chain tip before
		// resuming, refund checks depend on it.
		select {
		case <-s.executor.ready:
		case <-mainCtx.Done():
			return
		}

		s.resumeTrades(mainCtx, pendingTrades)

		// Signal that new requests can be accepted. Otherwise the
		// new trade could already have been added to the store and
		// read in this goroutine as a trade that needs to be
		// resumed, resulting in two goroutines executing the same
		// trade.
		close(s.resumeReady)
	}()

	// Forward status updates, dropping those of trades that are no
	// longer current.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for {
			select {
			case update := <-internalStatus:
				if !s.recordUpdate(update) {
					continue
				}

				if statusChan == nil {
					continue
				}
				select {
				case statusChan <- update:
				case <-mainCtx.Done():
					return
				}

			case <-mainCtx.Done():
				return
			}
		}
	}()

	s.startRefreshers()
	defer s.stopRefreshers()

	// Main event loop.
	err = s.executor.run(mainCtx, internalStatus)

	// Consider canceled as happy flow.
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if err != nil {
		log.Errorf("Shift client terminating: %v", err)
	} else {
		log.Info("Shift client terminating")
	}

	// Cancel all remaining active goroutines.
	mainCancel()

	// Wait for all to finish.
	log.Debug("Wait for executor to finish")
	s.executor.waitFinished()

	log.Debug("Wait for goroutines to finish")
	s.wg.Wait()

	log.Info("Shift client terminated")

	return err
}

// recordUpdate stores a status update and reports whether it should be
// surfaced. Updates of finished or cancelled trades are kept in the info
// map but not surfaced.
func (s *Client) recordUpdate(update TradeInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tradeInfos[update.Hash] = update

	current := s.active != nil && s.active.hash == update.Hash
	if current {
		switch {
		case update.State.IsFinal():
			s.active = nil
			s.orders.Cancel()

		case update.State == shiftdb.StateFailTemporary:
			s.active.failed = true
		}
	}

	return current
}

// resumeTrades restarts all pending trades from the provided list.
func (s *Client) resumeTrades(ctx context.Context,
	pendingTrades []*shiftdb.Trade) {

	tradeCfg := newTradeConfig(
		s.Network, s.Store, s.Bridge, s.Adapter,
	)

	for _, pend := range pendingTrades {
		if pend.State().State.Type() != shiftdb.StateTypePending {
			continue
		}

		var (
			trade genericTrade
			hash  common.Hash
			err   error
		)
		switch pend.Contract.Direction {
		case registry.DirectionMint:
			var mint *mintTrade
			mint, err = resumeMintTrade(tradeCfg, pend)
			if mint != nil {
				trade, hash = mint, mint.hash
			}

		case registry.DirectionBurn:
			var burn *burnTrade
			burn, err = resumeBurnTrade(tradeCfg, pend)
			if burn != nil {
				trade, hash = burn, burn.hash
			}
		}
		if err != nil {
			log.Errorf("Resuming trade %v: %v", pend.Hash, err)
			continue
		}

		active := &activeTrade{
			hash: hash,
			quit: make(chan struct{}),
		}
		active.trade = &cancellableTrade{
			inner: trade,
			quit:  active.quit,
		}

		s.mu.Lock()
		s.active = active
		s.mu.Unlock()

		s.executor.initiateTrade(ctx, active.trade)
	}
}

// OpenTrade initiates the confirmed order's trade. It blocks until the
// trade is persisted; from there on further status information can be
// acquired through the status channel passed to Run.
//
// When the call returns, the trade has been persisted and will be resumed
// automatically after restarts.
func (s *Client) OpenTrade(ctx context.Context) (*TradeInfo, error) {
	if err := s.waitForInitialized(ctx); err != nil {
		return nil, err
	}

	order, err := s.orders.Confirmed()
	if err != nil {
		return nil, err
	}
	if !order.AddressesComplete() {
		return nil, ErrAddressesIncomplete
	}

	// Reserve the active slot before building the trade so concurrent
	// opens cannot both pass the in-flight check.
	reserved := &activeTrade{quit: make(chan struct{})}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, ErrTradeInFlight
	}
	s.active = reserved
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if s.active == reserved {
			s.active = nil
		}
		s.mu.Unlock()
	}

	tradeCfg := newTradeConfig(
		s.Network, s.Store, s.Bridge, s.Adapter,
	)
	height := s.executor.height()

	var (
		trade genericTrade
		kit   *tradeKit
	)
	switch order.Direction {
	case registry.DirectionMint:
		mint, err := newMintTrade(ctx, tradeCfg, order, height)
		if err != nil {
			release()
			return nil, err
		}
		trade, kit = mint, mint.tradeKit

	case registry.DirectionBurn:
		burn, err := newBurnTrade(ctx, tradeCfg, order, height)
		if err != nil {
			release()
			return nil, err
		}
		trade, kit = burn, burn.tradeKit

	default:
		release()
		return nil, registry.ErrSameChainPair
	}

	wrapped := &cancellableTrade{inner: trade, quit: reserved.quit}

	s.mu.Lock()
	reserved.hash = kit.hash
	reserved.trade = wrapped
	info := *kit.tradeInfo()
	s.tradeInfos[kit.hash] = info
	s.mu.Unlock()

	s.executor.initiateTrade(ctx, wrapped)

	return &info, nil
}

// cancellableTrade cancels its inner trade's context when quit closes.
type cancellableTrade struct {
	inner genericTrade
	quit  chan struct{}
}

func (c *cancellableTrade) execute(mainCtx context.Context,
	cfg *executeConfig, height uint64) error {

	ctx, cancel := context.WithCancel(mainCtx)
	defer cancel()

	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	return c.inner.execute(ctx, cfg, height)
}

func (c *cancellableTrade) tradeInfo() *TradeInfo {
	return c.inner.tradeInfo()
}

// CancelTrade detaches and abandons the in-flight trade. The cancellation
// is cooperative: in-flight calls are cancelled, late results are discarded
// and never resurface. The live order form keeps its edits.
func (s *Client) CancelTrade(ctx context.Context) error {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.mu.Unlock()

	s.orders.Cancel()

	if active == nil {
		return ErrNoPendingTrade
	}

	active.quitOnce.Do(func() {
		close(active.quit)
	})

	log.Infof("Cancelled trade %v", active.hash)

	// A reserved slot whose trade was never persisted has nothing to
	// mark abandoned.
	if active.hash == (common.Hash{}) {
		return nil
	}

	// Mark the trade abandoned so it is not resumed after a restart.
	return s.Store.UpdateTrade(
		ctx, active.hash, time.Now(), shiftdb.TradeStateData{
			State: shiftdb.StateFailAbandoned,
		},
	)
}

// RetryTrade reruns the in-flight trade's failed step. The trade resumes
// from its persisted state, so completed steps are not repeated.
func (s *Client) RetryTrade(ctx context.Context) error {
	s.mu.Lock()
	active := s.active
	if active == nil {
		s.mu.Unlock()
		return ErrNoPendingTrade
	}
	if !active.failed {
		s.mu.Unlock()
		return ErrTradeNotFailed
	}
	active.failed = false
	trade := active.trade
	s.mu.Unlock()

	log.Infof("Retrying trade %v", active.hash)

	s.executor.initiateTrade(ctx, trade)

	return nil
}

// Trade returns the in-flight trade's latest status.
func (s *Client) Trade() (*TradeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil, ErrNoPendingTrade
	}

	info, ok := s.tradeInfos[s.active.hash]
	if !ok {
		return nil, ErrNoPendingTrade
	}

	return &info, nil
}

// History returns all completed trades, most recent first.
func (s *Client) History(ctx context.Context) ([]*shiftdb.HistoryEvent,
	error) {

	return s.Store.FetchHistory(ctx)
}

// Prices returns the most recently fetched price map.
func (s *Client) Prices() rates.PriceMap {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.prices
}

// waitForInitialized for the client to be initialized.
//
// Note: this function is intended to be called with the lock not held.
func (s *Client) waitForInitialized(ctx context.Context) error {
	select {
	case <-s.resumeReady:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-s.executor.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// startRefreshers launches the background reserve, balance and price
// loops. Their failures are logged and swallowed; trade execution never
// depends on them.
func (s *Client) startRefreshers() {
	newTicker := func() ticker.Ticker {
		return ticker.New(s.RefreshInterval)
	}

	s.refreshers = []*rates.Refresher{
		rates.NewRefresher("reserves", newTicker(), s.refreshReserves),
		rates.NewRefresher("balances", newTicker(), s.refreshBalances),
	}
	if s.Oracle != nil {
		s.refreshers = append(s.refreshers, rates.NewRefresher(
			"prices", newTicker(), s.refreshPrices,
		))
	}

	for _, refresher := range s.refreshers {
		refresher.Start()
	}
}

func (s *Client) stopRefreshers() {
	for _, refresher := range s.refreshers {
		refresher.Stop()
	}
}

// refreshReserves reads the current pool balances of the live market and
// requotes the order form.
func (s *Client) refreshReserves(ctx context.Context) error {
	market := s.orders.Inputs().Market()

	reserveAddr, err := registry.ReserveAddress(
		s.Network, market.Src, market.Dst,
	)
	if err != nil {
		return err
	}

	srcToken, err := registry.TokenAddress(s.Network, market.Src)
	if err != nil {
		return err
	}
	dstToken, err := registry.TokenAddress(s.Network, market.Dst)
	if err != nil {
		return err
	}

	balances, err := s.Adapter.ReserveBalances(
		ctx, reserveAddr,
		[]common.Address{srcToken, dstToken},
	)
	if err != nil {
		return err
	}

	srcBalance, err := registry.FromBaseUnits(
		market.Src, decimal.NewFromBigInt(balances[srcToken], 0),
	)
	if err != nil {
		return err
	}
	dstBalance, err := registry.FromBaseUnits(
		market.Dst, decimal.NewFromBigInt(balances[dstToken], 0),
	)
	if err != nil {
		return err
	}

	s.orders.UpdateReserves(market, rates.Reserves{
		Src: srcBalance,
		Dst: dstBalance,
	})

	return nil
}

// refreshBalances reads the wallet's Ethereum token balances.
func (s *Client) refreshBalances(ctx context.Context) error {
	owner := s.Adapter.WalletAddress()
	balances := make(map[registry.Token]decimal.Decimal)

	for _, info := range registry.Tokens() {
		if !info.Ethereum() {
			continue
		}

		tokenAddr, err := registry.TokenAddress(
			s.Network, info.Symbol,
		)
		if err != nil {
			return err
		}

		raw, err := s.Adapter.TokenBalance(ctx, tokenAddr, owner)
		if err != nil {
			return err
		}

		balance, err := registry.FromBaseUnits(
			info.Symbol, decimal.NewFromBigInt(raw, 0),
		)
		if err != nil {
			return err
		}

		balances[info.Symbol] = balance
	}

	s.orders.UpdateBalances(balances)

	return nil
}

// refreshPrices fetches spot prices for all supported tokens.
func (s *Client) refreshPrices(ctx context.Context) error {
	tokens := make([]registry.Token, 0)
	for _, info := range registry.Tokens() {
		tokens = append(tokens, info.Symbol)
	}

	prices, err := s.Oracle.GetPrices(
		ctx, tokens, []string{priceCurrency},
	)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.prices = prices
	s.mu.Unlock()

	return nil
}
