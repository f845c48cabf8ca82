package shift

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/shiftex/shift/adapter"
	"github.com/shiftex/shift/shiftdb"
)

// executorConfig contains executor configuration data.
type executorConfig struct {
	adapter *adapter.Client

	store shiftdb.Store

	clock clock.Clock

	blockPollInterval time.Duration

	depositConfs uint32
}

// executor is responsible for executing trades.
type executor struct {
	wg            sync.WaitGroup
	newTrades     chan genericTrade
	currentHeight uint64
	ready         chan struct{}

	executorConfig
}

// newExecutor returns a new trade executor instance.
func newExecutor(cfg *executorConfig) *executor {
	return &executor{
		executorConfig: *cfg,
		newTrades:      make(chan genericTrade),
		ready:          make(chan struct{}),
	}
}

// run starts the executor event loop. It accepts and executes new trades,
// providing them with required config data. Block heights are polled from
// the Ethereum backend and fanned out to every running trade.
func (e *executor) run(mainCtx context.Context,
	statusChan chan<- TradeInfo) error {

	// Before starting, make sure we have an up-to-date block height.
	// Refund windows are anchored to it.
	var height uint64
	for {
		h, err := e.adapter.BlockNumber(mainCtx)
		if err == nil {
			height = h
			break
		}

		log.Warnf("Chain backend not ready yet: %v", err)

		select {
		case <-e.clock.TickAfter(time.Second):
		case <-mainCtx.Done():
			return mainCtx.Err()
		}
	}
	atomic.StoreUint64(&e.currentHeight, height)

	// Start main event loop.
	log.Infof("Starting event loop at height %v", height)

	// Signal that executor is ready with an up-to-date block height.
	close(e.ready)

	// Use a map to administer the individual notification queues for the
	// trades.
	blockEpochQueues := make(map[int]*queue.ConcurrentQueue)

	// On exit, stop all queue goroutines.
	defer func() {
		for _, q := range blockEpochQueues {
			q.Stop()
		}
	}()

	tradeDoneChan := make(chan int)
	nextTradeID := 0

	for {
		select {
		case newTrade := <-e.newTrades:
			q := queue.NewConcurrentQueue(10)
			q.Start()
			tradeID := nextTradeID
			blockEpochQueues[tradeID] = q

			e.wg.Add(1)
			go func() {
				defer e.wg.Done()

				err := newTrade.execute(mainCtx, &executeConfig{
					statusChan:     statusChan,
					blockEpochChan: q.ChanOut(),
					depositConfs:   e.depositConfs,
				}, height)
				if err != nil && !errors.Is(
					err, context.Canceled,
				) {

					log.Errorf("Execute error: %v", err)

					// Surface the failed step to status
					// subscribers. The persisted state is
					// untouched; the trade stays pending
					// and the step reruns on retry. Trades
					// that already reached a final state
					// have nothing to retry.
					info := *newTrade.tradeInfo()
					if !info.State.IsFinal() {
						info.State =
							shiftdb.StateFailTemporary
						info.LastError = err.Error()

						select {
						case statusChan <- info:
						case <-mainCtx.Done():
						}
					}
				}

				select {
				case tradeDoneChan <- tradeID:
				case <-mainCtx.Done():
				}
			}()

			nextTradeID++

		case doneID := <-tradeDoneChan:
			q, ok := blockEpochQueues[doneID]
			if !ok {
				return fmt.Errorf(
					"trade id %v not found in queues",
					doneID)
			}
			q.Stop()
			delete(blockEpochQueues, doneID)

		case <-e.clock.TickAfter(e.blockPollInterval):
			h, err := e.adapter.BlockNumber(mainCtx)
			if err != nil {
				// Background poll failures never interrupt
				// trade execution.
				log.Warnf("Block poll: %v", err)
				continue
			}
			if h == height {
				continue
			}

			height = h
			atomic.StoreUint64(&e.currentHeight, height)

			for _, q := range blockEpochQueues {
				select {
				case q.ChanIn() <- height:
				case <-mainCtx.Done():
					return mainCtx.Err()
				}
			}

		case <-mainCtx.Done():
			return mainCtx.Err()
		}
	}
}

// initiateTrade delivers a new trade to the executor main loop.
func (e *executor) initiateTrade(ctx context.Context,
	trade genericTrade) {

	select {
	case e.newTrades <- trade:
	case <-ctx.Done():
		return
	}
}

// height returns the current best block height known to the executor.
func (e *executor) height() uint64 {
	return atomic.LoadUint64(&e.currentHeight)
}

// waitFinished waits for all trade goroutines to finish.
func (e *executor) waitFinished() {
	e.wg.Wait()
}
