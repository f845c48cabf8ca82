package rates

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultRefreshInterval is the pause between background refreshes.
const DefaultRefreshInterval = 10 * time.Second

// Refresher runs a fetch function on a fixed interval in the background.
// Fetch failures are logged and swallowed; the loop always continues on its
// next tick and never propagates an error into trade handling.
type Refresher struct {
	name   string
	ticker ticker.Ticker
	fetch  func(ctx context.Context) error

	started sync.Once
	stopped sync.Once
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewRefresher returns a refresher that runs fetch on every tick of the
// given ticker.
func NewRefresher(name string, tick ticker.Ticker,
	fetch func(ctx context.Context) error) *Refresher {

	return &Refresher{
		name:   name,
		ticker: tick,
		fetch:  fetch,
		quit:   make(chan struct{}),
	}
}

// Start launches the refresh loop. The first fetch runs immediately.
func (r *Refresher) Start() {
	r.started.Do(func() {
		r.wg.Add(1)
		go r.run()
	})
}

// Stop shuts the refresh loop down and waits for it to exit.
func (r *Refresher) Stop() {
	r.stopped.Do(func() {
		close(r.quit)
		r.wg.Wait()
	})
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-r.quit
		cancel()
	}()

	r.ticker.Resume()
	defer r.ticker.Stop()

	r.refreshOnce(ctx)

	for {
		select {
		case <-r.ticker.Ticks():
			r.refreshOnce(ctx)

		case <-r.quit:
			return
		}
	}
}

func (r *Refresher) refreshOnce(ctx context.Context) {
	if err := r.fetch(ctx); err != nil {
		select {
		case <-r.quit:
			return
		default:
		}

		log.Warnf("%v refresh: %v", r.name, err)
	}
}
