package shiftd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/ethclient"
	shift "github.com/shiftex/shift"
	"github.com/shiftex/shift/adapter"
	"github.com/shiftex/shift/bridge"
	"github.com/shiftex/shift/rates"
	"github.com/shiftex/shift/registry"
	"github.com/shiftex/shift/shiftdb"
	"golang.org/x/sync/errgroup"
)

// daemon runs shiftd in daemon mode. It executes trades and serves order,
// trade and history state over REST.
func daemon(ctx context.Context, config *Config) error {
	network := registry.Network(config.Network)

	store, err := shiftdb.NewBoltTradeStore(config.DataDir)
	if err != nil {
		return fmt.Errorf("open trade store: %w", err)
	}

	log.Infof("Connecting to Ethereum node at %v", config.Eth.Addr)
	ethClient, err := ethclient.DialContext(ctx, config.Eth.Addr)
	if err != nil {
		return fmt.Errorf("dial eth node: %w", err)
	}
	defer ethClient.Close()

	wallet, err := newKeystoreWallet(
		config.Eth.Keystore, config.Eth.PasswordFile,
	)
	if err != nil {
		return err
	}
	log.Infof("Trading account: %v", wallet.Address().Hex())

	adapterAddr, err := registry.AdapterAddress(network)
	if err != nil {
		return err
	}

	adapterClient := adapter.NewClient(adapter.Config{
		Backend: ethClient,
		Wallet:  wallet,
		Address: adapterAddr,
	})

	log.Infof("Bridge gateway address: %v", config.Bridge.URL)
	bridgeClient := bridge.NewClient(bridge.Config{
		URL: config.Bridge.URL,
	})

	var oracle rates.Oracle
	if config.OracleURL != "" {
		oracle = rates.NewHTTPOracle(config.OracleURL)
	}

	client, cleanup, err := shift.NewClient(&shift.ClientConfig{
		Network: network,
		Store:   store,
		Bridge:  bridgeClient,
		Adapter: adapterClient,
		Oracle:  oracle,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	restListener, err := net.Listen("tcp", config.RESTListen)
	if err != nil {
		return fmt.Errorf("REST server unable to listen on %s: %w",
			config.RESTListen, err)
	}
	defer restListener.Close()

	restServer := &http.Server{
		Handler: newRestHandler(client, config.CORSOrigin),
	}

	statusChan := make(chan shift.TradeInfo)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Infof("Starting trade client")
		return client.Run(groupCtx, statusChan)
	})

	group.Go(func() error {
		for {
			select {
			case update := <-statusChan:
				log.Infof("Trade %v state %v",
					update.Hash, update.State)

			case <-groupCtx.Done():
				return nil
			}
		}
	})

	group.Go(func() error {
		log.Infof("Starting REST listener on %v",
			restListener.Addr())

		err := restServer.Serve(restListener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		return restServer.Close()
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	log.Info("Daemon exited")

	return err
}
