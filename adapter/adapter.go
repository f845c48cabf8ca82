package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrTxReverted is returned when a mined transaction has a failed
	// receipt status.
	ErrTxReverted = errors.New("transaction reverted")
)

const (
	// defaultPollInterval is the pause between receipt queries while
	// waiting for a transaction to be mined.
	defaultPollInterval = 5 * time.Second

	// approveGasLimit covers an erc20 approve call.
	approveGasLimit = 80_000

	// settleGasLimit covers a settlement call on the adapter contract.
	// Settlements verify a bridge signature and move tokens, so the
	// limit is generous.
	settleGasLimit = 600_000
)

// Backend is the subset of an Ethereum node's rpc surface the adapter needs.
// *ethclient.Client satisfies it.
type Backend interface {
	// ChainID returns the chain id the node is on.
	ChainID(ctx context.Context) (*big.Int, error)

	// BlockNumber returns the current chain tip height.
	BlockNumber(ctx context.Context) (uint64, error)

	// CallContract executes a read-only contract call.
	CallContract(ctx context.Context, msg ethereum.CallMsg,
		blockNumber *big.Int) ([]byte, error)

	// PendingNonceAt returns the next nonce for an account, including
	// pending transactions.
	PendingNonceAt(ctx context.Context,
		account common.Address) (uint64, error)

	// SuggestGasPrice returns the node's gas price estimate.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// SendTransaction broadcasts a signed transaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// TransactionReceipt returns the receipt of a mined transaction, or
	// ethereum.NotFound while it is unmined.
	TransactionReceipt(ctx context.Context,
		txHash common.Hash) (*types.Receipt, error)

	// BalanceAt returns an account's ether balance.
	BalanceAt(ctx context.Context, account common.Address,
		blockNumber *big.Int) (*big.Int, error)
}

// Wallet signs transactions for a single Ethereum account.
type Wallet interface {
	// Address returns the account address.
	Address() common.Address

	// SignTx signs the given transaction for the given chain.
	SignTx(tx *types.Transaction,
		chainID *big.Int) (*types.Transaction, error)
}

// Config holds the adapter client dependencies.
type Config struct {
	// Backend is the Ethereum node connection.
	Backend Backend

	// Wallet signs outgoing transactions.
	Wallet Wallet

	// Address is the deployed adapter contract.
	Address common.Address

	// Clock drives the mining wait timers.
	Clock clock.Clock

	// PollInterval is the pause between receipt queries. Defaults to
	// defaultPollInterval.
	PollInterval time.Duration
}

// Client submits settlement transactions to the adapter contract and reads
// erc20 state for the tokens it moves.
type Client struct {
	cfg Config

	chainID *big.Int
}

// NewClient returns an adapter client for the given contract.
func NewClient(cfg Config) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &Client{cfg: cfg}
}

// Address returns the adapter contract address.
func (c *Client) Address() common.Address {
	return c.cfg.Address
}

// WalletAddress returns the signing account address.
func (c *Client) WalletAddress() common.Address {
	return c.cfg.Wallet.Address()
}

// BlockNumber returns the current Ethereum tip height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.cfg.Backend.BlockNumber(ctx)
}

// EtherBalance returns the signing account's ether balance.
func (c *Client) EtherBalance(ctx context.Context) (*big.Int, error) {
	return c.cfg.Backend.BalanceAt(ctx, c.cfg.Wallet.Address(), nil)
}

func (c *Client) getChainID(ctx context.Context) (*big.Int, error) {
	if c.chainID != nil {
		return c.chainID, nil
	}

	chainID, err := c.cfg.Backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}

	c.chainID = chainID

	return chainID, nil
}

// sendTx builds, signs and broadcasts a contract call and returns the signed
// transaction.
func (c *Client) sendTx(ctx context.Context, to common.Address,
	gasLimit uint64, data []byte) (*types.Transaction, error) {

	chainID, err := c.getChainID(ctx)
	if err != nil {
		return nil, err
	}

	from := c.cfg.Wallet.Address()
	nonce, err := c.cfg.Backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("query nonce: %w", err)
	}

	gasPrice, err := c.cfg.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("query gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := c.cfg.Wallet.SignTx(tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := c.cfg.Backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("broadcast transaction: %w", err)
	}

	log.Debugf("Sent tx %v to %v (nonce %v)", signedTx.Hash(), to, nonce)

	return signedTx, nil
}

// WaitMined polls for the transaction's receipt until it is mined or the
// context is cancelled. A reverted transaction is an error.
func (c *Client) WaitMined(ctx context.Context,
	txHash common.Hash) (*types.Receipt, error) {

	for {
		receipt, err := c.cfg.Backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("%w: %v",
					ErrTxReverted, txHash)
			}

			log.Debugf("Tx %v mined in block %v", txHash,
				receipt.BlockNumber)

			return receipt, nil

		case errors.Is(err, ethereum.NotFound):
			// Not mined yet.

		default:
			log.Warnf("Receipt poll for %v: %v", txHash, err)
		}

		select {
		case <-c.cfg.Clock.TickAfter(c.cfg.PollInterval):

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// SwapParams are the arguments of an adapter settlement call. They repeat
// the commitment fields: the contract re-derives the commitment hash from
// them and checks it against the bridge signature.
type SwapParams struct {
	SrcToken          common.Address
	DstToken          common.Address
	Amount            *big.Int
	MinDstAmount      *big.Int
	To                common.Address
	RefundBlockNumber uint64
	RefundAddress     []byte
	Signature         []byte
}

// SubmitSwap calls submitSwap on the adapter contract and waits for it to be
// mined. The transaction hash is reported through onPublish as soon as the
// transaction is broadcast, before the mining wait, so the caller can
// persist it. On success the returned receipt carries the destination
// token's transfer log.
func (c *Client) SubmitSwap(ctx context.Context, params *SwapParams,
	onPublish func(txHash common.Hash) error) (*types.Receipt, error) {

	data, err := adapterABI.Pack(
		"submitSwap", params.SrcToken, params.DstToken,
		params.Amount, params.MinDstAmount, params.To,
		new(big.Int).SetUint64(params.RefundBlockNumber),
		params.RefundAddress, params.Signature,
	)
	if err != nil {
		return nil, fmt.Errorf("encode submitSwap: %w", err)
	}

	tx, err := c.sendTx(ctx, c.cfg.Address, settleGasLimit, data)
	if err != nil {
		return nil, err
	}

	log.Infof("Swap settlement published: %v", tx.Hash())

	if onPublish != nil {
		if err := onPublish(tx.Hash()); err != nil {
			return nil, err
		}
	}

	return c.WaitMined(ctx, tx.Hash())
}

// BurnParams are the arguments of an adapter burn call.
type BurnParams struct {
	// Token is the Ethereum-representation token to burn.
	Token common.Address

	// Amount is the burn amount in base units.
	Amount *big.Int

	// To is the foreign-chain payout address, as raw address bytes.
	To []byte
}

// SubmitBurn calls submitBurn on the adapter contract and waits for it to be
// mined. The transaction hash is reported through onPublish right after the
// broadcast. The burn destroys the wallet's tokens and emits the event the
// bridge watches for the foreign-chain payout.
func (c *Client) SubmitBurn(ctx context.Context, params *BurnParams,
	onPublish func(txHash common.Hash) error) (*types.Receipt, error) {

	data, err := adapterABI.Pack(
		"submitBurn", params.Token, params.Amount, params.To,
	)
	if err != nil {
		return nil, fmt.Errorf("encode submitBurn: %w", err)
	}

	tx, err := c.sendTx(ctx, c.cfg.Address, settleGasLimit, data)
	if err != nil {
		return nil, err
	}

	log.Infof("Burn published: %v", tx.Hash())

	if onPublish != nil {
		if err := onPublish(tx.Hash()); err != nil {
			return nil, err
		}
	}

	return c.WaitMined(ctx, tx.Hash())
}
