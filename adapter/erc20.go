package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const adapterABIJSON = `[
	{"type":"function","name":"submitSwap","inputs":[
		{"name":"srcToken","type":"address"},
		{"name":"dstToken","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"minDstAmount","type":"uint256"},
		{"name":"to","type":"address"},
		{"name":"refundBlockNumber","type":"uint256"},
		{"name":"refundAddress","type":"bytes"},
		{"name":"signature","type":"bytes"}],
	"outputs":[]},
	{"type":"function","name":"submitBurn","inputs":[
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"to","type":"bytes"}],
	"outputs":[]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","constant":true,"inputs":[
		{"name":"owner","type":"address"}],
	"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","constant":true,"inputs":[
		{"name":"owner","type":"address"},
		{"name":"spender","type":"address"}],
	"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","inputs":[
		{"name":"spender","type":"address"},
		{"name":"value","type":"uint256"}],
	"outputs":[{"name":"","type":"bool"}]}
]`

var (
	adapterABI = mustParseABI(adapterABIJSON)
	erc20ABI   = mustParseABI(erc20ABIJSON)
)

func mustParseABI(abiJSON string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("bad abi: %v", err))
	}

	return parsed
}

// callUint256 executes a read-only contract call that returns a single
// uint256.
func (c *Client) callUint256(ctx context.Context, token common.Address,
	method string, args ...interface{}) (*big.Int, error) {

	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %v: %w", method, err)
	}

	raw, err := c.cfg.Backend.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %v on %v: %w", method, token,
			err)
	}

	outputs, err := erc20ABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %v result: %w", method, err)
	}

	return *abi.ConvertType(outputs[0], new(*big.Int)).(**big.Int), nil
}

// TokenBalance returns owner's balance of the given erc20 token in base
// units.
func (c *Client) TokenBalance(ctx context.Context,
	token, owner common.Address) (*big.Int, error) {

	return c.callUint256(ctx, token, "balanceOf", owner)
}

// Allowance returns the amount of owner's tokens the adapter contract may
// spend.
func (c *Client) Allowance(ctx context.Context,
	token, owner common.Address) (*big.Int, error) {

	return c.callUint256(
		ctx, token, "allowance", owner, c.cfg.Address,
	)
}

// ApproveIfNeeded makes sure the adapter contract may spend amount of the
// wallet's tokens. If the current allowance already covers the amount no
// transaction is sent. Otherwise an approve for the exact amount is
// published and waited on. It returns whether an approval transaction was
// sent.
func (c *Client) ApproveIfNeeded(ctx context.Context, token common.Address,
	amount *big.Int) (bool, error) {

	allowance, err := c.Allowance(ctx, token, c.cfg.Wallet.Address())
	if err != nil {
		return false, err
	}

	if allowance.Cmp(amount) >= 0 {
		log.Debugf("Allowance %v on %v covers %v, skipping approve",
			allowance, token, amount)

		return false, nil
	}

	data, err := erc20ABI.Pack("approve", c.cfg.Address, amount)
	if err != nil {
		return false, fmt.Errorf("encode approve: %w", err)
	}

	tx, err := c.sendTx(ctx, token, approveGasLimit, data)
	if err != nil {
		return false, err
	}

	log.Infof("Approving %v of %v for adapter: %v", amount, token,
		tx.Hash())

	if _, err := c.WaitMined(ctx, tx.Hash()); err != nil {
		return false, err
	}

	return true, nil
}

// ReserveBalances returns the reserve account's balance for each of the
// given tokens, keyed by token contract.
func (c *Client) ReserveBalances(ctx context.Context, reserve common.Address,
	tokens []common.Address) (map[common.Address]*big.Int, error) {

	balances := make(map[common.Address]*big.Int, len(tokens))
	for _, token := range tokens {
		balance, err := c.TokenBalance(ctx, token, reserve)
		if err != nil {
			return nil, err
		}

		balances[token] = balance
	}

	return balances, nil
}
