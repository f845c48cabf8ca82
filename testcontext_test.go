package shift

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shiftex/shift/adapter"
	"github.com/shiftex/shift/bridge"
	"github.com/shiftex/shift/registry"
	"github.com/shiftex/shift/shiftdb"
	"github.com/stretchr/testify/require"
)

const testNetwork = registry.Regtest

var (
	testDestAddr = "0x05523aedA0B62Be5B19162dEbA043Ab7bab37Ed5"

	// testRefundAddr decodes with the regression net parameters.
	testRefundAddr = "mfcHP2WMCVLsVZA8yrovmhMgxNFW9r98xw"
)

var (
	transferTopic = crypto.Keccak256Hash(
		[]byte("Transfer(address,address,uint256)"),
	)

	allowanceSelector = crypto.Keccak256(
		[]byte("allowance(address,address)"),
	)[:4]
	balanceOfSelector = crypto.Keccak256(
		[]byte("balanceOf(address)"),
	)[:4]
)

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(
		common.LeftPadBytes(addr.Bytes(), 32),
	)
}

// transferLog builds an ERC20 Transfer event log.
func transferLog(token, from, to common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			transferTopic, addressTopic(from), addressTopic(to),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}

// testWallet signs with an in-memory key.
type testWallet struct {
	key *ecdsa.PrivateKey
}

func newTestWallet(t *testing.T) *testWallet {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &testWallet{key: key}
}

func (w *testWallet) Address() common.Address {
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

func (w *testWallet) SignTx(tx *types.Transaction,
	chainID *big.Int) (*types.Transaction, error) {

	return types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
}

// chainMock is a scripted Ethereum node. Broadcast transactions are mined
// instantly.
type chainMock struct {
	mu sync.Mutex

	nonce    uint64
	height   uint64
	sentTxs  []*types.Transaction
	receipts map[common.Hash]*types.Receipt

	allowance *big.Int
	balance   *big.Int

	// nextLogs are attached, in order, to the receipts of broadcast
	// transactions. A nil entry mines a transaction without logs.
	nextLogs [][]*types.Log
}

func newChainMock() *chainMock {
	return &chainMock{
		height:    10_000,
		receipts:  make(map[common.Hash]*types.Receipt),
		allowance: big.NewInt(0),
		balance:   big.NewInt(0),
	}
}

func (c *chainMock) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (c *chainMock) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.height, nil
}

func (c *chainMock) CallContract(_ context.Context, msg ethereum.CallMsg,
	_ *big.Int) ([]byte, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	pad := func(value *big.Int) []byte {
		return common.LeftPadBytes(value.Bytes(), 32)
	}

	switch {
	case len(msg.Data) >= 4 &&
		string(msg.Data[:4]) == string(allowanceSelector):

		return pad(c.allowance), nil

	case len(msg.Data) >= 4 &&
		string(msg.Data[:4]) == string(balanceOfSelector):

		return pad(c.balance), nil
	}

	return pad(big.NewInt(0)), nil
}

func (c *chainMock) PendingNonceAt(context.Context,
	common.Address) (uint64, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.nonce, nil
}

func (c *chainMock) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *chainMock) SendTransaction(_ context.Context,
	tx *types.Transaction) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nonce++
	c.sentTxs = append(c.sentTxs, tx)

	var logs []*types.Log
	if len(c.nextLogs) > 0 {
		logs = c.nextLogs[0]
		c.nextLogs = c.nextLogs[1:]
	}

	c.receipts[tx.Hash()] = &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: tx.Hash(),
		Logs:   logs,
	}

	return nil
}

func (c *chainMock) TransactionReceipt(_ context.Context,
	txHash common.Hash) (*types.Receipt, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return receipt, nil
}

func (c *chainMock) BalanceAt(context.Context, common.Address,
	*big.Int) (*big.Int, error) {

	return big.NewInt(0), nil
}

// mineReceipt installs a pre-existing receipt, as if the transaction had
// been mined in an earlier run.
func (c *chainMock) mineReceipt(txHash common.Hash, logs []*types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.receipts[txHash] = &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: txHash,
		Logs:   logs,
	}
}

// bridgeMock is a scripted in-process bridge gateway.
type bridgeMock struct {
	t *testing.T

	mu sync.Mutex

	depositAddr string
	deposit     *bridgeDeposit
	messageID   string
	signature   string
	payout      *bridgePayout

	// holdDeposit keeps the deposit unreported so the trade blocks in
	// the deposit wait.
	holdDeposit bool

	// failRPC makes every call return an rpc error until cleared.
	failRPC bool
}

type bridgeDeposit struct {
	TxHash        string `json:"txHash"`
	Amount        string `json:"amount"`
	Confirmations uint32 `json:"confirmations"`
}

type bridgePayout struct {
	TxHash    string `json:"txHash"`
	Amount    string `json:"amount"`
	Completed bool   `json:"completed"`
}

func (b *bridgeMock) handler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"method"`
	}
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failRPC {
		require.NoError(b.t, json.NewEncoder(w).Encode(
			map[string]interface{}{
				"error": map[string]interface{}{
					"code":    -32000,
					"message": "bridge unavailable",
				},
			},
		))
		return
	}

	var result interface{}
	switch req.Method {
	case "shift_generateAddress":
		result = map[string]string{"address": b.depositAddr}

	case "shift_pollDeposit":
		resp := map[string]interface{}{}
		if !b.holdDeposit {
			resp["deposit"] = b.deposit
		}
		result = resp

	case "shift_submitDeposit":
		result = map[string]string{"messageId": b.messageID}

	case "shift_queryMessage":
		result = map[string]string{
			"status":    "signed",
			"signature": b.signature,
		}

	case "shift_burnStatus":
		result = b.payout

	default:
		b.t.Fatalf("unexpected method %v", req.Method)
	}

	raw, err := json.Marshal(result)
	require.NoError(b.t, err)

	require.NoError(b.t, json.NewEncoder(w).Encode(
		map[string]interface{}{"result": json.RawMessage(raw)},
	))
}

func (b *bridgeMock) releaseDeposit() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.holdDeposit = false
}

func (b *bridgeMock) setFailRPC(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failRPC = fail
}

// testContext wires a client against scripted chain and bridge backends.
type testContext struct {
	t *testing.T

	store  *shiftdb.StoreMock
	chain  *chainMock
	bridge *bridgeMock
	wallet *testWallet

	server     *httptest.Server
	httpClient *http.Client

	client     *Client
	statusChan chan TradeInfo

	// statuses buffers forwarded status updates so trade execution is
	// never blocked on test-side consumption.
	statuses chan TradeInfo

	runErr chan error
	cancel context.CancelFunc
}

func newTestContext(t *testing.T, chain *chainMock,
	bridgeHarness *bridgeMock) *testContext {

	bridgeHarness.t = t
	server := httptest.NewServer(http.HandlerFunc(bridgeHarness.handler))
	t.Cleanup(server.Close)

	// Own the http client so finish can drop its keep-alive connections
	// before the leak check runs.
	httpClient := &http.Client{}

	store := shiftdb.NewStoreMock(t)
	wallet := newTestWallet(t)

	adapterAddr, err := registry.AdapterAddress(testNetwork)
	require.NoError(t, err)

	adapterClient := adapter.NewClient(adapter.Config{
		Backend:      chain,
		Wallet:       wallet,
		Address:      adapterAddr,
		PollInterval: time.Millisecond,
	})

	bridgeClient := bridge.NewClient(bridge.Config{
		URL:          server.URL,
		HTTPClient:   httpClient,
		PollInterval: time.Millisecond,
	})

	client, cleanup, err := NewClient(&ClientConfig{
		Network:           testNetwork,
		Store:             store,
		Bridge:            bridgeClient,
		Adapter:           adapterClient,
		BlockPollInterval: 10 * time.Millisecond,
		DepositConfs:      2,
	})
	require.NoError(t, err)
	t.Cleanup(cleanup)

	return &testContext{
		t:          t,
		store:      store,
		chain:      chain,
		bridge:     bridgeHarness,
		wallet:     wallet,
		server:     server,
		httpClient: httpClient,
		client:     client,
		statusChan: make(chan TradeInfo),
		statuses:   make(chan TradeInfo, 64),
		runErr:     make(chan error, 1),
	}
}

// start runs the client and waits until it accepts requests.
func (ctx *testContext) start() {
	runCtx, cancel := context.WithCancel(context.Background())
	ctx.cancel = cancel

	go func() {
		ctx.runErr <- ctx.client.Run(runCtx, ctx.statusChan)
	}()

	go func() {
		for {
			select {
			case update := <-ctx.statusChan:
				ctx.statuses <- update

			case <-runCtx.Done():
				return
			}
		}
	}()

	require.NoError(ctx.t, ctx.client.waitForInitialized(runCtx))
}

// waitForStatus drains status updates until the expected state appears.
func (ctx *testContext) waitForStatus(
	expected shiftdb.TradeState) TradeInfo {

	ctx.t.Helper()

	for {
		select {
		case update := <-ctx.statuses:
			if update.State == expected {
				return update
			}

		case <-time.After(5 * time.Second):
			ctx.t.Fatalf("timeout waiting for status %v",
				expected)
		}
	}
}

// finish shuts the client down and asserts a clean exit. The bridge server
// and its keep-alive connections are torn down here so the leak check at
// test exit sees no server goroutines.
func (ctx *testContext) finish() {
	ctx.cancel()
	require.NoError(ctx.t, <-ctx.runErr)

	ctx.httpClient.CloseIdleConnections()
	ctx.server.Close()
}
