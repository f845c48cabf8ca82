package bridge

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/shiftex/shift/registry"
	"github.com/sony/gobreaker"
)

var (
	// ErrNoDepositAddress is returned when a deposit is awaited before an
	// address has been generated for the shift.
	ErrNoDepositAddress = errors.New("no deposit address generated")

	// ErrNoDeposit is returned when a deposit is submitted to the bridge
	// before one has been observed on the foreign chain.
	ErrNoDeposit = errors.New("no deposit received")

	// ErrMessageRejected is returned when the bridge network refuses to
	// sign a submitted deposit message.
	ErrMessageRejected = errors.New("bridge rejected message")
)

const (
	// defaultPollInterval is the pause between bridge status queries.
	defaultPollInterval = 10 * time.Second

	// defaultRequestTimeout bounds a single bridge rpc round trip.
	defaultRequestTimeout = 30 * time.Second
)

// Config holds the dial parameters for a bridge client.
type Config struct {
	// URL is the bridge rpc endpoint.
	URL string

	// HTTPClient is the underlying http client. Defaults to a client
	// with defaultRequestTimeout.
	HTTPClient *http.Client

	// Clock drives the poll timers.
	Clock clock.Clock

	// PollInterval is the pause between deposit and message status
	// queries. Defaults to defaultPollInterval.
	PollInterval time.Duration
}

// Client talks json-rpc to a bridge gateway node. Repeated bridge outages
// trip the breaker so a flapping gateway fails fast instead of stacking up
// blocked polls.
type Client struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	nextID  uint64
}

// NewClient returns a bridge client for the given endpoint.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &Client{
		cfg: cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "bridge",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string,
				from, to gobreaker.State) {

				log.Warnf("Bridge breaker %v -> %v", from, to)
			},
		}),
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("bridge rpc error %d: %v", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one json-rpc round trip through the breaker.
func (c *Client) call(ctx context.Context, method string,
	params, result interface{}) error {

	body, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, c.cfg.URL,
			bytes.NewReader(body),
		)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("bridge returned status %v",
				resp.StatusCode)
		}

		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw.([]byte), &rpcResp); err != nil {
		return fmt.Errorf("decode bridge response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result == nil {
		return nil
	}

	return json.Unmarshal(rpcResp.Result, result)
}

// Deposit describes a transaction the bridge observed paying a shift's
// deposit address.
type Deposit struct {
	// TxHash is the foreign-chain transaction id.
	TxHash string `json:"txHash"`

	// Amount is the deposited amount in base units, decimal encoded.
	Amount string `json:"amount"`

	// Confirmations is the depth the bridge has seen for the deposit.
	Confirmations uint32 `json:"confirmations"`
}

// BurnPayout is the bridge's view of the foreign-chain release that follows
// an Ethereum-side burn.
type BurnPayout struct {
	// TxHash is the foreign-chain payout transaction, empty until the
	// bridge has released funds.
	TxHash string `json:"txHash"`

	// Amount is the released amount in base units, decimal encoded.
	Amount string `json:"amount"`

	// Completed is true once the payout transaction is final.
	Completed bool `json:"completed"`
}

// Shift is a single trade's session with the bridge. It carries the
// commitment and the intermediate bridge artifacts so that the generate,
// wait and submit steps can each be retried without repeating the earlier
// ones.
type Shift struct {
	client *Client

	chain      registry.Chain
	commitment Commitment
	hash       common.Hash

	depositAddr string
	deposit     *Deposit
	messageID   string
	signature   []byte
}

// NewShift binds a commitment to the bridge client. The deposit chain is the
// foreign chain the source token lives on.
func (c *Client) NewShift(chain registry.Chain,
	commitment Commitment) (*Shift, error) {

	hash, err := commitment.Hash()
	if err != nil {
		return nil, err
	}

	return &Shift{
		client:     c,
		chain:      chain,
		commitment: commitment,
		hash:       hash,
	}, nil
}

// Hash returns the commitment hash the shift was created with.
func (s *Shift) Hash() common.Hash {
	return s.hash
}

// DepositAddress returns the generated deposit address, empty before
// GenerateAddress has run.
func (s *Shift) DepositAddress() string {
	return s.depositAddr
}

// Deposit returns the observed deposit, nil before WaitForDeposit has seen
// one.
func (s *Shift) Deposit() *Deposit {
	return s.deposit
}

// MessageID returns the bridge message id, empty before SubmitDeposit has
// acknowledged the deposit.
func (s *Shift) MessageID() string {
	return s.messageID
}

// Signature returns the bridge network's settlement signature, nil before
// SubmitDeposit has completed.
func (s *Shift) Signature() []byte {
	return s.signature
}

type generateAddressRequest struct {
	Chain      string `json:"chain"`
	Commitment string `json:"commitment"`
}

type generateAddressResponse struct {
	Address string `json:"address"`
}

// GenerateAddress asks the bridge for the deposit address bound to the
// shift's commitment. Address derivation on the bridge side is a pure
// function of the commitment hash, so calling this again, including after a
// restart, returns the same address. An already generated address is
// returned without a round trip.
func (s *Shift) GenerateAddress(ctx context.Context) (string, error) {
	if s.depositAddr != "" {
		return s.depositAddr, nil
	}

	var resp generateAddressResponse
	err := s.client.call(ctx, "shift_generateAddress",
		&generateAddressRequest{
			Chain:      string(s.chain),
			Commitment: s.hash.Hex(),
		}, &resp,
	)
	if err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", errors.New("bridge returned empty deposit address")
	}

	log.Infof("Shift %v: deposit address %v", s.hash, resp.Address)

	s.depositAddr = resp.Address

	return resp.Address, nil
}

type pollDepositRequest struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

type pollDepositResponse struct {
	Deposit *Deposit `json:"deposit"`
}

// WaitForDeposit polls the bridge until a deposit to the shift's address has
// at least confs confirmations, or the context is cancelled. It requires
// GenerateAddress to have run first.
func (s *Shift) WaitForDeposit(ctx context.Context,
	confs uint32) (*Deposit, error) {

	if s.depositAddr == "" {
		return nil, ErrNoDepositAddress
	}
	if s.deposit != nil && s.deposit.Confirmations >= confs {
		return s.deposit, nil
	}

	for {
		var resp pollDepositResponse
		err := s.client.call(ctx, "shift_pollDeposit",
			&pollDepositRequest{
				Chain:   string(s.chain),
				Address: s.depositAddr,
			}, &resp,
		)
		switch {
		case err != nil:
			// Keep polling through transient bridge failures, the
			// context bounds the total wait.
			log.Warnf("Shift %v: deposit poll: %v", s.hash, err)

		case resp.Deposit != nil:
			s.deposit = resp.Deposit

			if resp.Deposit.Confirmations >= confs {
				log.Infof("Shift %v: deposit %v confirmed "+
					"(%v confs)", s.hash,
					resp.Deposit.TxHash,
					resp.Deposit.Confirmations)

				return resp.Deposit, nil
			}

			log.Debugf("Shift %v: deposit %v at %v/%v confs",
				s.hash, resp.Deposit.TxHash,
				resp.Deposit.Confirmations, confs)
		}

		select {
		case <-s.client.cfg.Clock.TickAfter(s.client.cfg.PollInterval):

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type submitDepositRequest struct {
	Chain      string `json:"chain"`
	Commitment string `json:"commitment"`
	TxHash     string `json:"txHash"`
}

type submitDepositResponse struct {
	MessageID string `json:"messageId"`
}

type queryMessageRequest struct {
	MessageID string `json:"messageId"`
}

type queryMessageResponse struct {
	Status    string `json:"status"`
	Signature string `json:"signature"`
}

// Message status values reported by the bridge.
const (
	messageStatusPending  = "pending"
	messageStatusSigned   = "signed"
	messageStatusRejected = "rejected"
)

// SubmitDeposit registers the observed deposit with the bridge network and
// polls until the network has signed the mint message. The message id is
// reported through onMessageID as soon as it is known, before the
// potentially long signature wait, so the caller can persist it for resume.
// It requires WaitForDeposit to have run first.
func (s *Shift) SubmitDeposit(ctx context.Context,
	onMessageID func(messageID string) error) ([]byte, error) {

	if s.deposit == nil {
		return nil, ErrNoDeposit
	}
	if s.signature != nil {
		return s.signature, nil
	}

	if s.messageID == "" {
		var resp submitDepositResponse
		err := s.client.call(ctx, "shift_submitDeposit",
			&submitDepositRequest{
				Chain:      string(s.chain),
				Commitment: s.hash.Hex(),
				TxHash:     s.deposit.TxHash,
			}, &resp,
		)
		if err != nil {
			return nil, err
		}
		if resp.MessageID == "" {
			return nil, errors.New("bridge returned empty " +
				"message id")
		}

		s.messageID = resp.MessageID

		log.Infof("Shift %v: submitted as message %v", s.hash,
			s.messageID)
	}

	if onMessageID != nil {
		if err := onMessageID(s.messageID); err != nil {
			return nil, err
		}
	}

	for {
		var resp queryMessageResponse
		err := s.client.call(ctx, "shift_queryMessage",
			&queryMessageRequest{MessageID: s.messageID}, &resp,
		)
		switch {
		case err != nil:
			log.Warnf("Shift %v: message poll: %v", s.hash, err)

		case resp.Status == messageStatusRejected:
			return nil, ErrMessageRejected

		case resp.Status == messageStatusSigned:
			sig, err := hex.DecodeString(resp.Signature)
			if err != nil {
				return nil, fmt.Errorf("decode bridge "+
					"signature: %w", err)
			}
			if len(sig) == 0 {
				return nil, errors.New("bridge returned " +
					"empty signature")
			}

			log.Infof("Shift %v: message %v signed", s.hash,
				s.messageID)

			s.signature = sig

			return sig, nil
		}

		select {
		case <-s.client.cfg.Clock.TickAfter(s.client.cfg.PollInterval):

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ResumeDeposit restores a shift's intermediate state from persisted values
// so a restarted trade can skip the steps it already completed.
func (s *Shift) ResumeDeposit(depositAddr string, deposit *Deposit,
	messageID string) {

	s.depositAddr = depositAddr
	s.deposit = deposit
	s.messageID = messageID
}

type burnStatusRequest struct {
	TxHash string `json:"txHash"`
}

// BurnStatus queries the bridge for the foreign-chain payout that follows
// the given Ethereum burn transaction.
func (c *Client) BurnStatus(ctx context.Context,
	burnTxHash common.Hash) (*BurnPayout, error) {

	var resp BurnPayout
	err := c.call(ctx, "shift_burnStatus",
		&burnStatusRequest{TxHash: burnTxHash.Hex()}, &resp,
	)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// WaitForBurnPayout polls BurnStatus until the bridge reports a completed
// payout or the context is cancelled.
func (c *Client) WaitForBurnPayout(ctx context.Context,
	burnTxHash common.Hash) (*BurnPayout, error) {

	for {
		payout, err := c.BurnStatus(ctx, burnTxHash)
		switch {
		case err != nil:
			log.Warnf("Burn %v: status poll: %v", burnTxHash, err)

		case payout.Completed:
			log.Infof("Burn %v: paid out in %v", burnTxHash,
				payout.TxHash)

			return payout, nil
		}

		select {
		case <-c.cfg.Clock.TickAfter(c.cfg.PollInterval):

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
