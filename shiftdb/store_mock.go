package shiftdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// StoreMock implements a mock client trade store.
type StoreMock struct {
	sync.RWMutex

	Trades  map[common.Hash]*TradeContract
	Updates map[common.Hash][]TradeStateData
	History map[string]*HistoryEvent

	tradeStoreChan  chan TradeContract
	tradeUpdateChan chan TradeStateData

	t *testing.T
}

// A compile-time flag to ensure that StoreMock implements the Store
// interface.
var _ Store = (*StoreMock)(nil)

// NewStoreMock instantiates a new mock store.
func NewStoreMock(t *testing.T) *StoreMock {
	return &StoreMock{
		Trades:          make(map[common.Hash]*TradeContract),
		Updates:         make(map[common.Hash][]TradeStateData),
		History:         make(map[string]*HistoryEvent),
		tradeStoreChan:  make(chan TradeContract, 1),
		tradeUpdateChan: make(chan TradeStateData, 4),
		t:               t,
	}
}

// FetchTrades returns all trades currently in the store.
//
// NOTE: Part of the Store interface.
func (s *StoreMock) FetchTrades(_ context.Context) ([]*Trade, error) {
	s.RLock()
	defer s.RUnlock()

	result := []*Trade{}
	for hash, contract := range s.Trades {
		updates := s.Updates[hash]
		events := make([]*TradeEvent, len(updates))
		for i, u := range updates {
			events[i] = &TradeEvent{
				TradeStateData: u,
			}
		}

		result = append(result, &Trade{
			Hash:     hash,
			Contract: contract,
			Events:   events,
		})
	}

	return result, nil
}

// CreateTrade adds an initiated trade to the store.
//
// NOTE: Part of the Store interface.
func (s *StoreMock) CreateTrade(_ context.Context, hash common.Hash,
	contract *TradeContract) error {

	s.Lock()
	if _, ok := s.Trades[hash]; ok {
		s.Unlock()
		return fmt.Errorf("trade %v already exists", hash)
	}

	s.Trades[hash] = contract
	s.Updates[hash] = []TradeStateData{}
	s.Unlock()

	s.tradeStoreChan <- *contract

	return nil
}

// UpdateTrade appends a state update to an existing trade.
//
// NOTE: Part of the Store interface.
func (s *StoreMock) UpdateTrade(_ context.Context, hash common.Hash,
	_ time.Time, state TradeStateData) error {

	s.Lock()
	updates, ok := s.Updates[hash]
	if !ok {
		s.Unlock()
		return fmt.Errorf("trade %v not found", hash)
	}

	s.Updates[hash] = append(updates, state)
	s.Unlock()

	s.tradeUpdateChan <- state

	return nil
}

// AddHistoryEvent merges a completed trade into the history map.
//
// NOTE: Part of the Store interface.
func (s *StoreMock) AddHistoryEvent(_ context.Context,
	event *HistoryEvent) (bool, error) {

	s.Lock()
	defer s.Unlock()

	if _, ok := s.History[event.OutTx.Hash]; ok {
		return false, nil
	}

	s.History[event.OutTx.Hash] = event

	return true, nil
}

// MarkHistoryComplete flips the Complete flag of a recorded event.
//
// NOTE: Part of the Store interface.
func (s *StoreMock) MarkHistoryComplete(_ context.Context,
	outTxHash string) error {

	s.Lock()
	defer s.Unlock()

	event, ok := s.History[outTxHash]
	if !ok {
		return fmt.Errorf("no history event for %v", outTxHash)
	}

	event.Complete = true

	return nil
}

// FetchHistory returns all recorded history events, most recent first.
//
// NOTE: Part of the Store interface.
func (s *StoreMock) FetchHistory(_ context.Context) ([]*HistoryEvent, error) {
	s.RLock()
	defer s.RUnlock()

	events := make([]*HistoryEvent, 0, len(s.History))
	for _, event := range s.History {
		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Time.After(events[j].Time)
	})

	return events, nil
}

// Close closes the database.
//
// NOTE: Part of the Store interface.
func (s *StoreMock) Close() error {
	return nil
}

// AssertTradeStored asserts that a trade contract is stored.
func (s *StoreMock) AssertTradeStored() TradeContract {
	s.t.Helper()

	select {
	case contract := <-s.tradeStoreChan:
		return contract

	case <-time.After(5 * time.Second):
		s.t.Fatalf("trade not stored")
		return TradeContract{}
	}
}

// AssertState asserts that the most recent update matches the expected
// state.
func (s *StoreMock) AssertState(expected TradeState) TradeStateData {
	s.t.Helper()

	select {
	case update := <-s.tradeUpdateChan:
		require.Equal(s.t, expected, update.State)
		return update

	case <-time.After(5 * time.Second):
		s.t.Fatalf("timeout waiting for state %v", expected)
		return TradeStateData{}
	}
}

// AssertHistorySize asserts the number of recorded history events.
func (s *StoreMock) AssertHistorySize(expected int) {
	s.t.Helper()

	s.RLock()
	defer s.RUnlock()

	require.Len(s.t, s.History, expected)
}
