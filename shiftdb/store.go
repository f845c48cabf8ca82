package shiftdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.etcd.io/bbolt"
)

var (
	// dbFileName is the default file name of the client-side trade
	// database.
	dbFileName = "shift.db"

	// tradesBucketKey is a bucket that contains all trades that are
	// currently pending or completed. This bucket is keyed by the
	// commitment hash, and leads to a nested sub-bucket that houses
	// information for that trade.
	//
	// maps: commitmentHash -> tradeBucket
	tradesBucketKey = []byte("trades")

	// updatesBucketKey is a bucket that contains all updates pertaining
	// to a trade. This is a sub-bucket of the trade bucket for a
	// particular trade. This list only ever grows.
	//
	// path: tradesBucket -> tradeBucket[hash] -> updatesBucket
	//
	// maps: updateNumber -> serialized TradeEvent
	updatesBucketKey = []byte("updates")

	// contractKey is the key that stores the serialized trade contract.
	// It is nested within the sub-bucket for each active trade.
	//
	// path: tradesBucket -> tradeBucket[hash] -> contractKey
	contractKey = []byte("contract")

	// historyBucketKey is a bucket that contains one event per completed
	// trade, keyed by the outbound transaction hash. The bucket name
	// doubles as the history schema version; earlier schemas are not
	// migrated, matching the behavior of the web client this store
	// replaces.
	//
	// maps: outTxHash -> serialized HistoryEvent
	historyBucketKey = []byte("order-history-v3")
)

// fileExists returns true if the file exists, and false otherwise.
func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// boltTradeStore stores trade data in boltdb.
type boltTradeStore struct {
	db *bbolt.DB
}

// A compile-time check to ensure that boltTradeStore implements the Store
// interface.
var _ Store = (*boltTradeStore)(nil)

// NewBoltTradeStore creates a new client trade store under dbPath.
func NewBoltTradeStore(dbPath string) (*boltTradeStore, error) {
	// If the target path for the trade store doesn't exist, then we'll
	// create it now before we proceed.
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return nil, err
		}
	}

	// Now that we know that path exists, we'll open up bolt, which
	// implements our default trade store.
	path := filepath.Join(dbPath, dbFileName)
	bdb, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	// We'll create all the buckets we need if this is the first time
	// we're starting up. If they already exist, then these calls will be
	// noops.
	err = bdb.Update(func(tx *bbolt.Tx) error {
		metaBucket := tx.Bucket(metaBucketKey)
		if metaBucket == nil {
			log.Infof("Initializing new database with version %v",
				latestDBVersion)

			err := setDBVersion(tx, latestDBVersion)
			if err != nil {
				return err
			}
		}

		if _, err := tx.CreateBucketIfNotExists(tradesBucketKey); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(historyBucketKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Sync the db version to pick up any possible migrations.
	if err := syncVersions(bdb); err != nil {
		return nil, err
	}

	return &boltTradeStore{db: bdb}, nil
}

// FetchTrades returns all trades currently in the store.
//
// NOTE: Part of the Store interface.
func (s *boltTradeStore) FetchTrades(_ context.Context) ([]*Trade, error) {
	var trades []*Trade

	err := s.db.View(func(tx *bbolt.Tx) error {
		rootBucket := tx.Bucket(tradesBucketKey)
		if rootBucket == nil {
			return errors.New("bucket does not exist")
		}

		// Traverse the root bucket for all trades. The primary key is
		// the commitment hash itself.
		return rootBucket.ForEach(func(hash, v []byte) error {
			// Only go into things that we know are sub-bucket
			// keys.
			if v != nil {
				return nil
			}

			tradeBucket := rootBucket.Bucket(hash)
			if tradeBucket == nil {
				return fmt.Errorf("trade bucket %x not found",
					hash)
			}

			trade, err := deserializeTrade(hash, tradeBucket)
			if err != nil {
				return err
			}

			trades = append(trades, trade)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return trades, nil
}

// CreateTrade adds an initiated trade to the store.
//
// NOTE: Part of the Store interface.
func (s *boltTradeStore) CreateTrade(_ context.Context, hash common.Hash,
	contract *TradeContract) error {

	// If the hash doesn't match the contract, we have a programming
	// error and should abort before anything hits disk.
	if contract == nil {
		return errors.New("no contract provided")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		rootBucket := tx.Bucket(tradesBucketKey)
		if rootBucket == nil {
			return errors.New("bucket does not exist")
		}

		if rootBucket.Bucket(hash[:]) != nil {
			return fmt.Errorf("trade %v already exists", hash)
		}

		tradeBucket, err := rootBucket.CreateBucket(hash[:])
		if err != nil {
			return err
		}

		rawContract, err := json.Marshal(contract)
		if err != nil {
			return err
		}

		if err := tradeBucket.Put(contractKey, rawContract); err != nil {
			return err
		}

		_, err = tradeBucket.CreateBucket(updatesBucketKey)
		return err
	})
}

// UpdateTrade appends a state update to an existing trade.
//
// NOTE: Part of the Store interface.
func (s *boltTradeStore) UpdateTrade(_ context.Context, hash common.Hash,
	t time.Time, state TradeStateData) error {

	return s.db.Update(func(tx *bbolt.Tx) error {
		rootBucket := tx.Bucket(tradesBucketKey)
		if rootBucket == nil {
			return errors.New("bucket does not exist")
		}

		tradeBucket := rootBucket.Bucket(hash[:])
		if tradeBucket == nil {
			return fmt.Errorf("trade %v not found", hash)
		}

		updatesBucket := tradeBucket.Bucket(updatesBucketKey)
		if updatesBucket == nil {
			return errors.New("updates bucket does not exist")
		}

		id, err := updatesBucket.NextSequence()
		if err != nil {
			return err
		}

		rawEvent, err := json.Marshal(&TradeEvent{
			TradeStateData: state,
			Time:           t,
		})
		if err != nil {
			return err
		}

		return updatesBucket.Put(itob(id), rawEvent)
	})
}

// AddHistoryEvent merges a completed trade into the history bucket. The
// write is read-modify-write safe: only the event's own key is touched and
// an existing entry for the same outbound transaction is never overwritten.
//
// NOTE: Part of the Store interface.
func (s *boltTradeStore) AddHistoryEvent(_ context.Context,
	event *HistoryEvent) (bool, error) {

	if event.OutTx.Hash == "" {
		return false, errors.New("history event without outbound tx")
	}

	var added bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(historyBucketKey)
		if bucket == nil {
			return errors.New("bucket does not exist")
		}

		key := []byte(event.OutTx.Hash)
		if bucket.Get(key) != nil {
			// Already recorded for this trade.
			return nil
		}

		rawEvent, err := json.Marshal(event)
		if err != nil {
			return err
		}

		added = true

		return bucket.Put(key, rawEvent)
	})
	if err != nil {
		return false, err
	}

	return added, nil
}

// MarkHistoryComplete flips the Complete flag of the history event keyed by
// the given outbound transaction hash. Used for burns, whose foreign-chain
// payout is reported after the event has been recorded.
//
// NOTE: Part of the Store interface.
func (s *boltTradeStore) MarkHistoryComplete(_ context.Context,
	outTxHash string) error {

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(historyBucketKey)
		if bucket == nil {
			return errors.New("bucket does not exist")
		}

		key := []byte(outTxHash)
		raw := bucket.Get(key)
		if raw == nil {
			return fmt.Errorf("no history event for %v", outTxHash)
		}

		var event HistoryEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return err
		}

		if event.Complete {
			return nil
		}
		event.Complete = true

		rawEvent, err := json.Marshal(&event)
		if err != nil {
			return err
		}

		return bucket.Put(key, rawEvent)
	})
}

// FetchHistory returns all recorded history events, most recent first.
//
// NOTE: Part of the Store interface.
func (s *boltTradeStore) FetchHistory(_ context.Context) ([]*HistoryEvent,
	error) {

	var events []*HistoryEvent

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(historyBucketKey)
		if bucket == nil {
			return errors.New("bucket does not exist")
		}

		return bucket.ForEach(func(_, v []byte) error {
			var event HistoryEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}

			events = append(events, &event)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Time.After(events[j].Time)
	})

	return events, nil
}

// Close closes the underlying database.
//
// NOTE: Part of the Store interface.
func (s *boltTradeStore) Close() error {
	return s.db.Close()
}

// deserializeTrade reconstructs a trade from its bucket.
func deserializeTrade(hash []byte, bucket *bbolt.Bucket) (*Trade, error) {
	rawContract := bucket.Get(contractKey)
	if rawContract == nil {
		return nil, errors.New("contract not found")
	}

	contract := &TradeContract{}
	if err := json.Unmarshal(rawContract, contract); err != nil {
		return nil, err
	}

	trade := &Trade{
		Hash:     common.BytesToHash(hash),
		Contract: contract,
	}

	updatesBucket := bucket.Bucket(updatesBucketKey)
	if updatesBucket == nil {
		return nil, errors.New("updates bucket not found")
	}

	err := updatesBucket.ForEach(func(_, v []byte) error {
		event := &TradeEvent{}
		if err := json.Unmarshal(v, event); err != nil {
			return err
		}

		trade.Events = append(trade.Events, event)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return trade, nil
}
