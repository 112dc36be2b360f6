package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/nathanyu/matching-core/internal/domain"
)

// ErrNoSequence is returned when appending a trade that was never stamped by
// the sequencer.
var ErrNoSequence = errors.New("trade has no outbound sequence id")

var keyPrefix = []byte("trade/")

// Journal is a durable, ordered log of executed trades keyed by outbound
// sequence ID. Iteration order is sequence order.
type Journal struct {
	db *pebble.DB
}

// Open opens or creates a journal in dir.
func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// AppendBatch writes trades atomically: all of them are durable or none.
func (j *Journal) AppendBatch(trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := j.db.NewBatch()
	defer batch.Close()

	for _, t := range trades {
		if t.SequenceID == 0 {
			return fmt.Errorf("trade %s: %w", t.TradeID, ErrNoSequence)
		}
		val, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode trade %s: %w", t.TradeID, err)
		}
		if err := batch.Set(keyFor(t.SequenceID), val, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Replay calls fn for every trade with a sequence ID greater than after, in
// sequence order. A non-nil error from fn stops the scan and is returned.
func (j *Journal) Replay(after uint64, fn func(domain.Trade) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: keyFor(after + 1),
		UpperBound: upperBound(),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var t domain.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return fmt.Errorf("decode trade at %x: %w", iter.Key(), err)
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return iter.Error()
}

// LastSequence returns the highest sequence ID stored, or 0 when empty.
func (j *Journal) LastSequence() (uint64, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: upperBound(),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// key layout: "trade/" + big-endian uint64, so byte order is sequence order
func keyFor(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

func upperBound() []byte {
	key := make([]byte, len(keyPrefix))
	copy(key, keyPrefix)
	key[len(key)-1]++
	return key
}

func parseKey(key []byte) (uint64, error) {
	if len(key) != len(keyPrefix)+8 {
		return 0, fmt.Errorf("malformed journal key %x", key)
	}
	return binary.BigEndian.Uint64(key[len(keyPrefix):]), nil
}
