package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/xtrntr/gridledger/internal/models"
)

const (
	prefix = "event/"
	upper  = "event/~"
)

// Journal is a local write-ahead record of ledger events keyed by sequence.
// Rewriting a sequence overwrites it, so redelivery is harmless.
type Journal struct {
	db *pebble.DB
}

func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Name() string { return "journal" }

// Append writes the batch atomically and syncs it
func (j *Journal) Append(ctx context.Context, events []models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := j.db.NewBatch()
	defer batch.Close()
	for _, ev := range events {
		val, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event %d: %w", ev.Sequence, err)
		}
		if err := batch.Set(keyFor(ev.Sequence), val, nil); err != nil {
			return fmt.Errorf("failed to stage event %d: %w", ev.Sequence, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit journal batch: %w", err)
	}
	return nil
}

// Replay calls fn for each event with sequence >= from, in sequence order
func (j *Journal) Replay(from uint64, fn func(models.Event) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: keyFor(from),
		UpperBound: []byte(upper),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var ev models.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return fmt.Errorf("failed to decode %s: %w", iter.Key(), err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Last returns the highest sequence in the journal, zero when empty
func (j *Journal) Last() (uint64, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(upper),
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

// Keys are zero padded so lexical order is sequence order
func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, seq))
}

func parseKey(key []byte) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(string(key), prefix), 10, 64)
}
