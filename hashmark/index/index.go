// Package index keeps a local copy of the registry's VideoAuthenticated
// events so listings and counts do not rescan the chain on every request.
// The chain stays authoritative; the index only ever appends what the chain
// reported and can be dropped and rebuilt at any time.
package index

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/proof"
)

const DefaultWindow = 10000

var (
	eventPrefix  = []byte("e")
	digestPrefix = []byte("d")
	cursorKey    = []byte("m:cursor")
	countKey     = []byte("m:count")
)

type Config struct {
	// File is the leveldb directory. Empty keeps the index in memory.
	File    string `yaml:"file"`
	Cache   int    `yaml:"cache"`
	Handles int    `yaml:"handles"`
	// StartBlock is where the first sync begins, normally the deploy block
	// of the registry.
	StartBlock uint64 `yaml:"start_block"`
	// Window bounds the block range of a single log query.
	Window uint64 `yaml:"log_window"`
}

// Entry is one indexed VideoAuthenticated event.
type Entry struct {
	Digest    fingerprint.Digest `cbor:"1,keyasint"`
	Creator   common.Address     `cbor:"2,keyasint"`
	Timestamp uint64             `cbor:"3,keyasint"`
	Block     uint64             `cbor:"4,keyasint"`
	TxHash    common.Hash        `cbor:"5,keyasint"`
	LogIndex  uint32             `cbor:"6,keyasint"`
}

func (e *Entry) Record(chainID uint64) proof.Record {
	return proof.Record{
		Digest:      e.Digest,
		Creator:     e.Creator,
		Timestamp:   e.Timestamp,
		TxHash:      e.TxHash,
		BlockNumber: e.Block,
		ChainID:     chainID,
	}
}

// Source produces the events of an inclusive block range in chain order.
type Source interface {
	Events(ctx context.Context, from, to uint64) ([]Entry, error)
}

type Index struct {
	db  *leveldb.DB
	cfg Config
	log log.Logger
	mu  sync.Mutex
}

func Open(cfg Config) (*Index, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if cfg.File == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(cfg.File, &opt.Options{
			BlockCacheCapacity:     cfg.Cache * opt.MiB,
			OpenFilesCacheCapacity: cfg.Handles,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("index: open %q: %w", cfg.File, err)
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	return &Index{db: db, cfg: cfg, log: log.New("module", "index")}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// Sync appends the events of [cursor, head] to the index, one committed
// window at a time. A failed window leaves the cursor at its start, so the
// next Sync resumes there.
func (ix *Index) Sync(ctx context.Context, src Source, head uint64) (added int, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	next, err := ix.cursor()
	if err != nil {
		return 0, err
	}
	count, err := ix.readUint(countKey)
	if err != nil {
		return 0, err
	}
	for next <= head {
		to := next + ix.cfg.Window - 1
		if to > head || to < next {
			to = head
		}
		entries, err := src.Events(ctx, next, to)
		if err != nil {
			return added, err
		}
		batch := new(leveldb.Batch)
		seen := make(map[fingerprint.Digest]bool, len(entries))
		for i := range entries {
			e := &entries[i]
			if e.Block < next || e.Block > to {
				return added, fmt.Errorf("index: event at block %d outside window %d-%d", e.Block, next, to)
			}
			if seen[e.Digest] {
				continue
			}
			known, err := ix.db.Has(digestKey(e.Digest), nil)
			if err != nil {
				return added, fmt.Errorf("index: %w", err)
			}
			if known {
				continue
			}
			val, err := cbor.Marshal(e)
			if err != nil {
				return added, fmt.Errorf("index: encode entry: %w", err)
			}
			key := eventKey(e.Block, e.LogIndex)
			batch.Put(key, val)
			batch.Put(digestKey(e.Digest), key)
			seen[e.Digest] = true
			count++
		}
		batch.Put(cursorKey, encodeUint(to+1))
		batch.Put(countKey, encodeUint(count))
		if err := ix.db.Write(batch, nil); err != nil {
			return added, fmt.Errorf("index: commit window %d-%d: %w", next, to, err)
		}
		added += len(seen)
		if len(seen) > 0 {
			ix.log.Debug("Indexed events", "from", next, "to", to, "added", len(seen), "total", count)
		}
		next = to + 1
		if to == head {
			break
		}
	}
	return added, nil
}

// Count is the number of indexed proofs.
func (ix *Index) Count() (uint64, error) {
	return ix.readUint(countKey)
}

// Cursor is the next block Sync will scan.
func (ix *Index) Cursor() (uint64, error) {
	return ix.cursor()
}

// Lookup returns the indexed event for d, if any.
func (ix *Index) Lookup(d fingerprint.Digest) (*Entry, bool, error) {
	key, err := ix.db.Get(digestKey(d), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("index: %w", err)
	}
	val, err := ix.db.Get(key, nil)
	if err != nil {
		return nil, false, fmt.Errorf("index: dangling digest key: %w", err)
	}
	e := new(Entry)
	if err := cbor.Unmarshal(val, e); err != nil {
		return nil, false, fmt.Errorf("index: decode entry: %w", err)
	}
	return e, true, nil
}

func (ix *Index) cursor() (uint64, error) {
	v, err := ix.db.Get(cursorKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return ix.cfg.StartBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("index: %w", err)
	}
	return decodeUint(v)
}

func (ix *Index) readUint(key []byte) (uint64, error) {
	v, err := ix.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("index: %w", err)
	}
	return decodeUint(v)
}

func eventKey(block uint64, logIndex uint32) []byte {
	key := make([]byte, len(eventPrefix)+8+4)
	n := copy(key, eventPrefix)
	binary.BigEndian.PutUint64(key[n:], block)
	binary.BigEndian.PutUint32(key[n+8:], logIndex)
	return key
}

func digestKey(d fingerprint.Digest) []byte {
	return append(append([]byte{}, digestPrefix...), d[:]...)
}

func encodeUint(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeUint(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("index: corrupt counter of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
