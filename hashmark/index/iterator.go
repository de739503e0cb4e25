package index

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Iterator walks indexed events newest first over a point-in-time snapshot.
// Syncs that happen while it is open are not visible to it.
type Iterator struct {
	it      iterator.Iterator
	started bool
	cur     Entry
	err     error
}

func (ix *Index) Recent() *Iterator {
	return &Iterator{it: ix.db.NewIterator(util.BytesPrefix(eventPrefix), nil)}
}

func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	var ok bool
	if !it.started {
		ok, it.started = it.it.Last(), true
	} else {
		ok = it.it.Prev()
	}
	if !ok {
		it.err = it.it.Error()
		return false
	}
	it.cur = Entry{}
	if err := cbor.Unmarshal(it.it.Value(), &it.cur); err != nil {
		it.err = fmt.Errorf("index: decode entry: %w", err)
		return false
	}
	return true
}

func (it *Iterator) Entry() Entry {
	return it.cur
}

func (it *Iterator) Err() error {
	return it.err
}

// Reset rewinds to the newest entry of the same snapshot.
func (it *Iterator) Reset() {
	it.started, it.err, it.cur = false, nil, Entry{}
}

func (it *Iterator) Release() {
	it.it.Release()
}
