// Package memtable implements the in-memory write buffer ordered by table
// key (§5.5). Adapted from the teacher's pkg/memtable/memtable.go and
// sorted_set.go, which backed an iSortedSet interface with a hand-rolled
// binary-searched slice guarded by a mutex; this version keeps the same
// threshold/overload contract but swaps the backing structure for
// zhangyunhao116/skipmap's lock-free skip list, ordered by the engine's
// own tablekey.Less instead of byte-wise key comparison.
package memtable

import (
	"errors"

	"github.com/zhangyunhao116/skipmap"

	"lsmtree/pkg/tablekey"
)

// ErrOverload is returned by Insert once the memtable's entry count has
// reached its configured capacity (§5.5): the caller must trigger a minor
// compaction and swap in a fresh memtable before further writes succeed.
var ErrOverload = errors.New("memtable: capacity exceeded")

// Memtable is an ordered, bounded set of table keys. A single (UK, Seq)
// pair never repeats within one memtable generation: callers allocate a
// fresh SeqNum per logical write, so every Insert is a genuine add, never
// a replace.
type Memtable struct {
	capacity int
	sm       *skipmap.FuncMap[tablekey.TableKey, struct{}]
}

// New creates an empty memtable bounded to capacity entries.
func New(capacity int) *Memtable {
	return &Memtable{
		capacity: capacity,
		sm:       skipmap.NewFunc[tablekey.TableKey, struct{}](tablekey.Less),
	}
}

// Insert adds tk to the memtable. Returns ErrOverload once the memtable
// has reached capacity; the key is still inserted; the caller is expected
// to stop accepting further writes against this generation.
func (mt *Memtable) Insert(tk tablekey.TableKey) error {
	mt.sm.Store(tk, struct{}{})
	if mt.sm.Len() >= mt.capacity {
		return ErrOverload
	}
	return nil
}

// Len reports the current entry count.
func (mt *Memtable) Len() int {
	return mt.sm.Len()
}

// Get performs the positional lookup described in §4.1: the first stored
// table key with the given user key and a sequence number no newer than
// lookup.Seq. Returns ok=false if no such key exists. A Delete tombstone
// is returned like any other entry (ok=true); the caller distinguishes
// via tk.W.
func (mt *Memtable) Get(lookup tablekey.LookupKey) (tablekey.TableKey, bool) {
	var (
		found tablekey.TableKey
		ok    bool
	)
	mt.sm.Range(func(tk tablekey.TableKey, _ struct{}) bool {
		if tk.UK < lookup.UK || (tk.UK == lookup.UK && tk.Seq > lookup.Seq) {
			return true // smaller key, or newer than the snapshot: keep scanning
		}
		if tk.UK != lookup.UK {
			return false // moved past this user key's run entirely
		}
		found, ok = tk, true
		return false
	})
	return found, ok
}

// Iterator returns a cursor over a consistent snapshot of the memtable's
// contents in ascending table-key order, suitable for minor compaction
// (§5.5, §5.8) or merge iteration.
func (mt *Memtable) Iterator() *Iterator {
	keys := make([]tablekey.TableKey, 0, mt.sm.Len())
	mt.sm.Range(func(tk tablekey.TableKey, _ struct{}) bool {
		keys = append(keys, tk)
		return true
	})
	return &Iterator{keys: keys}
}

// Iterator walks a fixed snapshot of table keys in ascending order. It
// satisfies both pkg/sstable.KeySource and the pkg/iter.TableKeyIterator
// shape (Next/Peek/Seek).
type Iterator struct {
	keys []tablekey.TableKey
	pos  int
}

// Next returns the current key and advances, or ok=false at end of input.
func (it *Iterator) Next() (tablekey.TableKey, bool) {
	if it.pos >= len(it.keys) {
		return tablekey.TableKey{}, false
	}
	tk := it.keys[it.pos]
	it.pos++
	return tk, true
}

// Peek returns the current key without advancing.
func (it *Iterator) Peek() (tablekey.TableKey, bool) {
	if it.pos >= len(it.keys) {
		return tablekey.TableKey{}, false
	}
	return it.keys[it.pos], true
}

// Seek advances to the first key >= target.
func (it *Iterator) Seek(target tablekey.TableKey) {
	for it.pos < len(it.keys) && tablekey.Less(it.keys[it.pos], target) {
		it.pos++
	}
}
