// Package iter implements the engine's unified cursor stack: a single
// TableKeyIterator shape (Next/Peek/Seek) is satisfied by block, table,
// run, level, tree, and memtable readers alike, and a heap-based merge
// combines any number of them into one ordered stream (§5.8). Grounded
// on the teacher's pkg/iterator/iterator.go (the Seek/Next/Valid cursor
// contract), generalized from a single-source byte-key iterator to a
// merging, multi-source table-key iterator.
package iter

import (
	"container/heap"

	"lsmtree/pkg/tablekey"
)

// TableKeyIterator is the shape every cursor in the stack implements.
type TableKeyIterator interface {
	// Next returns the current key and advances, or ok=false at end of input.
	Next() (tablekey.TableKey, bool)
	// Peek returns the current key without advancing.
	Peek() (tablekey.TableKey, bool)
	// Seek advances to the first key >= target.
	Seek(target tablekey.TableKey)
}

// SliceIterator adapts a fixed, pre-sorted slice of table keys into a
// TableKeyIterator.
type SliceIterator struct {
	keys []tablekey.TableKey
	pos  int
}

func NewSliceIterator(keys []tablekey.TableKey) *SliceIterator {
	return &SliceIterator{keys: keys}
}

func (it *SliceIterator) Next() (tablekey.TableKey, bool) {
	if it.pos >= len(it.keys) {
		return tablekey.TableKey{}, false
	}
	tk := it.keys[it.pos]
	it.pos++
	return tk, true
}

func (it *SliceIterator) Peek() (tablekey.TableKey, bool) {
	if it.pos >= len(it.keys) {
		return tablekey.TableKey{}, false
	}
	return it.keys[it.pos], true
}

func (it *SliceIterator) Seek(target tablekey.TableKey) {
	for it.pos < len(it.keys) && tablekey.Less(it.keys[it.pos], target) {
		it.pos++
	}
}

// ConcatIterator chains a sequence of non-overlapping, ascending
// iterators end to end — the shape of a sorted run: binary searchable,
// concatenable SSTables (§4.4).
type ConcatIterator struct {
	sources []TableKeyIterator
	idx     int
}

func NewConcatIterator(sources []TableKeyIterator) *ConcatIterator {
	return &ConcatIterator{sources: sources}
}

func (it *ConcatIterator) advance() {
	for it.idx < len(it.sources) {
		if _, ok := it.sources[it.idx].Peek(); ok {
			return
		}
		it.idx++
	}
}

func (it *ConcatIterator) Next() (tablekey.TableKey, bool) {
	it.advance()
	if it.idx >= len(it.sources) {
		return tablekey.TableKey{}, false
	}
	return it.sources[it.idx].Next()
}

func (it *ConcatIterator) Peek() (tablekey.TableKey, bool) {
	it.advance()
	if it.idx >= len(it.sources) {
		return tablekey.TableKey{}, false
	}
	return it.sources[it.idx].Peek()
}

func (it *ConcatIterator) Seek(target tablekey.TableKey) {
	for it.idx < len(it.sources) {
		if tk, ok := it.sources[it.idx].Peek(); ok && !tablekey.Less(tk, target) {
			break
		}
		it.sources[it.idx].Seek(target)
		if tk, ok := it.sources[it.idx].Peek(); ok && !tablekey.Less(tk, target) {
			break
		}
		it.idx++
	}
}

// heapItem pairs a source iterator with its current head key, so the
// min-heap can compare without re-peeking through an interface on every
// Less call.
type heapItem struct {
	head tablekey.TableKey
	src  TableKeyIterator
}

type keyHeap []*heapItem

func (h keyHeap) Len() int            { return len(h) }
func (h keyHeap) Less(i, j int) bool  { return tablekey.Less(h[i].head, h[j].head) }
func (h keyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *keyHeap) Push(x interface{}) { *h = append(*h, x.(*heapItem)) }
func (h *keyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MergeIterator heap-merges any number of ascending TableKeyIterators
// into a single ascending stream, used at the Level, Tree, and DB layers
// (§5.7, §5.8, §5.11). Entries with equal UK from different sources
// interleave by Seq (descending) automatically, since that ordering is
// baked into tablekey.Compare.
type MergeIterator struct {
	h keyHeap
}

// NewMergeIterator builds a merge over sources, each already positioned
// at its first key.
func NewMergeIterator(sources []TableKeyIterator) *MergeIterator {
	m := &MergeIterator{}
	for _, s := range sources {
		if tk, ok := s.Peek(); ok {
			m.h = append(m.h, &heapItem{head: tk, src: s})
		}
	}
	heap.Init(&m.h)
	return m
}

func (m *MergeIterator) Next() (tablekey.TableKey, bool) {
	if len(m.h) == 0 {
		return tablekey.TableKey{}, false
	}
	top := m.h[0]
	tk, _ := top.src.Next()
	if next, ok := top.src.Peek(); ok {
		top.head = next
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
	return tk, true
}

func (m *MergeIterator) Peek() (tablekey.TableKey, bool) {
	if len(m.h) == 0 {
		return tablekey.TableKey{}, false
	}
	return m.h[0].head, true
}

// Seek advances every source past target and rebuilds the heap. Used
// rarely (merge iterators are typically drained front to back during
// compaction), but kept for interface conformance.
func (m *MergeIterator) Seek(target tablekey.TableKey) {
	var rebuilt keyHeap
	for _, item := range m.h {
		item.src.Seek(target)
		if tk, ok := item.src.Peek(); ok {
			item.head = tk
			rebuilt = append(rebuilt, item)
		}
	}
	m.h = rebuilt
	heap.Init(&m.h)
}
