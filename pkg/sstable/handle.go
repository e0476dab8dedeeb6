package sstable

import (
	"fmt"
	"os"
	"sync"

	"lsmtree/pkg/bloomfilter"
	"lsmtree/pkg/dberrors"
	"lsmtree/pkg/tablekey"
)

// BlockCache caches decoded data blocks by a string key, adapted from the
// teacher's pkg/persistence/block_cache.go LRU (kept verbatim in shape,
// repurposed to cache []tablekey.TableKey blocks instead of raw bytes).
type BlockCache interface {
	Get(key string) ([]tablekey.TableKey, bool)
	Set(key string, block []tablekey.TableKey)
}

// Handle is an opened SSTable: its footer, fence pointers, and bloom
// filter are resident in memory; data blocks are read on demand through a
// short-lived buffered reader (§5).
type Handle struct {
	meta   Meta
	path   string
	blockSize int32

	mu     sync.RWMutex
	fences []fencePointer
	filter *bloomfilter.Filter
	cache  BlockCache
}

// Open reads the footer, index block, and filter block into memory.
// Fails with dberrors.ErrInvalidFormat if the footer magic mismatches.
func Open(path string, blockSize int32, bloomParams bloomfilter.Params, cache BlockCache) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sstable: %v", dberrors.ErrIOError, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat sstable: %v", dberrors.ErrIOError, err)
	}
	if stat.Size() < footerSize {
		return nil, fmt.Errorf("%w: sstable smaller than footer", dberrors.ErrInvalidFormat)
	}

	footerBuf := make([]byte, footerSize)
	if _, err := f.ReadAt(footerBuf, stat.Size()-footerSize); err != nil {
		return nil, fmt.Errorf("%w: read footer: %v", dberrors.ErrIOError, err)
	}
	ft, err := decodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}

	indexBuf := make([]byte, ft.indexSize)
	if ft.indexSize > 0 {
		if _, err := f.ReadAt(indexBuf, ft.indexOff); err != nil {
			return nil, fmt.Errorf("%w: read index block: %v", dberrors.ErrIOError, err)
		}
	}
	fences, err := decodeFence(indexBuf)
	if err != nil {
		return nil, err
	}

	filterBuf := make([]byte, ft.filterSize)
	if ft.filterSize > 0 {
		if _, err := f.ReadAt(filterBuf, ft.filterOff); err != nil {
			return nil, fmt.Errorf("%w: read filter block: %v", dberrors.ErrIOError, err)
		}
	}
	filter, err := bloomfilter.Load(bloomParams, filterBuf)
	if err != nil {
		return nil, err
	}

	if ft.keyCount > 0 {
		if tablekey.Compare(ft.minKey, ft.maxKey) > 0 {
			return nil, fmt.Errorf("%w: sstable %s bounds inverted", dberrors.ErrCorruption, path)
		}
	}

	return &Handle{
		meta: Meta{
			FileID:    0,
			Path:      path,
			MinKey:    ft.minKey,
			MaxKey:    ft.maxKey,
			SizeBytes: stat.Size(),
			KeyCount:  int(ft.keyCount),
		},
		path:      path,
		blockSize: blockSize,
		fences:    fences,
		filter:    filter,
		cache:     cache,
	}, nil
}

// SetFileID records the file's numeric id (parsed separately from its path
// by the level/manifest layer, which owns the id namespace).
func (h *Handle) SetFileID(id uint64) { h.meta.FileID = id }

func (h *Handle) Meta() Meta   { return h.meta }
func (h *Handle) Path() string { return h.path }

// MayContain consults the filter only (§4.3).
func (h *Handle) MayContain(uk tablekey.UserKey) bool {
	return h.filter.MayContain(encodeUK(uk))
}

// blockCount returns the number of data blocks (= number of fence pointers).
func (h *Handle) blockCount() int { return len(h.fences) }

// findBlock performs the linear scan over fence pointers (sorted by
// max_table_key) described in §4.3 to locate the unique candidate data
// block for target. Returns -1 if target is past every block's range.
func (h *Handle) findBlock(target tablekey.TableKey) int {
	for i, fp := range h.fences {
		if tablekey.Compare(target, fp.maxKey) <= 0 {
			return i
		}
	}
	return -1
}

// readBlock loads and decodes data block i, consulting/populating the cache.
func (h *Handle) readBlock(i int) ([]tablekey.TableKey, error) {
	if i < 0 || i >= len(h.fences) {
		return nil, nil
	}
	cacheKey := fmt.Sprintf("%s#%d", h.path, i)
	if h.cache != nil {
		if block, ok := h.cache.Get(cacheKey); ok {
			return block, nil
		}
	}

	fp := h.fences[i]
	f, err := os.Open(h.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sstable for block read: %v", dberrors.ErrIOError, err)
	}
	defer f.Close()

	raw := make([]byte, fp.size)
	if _, err := f.ReadAt(raw, fp.offset); err != nil {
		return nil, fmt.Errorf("%w: read data block: %v", dberrors.ErrIOError, err)
	}

	keysPerBlock := len(raw) / tablekey.Size
	block := make([]tablekey.TableKey, 0, keysPerBlock)
	for off := 0; off+tablekey.Size <= len(raw); off += tablekey.Size {
		tk, err := tablekey.Decode(raw[off : off+tablekey.Size])
		if err != nil {
			return nil, err
		}
		if tk.Seq == 0 {
			// Zero-padding at the tail of the last (possibly partial) block:
			// real sequence numbers start at 1, so Seq==0 only occurs here.
			break
		}
		block = append(block, tk)
	}

	if h.cache != nil {
		h.cache.Set(cacheKey, block)
	}
	return block, nil
}

// Get performs point lookup: a linear scan of the fence pointers to the
// candidate block, then a linear scan inside it (§4.3). Returns ok=false if the key is absent.
func (h *Handle) Get(uk tablekey.UserKey) (tablekey.TableKey, bool, error) {
	if !h.MayContain(uk) {
		return tablekey.TableKey{}, false, nil
	}
	target := tablekey.TableKey{UK: uk, Seq: ^tablekey.SeqNum(0), W: tablekey.Empty}
	idx := h.findBlock(target)
	if idx == -1 {
		return tablekey.TableKey{}, false, nil
	}
	block, err := h.readBlock(idx)
	if err != nil {
		return tablekey.TableKey{}, false, err
	}
	for _, tk := range block {
		if tk.UK == uk {
			return tk, true, nil
		}
		if tk.UK > uk {
			break
		}
	}
	return tablekey.TableKey{}, false, nil
}

// Iterator returns a cursor that walks every table key in this SSTable in
// ascending order, reading data blocks on demand through the handle's
// cache (§5.8).
func (h *Handle) Iterator() *Iterator {
	return &Iterator{h: h, blockIdx: -1}
}

// Iterator walks an SSTable's table keys in ascending order, one data
// block at a time.
type Iterator struct {
	h        *Handle
	blockIdx int
	block    []tablekey.TableKey
	pos      int
	err      error
}

func (it *Iterator) advanceBlock() bool {
	it.blockIdx++
	if it.blockIdx >= it.h.blockCount() {
		it.block = nil
		return false
	}
	block, err := it.h.readBlock(it.blockIdx)
	if err != nil {
		it.err = err
		it.block = nil
		return false
	}
	it.block = block
	it.pos = 0
	return len(block) > 0
}

// Err returns the first error encountered while reading blocks, if any.
func (it *Iterator) Err() error { return it.err }

// fill advances through empty or exhausted blocks until the current
// position points at a real entry, or every block has been visited.
func (it *Iterator) fill() bool {
	for it.pos >= len(it.block) {
		if it.blockIdx >= it.h.blockCount()-1 {
			return false
		}
		it.advanceBlock()
	}
	return true
}

// Next returns the current key and advances.
func (it *Iterator) Next() (tablekey.TableKey, bool) {
	if !it.fill() {
		return tablekey.TableKey{}, false
	}
	tk := it.block[it.pos]
	it.pos++
	return tk, true
}

// Peek returns the current key without advancing.
func (it *Iterator) Peek() (tablekey.TableKey, bool) {
	if !it.fill() {
		return tablekey.TableKey{}, false
	}
	return it.block[it.pos], true
}

// Seek advances to the first key >= target, using the fence pointers to
// skip directly to the candidate block.
func (it *Iterator) Seek(target tablekey.TableKey) {
	idx := it.h.findBlock(target)
	if idx == -1 {
		it.blockIdx = it.h.blockCount()
		it.block = nil
		return
	}
	if idx != it.blockIdx {
		block, err := it.h.readBlock(idx)
		if err != nil {
			it.err = err
			return
		}
		it.blockIdx = idx
		it.block = block
		it.pos = 0
	}
	for it.pos < len(it.block) && tablekey.Less(it.block[it.pos], target) {
		it.pos++
	}
}
