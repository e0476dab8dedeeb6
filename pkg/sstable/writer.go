// Package sstable implements the immutable, sorted, on-disk table format:
// data blocks, a fence-pointer index block, a bloom filter block, and a
// fixed footer (§3, §4.3, §6). Adapted from the teacher's
// pkg/persistance/sstable.go (open/footer/index handling) and
// pkg/persistence/levels.go (writeSSTableData), replacing their
// length-prefixed key/value records with fixed-width table keys and a
// bit-exact footer layout.
package sstable

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"lsmtree/pkg/bloomfilter"
	"lsmtree/pkg/dberrors"
	"lsmtree/pkg/tablekey"
)

// KeySource yields table keys in ascending §3 order, e.g. a memtable
// snapshot iterator or a compaction merge iterator.
type KeySource interface {
	Next() (tablekey.TableKey, bool)
}

// Meta describes one written SSTable.
type Meta struct {
	FileID    uint64
	Path      string
	MinKey    tablekey.TableKey
	MaxKey    tablekey.TableKey
	SizeBytes int64
	KeyCount  int
}

// WriteOptions configure a single WriteAll call.
type WriteOptions struct {
	Dir            string
	BlockSize      int32
	SSTableSizeCap int64
	Bloom          bloomfilter.Params
	NextFileID     func() uint64
}

// WriteAll drains src into one or more SSTables under dir, splitting to a
// new file whenever the per-file size cap (§4.3) is reached. Returns the
// metadata for every file produced, in creation order.
func WriteAll(opts WriteOptions, src KeySource) ([]Meta, error) {
	var metas []Meta
	tk, ok := src.Next()
	for ok {
		var meta Meta
		var err error
		meta, tk, ok, err = writeOneFile(opts, src, tk)
		if err != nil {
			return metas, err
		}
		if meta.KeyCount > 0 {
			metas = append(metas, meta)
		}
	}
	return metas, nil
}

// writeOneFile writes a single SSTable, consuming from src (with first
// already pulled into tk) until either src is exhausted or the file's
// accumulated data size reaches the cap. Returns the next pending key (if
// any) for the caller to start a new file with.
func writeOneFile(opts WriteOptions, src KeySource, tk tablekey.TableKey) (Meta, tablekey.TableKey, bool, error) {
	id := opts.NextFileID()
	path := filepath.Join(opts.Dir, fmt.Sprintf("sstable-%d.sst", id))

	f, err := os.Create(path)
	if err != nil {
		return Meta{}, tablekey.TableKey{}, false, fmt.Errorf("%w: create sstable: %v", dberrors.ErrIOError, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	filter := bloomfilter.New(opts.Bloom)
	keysPerBlock := int(opts.BlockSize) / tablekey.Size
	if keysPerBlock < 1 {
		keysPerBlock = 1
	}

	var (
		fences         []fencePointer
		dataOff        int64
		keyCount       int
		minKey, maxKey tablekey.TableKey
		haveBounds     bool
		block          = make([]tablekey.TableKey, 0, keysPerBlock)
		keyBuf         [tablekey.Size]byte
	)

	flushBlock := func() error {
		if len(block) == 0 {
			return nil
		}
		buf := make([]byte, opts.BlockSize)
		for i, k := range block {
			tablekey.Encode(k, keyBuf[:])
			copy(buf[i*tablekey.Size:], keyBuf[:])
		}
		n, werr := w.Write(buf)
		if werr != nil {
			return fmt.Errorf("%w: write data block: %v", dberrors.ErrIOError, werr)
		}
		fences = append(fences, fencePointer{
			maxKey: block[len(block)-1],
			offset: dataOff,
			size:   uint32(n),
		})
		dataOff += int64(n)
		block = block[:0]
		return nil
	}

	var pending tablekey.TableKey
	havePending := false
	cur := tk
	for {
		if !haveBounds {
			minKey, maxKey = cur, cur
			haveBounds = true
		} else {
			maxKey = cur
		}

		filter.Insert(encodeUK(cur.UK))
		block = append(block, cur)
		keyCount++

		if len(block) >= keysPerBlock {
			if err := flushBlock(); err != nil {
				return Meta{}, tablekey.TableKey{}, false, err
			}
		}

		if dataOff >= opts.SSTableSizeCap {
			pending, havePending = src.Next()
			break
		}

		next, ok := src.Next()
		if !ok {
			break
		}
		cur = next
	}

	if err := flushBlock(); err != nil {
		return Meta{}, tablekey.TableKey{}, false, err
	}

	indexOff := dataOff
	indexBytes := encodeFence(fences)
	if _, err := w.Write(indexBytes); err != nil {
		return Meta{}, tablekey.TableKey{}, false, fmt.Errorf("%w: write index block: %v", dberrors.ErrIOError, err)
	}

	filterOff := indexOff + int64(len(indexBytes))
	filterBytes := filter.Bytes()
	if _, err := w.Write(filterBytes); err != nil {
		return Meta{}, tablekey.TableKey{}, false, fmt.Errorf("%w: write filter block: %v", dberrors.ErrIOError, err)
	}

	ft := footer{
		indexOff:   indexOff,
		indexSize:  uint32(len(indexBytes)),
		filterOff:  filterOff,
		filterSize: uint32(len(filterBytes)),
		keyCount:   uint32(keyCount),
		minKey:     minKey,
		maxKey:     maxKey,
	}
	if _, err := w.Write(ft.encode()); err != nil {
		return Meta{}, tablekey.TableKey{}, false, fmt.Errorf("%w: write footer: %v", dberrors.ErrIOError, err)
	}
	if err := w.Flush(); err != nil {
		return Meta{}, tablekey.TableKey{}, false, fmt.Errorf("%w: flush sstable: %v", dberrors.ErrIOError, err)
	}
	if err := f.Sync(); err != nil {
		return Meta{}, tablekey.TableKey{}, false, fmt.Errorf("%w: sync sstable: %v", dberrors.ErrIOError, err)
	}

	stat, err := f.Stat()
	if err != nil {
		return Meta{}, tablekey.TableKey{}, false, fmt.Errorf("%w: stat sstable: %v", dberrors.ErrIOError, err)
	}

	meta := Meta{
		FileID:    id,
		Path:      path,
		MinKey:    minKey,
		MaxKey:    maxKey,
		SizeBytes: stat.Size(),
		KeyCount:  keyCount,
	}
	return meta, pending, havePending, nil
}

func encodeUK(uk tablekey.UserKey) []byte {
	var b [4]byte
	b[0] = byte(uk >> 24)
	b[1] = byte(uk >> 16)
	b[2] = byte(uk >> 8)
	b[3] = byte(uk)
	return b[:]
}
