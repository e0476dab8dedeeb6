package sstable

import (
	"encoding/binary"
	"fmt"

	"lsmtree/pkg/dberrors"
	"lsmtree/pkg/tablekey"
)

// magic identifies a valid footer (§6).
var magic = [8]byte{'L', 'S', 'M', 'S', 'S', 'T', 'B', '1'}

// footerSize is the fixed on-disk footer layout from §6:
// index_off(8) + index_size(4) + filter_off(8) + filter_size(4) +
// key_count(4) + min_tk(17) + max_tk(17) + magic(8).
const footerSize = 8 + 4 + 8 + 4 + 4 + tablekey.Size + tablekey.Size + 8

// fenceEntrySize is one index-block entry: max_table_key(17) + offset(8) + size(4).
const fenceEntrySize = tablekey.Size + 8 + 4

type footer struct {
	indexOff   int64
	indexSize  uint32
	filterOff  int64
	filterSize uint32
	keyCount   uint32
	minKey     tablekey.TableKey
	maxKey     tablekey.TableKey
}

func (f footer) encode() []byte {
	out := make([]byte, footerSize)
	binary.BigEndian.PutUint64(out[0:8], uint64(f.indexOff))
	binary.BigEndian.PutUint32(out[8:12], f.indexSize)
	binary.BigEndian.PutUint64(out[12:20], uint64(f.filterOff))
	binary.BigEndian.PutUint32(out[20:24], f.filterSize)
	binary.BigEndian.PutUint32(out[24:28], f.keyCount)
	tablekey.Encode(f.minKey, out[28:28+tablekey.Size])
	tablekey.Encode(f.maxKey, out[28+tablekey.Size:28+2*tablekey.Size])
	copy(out[28+2*tablekey.Size:], magic[:])
	return out
}

func decodeFooter(raw []byte) (footer, error) {
	if len(raw) != footerSize {
		return footer{}, fmt.Errorf("%w: footer has %d bytes, want %d", dberrors.ErrInvalidFormat, len(raw), footerSize)
	}
	var got [8]byte
	copy(got[:], raw[28+2*tablekey.Size:])
	if got != magic {
		return footer{}, fmt.Errorf("%w: footer magic mismatch", dberrors.ErrInvalidFormat)
	}
	minKey, err := tablekey.Decode(raw[28 : 28+tablekey.Size])
	if err != nil {
		return footer{}, err
	}
	maxKey, err := tablekey.Decode(raw[28+tablekey.Size : 28+2*tablekey.Size])
	if err != nil {
		return footer{}, err
	}
	return footer{
		indexOff:   int64(binary.BigEndian.Uint64(raw[0:8])),
		indexSize:  binary.BigEndian.Uint32(raw[8:12]),
		filterOff:  int64(binary.BigEndian.Uint64(raw[12:20])),
		filterSize: binary.BigEndian.Uint32(raw[20:24]),
		keyCount:   binary.BigEndian.Uint32(raw[24:28]),
		minKey:     minKey,
		maxKey:     maxKey,
	}, nil
}

// fencePointer delimits one data block: its max table key and byte offset/size.
type fencePointer struct {
	maxKey tablekey.TableKey
	offset int64
	size   uint32
}

func encodeFence(entries []fencePointer) []byte {
	out := make([]byte, len(entries)*fenceEntrySize)
	for i, e := range entries {
		base := i * fenceEntrySize
		tablekey.Encode(e.maxKey, out[base:base+tablekey.Size])
		binary.BigEndian.PutUint64(out[base+tablekey.Size:base+tablekey.Size+8], uint64(e.offset))
		binary.BigEndian.PutUint32(out[base+tablekey.Size+8:base+fenceEntrySize], e.size)
	}
	return out
}

func decodeFence(raw []byte) ([]fencePointer, error) {
	if len(raw)%fenceEntrySize != 0 {
		return nil, fmt.Errorf("%w: index block has %d bytes, not a multiple of %d", dberrors.ErrInvalidFormat, len(raw), fenceEntrySize)
	}
	n := len(raw) / fenceEntrySize
	entries := make([]fencePointer, n)
	for i := 0; i < n; i++ {
		base := i * fenceEntrySize
		maxKey, err := tablekey.Decode(raw[base : base+tablekey.Size])
		if err != nil {
			return nil, err
		}
		entries[i] = fencePointer{
			maxKey: maxKey,
			offset: int64(binary.BigEndian.Uint64(raw[base+tablekey.Size : base+tablekey.Size+8])),
			size:   binary.BigEndian.Uint32(raw[base+tablekey.Size+8 : base+fenceEntrySize]),
		}
	}
	return entries, nil
}
