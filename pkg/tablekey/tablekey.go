// Package tablekey defines the engine's total key ordering: user keys,
// table keys, and lookup keys (§3, §4.1).
package tablekey

import (
	"encoding/binary"
	"fmt"

	"lsmtree/pkg/dberrors"
)

// UserKey is the user-facing signed 32-bit key.
type UserKey int32

// UserValue is the user-facing 32-bit value.
type UserValue int32

// SeqNum is a monotonically increasing counter allocated per logical write.
type SeqNum uint64

// WriteType distinguishes a live write from a tombstone. Empty exists only
// to build LookupKeys for comparison purposes.
type WriteType uint8

const (
	Put WriteType = iota
	Delete
	Empty
)

func (w WriteType) valid() bool {
	return w == Put || w == Delete || w == Empty
}

// Size is the fixed on-disk width of an encoded TableKey: 4 (UK) + 8 (Seq) + 1 (W) + 4 (UV).
const Size = 4 + 8 + 1 + 4

// TableKey is the unit of storage: (UK, Seq, W, UV).
type TableKey struct {
	UK  UserKey
	Seq SeqNum
	W   WriteType
	UV  UserValue
}

// LookupKey is a read request: a user key at a snapshot sequence number.
type LookupKey struct {
	UK  UserKey
	Seq SeqNum
}

// AsTableKey converts a LookupKey into the TableKey used to position a
// search: (UK, Seq, Empty, 0).
func (lk LookupKey) AsTableKey() TableKey {
	return TableKey{UK: lk.UK, Seq: lk.Seq, W: Empty}
}

// Compare implements the total order from §3: UK ascending, then Seq
// descending (newest first), then W, then UV.
func Compare(a, b TableKey) int {
	if a.UK != b.UK {
		if a.UK < b.UK {
			return -1
		}
		return 1
	}
	if a.Seq != b.Seq {
		// Descending: larger seq sorts first.
		if a.Seq > b.Seq {
			return -1
		}
		return 1
	}
	if a.W != b.W {
		if a.W < b.W {
			return -1
		}
		return 1
	}
	if a.UV != b.UV {
		if a.UV < b.UV {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether a sorts strictly before b under Compare.
func Less(a, b TableKey) bool {
	return Compare(a, b) < 0
}

// Encode writes the fixed 17-byte representation of tk into out, which must
// have length >= Size.
func Encode(tk TableKey, out []byte) {
	binary.BigEndian.PutUint32(out[0:4], uint32(tk.UK))
	binary.BigEndian.PutUint64(out[4:12], uint64(tk.Seq))
	out[12] = byte(tk.W)
	binary.BigEndian.PutUint32(out[13:17], uint32(tk.UV))
}

// Decode parses a fixed 17-byte representation. Fails with
// dberrors.ErrInvalidFormat when in is shorter than Size or W is out of
// enum range.
func Decode(in []byte) (TableKey, error) {
	if len(in) < Size {
		return TableKey{}, fmt.Errorf("%w: table key truncated: got %d bytes, want %d", dberrors.ErrInvalidFormat, len(in), Size)
	}
	tk := TableKey{
		UK:  UserKey(binary.BigEndian.Uint32(in[0:4])),
		Seq: SeqNum(binary.BigEndian.Uint64(in[4:12])),
		W:   WriteType(in[12]),
		UV:  UserValue(binary.BigEndian.Uint32(in[13:17])),
	}
	if !tk.W.valid() {
		return TableKey{}, fmt.Errorf("%w: invalid write type %d", dberrors.ErrInvalidFormat, tk.W)
	}
	return tk, nil
}
