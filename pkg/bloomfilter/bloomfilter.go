// Package bloomfilter implements the fixed-parameter approximate
// membership filter each SSTable carries (§4.2). Unlike the teacher's
// pkg/persistance/bloom_filter.go (which derived size/hash-count from
// estimates and hashed with fnv32 per bit), this implementation pins the
// spec's exact parameters and double-hashes from two independent 64-bit
// seeds so the serialized form is bit-for-bit the documented 1250 bytes.
package bloomfilter

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"

	"lsmtree/pkg/dberrors"
)

// Params are the fixed filter parameters from §4.2 / §6.
type Params struct {
	P float64 // target false-positive rate, documentary only
	K int     // number of hash functions
	M int     // number of bits
	N int     // expected keys, documentary only
}

// Default returns the spec's pinned parameters: p=1/100, k=7, m=10000, n=1000.
func Default() Params {
	return Params{P: 0.01, K: 7, M: 10000, N: 1000}
}

// Filter is a fixed-size bit array addressed by double hashing.
type Filter struct {
	params Params
	bits   []byte // ceil(M/8) bytes, bit i lives at bits[i/8] & (1 << (i%8))
}

// New creates an empty filter with the given parameters.
func New(p Params) *Filter {
	return &Filter{
		params: p,
		bits:   make([]byte, byteLen(p.M)),
	}
}

func byteLen(m int) int {
	return (m + 7) / 8
}

// seeds returns the two independent 64-bit hashes used for double hashing:
// h1 from xxhash, h2 from the murmur3 family, per §4.2.
func seeds(key []byte) (h1, h2 uint64) {
	return xxhash.Sum64(key), murmur3.Sum64(key)
}

// Insert sets the k bits this key maps to.
func (f *Filter) Insert(key []byte) {
	h1, h2 := seeds(key)
	m := uint64(f.params.M)
	for i := 0; i < f.params.K; i++ {
		bit := (h1 + uint64(i)*h2) % m
		f.bits[bit/8] |= 1 << (bit % 8)
	}
}

// MayContain reports whether key might be present. No false negatives.
func (f *Filter) MayContain(key []byte) bool {
	h1, h2 := seeds(key)
	m := uint64(f.params.M)
	for i := 0; i < f.params.K; i++ {
		bit := (h1 + uint64(i)*h2) % m
		if f.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// Bytes returns the raw serialized bit array (§4.2: m bits, byte-packed).
func (f *Filter) Bytes() []byte {
	return f.bits
}

// Load parses a serialized filter produced by Bytes for the given params.
func Load(p Params, raw []byte) (*Filter, error) {
	want := byteLen(p.M)
	if len(raw) != want {
		return nil, fmt.Errorf("%w: bloom filter block has %d bytes, want %d", dberrors.ErrInvalidFormat, len(raw), want)
	}
	bits := make([]byte, want)
	copy(bits, raw)
	return &Filter{params: p, bits: bits}, nil
}
