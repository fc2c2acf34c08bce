// Package bloomfilter implements a probabilistic set-membership structure
// used by the Partition Writer (spec.md §4.D) to let the query planner
// reject partitions on equality predicates without reading the file.
//
// This generalizes storj's own pkg/bloomfilter (NewFilter/Add/Contains over
// storj.PieceID) to arbitrary byte keys, since a partition needs one filter
// per indexed column rather than one filter over a single key type.
package bloomfilter

import (
	"hash/fnv"
	"math"
)

// Filter is a fixed-size bloom filter sized for a target false-positive rate.
type Filter struct {
	bits []uint64
	k    int
	m    uint64
}

// NewFilter returns a filter sized to hold n items at false-positive rate fp.
// fp must be in (0, 1); n must be positive. Mirrors the teacher's
// NewFilter(n int, fp float64) constructor shape.
func NewFilter(n int, fp float64) *Filter {
	if n <= 0 {
		n = 1
	}
	if fp <= 0 || fp >= 1 {
		fp = 0.01
	}
	m := optimalM(n, fp)
	k := optimalK(n, m)
	words := (m + 63) / 64
	if words == 0 {
		words = 1
	}
	return &Filter{
		bits: make([]uint64, words),
		k:    k,
		m:    uint64(words * 64),
	}
}

func optimalM(n int, fp float64) int {
	m := -float64(n) * math.Log(fp) / (math.Ln2 * math.Ln2)
	if m < 8 {
		m = 8
	}
	return int(math.Ceil(m))
}

func optimalK(n, m int) int {
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}
	return k
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := hashPair(key)
	for i := 0; i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.m
		f.bits[bit/64] |= 1 << (bit % 64)
	}
}

// Contains reports whether key may be in the set. False positives are
// possible at the configured rate; false negatives never occur.
func (f *Filter) Contains(key []byte) bool {
	h1, h2 := hashPair(key)
	for i := 0; i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.m
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Bytes returns the filter's packed bit array, for embedding in a partition
// footer (spec.md §4.D's "per-column stats {min,max,null_count,bloom}").
func (f *Filter) Bytes() []byte {
	out := make([]byte, len(f.bits)*8)
	for i, w := range f.bits {
		for b := 0; b < 8; b++ {
			out[i*8+b] = byte(w >> (8 * b))
		}
	}
	return out
}

// K reports the number of hash functions in use, needed alongside the raw
// bytes to reconstruct a Filter for reading.
func (f *Filter) K() int { return f.k }

// FromBytes reconstructs a Filter previously serialized with Bytes, given the
// same k used when it was built.
func FromBytes(data []byte, k int) *Filter {
	words := (len(data) + 7) / 8
	bits := make([]uint64, words)
	for i := range bits {
		var w uint64
		for b := 0; b < 8 && i*8+b < len(data); b++ {
			w |= uint64(data[i*8+b]) << (8 * b)
		}
		bits[i] = w
	}
	return &Filter{bits: bits, k: k, m: uint64(words * 64)}
}

// hashPair derives two independent-enough hashes from key using the
// Kirsch-Mitzenmacher technique (combine two hashes instead of running k
// independent ones).
func hashPair(key []byte) (uint64, uint64) {
	h1 := fnv.New64a()
	_, _ = h1.Write(key)
	sum1 := h1.Sum64()

	h2 := fnv.New64a()
	_, _ = h2.Write([]byte{0xff})
	_, _ = h2.Write(key)
	sum2 := h2.Sum64()
	if sum2 == 0 {
		sum2 = 1
	}
	return sum1, sum2
}
