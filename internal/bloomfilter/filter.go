// Package bloomfilter tracks visited URLs with a fixed-size probabilistic
// set. It never reports a false negative: once a URL has been added, Contains
// always reports true for it. It may, with bounded probability, report true
// for a URL that was never added.
package bloomfilter

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	// defaultK matches the spec's default probe count.
	defaultK = 7
)

// Filter wraps a bits-and-blooms BloomFilter behind a mutex and adds the
// item/bit accounting the underlying library does not track itself.
type Filter struct {
	mu         sync.Mutex
	bits       *bloom.BloomFilter
	itemsAdded uint64
}

// New constructs a Filter sized for expectedItems at the given false-positive
// rate; both the bit count and the probe count come from the library's
// estimate (defaultK is not applied here).
func New(expectedItems uint, falsePositiveRate float64) *Filter {
	return &Filter{
		bits: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}
}

// NewWithK constructs a Filter with an explicit bit count m and probe count k.
func NewWithK(m uint, k uint) *Filter {
	return &Filter{
		bits: bloom.New(m, k),
	}
}

// Contains reports whether key may have been added. False positives are
// possible; false negatives are not.
func (f *Filter) Contains(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bits.TestString(key)
}

// Add records key. It returns nothing; callers that need to know whether key
// was already present in the same locked step use TestAndAdd.
func (f *Filter) Add(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bits.AddString(key)
	f.itemsAdded++
}

// TestAndAdd atomically checks and, if absent, adds key. Returns whether key
// was already present before this call.
func (f *Filter) TestAndAdd(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	existed := f.bits.TestString(key)
	if !existed {
		f.bits.AddString(key)
		f.itemsAdded++
	}
	return existed
}

// BitCount returns the number of bits in the underlying filter (m).
func (f *Filter) BitCount() uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bits.Cap()
}

// K returns the number of hash probes per operation.
func (f *Filter) K() uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bits.K()
}

// ItemsAdded returns the number of distinct Add/TestAndAdd calls that
// inserted a new key.
func (f *Filter) ItemsAdded() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.itemsAdded
}

// EstimatedFPRate returns the filter's current estimated false-positive rate
// given the number of items added so far.
func (f *Filter) EstimatedFPRate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bits.EstimateFalsePositiveRate(f.itemsAdded)
}
