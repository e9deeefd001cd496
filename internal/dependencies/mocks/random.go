package mocks

import (
	"encoding/binary"
	"sync"

	"github.com/mcoot/logingate/internal/dependencies/random"
)

// MockRandom is a deterministic Random for tests. It is safe for
// concurrent use since hashing runs on pool goroutines.
type MockRandom struct {
	mu sync.Mutex

	// StringResults is a queue of results to return from String
	StringResults []string
	stringIndex   int
	stringCalls   uint64

	bytesCalls uint64
}

// Ensure MockRandom implements Random
var _ random.Random = (*MockRandom)(nil)

// NewMockRandom creates a new MockRandom
func NewMockRandom() *MockRandom {
	return &MockRandom{}
}

// String returns the next queued result. Once the queue is drained it
// spells the call count in alphabet, padded to length, so unqueued calls
// still differ from each other.
func (r *MockRandom) String(length int, alphabet string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stringIndex < len(r.StringResults) {
		result := r.StringResults[r.stringIndex]
		r.stringIndex++
		return result
	}

	r.stringCalls++
	if alphabet == "" {
		return ""
	}
	out := make([]byte, length)
	n := r.stringCalls
	base := uint64(len(alphabet))
	for i := length - 1; i >= 0; i-- {
		out[i] = alphabet[n%base]
		n /= base
	}
	return string(out)
}

// Bytes returns n bytes holding the call count, big-endian, so every salt
// differs but a test run is reproducible
func (r *MockRandom) Bytes(n int) []byte {
	r.mu.Lock()
	r.bytesCalls++
	call := r.bytesCalls
	r.mu.Unlock()

	b := make([]byte, n)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], call)
	if n >= len(seq) {
		copy(b[n-len(seq):], seq[:])
	} else {
		copy(b, seq[len(seq)-n:])
	}
	return b
}

// QueueString adds values to the String result queue
func (r *MockRandom) QueueString(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StringResults = append(r.StringResults, values...)
}
