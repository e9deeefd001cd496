package random

import (
	"crypto/rand"
	"math/big"
)

// ServerIDAlphabet is used for generated server IDs. It drops characters
// that are easy to misread in logs (0/o, 1/l).
const ServerIDAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"

// Random is the source of salts and generated identifiers
type Random interface {
	// String generates a random string of the given length from the given alphabet
	String(length int, alphabet string) string

	// Bytes returns n random bytes for password salts
	Bytes(n int) []byte
}

// CryptoRandom implements Random using crypto/rand
type CryptoRandom struct{}

// New creates a new CryptoRandom
func New() *CryptoRandom {
	return &CryptoRandom{}
}

// String generates a random string of the given length from the given alphabet
func (r *CryptoRandom) String(length int, alphabet string) string {
	if length <= 0 || len(alphabet) == 0 {
		return ""
	}
	limit := big.NewInt(int64(len(alphabet)))
	result := make([]byte, length)
	for i := range result {
		// rand.Reader never fails since Go 1.24
		idx, _ := rand.Int(rand.Reader, limit)
		result[i] = alphabet[idx.Int64()]
	}
	return string(result)
}

// Bytes returns n cryptographically random bytes
func (r *CryptoRandom) Bytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}
