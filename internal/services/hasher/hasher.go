// Package hasher provides salted one-way password hashing with a static
// work factor and constant-time verification.
package hasher

import (
	"errors"
	"fmt"

	"github.com/mcoot/logingate/internal/dependencies/random"
	"github.com/mcoot/logingate/internal/model"
)

// Supported algorithms
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// ErrInvalidHash is returned when a stored hash or salt cannot be decoded
var ErrInvalidHash = errors.New("invalid stored hash")

// Hasher hashes and verifies credentials
type Hasher interface {
	// Algorithm names the scheme, stored alongside each record
	Algorithm() string

	// Hash produces a hash and the fresh salt it was derived with
	Hash(plaintext string) (hash, salt string, err error)

	// Verify returns (true, nil) on match, (false, nil) on mismatch, or an
	// error if the stored hash is unusable. Comparison is constant-time.
	Verify(plaintext, hash, salt string) (bool, error)

	// NeedsRehash reports whether a record stored under algorithm should be
	// rehashed with this hasher's current settings
	NeedsRehash(algorithm, hash string) bool
}

// Config selects the algorithm and its work factor
type Config struct {
	Algorithm string

	// WorkFactor is argon2id iterations or bcrypt cost
	WorkFactor int

	// Argon2 only
	MemoryKiB uint32
	Threads   uint8
}

// DefaultConfig returns OWASP-style argon2id parameters
func DefaultConfig() Config {
	return Config{
		Algorithm:  AlgorithmArgon2id,
		WorkFactor: 1,
		MemoryKiB:  64 * 1024,
		Threads:    4,
	}
}

// New builds the Hasher named by cfg.Algorithm
func New(cfg Config, rnd random.Random) (Hasher, error) {
	switch cfg.Algorithm {
	case "", AlgorithmArgon2id:
		return NewArgon2id(cfg, rnd), nil
	case AlgorithmBcrypt:
		return NewBcrypt(cfg.WorkFactor)
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", cfg.Algorithm)
	}
}

// Verify checks plaintext against a stored record using the algorithm and
// parameters recorded with it rather than the configured ones
func Verify(algorithm, plaintext, hash, salt string) (bool, error) {
	switch algorithm {
	case AlgorithmArgon2id:
		return verifyArgon2id(plaintext, hash, salt)
	case AlgorithmBcrypt:
		return verifyBcrypt(plaintext, hash, salt)
	default:
		return false, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidHash, algorithm)
	}
}

func checkPlaintext(plaintext string) error {
	if plaintext == "" {
		return model.ErrEmptyCredential
	}
	return nil
}
