package hasher

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt hashes look like $2a$10$<22 char salt><31 char hash>
const (
	bcryptSaltStart = 7
	bcryptSaltEnd   = 29
)

// Bcrypt hashes with bcrypt; the salt is embedded in the hash and also
// returned separately so records look the same for both algorithms
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher. A zero cost uses bcrypt.DefaultCost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

func (h *Bcrypt) Algorithm() string {
	return AlgorithmBcrypt
}

func (h *Bcrypt) Hash(plaintext string) (string, string, error) {
	if err := checkPlaintext(plaintext); err != nil {
		return "", "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", "", err
	}
	if len(hash) < bcryptSaltEnd {
		return "", "", ErrInvalidHash
	}
	return string(hash), string(hash[bcryptSaltStart:bcryptSaltEnd]), nil
}

func (h *Bcrypt) Verify(plaintext, hash, salt string) (bool, error) {
	return verifyBcrypt(plaintext, hash, salt)
}

// NeedsRehash reports whether a stored hash was made with another
// algorithm or another cost than this hasher's
func (h *Bcrypt) NeedsRehash(algorithm, hash string) bool {
	if algorithm != AlgorithmBcrypt {
		return true
	}
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != h.cost
}

func verifyBcrypt(plaintext, hash, salt string) (bool, error) {
	if len(hash) < bcryptSaltEnd {
		return false, ErrInvalidHash
	}
	if subtle.ConstantTimeCompare([]byte(hash[bcryptSaltStart:bcryptSaltEnd]), []byte(salt)) != 1 {
		return false, fmt.Errorf("%w: salt does not match hash", ErrInvalidHash)
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}
}
