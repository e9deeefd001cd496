package hasher

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/mcoot/logingate/internal/dependencies/random"
)

const (
	argon2SaltLen = 16
	argon2KeyLen  = 32
	argon2MinKey  = 16
	argon2MaxKey  = 128
)

// argon2Params are the cost parameters encoded into every PHC hash
type argon2Params struct {
	time    uint32
	memory  uint32
	threads uint8
}

// Argon2id hashes with argon2id; the work factor is the iteration count.
// Hashes are PHC strings carrying their own parameters, so records made
// under an older config still verify after the config changes.
type Argon2id struct {
	params argon2Params
	random random.Random
}

// NewArgon2id creates an argon2id hasher, filling zero parameters from DefaultConfig
func NewArgon2id(cfg Config, rnd random.Random) *Argon2id {
	def := DefaultConfig()
	if cfg.WorkFactor <= 0 {
		cfg.WorkFactor = def.WorkFactor
	}
	if cfg.MemoryKiB == 0 {
		cfg.MemoryKiB = def.MemoryKiB
	}
	if cfg.Threads == 0 {
		cfg.Threads = def.Threads
	}
	return &Argon2id{
		params: argon2Params{
			time:    uint32(cfg.WorkFactor),
			memory:  cfg.MemoryKiB,
			threads: cfg.Threads,
		},
		random: rnd,
	}
}

func (h *Argon2id) Algorithm() string {
	return AlgorithmArgon2id
}

// Hash returns a PHC string ($argon2id$v=19$m=...,t=...,p=...$salt$key)
// and the base64 salt it embeds
func (h *Argon2id) Hash(plaintext string) (string, string, error) {
	if err := checkPlaintext(plaintext); err != nil {
		return "", "", err
	}

	salt := h.random.Bytes(argon2SaltLen)
	p := h.params
	key := argon2.IDKey([]byte(plaintext), salt, p.time, p.memory, p.threads, argon2KeyLen)

	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		encodedSalt,
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, encodedSalt, nil
}

func (h *Argon2id) Verify(plaintext, hash, salt string) (bool, error) {
	return verifyArgon2id(plaintext, hash, salt)
}

// NeedsRehash reports whether a stored hash was made with another
// algorithm or other parameters than this hasher's
func (h *Argon2id) NeedsRehash(algorithm, hash string) bool {
	if algorithm != AlgorithmArgon2id {
		return true
	}
	p, _, _, err := decodeArgon2id(hash)
	if err != nil {
		return true
	}
	return p != h.params
}

func verifyArgon2id(plaintext, hash, salt string) (bool, error) {
	p, rawSalt, expected, err := decodeArgon2id(hash)
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(base64.RawStdEncoding.EncodeToString(rawSalt)), []byte(salt)) != 1 {
		return false, fmt.Errorf("%w: salt does not match hash", ErrInvalidHash)
	}

	computed := argon2.IDKey([]byte(plaintext), rawSalt, p.time, p.memory, p.threads, uint32(len(expected)))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func decodeArgon2id(hash string) (argon2Params, []byte, []byte, error) {
	var p argon2Params

	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return p, nil, nil, fmt.Errorf("%w: not an argon2id PHC string", ErrInvalidHash)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("%w: bad version", ErrInvalidHash)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported argon2 version %d", ErrInvalidHash, version)
	}

	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &threads); err != nil {
		return p, nil, nil, fmt.Errorf("%w: bad parameters", ErrInvalidHash)
	}
	if p.time == 0 || p.memory == 0 || threads == 0 || threads > 255 {
		return p, nil, nil, fmt.Errorf("%w: parameters out of range", ErrInvalidHash)
	}
	p.threads = uint8(threads)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, fmt.Errorf("%w: salt is not base64", ErrInvalidHash)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) < argon2MinKey || len(key) > argon2MaxKey {
		return p, nil, nil, fmt.Errorf("%w: key is not base64", ErrInvalidHash)
	}
	return p, salt, key, nil
}
