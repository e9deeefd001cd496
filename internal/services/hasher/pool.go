package hasher

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool runs hashing on bounded background goroutines so a burst of logins
// cannot pin every CPU, and callers can abandon a slow hash via ctx.
// The semaphore is released only when the hash itself finishes.
type Pool struct {
	hasher Hasher
	sem    *semaphore.Weighted
}

// NewPool wraps h. Non-positive concurrency uses GOMAXPROCS.
func NewPool(h Hasher, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		hasher: h,
		sem:    semaphore.NewWeighted(int64(concurrency)),
	}
}

// Algorithm returns the wrapped hasher's algorithm
func (p *Pool) Algorithm() string {
	return p.hasher.Algorithm()
}

type hashResult struct {
	hash, salt string
	err        error
}

// Hash hashes plaintext on a worker
func (p *Pool) Hash(ctx context.Context, plaintext string) (string, string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", "", err
	}

	done := make(chan hashResult, 1)
	go func() {
		defer p.sem.Release(1)
		hash, salt, err := p.hasher.Hash(plaintext)
		done <- hashResult{hash: hash, salt: salt, err: err}
	}()

	select {
	case res := <-done:
		return res.hash, res.salt, res.err
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

type verifyResult struct {
	ok  bool
	err error
}

// NeedsRehash reports whether a record should be rehashed under the
// wrapped hasher's settings
func (p *Pool) NeedsRehash(algorithm, hash string) bool {
	return p.hasher.NeedsRehash(algorithm, hash)
}

// Verify checks plaintext against a stored hash on a worker. The record's
// algorithm picks the verifier, so records made before an algorithm switch
// keep working.
func (p *Pool) Verify(ctx context.Context, algorithm, plaintext, hash, salt string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}

	done := make(chan verifyResult, 1)
	go func() {
		defer p.sem.Release(1)
		var (
			ok  bool
			err error
		)
		if algorithm == p.hasher.Algorithm() {
			ok, err = p.hasher.Verify(plaintext, hash, salt)
		} else {
			ok, err = Verify(algorithm, plaintext, hash, salt)
		}
		done <- verifyResult{ok: ok, err: err}
	}()

	select {
	case res := <-done:
		return res.ok, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
