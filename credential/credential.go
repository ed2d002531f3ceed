// Package credential hashes and verifies user passwords with bcrypt.
//
// bcrypt is CPU bound. A weighted semaphore caps how many hash or compare
// operations run at once so a burst of logins cannot starve the rest of the
// server, and callers waiting for a slot give up when their request context ends.
package credential

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// DefaultCost is the bcrypt work factor used unless the deployment overrides it.
const DefaultCost = 10

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("password must not be empty")

// Hasher hashes and verifies passwords at a fixed cost.
type Hasher struct {
	cost int
	sem  *semaphore.Weighted
}

// NewHasher creates a Hasher. maxConcurrent <= 0 means one slot per CPU.
func NewHasher(cost int, maxConcurrent int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d is outside [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.GOMAXPROCS(0)
	}
	return &Hasher{
		cost: cost,
		sem:  semaphore.NewWeighted(int64(maxConcurrent)),
	}, nil
}

// Cost returns the work factor new hashes are created with.
func (h *Hasher) Cost() int {
	return h.cost
}

// bcryptInput returns what is fed to bcrypt for password. Inputs longer than
// bcrypt's limit are replaced by their base64 SHA-256 digest (44 bytes), so
// every byte of a long password counts.
func bcryptInput(password string) []byte {
	if len(password) <= maxPasswordBytes {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// Hash returns the salted bcrypt hash of password. Any non-empty password
// is accepted, whatever its length in bytes.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	hashed, err := bcrypt.GenerateFromPassword(bcryptInput(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether password matches hash. A malformed hash or a context
// that ends before a slot frees up counts as a mismatch.
func (h *Hasher) Verify(ctx context.Context, password, hash string) bool {
	if hash == "" {
		return false
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.sem.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(password)) == nil
}
