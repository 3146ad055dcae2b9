// Package credentials hands out API credentials round-robin across all
// generation requests sharing a process.
package credentials

import (
	"strings"
	"sync"
)

const (
	maskedSuffixLength = 4
	maskPrefix         = "..."
	maskChar           = "*"
)

// Credential is one dispensed pool entry.
type Credential struct {
	Value string
	// Index is the 1-based position of Value in the pool, for log lines.
	Index int
}

// Masked returns a short, log-safe form of the credential.
func (c Credential) Masked() string {
	runes := []rune(c.Value)
	if len(runes) <= maskedSuffixLength {
		return strings.Repeat(maskChar, len(runes))
	}

	return maskPrefix + string(runes[len(runes)-maskedSuffixLength:])
}

// Rotator holds an immutable credential pool and a shared rotation cursor.
// Next may be called from any number of goroutines.
type Rotator struct {
	mu     sync.Mutex
	pool   []string
	cursor uint64
}

// NewRotator creates a rotator over a copy of keys, preserving load order.
func NewRotator(keys []string) *Rotator {
	pool := make([]string, len(keys))
	copy(pool, keys)

	return &Rotator{pool: pool}
}

// Size returns the number of credentials in the pool.
func (r *Rotator) Size() int {
	return len(r.pool)
}

// Next returns the credential under the cursor and advances the cursor.
// The boolean is false only when the pool is empty; the cursor is left
// untouched in that case.
func (r *Rotator) Next() (Credential, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pool) == 0 {
		return Credential{}, false
	}

	position := int(r.cursor % uint64(len(r.pool)))
	r.cursor++

	return Credential{Value: r.pool[position], Index: position + 1}, true
}
