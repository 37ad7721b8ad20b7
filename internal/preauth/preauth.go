// Package preauth implements SMB 3.1.1 preauthentication integrity hashing
// (spec.md §4.2): a running SHA-512 digest chained across every SMB2 message
// exchanged before a session's keys are established, frozen into that
// session's PreauthIntegrityHashValue when the session's keys are derived,
// before the final SessionSetup request is sent.
//
// Grounded on the teacher's smb2_signing.go preauth-hash plumbing, adapted
// to the two-state chain/freeze shape spec.md §4.2 calls for since the
// teacher only ever computed a single connection-wide hash.
package preauth

import (
	"crypto/sha512"
	"sync"
)

// initial returns the initial value MS-SMB2 specifies: 64 zero bytes.
func initial() [64]byte { return [64]byte{} }

// Chain is a running preauthentication integrity hash. It starts
// InProgress and accepts Update calls until Finish freezes it; subsequent
// Update calls after Finish are no-ops, matching the per-session freeze
// spec.md §4.2 requires ("frozen per-session at SessionSetup finalize").
type Chain struct {
	mu       sync.Mutex
	current  [64]byte
	finished bool
}

// NewChain starts a chain at the MS-SMB2 initial value.
func NewChain() *Chain {
	return &Chain{current: initial()}
}

// Update folds frame into the running hash: H ← SHA512(H || frame). A
// no-op once the chain has been finished.
func (c *Chain) Update(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	h := sha512.New()
	h.Write(c.current[:])
	h.Write(frame)
	copy(c.current[:], h.Sum(nil))
}

// Finish freezes the chain and returns its value. Safe to call more than
// once; later calls return the same frozen value without recomputing.
func (c *Chain) Finish() [64]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = true
	return c.current
}

// Finished reports whether Finish has already been called.
func (c *Chain) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Snapshot returns the current running value without freezing the chain,
// used when a caller needs the hash-so-far (e.g. to derive keys ahead of
// the final SessionSetup response, per MS-SMB2's "use the preauth value at
// the time of the request that established the session").
func (c *Chain) Snapshot() [64]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
