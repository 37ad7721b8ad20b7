// Package registry implements C5: the SessionRegistry, a mutex-guarded map
// from session id to the per-session cryptographic state the Transformer
// needs to sign/encrypt outgoing messages and verify/decrypt incoming
// ones (spec.md §4.5).
//
// Grounded on the teacher's session-manager pattern (mutex-guarded map,
// register/unregister/lookup), retargeted here from server-side session
// acceptance to client-side per-connection session state.
package registry

import (
	"fmt"
	"sync"

	"github.com/absfs/smb2proto/internal/cryptoops"
	"github.com/absfs/smb2proto/internal/proto"
)

// State is the cryptographic material and flags bound to one session,
// established at SessionSetup finalize and used for the session's
// lifetime.
type State struct {
	Dialect     proto.Dialect
	Signer      cryptoops.Signer
	Encryptor   cryptoops.AEAD
	Decryptor   cryptoops.AEAD
	SignData    bool // SMB2_SESSION_FLAG derived: signing required for this session
	EncryptData bool // encryption required for this session (SMB3_SESSION_FLAG_ENCRYPT_DATA)
	IsGuest     bool
	IsAnonymous bool
}

// RequiresSigning reports whether outgoing messages on this session must
// carry a signature (guest/anonymous sessions never sign, per MS-SMB2).
func (s *State) RequiresSigning() bool {
	return s.SignData && !s.IsGuest && !s.IsAnonymous
}

// Registry is a mutex-guarded map from session id to State.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*State
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[uint64]*State)}
}

// Register binds sessionID to state, replacing any prior state for that id.
func (r *Registry) Register(sessionID uint64, state *State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = state
}

// Unregister removes a session's state, called on LOGOFF or connection
// teardown.
func (r *Registry) Unregister(sessionID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Lookup returns the state for sessionID, or an error if no session with
// that id is registered (e.g. UserSessionDeleted races).
func (r *Registry) Lookup(sessionID uint64) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("registry: no session %d", sessionID)
	}
	return s, nil
}

// Len reports the number of registered sessions, used by tests and by
// connection teardown to decide whether any sessions remain.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
