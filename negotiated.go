package smb2proto

import (
	"github.com/absfs/smb2proto/internal/codec"
	"github.com/absfs/smb2proto/internal/negotiate"
	"github.com/absfs/smb2proto/internal/registry"
)

// NegotiatedProperties is the immutable result of a connection's NEGOTIATE
// exchange (spec.md §3), aliased onto internal/negotiate's type.
type NegotiatedProperties = negotiate.NegotiatedProperties

// Session wraps the registry's per-session cryptographic state with the
// user-facing session id and the set of trees bound on it, grounded on
// the teacher's session_manager.go session/tree-connection split,
// retargeted from server-accepted sessions to client-held ones.
type Session struct {
	ID    uint64
	State *registry.State
	Trees []*Tree
}

// IsGuest reports whether this session authenticated anonymously or as
// guest, in which case signing/encryption are never applied (MS-SMB2).
func (s *Session) IsGuest() bool { return s.State != nil && (s.State.IsGuest || s.State.IsAnonymous) }

// Tree is one TREE_CONNECT binding on a session, kept structurally close
// to the teacher's TreeConnection in session_manager.go but renamed for
// the client role: there is no backing *Share object, since the facade
// that would own one is out of scope here (SPEC_FULL.md §1).
type Tree struct {
	TreeID        uint32
	Path          string
	ShareType     uint8
	ShareFlags    uint32
	Capabilities  uint32
	MaximalAccess uint32
}

func newTreeFromResponse(treeID uint32, path string, resp codec.TreeConnectResponse) *Tree {
	return &Tree{
		TreeID:        treeID,
		Path:          path,
		ShareType:     resp.ShareType,
		ShareFlags:    resp.ShareFlags,
		Capabilities:  resp.Capabilities,
		MaximalAccess: resp.MaximalAccess,
	}
}
