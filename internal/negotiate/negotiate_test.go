package negotiate

import (
	"fmt"
	"testing"

	"github.com/absfs/smb2proto/internal/preauth"
	"github.com/absfs/smb2proto/internal/proto"
	"github.com/absfs/smb2proto/internal/registry"
)

type fakeSender struct {
	sent      []proto.Header
	responses [][]byte
	idx       int

	// chain, when set, records whether the preauth chain was already
	// frozen at the moment each Send call happened, letting tests pin
	// the finalize-before-send ordering RunSessionSetup must preserve.
	chain                 *preauth.Chain
	preauthFinishedAtSend []bool
}

func (f *fakeSender) Send(h proto.Header, body []byte, sign, encrypt bool) error {
	f.sent = append(f.sent, h)
	if f.chain != nil {
		f.preauthFinishedAtSend = append(f.preauthFinishedAtSend, f.chain.Finished())
	}
	return nil
}

// seqIDs is the minimal MessageIDs implementation for these tests, mirroring
// *Connection's own single monotonic counter shared across the handshake.
type seqIDs struct{ next uint64 }

func (s *seqIDs) NextMessageID(charge uint64) uint64 {
	id := s.next
	s.next += charge
	return id
}

func (f *fakeSender) Receive(messageID uint64) ([]byte, proto.Header, []byte, error) {
	if f.idx >= len(f.responses) {
		return nil, proto.Header{}, nil, fmt.Errorf("fakeSender: no more queued responses")
	}
	frame := f.responses[f.idx]
	f.idx++
	h, err := proto.UnmarshalHeader(frame)
	if err != nil {
		return nil, proto.Header{}, nil, err
	}
	return frame, h, frame[proto.HeaderSize:], nil
}

func buildNegotiateResponseFrame(messageID uint64, dialect proto.Dialect, capabilities uint32) []byte {
	w := proto.NewWriter(64)
	w.WriteUint16(65) // StructureSize
	w.WriteUint16(proto.NegotiateSigningEnabled)
	w.WriteUint16(uint16(dialect))
	w.WriteUint16(0) // NegotiateContextCount
	w.WriteGUID([16]byte{1, 2, 3, 4})
	w.WriteUint32(capabilities)
	w.WriteUint32(8 * 1024 * 1024) // MaxTransactSize
	w.WriteUint32(8 * 1024 * 1024) // MaxReadSize
	w.WriteUint32(8 * 1024 * 1024) // MaxWriteSize
	w.WriteUint64(0)               // SystemTime
	w.WriteUint64(0)               // ServerStartTime
	w.WriteUint16(0)               // SecurityBufferOffset
	w.WriteUint16(0)               // SecurityBufferLength
	w.WriteUint32(0)               // NegotiateContextOffset
	body := w.Bytes()

	header := proto.Header{Command: proto.CmdNegotiate, MessageID: messageID, Flags: proto.FlagServerToRedir}
	return append(header.Marshal(), body...)
}

// A dialect the client never offered must fail validation (NegotiationFailed).
func TestNegotiateRejectsUnofferedDialect(t *testing.T) {
	sender := &fakeSender{responses: [][]byte{
		buildNegotiateResponseFrame(0, proto.Dialect(0x9999), proto.CapLargeMTU),
	}}
	n := New(sender, Config{}, preauth.NewChain(), registry.New(), &seqIDs{})

	if _, err := n.Negotiate(); err == nil {
		t.Fatalf("Negotiate should reject an unoffered dialect")
	}
}

// Pre-3.1.1: encryption required but the server lacks CapEncryption fails.
func TestNegotiateRequiresEncryptionCapabilityPre311(t *testing.T) {
	sender := &fakeSender{responses: [][]byte{
		buildNegotiateResponseFrame(0, proto.Smb30, proto.CapLargeMTU), // no CapEncryption
	}}
	n := New(sender, Config{RequireEncryption: true}, preauth.NewChain(), registry.New(), &seqIDs{})

	if _, err := n.Negotiate(); err == nil {
		t.Fatalf("Negotiate should fail when encryption is required but server lacks CapEncryption")
	}
}

func TestNegotiateSucceedsWithEncryptionCapability(t *testing.T) {
	sender := &fakeSender{responses: [][]byte{
		buildNegotiateResponseFrame(0, proto.Smb30, proto.CapLargeMTU|proto.CapEncryption),
	}}
	n := New(sender, Config{RequireEncryption: true}, preauth.NewChain(), registry.New(), &seqIDs{})

	props, err := n.Negotiate()
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if props.Dialect != proto.Smb30 {
		t.Fatalf("got dialect %v, want Smb30", props.Dialect)
	}
	if n.CurrentState() != StateNegotiated {
		t.Fatalf("state = %v, want StateNegotiated", n.CurrentState())
	}
}

// fakeGuestAuth completes in a single round trip with no server token
// needed, mirroring auth.Guest's shape without importing the auth package
// (it also records whether Next was called).
type fakeGuestAuth struct{ called bool }

func (a *fakeGuestAuth) Next(serverToken []byte) ([]byte, bool, error) {
	a.called = true
	return []byte{}, true, nil
}
func (a *fakeGuestAuth) IsAuthenticated() bool { return a.called }
func (a *fakeGuestAuth) KeysExchanged() bool   { return false }
func (a *fakeGuestAuth) SessionKey() []byte    { return nil }

func buildSessionSetupResponseFrame(sessionID uint64) []byte {
	w := proto.NewWriter(8)
	w.WriteUint16(9) // StructureSize
	w.WriteUint16(0) // SessionFlags
	w.WriteUint16(0) // SecurityBufferOffset
	w.WriteUint16(0) // SecurityBufferLength
	header := proto.Header{Command: proto.CmdSessionSetup, MessageID: 1, SessionID: sessionID, Flags: proto.FlagServerToRedir}
	return append(header.Marshal(), w.Bytes()...)
}

func TestRunSessionSetupSingleRoundTripGuest(t *testing.T) {
	sender := &fakeSender{responses: [][]byte{
		buildSessionSetupResponseFrame(0x1234),
	}}
	n := New(sender, Config{}, preauth.NewChain(), registry.New(), &seqIDs{})
	n.props = NegotiatedProperties{Dialect: proto.Smb202}

	sessionID, err := n.RunSessionSetup(&fakeGuestAuth{})
	if err != nil {
		t.Fatalf("RunSessionSetup: %v", err)
	}
	if sessionID != 0x1234 {
		t.Fatalf("sessionID = 0x%x, want 0x1234", sessionID)
	}
	if n.CurrentState() != StateAuthenticated {
		t.Fatalf("state = %v, want StateAuthenticated", n.CurrentState())
	}
}

func buildTreeConnectResponseFrame(treeID uint32) []byte {
	w := proto.NewWriter(16)
	w.WriteUint16(16) // StructureSize
	w.WriteUint8(1)   // ShareType
	w.WriteUint8(0)   // Reserved
	w.WriteUint32(0)  // ShareFlags
	w.WriteUint32(0)  // Capabilities
	w.WriteUint32(0x001F01FF) // MaximalAccess
	header := proto.Header{Command: proto.CmdTreeConnect, MessageID: 2, TreeID: treeID, Status: proto.StatusSuccess, Flags: proto.FlagServerToRedir}
	return append(header.Marshal(), w.Bytes()...)
}

func TestTreeConnectReturnsTreeID(t *testing.T) {
	sender := &fakeSender{responses: [][]byte{
		buildTreeConnectResponseFrame(7),
	}}
	n := New(sender, Config{}, preauth.NewChain(), registry.New(), &seqIDs{})

	resp, treeID, err := n.TreeConnect(`\\server\share`)
	if err != nil {
		t.Fatalf("TreeConnect: %v", err)
	}
	if treeID != 7 {
		t.Fatalf("treeID = %d, want 7", treeID)
	}
	if resp.ShareType != 1 {
		t.Fatalf("ShareType = %d, want 1", resp.ShareType)
	}
	if n.CurrentState() != StateTreeBound {
		t.Fatalf("state = %v, want StateTreeBound", n.CurrentState())
	}
}

// TreeConnect must consult the session registry rather than assume every
// session signs: a guest/anonymous session with no registered signing
// state sends an unsigned request, while a session that does require
// signing gets FlagSigned set and Send called with sign=true.
func TestTreeConnectSignsOnlyWhenSessionRequiresIt(t *testing.T) {
	sender := &fakeSender{responses: [][]byte{buildTreeConnectResponseFrame(1)}}
	sessions := registry.New()
	sessions.Register(0, &registry.State{SignData: true})
	n := New(sender, Config{}, preauth.NewChain(), sessions, &seqIDs{})

	if _, _, err := n.TreeConnect(`\\server\share`); err != nil {
		t.Fatalf("TreeConnect: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].Flags&proto.FlagSigned == 0 {
		t.Fatalf("expected the request to carry FlagSigned when the session requires signing")
	}
}

func TestTreeConnectDoesNotSignForGuestSession(t *testing.T) {
	sender := &fakeSender{responses: [][]byte{buildTreeConnectResponseFrame(1)}}
	n := New(sender, Config{}, preauth.NewChain(), registry.New(), &seqIDs{}) // no session registered

	if _, _, err := n.TreeConnect(`\\server\share`); err != nil {
		t.Fatalf("TreeConnect: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].Flags&proto.FlagSigned != 0 {
		t.Fatalf("expected no FlagSigned for a session with no registered signing state")
	}
}

func TestTreeConnectFailsOnErrorStatus(t *testing.T) {
	header := proto.Header{Command: proto.CmdTreeConnect, MessageID: 2, Status: proto.StatusAccessDenied, Flags: proto.FlagServerToRedir}
	sender := &fakeSender{responses: [][]byte{append(header.Marshal(), make([]byte, 16)...)}}
	n := New(sender, Config{}, preauth.NewChain(), registry.New(), &seqIDs{})

	if _, _, err := n.TreeConnect(`\\server\share`); err == nil {
		t.Fatalf("TreeConnect should fail on a non-Success status")
	}
}

// fakeKeyExchangeAuth models the shipped NTLM authenticator's shape: keys
// are not exchanged until the AUTHENTICATE round, and KeysExchanged/done
// become true together on that same round.
type fakeKeyExchangeAuth struct{ round int }

func (a *fakeKeyExchangeAuth) Next(serverToken []byte) ([]byte, bool, error) {
	a.round++
	if a.round == 1 {
		return []byte("negotiate"), false, nil
	}
	return []byte("authenticate"), true, nil
}
func (a *fakeKeyExchangeAuth) IsAuthenticated() bool { return a.round >= 2 }
func (a *fakeKeyExchangeAuth) KeysExchanged() bool   { return a.round >= 2 }
func (a *fakeKeyExchangeAuth) SessionKey() []byte    { return make([]byte, 16) }

// A multi-round authenticator that exchanges keys on its final round (as
// NTLM does) must still reach the finalize branch: the preauth chain must
// be frozen, and the session registered with a signer, before the request
// carrying that final round is sent — not only after its response arrives.
func TestRunSessionSetupFinalizesBeforeSendingFinalRound(t *testing.T) {
	pre := preauth.NewChain()
	sender := &fakeSender{
		chain: pre,
		responses: [][]byte{
			buildSessionSetupResponseFrame(0x2000),
			buildSessionSetupResponseFrame(0x2000),
		},
	}
	sessions := registry.New()
	n := New(sender, Config{}, pre, sessions, &seqIDs{})
	n.props = NegotiatedProperties{Dialect: proto.Smb311, SigningAlgo: proto.SigningAESCMAC}

	sessionID, err := n.RunSessionSetup(&fakeKeyExchangeAuth{})
	if err != nil {
		t.Fatalf("RunSessionSetup: %v", err)
	}
	if sessionID != 0x2000 {
		t.Fatalf("sessionID = 0x%x, want 0x2000", sessionID)
	}

	if len(sender.preauthFinishedAtSend) != 2 {
		t.Fatalf("expected 2 SessionSetup requests sent, got %d", len(sender.preauthFinishedAtSend))
	}
	if sender.preauthFinishedAtSend[0] {
		t.Fatalf("preauth chain must still be open before the NEGOTIATE round's request is sent")
	}
	if !sender.preauthFinishedAtSend[1] {
		t.Fatalf("preauth chain must already be frozen before the AUTHENTICATE round's request is sent")
	}

	state, err := sessions.Lookup(sessionID)
	if err != nil {
		t.Fatalf("session should be registered once keys are exchanged: %v", err)
	}
	if !state.SignData || state.Signer == nil {
		t.Fatalf("registered state should carry a signer: %+v", state)
	}
}

// The handshake (NEGOTIATE, SESSION_SETUP, TREE_CONNECT) must draw its
// message-ids from the one shared allocator a real Connection also uses
// for every later Call, so no id repeats in the outbound stream (P6).
func TestMessageIDsAreUniqueAcrossHandshake(t *testing.T) {
	ids := &seqIDs{}
	sender := &fakeSender{responses: [][]byte{
		buildNegotiateResponseFrame(0, proto.Smb202, proto.CapLargeMTU),
		buildSessionSetupResponseFrame(0x3000),
		buildTreeConnectResponseFrame(9),
	}}
	n := New(sender, Config{}, preauth.NewChain(), registry.New(), ids)

	if _, err := n.Negotiate(); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if _, err := n.RunSessionSetup(&fakeGuestAuth{}); err != nil {
		t.Fatalf("RunSessionSetup: %v", err)
	}
	if _, _, err := n.TreeConnect(`\\server\share`); err != nil {
		t.Fatalf("TreeConnect: %v", err)
	}

	seen := make(map[uint64]bool)
	for _, h := range sender.sent {
		if seen[h.MessageID] {
			t.Fatalf("message-id %d reused across the handshake", h.MessageID)
		}
		seen[h.MessageID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct message-ids across the handshake, got %d", len(seen))
	}
}
