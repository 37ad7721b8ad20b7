package smb2proto

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/absfs/smb2proto/auth"
	"github.com/absfs/smb2proto/internal/codec"
	"github.com/absfs/smb2proto/internal/credit"
	"github.com/absfs/smb2proto/internal/negotiate"
	"github.com/absfs/smb2proto/internal/preauth"
	"github.com/absfs/smb2proto/internal/proto"
	"github.com/absfs/smb2proto/internal/registry"
	"github.com/absfs/smb2proto/internal/transform"
	"github.com/absfs/smb2proto/internal/transport"
	"github.com/absfs/smb2proto/internal/worker"
)

// fakeServer answers exactly one connection's negotiate, session-setup,
// tree-connect, and echo round trip over an in-process net.Pipe, grounded
// on the teacher's mock_smb.go in-process fake-server pattern (generalized
// here from a mocked filesystem backend to a mocked wire-level peer).
type fakeServer struct {
	conn *transport.Conn
}

func (s *fakeServer) run(t *testing.T) {
	t.Helper()
	for i := 0; i < 4; i++ {
		frame, err := s.conn.Receive()
		if err != nil {
			return
		}
		h, err := proto.UnmarshalHeader(frame)
		if err != nil {
			t.Errorf("fakeServer: unmarshal header: %v", err)
			return
		}

		var resp []byte
		switch h.Command {
		case proto.CmdNegotiate:
			resp = s.negotiateResponse(h.MessageID)
		case proto.CmdSessionSetup:
			resp = s.sessionSetupResponse(h.MessageID)
		case proto.CmdTreeConnect:
			resp = s.treeConnectResponse(h.MessageID)
		case proto.CmdEcho:
			resp = s.echoResponse(h.MessageID, h.SessionID, h.TreeID)
		default:
			t.Errorf("fakeServer: unexpected command %v", h.Command)
			return
		}
		if err := s.conn.Send(resp); err != nil {
			return
		}
	}
}

func (s *fakeServer) negotiateResponse(messageID uint64) []byte {
	w := proto.NewWriter(64)
	w.WriteUint16(65)
	w.WriteUint16(proto.NegotiateSigningEnabled)
	w.WriteUint16(uint16(proto.Smb202))
	w.WriteUint16(0)
	w.WriteGUID([16]byte{9, 9, 9})
	w.WriteUint32(proto.CapLargeMTU)
	w.WriteUint32(1 << 20)
	w.WriteUint32(1 << 20)
	w.WriteUint32(1 << 20)
	w.WriteUint64(0)
	w.WriteUint64(0)
	w.WriteUint16(0)
	w.WriteUint16(0)
	w.WriteUint32(0)
	header := proto.Header{Command: proto.CmdNegotiate, MessageID: messageID, Flags: proto.FlagServerToRedir}
	return append(header.Marshal(), w.Bytes()...)
}

func (s *fakeServer) sessionSetupResponse(messageID uint64) []byte {
	w := proto.NewWriter(8)
	w.WriteUint16(9)
	w.WriteUint16(0)
	w.WriteUint16(0)
	w.WriteUint16(0)
	header := proto.Header{Command: proto.CmdSessionSetup, MessageID: messageID, SessionID: 0x1001, Flags: proto.FlagServerToRedir}
	return append(header.Marshal(), w.Bytes()...)
}

func (s *fakeServer) treeConnectResponse(messageID uint64) []byte {
	w := proto.NewWriter(16)
	w.WriteUint16(16)
	w.WriteUint8(1)
	w.WriteUint8(0)
	w.WriteUint32(0)
	w.WriteUint32(0)
	w.WriteUint32(0x001F01FF)
	header := proto.Header{Command: proto.CmdTreeConnect, MessageID: messageID, TreeID: 0x55, SessionID: 0x1001, Status: proto.StatusSuccess, Flags: proto.FlagServerToRedir}
	return append(header.Marshal(), w.Bytes()...)
}

func (s *fakeServer) echoResponse(messageID, sessionID uint64, treeID uint32) []byte {
	header := proto.Header{Command: proto.CmdEcho, MessageID: messageID, SessionID: sessionID, TreeID: treeID, Status: proto.StatusSuccess, Flags: proto.FlagServerToRedir}
	return append(header.Marshal(), make([]byte, 4)...)
}

func newTestConnection(t *testing.T) (*Connection, *fakeServer) {
	t.Helper()
	clientNC, serverNC := net.Pipe()
	t.Cleanup(func() { clientNC.Close(); serverNC.Close() })

	sessions := registry.New()
	pre := preauth.NewChain()
	transformer := transform.New(sessions, pre)
	w := worker.Start(transport.NewConn(clientNC), transformer, 4)
	t.Cleanup(w.Stop)

	adapter := &senderAdapter{w: w}
	negCfg := negotiate.Config{ClientGUID: proto.NewGUID()}

	c := &Connection{
		config:      Config{Server: "fake", Port: 445, Timeout: time.Second},
		sessions:    sessions,
		preauth:     pre,
		transformer: transformer,
		worker:      w,
		credits:     credit.NewControl(1),
	}
	// Shares c's own NextMessageID counter with the Negotiator, exactly as
	// Dial does, so the handshake and the Call below draw from one sequence.
	c.negotiator = negotiate.New(adapter, negCfg, pre, sessions, c)
	return c, &fakeServer{conn: transport.NewConn(serverNC)}
}

// End-to-end negotiate -> session-setup -> tree-connect -> Call round trip
// against an in-process fake server, covering the Connection facade's
// wiring of every internal package built for this runtime.
func TestConnectionFullHandshakeAndCall(t *testing.T) {
	c, server := newTestConnection(t)

	serverDone := make(chan struct{})
	go func() { server.run(t); close(serverDone) }()

	if _, err := c.Negotiate(); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	sess, err := c.Authenticate(auth.NewGuest())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if sess.ID != 0x1001 {
		t.Fatalf("session id = 0x%x, want 0x1001", sess.ID)
	}
	if !sess.IsGuest() {
		t.Fatalf("guest-authenticated session should report IsGuest")
	}

	tree, err := c.Mount(sess, `\\fake\share`)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if tree.TreeID != 0x55 {
		t.Fatalf("tree id = 0x%x, want 0x55", tree.TreeID)
	}

	resp, err := c.Call(sess, tree.TreeID, CmdEcho, make([]byte, 4), 4)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Header.Status != StatusSuccess {
		t.Fatalf("status = %v, want Success", resp.Header.Status)
	}

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("fake server goroutine never finished")
	}

	if err := codecSanityCheck(); err != nil {
		t.Fatalf("codec sanity check: %v", err)
	}
}

// codecSanityCheck exercises codec.Marshal/Unmarshal directly, which the
// end-to-end round trip above never calls now that negotiate builds
// headers/bodies through the typed Encode*/Decode* functions instead.
func codecSanityCheck() error {
	h := proto.Header{Command: proto.CmdEcho, MessageID: 1}
	frame := codec.Marshal(h, []byte("x"))
	msg, err := codec.Unmarshal(frame)
	if err != nil {
		return err
	}
	if string(msg.Body) != "x" {
		return fmt.Errorf("codec: roundtrip body mismatch: got %q", msg.Body)
	}
	return nil
}
