// Package negotiate implements C8: the Negotiator state machine that
// drives a connection from TCP-open through dialect negotiation,
// authentication, and tree binding (spec.md §4.8).
//
// Grounded on smb2_negotiate.go's wire-format construction (request/
// response field layout, negotiate-context building — that file is
// server-side response-building; this Negotiator is the client-side
// mirror of the same wire shapes) and on lorenz-go-smb2/conn.go's
// negotiate() function for the client state-machine shape (dialect
// retry-on-SMB2-wildcard, negotiate-context walk, preauth hash seeding)
// and the credit/session-setup loop shape.
package negotiate

import (
	"fmt"

	"github.com/absfs/smb2proto/internal/codec"
	"github.com/absfs/smb2proto/internal/cryptoops"
	"github.com/absfs/smb2proto/internal/preauth"
	"github.com/absfs/smb2proto/internal/proto"
	"github.com/absfs/smb2proto/internal/registry"
)

// State identifies a point in the Negotiator state machine.
type State int

const (
	StateIdle State = iota
	StateTcpOpen
	StateSmb2NegotiateReady
	StateWaitNegotiateResp
	StateNegotiated
	StateSessionSetupInProgress
	StateAuthenticated
	StateTreeBound
)

// Authenticator is the narrow external interface §4.10/§6.2 describes:
// opaque security tokens in and out, with no assumption about the
// underlying mechanism (NTLM, Kerberos, guest).
type Authenticator interface {
	Next(serverToken []byte) (clientToken []byte, done bool, err error)
	IsAuthenticated() bool
	KeysExchanged() bool
	SessionKey() []byte
}

// Sender abstracts the Worker's send/receive so this package has no
// direct dependency on worker and its tests can drive the handshake
// through an in-memory fake.
type Sender interface {
	Send(header proto.Header, body []byte, sign, encrypt bool) error
	Receive(messageID uint64) (frame []byte, header proto.Header, body []byte, err error)
}

// MessageIDs hands out message-ids for the handshake from the same
// counter the connection uses for every later Call, so a message-id
// never repeats in a connection's outbound stream (spec.md §3, P6).
// *Connection satisfies this directly via its own NextMessageID method.
type MessageIDs interface {
	NextMessageID(charge uint64) uint64
}

// NegotiatedProperties is the immutable result of a completed negotiation
// (spec.md §3's "NegotiatedProperties").
type NegotiatedProperties struct {
	Dialect         proto.Dialect
	ServerGUID      [16]byte
	MaxTransactSize uint32
	MaxReadSize     uint32
	MaxWriteSize    uint32
	SigningAlgo     proto.SigningAlgo
	Cipher          proto.Cipher
	CompressionAlgs []proto.CompressionAlgo
	Capabilities    uint32
}

// Config carries the client-offered negotiate parameters, grounded on the
// teacher's Config (trimmed/extended per SPEC_FULL §6.3).
type Config struct {
	ClientGUID         [16]byte
	RequireSigning     bool
	RequireEncryption  bool
	CompressionEnabled bool
	MultiProtocol      bool
}

// Negotiator drives one connection's handshake.
type Negotiator struct {
	sender Sender
	cfg    Config
	ids    MessageIDs

	state     State
	props     NegotiatedProperties
	preauth   *preauth.Chain
	sessions  *registry.Registry
	sessionID uint64
}

// New constructs a Negotiator bound to sender, a shared preauth chain, the
// session registry new sessions get installed into, and ids — the same
// message-id counter the connection uses for Calls after the handshake.
func New(sender Sender, cfg Config, pre *preauth.Chain, sessions *registry.Registry, ids MessageIDs) *Negotiator {
	return &Negotiator{sender: sender, cfg: cfg, ids: ids, state: StateIdle, preauth: pre, sessions: sessions}
}

// Negotiate sends the NEGOTIATE request and validates the response,
// advancing from Smb2NegotiateReady to Negotiated.
func (n *Negotiator) Negotiate() (NegotiatedProperties, error) {
	n.state = StateTcpOpen
	n.state = StateSmb2NegotiateReady

	req := codec.NegotiateRequest{
		Dialects:     proto.SupportedDialects,
		SecurityMode: proto.NegotiateSigningEnabled,
		ClientGUID:   n.cfg.ClientGUID,
	}
	if n.cfg.RequireSigning {
		req.SecurityMode |= proto.NegotiateSigningRequired
	}
	req.Capabilities = proto.CapLargeMTU | proto.CapDFS
	if n.cfg.RequireEncryption {
		req.Capabilities |= proto.CapEncryption
	}
	req.HashAlgorithms = []uint16{proto.HashAlgorithmSHA512}
	req.HashSalt = make([]byte, 32)
	req.Ciphers = []proto.Cipher{proto.CipherAES128GCM, proto.CipherAES256GCM, proto.CipherAES128CCM, proto.CipherAES256CCM}
	if n.cfg.CompressionEnabled {
		req.CompressionAlgs = []proto.CompressionAlgo{proto.CompressionLZ4, proto.CompressionPatternV1, proto.CompressionNone}
	}
	req.SigningAlgs = []proto.SigningAlgo{proto.SigningAESGMAC, proto.SigningAESCMAC}

	body := codec.EncodeNegotiateRequest(req)
	header := proto.Header{Command: proto.CmdNegotiate, MessageID: n.ids.NextMessageID(1), CreditRequest: 1}

	if err := n.sender.Send(header, body, false, false); err != nil {
		return NegotiatedProperties{}, fmt.Errorf("negotiate: send: %w", err)
	}
	n.state = StateWaitNegotiateResp

	frame, _, _, err := n.sender.Receive(header.MessageID)
	if err != nil {
		return NegotiatedProperties{}, fmt.Errorf("negotiate: receive: %w", err)
	}

	resp, err := codec.DecodeNegotiateResponse(frame)
	if err != nil {
		return NegotiatedProperties{}, fmt.Errorf("negotiate: decode: %w", err)
	}

	if err := n.validate(resp); err != nil {
		return NegotiatedProperties{}, err
	}

	n.props = NegotiatedProperties{
		Dialect:         resp.DialectRevision,
		ServerGUID:      resp.ServerGUID,
		MaxTransactSize: resp.MaxTransactSize,
		MaxReadSize:     resp.MaxReadSize,
		MaxWriteSize:    resp.MaxWriteSize,
		SigningAlgo:     resp.SigningAlgo,
		Cipher:          resp.SelectedCipher,
		CompressionAlgs: resp.CompressionAlgs,
		Capabilities:    resp.Capabilities,
	}
	n.state = StateNegotiated
	return n.props, nil
}

// validate applies spec.md §4.8's negotiate validation rules.
func (n *Negotiator) validate(resp codec.NegotiateResponse) error {
	offered := false
	for _, d := range proto.SupportedDialects {
		if d == resp.DialectRevision {
			offered = true
			break
		}
	}
	if !offered {
		return fmt.Errorf("negotiate: NegotiationFailed: dialect %s was not offered", resp.DialectRevision)
	}

	if resp.DialectRevision.AtLeast311() {
		if resp.HashAlgorithm != proto.HashAlgorithmSHA512 {
			return fmt.Errorf("negotiate: NegotiationFailed: preauth hash algorithm must be SHA-512")
		}
		if n.cfg.RequireEncryption && resp.SelectedCipher == proto.CipherNone {
			return fmt.Errorf("negotiate: NegotiationFailed: encryption required but no cipher selected")
		}
	} else {
		if n.cfg.RequireEncryption && resp.Capabilities&proto.CapEncryption == 0 {
			return fmt.Errorf("negotiate: NegotiationFailed: encryption required but server lacks CapEncryption")
		}
	}
	return nil
}

// RunSessionSetup drives the SessionSetup loop with auth, deriving session
// keys and registering the session before the round that carries the now-
// exchanged keys is sent, per spec.md §3 ("preauth hash value frozen at the
// last request of the SessionSetup exchange" — that exchange's own
// request/response must be excluded from the hash) and §4.8 ("registers
// the session in the registry *before* sending the final setup request so
// the server's signed final response can be verified").
func (n *Negotiator) RunSessionSetup(auth Authenticator) (uint64, error) {
	var serverToken []byte
	var sessionID uint64
	var keysFinalized bool

	for {
		clientToken, done, err := auth.Next(serverToken)
		if err != nil {
			return 0, fmt.Errorf("negotiate: authenticator: %w", err)
		}

		// Finalize the instant KeysExchanged() first reports true, not
		// "KeysExchanged() && !done": the shipped NTLM authenticator sets
		// both flags together on its AUTHENTICATE round, so gating on
		// !done as well as KeysExchanged() made this block unreachable
		// for every real multi-round authenticator. Finalizing here,
		// before this round's request is built and sent, is also what
		// keeps that request (and the response to it) out of the preauth
		// hash and gets the session registered before that response
		// arrives.
		if !keysFinalized && auth.KeysExchanged() {
			keysFinalized = true
			preauthHash := n.preauth.Finish()
			sessionKey := auth.SessionKey()

			signingKey := cryptoops.DeriveSigningKey(sessionKey, n.props.Dialect, preauthHash[:])
			state := &registry.State{
				Dialect:  n.props.Dialect,
				Signer:   cryptoops.NewSigner(signingKey, n.props.Dialect, n.props.SigningAlgo),
				SignData: true,
			}
			if n.props.Dialect.AtLeast30() && n.cfg.RequireEncryption {
				c2sKey := cryptoops.DeriveC2SKey(sessionKey, n.props.Dialect, preauthHash[:])
				s2cKey := cryptoops.DeriveS2CKey(sessionKey, n.props.Dialect, preauthHash[:])
				enc, err := cryptoops.NewAEAD(uint16(n.props.Cipher), c2sKey)
				if err != nil {
					return 0, fmt.Errorf("negotiate: build encryptor: %w", err)
				}
				dec, err := cryptoops.NewAEAD(uint16(n.props.Cipher), s2cKey)
				if err != nil {
					return 0, fmt.Errorf("negotiate: build decryptor: %w", err)
				}
				state.Encryptor = enc
				state.Decryptor = dec
				state.EncryptData = true
			}
			n.sessions.Register(sessionID, state)
		}

		securityMode := proto.NegotiateSigningEnabled
		body := codec.EncodeSessionSetupRequest(uint16(securityMode), n.props.Capabilities, clientToken)
		header := proto.Header{Command: proto.CmdSessionSetup, MessageID: n.ids.NextMessageID(1), SessionID: sessionID, CreditRequest: 1}

		if err := n.sender.Send(header, body, false, false); err != nil {
			return 0, fmt.Errorf("negotiate: session setup send: %w", err)
		}

		_, respHeader, respBody, err := n.sender.Receive(header.MessageID)
		if err != nil {
			return 0, fmt.Errorf("negotiate: session setup receive: %w", err)
		}

		if sessionID == 0 {
			sessionID = respHeader.SessionID
		}

		resp, err := codec.DecodeSessionSetupResponse(respBody)
		if err != nil {
			return 0, fmt.Errorf("negotiate: decode session setup response: %w", err)
		}

		serverToken = resp.SecurityBuffer
		if done {
			n.sessionID = sessionID
			n.state = StateAuthenticated
			return sessionID, nil
		}
		n.state = StateSessionSetupInProgress
	}
}

// TreeConnect sends a TREE_CONNECT request for path and advances to
// TreeBound.
func (n *Negotiator) TreeConnect(path string) (codec.TreeConnectResponse, uint32, error) {
	body := codec.EncodeTreeConnectRequest(path)
	header := proto.Header{Command: proto.CmdTreeConnect, MessageID: n.ids.NextMessageID(1), SessionID: n.sessionID, CreditRequest: 1}

	// Guest/anonymous sessions never register signing state (RunSessionSetup
	// only registers one when keys were actually exchanged), so TreeConnect
	// must ask the registry rather than assume every session signs.
	sign := false
	if state, err := n.sessions.Lookup(n.sessionID); err == nil {
		sign = state.RequiresSigning()
	}
	if sign {
		header.Flags |= proto.FlagSigned
	}

	if err := n.sender.Send(header, body, sign, false); err != nil {
		return codec.TreeConnectResponse{}, 0, fmt.Errorf("negotiate: tree connect send: %w", err)
	}

	_, respHeader, respBody, err := n.sender.Receive(header.MessageID)
	if err != nil {
		return codec.TreeConnectResponse{}, 0, fmt.Errorf("negotiate: tree connect receive: %w", err)
	}
	if respHeader.Status != proto.StatusSuccess {
		return codec.TreeConnectResponse{}, 0, fmt.Errorf("negotiate: UnexpectedStatus{expected: Success, actual: 0x%08x}", uint32(respHeader.Status))
	}

	resp, err := codec.DecodeTreeConnectResponse(respBody)
	if err != nil {
		return codec.TreeConnectResponse{}, 0, err
	}
	n.state = StateTreeBound
	return resp, respHeader.TreeID, nil
}

// CurrentState reports the Negotiator's current state, mainly for tests.
func (n *Negotiator) CurrentState() State { return n.state }
