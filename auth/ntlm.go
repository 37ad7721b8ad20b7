package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/md4"

	"github.com/absfs/smb2proto/internal/proto"
)

// NTLM message types, flags, and AV-pair ids, grounded verbatim on the
// teacher's auth_ntlm.go (server-side NTLMAuthenticator), flipped here to
// the client roles: generate NEGOTIATE, consume CHALLENGE, generate
// AUTHENTICATE with an NTLMv2 response and derive the session key.
const (
	ntlmNegotiateMessage    = 1
	ntlmChallengeMessage    = 2
	ntlmAuthenticateMessage = 3
)

const (
	ntlmFlagNegotiateUnicode            = 0x00000001
	ntlmFlagNegotiateOEM                = 0x00000002
	ntlmFlagRequestTarget               = 0x00000004
	ntlmFlagNegotiateNTLM               = 0x00000200
	ntlmFlagNegotiateAlwaysSign         = 0x00008000
	ntlmFlagNegotiateExtendedSessionSec = 0x00080000
	ntlmFlagNegotiateTargetInfo         = 0x00800000
	ntlmFlagNegotiateVersion            = 0x02000000
	ntlmFlagNegotiate128                = 0x20000000
	ntlmFlagNegotiateKeyExch            = 0x40000000
	ntlmFlagNegotiate56                 = 0x80000000
)

const (
	avEOL             = 0x0000
	avNbComputerName  = 0x0001
	avNbDomainName    = 0x0002
	avTimestamp       = 0x0007
)

var ntlmSignature = []byte("NTLMSSP\x00")

// NTLM is a client-side NTLMv2 Authenticator.
type NTLM struct {
	Username     string
	Password     string
	Domain       string
	Workstation  string
	RequireKeyExch bool

	state           int // 0 = not started, 1 = negotiate sent, 2 = authenticate sent
	serverChallenge [8]byte
	targetInfo      []byte
	negotiateFlags  uint32

	sessionKey    []byte
	keysExchanged bool
	authenticated bool
}

// NewNTLM constructs a client-side NTLMv2 authenticator for the given
// credentials.
func NewNTLM(username, password, domain string) *NTLM {
	return &NTLM{Username: username, Password: password, Domain: domain, RequireKeyExch: true}
}

func (n *NTLM) Next(serverToken []byte) ([]byte, bool, error) {
	switch n.state {
	case 0:
		n.state = 1
		return n.buildNegotiateMessage(), false, nil
	case 1:
		if err := n.parseChallengeMessage(serverToken); err != nil {
			return nil, false, fmt.Errorf("ntlm: parse challenge: %w", err)
		}
		token, err := n.buildAuthenticateMessage()
		if err != nil {
			return nil, false, fmt.Errorf("ntlm: build authenticate: %w", err)
		}
		n.state = 2
		n.authenticated = true
		return token, true, nil
	default:
		return nil, false, fmt.Errorf("ntlm: Next called after authentication completed")
	}
}

func (n *NTLM) IsAuthenticated() bool { return n.authenticated }
func (n *NTLM) KeysExchanged() bool   { return n.keysExchanged }
func (n *NTLM) SessionKey() []byte    { return n.sessionKey }

// buildNegotiateMessage builds an NTLM Type 1 (NEGOTIATE) message.
func (n *NTLM) buildNegotiateMessage() []byte {
	flags := uint32(ntlmFlagNegotiateUnicode | ntlmFlagRequestTarget | ntlmFlagNegotiateNTLM |
		ntlmFlagNegotiateAlwaysSign | ntlmFlagNegotiateExtendedSessionSec | ntlmFlagNegotiateTargetInfo |
		ntlmFlagNegotiate128 | ntlmFlagNegotiate56)
	if n.RequireKeyExch {
		flags |= ntlmFlagNegotiateKeyExch
	}

	msg := make([]byte, 32)
	copy(msg[0:8], ntlmSignature)
	binary.LittleEndian.PutUint32(msg[8:12], ntlmNegotiateMessage)
	binary.LittleEndian.PutUint32(msg[12:16], flags)
	// DomainNameFields/WorkstationFields left zero: this client supplies
	// domain/workstation in the AUTHENTICATE message instead.
	return msg
}

// parseChallengeMessage extracts the server challenge, flags, and target
// info from an NTLM Type 2 (CHALLENGE) message.
func (n *NTLM) parseChallengeMessage(blob []byte) error {
	if len(blob) < 32 || !bytes.HasPrefix(blob, ntlmSignature) {
		return fmt.Errorf("missing NTLMSSP signature")
	}
	msgType := binary.LittleEndian.Uint32(blob[8:12])
	if msgType != ntlmChallengeMessage {
		return fmt.Errorf("unexpected message type %d, want CHALLENGE", msgType)
	}

	n.negotiateFlags = binary.LittleEndian.Uint32(blob[20:24])
	copy(n.serverChallenge[:], blob[24:32])

	if len(blob) >= 48 {
		targetInfoLen := binary.LittleEndian.Uint16(blob[40:42])
		targetInfoOffset := binary.LittleEndian.Uint32(blob[44:48])
		if targetInfoLen > 0 && int(targetInfoOffset)+int(targetInfoLen) <= len(blob) {
			n.targetInfo = blob[targetInfoOffset : targetInfoOffset+uint32(targetInfoLen)]
		}
	}
	return nil
}

// buildAuthenticateMessage builds an NTLM Type 3 (AUTHENTICATE) message
// carrying an NTLMv2 response, and derives the session key along the way.
func (n *NTLM) buildAuthenticateMessage() ([]byte, error) {
	responseKeyNT := ntv2Hash(n.Username, n.Password, n.Domain)

	clientChallenge := make([]byte, 8)
	if _, err := rand.Read(clientChallenge); err != nil {
		return nil, err
	}

	clientBlob := buildNTLMv2ClientBlob(clientChallenge, n.targetInfo)

	h := hmac.New(md5.New, responseKeyNT)
	h.Write(n.serverChallenge[:])
	h.Write(clientBlob)
	ntProofStr := h.Sum(nil)

	ntResponse := append(append([]byte{}, ntProofStr...), clientBlob...)

	sessionBaseKeyH := hmac.New(md5.New, responseKeyNT)
	sessionBaseKeyH.Write(ntProofStr)
	sessionBaseKey := sessionBaseKeyH.Sum(nil)

	var encryptedSessionKey []byte
	useKeyExch := n.negotiateFlags&ntlmFlagNegotiateKeyExch != 0
	if useKeyExch {
		exportedSessionKey := make([]byte, 16)
		if _, err := rand.Read(exportedSessionKey); err != nil {
			return nil, err
		}
		cipher, err := rc4.NewCipher(sessionBaseKey)
		if err != nil {
			return nil, err
		}
		encryptedSessionKey = make([]byte, 16)
		cipher.XORKeyStream(encryptedSessionKey, exportedSessionKey)
		n.sessionKey = exportedSessionKey
	} else {
		n.sessionKey = sessionBaseKey
	}
	n.keysExchanged = true

	domainUTF16 := proto.EncodeUTF16LE(n.Domain)
	userUTF16 := proto.EncodeUTF16LE(n.Username)
	workstationUTF16 := proto.EncodeUTF16LE(n.Workstation)

	const fixedHeaderSize = 64
	lmResponse := make([]byte, 24) // NTLMv2: LM response is unused but still a 24-byte placeholder field

	offset := fixedHeaderSize
	domainOffset := offset
	offset += len(domainUTF16)
	userOffset := offset
	offset += len(userUTF16)
	workstationOffset := offset
	offset += len(workstationUTF16)
	lmOffset := offset
	offset += len(lmResponse)
	ntOffset := offset
	offset += len(ntResponse)
	sessionKeyOffset := offset
	offset += len(encryptedSessionKey)

	msg := make([]byte, offset)
	copy(msg[0:8], ntlmSignature)
	binary.LittleEndian.PutUint32(msg[8:12], ntlmAuthenticateMessage)

	writeField(msg, 12, lmOffset, lmResponse)
	writeField(msg, 20, ntOffset, ntResponse)
	writeField(msg, 28, domainOffset, domainUTF16)
	writeField(msg, 36, userOffset, userUTF16)
	writeField(msg, 44, workstationOffset, workstationUTF16)
	writeField(msg, 52, sessionKeyOffset, encryptedSessionKey)

	flags := uint32(ntlmFlagNegotiateUnicode | ntlmFlagNegotiateNTLM | ntlmFlagNegotiateExtendedSessionSec)
	if useKeyExch {
		flags |= ntlmFlagNegotiateKeyExch
	}
	binary.LittleEndian.PutUint32(msg[60:64], flags)

	copy(msg[domainOffset:], domainUTF16)
	copy(msg[userOffset:], userUTF16)
	copy(msg[workstationOffset:], workstationUTF16)
	copy(msg[lmOffset:], lmResponse)
	copy(msg[ntOffset:], ntResponse)
	copy(msg[sessionKeyOffset:], encryptedSessionKey)

	return msg, nil
}

func writeField(msg []byte, fieldOffset, dataOffset int, data []byte) {
	binary.LittleEndian.PutUint16(msg[fieldOffset:fieldOffset+2], uint16(len(data)))
	binary.LittleEndian.PutUint16(msg[fieldOffset+2:fieldOffset+4], uint16(len(data)))
	binary.LittleEndian.PutUint32(msg[fieldOffset+4:fieldOffset+8], uint32(dataOffset))
}

// buildNTLMv2ClientBlob builds the variable part of an NTLMv2 response:
// {resp_type:1=1, hi_resp_type:1=1, reserved1:2, reserved2:4, timestamp:8,
// client_challenge:8, reserved3:4, target_info, reserved4:4}.
func buildNTLMv2ClientBlob(clientChallenge, targetInfo []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(1)
	buf.WriteByte(1)
	buf.Write(make([]byte, 6)) // Reserved1 (2) + Reserved2 (4), written as one 6-byte zero run
	binary.Write(&buf, binary.LittleEndian, fileTime(time.Now()))
	buf.Write(clientChallenge)
	buf.Write(make([]byte, 4)) // Reserved3
	buf.Write(targetInfo)
	buf.Write(make([]byte, 4)) // Reserved4
	return buf.Bytes()
}

// fileTime converts t to the Windows FILETIME epoch (100ns ticks since
// 1601-01-01), the encoding NTLMv2 timestamps use.
func fileTime(t time.Time) uint64 {
	const epochDelta = 116444736000000000 // ticks between 1601 and 1970
	return uint64(t.UnixNano()/100) + epochDelta
}

// ntHash computes the NT hash: MD4 of the UTF-16LE password.
func ntHash(password string) []byte {
	h := md4.New()
	h.Write(proto.EncodeUTF16LE(password))
	return h.Sum(nil)
}

// ntv2Hash computes NTOWFv2: HMAC-MD5(NTHash, UPPER(username)+domain).
func ntv2Hash(username, password, domain string) []byte {
	nt := ntHash(password)
	userDomain := proto.EncodeUTF16LE(strings.ToUpper(username) + domain)
	h := hmac.New(md5.New, nt)
	h.Write(userDomain)
	return h.Sum(nil)
}
