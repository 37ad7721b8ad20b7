package cryptoops

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/absfs/smb2proto/internal/proto"
)

// Signature field location within the fixed 64-byte header.
const (
	SignatureOffset = 48
	SignatureLength = 16
)

// Signer computes and verifies the 16-byte MAC carried in a message's
// signature field. One Signer is selected per session at SessionSetup
// finalize time and used for that session's lifetime (spec.md §9's "tagged
// variant per algorithm category, dispatched through an enum match").
type Signer interface {
	Algo() proto.SigningAlgo
	// Sign returns the 16-byte MAC for message, whose header signature
	// field must already be zeroed by the caller.
	Sign(message []byte) [16]byte
}

// NewSigner selects the signing algorithm implied by dialect, matching
// MS-SMB2's default per-dialect choice (spec.md §4.3.1). algo overrides the
// default when the 3.1.1 negotiate context selected AES-GMAC.
func NewSigner(key []byte, dialect proto.Dialect, algo proto.SigningAlgo) Signer {
	k16 := make([]byte, 16)
	copy(k16, key)

	if dialect.AtLeast30() {
		if algo == proto.SigningAESGMAC {
			return &gmacSigner{key: k16}
		}
		return &cmacSigner{key: k16}
	}
	return &hmacSigner{key: k16}
}

// Sign zeroes message's signature field, computes the MAC with s, and
// writes it back in place. Returns the MAC for callers that also need it
// standalone (e.g. tests).
func Sign(s Signer, message []byte) [16]byte {
	zeroSignature(message)
	mac := s.Sign(message)
	copy(message[SignatureOffset:SignatureOffset+SignatureLength], mac[:])
	return mac
}

// Verify recomputes the MAC over message (with its signature field
// zeroed) and compares it to the signature carried in the message.
func Verify(s Signer, message []byte) bool {
	if len(message) < proto.HeaderSize {
		return false
	}
	var carried [16]byte
	copy(carried[:], message[SignatureOffset:SignatureOffset+SignatureLength])

	scratch := make([]byte, len(message))
	copy(scratch, message)
	zeroSignature(scratch)
	mac := s.Sign(scratch)

	return hmac.Equal(carried[:], mac[:])
}

func zeroSignature(message []byte) {
	for i := SignatureOffset; i < SignatureOffset+SignatureLength && i < len(message); i++ {
		message[i] = 0
	}
}

// hmacSigner implements SMB 2.x signing: HMAC-SHA256 truncated to 16 bytes.
type hmacSigner struct{ key []byte }

func (*hmacSigner) Algo() proto.SigningAlgo { return proto.SigningHMACSHA256 }

func (s *hmacSigner) Sign(message []byte) [16]byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(message)
	var out [16]byte
	copy(out[:], h.Sum(nil)[:16])
	return out
}

// cmacSigner implements SMB 3.0/3.0.2 signing: AES-128-CMAC per RFC 4493.
type cmacSigner struct{ key []byte }

func (*cmacSigner) Algo() proto.SigningAlgo { return proto.SigningAESCMAC }

func (s *cmacSigner) Sign(message []byte) [16]byte {
	var out [16]byte
	mac := computeAESCMAC(message, s.key)
	copy(out[:], mac)
	return out
}

// computeAESCMAC implements RFC 4493 AES-CMAC over message with a 16-byte key.
func computeAESCMAC(message, key []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil
	}
	k1, k2 := cmacSubkeys(block)

	n := (len(message) + 15) / 16
	if n == 0 {
		n = 1
	}

	lastBlock := make([]byte, 16)
	if len(message) > 0 && len(message)%16 == 0 {
		copy(lastBlock, message[(n-1)*16:])
		xorInto(lastBlock, k1)
	} else {
		remaining := len(message) % 16
		if len(message) > 0 {
			copy(lastBlock, message[(n-1)*16:])
		}
		lastBlock[remaining] = 0x80
		xorInto(lastBlock, k2)
	}

	x := make([]byte, 16)
	for i := 0; i < n-1; i++ {
		xorInto(x, message[i*16:(i+1)*16])
		block.Encrypt(x, x)
	}
	xorInto(x, lastBlock)
	block.Encrypt(x, x)
	return x
}

func cmacSubkeys(block cipher.Block) (k1, k2 []byte) {
	const rb = 0x87

	l := make([]byte, 16)
	block.Encrypt(l, l)

	k1 = make([]byte, 16)
	shiftLeft1(k1, l)
	if l[0]&0x80 != 0 {
		k1[15] ^= rb
	}

	k2 = make([]byte, 16)
	shiftLeft1(k2, k1)
	if k1[0]&0x80 != 0 {
		k2[15] ^= rb
	}

	return k1, k2
}

func shiftLeft1(dst, src []byte) {
	var overflow byte
	for i := len(src) - 1; i >= 0; i-- {
		next := src[i] >> 7
		dst[i] = (src[i] << 1) | overflow
		overflow = next
	}
}

func xorInto(dst, src []byte) {
	for i := 0; i < len(dst) && i < len(src); i++ {
		dst[i] ^= src[i]
	}
}

// gmacSigner implements SMB 3.1.1 optional signing: AES-GMAC, i.e. AES-GCM
// run as a MAC over an empty plaintext with the message as AAD. Per
// spec.md §4.3.1 the 12-byte nonce is derived per-message from
// {message_id, flags.server_to_redir}: the low 8 bytes are the message-id
// (little-endian, matching the header's own encoding) and the high 4 bytes
// are 0x00000001 when the SERVER_TO_REDIR response flag is set, else 0 —
// this reproduces [MS-SMB2]'s bit-exact nonce construction for signing,
// mirrored from the AEAD nonce layout used for encryption in §4.3.2.
//
// No example repo in the pack implements AES-GMAC signing; this is built
// directly on crypto/cipher.NewGCM per the stdlib-only justification in
// DESIGN.md.
type gmacSigner struct{ key []byte }

func (*gmacSigner) Algo() proto.SigningAlgo { return proto.SigningAESGMAC }

func (s *gmacSigner) Sign(message []byte) [16]byte {
	var out [16]byte
	if len(message) < proto.HeaderSize {
		return out
	}

	messageID := binary.LittleEndian.Uint64(message[24:32])
	flags := binary.LittleEndian.Uint32(message[16:20])

	nonce := make([]byte, 12)
	binary.LittleEndian.PutUint64(nonce[0:8], messageID)
	if flags&proto.FlagServerToRedir != 0 {
		binary.LittleEndian.PutUint32(nonce[8:12], 1)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return out
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 12)
	if err != nil {
		return out
	}

	tag := gcm.Seal(nil, nonce, nil, message)
	copy(out[:], tag)
	return out
}
