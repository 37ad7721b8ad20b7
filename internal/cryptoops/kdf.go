// Package cryptoops implements the SMB2/SMB3 cryptographic primitives: key
// derivation (SP800-108 counter-mode KBKDF), message signing (HMAC-SHA256,
// AES-CMAC, AES-GMAC), and AEAD encryption (AES-CCM, AES-GCM).
//
// Grounded on the teacher's smb2_signing.go (kdfSP800108, computeHMACSHA256,
// computeAESCMAC, generateCMACSubkeys) and marmos91-dittofs's
// internal/adapter/smb/kdf for label/context wiring confirmation.
package cryptoops

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/absfs/smb2proto/internal/proto"
)

// Key derivation labels, per MS-SMB2 3.1.4.2 / spec.md §4.3.3.
var (
	label311Signing = []byte("SMBSigningKey\x00")
	label311C2S     = []byte("SMBC2SCipherKey\x00")
	label311S2C     = []byte("SMBS2CCipherKey\x00")

	label30Signing = []byte("SMB2AESCMAC\x00")
	context30Sign  = []byte("SmbSign\x00")

	label30Cipher = []byte("SMB2AESCCM\x00")
	contextC2S30  = []byte("ServerIn \x00")
	contextS2C30  = []byte("ServerOut\x00")
)

// KBKDF implements NIST SP800-108 counter-mode key derivation with
// HMAC-SHA256 as the PRF, a single 4-byte big-endian counter starting at 1,
// and a fixed output length (in bits) encoded as the final 4 bytes — the
// exact construction spec.md §4.3.3 specifies:
//
//	K(i) = HMAC-SHA256(KI, [i]_2 || Label || 0x00 || Context || [L]_2)
//
// lengthBytes is the desired output length; for every key this runtime
// derives that is 16 (128 bits), matching spec.md's "output length 128
// bits" and the teacher's kdfSP800108.
func KBKDF(ki, label, context []byte, lengthBytes int) []byte {
	lengthBits := uint32(lengthBytes * 8)
	out := make([]byte, 0, lengthBytes)

	for counter := uint32(1); len(out) < lengthBytes; counter++ {
		h := hmac.New(sha256.New, ki)

		var counterBytes [4]byte
		binary.BigEndian.PutUint32(counterBytes[:], counter)
		h.Write(counterBytes[:])

		h.Write(label)
		h.Write([]byte{0x00})
		h.Write(context)

		var lengthBytesBE [4]byte
		binary.BigEndian.PutUint32(lengthBytesBE[:], lengthBits)
		h.Write(lengthBytesBE[:])

		out = append(out, h.Sum(nil)...)
	}

	return out[:lengthBytes]
}

// DeriveSigningKey derives the session signing key. SMB 2.x has no
// derivation: the session key is used directly.
func DeriveSigningKey(sessionKey []byte, dialect proto.Dialect, preauthHash []byte) []byte {
	switch {
	case !dialect.AtLeast30():
		return sessionKey
	case dialect.AtLeast311():
		return KBKDF(sessionKey, label311Signing, preauthHash, 16)
	default:
		return KBKDF(sessionKey, label30Signing, context30Sign, 16)
	}
}

// DeriveC2SKey derives the client-to-server encryption key. Only
// meaningful for dialects >= 3.0; callers must not call this for SMB 2.x.
func DeriveC2SKey(sessionKey []byte, dialect proto.Dialect, preauthHash []byte) []byte {
	if dialect.AtLeast311() {
		return KBKDF(sessionKey, label311C2S, preauthHash, 16)
	}
	return KBKDF(sessionKey, label30Cipher, contextC2S30, 16)
}

// DeriveS2CKey derives the server-to-client decryption key.
func DeriveS2CKey(sessionKey []byte, dialect proto.Dialect, preauthHash []byte) []byte {
	if dialect.AtLeast311() {
		return KBKDF(sessionKey, label311S2C, preauthHash, 16)
	}
	return KBKDF(sessionKey, label30Cipher, contextS2C30, 16)
}
