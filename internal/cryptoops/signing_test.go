package cryptoops

import (
	"testing"

	"github.com/absfs/smb2proto/internal/proto"
)

func sampleMessage(n int) []byte {
	h := proto.Header{Command: proto.CmdWrite, MessageID: 7, Flags: proto.FlagSigned}
	msg := append(h.Marshal(), make([]byte, n)...)
	for i := proto.HeaderSize; i < len(msg); i++ {
		msg[i] = byte(i)
	}
	return msg
}

func testKey() []byte {
	k := make([]byte, 16)
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

// P4/S4: verify(sign(M, k), k) == ok; verify(sign(M, k), k') fails for
// k' != k; verify(mutate(sign(M, k)), k) fails.
func TestSigningLawHMAC(t *testing.T)  { testSigningLaw(t, proto.Smb202, proto.SigningHMACSHA256) }
func TestSigningLawCMAC(t *testing.T)  { testSigningLaw(t, proto.Smb30, proto.SigningAESCMAC) }
func TestSigningLawGMAC(t *testing.T)  { testSigningLaw(t, proto.Smb311, proto.SigningAESGMAC) }

func testSigningLaw(t *testing.T, dialect proto.Dialect, algo proto.SigningAlgo) {
	t.Helper()
	key := testKey()
	otherKey := make([]byte, 16)
	copy(otherKey, key)
	otherKey[0] ^= 0xFF

	msg := sampleMessage(64)
	signer := NewSigner(key, dialect, algo)
	Sign(signer, msg)

	if !Verify(signer, msg) {
		t.Fatalf("verify(sign(M,k),k) should succeed")
	}

	otherSigner := NewSigner(otherKey, dialect, algo)
	if Verify(otherSigner, msg) {
		t.Fatalf("verify with a different key should fail")
	}

	mutated := append([]byte{}, msg...)
	mutated[proto.HeaderSize] ^= 0x01
	if Verify(signer, mutated) {
		t.Fatalf("verify of a body-mutated message should fail")
	}

	mutatedHeader := append([]byte{}, msg...)
	mutatedHeader[24] ^= 0x01 // message-id byte
	if Verify(signer, mutatedHeader) {
		t.Fatalf("verify of a header-mutated message should fail")
	}
}

func TestSignerAlgoSelection(t *testing.T) {
	key := testKey()
	if NewSigner(key, proto.Smb202, 0).Algo() != proto.SigningHMACSHA256 {
		t.Errorf("SMB 2.x should select HMAC-SHA256")
	}
	if NewSigner(key, proto.Smb30, proto.SigningAESCMAC).Algo() != proto.SigningAESCMAC {
		t.Errorf("SMB 3.0 should select AES-CMAC")
	}
	if NewSigner(key, proto.Smb311, proto.SigningAESGMAC).Algo() != proto.SigningAESGMAC {
		t.Errorf("explicit AES-GMAC selection should be honored")
	}
}
