package cryptoops

import (
	"bytes"
	"testing"

	"github.com/absfs/smb2proto/internal/proto"
)

func k16() []byte {
	k := make([]byte, 16)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func h64() []byte {
	h := make([]byte, 64)
	for i := range h {
		h[i] = byte(i)
	}
	return h
}

// S3: with K16 = 0x000102...0F and H64 = 0x00..3F, the 3.1.1 signing key
// equals KBKDF(K16, "SMBSigningKey\0", H64) and the c2s encryption key
// equals KBKDF(K16, "SMBC2SCipherKey\0", H64); both independent bit-for-bit.
func TestDeriveKeys311(t *testing.T) {
	key := k16()
	hash := h64()

	signing := DeriveSigningKey(key, proto.Smb311, hash)
	c2s := DeriveC2SKey(key, proto.Smb311, hash)
	s2c := DeriveS2CKey(key, proto.Smb311, hash)

	want := KBKDF(key, []byte("SMBSigningKey\x00"), hash, 16)
	if !bytes.Equal(signing, want) {
		t.Fatalf("signing key mismatch: got %x, want %x", signing, want)
	}
	wantC2S := KBKDF(key, []byte("SMBC2SCipherKey\x00"), hash, 16)
	if !bytes.Equal(c2s, wantC2S) {
		t.Fatalf("c2s key mismatch: got %x, want %x", c2s, wantC2S)
	}

	if bytes.Equal(signing, c2s) {
		t.Fatalf("signing and c2s keys must be independent")
	}
	if bytes.Equal(c2s, s2c) {
		t.Fatalf("c2s and s2c keys must be independent")
	}
	if len(signing) != 16 || len(c2s) != 16 || len(s2c) != 16 {
		t.Fatalf("derived keys must be 128 bits")
	}
}

func TestDeriveSigningKeySMB2xIsRawSessionKey(t *testing.T) {
	key := k16()
	if got := DeriveSigningKey(key, proto.Smb202, nil); !bytes.Equal(got, key) {
		t.Fatalf("SMB2.x signing key should be the raw session key, got %x", got)
	}
}

func TestKBKDFDeterministic(t *testing.T) {
	a := KBKDF(k16(), []byte("label\x00"), []byte("context"), 16)
	b := KBKDF(k16(), []byte("label\x00"), []byte("context"), 16)
	if !bytes.Equal(a, b) {
		t.Fatalf("KBKDF must be deterministic")
	}
	if len(a) != 16 {
		t.Fatalf("want 16 bytes, got %d", len(a))
	}
}

func TestKBKDFLongerThanOneBlock(t *testing.T) {
	out := KBKDF(k16(), []byte("label\x00"), []byte("context"), 48)
	if len(out) != 48 {
		t.Fatalf("want 48 bytes, got %d", len(out))
	}
}
