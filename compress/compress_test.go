package compress

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/absfs/smb2proto/internal/proto"
)

// P2: decompress(compress(B, A)) == B for every supported algorithm; for
// chained, applying items in order yields bytes whose length equals the
// declared original_size.
func TestUnchainedRoundtripLZ4(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 64)

	envelope, ok := EncodeUnchained(data, []proto.CompressionAlgo{proto.CompressionLZ4})
	if !ok {
		t.Fatalf("EncodeUnchained reported not ok")
	}

	got, err := DecodeUnchained(envelope)
	if err != nil {
		t.Fatalf("DecodeUnchained: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("roundtrip mismatch: got %d bytes, want %d bytes", len(got), len(data))
	}
}

func TestEncodeUnchainedNoAllowedAlgorithm(t *testing.T) {
	_, ok := EncodeUnchained([]byte("data"), []proto.CompressionAlgo{proto.CompressionNone})
	if ok {
		t.Fatalf("EncodeUnchained should report not ok when LZ4 isn't allowed")
	}
}

func buildChainedItem(alg proto.CompressionAlgo, payload []byte) []byte {
	item := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint16(item[0:2], uint16(alg))
	binary.LittleEndian.PutUint16(item[2:4], 0)
	binary.LittleEndian.PutUint32(item[4:8], uint32(len(payload)))
	copy(item[8:], payload)
	return item
}

func patternV1Payload(pattern byte, repetitions uint32) []byte {
	p := make([]byte, 8)
	p[0] = pattern
	binary.LittleEndian.PutUint32(p[4:8], repetitions)
	return p
}

// S1: a chained compressed frame with two items, (None, 80-byte header
// stand-in) and (PatternV1, {pattern=0x64, repetitions=0x400}), declared
// original_size=1104, decodes to an 1104-byte plaintext whose trailing
// 1024 bytes are all 0x64.
func TestDecodeChainedScenarioS1(t *testing.T) {
	headerStandin := make([]byte, 80)
	for i := range headerStandin {
		headerStandin[i] = byte(i)
	}

	item1 := buildChainedItem(proto.CompressionNone, headerStandin)
	item2 := buildChainedItem(proto.CompressionPatternV1, patternV1Payload(0x64, 0x400))

	body := make([]byte, 6+len(item1)+len(item2))
	binary.LittleEndian.PutUint32(body[0:4], 1104)
	binary.LittleEndian.PutUint16(body[4:6], proto.CompressionFlagChained)
	copy(body[6:], item1)
	copy(body[6+len(item1):], item2)

	got, err := DecodeChained(body)
	if err != nil {
		t.Fatalf("DecodeChained: %v", err)
	}
	if len(got) != 1104 {
		t.Fatalf("decoded length = %d, want 1104", len(got))
	}
	if !bytes.Equal(got[:80], headerStandin) {
		t.Fatalf("first 80 bytes should be the None item's payload unchanged")
	}
	for i := 80; i < 1104; i++ {
		if got[i] != 0x64 {
			t.Fatalf("byte %d = 0x%02x, want 0x64", i, got[i])
		}
	}
}

func TestDecodeChainedSizeMismatch(t *testing.T) {
	item := buildChainedItem(proto.CompressionNone, make([]byte, proto.HeaderSize))
	body := make([]byte, 6+len(item))
	binary.LittleEndian.PutUint32(body[0:4], proto.HeaderSize+1) // wrong on purpose
	copy(body[6:], item)

	if _, err := DecodeChained(body); err == nil {
		t.Fatalf("want error when decoded size does not match declared original_size")
	}
}

func TestEncodeChainedPanicsMatchingUpstreamTodo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("EncodeChained should panic (matches upstream todo!())")
		}
	}()
	EncodeChained(nil)
}

func TestPatternV1CompressUnimplemented(t *testing.T) {
	if _, err := (patternV1Algorithm{}).Compress([]byte("x")); err == nil {
		t.Fatalf("PatternV1 Compress should error (matches upstream todo!())")
	}
}
