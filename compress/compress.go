// Package compress implements the SMB2 compression sub-protocol
// (spec.md §4.7): the Unchained and Chained envelope forms wrapping a
// compressed SMB2 message, and the three algorithms this runtime supports
// (None, PatternV1, LZ4).
//
// Grounded on the original Rust compression.rs (Compressor/Decompressor,
// the CompressionMethod/CompressionAlgorithmImpl trait split realized here
// as the Algorithm interface and a small enum switch) and on
// github.com/pierrec/lz4/v4's block API for LZ4, matching the Rust
// lz4_flex block (not frame) usage.
package compress

import (
	"encoding/binary"
	"fmt"

	"github.com/absfs/smb2proto/internal/proto"
	"github.com/pierrec/lz4/v4"
)

var le = binary.LittleEndian

// Magic bytes distinguishing a plain, compressed, or encrypted envelope
// when peeking the first 4 bytes of an incoming frame (spec.md §6.1).
var (
	PlainMagic     = [4]byte{0xFE, 'S', 'M', 'B'}
	CompressedMagic = [4]byte{0xFC, 'S', 'M', 'B'}
	EncryptedMagic  = [4]byte{0xFD, 'S', 'M', 'B'}
)

// ALGORITHM_PRIORITY: the single algorithm this runtime offers for
// outgoing unchained compression, matching the Rust
// UnchainedCompression::ALGORITHM_PRIORITY constant (LZ4 only).
var algorithmPriority = []proto.CompressionAlgo{proto.CompressionLZ4}

// MinCompressSize is the payload-size threshold below which compression is
// skipped even when enabled (spec.md's "|B|>1024" gate in the outgoing
// transform pipeline).
const MinCompressSize = 1024

// ChainedItem is one entry of a Chained compressed envelope.
type ChainedItem struct {
	Algorithm    proto.CompressionAlgo
	OriginalSize uint32 // present only for algorithms that need it (LZ4); zero for None/PatternV1
	Payload      []byte
}

// EncodeUnchained builds an Unchained compressed envelope from data,
// picking the first algorithm in priority order that allowed reports as
// acceptable. Returns ok=false if none of the allowed algorithms is
// supported (caller should fall back to sending data uncompressed).
func EncodeUnchained(data []byte, allowed []proto.CompressionAlgo) (envelope []byte, ok bool) {
	for _, candidate := range algorithmPriority {
		if !contains(allowed, candidate) {
			continue
		}
		alg := algorithmFor(candidate)
		if alg == nil {
			continue
		}
		compressed, err := alg.Compress(data)
		if err != nil {
			continue
		}

		buf := make([]byte, 8+len(compressed))
		le.PutUint32(buf[0:4], uint32(len(data)))
		le.PutUint16(buf[4:6], uint16(candidate))
		le.PutUint16(buf[6:8], 0) // Flags: 0 = Unchained
		copy(buf[8:], compressed)
		return buf, true
	}
	return nil, false
}

// DecodeUnchained parses and decompresses an Unchained envelope body (the
// bytes following the 4-byte magic).
func DecodeUnchained(body []byte) ([]byte, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("compress: unchained envelope too short")
	}
	originalSize := le.Uint32(body[0:4])
	algorithmID := proto.CompressionAlgo(le.Uint16(body[4:6]))
	payload := body[8:]

	alg := algorithmFor(algorithmID)
	if alg == nil {
		return nil, fmt.Errorf("compress: unsupported algorithm 0x%04x", algorithmID)
	}
	return alg.Decompress(payload, originalSize)
}

// DecodeChained parses and decompresses a Chained envelope body, which
// concatenates multiple algorithm-tagged items until originalSize bytes of
// plaintext have been produced.
func DecodeChained(body []byte) ([]byte, error) {
	if len(body) < 6 {
		return nil, fmt.Errorf("compress: chained envelope too short")
	}
	originalSize := le.Uint32(body[0:4])
	if originalSize < proto.HeaderSize {
		return nil, fmt.Errorf("compress: chained envelope original size %d below header size", originalSize)
	}
	items := body[6:]

	out := make([]byte, 0, originalSize)
	for len(items) >= 8 {
		algorithmID := proto.CompressionAlgo(le.Uint16(items[0:2]))
		length := le.Uint32(items[4:8])
		if 8+int(length) > len(items) {
			return nil, fmt.Errorf("compress: chained item length exceeds remaining data")
		}
		payload := items[8 : 8+length]
		var itemSize uint32
		if algorithmID == proto.CompressionLZ4 {
			if len(payload) < 4 {
				return nil, fmt.Errorf("compress: chained LZ4 item too short for its original size")
			}
			itemSize = le.Uint32(payload[0:4])
			payload = payload[4:]
		}

		alg := algorithmFor(algorithmID)
		if alg == nil {
			return nil, fmt.Errorf("compress: unsupported chained algorithm 0x%04x", algorithmID)
		}

		decoded, err := alg.Decompress(payload, itemSize)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded...)
		if len(out) > int(originalSize) {
			return nil, fmt.Errorf("compress: chained decompression exceeded expected size")
		}

		items = items[8+length:]
	}

	if len(out) != int(originalSize) {
		return nil, fmt.Errorf("compress: chained decompressed size %d does not match expected %d", len(out), originalSize)
	}
	return out, nil
}

// EncodeChained is intentionally unimplemented: this runtime never
// produces chained compression on the outgoing path, matching the Rust
// source's ChainedCompression::compress, which is a bare todo!(). Only
// Unchained envelopes are ever sent (spec.md §9 Open Question (c)).
func EncodeChained([]ChainedItem) ([]byte, error) {
	panic("compress: outgoing chained compression is not implemented (matches upstream todo!())")
}

func contains(algs []proto.CompressionAlgo, target proto.CompressionAlgo) bool {
	for _, a := range algs {
		if a == target {
			return true
		}
	}
	return false
}

// Algorithm is a single compression algorithm, mirroring the Rust
// CompressionAlgorithmImpl trait.
type Algorithm interface {
	Compress(data []byte) ([]byte, error)
	// Decompress expands compressed into its plaintext. originalSize is
	// authoritative for algorithms that need it to preallocate (LZ4); it
	// is ignored (must be embedded in the payload itself) for algorithms
	// that are self-describing (PatternV1) or trivial (None).
	Decompress(compressed []byte, originalSize uint32) ([]byte, error)
}

func algorithmFor(id proto.CompressionAlgo) Algorithm {
	switch id {
	case proto.CompressionNone:
		return noneAlgorithm{}
	case proto.CompressionPatternV1:
		return patternV1Algorithm{}
	case proto.CompressionLZ4:
		return lz4Algorithm{}
	default:
		return nil
	}
}

type noneAlgorithm struct{}

func (noneAlgorithm) Compress(data []byte) ([]byte, error) { return data, nil }
func (noneAlgorithm) Decompress(compressed []byte, _ uint32) ([]byte, error) {
	return compressed, nil
}

// patternV1Algorithm: an 8-byte self-describing payload
// {pattern:u8, reserved1:u8=0, reserved2:u16=0, repetitions:u32} expanding
// to `repetitions` copies of `pattern`.
type patternV1Algorithm struct{}

func (patternV1Algorithm) Compress([]byte) ([]byte, error) {
	// Matches the Rust PatternV1Compression::compress, also a bare todo!():
	// this runtime never chooses PatternV1 for outgoing compression since
	// algorithmPriority only ever offers LZ4.
	return nil, fmt.Errorf("compress: PatternV1 outgoing compression is not implemented")
}

func (patternV1Algorithm) Decompress(compressed []byte, _ uint32) ([]byte, error) {
	if len(compressed) != 8 {
		return nil, fmt.Errorf("compress: PatternV1 payload must be 8 bytes, got %d", len(compressed))
	}
	pattern := compressed[0]
	if compressed[1] != 0 || le.Uint16(compressed[2:4]) != 0 {
		return nil, fmt.Errorf("compress: PatternV1 reserved fields must be zero")
	}
	repetitions := le.Uint32(compressed[4:8])

	out := make([]byte, repetitions)
	for i := range out {
		out[i] = pattern
	}
	return out, nil
}

type lz4Algorithm struct{}

func (lz4Algorithm) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(data, dst)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4 compress: %w", err)
	}
	return dst[:n], nil
}

func (lz4Algorithm) Decompress(compressed []byte, originalSize uint32) ([]byte, error) {
	out := make([]byte, originalSize)
	n, err := lz4.UncompressBlock(compressed, out)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4 decompress: %w", err)
	}
	if uint32(n) != originalSize {
		return nil, fmt.Errorf("compress: lz4 decompressed %d bytes, expected %d", n, originalSize)
	}
	return out, nil
}
