// Package codec implements C4: the one concrete Codec the spec treats as a
// narrow external collaborator. It marshals/unmarshals the SMB2 header and
// the handful of command bodies the runtime itself must understand to
// drive negotiate, session setup, and tree connect; every other command's
// body is passed through as an opaque []byte, matching spec.md §4.4's "the
// core treats it as an opaque oracle."
//
// Grounded on the teacher's smb2_types.go/smb2_encoding.go field layouts
// (kept alive here as internal/proto.Header + internal/proto.Reader/Writer)
// and smb2_negotiate.go's wire-format construction, mirrored from
// server-response-building to client-request-building/response-parsing.
package codec

import (
	"fmt"

	"github.com/absfs/smb2proto/internal/proto"
)

// Message pairs a decoded header with its (still encoded) command body.
type Message struct {
	Header proto.Header
	Body   []byte
}

// Marshal serializes a header and an already-encoded body into one frame.
func Marshal(h proto.Header, body []byte) []byte {
	buf := make([]byte, 0, proto.HeaderSize+len(body))
	buf = append(buf, h.Marshal()...)
	buf = append(buf, body...)
	return buf
}

// Unmarshal splits a frame into its header and body.
func Unmarshal(frame []byte) (Message, error) {
	h, err := proto.UnmarshalHeader(frame)
	if err != nil {
		return Message{}, err
	}
	return Message{Header: h, Body: frame[proto.HeaderSize:]}, nil
}

// NegotiateRequest is the client's dialect/security offer.
type NegotiateRequest struct {
	Dialects        []proto.Dialect
	SecurityMode    uint16
	Capabilities    uint32
	ClientGUID      [16]byte
	HashAlgorithms  []uint16 // preauth integrity, 3.1.1 only
	HashSalt        []byte
	Ciphers         []proto.Cipher // 3.1.1 only
	CompressionAlgs []proto.CompressionAlgo
	SigningAlgs     []proto.SigningAlgo
}

// EncodeNegotiateRequest builds the NEGOTIATE request body, including the
// 3.1.1 negotiate-context list when the highest offered dialect is 3.1.1.
func EncodeNegotiateRequest(r NegotiateRequest) []byte {
	w := proto.NewWriter(128)
	w.WriteUint16(36) // StructureSize
	w.WriteUint16(uint16(len(r.Dialects)))
	w.WriteUint16(r.SecurityMode)
	w.WriteUint16(0) // Reserved
	w.WriteUint32(r.Capabilities)
	w.WriteGUID(r.ClientGUID)

	offers311 := false
	for _, d := range r.Dialects {
		if d == proto.Smb311 {
			offers311 = true
		}
	}
	negContextOffsetPos := w.Len()
	w.WriteUint32(0) // NegotiateContextOffset, backpatched below
	w.WriteUint16(0) // NegotiateContextCount, backpatched below
	w.WriteUint16(0) // Reserved2

	for _, d := range r.Dialects {
		w.WriteUint16(uint16(d))
	}

	if !offers311 {
		return w.Bytes()
	}

	w.Pad()
	contextsOffset := proto.HeaderSize + w.Len()
	contexts, count := encodeNegotiateContexts(r)
	w.WriteBytes(contexts)

	w.PutUint32At(negContextOffsetPos, uint32(contextsOffset))
	w.PutUint16At(negContextOffsetPos+4, count)

	return w.Bytes()
}

func encodeNegotiateContexts(r NegotiateRequest) ([]byte, uint16) {
	w := proto.NewWriter(96)
	var count uint16

	if len(r.HashAlgorithms) > 0 {
		data := proto.NewWriter(64)
		data.WriteUint16(uint16(len(r.HashAlgorithms)))
		data.WriteUint16(uint16(len(r.HashSalt)))
		for _, h := range r.HashAlgorithms {
			data.WriteUint16(h)
		}
		data.WriteBytes(r.HashSalt)
		writeContext(w, proto.ContextPreauthIntegrity, data.Bytes())
		count++
	}

	if len(r.Ciphers) > 0 {
		data := proto.NewWriter(16)
		data.WriteUint16(uint16(len(r.Ciphers)))
		for _, c := range r.Ciphers {
			data.WriteUint16(uint16(c))
		}
		writeContext(w, proto.ContextEncryption, data.Bytes())
		count++
	}

	if len(r.CompressionAlgs) > 0 {
		data := proto.NewWriter(16)
		data.WriteUint16(uint16(len(r.CompressionAlgs)))
		data.WriteUint16(0) // Padding
		data.WriteUint32(0) // Flags
		for _, a := range r.CompressionAlgs {
			data.WriteUint16(uint16(a))
		}
		writeContext(w, proto.ContextCompression, data.Bytes())
		count++
	}

	if len(r.SigningAlgs) > 0 {
		data := proto.NewWriter(8)
		data.WriteUint16(uint16(len(r.SigningAlgs)))
		for _, a := range r.SigningAlgs {
			data.WriteUint16(uint16(a))
		}
		writeContext(w, proto.ContextSigning, data.Bytes())
		count++
	}

	return w.Bytes(), count
}

func writeContext(w *proto.Writer, contextType uint16, data []byte) {
	w.WriteUint16(contextType)
	w.WriteUint16(uint16(len(data)))
	w.WriteUint32(0) // Reserved
	w.WriteBytes(data)
	w.Pad()
}

// NegotiateResponse is the decoded NEGOTIATE response.
type NegotiateResponse struct {
	SecurityMode    uint16
	DialectRevision proto.Dialect
	ServerGUID      [16]byte
	Capabilities    uint32
	MaxTransactSize uint32
	MaxReadSize     uint32
	MaxWriteSize    uint32
	SecurityBuffer  []byte
	HashAlgorithm   uint16
	HashSalt        []byte
	SelectedCipher  proto.Cipher
	CompressionAlgs []proto.CompressionAlgo
	SigningAlgo     proto.SigningAlgo
	RawFrame        []byte // full frame, needed for preauth-hash chaining
}

// DecodeNegotiateResponse parses a NEGOTIATE response body. frame must be
// the full header+body frame, since its bytes feed the preauth hash chain.
func DecodeNegotiateResponse(frame []byte) (NegotiateResponse, error) {
	if len(frame) < proto.HeaderSize+64 {
		return NegotiateResponse{}, fmt.Errorf("codec: negotiate response too short: %d bytes", len(frame))
	}
	body := frame[proto.HeaderSize:]
	r := proto.NewReader(body)

	r.Skip(2) // StructureSize
	var resp NegotiateResponse
	resp.SecurityMode = r.ReadUint16()
	resp.DialectRevision = proto.Dialect(r.ReadUint16())
	negContextCount := r.ReadUint16()
	resp.ServerGUID = r.ReadGUID()
	resp.Capabilities = r.ReadUint32()
	resp.MaxTransactSize = r.ReadUint32()
	resp.MaxReadSize = r.ReadUint32()
	resp.MaxWriteSize = r.ReadUint32()
	r.Skip(8) // SystemTime
	r.Skip(8) // ServerStartTime
	secBufOffset := r.ReadUint16()
	secBufLength := r.ReadUint16()
	negContextOffset := r.ReadUint32()

	if secBufLength > 0 {
		start := int(secBufOffset) - proto.HeaderSize
		if start >= 0 && start+int(secBufLength) <= len(body) {
			resp.SecurityBuffer = body[start : start+int(secBufLength)]
		}
	}

	if resp.DialectRevision == proto.Smb311 && negContextCount > 0 {
		start := int(negContextOffset) - proto.HeaderSize
		if start >= 0 && start < len(body) {
			parseNegotiateContexts(body[start:], negContextCount, &resp)
		}
	}

	resp.RawFrame = frame
	if err := r.Err(); err != nil {
		return resp, fmt.Errorf("codec: decode negotiate response: %w", err)
	}
	return resp, nil
}

func parseNegotiateContexts(data []byte, count uint16, resp *NegotiateResponse) {
	for i := uint16(0); i < count && len(data) >= 8; i++ {
		r := proto.NewReader(data)
		contextType := r.ReadUint16()
		dataLength := r.ReadUint16()
		r.Skip(4) // Reserved
		if r.Err() != nil || 8+int(dataLength) > len(data) {
			return
		}
		ctxData := data[8 : 8+int(dataLength)]

		switch contextType {
		case proto.ContextPreauthIntegrity:
			cr := proto.NewReader(ctxData)
			algCount := cr.ReadUint16()
			saltLen := cr.ReadUint16()
			if algCount > 0 {
				resp.HashAlgorithm = cr.ReadUint16()
			}
			if saltLen > 0 {
				resp.HashSalt = cr.ReadBytes(int(saltLen))
			}
		case proto.ContextEncryption:
			cr := proto.NewReader(ctxData)
			cipherCount := cr.ReadUint16()
			if cipherCount > 0 {
				resp.SelectedCipher = proto.Cipher(cr.ReadUint16())
			}
		case proto.ContextCompression:
			cr := proto.NewReader(ctxData)
			algCount := cr.ReadUint16()
			cr.Skip(2) // Padding
			cr.Skip(4) // Flags
			for j := uint16(0); j < algCount; j++ {
				resp.CompressionAlgs = append(resp.CompressionAlgs, proto.CompressionAlgo(cr.ReadUint16()))
			}
		case proto.ContextSigning:
			cr := proto.NewReader(ctxData)
			algCount := cr.ReadUint16()
			if algCount > 0 {
				resp.SigningAlgo = proto.SigningAlgo(cr.ReadUint16())
			}
		}

		consumed := 8 + int(dataLength)
		consumed += (8 - consumed%8) % 8
		if consumed >= len(data) {
			return
		}
		data = data[consumed:]
	}
}

// EncodeSessionSetupRequest builds the SESSION_SETUP request body carrying
// an opaque security token from the Authenticator.
func EncodeSessionSetupRequest(securityMode uint16, capabilities uint32, securityBuffer []byte) []byte {
	w := proto.NewWriter(24 + len(securityBuffer))
	w.WriteUint16(25) // StructureSize
	w.WriteUint8(0)   // Flags
	w.WriteUint8(byte(securityMode))
	w.WriteUint32(capabilities)
	w.WriteUint32(0) // Channel
	securityBufferOffset := proto.HeaderSize + 24
	w.WriteUint16(uint16(securityBufferOffset))
	w.WriteUint16(uint16(len(securityBuffer)))
	w.WriteUint64(0) // PreviousSessionId
	w.WriteBytes(securityBuffer)
	return w.Bytes()
}

// SessionSetupResponse is the decoded SESSION_SETUP response.
type SessionSetupResponse struct {
	SessionFlags   uint16
	SecurityBuffer []byte
}

// DecodeSessionSetupResponse parses a SESSION_SETUP response body (the
// bytes after the 64-byte header).
func DecodeSessionSetupResponse(body []byte) (SessionSetupResponse, error) {
	r := proto.NewReader(body)
	r.Skip(2) // StructureSize
	var resp SessionSetupResponse
	resp.SessionFlags = r.ReadUint16()
	secBufOffset := r.ReadUint16()
	secBufLength := r.ReadUint16()
	if secBufLength > 0 {
		start := int(secBufOffset) - proto.HeaderSize
		if start >= 0 && start+int(secBufLength) <= len(body) {
			resp.SecurityBuffer = body[start : start+int(secBufLength)]
		}
	}
	if err := r.Err(); err != nil {
		return resp, fmt.Errorf("codec: decode session setup response: %w", err)
	}
	return resp, nil
}

// EncodeTreeConnectRequest builds the TREE_CONNECT request body for a UNC path.
func EncodeTreeConnectRequest(path string) []byte {
	pathBytes := proto.EncodeUTF16LE(path)
	w := proto.NewWriter(8 + len(pathBytes))
	w.WriteUint16(9) // StructureSize
	w.WriteUint16(0) // Flags
	pathOffset := proto.HeaderSize + 8
	w.WriteUint16(uint16(pathOffset))
	w.WriteUint16(uint16(len(pathBytes)))
	w.WriteBytes(pathBytes)
	return w.Bytes()
}

// TreeConnectResponse is the decoded TREE_CONNECT response.
type TreeConnectResponse struct {
	ShareType  uint8
	ShareFlags uint32
	Capabilities uint32
	MaximalAccess uint32
}

// DecodeTreeConnectResponse parses a TREE_CONNECT response body.
func DecodeTreeConnectResponse(body []byte) (TreeConnectResponse, error) {
	r := proto.NewReader(body)
	r.Skip(2) // StructureSize
	var resp TreeConnectResponse
	resp.ShareType = r.ReadUint8()
	r.Skip(1) // Reserved
	resp.ShareFlags = r.ReadUint32()
	resp.Capabilities = r.ReadUint32()
	resp.MaximalAccess = r.ReadUint32()
	if err := r.Err(); err != nil {
		return resp, fmt.Errorf("codec: decode tree connect response: %w", err)
	}
	return resp, nil
}
