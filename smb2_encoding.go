package smb2proto

import "github.com/absfs/smb2proto/internal/proto"

// Byte-level encoding helpers, kept at the root under the teacher's
// smb2_encoding.go name but aliased onto internal/proto's Reader/Writer so
// a consumer of this package (and every internal package) shares one
// implementation.
type (
	Reader = proto.Reader
	Writer = proto.Writer
)

var (
	NewReader = proto.NewReader
	NewWriter = proto.NewWriter

	EncodeUTF16LE = proto.EncodeUTF16LE
	DecodeUTF16LE = proto.DecodeUTF16LE

	NewGUID    = proto.NewGUID
	GUIDString = proto.GUIDString
)
