package smb2proto

import "github.com/absfs/smb2proto/internal/proto"

// Command opcodes, kept at the root under the teacher's smb2_commands.go
// name, aliased onto internal/proto.Command so callers never need to
// import the internal package directly to log or compare commands.
const (
	CmdNegotiate      = proto.CmdNegotiate
	CmdSessionSetup   = proto.CmdSessionSetup
	CmdLogoff         = proto.CmdLogoff
	CmdTreeConnect    = proto.CmdTreeConnect
	CmdTreeDisconnect = proto.CmdTreeDisconnect
	CmdCreate         = proto.CmdCreate
	CmdClose          = proto.CmdClose
	CmdFlush          = proto.CmdFlush
	CmdRead           = proto.CmdRead
	CmdWrite          = proto.CmdWrite
	CmdLock           = proto.CmdLock
	CmdIoctl          = proto.CmdIoctl
	CmdCancel         = proto.CmdCancel
	CmdEcho           = proto.CmdEcho
	CmdQueryDirectory = proto.CmdQueryDirectory
	CmdChangeNotify   = proto.CmdChangeNotify
	CmdQueryInfo      = proto.CmdQueryInfo
	CmdSetInfo        = proto.CmdSetInfo
	CmdOplockBreak    = proto.CmdOplockBreak
)
