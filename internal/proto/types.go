// Package proto holds the SMB2/SMB3 wire vocabulary shared by every
// internal component: dialects, NT status codes, the fixed 64-byte
// header, and command opcodes. It has no dependency on the rest of the
// module so every internal package (and the root package) can import it
// without creating a cycle.
package proto

import "encoding/binary"

// Dialect identifies a negotiated SMB protocol revision.
type Dialect uint16

const (
	Smb202 Dialect = 0x0202
	Smb21  Dialect = 0x0210
	Smb30  Dialect = 0x0300
	Smb302 Dialect = 0x0302
	Smb311 Dialect = 0x0311

	// Smb2Wildcard is the dialect a server returns during the SMB1
	// multi-protocol probe to indicate it understands SMB2.
	Smb2Wildcard Dialect = 0x02FF
)

func (d Dialect) String() string {
	switch d {
	case Smb202:
		return "2.0.2"
	case Smb21:
		return "2.1"
	case Smb30:
		return "3.0"
	case Smb302:
		return "3.0.2"
	case Smb311:
		return "3.1.1"
	case Smb2Wildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// AtLeast311 reports whether negotiate contexts and preauth hashing apply.
func (d Dialect) AtLeast311() bool { return d >= Smb311 }

// AtLeast30 reports whether AES-CMAC signing and AEAD encryption apply.
func (d Dialect) AtLeast30() bool { return d >= Smb30 }

// SupportedDialects lists the dialects this client offers, highest first.
var SupportedDialects = []Dialect{Smb311, Smb302, Smb30, Smb21, Smb202}

// Status is an NT status code carried in the header.
type Status uint32

const (
	StatusSuccess                Status = 0x00000000
	StatusPending                Status = 0x00000103
	StatusMoreProcessingRequired Status = 0xC0000016
	StatusInvalidParameter       Status = 0xC000000D
	StatusAccessDenied           Status = 0xC0000022
	StatusLogonFailure           Status = 0xC000006D
	StatusNotSupported           Status = 0xC00000BB
	StatusPathNotCovered         Status = 0xC0000257
	StatusNetworkNameDeleted     Status = 0xC00000C9
	StatusUserSessionDeleted     Status = 0xC0000203
)

func (s Status) IsSuccess() bool { return s == StatusSuccess }
func (s Status) IsError() bool   { return s&0xC0000000 == 0xC0000000 }
func (s Status) IsPending() bool { return s == StatusPending }

// Command is an SMB2 operation code.
type Command uint16

const (
	CmdNegotiate       Command = 0x0000
	CmdSessionSetup    Command = 0x0001
	CmdLogoff          Command = 0x0002
	CmdTreeConnect     Command = 0x0003
	CmdTreeDisconnect  Command = 0x0004
	CmdCreate          Command = 0x0005
	CmdClose           Command = 0x0006
	CmdFlush           Command = 0x0007
	CmdRead            Command = 0x0008
	CmdWrite           Command = 0x0009
	CmdLock            Command = 0x000A
	CmdIoctl           Command = 0x000B
	CmdCancel          Command = 0x000C
	CmdEcho            Command = 0x000D
	CmdQueryDirectory  Command = 0x000E
	CmdChangeNotify    Command = 0x000F
	CmdQueryInfo       Command = 0x0010
	CmdSetInfo         Command = 0x0011
	CmdOplockBreak     Command = 0x0012
)

func (c Command) String() string {
	switch c {
	case CmdNegotiate:
		return "NEGOTIATE"
	case CmdSessionSetup:
		return "SESSION_SETUP"
	case CmdLogoff:
		return "LOGOFF"
	case CmdTreeConnect:
		return "TREE_CONNECT"
	case CmdTreeDisconnect:
		return "TREE_DISCONNECT"
	case CmdCreate:
		return "CREATE"
	case CmdClose:
		return "CLOSE"
	case CmdFlush:
		return "FLUSH"
	case CmdRead:
		return "READ"
	case CmdWrite:
		return "WRITE"
	case CmdLock:
		return "LOCK"
	case CmdIoctl:
		return "IOCTL"
	case CmdCancel:
		return "CANCEL"
	case CmdEcho:
		return "ECHO"
	case CmdQueryDirectory:
		return "QUERY_DIRECTORY"
	case CmdChangeNotify:
		return "CHANGE_NOTIFY"
	case CmdQueryInfo:
		return "QUERY_INFO"
	case CmdSetInfo:
		return "SET_INFO"
	case CmdOplockBreak:
		return "OPLOCK_BREAK"
	default:
		return "UNKNOWN"
	}
}

// IsLargePayload reports whether the command is one of the commands
// CreditControl charges by payload size (read/write/ioctl/query-directory).
func (c Command) IsLargePayload() bool {
	switch c {
	case CmdRead, CmdWrite, CmdIoctl, CmdQueryDirectory:
		return true
	default:
		return false
	}
}

// Header flag bits.
const (
	FlagServerToRedir     uint32 = 0x00000001
	FlagAsyncCommand      uint32 = 0x00000002
	FlagRelatedOperations uint32 = 0x00000004
	FlagSigned            uint32 = 0x00000008
	FlagPriorityMask      uint32 = 0x00000070
	FlagDFSOperations     uint32 = 0x10000000
	FlagReplayOperation   uint32 = 0x20000000
)

// HeaderSize is the fixed SMB2 header size in bytes.
const HeaderSize = 64

// PlainMagic is the 4-byte protocol id that precedes every plain SMB2 message.
var PlainMagic = [4]byte{0xFE, 'S', 'M', 'B'}

// NotificationMessageID is the reserved message-id for server-initiated
// notifications (oplock/lease breaks).
const NotificationMessageID uint64 = ^uint64(0)

// Header is the fixed 64-byte SMB2 header.
type Header struct {
	StructureSize uint16
	CreditCharge  uint16
	Status        Status
	Command       Command
	CreditRequest uint16
	Flags         uint32
	NextCommand   uint32
	MessageID     uint64
	Reserved      uint32 // Reserved, or low 32 bits of AsyncID when FlagAsyncCommand is set
	TreeID        uint32 // Not meaningful when FlagAsyncCommand is set
	SessionID     uint64
	Signature     [16]byte
}

func (h *Header) IsResponse() bool { return h.Flags&FlagServerToRedir != 0 }
func (h *Header) IsSigned() bool   { return h.Flags&FlagSigned != 0 }
func (h *Header) IsAsync() bool    { return h.Flags&FlagAsyncCommand != 0 }

// Marshal encodes the header into a fresh HeaderSize-byte buffer.
func (h *Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], PlainMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], 64)
	binary.LittleEndian.PutUint16(buf[6:8], h.CreditCharge)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Status))
	binary.LittleEndian.PutUint16(buf[12:14], uint16(h.Command))
	binary.LittleEndian.PutUint16(buf[14:16], h.CreditRequest)
	binary.LittleEndian.PutUint32(buf[16:20], h.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], h.NextCommand)
	binary.LittleEndian.PutUint64(buf[24:32], h.MessageID)
	binary.LittleEndian.PutUint32(buf[32:36], h.Reserved)
	binary.LittleEndian.PutUint32(buf[36:40], h.TreeID)
	binary.LittleEndian.PutUint64(buf[40:48], h.SessionID)
	copy(buf[48:64], h.Signature[:])
	return buf
}

// UnmarshalHeader decodes a header from the front of data. The protocol
// magic is not validated here; callers that care about framing integrity
// check it against PlainMagic explicitly (e.g. when peeking envelope type).
func UnmarshalHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	var h Header
	h.StructureSize = binary.LittleEndian.Uint16(data[4:6])
	h.CreditCharge = binary.LittleEndian.Uint16(data[6:8])
	h.Status = Status(binary.LittleEndian.Uint32(data[8:12]))
	h.Command = Command(binary.LittleEndian.Uint16(data[12:14]))
	h.CreditRequest = binary.LittleEndian.Uint16(data[14:16])
	h.Flags = binary.LittleEndian.Uint32(data[16:20])
	h.NextCommand = binary.LittleEndian.Uint32(data[20:24])
	h.MessageID = binary.LittleEndian.Uint64(data[24:32])
	h.Reserved = binary.LittleEndian.Uint32(data[32:36])
	h.TreeID = binary.LittleEndian.Uint32(data[36:40])
	h.SessionID = binary.LittleEndian.Uint64(data[40:48])
	copy(h.Signature[:], data[48:64])
	return h, nil
}

// ErrShortHeader is returned by UnmarshalHeader when data is too short to
// hold a fixed header.
var ErrShortHeader = shortHeaderError{}

type shortHeaderError struct{}

func (shortHeaderError) Error() string { return "proto: buffer shorter than SMB2 header" }

// FileID is the 128-bit SMB2 file identifier.
type FileID struct {
	Persistent uint64
	Volatile   uint64
}

func (f FileID) IsZero() bool { return f.Persistent == 0 && f.Volatile == 0 }

func (f FileID) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], f.Persistent)
	binary.LittleEndian.PutUint64(buf[8:16], f.Volatile)
	return buf
}

func UnmarshalFileID(data []byte) FileID {
	return FileID{
		Persistent: binary.LittleEndian.Uint64(data[0:8]),
		Volatile:   binary.LittleEndian.Uint64(data[8:16]),
	}
}

// Security mode bits (SessionSetup/Negotiate).
const (
	NegotiateSigningEnabled  uint16 = 0x0001
	NegotiateSigningRequired uint16 = 0x0002
)

// Global capability bits (Negotiate).
const (
	CapDFS                uint32 = 0x00000001
	CapLeasing            uint32 = 0x00000002
	CapLargeMTU           uint32 = 0x00000004
	CapMultiChannel       uint32 = 0x00000008
	CapPersistentHandles  uint32 = 0x00000010
	CapDirectoryLeasing   uint32 = 0x00000020
	CapEncryption         uint32 = 0x00000040
)

// Negotiate context types (3.1.1).
const (
	ContextPreauthIntegrity uint16 = 0x0001
	ContextEncryption       uint16 = 0x0002
	ContextCompression      uint16 = 0x0003
	ContextNetname          uint16 = 0x0005
	ContextTransport        uint16 = 0x0006
	ContextRdmaTransform    uint16 = 0x0007
	ContextSigning          uint16 = 0x0008
)

// Preauth hash algorithms.
const HashAlgorithmSHA512 uint16 = 0x0001

// Cipher identifies an AEAD encryption algorithm advertised/selected during negotiate.
type Cipher uint16

const (
	CipherNone      Cipher = 0x0000
	CipherAES128CCM Cipher = 0x0001
	CipherAES128GCM Cipher = 0x0002
	CipherAES256CCM Cipher = 0x0003
	CipherAES256GCM Cipher = 0x0004
)

// SigningAlgo identifies a message-signing algorithm.
type SigningAlgo uint16

const (
	SigningHMACSHA256 SigningAlgo = 0x0000
	SigningAESCMAC    SigningAlgo = 0x0001
	SigningAESGMAC    SigningAlgo = 0x0002
)

// CompressionAlgo identifies a compression algorithm id on the wire.
type CompressionAlgo uint16

const (
	CompressionNone       CompressionAlgo = 0x0000
	CompressionLZNT1      CompressionAlgo = 0x0001
	CompressionLZ77       CompressionAlgo = 0x0002
	CompressionLZ77Huff   CompressionAlgo = 0x0003
	CompressionPatternV1  CompressionAlgo = 0x0004
	CompressionLZ4        CompressionAlgo = 0x0005
)

// CompressionFlagChained marks the chained form of the compressed envelope.
const CompressionFlagChained uint16 = 0x0001
