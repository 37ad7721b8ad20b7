package smb2proto

import "github.com/absfs/smb2proto/internal/proto"

// Wire constants and the fixed SMB2 header, kept at the root the way the
// teacher keeps smb2_types.go as the flat vocabulary file — but realized
// here as thin aliases over internal/proto so every internal package and
// this one share one definition with no import cycle.
type (
	Dialect         = proto.Dialect
	Status          = proto.Status
	Command         = proto.Command
	Header          = proto.Header
	FileID          = proto.FileID
	Cipher          = proto.Cipher
	SigningAlgo     = proto.SigningAlgo
	CompressionAlgo = proto.CompressionAlgo
)

const (
	Smb202       = proto.Smb202
	Smb21        = proto.Smb21
	Smb30        = proto.Smb30
	Smb302       = proto.Smb302
	Smb311       = proto.Smb311
	Smb2Wildcard = proto.Smb2Wildcard
)

const (
	StatusSuccess                = proto.StatusSuccess
	StatusPending                = proto.StatusPending
	StatusMoreProcessingRequired = proto.StatusMoreProcessingRequired
	StatusInvalidParameter       = proto.StatusInvalidParameter
	StatusAccessDenied           = proto.StatusAccessDenied
	StatusLogonFailure           = proto.StatusLogonFailure
	StatusNotSupported           = proto.StatusNotSupported
	StatusPathNotCovered         = proto.StatusPathNotCovered
	StatusNetworkNameDeleted     = proto.StatusNetworkNameDeleted
	StatusUserSessionDeleted     = proto.StatusUserSessionDeleted
)

const (
	CipherNone      = proto.CipherNone
	CipherAES128CCM = proto.CipherAES128CCM
	CipherAES128GCM = proto.CipherAES128GCM
	CipherAES256CCM = proto.CipherAES256CCM
	CipherAES256GCM = proto.CipherAES256GCM
)

const (
	SigningHMACSHA256 = proto.SigningHMACSHA256
	SigningAESCMAC    = proto.SigningAESCMAC
	SigningAESGMAC    = proto.SigningAESGMAC
)

const (
	CompressionNone      = proto.CompressionNone
	CompressionLZNT1     = proto.CompressionLZNT1
	CompressionLZ77      = proto.CompressionLZ77
	CompressionLZ77Huff  = proto.CompressionLZ77Huff
	CompressionPatternV1 = proto.CompressionPatternV1
	CompressionLZ4       = proto.CompressionLZ4
)

// HeaderSize is the fixed SMB2 header size in bytes.
const HeaderSize = proto.HeaderSize

// NotificationMessageID is the reserved message-id for server-initiated
// oplock/lease-break notifications.
const NotificationMessageID = proto.NotificationMessageID
