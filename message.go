package smb2proto

import "github.com/absfs/smb2proto/internal/transform"

// OutgoingMessage, IncomingMessage, and MessageForm are the root-level
// names for C6's message shapes (spec.md §3), aliased onto
// internal/transform's types so Connection's public methods can accept
// and return them without exposing the internal package.
type (
	OutgoingMessage = transform.OutgoingMessage
	IncomingMessage = transform.IncomingMessage
	MessageForm     = transform.MessageForm
)
