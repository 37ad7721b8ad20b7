// Package transport implements C1: the NetBIOS session-service framing
// that carries SMB2 messages over TCP (spec.md §6.1 "Transport frame").
// Every frame is a 1-byte message type (always 0x00, SESSION MESSAGE) and
// a 3-byte big-endian length, followed by that many bytes of body.
//
// Grounded on the teacher's connection.go createRealConnection (dialer
// with a context-aware timeout, wrapped in descriptive errors) and on
// lorenz-go-smb2/transport.go's ReadSize/Write shape for the framing loop.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize is the largest body a NetBIOS session-message frame can
// carry: the 3-byte length field is a 24-bit unsigned integer.
const MaxFrameSize = 1<<24 - 1

const sessionMessageType = 0x00

// Conn wraps a net.Conn with NetBIOS session-service frame Send/Receive.
type Conn struct {
	nc net.Conn
}

// Dial opens a TCP connection to addr (host:port) honoring ctx and the
// supplied timeout, mirroring the teacher's createRealConnection dialer.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to connect to %s: %w", addr, err)
	}
	return &Conn{nc: nc}, nil
}

// NewConn wraps an already-established net.Conn, used by tests to drive
// the runtime over an in-process pipe.
func NewConn(nc net.Conn) *Conn { return &Conn{nc: nc} }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// SetReadDeadline forwards to the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.nc.SetReadDeadline(t) }

// SetWriteDeadline forwards to the underlying connection.
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.nc.SetWriteDeadline(t) }

// Send wraps body in a NetBIOS session-message frame and writes it whole.
func (c *Conn) Send(body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("transport: frame body %d bytes exceeds max %d", len(body), MaxFrameSize)
	}
	frame := make([]byte, 4+len(body))
	frame[0] = sessionMessageType
	putUint24(frame[1:4], uint32(len(body)))
	copy(frame[4:], body)

	if _, err := c.nc.Write(frame); err != nil {
		return fmt.Errorf("transport: write failed: %w", err)
	}
	return nil
}

// Receive reads one complete NetBIOS session-message frame and returns its
// body.
func (c *Conn) Receive() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.nc, header[:]); err != nil {
		return nil, fmt.Errorf("transport: read header failed: %w", err)
	}
	if header[0] != sessionMessageType {
		return nil, fmt.Errorf("transport: unexpected NetBIOS message type 0x%02x", header[0])
	}
	length := readUint24(header[1:4])

	body := make([]byte, length)
	if _, err := io.ReadFull(c.nc, body); err != nil {
		return nil, fmt.Errorf("transport: read body failed: %w", err)
	}
	return body, nil
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func readUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
