package transport

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func pipeConns(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return NewConn(a), NewConn(b)
}

func TestSendReceiveRoundtrip(t *testing.T) {
	client, server := pipeConns(t)

	body := []byte("a NetBIOS session-message body")
	done := make(chan error, 1)
	go func() { done <- client.Send(body) }()

	got, err := server.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("Receive = %q, want %q", got, body)
	}
}

func TestReceiveRejectsUnknownMessageType(t *testing.T) {
	client, server := pipeConns(t)

	go func() {
		frame := []byte{0x81, 0x00, 0x00, 0x01, 0xAA}
		_, _ = client.nc.Write(frame)
	}()

	if _, err := server.Receive(); err == nil {
		t.Fatalf("Receive should reject a non session-message NetBIOS type")
	}
}

func TestSendRejectsOversizedFrame(t *testing.T) {
	client, _ := pipeConns(t)
	oversized := make([]byte, MaxFrameSize+1)
	if err := client.Send(oversized); err == nil {
		t.Fatalf("Send should reject a body larger than MaxFrameSize")
	}
}

func TestDeadlinesForwarded(t *testing.T) {
	client, _ := pipeConns(t)
	if err := client.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	if err := client.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SetWriteDeadline: %v", err)
	}
}
