// Package smb2proto is a client-side SMB2/SMB3 protocol transport
// runtime: it dials a server, negotiates a dialect, authenticates a
// session, binds a tree, and carries opaque command bodies back and
// forth with the framing, signing, compression, and encryption the wire
// protocol requires.
//
// # Overview
//
// smb2proto implements C1–C9 of the protocol runtime (transport framing,
// preauthentication integrity hashing, signing/AEAD crypto primitives,
// the wire codec, session registry, the sign/compress/encrypt
// transformer, the send/receive worker, the negotiator state machine,
// and credit-based flow control) without opinions about what sits above
// it — file operations, a VFS adapter, or anything else that wants to
// speak SMB2 over a live Connection.
//
// # Basic Usage
//
//	conn, err := smb2proto.Dial(ctx, smb2proto.Config{
//	    Server:   "fileserver.example.com",
//	    Username: "jdoe",
//	    Password: "secret123",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	if _, err := conn.Negotiate(); err != nil {
//	    log.Fatal(err)
//	}
//	sess, err := conn.Authenticate(auth.NewNTLM("jdoe", "secret123", "CORP"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tree, err := conn.Mount(sess, `\\fileserver.example.com\shared`)
//
// # Authentication
//
// Guest/anonymous access needs no credentials:
//
//	sess, err := conn.Authenticate(auth.NewGuest())
//
// NTLM with a domain:
//
//	sess, err := conn.Authenticate(auth.NewNTLM("jdoe", "secret123", "CORP"))
//
// Kerberos is out of scope for this module (see auth.Authenticator's doc
// comment): any external SSPI/Kerberos initiator implementing the
// Authenticator interface plugs in the same way.
//
// # Non-goals
//
// This package does not implement SMB1, DCE/RPC named pipes, or a
// filesystem-facing API (path translation, a VFS adapter, connection
// pooling across shares) — those are a consumer's concern, built on top
// of Connection.
//
// Pure Go implementation with no CGO dependencies.
package smb2proto
