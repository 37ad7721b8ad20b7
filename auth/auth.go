// Package auth implements the narrow Authenticator interface spec.md
// §6.2 describes — opaque security tokens in, opaque tokens out — and two
// concrete mechanisms: anonymous Guest and NTLM.
//
// SSPI/Kerberos token generation is explicitly an external collaborator's
// concern (spec.md §1's Non-goals): this package never wraps tokens in
// SPNEGO/ASN.1; it hands the codec raw mechanism tokens and expects the
// server to negotiate the same way. Grounded on the teacher's
// Authenticator interface in auth_guest.go, flipped from server-side
// accept to client-side generate.
package auth

// Authenticator drives one SessionSetup exchange. Next is called once per
// round trip with the server's previous token (nil on the first call) and
// returns the client's next token plus whether authentication is complete.
type Authenticator interface {
	Next(serverToken []byte) (clientToken []byte, done bool, err error)
	IsAuthenticated() bool
	KeysExchanged() bool
	SessionKey() []byte
}
