// Package transport owns the byte pipes a link runs over.
//
// Ownership boundary:
// - TLS policy validation and tls.Config builders for both ends
// - the plaintext greeting a TLS listener writes after its handshake
// - a net.Conn view of a gorilla WebSocket so links run unchanged over it
package transport
