// Package listener accepts connections and runs a link.Conn for each of them.
//
// Ownership boundary:
// - binding the listen socket and rebinding it after an accept failure
// - the server side TLS handshake and greeting
// - connection id assignment and the live connection registry
//
// Everything after the handshake belongs to package link.
package listener
