// Package link runs one binary connection: a writer loop, a reader loop and a file loop
// over a net.Conn, plus the request/response, ping and file-transfer machinery on top.
//
// Ownership boundary:
// - envelope id assignment and receive-order enforcement
// - the pending-request table and its AsyncResponse waiters
// - the read-side file stream table
// - the schema caches of the connection's encoder and decoder
//
// A Conn is built by New (or Dial/DialWebSocket on the client side, the listener on the
// server side) and runs until Close, a fatal wire error, or a Close envelope.
package link
