// Package message defines the transport envelope carried on every link and the
// built-in body types that ride inside it.
//
// Ownership boundary:
// - envelope and message type numbering
// - response result codes and the base response body
// - file chunk bodies
// - AsyncResponse, the single-slot wait used for request/response and chunk flow control
package message
