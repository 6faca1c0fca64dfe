// Package protocol owns the wire error taxonomy shared by the binary codec and the
// connection engine.
//
// Ownership boundary:
// - varint: compact integer, text and blob primitives
// - schema: value-type tags, type descriptors, registry
// - entity: property-bag objects and their lifecycle
// - codec: entity graph encoding with per-connection schema caches
// - message: envelope, bodies, async response correlation
// - filestream: chunked file transfer over envelopes
package protocol
