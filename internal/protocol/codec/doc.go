// Package codec encodes entity graphs onto the binary wire.
//
// An object starts with its type id. The first time an Encoder emits a type it follows the
// id with the full descriptor (name, then id, name, identity and value tag per field) and
// remembers it; later objects of that type carry only the id with the cached flag set. A
// Decoder learns descriptors the same way and rejects cached references it never saw.
// Each present field follows as its id with a null flag and, unless null, its value. A zero
// field id ends the object.
//
// Encoders and Decoders hold per-connection state and are owned by one goroutine each.
package codec
