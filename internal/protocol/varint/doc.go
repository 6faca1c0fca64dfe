// Package varint implements the compact integer, text and blob primitives of the binary wire.
//
// Encoders append to a caller-owned buffer; decoders pull from an io.ByteReader so the
// connection engine can feed them straight from a buffered socket reader.
package varint
