// Package manifest encodes the persisted index configuration and
// projection bank.
//
// A manifest is written once when an index is created and read on every
// Open so a restarted process reuses the exact same hyperplanes. The
// encoding is a fixed header followed by a msgpack payload that may be
// compressed:
//
//	Magic       (4 bytes)  "LSHM"
//	Version     (2 bytes)
//	Compression (1 byte)
//	Reserved    (1 byte)
//	Checksum    (4 bytes)  CRC32C of the stored payload
//	RawLength   (4 bytes)  payload length before compression
//	Length      (4 bytes)  stored payload length
//	Payload
package manifest
