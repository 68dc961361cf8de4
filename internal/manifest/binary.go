package manifest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	binaryMagic   = 0x4D48534C // "LSHM" little-endian
	binaryVersion = 1
	headerSize    = 20

	// maxPayload rejects corrupt length fields before allocating.
	maxPayload = 1 << 30
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var (
	// ErrInvalidMagic is returned when the data is not a manifest.
	ErrInvalidMagic = errors.New("manifest: invalid magic")
	// ErrChecksumMismatch is returned when the payload is corrupt.
	ErrChecksumMismatch = errors.New("manifest: checksum mismatch")
)

// WriteBinary writes the manifest with the given payload compression.
func (m *Manifest) WriteBinary(w io.Writer, c Compression) error {
	raw, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	if len(raw) > maxPayload {
		return fmt.Errorf("manifest: payload too large: %d bytes", len(raw))
	}

	payload, used, err := compress(raw, c)
	if err != nil {
		return fmt.Errorf("manifest: compress: %w", err)
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], binaryMagic)
	binary.LittleEndian.PutUint16(header[4:6], binaryVersion)
	header[6] = byte(used)
	binary.LittleEndian.PutUint32(header[8:12], crc32.Checksum(payload, castagnoli))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(raw)))
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// ReadBinary reads a manifest written by WriteBinary.
func ReadBinary(r io.Reader) (*Manifest, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("%w: %x", ErrInvalidMagic, magic)
	}
	if version := binary.LittleEndian.Uint16(header[4:6]); version != binaryVersion {
		return nil, fmt.Errorf("manifest: unsupported version: %d", version)
	}
	c := Compression(header[6])
	checksum := binary.LittleEndian.Uint32(header[8:12])
	rawLen := binary.LittleEndian.Uint32(header[12:16])
	length := binary.LittleEndian.Uint32(header[16:20])
	if rawLen > maxPayload || length > maxPayload {
		return nil, fmt.Errorf("manifest: payload length out of range: %d", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if crc32.Checksum(payload, castagnoli) != checksum {
		return nil, ErrChecksumMismatch
	}

	raw, err := decompress(payload, c, int(rawLen))
	if err != nil {
		return nil, err
	}

	m := &Manifest{}
	if err := msgpack.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	return m, nil
}

// Marshal encodes m to a byte slice.
func Marshal(m *Manifest, c Compression) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.WriteBinary(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a manifest from data.
func Unmarshal(data []byte) (*Manifest, error) {
	return ReadBinary(bytes.NewReader(data))
}
