package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/google/uuid"
)

// Store file format:
//
// Header:
//   - Magic "FWS1" (4 bytes)
//   - Version (uint16)
//   - Compression (uint8)
//   - Time column name length (uint8)
//   - Store ID (16 bytes, UUID)
//   - Time column name
//   - CRC32 of the preceding header bytes (uint32)
//
// Records (append-only, repeated until EOF):
//   - Kind (uint8): 1 = put, 2 = delete
//   - Frame (uint32)
//   - Payload length (uint32)
//   - CRC32 over kind, frame, length and payload (uint32)
//   - Payload: compressed table block (empty for deletes)
//
// The latest record for a frame wins.

const (
	FileMagic   = "FWS1"
	FileVersion = 1

	headerFixedSize  = 4 + 2 + 1 + 1 + 16
	recordHeaderSize = 1 + 4 + 4 + 4
)

const (
	recordPut    byte = 1
	recordDelete byte = 2
)

// FileHeader describes a store file.
type FileHeader struct {
	Version     uint16
	Compression Compression
	ID          uuid.UUID
	TColumn     string
}

// Size returns the encoded header size in bytes.
func (h *FileHeader) Size() int64 {
	return int64(headerFixedSize + len(h.TColumn) + 4)
}

func encodeFileHeader(h *FileHeader) ([]byte, error) {
	if len(h.TColumn) == 0 || len(h.TColumn) > 255 {
		return nil, fmt.Errorf("%w: time column name must be 1-255 bytes", ErrInvalidData)
	}
	buf := make([]byte, 0, h.Size())
	buf = append(buf, FileMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, h.Version)
	buf = append(buf, byte(h.Compression), byte(len(h.TColumn)))
	buf = append(buf, h.ID[:]...)
	buf = append(buf, h.TColumn...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	return buf, nil
}

// ReadFileHeader reads and validates a store file header.
func ReadFileHeader(r io.Reader) (*FileHeader, error) {
	fixed := make([]byte, headerFixedSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(fixed[:4]) != FileMagic {
		return nil, fmt.Errorf("%w: not a framestore file (magic %q)", ErrInvalidData, fixed[:4])
	}
	h := &FileHeader{
		Version:     binary.LittleEndian.Uint16(fixed[4:]),
		Compression: Compression(fixed[6]),
	}
	if h.Version != FileVersion {
		return nil, fmt.Errorf("%w: unsupported file version %d", ErrInvalidData, h.Version)
	}
	copy(h.ID[:], fixed[8:24])

	rest := make([]byte, int(fixed[7])+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h.TColumn = string(rest[:len(rest)-4])

	sum := crc32.NewIEEE()
	sum.Write(fixed)
	sum.Write(rest[:len(rest)-4])
	if sum.Sum32() != binary.LittleEndian.Uint32(rest[len(rest)-4:]) {
		return nil, fmt.Errorf("%w: header checksum mismatch", ErrInvalidData)
	}
	return h, nil
}

// recordHeader is the fixed prefix of a log record.
type recordHeader struct {
	kind   byte
	frame  uint32
	length uint32
	crc    uint32
}

func appendRecord(buf []byte, kind byte, frameIdx uint32, payload []byte) []byte {
	start := len(buf)
	buf = append(buf, kind)
	buf = binary.LittleEndian.AppendUint32(buf, frameIdx)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))

	sum := crc32.NewIEEE()
	sum.Write(buf[start:])
	sum.Write(payload)
	buf = binary.LittleEndian.AppendUint32(buf, sum.Sum32())
	return append(buf, payload...)
}

func decodeRecordHeader(b []byte) recordHeader {
	return recordHeader{
		kind:   b[0],
		frame:  binary.LittleEndian.Uint32(b[1:]),
		length: binary.LittleEndian.Uint32(b[5:]),
		crc:    binary.LittleEndian.Uint32(b[9:]),
	}
}

// verify checks the record checksum against the header prefix and payload.
func (h recordHeader) verify(prefix, payload []byte) bool {
	sum := crc32.NewIEEE()
	sum.Write(prefix[:9])
	sum.Write(payload)
	return sum.Sum32() == h.crc
}
