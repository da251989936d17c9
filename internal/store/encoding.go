package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/freeeve/framestore/internal/frame"
)

// Compression selects the payload codec of stored table blocks.
type Compression uint8

const (
	// CompressionDefault selects zstd when a store is created.
	CompressionDefault Compression = 0
	// CompressionNone stores table blocks as-is.
	CompressionNone Compression = 1
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = 2
	// CompressionZstd uses zstd (better ratio).
	CompressionZstd Compression = 3
)

func (c Compression) String() string {
	switch c {
	case CompressionDefault:
		return "default"
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd". Empty selects zstd.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

// Payload block: [uncompressed size u32][compressed size u32][data].
// A compressed size of 0 means data is stored uncompressed.
const payloadHeaderSize = 8

// blockCodec compresses table payloads. Safe for concurrent use.
type blockCodec struct {
	kind Compression
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func newBlockCodec(kind Compression) (*blockCodec, error) {
	c := &blockCodec{kind: kind}
	switch kind {
	case CompressionNone, CompressionLZ4:
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
		if err != nil {
			enc.Close()
			return nil, err
		}
		c.enc, c.dec = enc, dec
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidData, kind)
	}
	return c, nil
}

// Close releases the zstd encoder and decoder.
func (c *blockCodec) Close() {
	if c.enc != nil {
		c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}

// encodeTable marshals and compresses a table.
func (c *blockCodec) encodeTable(t *frame.Table) ([]byte, error) {
	raw, err := t.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return c.compress(raw)
}

// decodeTable decompresses and unmarshals a table payload.
func (c *blockCodec) decodeTable(payload []byte) (*frame.Table, error) {
	raw, err := c.decompress(payload)
	if err != nil {
		return nil, err
	}
	return frame.DecodeTable(raw)
}

func (c *blockCodec) compress(data []byte) ([]byte, error) {
	var compressed []byte
	switch c.kind {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n] // n == 0 means incompressible
	case CompressionZstd:
		compressed = c.enc.EncodeAll(data, nil)
	}

	out := make([]byte, payloadHeaderSize, payloadHeaderSize+len(data))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	if len(compressed) == 0 || len(compressed) >= len(data) {
		binary.LittleEndian.PutUint32(out[4:], 0)
		return append(out, data...), nil
	}
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	return append(out, compressed...), nil
}

func (c *blockCodec) decompress(data []byte) ([]byte, error) {
	if len(data) < payloadHeaderSize {
		return nil, errors.New("payload too small for header")
	}
	size := binary.LittleEndian.Uint32(data[0:])
	csize := binary.LittleEndian.Uint32(data[4:])
	body := data[payloadHeaderSize:]

	if csize == 0 {
		if uint32(len(body)) != size {
			return nil, fmt.Errorf("stored payload is %d bytes, header says %d", len(body), size)
		}
		return body, nil
	}
	if uint32(len(body)) != csize {
		return nil, fmt.Errorf("compressed payload is %d bytes, header says %d", len(body), csize)
	}

	switch c.kind {
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != size {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	case CompressionZstd:
		out, err := c.dec.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != size {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compressed payload but store compression is %s", c.kind)
	}
}
