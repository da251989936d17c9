package frame

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Table block encoding (column-striped):
// - Magic "FTB1" (4 bytes)
// - Column count (uint16)
// - Per column: name length (uint16), name bytes
// - Row count (uint32)
// - Per column: Len() float64 values, little-endian

const blockMagic = "FTB1"

// MarshalBinary encodes the table as a column-striped block.
func (t *Table) MarshalBinary() ([]byte, error) {
	if len(t.cols) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: too many columns (%d)", ErrInvalidData, len(t.cols))
	}
	size := 4 + 2 + 4 + len(t.cols)*len(t.rows)*8
	for _, c := range t.cols {
		size += 2 + len(c)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, blockMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(t.cols)))
	for _, c := range t.cols {
		if len(c) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: column name too long", ErrInvalidData)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(c)))
		buf = append(buf, c...)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.rows)))
	for ci := range t.cols {
		for _, r := range t.rows {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(r[ci]))
		}
	}
	return buf, nil
}

// DecodeTable decodes a block produced by MarshalBinary.
func DecodeTable(data []byte) (*Table, error) {
	if len(data) < 4+2 || string(data[:4]) != blockMagic {
		return nil, fmt.Errorf("%w: bad table block magic", ErrInvalidData)
	}
	off := 4
	ncols := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2

	cols := make([]string, ncols)
	for i := range cols {
		if off+2 > len(data) {
			return nil, fmt.Errorf("%w: table block truncated in column names", ErrInvalidData)
		}
		n := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if off+n > len(data) {
			return nil, fmt.Errorf("%w: table block truncated in column names", ErrInvalidData)
		}
		cols[i] = string(data[off : off+n])
		off += n
	}

	if off+4 > len(data) {
		return nil, fmt.Errorf("%w: table block truncated before row count", ErrInvalidData)
	}
	nrows := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4

	if want := off + ncols*nrows*8; len(data) != want {
		return nil, fmt.Errorf("%w: table block size %d, want %d", ErrInvalidData, len(data), want)
	}

	t, err := newTable(cols)
	if err != nil {
		return nil, err
	}
	t.rows = make([][]float64, nrows)
	for r := range t.rows {
		t.rows[r] = make([]float64, ncols)
	}
	for ci := 0; ci < ncols; ci++ {
		for r := 0; r < nrows; r++ {
			t.rows[r][ci] = math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
			off += 8
		}
	}
	return t, nil
}
