package mdict

import (
	"encoding/binary"
	"fmt"
	"io"
)

// All multi-byte integers in the container are big-endian. Two widths
// coexist: 8 bytes for engine version >= 2.0 and 4 bytes below that.

func beBinToU8(data []byte) uint8 {
	return data[0]
}

func beBinToU16(data []byte) uint16 {
	return binary.BigEndian.Uint16(data)
}

func beBinToU32(data []byte) uint32 {
	return binary.BigEndian.Uint32(data)
}

func beBinToU64(data []byte) uint64 {
	return binary.BigEndian.Uint64(data)
}

// beBinToNumber decodes one active-width unsigned integer, 8 or 4 bytes
// depending on the wire version.
func beBinToNumber(data []byte, numberWidth int) int64 {
	if numberWidth == 8 {
		return int64(beBinToU64(data))
	}
	return int64(beBinToU32(data))
}

// readFileFromPos reads exactly length bytes starting at the absolute
// offset pos. Short reads and underlying failures surface as ErrIo.
func readFileFromPos(r io.ReaderAt, pos int64, length int64) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: negative read length %d", ErrIo, length)
	}
	buffer := make([]byte, length)
	n, err := r.ReadAt(buffer, pos)
	if err != nil && !(err == io.EOF && int64(n) == length) {
		return nil, fmt.Errorf("%w: read %d bytes at offset %d: %v", ErrIo, length, pos, err)
	}
	if int64(n) != length {
		return nil, fmt.Errorf("%w: short read at offset %d (want %d, got %d)", ErrIo, pos, length, n)
	}
	return buffer, nil
}
