package mdict

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"hash/adler32"
	"io"

	"github.com/rasky/go-lzo"
)

// Block compression markers. Every compressible block starts with a 4-byte
// marker followed by the big-endian adler32 of the decompressed body.
const (
	compTypeNone byte = 0
	compTypeLzo  byte = 1
	compTypeZlib byte = 2
)

// decodeBlock strips the 8-byte marker+checksum envelope from a key or
// record block, decompresses the body per the marker and verifies the
// stored adler32 against the result. decompressedSize is a hint for the
// LZO path and, when positive, a hard bound checked on every path.
func decodeBlock(data []byte, decompressedSize int64) ([]byte, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: block of %d bytes is too short for its envelope", ErrFormat, len(data))
	}
	compType := data[0:4]
	if compType[1] != 0 || compType[2] != 0 || compType[3] != 0 {
		return nil, fmt.Errorf("%w: unsupported compression marker %x", ErrFormat, compType)
	}
	expectedChecksum := beBinToU32(data[4:8])
	body := data[8:]

	var block []byte
	switch compType[0] {
	case compTypeNone:
		block = body
	case compTypeLzo:
		out, err := lzo.Decompress1X(bytes.NewReader(body), 0, int(decompressedSize))
		if err != nil {
			return nil, fmt.Errorf("%w: lzo decompression failed: %v", ErrIntegrity, err)
		}
		block = out
	case compTypeZlib:
		out, err := zlibDecompress(body, 0, int64(len(body)))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib decompression failed: %v", ErrIntegrity, err)
		}
		block = out
	default:
		return nil, fmt.Errorf("%w: unsupported compression marker %x", ErrFormat, compType)
	}

	if actual := adler32.Checksum(block); actual != expectedChecksum {
		return nil, fmt.Errorf("%w: block checksum mismatch (expected %d, got %d)", ErrIntegrity, expectedChecksum, actual)
	}
	if decompressedSize > 0 && int64(len(block)) != decompressedSize {
		return nil, fmt.Errorf("%w: decompressed size mismatch (expected %d, got %d)", ErrIntegrity, decompressedSize, len(block))
	}
	return block, nil
}

// zlibDecompress inflates data[offset:offset+length] (RFC 1950).
func zlibDecompress(data []byte, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(data)) {
		return nil, fmt.Errorf("%w: zlib window [%d:%d] out of range", ErrFormat, offset, offset+length)
	}
	r, err := zlib.NewReader(bytes.NewReader(data[offset : offset+length]))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
