package mdict

import (
	"fmt"

	"github.com/c0mm4nd/go-ripemd"
)

// The key-block-info table of an encrypted dictionary (Encrypted bit 1) is
// scrambled with a stream transform keyed off the table's own checksum
// field. The first 8 bytes of the table (compression marker + adler32 of
// the decompressed data) are left intact; the key is RIPEMD-128 over those
// checksum bytes plus a fixed salt.

// keyInfoDecryptKey derives the 16-byte transform key from an encrypted
// key-block-info table.
func keyInfoDecryptKey(compBlock []byte) []byte {
	keyBuffer := make([]byte, 8)
	copy(keyBuffer, compBlock[4:8])
	keyBuffer[4] = 0x95
	keyBuffer[5] = 0x36

	h := ripemd.New128()
	h.Write(keyBuffer)
	return h.Sum(nil)
}

// fastDecrypt applies the stream transform in place. For each byte the
// nibbles are swapped, then xored with the previous ciphertext byte (0x36
// for the first), the byte index and the rolling key.
func fastDecrypt(data []byte, key []byte) {
	previous := byte(0x36)
	for i := 0; i < len(data); i++ {
		t := ((data[i] >> 4) | (data[i] << 4)) & 0xff
		t = t ^ previous ^ byte(i&0xff) ^ key[i%len(key)]
		previous = data[i]
		data[i] = t
	}
}

// mdxDecrypt decrypts an encrypted key-block-info table, returning a new
// buffer with the 8-byte envelope preserved and the body decrypted.
func mdxDecrypt(compBlock []byte, compBlockLen int64) ([]byte, error) {
	if int64(len(compBlock)) < 8 || compBlockLen < 8 {
		return nil, fmt.Errorf("%w: encrypted block of %d bytes is too short", ErrCrypto, len(compBlock))
	}
	key := keyInfoDecryptKey(compBlock)
	out := make([]byte, compBlockLen)
	copy(out, compBlock[:compBlockLen])
	fastDecrypt(out[8:], key)
	return out, nil
}
