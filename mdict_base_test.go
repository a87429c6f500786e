//
// Copyright (C) 2023 Quan Chen <chenquan_act@163.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package mdict

import (
	"bytes"
	"crypto/rand"
	"hash/adler32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseXMLHeader(t *testing.T) {
	info, err := parseXMLHeader(`<Dictionary GeneratedByEngineVersion="2.0" Encrypted="2" ` +
		`Encoding="UTF-8" Title="Oxford &amp; friends" ` +
		`Description="a &lt;b&gt; c &quot;d&quot;" RegisterBy="EMail"/>` + "\r\n\x00")
	require.NoError(t, err)
	assert.Equal(t, "2.0", info.GeneratedByEngineVersion)
	assert.Equal(t, "2", info.Encrypted)
	assert.Equal(t, "UTF-8", info.Encoding)
	assert.Equal(t, "Oxford & friends", info.Title)
	assert.Equal(t, `a <b> c "d"`, info.Description)
	assert.Equal(t, "EMail", info.RegisterBy)
}

func TestParseXMLHeaderMissingVersion(t *testing.T) {
	_, err := parseXMLHeader(`<Dictionary Encoding="UTF-8"/>`)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestParseXMLHeaderMalformed(t *testing.T) {
	_, err := parseXMLHeader(`no element here`)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = parseXMLHeader(`<Dictionary Title="unterminated/>`)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecodeBlockStored(t *testing.T) {
	raw := []byte("hello block")
	env := envelopeBlock(t, compTypeNone, raw)

	out, err := decodeBlock(env, int64(len(raw)))
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestDecodeBlockZlibAndLzo(t *testing.T) {
	raw := bytes.Repeat([]byte("abcdefgh"), 64)

	for _, marker := range []byte{compTypeZlib, compTypeLzo} {
		env := envelopeBlock(t, marker, raw)
		out, err := decodeBlock(env, int64(len(raw)))
		require.NoError(t, err, "marker %d", marker)
		assert.Equal(t, raw, out, "marker %d", marker)
	}
}

func TestDecodeBlockUnknownMarker(t *testing.T) {
	env := []byte{9, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3}
	_, err := decodeBlock(env, 3)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecodeBlockChecksumMismatch(t *testing.T) {
	raw := []byte("payload")
	env := envelopeBlock(t, compTypeNone, raw)
	env[4] ^= 0xff

	_, err := decodeBlock(env, int64(len(raw)))
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestDecodeBlockTruncated(t *testing.T) {
	_, err := decodeBlock([]byte{2, 0, 0}, 0)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestMdxDecryptRoundTrip(t *testing.T) {
	raw := make([]byte, 256)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	env := []byte{2, 0, 0, 0}
	env = append(env, be32(adler32.Checksum(raw))...)
	env = append(env, raw...)

	scrambled := make([]byte, len(env))
	copy(scrambled, env)
	scrambleKeyInfo(scrambled)
	require.NotEqual(t, env[8:], scrambled[8:])

	decrypted, err := mdxDecrypt(scrambled, int64(len(scrambled)))
	require.NoError(t, err)
	assert.Equal(t, env, decrypted)
}

func TestMdxDecryptTooShort(t *testing.T) {
	_, err := mdxDecrypt([]byte{1, 2, 3}, 3)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestDecodeTextUtf16OddLength(t *testing.T) {
	_, err := decodeText([]byte{0x61, 0x00, 0x62}, EncodingUtf16)
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestDecodeTextLegacyEncodings(t *testing.T) {
	// "你好" in GB18030/GBK
	gb := []byte{0xc4, 0xe3, 0xba, 0xc3}
	for _, enc := range []int{EncodingGbk, EncodingGb2312, EncodingGb18030} {
		out, err := decodeText(gb, enc)
		require.NoError(t, err)
		assert.Equal(t, "你好", out)
	}

	// "你好" in Big5
	big5 := []byte{0xa7, 0x41, 0xa6, 0x6e}
	out, err := decodeText(big5, EncodingBig5)
	require.NoError(t, err)
	assert.Equal(t, "你好", out)
}

func TestScanKeyText(t *testing.T) {
	assert.Equal(t, 3, scanKeyText([]byte("abc\x00def"), 0, 1))
	assert.Equal(t, 6, scanKeyText([]byte("abcdef\x00"), 1, 1))
	assert.Equal(t, 4, scanKeyText([]byte{0x61, 0x00, 0x62, 0x00, 0x00, 0x00}, 0, 2))
	// no terminator: runs to the end
	assert.Equal(t, 3, scanKeyText([]byte("abc"), 0, 1))
}

func TestBlockCacheEviction(t *testing.T) {
	c := newBlockCache(2)
	c.put(1, []byte("one"))
	c.put(2, []byte("two"))

	// touch 1 so 2 becomes the eviction victim
	require.NotNil(t, c.get(1))
	c.put(3, []byte("three"))

	assert.NotNil(t, c.get(1))
	assert.Nil(t, c.get(2))
	assert.NotNil(t, c.get(3))

	c.drop(3)
	assert.Nil(t, c.get(3))
}

func TestRecordRangeTree(t *testing.T) {
	items := []MdictRecordBlockInfoListItem{
		{compressSize: 10, deCompressSize: 100, compressAccumulatorOffset: 0, deCompressAccumulatorOffset: 0},
		{compressSize: 12, deCompressSize: 50, compressAccumulatorOffset: 10, deCompressAccumulatorOffset: 100},
		{compressSize: 9, deCompressSize: 25, compressAccumulatorOffset: 22, deCompressAccumulatorOffset: 150},
	}
	root := new(recordBlockRangeTreeNode)
	buildRangeTree(items, root)

	for _, tc := range []struct {
		offset int64
		want   int64 // deCompressAccumulatorOffset of the expected block
	}{
		{0, 0}, {99, 0}, {100, 100}, {149, 100}, {150, 150}, {174, 150},
	} {
		got := queryRangeData(root, tc.offset)
		require.NotNil(t, got, "offset %d", tc.offset)
		assert.Equal(t, tc.want, got.deCompressAccumulatorOffset, "offset %d", tc.offset)
	}

	assert.Nil(t, queryRangeData(root, 175))
	assert.Nil(t, queryRangeData(root, -1))
}

func TestReadFileFromPosShortRead(t *testing.T) {
	r := bytes.NewReader([]byte("abc"))
	_, err := readFileFromPos(r, 0, 10)
	assert.ErrorIs(t, err, ErrIo)

	out, err := readFileFromPos(r, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("bc"), out)
}
