package mdict

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/adler32"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/rasky/go-lzo"
	"github.com/stretchr/testify/require"
)

// The tests below drive the reader against synthetic containers written
// byte-by-byte in the real wire layout, so every decoder stage is exercised
// end to end without shipping dictionary files.

type fixtureEntry struct {
	key  string
	body []byte
}

type fixtureSpec struct {
	version      string
	fileType     MdictType
	encodingAttr string
	title        string

	// encryptKeyInfo scrambles the key-block-info body with the stream
	// transform; declaredEncrypted overrides the header Encrypted attribute
	// (empty means derive it from encryptKeyInfo).
	encryptKeyInfo    bool
	declaredEncrypted string

	keyBlocks    [][]fixtureEntry
	keyBlockComp []byte // one marker per key block, defaults to stored
	recordComp   byte
	recordGroups []int // entries per record block, defaults to one block
}

type fixtureLayout struct {
	path          string
	keyBlockSpans [][2]int64 // absolute {offset, length} of each enveloped key block
}

func (spec *fixtureSpec) isV2() bool {
	return !strings.HasPrefix(spec.version, "1")
}

func (spec *fixtureSpec) isUtf16() bool {
	return spec.fileType == MdictTypeMdd || strings.EqualFold(spec.encodingAttr, "UTF-16")
}

func utf16leBytes(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[2*i:], u)
	}
	return out
}

func (spec *fixtureSpec) encodeKey(s string) []byte {
	if spec.isUtf16() {
		return utf16leBytes(s)
	}
	return []byte(s)
}

func (spec *fixtureSpec) putNumber(buf *bytes.Buffer, v uint64) {
	if spec.isV2() {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	} else {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		buf.Write(b[:])
	}
}

func be32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// envelopeBlock wraps raw block data in the 4-byte marker + 4-byte adler32
// envelope, compressing per the marker.
func envelopeBlock(t *testing.T, marker byte, raw []byte) []byte {
	t.Helper()
	var body []byte
	switch marker {
	case compTypeNone:
		body = raw
	case compTypeLzo:
		body = lzo.Compress1X(raw)
	case compTypeZlib:
		var b bytes.Buffer
		w := zlib.NewWriter(&b)
		_, err := w.Write(raw)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		body = b.Bytes()
	default:
		t.Fatalf("fixture: unknown marker %d", marker)
	}
	out := []byte{marker, 0, 0, 0}
	out = append(out, be32(adler32.Checksum(raw))...)
	return append(out, body...)
}

// scrambleKeyInfo applies the inverse of fastDecrypt to an enveloped
// key-block-info table, leaving the first 8 bytes intact.
func scrambleKeyInfo(env []byte) {
	key := keyInfoDecryptKey(env)
	body := env[8:]
	previous := byte(0x36)
	for i := range body {
		c := body[i] ^ previous ^ byte(i&0xff) ^ key[i%len(key)]
		c = ((c >> 4) | (c << 4)) & 0xff
		body[i] = c
		previous = c
	}
}

func buildFixture(t *testing.T, spec fixtureSpec) *fixtureLayout {
	t.Helper()

	unit := 1
	if spec.isUtf16() {
		unit = 2
	}

	// 1. assign record offsets in entry order
	var totalEntries int
	var offset uint64
	type keyBlockBuild struct {
		raw      []byte
		first    string
		last     string
		firstLen int
		lastLen  int
		count    int
	}
	var keyBlockBuilds []keyBlockBuild
	var bodies [][]byte
	for _, block := range spec.keyBlocks {
		var kb keyBlockBuild
		var raw bytes.Buffer
		for i, entry := range block {
			spec.putNumber(&raw, offset)
			raw.Write(spec.encodeKey(entry.key))
			raw.Write(make([]byte, unit))
			offset += uint64(len(entry.body))
			bodies = append(bodies, entry.body)
			if i == 0 {
				kb.first = entry.key
				kb.firstLen = len(spec.encodeKey(entry.key)) / unit
			}
			kb.last = entry.key
			kb.lastLen = len(spec.encodeKey(entry.key)) / unit
			kb.count++
			totalEntries++
		}
		kb.raw = raw.Bytes()
		keyBlockBuilds = append(keyBlockBuilds, kb)
	}

	// 2. envelope key blocks
	var keyBlockEnvs [][]byte
	var keyBlockDataSize int64
	for i, kb := range keyBlockBuilds {
		marker := compTypeNone
		if spec.keyBlockComp != nil {
			marker = spec.keyBlockComp[i]
		}
		env := envelopeBlock(t, marker, kb.raw)
		keyBlockEnvs = append(keyBlockEnvs, env)
		keyBlockDataSize += int64(len(env))
	}

	// 3. key-block-info table
	var table bytes.Buffer
	for i, kb := range keyBlockBuilds {
		spec.putNumber(&table, uint64(kb.count))
		firstKey := spec.encodeKey(kb.first)
		lastKey := spec.encodeKey(kb.last)
		if spec.isV2() {
			var sz [2]byte
			binary.BigEndian.PutUint16(sz[:], uint16(kb.firstLen))
			table.Write(sz[:])
			table.Write(firstKey)
			table.Write(make([]byte, unit))
			binary.BigEndian.PutUint16(sz[:], uint16(kb.lastLen))
			table.Write(sz[:])
			table.Write(lastKey)
			table.Write(make([]byte, unit))
		} else {
			table.WriteByte(byte(kb.firstLen))
			table.Write(firstKey)
			table.WriteByte(byte(kb.lastLen))
			table.Write(lastKey)
		}
		spec.putNumber(&table, uint64(len(keyBlockEnvs[i])))
		spec.putNumber(&table, uint64(len(keyBlockBuilds[i].raw)))
	}

	var keyInfoBytes []byte
	if spec.isV2() {
		keyInfoBytes = envelopeBlock(t, compTypeZlib, table.Bytes())
		if spec.encryptKeyInfo {
			scrambleKeyInfo(keyInfoBytes)
		}
	} else {
		keyInfoBytes = table.Bytes()
	}

	// 4. record blocks
	groups := spec.recordGroups
	if groups == nil {
		groups = []int{totalEntries}
	}
	var recordEnvs [][]byte
	var recordInfo bytes.Buffer
	var recordDataSize int64
	next := 0
	for _, n := range groups {
		var raw bytes.Buffer
		for i := 0; i < n; i++ {
			raw.Write(bodies[next])
			next++
		}
		env := envelopeBlock(t, spec.recordComp, raw.Bytes())
		recordEnvs = append(recordEnvs, env)
		recordDataSize += int64(len(env))
		spec.putNumber(&recordInfo, uint64(len(env)))
		spec.putNumber(&recordInfo, uint64(raw.Len()))
	}
	require.Equal(t, totalEntries, next, "record groups must cover every entry")

	// 5. header
	encrypted := "0"
	if spec.encryptKeyInfo {
		encrypted = "2"
	}
	if spec.declaredEncrypted != "" {
		encrypted = spec.declaredEncrypted
	}
	headerXML := `<Dictionary GeneratedByEngineVersion="` + spec.version +
		`" Encrypted="` + encrypted +
		`" Encoding="` + spec.encodingAttr +
		`" Title="` + spec.title +
		`" Description="synthetic fixture" CreationDate="2024-01-01"/>`
	headerBytes := utf16leBytes(headerXML)

	// 6. assemble
	var file bytes.Buffer
	file.Write(be32(uint32(len(headerBytes))))
	file.Write(headerBytes)
	file.Write(be32(adler32.Checksum(headerBytes)))

	var meta bytes.Buffer
	spec.putNumber(&meta, uint64(len(keyBlockBuilds)))
	spec.putNumber(&meta, uint64(totalEntries))
	if spec.isV2() {
		spec.putNumber(&meta, uint64(table.Len()))
	}
	spec.putNumber(&meta, uint64(len(keyInfoBytes)))
	spec.putNumber(&meta, uint64(keyBlockDataSize))
	file.Write(meta.Bytes())
	if spec.isV2() {
		file.Write(be32(adler32.Checksum(meta.Bytes())))
	}

	file.Write(keyInfoBytes)

	layout := &fixtureLayout{}
	for _, env := range keyBlockEnvs {
		layout.keyBlockSpans = append(layout.keyBlockSpans,
			[2]int64{int64(file.Len()), int64(len(env))})
		file.Write(env)
	}

	var recordMeta bytes.Buffer
	spec.putNumber(&recordMeta, uint64(len(recordEnvs)))
	spec.putNumber(&recordMeta, uint64(totalEntries))
	spec.putNumber(&recordMeta, uint64(recordInfo.Len()))
	spec.putNumber(&recordMeta, uint64(recordDataSize))
	file.Write(recordMeta.Bytes())
	file.Write(recordInfo.Bytes())
	for _, env := range recordEnvs {
		file.Write(env)
	}

	ext := ".mdx"
	if spec.fileType == MdictTypeMdd {
		ext = ".mdd"
	}
	layout.path = filepath.Join(t.TempDir(), "fixture"+ext)
	require.NoError(t, os.WriteFile(layout.path, file.Bytes(), 0644))
	return layout
}

// mdxBody renders a definition the way MDX record streams store it:
// target encoding plus a trailing NUL.
func mdxBody(spec *fixtureSpec, text string) []byte {
	body := spec.encodeKey(text)
	if spec.isUtf16() {
		return append(body, 0, 0)
	}
	return append(body, 0)
}

func openFixture(t *testing.T, layout *fixtureLayout) *Mdict {
	t.Helper()
	dict, err := New(layout.path)
	require.NoError(t, err)
	require.NoError(t, dict.Init())
	t.Cleanup(func() { _ = dict.Close() })
	return dict
}
