package mdict

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

var utf16LeDecoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// encodingFromLabel maps a header Encoding tag to the internal constant.
// An empty or unrecognized label maps to UTF-8. The UTF-16LE default for an
// MDX file with an empty tag, and the fixed UTF-16LE key text of MDD files,
// are applied by readDictHeader.
func encodingFromLabel(label string) int {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "utf-16", "utf16":
		return EncodingUtf16
	case "big5":
		return EncodingBig5
	case "gbk":
		return EncodingGbk
	case "gb2312":
		return EncodingGb2312
	case "gb18030":
		return EncodingGb18030
	default:
		return EncodingUtf8
	}
}

func charmapFor(enc int) encoding.Encoding {
	switch enc {
	case EncodingBig5:
		return traditionalchinese.Big5
	case EncodingGbk:
		return simplifiedchinese.GBK
	case EncodingGb2312, EncodingGb18030:
		// GB18030 is a strict superset of GB2312; both decode through it.
		return simplifiedchinese.GB18030
	default:
		return nil
	}
}

// decodeText converts a byte slice into a string under the given encoding.
func decodeText(data []byte, enc int) (string, error) {
	switch enc {
	case EncodingUtf16:
		return decodeLittleEndianUtf16(data)
	case EncodingUtf8:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: invalid utf-8 sequence", ErrEncoding)
		}
		return string(data), nil
	default:
		cm := charmapFor(enc)
		if cm == nil {
			return "", fmt.Errorf("%w: unknown text encoding %d", ErrEncoding, enc)
		}
		out, err := cm.NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		return string(out), nil
	}
}

// decodeLittleEndianUtf16 converts UTF-16LE bytes to a string.
// An odd trailing byte is a structural error.
func decodeLittleEndianUtf16(data []byte) (string, error) {
	if len(data)%2 != 0 {
		return "", fmt.Errorf("%w: utf-16 input length %d is odd", ErrEncoding, len(data))
	}
	out, err := utf16LeDecoder.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return string(out), nil
}

// littleEndianBinUTF16ToUTF8 decodes the [offset, offset+length) window of a
// UTF-16LE buffer, tolerating decode failures by falling back to the raw
// bytes. Used for the header blob where generator tools are sloppy.
func littleEndianBinUTF16ToUTF8(data []byte, offset int, length int) string {
	if offset < 0 || length < 0 || offset+length > len(data) {
		return ""
	}
	s, err := decodeLittleEndianUtf16(data[offset : offset+length])
	if err != nil {
		return string(data[offset : offset+length])
	}
	return s
}

// terminatorWidth is the NUL terminator size in bytes for key text under the
// given encoding: 2 for UTF-16LE, 1 for every 8-bit encoding.
func terminatorWidth(enc int) int {
	if enc == EncodingUtf16 {
		return 2
	}
	return 1
}

// scanKeyText finds the end of a NUL-terminated key starting at start,
// honouring the terminator width. Returns the exclusive end of the key text
// bytes, or len(data) if no terminator occurs.
func scanKeyText(data []byte, start, width int) int {
	for i := start; i+width <= len(data); i += width {
		if width == 1 && data[i] == 0 {
			return i
		}
		if width == 2 && data[i] == 0 && data[i+1] == 0 {
			return i
		}
	}
	return len(data)
}

// trimTrailingNulls strips the NUL padding MDX record bodies end with.
func trimTrailingNulls(s string) string {
	return strings.TrimRight(s, "\x00")
}
