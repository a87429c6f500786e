package mdict

import (
	"fmt"
	"strings"
)

// mdictHeaderInfo is the attribute set of the leading XML-like element.
// All tags are optional except GeneratedByEngineVersion.
type mdictHeaderInfo struct {
	GeneratedByEngineVersion string
	RequiredEngineVersion    string
	Encrypted                string
	Encoding                 string
	Format                   string
	CreationDate             string
	Title                    string
	Description              string
	StyleSheet               string
	RegisterBy               string
}

// parseXMLHeader parses the single self-closing header element. The blob is
// not real XML: generator tools emit bare ampersands, stray trailing NULs
// and carriage returns, so this is a hand scanner rather than encoding/xml.
func parseXMLHeader(headerText string) (*mdictHeaderInfo, error) {
	text := strings.Trim(headerText, "\x00\r\n\t ")
	start := strings.IndexByte(text, '<')
	if start < 0 {
		return nil, fmt.Errorf("%w: header has no element start", ErrFormat)
	}

	attrs, err := parseElementAttrs(text[start:])
	if err != nil {
		return nil, err
	}

	info := &mdictHeaderInfo{
		GeneratedByEngineVersion: attrs["GeneratedByEngineVersion"],
		RequiredEngineVersion:    attrs["RequiredEngineVersion"],
		Encrypted:                attrs["Encrypted"],
		Encoding:                 attrs["Encoding"],
		Format:                   attrs["Format"],
		CreationDate:             attrs["CreationDate"],
		Title:                    attrs["Title"],
		Description:              attrs["Description"],
		StyleSheet:               attrs["StyleSheet"],
		RegisterBy:               attrs["RegisterBy"],
	}
	if info.GeneratedByEngineVersion == "" {
		return nil, fmt.Errorf("%w: header is missing GeneratedByEngineVersion", ErrFormat)
	}
	return info, nil
}

// parseElementAttrs scans `<Name attr="value" .../>` into a map, resolving
// the entity references attribute values may carry.
func parseElementAttrs(element string) (map[string]string, error) {
	attrs := make(map[string]string)
	i := 1 // skip '<'

	// skip element name
	for i < len(element) && !isXMLSpace(element[i]) && element[i] != '>' && element[i] != '/' {
		i++
	}

	for i < len(element) {
		for i < len(element) && isXMLSpace(element[i]) {
			i++
		}
		if i >= len(element) || element[i] == '>' || element[i] == '/' {
			break
		}

		nameStart := i
		for i < len(element) && element[i] != '=' && !isXMLSpace(element[i]) {
			i++
		}
		name := element[nameStart:i]

		for i < len(element) && isXMLSpace(element[i]) {
			i++
		}
		if i >= len(element) || element[i] != '=' {
			return nil, fmt.Errorf("%w: header attribute %q has no value", ErrFormat, name)
		}
		i++
		for i < len(element) && isXMLSpace(element[i]) {
			i++
		}
		if i >= len(element) || element[i] != '"' {
			return nil, fmt.Errorf("%w: header attribute %q value is unquoted", ErrFormat, name)
		}
		i++
		valueStart := i
		for i < len(element) && element[i] != '"' {
			i++
		}
		if i >= len(element) {
			return nil, fmt.Errorf("%w: header attribute %q value is unterminated", ErrFormat, name)
		}
		attrs[name] = unescapeXMLEntities(element[valueStart:i])
		i++
	}
	return attrs, nil
}

func isXMLSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

var xmlEntityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func unescapeXMLEntities(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}
	return xmlEntityReplacer.Replace(s)
}
