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
	"errors"
	"os"
)

// MdictType represents the type of the dictionary file (MDX or MDD).
type MdictType int

const (
	// MdictTypeMdd indicates an MDD file.
	MdictTypeMdd MdictType = 1
	// MdictTypeMdx indicates an MDX file.
	MdictTypeMdx MdictType = 2

	// EncryptNoEnc indicates no encryption.
	EncryptNoEnc = 0
	// EncryptRecordEnc indicates record block encryption.
	EncryptRecordEnc = 1
	// EncryptKeyInfoEnc indicates key info block encryption.
	EncryptKeyInfoEnc = 2

	// EncodingUtf8 represents UTF-8 encoding.
	EncodingUtf8 = 0
	// EncodingUtf16 represents UTF-16LE encoding.
	EncodingUtf16 = 1
	// EncodingBig5 represents Big5 encoding.
	EncodingBig5 = 2
	// EncodingGbk represents GBK encoding.
	EncodingGbk = 3
	// EncodingGb2312 represents GB2312 encoding.
	EncodingGb2312 = 4
	// EncodingGb18030 represents GB18030 encoding.
	EncodingGb18030 = 5
)

// ResourceEncoding selects the output encoding of Locate for MDD payloads.
type ResourceEncoding int

const (
	// ResourceBase64 encodes the payload per RFC 4648 without line breaks.
	ResourceBase64 ResourceEncoding = iota
	// ResourceHex encodes the payload as lowercase hex.
	ResourceHex
)

// readerState tracks the one-shot lifecycle of a dictionary handle.
// Transitions are opened -> initialized -> closed, never backwards.
type readerState int

const (
	stateOpened readerState = iota
	stateInitialized
	stateClosed
)

// Error kinds. Errors from opening, Init and the lookup APIs wrap exactly
// one of these sentinels; classify with errors.Is. The fs.FS adapter
// reports io/fs errors (fs.ErrNotExist, *fs.PathError, io.EOF) instead.
var (
	// ErrIo indicates an underlying read failed or returned short.
	ErrIo = errors.New("mdict: io error")
	// ErrFormat indicates a structural violation of the container layout.
	ErrFormat = errors.New("mdict: format error")
	// ErrIntegrity indicates an adler32 mismatch or an undecodable block body.
	ErrIntegrity = errors.New("mdict: integrity error")
	// ErrEncoding indicates bytes cannot be decoded under the declared encoding.
	ErrEncoding = errors.New("mdict: encoding error")
	// ErrCrypto indicates key-info decryption produced an unusable block,
	// usually a wrong or missing passcode.
	ErrCrypto = errors.New("mdict: crypto error")
	// ErrState indicates an API call in the wrong lifecycle state.
	ErrState = errors.New("mdict: invalid reader state")
	// ErrWordNotFound is returned when a word is not found in the dictionary.
	ErrWordNotFound = errors.New("word not found")
)

// Stemmer expands a word into its morphological bases. The affix algorithm
// itself lives outside this module; readers built with NewWithAffix carry the
// affix file paths through to whatever Stemmer the caller installs.
type Stemmer interface {
	Stem(word string) []string
}

// MdictBase is the base structure for handling MDict file parsing.
// It owns the open file and every index built at Init time.
type MdictBase struct {
	filePath string
	fileType MdictType
	file     *os.File
	state    readerState
	meta     *mdictMeta

	header       *mdictHeader
	keyBlockMeta *mdictKeyBlockMeta
	keyBlockInfo *mdictKeyBlockInfo

	recordBlockMeta *mdictRecordBlockMeta
	recordBlockInfo *mdictRecordBlockInfo

	keyBlockCache    *blockCache
	recordBlockCache *blockCache

	rangeTreeRoot *recordBlockRangeTreeNode
}

/********************************
 *    private data type          *
 ********************************/
type mdictHeader struct {
	headerBytesSize          uint32
	headerInfoBytes          []byte
	headerInfo               string
	adler32Checksum          uint32
	dictionaryHeaderByteSize int64
}

type mdictMeta struct {
	encryptType int
	version     float32
	numberWidth int
	encoding    int

	// key-block part bytes start offset in the mdx/mdd file
	keyBlockMetaStartOffset int64

	description              string
	title                    string
	creationDate             string
	generatedByEngineVersion string
}

type mdictKeyBlockMeta struct {
	// keyBlockNum key block number size
	keyBlockNum int64
	// entriesNum entries number size
	entriesNum int64
	// key-block information size (decompressed)
	keyBlockInfoDecompressSize int64
	// key-block information size (compressed)
	keyBlockInfoCompressedSize int64
	// key-block data size (compressed, all blocks together)
	keyBlockDataTotalSize int64
	// key-block information start position in the mdx/mdd file
	keyBlockInfoStartOffset int64
}

type mdictKeyBlockInfo struct {
	keyBlockEntriesStartOffset int64
	keyBlockInfoList           []mdictKeyBlockInfoItem
}

type mdictKeyBlockInfoItem struct {
	firstKey                      string
	lastKey                       string
	keyBlockInfoIndex             int
	keyBlockCompressSize          int64
	keyBlockCompAccumulator       int64
	keyBlockDeCompressSize        int64
	keyBlockDeCompressAccumulator int64
}

type mdictRecordBlockMeta struct {
	keyRecordMetaStartOffset int64
	keyRecordMetaEndOffset   int64

	recordBlockNum          int64
	entriesNum              int64
	recordBlockInfoCompSize int64
	recordBlockCompSize     int64
}

type mdictRecordBlockInfo struct {
	recordInfoList             []MdictRecordBlockInfoListItem
	recordBlockInfoStartOffset int64
	recordBlockInfoEndOffset   int64
	recordBlockDataStartOffset int64
}

// MdictRecordBlockInfoListItem holds information about a single record block.
type MdictRecordBlockInfoListItem struct {
	compressSize                int64
	deCompressSize              int64
	compressAccumulatorOffset   int64
	deCompressAccumulatorOffset int64
}

/********************************
 *    public data type          *
 ********************************/

// MDictKeywordEntry represents a single keyword entry from a key block.
// RecordStartOffset is a cursor into the concatenated decompressed record
// stream, not a file offset. RecordEndOffset is zero when the end is not
// known yet (last entry of a lazily decoded block).
type MDictKeywordEntry struct {
	RecordStartOffset int64
	RecordEndOffset   int64
	KeyWord           string
	KeyBlockIdx       int64
}

// MDictKeywordIndex provides a detailed index for a keyword,
// linking it to its specific location within a record block.
type MDictKeywordIndex struct {
	KeywordEntry MDictKeywordEntry
	RecordBlock  MDictKeywordIndexRecordBlock
}

// MDictKeywordIndexRecordBlock contains information about the record block
// where a specific keyword's definition is stored.
type MDictKeywordIndexRecordBlock struct {
	DataStartOffset          int64
	CompressSize             int64
	DeCompressSize           int64
	KeyWordPartStartOffset   int64
	KeyWordPartDataEndOffset int64
}
