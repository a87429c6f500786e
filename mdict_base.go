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
	"fmt"
	"hash/adler32"
	"io"
	"strconv"
	"strings"
)

// readDictHeader reads and parses the dictionary's header information.
// It reads the raw header data from the file, verifies the checksum and
// parses the XML-formatted header info to populate the meta struct.
func (mdict *MdictBase) readDictHeader() error {
	log.Infof("Reading dictionary header: %s", mdict.filePath)
	dictHeader, err := readMDictFileHeader(mdict.file)
	if err != nil {
		return fmt.Errorf("failed to read MDict file header for '%s': %w", mdict.filePath, err)
	}
	mdict.header = dictHeader

	// Generator tools disagree on what exactly the header checksum covers,
	// so a mismatch is logged but does not interrupt parsing.
	checksum := adler32.Checksum(dictHeader.headerInfoBytes)
	if checksum != dictHeader.adler32Checksum {
		log.Warningf("Header checksum mismatch for '%s': expected %d, calculated %d", mdict.filePath, dictHeader.adler32Checksum, checksum)
	}

	headerInfo, err := parseXMLHeader(dictHeader.headerInfo)
	if err != nil {
		return fmt.Errorf("failed to parse XML header for '%s': %w", mdict.filePath, err)
	}
	log.Debugf("Header info parsed for '%s'. Title: '%s', EngineVersion: '%s', Encoding: '%s'",
		mdict.filePath, headerInfo.Title, headerInfo.GeneratedByEngineVersion, headerInfo.Encoding)

	meta := &mdictMeta{}

	// Encrypted is an integer: bit 0 covers record encryption, bit 1 marks
	// an encrypted key-block-info table. Legacy files write "Yes"/"No".
	// When both bits are set, the key-info encryption takes precedence.
	encrypted := headerInfo.Encrypted
	switch {
	case encrypted == "" || encrypted == "No":
		meta.encryptType = EncryptNoEnc
	case encrypted == "Yes":
		meta.encryptType = EncryptRecordEnc
	default:
		flags, convErr := strconv.Atoi(strings.TrimSpace(encrypted))
		if convErr == nil && flags&2 != 0 {
			meta.encryptType = EncryptKeyInfoEnc
		} else if convErr == nil && flags&1 != 0 {
			meta.encryptType = EncryptRecordEnc
		} else {
			meta.encryptType = EncryptNoEnc
		}
	}

	versionStr := headerInfo.GeneratedByEngineVersion
	version, err := strconv.ParseFloat(versionStr, 32)
	if err != nil {
		return fmt.Errorf("%w: invalid engine version '%s' in header for '%s'", ErrFormat, versionStr, mdict.filePath)
	}
	meta.version = float32(version)

	// Version >= 2.0 widens every count and size field to 8 bytes.
	if meta.version >= 2.0 {
		meta.numberWidth = 8
	} else {
		meta.numberWidth = 4
	}

	if headerInfo.Encoding == "" && mdict.fileType == MdictTypeMdx {
		meta.encoding = EncodingUtf16
	} else {
		meta.encoding = encodingFromLabel(headerInfo.Encoding)
	}

	// MDD key text is always UTF-16LE regardless of the header tag; the
	// payloads are opaque bytes.
	if mdict.fileType == MdictTypeMdd {
		meta.encoding = EncodingUtf16
	}

	// 4 bytes header length + header byte size + 4 bytes adler checksum
	meta.keyBlockMetaStartOffset = int64(4 + dictHeader.headerBytesSize + 4)

	meta.description = headerInfo.Description
	meta.title = headerInfo.Title
	meta.creationDate = headerInfo.CreationDate
	meta.generatedByEngineVersion = headerInfo.GeneratedByEngineVersion

	mdict.meta = meta

	return nil
}

// readMDictFileHeader reads the raw header data block from an MDict file.
func readMDictFileHeader(file io.ReaderAt) (*mdictHeader, error) {
	lenBuf, err := readFileFromPos(file, 0, 4)
	if err != nil {
		return nil, err
	}
	headerBytesSize := beBinToU32(lenBuf)

	headerInfoBytes, err := readFileFromPos(file, 4, int64(headerBytesSize))
	if err != nil {
		return nil, err
	}

	checksumBuf, err := readFileFromPos(file, 4+int64(headerBytesSize), 4)
	if err != nil {
		return nil, err
	}
	adler32Checksum := beBinToU32(checksumBuf)

	// Convert UTF-16LE encoded header bytes to UTF-8.
	utfHeaderInfo := littleEndianBinUTF16ToUTF8(headerInfoBytes, 0, int(headerBytesSize))
	// Compatibility fix: some tools label the root element Library_Data.
	utfHeaderInfo = strings.Replace(utfHeaderInfo, "Library_Data", "Dictionary", 1)

	return &mdictHeader{
		headerBytesSize:          headerBytesSize,
		headerInfoBytes:          headerInfoBytes,
		headerInfo:               utfHeaderInfo,
		adler32Checksum:          adler32Checksum,
		dictionaryHeaderByteSize: 4 + int64(headerBytesSize) + 4,
	}, nil
}

// readKeyBlockMeta reads the fixed-layout key block metadata:
// v >= 2.0: five 8-byte counts plus a 4-byte adler32 over those 40 bytes;
// v < 2.0: four 4-byte counts, no checksum.
func (mdict *MdictBase) readKeyBlockMeta() error {
	keyBlockMeta := &mdictKeyBlockMeta{}
	width := mdict.meta.numberWidth

	keyBlockMetaBytesNum := int64(4 * 4)
	if mdict.meta.version >= 2.0 {
		keyBlockMetaBytesNum = 8 * 5
	}

	keyBlockMetaBuffer, err := readFileFromPos(mdict.file, mdict.meta.keyBlockMetaStartOffset, keyBlockMetaBytesNum)
	if err != nil {
		return fmt.Errorf("failed to read key block metadata for '%s': %w", mdict.filePath, err)
	}

	// 1. [0:8]([0:4]) - number of key blocks
	keyBlockMeta.keyBlockNum = beBinToNumber(keyBlockMetaBuffer[0:width], width)

	// 2. [8:16]([4:8]) - number of entries
	keyBlockMeta.entriesNum = beBinToNumber(keyBlockMetaBuffer[width:width*2], width)

	var keyBlockInfoSizeStartOffset int

	// 3. [16:24] - key block info decompressed size (v >= 2.0 only)
	if mdict.meta.version >= 2.0 {
		keyBlockMeta.keyBlockInfoDecompressSize = beBinToNumber(keyBlockMetaBuffer[width*2:width*3], width)
		keyBlockInfoSizeStartOffset = width * 3
	} else {
		keyBlockInfoSizeStartOffset = width * 2
	}

	// 4. [24:32]([8:12]) - key block info size
	keyBlockMeta.keyBlockInfoCompressedSize = beBinToNumber(
		keyBlockMetaBuffer[keyBlockInfoSizeStartOffset:keyBlockInfoSizeStartOffset+width], width)

	// 5. [32:40]([12:16]) - total key block data size
	keyBlockMeta.keyBlockDataTotalSize = beBinToNumber(
		keyBlockMetaBuffer[keyBlockInfoSizeStartOffset+width:keyBlockInfoSizeStartOffset+width*2], width)

	// 6. [40:44] - adler32 of the preceding 40 bytes (v >= 2.0 only)
	if mdict.meta.version >= 2.0 {
		checksumBuf, err := readFileFromPos(mdict.file, mdict.meta.keyBlockMetaStartOffset+40, 4)
		if err != nil {
			return fmt.Errorf("failed to read key block metadata checksum for '%s': %w", mdict.filePath, err)
		}
		expected := beBinToU32(checksumBuf)
		if actual := adler32.Checksum(keyBlockMetaBuffer); actual != expected {
			return fmt.Errorf("%w: key block metadata checksum mismatch for '%s' (expected %d, got %d)",
				ErrIntegrity, mdict.filePath, expected, actual)
		}
		keyBlockMeta.keyBlockInfoStartOffset = mdict.meta.keyBlockMetaStartOffset + 40 + 4
	} else {
		keyBlockMeta.keyBlockInfoStartOffset = mdict.meta.keyBlockMetaStartOffset + 16
	}

	if keyBlockMeta.keyBlockNum <= 0 || keyBlockMeta.entriesNum < 0 {
		return fmt.Errorf("%w: implausible key block counts (%d blocks, %d entries) for '%s'",
			ErrFormat, keyBlockMeta.keyBlockNum, keyBlockMeta.entriesNum, mdict.filePath)
	}

	mdict.keyBlockMeta = keyBlockMeta

	return nil
}

func (mdict *MdictBase) readKeyBlockInfo() error {
	buffer, err := readFileFromPos(mdict.file, mdict.keyBlockMeta.keyBlockInfoStartOffset, mdict.keyBlockMeta.keyBlockInfoCompressedSize)
	if err != nil {
		return fmt.Errorf("failed to read key block info data for '%s': %w", mdict.filePath, err)
	}

	if err := mdict.decodeKeyBlockInfo(buffer); err != nil {
		return fmt.Errorf("failed to decode key block info for '%s': %w", mdict.filePath, err)
	}
	return nil
}

// decodeKeyBlockInfo decrypts (when flagged) and decompresses the key block
// info table, then walks its per-block records accumulating the prefix sums
// that become the canonical key-block offset table.
func (mdict *MdictBase) decodeKeyBlockInfo(data []byte) error {
	var table []byte

	if mdict.meta.version >= 2.0 {
		// v2 wraps the table in the marker+checksum envelope, optionally
		// scrambled by the key-info stream transform.
		if len(data) < 8 {
			return fmt.Errorf("%w: key block info of %d bytes is too short", ErrFormat, len(data))
		}
		buffer := data
		if mdict.meta.encryptType == EncryptKeyInfoEnc {
			decrypted, err := mdxDecrypt(data, mdict.keyBlockMeta.keyBlockInfoCompressedSize)
			if err != nil {
				return err
			}
			buffer = decrypted
		}

		decoded, err := decodeBlock(buffer, mdict.keyBlockMeta.keyBlockInfoDecompressSize)
		if err != nil {
			if mdict.meta.encryptType == EncryptKeyInfoEnc {
				// The envelope was intact but the decrypted body does not
				// decode: the derived key did not match the content.
				return fmt.Errorf("%w: key block info undecodable after decryption: %v", ErrCrypto, err)
			}
			return err
		}
		table = decoded
	} else {
		// v1 stores the table bare, no envelope.
		table = data
	}

	width := mdict.meta.numberWidth
	unit := 1
	if mdict.meta.encoding == EncodingUtf16 || mdict.fileType == MdictTypeMdd {
		unit = 2
	}
	// v2 appends a NUL terminator to each boundary key and widens the size
	// fields to u16; v1 writes u8 sizes and no terminator.
	textTerm := 0
	sizeWidth := 1
	if mdict.meta.version >= 2.0 {
		textTerm = 1
		sizeWidth = 2
	}

	keyBlockInfo := &mdictKeyBlockInfo{
		keyBlockInfoList: make([]mdictKeyBlockInfoItem, 0, mdict.keyBlockMeta.keyBlockNum),
	}

	var offset int
	var entriesCounter int64
	var compAccumulator, decompAccumulator int64

	readNumber := func() (int64, error) {
		if offset+width > len(table) {
			return 0, fmt.Errorf("%w: key block info truncated at offset %d", ErrFormat, offset)
		}
		v := beBinToNumber(table[offset:offset+width], width)
		offset += width
		return v, nil
	}
	readBoundaryKey := func() (string, error) {
		if offset+sizeWidth > len(table) {
			return "", fmt.Errorf("%w: key block info truncated at offset %d", ErrFormat, offset)
		}
		var keySize int
		if sizeWidth == 2 {
			keySize = int(beBinToU16(table[offset : offset+sizeWidth]))
		} else {
			keySize = int(beBinToU8(table[offset : offset+sizeWidth]))
		}
		offset += sizeWidth

		stepGap := (keySize + textTerm) * unit
		termSize := textTerm * unit
		if offset+stepGap > len(table) {
			return "", fmt.Errorf("%w: key block info boundary key overruns table", ErrFormat)
		}
		key, err := decodeText(table[offset:offset+stepGap-termSize], mdict.meta.encoding)
		if err != nil {
			return "", err
		}
		offset += stepGap
		return key, nil
	}

	for counter := int64(0); counter < mdict.keyBlockMeta.keyBlockNum; counter++ {
		currentEntries, err := readNumber()
		if err != nil {
			return err
		}
		entriesCounter += currentEntries

		firstKey, err := readBoundaryKey()
		if err != nil {
			return err
		}
		lastKey, err := readBoundaryKey()
		if err != nil {
			return err
		}

		compSize, err := readNumber()
		if err != nil {
			return err
		}
		decompSize, err := readNumber()
		if err != nil {
			return err
		}

		if n := len(keyBlockInfo.keyBlockInfoList); n > 0 &&
			strings.Compare(keyBlockInfo.keyBlockInfoList[n-1].firstKey, firstKey) > 0 {
			log.Warningf("Key block info for '%s' is not sorted at block %d (%q after %q)",
				mdict.filePath, counter, firstKey, keyBlockInfo.keyBlockInfoList[n-1].firstKey)
		}

		keyBlockInfo.keyBlockInfoList = append(keyBlockInfo.keyBlockInfoList, mdictKeyBlockInfoItem{
			firstKey:                      firstKey,
			lastKey:                       lastKey,
			keyBlockInfoIndex:             int(counter),
			keyBlockCompressSize:          compSize,
			keyBlockCompAccumulator:       compAccumulator,
			keyBlockDeCompressSize:        decompSize,
			keyBlockDeCompressAccumulator: decompAccumulator,
		})

		compAccumulator += compSize
		decompAccumulator += decompSize
	}
	keyBlockInfo.keyBlockEntriesStartOffset = mdict.keyBlockMeta.keyBlockInfoStartOffset + mdict.keyBlockMeta.keyBlockInfoCompressedSize

	if entriesCounter != mdict.keyBlockMeta.entriesNum {
		return fmt.Errorf("%w: key block info entry count %d does not match metadata %d",
			ErrFormat, entriesCounter, mdict.keyBlockMeta.entriesNum)
	}
	if compAccumulator != mdict.keyBlockMeta.keyBlockDataTotalSize {
		return fmt.Errorf("%w: key block data compressed size mismatch with metadata (%d/%d)",
			ErrFormat, compAccumulator, mdict.keyBlockMeta.keyBlockDataTotalSize)
	}

	mdict.keyBlockInfo = keyBlockInfo

	return nil
}

// decodeKeyBlockByID reads, decompresses and splits one key block on demand.
// Decoded blocks are served from the handle's LRU when hot.
func (mdict *MdictBase) decodeKeyBlockByID(id int64) ([]*MDictKeywordEntry, error) {
	if id < 0 || id >= int64(len(mdict.keyBlockInfo.keyBlockInfoList)) {
		return nil, fmt.Errorf("%w: key block id %d out of range", ErrFormat, id)
	}
	if cached := mdict.keyBlockCache.get(id); cached != nil {
		return cached.([]*MDictKeywordEntry), nil
	}

	infoItem := &mdict.keyBlockInfo.keyBlockInfoList[id]
	fileOffset := mdict.keyBlockInfo.keyBlockEntriesStartOffset + infoItem.keyBlockCompAccumulator

	buffer, err := readFileFromPos(mdict.file, fileOffset, infoItem.keyBlockCompressSize)
	if err != nil {
		return nil, err
	}
	keyBlock, err := decodeBlock(buffer, infoItem.keyBlockDeCompressSize)
	if err != nil {
		return nil, fmt.Errorf("key block %d undecodable: %w", id, err)
	}

	entries, err := mdict.splitKeyBlock(keyBlock)
	if err != nil {
		return nil, fmt.Errorf("key block %d: %w", id, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: key block %d contains no entries", ErrFormat, id)
	}
	if entries[0].KeyWord != infoItem.firstKey || entries[len(entries)-1].KeyWord != infoItem.lastKey {
		log.Warningf("Key block %d boundary keys disagree with info table for '%s' (%q..%q vs %q..%q)",
			id, mdict.filePath, entries[0].KeyWord, entries[len(entries)-1].KeyWord, infoItem.firstKey, infoItem.lastKey)
	}

	mdict.keyBlockCache.put(id, entries)

	return entries, nil
}

// splitKeyBlock cuts a decompressed key block into (record offset, key text)
// entries. Keys are NUL-terminated in the active encoding's code units.
func (mdict *MdictBase) splitKeyBlock(keyBlock []byte) ([]*MDictKeywordEntry, error) {
	width := terminatorWidth(mdict.meta.encoding)
	if mdict.fileType == MdictTypeMdd {
		width = 2
	}
	numberWidth := mdict.meta.numberWidth

	var keyList []*MDictKeywordEntry
	keyStartIndex := 0

	for keyStartIndex < len(keyBlock) {
		if keyStartIndex+numberWidth > len(keyBlock) {
			return nil, fmt.Errorf("%w: key entry header truncated at %d", ErrFormat, keyStartIndex)
		}
		recordStartOffset := beBinToNumber(keyBlock[keyStartIndex:keyStartIndex+numberWidth], numberWidth)

		keyEndIndex := scanKeyText(keyBlock, keyStartIndex+numberWidth, width)
		keyTextBytes := keyBlock[keyStartIndex+numberWidth : keyEndIndex]

		keyText, err := decodeText(keyTextBytes, mdict.meta.encoding)
		if err != nil {
			return nil, err
		}

		entry := &MDictKeywordEntry{
			RecordStartOffset: recordStartOffset,
			KeyWord:           keyText,
			KeyBlockIdx:       int64(len(keyList)),
		}
		if n := len(keyList); n > 0 {
			if keyList[n-1].RecordStartOffset > entry.RecordStartOffset {
				return nil, fmt.Errorf("%w: record offsets not monotonic (%d after %d)",
					ErrFormat, entry.RecordStartOffset, keyList[n-1].RecordStartOffset)
			}
			keyList[n-1].RecordEndOffset = entry.RecordStartOffset
		}
		keyList = append(keyList, entry)

		keyStartIndex = keyEndIndex + width
	}

	return keyList, nil
}

func (mdict *MdictBase) readRecordBlockMeta() error {
	recordBlockMetaBufferLen := int64(16)
	if mdict.meta.version >= 2.0 {
		recordBlockMetaBufferLen = 32
	}

	recordBlockStartOffset := mdict.keyBlockInfo.keyBlockEntriesStartOffset + mdict.keyBlockMeta.keyBlockDataTotalSize

	buffer, err := readFileFromPos(mdict.file, recordBlockStartOffset, recordBlockMetaBufferLen)
	if err != nil {
		return fmt.Errorf("failed to read record block metadata for '%s': %w", mdict.filePath, err)
	}

	if err := mdict.decodeRecordBlockMeta(buffer, recordBlockStartOffset, recordBlockStartOffset+recordBlockMetaBufferLen); err != nil {
		return fmt.Errorf("failed to decode record block metadata for '%s': %w", mdict.filePath, err)
	}
	return nil
}

// decodeRecordBlockMeta decodes the record section header:
// [record block num][total entries num][record info size][record data size],
// all in the active width.
func (mdict *MdictBase) decodeRecordBlockMeta(data []byte, startOffset, endOffset int64) error {
	recordBlockMeta := &mdictRecordBlockMeta{
		keyRecordMetaStartOffset: startOffset,
		keyRecordMetaEndOffset:   endOffset,
	}
	width := mdict.meta.numberWidth

	recordBlockMeta.recordBlockNum = beBinToNumber(data[0:width], width)
	recordBlockMeta.entriesNum = beBinToNumber(data[width:width*2], width)
	if recordBlockMeta.entriesNum != mdict.keyBlockMeta.entriesNum {
		return fmt.Errorf("%w: record block entries number %d does not match key block entries number %d",
			ErrFormat, recordBlockMeta.entriesNum, mdict.keyBlockMeta.entriesNum)
	}
	recordBlockMeta.recordBlockInfoCompSize = beBinToNumber(data[width*2:width*3], width)
	recordBlockMeta.recordBlockCompSize = beBinToNumber(data[width*3:width*4], width)

	if recordBlockMeta.recordBlockInfoCompSize != 2*int64(width)*recordBlockMeta.recordBlockNum {
		return fmt.Errorf("%w: record block info size %d inconsistent with %d blocks",
			ErrFormat, recordBlockMeta.recordBlockInfoCompSize, recordBlockMeta.recordBlockNum)
	}

	mdict.recordBlockMeta = recordBlockMeta
	return nil
}

func (mdict *MdictBase) readRecordBlockInfo() error {
	recordBlockInfoStartOffset := mdict.recordBlockMeta.keyRecordMetaEndOffset
	recordBlockInfoLen := mdict.recordBlockMeta.recordBlockInfoCompSize

	buffer, err := readFileFromPos(mdict.file, recordBlockInfoStartOffset, recordBlockInfoLen)
	if err != nil {
		return fmt.Errorf("failed to read record block info data for '%s': %w", mdict.filePath, err)
	}

	if err := mdict.decodeRecordBlockInfo(buffer, recordBlockInfoStartOffset, recordBlockInfoStartOffset+recordBlockInfoLen); err != nil {
		return fmt.Errorf("failed to decode record block info for '%s': %w", mdict.filePath, err)
	}
	return nil
}

// decodeRecordBlockInfo walks the (comp size, decomp size) pairs and builds
// the prefix sums used to turn a record-stream offset into a file offset.
func (mdict *MdictBase) decodeRecordBlockInfo(data []byte, startOffset, endOffset int64) error {
	width := mdict.meta.numberWidth
	recordBlockInfoList := make([]MdictRecordBlockInfoListItem, 0, mdict.recordBlockMeta.recordBlockNum)
	var offset int
	var compAccu, decompAccu int64

	for i := int64(0); i < mdict.recordBlockMeta.recordBlockNum; i++ {
		if offset+2*width > len(data) {
			return fmt.Errorf("%w: record block info truncated at offset %d", ErrFormat, offset)
		}
		compSize := beBinToNumber(data[offset:offset+width], width)
		offset += width
		decompSize := beBinToNumber(data[offset:offset+width], width)
		offset += width

		recordBlockInfoList = append(recordBlockInfoList, MdictRecordBlockInfoListItem{
			compressSize:                compSize,
			deCompressSize:              decompSize,
			compressAccumulatorOffset:   compAccu,
			deCompressAccumulatorOffset: decompAccu,
		})

		compAccu += compSize
		decompAccu += decompSize
	}

	if int64(offset) != mdict.recordBlockMeta.recordBlockInfoCompSize {
		return fmt.Errorf("%w: record block info decoded %d bytes, expected %d",
			ErrFormat, offset, mdict.recordBlockMeta.recordBlockInfoCompSize)
	}
	if compAccu != mdict.recordBlockMeta.recordBlockCompSize {
		return fmt.Errorf("%w: record block accumulated compressed size %d, metadata says %d",
			ErrFormat, compAccu, mdict.recordBlockMeta.recordBlockCompSize)
	}

	mdict.recordBlockInfo = &mdictRecordBlockInfo{
		recordInfoList:             recordBlockInfoList,
		recordBlockInfoStartOffset: startOffset,
		recordBlockInfoEndOffset:   endOffset,
		recordBlockDataStartOffset: endOffset,
	}

	return nil
}

func (mdict *MdictBase) buildRecordRangeTree() {
	mdict.rangeTreeRoot = new(recordBlockRangeTreeNode)
	buildRangeTree(mdict.recordBlockInfo.recordInfoList, mdict.rangeTreeRoot)
}

// findRecordBlockByOffset resolves the record block whose decompressed span
// covers a record-stream offset: range tree first, linear scan fallback.
func (mdict *MdictBase) findRecordBlockByOffset(offset int64) (*MdictRecordBlockInfoListItem, error) {
	if rbInfo := queryRangeData(mdict.rangeTreeRoot, offset); rbInfo != nil {
		return rbInfo, nil
	}

	for i := range mdict.recordBlockInfo.recordInfoList {
		rbi := &mdict.recordBlockInfo.recordInfoList[i]
		if offset >= rbi.deCompressAccumulatorOffset && offset < rbi.deCompressAccumulatorOffset+rbi.deCompressSize {
			return rbi, nil
		}
	}
	return nil, fmt.Errorf("%w: no record block covers offset %d", ErrFormat, offset)
}

// fetchRecordBlock reads and decodes one record block, serving repeats from
// the handle's LRU. Blocks are keyed by their compressed-stream offset.
func (mdict *MdictBase) fetchRecordBlock(rbInfo *MdictRecordBlockInfoListItem) ([]byte, error) {
	cacheID := rbInfo.compressAccumulatorOffset
	if cached := mdict.recordBlockCache.get(cacheID); cached != nil {
		return cached.([]byte), nil
	}

	fileOffset := mdict.recordBlockInfo.recordBlockDataStartOffset + rbInfo.compressAccumulatorOffset
	buffer, err := readFileFromPos(mdict.file, fileOffset, rbInfo.compressSize)
	if err != nil {
		return nil, err
	}

	if mdict.meta.encryptType == EncryptRecordEnc {
		decrypted, err := mdxDecrypt(buffer, rbInfo.compressSize)
		if err != nil {
			return nil, err
		}
		buffer = decrypted
	}

	recordBlock, err := decodeBlock(buffer, rbInfo.deCompressSize)
	if err != nil {
		return nil, fmt.Errorf("record block at %d undecodable: %w", fileOffset, err)
	}

	mdict.recordBlockCache.put(cacheID, recordBlock)

	return recordBlock, nil
}

// keywordEntryToIndex converts a keyword entry into the record block
// coordinates of its body.
func (mdict *MdictBase) keywordEntryToIndex(item *MDictKeywordEntry) (*MDictKeywordIndex, error) {
	rbInfo, err := mdict.findRecordBlockByOffset(item.RecordStartOffset)
	if err != nil {
		return nil, err
	}

	start := item.RecordStartOffset - rbInfo.deCompressAccumulatorOffset
	var end int64
	if item.RecordEndOffset == 0 {
		// Last entry of its key block with no successor resolved: the body
		// runs to the end of the owning record block.
		end = rbInfo.deCompressSize
	} else {
		end = item.RecordEndOffset - rbInfo.deCompressAccumulatorOffset
	}

	if start < 0 || start > rbInfo.deCompressSize || end < start || end > rbInfo.deCompressSize {
		return nil, fmt.Errorf("%w: record span [%d:%d] outside block of %d bytes",
			ErrFormat, start, end, rbInfo.deCompressSize)
	}

	return &MDictKeywordIndex{
		KeywordEntry: *item,
		RecordBlock: MDictKeywordIndexRecordBlock{
			DataStartOffset:          mdict.recordBlockInfo.recordBlockDataStartOffset + rbInfo.compressAccumulatorOffset,
			CompressSize:             rbInfo.compressSize,
			DeCompressSize:           rbInfo.deCompressSize,
			KeyWordPartStartOffset:   start,
			KeyWordPartDataEndOffset: end,
		},
	}, nil
}

// locateByKeywordEntry fetches and slices the payload of one keyword entry.
// MDX bodies are decoded to text and stripped of NUL padding; MDD payloads
// come back as raw bytes.
func (mdict *MdictBase) locateByKeywordEntry(item *MDictKeywordEntry) ([]byte, error) {
	rbInfo, err := mdict.findRecordBlockByOffset(item.RecordStartOffset)
	if err != nil {
		return nil, err
	}

	recordBlock, err := mdict.fetchRecordBlock(rbInfo)
	if err != nil {
		return nil, err
	}

	start := item.RecordStartOffset - rbInfo.deCompressAccumulatorOffset
	var end int64
	if item.RecordEndOffset == 0 {
		end = rbInfo.deCompressSize
	} else {
		end = item.RecordEndOffset - rbInfo.deCompressAccumulatorOffset
	}
	if start < 0 || end < start || end > int64(len(recordBlock)) {
		return nil, fmt.Errorf("%w: record span [%d:%d] outside decompressed block of %d bytes",
			ErrFormat, start, end, len(recordBlock))
	}

	data := recordBlock[start:end]

	if mdict.fileType == MdictTypeMdd {
		return data, nil
	}

	text, err := decodeText(data, mdict.meta.encoding)
	if err != nil {
		return nil, err
	}
	return []byte(trimTrailingNulls(text)), nil
}
