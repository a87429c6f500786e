package mdict

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// MdictAccessor is a simplified, serializable view of a dictionary handle.
// Given a previously computed MDictKeywordIndex it can re-fetch a payload
// without re-initializing the indices, which makes it suitable for handing
// to another process.
type MdictAccessor struct {
	Filepath          string `json:"filepath"`
	IsRecordEncrypted bool   `json:"is_record_encrypted"`
	IsMDD             bool   `json:"is_mdd"`
	IsUTF16           bool   `json:"is_utf_16"`
}

// NewAccessor creates a new MdictAccessor from an initialized Mdict.
func NewAccessor(mdict *Mdict) *MdictAccessor {
	return &MdictAccessor{
		Filepath:          mdict.filePath,
		IsRecordEncrypted: mdict.meta.encryptType == EncryptRecordEnc,
		IsMDD:             mdict.fileType == MdictTypeMdd,
		IsUTF16:           mdict.meta.encoding == EncodingUtf16,
	}
}

// NewAccessorFromJSON creates a new MdictAccessor from its JSON form.
func NewAccessorFromJSON(data []byte) (*MdictAccessor, error) {
	mdi := new(MdictAccessor)
	err := json.Unmarshal(data, mdi)
	return mdi, err
}

// Serialize converts the MdictAccessor to its JSON representation.
func (mdi *MdictAccessor) Serialize() ([]byte, error) {
	return json.Marshal(mdi)
}

// RetrieveDefByIndex retrieves a payload by its keyword index.
func (mdi *MdictAccessor) RetrieveDefByIndex(index *MDictKeywordIndex) ([]byte, error) {
	file, err := os.Open(mdi.Filepath)
	if err != nil {
		return nil, fmt.Errorf("%w: open '%s': %v", ErrIo, mdi.Filepath, err)
	}
	defer file.Close()

	encoding := EncodingUtf8
	if mdi.IsUTF16 {
		encoding = EncodingUtf16
	}
	return extractIndexPayload(file, index, mdi.IsRecordEncrypted, mdi.IsMDD, encoding)
}

// LocateByKeywordIndex locates and returns the payload for a keyword index
// on an initialized handle.
func (mdict *Mdict) LocateByKeywordIndex(index *MDictKeywordIndex) ([]byte, error) {
	if err := mdict.requireInitialized(); err != nil {
		return nil, err
	}
	if index == nil {
		return nil, fmt.Errorf("%w: nil keyword index", ErrFormat)
	}
	return extractIndexPayload(mdict.file, index,
		mdict.meta.encryptType == EncryptRecordEnc,
		mdict.fileType == MdictTypeMdd,
		mdict.meta.encoding)
}

// extractIndexPayload fetches the record block an index points into and
// slices out the keyword's span, decoding MDX text the usual way.
func extractIndexPayload(r io.ReaderAt, index *MDictKeywordIndex, isRecordEncrypted, isMdd bool, encoding int) ([]byte, error) {
	buffer, err := readFileFromPos(r, index.RecordBlock.DataStartOffset, index.RecordBlock.CompressSize)
	if err != nil {
		return nil, err
	}

	if isRecordEncrypted {
		decrypted, err := mdxDecrypt(buffer, index.RecordBlock.CompressSize)
		if err != nil {
			return nil, err
		}
		buffer = decrypted
	}

	recordBlock, err := decodeBlock(buffer, index.RecordBlock.DeCompressSize)
	if err != nil {
		return nil, err
	}

	start := index.RecordBlock.KeyWordPartStartOffset
	end := index.RecordBlock.KeyWordPartDataEndOffset
	if start < 0 || end < start || end > int64(len(recordBlock)) {
		return nil, fmt.Errorf("%w: keyword span [%d:%d] outside decompressed block of %d bytes",
			ErrFormat, start, end, len(recordBlock))
	}
	data := recordBlock[start:end]

	if isMdd {
		return data, nil
	}

	text, err := decodeText(data, encoding)
	if err != nil {
		return nil, err
	}
	return []byte(trimTrailingNulls(text)), nil
}
