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
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("default")

// recordSeparator joins the bodies when several entries share a headword.
const recordSeparator = "\n"

// Mdict is a single-owner handle over an mdx/mdd dictionary file.
// Construct with New or NewWithAffix, call Init once, then drive lookups
// serially. The handle is not safe for concurrent use; open independent
// handles for parallel readers.
type Mdict struct {
	*MdictBase

	affPath string
	dicPath string
	stemmer Stemmer
}

// New opens a dictionary file. The type (MDX or MDD) is inferred from the
// filename suffix. The returned handle holds the file open until Close.
func New(filename string) (*Mdict, error) {
	dictType := MdictTypeMdx
	if strings.ToLower(filepath.Ext(filename)) == ".mdd" {
		dictType = MdictTypeMdd
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: open '%s': %v", ErrIo, filename, err)
	}

	return &Mdict{
		MdictBase: &MdictBase{
			filePath:         filename,
			fileType:         dictType,
			file:             file,
			state:            stateOpened,
			keyBlockCache:    newBlockCache(defaultBlockCacheSize),
			recordBlockCache: newBlockCache(defaultBlockCacheSize),
		},
	}, nil
}

// NewWithAffix opens a dictionary together with the affix and dictionary
// file paths of an external stemmer. The paths are opaque tokens handed to
// whatever Stemmer the caller installs with SetStemmer.
func NewWithAffix(filename, affPath, dicPath string) (*Mdict, error) {
	mdict, err := New(filename)
	if err != nil {
		return nil, err
	}
	mdict.affPath = affPath
	mdict.dicPath = dicPath
	return mdict, nil
}

// SetStemmer installs the external affix collaborator. Passing nil disables
// stemming again.
func (mdict *Mdict) SetStemmer(s Stemmer) {
	mdict.stemmer = s
}

// AffixPaths returns the affix and dictionary file paths given to
// NewWithAffix, for the stemmer implementation to load.
func (mdict *Mdict) AffixPaths() (aff string, dic string) {
	return mdict.affPath, mdict.dicPath
}

// Init parses the header and both info indices. It must be called exactly
// once before any lookup. Any error here poisons the handle: the file is
// released and the handle behaves as closed.
func (mdict *Mdict) Init() error {
	if mdict.state != stateOpened {
		return fmt.Errorf("%w: Init on a handle that is not freshly opened", ErrState)
	}

	if err := mdict.initIndexes(); err != nil {
		mdict.poison()
		return err
	}

	mdict.state = stateInitialized
	return nil
}

func (mdict *Mdict) initIndexes() error {
	if err := mdict.readDictHeader(); err != nil {
		return err
	}
	if err := mdict.readKeyBlockMeta(); err != nil {
		return err
	}
	if err := mdict.readKeyBlockInfo(); err != nil {
		return err
	}
	if err := mdict.readRecordBlockMeta(); err != nil {
		return err
	}
	if err := mdict.readRecordBlockInfo(); err != nil {
		return err
	}
	mdict.buildRecordRangeTree()
	return nil
}

// poison releases the file and moves the handle to its terminal state.
func (mdict *Mdict) poison() {
	if mdict.file != nil {
		_ = mdict.file.Close()
		mdict.file = nil
	}
	mdict.state = stateClosed
}

// Close releases the underlying file. Closed is terminal; Close is
// idempotent.
func (mdict *Mdict) Close() error {
	if mdict.state == stateClosed {
		return nil
	}
	var err error
	if mdict.file != nil {
		err = mdict.file.Close()
		mdict.file = nil
	}
	mdict.state = stateClosed
	return err
}

func (mdict *Mdict) requireInitialized() error {
	if mdict.state != stateInitialized {
		return fmt.Errorf("%w: dictionary is not initialized", ErrState)
	}
	return nil
}

// foldKey normalizes a key for comparison: trimmed and ASCII-case-folded
// for textual dictionaries, byte identity for MDD resource names.
func (mdict *Mdict) foldKey(word string) string {
	if mdict.fileType == MdictTypeMdd {
		return word
	}
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, strings.TrimSpace(word))
}

// candidateBlockID returns the first key block whose folded last key is not
// below the folded word, which is where a match must start if it exists.
func (mdict *Mdict) candidateBlockID(folded string) int {
	list := mdict.keyBlockInfo.keyBlockInfoList
	return sort.Search(len(list), func(i int) bool {
		return mdict.foldKey(list[i].lastKey) >= folded
	})
}

// resolveEntryEnd returns the entry with its RecordEndOffset filled in.
// The last entry of a block cannot know its end until the next block's
// first offset is seen, so that block is peeked (cache-served) on demand.
func (mdict *Mdict) resolveEntryEnd(blockID int64, entries []*MDictKeywordEntry, idx int) (*MDictKeywordEntry, error) {
	entry := entries[idx]
	if entry.RecordEndOffset != 0 || idx != len(entries)-1 {
		return entry, nil
	}
	if blockID+1 >= int64(len(mdict.keyBlockInfo.keyBlockInfoList)) {
		// Last entry of the dictionary: the body runs to the end of its
		// record block, which locateByKeywordEntry infers from a zero end.
		return entry, nil
	}
	next, err := mdict.decodeKeyBlockByID(blockID + 1)
	if err != nil {
		return nil, err
	}
	resolved := *entry
	resolved.RecordEndOffset = next[0].RecordStartOffset
	return &resolved, nil
}

// Lookup finds the definition for a word. The key-block-info table is
// binary-searched for the candidate block, only that block (and any
// following block whose first key does not pass the word, for a headword
// that continues across a block boundary) is decoded, and every entry whose
// folded key matches contributes its body. Bodies are joined with a single
// separator when a headword occurs more than once.
func (mdict *Mdict) Lookup(word string) ([]byte, error) {
	if err := mdict.requireInitialized(); err != nil {
		return nil, err
	}

	folded := mdict.foldKey(word)
	list := mdict.keyBlockInfo.keyBlockInfoList

	var bodies [][]byte
	for id := mdict.candidateBlockID(folded); id < len(list); id++ {
		if mdict.foldKey(list[id].firstKey) > folded {
			break
		}
		entries, err := mdict.decodeKeyBlockByID(int64(id))
		if err != nil {
			return nil, err
		}
		for idx, entry := range entries {
			if mdict.foldKey(entry.KeyWord) != folded {
				continue
			}
			resolved, err := mdict.resolveEntryEnd(int64(id), entries, idx)
			if err != nil {
				return nil, err
			}
			body, err := mdict.locateByKeywordEntry(resolved)
			if err != nil {
				return nil, err
			}
			bodies = append(bodies, body)
		}
	}

	if len(bodies) == 0 {
		return nil, fmt.Errorf("%w: (%s)", ErrWordNotFound, word)
	}
	log.Debugf("mdict.Lookup hit %d entries for key (%s)", len(bodies), word)
	return bytes.Join(bodies, []byte(recordSeparator)), nil
}

// Contains reports whether the key exists, without decoding its body. Keys
// are compared the same way as in Lookup.
func (mdict *Mdict) Contains(word []byte) (bool, error) {
	if err := mdict.requireInitialized(); err != nil {
		return false, err
	}

	folded := mdict.foldKey(string(word))
	list := mdict.keyBlockInfo.keyBlockInfoList
	for id := mdict.candidateBlockID(folded); id < len(list); id++ {
		if mdict.foldKey(list[id].firstKey) > folded {
			break
		}
		entries, err := mdict.decodeKeyBlockByID(int64(id))
		if err != nil {
			return false, err
		}
		for _, entry := range entries {
			if mdict.foldKey(entry.KeyWord) == folded {
				return true, nil
			}
		}
	}
	return false, nil
}

// Locate fetches an MDD resource by name and re-encodes the raw payload as
// base64 (RFC 4648, no line breaks) or lowercase hex. Resource names are
// compared byte-identically.
func (mdict *Mdict) Locate(resourceName string, enc ResourceEncoding) (string, error) {
	if err := mdict.requireInitialized(); err != nil {
		return "", err
	}

	folded := mdict.foldKey(resourceName)
	list := mdict.keyBlockInfo.keyBlockInfoList
	for id := mdict.candidateBlockID(folded); id < len(list); id++ {
		if mdict.foldKey(list[id].firstKey) > folded {
			break
		}
		entries, err := mdict.decodeKeyBlockByID(int64(id))
		if err != nil {
			return "", err
		}
		for idx, entry := range entries {
			if mdict.foldKey(entry.KeyWord) != folded {
				continue
			}
			resolved, err := mdict.resolveEntryEnd(int64(id), entries, idx)
			if err != nil {
				return "", err
			}
			payload, err := mdict.locateByKeywordEntry(resolved)
			if err != nil {
				return "", err
			}
			switch enc {
			case ResourceHex:
				return hex.EncodeToString(payload), nil
			default:
				return base64.StdEncoding.EncodeToString(payload), nil
			}
		}
	}
	return "", fmt.Errorf("%w: (%s)", ErrWordNotFound, resourceName)
}

// Suggest returns, in the dictionary's native order, every key starting
// with the given prefix. The empty prefix enumerates all keys.
func (mdict *Mdict) Suggest(prefix string) ([]string, error) {
	if err := mdict.requireInitialized(); err != nil {
		return nil, err
	}

	folded := mdict.foldKey(prefix)
	list := mdict.keyBlockInfo.keyBlockInfoList

	var result []string
	for id := mdict.candidateBlockID(folded); id < len(list); id++ {
		first := mdict.foldKey(list[id].firstKey)
		if first > folded && !strings.HasPrefix(first, folded) {
			break
		}
		entries, err := mdict.decodeKeyBlockByID(int64(id))
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if strings.HasPrefix(mdict.foldKey(entry.KeyWord), folded) {
				result = append(result, entry.KeyWord)
			}
		}
	}
	return result, nil
}

// Stem delegates to the external affix collaborator; with none configured
// it returns an empty list.
func (mdict *Mdict) Stem(word string) ([]string, error) {
	if err := mdict.requireInitialized(); err != nil {
		return nil, err
	}
	if mdict.stemmer == nil {
		return nil, nil
	}
	return mdict.stemmer.Stem(word), nil
}

// KeyIterator enumerates all (record offset, key text) entries lazily,
// block by block, in the dictionary's native order. A fresh iterator is
// restartable from KeyIter; an exhausted one keeps returning false.
type KeyIterator struct {
	mdict   *Mdict
	blockID int64
	index   int
	entries []*MDictKeywordEntry
	err     error
}

// KeyIter starts a lazy enumeration of all keyword entries.
func (mdict *Mdict) KeyIter() (*KeyIterator, error) {
	if err := mdict.requireInitialized(); err != nil {
		return nil, err
	}
	return &KeyIterator{mdict: mdict}, nil
}

// Next returns the next keyword entry, or false once the iteration is done.
// A decoding failure ends the iteration; inspect Err afterwards.
func (it *KeyIterator) Next() (*MDictKeywordEntry, bool) {
	for it.err == nil {
		if it.entries == nil {
			if it.blockID >= it.mdict.keyBlockMeta.keyBlockNum {
				return nil, false
			}
			entries, err := it.mdict.decodeKeyBlockByID(it.blockID)
			if err != nil {
				it.err = err
				return nil, false
			}
			it.entries = entries
			it.index = 0
		}
		if it.index < len(it.entries) {
			entry := it.entries[it.index]
			it.index++
			return entry, true
		}
		it.entries = nil
		it.blockID++
	}
	return nil, false
}

// Err reports the error that terminated the iteration early, if any.
func (it *KeyIterator) Err() error {
	return it.err
}

// KeyList materializes every keyword entry. It is built on the lazy
// iterator, so open stays cheap for callers that never enumerate.
func (mdict *Mdict) KeyList() ([]*MDictKeywordEntry, error) {
	it, err := mdict.KeyIter()
	if err != nil {
		return nil, err
	}
	entries := make([]*MDictKeywordEntry, 0, mdict.keyBlockMeta.entriesNum)
	for entry, ok := it.Next(); ok; entry, ok = it.Next() {
		entries = append(entries, entry)
	}
	if it.Err() != nil {
		return nil, it.Err()
	}
	return entries, nil
}

// KeywordEntryToIndex converts a keyword entry to a detailed keyword index.
func (mdict *Mdict) KeywordEntryToIndex(item *MDictKeywordEntry) (*MDictKeywordIndex, error) {
	if err := mdict.requireInitialized(); err != nil {
		return nil, err
	}
	return mdict.keywordEntryToIndex(item)
}

// LocateByKeywordEntry locates and returns the payload for a keyword entry.
func (mdict *Mdict) LocateByKeywordEntry(entry *MDictKeywordEntry) ([]byte, error) {
	if err := mdict.requireInitialized(); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: nil keyword entry", ErrFormat)
	}
	return mdict.locateByKeywordEntry(entry)
}

// Name returns the name of the dictionary, the filename without extension.
func (mdict *Mdict) Name() string {
	_, rawpath := filepath.Split(mdict.filePath)
	rawpath = strings.TrimSuffix(rawpath, ".mdx")
	rawpath = strings.TrimSuffix(rawpath, ".mdd")
	return rawpath
}

// Title returns the title of the dictionary.
func (mdict *Mdict) Title() string {
	return mdict.meta.title
}

// Description returns the description of the dictionary.
func (mdict *Mdict) Description() string {
	return mdict.meta.description
}

// GeneratedByEngineVersion returns the engine version that generated the
// dictionary.
func (mdict *Mdict) GeneratedByEngineVersion() string {
	return mdict.meta.generatedByEngineVersion
}

// CreationDate returns the creation date of the dictionary.
func (mdict *Mdict) CreationDate() string {
	return mdict.meta.creationDate
}

// Version returns the wire version of the dictionary.
func (mdict *Mdict) Version() string {
	return fmt.Sprintf("%.1f", mdict.meta.version)
}

// EntriesNum returns the total number of keyword entries.
func (mdict *Mdict) EntriesNum() int64 {
	return mdict.keyBlockMeta.entriesNum
}

// IsMDD checks if the dictionary is an MDD file.
func (mdict *Mdict) IsMDD() bool {
	return mdict.fileType == MdictTypeMdd
}

// IsRecordEncrypted checks if the dictionary's record blocks are encrypted.
func (mdict *Mdict) IsRecordEncrypted() bool {
	return mdict.meta.encryptType == EncryptRecordEnc
}

// IsUTF16 checks if the dictionary's encoding is UTF-16.
func (mdict *Mdict) IsUTF16() bool {
	return mdict.meta.encoding == EncodingUtf16
}
