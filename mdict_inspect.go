package mdict

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/rodaine/table"
)

// Describe writes a human-readable summary of an initialized dictionary:
// the interesting header fields followed by per-key-block statistics.
// Intended for debugging dictionaries that fail to parse elsewhere.
func (mdict *Mdict) Describe(w io.Writer) error {
	if err := mdict.requireInitialized(); err != nil {
		return err
	}

	headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
	columnFmt := color.New(color.FgYellow).SprintfFunc()

	fileType := "MDX"
	if mdict.IsMDD() {
		fileType = "MDD"
	}

	meta := table.New("Field", "Value").
		WithWriter(w).
		WithHeaderFormatter(headerFmt).
		WithFirstColumnFormatter(columnFmt)
	meta.AddRow("Name", mdict.Name())
	meta.AddRow("Type", fileType)
	meta.AddRow("Title", mdict.Title())
	meta.AddRow("Engine version", mdict.GeneratedByEngineVersion())
	meta.AddRow("Creation date", mdict.CreationDate())
	meta.AddRow("Encrypted", mdict.meta.encryptType)
	meta.AddRow("Encoding", mdict.meta.encoding)
	meta.AddRow("Entries", mdict.keyBlockMeta.entriesNum)
	meta.AddRow("Key blocks", mdict.keyBlockMeta.keyBlockNum)
	meta.AddRow("Record blocks", mdict.recordBlockMeta.recordBlockNum)
	meta.Print()

	fmt.Fprintln(w)

	blocks := table.New("Block", "First key", "Last key", "Comp", "Decomp").
		WithWriter(w).
		WithHeaderFormatter(headerFmt).
		WithFirstColumnFormatter(columnFmt)
	for i := range mdict.keyBlockInfo.keyBlockInfoList {
		item := &mdict.keyBlockInfo.keyBlockInfoList[i]
		blocks.AddRow(item.keyBlockInfoIndex, item.firstKey, item.lastKey,
			item.keyBlockCompressSize, item.keyBlockDeCompressSize)
	}
	blocks.Print()

	return nil
}
