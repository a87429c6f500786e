package mdict

import (
	"bytes"
	"errors"
	"io/fs"
	"path"
	"strings"
	"time"
)

// MdictFS exposes an initialized dictionary as a read-only fs.FS: MDX
// headwords and MDD resource paths become file names, definitions and
// resource payloads become file contents. Useful for serving a dictionary
// over an HTTP file server.
type MdictFS struct {
	mdict *Mdict
}

// NewMdictFS wraps an initialized Mdict.
func NewMdictFS(mdict *Mdict) *MdictFS {
	if mdict == nil {
		panic("MdictFS: Mdict instance cannot be nil")
	}
	return &MdictFS{mdict: mdict}
}

var _ fs.FS = (*MdictFS)(nil)
var _ fs.File = (*mdictFile)(nil)
var _ fs.ReadDirFile = (*mdictFile)(nil)

// Open opens a headword or an MDD resource as a file. MDD resource names
// use backslash separators on disk; slash-separated names are normalized.
func (mfs *MdictFS) Open(name string) (fs.File, error) {
	if name == "." || name == "" || strings.HasSuffix(name, "/") {
		return &mdictFile{
			fs:       mfs,
			name:     ".",
			isDir:    true,
			fileInfo: &mdictFileInfo{name: ".", isDir: true, modTime: mfs.modTime()},
		}, nil
	}

	content, err := mfs.content(name)
	if err != nil {
		if errors.Is(err, ErrWordNotFound) {
			return nil, fs.ErrNotExist
		}
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if len(content) == 0 {
		return nil, fs.ErrNotExist
	}

	info := &mdictFileInfo{
		name:    path.Base(name),
		size:    int64(len(content)),
		modTime: mfs.modTime(),
	}
	return &mdictFile{
		fs:       mfs,
		name:     name,
		content:  content,
		reader:   bytes.NewReader(content),
		fileInfo: info,
	}, nil
}

func (mfs *MdictFS) content(name string) ([]byte, error) {
	if !mfs.mdict.IsMDD() {
		return mfs.mdict.Lookup(name)
	}

	resource := strings.ReplaceAll(name, "/", "\\")
	if !strings.HasPrefix(resource, "\\") {
		resource = "\\" + resource
	}
	entries, err := mfs.mdict.KeyList()
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if strings.EqualFold(entry.KeyWord, resource) {
			return mfs.mdict.LocateByKeywordEntry(entry)
		}
	}
	return nil, ErrWordNotFound
}

func (mfs *MdictFS) modTime() time.Time {
	if created := mfs.mdict.meta.creationDate; created != "" {
		for _, layout := range []string{"2006-01-02", "2006.01.02 15:04:05", "2006-1-2"} {
			if t, err := time.Parse(layout, created); err == nil {
				return t
			}
		}
	}
	return time.Now()
}

// mdictFile implements fs.File over an in-memory payload.
type mdictFile struct {
	fs       *MdictFS
	name     string
	isDir    bool
	reader   *bytes.Reader
	content  []byte
	fileInfo fs.FileInfo
}

func (mf *mdictFile) Stat() (fs.FileInfo, error) {
	return mf.fileInfo, nil
}

func (mf *mdictFile) Read(b []byte) (int, error) {
	if mf.isDir {
		return 0, &fs.PathError{Op: "read", Path: mf.name, Err: errors.New("is a directory")}
	}
	if mf.reader == nil {
		return 0, &fs.PathError{Op: "read", Path: mf.name, Err: fs.ErrClosed}
	}
	return mf.reader.Read(b)
}

func (mf *mdictFile) Seek(offset int64, whence int) (int64, error) {
	if mf.isDir {
		return 0, &fs.PathError{Op: "seek", Path: mf.name, Err: errors.New("is a directory")}
	}
	if mf.reader == nil {
		return 0, &fs.PathError{Op: "seek", Path: mf.name, Err: fs.ErrClosed}
	}
	return mf.reader.Seek(offset, whence)
}

func (mf *mdictFile) Close() error {
	mf.reader = nil
	mf.content = nil
	return nil
}

// ReadDir lists every key of the dictionary as a root directory entry.
func (mf *mdictFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if !mf.isDir || mf.name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: mf.name, Err: errors.New("not a directory")}
	}

	it, err := mf.fs.mdict.KeyIter()
	if err != nil {
		return nil, err
	}

	modTime := mf.fs.modTime()
	var entries []fs.DirEntry
	for entry, ok := it.Next(); ok; entry, ok = it.Next() {
		entryName := entry.KeyWord
		if mf.fs.mdict.IsMDD() {
			entryName = strings.TrimLeft(strings.ReplaceAll(entryName, "\\", "/"), "/")
		}
		entries = append(entries, &mdictFileInfo{
			name:    path.Base(entryName),
			modTime: modTime,
		})
		if n > 0 && len(entries) == n {
			return entries, nil
		}
	}
	return entries, it.Err()
}

// mdictFileInfo implements fs.FileInfo and fs.DirEntry.
type mdictFileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

func (mfi *mdictFileInfo) Name() string       { return mfi.name }
func (mfi *mdictFileInfo) Size() int64        { return mfi.size }
func (mfi *mdictFileInfo) IsDir() bool        { return mfi.isDir }
func (mfi *mdictFileInfo) ModTime() time.Time { return mfi.modTime }
func (mfi *mdictFileInfo) Sys() interface{}   { return nil }

func (mfi *mdictFileInfo) Info() (fs.FileInfo, error) { return mfi, nil }
func (mfi *mdictFileInfo) Type() fs.FileMode          { return mfi.Mode().Type() }

func (mfi *mdictFileInfo) Mode() fs.FileMode {
	if mfi.isDir {
		return fs.ModeDir | 0555
	}
	return 0444
}

// MimeTypeFor maps a resource filename extension to a MIME type, defaulting
// to application/octet-stream.
func MimeTypeFor(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if mime, ok := mimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

var mimeTypes = map[string]string{
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
	"ico":   "image/x-icon",
	"webp":  "image/webp",
	"svg":   "image/svg+xml",
	"mp3":   "audio/mpeg",
	"mp4":   "video/mp4",
	"wav":   "audio/wav",
	"m4a":   "audio/m4a",
	"m4v":   "video/m4v",
	"m4b":   "audio/m4b",
	"spx":   "audio/ogg",
	"js":    "application/javascript",
	"css":   "text/css",
	"html":  "text/html",
	"txt":   "text/plain",
	"ttf":   "font/ttf",
	"otf":   "font/otf",
	"woff":  "font/woff",
	"woff2": "font/woff2",
}
