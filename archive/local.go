// Local-filesystem implementation of Client: each archive URL names a
// file on disk holding our ZIP-like container. This is the concrete
// backend the CLI (cmd/xrdec) and the seed-scenario tests exercise;
// production deployments would implement Client against a real async
// I/O runtime (spec.md §6 treats that runtime as an external
// collaborator and specifies only its contract).
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/pkg/xattr"

	"github.com/xrdec/xrdec/internal/xerrors"
)

// LocalClient implements Client by storing each archive as a plain
// file on the local filesystem, addressed by URL interpreted as a
// filesystem path.
type LocalClient struct{}

// NewLocalClient constructs a LocalClient.
func NewLocalClient() *LocalClient { return &LocalClient{} }

type pendingRecord struct {
	rec       CentralDirRecord
	lfhRaw    []byte
	payloadAt int64
}

// localHandle is the concrete Handle implementation for LocalClient.
type localHandle struct {
	mu sync.Mutex

	url  string
	path string
	flag OpenFlag

	file  *os.File
	open  bool
	stage OpenStage

	size int64 // current length of the data region (excludes CD/EOCD)
	cd   *CentralDirectory

	// appended tracks records written this session (AppendFile) plus
	// records already present when opened in Update mode, so Close can
	// rewrite a consistent CD. CRC/offset edits from WriteIntoFile
	// mutate entries here in place.
	appended []pendingRecord
}

func (h *localHandle) URL() string                      { return h.url }
func (h *localHandle) IsOpen() bool                      { h.mu.Lock(); defer h.mu.Unlock(); return h.open }
func (h *localHandle) Stage() OpenStage                  { h.mu.Lock(); defer h.mu.Unlock(); return h.stage }
func (h *localHandle) Size() int64                       { h.mu.Lock(); defer h.mu.Unlock(); return h.size }
func (h *localHandle) CentralDirectory() *CentralDirectory { h.mu.Lock(); defer h.mu.Unlock(); return h.cd }
func (h *localHandle) SetCentralDirectory(cd *CentralDirectory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cd = cd
	h.stage = StageDone
	h.appended = h.appended[:0]
	for _, r := range cd.Records {
		h.appended = append(h.appended, pendingRecord{rec: r, payloadAt: int64(r.LFHOffset) + lfhFixedSize + int64(len(r.Name))})
	}
}

// Open opens (or creates) the archive at url per flag, parsing its
// central directory unless flag is FlagWrite/FlagNew (a brand new,
// empty archive).
func (c *LocalClient) Open(_ context.Context, url string, flag OpenFlag, _ int) (Handle, error) {
	h := &localHandle{url: url, path: url, flag: flag}

	switch flag {
	case FlagWrite, FlagNew:
		f, err := os.Create(h.path)
		if err != nil {
			return nil, fmt.Errorf("archive: create %s: %w", url, err)
		}
		h.file = f
		h.open = true
		h.stage = StageDone
		h.cd = NewCentralDirectory(nil)
		return h, nil
	case FlagRead, FlagUpdate:
		mode := os.O_RDONLY
		if flag == FlagUpdate {
			mode = os.O_RDWR
		}
		f, err := os.OpenFile(h.path, mode, 0o644)
		if err != nil {
			return nil, fmt.Errorf("archive: open %s: %w: %w", url, err, xerrors.ErrNotFound)
		}
		h.file = f
		h.open = true
		if err := h.parse(); err != nil {
			h.stage = StageError
			return h, err
		}
		h.stage = StageDone
		return h, nil
	default:
		return nil, fmt.Errorf("archive: unknown open flag %d: %w", flag, xerrors.ErrInvalidArgs)
	}
}

// OpenOnly opens the file without parsing its central directory.
func (c *LocalClient) OpenOnly(_ context.Context, url string, update bool, _ int) (Handle, error) {
	mode := os.O_RDONLY
	if update {
		mode = os.O_RDWR
	}
	f, err := os.OpenFile(url, mode, 0o644)
	if err != nil {
		return nil, fmt.Errorf("archive: openonly %s: %w: %w", url, err, xerrors.ErrNotFound)
	}
	info, _ := f.Stat()
	return &localHandle{url: url, path: url, flag: FlagUpdate, file: f, open: true, stage: StageNotParsed, size: info.Size()}, nil
}

// parse reads the EOCD and central directory from an already-open file.
func (h *localHandle) parse() error {
	info, err := h.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		h.cd = NewCentralDirectory(nil)
		h.size = 0
		return nil
	}
	data := make([]byte, info.Size())
	if _, err := h.file.ReadAt(data, 0); err != nil && err != io.EOF {
		return fmt.Errorf("archive: reading %s: %w", h.url, err)
	}
	eocd, err := ParseEOCD(data)
	if err != nil {
		return err
	}
	if eocd.CDOffset+eocd.CDSize > uint64(len(data)) {
		return fmt.Errorf("archive: %s: central directory out of range: %w", h.url, xerrors.ErrCorruptedHeader)
	}
	cdBytes := data[eocd.CDOffset : eocd.CDOffset+eocd.CDSize]
	var records []CentralDirRecord
	h.appended = h.appended[:0]
	for len(cdBytes) > 0 {
		rec, n, err := ParseCentralDirRecord(cdBytes)
		if err != nil {
			return err
		}
		records = append(records, *rec)
		h.appended = append(h.appended, pendingRecord{rec: *rec, payloadAt: int64(rec.LFHOffset) + lfhFixedSize + int64(len(rec.Name))})
		cdBytes = cdBytes[n:]
	}
	h.cd = NewCentralDirectory(records)
	h.size = int64(eocd.CDOffset)
	return nil
}

// Close writes out the final central directory and EOCD, then closes
// the underlying file. A handle opened with FlagRead only has its file
// closed.
func (c *LocalClient) Close(_ context.Context, hh Handle, _ int) error {
	h := hh.(*localHandle)
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return nil
	}
	if h.flag == FlagRead {
		h.open = false
		return h.file.Close()
	}
	records := make([]CentralDirRecord, len(h.appended))
	for i, p := range h.appended {
		records[i] = p.rec
	}
	cdBuf := &bytes.Buffer{}
	for _, r := range records {
		cdBuf.Write(r.Marshal())
	}
	cdOffset := uint64(h.size)
	eocd := &EOCD{EntryCount: uint64(len(records)), CDSize: uint64(cdBuf.Len()), CDOffset: cdOffset}
	if _, err := h.file.WriteAt(cdBuf.Bytes(), int64(cdOffset)); err != nil {
		return fmt.Errorf("archive: writing central directory for %s: %w", h.url, err)
	}
	zip64Off := cdOffset + uint64(cdBuf.Len())
	eocdBuf := eocd.Marshal(zip64Off)
	if _, err := h.file.WriteAt(eocdBuf, int64(zip64Off)); err != nil {
		return fmt.Errorf("archive: writing EOCD for %s: %w", h.url, err)
	}
	h.cd = NewCentralDirectory(records)
	h.open = false
	return h.file.Close()
}

// Stat returns the uncompressed size of member name.
func (c *LocalClient) Stat(hh Handle, name string) (StatInfo, error) {
	h := hh.(*localHandle)
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.cd.Lookup(name)
	if i < 0 {
		return StatInfo{}, fmt.Errorf("archive: %s: %s: %w", h.url, name, xerrors.ErrNotFound)
	}
	return StatInfo{Size: int64(h.cd.Records[i].UncompressedSize)}, nil
}

func (h *localHandle) payloadOffset(i int) int64 {
	for _, p := range h.appended {
		if p.rec.Name == h.cd.Records[i].Name {
			return p.payloadAt
		}
	}
	return int64(h.cd.Records[i].LFHOffset) + lfhFixedSize + int64(len(h.cd.Records[i].Name))
}

// ReadFrom reads size bytes at offset within member name into buf.
func (c *LocalClient) ReadFrom(_ context.Context, hh Handle, name string, offset, size int64, buf []byte) (int, error) {
	h := hh.(*localHandle)
	h.mu.Lock()
	i := h.cd.Lookup(name)
	if i < 0 {
		h.mu.Unlock()
		return 0, fmt.Errorf("archive: %s: %s: %w", h.url, name, xerrors.ErrNotFound)
	}
	payloadAt := h.payloadOffset(i)
	h.mu.Unlock()
	n, err := h.file.ReadAt(buf[:size], payloadAt+offset)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("archive: reading %s/%s: %w", h.url, name, err)
	}
	return n, nil
}

// AppendFile appends a new member to the archive's data region.
func (c *LocalClient) AppendFile(_ context.Context, hh Handle, name string, crc uint32, size int64, buf []byte) error {
	h := hh.(*localHandle)
	h.mu.Lock()
	defer h.mu.Unlock()

	lfh := &LocalFileHeader{Method: storeMethod, CRC32: crc, CompressedSize: uint64(size), UncompressedSize: uint64(size), Name: name}
	raw := lfh.Marshal()
	at := h.size
	if _, err := h.file.WriteAt(raw, at); err != nil {
		return fmt.Errorf("archive: appending LFH for %s in %s: %w", name, h.url, err)
	}
	if _, err := h.file.WriteAt(buf[:size], at+int64(len(raw))); err != nil {
		return fmt.Errorf("archive: appending payload for %s in %s: %w", name, h.url, err)
	}
	rec := CentralDirRecord{Method: storeMethod, CRC32: crc, CompressedSize: uint64(size), UncompressedSize: uint64(size), Name: name, LFHOffset: uint64(at)}
	h.appended = append(h.appended, pendingRecord{rec: rec, payloadAt: at + int64(len(raw))})
	h.size = at + int64(len(raw)) + size
	var records []CentralDirRecord
	for _, p := range h.appended {
		records = append(records, p.rec)
	}
	h.cd = NewCentralDirectory(records)
	return nil
}

// WriteIntoFile overwrites size bytes at offset within member name's
// existing payload, in place, without touching its LFH or moving any
// other member — the repair in-place overwrite path of spec.md §4.8 /
// §9's open question about archive clients supporting overwrite.
func (c *LocalClient) WriteIntoFile(_ context.Context, hh Handle, name string, offset, size int64, crc uint32, buf []byte) error {
	h := hh.(*localHandle)
	h.mu.Lock()
	i := h.cd.Lookup(name)
	if i < 0 {
		h.mu.Unlock()
		return fmt.Errorf("archive: %s: %s: %w", h.url, name, xerrors.ErrNotFound)
	}
	payloadAt := h.payloadOffset(i)
	for idx := range h.appended {
		if h.appended[idx].rec.Name == name {
			h.appended[idx].rec.CRC32 = crc
		}
	}
	h.cd.Records[i].CRC32 = crc
	h.mu.Unlock()
	if _, err := h.file.WriteAt(buf[:size], payloadAt+offset); err != nil {
		return fmt.Errorf("archive: overwriting %s/%s: %w", h.url, name, err)
	}
	return nil
}

// VectorRead reads every requested chunk against the archive's raw
// byte stream (chunk offsets are absolute within the container file,
// as returned by GetOffset), matching the XrdCl VectorRead primitive
// spec.md §6 describes.
func (c *LocalClient) VectorRead(_ context.Context, hh Handle, chunks []VectorChunk, _ int) (*VectorReadInfo, error) {
	h := hh.(*localHandle)
	info := &VectorReadInfo{BytesRead: make([]int, len(chunks)), Errs: make([]error, len(chunks))}
	for i, ch := range chunks {
		n, err := h.file.ReadAt(ch.Buf[:ch.Size], ch.Offset)
		if err != nil && err != io.EOF {
			info.Errs[i] = err
			continue
		}
		info.BytesRead[i] = n
	}
	return info, nil
}

const xattrPrefix = "user."

// GetXAttr reads extended attribute name from the archive file.
func (c *LocalClient) GetXAttr(_ context.Context, hh Handle, name string) ([]byte, error) {
	h := hh.(*localHandle)
	v, err := xattr.Get(h.path, xattrPrefix+name)
	if err != nil {
		return nil, fmt.Errorf("archive: getxattr %s on %s: %w", name, h.url, err)
	}
	return v, nil
}

// SetXAttr writes the given name/value pairs as extended attributes on
// the archive file.
func (c *LocalClient) SetXAttr(_ context.Context, hh Handle, pairs map[string][]byte) error {
	h := hh.(*localHandle)
	for k, v := range pairs {
		if err := xattr.Set(h.path, xattrPrefix+k, v); err != nil {
			return fmt.Errorf("archive: setxattr %s on %s: %w", k, h.url, err)
		}
	}
	return nil
}

// ListXAttr lists extended attribute names on the archive file.
func (c *LocalClient) ListXAttr(_ context.Context, hh Handle) ([]string, error) {
	h := hh.(*localHandle)
	names, err := xattr.List(h.path)
	if err != nil {
		return nil, fmt.Errorf("archive: listxattr on %s: %w", h.url, err)
	}
	out := names[:0]
	for _, n := range names {
		if len(n) > len(xattrPrefix) && n[:len(xattrPrefix)] == xattrPrefix {
			out = append(out, n[len(xattrPrefix):])
		}
	}
	return out, nil
}

// GetCRC32 returns the central-directory CRC32 for member name.
func (c *LocalClient) GetCRC32(hh Handle, name string) (uint32, bool) {
	h := hh.(*localHandle)
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.cd.Lookup(name)
	if i < 0 {
		return 0, false
	}
	return h.cd.Records[i].CRC32, true
}

// GetOffset returns the absolute payload offset for member name.
func (c *LocalClient) GetOffset(hh Handle, name string) (uint64, bool) {
	h := hh.(*localHandle)
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.cd.Lookup(name)
	if i < 0 {
		return 0, false
	}
	return uint64(h.payloadOffset(i)), true
}

// FormatUint64 is a small helper used by repair/stream for xattr values
// (decimal ASCII per spec.md §6).
func FormatUint64(v uint64) []byte { return []byte(strconv.FormatUint(v, 10)) }

// ParseUint64 parses a decimal-ASCII xattr value.
func ParseUint64(b []byte) (uint64, error) { return strconv.ParseUint(string(b), 10, 64) }
