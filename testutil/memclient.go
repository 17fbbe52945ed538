// Package testutil provides a fully in-process archive.Client fake and
// small object-building helpers so every package's tests exercise the
// real wire format (the ZIP-like LFH/CDFH/EOCD codec) without touching
// a real filesystem. Grounded on the teacher's in-memory fstest mock
// pattern (rclone's fstest/mockfs, not copied into _teacher_ref but the
// same "map-backed Fs" idiom every rclone backend test relies on).
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/xrdec/xrdec/archive"
	"github.com/xrdec/xrdec/internal/xerrors"
)

type memMember struct {
	data      []byte
	crc       uint32
	lfhOffset int64 // offset of this member's local file header in archive.buf
}

type memArchive struct {
	mu      sync.Mutex
	members map[string]*memMember
	order   []string
	xattrs  map[string][]byte
	buf     []byte // container bytes (LFH+payload per member, in order), rebuilt on every mutation
}

// memberHeader builds the local file header a well-formed member would
// carry, so patchPayload/rebuildCD can size and place payload bytes
// consistently with what repair's CD-vs-LFH check expects to find.
func memberHeader(name string, m *memMember) archive.LocalFileHeader {
	return archive.LocalFileHeader{
		VersionNeeded:    20,
		CRC32:            m.crc,
		CompressedSize:   uint64(len(m.data)),
		UncompressedSize: uint64(len(m.data)),
		Name:             name,
	}
}

// patchPayload overwrites member name's payload bytes in place within
// archive.buf, without touching its header or any other member's
// bytes — used after Corrupt, which mutates m.data at a fixed length.
func (a *memArchive) patchPayload(name string) {
	m, ok := a.members[name]
	if !ok {
		return
	}
	hdrLen := len(memberHeader(name, m).Marshal())
	start := int(m.lfhOffset) + hdrLen
	end := start + len(m.data)
	if end <= len(a.buf) {
		copy(a.buf[start:end], m.data)
	}
}

// MemClient is an archive.Client backed entirely by process memory,
// keyed by the URL string passed to Open. It is safe for concurrent
// use by many sessions the way LocalClient is.
type MemClient struct {
	mu       sync.Mutex
	archives map[string]*memArchive
}

// NewMemClient constructs an empty MemClient.
func NewMemClient() *MemClient {
	return &MemClient{archives: make(map[string]*memArchive)}
}

func (c *MemClient) archiveFor(url string, create bool) (*memArchive, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.archives[url]
	if !ok {
		if !create {
			return nil, false
		}
		a = &memArchive{members: make(map[string]*memMember), xattrs: make(map[string][]byte)}
		c.archives[url] = a
	}
	return a, true
}

// Reset discards every archive, as if starting from a clean backend.
func (c *MemClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archives = make(map[string]*memArchive)
}

// Delete removes the archive at url entirely, simulating an
// unreachable/lost backend for degraded-mode tests.
func (c *MemClient) Delete(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.archives, url)
}

// Corrupt overwrites member name's bytes in the archive at url without
// updating its recorded CRC, simulating bit rot for recovery tests.
func (c *MemClient) Corrupt(url, name string, garbage []byte) {
	a, ok := c.archiveFor(url, false)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.members[name]; ok {
		copy(m.data, garbage)
		a.patchPayload(name)
	}
}

type memHandle struct {
	id      string
	url     string
	archive *memArchive
	flag    archive.OpenFlag
	open    bool
	stage   archive.OpenStage
	cd      *archive.CentralDirectory
}

func (h *memHandle) URL() string                              { return h.url }
func (h *memHandle) IsOpen() bool                              { return h.open }
func (h *memHandle) Stage() archive.OpenStage                  { return h.stage }
func (h *memHandle) Size() int64                               { return 0 }
func (h *memHandle) CentralDirectory() *archive.CentralDirectory { return h.cd }
func (h *memHandle) SetCentralDirectory(cd *archive.CentralDirectory) {
	h.cd = cd
	h.stage = archive.StageDone
}

// rebuildCD regenerates both the central directory and the backing
// container bytes from the current member set, the same way
// LocalClient's real container grows by construction: each member
// becomes an LFH followed immediately by its payload, back to back in
// `order`. This keeps archive.buf a faithful ZIP-like container so
// repair's raw-LFH-vs-CD validation (checkMemberHeader) sees real,
// self-consistent bytes instead of opaque in-memory blobs.
func (h *memHandle) rebuildCD() {
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	var records []archive.CentralDirRecord
	var buf []byte
	for _, name := range h.archive.order {
		m := h.archive.members[name]
		lfhOff := int64(len(buf))
		lfh := memberHeader(name, m)
		buf = append(buf, lfh.Marshal()...)
		buf = append(buf, m.data...)
		m.lfhOffset = lfhOff
		records = append(records, archive.CentralDirRecord{
			VersionNeeded:    lfh.VersionNeeded,
			Method:           lfh.Method,
			CRC32:            m.crc,
			CompressedSize:   uint64(len(m.data)),
			UncompressedSize: uint64(len(m.data)),
			Name:             name,
			LFHOffset:        uint64(lfhOff),
		})
	}
	h.archive.buf = buf
	h.cd = archive.NewCentralDirectory(records)
}

// Open implements archive.Client.
func (c *MemClient) Open(_ context.Context, url string, flag archive.OpenFlag, _ int) (archive.Handle, error) {
	switch flag {
	case archive.FlagWrite, archive.FlagNew:
		a, _ := c.archiveFor(url, true)
		a.mu.Lock()
		a.members = make(map[string]*memMember)
		a.order = nil
		a.mu.Unlock()
		h := &memHandle{id: uuid.NewString(), url: url, archive: a, flag: flag, open: true, stage: archive.StageDone}
		h.rebuildCD()
		return h, nil
	case archive.FlagRead, archive.FlagUpdate:
		a, ok := c.archiveFor(url, false)
		if !ok {
			return nil, fmt.Errorf("testutil: %s: %w", url, xerrors.ErrNotFound)
		}
		h := &memHandle{id: uuid.NewString(), url: url, archive: a, flag: flag, open: true, stage: archive.StageDone}
		h.rebuildCD()
		return h, nil
	default:
		return nil, fmt.Errorf("testutil: unknown open flag %d: %w", flag, xerrors.ErrInvalidArgs)
	}
}

// OpenOnly implements archive.Client; the in-memory backend always
// knows its own central directory, so this behaves like Open without
// the update flag distinction mattering.
func (c *MemClient) OpenOnly(ctx context.Context, url string, update bool, timeoutMS int) (archive.Handle, error) {
	flag := archive.FlagRead
	if update {
		flag = archive.FlagUpdate
	}
	h, err := c.Open(ctx, url, flag, timeoutMS)
	if err != nil {
		return nil, err
	}
	h.(*memHandle).stage = archive.StageNotParsed
	return h, nil
}

// Close implements archive.Client.
func (c *MemClient) Close(_ context.Context, hh archive.Handle, _ int) error {
	h := hh.(*memHandle)
	h.open = false
	return nil
}

// Stat implements archive.Client.
func (c *MemClient) Stat(hh archive.Handle, name string) (archive.StatInfo, error) {
	h := hh.(*memHandle)
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	m, ok := h.archive.members[name]
	if !ok {
		return archive.StatInfo{}, fmt.Errorf("testutil: %s: %s: %w", h.url, name, xerrors.ErrNotFound)
	}
	return archive.StatInfo{Size: int64(len(m.data))}, nil
}

// ReadFrom implements archive.Client.
func (c *MemClient) ReadFrom(_ context.Context, hh archive.Handle, name string, offset, size int64, buf []byte) (int, error) {
	h := hh.(*memHandle)
	h.archive.mu.Lock()
	m, ok := h.archive.members[name]
	h.archive.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("testutil: %s: %s: %w", h.url, name, xerrors.ErrNotFound)
	}
	end := offset + size
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	if offset >= end {
		return 0, nil
	}
	n := copy(buf, m.data[offset:end])
	return n, nil
}

// AppendFile implements archive.Client.
func (c *MemClient) AppendFile(_ context.Context, hh archive.Handle, name string, crc uint32, size int64, buf []byte) error {
	h := hh.(*memHandle)
	h.archive.mu.Lock()
	data := append([]byte(nil), buf[:size]...)
	if _, exists := h.archive.members[name]; !exists {
		h.archive.order = append(h.archive.order, name)
	}
	h.archive.members[name] = &memMember{data: data, crc: crc}
	h.archive.mu.Unlock()
	h.rebuildCD()
	return nil
}

// WriteIntoFile implements archive.Client: overwrites in place, growing
// the member if the write extends past its current length.
func (c *MemClient) WriteIntoFile(_ context.Context, hh archive.Handle, name string, offset, size int64, crc uint32, buf []byte) error {
	h := hh.(*memHandle)
	h.archive.mu.Lock()
	m, ok := h.archive.members[name]
	if !ok {
		h.archive.mu.Unlock()
		return fmt.Errorf("testutil: %s: %s: %w", h.url, name, xerrors.ErrNotFound)
	}
	need := offset + size
	if need > int64(len(m.data)) {
		grown := make([]byte, need)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[offset:offset+size], buf[:size])
	m.crc = crc
	h.archive.mu.Unlock()
	h.rebuildCD()
	return nil
}

// VectorRead implements archive.Client against the whole-container
// buffer rebuildCD maintains, addressed by absolute offset exactly
// like LocalClient's real file — chunk offsets come from GetOffset, so
// the two must agree on the same coordinate space.
func (c *MemClient) VectorRead(_ context.Context, hh archive.Handle, chunks []archive.VectorChunk, _ int) (*archive.VectorReadInfo, error) {
	info := &archive.VectorReadInfo{BytesRead: make([]int, len(chunks)), Errs: make([]error, len(chunks))}
	h := hh.(*memHandle)
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	buf := h.archive.buf
	for i, ch := range chunks {
		end := ch.Offset + ch.Size
		if end > int64(len(buf)) {
			end = int64(len(buf))
		}
		if ch.Offset < end {
			info.BytesRead[i] = copy(ch.Buf[:ch.Size], buf[ch.Offset:end])
		}
	}
	return info, nil
}

// GetXAttr implements archive.Client.
func (c *MemClient) GetXAttr(_ context.Context, hh archive.Handle, name string) ([]byte, error) {
	h := hh.(*memHandle)
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	v, ok := h.archive.xattrs[name]
	if !ok {
		return nil, fmt.Errorf("testutil: %s: xattr %s: %w", h.url, name, xerrors.ErrNotFound)
	}
	return v, nil
}

// SetXAttr implements archive.Client.
func (c *MemClient) SetXAttr(_ context.Context, hh archive.Handle, pairs map[string][]byte) error {
	h := hh.(*memHandle)
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	for k, v := range pairs {
		h.archive.xattrs[k] = append([]byte(nil), v...)
	}
	return nil
}

// ListXAttr implements archive.Client.
func (c *MemClient) ListXAttr(_ context.Context, hh archive.Handle) ([]string, error) {
	h := hh.(*memHandle)
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	names := make([]string, 0, len(h.archive.xattrs))
	for k := range h.archive.xattrs {
		names = append(names, k)
	}
	return names, nil
}

// GetCRC32 implements archive.Client.
func (c *MemClient) GetCRC32(hh archive.Handle, name string) (uint32, bool) {
	h := hh.(*memHandle)
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	m, ok := h.archive.members[name]
	if !ok {
		return 0, false
	}
	return m.crc, true
}

// GetOffset implements archive.Client: the absolute payload offset
// within archive.buf, mirroring LocalClient.payloadOffset.
func (c *MemClient) GetOffset(hh archive.Handle, name string) (uint64, bool) {
	h := hh.(*memHandle)
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	m, ok := h.archive.members[name]
	if !ok {
		return 0, false
	}
	hdrLen := len(memberHeader(name, m).Marshal())
	return uint64(m.lfhOffset) + uint64(hdrLen), true
}
