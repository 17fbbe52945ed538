// Package archive implements the §6 external archive-client contract
// and a concrete local-filesystem backend over a ZIP-like container:
// Local File Header (LFH), Central Directory File Header (CDFH), End
// Of Central Directory (EOCD), with the ZIP64 variants spec.md §6
// requires "when any 32-bit field overflows". The core only needs
// bit-exact control over these fields for repair's header-vs-CD
// validation (spec.md §4.8); archive/zip's API does not expose raw
// header bytes, so this is a narrow hand-rolled codec rather than a
// dependency (see DESIGN.md).
package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/xrdec/xrdec/internal/xerrors"
)

const (
	sigLocalFileHeader  = 0x04034b50
	sigCentralDirHeader = 0x02014b50
	sigEOCD             = 0x06054b50
	sigZIP64EOCDRecord  = 0x06064b50
	sigZIP64EOCDLocator = 0x07064b50

	extraIDZIP64 = 0x0001

	lfhFixedSize  = 30
	cdfhFixedSize = 46
	eocdFixedSize = 22

	storeMethod = 0 // spec.md §1: data is stored uncompressed
)

// LocalFileHeader is the 30-byte-fixed-prefix record preceding every
// member's payload.
type LocalFileHeader struct {
	VersionNeeded    uint16
	Flags            uint16
	Method           uint16
	ModTime          uint16
	ModDate          uint16
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	Name             string
	Extra            []byte
}

// Marshal encodes h, including the trailing name and extra fields.
// Uses the ZIP64 extra field (id 0x0001) when either size exceeds the
// 32-bit field range.
func (h *LocalFileHeader) Marshal() []byte {
	extra := h.Extra
	csize, usize := uint32(h.CompressedSize), uint32(h.UncompressedSize)
	if h.CompressedSize >= 0xFFFFFFFF || h.UncompressedSize >= 0xFFFFFFFF {
		csize, usize = 0xFFFFFFFF, 0xFFFFFFFF
		extra = append(appendZIP64Extra(nil, h.UncompressedSize, h.CompressedSize, 0, false), extra...)
	}
	buf := make([]byte, lfhFixedSize+len(h.Name)+len(extra))
	binary.LittleEndian.PutUint32(buf[0:4], sigLocalFileHeader)
	binary.LittleEndian.PutUint16(buf[4:6], h.VersionNeeded)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint16(buf[8:10], h.Method)
	binary.LittleEndian.PutUint16(buf[10:12], h.ModTime)
	binary.LittleEndian.PutUint16(buf[12:14], h.ModDate)
	binary.LittleEndian.PutUint32(buf[14:18], h.CRC32)
	binary.LittleEndian.PutUint32(buf[18:22], csize)
	binary.LittleEndian.PutUint32(buf[22:26], usize)
	binary.LittleEndian.PutUint16(buf[26:28], uint16(len(h.Name)))
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(extra)))
	copy(buf[30:], h.Name)
	copy(buf[30+len(h.Name):], extra)
	return buf
}

// appendZIP64Extra builds the ZIP64 extra field payload (id + size +
// the subset of {usize, csize, offset} the caller asked for).
func appendZIP64Extra(dst []byte, usize, csize, offset uint64, includeOffset bool) []byte {
	body := make([]byte, 0, 24)
	body = binary.LittleEndian.AppendUint64(body, usize)
	body = binary.LittleEndian.AppendUint64(body, csize)
	if includeOffset {
		body = binary.LittleEndian.AppendUint64(body, offset)
	}
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint16(hdr[0:2], extraIDZIP64)
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(body)))
	dst = append(dst, hdr...)
	dst = append(dst, body...)
	return dst
}

// ParseLocalFileHeader reads one LFH (fixed prefix + name + extra) from
// r, returning the parsed header and the raw bytes consumed (needed
// verbatim by repair's byte-exact comparison, spec.md §4.8).
func ParseLocalFileHeader(r io.Reader) (*LocalFileHeader, []byte, error) {
	fixed := make([]byte, lfhFixedSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, nil, fmt.Errorf("archive: reading LFH: %w", err)
	}
	sig := binary.LittleEndian.Uint32(fixed[0:4])
	if sig != sigLocalFileHeader {
		return nil, nil, fmt.Errorf("archive: bad LFH signature %#x: %w", sig, xerrors.ErrCorruptedHeader)
	}
	h := &LocalFileHeader{
		VersionNeeded:    binary.LittleEndian.Uint16(fixed[4:6]),
		Flags:            binary.LittleEndian.Uint16(fixed[6:8]),
		Method:           binary.LittleEndian.Uint16(fixed[8:10]),
		ModTime:          binary.LittleEndian.Uint16(fixed[10:12]),
		ModDate:          binary.LittleEndian.Uint16(fixed[12:14]),
		CRC32:            binary.LittleEndian.Uint32(fixed[14:18]),
		CompressedSize:   uint64(binary.LittleEndian.Uint32(fixed[18:22])),
		UncompressedSize: uint64(binary.LittleEndian.Uint32(fixed[22:26])),
	}
	nameLen := binary.LittleEndian.Uint16(fixed[26:28])
	extraLen := binary.LittleEndian.Uint16(fixed[28:30])
	rest := make([]byte, int(nameLen)+int(extraLen))
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, nil, fmt.Errorf("archive: reading LFH name/extra: %w", err)
	}
	h.Name = string(rest[:nameLen])
	h.Extra = rest[nameLen:]
	applyZIP64Extra(h.Extra, &h.UncompressedSize, &h.CompressedSize, nil)

	raw := append(append([]byte(nil), fixed...), rest...)
	return h, raw, nil
}

// applyZIP64Extra scans extra for a ZIP64 record and overwrites *usize/
// *csize/*offset (for any destination pointer that is non-nil) when
// the corresponding classic field read as the 32-bit sentinel.
func applyZIP64Extra(extra []byte, usize, csize *uint64, offset *uint64) {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra[0:2])
		size := binary.LittleEndian.Uint16(extra[2:4])
		if len(extra) < 4+int(size) {
			return
		}
		body := extra[4 : 4+int(size)]
		if id == extraIDZIP64 {
			off := 0
			if usize != nil && *usize == 0xFFFFFFFF && off+8 <= len(body) {
				*usize = binary.LittleEndian.Uint64(body[off : off+8])
				off += 8
			}
			if csize != nil && *csize == 0xFFFFFFFF && off+8 <= len(body) {
				*csize = binary.LittleEndian.Uint64(body[off : off+8])
				off += 8
			}
			if offset != nil && *offset == 0xFFFFFFFF && off+8 <= len(body) {
				*offset = binary.LittleEndian.Uint64(body[off : off+8])
				off += 8
			}
			return
		}
		extra = extra[4+int(size):]
	}
}

// CentralDirRecord is one 46-byte-fixed-prefix entry in the central
// directory, plus the offset of its corresponding LFH.
type CentralDirRecord struct {
	VersionMadeBy    uint16
	VersionNeeded    uint16
	Flags            uint16
	Method           uint16
	ModTime          uint16
	ModDate          uint16
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	Name             string
	Extra            []byte
	Comment          string
	LFHOffset        uint64
}

// Marshal encodes one CDFH record.
func (r *CentralDirRecord) Marshal() []byte {
	extra := r.Extra
	csize, usize, lfhOff := uint32(r.CompressedSize), uint32(r.UncompressedSize), uint32(r.LFHOffset)
	needsZIP64 := r.CompressedSize >= 0xFFFFFFFF || r.UncompressedSize >= 0xFFFFFFFF || r.LFHOffset >= 0xFFFFFFFF
	if needsZIP64 {
		csize, usize, lfhOff = 0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF
		extra = append(appendZIP64Extra(nil, r.UncompressedSize, r.CompressedSize, r.LFHOffset, true), extra...)
	}
	buf := make([]byte, cdfhFixedSize+len(r.Name)+len(extra)+len(r.Comment))
	binary.LittleEndian.PutUint32(buf[0:4], sigCentralDirHeader)
	binary.LittleEndian.PutUint16(buf[4:6], r.VersionMadeBy)
	binary.LittleEndian.PutUint16(buf[6:8], r.VersionNeeded)
	binary.LittleEndian.PutUint16(buf[8:10], r.Flags)
	binary.LittleEndian.PutUint16(buf[10:12], r.Method)
	binary.LittleEndian.PutUint16(buf[12:14], r.ModTime)
	binary.LittleEndian.PutUint16(buf[14:16], r.ModDate)
	binary.LittleEndian.PutUint32(buf[16:20], r.CRC32)
	binary.LittleEndian.PutUint32(buf[20:24], csize)
	binary.LittleEndian.PutUint32(buf[24:28], usize)
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(r.Name)))
	binary.LittleEndian.PutUint16(buf[30:32], uint16(len(extra)))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(len(r.Comment)))
	binary.LittleEndian.PutUint16(buf[34:36], 0) // disk number start
	binary.LittleEndian.PutUint16(buf[36:38], 0) // internal attrs
	binary.LittleEndian.PutUint32(buf[38:42], 0) // external attrs
	binary.LittleEndian.PutUint32(buf[42:46], lfhOff)
	off := cdfhFixedSize
	off += copy(buf[off:], r.Name)
	off += copy(buf[off:], extra)
	copy(buf[off:], r.Comment)
	return buf
}

// ParseCentralDirRecord parses one CDFH entry from the head of buf,
// returning the parsed record and the number of bytes it consumed.
func ParseCentralDirRecord(buf []byte) (*CentralDirRecord, int, error) {
	if len(buf) < cdfhFixedSize {
		return nil, 0, fmt.Errorf("archive: CDFH truncated: %w", xerrors.ErrCorruptedHeader)
	}
	sig := binary.LittleEndian.Uint32(buf[0:4])
	if sig != sigCentralDirHeader {
		return nil, 0, fmt.Errorf("archive: bad CDFH signature %#x: %w", sig, xerrors.ErrCorruptedHeader)
	}
	r := &CentralDirRecord{
		VersionMadeBy:    binary.LittleEndian.Uint16(buf[4:6]),
		VersionNeeded:    binary.LittleEndian.Uint16(buf[6:8]),
		Flags:            binary.LittleEndian.Uint16(buf[8:10]),
		Method:           binary.LittleEndian.Uint16(buf[10:12]),
		ModTime:          binary.LittleEndian.Uint16(buf[12:14]),
		ModDate:          binary.LittleEndian.Uint16(buf[14:16]),
		CRC32:            binary.LittleEndian.Uint32(buf[16:20]),
		CompressedSize:   uint64(binary.LittleEndian.Uint32(buf[20:24])),
		UncompressedSize: uint64(binary.LittleEndian.Uint32(buf[24:28])),
	}
	nameLen := int(binary.LittleEndian.Uint16(buf[28:30]))
	extraLen := int(binary.LittleEndian.Uint16(buf[30:32]))
	commentLen := int(binary.LittleEndian.Uint16(buf[32:34]))
	lfhOff := uint64(binary.LittleEndian.Uint32(buf[42:46]))

	total := cdfhFixedSize + nameLen + extraLen + commentLen
	if len(buf) < total {
		return nil, 0, fmt.Errorf("archive: CDFH name/extra/comment truncated: %w", xerrors.ErrCorruptedHeader)
	}
	r.Name = string(buf[cdfhFixedSize : cdfhFixedSize+nameLen])
	r.Extra = buf[cdfhFixedSize+nameLen : cdfhFixedSize+nameLen+extraLen]
	r.Comment = string(buf[cdfhFixedSize+nameLen+extraLen : total])
	r.LFHOffset = lfhOff
	applyZIP64Extra(r.Extra, &r.UncompressedSize, &r.CompressedSize, &r.LFHOffset)
	return r, total, nil
}

// EOCD is the End Of Central Directory record.
type EOCD struct {
	EntryCount uint64
	CDSize     uint64
	CDOffset   uint64
	Comment    string
}

// Marshal encodes the EOCD, preceding it with a ZIP64 EOCD record and
// locator when EntryCount, CDSize, or CDOffset overflow 32 bits.
// zip64RecordOffset is the absolute file offset at which the ZIP64
// EOCD record (if any) will land — i.e. where the caller is about to
// write this Marshal'd blob — so the locator can point back to it.
func (e *EOCD) Marshal(zip64RecordOffset uint64) []byte {
	var out []byte
	needsZIP64 := e.EntryCount >= 0xFFFF || e.CDSize >= 0xFFFFFFFF || e.CDOffset >= 0xFFFFFFFF
	if needsZIP64 {
		zip64Off := zip64RecordOffset
		rec := make([]byte, 56)
		binary.LittleEndian.PutUint32(rec[0:4], sigZIP64EOCDRecord)
		binary.LittleEndian.PutUint64(rec[4:12], 44) // size of remaining record
		binary.LittleEndian.PutUint16(rec[12:14], 45)
		binary.LittleEndian.PutUint16(rec[14:16], 45)
		binary.LittleEndian.PutUint32(rec[16:20], 0)
		binary.LittleEndian.PutUint32(rec[20:24], 0)
		binary.LittleEndian.PutUint64(rec[24:32], e.EntryCount)
		binary.LittleEndian.PutUint64(rec[32:40], e.EntryCount)
		binary.LittleEndian.PutUint64(rec[40:48], e.CDSize)
		binary.LittleEndian.PutUint64(rec[48:56], e.CDOffset)
		out = append(out, rec...)

		loc := make([]byte, 20)
		binary.LittleEndian.PutUint32(loc[0:4], sigZIP64EOCDLocator)
		binary.LittleEndian.PutUint32(loc[4:8], 0)
		binary.LittleEndian.PutUint64(loc[8:16], zip64Off)
		binary.LittleEndian.PutUint32(loc[16:20], 1)
		out = append(out, loc...)
	}

	entries := uint16(e.EntryCount)
	cdSize, cdOffset := uint32(e.CDSize), uint32(e.CDOffset)
	if needsZIP64 {
		entries, cdSize, cdOffset = 0xFFFF, 0xFFFFFFFF, 0xFFFFFFFF
	}
	fixed := make([]byte, eocdFixedSize+len(e.Comment))
	binary.LittleEndian.PutUint32(fixed[0:4], sigEOCD)
	binary.LittleEndian.PutUint16(fixed[4:6], 0)
	binary.LittleEndian.PutUint16(fixed[6:8], 0)
	binary.LittleEndian.PutUint16(fixed[8:10], entries)
	binary.LittleEndian.PutUint16(fixed[10:12], entries)
	binary.LittleEndian.PutUint32(fixed[12:16], cdSize)
	binary.LittleEndian.PutUint32(fixed[16:20], cdOffset)
	binary.LittleEndian.PutUint16(fixed[20:22], uint16(len(e.Comment)))
	copy(fixed[22:], e.Comment)
	out = append(out, fixed...)
	return out
}

// ParseEOCD locates and parses the EOCD (and, if present, the
// preceding ZIP64 EOCD record) within the tail of an archive's bytes.
// data must contain at least the EOCD and everything before it that a
// ZIP64 locator might reference.
func ParseEOCD(data []byte) (*EOCD, error) {
	idx := bytes.LastIndex(data, sigBytes(sigEOCD))
	if idx < 0 {
		return nil, fmt.Errorf("archive: EOCD signature not found: %w", xerrors.ErrCorruptedHeader)
	}
	fixed := data[idx:]
	if len(fixed) < eocdFixedSize {
		return nil, fmt.Errorf("archive: EOCD truncated: %w", xerrors.ErrCorruptedHeader)
	}
	entries := binary.LittleEndian.Uint16(fixed[8:10])
	commentLen := binary.LittleEndian.Uint16(fixed[20:22])
	e := &EOCD{
		EntryCount: uint64(entries),
		CDSize:     uint64(binary.LittleEndian.Uint32(fixed[12:16])),
		CDOffset:   uint64(binary.LittleEndian.Uint32(fixed[16:20])),
	}
	if int(22+commentLen) <= len(fixed) {
		e.Comment = string(fixed[22 : 22+commentLen])
	}

	if entries == 0xFFFF || e.CDSize == 0xFFFFFFFF || e.CDOffset == 0xFFFFFFFF {
		locIdx := bytes.LastIndex(data[:idx], sigBytes(sigZIP64EOCDLocator))
		if locIdx < 0 {
			return nil, fmt.Errorf("archive: ZIP64 locator not found for overflowed EOCD: %w", xerrors.ErrCorruptedHeader)
		}
		zip64Off := binary.LittleEndian.Uint64(data[locIdx+8 : locIdx+16])
		if zip64Off+56 > uint64(len(data)) {
			return nil, fmt.Errorf("archive: ZIP64 EOCD record out of range: %w", xerrors.ErrCorruptedHeader)
		}
		rec := data[zip64Off : zip64Off+56]
		e.EntryCount = binary.LittleEndian.Uint64(rec[32:40])
		e.CDSize = binary.LittleEndian.Uint64(rec[40:48])
		e.CDOffset = binary.LittleEndian.Uint64(rec[48:56])
	}
	return e, nil
}

func sigBytes(sig uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, sig)
	return b
}
