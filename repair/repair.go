// Package repair implements C8: an offline checker/healer that opens
// every archive of an object, re-runs the same error_correction
// procedure as the live read path (block+redundancy), and writes
// reconstructed stripes back to whichever archive originally lost
// them. Grounded on XrdEcRepairTool.cc's CheckFile/RepairFile/
// WriteChunk (the write-size rule and redirection-map bookkeeping are
// carried over almost verbatim), cast into the teacher's open/close
// threshold idiom from rclone's backend/raid3 heal.go.
package repair

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xrdec/xrdec/archive"
	"github.com/xrdec/xrdec/block"
	"github.com/xrdec/xrdec/blockpool"
	"github.com/xrdec/xrdec/internal/xerrors"
	"github.com/xrdec/xrdec/internal/xlog"
	"github.com/xrdec/xrdec/objcfg"
	"github.com/xrdec/xrdec/redundancy"
)

// RedirectionMap records, for a repair session, which archive URLs
// were found unusable and which replacement URL (drawn from
// objcfg.Replacement()) each was redirected to.
type RedirectionMap map[string]string

type stripeKey struct {
	blkid  int64
	strpid int
}

// Session drives one check or repair pass over a single object.
type Session struct {
	cfg      *objcfg.Config
	client   archive.Client
	provider *redundancy.Provider
	pool     *blockpool.Pool

	handles []archive.Handle // indexed by placement position
	urlmap  map[string]int
	missing map[string]int // stripe name -> archive index it originally lived on, per side-car metadata
	filesize int64
	lstblk   int64

	redirection     RedirectionMap
	redirectReplIdx map[string]int // damaged url -> index into cfg.Replacement(), for SetPlacement
	nextReplace     int
	redirectTargets map[string]archive.Handle // target URL -> already-opened replacement handle

	failedMu sync.Mutex
	failed   map[stripeKey]bool

	chunksRepaired int64
	repairFailed   bool
}

// NewSession constructs a repair Session for cfg.
func NewSession(cfg *objcfg.Config, client archive.Client, provider *redundancy.Provider, pool *blockpool.Pool) *Session {
	return &Session{
		cfg:             cfg,
		client:          client,
		provider:        provider,
		pool:            pool,
		redirection:     make(RedirectionMap),
		redirectReplIdx: make(map[string]int),
		failed:          make(map[stripeKey]bool),
		redirectTargets: make(map[string]archive.Handle),
	}
}

// RedirectionMap exposes the redirections accumulated by this session.
func (s *Session) RedirectionMap() RedirectionMap { return s.redirection }

// ChunksRepaired reports how many stripes were actually rewritten by
// the most recent RepairFile call.
func (s *Session) ChunksRepaired() int64 { return s.chunksRepaired }

func (s *Session) open(ctx context.Context, flag archive.OpenFlag) error {
	n := s.cfg.NBChunks()
	s.handles = make([]archive.Handle, n)
	s.urlmap = make(map[string]int)
	s.missing = make(map[string]int)

	var metaCD *archive.CentralDirectory
	var metaByArchIdx map[string]int
	var metaWG sync.WaitGroup
	if !s.cfg.NoMetadataFile() {
		metaWG.Add(1)
		go func() {
			defer metaWG.Done()
			metaCD, metaByArchIdx = s.fetchMetadata(ctx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			url := s.cfg.DataURL(i)
			h, err := s.client.Open(gctx, url, flag, 0)
			if err != nil {
				xlog.Warnf(s.cfg, "archive %d (%s) failed to open: %v", i, url, err)
				s.markDamaged(url)
				return nil
			}
			if corrupted, _ := s.client.GetXAttr(gctx, h, "xrdec.corrupted"); len(corrupted) == 1 && corrupted[0] == '1' {
				xlog.Warnf(s.cfg, "archive %d (%s) marked corrupted", i, url)
				s.markDamaged(url)
				return nil
			}
			s.handles[i] = h
			return nil
		})
	}
	_ = g.Wait()
	metaWG.Wait()

	if len(s.redirection) > s.cfg.NBParity() {
		xlog.Errorf(s.cfg, "NOT RECOVERABLE: %d archives are damaged, budget is %d", len(s.redirection), s.cfg.NBParity())
	}

	for i, h := range s.handles {
		if h == nil {
			for name, archIdx := range metaByArchIdx {
				if archIdx == i {
					s.missing[name] = i
				}
			}
			continue
		}
		if fs, err := s.client.GetXAttr(ctx, h, "xrdec.filesize"); err == nil {
			if v, err := archive.ParseUint64(fs); err == nil && v > 0 {
				s.filesize = int64(v)
			}
		}
		if h.CentralDirectory() == nil && metaCD != nil {
			h.SetCentralDirectory(metaCD)
		}
		cd := h.CentralDirectory()
		if cd == nil {
			continue
		}
		if err := s.checkArchiveMetadata(ctx, h, cd); err != nil {
			url := s.cfg.DataURL(i)
			xlog.Warnf(s.cfg, "archive %d (%s) metadata check failed: %v", i, url, err)
			s.markDamaged(url)
			s.handles[i] = nil
			for name, archIdx := range metaByArchIdx {
				if archIdx == i {
					s.missing[name] = i
				}
			}
			continue
		}
		for _, rec := range cd.Records {
			s.urlmap[rec.Name] = i
			blk, _, err := parseStripeFileName(rec.Name)
			if err == nil && blk > s.lstblk {
				s.lstblk = blk
			}
		}
	}
	return nil
}

// lfhFixedSize mirrors archive's local file header fixed-prefix length
// (ZIP's 30-byte LFH layout), needed to size the first raw read before
// the variable-length name/extra fields are known.
const lfhFixedSize = 30

// checkArchiveMetadata validates every member of cd against the raw
// local file header bytes actually stored in the archive (spec.md
// §4.8): an archive can open cleanly and still carry a central
// directory that disagrees with its own payload headers, which is
// archive-level metadata corruption distinct from a missing/unreadable
// stripe. Returns the first mismatch found, or nil if every record
// checks out.
func (s *Session) checkArchiveMetadata(ctx context.Context, h archive.Handle, cd *archive.CentralDirectory) error {
	for _, rec := range cd.Records {
		if err := s.checkMemberHeader(ctx, h, rec); err != nil {
			return err
		}
	}
	return nil
}

// checkMemberHeader re-reads rec's local file header directly from the
// archive via the raw offset that client.VectorRead exposes (ReadFrom
// is name-keyed and assumes the LFH is exactly where the CD claims,
// which is precisely what this check cannot assume) and compares it
// field-for-field against the central directory's record.
func (s *Session) checkMemberHeader(ctx context.Context, h archive.Handle, rec archive.CentralDirRecord) error {
	fixed := make([]byte, lfhFixedSize)
	vinfo, err := s.client.VectorRead(ctx, h, []archive.VectorChunk{{Offset: int64(rec.LFHOffset), Size: lfhFixedSize, Buf: fixed}}, 0)
	if err != nil || vinfo.Errs[0] != nil || vinfo.BytesRead[0] < lfhFixedSize {
		return fmt.Errorf("repair: %s: reading LFH prefix: %w", rec.Name, xerrors.ErrCorruptedHeader)
	}
	nameLen := int(fixed[26]) | int(fixed[27])<<8
	extraLen := int(fixed[28]) | int(fixed[29])<<8
	total := lfhFixedSize + nameLen + extraLen

	full := make([]byte, total)
	vinfo, err = s.client.VectorRead(ctx, h, []archive.VectorChunk{{Offset: int64(rec.LFHOffset), Size: int64(total), Buf: full}}, 0)
	if err != nil || vinfo.Errs[0] != nil || vinfo.BytesRead[0] < total {
		return fmt.Errorf("repair: %s: reading LFH: %w", rec.Name, xerrors.ErrCorruptedHeader)
	}
	lfh, _, err := archive.ParseLocalFileHeader(bytes.NewReader(full))
	if err != nil {
		return fmt.Errorf("repair: %s: %w", rec.Name, err)
	}

	switch {
	case lfh.CRC32 != rec.CRC32:
		return fmt.Errorf("repair: %s: lfh crc32 %#x != central directory %#x: %w", rec.Name, lfh.CRC32, rec.CRC32, xerrors.ErrDataError)
	case lfh.CompressedSize != rec.CompressedSize:
		return fmt.Errorf("repair: %s: lfh compressed size %d != %d: %w", rec.Name, lfh.CompressedSize, rec.CompressedSize, xerrors.ErrDataError)
	case lfh.UncompressedSize != rec.UncompressedSize:
		return fmt.Errorf("repair: %s: lfh uncompressed size %d != %d: %w", rec.Name, lfh.UncompressedSize, rec.UncompressedSize, xerrors.ErrDataError)
	case lfh.Method != rec.Method:
		return fmt.Errorf("repair: %s: lfh method %d != %d: %w", rec.Name, lfh.Method, rec.Method, xerrors.ErrDataError)
	case lfh.Flags != rec.Flags:
		return fmt.Errorf("repair: %s: lfh flags %#x != %#x: %w", rec.Name, lfh.Flags, rec.Flags, xerrors.ErrDataError)
	case lfh.VersionNeeded != rec.VersionNeeded:
		return fmt.Errorf("repair: %s: lfh min version %d != %d: %w", rec.Name, lfh.VersionNeeded, rec.VersionNeeded, xerrors.ErrDataError)
	case len(lfh.Name) != len(rec.Name):
		return fmt.Errorf("repair: %s: lfh filename length %d != %d: %w", rec.Name, len(lfh.Name), len(rec.Name), xerrors.ErrDataError)
	case lfh.Name != rec.Name:
		return fmt.Errorf("repair: %s: lfh filename %q != %q: %w", rec.Name, lfh.Name, rec.Name, xerrors.ErrDataError)
	case len(lfh.Extra) != len(rec.Extra):
		return fmt.Errorf("repair: %s: lfh extra field length %d != %d: %w", rec.Name, len(lfh.Extra), len(rec.Extra), xerrors.ErrDataError)
	}
	return nil
}

// fetchMetadata reads the side-car replicas for cross-archive stripe
// knowledge, mirroring stream.Reader.fetchMetadata. Unlike the reader
// (which only needs to know a name once existed), repair must also
// know WHICH archive index held it, so a reconstructed stripe can be
// written back to that archive's already-allocated redirection target
// rather than consuming a fresh, unrelated replacement. Each metadata
// member is named by its origin archive index (stream.Writer's
// writeMetadataReplicas), so that association is kept instead of
// being flattened away.
func (s *Session) fetchMetadata(ctx context.Context) (*archive.CentralDirectory, map[string]int) {
	n := s.cfg.NBChunks()
	for i := 0; i < n; i++ {
		h, err := s.client.Open(ctx, s.cfg.MetadataURL("", i), archive.FlagRead, 0)
		if err != nil {
			continue
		}
		cd := h.CentralDirectory()
		if cd == nil || len(cd.Records) == 0 {
			_ = s.client.Close(ctx, h, 0)
			continue
		}
		var records []archive.CentralDirRecord
		byArchIdx := make(map[string]int)
		for _, member := range cd.Records {
			archIdx, err := parseArchIdx(member.Name)
			if err != nil {
				continue
			}
			buf := make([]byte, member.UncompressedSize)
			if _, err := s.client.ReadFrom(ctx, h, member.Name, 0, int64(member.UncompressedSize), buf); err != nil {
				continue
			}
			rest := buf
			for len(rest) > 0 {
				rec, consumed, err := archive.ParseCentralDirRecord(rest)
				if err != nil {
					break
				}
				records = append(records, *rec)
				byArchIdx[rec.Name] = archIdx
				rest = rest[consumed:]
			}
		}
		_ = s.client.Close(ctx, h, 0)
		if len(records) > 0 {
			return archive.NewCentralDirectory(records), byArchIdx
		}
	}
	return nil, nil
}

func parseArchIdx(memberName string) (int, error) {
	var idx int
	if _, err := fmt.Sscanf(memberName, "%d", &idx); err != nil {
		return 0, err
	}
	return idx, nil
}

// markDamaged records url as needing a redirection, consulting
// objcfg.Replacement() for the next candidate in order (spec.md §4.8).
// The redirection map records the actual archive URL the replacement
// resolves to; redirectReplIdx separately remembers which raw
// Replacement() entry produced it, since SetPlacement needs the raw
// directory entry, not the already-joined URL.
func (s *Session) markDamaged(url string) {
	if _, already := s.redirection[url]; already {
		return
	}
	repl := s.cfg.Replacement()
	if s.nextReplace < len(repl) {
		idx := s.nextReplace
		s.redirection[url] = s.cfg.ReplacementURL(idx)
		s.redirectReplIdx[url] = idx
		s.nextReplace++
	} else {
		s.redirection[url] = ""
	}
}

// FetchStripe implements block.Fetcher for the repair scan: it reads
// and CRC-verifies the stripe from whichever archive the central
// directory names, recording a failure so a later successful
// reconstruction is known to need writing back.
func (s *Session) FetchStripe(ctx context.Context, blkid int64, strpid int, buf []byte, cb func(n int, err error)) {
	go func() {
		key := stripeKey{blkid, strpid}
		name := s.cfg.StripeFileName(blkid, int64(strpid))
		archIdx, ok := s.urlmap[name]
		if !ok {
			if _, known := s.missing[name]; known {
				s.recordFailed(key)
				cb(0, fmt.Errorf("repair: %s: %w", name, xerrors.ErrNotFound))
				return
			}
			cb(0, nil) // past EOF
			return
		}
		h := s.handles[archIdx]
		if h == nil {
			s.recordFailed(key)
			cb(0, fmt.Errorf("repair: %s: archive unavailable: %w", name, xerrors.ErrNotFound))
			return
		}
		info, err := s.client.Stat(h, name)
		if err != nil {
			s.recordFailed(key)
			cb(0, err)
			return
		}
		size := info.Size
		if int64(len(buf)) < size {
			size = int64(len(buf))
		}
		n, err := s.client.ReadFrom(ctx, h, name, 0, size, buf)
		if err != nil {
			s.recordFailed(key)
			cb(0, err)
			return
		}
		stored, _ := s.client.GetCRC32(h, name)
		if got := s.cfg.Digest(0, buf[:n]); got != stored {
			s.recordFailed(key)
			cb(0, fmt.Errorf("repair: %s: crc mismatch (got %#x want %#x): %w", name, got, stored, xerrors.ErrDataError))
			return
		}
		cb(n, nil)
	}()
}

func (s *Session) recordFailed(k stripeKey) {
	s.failedMu.Lock()
	s.failed[k] = true
	s.failedMu.Unlock()
}

func (s *Session) wasFailed(k stripeKey) bool {
	s.failedMu.Lock()
	defer s.failedMu.Unlock()
	return s.failed[k]
}

func parseStripeFileName(name string) (blk int64, strp int64, err error) {
	dot2 := -1
	dotCount := 0
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			dotCount++
			if dotCount == 2 {
				dot2 = i
				break
			}
		}
	}
	if dot2 < 0 {
		err = fmt.Errorf("repair: malformed stripe file name %q", name)
		return
	}
	_, err = fmt.Sscanf(name[dot2:], ".%d.%d", &blk, &strp)
	return
}

// CheckFile opens the object read-only and runs error_correction over
// every block without writing anything back, reporting the first
// unrecoverable block as an error (spec.md §4.8 CheckFile).
func (s *Session) CheckFile(ctx context.Context) error {
	if err := s.open(ctx, archive.FlagRead); err != nil {
		return err
	}
	defer s.closeAll(ctx)

	numBlocks := s.numBlocks()
	for blkid := int64(0); blkid < numBlocks; blkid++ {
		if err := s.checkBlock(ctx, blkid, false); err != nil {
			return err
		}
	}
	if len(s.redirection) > s.cfg.NBParity() {
		return fmt.Errorf("repair: check: %d archives damaged, exceeds parity budget %d: %w", len(s.redirection), s.cfg.NBParity(), xerrors.ErrDataError)
	}
	return nil
}

// RepairFile opens the object for update, re-runs error_correction
// over every block, writes every reconstructed stripe back to the
// archive that lost it (or to a redirected replacement when the
// archive itself is gone), and regenerates the side-car metadata
// replicas (spec.md §4.8 RepairFile).
func (s *Session) RepairFile(ctx context.Context, recheckAfter bool) error {
	if err := s.open(ctx, archive.FlagUpdate); err != nil {
		return err
	}

	numBlocks := s.numBlocks()
	s.repairFailed = false
	s.chunksRepaired = 0
	for blkid := int64(0); blkid < numBlocks; blkid++ {
		if err := s.checkBlock(ctx, blkid, true); err != nil {
			s.repairFailed = true
			xlog.Errorf(s.cfg, "repair: block %d: %v", blkid, err)
		}
	}

	if err := s.closeAll(ctx); err != nil {
		s.repairFailed = true
	}

	for old, target := range s.redirection {
		if target == "" {
			continue
		}
		idx, ok := s.redirectReplIdx[old]
		if !ok {
			continue
		}
		raw := s.cfg.Replacement()[idx]
		for i := 0; i < s.cfg.NBChunks(); i++ {
			if s.cfg.DataURL(i) == old {
				s.cfg.SetPlacement(i, raw)
				break
			}
		}
		xlog.Infof(s.cfg, "redirected %s -> %s", old, target)
	}

	if s.repairFailed {
		return fmt.Errorf("repair: one or more blocks could not be fully repaired: %w", xerrors.ErrDataError)
	}

	if !s.cfg.NoMetadataFile() {
		if err := s.writeMetadataReplicas(ctx); err != nil {
			return err
		}
	}

	if recheckAfter {
		s2 := NewSession(s.cfg, s.client, s.provider, s.pool)
		return s2.CheckFile(ctx)
	}
	return nil
}

func (s *Session) numBlocks() int64 {
	if s.filesize <= 0 {
		return s.lstblk + 1
	}
	datasize := s.cfg.DataSize()
	n := s.filesize / datasize
	if s.filesize%datasize != 0 {
		n++
	}
	if n <= 0 {
		n = 1
	}
	return n
}

// checkBlock acquires a block, forces every stripe to load (driving
// block.Block's own error_correction exactly as the read path would),
// then — when write is true — writes back any stripe that needed
// reconstruction.
func (s *Session) checkBlock(ctx context.Context, blkid int64, write bool) error {
	b := s.pool.Acquire(blkid, s.cfg.NBData(), s.cfg.NBParity(), s.cfg.ChunkSize(), s, s.provider)
	defer s.pool.Release(b)

	n := s.cfg.NBChunks()
	scratch := make([][]byte, n)
	var wg sync.WaitGroup
	for strp := 0; strp < n; strp++ {
		strp := strp
		scratch[strp] = make([]byte, s.cfg.ChunkSize())
		wg.Add(1)
		b.Read(ctx, strp, 0, int(s.cfg.ChunkSize()), scratch[strp], func(int, error) { wg.Done() })
	}
	wg.Wait()

	var bad []int
	for strp := 0; strp < n; strp++ {
		data, state := b.StripeData(strp)
		switch state {
		case block.Missing, block.Recovering:
			bad = append(bad, strp)
		case block.Valid:
			if write && s.wasFailed(stripeKey{blkid, strp}) {
				if err := s.writeChunk(ctx, blkid, strp, data); err != nil {
					xlog.Errorf(s.cfg, "block %d stripe %d: write-back failed: %v", blkid, strp, err)
					bad = append(bad, strp)
				}
			}
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("repair: block %d: stripes %v unrecoverable", blkid, bad)
	}
	return nil
}

// writeChunk writes a reconstructed stripe back to its archive,
// applying the data/parity write-size rule of spec.md §4.8: a data
// stripe is truncated to the bytes the file actually has at that
// offset, and a parity stripe is truncated to the same length as data
// stripe 0 (every stripe in a block is the same length on disk).
func (s *Session) writeChunk(ctx context.Context, blkid int64, strpid int, data []byte) error {
	name := s.cfg.StripeFileName(blkid, int64(strpid))
	chunk := s.cfg.ChunkSize()
	datasize := s.cfg.DataSize()

	var actual int64
	if strpid < s.cfg.NBData() {
		actual = s.filesize - (blkid*datasize + int64(strpid)*chunk)
	} else {
		actual = s.filesize - blkid*datasize
	}
	if actual < 0 {
		actual = 0
	}
	if actual > chunk {
		actual = chunk
	}
	payload := data[:actual]
	crc := s.cfg.Digest(0, payload)

	archIdx, ok := s.urlmap[name]
	var h archive.Handle
	var url string
	if ok {
		h = s.handles[archIdx]
		url = s.cfg.DataURL(archIdx)
	} else {
		// The stripe's archive is entirely gone (known only via the
		// side-car metadata); reuse the redirection target already
		// allocated for that archive index in open(), so every stripe
		// it used to hold lands on the same replacement instead of
		// each consuming a fresh one.
		if origIdx, known := s.missing[name]; known {
			url = s.redirection[s.cfg.DataURL(origIdx)]
		}
		if url == "" {
			url = s.nextRedirectTarget()
		}
		if url == "" {
			return fmt.Errorf("repair: %s: no archive and no redirection target available", name)
		}
		if cached, ok := s.redirectTargets[url]; ok {
			h = cached
		} else {
			var err error
			h, err = s.client.Open(ctx, url, archive.FlagNew, 0)
			if err != nil {
				return fmt.Errorf("repair: opening redirect target %s: %w", url, err)
			}
			s.handles = append(s.handles, h)
			s.redirectTargets[url] = h
			xlog.Warnf(s.cfg, "stripe %s had no known archive, writing to fresh target %s", name, url)
		}
	}
	if h == nil {
		return fmt.Errorf("repair: %s: archive not open, can't write", name)
	}

	if cd := h.CentralDirectory(); cd != nil && cd.Lookup(name) >= 0 {
		if err := s.client.WriteIntoFile(ctx, h, name, 0, actual, crc, payload); err != nil {
			return err
		}
	} else {
		if err := s.client.AppendFile(ctx, h, name, crc, actual, payload); err != nil {
			return err
		}
	}
	s.chunksRepaired++
	xlog.Infof(s.cfg, "repaired block %d stripe %d (%d bytes) -> %s", blkid, strpid, actual, url)
	return nil
}

// nextRedirectTarget allocates the next unused replacement candidate
// for a stripe whose original archive index is unknown even from the
// side-car metadata. Since no placement slot can be associated with
// it, this allocation is a one-off: it isn't recorded against any
// DataURL, so it never factors into the post-repair placement update.
func (s *Session) nextRedirectTarget() string {
	repl := s.cfg.Replacement()
	if s.nextReplace < len(repl) {
		idx := s.nextReplace
		s.nextReplace++
		return s.cfg.ReplacementURL(idx)
	}
	return ""
}

func (s *Session) closeAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range s.handles {
		h := h
		if h == nil {
			continue
		}
		g.Go(func() error {
			now := []byte(fmt.Sprintf("%d", time.Now().Unix()))
			_ = s.client.SetXAttr(gctx, h, map[string][]byte{"xrdec.strpver": now})
			return s.client.Close(gctx, h, 0)
		})
	}
	return g.Wait()
}

// writeMetadataReplicas regenerates the side-car metadata archive from
// the now-consistent central directories of every data archive, mirroring
// stream.Writer's replica write but reusing the repair session's own
// handles (which, post-repair, are already closed — so it reopens the
// data archives read-only first).
func (s *Session) writeMetadataReplicas(ctx context.Context) error {
	n := s.cfg.NBChunks()
	cds := make([]*archive.CentralDirectory, n)
	for i := 0; i < n; i++ {
		h, err := s.client.Open(ctx, s.cfg.DataURL(i), archive.FlagRead, 0)
		if err != nil {
			continue
		}
		cds[i] = h.CentralDirectory()
		_ = s.client.Close(ctx, h, 0)
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	written := 0
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			mh, err := s.client.Open(gctx, s.cfg.MetadataURL("", i), archive.FlagNew, 0)
			if err != nil {
				xlog.Warnf(s.cfg, "metadata replica %d: open failed: %v", i, err)
				return nil
			}
			for archIdx, cd := range cds {
				if cd == nil {
					continue
				}
				var payload []byte
				for _, rec := range cd.Records {
					payload = append(payload, rec.Marshal()...)
				}
				crc := s.cfg.Digest(0, payload)
				name := fmt.Sprintf("%d", archIdx)
				if err := s.client.AppendFile(gctx, mh, name, crc, int64(len(payload)), payload); err != nil {
					xlog.Warnf(s.cfg, "metadata replica %d: writing member %s failed: %v", i, name, err)
				}
			}
			if err := s.client.Close(gctx, mh, 0); err != nil {
				return nil
			}
			mu.Lock()
			written++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if written < s.cfg.NBParity()+1 {
		return fmt.Errorf("repair: only %d/%d metadata replicas rewritten: %w", written, n, xerrors.ErrNoMoreReplicas)
	}
	return nil
}
