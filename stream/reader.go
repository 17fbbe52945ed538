package stream

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xrdec/xrdec/archive"
	"github.com/xrdec/xrdec/block"
	"github.com/xrdec/xrdec/blockpool"
	"github.com/xrdec/xrdec/internal/xerrors"
	"github.com/xrdec/xrdec/internal/xlog"
	"github.com/xrdec/xrdec/objcfg"
	"github.com/xrdec/xrdec/redundancy"
)

// Reader implements C7: it opens archives, builds the stripe->archive
// map from their central directories, and serves random reads through
// the block cache (C3).
type Reader struct {
	cfg      *objcfg.Config
	client   archive.Client
	provider *redundancy.Provider
	pool     *blockpool.Pool

	handles []archive.Handle // len == NBChunks(); nil entry means "failed to open"

	urlmap  map[string]int // stripe file name -> archive index
	missing map[string]bool

	filesize int64 // -1 if unknown
	lstblk   int64

	curMu    sync.Mutex
	curBlock *block.Block
	curBlkid int64
}

// NewReader constructs a Reader for cfg.
func NewReader(cfg *objcfg.Config, client archive.Client, provider *redundancy.Provider, pool *blockpool.Pool) *Reader {
	return &Reader{cfg: cfg, client: client, provider: provider, pool: pool, curBlkid: -1, filesize: -1}
}

// Open opens the object for reading per spec.md §4.7: with a side-car
// metadata file, it races metadata retrieval against data-archive
// opens and accepts when at least nbdata archives opened; without one,
// it opens data archives (>= nbdata) and reads the xrdec.filesize
// xattr, falling through replicas on failure.
func (r *Reader) Open(ctx context.Context) error {
	n := r.cfg.NBChunks()
	r.handles = make([]archive.Handle, n)
	r.urlmap = make(map[string]int)
	r.missing = make(map[string]bool)

	var metaCD *archive.CentralDirectory
	var wg sync.WaitGroup
	if !r.cfg.NoMetadataFile() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metaCD = r.fetchMetadata(ctx)
		}()
	}

	opened := make([]bool, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			h, err := r.client.Open(gctx, r.cfg.DataURL(i), archive.FlagRead, 0)
			if err != nil {
				xlog.Warnf(r.cfg, "archive %d failed to open: %v", i, err)
				return nil
			}
			if corrupted, _ := r.client.GetXAttr(gctx, h, "xrdec.corrupted"); len(corrupted) == 1 && corrupted[0] == '1' {
				xlog.Warnf(r.cfg, "archive %d marked corrupted, ignoring", i)
				return nil
			}
			r.handles[i] = h
			opened[i] = true
			return nil
		})
	}
	_ = g.Wait()
	wg.Wait()

	nOpen := 0
	for _, ok := range opened {
		if ok {
			nOpen++
		}
	}

	if r.cfg.NoMetadataFile() {
		if nOpen < r.cfg.NBData() {
			return fmt.Errorf("stream: reader open: only %d/%d archives opened, need >= nbdata: %w", nOpen, n, xerrors.ErrNoMoreReplicas)
		}
		for i, h := range r.handles {
			if h == nil {
				continue
			}
			if fs, err := r.client.GetXAttr(ctx, h, "xrdec.filesize"); err == nil {
				if v, err := archive.ParseUint64(fs); err == nil {
					r.filesize = int64(v)
					break
				}
			}
			_ = i
		}
	} else {
		if nOpen < r.cfg.NBData() {
			return fmt.Errorf("stream: reader open: only %d/%d archives opened, need >= nbdata: %w", nOpen, n, xerrors.ErrNoMoreReplicas)
		}
	}

	for i, h := range r.handles {
		if h == nil {
			if metaCD != nil {
				for _, rec := range metaCD.Records {
					r.missing[rec.Name] = true
				}
			}
			continue
		}
		if h.CentralDirectory() == nil && metaCD != nil {
			h.SetCentralDirectory(metaCD)
		}
		cd := h.CentralDirectory()
		if cd == nil {
			continue
		}
		for _, rec := range cd.Records {
			r.urlmap[rec.Name] = i
			blk, _, err := parseStripeFileName(rec.Name)
			if err == nil && blk > r.lstblk {
				r.lstblk = blk
			}
		}
	}
	xlog.Infof(r.cfg, "reader opened %d/%d archives, lstblk=%d", nOpen, n, r.lstblk)
	return nil
}

func (r *Reader) fetchMetadata(ctx context.Context) *archive.CentralDirectory {
	n := r.cfg.NBChunks()
	for i := 0; i < n; i++ {
		h, err := r.client.Open(ctx, r.cfg.MetadataURL("", i), archive.FlagRead, 0)
		if err != nil {
			continue
		}
		cd := h.CentralDirectory()
		if cd == nil || len(cd.Records) == 0 {
			_ = r.client.Close(ctx, h, 0)
			continue
		}
		var records []archive.CentralDirRecord
		for _, member := range cd.Records {
			buf := make([]byte, member.UncompressedSize)
			if _, err := r.client.ReadFrom(ctx, h, member.Name, 0, int64(member.UncompressedSize), buf); err != nil {
				continue
			}
			rest := buf
			for len(rest) > 0 {
				rec, consumed, err := archive.ParseCentralDirRecord(rest)
				if err != nil {
					break
				}
				records = append(records, *rec)
				rest = rest[consumed:]
			}
		}
		_ = r.client.Close(ctx, h, 0)
		if len(records) > 0 {
			return archive.NewCentralDirectory(records)
		}
	}
	return nil
}

func parseStripeFileName(name string) (blk int64, strp int64, err error) {
	_, err = fmt.Sscanf(name[lastTwoDots(name):], ".%d.%d", &blk, &strp)
	return
}

func lastTwoDots(name string) int {
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
	return dot2
}

// currentBlock returns the block cache for blkid, replacing the cached
// "current block" if it names a different blkid (spec.md §4.7 Read).
func (r *Reader) currentBlock(blkid int64) *block.Block {
	r.curMu.Lock()
	defer r.curMu.Unlock()
	if r.curBlock != nil && r.curBlkid == blkid {
		return r.curBlock
	}
	if r.curBlock != nil {
		r.pool.Release(r.curBlock)
	}
	b := r.pool.Acquire(blkid, r.cfg.NBData(), r.cfg.NBParity(), r.cfg.ChunkSize(), r, r.provider)
	r.curBlock = b
	r.curBlkid = blkid
	return b
}

// FetchStripe implements block.Fetcher: it resolves the stripe's
// archive via urlmap, reads it, and verifies its CRC32 against the
// central directory (spec.md §4.7 "Per-stripe fetch").
func (r *Reader) FetchStripe(ctx context.Context, blkid int64, strpid int, buf []byte, cb func(n int, err error)) {
	go func() {
		name := r.cfg.StripeFileName(blkid, int64(strpid))
		archIdx, ok := r.urlmap[name]
		if !ok {
			// Absent stripes lying inside a known file size belong to an
			// unreachable archive; anything else is a read past EOF.
			start := blkid * r.cfg.DataSize()
			if strpid < r.cfg.NBData() {
				start += int64(strpid) * r.cfg.ChunkSize()
			}
			if r.missing[name] || (r.filesize >= 0 && start < r.filesize) {
				cb(0, fmt.Errorf("stream: %s: %w", name, xerrors.ErrNotFound))
				return
			}
			cb(0, nil) // reading past EOF
			return
		}
		h := r.handles[archIdx]
		info, err := r.client.Stat(h, name)
		if err != nil {
			cb(0, err)
			return
		}
		size := info.Size
		if int64(len(buf)) < size {
			size = int64(len(buf))
		}
		n, err := r.client.ReadFrom(ctx, h, name, 0, size, buf)
		if err != nil {
			cb(0, err)
			return
		}
		stored, _ := r.client.GetCRC32(h, name)
		got := r.cfg.Digest(0, buf[:n])
		if got != stored {
			cb(0, fmt.Errorf("stream: %s: crc mismatch (got %#x want %#x): %w", name, got, stored, xerrors.ErrDataError))
			return
		}
		cb(n, nil)
	}()
}

// Read serves length bytes starting at offset into buf, looping across
// as many blocks/stripes as needed and returning once every
// contributing stripe read has resolved (spec.md §4.7/§5).
func (r *Reader) Read(ctx context.Context, offset int64, length int, buf []byte) (int, error) {
	if r.filesize >= 0 {
		if offset >= r.filesize {
			return 0, nil
		}
		if offset+int64(length) > r.filesize {
			length = int(r.filesize - offset)
		}
	}

	type result struct {
		n   int
		err error
	}
	var (
		mu         sync.Mutex
		total      int
		firstErr   error
		wg         sync.WaitGroup
		datasize   = r.cfg.DataSize()
		chunksize  = r.cfg.ChunkSize()
		remaining  = length
		curOffset  = offset
		out        = buf
	)

	for remaining > 0 {
		blkid := curOffset / datasize
		strpid := int((curOffset % datasize) / chunksize)
		rdoff := curOffset - blkid*datasize - int64(strpid)*chunksize
		rdsize := chunksize - rdoff
		if rdsize > int64(remaining) {
			rdsize = int64(remaining)
		}

		b := r.currentBlock(blkid)
		dst := out[:rdsize]
		wg.Add(1)
		b.Read(ctx, strpid, int(rdoff), int(rdsize), dst, func(n int, err error) {
			mu.Lock()
			total += n
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			wg.Done()
		})

		out = out[rdsize:]
		curOffset += rdsize
		remaining -= int(rdsize)
	}

	wg.Wait()
	_ = result{}
	return total, firstErr
}

// Close closes every open archive in parallel; no success threshold
// (spec.md §4.7).
func (r *Reader) Close(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range r.handles {
		h := h
		if h == nil {
			continue
		}
		g.Go(func() error {
			return r.client.Close(gctx, h, 0)
		})
	}
	return g.Wait()
}

// FileSize returns the object's authoritative size when known (the
// no-side-car path); returns -1 when unknown, in which case Read and
// VectorRead skip their past-EOF checks.
func (r *Reader) FileSize() int64 { return r.filesize }

// LastBlock returns the highest block id observed across every opened
// archive's central directory.
func (r *Reader) LastBlock() int64 { return r.lstblk }

// Config exposes the object configuration, for repair/CLI composition.
func (r *Reader) Config() *objcfg.Config { return r.cfg }

// Handle returns the archive handle opened at placement index i (nil
// if that archive failed to open).
func (r *Reader) Handle(i int) archive.Handle { return r.handles[i] }

// URLMapLookup resolves a stripe file name to its archive index, for
// repair's metadata cross-check.
func (r *Reader) URLMapLookup(name string) (int, bool) {
	i, ok := r.urlmap[name]
	return i, ok
}
