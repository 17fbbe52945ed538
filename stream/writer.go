// Package stream implements C6 (the stream writer) and C7 (the
// reader, including vector read): the object-level orchestrators that
// align user I/O to block boundaries and interpret the on-disk archive
// layout. Grounded on rclone's backend/raid3 (parallel open/close with
// threshold semantics, shuffle-then-retry placement) generalized from
// three fixed remotes to a configurable nbdata+nbparity placement list,
// and on aistore's ec putjogger/getjogger for the shuffle-and-retry
// append loop.
package stream

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xrdec/xrdec/archive"
	"github.com/xrdec/xrdec/internal/workerpool"
	"github.com/xrdec/xrdec/internal/xerrors"
	"github.com/xrdec/xrdec/internal/xlog"
	"github.com/xrdec/xrdec/objcfg"
	"github.com/xrdec/xrdec/redundancy"
	"github.com/xrdec/xrdec/writebuf"
)

// placementRand is the process-global PRNG spec.md §9 describes as "an
// implementation-private detail" — seeded once from the clock, not
// required to be reproducible across runs.
var (
	placementMu   sync.Mutex
	placementRand = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func shuffledArchives(n int) []int {
	placementMu.Lock()
	defer placementMu.Unlock()
	perm := placementRand.Perm(n)
	return perm
}

// Writer implements C6. Construct one per object write session.
type Writer struct {
	cfg      *objcfg.Config
	client   archive.Client
	provider *redundancy.Provider
	pool     *workerpool.Pool

	handles []archive.Handle

	statusMu sync.Mutex
	status   error

	blknb       int64
	outstanding int64
	outMu       sync.Mutex

	curBuf      *writebuf.WriteBuffer
	lastWritten int64
}

// NewWriter constructs a Writer for cfg using client for archive I/O
// and pool for CPU-bound CRC/RS work.
func NewWriter(cfg *objcfg.Config, client archive.Client, provider *redundancy.Provider, pool *workerpool.Pool) *Writer {
	return &Writer{cfg: cfg, client: client, provider: provider, pool: pool, blknb: -1}
}

func (w *Writer) setStatus(err error) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	if w.status == nil {
		w.status = err
	}
}

// Status returns the writer's global status: nil until the first
// error, after which every public method short-circuits with it
// (spec.md §5/§7).
func (w *Writer) Status() error {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	return w.status
}

// Open opens all nbchunks archives in parallel for create+write. The
// open succeeds only when every archive opens (spec.md §4.6).
func (w *Writer) Open(ctx context.Context) error {
	if err := w.Status(); err != nil {
		return err
	}
	n := w.cfg.NBChunks()
	w.handles = make([]archive.Handle, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			h, err := w.client.Open(gctx, w.cfg.DataURL(i), archive.FlagNew, 0)
			if err != nil {
				return fmt.Errorf("stream: writer open archive %d (%s): %w", i, w.cfg.DataURL(i), err)
			}
			w.handles[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.setStatus(err)
		return err
	}
	w.curBuf = writebuf.New(w.cfg, w.provider, w.pool)
	xlog.Infof(w.cfg, "writer opened all %d archives", n)
	return nil
}

// Write copies size bytes from buf into the current write buffer,
// flushing complete blocks through writeBuff. Errors are surfaced only
// through Close, per spec.md §4.6.
func (w *Writer) Write(ctx context.Context, buf []byte) (int, error) {
	if err := w.Status(); err != nil {
		return 0, err
	}
	w.outMu.Lock()
	w.outstanding += int64(len(buf))
	w.outMu.Unlock()

	total := 0
	for len(buf) > 0 {
		n := w.curBuf.Write(buf)
		buf = buf[n:]
		total += n
		if w.curBuf.Complete() {
			full := w.curBuf
			w.curBuf = writebuf.New(w.cfg, w.provider, w.pool)
			if err := w.writeBuff(ctx, full); err != nil {
				w.setStatus(err)
				return total, err
			}
		}
	}
	return total, nil
}

// writeBuff is the core placement algorithm of spec.md §4.6.
func (w *Writer) writeBuff(ctx context.Context, buf *writebuf.WriteBuffer) error {
	if buf.Empty() {
		return nil
	}
	if err := buf.Encode(ctx); err != nil {
		return fmt.Errorf("stream: encode block: %w", err)
	}

	blknb := w.blknb + 1
	w.blknb = blknb
	w.lastWritten = buf.Written()
	w.outMu.Lock()
	w.outstanding -= buf.Written()
	w.outMu.Unlock()

	n := w.cfg.NBChunks()
	fifo := shuffledArchives(n)

	successes := 0
	for s := 0; s < n; s++ {
		name := w.cfg.StripeFileName(blknb, int64(s))
		size := buf.StripeSize(s)
		payload := buf.StripeBytes(s)[:size]
		crc, err := buf.CRC32C(s)
		if err != nil {
			return fmt.Errorf("stream: stripe %d crc: %w", s, err)
		}

		ok := false
		for len(fifo) > 0 {
			a := fifo[0]
			fifo = fifo[1:]
			if err := w.client.AppendFile(ctx, w.handles[a], name, crc, size, payload); err != nil {
				xlog.Warnf(w.cfg, "append stripe %d to archive %d failed, retrying: %v", s, a, err)
				continue
			}
			ok = true
			break
		}
		if !ok {
			xlog.Errorf(w.cfg, "block %d stripe %d: every archive rejected the append", blknb, s)
			continue
		}
		successes++
	}

	if successes < w.cfg.NBData()+w.cfg.NBParity() {
		return fmt.Errorf("stream: block %d: only %d/%d stripes written: %w", blknb, successes, n, xerrors.ErrNoMoreReplicas)
	}
	return nil
}

// Close drains any partial write buffer, then in parallel writes the
// filesize/version xattrs, closes every archive, and (unless
// nomtfile) writes the side-car metadata replicas.
func (w *Writer) Close(ctx context.Context) error {
	if w.curBuf != nil && !w.curBuf.Empty() {
		if err := w.writeBuff(ctx, w.curBuf); err != nil {
			w.setStatus(err)
		}
	}

	var totalSize int64
	if w.blknb >= 0 {
		totalSize = w.blknb*w.cfg.DataSize() + w.lastWritten
	}
	n := w.cfg.NBChunks()

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	closed := 0
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			h := w.handles[i]
			if h == nil {
				return nil
			}
			now := []byte(fmt.Sprintf("%d", time.Now().Unix()))
			size := archive.FormatUint64(uint64(totalSize))
			if err := w.client.SetXAttr(gctx, h, map[string][]byte{"xrdec.filesize": size, "xrdec.strpver": now}); err != nil {
				xlog.Warnf(w.cfg, "archive %d: set xattr failed: %v", i, err)
			}
			if err := w.client.Close(gctx, h, 0); err != nil {
				return fmt.Errorf("stream: closing archive %d: %w", i, err)
			}
			mu.Lock()
			closed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if closed < n {
		err := fmt.Errorf("stream: only %d/%d archives closed: %w", closed, n, xerrors.ErrNoMoreReplicas)
		w.setStatus(err)
		return err
	}

	if !w.cfg.NoMetadataFile() {
		if err := w.writeMetadataReplicas(ctx); err != nil {
			w.setStatus(err)
			return err
		}
	}
	return w.Status()
}

// writeMetadataReplicas writes the side-car metadata archive — every
// data archive's central directory, stored as a member named by
// archive index — to nbchunks distinct metadata URLs. Succeeds if at
// least nbparity+1 replicas were written (spec.md §4.6).
func (w *Writer) writeMetadataReplicas(ctx context.Context) error {
	n := w.cfg.NBChunks()
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	written := 0
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			url := w.cfg.MetadataURL("", i)
			mh, err := w.client.Open(gctx, url, archive.FlagNew, 0)
			if err != nil {
				xlog.Warnf(w.cfg, "metadata replica %d: open failed: %v", i, err)
				return nil
			}
			for archIdx, h := range w.handles {
				cd := h.CentralDirectory()
				var payload []byte
				for _, rec := range cd.Records {
					payload = append(payload, rec.Marshal()...)
				}
				crc := w.cfg.Digest(0, payload)
				name := fmt.Sprintf("%d", archIdx)
				if err := w.client.AppendFile(gctx, mh, name, crc, int64(len(payload)), payload); err != nil {
					xlog.Warnf(w.cfg, "metadata replica %d: writing member %s failed: %v", i, name, err)
				}
			}
			if err := w.client.Close(gctx, mh, 0); err != nil {
				xlog.Warnf(w.cfg, "metadata replica %d: close failed: %v", i, err)
				return nil
			}
			mu.Lock()
			written++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if written < w.cfg.NBParity()+1 {
		return fmt.Errorf("stream: only %d/%d metadata replicas written: %w", written, n, xerrors.ErrNoMoreReplicas)
	}
	return nil
}
