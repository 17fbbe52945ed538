// Package block implements C3: the per-block stripe cache. A Block
// caches every stripe of one logical block, coalesces concurrent reads
// against the same stripe, and drives Reed-Solomon reconstruction via
// the redundancy provider when stripes are missing or corrupt.
//
// Grounded on the coalescing pattern of storj's eestream.StripeReader
// (per-piece buffers behind a condition variable) and on the
// degraded-read bookkeeping of rclone's backend/raid3 heal path,
// generalized from "2 of 3 particles" to "nbdata of nbchunks stripes".
package block

import (
	"context"
	"fmt"
	"sync"

	"github.com/xrdec/xrdec/internal/xlog"
	"github.com/xrdec/xrdec/redundancy"
)

// State is a stripe's position in the per-stripe state machine of
// spec.md §4.3.
type State int

const (
	// Empty: never requested.
	Empty State = iota
	// Loading: a fetch is outstanding.
	Loading
	// Valid: bytes are present and immutable for the block's lifetime.
	Valid
	// Missing: the fetch failed and no recovery is underway.
	Missing
	// Recovering: error_correction has decided to reconstruct this
	// stripe and is waiting on enough valid siblings.
	Recovering
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Loading:
		return "loading"
	case Valid:
		return "valid"
	case Missing:
		return "missing"
	case Recovering:
		return "recovering"
	default:
		return "unknown"
	}
}

type stripe struct {
	state State
	data  []byte
}

type pendingRead struct {
	offset int
	size   int
	buf    []byte
	cb     func(n int, err error)
}

// Fetcher is implemented by the owning Reader (stream.Reader). A Block
// never imports stream directly — spec.md §9 models the block→Reader
// link as a non-owning back-reference, here an interface, to avoid a
// package cycle between block and stream.
type Fetcher interface {
	// FetchStripe issues an archive read for stripe strpid of blkid
	// into buf and invokes cb with the number of bytes read (or an
	// error) once the fetch completes. Always async: cb may run on a
	// different goroutine, never inline within FetchStripe.
	FetchStripe(ctx context.Context, blkid int64, strpid int, buf []byte, cb func(n int, err error))
}

// Block caches the nbchunks stripes of one block. Allocate via
// blockpool.Pool.Acquire in production; tests may construct directly
// with New.
type Block struct {
	mu sync.Mutex

	blkid    int64
	nbdata   int
	nbparity int
	chunk    int64

	fetcher  Fetcher
	provider *redundancy.Provider

	stripes []stripe
	pending [][]pendingRead

	recovering int

	refs   int    // outstanding (unresolved) Read calls
	onIdle func() // set by blockpool.Pool.Release when refs > 0
}

// New constructs a Block for blkid. nbdata+nbparity stripes are
// allocated, each Empty.
func New(blkid int64, nbdata, nbparity int, chunksize int64, fetcher Fetcher, provider *redundancy.Provider) *Block {
	b := &Block{
		blkid:    blkid,
		nbdata:   nbdata,
		nbparity: nbparity,
		chunk:    chunksize,
		fetcher:  fetcher,
		provider: provider,
	}
	b.Reset(blkid)
	return b
}

// Reset reinitializes the block for reuse with a new blkid, clearing
// every stripe to Empty and every pending queue — the blockpool.Pool
// recycling contract of spec.md §4.4. Stripe buffers are reused
// (truncated to zero length, not reallocated) when already sized for
// chunksize.
func (b *Block) Reset(blkid int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.nbdata + b.nbparity
	if b.stripes == nil {
		b.stripes = make([]stripe, n)
		b.pending = make([][]pendingRead, n)
	}
	for i := 0; i < n; i++ {
		b.stripes[i].state = Empty
		if cap(b.stripes[i].data) > 0 {
			b.stripes[i].data = b.stripes[i].data[:0]
		} else {
			b.stripes[i].data = nil
		}
		b.pending[i] = b.pending[i][:0]
	}
	b.blkid = blkid
	b.recovering = 0
	b.refs = 0
	b.onIdle = nil
}

// Idle reports whether every Read call issued against this block has
// resolved its callback. blockpool.Pool consults this (via OnIdle)
// before recycling the block, per spec.md §9's shared-ownership handle:
// a block must survive pool recycling until its last pending read
// resolves, since Reader.Read can issue reads against several blocks
// in flight before any of them completes.
func (b *Block) Idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs == 0
}

// OnIdle arranges for cb to run once the block becomes Idle. If it is
// already idle, cb runs synchronously on the caller's goroutine.
func (b *Block) OnIdle(cb func()) {
	b.mu.Lock()
	if b.refs == 0 {
		b.mu.Unlock()
		cb()
		return
	}
	b.onIdle = cb
	b.mu.Unlock()
}

// retain marks one more Read call as outstanding against this block.
func (b *Block) retain() {
	b.mu.Lock()
	b.refs++
	b.mu.Unlock()
}

// release marks one outstanding Read call as resolved, firing the
// pool's pending onIdle callback once the last one clears.
func (b *Block) release() {
	b.mu.Lock()
	b.refs--
	var cb func()
	if b.refs == 0 {
		cb = b.onIdle
		b.onIdle = nil
	}
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// BlockID returns the identifier this block currently caches.
func (b *Block) BlockID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blkid
}

// String implements xlog.Subject.
func (b *Block) String() string { return fmt.Sprintf("block(%d)", b.BlockID()) }

// StateOf returns the current state of stripe strpid, for tests and
// diagnostics.
func (b *Block) StateOf(strpid int) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stripes[strpid].state
}

// StripeData returns a snapshot of stripe strpid's bytes and state. A
// repair session uses this to recover the bytes error_correction
// reconstructed, so it can write them back to the archive that lost
// them (spec.md §4.8 WriteChunk).
func (b *Block) StripeData(strpid int) ([]byte, State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &b.stripes[strpid]
	return append([]byte(nil), s.data...), s.state
}

// Read asynchronously serves size bytes starting at offset within
// stripe strpid into buf, invoking cb exactly once. Spec.md §4.3:
// serves from cache if Valid, enqueues if Loading/Recovering, issues a
// fetch if Empty, and triggers error_correction if Missing.
func (b *Block) Read(ctx context.Context, strpid int, offset, size int, buf []byte, cb func(n int, err error)) {
	b.retain()
	done := func(n int, err error) {
		defer b.release()
		cb(n, err)
	}

	b.mu.Lock()

	s := &b.stripes[strpid]
	switch s.state {
	case Valid:
		n := copy(buf, s.data[offset:min(offset+size, len(s.data))])
		b.mu.Unlock()
		done(n, nil)
		return
	case Loading, Recovering:
		b.pending[strpid] = append(b.pending[strpid], pendingRead{offset: offset, size: size, buf: buf, cb: done})
		b.mu.Unlock()
		return
	case Empty:
		b.pending[strpid] = append(b.pending[strpid], pendingRead{offset: offset, size: size, buf: buf, cb: done})
		s.state = Loading
		if cap(s.data) < int(b.chunk) {
			s.data = make([]byte, b.chunk)
		} else {
			s.data = s.data[:b.chunk]
		}
		fetchBuf := s.data
		b.mu.Unlock()
		xlog.Debugf(b, "stripe %d empty, issuing fetch", strpid)
		b.fetcher.FetchStripe(ctx, b.blkid, strpid, fetchBuf, func(n int, err error) {
			b.onStripeArrival(ctx, strpid, n, err)
		})
		return
	case Missing:
		b.pending[strpid] = append(b.pending[strpid], pendingRead{offset: offset, size: size, buf: buf, cb: done})
		b.mu.Unlock()
		b.errorCorrection(ctx)
		return
	default:
		b.mu.Unlock()
		done(0, fmt.Errorf("block: stripe %d in impossible state", strpid))
		return
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// onStripeArrival is the fetch completion callback of spec.md §4.3.
func (b *Block) onStripeArrival(ctx context.Context, strpid int, n int, err error) {
	b.mu.Lock()
	s := &b.stripes[strpid]
	if err != nil {
		s.state = Missing
		xlog.Warnf(b, "stripe %d fetch failed: %v", strpid, err)
	} else {
		s.data = s.data[:n]
		s.state = Valid
	}
	b.mu.Unlock()

	b.errorCorrection(ctx)

	if err == nil {
		b.drainPending(strpid)
	}
}

// drainPending resolves every pending read against stripe strpid's now-
// Valid buffer, in FIFO arrival order, and invokes callbacks after
// releasing the lock (spec.md §5 ordering guarantee).
func (b *Block) drainPending(strpid int) {
	b.mu.Lock()
	s := &b.stripes[strpid]
	if s.state != Valid {
		b.mu.Unlock()
		return
	}
	reads := b.pending[strpid]
	b.pending[strpid] = nil
	data := s.data
	b.mu.Unlock()

	for _, r := range reads {
		end := r.offset + r.size
		if end > len(data) {
			end = len(data)
		}
		if r.offset >= end {
			r.cb(0, nil)
			continue
		}
		n := copy(r.buf, data[r.offset:end])
		r.cb(n, nil)
	}
}

// failPending fails every pending read against strpid with err.
func (b *Block) failPending(strpid int, err error) {
	b.mu.Lock()
	reads := b.pending[strpid]
	b.pending[strpid] = nil
	b.mu.Unlock()
	for _, r := range reads {
		r.cb(0, err)
	}
}

// failAllPending fails every pending read in the block with err — the
// terminal-block-failure path of spec.md §4.3/§7.
func (b *Block) failAllPending(err error) {
	b.mu.Lock()
	var all [][]pendingRead
	for i := range b.pending {
		all = append(all, b.pending[i])
		b.pending[i] = nil
	}
	b.mu.Unlock()
	for _, reads := range all {
		for _, r := range reads {
			r.cb(0, err)
		}
	}
}
