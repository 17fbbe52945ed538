// Package blockpool implements C4: a bounded pool of reusable blocks
// with blocking acquisition, generalized from the dedup'd buffered
// upload queue of rclone's backend/raid3 heal path (a capacity-bounded
// channel plus a mutex-guarded membership map) into a true object pool
// with condition-variable blocking per spec.md §4.4 / XrdEcBlkPool.hh.
package blockpool

import (
	"sync"

	"github.com/xrdec/xrdec/block"
	"github.com/xrdec/xrdec/redundancy"
)

// DefaultCapacity mirrors the reference implementation's default
// totalsize of 1024 recyclable blocks.
const DefaultCapacity = 1024

// Pool is a process-wide singleton in the reference design (spec.md
// §9); construct exactly one per running process and pass it by
// reference into every Reader/Writer/Repair session.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	inUse    int
	free     []*block.Block
}

// New constructs a Pool bounded at capacity live blocks. capacity <= 0
// falls back to DefaultCapacity.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pool{capacity: capacity}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire returns a Block for blkid, either recycling the queue head,
// constructing a new block if below capacity, or blocking until a
// block is Released. nbdata, nbparity, chunksize, and fetcher describe
// the block to (re)initialize — every block handed out has every
// stripe Empty, per spec.md §4.4's invariant.
func (p *Pool) Acquire(blkid int64, nbdata, nbparity int, chunksize int64, fetcher block.Fetcher, provider *redundancy.Provider) *block.Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if n := len(p.free); n > 0 {
			b := p.free[0]
			p.free = p.free[1:]
			p.inUse++
			b.Reset(blkid)
			return b
		}
		if p.inUse < p.capacity {
			p.inUse++
			return block.New(blkid, nbdata, nbparity, chunksize, fetcher, provider)
		}
		p.cond.Wait()
	}
}

// Release returns b to the pool and wakes one waiter. A caller may
// Release a block while reads it issued earlier are still outstanding
// (stream.Reader pipelines reads across several blocks within one
// Read call before waiting on any of them); b.OnIdle defers the actual
// recycling until the block's last pending read resolves, so Acquire
// never hands out a block whose callbacks haven't all fired yet
// (spec.md §9's shared-ownership handle).
func (p *Pool) Release(b *block.Block) {
	b.OnIdle(func() {
		p.mu.Lock()
		p.free = append(p.free, b)
		p.inUse--
		p.mu.Unlock()
		p.cond.Signal()
	})
}

// Len reports the number of currently-recyclable (idle) blocks, for
// tests and diagnostics.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
