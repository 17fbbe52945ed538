package block

import (
	"context"

	"github.com/xrdec/xrdec/internal/xerrors"
	"github.com/xrdec/xrdec/internal/xlog"
	"github.com/xrdec/xrdec/redundancy"
)

// errorCorrection implements spec.md §4.3's error_correction procedure.
// It is invoked after every stripe-state transition that could change
// the block's recoverability: a fetch failure, a fetch success (in
// case other stripes are waiting on recovery), and a direct Missing
// read.
func (b *Block) errorCorrection(ctx context.Context) {
	b.mu.Lock()

	var nValid, nLoading, nMissing, nRecovering, nEmpty int
	for i := range b.stripes {
		switch b.stripes[i].state {
		case Valid:
			nValid++
		case Loading:
			nLoading++
		case Missing:
			nMissing++
		case Recovering:
			nRecovering++
		case Empty:
			nEmpty++
		}
	}

	if nMissing+nRecovering == 0 {
		b.mu.Unlock()
		return
	}

	if nMissing+nRecovering > b.nbparity {
		// Demote every Recovering stripe back to Missing: recovery is
		// no longer feasible for this block.
		var failedStripes []int
		for i := range b.stripes {
			if b.stripes[i].state == Recovering {
				b.stripes[i].state = Missing
			}
			if b.stripes[i].state == Missing {
				failedStripes = append(failedStripes, i)
			}
		}
		b.mu.Unlock()
		xlog.Errorf(b, "unrecoverable: %d stripes missing/recovering, parity budget %d", nMissing+nRecovering, b.nbparity)
		b.failAllPending(unrecoverableErr())
		return
	}

	if nValid >= b.nbdata {
		// Enough valid siblings to attempt reconstruction now. Promote
		// any stripe still sitting in Missing (not yet picked up by a
		// prior pass through the "need more data" branch below) to
		// Recovering first, so its pending reads are drained below
		// instead of being silently reconstructed into the shard array
		// and then discarded along with its waiting callbacks.
		for i := range b.stripes {
			if b.stripes[i].state == Missing {
				b.stripes[i].state = Recovering
			}
		}
		stripes := make([]redundancy.Stripe, len(b.stripes))
		recoveringIdx := make([]int, 0, nRecovering)
		for i := range b.stripes {
			switch b.stripes[i].state {
			case Valid:
				stripes[i] = redundancy.Stripe{Data: b.stripes[i].data, Valid: true}
			case Recovering:
				stripes[i] = redundancy.Stripe{Data: make([]byte, b.chunk), Valid: false}
				recoveringIdx = append(recoveringIdx, i)
			default:
				stripes[i] = redundancy.Stripe{Data: make([]byte, b.chunk), Valid: false}
			}
		}
		err := b.provider.Compute(stripes)
		if err != nil {
			for _, i := range recoveringIdx {
				b.stripes[i].state = Missing
			}
			b.mu.Unlock()
			xlog.Errorf(b, "reconstruction failed: %v", err)
			b.failAllPending(err)
			return
		}
		for _, i := range recoveringIdx {
			b.stripes[i].data = stripes[i].Data
			b.stripes[i].state = Valid
		}
		b.mu.Unlock()
		xlog.Debugf(b, "reconstructed %d stripes", len(recoveringIdx))
		for _, i := range recoveringIdx {
			b.drainPending(i)
		}
		return
	}

	// Need more data: issue fetches for up to nbdata-(loading+valid)
	// Empty stripes, and mark every remaining Missing as Recovering so
	// a later arrival can retrigger this procedure.
	want := b.nbdata - (nLoading + nValid)
	type fetchJob struct {
		strpid int
		buf    []byte
	}
	var jobs []fetchJob
	for i := range b.stripes {
		if want <= 0 {
			break
		}
		if b.stripes[i].state == Empty {
			b.stripes[i].state = Loading
			if cap(b.stripes[i].data) < int(b.chunk) {
				b.stripes[i].data = make([]byte, b.chunk)
			} else {
				b.stripes[i].data = b.stripes[i].data[:b.chunk]
			}
			jobs = append(jobs, fetchJob{strpid: i, buf: b.stripes[i].data})
			want--
		}
	}
	for i := range b.stripes {
		if b.stripes[i].state == Missing {
			b.stripes[i].state = Recovering
		}
	}
	b.mu.Unlock()

	for _, j := range jobs {
		strpid := j.strpid
		xlog.Debugf(b, "issuing recovery fetch for stripe %d", strpid)
		b.fetcher.FetchStripe(ctx, b.blkid, strpid, j.buf, func(n int, err error) {
			b.onStripeArrival(ctx, strpid, n, err)
		})
	}
}

func unrecoverableErr() error {
	return errDataErrorf("block: unrecoverable, more than nbparity stripes missing")
}

func errDataErrorf(msg string) error {
	return &wrappedDataError{msg: msg}
}

type wrappedDataError struct{ msg string }

func (e *wrappedDataError) Error() string { return e.msg }
func (e *wrappedDataError) Unwrap() error { return xerrors.ErrDataError }
