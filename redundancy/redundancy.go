// Package redundancy implements C2, the Reed-Solomon (Cauchy matrix)
// redundancy provider described in spec.md §4.2: given a block's
// stripes with some marked invalid, it reconstructs the invalid ones
// from the valid ones. For the degenerate nbdata=1 case it falls back
// to pure replication, since a Cauchy matrix of width 1 is just "copy".
package redundancy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/reedsolomon"

	"github.com/xrdec/xrdec/internal/xerrors"
)

// Stripe is one slot passed to Compute: Data holds the stripe's bytes
// (meaningful only when Valid is true on entry; Compute overwrites it
// in place when Valid is false and reconstruction succeeds).
type Stripe struct {
	Data  []byte
	Valid bool
}

// Provider holds the encode matrix (built once) and a cache of decode
// tables keyed by erasure pattern, guarded by a single mutex per
// spec.md §4.2's cache discipline: "a single mutex guards both the
// cache map and table generation".
type Provider struct {
	nbdata   int
	nbparity int

	mu    sync.Mutex
	cache map[string]reedsolomon.Encoder
}

// New constructs a Provider for the given D/P shape. nbparity may be 0,
// in which case Compute is a no-op (no redundancy configured).
func New(nbdata, nbparity int) (*Provider, error) {
	if nbdata < 1 {
		return nil, fmt.Errorf("redundancy: nbdata must be >= 1")
	}
	if nbparity < 0 {
		return nil, fmt.Errorf("redundancy: nbparity must be >= 0")
	}
	return &Provider{
		nbdata:   nbdata,
		nbparity: nbparity,
		cache:    make(map[string]reedsolomon.Encoder),
	}, nil
}

// pattern renders the erasure pattern string: one byte per stripe slot,
// '0' for present, '1' for missing, per spec.md §4.2 step 1.
func pattern(stripes []Stripe) string {
	var b strings.Builder
	b.Grow(len(stripes))
	for _, s := range stripes {
		if s.Valid {
			b.WriteByte('0')
		} else {
			b.WriteByte('1')
		}
	}
	return b.String()
}

// Compute fills every invalid slot in stripes with reconstructed bytes.
// With nbparity 0 it returns nil at once and leaves stripes untouched.
// Otherwise it fails with xerrors.ErrDataError if more than nbparity
// stripes are invalid, or if the erasure pattern has no invertible
// submatrix.
func (p *Provider) Compute(stripes []Stripe) error {
	if len(stripes) != p.nbdata+p.nbparity {
		return fmt.Errorf("redundancy: expected %d stripes, got %d: %w", p.nbdata+p.nbparity, len(stripes), xerrors.ErrInvalidArgs)
	}
	if p.nbparity == 0 {
		return nil
	}

	nMissing := 0
	var size int
	for _, s := range stripes {
		if !s.Valid {
			nMissing++
			continue
		}
		if len(s.Data) > size {
			size = len(s.Data)
		}
	}
	if nMissing == 0 {
		return nil
	}
	if nMissing > p.nbparity {
		return fmt.Errorf("redundancy: %d stripes missing, only %d parity available: %w", nMissing, p.nbparity, xerrors.ErrDataError)
	}

	// Replication fallback: a single data stripe means every parity
	// stripe is just a verbatim copy (spec.md §4.2 step 3).
	if p.nbdata == 1 {
		var source []byte
		for _, s := range stripes {
			if s.Valid {
				source = s.Data
				break
			}
		}
		for i := range stripes {
			if !stripes[i].Valid {
				stripes[i].Data = append([]byte(nil), source...)
				stripes[i].Valid = true
			}
		}
		return nil
	}

	enc, err := p.tableFor(pattern(stripes))
	if err != nil {
		return err
	}

	shards := make([][]byte, len(stripes))
	for i, s := range stripes {
		if s.Valid {
			buf := s.Data
			if len(buf) < size {
				padded := make([]byte, size)
				copy(padded, buf)
				buf = padded
			}
			shards[i] = buf
		} else {
			shards[i] = nil
		}
	}
	if err := enc.Reconstruct(shards); err != nil {
		return fmt.Errorf("redundancy: reconstruct failed: %w: %w", err, xerrors.ErrDataError)
	}
	for i := range stripes {
		if !stripes[i].Valid {
			stripes[i].Data = shards[i]
			stripes[i].Valid = true
		}
	}
	return nil
}

// tableFor returns the cached Reed-Solomon encoder for pat, building
// and caching it on miss. Tables are never evicted during an object's
// lifetime (spec.md §4.2: "pattern space is bounded").
func (p *Provider) tableFor(pat string) (reedsolomon.Encoder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if enc, ok := p.cache[pat]; ok {
		return enc, nil
	}
	enc, err := reedsolomon.New(p.nbdata, p.nbparity, reedsolomon.WithCauchyMatrix())
	if err != nil {
		return nil, fmt.Errorf("redundancy: building Cauchy matrix for pattern %q: %w: %w", pat, err, xerrors.ErrDataError)
	}
	p.cache[pat] = enc
	return enc, nil
}

// Encode computes the nbparity parity stripes from data (exactly
// nbdata slices, all the same length) and returns the full nbchunks
// slice (data followed by parity), used by writebuf.Encode.
func (p *Provider) Encode(data [][]byte) ([][]byte, error) {
	if len(data) != p.nbdata {
		return nil, fmt.Errorf("redundancy: expected %d data shards, got %d: %w", p.nbdata, len(data), xerrors.ErrInvalidArgs)
	}
	if p.nbparity == 0 {
		return append([][]byte(nil), data...), nil
	}
	shards := make([][]byte, p.nbdata+p.nbparity)
	copy(shards, data)
	for i := p.nbdata; i < len(shards); i++ {
		shards[i] = make([]byte, len(data[0]))
	}
	if p.nbdata == 1 {
		for i := p.nbdata; i < len(shards); i++ {
			copy(shards[i], data[0])
		}
		return shards, nil
	}
	enc, err := p.tableFor(strings.Repeat("0", p.nbdata+p.nbparity))
	if err != nil {
		return nil, err
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("redundancy: encode failed: %w", err)
	}
	return shards, nil
}
