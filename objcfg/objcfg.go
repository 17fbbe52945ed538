// Package objcfg holds the description of a single erasure coded
// object: its name, redundancy shape, chunk size, and backend
// placement. Its only state beyond its constructor arguments is the
// placement list, which a repair session may update (spec.md C1).
package objcfg

import (
	"fmt"
	"path"

	"github.com/klauspost/crc32"
)

// DigestFunc computes a running checksum over buf, seeded by seed (0
// for a fresh computation). CRC32C (Castagnoli) is the default per
// spec.md §3; callers may substitute a compatible function.
type DigestFunc func(seed uint32, buf []byte) uint32

// CRC32C is the default DigestFunc, backed by the hardware-accelerated
// Castagnoli implementation.
func CRC32C(seed uint32, buf []byte) uint32 {
	return crc32.Update(seed, crc32.MakeTable(crc32.Castagnoli), buf)
}

// Config is an object configuration. Construct with New; every field
// is fixed at construction except the placement list, which
// SetPlacement can update in place.
type Config struct {
	name         string
	nbdata       int
	nbparity     int
	chunksize    int64
	placement    []string
	replacement  []string
	dataQuery    string
	metaQuery    string
	digest       DigestFunc
	nomtfile     bool
	metadataBase string
}

// Option configures a Config at construction time.
type Option func(*Config)

// WithReplacement sets the replacement placement list consulted by
// repair sessions when redirecting a damaged archive.
func WithReplacement(urls []string) Option {
	return func(c *Config) { c.replacement = append([]string(nil), urls...) }
}

// WithQueryStrings sets the per-URL query strings appended to data and
// metadata file URLs respectively.
func WithQueryStrings(dataQuery, metaQuery string) Option {
	return func(c *Config) { c.dataQuery, c.metaQuery = dataQuery, metaQuery }
}

// WithDigest overrides the default CRC32C digest function.
func WithDigest(fn DigestFunc) Option {
	return func(c *Config) { c.digest = fn }
}

// WithNoMetadataFile suppresses the side-car metadata archive.
func WithNoMetadataFile() Option {
	return func(c *Config) { c.nomtfile = true }
}

// WithMetadataBase sets the URL prefix under which side-car metadata
// replicas are written; defaults to the data placement list itself.
func WithMetadataBase(base string) Option {
	return func(c *Config) { c.metadataBase = base }
}

// New builds a Config. placement must carry at least nbdata+nbparity
// URLs (spec.md §3 invariant |plgr| >= nbchunks); New returns an error
// rather than panicking if it does not, since a caller may construct
// Config from untrusted input (a YAML file, §ambient config).
func New(name string, nbdata, nbparity int, chunksize int64, placement []string, opts ...Option) (*Config, error) {
	if nbdata < 1 {
		return nil, fmt.Errorf("objcfg: nbdata must be >= 1, got %d", nbdata)
	}
	if nbparity < 0 {
		return nil, fmt.Errorf("objcfg: nbparity must be >= 0, got %d", nbparity)
	}
	if chunksize <= 0 {
		return nil, fmt.Errorf("objcfg: chunksize must be > 0, got %d", chunksize)
	}
	nbchunks := nbdata + nbparity
	if len(placement) < nbchunks {
		return nil, fmt.Errorf("objcfg: placement list has %d entries, need >= %d (nbdata+nbparity)", len(placement), nbchunks)
	}
	c := &Config{
		name:      name,
		nbdata:    nbdata,
		nbparity:  nbparity,
		chunksize: chunksize,
		placement: append([]string(nil), placement[:nbchunks]...),
		digest:    CRC32C,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the object's name.
func (c *Config) Name() string { return c.name }

// NBData returns D, the number of data stripes per block.
func (c *Config) NBData() int { return c.nbdata }

// NBParity returns P, the number of parity stripes per block.
func (c *Config) NBParity() int { return c.nbparity }

// NBChunks returns D+P, the total stripes per block.
func (c *Config) NBChunks() int { return c.nbdata + c.nbparity }

// ChunkSize returns the configured bytes-per-stripe.
func (c *Config) ChunkSize() int64 { return c.chunksize }

// DataSize returns D*chunksize, the user bytes held by one block.
func (c *Config) DataSize() int64 { return int64(c.nbdata) * c.chunksize }

// BlockSize returns (D+P)*chunksize, the on-disk footprint of one block.
func (c *Config) BlockSize() int64 { return int64(c.NBChunks()) * c.chunksize }

// NoMetadataFile reports whether the side-car metadata archive is
// suppressed for this object.
func (c *Config) NoMetadataFile() bool { return c.nomtfile }

// Placement returns the data placement list (length NBChunks()).
func (c *Config) Placement() []string { return append([]string(nil), c.placement...) }

// Replacement returns the replacement placement list, possibly empty.
func (c *Config) Replacement() []string { return append([]string(nil), c.replacement...) }

// SetPlacement replaces entry i in the in-memory placement list; used
// by a repair session to record a redirection (spec.md §4.8 Close).
func (c *Config) SetPlacement(i int, url string) {
	if i >= 0 && i < len(c.placement) {
		c.placement[i] = url
	}
}

// DataURL returns the archive URL for placement index i.
func (c *Config) DataURL(i int) string {
	u := path.Join(c.placement[i], c.name)
	if c.dataQuery != "" {
		u += "?" + c.dataQuery
	}
	return u
}

// ReplacementURL returns the archive URL a repair session should open
// for replacement candidate i, joined with the object name the same
// way DataURL joins a placement entry. SetPlacement should still be
// given the raw entry from Replacement(), not this joined form, so a
// later DataURL(i) call recomputes the identical URL.
func (c *Config) ReplacementURL(i int) string {
	u := path.Join(c.replacement[i], c.name)
	if c.dataQuery != "" {
		u += "?" + c.dataQuery
	}
	return u
}

// MetadataURL returns the side-car metadata archive URL for replica
// index i, under base; an empty base falls back to the WithMetadataBase
// prefix, and when that is unset too, to placement entry i.
func (c *Config) MetadataURL(base string, i int) string {
	if base == "" {
		base = c.metadataBase
	}
	if base == "" && i < len(c.placement) {
		base = c.placement[i]
	}
	u := path.Join(base, c.name+".metadata")
	if c.metaQuery != "" {
		u += "?" + c.metaQuery
	}
	return u
}

// StripeFileName returns the member-file name for stripe strp of block
// blk, per spec.md §3: "name.blk.strp".
func (c *Config) StripeFileName(blk, strp int64) string {
	return fmt.Sprintf("%s.%d.%d", c.name, blk, strp)
}

// Digest computes the configured digest over buf, seeded by seed.
func (c *Config) Digest(seed uint32, buf []byte) uint32 {
	return c.digest(seed, buf)
}

// String implements xlog.Subject.
func (c *Config) String() string {
	return fmt.Sprintf("object(%s,d=%d,p=%d,chunk=%d)", c.name, c.nbdata, c.nbparity, c.chunksize)
}
