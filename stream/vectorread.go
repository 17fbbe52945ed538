package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/xrdec/xrdec/archive"
	"github.com/xrdec/xrdec/internal/xerrors"
	"github.com/xrdec/xrdec/internal/xlog"
)

// maxVectorChunks bounds a single VectorRead request, per spec.md §4.7.
const maxVectorChunks = 1024

// VectorReadChunk is one requested sub-range; Buf is filled in place.
type VectorReadChunk struct {
	Offset int64
	Size   int
	Buf    []byte
}

// VectorReadResult reports the outcome of one requested chunk.
type VectorReadResult struct {
	N   int
	Err error
}

type vecStripeKey struct {
	blkid  int64
	strpid int
}

// vecPart is one contribution a requested chunk needs from a stripe's
// fetched bytes.
type vecPart struct {
	key       vecStripeKey
	stripeOff int
	size      int
	dstOff    int
}

// VectorRead serves a batch of possibly-discontiguous ranges in one
// call per spec.md §4.7 step 2-5: it derives the deduplicated set of
// covering (archive, blkid, strpid) triples, groups them per archive
// into archive.Client.VectorRead batches of <=1024 sub-ranges, and
// falls back to a single-stripe block-cache read (which drives normal
// error_correction) for any stripe whose archive is unknown or whose
// vector sub-read fails CRC or I/O. Once every fetch and fallback
// recovery resolves, it copies the requested byte ranges out of the
// fetched stripe buffers into the caller's buffers.
func (r *Reader) VectorRead(ctx context.Context, chunks []VectorReadChunk) ([]VectorReadResult, error) {
	if len(chunks) > maxVectorChunks {
		return nil, fmt.Errorf("stream: vector read: %d chunks exceeds max %d: %w", len(chunks), maxVectorChunks, xerrors.ErrInvalidArgs)
	}
	results := make([]VectorReadResult, len(chunks))

	datasize := r.cfg.DataSize()
	chunksize := r.cfg.ChunkSize()

	chunkParts := make([][]vecPart, len(chunks))
	stripesNeeded := make(map[vecStripeKey]struct{})

	for ci := range chunks {
		c := chunks[ci]
		if r.filesize >= 0 && c.Offset+int64(c.Size) > r.filesize {
			results[ci] = VectorReadResult{Err: fmt.Errorf("stream: vector read chunk %d past EOF: %w", ci, xerrors.ErrInvalidArgs)}
			continue
		}

		remaining := c.Size
		curOffset := c.Offset
		dstOff := 0
		for remaining > 0 {
			blkid := curOffset / datasize
			strpid := int((curOffset % datasize) / chunksize)
			rdoff := curOffset - blkid*datasize - int64(strpid)*chunksize
			rdsize := chunksize - rdoff
			if rdsize > int64(remaining) {
				rdsize = int64(remaining)
			}
			key := vecStripeKey{blkid, strpid}
			chunkParts[ci] = append(chunkParts[ci], vecPart{key: key, stripeOff: int(rdoff), size: int(rdsize), dstOff: dstOff})
			stripesNeeded[key] = struct{}{}

			curOffset += rdsize
			dstOff += int(rdsize)
			remaining -= int(rdsize)
		}
	}

	byArchive := make(map[int][]vecStripeKey)
	var needRecovery []vecStripeKey
	for key := range stripesNeeded {
		name := r.cfg.StripeFileName(key.blkid, int64(key.strpid))
		archIdx, ok := r.urlmap[name]
		if !ok || r.handles[archIdx] == nil {
			needRecovery = append(needRecovery, key)
			continue
		}
		byArchive[archIdx] = append(byArchive[archIdx], key)
	}

	stripeData := make(map[vecStripeKey][]byte, len(stripesNeeded))
	stripeErr := make(map[vecStripeKey]error, len(stripesNeeded))
	var dataMu sync.Mutex
	var failedMu sync.Mutex
	var failed []vecStripeKey
	var wg sync.WaitGroup

	for archIdx, keys := range byArchive {
		archIdx, keys := archIdx, keys
		wg.Add(1)
		go func() {
			defer wg.Done()
			good, bad := r.vectorFetchArchive(ctx, archIdx, keys)
			dataMu.Lock()
			for k, d := range good {
				stripeData[k] = d
			}
			dataMu.Unlock()
			if len(bad) > 0 {
				failedMu.Lock()
				failed = append(failed, bad...)
				failedMu.Unlock()
			}
		}()
	}
	wg.Wait()

	failed = append(failed, needRecovery...)
	if len(failed) > 0 {
		r.recoverStripes(ctx, failed, stripeData, stripeErr, &dataMu)
	}

	for ci := range chunks {
		if results[ci].Err != nil {
			continue
		}
		var total int
		var ferr error
		for _, p := range chunkParts[ci] {
			if ferr != nil {
				break
			}
			if e := stripeErr[p.key]; e != nil {
				ferr = fmt.Errorf("stream: vector read: stripe (%d,%d): %w", p.key.blkid, p.key.strpid, e)
				break
			}
			data := stripeData[p.key]
			end := p.stripeOff + p.size
			if end > len(data) {
				end = len(data)
			}
			if p.stripeOff < end {
				total += copy(chunks[ci].Buf[p.dstOff:p.dstOff+p.size], data[p.stripeOff:end])
			}
		}
		results[ci] = VectorReadResult{N: total, Err: ferr}
	}

	for i, res := range results {
		if res.Err != nil {
			xlog.Warnf(r.cfg, "vector read chunk %d failed: %v", i, res.Err)
		}
	}
	return results, nil
}

type vecPlanned struct {
	key  vecStripeKey
	name string
	size int64
	off  uint64
}

// vectorFetchArchive batches keys (all resolved to archIdx) into
// archive.Client.VectorRead requests of at most maxVectorChunks
// sub-ranges, verifies each returned stripe's CRC against the central
// directory, and reports which stripes came back good versus which
// need the block-cache recovery fallback (stat/offset lookup failure,
// I/O error, or CRC mismatch).
func (r *Reader) vectorFetchArchive(ctx context.Context, archIdx int, keys []vecStripeKey) (map[vecStripeKey][]byte, []vecStripeKey) {
	h := r.handles[archIdx]

	var plan []vecPlanned
	var failed []vecStripeKey
	for _, key := range keys {
		name := r.cfg.StripeFileName(key.blkid, int64(key.strpid))
		info, err := r.client.Stat(h, name)
		if err != nil {
			failed = append(failed, key)
			continue
		}
		off, ok := r.client.GetOffset(h, name)
		if !ok {
			failed = append(failed, key)
			continue
		}
		plan = append(plan, vecPlanned{key: key, name: name, size: info.Size, off: off})
	}

	good := make(map[vecStripeKey][]byte, len(plan))
	for start := 0; start < len(plan); start += maxVectorChunks {
		end := start + maxVectorChunks
		if end > len(plan) {
			end = len(plan)
		}
		batch := plan[start:end]

		vchunks := make([]archive.VectorChunk, len(batch))
		for i, p := range batch {
			vchunks[i] = archive.VectorChunk{Offset: int64(p.off), Size: p.size, Buf: make([]byte, p.size)}
		}

		info, err := r.client.VectorRead(ctx, h, vchunks, 0)
		if err != nil {
			xlog.Warnf(r.cfg, "vector read on archive %d failed: %v", archIdx, err)
			for _, p := range batch {
				failed = append(failed, p.key)
			}
			continue
		}
		for i, p := range batch {
			if info.Errs[i] != nil {
				failed = append(failed, p.key)
				continue
			}
			n := info.BytesRead[i]
			data := vchunks[i].Buf[:n]
			stored, _ := r.client.GetCRC32(h, p.name)
			if got := r.cfg.Digest(0, data); got != stored {
				xlog.Warnf(r.cfg, "vector read: %s crc mismatch (got %#x want %#x)", p.name, got, stored)
				failed = append(failed, p.key)
				continue
			}
			good[p.key] = data
		}
	}
	return good, failed
}

// recoverStripes fetches each key through the ordinary block cache (a
// full-stripe Read at offset 0), the same path a random Read uses,
// which transparently drives error_correction for any stripe whose
// vector-read attempt failed. Results are written into data/errs under
// mu, shared with the caller's stripe outcome maps.
func (r *Reader) recoverStripes(ctx context.Context, keys []vecStripeKey, data map[vecStripeKey][]byte, errs map[vecStripeKey]error, mu *sync.Mutex) {
	chunksize := int(r.cfg.ChunkSize())
	var wg sync.WaitGroup
	for _, key := range keys {
		key := key
		b := r.currentBlock(key.blkid)
		buf := make([]byte, chunksize)
		wg.Add(1)
		b.Read(ctx, key.strpid, 0, chunksize, buf, func(n int, err error) {
			mu.Lock()
			if err != nil {
				errs[key] = err
			} else {
				data[key] = append([]byte(nil), buf[:n]...)
			}
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
}
