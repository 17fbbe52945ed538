package writebuf_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrdec/xrdec/internal/workerpool"
	"github.com/xrdec/xrdec/objcfg"
	"github.com/xrdec/xrdec/redundancy"
	"github.com/xrdec/xrdec/writebuf"
)

func newBuf(t *testing.T, nbdata, nbparity int, chunksize int64) *writebuf.WriteBuffer {
	t.Helper()
	cfg, err := objcfg.New("obj", nbdata, nbparity, chunksize, []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	provider, err := redundancy.New(nbdata, nbparity)
	require.NoError(t, err)
	pool := workerpool.New(4)
	return writebuf.New(cfg, provider, pool)
}

func TestWriteAccumulatesUntilComplete(t *testing.T) {
	w := newBuf(t, 2, 1, 4)
	assert.True(t, w.Empty())

	n := w.Write([]byte("AB"))
	assert.Equal(t, 2, n)
	assert.False(t, w.Complete())
	assert.Equal(t, int64(6), w.Remaining())

	n = w.Write([]byte("CDEFGH"))
	assert.Equal(t, 6, n)
	assert.True(t, w.Complete())
	assert.Equal(t, int64(0), w.Remaining())
}

func TestEncodeProducesMatchingCRCsAndRejectsDoubleCall(t *testing.T) {
	w := newBuf(t, 2, 1, 4)
	w.Write([]byte("ABCDEFGH"))
	require.NoError(t, w.Encode(context.Background()))

	for i := 0; i < 3; i++ {
		crc, err := w.CRC32C(i)
		require.NoError(t, err)
		assert.NotZero(t, crc)
		assert.Equal(t, objcfg.CRC32C(0, w.StripeBytes(i)[:w.StripeSize(i)]), crc)
	}

	err := w.Encode(context.Background())
	assert.Error(t, err)
}

func TestEncodeRejectsEmptyBuffer(t *testing.T) {
	w := newBuf(t, 2, 1, 4)
	err := w.Encode(context.Background())
	assert.Error(t, err)
}

func TestStripeSizeForShortFinalBlock(t *testing.T) {
	w := newBuf(t, 2, 1, 4)
	w.Write([]byte("AB")) // only 2 of 8 data bytes, all into stripe 0
	require.NoError(t, w.Encode(context.Background()))

	assert.EqualValues(t, 2, w.StripeSize(0))
	assert.EqualValues(t, 0, w.StripeSize(1))
	// parity stripe mirrors data stripe 0's length, per spec.md §4.5.
	assert.EqualValues(t, 2, w.StripeSize(2))
}

func TestResetClearsBuffer(t *testing.T) {
	w := newBuf(t, 2, 1, 4)
	w.Write([]byte("ABCDEFGH"))
	require.NoError(t, w.Encode(context.Background()))
	w.Reset()
	assert.True(t, w.Empty())
	assert.False(t, w.Complete())
}
