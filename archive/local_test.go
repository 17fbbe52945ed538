package archive_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrdec/xrdec/archive"
	"github.com/xrdec/xrdec/internal/xerrors"
)

func TestAppendReadRoundTripAcrossClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obj.archive")
	c := archive.NewLocalClient()
	ctx := context.Background()

	h, err := c.Open(ctx, path, archive.FlagNew, 0)
	require.NoError(t, err)
	payload := []byte("hello stripe")
	require.NoError(t, c.AppendFile(ctx, h, "obj.0.0", 0xdeadbeef, int64(len(payload)), payload))
	require.NoError(t, c.Close(ctx, h, 0))

	h2, err := c.Open(ctx, path, archive.FlagRead, 0)
	require.NoError(t, err)
	defer c.Close(ctx, h2, 0)

	st, err := c.Stat(h2, "obj.0.0")
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), st.Size)

	buf := make([]byte, len(payload))
	n, err := c.ReadFrom(ctx, h2, "obj.0.0", 0, int64(len(payload)), buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])

	crc, ok := c.GetCRC32(h2, "obj.0.0")
	require.True(t, ok)
	assert.EqualValues(t, 0xdeadbeef, crc)
}

func TestReadMissingMemberReturnsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obj.archive")
	c := archive.NewLocalClient()
	ctx := context.Background()

	h, err := c.Open(ctx, path, archive.FlagNew, 0)
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx, h, 0))

	h2, err := c.Open(ctx, path, archive.FlagRead, 0)
	require.NoError(t, err)
	defer c.Close(ctx, h2, 0)

	_, err = c.Stat(h2, "obj.9.9")
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestWriteIntoFileOverwritesInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obj.archive")
	c := archive.NewLocalClient()
	ctx := context.Background()

	h, err := c.Open(ctx, path, archive.FlagNew, 0)
	require.NoError(t, err)
	payload := []byte("AAAABBBB")
	require.NoError(t, c.AppendFile(ctx, h, "obj.0.0", 1, int64(len(payload)), payload))
	require.NoError(t, c.Close(ctx, h, 0))

	h2, err := c.Open(ctx, path, archive.FlagUpdate, 0)
	require.NoError(t, err)
	require.NoError(t, c.WriteIntoFile(ctx, h2, "obj.0.0", 4, 4, 2, []byte("CCCC")))
	require.NoError(t, c.Close(ctx, h2, 0))

	h3, err := c.Open(ctx, path, archive.FlagRead, 0)
	require.NoError(t, err)
	defer c.Close(ctx, h3, 0)
	buf := make([]byte, 8)
	n, err := c.ReadFrom(ctx, h3, "obj.0.0", 0, 8, buf)
	require.NoError(t, err)
	assert.Equal(t, "AAAACCCC", string(buf[:n]))
}

func TestXAttrRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obj.archive")
	c := archive.NewLocalClient()
	ctx := context.Background()

	h, err := c.Open(ctx, path, archive.FlagNew, 0)
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx, h, 0))

	h2, err := c.Open(ctx, path, archive.FlagUpdate, 0)
	require.NoError(t, err)
	defer c.Close(ctx, h2, 0)

	require.NoError(t, c.SetXAttr(ctx, h2, map[string][]byte{"xrdec.filesize": archive.FormatUint64(4096)}))
	v, err := c.GetXAttr(ctx, h2, "xrdec.filesize")
	require.NoError(t, err)
	n, err := archive.ParseUint64(v)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, n)
}
