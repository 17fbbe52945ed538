package objcfg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrdec/xrdec/objcfg"
)

func TestNewRejectsShortPlacement(t *testing.T) {
	_, err := objcfg.New("obj", 3, 2, 1024, []string{"a", "b"})
	require.Error(t, err)
}

func TestNewTruncatesExtraPlacement(t *testing.T) {
	cfg, err := objcfg.New("obj", 2, 1, 1024, []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Placement())
}

func TestDerivedSizes(t *testing.T) {
	cfg, err := objcfg.New("obj", 3, 2, 1024, []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Equal(t, int64(3072), cfg.DataSize())
	assert.Equal(t, int64(5120), cfg.BlockSize())
	assert.Equal(t, 5, cfg.NBChunks())
}

func TestStripeFileName(t *testing.T) {
	cfg, err := objcfg.New("obj", 2, 1, 1024, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, "obj.7.2", cfg.StripeFileName(7, 2))
}

func TestDataURLIncludesQuery(t *testing.T) {
	cfg, err := objcfg.New("obj", 2, 1, 1024, []string{"a", "b", "c"}, objcfg.WithQueryStrings("auth=1", ""))
	require.NoError(t, err)
	assert.Equal(t, "a/obj?auth=1", cfg.DataURL(0))
}

func TestSetPlacementRedirectsFutureDataURL(t *testing.T) {
	cfg, err := objcfg.New("obj", 2, 1, 1024, []string{"a", "b", "c"})
	require.NoError(t, err)
	cfg.SetPlacement(1, "spare")
	assert.Equal(t, "spare/obj", cfg.DataURL(1))
}

func TestDigestDefaultsToCRC32C(t *testing.T) {
	cfg, err := objcfg.New("obj", 2, 1, 1024, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, objcfg.CRC32C(0, []byte("hello")), cfg.Digest(0, []byte("hello")))
}
