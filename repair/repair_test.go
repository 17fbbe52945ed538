package repair_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrdec/xrdec/archive"
	"github.com/xrdec/xrdec/blockpool"
	"github.com/xrdec/xrdec/internal/workerpool"
	"github.com/xrdec/xrdec/objcfg"
	"github.com/xrdec/xrdec/redundancy"
	"github.com/xrdec/xrdec/repair"
	"github.com/xrdec/xrdec/stream"
	"github.com/xrdec/xrdec/testutil"
)

func writeGolden(t *testing.T, cfg *objcfg.Config, client *testutil.MemClient, provider *redundancy.Provider, data []byte) {
	t.Helper()
	ctx := context.Background()
	w := stream.NewWriter(cfg, client, provider, workerpool.New(4))
	require.NoError(t, w.Open(ctx))
	_, err := w.Write(ctx, data)
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))
}

func readBack(t *testing.T, cfg *objcfg.Config, client *testutil.MemClient, provider *redundancy.Provider, length int) []byte {
	t.Helper()
	ctx := context.Background()
	r := stream.NewReader(cfg, client, provider, blockpool.New(8))
	require.NoError(t, r.Open(ctx))
	defer r.Close(ctx)
	buf := make([]byte, length)
	n, err := r.Read(ctx, 0, length, buf)
	require.NoError(t, err)
	return buf[:n]
}

// archiveHolding returns the data URL of the archive the writer placed
// member name on; placement is shuffled per block.
func archiveHolding(t *testing.T, cfg *objcfg.Config, client *testutil.MemClient, name string) string {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < cfg.NBChunks(); i++ {
		h, err := client.Open(ctx, cfg.DataURL(i), archive.FlagRead, 0)
		if err != nil {
			continue
		}
		_, err = client.Stat(h, name)
		client.Close(ctx, h, 0)
		if err == nil {
			return cfg.DataURL(i)
		}
	}
	t.Fatalf("no archive holds %s", name)
	return ""
}

func TestCheckFilePassesOnHealthyObject(t *testing.T) {
	provider, err := redundancy.New(2, 1)
	require.NoError(t, err)
	cfg, err := testutil.NewConfig("obj", 2, 1, 4, objcfg.WithNoMetadataFile())
	require.NoError(t, err)
	client := testutil.NewMemClient()
	writeGolden(t, cfg, client, provider, []byte("ABCDEFGH"))

	s := repair.NewSession(cfg, client, provider, blockpool.New(8))
	assert.NoError(t, s.CheckFile(context.Background()))
}

func TestCheckFileFailsWhenParityBudgetExceeded(t *testing.T) {
	provider, err := redundancy.New(2, 1)
	require.NoError(t, err)
	cfg, err := testutil.NewConfig("obj", 2, 1, 4, objcfg.WithNoMetadataFile())
	require.NoError(t, err)
	client := testutil.NewMemClient()
	writeGolden(t, cfg, client, provider, []byte("ABCDEFGH"))

	client.Delete(cfg.DataURL(0))
	client.Delete(cfg.DataURL(1)) // two archives gone, nbparity is 1

	s := repair.NewSession(cfg, client, provider, blockpool.New(8))
	err = s.CheckFile(context.Background())
	require.Error(t, err)
}

func TestRepairRestoresReadabilityAfterArchiveLoss(t *testing.T) {
	// Unlike the other repair tests, this one needs the side-car
	// metadata replicas: once an archive is gone entirely, its own
	// central directory can't be consulted, so only a surviving
	// metadata replica can tell repair that the lost archive's stripes
	// existed at all (rather than looking like reads past EOF).
	provider, err := redundancy.New(2, 1)
	require.NoError(t, err)
	cfg, err := testutil.NewConfig("obj", 2, 1, 4)
	require.NoError(t, err)
	client := testutil.NewMemClient()
	payload := []byte("ABCDEFGH")
	writeGolden(t, cfg, client, provider, payload)

	origURL := cfg.DataURL(0)
	client.Delete(origURL) // lose one archive entirely

	s := repair.NewSession(cfg, client, provider, blockpool.New(8))
	require.NoError(t, s.RepairFile(context.Background(), true))

	redirected := s.RedirectionMap()[origURL]
	require.NotEmpty(t, redirected)

	got := readBack(t, cfg, client, provider, len(payload))
	assert.Equal(t, payload, got)
}

func TestRepairRewritesCorruptedStripeInPlace(t *testing.T) {
	provider, err := redundancy.New(2, 1)
	require.NoError(t, err)
	cfg, err := testutil.NewConfig("obj", 2, 1, 4, objcfg.WithNoMetadataFile())
	require.NoError(t, err)
	client := testutil.NewMemClient()
	payload := []byte("ABCDEFGH")
	writeGolden(t, cfg, client, provider, payload)

	name := cfg.StripeFileName(0, 0)
	client.Corrupt(archiveHolding(t, cfg, client, name), name, []byte("ZZZZ"))

	s := repair.NewSession(cfg, client, provider, blockpool.New(8))
	require.NoError(t, s.RepairFile(context.Background(), false))
	assert.Equal(t, int64(1), s.ChunksRepaired())

	got := readBack(t, cfg, client, provider, len(payload))
	assert.Equal(t, payload, got)
}
