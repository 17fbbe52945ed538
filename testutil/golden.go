package testutil

import (
	"fmt"

	"github.com/xrdec/xrdec/objcfg"
)

// NewConfig builds an objcfg.Config wired to nbdata+nbparity placement
// URLs ("archive0".."archiveN-1") plus one spare replacement URL per
// archive, suitable for use against a MemClient in round-trip and
// degraded-mode tests.
func NewConfig(name string, nbdata, nbparity int, chunksize int64, opts ...objcfg.Option) (*objcfg.Config, error) {
	n := nbdata + nbparity
	placement := make([]string, n)
	replacement := make([]string, n)
	for i := 0; i < n; i++ {
		placement[i] = fmt.Sprintf("archive%d", i)
		replacement[i] = fmt.Sprintf("spare%d", i)
	}
	allOpts := append([]objcfg.Option{objcfg.WithReplacement(replacement)}, opts...)
	return objcfg.New(name, nbdata, nbparity, chunksize, placement, allOpts...)
}
