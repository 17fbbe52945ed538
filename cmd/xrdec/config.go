package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/xrdec/xrdec/blockpool"
	"github.com/xrdec/xrdec/internal/workerpool"
	"github.com/xrdec/xrdec/objcfg"
)

// fileConfig is the on-disk description of one object's layout, decoded
// with gopkg.in/yaml.v2 the way the teacher's backends decode their
// rclone.conf sections via configstruct — here there is no registry to
// plug into, so the CLI owns the struct and its decode directly.
type fileConfig struct {
	Name              string   `yaml:"name"`
	NBData            int      `yaml:"nbdata"`
	NBParity          int      `yaml:"nbparity"`
	ChunkSize         int64    `yaml:"chunksize"`
	Placement         []string `yaml:"placement"`
	Replacement       []string `yaml:"replacement"`
	NoMetadataFile    bool     `yaml:"nomtfile"`
	DataQuery         string   `yaml:"dataquery"`
	MetaQuery         string   `yaml:"metaquery"`
	Workers           int      `yaml:"workers"`
	BlockPoolCapacity int      `yaml:"blockpool_capacity"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &fc, nil
}

func (fc *fileConfig) objCfg() (*objcfg.Config, error) {
	var opts []objcfg.Option
	if fc.Replacement != nil {
		opts = append(opts, objcfg.WithReplacement(fc.Replacement))
	}
	if fc.DataQuery != "" || fc.MetaQuery != "" {
		opts = append(opts, objcfg.WithQueryStrings(fc.DataQuery, fc.MetaQuery))
	}
	if fc.NoMetadataFile {
		opts = append(opts, objcfg.WithNoMetadataFile())
	}
	return objcfg.New(fc.Name, fc.NBData, fc.NBParity, fc.ChunkSize, fc.Placement, opts...)
}

func (fc *fileConfig) workerPool() *workerpool.Pool {
	n := fc.Workers
	if n <= 0 {
		n = 4
	}
	return workerpool.New(n)
}

func (fc *fileConfig) blockPool() *blockpool.Pool {
	return blockpool.New(fc.BlockPoolCapacity)
}
