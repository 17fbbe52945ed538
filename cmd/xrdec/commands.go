package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/xrdec/xrdec/archive"
	"github.com/xrdec/xrdec/redundancy"
	"github.com/xrdec/xrdec/repair"
	"github.com/xrdec/xrdec/stream"
)

// addReplacementFlag registers --replacement directly against the
// pflag.FlagSet cobra hands back, rather than through cobra's
// wrappers, the way the teacher's backend commands reach for pflag's
// richer Var forms (StringArray, keeping repeated flags distinct from
// a comma-split StringSlice) when a plain string won't do. A non-empty
// replacement list overrides the config file's one, letting an
// operator hand repair fresh spare targets without editing YAML.
func addReplacementFlag(fs *pflag.FlagSet, dst *[]string) {
	fs.StringArrayVar(dst, "replacement", nil, "override replacement archive URL(s) from config.yaml (repeatable)")
}

func newPutCmd() *cobra.Command {
	var replacement []string
	cmd := &cobra.Command{
		Use:   "put <file> <config.yaml>",
		Short: "write a local file into the object described by config.yaml",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadFileConfig(args[1])
			if err != nil {
				return err
			}
			if len(replacement) > 0 {
				fc.Replacement = replacement
			}
			cfg, err := fc.objCfg()
			if err != nil {
				return err
			}
			provider, err := redundancy.New(cfg.NBData(), cfg.NBParity())
			if err != nil {
				return err
			}
			client := archive.NewLocalClient()
			pool := fc.workerPool()

			in, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer in.Close()

			ctx := context.Background()
			w := stream.NewWriter(cfg, client, provider, pool)
			if err := w.Open(ctx); err != nil {
				return fmt.Errorf("opening object for write: %w", err)
			}
			buf := make([]byte, cfg.ChunkSize())
			for {
				n, rerr := in.Read(buf)
				if n > 0 {
					if _, werr := w.Write(ctx, buf[:n]); werr != nil {
						_ = w.Close(ctx)
						return fmt.Errorf("writing: %w", werr)
					}
				}
				if rerr == io.EOF {
					break
				}
				if rerr != nil {
					_ = w.Close(ctx)
					return fmt.Errorf("reading %s: %w", args[0], rerr)
				}
			}
			if err := w.Close(ctx); err != nil {
				return fmt.Errorf("closing object: %w", err)
			}
			fmt.Printf("wrote %s as object %q\n", args[0], cfg.Name())
			return nil
		},
	}
	addReplacementFlag(cmd.Flags(), &replacement)
	return cmd
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <config.yaml> <offset> <length>",
		Short: "read a byte range from the object and write it to stdout",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadFileConfig(args[0])
			if err != nil {
				return err
			}
			offset, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid offset %q: %w", args[1], err)
			}
			length, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid length %q: %w", args[2], err)
			}

			cfg, err := fc.objCfg()
			if err != nil {
				return err
			}
			provider, err := redundancy.New(cfg.NBData(), cfg.NBParity())
			if err != nil {
				return err
			}
			client := archive.NewLocalClient()
			pool := fc.blockPool()

			ctx := context.Background()
			r := stream.NewReader(cfg, client, provider, pool)
			if err := r.Open(ctx); err != nil {
				return fmt.Errorf("opening object for read: %w", err)
			}
			defer r.Close(ctx)

			buf := make([]byte, length)
			n, err := r.Read(ctx, offset, length, buf)
			if err != nil {
				return fmt.Errorf("reading: %w", err)
			}
			_, err = os.Stdout.Write(buf[:n])
			return err
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <config.yaml>",
		Short: "verify every block of the object is fully readable, without repairing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadFileConfig(args[0])
			if err != nil {
				return err
			}
			cfg, err := fc.objCfg()
			if err != nil {
				return err
			}
			provider, err := redundancy.New(cfg.NBData(), cfg.NBParity())
			if err != nil {
				return err
			}
			client := archive.NewLocalClient()
			pool := fc.blockPool()

			s := repair.NewSession(cfg, client, provider, pool)
			if err := s.CheckFile(context.Background()); err != nil {
				return fmt.Errorf("check failed: %w", err)
			}
			fmt.Println("object is fully readable")
			return nil
		},
	}
}

func newRepairCmd() *cobra.Command {
	var recheck bool
	var replacement []string
	cmd := &cobra.Command{
		Use:   "repair <config.yaml>",
		Short: "reconstruct and write back any missing or corrupted stripes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadFileConfig(args[0])
			if err != nil {
				return err
			}
			if len(replacement) > 0 {
				fc.Replacement = replacement
			}
			cfg, err := fc.objCfg()
			if err != nil {
				return err
			}
			provider, err := redundancy.New(cfg.NBData(), cfg.NBParity())
			if err != nil {
				return err
			}
			client := archive.NewLocalClient()
			pool := fc.blockPool()

			s := repair.NewSession(cfg, client, provider, pool)
			if err := s.RepairFile(context.Background(), recheck); err != nil {
				return fmt.Errorf("repair failed: %w", err)
			}
			fmt.Printf("repaired %d stripes\n", s.ChunksRepaired())
			for old, repl := range s.RedirectionMap() {
				if repl != "" {
					fmt.Printf("redirected %s -> %s\n", old, repl)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&recheck, "recheck", false, "run check again after repairing")
	addReplacementFlag(cmd.Flags(), &replacement)
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <config.yaml>",
		Short: "print the object's redundancy shape and placement list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadFileConfig(args[0])
			if err != nil {
				return err
			}
			cfg, err := fc.objCfg()
			if err != nil {
				return err
			}
			fmt.Println(cfg.String())
			for i, url := range cfg.Placement() {
				fmt.Printf("  [%d] %s\n", i, url)
			}
			return nil
		},
	}
}
