// Command xrdec is the ambient entry point for the erasure-coded
// object core: a thin cobra CLI over stream.Writer/Reader and
// repair.Session, in the vein of rclone's root command composing
// backend subcommands. It carries no invariant of its own — every
// guarantee lives in the packages it wires together.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xrdec/xrdec/internal/xlog"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "xrdec",
		Short: "erasure-coded object storage utility",
	}
	pf := root.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose {
			xlog.Logger.SetLevel(logrus.DebugLevel)
		}
	}

	root.AddCommand(newPutCmd())
	root.AddCommand(newCatCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newRepairCmd())
	root.AddCommand(newStatusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
