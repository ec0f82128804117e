// Package cli wires the core fartlooper packages (clipserver, discovery,
// control, orchestrator, metrics) behind a cobra command tree. It is the
// minimal trigger source the core needs to be runnable end-to-end now that
// the GUI/rules layer that would normally drive Blast is out of scope
// (SPEC_FULL.md §C.3).
package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	log      = logrus.StandardLogger()
)

// Execute builds the root command and runs it against os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fartlooper",
		Short:         "Broadcast a clip to every UPnP/DLNA renderer on the LAN",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(lvl)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")

	root.AddCommand(newBlastCmd())
	root.AddCommand(newDiscoverCmd())
	root.AddCommand(newServeCmd())

	return root
}
