package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wyatt727/fartlooper/internal/clipserver"
	"github.com/wyatt727/fartlooper/internal/discovery"
	"github.com/wyatt727/fartlooper/internal/orchestrator"
)

func newDiscoverCmd() *cobra.Command {
	var disc discoveryFlags

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List renderers found on the LAN without serving or controlling anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := disc.toBlastConfig()
			if err != nil {
				return err
			}

			// discover_only never binds the clip server or issues control
			// calls, but BlastOrchestrator still needs a clipServer value to
			// satisfy its constructor; an unstarted ClipServer is never
			// touched on this path (orchestrator.DiscoverOnly).
			server := clipserver.New(log)
			bus := discovery.New(log)
			bus.PortScanDiscoverer().MultiPortPerHost = cfg.PortScanMultiPortPerHost

			o := orchestrator.New(log, server, bus, nil)
			renderers, err := o.DiscoverOnly(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d renderer(s) found:\n", len(renderers))
			for _, r := range renderers {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s  %s  %s\n", r.ID, r.Kind, r.Source, r.FriendlyName)
			}
			return nil
		},
	}

	disc.register(cmd)
	return cmd
}
