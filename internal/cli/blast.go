package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wyatt727/fartlooper/internal/clipserver"
	"github.com/wyatt727/fartlooper/internal/discovery"
	"github.com/wyatt727/fartlooper/internal/orchestrator"
)

func newBlastCmd() *cobra.Command {
	var disc discoveryFlags
	var clip clipFlags

	cmd := &cobra.Command{
		Use:   "blast",
		Short: "Serve a clip and push it to every controllable renderer on the LAN",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := disc.toBlastConfig()
			if err != nil {
				return err
			}
			clipCfg, err := clip.resolve()
			if err != nil {
				return err
			}

			server := clipserver.New(log)
			bus := discovery.New(log)
			bus.PortScanDiscoverer().MultiPortPerHost = cfg.PortScanMultiPortPerHost

			o := orchestrator.New(log, server, bus, nil)
			if err := o.Start(cmd.Context(), clipCfg, cfg); err != nil {
				return err
			}

			snap := o.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "blast %s: %s — %d devices found, %d succeeded, %d failed\n",
				snap.BlastID, snap.Stage, snap.DevicesFoundTotal, snap.Successes, snap.Failures)
			for _, outcome := range o.Outcomes() {
				status := "ok"
				if outcome.Error != nil {
					status = outcome.Error.Kind + ": " + outcome.Error.Message
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", outcome.RendererID, status)
			}
			return nil
		},
	}

	disc.register(cmd)
	clip.register(cmd)
	return cmd
}
