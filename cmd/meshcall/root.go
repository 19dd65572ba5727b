package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/meshcall/internal/util"
)

func newRootCmd() *cobra.Command {
	var debug, trace bool

	root := &cobra.Command{
		Use:           "meshcall",
		Short:         "Full-mesh WebRTC calls over a broadcast relay",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			switch {
			case trace:
				util.EnableTrace()
			case debug:
				util.EnableDebug()
			}

			pterm.Info.Println(fmt.Sprintf("Meshcall — v%s", version))
			pterm.Println()
		},
	}

	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&trace, "trace", false, "Enable trace logging, including WebRTC internals")

	root.AddCommand(newJoinCmd(), newRelayCmd())
	return root
}
