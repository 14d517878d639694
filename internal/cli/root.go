// Package cli holds the castdeck command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/castdeck/api/internal/config"
)

func Root(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "castdeck",
		Short:         "broadcast graphics control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serve(cfg))
	rootCmd.AddCommand(channel(cfg))
	return rootCmd
}
