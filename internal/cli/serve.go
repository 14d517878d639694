package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/castdeck/api/internal/config"
	"github.com/castdeck/api/internal/server"
)

func serve(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the http api, websocket push and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(cfg)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
