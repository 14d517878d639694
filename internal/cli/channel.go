package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/castdeck/api/internal/config"
	"github.com/castdeck/api/internal/log"
	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/repository"
	"github.com/castdeck/api/internal/service"
)

func channel(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "manage the channel registry",
	}
	cmd.AddCommand(channelProvision(cfg))
	cmd.AddCommand(channelList(cfg))
	return cmd
}

// channelService opens the registry without the dispatcher; provisioning
// and listing never dispatch.
func channelService(cfg *config.Config) (*service.ChannelService, func()) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	logger := log.WithComponent("cli")
	store := repository.NewRedisStore(rdb, repository.Keys{Prefix: cfg.Redis.KeyPrefix}, cfg.Dispatch.MaxCASRetries, logger)
	return service.NewChannelService(store, store, nil, logger), func() { _ = rdb.Close() }
}

func channelProvision(cfg *config.Config) *cobra.Command {
	var req model.ProvisionChannelRequest
	var channelType string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "create a channel and its state document",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ChannelType = model.ChannelType(channelType)
			if err := validator.New().Struct(&req); err != nil {
				return fmt.Errorf("invalid channel: %w", err)
			}

			svc, closeFn := channelService(cfg)
			defer closeFn()

			ch, _, err := svc.Provision(cmd.Context(), &req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ch)
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.ID, "id", "", "channel id (generated when empty)")
	f.StringVar(&req.OrganizationID, "org", "", "organization id")
	f.StringVar(&req.Name, "name", "", "display name")
	f.StringVar(&req.ChannelCode, "code", "", "short channel code")
	f.StringVar(&channelType, "type", string(model.ChannelTypeGraphics), "graphics, ticker, fullscreen or preview")
	f.StringVar(&req.PlayerURL, "player-url", "", "player url")
	f.IntVar(&req.LayerCount, "layers", 1, "number of layers")
	f.StringSliceVar(&req.AssignedOperators, "operators", nil, "assigned operator ids")
	f.BoolVar(&req.AutoInitializeOnConnect, "auto-init-connect", false, "initialize the player when it connects")
	f.BoolVar(&req.AutoInitializeOnPublish, "auto-init-publish", false, "initialize the player when a project is published")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func channelList(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "print the channel registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn := channelService(cfg)
			defer closeFn()

			channels, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCODE\tNAME\tTYPE\tLAYERS\tPLAYER")
			for _, ch := range channels {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", ch.ID, ch.ChannelCode, ch.Name, ch.ChannelType, ch.LayerCount, ch.PlayerStatus)
			}
			return w.Flush()
		},
	}
}
