package main

import (
	"os"

	"github.com/castdeck/api/internal/cli"
	"github.com/castdeck/api/internal/config"
	"github.com/castdeck/api/internal/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Configure(log.Config{})
		log.Base().Fatal().Err(err).Msg("failed to load config")
	}
	log.Configure(log.Config{Level: cfg.Server.LogLevel, Output: os.Stdout})

	if err := cli.Root(cfg).Execute(); err != nil {
		log.Base().Fatal().Err(err).Send()
	}
}
