package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/logger"
)

var (
	cfg *config.Config
	log zerolog.Logger
)

func main() {
	cfg = config.Load()
	log = logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("examctl failed")
		os.Exit(1)
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
