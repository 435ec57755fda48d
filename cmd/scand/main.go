package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/storeline/scan-station/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "scand",
	Short: "Scan station daemon",
	Long: `scand runs a scan station: one scan session at a time fed by a camera
decoder and a keyboard-wedge hardware scanner, served over HTTP and SSE, or
driven straight from a terminal.`,
	SilenceUsage: true,
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	rootCmd.AddCommand(
		newServeCmd(),
		newScanCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("scand command failed")
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadDotEnv is swapped out by tests.
var loadDotEnv = config.LoadDotEnv

func loadConfig() (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setLogLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if path := config.DotEnvPath(); path != "" {
		log.Info().Str("dotenv", path).Msg("environment loaded from file")
	}
	return cfg, nil
}
