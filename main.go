package main

import (
	"os"
	"runtime/debug"
	"time"

	"github.com/comerc/tgrelay/config"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const projectName = "tgrelay"

func main() {
	setupLogger()
	defer handlePanic()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          projectName,
		Short:        "Relays messages from a Telegram chat to a channel",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configFile)
		},
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultFileName, "Config file path.")

	cmd.AddCommand(newServeCmd(&configFile))
	cmd.AddCommand(newLoginCmd(&configFile))
	cmd.AddCommand(newChatsCmd(&configFile))
	return cmd
}

func setupLogger() {
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Caller().Logger()
}

func handlePanic() {
	if err := recover(); err != nil {
		log.Error().Msgf("Panic...\n%s\n\n%s", err, debug.Stack())
		os.Exit(1)
	}
}
