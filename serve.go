package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/comerc/tgrelay/accounts"
	"github.com/comerc/tgrelay/app"
	"github.com/comerc/tgrelay/config"
	"github.com/comerc/tgrelay/server"
	"github.com/comerc/tgrelay/store"
	"github.com/comerc/tgrelay/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	watchInterval = 1 * time.Second
	stopTimeout   = 30 * time.Second
)

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *configFile)
		},
	}
}

func runServe(cmd *cobra.Command, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	app.SetLogLevel(cfg.LogLevel)
	telemetry.Init()

	st, err := store.Open(filepath.Join(cfg.DataDir, "badger"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := accounts.NewPool(accounts.Options{
		DataDir:         cfg.DataDir,
		CredentialsFile: cfg.CredentialsFile,
		ChatLimit:       cfg.ChatsLimit,
	})
	if pool.Credentials().IsEmpty() {
		log.Warn().Msg("No credentials, requests to Telegram will fail")
	}
	a := app.New(ctx, cfg, pool.Session, st)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, a)
	})
	g.Go(func() error {
		return watchConfig(gctx, configFile, a)
	})
	g.Go(func() error {
		return st.RunGC(gctx)
	})
	g.Go(func() error {
		return a.RunReports(gctx)
	})
	err = g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	// stops forwarding before the store goes away
	if err := a.Close(stopCtx); err != nil {
		log.Error().Err(err).Msg("Close()")
	}
	log.Info().Msg("Service stopped")
	return err
}

func watchConfig(ctx context.Context, configFile string, a *app.App) error {
	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		log.Info().Str("file", configFile).Msg("No config file to watch")
		return nil
	}
	return config.Watch(ctx, configFile, watchInterval, func() {
		a.ReloadConfig(configFile)
	})
}
