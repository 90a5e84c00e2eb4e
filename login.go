package main

import (
	"context"
	"fmt"
	"os"

	"github.com/comerc/tgrelay/accounts"
	"github.com/comerc/tgrelay/app"
	"github.com/comerc/tgrelay/config"
	"github.com/comerc/tgrelay/forwarder"
	"github.com/comerc/tgrelay/menu"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newLoginCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize the Telegram session interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, err := newPool(*configFile, menu.NewConsole(os.Stdin, os.Stdout))
			if err != nil {
				return err
			}
			instance, err := pool.Acquire(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Release()
			me, err := instance.Me()
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s\n", me)
			return nil
		},
	}
}

func newChatsCmd(configFile *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Print the chats of the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, pool, err := newPool(*configFile, nil)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.ChatsLimit
			}
			f := forwarder.New(context.Background(), pool.Session(), nil, nil)
			chats, err := f.ListChats(cmd.Context(), limit)
			if err != nil {
				return err
			}
			menu.PrintChats(os.Stdout, chats)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Max chats to list (defaults to chats_limit).")
	return cmd
}

// newPool loads the config and credentials; prompter is nil outside of login.
func newPool(configFile string, prompter accounts.Prompter) (*config.Config, *accounts.Pool, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	app.SetLogLevel(cfg.LogLevel)
	pool := accounts.NewPool(accounts.Options{
		DataDir:         cfg.DataDir,
		CredentialsFile: cfg.CredentialsFile,
		Prompter:        prompter,
		ChatLimit:       cfg.ChatsLimit,
	})
	if pool.Credentials().IsEmpty() {
		log.Warn().Str("file", cfg.CredentialsFile).Msg("No credentials")
	}
	return cfg, pool, nil
}
