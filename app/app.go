// Package app holds what the HTTP handlers and background jobs share.
package app

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/comerc/tgrelay/config"
	"github.com/comerc/tgrelay/forwarder"
	"github.com/comerc/tgrelay/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Stats is the statistics store behind /stats, /copied_messages and the
// daily reports.
type Stats interface {
	forwarder.Recorder
	Counters(dstChatId int64, date string) (store.Counters, error)
	CountersByDate(date string) ([]store.Counters, error)
	CopiedMessageIds(srcChatId, srcId int64) ([]string, error)
}

type App struct {
	ctx       context.Context
	newClient func() forwarder.Client
	stats     Stats
	now       func() time.Time

	configMu sync.RWMutex
	config   *config.Config

	forwarder *forwarder.Forwarder

	reportsMu  sync.Mutex
	reportedOn string

	closeOnce sync.Once
}

// New builds the application context. Forwarding tasks live until ctx is
// done; newClient opens a session handle for every Forwarder. stats may be nil.
func New(ctx context.Context, cfg *config.Config, newClient func() forwarder.Client, stats Stats) *App {
	a := &App{
		ctx:       ctx,
		newClient: newClient,
		stats:     stats,
		now:       time.Now,
		config:    cfg,
	}
	a.forwarder = a.NewForwarder()
	return a
}

// Forwarder is the one that owns the forwarding task.
func (a *App) Forwarder() *forwarder.Forwarder {
	return a.forwarder
}

// NewForwarder returns a Forwarder with its own session handle.
func (a *App) NewForwarder() *forwarder.Forwarder {
	var recorder forwarder.Recorder
	if a.stats != nil {
		recorder = a.stats
	}
	return forwarder.New(a.ctx, a.newClient(), a.Settings, recorder)
}

func (a *App) Stats() Stats {
	return a.stats
}

func (a *App) Config() *config.Config {
	a.configMu.RLock()
	defer a.configMu.RUnlock()
	return a.config
}

func (a *App) SetConfig(cfg *config.Config) {
	a.configMu.Lock()
	a.config = cfg
	a.configMu.Unlock()
	SetLogLevel(cfg.LogLevel)
}

// ReloadConfig keeps the current config when fileName does not load.
func (a *App) ReloadConfig(fileName string) {
	cfg, err := config.Load(fileName)
	if err != nil {
		log.Error().Err(err).Msg("ReloadConfig()")
		return
	}
	a.SetConfig(cfg)
	log.Info().Str("file", fileName).Msg("Config reloaded")
}

// Settings derives the forwarding settings from the current config.
func (a *App) Settings() forwarder.Settings {
	cfg := a.Config()
	return forwarder.Settings{
		PollInterval:     cfg.PollInterval.Duration,
		Backoff:          cfg.Backoff.Enabled,
		BackoffInitial:   cfg.Backoff.Initial.Duration,
		BackoffMax:       cfg.Backoff.Max.Duration,
		AbortOnSendError: cfg.OnSendError == config.OnSendErrorAbort,
	}
}

// Close stops the forwarding task, waits for it up to ctx and then closes
// the stats store. Calls after the first return nil.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		err = a.forwarder.StopForwarding(ctx)
		if closer, ok := a.stats.(io.Closer); ok {
			if closeErr := closer.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("Close() stats")
				if err == nil {
					err = closeErr
				}
			}
		}
	})
	return err
}

// SetLogLevel falls back to info for unknown levels.
func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		log.Warn().Str("level", level).Msg("Unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
