package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/comerc/tgrelay/account"
	"github.com/ghodss/yaml"
	"github.com/radovskyb/watcher"
	"github.com/rs/zerolog/log"
)

const defaultReportTemplate = ":bar_chart: Forwarded %d of %d messages"

func Default() *Config {
	return &Config{
		Port:            "5000",
		CredentialsFile: account.CredentialsFile,
		DataDir:         ".tdata",
		LogLevel:        "info",
		PollInterval:    Duration{5 * time.Second},
		Backoff: Backoff{
			Enabled: true,
			Initial: Duration{5 * time.Second},
			Max:     Duration{5 * time.Minute},
		},
		OnSendError: OnSendErrorSkip,
		ChatsLimit:  1000,
		Reports: Reports{
			Template: defaultReportTemplate,
		},
	}
}

// Load reads fileName over the defaults. A missing file is not an error.
func Load(fileName string) (*Config, error) {
	config := Default()

	yamlData, err := ioutil.ReadFile(fileName)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("file", fileName).Msg("Config file not found, using defaults")
	} else if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileName, err)
	} else {
		jsonData, err := yaml.YAMLToJSON(yamlData)
		if err != nil {
			return nil, fmt.Errorf("convert %s with YAMLToJSON: %w", fileName, err)
		}
		if err := json.Unmarshal(jsonData, config); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", fileName, err)
		}
	}

	if port := os.Getenv("TGRELAY_PORT"); port != "" {
		config.Port = Port(port)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.PollInterval.Duration <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if c.Backoff.Enabled && (c.Backoff.Initial.Duration <= 0 || c.Backoff.Max.Duration < c.Backoff.Initial.Duration) {
		return errors.New("backoff needs 0 < initial <= max")
	}
	switch c.OnSendError {
	case OnSendErrorSkip, OnSendErrorAbort:
	default:
		return fmt.Errorf("unknown on_send_error %q", c.OnSendError)
	}
	if c.ChatsLimit <= 0 {
		return errors.New("chats_limit must be positive")
	}
	return nil
}

// Watch calls fn every time fileName is written, until ctx is done.
func Watch(ctx context.Context, fileName string, interval time.Duration, fn func()) error {
	w := watcher.New()
	w.SetMaxEvents(1)
	w.FilterOps(watcher.Write, watcher.Create)

	if err := w.Add(fileName); err != nil {
		return fmt.Errorf("watch %s: %w", fileName, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(interval)
	}()

	for {
		select {
		case event := <-w.Event:
			log.Debug().Str("event", event.String()).Msg("Config changed")
			fn()
		case err := <-w.Error:
			log.Error().Err(err).Str("file", fileName).Msg("Watch()")
		case err := <-errCh:
			return err
		case <-ctx.Done():
			// Close blocks until the polling loop takes the signal.
			go w.Close()
			return nil
		}
	}
}
