package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const DefaultFileName = "config.yml"

const (
	OnSendErrorSkip  = "skip"
	OnSendErrorAbort = "abort"
)

type Config struct {
	Port            Port     `json:"port"`
	CredentialsFile string   `json:"credentials_file"`
	DataDir         string   `json:"data_dir"`
	LogLevel        string   `json:"log_level"`
	PollInterval    Duration `json:"poll_interval"`
	Backoff         Backoff  `json:"backoff"`
	OnSendError     string   `json:"on_send_error"`
	ChatsLimit      int      `json:"chats_limit"`
	Reports         Reports  `json:"reports"`
}

type Backoff struct {
	Enabled bool     `json:"enabled"`
	Initial Duration `json:"initial"`
	Max     Duration `json:"max"`
}

type Reports struct {
	For      []int64 `json:"for"`
	Template string  `json:"template"`
}

// Port accepts 5000 as well as "5000".
type Port string

func (p *Port) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		if value != float64(int(value)) || value <= 0 {
			return fmt.Errorf("invalid port %s", string(b))
		}
		*p = Port(strconv.Itoa(int(value)))
	case string:
		*p = Port(value)
	default:
		return fmt.Errorf("invalid port %s", string(b))
	}
	return nil
}

// Duration accepts "5s"-style strings or a number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
