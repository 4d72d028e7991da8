package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Pair      Pair            `yaml:"pair"`
	History   History         `yaml:"history"`
	Orders    Orders          `yaml:"orders"`
	BrokerRef BrokerReference `yaml:"broker"`
	Server    Server          `yaml:"server"`
	Journal   Journal         `yaml:"journal"`
	Schedule  Schedule        `yaml:"schedule"`
	DebugDir  string          `yaml:"debug_dir"`
}

func Read(r io.Reader) (*Config, error) {
	var cfg Config
	d := yaml.NewDecoder(r)
	err := d.Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}

	return &cfg, nil
}

func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Pair names the two managed assets. Primary is asset A, Hedge is asset B.
type Pair struct {
	Primary string `yaml:"primary"`
	Hedge   string `yaml:"hedge"`
}

// History selects the bar resolution and span requested from the brokerage,
// e.g. interval "5minute" over span "week".
type History struct {
	Interval string `yaml:"interval"`
	Span     string `yaml:"span"`
}

// Orders bounds the order polling loop.
type Orders struct {
	PollInterval Duration `yaml:"poll_interval"`
	MaxPolls     int      `yaml:"max_polls"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Journal struct {
	Path string `yaml:"path"`
}

// Schedule configures the two periodic jobs: the daily rebalance and the
// percentage-move gatherer that samples inside a weekday window.
type Schedule struct {
	RebalanceAt string   `yaml:"rebalance_at"`
	GatherEvery Duration `yaml:"gather_every"`
	GatherFrom  string   `yaml:"gather_from"`
	GatherTo    string   `yaml:"gather_to"`
}

// Duration parses yaml strings like "60s" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration yaml: %w", err)
	}

	td, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(td)
	return nil
}

// broker configs

type Broker interface{}

type BrokerReference struct {
	Broker Broker
}

type Robinhood struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Emulator struct {
	Balance        float64 `yaml:"balance"`
	FillAfterPolls int     `yaml:"fill_after_polls"`
	Seed           int64   `yaml:"seed"`
	MarketOpen     bool    `yaml:"market_open"`
}

func (w *BrokerReference) UnmarshalYAML(value *yaml.Node) error {
	if len(value.Content) == 0 {
		return nil
	}

	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return errors.New("invalid broker yaml format")
	}

	key := value.Content[0].Value
	switch key {
	case "robinhood":
		var rh Robinhood
		if err := value.Content[1].Decode(&rh); err != nil {
			return fmt.Errorf("failed parsing robinhood broker config: %w", err)
		}
		w.Broker = rh
	case "emulator":
		var emu Emulator
		if err := value.Content[1].Decode(&emu); err != nil {
			return fmt.Errorf("failed parsing emulator broker config: %w", err)
		}
		w.Broker = emu
	default:
		return fmt.Errorf("unknown broker type: %s", key)
	}

	return nil
}
