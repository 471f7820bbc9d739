package client

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// AppConfig is the consolidated configuration used by a trivia party.
// Values come from the environment and can be overridden per invocation.
type AppConfig struct {
	// DataDir is the absolute directory where keys, the store, and logs live.
	DataDir string `env:"TRIVIA_DATADIR"`
	// RelayURL is the websocket endpoint of the relay, e.g. wss://relay:8443/ws.
	RelayURL string `env:"TRIVIA_RELAY_URL"`
	// Broker is the address of the counterpart broker channels are opened with.
	Broker string `env:"TRIVIA_BROKER"`
	// Asset is the settlement asset identifier, e.g. "usdc".
	Asset string `env:"TRIVIA_ASSET" envDefault:"usdc"`
	// AppName identifies this application in the relay auth handshake.
	AppName string `env:"TRIVIA_APP_NAME" envDefault:"trivia-royale"`
	// DebugLevel is the slog level for the client subsystem.
	DebugLevel string `env:"TRIVIA_DEBUG" envDefault:"info"`
}

// ConfigOverrides carries optional CLI/runtime overrides for config values.
type ConfigOverrides struct {
	RelayURL string
	Broker   string
	Asset    string
	AppName  string
}

// LoadAppConfig reads the environment, applies overrides, and fills defaults.
// If datadir is empty, a per-user application dir is used.
func LoadAppConfig(datadir string, ov ConfigOverrides) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	if datadir != "" {
		cfg.DataDir = datadir
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".triviaroyale")
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create datadir: %w", err)
	}

	if ov.RelayURL != "" {
		cfg.RelayURL = ov.RelayURL
	}
	if ov.Broker != "" {
		cfg.Broker = ov.Broker
	}
	if ov.Asset != "" {
		cfg.Asset = ov.Asset
	}
	if ov.AppName != "" {
		cfg.AppName = ov.AppName
	}

	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("relay URL not configured (TRIVIA_RELAY_URL)")
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("broker address not configured (TRIVIA_BROKER)")
	}
	return cfg, nil
}
