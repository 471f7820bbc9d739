package client

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRIVIA_RELAY_URL", "wss://relay.example:8443/ws")
	t.Setenv("TRIVIA_BROKER", testBroker)
	t.Setenv("TRIVIA_ASSET", "dcr")

	cfg, err := LoadAppConfig(dir, ConfigOverrides{})
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "wss://relay.example:8443/ws", cfg.RelayURL)
	assert.Equal(t, testBroker, cfg.Broker)
	assert.Equal(t, "dcr", cfg.Asset)
	assert.Equal(t, "trivia-royale", cfg.AppName)
	assert.Equal(t, "info", cfg.DebugLevel)
}

func TestLoadAppConfigOverridesWin(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRIVIA_RELAY_URL", "wss://env-relay/ws")
	t.Setenv("TRIVIA_BROKER", "envbroker")
	t.Setenv("TRIVIA_ASSET", "dcr")

	cfg, err := LoadAppConfig(dir, ConfigOverrides{
		RelayURL: "wss://flag-relay/ws",
		Broker:   testBroker,
		Asset:    "usdc",
		AppName:  "trivia-dev",
	})
	require.NoError(t, err)
	assert.Equal(t, "wss://flag-relay/ws", cfg.RelayURL)
	assert.Equal(t, testBroker, cfg.Broker)
	assert.Equal(t, "usdc", cfg.Asset)
	assert.Equal(t, "trivia-dev", cfg.AppName)
}

func TestLoadAppConfigRequiresRelayAndBroker(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRIVIA_RELAY_URL", "")
	t.Setenv("TRIVIA_BROKER", "")

	_, err := LoadAppConfig(dir, ConfigOverrides{Broker: testBroker})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay URL")

	_, err = LoadAppConfig(dir, ConfigOverrides{RelayURL: "wss://relay/ws"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker")
}

func TestLoadAppConfigCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	t.Setenv("TRIVIA_RELAY_URL", "wss://relay/ws")
	t.Setenv("TRIVIA_BROKER", testBroker)

	cfg, err := LoadAppConfig(dir, ConfigOverrides{})
	require.NoError(t, err)
	assert.DirExists(t, cfg.DataDir)
}
