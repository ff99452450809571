package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lendingd.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "lendingd.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModeSimulator, cfg.Mode)
	require.Equal(t, filepath.Join(filepath.Dir(path), "seed.yaml"), cfg.Simulator.SeedFile)
	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.HTTP.WriteTimeout, again.HTTP.WriteTimeout)
}

func TestLoadParsesEVMMode(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
ListenAddress = "127.0.0.1:9000"
Environment = "prod"
Mode = "EVM"
RegistryFile = "markets.yaml"
WalletStore = "wallets"

[Auth]
Enabled = true
HMACSecret = "s3cret"
ClockSkew = "30s"

[HTTP]
MaxConnections = 64

[EVM]
Endpoint = "http://127.0.0.1:8545"
ChainID = 1337
KeystorePath = "/keys/relayer.json"

[Journal]
Driver = "postgres"
DSN = "postgres://lend@db/lend"

[[Wallets]]
Address = "0x000000000000000000000000000000000000a11e"
Owner = "0x0000000000000000000000000000000000000b0b"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModeEVM, cfg.Mode)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew)
	require.EqualValues(t, 1337, cfg.EVM.ChainID)
	require.Equal(t, "/keys/relayer.json", cfg.EVM.KeystorePath)
	require.Equal(t, filepath.Join(filepath.Dir(path), "markets.yaml"), cfg.RegistryFile)
	require.Equal(t, filepath.Join(filepath.Dir(path), "wallets"), cfg.WalletStore)
	require.Equal(t, "postgres://lend@db/lend", cfg.Journal.DSN)
	require.Len(t, cfg.Wallets, 1)
	require.Equal(t, 64, cfg.HTTP.MaxConnections)
	require.Equal(t, 120*time.Second, cfg.HTTP.IdleTimeout)
	require.EqualValues(t, 2_000, cfg.EVM.GasMarginBps, "defaults survive partial sections")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := Load(writeConfig(t, `Bogus = 1`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := map[string]func(*Config){
		"unknown mode":          func(c *Config) { c.Mode = "chain" },
		"evm without endpoint":  func(c *Config) { c.Mode = ModeEVM },
		"auth without secret":   func(c *Config) { c.Auth.Enabled = true },
		"auth disabled in prod": func(c *Config) { c.Environment = "prod" },
		"bad driver":            func(c *Config) { c.Journal.Driver = "mysql" },
		"bad wallet":            func(c *Config) { c.Wallets = []Wallet{{Address: "nope", Owner: "nope"}} },
		"sample ratio":          func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
		"negative connections":  func(c *Config) { c.HTTP.MaxConnections = -1 },
	}
	for name, mutate := range cases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, Default().Validate())
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"LENDINGD_LISTEN":       ":7000",
		"LENDINGD_JWT_SECRET":   "from-env",
		"LENDINGD_AUTH_ENABLED": "true",
		"LENDINGD_CHAIN_ID":     "10",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}))
	require.Equal(t, ":7000", cfg.ListenAddress)
	require.Equal(t, "from-env", cfg.Auth.HMACSecret)
	require.True(t, cfg.Auth.Enabled)
	require.EqualValues(t, 10, cfg.EVM.ChainID)

	bad := Default()
	require.Error(t, bad.applyEnv(func(key string) (string, bool) {
		if key == "LENDINGD_AUTH_ENABLED" {
			return "maybe", true
		}
		return "", false
	}))
}
