package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	Environment   string `toml:"Environment"`
	LogLevel      string `toml:"LogLevel"`
	Mode          string `toml:"Mode"`
	// RegistryFile lists the markets. In simulator mode it may be left empty
	// to route through every simulated market.
	RegistryFile string `toml:"RegistryFile"`
	// WalletStore is the LevelDB directory persisting wallet owners and
	// locks. Empty keeps them in memory.
	WalletStore string `toml:"WalletStore"`

	HTTP      HTTP      `toml:"HTTP"`
	Auth      Auth      `toml:"Auth"`
	RateLimit RateLimit `toml:"RateLimit"`
	Simulator Simulator `toml:"Simulator"`
	EVM       EVM       `toml:"EVM"`
	Journal   Journal   `toml:"Journal"`
	Telemetry Telemetry `toml:"Telemetry"`
	Wallets   []Wallet  `toml:"Wallets"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ListenAddress: ":8080",
		Environment:   "dev",
		LogLevel:      "info",
		Mode:          ModeSimulator,
		HTTP: HTTP{
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			LogRequests:  true,
		},
		Auth:      Auth{ClockSkew: 2 * time.Minute},
		RateLimit: RateLimit{RatePerSecond: 5, Burst: 20, WriteTokens: 4},
		Simulator: Simulator{SeedFile: "seed.yaml", BlocksPerTick: 1},
		EVM: EVM{
			PassphraseEnv:  "LENDINGD_KEYSTORE_PASSPHRASE",
			GasMarginBps:   2_000,
			PollInterval:   2 * time.Second,
			ReceiptTimeout: 2 * time.Minute,
		},
		Journal:   Journal{Driver: "sqlite", DSN: "lendingd-journal.db"},
		Telemetry: Telemetry{Insecure: true},
	}
}

// Load reads the TOML file at path, applies LENDINGD_* environment
// overrides and validates the result. A missing file is created with the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := persist(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	} else if err != nil {
		return nil, err
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.normalize(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// normalize trims values and resolves relative file paths against the
// directory holding the config file.
func (cfg *Config) normalize(base string) {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	cfg.RegistryFile = resolvePath(base, cfg.RegistryFile)
	cfg.WalletStore = resolvePath(base, cfg.WalletStore)
	cfg.Simulator.SeedFile = resolvePath(base, cfg.Simulator.SeedFile)
	cfg.EVM.KeystorePath = resolvePath(base, cfg.EVM.KeystorePath)
	if cfg.Journal.Driver == "sqlite" && !strings.HasPrefix(cfg.Journal.DSN, "file:") && cfg.Journal.DSN != ":memory:" {
		cfg.Journal.DSN = resolvePath(base, cfg.Journal.DSN)
	}
	if cfg.Simulator.BlocksPerTick == 0 {
		cfg.Simulator.BlocksPerTick = 1
	}
}

func resolvePath(base, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
