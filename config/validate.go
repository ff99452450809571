package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrAuthSecretRequired = errors.New("auth: HMACSecret required when auth is enabled")

// Validate checks the configuration for the selected mode.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.ListenAddress == "" {
		return fmt.Errorf("ListenAddress required")
	}
	if cfg.HTTP.MaxConnections < 0 {
		return fmt.Errorf("http: MaxConnections must not be negative")
	}
	switch cfg.Mode {
	case ModeSimulator:
		if cfg.Simulator.SeedFile == "" {
			return fmt.Errorf("simulator: SeedFile required")
		}
	case ModeEVM:
		if strings.TrimSpace(cfg.EVM.Endpoint) == "" {
			return fmt.Errorf("evm: Endpoint required")
		}
		if cfg.EVM.KeystorePath == "" {
			return fmt.Errorf("evm: KeystorePath required")
		}
		if cfg.RegistryFile == "" {
			return fmt.Errorf("evm: RegistryFile required")
		}
		if cfg.EVM.ChainID < 0 {
			return fmt.Errorf("evm: ChainID must not be negative")
		}
		if cfg.EVM.GasMarginBps > 10_000 {
			return fmt.Errorf("evm: GasMarginBps above 10000")
		}
	default:
		return fmt.Errorf("unknown Mode %q", cfg.Mode)
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return ErrAuthSecretRequired
	}
	if !cfg.Auth.Enabled && !strings.EqualFold(cfg.Environment, "dev") {
		return fmt.Errorf("auth: may only be disabled in the dev environment")
	}
	switch cfg.Journal.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("journal: unknown Driver %q", cfg.Journal.Driver)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio outside [0,1]")
	}
	if cfg.RateLimit.RatePerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	seen := make(map[common.Address]struct{}, len(cfg.Wallets))
	for i, w := range cfg.Wallets {
		if !common.IsHexAddress(strings.TrimSpace(w.Address)) || !common.IsHexAddress(strings.TrimSpace(w.Owner)) {
			return fmt.Errorf("Wallets[%d]: invalid address", i)
		}
		addr := common.HexToAddress(strings.TrimSpace(w.Address))
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("Wallets[%d]: duplicate wallet %s", i, addr.Hex())
		}
		seen[addr] = struct{}{}
	}
	return nil
}
