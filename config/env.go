package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LENDINGD_"

type lookupFunc func(string) (string, bool)

func (cfg *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if value, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(value)
		}
	}
	str("LISTEN", &cfg.ListenAddress)
	str("ENV", &cfg.Environment)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("MODE", &cfg.Mode)
	str("REGISTRY_FILE", &cfg.RegistryFile)
	str("WALLET_STORE", &cfg.WalletStore)
	str("SEED_FILE", &cfg.Simulator.SeedFile)
	str("JWT_SECRET", &cfg.Auth.HMACSecret)
	str("EVM_ENDPOINT", &cfg.EVM.Endpoint)
	str("KEYSTORE", &cfg.EVM.KeystorePath)
	str("JOURNAL_DRIVER", &cfg.Journal.Driver)
	str("JOURNAL_DSN", &cfg.Journal.DSN)
	str("OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)

	if value, ok := lookup(EnvPrefix + "AUTH_ENABLED"); ok {
		enabled, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%sAUTH_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Auth.Enabled = enabled
	}
	if value, ok := lookup(EnvPrefix + "CHAIN_ID"); ok {
		id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Errorf("%sCHAIN_ID: %w", EnvPrefix, err)
		}
		cfg.EVM.ChainID = id
	}
	return nil
}
