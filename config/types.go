package config

import "time"

// Host modes.
const (
	ModeSimulator = "simulator"
	ModeEVM       = "evm"
)

// HTTP tunes the API server.
type HTTP struct {
	ReadTimeout  time.Duration `toml:"ReadTimeout"`
	WriteTimeout time.Duration `toml:"WriteTimeout"`
	IdleTimeout  time.Duration `toml:"IdleTimeout"`
	LogRequests  bool          `toml:"LogRequests"`
	CORSOrigins  []string      `toml:"CORSOrigins"`
	// MaxConnections caps concurrently open client connections. Zero means
	// unlimited.
	MaxConnections int `toml:"MaxConnections"`
}

// Auth configures bearer token validation.
type Auth struct {
	Enabled    bool          `toml:"Enabled"`
	HMACSecret string        `toml:"HMACSecret"`
	Issuer     string        `toml:"Issuer"`
	Audience   string        `toml:"Audience"`
	ClockSkew  time.Duration `toml:"ClockSkew"`
}

// RateLimit bounds requests per client. Mutations cost WriteTokens.
type RateLimit struct {
	RatePerSecond float64 `toml:"RatePerSecond"`
	Burst         int     `toml:"Burst"`
	WriteTokens   int     `toml:"WriteTokens"`
}

// Simulator configures the in-process protocol.
type Simulator struct {
	SeedFile string `toml:"SeedFile"`
	// BlockInterval advances the simulated chain by BlocksPerTick on every
	// tick. Zero freezes the height.
	BlockInterval time.Duration `toml:"BlockInterval"`
	BlocksPerTick uint64        `toml:"BlocksPerTick"`
}

// EVM configures the JSON-RPC host.
type EVM struct {
	Endpoint       string        `toml:"Endpoint"`
	ChainID        int64         `toml:"ChainID"`
	KeystorePath   string        `toml:"KeystorePath"`
	PassphraseEnv  string        `toml:"PassphraseEnv"`
	GasMarginBps   uint64        `toml:"GasMarginBps"`
	PollInterval   time.Duration `toml:"PollInterval"`
	ReceiptTimeout time.Duration `toml:"ReceiptTimeout"`
}

// Journal selects the event store.
type Journal struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Wallet seeds the wallet book.
type Wallet struct {
	Address string `toml:"Address"`
	Owner   string `toml:"Owner"`
}
