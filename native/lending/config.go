package lending

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"walletlend/native/compound"
)

// Config seeds a simulated deployment: the comptroller, the underlying
// assets, the markets listed on them and the starting balances of accounts.
// Amounts, prices and rates are decimal strings in base units or 1e18
// mantissas.
type Config struct {
	Comptroller   string          `yaml:"comptroller"`
	BlocksPerYear uint64          `yaml:"blocksPerYear"`
	Interest      InterestConfig  `yaml:"interest"`
	Tokens        []TokenConfig   `yaml:"tokens"`
	Markets       []MarketConfig  `yaml:"markets"`
	Accounts      []AccountConfig `yaml:"accounts"`
}

// InterestConfig parameterises the shared interest curve.
type InterestConfig struct {
	BaseRate float64 `yaml:"baseRate"`
	Slope1   float64 `yaml:"slope1"`
	Slope2   float64 `yaml:"slope2"`
	Kink     float64 `yaml:"kink"`
}

// TokenConfig declares an ERC-20 underlying asset.
type TokenConfig struct {
	Address string `yaml:"address"`
	Symbol  string `yaml:"symbol"`
}

// MarketConfig lists a market token. The native market uses the native asset
// sentinel as underlying and reports the cETH symbol.
type MarketConfig struct {
	Token               string `yaml:"token"`
	Underlying          string `yaml:"underlying"`
	Symbol              string `yaml:"symbol"`
	CollateralFactorBps uint64 `yaml:"collateralFactorBps"`
	ReserveFactorBps    uint64 `yaml:"reserveFactorBps"`
	Price               string `yaml:"price"`
	InitialExchangeRate string `yaml:"initialExchangeRate"`
	Cash                string `yaml:"cash"`
	BorrowCap           string `yaml:"borrowCap"`
}

// AccountConfig funds an account. Balances are keyed by underlying address;
// the native asset sentinel funds the native balance.
type AccountConfig struct {
	Address  string            `yaml:"address"`
	Balances map[string]string `yaml:"balances"`
}

// LoadConfig reads a YAML seed file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("lending: read seed: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML seed.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("lending: decode seed: %w", err)
	}
	cfg.EnsureDefaults()
	return cfg, nil
}

// DefaultInterest is a kinked curve with a modest base rate.
var DefaultInterest = InterestConfig{BaseRate: 0.02, Slope1: 0.15, Slope2: 0.6, Kink: 0.8}

// EnsureDefaults fills unset fields.
func (c *Config) EnsureDefaults() {
	if c.BlocksPerYear == 0 {
		c.BlocksPerYear = DefaultBlocksPerYear
	}
	if c.Interest == (InterestConfig{}) {
		c.Interest = DefaultInterest
	}
}

func parseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("lending: %s: invalid address %q", field, value)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(field, value string, fallback *big.Int) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return clone(fallback), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("lending: %s: invalid amount %q", field, value)
	}
	return amount, nil
}

// defaultExchangeRate is 0.02 underlying per share.
var defaultExchangeRate = big.NewInt(20_000_000_000_000_000)

func (c Config) build() (common.Address, *ledger, error) {
	comptroller, err := parseAddress("comptroller", c.Comptroller)
	if err != nil {
		return common.Address{}, nil, err
	}
	l := newLedger()
	for i, tc := range c.Tokens {
		addr, err := parseAddress(fmt.Sprintf("tokens[%d].address", i), tc.Address)
		if err != nil {
			return common.Address{}, nil, err
		}
		if addr == compound.NativeAsset {
			return common.Address{}, nil, fmt.Errorf("lending: tokens[%d]: native asset is not a token", i)
		}
		l.tokens[addr] = newTokenState(tc.Symbol)
	}
	for i, mc := range c.Markets {
		field := fmt.Sprintf("markets[%d]", i)
		token, err := parseAddress(field+".token", mc.Token)
		if err != nil {
			return common.Address{}, nil, err
		}
		underlying, err := parseAddress(field+".underlying", mc.Underlying)
		if err != nil {
			return common.Address{}, nil, err
		}
		native := underlying == compound.NativeAsset
		if !native {
			if _, ok := l.tokens[underlying]; !ok {
				return common.Address{}, nil, fmt.Errorf("lending: %s: underlying %s not declared", field, underlying.Hex())
			}
		}
		if _, dup := l.markets[token]; dup {
			return common.Address{}, nil, fmt.Errorf("lending: %s: duplicate market %s", field, token.Hex())
		}
		if mc.CollateralFactorBps > 9_000 {
			return common.Address{}, nil, fmt.Errorf("lending: %s: collateral factor above 90%%", field)
		}
		price, err := parseAmount(field+".price", mc.Price, expScale)
		if err != nil {
			return common.Address{}, nil, err
		}
		rate, err := parseAmount(field+".initialExchangeRate", mc.InitialExchangeRate, defaultExchangeRate)
		if err != nil {
			return common.Address{}, nil, err
		}
		if rate.Sign() == 0 {
			return common.Address{}, nil, fmt.Errorf("lending: %s: exchange rate cannot be zero", field)
		}
		cash, err := parseAmount(field+".cash", mc.Cash, nil)
		if err != nil {
			return common.Address{}, nil, err
		}
		borrowCap, err := parseAmount(field+".borrowCap", mc.BorrowCap, nil)
		if err != nil {
			return common.Address{}, nil, err
		}
		symbol := mc.Symbol
		if native {
			symbol = compound.NativeMarketSymbol
		}
		market := newMarketState(token, underlying, native, symbol, rate)
		market.Risk = RiskParameters{
			CollateralFactorBps: mc.CollateralFactorBps,
			ReserveFactorBps:    mc.ReserveFactorBps,
			BorrowCap:           borrowCap,
		}
		market.Price = price
		if cash.Sign() > 0 {
			// Seeded liquidity is owned by the comptroller so it does not move
			// the exchange rate.
			seeded := divExp(cash, rate)
			market.Cash = cash
			market.TotalSupply = seeded
			market.Shares[comptroller] = clone(seeded)
		}
		l.markets[token] = market
		l.order = append(l.order, token)
	}
	for i, ac := range c.Accounts {
		field := fmt.Sprintf("accounts[%d]", i)
		account, err := parseAddress(field+".address", ac.Address)
		if err != nil {
			return common.Address{}, nil, err
		}
		for assetHex, value := range ac.Balances {
			asset, err := parseAddress(field+".balances", assetHex)
			if err != nil {
				return common.Address{}, nil, err
			}
			amount, err := parseAmount(field+".balances", value, nil)
			if err != nil {
				return common.Address{}, nil, err
			}
			if err := l.credit(asset, account, amount); err != nil {
				return common.Address{}, nil, fmt.Errorf("%s: %w", field, err)
			}
		}
	}
	return comptroller, l, nil
}
