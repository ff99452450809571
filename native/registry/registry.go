// Package registry maps underlying assets to the market tokens the money
// market manager routes through.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"walletlend/native/compound"
	"walletlend/native/moneymarket"
)

var (
	ErrNoComptroller   = errors.New("registry: comptroller address required")
	ErrDuplicateMarket = errors.New("registry: duplicate market")
	ErrUnknownKind     = errors.New("registry: unknown market kind")
)

// File is the YAML layout of a registry.
type File struct {
	Comptroller string  `yaml:"comptroller"`
	Markets     []Entry `yaml:"markets"`
}

// Entry names one market. Kind is "native" or "token"; when empty it is
// discovered from the market token itself.
type Entry struct {
	Underlying string `yaml:"underlying"`
	Token      string `yaml:"token"`
	Kind       string `yaml:"kind,omitempty"`
}

// Registry is an immutable set of markets keyed by underlying and by token.
type Registry struct {
	comptroller  common.Address
	byUnderlying map[common.Address]moneymarket.Market
	byToken      map[common.Address]moneymarket.Market
	order        []common.Address

	mu sync.RWMutex
}

// Load reads a registry file and resolves it. caller is only used for entries
// without an explicit kind and may be nil otherwise.
func Load(ctx context.Context, path string, caller moneymarket.Caller) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	return Build(ctx, file, caller)
}

// Build resolves every entry of file.
func Build(ctx context.Context, file File, caller moneymarket.Caller) (*Registry, error) {
	comptroller, err := address("comptroller", file.Comptroller)
	if err != nil {
		return nil, err
	}
	if comptroller == (common.Address{}) {
		return nil, ErrNoComptroller
	}
	reg := New(comptroller)
	for i, entry := range file.Markets {
		market, err := resolve(ctx, entry, caller)
		if err != nil {
			return nil, fmt.Errorf("registry: market %d: %w", i, err)
		}
		if err := reg.add(market); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// New creates an empty registry for the given comptroller.
func New(comptroller common.Address) *Registry {
	return &Registry{
		comptroller:  comptroller,
		byUnderlying: make(map[common.Address]moneymarket.Market),
		byToken:      make(map[common.Address]moneymarket.Market),
	}
}

// Add registers an already resolved market.
func (r *Registry) Add(market moneymarket.Market) error {
	return r.add(market)
}

func (r *Registry) add(market moneymarket.Market) error {
	if !market.Supported() {
		return moneymarket.ErrUnsupportedMarket
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUnderlying[market.Underlying]; ok {
		return fmt.Errorf("%w: underlying %s", ErrDuplicateMarket, market.Underlying.Hex())
	}
	if _, ok := r.byToken[market.Token]; ok {
		return fmt.Errorf("%w: token %s", ErrDuplicateMarket, market.Token.Hex())
	}
	r.byUnderlying[market.Underlying] = market
	r.byToken[market.Token] = market
	r.order = append(r.order, market.Underlying)
	return nil
}

func (r *Registry) Comptroller() common.Address { return r.comptroller }

func (r *Registry) MarketFor(underlying common.Address) (moneymarket.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	market, ok := r.byUnderlying[underlying]
	return market, ok
}

func (r *Registry) MarketByToken(token common.Address) (moneymarket.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	market, ok := r.byToken[token]
	return market, ok
}

// Markets lists registered markets in insertion order.
func (r *Registry) Markets() []moneymarket.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]moneymarket.Market, 0, len(r.order))
	for _, underlying := range r.order {
		out = append(out, r.byUnderlying[underlying])
	}
	return out
}

func resolve(ctx context.Context, entry Entry, caller moneymarket.Caller) (moneymarket.Market, error) {
	token, err := address("token", entry.Token)
	if err != nil {
		return moneymarket.Market{}, err
	}
	switch strings.ToLower(strings.TrimSpace(entry.Kind)) {
	case "":
		if caller == nil {
			return moneymarket.Market{}, fmt.Errorf("%w: kind of %s cannot be discovered offline", ErrUnknownKind, token.Hex())
		}
		market, err := moneymarket.DescribeMarket(ctx, caller, token)
		if err != nil {
			return moneymarket.Market{}, err
		}
		if entry.Underlying != "" {
			underlying, err := address("underlying", entry.Underlying)
			if err != nil {
				return moneymarket.Market{}, err
			}
			if underlying != market.Underlying {
				return moneymarket.Market{}, fmt.Errorf("registry: %s reports underlying %s, configured %s", token.Hex(), market.Underlying.Hex(), underlying.Hex())
			}
		}
		return market, nil
	case "native":
		return moneymarket.Market{Token: token, Underlying: compound.NativeAsset, Kind: moneymarket.KindNative}, nil
	case "token":
		underlying, err := address("underlying", entry.Underlying)
		if err != nil {
			return moneymarket.Market{}, err
		}
		return moneymarket.Market{Token: token, Underlying: underlying, Kind: moneymarket.KindToken}, nil
	default:
		return moneymarket.Market{}, fmt.Errorf("%w: %q", ErrUnknownKind, entry.Kind)
	}
}

func address(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("registry: invalid %s address %q", field, value)
	}
	return common.HexToAddress(trimmed), nil
}
