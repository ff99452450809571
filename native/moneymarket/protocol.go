package moneymarket

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"walletlend/native/compound"
)

// protocol wraps the read surface of the money market. Every failure is
// reported as ErrExternalCallFailed.
type protocol struct {
	caller Caller
}

func externalFailure(method string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalCallFailed, method, err)
}

func (p protocol) call(ctx context.Context, contract abi.ABI, target common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := compound.Pack(contract, method, args...)
	if err != nil {
		return nil, externalFailure(method, err)
	}
	output, err := p.caller.Call(ctx, target, data)
	if err != nil {
		return nil, externalFailure(method, err)
	}
	values, err := compound.Unpack(contract, method, output)
	if err != nil {
		return nil, externalFailure(method, err)
	}
	return values, nil
}

func (p protocol) callUint(ctx context.Context, contract abi.ABI, target common.Address, method string, args ...interface{}) (*big.Int, error) {
	values, err := p.call(ctx, contract, target, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, externalFailure(method, fmt.Errorf("expected 1 value, got %d", len(values)))
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, externalFailure(method, fmt.Errorf("unexpected %T", values[0]))
	}
	return value, nil
}

func (p protocol) checkMembership(ctx context.Context, comptroller, wallet, token common.Address) (bool, error) {
	values, err := p.call(ctx, compound.Comptroller, comptroller, compound.MethodCheckMembership, wallet, token)
	if err != nil {
		return false, err
	}
	member, ok := values[0].(bool)
	if !ok {
		return false, externalFailure(compound.MethodCheckMembership, fmt.Errorf("unexpected %T", values[0]))
	}
	return member, nil
}

func (p protocol) assetsIn(ctx context.Context, comptroller, wallet common.Address) ([]common.Address, error) {
	values, err := p.call(ctx, compound.Comptroller, comptroller, compound.MethodGetAssetsIn, wallet)
	if err != nil {
		return nil, err
	}
	markets, ok := values[0].([]common.Address)
	if !ok {
		return nil, externalFailure(compound.MethodGetAssetsIn, fmt.Errorf("unexpected %T", values[0]))
	}
	return markets, nil
}

// accountLiquidity returns the (error code, liquidity, shortfall) triple.
func (p protocol) accountLiquidity(ctx context.Context, comptroller, wallet common.Address) (*big.Int, *big.Int, *big.Int, error) {
	values, err := p.call(ctx, compound.Comptroller, comptroller, compound.MethodGetAccountLiquidity, wallet)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(values) != 3 {
		return nil, nil, nil, externalFailure(compound.MethodGetAccountLiquidity, fmt.Errorf("expected 3 values, got %d", len(values)))
	}
	out := make([]*big.Int, 3)
	for i, value := range values {
		parsed, ok := value.(*big.Int)
		if !ok {
			return nil, nil, nil, externalFailure(compound.MethodGetAccountLiquidity, fmt.Errorf("unexpected %T", value))
		}
		out[i] = parsed
	}
	return out[0], out[1], out[2], nil
}

func (p protocol) balanceOf(ctx context.Context, token, wallet common.Address) (*big.Int, error) {
	return p.callUint(ctx, compound.CToken, token, compound.MethodBalanceOf, wallet)
}

func (p protocol) borrowBalanceCurrent(ctx context.Context, token, wallet common.Address) (*big.Int, error) {
	return p.callUint(ctx, compound.CToken, token, compound.MethodBorrowBalanceCurrent, wallet)
}

func (p protocol) borrowBalanceStored(ctx context.Context, token, wallet common.Address) (*big.Int, error) {
	return p.callUint(ctx, compound.CToken, token, compound.MethodBorrowBalanceStored, wallet)
}

func (p protocol) exchangeRateStored(ctx context.Context, token common.Address) (*big.Int, error) {
	return p.callUint(ctx, compound.CToken, token, compound.MethodExchangeRateStored)
}

func (p protocol) symbol(ctx context.Context, token common.Address) (string, error) {
	values, err := p.call(ctx, compound.CToken, token, compound.MethodSymbol)
	if err != nil {
		return "", err
	}
	symbol, ok := values[0].(string)
	if !ok {
		return "", externalFailure(compound.MethodSymbol, fmt.Errorf("unexpected %T", values[0]))
	}
	return symbol, nil
}

func (p protocol) underlying(ctx context.Context, token common.Address) (common.Address, error) {
	values, err := p.call(ctx, compound.CToken, token, compound.MethodUnderlying)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, externalFailure(compound.MethodUnderlying, fmt.Errorf("unexpected %T", values[0]))
	}
	return addr, nil
}

// DescribeMarket classifies a market token from its on-chain metadata: the
// native-asset market is recognised by its symbol, any other market reports
// its underlying token. Registries call this once per entry.
func DescribeMarket(ctx context.Context, caller Caller, token common.Address) (Market, error) {
	if token == (common.Address{}) {
		return Market{}, ErrUnsupportedMarket
	}
	p := protocol{caller: caller}
	symbol, err := p.symbol(ctx, token)
	if err != nil {
		return Market{}, err
	}
	if symbol == compound.NativeMarketSymbol {
		return Market{Token: token, Underlying: compound.NativeAsset, Kind: KindNative}, nil
	}
	underlying, err := p.underlying(ctx, token)
	if err != nil {
		return Market{}, err
	}
	return Market{Token: token, Underlying: underlying, Kind: KindToken}, nil
}

func invoke(ctx context.Context, s Session, target common.Address, value *big.Int, contract abi.ABI, method string, args ...interface{}) error {
	data, err := compound.Pack(contract, method, args...)
	if err != nil {
		return externalFailure(method, err)
	}
	if value == nil {
		value = new(big.Int)
	}
	if _, err := s.Invoke(ctx, target, value, data); err != nil {
		return externalFailure(method, err)
	}
	return nil
}
