package moneymarket

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reader answers risk and valuation queries. Reads are public views and are
// not subject to the wallet guard.
type Reader struct {
	caller   Caller
	registry Registry
}

// NewReader builds a reader over a read-only caller.
func NewReader(caller Caller, registry Registry) *Reader {
	return &Reader{caller: caller, registry: registry}
}

func (r *Reader) ready() error {
	if r == nil || r.caller == nil {
		return errNilHost
	}
	if r.registry == nil {
		return errNilRegistry
	}
	return nil
}

// LoanStatus reports whether the wallet's aggregate position is safe (with
// its excess liquidity) or unsafe (with its shortfall). A wallet with neither
// reports LoanNone and zero.
func (r *Reader) LoanStatus(ctx context.Context, wallet common.Address) (LoanStatus, *big.Int, error) {
	if err := r.ready(); err != nil {
		return LoanNone, nil, err
	}
	code, liquidity, shortfall, err := protocol{caller: r.caller}.accountLiquidity(ctx, r.registry.Comptroller(), wallet)
	if err != nil {
		return LoanNone, nil, fmt.Errorf("%w: %w", ErrLiquidityQueryFailed, err)
	}
	if code.Sign() != 0 {
		return LoanNone, nil, fmt.Errorf("%w: error code %s", ErrLiquidityQueryFailed, code)
	}
	switch {
	case liquidity.Sign() > 0:
		return LoanSafe, liquidity, nil
	case shortfall.Sign() > 0:
		return LoanUnsafe, shortfall, nil
	default:
		return LoanNone, new(big.Int), nil
	}
}

// InvestmentValue returns the underlying value of the wallet's shares in the
// asset's market at the stored exchange rate. The market has no lock-up so
// the period end is always zero.
func (r *Reader) InvestmentValue(ctx context.Context, wallet, asset common.Address) (*big.Int, uint64, error) {
	if err := r.ready(); err != nil {
		return nil, 0, err
	}
	market, ok := r.registry.MarketFor(asset)
	if !ok || !market.Supported() {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedMarket, asset.Hex())
	}
	p := protocol{caller: r.caller}
	shares, err := p.balanceOf(ctx, market.Token, wallet)
	if err != nil {
		return nil, 0, err
	}
	rate, err := p.exchangeRateStored(ctx, market.Token)
	if err != nil {
		return nil, 0, err
	}
	value, err := underlyingValue(shares, rate)
	if err != nil {
		return nil, 0, err
	}
	return value, 0, nil
}

// Positions snapshots every market the wallet has entered.
func (r *Reader) Positions(ctx context.Context, wallet common.Address) ([]Position, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	p := protocol{caller: r.caller}
	tokens, err := p.assetsIn(ctx, r.registry.Comptroller(), wallet)
	if err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(tokens))
	for _, token := range tokens {
		market, ok := r.registry.MarketByToken(token)
		if !ok {
			market, err = DescribeMarket(ctx, r.caller, token)
			if err != nil {
				return nil, err
			}
		}
		shares, err := p.balanceOf(ctx, token, wallet)
		if err != nil {
			return nil, err
		}
		rate, err := p.exchangeRateStored(ctx, token)
		if err != nil {
			return nil, err
		}
		collateral, err := underlyingValue(shares, rate)
		if err != nil {
			return nil, err
		}
		debt, err := p.borrowBalanceStored(ctx, token, wallet)
		if err != nil {
			return nil, err
		}
		positions = append(positions, Position{
			Market:     token,
			Underlying: market.Underlying,
			Kind:       market.Kind,
			Shares:     shares,
			Collateral: collateral,
			Debt:       debt,
		})
	}
	return positions, nil
}
