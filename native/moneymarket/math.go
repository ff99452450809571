package moneymarket

import (
	"math/big"

	"github.com/holiman/uint256"
)

// MaxFractionBps is the basis-point denominator of a full withdrawal.
const MaxFractionBps = 10_000

var (
	basisPoints = uint256.NewInt(MaxFractionBps)
	expScale    = uint256.NewInt(1_000_000_000_000_000_000)
)

func toWord(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return new(uint256.Int), nil
	}
	if x.Sign() < 0 {
		return nil, ErrArithmeticOverflow
	}
	word, overflow := uint256.FromBig(x)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return word, nil
}

// mulDiv computes a*b/d with 256-bit words, truncating the quotient and
// failing when the product does not fit.
func mulDiv(a, b *big.Int, d *uint256.Int) (*big.Int, error) {
	x, err := toWord(a)
	if err != nil {
		return nil, err
	}
	y, err := toWord(b)
	if err != nil {
		return nil, err
	}
	product, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return new(uint256.Int).Div(product, d).ToBig(), nil
}

// fractionOf returns shares*fractionBps/10000.
func fractionOf(shares *big.Int, fractionBps uint64) (*big.Int, error) {
	return mulDiv(shares, new(big.Int).SetUint64(fractionBps), basisPoints)
}

// underlyingValue converts market shares into underlying units using a
// 1e18-scaled exchange rate.
func underlyingValue(shares, exchangeRate *big.Int) (*big.Int, error) {
	return mulDiv(shares, exchangeRate, expScale)
}

func isPositive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}
