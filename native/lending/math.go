package lending

import (
	"math/big"

	"walletlend/native/compound"
)

// Rates, prices and collateral factors are 1e18-scaled mantissas.
var (
	expScale    = big.NewInt(1_000_000_000_000_000_000)
	basisPoints = big.NewInt(10_000)
	maxUint256  = compound.MaxAmount()
)

// DefaultBlocksPerYear assumes fifteen second blocks.
const DefaultBlocksPerYear = 2_102_400

func zero() *big.Int { return new(big.Int) }

func clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// mulExp multiplies two mantissas, truncating.
func mulExp(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return zero()
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, expScale)
}

// divExp divides a by the mantissa b, truncating.
func divExp(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return zero()
	}
	scaled := new(big.Int).Mul(a, expScale)
	return scaled.Quo(scaled, b)
}

// mulBps returns value*bps/10000.
func mulBps(value *big.Int, bps uint64) *big.Int {
	if value == nil || bps == 0 {
		return zero()
	}
	out := new(big.Int).Mul(value, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

// bpsToExp converts basis points to a mantissa.
func bpsToExp(bps uint64) *big.Int {
	out := new(big.Int).Mul(new(big.Int).SetUint64(bps), expScale)
	return out.Quo(out, basisPoints)
}

// ratToExp converts a rational into a truncated mantissa.
func ratToExp(r *big.Rat) *big.Int {
	if r == nil || r.Sign() <= 0 {
		return zero()
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(expScale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

// simpleInterestFactor returns rate*delta/blocksPerYear as a mantissa, the
// per-accrual factor applied to borrows and the borrow index.
func simpleInterestFactor(annual *big.Rat, delta, blocksPerYear uint64) *big.Int {
	if annual == nil || annual.Sign() == 0 || delta == 0 || blocksPerYear == 0 {
		return zero()
	}
	perBlock := new(big.Rat).Quo(annual, new(big.Rat).SetUint64(blocksPerYear))
	perBlock.Mul(perBlock, new(big.Rat).SetUint64(delta))
	return ratToExp(perBlock)
}
