package lending

import "math/big"

// InterestModel is a kinked utilisation curve yielding the annual borrow rate
// of a market.
type InterestModel struct {
	// BaseRate is the borrow APR at zero utilisation.
	BaseRate *big.Rat
	// Slope1 is the APR increase per unit of utilisation up to the kink.
	Slope1 *big.Rat
	// Slope2 is the additional APR increase per unit of utilisation past the
	// kink.
	Slope2 *big.Rat
	// Kink is the utilisation ratio where the slope changes.
	Kink *big.Rat
}

// NewInterestModel constructs an interest model from decimal inputs, e.g. a 2%
// base rate is 0.02 and an 80% kink is 0.8.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// Utilisation computes borrows / (cash + borrows - reserves). An empty market
// has zero utilisation.
func (m *InterestModel) Utilisation(cash, borrows, reserves *big.Int) *big.Rat {
	if borrows == nil || borrows.Sign() == 0 {
		return new(big.Rat)
	}
	supplied := new(big.Int).Add(clone(cash), borrows)
	supplied.Sub(supplied, clone(reserves))
	if supplied.Sign() <= 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(borrows, supplied)
}

// BorrowAPR derives the annual borrow rate at the current utilisation.
func (m *InterestModel) BorrowAPR(cash, borrows, reserves *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	utilisation := m.Utilisation(cash, borrows, reserves)
	if utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), utilisation))
	}
	rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope2), excess))
}

// SupplyAPY is the annual rate earned by suppliers: the borrow APR scaled by
// utilisation, net of the reserve factor.
func (m *InterestModel) SupplyAPY(cash, borrows, reserves *big.Int, reserveFactorBps uint64) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	borrowAPR := m.BorrowAPR(cash, borrows, reserves)
	utilisation := m.Utilisation(cash, borrows, reserves)
	if borrowAPR.Sign() == 0 || utilisation.Sign() == 0 {
		return new(big.Rat)
	}
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	keep := new(big.Rat).SetFrac(new(big.Int).SetUint64(10_000-reserveFactorBps), basisPoints)
	supply := new(big.Rat).Mul(borrowAPR, utilisation)
	return supply.Mul(supply, keep)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}
