package lending

import "math/big"

// RiskParameters are the comptroller-governed limits of one market.
type RiskParameters struct {
	// CollateralFactorBps is the share of supplied value that counts towards
	// borrowing power.
	CollateralFactorBps uint64
	// ReserveFactorBps is the share of accrued interest kept as reserves.
	ReserveFactorBps uint64
	// BorrowCap bounds total borrows of the market. Nil or zero is uncapped.
	BorrowCap *big.Int
	// Pauses lists the guardian switches of the market.
	Pauses ActionPauses
}

// Clone returns a deep copy of the risk parameters.
func (p RiskParameters) Clone() RiskParameters {
	clone := p
	if p.BorrowCap != nil {
		clone.BorrowCap = new(big.Int).Set(p.BorrowCap)
	}
	return clone
}

// ActionPauses exposes the guardian switches for pausing individual flows.
type ActionPauses struct {
	Mint   bool
	Borrow bool
}
