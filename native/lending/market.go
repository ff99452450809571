package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"walletlend/native/compound"
)

// machine executes protocol logic against a ledger at a fixed block height.
type machine struct {
	state         *ledger
	comptroller   common.Address
	model         *InterestModel
	blocksPerYear uint64
	height        uint64
}

// accrue applies simple interest for the blocks elapsed since the last
// accrual to total borrows, reserves and the borrow index.
func (m *machine) accrue(market *MarketState) {
	if market.AccrualBlock >= m.height {
		return
	}
	delta := m.height - market.AccrualBlock
	market.AccrualBlock = m.height
	if market.TotalBorrows.Sign() == 0 || m.model == nil {
		return
	}
	apr := m.model.BorrowAPR(market.Cash, market.TotalBorrows, market.TotalReserves)
	factor := simpleInterestFactor(apr, delta, m.blocksPerYear)
	if factor.Sign() == 0 {
		return
	}
	interest := mulExp(factor, market.TotalBorrows)
	market.TotalBorrows = new(big.Int).Add(market.TotalBorrows, interest)
	market.TotalReserves = new(big.Int).Add(market.TotalReserves, mulBps(interest, market.Risk.ReserveFactorBps))
	market.BorrowIndex = new(big.Int).Add(market.BorrowIndex, mulExp(factor, market.BorrowIndex))
}

// exchangeRate is (cash + borrows - reserves) / supply, or the initial rate
// while nothing is supplied.
func exchangeRate(market *MarketState) *big.Int {
	if market.TotalSupply.Sign() == 0 {
		return clone(market.InitialExchangeRate)
	}
	underlying := new(big.Int).Add(market.Cash, market.TotalBorrows)
	underlying.Sub(underlying, market.TotalReserves)
	return divExp(underlying, market.TotalSupply)
}

// borrowBalance is the account's principal grown by the borrow index since
// its last borrow or repay.
func borrowBalance(market *MarketState, account common.Address) *big.Int {
	snap := market.Borrows[account]
	if snap == nil || snap.Principal.Sign() == 0 || snap.InterestIndex.Sign() == 0 {
		return zero()
	}
	out := new(big.Int).Mul(snap.Principal, market.BorrowIndex)
	return out.Quo(out, snap.InterestIndex)
}

func (m *machine) setBorrow(market *MarketState, account common.Address, principal *big.Int) {
	if principal.Sign() == 0 {
		delete(market.Borrows, account)
		return
	}
	market.Borrows[account] = &BorrowSnapshot{Principal: clone(principal), InterestIndex: clone(market.BorrowIndex)}
}

// pull moves underlying from the account into the market. Token markets
// consume an allowance granted to the market token; the native market
// receives the attached value.
func (m *machine) pull(market *MarketState, account common.Address, amount, value *big.Int) error {
	if market.Native {
		if value.Cmp(amount) != 0 {
			return errInvalidAmount
		}
		market.Cash = new(big.Int).Add(market.Cash, amount)
		return nil
	}
	token := m.state.tokens[market.Underlying]
	allowed := token.allowance(account, market.Token)
	if allowed.Cmp(amount) < 0 {
		return errInsufficientAllowance
	}
	if err := m.state.debit(market.Underlying, account, amount); err != nil {
		return err
	}
	if allowed.Cmp(maxUint256) != 0 {
		token.setAllowance(account, market.Token, allowed.Sub(allowed, amount))
	}
	market.Cash = new(big.Int).Add(market.Cash, amount)
	return nil
}

// push pays underlying out of the market to the account.
func (m *machine) push(market *MarketState, account common.Address, amount *big.Int) error {
	if market.Cash.Cmp(amount) < 0 {
		return errInsufficientCash
	}
	market.Cash = new(big.Int).Sub(market.Cash, amount)
	asset := market.Underlying
	if market.Native {
		asset = compound.NativeAsset
	}
	return m.state.credit(asset, account, amount)
}

func (m *machine) mint(market *MarketState, account common.Address, amount, value *big.Int) error {
	if market.Risk.Pauses.Mint {
		return errMintPaused
	}
	if amount.Sign() <= 0 {
		return errInvalidAmount
	}
	m.accrue(market)
	rate := exchangeRate(market)
	if err := m.pull(market, account, amount, value); err != nil {
		return err
	}
	minted := divExp(amount, rate)
	market.Shares[account] = new(big.Int).Add(market.sharesOf(account), minted)
	market.TotalSupply = new(big.Int).Add(market.TotalSupply, minted)
	return nil
}

// redeem burns shares for underlying. Exactly one of shares or amount is
// non-nil; the other is derived at the current exchange rate.
func (m *machine) redeem(market *MarketState, account common.Address, shares, amount *big.Int) error {
	m.accrue(market)
	rate := exchangeRate(market)
	switch {
	case shares != nil:
		amount = mulExp(rate, shares)
	default:
		shares = divExp(amount, rate)
		if shares.Sign() == 0 && amount.Sign() > 0 {
			return errInvalidAmount
		}
	}
	if shares.Sign() <= 0 {
		return errInvalidAmount
	}
	held := market.sharesOf(account)
	if held.Cmp(shares) < 0 {
		return errInsufficientShares
	}
	if m.state.isMember(account, market.Token) {
		_, shortfall, err := m.liquidity(account, market.Token, shares, nil)
		if err != nil {
			return err
		}
		if shortfall.Sign() > 0 {
			return errInsufficientLiquidity
		}
	}
	if err := m.push(market, account, amount); err != nil {
		return err
	}
	market.Shares[account] = held.Sub(held, shares)
	market.TotalSupply = new(big.Int).Sub(market.TotalSupply, shares)
	return nil
}

func (m *machine) borrow(market *MarketState, account common.Address, amount *big.Int) error {
	if market.Risk.Pauses.Borrow {
		return errBorrowPaused
	}
	if amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if !m.state.isMember(account, market.Token) {
		return errNotMember
	}
	m.accrue(market)
	if limit := market.Risk.BorrowCap; limit != nil && limit.Sign() > 0 {
		if new(big.Int).Add(market.TotalBorrows, amount).Cmp(limit) > 0 {
			return errBorrowCapReached
		}
	}
	_, shortfall, err := m.liquidity(account, market.Token, nil, amount)
	if err != nil {
		return err
	}
	if shortfall.Sign() > 0 {
		return errInsufficientLiquidity
	}
	debt := borrowBalance(market, account)
	if err := m.push(market, account, amount); err != nil {
		return err
	}
	m.setBorrow(market, account, debt.Add(debt, amount))
	market.TotalBorrows = new(big.Int).Add(market.TotalBorrows, amount)
	return nil
}

// repay reduces the account's debt. The maximum uint256 amount repays the
// whole accrued balance.
func (m *machine) repay(market *MarketState, account common.Address, amount, value *big.Int) error {
	m.accrue(market)
	debt := borrowBalance(market, account)
	if amount.Cmp(maxUint256) == 0 {
		amount = clone(debt)
	}
	if amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if amount.Cmp(debt) > 0 {
		return errRepayExceedsDebt
	}
	if err := m.pull(market, account, amount, value); err != nil {
		return err
	}
	m.setBorrow(market, account, debt.Sub(debt, amount))
	remaining := new(big.Int).Sub(market.TotalBorrows, amount)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	market.TotalBorrows = remaining
	return nil
}
