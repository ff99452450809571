package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// marketNotListed is the comptroller code returned per unlisted market on
// enterMarkets.
const marketNotListed = 9

func (m *machine) enterMarkets(account common.Address, tokens []common.Address) []*big.Int {
	codes := make([]*big.Int, len(tokens))
	for i, token := range tokens {
		if _, ok := m.state.markets[token]; !ok {
			codes[i] = big.NewInt(marketNotListed)
			continue
		}
		if !m.state.isMember(account, token) {
			m.state.members[account] = append(m.state.members[account], token)
		}
		codes[i] = big.NewInt(codeNoError)
	}
	return codes
}

// exitMarket removes the market from the account's assets. It refuses while
// the account still borrows there or while its shares back other debt.
func (m *machine) exitMarket(account, token common.Address) error {
	market, ok := m.state.markets[token]
	if !ok {
		return errMarketNotListed
	}
	if !m.state.isMember(account, token) {
		return nil
	}
	if borrowBalance(market, account).Sign() != 0 {
		return errExitWithDebt
	}
	if shares := market.sharesOf(account); shares.Sign() > 0 {
		_, shortfall, err := m.liquidity(account, token, shares, nil)
		if err != nil {
			return err
		}
		if shortfall.Sign() > 0 {
			return errInsufficientLiquidity
		}
	}
	entered := m.state.members[account]
	kept := entered[:0:0]
	for _, t := range entered {
		if t != token {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(m.state.members, account)
	} else {
		m.state.members[account] = kept
	}
	return nil
}

// liquidity computes the account's excess borrowing power or shortfall over
// its entered markets, as if redeemShares of modify were redeemed and
// borrowAmount of it borrowed. Balances are the stored ones.
func (m *machine) liquidity(account, modify common.Address, redeemShares, borrowAmount *big.Int) (*big.Int, *big.Int, error) {
	collateral := zero()
	obligations := zero()
	for _, token := range m.state.members[account] {
		market := m.state.markets[token]
		if market == nil {
			continue
		}
		if market.Price == nil || market.Price.Sign() == 0 {
			return nil, nil, errPriceUnavailable
		}
		factor := bpsToExp(market.Risk.CollateralFactorBps)
		perShare := mulExp(mulExp(factor, exchangeRate(market)), market.Price)
		collateral.Add(collateral, mulExp(perShare, market.sharesOf(account)))
		obligations.Add(obligations, mulExp(market.Price, borrowBalance(market, account)))
		if token == modify {
			if redeemShares != nil {
				obligations.Add(obligations, mulExp(perShare, redeemShares))
			}
			if borrowAmount != nil {
				obligations.Add(obligations, mulExp(market.Price, borrowAmount))
			}
		}
	}
	if collateral.Cmp(obligations) > 0 {
		return collateral.Sub(collateral, obligations), zero(), nil
	}
	return zero(), obligations.Sub(obligations, collateral), nil
}

// accountLiquidity is the (code, liquidity, shortfall) view of liquidity.
func (m *machine) accountLiquidity(account common.Address) (*big.Int, *big.Int, *big.Int) {
	liquidity, shortfall, err := m.liquidity(account, common.Address{}, nil, nil)
	if err != nil {
		return big.NewInt(codePriceError), zero(), zero()
	}
	return big.NewInt(codeNoError), liquidity, shortfall
}
