package moneymarket

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"walletlend/core/events"
	nativecommon "walletlend/native/common"
)

// Manager orchestrates loan and investment positions of wallets against the
// money market. It keeps no position records: every amount is read from the
// protocol and every change is an invoke through the host.
type Manager struct {
	host       Host
	registry   Registry
	guard      nativecommon.WalletGuard
	emitter    events.Emitter
	adapter    Adapter
	membership Membership
}

// NewManager wires a manager to its host, registry and authorization guard.
func NewManager(host Host, registry Registry, guard nativecommon.WalletGuard) *Manager {
	m := &Manager{
		host:     host,
		registry: registry,
		guard:    guard,
		emitter:  events.NoopEmitter{},
	}
	if registry != nil {
		m.membership = Membership{Comptroller: registry.Comptroller()}
	}
	return m
}

// SetEmitter configures where lifecycle notifications are delivered.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if m == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
}

// OpenLoan enters the collateral and debt markets, supplies the collateral
// and borrows the debt. It returns the loan identifier, which is always zero.
func (m *Manager) OpenLoan(ctx context.Context, actor Actor, collateral common.Address, collateralAmount *big.Int, debt common.Address, debtAmount *big.Int) ([32]byte, error) {
	if err := m.begin(actor); err != nil {
		return [32]byte{}, err
	}
	collateralMarket, err := m.resolve(collateral)
	if err != nil {
		return [32]byte{}, err
	}
	debtMarket, err := m.resolve(debt)
	if err != nil {
		return [32]byte{}, err
	}
	if !isPositive(collateralAmount) || !isPositive(debtAmount) {
		return [32]byte{}, ErrZeroAmount
	}
	err = m.host.Atomic(ctx, actor.Wallet, func(s Session) error {
		if err := m.membership.Enter(ctx, s, collateralMarket.Token, debtMarket.Token); err != nil {
			return err
		}
		if err := m.adapter.Supply(ctx, s, collateralMarket, collateralAmount); err != nil {
			return err
		}
		return m.adapter.Borrow(ctx, s, debtMarket, debtAmount)
	})
	if err != nil {
		return [32]byte{}, err
	}
	m.emitter.Emit(NewLoanOpenedEvent(actor.Wallet, collateral, collateralAmount, debt, debtAmount))
	return LoanID, nil
}

// CloseLoan repays the full accrued debt of every entered market and exits
// those markets left without collateral. Remaining collateral is not
// redeemed. Token debts are repaid with the maximum amount so interest that
// accrues before the batch executes leaves no residue.
func (m *Manager) CloseLoan(ctx context.Context, actor Actor) error {
	if err := m.begin(actor); err != nil {
		return err
	}
	err := m.host.Atomic(ctx, actor.Wallet, func(s Session) error {
		p := protocol{caller: s}
		tokens, err := p.assetsIn(ctx, m.membership.Comptroller, s.Wallet())
		if err != nil {
			return err
		}
		for _, token := range tokens {
			debt, err := p.borrowBalanceCurrent(ctx, token, s.Wallet())
			if err != nil {
				return err
			}
			if debt.Sign() == 0 {
				continue
			}
			market, err := m.marketByToken(ctx, s, token)
			if err != nil {
				return err
			}
			if err := m.adapter.RepayAll(ctx, s, market, debt); err != nil {
				return err
			}
			collateral, err := p.balanceOf(ctx, token, s.Wallet())
			if err != nil {
				return err
			}
			if collateral.Sign() == 0 {
				if err := m.membership.Exit(ctx, s, token); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.emitter.Emit(NewLoanClosedEvent(actor.Wallet))
	return nil
}

// AddCollateral supplies more collateral, entering its market if needed.
func (m *Manager) AddCollateral(ctx context.Context, actor Actor, asset common.Address, amount *big.Int) error {
	market, err := m.prepare(actor, asset, amount)
	if err != nil {
		return err
	}
	err = m.host.Atomic(ctx, actor.Wallet, func(s Session) error {
		if err := m.membership.EnsureEntered(ctx, s, market.Token); err != nil {
			return err
		}
		return m.adapter.Supply(ctx, s, market, amount)
	})
	if err != nil {
		return err
	}
	m.emitter.Emit(NewCollateralAddedEvent(actor.Wallet, asset, amount))
	return nil
}

// RemoveCollateral withdraws an underlying amount of collateral and leaves
// the market when nothing remains in it.
func (m *Manager) RemoveCollateral(ctx context.Context, actor Actor, asset common.Address, amount *big.Int) error {
	market, err := m.prepare(actor, asset, amount)
	if err != nil {
		return err
	}
	err = m.host.Atomic(ctx, actor.Wallet, func(s Session) error {
		if err := m.adapter.WithdrawByUnderlying(ctx, s, market, amount); err != nil {
			return err
		}
		return m.membership.ExitIfUnused(ctx, s, market.Token)
	})
	if err != nil {
		return err
	}
	m.emitter.Emit(NewCollateralRemovedEvent(actor.Wallet, asset, amount))
	return nil
}

// AddDebt borrows more of an asset, entering its market if needed.
func (m *Manager) AddDebt(ctx context.Context, actor Actor, asset common.Address, amount *big.Int) error {
	market, err := m.prepare(actor, asset, amount)
	if err != nil {
		return err
	}
	err = m.host.Atomic(ctx, actor.Wallet, func(s Session) error {
		if err := m.membership.EnsureEntered(ctx, s, market.Token); err != nil {
			return err
		}
		return m.adapter.Borrow(ctx, s, market, amount)
	})
	if err != nil {
		return err
	}
	m.emitter.Emit(NewDebtAddedEvent(actor.Wallet, asset, amount))
	return nil
}

// RemoveDebt repays part of the debt in one asset and leaves the market when
// nothing remains in it.
func (m *Manager) RemoveDebt(ctx context.Context, actor Actor, asset common.Address, amount *big.Int) error {
	market, err := m.prepare(actor, asset, amount)
	if err != nil {
		return err
	}
	err = m.host.Atomic(ctx, actor.Wallet, func(s Session) error {
		if err := m.adapter.Repay(ctx, s, market, amount); err != nil {
			return err
		}
		return m.membership.ExitIfUnused(ctx, s, market.Token)
	})
	if err != nil {
		return err
	}
	m.emitter.Emit(NewDebtRemovedEvent(actor.Wallet, asset, amount))
	return nil
}

// AddInvestment supplies an asset to earn interest. The period is carried in
// the notification only; the market has no lock-up. The invested amount
// equals the requested amount.
func (m *Manager) AddInvestment(ctx context.Context, actor Actor, asset common.Address, amount *big.Int, period uint64) (*big.Int, error) {
	market, err := m.prepare(actor, asset, amount)
	if err != nil {
		return nil, err
	}
	err = m.host.Atomic(ctx, actor.Wallet, func(s Session) error {
		return m.adapter.Supply(ctx, s, market, amount)
	})
	if err != nil {
		return nil, err
	}
	m.emitter.Emit(NewInvestmentAddedEvent(actor.Wallet, asset, amount, period))
	return new(big.Int).Set(amount), nil
}

// RemoveInvestment redeems fractionBps/10000 of the wallet's market shares.
// A fraction that rounds to zero shares fails with ErrZeroAmount.
func (m *Manager) RemoveInvestment(ctx context.Context, actor Actor, asset common.Address, fractionBps uint64) error {
	if err := m.begin(actor); err != nil {
		return err
	}
	if fractionBps > MaxFractionBps {
		return ErrInvalidFraction
	}
	market, err := m.resolve(asset)
	if err != nil {
		return err
	}
	err = m.host.Atomic(ctx, actor.Wallet, func(s Session) error {
		shares, err := protocol{caller: s}.balanceOf(ctx, market.Token, s.Wallet())
		if err != nil {
			return err
		}
		redeem, err := fractionOf(shares, fractionBps)
		if err != nil {
			return err
		}
		return m.adapter.WithdrawByShares(ctx, s, market, redeem)
	})
	if err != nil {
		return err
	}
	m.emitter.Emit(NewInvestmentRemovedEvent(actor.Wallet, asset, fractionBps))
	return nil
}

func (m *Manager) begin(actor Actor) error {
	if m == nil || m.host == nil {
		return errNilHost
	}
	if m.registry == nil {
		return errNilRegistry
	}
	return nativecommon.Guard(m.guard, actor.Wallet, actor.Caller)
}

func (m *Manager) prepare(actor Actor, asset common.Address, amount *big.Int) (Market, error) {
	if err := m.begin(actor); err != nil {
		return Market{}, err
	}
	market, err := m.resolve(asset)
	if err != nil {
		return Market{}, err
	}
	if !isPositive(amount) {
		return Market{}, ErrZeroAmount
	}
	return market, nil
}

func (m *Manager) resolve(asset common.Address) (Market, error) {
	market, ok := m.registry.MarketFor(asset)
	if !ok || !market.Supported() {
		return Market{}, fmt.Errorf("%w: %s", ErrUnsupportedMarket, asset.Hex())
	}
	return market, nil
}

// marketByToken prefers the registry classification and falls back to the
// token's own metadata for markets entered outside the registry.
func (m *Manager) marketByToken(ctx context.Context, c Caller, token common.Address) (Market, error) {
	if market, ok := m.registry.MarketByToken(token); ok && market.Supported() {
		return market, nil
	}
	return DescribeMarket(ctx, c, token)
}
