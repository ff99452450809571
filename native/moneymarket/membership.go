package moneymarket

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"walletlend/native/compound"
)

// Membership keeps the per-market "entered" flag consistent with the
// wallet's balances. Collateral only counts towards borrowing power in an
// entered market.
type Membership struct {
	Comptroller common.Address
}

// EnsureEntered enters the market unless the wallet is already a member.
func (m Membership) EnsureEntered(ctx context.Context, s Session, token common.Address) error {
	p := protocol{caller: s}
	member, err := p.checkMembership(ctx, m.Comptroller, s.Wallet(), token)
	if err != nil {
		return err
	}
	if member {
		return nil
	}
	return m.Enter(ctx, s, token)
}

// Enter issues one enterMarkets call listing exactly the given tokens,
// without checking prior membership.
func (m Membership) Enter(ctx context.Context, s Session, tokens ...common.Address) error {
	return invoke(ctx, s, m.Comptroller, nil, compound.Comptroller, compound.MethodEnterMarkets, tokens)
}

// ExitIfUnused leaves the market once the wallet holds neither collateral nor
// debt in it. The debt check uses the stored balance rather than accruing
// interest first.
func (m Membership) ExitIfUnused(ctx context.Context, s Session, token common.Address) error {
	p := protocol{caller: s}
	collateral, err := p.balanceOf(ctx, token, s.Wallet())
	if err != nil {
		return err
	}
	debt, err := p.borrowBalanceStored(ctx, token, s.Wallet())
	if err != nil {
		return err
	}
	if collateral.Sign() != 0 || debt.Sign() != 0 {
		return nil
	}
	return m.Exit(ctx, s, token)
}

// Exit issues an exitMarket call for the token.
func (m Membership) Exit(ctx context.Context, s Session, token common.Address) error {
	return invoke(ctx, s, m.Comptroller, nil, compound.Comptroller, compound.MethodExitMarket, token)
}
