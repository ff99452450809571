package moneymarket

import (
	"context"
	"fmt"
	"math/big"

	"walletlend/native/compound"
)

// Adapter translates supply, withdraw, borrow and repay intents into the
// call sequence the money market expects. It holds no state.
type Adapter struct{}

func checkMarketAmount(market Market, amount *big.Int) error {
	if !market.Supported() {
		return ErrUnsupportedMarket
	}
	if !isPositive(amount) {
		return ErrZeroAmount
	}
	return nil
}

// Supply deposits underlying into the market. The native asset is attached
// to the mint call; a token is approved for the market first.
func (Adapter) Supply(ctx context.Context, s Session, market Market, amount *big.Int) error {
	if err := checkMarketAmount(market, amount); err != nil {
		return err
	}
	if market.Kind == KindNative {
		return invoke(ctx, s, market.Token, amount, compound.CEther, compound.MethodMint)
	}
	if err := invoke(ctx, s, market.Underlying, nil, compound.ERC20, compound.MethodApprove, market.Token, amount); err != nil {
		return err
	}
	return invoke(ctx, s, market.Token, nil, compound.CToken, compound.MethodMint, amount)
}

// WithdrawByShares redeems an amount of market shares.
func (Adapter) WithdrawByShares(ctx context.Context, s Session, market Market, shares *big.Int) error {
	if err := checkMarketAmount(market, shares); err != nil {
		return err
	}
	return invoke(ctx, s, market.Token, nil, compound.CToken, compound.MethodRedeem, shares)
}

// WithdrawByUnderlying redeems enough shares to receive amount of underlying.
func (Adapter) WithdrawByUnderlying(ctx context.Context, s Session, market Market, amount *big.Int) error {
	if err := checkMarketAmount(market, amount); err != nil {
		return err
	}
	return invoke(ctx, s, market.Token, nil, compound.CToken, compound.MethodRedeemUnderlying, amount)
}

// Borrow draws amount of underlying against the wallet's collateral.
func (Adapter) Borrow(ctx context.Context, s Session, market Market, amount *big.Int) error {
	if err := checkMarketAmount(market, amount); err != nil {
		return err
	}
	return invoke(ctx, s, market.Token, nil, compound.CToken, compound.MethodBorrow, amount)
}

// Repay pays back borrowed underlying. The native market takes the value on
// an argument-less repay; token markets pull an approved amount.
func (Adapter) Repay(ctx context.Context, s Session, market Market, amount *big.Int) error {
	if err := checkMarketAmount(market, amount); err != nil {
		return err
	}
	switch market.Kind {
	case KindNative:
		return invoke(ctx, s, market.Token, amount, compound.CEther, compound.MethodRepayBorrow)
	case KindToken:
		if err := invoke(ctx, s, market.Underlying, nil, compound.ERC20, compound.MethodApprove, market.Token, amount); err != nil {
			return err
		}
		return invoke(ctx, s, market.Token, nil, compound.CToken, compound.MethodRepayBorrow, amount)
	default:
		return fmt.Errorf("%w: unknown market kind %d", ErrUnsupportedMarket, market.Kind)
	}
}

// RepayAll clears the wallet's whole debt in the market. Token markets repay
// the maximum amount so interest accrued until the batch executes is covered,
// and the standing approval is reset afterwards. The native market can only
// take attached value, so owed is sent as is.
func (Adapter) RepayAll(ctx context.Context, s Session, market Market, owed *big.Int) error {
	if err := checkMarketAmount(market, owed); err != nil {
		return err
	}
	switch market.Kind {
	case KindNative:
		return invoke(ctx, s, market.Token, owed, compound.CEther, compound.MethodRepayBorrow)
	case KindToken:
		if err := invoke(ctx, s, market.Underlying, nil, compound.ERC20, compound.MethodApprove, market.Token, compound.MaxAmount()); err != nil {
			return err
		}
		if err := invoke(ctx, s, market.Token, nil, compound.CToken, compound.MethodRepayBorrow, compound.MaxAmount()); err != nil {
			return err
		}
		return invoke(ctx, s, market.Underlying, nil, compound.ERC20, compound.MethodApprove, market.Token, new(big.Int))
	default:
		return fmt.Errorf("%w: unknown market kind %d", ErrUnsupportedMarket, market.Kind)
	}
}
