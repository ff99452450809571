package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"walletlend/native/compound"
)

// resolve finds the contract ABI deployed at target and the method selected
// by the calldata.
func (m *machine) resolve(target common.Address, data []byte) (*abi.Method, error) {
	var contract abi.ABI
	switch {
	case target == m.comptroller:
		contract = compound.Comptroller
	case m.state.markets[target] != nil:
		if m.state.markets[target].Native {
			contract = compound.CEther
		} else {
			contract = compound.CToken
		}
	case m.state.tokens[target] != nil:
		contract = compound.ERC20
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownContract, target.Hex())
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: calldata too short", errUnknownMethod)
	}
	method, err := contract.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %x on %s", errUnknownMethod, data[:4], target.Hex())
	}
	return method, nil
}

// execute runs one call from sender, moving value of the native asset when
// the method is payable, and returns the ABI-encoded result.
func (m *machine) execute(sender, target common.Address, value *big.Int, data []byte) ([]byte, error) {
	method, err := m.resolve(target, data)
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("lending: decode %s: %w", method.Name, err)
	}
	if value == nil {
		value = zero()
	}
	if value.Sign() > 0 {
		if !method.IsPayable() {
			return nil, fmt.Errorf("%w: %s", errNotPayable, method.Name)
		}
		if err := m.state.debit(compound.NativeAsset, sender, value); err != nil {
			return nil, err
		}
	}
	var outputs []interface{}
	switch {
	case target == m.comptroller:
		outputs, err = m.comptrollerCall(sender, method.Name, args)
	case m.state.markets[target] != nil:
		outputs, err = m.marketCall(m.state.markets[target], sender, value, method.Name, args)
	default:
		outputs, err = m.tokenCall(target, sender, method.Name, args)
	}
	if err != nil {
		return nil, fmt.Errorf("lending: %s: %w", method.Name, err)
	}
	return method.Outputs.Pack(outputs...)
}

func (m *machine) comptrollerCall(sender common.Address, name string, args []interface{}) ([]interface{}, error) {
	switch name {
	case compound.MethodEnterMarkets:
		return []interface{}{m.enterMarkets(sender, args[0].([]common.Address))}, nil
	case compound.MethodExitMarket:
		if err := m.exitMarket(sender, args[0].(common.Address)); err != nil {
			return nil, err
		}
		return []interface{}{big.NewInt(codeNoError)}, nil
	case compound.MethodCheckMembership:
		return []interface{}{m.state.isMember(args[0].(common.Address), args[1].(common.Address))}, nil
	case compound.MethodGetAssetsIn:
		return []interface{}{append([]common.Address{}, m.state.members[args[0].(common.Address)]...)}, nil
	case compound.MethodGetAccountLiquidity:
		code, liquidity, shortfall := m.accountLiquidity(args[0].(common.Address))
		return []interface{}{code, liquidity, shortfall}, nil
	}
	return nil, errUnknownMethod
}

func (m *machine) marketCall(market *MarketState, sender common.Address, value *big.Int, name string, args []interface{}) ([]interface{}, error) {
	ok := []interface{}{big.NewInt(codeNoError)}
	switch name {
	case compound.MethodMint:
		if market.Native {
			return nil, m.mint(market, sender, value, value)
		}
		return ok, m.mint(market, sender, args[0].(*big.Int), value)
	case compound.MethodRepayBorrow:
		if market.Native {
			return nil, m.repay(market, sender, value, value)
		}
		return ok, m.repay(market, sender, args[0].(*big.Int), value)
	case compound.MethodRedeem:
		return ok, m.redeem(market, sender, args[0].(*big.Int), nil)
	case compound.MethodRedeemUnderlying:
		return ok, m.redeem(market, sender, nil, args[0].(*big.Int))
	case compound.MethodBorrow:
		return ok, m.borrow(market, sender, args[0].(*big.Int))
	case compound.MethodBalanceOf:
		return []interface{}{market.sharesOf(args[0].(common.Address))}, nil
	case compound.MethodBorrowBalanceCurrent:
		m.accrue(market)
		return []interface{}{borrowBalance(market, args[0].(common.Address))}, nil
	case compound.MethodBorrowBalanceStored:
		return []interface{}{borrowBalance(market, args[0].(common.Address))}, nil
	case compound.MethodExchangeRateCurrent:
		m.accrue(market)
		return []interface{}{exchangeRate(market)}, nil
	case compound.MethodExchangeRateStored:
		return []interface{}{exchangeRate(market)}, nil
	case compound.MethodSymbol:
		return []interface{}{market.Symbol}, nil
	case compound.MethodUnderlying:
		return []interface{}{market.Underlying}, nil
	}
	return nil, errUnknownMethod
}

func (m *machine) tokenCall(target, sender common.Address, name string, args []interface{}) ([]interface{}, error) {
	token := m.state.tokens[target]
	switch name {
	case compound.MethodApprove:
		token.setAllowance(sender, args[0].(common.Address), args[1].(*big.Int))
		return []interface{}{true}, nil
	case compound.MethodAllowance:
		return []interface{}{token.allowance(args[0].(common.Address), args[1].(common.Address))}, nil
	case compound.MethodBalanceOf:
		return []interface{}{clone(token.Balances[args[0].(common.Address)])}, nil
	case compound.MethodTransfer:
		amount := args[1].(*big.Int)
		if err := m.state.debit(target, sender, amount); err != nil {
			return nil, err
		}
		if err := m.state.credit(target, args[0].(common.Address), amount); err != nil {
			return nil, err
		}
		return []interface{}{true}, nil
	case compound.MethodSymbol:
		return []interface{}{token.Symbol}, nil
	}
	return nil, errUnknownMethod
}
