package moneymarket

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"walletlend/core/types"
	"walletlend/native/compound"
)

type mutation struct {
	name string
	run  func(m *Manager, actor Actor, asset common.Address, amount *big.Int) error
}

func mutations() []mutation {
	ctx := context.Background()
	return []mutation{
		{"open loan collateral", func(m *Manager, a Actor, asset common.Address, amt *big.Int) error {
			_, err := m.OpenLoan(ctx, a, asset, amt, tokenB, big.NewInt(1))
			return err
		}},
		{"open loan debt", func(m *Manager, a Actor, asset common.Address, amt *big.Int) error {
			_, err := m.OpenLoan(ctx, a, tokenA, big.NewInt(1), asset, amt)
			return err
		}},
		{"add collateral", func(m *Manager, a Actor, asset common.Address, amt *big.Int) error {
			return m.AddCollateral(ctx, a, asset, amt)
		}},
		{"remove collateral", func(m *Manager, a Actor, asset common.Address, amt *big.Int) error {
			return m.RemoveCollateral(ctx, a, asset, amt)
		}},
		{"add debt", func(m *Manager, a Actor, asset common.Address, amt *big.Int) error {
			return m.AddDebt(ctx, a, asset, amt)
		}},
		{"remove debt", func(m *Manager, a Actor, asset common.Address, amt *big.Int) error {
			return m.RemoveDebt(ctx, a, asset, amt)
		}},
		{"add investment", func(m *Manager, a Actor, asset common.Address, amt *big.Int) error {
			_, err := m.AddInvestment(ctx, a, asset, amt, 30)
			return err
		}},
	}
}

func TestUnsupportedAssetPerformsNoCalls(t *testing.T) {
	t.Parallel()
	for _, tc := range mutations() {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			err := tc.run(f.manager, ownerActor(), tokenX, big.NewInt(10))
			require.ErrorIs(t, err, ErrUnsupportedMarket)
			require.Empty(t, f.host.calls)
			require.Empty(t, f.recorder.Events)
		})
	}

	t.Run("remove investment", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		err := f.manager.RemoveInvestment(context.Background(), ownerActor(), tokenX, 5000)
		require.ErrorIs(t, err, ErrUnsupportedMarket)
		require.Empty(t, f.host.calls)
	})

	t.Run("zero market token", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.registry.markets[tokenX] = Market{Underlying: tokenX}
		err := f.manager.AddCollateral(context.Background(), ownerActor(), tokenX, big.NewInt(1))
		require.ErrorIs(t, err, ErrUnsupportedMarket)
		require.Empty(t, f.host.calls)
	})
}

func TestZeroAmountPerformsNoCalls(t *testing.T) {
	t.Parallel()
	for _, tc := range mutations() {
		tc := tc
		for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
			amount := amount
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				f := newFixture()
				err := tc.run(f.manager, ownerActor(), tokenA, amount)
				require.ErrorIs(t, err, ErrZeroAmount)
				require.Empty(t, f.host.calls)
			})
		}
	}
}

func TestAuthorizationCheckedFirst(t *testing.T) {
	t.Parallel()
	for _, tc := range mutations() {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			f.guard.locked[testWallet] = true

			stranger := Actor{Wallet: testWallet, Caller: testStranger}
			require.ErrorIs(t, tc.run(f.manager, stranger, tokenX, big.NewInt(0)), ErrUnauthorized)
			require.ErrorIs(t, tc.run(f.manager, ownerActor(), tokenA, big.NewInt(10)), ErrWalletLocked)
			require.Empty(t, f.host.calls)
			require.Empty(t, f.recorder.Events)
		})
	}

	f := newFixture()
	f.guard.locked[testWallet] = true
	require.ErrorIs(t, f.manager.CloseLoan(context.Background(), ownerActor()), ErrWalletLocked)
	require.ErrorIs(t, f.manager.RemoveInvestment(context.Background(), Actor{Wallet: testWallet, Caller: testStranger}, tokenA, 1), ErrUnauthorized)
	require.Empty(t, f.host.calls)
}

func TestNilGuardDenies(t *testing.T) {
	t.Parallel()
	f := newFixture()
	m := NewManager(f.host, f.registry, nil)
	require.ErrorIs(t, m.AddCollateral(context.Background(), ownerActor(), tokenA, big.NewInt(1)), ErrUnauthorized)
}

func TestOpenLoanCallSequence(t *testing.T) {
	t.Parallel()
	f := newFixture()

	id, err := f.manager.OpenLoan(context.Background(), ownerActor(), tokenA, big.NewInt(1000), tokenB, big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, [32]byte{}, id)

	invokes := f.host.invokes()
	require.Equal(t, []string{compound.MethodEnterMarkets, compound.MethodApprove, compound.MethodMint, compound.MethodBorrow}, f.host.invokedMethods())
	require.Equal(t, testComptroller, invokes[0].Target)
	require.Equal(t, []common.Address{cTokenA, cTokenB}, invokes[0].Args[0])
	require.Equal(t, tokenA, invokes[1].Target)
	require.Equal(t, cTokenA, invokes[1].Args[0])
	require.Equal(t, big.NewInt(1000), invokes[1].Args[1])
	require.Equal(t, cTokenA, invokes[2].Target)
	require.Equal(t, big.NewInt(1000), invokes[2].Args[0])
	require.Equal(t, cTokenB, invokes[3].Target)
	require.Equal(t, big.NewInt(500), invokes[3].Args[0])
	require.Zero(t, f.host.count(compound.MethodCheckMembership))

	require.Len(t, f.recorder.Events, 1)
	evt := f.recorder.Events[0].(*types.Event)
	require.Equal(t, EventTypeLoanOpened, evt.Type)
	require.Equal(t, testWallet.Hex(), evt.Attr("wallet"))
	require.Equal(t, "1000", evt.Attr("collateralAmount"))
	require.Equal(t, tokenB.Hex(), evt.Attr("debtToken"))
	require.Equal(t, "500", evt.Attr("debtAmount"))
	require.Len(t, evt.Attr("loanId"), 64)
}

func TestOpenLoanNativeCollateralAttachesValue(t *testing.T) {
	t.Parallel()
	f := newFixture()

	_, err := f.manager.OpenLoan(context.Background(), ownerActor(), compound.NativeAsset, big.NewInt(7), tokenB, big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, []string{compound.MethodEnterMarkets, compound.MethodMint, compound.MethodBorrow}, f.host.invokedMethods())
	mint := f.host.invokes()[1]
	require.Equal(t, cEther, mint.Target)
	require.Equal(t, big.NewInt(7), mint.Value)
	require.Empty(t, mint.Args)
}

func TestOpenLoanBorrowFailureAborts(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.host.failOn[compound.MethodBorrow] = errBoom

	_, err := f.manager.OpenLoan(context.Background(), ownerActor(), tokenA, big.NewInt(1000), tokenB, big.NewInt(500))
	require.ErrorIs(t, err, ErrExternalCallFailed)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, f.host.rollbacks)
	require.Zero(t, f.host.commits)
	require.Empty(t, f.recorder.Events)
}

func TestCloseLoanRepaysAndExitsEmptyMarkets(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.host.assetsIn = []common.Address{cTokenA, cTokenB}
	f.host.shares[cTokenA] = big.NewInt(1000)
	f.host.borrowsNow[cTokenB] = big.NewInt(505)

	require.NoError(t, f.manager.CloseLoan(context.Background(), ownerActor()))

	require.Equal(t, []string{compound.MethodApprove, compound.MethodRepayBorrow, compound.MethodApprove, compound.MethodExitMarket}, f.host.invokedMethods())
	invokes := f.host.invokes()
	require.Equal(t, tokenB, invokes[0].Target)
	require.Equal(t, compound.MaxAmount(), invokes[0].Args[1])
	require.Equal(t, cTokenB, invokes[1].Target)
	require.Equal(t, compound.MaxAmount(), invokes[1].Args[0])
	require.Equal(t, tokenB, invokes[2].Target)
	require.Zero(t, invokes[2].Args[1].(*big.Int).Sign())
	require.Equal(t, cTokenB, invokes[3].Args[0])
	require.Zero(t, f.host.count(compound.MethodRedeem))
	require.Zero(t, f.host.count(compound.MethodRedeemUnderlying))

	require.Len(t, f.recorder.Events, 1)
	require.Equal(t, EventTypeLoanClosed, f.recorder.Events[0].EventType())
}

func TestCloseLoanRepaysAccrualAfterRead(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.host.assetsIn = []common.Address{cTokenB}
	f.host.borrowsNow[cTokenB] = big.NewInt(505)
	// Interest keeps accruing between the read and execution of the batch.
	f.host.invokeFn = func(call recordedCall) error {
		if call.Method == compound.MethodApprove && call.Args[1].(*big.Int).Sign() > 0 {
			f.host.borrowsNow[cTokenB] = big.NewInt(512)
		}
		return nil
	}

	require.NoError(t, f.manager.CloseLoan(context.Background(), ownerActor()))
	repay := f.host.invokes()[1]
	require.Equal(t, compound.MethodRepayBorrow, repay.Method)
	require.Equal(t, 1, repay.Args[0].(*big.Int).Cmp(f.host.borrowsNow[cTokenB]))
}

func TestCloseLoanKeepsMarketWithCollateral(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.host.assetsIn = []common.Address{cTokenA}
	f.host.shares[cTokenA] = big.NewInt(1)
	f.host.borrowsNow[cTokenA] = big.NewInt(9)

	require.NoError(t, f.manager.CloseLoan(context.Background(), ownerActor()))
	require.Equal(t, []string{compound.MethodApprove, compound.MethodRepayBorrow, compound.MethodApprove}, f.host.invokedMethods())
}

func TestCloseLoanNativeDebtAttachesValue(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.host.assetsIn = []common.Address{cEther}
	f.host.borrowsNow[cEther] = big.NewInt(42)

	require.NoError(t, f.manager.CloseLoan(context.Background(), ownerActor()))
	invokes := f.host.invokes()
	require.Equal(t, []string{compound.MethodRepayBorrow, compound.MethodExitMarket}, f.host.invokedMethods())
	require.Equal(t, cEther, invokes[0].Target)
	require.Equal(t, big.NewInt(42), invokes[0].Value)
}

func TestCloseLoanDescribesUnlistedMarket(t *testing.T) {
	t.Parallel()
	f := newFixture()
	cTokenX := common.HexToAddress("0x00000000000000000000000000000000000001ff")
	f.host.assetsIn = []common.Address{cTokenX}
	f.host.symbols[cTokenX] = "cDAI"
	f.host.underlyings[cTokenX] = tokenX
	f.host.borrowsNow[cTokenX] = big.NewInt(5)
	f.host.shares[cTokenX] = big.NewInt(1)

	require.NoError(t, f.manager.CloseLoan(context.Background(), ownerActor()))
	invokes := f.host.invokes()
	require.Len(t, invokes, 3)
	require.Equal(t, tokenX, invokes[0].Target)
	require.Equal(t, cTokenX, invokes[1].Target)
	require.Equal(t, tokenX, invokes[2].Target)
}

func TestCloseLoanWithoutMarketsStillNotifies(t *testing.T) {
	t.Parallel()
	f := newFixture()
	require.NoError(t, f.manager.CloseLoan(context.Background(), ownerActor()))
	require.Empty(t, f.host.invokes())
	require.Len(t, f.recorder.Events, 1)
}

func TestAddCollateralEntersOnlyWhenNeeded(t *testing.T) {
	t.Parallel()

	f := newFixture()
	require.NoError(t, f.manager.AddCollateral(context.Background(), ownerActor(), tokenA, big.NewInt(10)))
	require.Equal(t, []string{compound.MethodEnterMarkets, compound.MethodApprove, compound.MethodMint}, f.host.invokedMethods())
	require.Equal(t, []common.Address{cTokenA}, f.host.invokes()[0].Args[0])

	f = newFixture()
	f.host.members[cTokenA] = true
	require.NoError(t, f.manager.AddCollateral(context.Background(), ownerActor(), tokenA, big.NewInt(10)))
	require.Equal(t, []string{compound.MethodApprove, compound.MethodMint}, f.host.invokedMethods())
	require.Equal(t, EventTypeCollateralAdded, f.recorder.Events[0].EventType())
}

func TestRemoveCollateralRedeemsUnderlyingAndExits(t *testing.T) {
	t.Parallel()
	f := newFixture()

	require.NoError(t, f.manager.RemoveCollateral(context.Background(), ownerActor(), tokenA, big.NewInt(10)))
	require.Equal(t, []string{compound.MethodRedeemUnderlying, compound.MethodExitMarket}, f.host.invokedMethods())
	require.Equal(t, big.NewInt(10), f.host.invokes()[0].Args[0])
	require.Zero(t, f.host.count(compound.MethodBorrowBalanceCurrent))
	require.Equal(t, 1, f.host.count(compound.MethodBorrowBalanceStored))
}

func TestAddDebtBorrows(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.host.members[cTokenB] = true

	require.NoError(t, f.manager.AddDebt(context.Background(), ownerActor(), tokenB, big.NewInt(3)))
	require.Equal(t, []string{compound.MethodBorrow}, f.host.invokedMethods())
	evt := f.recorder.Events[0].(*types.Event)
	require.Equal(t, EventTypeDebtAdded, evt.Type)
	require.Equal(t, tokenB.Hex(), evt.Attr("debtToken"))
	require.Equal(t, "3", evt.Attr("amount"))
}

func TestRemoveDebtNativeRepayKeepsMarketWithDebt(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.host.borrowsCache[cEther] = big.NewInt(1)

	require.NoError(t, f.manager.RemoveDebt(context.Background(), ownerActor(), compound.NativeAsset, big.NewInt(4)))
	require.Equal(t, []string{compound.MethodRepayBorrow}, f.host.invokedMethods())
	require.Equal(t, big.NewInt(4), f.host.invokes()[0].Value)
	require.Equal(t, EventTypeDebtRemoved, f.recorder.Events[0].EventType())
}

func TestAddInvestmentReturnsRequestedAmount(t *testing.T) {
	t.Parallel()
	f := newFixture()

	invested, err := f.manager.AddInvestment(context.Background(), ownerActor(), tokenA, big.NewInt(250), 365)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(250), invested)
	require.Equal(t, []string{compound.MethodApprove, compound.MethodMint}, f.host.invokedMethods())
	require.Zero(t, f.host.count(compound.MethodEnterMarkets))

	evt := f.recorder.Events[0].(*types.Event)
	require.Equal(t, EventTypeInvestmentAdded, evt.Type)
	require.Equal(t, "365", evt.Attr("period"))
	require.Equal(t, tokenA.Hex(), evt.Attr("token"))
}

func TestRemoveInvestmentFractions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		shares   int64
		fraction uint64
		redeem   int64
		err      error
		noCalls  bool
	}{
		{name: "full", shares: 1000, fraction: 10_000, redeem: 1000},
		{name: "quarter", shares: 1000, fraction: 2500, redeem: 250},
		{name: "truncates", shares: 10, fraction: 3333, redeem: 3},
		{name: "zero fraction", shares: 1000, fraction: 0, err: ErrZeroAmount},
		{name: "no shares", shares: 0, fraction: 10_000, err: ErrZeroAmount},
		{name: "over full", shares: 1000, fraction: 10_001, err: ErrInvalidFraction, noCalls: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			f.host.shares[cTokenA] = big.NewInt(tc.shares)

			err := f.manager.RemoveInvestment(context.Background(), ownerActor(), tokenA, tc.fraction)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.Empty(t, f.host.invokes())
				require.Empty(t, f.recorder.Events)
				if tc.noCalls {
					require.Empty(t, f.host.calls)
				}
				return
			}
			require.NoError(t, err)
			require.Equal(t, []string{compound.MethodRedeem}, f.host.invokedMethods())
			require.Equal(t, big.NewInt(tc.redeem), f.host.invokes()[0].Args[0])
			require.Equal(t, EventTypeInvestmentRemoved, f.recorder.Events[0].EventType())
		})
	}
}

func TestReadFailureAbortsOperation(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.host.failOn[compound.MethodCheckMembership] = errBoom

	err := f.manager.AddDebt(context.Background(), ownerActor(), tokenA, big.NewInt(1))
	require.ErrorIs(t, err, ErrExternalCallFailed)
	require.Empty(t, f.host.invokes())
	require.Equal(t, 1, f.host.rollbacks)
}

func TestManagerWithoutHost(t *testing.T) {
	t.Parallel()
	var m *Manager
	require.Error(t, m.CloseLoan(context.Background(), ownerActor()))
	m = NewManager(nil, newFakeRegistry(), fakeGuard{})
	require.Error(t, m.AddCollateral(context.Background(), ownerActor(), tokenA, big.NewInt(1)))
}
