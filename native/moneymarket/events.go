package moneymarket

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"walletlend/core/types"
)

const (
	EventTypeLoanOpened        = "moneymarket.loan.opened"
	EventTypeLoanClosed        = "moneymarket.loan.closed"
	EventTypeCollateralAdded   = "moneymarket.collateral.added"
	EventTypeCollateralRemoved = "moneymarket.collateral.removed"
	EventTypeDebtAdded         = "moneymarket.debt.added"
	EventTypeDebtRemoved       = "moneymarket.debt.removed"
	EventTypeInvestmentAdded   = "moneymarket.investment.added"
	EventTypeInvestmentRemoved = "moneymarket.investment.removed"
)

// NewLoanOpenedEvent returns the payload emitted once a loan is opened.
func NewLoanOpenedEvent(wallet, collateral common.Address, collateralAmount *big.Int, debt common.Address, debtAmount *big.Int) *types.Event {
	evt := newLoanEvent(EventTypeLoanOpened, wallet)
	evt.Attributes["collateral"] = collateral.Hex()
	evt.Attributes["collateralAmount"] = amountString(collateralAmount)
	evt.Attributes["debtToken"] = debt.Hex()
	evt.Attributes["debtAmount"] = amountString(debtAmount)
	return evt
}

// NewLoanClosedEvent returns the payload emitted once all debt is repaid.
func NewLoanClosedEvent(wallet common.Address) *types.Event {
	return newLoanEvent(EventTypeLoanClosed, wallet)
}

func NewCollateralAddedEvent(wallet, asset common.Address, amount *big.Int) *types.Event {
	return newLoanAmountEvent(EventTypeCollateralAdded, wallet, "collateral", asset, amount)
}

func NewCollateralRemovedEvent(wallet, asset common.Address, amount *big.Int) *types.Event {
	return newLoanAmountEvent(EventTypeCollateralRemoved, wallet, "collateral", asset, amount)
}

func NewDebtAddedEvent(wallet, asset common.Address, amount *big.Int) *types.Event {
	return newLoanAmountEvent(EventTypeDebtAdded, wallet, "debtToken", asset, amount)
}

func NewDebtRemovedEvent(wallet, asset common.Address, amount *big.Int) *types.Event {
	return newLoanAmountEvent(EventTypeDebtRemoved, wallet, "debtToken", asset, amount)
}

// NewInvestmentAddedEvent carries the invested amount and the requested
// period, which this market ignores.
func NewInvestmentAddedEvent(wallet, asset common.Address, amount *big.Int, period uint64) *types.Event {
	evt := newWalletEvent(EventTypeInvestmentAdded, wallet)
	evt.Attributes["token"] = asset.Hex()
	evt.Attributes["amount"] = amountString(amount)
	evt.Attributes["period"] = strconv.FormatUint(period, 10)
	return evt
}

func NewInvestmentRemovedEvent(wallet, asset common.Address, fractionBps uint64) *types.Event {
	evt := newWalletEvent(EventTypeInvestmentRemoved, wallet)
	evt.Attributes["token"] = asset.Hex()
	evt.Attributes["fraction"] = strconv.FormatUint(fractionBps, 10)
	return evt
}

func newWalletEvent(eventType string, wallet common.Address) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{"wallet": wallet.Hex()}}
}

func newLoanEvent(eventType string, wallet common.Address) *types.Event {
	evt := newWalletEvent(eventType, wallet)
	evt.Attributes["loanId"] = hex.EncodeToString(LoanID[:])
	return evt
}

func newLoanAmountEvent(eventType string, wallet common.Address, assetKey string, asset common.Address, amount *big.Int) *types.Event {
	evt := newLoanEvent(eventType, wallet)
	evt.Attributes[assetKey] = asset.Hex()
	evt.Attributes["amount"] = amountString(amount)
	return evt
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
