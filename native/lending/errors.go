package lending

import "errors"

// Reverts raised by the simulated protocol. The wallet sees them as failed
// invokes; read calls surface them as failed calls.
var (
	errUnknownContract       = errors.New("lending: no contract at target")
	errUnknownMethod         = errors.New("lending: unknown method")
	errMarketNotListed       = errors.New("lending: market not listed")
	errNotPayable            = errors.New("lending: method is not payable")
	errInvalidAmount         = errors.New("lending: amount must be positive")
	errInsufficientBalance   = errors.New("lending: insufficient balance")
	errInsufficientAllowance = errors.New("lending: insufficient allowance")
	errInsufficientCash      = errors.New("lending: insufficient cash")
	errInsufficientShares    = errors.New("lending: insufficient shares")
	errInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	errNotMember             = errors.New("lending: account not in market")
	errRepayExceedsDebt      = errors.New("lending: repay exceeds borrow balance")
	errExitWithDebt          = errors.New("lending: cannot exit market with outstanding borrow")
	errPriceUnavailable      = errors.New("lending: price unavailable")
	errMintPaused            = errors.New("lending: mint is paused")
	errBorrowPaused          = errors.New("lending: borrow is paused")
	errBorrowCapReached      = errors.New("lending: market borrow cap reached")
	errNilProtocol           = errors.New("lending: protocol not configured")
)

// Comptroller error codes returned by getAccountLiquidity.
const (
	codeNoError    = 0
	codePriceError = 13
)
