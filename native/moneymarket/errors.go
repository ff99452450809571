package moneymarket

import (
	"errors"

	nativecommon "walletlend/native/common"
)

var (
	ErrUnauthorized         = nativecommon.ErrUnauthorized
	ErrWalletLocked         = nativecommon.ErrWalletLocked
	ErrUnsupportedMarket    = errors.New("moneymarket: unsupported market")
	ErrZeroAmount           = errors.New("moneymarket: amount cannot be 0")
	ErrInvalidFraction      = errors.New("moneymarket: invalid fraction value")
	ErrLiquidityQueryFailed = errors.New("moneymarket: failed to get account liquidity")
	ErrExternalCallFailed   = errors.New("moneymarket: external call failed")
	ErrArithmeticOverflow   = errors.New("moneymarket: arithmetic overflow")
	errNilHost              = errors.New("moneymarket: host not configured")
	errNilRegistry          = errors.New("moneymarket: registry not configured")
)
