package common

import (
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorized = errors.New("caller is not the wallet owner")
	ErrWalletLocked = errors.New("wallet is locked")
)

// WalletGuard answers the authorization questions asked before a wallet may
// act: who owns it and whether it is currently frozen.
type WalletGuard interface {
	IsOwner(wallet, caller ethcommon.Address) bool
	IsLocked(wallet ethcommon.Address) bool
}

// Guard rejects callers that are not the owner of an unlocked wallet. A nil
// guard denies every caller.
func Guard(g WalletGuard, wallet, caller ethcommon.Address) error {
	if g == nil || !g.IsOwner(wallet, caller) {
		return ErrUnauthorized
	}
	if g.IsLocked(wallet) {
		return ErrWalletLocked
	}
	return nil
}
