package moneymarket

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Caller performs read-only calls against protocol contracts.
type Caller interface {
	Call(ctx context.Context, target common.Address, data []byte) ([]byte, error)
}

// Session is the view a single operation has of one wallet. Whether reads
// observe invokes already issued in the same session depends on the host.
type Session interface {
	Caller
	// Wallet is the account every invoke is executed from.
	Wallet() common.Address
	// Invoke performs a call on behalf of the wallet, attaching value of the
	// native asset.
	Invoke(ctx context.Context, target common.Address, value *big.Int, data []byte) ([]byte, error)
}

// Host supplies the all-or-nothing execution boundary. Atomic runs fn inside
// one unit of work for the wallet; when fn returns an error every effect of
// the session is discarded.
type Host interface {
	Caller
	Atomic(ctx context.Context, wallet common.Address, fn func(Session) error) error
}

// Registry maps underlying assets to their market tokens.
type Registry interface {
	Comptroller() common.Address
	MarketFor(underlying common.Address) (Market, bool)
	MarketByToken(token common.Address) (Market, bool)
}
