package moneymarket

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MarketKind distinguishes the native-asset market from ERC-20 markets. The
// two follow different mint and repay conventions.
type MarketKind uint8

const (
	KindToken MarketKind = iota
	KindNative
)

func (k MarketKind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindToken:
		return "token"
	default:
		return "unknown"
	}
}

// Market is a resolved registry entry: the market token of one underlying
// asset together with its routing kind.
type Market struct {
	Token      common.Address
	Underlying common.Address
	Kind       MarketKind
}

// Supported reports whether the entry names a market token at all.
func (m Market) Supported() bool {
	return m.Token != (common.Address{})
}

// Actor identifies who is acting on which wallet.
type Actor struct {
	Wallet common.Address
	Caller common.Address
}

// LoanID is the identifier carried by loan notifications. The protocol
// supports a single aggregate loan per wallet so the identifier is always
// zero.
var LoanID [32]byte

// LoanStatus classifies the aggregate borrowing position of a wallet.
type LoanStatus uint8

const (
	LoanNone LoanStatus = iota
	LoanSafe
	LoanUnsafe
)

func (s LoanStatus) String() string {
	switch s {
	case LoanSafe:
		return "safe"
	case LoanUnsafe:
		return "unsafe"
	default:
		return "none"
	}
}

// Position is a live snapshot of one entered market. Nothing here is
// persisted; Collateral is valued with the stored exchange rate and Debt is the
// stored (non-accruing) borrow balance.
type Position struct {
	Market     common.Address `json:"market"`
	Underlying common.Address `json:"underlying"`
	Kind       MarketKind     `json:"kind"`
	Shares     *big.Int       `json:"shares"`
	Collateral *big.Int       `json:"collateral"`
	Debt       *big.Int       `json:"debt"`
}

// MarshalText renders the kind by name in JSON payloads.
func (k MarketKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
