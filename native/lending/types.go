package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"walletlend/native/compound"
)

// MarketState captures the accounting of one market token. Cash is the
// underlying held by the market; shares are market-token balances.
type MarketState struct {
	Token      common.Address
	Underlying common.Address
	Native     bool
	Symbol     string

	Cash          *big.Int
	TotalSupply   *big.Int
	TotalBorrows  *big.Int
	TotalReserves *big.Int
	// BorrowIndex accumulates interest as a mantissa starting at 1e18.
	BorrowIndex *big.Int
	// AccrualBlock is the block height of the last accrual.
	AccrualBlock uint64
	// InitialExchangeRate prices shares while the market has no supply.
	InitialExchangeRate *big.Int
	// Price is the oracle price of one base unit of underlying.
	Price *big.Int
	Risk  RiskParameters

	Shares  map[common.Address]*big.Int
	Borrows map[common.Address]*BorrowSnapshot
}

// BorrowSnapshot is an account's principal recorded at a borrow index.
type BorrowSnapshot struct {
	Principal     *big.Int
	InterestIndex *big.Int
}

// Clone returns a deep copy of the borrow snapshot.
func (b *BorrowSnapshot) Clone() *BorrowSnapshot {
	if b == nil {
		return nil
	}
	return &BorrowSnapshot{Principal: clone(b.Principal), InterestIndex: clone(b.InterestIndex)}
}

func newMarketState(token, underlying common.Address, native bool, symbol string, initialRate *big.Int) *MarketState {
	return &MarketState{
		Token:               token,
		Underlying:          underlying,
		Native:              native,
		Symbol:              symbol,
		Cash:                zero(),
		TotalSupply:         zero(),
		TotalBorrows:        zero(),
		TotalReserves:       zero(),
		BorrowIndex:         new(big.Int).Set(expScale),
		InitialExchangeRate: clone(initialRate),
		Price:               new(big.Int).Set(expScale),
		Shares:              make(map[common.Address]*big.Int),
		Borrows:             make(map[common.Address]*BorrowSnapshot),
	}
}

// Clone returns a deep copy of the market state.
func (m *MarketState) Clone() *MarketState {
	if m == nil {
		return nil
	}
	out := *m
	out.Cash = clone(m.Cash)
	out.TotalSupply = clone(m.TotalSupply)
	out.TotalBorrows = clone(m.TotalBorrows)
	out.TotalReserves = clone(m.TotalReserves)
	out.BorrowIndex = clone(m.BorrowIndex)
	out.InitialExchangeRate = clone(m.InitialExchangeRate)
	out.Price = clone(m.Price)
	out.Risk = m.Risk.Clone()
	out.Shares = make(map[common.Address]*big.Int, len(m.Shares))
	for k, v := range m.Shares {
		out.Shares[k] = clone(v)
	}
	out.Borrows = make(map[common.Address]*BorrowSnapshot, len(m.Borrows))
	for k, v := range m.Borrows {
		out.Borrows[k] = v.Clone()
	}
	return &out
}

func (m *MarketState) sharesOf(account common.Address) *big.Int {
	return clone(m.Shares[account])
}

// TokenState is the ledger of an ERC-20 underlying asset.
type TokenState struct {
	Symbol     string
	Balances   map[common.Address]*big.Int
	Allowances map[common.Address]map[common.Address]*big.Int
}

func newTokenState(symbol string) *TokenState {
	return &TokenState{
		Symbol:     symbol,
		Balances:   make(map[common.Address]*big.Int),
		Allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Clone returns a deep copy of the token ledger.
func (t *TokenState) Clone() *TokenState {
	if t == nil {
		return nil
	}
	out := newTokenState(t.Symbol)
	for k, v := range t.Balances {
		out.Balances[k] = clone(v)
	}
	for owner, spenders := range t.Allowances {
		copied := make(map[common.Address]*big.Int, len(spenders))
		for spender, v := range spenders {
			copied[spender] = clone(v)
		}
		out.Allowances[owner] = copied
	}
	return out
}

func (t *TokenState) allowance(owner, spender common.Address) *big.Int {
	return clone(t.Allowances[owner][spender])
}

func (t *TokenState) setAllowance(owner, spender common.Address, amount *big.Int) {
	spenders, ok := t.Allowances[owner]
	if !ok {
		spenders = make(map[common.Address]*big.Int)
		t.Allowances[owner] = spenders
	}
	spenders[spender] = clone(amount)
}

// ledger is the complete protocol state. Sessions work on it directly and
// restore a clone on failure.
type ledger struct {
	markets map[common.Address]*MarketState
	// order keeps market listing order stable for iteration.
	order   []common.Address
	tokens  map[common.Address]*TokenState
	native  map[common.Address]*big.Int
	members map[common.Address][]common.Address
}

func newLedger() *ledger {
	return &ledger{
		markets: make(map[common.Address]*MarketState),
		tokens:  make(map[common.Address]*TokenState),
		native:  make(map[common.Address]*big.Int),
		members: make(map[common.Address][]common.Address),
	}
}

func (l *ledger) clone() *ledger {
	out := newLedger()
	for k, v := range l.markets {
		out.markets[k] = v.Clone()
	}
	out.order = append([]common.Address(nil), l.order...)
	for k, v := range l.tokens {
		out.tokens[k] = v.Clone()
	}
	for k, v := range l.native {
		out.native[k] = clone(v)
	}
	for k, v := range l.members {
		out.members[k] = append([]common.Address(nil), v...)
	}
	return out
}

// balance returns the account's holding of an underlying asset.
func (l *ledger) balance(asset, account common.Address) (*big.Int, error) {
	if asset == compound.NativeAsset {
		return clone(l.native[account]), nil
	}
	token, ok := l.tokens[asset]
	if !ok {
		return nil, fmt.Errorf("%w: token %s", errUnknownContract, asset.Hex())
	}
	return clone(token.Balances[account]), nil
}

func (l *ledger) credit(asset, account common.Address, amount *big.Int) error {
	current, err := l.balance(asset, account)
	if err != nil {
		return err
	}
	next := current.Add(current, amount)
	if asset == compound.NativeAsset {
		l.native[account] = next
		return nil
	}
	l.tokens[asset].Balances[account] = next
	return nil
}

func (l *ledger) debit(asset, account common.Address, amount *big.Int) error {
	current, err := l.balance(asset, account)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	next := current.Sub(current, amount)
	if asset == compound.NativeAsset {
		l.native[account] = next
		return nil
	}
	l.tokens[asset].Balances[account] = next
	return nil
}

func (l *ledger) isMember(account, token common.Address) bool {
	for _, entered := range l.members[account] {
		if entered == token {
			return true
		}
	}
	return false
}
