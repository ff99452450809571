// Package lending simulates a Compound-style money market in process. It
// executes the same ABI calldata a wallet would send on chain, so the money
// market manager can run against it unchanged.
package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"walletlend/native/compound"
	"walletlend/native/moneymarket"
)

var errSessionClosed = errors.New("lending: session closed")

// Protocol is the simulated deployment. All access is serialized; a session
// either commits every effect or none.
type Protocol struct {
	mu            sync.Mutex
	comptroller   common.Address
	model         *InterestModel
	blocksPerYear uint64
	height        uint64
	state         *ledger
}

// New builds a protocol from its seed.
func New(cfg Config) (*Protocol, error) {
	cfg.EnsureDefaults()
	comptroller, state, err := cfg.build()
	if err != nil {
		return nil, err
	}
	return &Protocol{
		comptroller:   comptroller,
		model:         NewInterestModel(cfg.Interest.BaseRate, cfg.Interest.Slope1, cfg.Interest.Slope2, cfg.Interest.Kink),
		blocksPerYear: cfg.BlocksPerYear,
		state:         state,
	}, nil
}

// Comptroller returns the address of the risk engine.
func (p *Protocol) Comptroller() common.Address {
	if p == nil {
		return common.Address{}
	}
	return p.comptroller
}

func (p *Protocol) machine() *machine {
	return &machine{
		state:         p.state,
		comptroller:   p.comptroller,
		model:         p.model,
		blocksPerYear: p.blocksPerYear,
		height:        p.height,
	}
}

// Call performs a read as an eth_call would: state-changing methods such as
// borrowBalanceCurrent run against a copy and their effects are dropped.
func (p *Protocol) Call(ctx context.Context, target common.Address, data []byte) ([]byte, error) {
	if p == nil {
		return nil, errNilProtocol
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.machine()
	method, err := m.resolve(target, data)
	if err != nil {
		return nil, err
	}
	if !method.IsConstant() {
		m.state = p.state.clone()
	}
	return m.execute(common.Address{}, target, nil, data)
}

// Atomic runs fn as one unit of work for wallet. When fn fails the ledger is
// restored to its state before the call.
func (p *Protocol) Atomic(ctx context.Context, wallet common.Address, fn func(moneymarket.Session) error) error {
	if p == nil {
		return errNilProtocol
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := p.state.clone()
	s := &session{machine: p.machine(), wallet: wallet}
	err := fn(s)
	s.closed = true
	if err != nil {
		p.state = snapshot
		return err
	}
	return nil
}

type session struct {
	machine *machine
	wallet  common.Address
	closed  bool
}

func (s *session) Wallet() common.Address { return s.wallet }

// Call reads within the session. Reads observe earlier invokes and keep the
// effects of accrual.
func (s *session) Call(ctx context.Context, target common.Address, data []byte) ([]byte, error) {
	if s.closed {
		return nil, errSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.machine.execute(s.wallet, target, nil, data)
}

func (s *session) Invoke(ctx context.Context, target common.Address, value *big.Int, data []byte) ([]byte, error) {
	if s.closed {
		return nil, errSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.machine.execute(s.wallet, target, value, data)
}

// Advance moves the block height forward so the next interaction with each
// market accrues interest.
func (p *Protocol) Advance(blocks uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.height += blocks
}

// BlockHeight reports the current simulated block.
func (p *Protocol) BlockHeight() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height
}

// Fund credits an account with an underlying asset or, for the native asset
// sentinel, with native balance.
func (p *Protocol) Fund(asset, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.credit(asset, account, amount)
}

// BalanceOf returns an account's holding of an underlying asset.
func (p *Protocol) BalanceOf(asset, account common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.balance(asset, account)
}

// SetPrice updates the oracle price of a market's underlying.
func (p *Protocol) SetPrice(token common.Address, price *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	market, ok := p.state.markets[token]
	if !ok {
		return fmt.Errorf("%w: %s", errMarketNotListed, token.Hex())
	}
	market.Price = clone(price)
	return nil
}

// SetPauses flips the guardian switches of a market.
func (p *Protocol) SetPauses(token common.Address, pauses ActionPauses) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	market, ok := p.state.markets[token]
	if !ok {
		return fmt.Errorf("%w: %s", errMarketNotListed, token.Hex())
	}
	market.Risk.Pauses = pauses
	return nil
}

// Market returns a copy of the market's state.
func (p *Protocol) Market(token common.Address) (*MarketState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	market, ok := p.state.markets[token]
	if !ok {
		return nil, false
	}
	return market.Clone(), true
}

// MarketInfo describes a listed market and its current annual rates.
type MarketInfo struct {
	Token      common.Address
	Underlying common.Address
	Symbol     string
	Native     bool
	BorrowAPR  *big.Rat
	SupplyAPY  *big.Rat
}

// Markets lists markets in seed order.
func (p *Protocol) Markets() []MarketInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]MarketInfo, 0, len(p.state.order))
	for _, token := range p.state.order {
		market := p.state.markets[token]
		underlying := market.Underlying
		if market.Native {
			underlying = compound.NativeAsset
		}
		out = append(out, MarketInfo{
			Token:      token,
			Underlying: underlying,
			Symbol:     market.Symbol,
			Native:     market.Native,
			BorrowAPR:  p.model.BorrowAPR(market.Cash, market.TotalBorrows, market.TotalReserves),
			SupplyAPY:  p.model.SupplyAPY(market.Cash, market.TotalBorrows, market.TotalReserves, market.Risk.ReserveFactorBps),
		})
	}
	return out
}
