package moneymarket

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"walletlend/core/events"
	"walletlend/native/compound"
)

var (
	testComptroller = common.HexToAddress("0x00000000000000000000000000000000000c0de1")
	testWallet      = common.HexToAddress("0x000000000000000000000000000000000000a11e")
	testOwner       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	testStranger    = common.HexToAddress("0x0000000000000000000000000000000000000bad")

	tokenA  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	cTokenA = common.HexToAddress("0x00000000000000000000000000000000000001aa")
	tokenB  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	cTokenB = common.HexToAddress("0x00000000000000000000000000000000000001bb")
	cEther  = common.HexToAddress("0x00000000000000000000000000000000000001ee")
	tokenX  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

var errBoom = errors.New("boom")

type recordedCall struct {
	Target common.Address
	Value  *big.Int
	Method string
	Args   []interface{}
	Invoke bool
}

// fakeProtocol answers reads from programmable tables and records every call
// it receives. Invokes do not change the tables unless invokeFn does.
type fakeProtocol struct {
	wallet common.Address

	calls []recordedCall

	members      map[common.Address]bool
	assetsIn     []common.Address
	shares       map[common.Address]*big.Int
	borrowsNow   map[common.Address]*big.Int
	borrowsCache map[common.Address]*big.Int
	rates        map[common.Address]*big.Int
	symbols      map[common.Address]string
	underlyings  map[common.Address]common.Address
	liquidity    [3]*big.Int

	failOn   map[string]error
	invokeFn func(call recordedCall) error
}

func newFakeProtocol() *fakeProtocol {
	return &fakeProtocol{
		wallet:       testWallet,
		members:      make(map[common.Address]bool),
		shares:       make(map[common.Address]*big.Int),
		borrowsNow:   make(map[common.Address]*big.Int),
		borrowsCache: make(map[common.Address]*big.Int),
		rates:        make(map[common.Address]*big.Int),
		symbols:      make(map[common.Address]string),
		underlyings:  make(map[common.Address]common.Address),
		liquidity:    [3]*big.Int{big.NewInt(0), big.NewInt(0), big.NewInt(0)},
		failOn:       make(map[string]error),
	}
}

func (f *fakeProtocol) decode(data []byte) (*abi.Method, []interface{}, error) {
	method, _, err := compound.MethodOf(data, compound.Comptroller, compound.CToken, compound.CEther, compound.ERC20)
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}

func lookup(values map[common.Address]*big.Int, key common.Address) *big.Int {
	if v, ok := values[key]; ok && v != nil {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (f *fakeProtocol) Call(_ context.Context, target common.Address, data []byte) ([]byte, error) {
	method, args, err := f.decode(data)
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, recordedCall{Target: target, Method: method.Name, Args: args})
	if err := f.failOn[method.Name]; err != nil {
		return nil, err
	}
	var out []interface{}
	switch method.Name {
	case compound.MethodCheckMembership:
		out = []interface{}{f.members[args[1].(common.Address)]}
	case compound.MethodGetAssetsIn:
		out = []interface{}{append([]common.Address(nil), f.assetsIn...)}
	case compound.MethodGetAccountLiquidity:
		out = []interface{}{f.liquidity[0], f.liquidity[1], f.liquidity[2]}
	case compound.MethodBalanceOf:
		out = []interface{}{lookup(f.shares, target)}
	case compound.MethodBorrowBalanceCurrent:
		out = []interface{}{lookup(f.borrowsNow, target)}
	case compound.MethodBorrowBalanceStored:
		out = []interface{}{lookup(f.borrowsCache, target)}
	case compound.MethodExchangeRateStored:
		out = []interface{}{lookup(f.rates, target)}
	case compound.MethodSymbol:
		out = []interface{}{f.symbols[target]}
	case compound.MethodUnderlying:
		out = []interface{}{f.underlyings[target]}
	default:
		return nil, fmt.Errorf("unexpected read %s", method.Name)
	}
	return method.Outputs.Pack(out...)
}

func (f *fakeProtocol) Wallet() common.Address { return f.wallet }

func (f *fakeProtocol) Invoke(_ context.Context, target common.Address, value *big.Int, data []byte) ([]byte, error) {
	method, args, err := f.decode(data)
	if err != nil {
		return nil, err
	}
	call := recordedCall{Target: target, Value: new(big.Int).Set(value), Method: method.Name, Args: args, Invoke: true}
	f.calls = append(f.calls, call)
	if err := f.failOn[method.Name]; err != nil {
		return nil, err
	}
	if f.invokeFn != nil {
		if err := f.invokeFn(call); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (f *fakeProtocol) invokes() []recordedCall {
	var out []recordedCall
	for _, call := range f.calls {
		if call.Invoke {
			out = append(out, call)
		}
	}
	return out
}

func (f *fakeProtocol) invokedMethods() []string {
	var out []string
	for _, call := range f.invokes() {
		out = append(out, call.Method)
	}
	return out
}

func (f *fakeProtocol) count(method string) int {
	n := 0
	for _, call := range f.calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

// fakeHost runs every session directly against the fake protocol and only
// records whether the unit of work committed.
type fakeHost struct {
	*fakeProtocol
	commits   int
	rollbacks int
}

func (h *fakeHost) Atomic(_ context.Context, wallet common.Address, fn func(Session) error) error {
	h.wallet = wallet
	if err := fn(h.fakeProtocol); err != nil {
		h.rollbacks++
		return err
	}
	h.commits++
	return nil
}

type fakeRegistry struct {
	markets map[common.Address]Market
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{markets: map[common.Address]Market{
		tokenA:               {Token: cTokenA, Underlying: tokenA, Kind: KindToken},
		tokenB:               {Token: cTokenB, Underlying: tokenB, Kind: KindToken},
		compound.NativeAsset: {Token: cEther, Underlying: compound.NativeAsset, Kind: KindNative},
	}}
}

func (r *fakeRegistry) Comptroller() common.Address { return testComptroller }

func (r *fakeRegistry) MarketFor(underlying common.Address) (Market, bool) {
	m, ok := r.markets[underlying]
	return m, ok
}

func (r *fakeRegistry) MarketByToken(token common.Address) (Market, bool) {
	for _, m := range r.markets {
		if m.Token == token {
			return m, true
		}
	}
	return Market{}, false
}

type fakeGuard struct {
	owners map[common.Address]common.Address
	locked map[common.Address]bool
}

func (g fakeGuard) IsOwner(wallet, caller common.Address) bool { return g.owners[wallet] == caller }
func (g fakeGuard) IsLocked(wallet common.Address) bool         { return g.locked[wallet] }

type fixture struct {
	host     *fakeHost
	registry *fakeRegistry
	guard    fakeGuard
	recorder *events.Recorder
	manager  *Manager
}

func newFixture() *fixture {
	f := &fixture{
		host:     &fakeHost{fakeProtocol: newFakeProtocol()},
		registry: newFakeRegistry(),
		guard: fakeGuard{
			owners: map[common.Address]common.Address{testWallet: testOwner},
			locked: map[common.Address]bool{},
		},
		recorder: &events.Recorder{},
	}
	f.manager = NewManager(f.host, f.registry, f.guard)
	f.manager.SetEmitter(f.recorder)
	return f
}

func ownerActor() Actor { return Actor{Wallet: testWallet, Caller: testOwner} }
