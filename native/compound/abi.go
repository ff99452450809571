// Package compound holds the wire contract of the Compound-style money market
// the wallet talks to: contract ABIs, method names and calldata helpers shared
// by the wallet-side manager and the protocol-side simulator.
package compound

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the sentinel underlying address standing for the chain's
// native asset.
var NativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// NativeMarketSymbol is the symbol reported by the native-asset market token.
const NativeMarketSymbol = "cETH"

// MaxAmount returns the maximum uint256. Passed to repayBorrow it repays the
// whole balance accrued at execution time; as an allowance it is never
// decremented.
func MaxAmount() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}

// Method names used across the comptroller, market tokens and ERC-20 assets.
const (
	MethodEnterMarkets         = "enterMarkets"
	MethodExitMarket           = "exitMarket"
	MethodCheckMembership      = "checkMembership"
	MethodGetAssetsIn          = "getAssetsIn"
	MethodGetAccountLiquidity  = "getAccountLiquidity"
	MethodMint                 = "mint"
	MethodRedeem               = "redeem"
	MethodRedeemUnderlying     = "redeemUnderlying"
	MethodBorrow               = "borrow"
	MethodRepayBorrow          = "repayBorrow"
	MethodBalanceOf            = "balanceOf"
	MethodBorrowBalanceCurrent = "borrowBalanceCurrent"
	MethodBorrowBalanceStored  = "borrowBalanceStored"
	MethodExchangeRateStored   = "exchangeRateStored"
	MethodExchangeRateCurrent  = "exchangeRateCurrent"
	MethodUnderlying           = "underlying"
	MethodSymbol               = "symbol"
	MethodApprove              = "approve"
	MethodAllowance            = "allowance"
	MethodTransfer             = "transfer"
	MethodMultiCall            = "multiCall"
)

const comptrollerJSON = `[
	{"type":"function","name":"enterMarkets","stateMutability":"nonpayable","inputs":[{"name":"cTokens","type":"address[]"}],"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"exitMarket","stateMutability":"nonpayable","inputs":[{"name":"cToken","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"checkMembership","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"cToken","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getAssetsIn","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"getAccountLiquidity","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"},{"name":"","type":"uint256"}]}
]`

// marketCommonJSON lists the entry points shared by token and native markets.
const marketCommonJSON = `
	{"type":"function","name":"redeem","stateMutability":"nonpayable","inputs":[{"name":"redeemTokens","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"redeemUnderlying","stateMutability":"nonpayable","inputs":[{"name":"redeemAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"borrow","stateMutability":"nonpayable","inputs":[{"name":"borrowAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"borrowBalanceCurrent","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"borrowBalanceStored","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"exchangeRateStored","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"exchangeRateCurrent","stateMutability":"nonpayable","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}`

const cTokenJSON = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"mintAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"repayBorrow","stateMutability":"nonpayable","inputs":[{"name":"repayAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"underlying","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},` + marketCommonJSON + `
]`

const cEtherJSON = `[
	{"type":"function","name":"mint","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"repayBorrow","stateMutability":"payable","inputs":[],"outputs":[]},` + marketCommonJSON + `
]`

const erc20JSON = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

const walletJSON = `[
	{"type":"function","name":"multiCall","stateMutability":"nonpayable","inputs":[{"name":"transactions","type":"tuple[]","components":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}]}],"outputs":[{"name":"","type":"bytes[]"}]}
]`

var (
	// Comptroller is the risk engine ABI: membership and account liquidity.
	Comptroller = mustParse("comptroller", comptrollerJSON)
	// CToken is the ABI of a market whose underlying is an ERC-20 asset.
	CToken = mustParse("ctoken", cTokenJSON)
	// CEther is the ABI of the native-asset market.
	CEther = mustParse("cether", cEtherJSON)
	// ERC20 is the subset of the fungible token standard used by the manager.
	ERC20 = mustParse("erc20", erc20JSON)
	// Wallet exposes the batched invoke entry point of the wallet module.
	Wallet = mustParse("wallet", walletJSON)
)

func mustParse(name, definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("compound: parse %s abi: %v", name, err))
	}
	return parsed
}

// Call is one entry of a wallet batch.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Pack encodes a method call of the given contract ABI.
func Pack(contract abi.ABI, method string, args ...interface{}) ([]byte, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("compound: pack %s: %w", method, err)
	}
	return data, nil
}

// Unpack decodes the return data of a method call.
func Unpack(contract abi.ABI, method string, output []byte) ([]interface{}, error) {
	values, err := contract.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("compound: unpack %s: %w", method, err)
	}
	return values, nil
}

// UnpackUint decodes a method returning a single uint256.
func UnpackUint(contract abi.ABI, method string, output []byte) (*big.Int, error) {
	values, err := Unpack(contract, method, output)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("compound: %s returned %d values", method, len(values))
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("compound: %s returned %T", method, values[0])
	}
	return value, nil
}

// MethodOf resolves the method addressed by calldata against the supplied
// ABIs, returning the first match and the ABI it belongs to.
func MethodOf(data []byte, contracts ...abi.ABI) (*abi.Method, abi.ABI, error) {
	if len(data) < 4 {
		return nil, abi.ABI{}, fmt.Errorf("compound: calldata shorter than selector")
	}
	for _, contract := range contracts {
		if method, err := contract.MethodById(data[:4]); err == nil {
			return method, contract, nil
		}
	}
	return nil, abi.ABI{}, fmt.Errorf("compound: unknown selector %x", data[:4])
}
