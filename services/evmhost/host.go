// Package evmhost executes money market operations against an Ethereum node.
// Reads are eth_call requests; the invokes of one operation are folded into a
// single wallet multiCall transaction that is only broadcast once the whole
// operation has succeeded. A read issued after an invoke is simulated on top
// of the invokes queued so far.
package evmhost

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"walletlend/native/compound"
	"walletlend/native/moneymarket"
	"walletlend/observability/metrics"
)

var (
	ErrBatchReverted    = errors.New("evmhost: batch transaction reverted")
	ErrReceiptTimeout   = errors.New("evmhost: receipt not observed before deadline")
	ErrSessionClosed    = errors.New("evmhost: session closed")
	ErrMissingSigner    = errors.New("evmhost: signer key required")
	ErrMissingChainID   = errors.New("evmhost: chain id required")
	errNilBackend       = errors.New("evmhost: backend required")
	errShortBatchResult = errors.New("evmhost: multiCall returned unexpected results")
)

const (
	defaultPollEvery   = 2 * time.Second
	defaultWaitTimeout = 2 * time.Minute
)

// Backend is the subset of the JSON-RPC client the host needs. It is
// satisfied by *ethclient.Client.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Options tunes transaction submission.
type Options struct {
	ChainID *big.Int
	// GasMarginBps is added on top of the node's gas estimate.
	GasMarginBps uint64
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

// Host implements moneymarket.Host. Batches are submitted one at a time so
// nonces stay sequential for the signer.
type Host struct {
	backend Backend
	key     *ecdsa.PrivateKey
	signer  common.Address
	opts    Options
	logger  *slog.Logger
	metrics *metrics.MoneyMarketMetrics

	mu sync.Mutex
}

var _ moneymarket.Host = (*Host)(nil)

// New builds a host that signs batches with key. The key must be authorised
// to invoke every managed wallet.
func New(backend Backend, key *ecdsa.PrivateKey, opts Options, logger *slog.Logger) (*Host, error) {
	if backend == nil {
		return nil, errNilBackend
	}
	if key == nil {
		return nil, ErrMissingSigner
	}
	if opts.ChainID == nil || opts.ChainID.Sign() <= 0 {
		return nil, ErrMissingChainID
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollEvery
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		backend: backend,
		key:     key,
		signer:  gethcrypto.PubkeyToAddress(key.PublicKey),
		opts:    opts,
		logger:  logger.With("component", "evmhost"),
		metrics: metrics.MoneyMarket(),
	}, nil
}

// Signer returns the address batches are sent from.
func (h *Host) Signer() common.Address { return h.signer }

// Call performs an eth_call against the latest block.
func (h *Host) Call(ctx context.Context, target common.Address, data []byte) ([]byte, error) {
	return h.call(ctx, common.Address{}, target, data)
}

func (h *Host) call(ctx context.Context, from, target common.Address, data []byte) ([]byte, error) {
	to := target
	return h.backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, nil)
}

// callAfter simulates the pending invokes followed by read through the
// wallet's multiCall and returns the result of read.
func (h *Host) callAfter(ctx context.Context, wallet common.Address, pending []compound.Call, read compound.Call) ([]byte, error) {
	batch := make([]compound.Call, 0, len(pending)+1)
	batch = append(batch, pending...)
	batch = append(batch, read)
	data, err := compound.Pack(compound.Wallet, compound.MethodMultiCall, batch)
	if err != nil {
		return nil, err
	}
	output, err := h.call(ctx, h.signer, wallet, data)
	if err != nil {
		return nil, err
	}
	values, err := compound.Unpack(compound.Wallet, compound.MethodMultiCall, output)
	if err != nil {
		return nil, err
	}
	results, ok := values[0].([][]byte)
	if !ok || len(results) != len(batch) {
		return nil, fmt.Errorf("%w: %d results for %d calls", errShortBatchResult, len(results), len(batch))
	}
	return results[len(results)-1], nil
}

// Atomic collects the invokes fn issues and submits them as one multiCall on
// the wallet. Reads inside the session observe the invokes queued before
// them. Nothing is broadcast when fn fails or issues no invoke.
func (h *Host) Atomic(ctx context.Context, wallet common.Address, fn func(moneymarket.Session) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &session{host: h, wallet: wallet}
	err := fn(s)
	s.closed = true
	if err != nil {
		h.metrics.ObserveBatch("discarded", len(s.calls))
		h.logger.Debug("batch discarded", "wallet", wallet.Hex(), "calls", len(s.calls), "error", err)
		return err
	}
	if len(s.calls) == 0 {
		return nil
	}
	hash, err := h.submit(ctx, wallet, s.calls)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, ErrBatchReverted) {
			outcome = "reverted"
		}
		h.metrics.ObserveBatch(outcome, len(s.calls))
		h.logger.Warn("batch failed", "wallet", wallet.Hex(), "calls", len(s.calls), "tx", hash.Hex(), "error", err)
		return err
	}
	h.metrics.ObserveBatch("committed", len(s.calls))
	h.logger.Info("batch committed", "wallet", wallet.Hex(), "calls", len(s.calls), "tx", hash.Hex())
	return nil
}

func (h *Host) submit(ctx context.Context, wallet common.Address, calls []compound.Call) (common.Hash, error) {
	data, err := compound.Pack(compound.Wallet, compound.MethodMultiCall, calls)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := h.backend.PendingNonceAt(ctx, h.signer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evmhost: nonce: %w", err)
	}
	gasPrice, err := h.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evmhost: gas price: %w", err)
	}
	to := wallet
	gas, err := h.backend.EstimateGas(ctx, ethereum.CallMsg{From: h.signer, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("evmhost: estimate gas: %w", err)
	}
	gas += gas * h.opts.GasMarginBps / 10_000

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.NewEIP155Signer(h.opts.ChainID), h.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evmhost: sign: %w", err)
	}
	if err := h.backend.SendTransaction(ctx, signed); err != nil {
		return signed.Hash(), fmt.Errorf("evmhost: send: %w", err)
	}
	return signed.Hash(), h.wait(ctx, signed.Hash())
}

func (h *Host) wait(ctx context.Context, hash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.WaitTimeout)
	defer cancel()
	ticker := time.NewTicker(h.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := h.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: %s", ErrBatchReverted, hash.Hex())
			}
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("evmhost: receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type session struct {
	host   *Host
	wallet common.Address
	calls  []compound.Call
	closed bool
}

func (s *session) Wallet() common.Address { return s.wallet }

// Call reads as the wallet so view functions keyed on the sender resolve
// against it. Once invokes are queued the read runs behind them.
func (s *session) Call(ctx context.Context, target common.Address, data []byte) ([]byte, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if len(s.calls) == 0 {
		return s.host.call(ctx, s.wallet, target, data)
	}
	read := compound.Call{To: target, Value: new(big.Int), Data: append([]byte(nil), data...)}
	return s.host.callAfter(ctx, s.wallet, s.calls, read)
}

// Invoke queues the call. Its result is not known until the batch is mined,
// so it returns no data.
func (s *session) Invoke(_ context.Context, target common.Address, value *big.Int, data []byte) ([]byte, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	amount := new(big.Int)
	if value != nil {
		amount.Set(value)
	}
	s.calls = append(s.calls, compound.Call{To: target, Value: amount, Data: append([]byte(nil), data...)})
	return nil, nil
}
