// Package wallet keeps the ownership and lock state of managed wallets and
// serves as the authorization gate of the money market manager.
package wallet

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"walletlend/core/events"
	"walletlend/core/types"
	"walletlend/storage"
)

var keyPrefix = []byte("wallet/")

const (
	EventTypeWalletRegistered = "wallet.registered"
	EventTypeWalletLocked     = "wallet.locked"
	EventTypeWalletUnlocked   = "wallet.unlocked"
)

var (
	ErrUnknownWallet   = errors.New("wallet: unknown wallet")
	ErrAlreadyExists   = errors.New("wallet: already registered")
	ErrZeroAddress     = errors.New("wallet: zero address")
	ErrLockInPast      = errors.New("wallet: lock must end in the future")
	ErrNotLocked       = errors.New("wallet: not locked")
	ErrOwnerMismatched = errors.New("wallet: caller is not the owner")
)

type record struct {
	owner       common.Address
	lockedUntil int64
}

// storedRecord is the RLP layout of a wallet under keyPrefix. A zero
// LockedUntil means unlocked.
type storedRecord struct {
	Owner       common.Address
	LockedUntil uint64
}

func encodeRecord(rec record) ([]byte, error) {
	var until uint64
	if rec.lockedUntil > 0 {
		until = uint64(rec.lockedUntil)
	}
	return rlp.EncodeToBytes(&storedRecord{Owner: rec.owner, LockedUntil: until})
}

func decodeRecord(data []byte) (*record, error) {
	var stored storedRecord
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	return &record{owner: stored.Owner, lockedUntil: int64(stored.LockedUntil)}, nil
}

// Book is a registry of wallets, their owners and timed locks. It lives in
// memory and writes through to a Database once one is attached. It is safe
// for concurrent use.
type Book struct {
	mu      sync.RWMutex
	wallets map[common.Address]*record
	store   storage.Database
	emitter events.Emitter
	nowFn   func() int64
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		wallets: make(map[common.Address]*record),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source. Passing nil restores the wall clock.
func (b *Book) SetNowFunc(now func() int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now == nil {
		b.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	b.nowFn = now
}

// SetEmitter configures where lock notifications are delivered.
func (b *Book) SetEmitter(emitter events.Emitter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

// Attach loads every wallet persisted in db and writes later changes
// through to it. Wallets already in memory are persisted too.
func (b *Book) Attach(db storage.Database) error {
	loaded := make(map[common.Address]*record)
	err := db.Iterate(keyPrefix, func(key, value []byte) error {
		rec, err := decodeRecord(value)
		if err != nil {
			return fmt.Errorf("wallet: decode %s: %w", key, err)
		}
		loaded[common.BytesToAddress(key[len(keyPrefix):])] = rec
		return nil
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for wallet, rec := range b.wallets {
		if _, ok := loaded[wallet]; ok {
			continue
		}
		if err := save(db, wallet, *rec); err != nil {
			return err
		}
		loaded[wallet] = rec
	}
	b.wallets = loaded
	b.store = db
	return nil
}

func save(db storage.Database, wallet common.Address, rec record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("wallet: encode %s: %w", wallet.Hex(), err)
	}
	key := append(append([]byte(nil), keyPrefix...), wallet.Bytes()...)
	if err := db.Put(key, data); err != nil {
		return fmt.Errorf("wallet: persist %s: %w", wallet.Hex(), err)
	}
	return nil
}

// persist writes rec through to the attached store. Callers hold b.mu.
func (b *Book) persist(wallet common.Address, rec record) error {
	if b.store == nil {
		return nil
	}
	return save(b.store, wallet, rec)
}

// Register records a wallet with its owner.
func (b *Book) Register(wallet, owner common.Address) error {
	if wallet == (common.Address{}) || owner == (common.Address{}) {
		return ErrZeroAddress
	}
	b.mu.Lock()
	if _, ok := b.wallets[wallet]; ok {
		b.mu.Unlock()
		return ErrAlreadyExists
	}
	rec := record{owner: owner}
	if err := b.persist(wallet, rec); err != nil {
		b.mu.Unlock()
		return err
	}
	b.wallets[wallet] = &rec
	emitter := b.emitter
	b.mu.Unlock()

	emitter.Emit(&types.Event{Type: EventTypeWalletRegistered, Attributes: map[string]string{
		"wallet": wallet.Hex(),
		"owner":  owner.Hex(),
	}})
	return nil
}

// Owner returns the owner of a wallet.
func (b *Book) Owner(wallet common.Address) (common.Address, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.wallets[wallet]
	if !ok {
		return common.Address{}, false
	}
	return rec.owner, true
}

// IsOwner reports whether caller owns wallet. Unknown wallets have no owner.
func (b *Book) IsOwner(wallet, caller common.Address) bool {
	owner, ok := b.Owner(wallet)
	return ok && owner == caller
}

// IsLocked reports whether the wallet is under a lock that has not expired.
func (b *Book) IsLocked(wallet common.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.wallets[wallet]
	if !ok {
		return false
	}
	return rec.lockedUntil > b.nowFn()
}

// LockedUntil returns the unix time the current lock ends, or zero.
func (b *Book) LockedUntil(wallet common.Address) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.wallets[wallet]
	if !ok || rec.lockedUntil <= b.nowFn() {
		return 0
	}
	return rec.lockedUntil
}

// Lock freezes the wallet until the given unix time. Only the owner may lock.
func (b *Book) Lock(wallet, caller common.Address, until int64) error {
	b.mu.Lock()
	rec, ok := b.wallets[wallet]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownWallet
	}
	if rec.owner != caller {
		b.mu.Unlock()
		return ErrOwnerMismatched
	}
	if until <= b.nowFn() {
		b.mu.Unlock()
		return ErrLockInPast
	}
	if err := b.persist(wallet, record{owner: rec.owner, lockedUntil: until}); err != nil {
		b.mu.Unlock()
		return err
	}
	rec.lockedUntil = until
	emitter := b.emitter
	b.mu.Unlock()

	emitter.Emit(&types.Event{Type: EventTypeWalletLocked, Attributes: map[string]string{
		"wallet": wallet.Hex(),
		"until":  strconv.FormatInt(until, 10),
	}})
	return nil
}

// Unlock lifts an active lock early.
func (b *Book) Unlock(wallet, caller common.Address) error {
	b.mu.Lock()
	rec, ok := b.wallets[wallet]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownWallet
	}
	if rec.owner != caller {
		b.mu.Unlock()
		return ErrOwnerMismatched
	}
	if rec.lockedUntil <= b.nowFn() {
		b.mu.Unlock()
		return ErrNotLocked
	}
	if err := b.persist(wallet, record{owner: rec.owner}); err != nil {
		b.mu.Unlock()
		return err
	}
	rec.lockedUntil = 0
	emitter := b.emitter
	b.mu.Unlock()

	emitter.Emit(&types.Event{Type: EventTypeWalletUnlocked, Attributes: map[string]string{"wallet": wallet.Hex()}})
	return nil
}

// Wallets lists every registered wallet.
func (b *Book) Wallets() []common.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]common.Address, 0, len(b.wallets))
	for addr := range b.wallets {
		out = append(out, addr)
	}
	return out
}
