package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"walletlend/native/wallet"
)

// WalletBook is the ownership and lock registry served by Wallets.
type WalletBook interface {
	Owner(wallet common.Address) (common.Address, bool)
	LockedUntil(wallet common.Address) int64
	Lock(wallet, caller common.Address, until int64) error
	Unlock(wallet, caller common.Address) error
}

// Wallets serves wallet ownership and lock endpoints.
type Wallets struct {
	book   WalletBook
	logger *slog.Logger
}

func NewWallets(book WalletBook, logger *slog.Logger) *Wallets {
	if logger == nil {
		logger = slog.Default()
	}
	return &Wallets{book: book, logger: logger.With("component", "routes")}
}

type walletResponse struct {
	Wallet      string `json:"wallet"`
	Owner       string `json:"owner"`
	LockedUntil int64  `json:"lockedUntil,omitempty"`
}

type lockRequest struct {
	Until int64 `json:"until"`
}

func (h *Wallets) MountReads(r chi.Router) {
	r.Get("/", h.describe)
}

func (h *Wallets) MountWrites(w chi.Router) {
	w.Post("/lock", h.lock)
	w.Post("/unlock", h.unlock)
}

func walletStatus(err error) int {
	switch {
	case errors.Is(err, wallet.ErrUnknownWallet):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrOwnerMismatched):
		return http.StatusForbidden
	case errors.Is(err, wallet.ErrLockInPast):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrNotLocked):
		return http.StatusConflict
	default:
		return statusFor(err)
	}
}

func (h *Wallets) describe(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("wallet", chi.URLParam(r, "wallet"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	owner, ok := h.book.Owner(addr)
	if !ok {
		writeJSONError(w, http.StatusNotFound, wallet.ErrUnknownWallet)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{Wallet: addr.Hex(), Owner: owner.Hex(), LockedUntil: h.book.LockedUntil(addr)})
}

func (h *Wallets) lock(w http.ResponseWriter, r *http.Request) {
	actor, status, err := actorFrom(r)
	if err != nil {
		writeJSONError(w, status, err)
		return
	}
	var req lockRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := h.book.Lock(actor.Wallet, actor.Caller, req.Until); err != nil {
		writeJSONError(w, walletStatus(err), err)
		return
	}
	h.logger.Info("wallet locked", "wallet", actor.Wallet.Hex(), "until", req.Until)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Wallets) unlock(w http.ResponseWriter, r *http.Request) {
	actor, status, err := actorFrom(r)
	if err != nil {
		writeJSONError(w, status, err)
		return
	}
	if err := h.book.Unlock(actor.Wallet, actor.Caller); err != nil {
		writeJSONError(w, walletStatus(err), err)
		return
	}
	h.logger.Info("wallet unlocked", "wallet", actor.Wallet.Hex())
	w.WriteHeader(http.StatusNoContent)
}
