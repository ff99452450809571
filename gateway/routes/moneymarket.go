package routes

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"walletlend/gateway/middleware"
	"walletlend/native/moneymarket"
	"walletlend/observability/metrics"
	"walletlend/storage/journal"
)

// Operations is the mutating surface of the money market manager.
type Operations interface {
	OpenLoan(ctx context.Context, actor moneymarket.Actor, collateral common.Address, collateralAmount *big.Int, debt common.Address, debtAmount *big.Int) ([32]byte, error)
	CloseLoan(ctx context.Context, actor moneymarket.Actor) error
	AddCollateral(ctx context.Context, actor moneymarket.Actor, asset common.Address, amount *big.Int) error
	RemoveCollateral(ctx context.Context, actor moneymarket.Actor, asset common.Address, amount *big.Int) error
	AddDebt(ctx context.Context, actor moneymarket.Actor, asset common.Address, amount *big.Int) error
	RemoveDebt(ctx context.Context, actor moneymarket.Actor, asset common.Address, amount *big.Int) error
	AddInvestment(ctx context.Context, actor moneymarket.Actor, asset common.Address, amount *big.Int, period uint64) (*big.Int, error)
	RemoveInvestment(ctx context.Context, actor moneymarket.Actor, asset common.Address, fractionBps uint64) error
}

// Queries is the read surface.
type Queries interface {
	LoanStatus(ctx context.Context, wallet common.Address) (moneymarket.LoanStatus, *big.Int, error)
	InvestmentValue(ctx context.Context, wallet, asset common.Address) (*big.Int, uint64, error)
	Positions(ctx context.Context, wallet common.Address) ([]moneymarket.Position, error)
}

// EventLog serves recorded and live notifications.
type EventLog interface {
	List(ctx context.Context, q journal.Query) ([]journal.Entry, error)
	Subscribe(buffer int) (<-chan journal.Entry, func())
}

// MoneyMarket serves the wallet endpoints.
type MoneyMarket struct {
	ops     Operations
	queries Queries
	events  EventLog
	logger  *slog.Logger
	metrics *metrics.MoneyMarketMetrics
	timeout time.Duration

	// origins are the websocket origin patterns; replayPage is the journal
	// page size used when replaying a stream backlog.
	origins    []string
	replayPage int
}

// NewMoneyMarket builds the handlers. events may be nil, in which case the
// event endpoints answer 404.
func NewMoneyMarket(ops Operations, queries Queries, events EventLog, logger *slog.Logger) *MoneyMarket {
	if logger == nil {
		logger = slog.Default()
	}
	return &MoneyMarket{
		ops:        ops,
		queries:    queries,
		events:     events,
		logger:     logger.With("component", "routes"),
		metrics:    metrics.MoneyMarket(),
		timeout:    3 * time.Minute,
		origins:    websocketOrigins(nil),
		replayPage: journal.MaxLimit,
	}
}

// AllowOrigins restricts the websocket handshake to the given CORS origins.
func (mm *MoneyMarket) AllowOrigins(origins []string) {
	if mm == nil {
		return
	}
	mm.origins = websocketOrigins(origins)
}

// MountWrites registers the mutating routes under a wallet-scoped router.
func (mm *MoneyMarket) MountWrites(w chi.Router) {
	w.Post("/loan/open", mm.openLoan)
	w.Post("/loan/close", mm.closeLoan)
	w.Post("/collateral/add", mm.amountOp("add_collateral", mm.ops.AddCollateral))
	w.Post("/collateral/remove", mm.amountOp("remove_collateral", mm.ops.RemoveCollateral))
	w.Post("/debt/add", mm.amountOp("add_debt", mm.ops.AddDebt))
	w.Post("/debt/remove", mm.amountOp("remove_debt", mm.ops.RemoveDebt))
	w.Post("/investments/add", mm.addInvestment)
	w.Post("/investments/remove", mm.removeInvestment)
}

// MountReads registers the query and event routes.
func (mm *MoneyMarket) MountReads(r chi.Router) {
	r.Get("/loan", mm.loanStatus)
	r.Get("/investments/{asset}", mm.investmentValue)
	r.Get("/positions", mm.positions)
	r.Get("/events", mm.listEvents)
	r.Get("/events/stream", mm.streamEvents)
}

type amountRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type openLoanRequest struct {
	CollateralAsset  string `json:"collateralAsset"`
	CollateralAmount string `json:"collateralAmount"`
	DebtAsset        string `json:"debtAsset"`
	DebtAmount       string `json:"debtAmount"`
}

type addInvestmentRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Period uint64 `json:"period"`
}

type removeInvestmentRequest struct {
	Asset       string `json:"asset"`
	FractionBps uint64 `json:"fractionBps"`
}

type loanResponse struct {
	LoanID string `json:"loanId"`
}

type loanStatusResponse struct {
	Status string `json:"status"`
	Value  string `json:"value"`
}

type investmentResponse struct {
	Asset     string `json:"asset"`
	Value     string `json:"value"`
	PeriodEnd uint64 `json:"periodEnd"`
}

func (mm *MoneyMarket) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, mm.timeout)
}

// actorFrom resolves the wallet path parameter and the authenticated caller.
func actorFrom(r *http.Request) (moneymarket.Actor, int, error) {
	wallet, err := parseAddress("wallet", chi.URLParam(r, "wallet"))
	if err != nil {
		return moneymarket.Actor{}, http.StatusBadRequest, err
	}
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		return moneymarket.Actor{}, http.StatusUnauthorized, errNoCaller
	}
	return moneymarket.Actor{Wallet: wallet, Caller: caller}, http.StatusOK, nil
}

func (mm *MoneyMarket) observe(op string, actor moneymarket.Actor, start time.Time, err error) {
	mm.metrics.ObserveOperation(op, err, time.Since(start))
	if err != nil {
		level := slog.LevelWarn
		if statusFor(err) == http.StatusInternalServerError {
			level = slog.LevelError
		}
		mm.logger.Log(context.Background(), level, "operation failed", "operation", op, "wallet", actor.Wallet.Hex(), "error", err)
		return
	}
	mm.logger.Info("operation committed", "operation", op, "wallet", actor.Wallet.Hex())
}

func (mm *MoneyMarket) openLoan(w http.ResponseWriter, r *http.Request) {
	actor, status, err := actorFrom(r)
	if err != nil {
		writeJSONError(w, status, err)
		return
	}
	var req openLoanRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	collateral, err := parseAddress("collateralAsset", req.CollateralAsset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	collateralAmount, err := parseAmount("collateralAmount", req.CollateralAmount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	debt, err := parseAddress("debtAsset", req.DebtAsset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	debtAmount, err := parseAmount("debtAmount", req.DebtAmount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := mm.context(r.Context())
	defer cancel()
	start := time.Now()
	id, err := mm.ops.OpenLoan(ctx, actor, collateral, collateralAmount, debt, debtAmount)
	mm.observe("open_loan", actor, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanResponse{LoanID: "0x" + hex.EncodeToString(id[:])})
}

func (mm *MoneyMarket) closeLoan(w http.ResponseWriter, r *http.Request) {
	actor, status, err := actorFrom(r)
	if err != nil {
		writeJSONError(w, status, err)
		return
	}
	ctx, cancel := mm.context(r.Context())
	defer cancel()
	start := time.Now()
	err = mm.ops.CloseLoan(ctx, actor)
	mm.observe("close_loan", actor, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type amountFunc func(ctx context.Context, actor moneymarket.Actor, asset common.Address, amount *big.Int) error

func (mm *MoneyMarket) amountOp(name string, fn amountFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, status, err := actorFrom(r)
		if err != nil {
			writeJSONError(w, status, err)
			return
		}
		var req amountRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
		asset, err := parseAddress("asset", req.Asset)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		ctx, cancel := mm.context(r.Context())
		defer cancel()
		start := time.Now()
		err = fn(ctx, actor, asset, amount)
		mm.observe(name, actor, start, err)
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (mm *MoneyMarket) addInvestment(w http.ResponseWriter, r *http.Request) {
	actor, status, err := actorFrom(r)
	if err != nil {
		writeJSONError(w, status, err)
		return
	}
	var req addInvestmentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := mm.context(r.Context())
	defer cancel()
	start := time.Now()
	invested, err := mm.ops.AddInvestment(ctx, actor, asset, amount, req.Period)
	mm.observe("add_investment", actor, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, investmentResponse{Asset: asset.Hex(), Value: invested.String()})
}

func (mm *MoneyMarket) removeInvestment(w http.ResponseWriter, r *http.Request) {
	actor, status, err := actorFrom(r)
	if err != nil {
		writeJSONError(w, status, err)
		return
	}
	var req removeInvestmentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := mm.context(r.Context())
	defer cancel()
	start := time.Now()
	err = mm.ops.RemoveInvestment(ctx, actor, asset, req.FractionBps)
	mm.observe("remove_investment", actor, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (mm *MoneyMarket) loanStatus(w http.ResponseWriter, r *http.Request) {
	wallet, err := parseAddress("wallet", chi.URLParam(r, "wallet"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := mm.context(r.Context())
	defer cancel()
	status, value, err := mm.queries.LoanStatus(ctx, wallet)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanStatusResponse{Status: status.String(), Value: value.String()})
}

func (mm *MoneyMarket) investmentValue(w http.ResponseWriter, r *http.Request) {
	wallet, err := parseAddress("wallet", chi.URLParam(r, "wallet"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := mm.context(r.Context())
	defer cancel()
	value, periodEnd, err := mm.queries.InvestmentValue(ctx, wallet, asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, investmentResponse{Asset: asset.Hex(), Value: value.String(), PeriodEnd: periodEnd})
}

func (mm *MoneyMarket) positions(w http.ResponseWriter, r *http.Request) {
	wallet, err := parseAddress("wallet", chi.URLParam(r, "wallet"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := mm.context(r.Context())
	defer cancel()
	positions, err := mm.queries.Positions(ctx, wallet)
	if err != nil {
		writeError(w, err)
		return
	}
	if positions == nil {
		positions = []moneymarket.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"wallet": wallet.Hex(), "positions": positions})
}

func (mm *MoneyMarket) listEvents(w http.ResponseWriter, r *http.Request) {
	if mm.events == nil {
		http.NotFound(w, r)
		return
	}
	wallet, err := parseAddress("wallet", chi.URLParam(r, "wallet"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	query, err := parseEventQuery(r, wallet)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	entries, err := mm.events.List(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

func parseEventQuery(r *http.Request, wallet common.Address) (journal.Query, error) {
	q := journal.Query{Wallet: wallet.Hex(), Type: strings.TrimSpace(r.URL.Query().Get("type"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			return q, fmt.Errorf("invalid after cursor %q", raw)
		}
		q.AfterSeq = after
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return q, fmt.Errorf("invalid limit %q", raw)
		}
		q.Limit = limit
	}
	return q, nil
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", field, value)
	}
	return common.HexToAddress(trimmed), nil
}

// parseAmount accepts a base-10 integer in the asset's smallest unit.
func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, value)
	}
	if amount.Sign() < 0 {
		return nil, errors.New(field + " must not be negative")
	}
	return amount, nil
}
