package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"walletlend/gateway/middleware"
	"walletlend/native/lending"
	"walletlend/native/moneymarket"
	"walletlend/native/registry"
	"walletlend/native/wallet"
	"walletlend/storage/journal"
)

var (
	comptroller = common.HexToAddress("0x3d9819210a31b4961b30ef54be2aed79b9c9cd3b")
	tokenA      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB      = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	cTokenA     = common.HexToAddress("0x00000000000000000000000000000000000001aa")
	cTokenB     = common.HexToAddress("0x00000000000000000000000000000000000001bb")
	walletAddr  = common.HexToAddress("0x000000000000000000000000000000000000a11e")
	ownerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	stranger    = common.HexToAddress("0x0000000000000000000000000000000000000bad")
)

func units(n int64) string {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18)).String()
}

type harness struct {
	server *httptest.Server
	book   *wallet.Book
	events *journal.Journal
}

type harnessOptions struct {
	origins    []string
	replayPage int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, harnessOptions{})
}

func newHarnessWith(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	sim, err := lending.New(lending.Config{
		Comptroller:   comptroller.Hex(),
		BlocksPerYear: lending.DefaultBlocksPerYear,
		Tokens:        []lending.TokenConfig{
			{Address: tokenA.Hex(), Symbol: "TKA"},
			{Address: tokenB.Hex(), Symbol: "TKB"},
		},
		Markets: []lending.MarketConfig{
			{Token: cTokenA.Hex(), Underlying: tokenA.Hex(), Symbol: "cTKA", CollateralFactorBps: 7_500},
			{Token: cTokenB.Hex(), Underlying: tokenB.Hex(), Symbol: "cTKB", CollateralFactorBps: 5_000, Cash: units(10_000)},
		},
		Accounts: []lending.AccountConfig{{
			Address:  walletAddr.Hex(),
			Balances: map[string]string{tokenA.Hex(): units(1_000)},
		}},
	})
	require.NoError(t, err)

	reg := registry.New(sim.Comptroller())
	require.NoError(t, reg.Add(moneymarket.Market{Token: cTokenA, Underlying: tokenA, Kind: moneymarket.KindToken}))
	require.NoError(t, reg.Add(moneymarket.Market{Token: cTokenB, Underlying: tokenB, Kind: moneymarket.KindToken}))

	book := wallet.NewBook()
	require.NoError(t, book.Register(walletAddr, ownerAddr))

	events, err := journal.Open("sqlite", filepath.Join(t.TempDir(), "events.db"), quiet)
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	manager := moneymarket.NewManager(sim, reg, book)
	manager.SetEmitter(events)
	handlers := NewMoneyMarket(manager, moneymarket.NewReader(sim, reg), events, quiet)
	if opts.replayPage > 0 {
		handlers.replayPage = opts.replayPage
	}

	server := httptest.NewServer(New(Config{
		MoneyMarket:   handlers,
		Wallets:       NewWallets(book, quiet),
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{}, quiet),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{MetricsPrefix: "routes_test"}, quiet),
		CORS:          middleware.CORSConfig{AllowedOrigins: opts.origins},
	}))
	t.Cleanup(server.Close)
	return &harness{server: server, book: book, events: events}
}

func (h *harness) do(t *testing.T, method, path string, caller common.Address, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	if caller != (common.Address{}) {
		req.Header.Set(middleware.DevCallerHeader, caller.Hex())
	}
	res, err := h.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode(t *testing.T, res *http.Response, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(res.Body).Decode(dst))
}

func walletPath(suffix string) string {
	return "/v1/wallets/" + walletAddr.Hex() + suffix
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.do(t, http.MethodPost, walletPath("/loan/open"), ownerAddr, openLoanRequest{
		CollateralAsset:  tokenA.Hex(),
		CollateralAmount: units(1_000),
		DebtAsset:        tokenB.Hex(),
		DebtAmount:       units(500),
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var opened loanResponse
	decode(t, res, &opened)
	require.Equal(t, "0x"+strings.Repeat("0", 64), opened.LoanID)

	res = h.do(t, http.MethodGet, walletPath("/loan"), ownerAddr, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var status loanStatusResponse
	decode(t, res, &status)
	require.Equal(t, moneymarket.LoanSafe.String(), status.Status)
	require.Equal(t, units(250), status.Value)

	res = h.do(t, http.MethodGet, walletPath("/positions"), ownerAddr, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var positions struct {
		Positions []map[string]interface{} `json:"positions"`
	}
	decode(t, res, &positions)
	require.Len(t, positions.Positions, 2)
	require.True(t, strings.EqualFold(cTokenA.Hex(), positions.Positions[0]["market"].(string)))
	require.Equal(t, moneymarket.KindToken.String(), positions.Positions[0]["kind"])

	res = h.do(t, http.MethodPost, walletPath("/debt/remove"), ownerAddr, amountRequest{Asset: tokenB.Hex(), Amount: units(500)})
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res = h.do(t, http.MethodPost, walletPath("/loan/close"), ownerAddr, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res = h.do(t, http.MethodGet, walletPath("/events"), ownerAddr, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var listed struct {
		Events []journal.Entry `json:"events"`
	}
	decode(t, res, &listed)
	var kinds []string
	for _, entry := range listed.Events {
		kinds = append(kinds, entry.Type)
	}
	require.Equal(t, []string{
		moneymarket.EventTypeLoanOpened,
		moneymarket.EventTypeDebtRemoved,
		moneymarket.EventTypeLoanClosed,
	}, kinds)
}

func TestErrorStatuses(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	add := amountRequest{Asset: tokenA.Hex(), Amount: units(10)}

	res := h.do(t, http.MethodPost, walletPath("/collateral/add"), stranger, add)
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	res = h.do(t, http.MethodPost, walletPath("/collateral/add"), common.Address{}, add)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = h.do(t, http.MethodPost, walletPath("/collateral/add"), ownerAddr, amountRequest{Asset: tokenA.Hex(), Amount: "0"})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = h.do(t, http.MethodPost, walletPath("/collateral/add"), ownerAddr, amountRequest{Asset: "0x00000000000000000000000000000000000000cc", Amount: "1"})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = h.do(t, http.MethodPost, walletPath("/collateral/add"), ownerAddr, amountRequest{Asset: tokenA.Hex(), Amount: "-5"})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = h.do(t, http.MethodPost, walletPath("/investments/remove"), ownerAddr, removeInvestmentRequest{Asset: tokenA.Hex(), FractionBps: 10_001})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = h.do(t, http.MethodPost, "/v1/wallets/not-an-address/collateral/add", ownerAddr, add)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	until := time.Now().Add(time.Hour).Unix()
	res = h.do(t, http.MethodPost, walletPath("/lock"), stranger, lockRequest{Until: until})
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	res = h.do(t, http.MethodPost, walletPath("/lock"), ownerAddr, lockRequest{Until: until})
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.True(t, h.book.IsLocked(walletAddr))

	res = h.do(t, http.MethodPost, walletPath("/collateral/add"), ownerAddr, add)
	require.Equal(t, http.StatusLocked, res.StatusCode)
}

func TestWalletLockEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.do(t, http.MethodGet, walletPath(""), ownerAddr, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var described walletResponse
	decode(t, res, &described)
	require.Equal(t, ownerAddr.Hex(), described.Owner)
	require.Zero(t, described.LockedUntil)

	res = h.do(t, http.MethodGet, "/v1/wallets/"+stranger.Hex(), ownerAddr, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res = h.do(t, http.MethodPost, walletPath("/unlock"), ownerAddr, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	res = h.do(t, http.MethodPost, walletPath("/lock"), ownerAddr, lockRequest{Until: 1})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	until := time.Now().Add(time.Hour).Unix()
	res = h.do(t, http.MethodPost, walletPath("/lock"), ownerAddr, lockRequest{Until: until})
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res = h.do(t, http.MethodGet, walletPath(""), ownerAddr, nil)
	decode(t, res, &described)
	require.Equal(t, until, described.LockedUntil)

	res = h.do(t, http.MethodPost, walletPath("/unlock"), ownerAddr, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.False(t, h.book.IsLocked(walletAddr))
}

func TestInvestmentRoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.do(t, http.MethodPost, walletPath("/investments/add"), ownerAddr, addInvestmentRequest{Asset: tokenA.Hex(), Amount: units(400), Period: 30})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var added investmentResponse
	decode(t, res, &added)
	require.Equal(t, units(400), added.Value)

	res = h.do(t, http.MethodGet, walletPath("/investments/"+tokenA.Hex()), ownerAddr, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var value investmentResponse
	decode(t, res, &value)
	require.Equal(t, units(400), value.Value)
	require.Zero(t, value.PeriodEnd)

	res = h.do(t, http.MethodPost, walletPath("/investments/remove"), ownerAddr, removeInvestmentRequest{Asset: tokenA.Hex(), FractionBps: 10_000})
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res = h.do(t, http.MethodGet, walletPath("/investments/"+tokenA.Hex()), ownerAddr, nil)
	decode(t, res, &value)
	require.Equal(t, "0", value.Value)
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + walletPath("/events/stream")
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{middleware.DevCallerHeader: []string{ownerAddr.Hex()}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test complete")

	// The subscription is registered before the upgrade completes.
	res := h.do(t, http.MethodPost, walletPath("/collateral/add"), ownerAddr, amountRequest{Asset: tokenA.Hex(), Amount: units(10)})
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	kind, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, kind)
	var entry journal.Entry
	require.NoError(t, json.Unmarshal(data, &entry))
	require.Equal(t, moneymarket.EventTypeCollateralAdded, entry.Type)
	require.Equal(t, walletAddr.Hex(), entry.Wallet)
	require.Equal(t, units(10), entry.Attributes["amount"])
}

func (h *harness) dialStream(ctx context.Context, t *testing.T, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	if header == nil {
		header = http.Header{}
	}
	header.Set(middleware.DevCallerHeader, ownerAddr.Hex())
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + walletPath("/events/stream") + query
	return websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
}

func TestEventStreamReplaysWholeBacklog(t *testing.T) {
	t.Parallel()
	h := newHarnessWith(t, harnessOptions{replayPage: 40})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const backlog = journal.DefaultLimit + 50
	for i := 1; i <= backlog; i++ {
		_, err := h.events.Append(ctx, moneymarket.NewCollateralAddedEvent(walletAddr, tokenA, big.NewInt(int64(i))))
		require.NoError(t, err)
	}

	conn, _, err := h.dialStream(ctx, t, "?after=0", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test complete")

	var last int64
	for i := 1; i <= backlog; i++ {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var entry journal.Entry
		require.NoError(t, json.Unmarshal(data, &entry))
		require.Greater(t, entry.Seq, last)
		require.Equal(t, fmt.Sprint(i), entry.Attributes["amount"])
		last = entry.Seq
	}

	res := h.do(t, http.MethodPost, walletPath("/collateral/add"), ownerAddr, amountRequest{Asset: tokenA.Hex(), Amount: units(10)})
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var live journal.Entry
	require.NoError(t, json.Unmarshal(data, &live))
	require.Greater(t, live.Seq, last)
	require.Equal(t, units(10), live.Attributes["amount"])
}

func TestEventStreamHonoursAllowedOrigins(t *testing.T) {
	t.Parallel()
	h := newHarnessWith(t, harnessOptions{origins: []string{"http://app.example"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, res, err := h.dialStream(ctx, t, "", http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, res)
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	conn, _, err := h.dialStream(ctx, t, "", http.Header{"Origin": []string{"http://app.example"}})
	require.NoError(t, err)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "test complete"))
}

func TestWebsocketOrigins(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"*"}, websocketOrigins(nil))
	require.Equal(t, []string{"*"}, websocketOrigins([]string{"http://a.example", "*"}))
	require.Equal(t, []string{"a.example:3000", "b.example"}, websocketOrigins([]string{" https://a.example:3000 ", "b.example", ""}))
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{moneymarket.ErrUnauthorized, http.StatusForbidden},
		{moneymarket.ErrWalletLocked, http.StatusLocked},
		{fmt.Errorf("wrap: %w", moneymarket.ErrZeroAmount), http.StatusBadRequest},
		{moneymarket.ErrInvalidFraction, http.StatusBadRequest},
		{moneymarket.ErrUnsupportedMarket, http.StatusBadRequest},
		{moneymarket.ErrArithmeticOverflow, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: borrow: %w", moneymarket.ErrExternalCallFailed, context.DeadlineExceeded), http.StatusBadGateway},
		{moneymarket.ErrLiquidityQueryFailed, http.StatusBadGateway},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
