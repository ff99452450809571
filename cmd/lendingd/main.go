package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/net/netutil"

	"walletlend/cmd/internal/passphrase"
	"walletlend/config"
	"walletlend/core/events"
	"walletlend/gateway/middleware"
	"walletlend/gateway/routes"
	"walletlend/native/lending"
	"walletlend/native/moneymarket"
	"walletlend/native/registry"
	"walletlend/native/wallet"
	"walletlend/observability"
	"walletlend/observability/logging"
	telemetry "walletlend/observability/otel"
	"walletlend/services/evmhost"
	"walletlend/storage"
	"walletlend/storage/journal"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "lendingd.toml", "path to lendingd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		slog.Error("lendingd exited", "error", err)
		os.Exit(1)
	}
}

// backend is the protocol host plus whatever must be released on shutdown.
type backend struct {
	host     moneymarket.Host
	registry *registry.Registry
	close    func()
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("lendingd", cfg.Environment, cfg.LogLevel)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendingd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var be *backend
	switch cfg.Mode {
	case config.ModeSimulator:
		be, err = simulatorBackend(ctx, cfg, logger)
	case config.ModeEVM:
		be, err = evmBackend(ctx, cfg, logger)
	default:
		err = fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if err != nil {
		return err
	}
	defer be.close()
	for _, market := range be.registry.Markets() {
		logger.Info("market registered", "market", market.Token.Hex(), "underlying", market.Underlying.Hex(), "kind", market.Kind.String())
	}

	store, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()
	logger.Info("journal ready", "driver", cfg.Journal.Driver, logging.MaskField("dsn", cfg.Journal.DSN))

	book, closeBook, err := openWallets(cfg, logger)
	if err != nil {
		return err
	}
	defer closeBook()
	emitter := events.Fanout{store, observability.EventCounter{}}
	book.SetEmitter(emitter)

	manager := moneymarket.NewManager(be.host, be.registry, book)
	manager.SetEmitter(emitter)
	reader := moneymarket.NewReader(be.host, be.registry)

	limits := map[string]middleware.RateLimit{
		routes.RateLimitKey: {
			RatePerSecond: cfg.RateLimit.RatePerSecond,
			Burst:         cfg.RateLimit.Burst,
			MethodTokens:  map[string]int{http.MethodPost: cfg.RateLimit.WriteTokens},
		},
	}
	handler := routes.New(routes.Config{
		MoneyMarket: routes.NewMoneyMarket(manager, reader, store, logger),
		Wallets:     routes.NewWallets(book, logger),
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "lendingd",
			LogRequests: cfg.HTTP.LogRequests,
			Enabled:     cfg.Telemetry.Traces,
		}, logger),
		CORS: middleware.CORSConfig{AllowedOrigins: cfg.HTTP.CORSOrigins},
	})
	if !cfg.Auth.Enabled {
		logger.Warn("authentication disabled; callers are taken from " + middleware.DevCallerHeader)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	listener, err := listen(cfg.ListenAddress, cfg.HTTP.MaxConnections)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "addr", listener.Addr().String(), "mode", cfg.Mode, "maxConnections", cfg.HTTP.MaxConnections)
		serverErr <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = server.Close()
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func simulatorBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	seed, err := lending.LoadConfig(cfg.Simulator.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("load simulator seed: %w", err)
	}
	sim, err := lending.New(seed)
	if err != nil {
		return nil, fmt.Errorf("build simulator: %w", err)
	}
	var reg *registry.Registry
	if cfg.RegistryFile != "" {
		reg, err = registry.Load(ctx, cfg.RegistryFile, sim)
		if err != nil {
			return nil, fmt.Errorf("load registry: %w", err)
		}
	} else {
		reg = registry.New(sim.Comptroller())
		for _, info := range sim.Markets() {
			kind := moneymarket.KindToken
			if info.Native {
				kind = moneymarket.KindNative
			}
			if err := reg.Add(moneymarket.Market{Token: info.Token, Underlying: info.Underlying, Kind: kind}); err != nil {
				return nil, fmt.Errorf("register %s: %w", info.Symbol, err)
			}
		}
	}

	tickCtx, cancel := context.WithCancel(ctx)
	if interval := cfg.Simulator.BlockInterval; interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-tickCtx.Done():
					return
				case <-ticker.C:
					sim.Advance(cfg.Simulator.BlocksPerTick)
					logger.Debug("simulator advanced", "height", sim.BlockHeight())
				}
			}
		}()
	}
	for _, info := range sim.Markets() {
		logger.Info("simulated market", "symbol", info.Symbol, "market", info.Token.Hex(),
			"borrowAPR", info.BorrowAPR.FloatString(4), "supplyAPY", info.SupplyAPY.FloatString(4))
	}
	logger.Info("simulator ready", "seed", cfg.Simulator.SeedFile, "markets", len(reg.Markets()), "blockInterval", cfg.Simulator.BlockInterval.String())
	return &backend{host: sim, registry: reg, close: cancel}, nil
}

func evmBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	pass, err := passphrase.NewSource(cfg.EVM.PassphraseEnv).Get()
	if err != nil {
		return nil, fmt.Errorf("keystore passphrase: %w", err)
	}
	key, err := evmhost.LoadKey(cfg.EVM.KeystorePath, pass)
	if err != nil {
		return nil, err
	}
	var chainID *big.Int
	if cfg.EVM.ChainID > 0 {
		chainID = big.NewInt(cfg.EVM.ChainID)
	}
	host, client, err := evmhost.Dial(ctx, cfg.EVM.Endpoint, key, evmhost.Options{
		ChainID:      chainID,
		GasMarginBps: cfg.EVM.GasMarginBps,
		PollInterval: cfg.EVM.PollInterval,
		WaitTimeout:  cfg.EVM.ReceiptTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Load(ctx, cfg.RegistryFile, host)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("load registry: %w", err)
	}
	logger.Info("evm host ready", logging.MaskEndpoint("endpoint", cfg.EVM.Endpoint), "relayer", host.Signer().Hex())
	return &backend{host: host, registry: reg, close: client.Close}, nil
}

// listen opens the API listener, capping concurrent connections when limit
// is positive.
func listen(addr string, limit int) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		ln = netutil.LimitListener(ln, limit)
	}
	return ln, nil
}

// openWallets builds the wallet book, attaching the LevelDB store when one is
// configured, and registers the configured wallets. Wallets already persisted
// with the same owner are left as they are.
func openWallets(cfg *config.Config, logger *slog.Logger) (*wallet.Book, func(), error) {
	book := wallet.NewBook()
	closeStore := func() {}
	if cfg.WalletStore != "" {
		db, err := storage.NewLevelDB(cfg.WalletStore)
		if err != nil {
			return nil, nil, fmt.Errorf("open wallet store: %w", err)
		}
		if err := book.Attach(db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("load wallet store: %w", err)
		}
		closeStore = func() { _ = db.Close() }
	}
	for _, entry := range cfg.Wallets {
		address := common.HexToAddress(strings.TrimSpace(entry.Address))
		owner := common.HexToAddress(strings.TrimSpace(entry.Owner))
		err := book.Register(address, owner)
		if errors.Is(err, wallet.ErrAlreadyExists) && book.IsOwner(address, owner) {
			continue
		}
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("register wallet %s: %w", entry.Address, err)
		}
	}
	logger.Info("wallet book ready", "wallets", len(book.Wallets()), "persistent", cfg.WalletStore != "")
	return book, closeStore, nil
}
