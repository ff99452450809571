package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"walletlend/gateway/middleware"
)

// RateLimitKey is the limiter bucket used by the wallet routes.
const RateLimitKey = "wallets"

type Config struct {
	MoneyMarket   *MoneyMarket
	Wallets       *Wallets
	HealthHandler http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// New assembles the HTTP surface: health and metrics at the root, the
// wallet API under /v1/wallets/{wallet}.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))

	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Method(http.MethodGet, "/healthz", health)

	obs := cfg.Observability
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	if cfg.MoneyMarket == nil && cfg.Wallets == nil {
		return r
	}
	cfg.MoneyMarket.AllowOrigins(cfg.CORS.AllowedOrigins)
	auth := cfg.Authenticator
	if auth == nil {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{}, nil)
	}
	r.Route("/v1/wallets/{wallet}", func(sr chi.Router) {
		if obs != nil {
			sr.Use(obs.Middleware("wallets"))
		}
		sr.Group(func(reads chi.Router) {
			reads.Use(auth.Middleware(middleware.ScopeRead))
			if cfg.RateLimiter != nil {
				reads.Use(cfg.RateLimiter.Middleware(RateLimitKey))
			}
			if cfg.Wallets != nil {
				cfg.Wallets.MountReads(reads)
			}
			if cfg.MoneyMarket != nil {
				cfg.MoneyMarket.MountReads(reads)
			}
		})
		sr.Group(func(writes chi.Router) {
			writes.Use(auth.Middleware(middleware.ScopeWrite))
			if cfg.RateLimiter != nil {
				writes.Use(cfg.RateLimiter.Middleware(RateLimitKey))
			}
			if cfg.Wallets != nil {
				cfg.Wallets.MountWrites(writes)
			}
			if cfg.MoneyMarket != nil {
				cfg.MoneyMarket.MountWrites(writes)
			}
		})
	})
	return r
}
