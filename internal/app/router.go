package app

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/treasurehub/treasurehub-api/internal/auth"
	"github.com/treasurehub/treasurehub-api/internal/cart"
	"github.com/treasurehub/treasurehub-api/internal/catalog"
	"github.com/treasurehub/treasurehub-api/internal/checkout"
	"github.com/treasurehub/treasurehub-api/internal/common"
	"github.com/treasurehub/treasurehub-api/internal/health"
	"github.com/treasurehub/treasurehub-api/internal/lock"
	"github.com/treasurehub/treasurehub-api/internal/obs"
	"github.com/treasurehub/treasurehub-api/internal/order"
	"github.com/treasurehub/treasurehub-api/internal/pricing"
	"github.com/treasurehub/treasurehub-api/internal/promo"
	"github.com/treasurehub/treasurehub-api/internal/ratelimit"
	"github.com/treasurehub/treasurehub-api/internal/security"
)

// NewRouter builds the HTTP API on top of d. verifier validates bearer tokens
// for every authenticated route.
func NewRouter(d *Dependencies, verifier *auth.Verifier) (http.Handler, error) {
	cfg := d.Config
	log := d.Log

	rates := pricing.DefaultRates()
	rates.TaxRate = cfg.TaxRate

	bus := d.EventBus()
	holder := lock.Holder{R: d.Redis, TTL: cfg.ListingHoldTTL}
	listingCache := catalog.NewCache(d.Redis, cfg.CatalogCacheTTL)

	catalogSvc, err := catalog.NewService(catalog.ServiceConfig{
		Queries:      d.Queries,
		Cache:        listingCache,
		DefaultLimit: cfg.CatalogDefaultLimit,
		MaxLimit:     cfg.CatalogMaxLimit,
	})
	if err != nil {
		return nil, err
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{
		Service: catalogSvc,
		Sweeper: &catalog.Sweeper{
			Q:         d.Queries,
			Events:    bus,
			Cache:     listingCache,
			BatchSize: cfg.SweepBatchSize,
			Log:       log.With().Str("component", "price_sweep").Logger(),
		},
	})

	promoSvc := &promo.Service{Q: d.Queries, Log: log}
	promoHandler := &promo.Handler{Q: d.Queries, Svc: promoSvc}

	cartHandler := &cart.Handler{Svc: &cart.Service{Q: d.Queries, Promo: promoSvc, Rates: rates, Log: log}}

	orderSvc := &order.Service{
		Q:      d.Queries,
		Tx:     order.PoolTx{Pool: d.DB},
		Holds:  holder,
		Cache:  listingCache,
		Events: bus,
		Log:    log,
	}
	orderHandler := &order.Handler{Svc: orderSvc}
	orderAdmin := &order.AdminHandler{Svc: orderSvc}

	checkoutHandler := &checkout.Handler{Svc: &checkout.Service{
		Tx:       checkout.PoolTx{Pool: d.DB},
		Promo:    promoSvc,
		Holds:    holder,
		Cache:    listingCache,
		Events:   bus,
		Rates:    rates,
		Currency: cfg.Currency,
		HoldTTL:  cfg.ListingHoldTTL,
		Log:      log,
	}}

	globalLimit, err := ratelimit.Global(d.Redis, cfg.RateLimitGlobal)
	if err != nil {
		return nil, err
	}
	promoLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: d.Redis, Prefix: "ratelimit:promo"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByIP("validate"),
			Window: cfg.PromoValidateWindow,
			Max:    cfg.PromoValidateLimit,
		},
		OnError: func(err error) { log.Warn().Err(err).Msg("promo rate limiter unavailable") },
	}
	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}
	authMW := auth.Middleware{Verifier: verifier}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.MetricsEnabled {
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), d.Registry)}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: log}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction(), HSTSMaxAge: 31536000, NoStore: true}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"X-Total-Count", "Retry-After", "X-RateLimit-Remaining"},
		MaxAge:         300,
	}))

	healthHandler := health.Handler{
		Checker:      health.Deps{DB: d.DB, Redis: d.Redis},
		DBTimeout:    500 * time.Millisecond,
		RedisTimeout: 300 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	if cfg.MetricsEnabled && d.Registry != nil {
		r.Handle("/metrics", obs.MetricsHandler(d.Registry))
	}
	if cfg.PprofEnabled {
		r.Mount("/debug", basicAuth(middleware.Profiler(), cfg.PprofUser, cfg.PprofPass))
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(globalLimit)
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

		v.Get("/listings", catalogHandler.Listings)
		v.Get("/listings/{idOrSlug}", catalogHandler.Listing)
		v.With(promoLimit.Middleware).Post("/promos/validate", promoHandler.Validate)

		v.Group(func(u chi.Router) {
			u.Use(authMW.RequireAuth)

			u.Route("/cart", func(c chi.Router) {
				c.Get("/", cartHandler.Get)
				c.Delete("/", cartHandler.Clear)
				c.Get("/quote", cartHandler.Quote)
				c.Post("/items", cartHandler.AddItem)
				c.Delete("/items/{listingId}", cartHandler.RemoveItem)
				c.Put("/delivery-method", cartHandler.SetDeliveryMethod)
				c.Post("/promo", cartHandler.AttachPromo)
				c.Delete("/promo", cartHandler.DetachPromo)
			})

			u.With(idem.Middleware).Post("/checkout", checkoutHandler.Checkout)

			u.Get("/orders", orderHandler.List)
			u.Get("/orders/{orderId}", orderHandler.Get)
			u.Post("/orders/{orderId}/cancel", orderHandler.Cancel)
		})

		v.Route("/admin", func(a chi.Router) {
			a.Use(authMW.RequireAuth, auth.RequireRole(common.RoleAdmin))

			a.Post("/listings", catalogHandler.AdminCreate)
			a.Get("/listings/{id}", catalogHandler.AdminGet)
			a.Put("/listings/{id}", catalogHandler.AdminUpdate)
			a.Post("/listings/sweep", catalogHandler.AdminSweep)

			a.Get("/promos", promoHandler.List)
			a.Post("/promos", promoHandler.Create)
			a.Get("/promos/{code}", promoHandler.Get)
			a.Put("/promos/{code}", promoHandler.Update)

			a.Patch("/orders/{id}/status", orderAdmin.PatchStatus)
		})
	})

	return r, nil
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// basicAuth guards h when user is set.
func basicAuth(h http.Handler, user, pass string) http.Handler {
	if user == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="restricted"`)
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
			return
		}
		h.ServeHTTP(w, r)
	})
}
