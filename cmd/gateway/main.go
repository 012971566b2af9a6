package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"security-gateway/internal/admin"
	"security-gateway/internal/config"
	"security-gateway/internal/logging"
	"security-gateway/internal/profile"
	"security-gateway/internal/session"
	"security-gateway/middleware/csrf"
	"security-gateway/middleware/events"
	"security-gateway/middleware/gateway"
	"security-gateway/middleware/headers"
	"security-gateway/middleware/ratelimit"
	"security-gateway/middleware/ratelimit/application"
	"security-gateway/middleware/ratelimit/domain"
	"security-gateway/middleware/ratelimit/infra"
	"security-gateway/middleware/redirect"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.UpstreamURL == "" {
		return errors.New("config: UPSTREAM_URL is required")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.ErrorContext(r.Context(), "proxy error", "error", err, "path", r.URL.Path)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── Rate limit ───────────────────────────────────────────────────────────
	store := newCounterStore(ctx, cfg)
	blockList, err := infra.NewIPList(cfg.IPBlockList...)
	if err != nil {
		return fmt.Errorf("IP_BLOCK_LIST: %w", err)
	}
	allowList, err := infra.NewIPList(cfg.IPAllowList...)
	if err != nil {
		return fmt.Errorf("IP_ALLOW_LIST: %w", err)
	}
	suspicious := infra.NewSuspiciousSet()

	var concurrency domain.ConcurrencyLimiter
	if cfg.ConcurrencyMaxPerIP > 0 {
		cc := infra.NewConcurrencyCounter(cfg.ConcurrencyMaxPerIP,
			infra.WithSafetyTimeout(cfg.ConcurrencySafetyTimeout),
			infra.WithConcurrencyCleanupEvery(cfg.RateLimitSweepEvery),
		)
		cc.StartJanitor(ctx)
		concurrency = cc
	}

	// ── CSRF ─────────────────────────────────────────────────────────────────
	csrfStore := csrf.NewMemoryStore()
	csrf.StartJanitor(ctx, csrfStore, cfg.RateLimitSweepEvery, time.Now)
	csrfSvc, err := csrf.NewService(csrf.Options{
		Secret:         []byte(cfg.CSRFSecret),
		Store:          csrfStore,
		TTL:            cfg.CSRFTTL,
		CookieName:     cfg.CSRFCookieName,
		HeaderName:     cfg.CSRFHeaderName,
		SessionCookie:  cfg.SessionCookieName,
		SameSite:       cfg.SameSite(),
		Secure:         cfg.IsProduction(),
		RotateOnUse:    cfg.CSRFRotateOnUse,
		ExemptPrefixes: cfg.CSRFExemptPrefixes,
		ClientIP: func(r *http.Request) string {
			return ratelimit.ClientIP(r, cfg.TrustXFF)
		},
	})
	if err != nil {
		return fmt.Errorf("csrf: %w", err)
	}

	// ── Eventos ──────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promSink, err := events.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	memSink := events.NewMemorySink()
	sinks := events.Multi{memSink, promSink, events.LogSink{Logger: logger}}
	health := map[string]admin.HealthCheck{}

	// ── Colaboradores ────────────────────────────────────────────────────────
	var sessions gateway.SessionProvider
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancelPing()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }

		sessions = session.NewRedisProvider(rdb,
			session.WithKeyPrefix(cfg.SessionKeyPrefix),
			session.WithCookieName(cfg.SessionCookieName),
		)
		if cfg.EventsRedisEnabled {
			sinks = append(sinks, events.NewRedisSink(rdb,
				events.WithPrefix(cfg.EventsPrefix),
				events.WithTTL(cfg.EventsTTL),
			))
		}
	}

	var profiles gateway.ProfileStore
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		health["postgres"] = pool.Ping
		profiles = profile.NewPostgresStore(pool)
	}

	// ── Orquestrador ─────────────────────────────────────────────────────────
	cspProfile := headers.ProfileFor(cfg.AppEnv)
	cspProfile.ReportOnly = cfg.CSPReportOnly
	cspProfile.ReportURI = cfg.CSPReportURI

	gw, err := gateway.New(gateway.Options{
		RateLimit: application.Service{
			Store:       store,
			Policies:    cfg.PathPolicies(),
			Default:     cfg.DefaultPolicy(),
			BlockList:   blockList,
			AllowList:   allowList,
			Suspicious:  suspicious,
			Concurrency: concurrency,
		},
		CSRF: csrfSvc,
		Headers: headers.Composer{
			Profile: cspProfile,
			CORS:    headers.DefaultCORS(cfg.CORSAllowedOrigins...),
		},
		Redirect: redirect.NewResolver(cfg.AuthorHost, cfg.ReaderHost),
		Routes: gateway.Routes{
			APIPrefix:          cfg.APIPrefix,
			ProtectedPrefixes:  cfg.ProtectedPrefixes,
			PublicAPIPrefixes:  cfg.APIPublicPrefixes,
			PublicReadPrefixes: cfg.APIPublicReadPrefixes,
			AuthOnlyPaths:      cfg.AuthOnlyPaths,
			LoginPath:          cfg.LoginPath,
			AuthenticatedHome:  cfg.AuthenticatedHome,
			CSRFTokenPath:      cfg.CSRFTokenPath,
		},
		Sessions:            sessions,
		Profiles:            profiles,
		Events:              sinks,
		Logger:              logger,
		TrustXForwardedFor:  cfg.TrustXFF,
		CollaboratorTimeout: cfg.CollaboratorTimeout,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.Middleware(proxy),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	servers := []*http.Server{srv}
	if cfg.AdminAddr != "" {
		servers = append(servers, &http.Server{
			Addr: cfg.AdminAddr,
			Handler: admin.NewRouter(admin.Options{
				Token:      cfg.AdminToken,
				Suspicious: suspicious,
				BlockList:  blockList,
				AllowList:  allowList,
				Stats:      memSink,
				CSRF:       csrfSvc,
				Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				Health:     health,
				Logger:     logger,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	logger.Info("gateway listening",
		"addr", cfg.ListenAddr,
		"upstream", target.String(),
		"admin", cfg.AdminAddr,
		"env", cfg.AppEnv,
	)
	logger.Info("rate limit",
		"algorithm", cfg.RateLimitAlgorithm,
		"default", cfg.RateLimitDefault,
		"paths", len(cfg.PathPolicies()),
		"trust_xff", cfg.TrustXFF,
		"concurrency_per_ip", cfg.ConcurrencyMaxPerIP,
	)
	logger.Info("collaborators",
		"sessions", sessions != nil,
		"profiles", profiles != nil,
		"events_redis", cfg.EventsRedisEnabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		s := s
		g.Go(func() error {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", s.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, s := range servers {
			errs = append(errs, s.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// newCounterStore escolhe a estratégia de contagem e liga o janitor.
func newCounterStore(ctx context.Context, cfg *config.Config) domain.CounterStore {
	if cfg.RateLimitAlgorithm == "token" {
		s := infra.NewTokenBucketStore(infra.WithCleanupEvery(cfg.RateLimitSweepEvery))
		s.StartJanitor(ctx)
		return s
	}
	s := infra.NewWindowStore(infra.WithWindowCleanupEvery(cfg.RateLimitSweepEvery))
	s.StartJanitor(ctx)
	return s
}
