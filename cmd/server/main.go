package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/auth"
	"github.com/eternisai/content-planner-proxy/internal/clientconfig"
	"github.com/eternisai/content-planner-proxy/internal/config"
	"github.com/eternisai/content-planner-proxy/internal/gemini"
	"github.com/eternisai/content-planner-proxy/internal/httpclient"
	"github.com/eternisai/content-planner-proxy/internal/keypool"
	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/eternisai/content-planner-proxy/internal/metrics"
	"github.com/eternisai/content-planner-proxy/internal/planner"
	"github.com/eternisai/content-planner-proxy/internal/ratelimit"
	"github.com/eternisai/content-planner-proxy/internal/scheduler"
	"github.com/eternisai/content-planner-proxy/internal/stripe"
	"github.com/eternisai/content-planner-proxy/internal/tripay"
	"github.com/eternisai/content-planner-proxy/internal/userkeys"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

const (
	jobJWKSRefresh  = "jwks-refresh"
	jobTokenPrewarm = "token-prewarm"
	jobLimiterGC    = "ratelimit-cleanup"

	limiterCleanupSchedule = "@every 10m"
	limiterMaxIdle         = 30 * time.Minute
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	slog.SetDefault(log.Logger)

	log.Info("setting gin mode", slog.String("mode", cfg.GinMode))
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()
	m := metrics.New()

	// One pooled transport, one instrumented client per upstream.
	transport := httpclient.NewTransport(cfg)
	geminiHTTP := httpclient.New(cfg, transport, m.InstrumentUpstream("gemini"))
	googleHTTP := httpclient.New(cfg, transport, m.InstrumentUpstream("google_oauth"))
	firestoreHTTP := httpclient.New(cfg, transport, m.InstrumentUpstream("firestore"))
	tripayHTTP := httpclient.New(cfg, transport, m.InstrumentUpstream("tripay"))

	deps, err := newDependencies(ctx, cfg, googleHTTP, firestoreHTTP, m, log)
	if err != nil {
		log.Error("failed to initialize dependencies", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer deps.Close()

	authMiddleware := auth.NewFirebaseAuthMiddleware(deps.validator, log)

	// Key pool shared by both AI endpoints, each with its own retry policy.
	pool := keypool.NewPool(cfg.Gemini.APIKeys)
	userKeyService := userkeys.NewService(deps.store)
	generateExec := keypool.NewExecutor(pool, keypool.PolicyFromConfig(cfg.Gemini.Generate), userKeyService, log, keypool.WithObserver(m))
	regenerateExec := keypool.NewExecutor(pool, keypool.PolicyFromConfig(cfg.Gemini.Regenerate), userKeyService, log, keypool.WithObserver(m))

	plannerHandler, err := planner.NewHandler(gemini.NewClient(cfg.Gemini, geminiHTTP, log), generateExec, regenerateExec, log)
	if err != nil {
		log.Error("failed to initialize planner", slog.String("error", err.Error()))
		os.Exit(1)
	}

	userKeysHandler := userkeys.NewHandler(userKeyService, log)
	tripayHandler := tripay.NewHandler(tripay.NewClient(cfg, tripayHTTP, log), deps.store, m, log)
	stripeHandler := stripe.NewHandler(stripe.NewService(cfg, deps.store, m, log), log)

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, log)

	// Background jobs
	jobs := scheduler.New(log)
	if deps.jwks != nil {
		if err := jobs.Add(jobJWKSRefresh, cfg.JWKSRefreshSchedule, deps.jwks.RefreshKeys); err != nil {
			log.Error("failed to schedule JWKS refresh", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	if deps.tokens != nil {
		prewarm := func(ctx context.Context) error {
			_, err := deps.tokens.TokenContext(ctx)
			return err
		}
		if err := jobs.Add(jobTokenPrewarm, cfg.TokenPrewarmSchedule, prewarm); err != nil {
			log.Error("failed to schedule token pre-warm", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if cfg.TokenPrewarmSchedule != "" {
			if err := jobs.RunNow(jobTokenPrewarm); err != nil {
				log.Warn("initial token pre-warm failed", slog.String("error", err.Error()))
			}
		}
	}
	if cfg.RateLimitEnabled {
		cleanup := func(context.Context) error {
			if n := limiter.Cleanup(limiterMaxIdle); n > 0 {
				log.Debug("evicted idle rate limiters", slog.Int("count", n))
			}
			return nil
		}
		if err := jobs.Add(jobLimiterGC, limiterCleanupSchedule, cleanup); err != nil {
			log.Error("failed to schedule rate limiter cleanup", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	jobs.Start()

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.RequestLoggingMiddleware(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := router.Group("/api")
	{
		api.GET("/config", clientconfig.Handler(clientconfig.FromConfig(cfg)))

		// AI endpoints: anonymous allowed, rate limited per user or IP.
		ai := api.Group("")
		ai.Use(authMiddleware.OptionalAuth())
		if cfg.RateLimitEnabled {
			ai.Use(limiter.Middleware())
		}
		{
			ai.POST("/generate", plannerHandler.Generate)
			ai.POST("/regenerate", plannerHandler.Regenerate)
		}

		api.POST("/save-key", authMiddleware.RequireAuth(), userKeysHandler.SaveKey)

		// Payments
		api.POST("/create-tripay-transaction", authMiddleware.OptionalAuth(), tripayHandler.CreateTransaction)
		api.POST("/tripay-webhook", tripayHandler.Webhook)
		api.POST("/stripe/checkout", authMiddleware.RequireAuth(), stripeHandler.CreateCheckoutSession)
		api.POST("/stripe/webhook", stripeHandler.HandleWebhook)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", logger.RequestIDHeader},
		ExposedHeaders: []string{logger.RequestIDHeader, "Retry-After"},
		MaxAge:         600,
	})

	port := ":" + cfg.Port
	srv := &http.Server{
		Addr:              port,
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("content planner proxy listening",
		slog.String("addr", port),
		slog.Int("gemini_keys", pool.Len()),
		slog.String("validator", cfg.ValidatorType),
		slog.String("docstore", cfg.DocstoreBackend),
		slog.Int("jobs", jobs.Len()))

	if cfg.RateLimitEnabled {
		log.Info("rate limiting enabled",
			slog.Float64("rps", cfg.RateLimitRPS),
			slog.Int("burst", cfg.RateLimitBurst))
	} else {
		log.Info("rate limiting disabled")
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := jobs.Stop(shutdownCtx); err != nil {
		log.Warn("background jobs did not stop in time", slog.String("error", err.Error()))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	log.Info("server exited")
}

func splitOrigins(value string) []string {
	var origins []string
	for _, origin := range strings.Split(value, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
