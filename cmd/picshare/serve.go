package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/picshare/internal/config"
	"github.com/jmerrifield20/picshare/internal/email"
	"github.com/jmerrifield20/picshare/internal/handler"
	"github.com/jmerrifield20/picshare/internal/health"
	"github.com/jmerrifield20/picshare/internal/identity"
	"github.com/jmerrifield20/picshare/internal/linking"
	"github.com/jmerrifield20/picshare/internal/oauth"
	"github.com/jmerrifield20/picshare/internal/session"
	"github.com/jmerrifield20/picshare/internal/tokencipher"
	"github.com/jmerrifield20/picshare/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := serve(ctx, cfg, logger); err != nil {
			logger.Error("picshare exited with error", zap.Error(err))
			return err
		}
		return nil
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// ── Database ─────────────────────────────────────────────────────────────
	db, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")
	store := users.NewPostgresStore(db)

	// ── Login state and browser sessions ─────────────────────────────────────
	sessCfg := session.Config{
		CookieName: cfg.Session.CookieName,
		Lifetime:   cfg.Session.Lifetime,
		Secure:     cfg.Session.Secure,
	}
	var (
		states oauth.StateStore
		rdb    *redis.Client
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis.url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("connected to redis")
		states = oauth.NewRedisStateStore(rdb)
		sessCfg.Store = session.NewRedisStore(rdb, "")
	} else {
		logger.Warn("redis.url not set: login state and sessions are kept in process memory; run a single replica")
		states = oauth.NewMemoryStateStore()
	}
	sessions := session.NewManager(sessCfg)

	// ── Session tokens ───────────────────────────────────────────────────────
	km := identity.NewKeyManager(cfg.Identity.KeyDir)
	if err := km.LoadOrCreate(); err != nil {
		return fmt.Errorf("signing key setup failed: %w", err)
	}
	issuer := identity.NewSessionIssuer(km.Key(), cfg.Identity.IssuerURL, cfg.Identity.TokenTTL)
	logger.Info("signing key ready",
		zap.String("key_dir", cfg.Identity.KeyDir),
		zap.String("kid", identity.KeyID(issuer.PublicKey())),
	)

	cipher, err := tokencipher.New(cfg.Crypto.TokenKey)
	if err != nil {
		return fmt.Errorf("token cipher: %w", err)
	}

	// ── Email ────────────────────────────────────────────────────────────────
	sender, err := newSender(ctx, cfg.Email, logger)
	if err != nil {
		return err
	}

	// ── OAuth providers ──────────────────────────────────────────────────────
	providers, err := oauth.NewProviders(cfg.OAuth.Providers())
	if err != nil {
		return fmt.Errorf("oauth providers: %w", err)
	}
	if len(providers) == 0 {
		logger.Warn("no OAuth provider configured; social login is disabled")
	}
	flow := oauth.NewFlow(providers, states, oauth.Options{
		StateTTL:    cfg.OAuth.StateTTL,
		HTTPTimeout: cfg.OAuth.HTTPTimeout,
	}, logger)
	logger.Info("oauth providers ready", zap.Strings("providers", flow.Providers()))

	// ── Services ─────────────────────────────────────────────────────────────
	userSvc := users.NewService(store, logger)
	linkSvc := linking.NewService(store, cipher, email.NewLinkNotifier(sender), logger)

	// ── Health ───────────────────────────────────────────────────────────────
	checker := health.New(health.Config{
		CheckInterval: cfg.Health.CheckInterval,
		ProbeTimeout:  cfg.OAuth.HTTPTimeout,
		FailThreshold: cfg.Health.FailThreshold,
	}, logger)
	checker.SetMetricsRecord(handler.RecordHealthCheck)
	checker.Add("postgres", db.Ping)
	if rdb != nil {
		checker.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	probeClient := &http.Client{Timeout: cfg.OAuth.HTTPTimeout}
	for name, p := range providers {
		checker.Add("oauth_"+name, health.HTTPProbe(probeClient, p.TokenURL()))
	}
	go checker.Start(ctx)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := cfg.Server.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})
	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	// Rate limiting covers the login, callback and link routes.
	var limited []gin.HandlerFunc
	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		limiter := handler.NewRateLimiter(rps, int(rps*2))
		go limiter.Run(ctx)
		limited = append(limited, limiter.Middleware())
	}

	router.GET("/healthz", handler.HealthHandler(checker))
	router.GET("/metrics", handler.MetricsHandler())
	router.GET("/.well-known/jwks.json", identity.JWKSHandler(issuer))

	root := router.Group("")
	handler.NewOAuthHandler(flow, linkSvc, sessions, issuer, handler.OAuthOptions{
		CallbackBaseURL:   cfg.OAuth.CallbackBaseURL,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		FrontendURL:       cfg.OAuth.FrontendURL,
	}, logger).Register(root, limited...)
	handler.NewLinkHandler(flow, linkSvc, issuer, userSvc, logger).Register(root, limited...)
	handler.NewAuthHandler(userSvc, issuer, logger).Register(root, limited...)

	// ── Server ───────────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("picshare HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down picshare...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("picshare stopped")
	return nil
}

// newSender selects the email transport for link notifications.
func newSender(ctx context.Context, cfg config.EmailConfig, logger *zap.Logger) (email.Sender, error) {
	switch cfg.Transport() {
	case "smtp":
		logger.Info("email: using SMTP", zap.String("host", cfg.SMTPHost), zap.Int("port", cfg.SMTPPort))
		return email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.FromAddress,
		}), nil
	case "ses":
		logger.Info("email: using Amazon SES", zap.String("region", cfg.Region))
		s, err := email.NewSESSender(ctx, cfg.Region, cfg.FromAddress)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "noop":
		logger.Info("email: no transport configured, notifications are logged only")
		return email.NewNoopSender(logger), nil
	}
	return nil, fmt.Errorf("unknown email.provider %q", cfg.Provider)
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
