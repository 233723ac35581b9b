package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/cache"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/controller"
	gatewaygrpc "github.com/vibast-solutions/ms-go-stats-gateway/app/grpc"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/middleware"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/quota"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/repository"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/service"
	"github.com/vibast-solutions/ms-go-stats-gateway/config"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  `Start both HTTP (Echo) and gRPC servers for the stats gateway.`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type gateway struct {
	resolver service.IdentityResolver
	limiter  service.RateLimiter
	recorder service.UsageRecorder
	health   *controller.HealthController
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	redisClient, err := openRedis(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure redis")
	}
	defer redisClient.Close()

	apiKeyRepo := repository.NewAPIKeyRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	usageRepo := repository.NewUsageLogRepository(db)
	codec := newCodec(cfg)

	var resolver service.IdentityResolver = service.NewIdentityResolver(apiKeyRepo, subscriptionRepo, codec, cfg.DBQueryTimeout)
	if cfg.IdentityCacheTTL > 0 {
		identityCache := cache.NewIdentityCache(resolver, codec, cfg.IdentityCacheTTL)
		defer identityCache.Stop()

		subscriber, err := cache.Subscribe(ctx, redisClient, cfg.InvalidationChannel, identityCache)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to subscribe to API key invalidations")
		}
		defer subscriber.Close()

		resolver = identityCache
		logrus.WithField("ttl", cfg.IdentityCacheTTL.String()).Info("Identity cache enabled")
	}

	store := quota.NewRedisStore(redisClient, quota.Options{
		Timeout:         cfg.Quota.StoreTimeout,
		BreakerFailures: cfg.Quota.BreakerFailures,
		BreakerCooldown: cfg.Quota.BreakerCooldown,
	})
	if err := store.Ping(ctx); err != nil {
		logrus.WithError(err).WithField("failure_policy", cfg.Quota.FailurePolicy).Warn("Quota store unreachable at startup")
	}

	recorder := service.NewUsageRecorder(usageRepo, service.UsageOptions{
		QueueSize:    cfg.Usage.QueueSize,
		Workers:      cfg.Usage.Workers,
		WriteTimeout: cfg.Usage.WriteTimeout,
	})

	gw := &gateway{
		resolver: resolver,
		limiter:  service.NewRateLimiter(store, cfg.Quota.FailOpen()),
		recorder: recorder,
		health: controller.NewHealthController(cfg.DBQueryTimeout,
			controller.ReadinessCheck{Name: "mysql", Check: db.PingContext},
			controller.ReadinessCheck{Name: "redis", Check: store.Ping},
		),
	}

	e, err := newHTTPServer(cfg, gw)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure HTTP server")
	}
	grpcServer := gatewaygrpc.NewServer(gatewaygrpc.NewGuard(gw.resolver, gw.limiter, gw.recorder))

	errCh := make(chan error, 2)
	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		grpcAddr := net.JoinHostPort(cfg.GRPCHost, cfg.GRPCPort)
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			errCh <- err
			return
		}
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logrus.Info("Shutdown signal received")
	case err := <-errCh:
		logrus.WithError(err).Error("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Failed to shut down HTTP server")
	}
	grpcServer.Shutdown()
	if err := recorder.Close(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Usage recorder did not drain before shutdown")
	}
	logrus.Info("Stats gateway stopped")
}

func newHTTPServer(cfg *config.Config, gw *gateway) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, middleware.HeaderAPIKey},
		ExposeHeaders: []string{
			echo.HeaderXRequestID,
			middleware.HeaderRetryAfter,
			middleware.HeaderDegraded,
			"X-RateLimit-Limit-Minute", "X-RateLimit-Remaining-Minute", "X-RateLimit-Reset-Minute",
			"X-RateLimit-Limit-Hour", "X-RateLimit-Remaining-Hour", "X-RateLimit-Reset-Hour",
			"X-RateLimit-Limit-Day", "X-RateLimit-Remaining-Day", "X-RateLimit-Reset-Day",
		},
	}))

	e.GET("/health", gw.health.Health)
	e.GET("/ready", gw.health.Ready)
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	apiKeyMiddleware := middleware.NewAPIKeyMiddleware(gw.resolver, gw.limiter)
	usageMiddleware := middleware.NewUsageMiddleware(gw.recorder)
	rateLimitController := controller.NewRateLimitController(gw.limiter)

	api := e.Group("/api/v1", usageMiddleware.Record, apiKeyMiddleware.RequireAPIKey, apiKeyMiddleware.Admit)
	api.GET("/rate-limit", rateLimitController.Status)

	if cfg.UpstreamURL == "" {
		logrus.Warn("UPSTREAM_URL not set, admitted requests outside the gateway API return 404")
		return e, nil
	}

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, errors.New("UPSTREAM_URL must be an absolute URL")
	}
	proxy := echomiddleware.ProxyWithConfig(echomiddleware.ProxyConfig{
		Balancer: echomiddleware.NewRoundRobinBalancer([]*echomiddleware.ProxyTarget{{URL: upstream}}),
	})
	api.Any("/*", echo.NotFoundHandler, middleware.ForwardIdentity, proxy)
	logrus.WithField("upstream", upstream.String()).Info("Forwarding admitted requests")

	return e, nil
}
