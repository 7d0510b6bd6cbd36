package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.mongodb.org/mongo-driver/mongo"

	echoapi "github.com/pitlane-app/identity/api/echo"
	"github.com/pitlane-app/identity/cache"
	cacheredis "github.com/pitlane-app/identity/cache/redis"
	"github.com/pitlane-app/identity/config"
	"github.com/pitlane-app/identity/internal/audit"
	"github.com/pitlane-app/identity/internal/auth"
	"github.com/pitlane-app/identity/internal/metrics"
	"github.com/pitlane-app/identity/internal/sessiontoken"
	"github.com/pitlane-app/identity/internal/verify"
	"github.com/pitlane-app/identity/log"
	"github.com/pitlane-app/identity/mongodb"
	"github.com/pitlane-app/identity/services"
	"github.com/pitlane-app/identity/tracing"
)

var (
	appLogger      log.Logger
	httpServer     *http.Server
	tracerProvider *sdktrace.TracerProvider
)

// dbPinger adapts the Mongo handle to the health endpoint.
type dbPinger struct {
	db *mongo.Database
}

func (p dbPinger) Ping(ctx context.Context) error {
	return mongodb.Ping(ctx, p.db)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
		bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLogger.Warn().
			Str("configured_log_level", cfg.LogLevel).
			Err(parseErr).
			Msg("Invalid LOG_LEVEL configured, defaulting to 'info'")
	}
	appLogger = log.NewZerologAdapter(logLevel, cfg.LogPretty)
	appLogger.Info(context.Background(), "Starting identity server...", map[string]any{
		"http_port":     cfg.HTTPPort,
		"mongo_db_name": cfg.MongoDBName,
		"log_level":     cfg.LogLevel,
		"otel_service":  cfg.OtelServiceName,
	})

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		appLogger.Fatal(context.Background(), "Failed to initialize TracerProvider", err)
	}
	tracerProvider = tp

	registry := prometheus.NewRegistry()
	metrics.Init(registry)

	ctx := context.Background()
	db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to connect to MongoDB", err)
	}

	userRepo, err := mongodb.NewUserRepository(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize UserRepository", err)
	}

	var auditSink audit.Sink
	if cfg.AuditRetentionDays < 0 {
		auditSink = audit.NewLoggerSink()
		appLogger.Info(ctx, "Audit entries go to the structured log only")
	} else {
		mongoSink, err := mongodb.NewAuditSink(ctx, db, time.Duration(cfg.AuditRetentionDays)*24*time.Hour)
		if err != nil {
			appLogger.Fatal(ctx, "Failed to initialize AuditSink", err)
		}
		auditSink = mongoSink
	}

	var sessionStore cache.SessionStore
	var memStore *cache.MemorySessionStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Fatal(ctx, "Failed to connect to Redis", err)
		}
		sessionStore = cacheredis.NewSessionStore(rdb, "identity")
		appLogger.Info(ctx, "Using Redis session store", map[string]any{"addr": cfg.RedisAddr})
	} else {
		memStore = cache.NewMemorySessionStore()
		sessionStore = memStore
		appLogger.Info(ctx, "Using in-process session store")
	}

	verifiers := verify.NewRegistry(0)
	verifiers.Register(verify.NewGoogleVerifier())
	verifiers.Register(verify.NewAppleVerifier())
	verifiers.Register(verify.NewFacebookVerifier())
	verifiers.Register(verify.NewGitHubVerifier())

	minter := sessiontoken.NewMinter(cfg.JWTIssuer, []byte(cfg.JWTSecretKey),
		time.Duration(cfg.SessionTokenTTLMin)*time.Minute)
	hasher := auth.NewBcryptPasswordHasher(cfg.BcryptCost)

	identitySvc := services.NewIdentityService(
		userRepo, verifiers, minter, sessionStore, hasher, auditSink, appLogger)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	identityAPI := echoapi.NewIdentityAPI(identitySvc, dbPinger{db: db}, registry)
	identityAPI.RegisterRoutes(e)

	httpServer = &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLogger.Info(context.Background(), fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(context.Background(), "Failed to start HTTP server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit

	appLogger.Info(context.Background(), fmt.Sprintf("Received signal: %v. Shutting down server...", receivedSignal))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
		}
	}

	if memStore != nil {
		memStore.Stop()
	}

	mongodb.Disconnect(shutdownCtx, db)
	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}
