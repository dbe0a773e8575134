package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/config"
	"bugtracker.org/internal/httpapi"
	"bugtracker.org/internal/migrate"
	"bugtracker.org/internal/obs"
	"bugtracker.org/internal/store/mongodb"
	"bugtracker.org/internal/store/pg"
	"bugtracker.org/internal/tracker"
	"bugtracker.org/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.String("store", cfg.Store), zap.Error(err))
	}

	secret := []byte(cfg.AuthSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			logger.Fatal("generate auth secret", zap.Error(err))
		}
		logger.Warn("BUGTRACK_AUTH_SECRET not set; sessions will not survive a restart")
	}
	tokens, err := auth.NewTokenIssuer(secret, cfg.TokenTTL,
		auth.NewResolver(store.Roles(), logger.Named("roles")),
		auth.WithIssuer(cfg.AuthIssuer))
	if err != nil {
		logger.Fatal("token issuer", zap.Error(err))
	}

	api := httpapi.New(store, tokens, httpapi.Options{
		Logger:          logger,
		Version:         version,
		HashCost:        cfg.HashCost,
		CookieMaxAge:    cfg.CookieMaxAge,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitBurst:  cfg.RateLimitBurst,
		RateLimitPerSec: cfg.RateLimitPerSec,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("grpc listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
		}
		grpcServer = grpc.NewServer()
		health := httpapi.NewHealthService(httpapi.ReadyProbe{Store: store}, logger.Named("grpc"))
		health.Register(grpcServer)
		go health.Run(ctx, 10*time.Second)
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Error("grpc serve", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("starting bugtracker-api",
			zap.String("version", version),
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("close store", zap.Error(err))
	}
	logger.Info("stopped")
}

// openStore connects the configured backend and makes sure the role table exists.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (tracker.Store, error) {
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch cfg.Store {
	case config.StoreMongo:
		s, err := mongodb.Open(openCtx, cfg.MongoURL, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(openCtx, auth.BuiltinRoles); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return s, nil

	case config.StorePostgres:
		s, err := pg.Open(openCtx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		mgr := migrate.NewManager(s.DB(), migrations.FS, migrations.SQLDir, migrations.SeedsDir,
			migrate.WithLogger(logger.Named("migrate")))
		if _, err := mgr.Up(openCtx); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if _, err := mgr.Seed(openCtx); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("seed: %w", err)
		}
		return s, nil

	default:
		return tracker.NewInMemory(auth.BuiltinRoles...), nil
	}
}
