package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/api"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/assistant"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/completion"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/conversation"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/identity"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/library"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/profile"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/quota"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/reconcile"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/session"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/storage"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/pkg/config"
	"go.uber.org/zap"
)

func newLogger(development bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openRemote(cfg config.DatabaseConfig, logger *zap.Logger) (storage.RemoteStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Host), zap.String("dbname", cfg.DBName))
		return storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.DBName,
			SSLMode:  cfg.SSLMode,
		}, logger)
	case config.DriverSQLite:
		logger.Info("Using SQLite storage", zap.String("path", cfg.SQLitePath))
		return storage.NewSQLiteStorage(cfg.SQLitePath, logger)
	default:
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	configPath := os.Getenv("VIRALYZE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		zap.NewExample().Fatal("Failed to load config", zap.Error(err), zap.String("path", configPath))
	}

	logger := newLogger(cfg.Log.Development)
	defer logger.Sync()

	local, err := storage.NewBoltStore(cfg.Local.Path)
	if err != nil {
		logger.Fatal("Failed to open local store", zap.Error(err), zap.String("path", cfg.Local.Path))
	}
	defer local.Close()

	remote, err := openRemote(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer remote.Close()

	ident, err := identity.New(identity.Config{
		Secret:    cfg.Identity.JWTSecret,
		Issuer:    cfg.Identity.Issuer,
		RevokeURL: cfg.Identity.RevokeURL,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize identity", zap.Error(err))
	}
	defer ident.Close()

	loc, err := cfg.Quota.Location()
	if err != nil {
		logger.Fatal("Invalid quota timezone", zap.Error(err))
	}

	sessions := session.NewManager(ident, local, reconcile.New(local, remote, logger), logger)
	quotas := quota.NewEngine(local, remote, sessions, logger, quota.WithLocation(loc))
	profiles := profile.NewService(local, remote, sessions, logger)
	lib := library.New(local, remote, sessions, logger)
	convs := conversation.NewManager(remote, local, sessions, logger)
	client := completion.NewClient(completion.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		ImageModel:  cfg.OpenAI.ImageModel,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
	}, logger)

	handler := api.NewRouter(&api.Handler{
		Sessions:      sessions,
		Quota:         quotas,
		Profiles:      profiles,
		Library:       lib,
		Conversations: convs,
		Assistant:     assistant.New(quotas, client, lib, profiles, convs, logger),
		Logger:        logger,
	}, cfg.Server.CORSOrigins)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sessions.Listen(ctx, ident.Events())

	// No WriteTimeout: chat and generate responses are long-lived streams.
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
}
