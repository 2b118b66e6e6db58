package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"codefusion/config"
	"codefusion/config/database"
	"codefusion/internal/account/repository"
	"codefusion/internal/account/service"
	"codefusion/internal/presence"
	"codefusion/middleware"
	"codefusion/pkg/logger"
	"codefusion/router"
	"codefusion/socket"
	"codefusion/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info")
		logger.Sugar.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Sugar.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		logger.Sugar.Fatalf("Failed to migrate database: %v", err)
	}

	var revoker store.Revoker = store.NewMemoryRevoker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Sugar.Fatalf("Could not connect to Redis at %s: %v", cfg.Redis.Addr, err)
		}
		revoker = store.NewRedisRevoker(rdb)
		logger.Sugar.Infof("Using Redis token revocation at %s", cfg.Redis.Addr)
	}

	auth := middleware.NewAuthenticator([]byte(cfg.Auth.JWTSecret), revoker)
	accounts := service.NewAccountService(repository.NewAccountRepository(db), auth, cfg.Auth.TokenTTL)

	hub := socket.NewHub(presence.NewRegistry(), socket.Options{
		SnapshotTimeout: cfg.Room.SnapshotTimeout,
		MaxMessageSize:  cfg.Server.MaxMessageSize,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router.Setup(db, hub, auth, accounts, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		logger.Sugar.Infof("Server listening on %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Sugar.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Sugar.Errorf("Server stopped: %v", err)
	}
}
