package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/averix/toolgate/internal/config"
	"github.com/averix/toolgate/internal/logger"
	"github.com/averix/toolgate/internal/metrics"
	"github.com/averix/toolgate/internal/repository"
	"github.com/averix/toolgate/internal/server"
	"github.com/averix/toolgate/internal/storage"
	"github.com/averix/toolgate/internal/usage"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = zl.Sync()
	}()

	zl.Info("Starting toolgate",
		zap.String("env", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port))

	db, err := storage.Open(&cfg.Database)
	if err != nil {
		zl.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		zl.Fatal("Failed to run migrations", zap.Error(err))
	}

	redis, err := storage.NewRedisClient(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		zl.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()

	zl.Info("Connected to storage",
		zap.String("database", db.Driver()),
		zap.String("redis", cfg.Redis.Addr()))

	m := metrics.New()

	recorder := usage.NewRecorder(repository.NewUsageRecordRepository(db), zl, m, cfg.Usage)
	recorder.Start()

	srv, err := server.New(cfg, zl, db, redis, m, recorder)
	if err != nil {
		zl.Fatal("Failed to build server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed the admin account on first boot
	created, err := srv.AuthService().Bootstrap(ctx, cfg.Admin.Email, cfg.Admin.Password)
	if err != nil {
		zl.Fatal("Failed to bootstrap admin user", zap.Error(err))
	}
	if created {
		zl.Info("Bootstrap admin user created", zap.String("email", cfg.Admin.Email))
	}

	// Retention sweep for usage records and expired overrides
	go srv.UsageService().RunCleanupLoop(ctx, time.Hour)

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil {
			zl.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("Server forced to shutdown", zap.Error(err))
	}

	// Drain buffered usage records before the process goes away
	if err := recorder.Stop(shutdownCtx); err != nil {
		zl.Error("Usage recorder did not drain cleanly", zap.Error(err))
	}

	zl.Info("Server exited")
}
