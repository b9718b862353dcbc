package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dkurbatov/freightgate/internal/config"
	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/server"
	"github.com/dkurbatov/freightgate/internal/storage"
	"github.com/dkurbatov/freightgate/internal/telemetry"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFormat := "json"
	if cfg.Server.Environment != "production" {
		logFormat = "console"
	}
	logger, err := logging.New(logging.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: logFormat,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	tel := telemetry.New(cfg.Telemetry.Enabled, logger)

	redis, err := storage.NewRedis(
		cfg.Redis.GetRedisAddr(),
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		logger.Fatal("failed to connect to redis", logging.Error(err))
	}
	defer redis.Close()

	postgres, err := storage.NewPostgres(cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("failed to connect to postgres", logging.Error(err))
	}
	defer postgres.Close()

	if err := postgres.AutoMigrate(); err != nil {
		logger.Fatal("failed to run migrations", logging.Error(err))
	}

	srv, err := server.New(cfg, redis, postgres, logger, tel)
	if err != nil {
		logger.Fatal("failed to build server", logging.Error(err))
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", logging.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", logging.Error(err))
	}

	logger.Info("server exited")
}
