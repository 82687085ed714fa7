package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/defistream/aave-apy-monitor/cmd/listener/internal/archive"
	"github.com/defistream/aave-apy-monitor/cmd/listener/internal/chain"
	"github.com/defistream/aave-apy-monitor/cmd/listener/internal/listener"
	"github.com/defistream/aave-apy-monitor/pkg/config"
	"github.com/defistream/aave-apy-monitor/pkg/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if err := cfg.RequireChain(); err != nil {
		panic(fmt.Sprintf("Invalid config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	st := store.NewRedisStore(rdb)

	var archiver listener.Archiver
	if len(cfg.Kafka.Brokers) > 0 {
		ka := archive.NewKafkaArchiver(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer ka.Close()
		archiver = ka
		logger.Info("Update archive enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	source := chain.NewClient(cfg.Chain.WsURL, cfg.Chain.ReconnectDelay, cfg.Chain.MaxReconnects, logger)
	svc := listener.NewService(source, st, archiver, cfg.Chain.QueryTimeout, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		logger.Info("Shutdown signal received, stopping listener...")
		cancel()
	}()

	logger.Info("Starting blockchain listener service")
	if err := svc.Run(ctx); err != nil {
		st.Close()
		logger.Fatal("Listener failed", zap.Error(err))
	}

	if err := st.Close(); err != nil {
		logger.Error("Error closing store", zap.Error(err))
	}
	logger.Info("Listener exited cleanly")
}
