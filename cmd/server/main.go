package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/defistream/aave-apy-monitor/cmd/server/internal/gateway"
	"github.com/defistream/aave-apy-monitor/cmd/server/internal/hub"
	"github.com/defistream/aave-apy-monitor/pkg/config"
	"github.com/defistream/aave-apy-monitor/pkg/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
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

	wsHub := hub.NewHub(st, logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		wsHub.Run(hubCtx)
		close(hubDone)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		gateway.NewClient(conn, wsHub, logger).Start()
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}
	go func() {
		logger.Info("WebSocket server started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutdown signal received")

	// Stop accepting new connections first, then close live sessions and
	// release the store subscription.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	stopHub()
	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
		logger.Warn("Hub did not drain in time")
	}

	if err := st.Close(); err != nil {
		logger.Error("Error closing store", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
