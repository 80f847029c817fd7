package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"auction-onchain/app"
	"auction-onchain/config"
	auctionHandler "auction-onchain/handler/auction"
	registryHandler "auction-onchain/handler/registry"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// --- 1. 初期設定 ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger(cfg.App.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. 依存性注入 ---
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	logger.Info("auction contract", zap.String("address", cfg.Contract.Address))

	// 初回の状態取得 (失敗してもサーバーは起動する)
	if _, err := a.Auction.RefreshStatus(ctx); err != nil {
		logger.Warn("initial status read failed", zap.Error(err))
	}

	// ブロック購読で状態を更新
	if a.SubscriptionsEnabled {
		if err := a.Auction.StartHeadListener(ctx); err != nil {
			logger.Warn("failed to start head listener", zap.Error(err))
		}
	}

	auctionHdlr := auctionHandler.NewAuctionHandler(a.Auction, logger.Named("http"))
	registryHdlr := registryHandler.NewRegistryHandler(a.Registry)

	// --- 3. ルーティングの設定 ---
	router := mux.NewRouter()

	// ヘルスチェック用エンドポイント
	health := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
	router.HandleFunc("/", health).Methods("GET")
	router.HandleFunc("/health", health).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	auctionHdlr.Register(router)
	registryHdlr.Register(router)

	// --- 4. CORSミドルウェアの設定 ---
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// --- 5. サーバー起動 ---
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: c.Handler(router),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("auction service starting",
		zap.Int("port", cfg.App.Port),
		zap.Strings("endpoints", []string{
			"GET  /health",
			"GET  /metrics",
			"GET  /api/v1/auction/status",
			"POST /api/v1/auction",
			"POST /api/v1/auction/bid",
			"POST /api/v1/auction/end",
			"POST /api/v1/auction/cancel",
			"GET  /api/v1/auction/timer (websocket)",
			"GET  /api/v1/contract/info",
			"POST /api/v1/contract/verify-tx",
			"GET  /api/v1/users",
			"POST /api/v1/users",
		}),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("could not start server", zap.Error(err))
	}
	logger.Info("server stopped")
}
