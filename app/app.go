// Package app は HTTP サーバーと CLI で共通の依存関係を組み立てる。
package app

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"auction-onchain/config"
	"auction-onchain/model"
	contractGateway "auction-onchain/gateway/contract"
	registryGateway "auction-onchain/gateway/registry"
	auctionUsecase "auction-onchain/usecase/auction"
	"auction-onchain/usecase/countdown"
	registryUsecase "auction-onchain/usecase/registry"
)

func Logger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		panic(err)
	}
	cfg.Level.SetLevel(lvl)

	lg, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return lg
}

type App struct {
	Auction  auctionUsecase.AuctionUsecase
	Registry registryUsecase.RegistryUsecase
	Timer    *countdown.Countdown

	// SubscriptionsEnabled は WebSocket 接続でブロック購読が可能か
	SubscriptionsEnabled bool

	closers []func() error
}

// Build は設定からコントラクトゲートウェイ・レジストリ・ユースケースを組み立てる
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{}

	// --- 1. ethclientの初期化 ---
	client, err := ethclient.DialContext(ctx, cfg.Node.URL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to node")
	}
	a.closers = append(a.closers, func() error { client.Close(); return nil })
	logger.Info("connected to node", zap.String("url", cfg.Node.URL))

	// WebSocket 接続 (ブロック購読用)。失敗しても HTTP で続行
	backend := client
	if cfg.Node.WSURL != "" {
		wsClient, err := ethclient.DialContext(ctx, cfg.Node.WSURL)
		if err != nil {
			logger.Warn("failed to connect websocket, head subscription disabled", zap.Error(err))
		} else {
			logger.Info("connected to node (websocket)", zap.String("url", cfg.Node.WSURL))
			a.closers = append(a.closers, func() error { wsClient.Close(); return nil })
			backend = wsClient
			a.SubscriptionsEnabled = true
		}
	}

	// --- 2. 送信者 (ローカル鍵 or ノード管理アカウント) ---
	var sender contractGateway.TxSender
	if len(cfg.Contract.PrivateKeys) > 0 {
		keyed, err := contractGateway.NewKeyedSender(client, cfg.Contract.PrivateKeys)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("using local signing keys", zap.Int("accounts", keyed.Len()))
		sender = keyed
	} else {
		logger.Info("using node-managed accounts")
		sender = contractGateway.NewNodeSender(client.Client())
	}

	// --- 3. コントラクトゲートウェイ ---
	parsedABI, err := contractGateway.LoadABI(cfg.Contract.ABIPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	gw, err := contractGateway.NewAuctionContractGateway(backend, sender, cfg.Contract.Address, parsedABI,
		contractGateway.WithReceiptTimeout(cfg.Contract.ReceiptTimeout),
		contractGateway.WithReceiptPollInterval(cfg.Contract.ReceiptPollInterval),
		contractGateway.WithLogger(logger.Named("contract")),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	// --- 4. レジストリ ---
	// ストアは操作中だけディレクトリをロックするので、サーバーと CLI で共有できる
	store, err := registryGateway.NewPebbleStore(cfg.Registry.DataDir,
		registryGateway.WithLockTimeout(cfg.Registry.LockTimeout))
	if err != nil {
		a.Close()
		return nil, err
	}

	registryUC, err := registryUsecase.NewRegistryUsecase(store, logger.Named("registry"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = registryUC

	// --- 5. オークション ---
	a.Timer = countdown.New(cfg.App.TimerInterval)
	a.closers = append(a.closers, func() error { a.Timer.Stop(); return nil })

	auctionUC := auctionUsecase.NewAuctionUsecase(gw, registryUC, a.Timer, auctionUsecase.Config{
		Operator:  cfg.Contract.Operator,
		StatusTTL: cfg.App.StatusCacheTTL,
	}, logger.Named("auction"))
	// 表示名が増えたら最高入札者の表示を作り直す
	registryUC.OnRegister(func(model.RegisteredUser) { auctionUC.InvalidateStatus() })
	a.Auction = auctionUC

	return a, nil
}

// Close は開いた資源を逆順に閉じる
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
