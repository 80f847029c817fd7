package usecase

import (
	"context"
	"math"
	"math/big"
	"strings"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"auction-onchain/gateway/contract"
	"auction-onchain/metrics"
	"auction-onchain/model"
	"auction-onchain/unit"
)

const statusCacheKey = "status"

// AuctionUsecase はオークション操作と表示用状態の取得を担当
type AuctionUsecase interface {
	// CreateAuction は実行中のオークションがなければ新しいオークションを開始する
	CreateAuction(ctx context.Context, req model.CreateAuctionRequest) (*model.ActionResult, error)

	// PlaceBid は登録済みユーザーとして入札する
	PlaceBid(ctx context.Context, req model.PlaceBidRequest) (*model.ActionResult, error)

	EndAuction(ctx context.Context) (*model.ActionResult, error)
	CancelAuction(ctx context.Context) (*model.ActionResult, error)

	// GetStatus はキャッシュ済みの状態を返す (期限切れならコントラクトから再取得)
	GetStatus(ctx context.Context) (*model.AuctionStatus, error)

	// RefreshStatus はキャッシュを使わずにコントラクトから状態を取得する
	RefreshStatus(ctx context.Context) (*model.AuctionStatus, error)

	// StartHeadListener は新しいブロックごとに状態を更新する
	StartHeadListener(ctx context.Context) error

	// TimerUpdates はカウントダウン表示の更新を購読する
	TimerUpdates() (<-chan string, func())

	VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error)
	ContractInfo() model.ContractInfo
}

// NameResolver はアドレスから表示名を引く
type NameResolver interface {
	Lookup(address string) (string, bool)
}

// Timer はカウントダウン表示
type Timer interface {
	Start(endTime int64)
	Stop()
	Text() string
	Subscribe() (<-chan string, func())
}

type Config struct {
	// Operator はオークションの作成・終了・取消を行うアカウント。空ならプロバイダの先頭アカウント
	Operator string
	// StatusTTL が 0 なら状態をキャッシュしない
	StatusTTL time.Duration
}

type auctionUsecase struct {
	gateway  contract.AuctionGateway
	names    NameResolver
	timer    Timer
	operator *common.Address
	ttl      time.Duration
	status   *cache.Cache[string, *model.AuctionStatus]
	logger   *zap.Logger
}

func NewAuctionUsecase(gw contract.AuctionGateway, names NameResolver, timer Timer, cfg Config, logger *zap.Logger) *auctionUsecase {
	uc := &auctionUsecase{
		gateway: gw,
		names:   names,
		timer:   timer,
		ttl:     cfg.StatusTTL,
		status:  cache.New[string, *model.AuctionStatus](),
		logger:  logger,
	}
	if cfg.Operator != "" {
		op := common.HexToAddress(cfg.Operator)
		uc.operator = &op
	}
	return uc
}

// operatorAccount は設定されたオペレーター、なければプロバイダの先頭アカウントを返す
func (uc *auctionUsecase) operatorAccount(ctx context.Context) (common.Address, error) {
	if uc.operator != nil {
		return *uc.operator, nil
	}
	accounts, err := uc.gateway.Accounts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, model.ErrNoAccounts
	}
	return accounts[0], nil
}

func (uc *auctionUsecase) CreateAuction(ctx context.Context, req model.CreateAuctionRequest) (*model.ActionResult, error) {
	from, err := uc.operatorAccount(ctx)
	if err != nil {
		return nil, err
	}

	active, err := uc.gateway.Active(ctx)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, model.ErrAuctionActive
	}

	minBid, err := unit.ToWei(req.MinBidEth)
	if err != nil {
		return nil, err
	}
	itemName := strings.TrimSpace(req.ItemName)
	duration := new(big.Int).SetUint64(req.Duration)

	hash, err := uc.gateway.StartAuction(ctx, from, itemName, minBid, duration)
	if err != nil {
		uc.logger.Error("auction creation failed", zap.Error(err))
		return nil, err
	}
	uc.logger.Info("auction created",
		zap.String("item", itemName),
		zap.String("min_bid_wei", minBid.String()),
		zap.Uint64("duration", req.Duration),
		zap.String("tx", hash.Hex()),
	)
	return uc.actionResult(ctx, hash, "Auction Created!"), nil
}

func (uc *auctionUsecase) PlaceBid(ctx context.Context, req model.PlaceBidRequest) (*model.ActionResult, error) {
	bidder := strings.TrimSpace(req.Bidder)
	if bidder == "" {
		return nil, model.ErrBidderNotSelected
	}
	name, ok := uc.names.Lookup(bidder)
	if !ok {
		return nil, errors.Wrap(model.ErrBidderNotRegistered, bidder)
	}

	value, err := unit.ToWei(req.AmountEth)
	if err != nil {
		return nil, err
	}

	hash, err := uc.gateway.PlaceBid(ctx, common.HexToAddress(bidder), value)
	if err != nil {
		uc.logger.Error("bid failed", zap.String("bidder", bidder), zap.Error(err))
		return nil, err
	}
	uc.logger.Info("bid placed",
		zap.String("bidder", name),
		zap.String("value_wei", value.String()),
		zap.String("tx", hash.Hex()),
	)
	return uc.actionResult(ctx, hash, "Bid placed by "+name+"!"), nil
}

func (uc *auctionUsecase) EndAuction(ctx context.Context) (*model.ActionResult, error) {
	from, err := uc.operatorAccount(ctx)
	if err != nil {
		return nil, err
	}
	hash, err := uc.gateway.EndAuction(ctx, from)
	if err != nil {
		uc.logger.Error("end auction failed", zap.Error(err))
		return nil, err
	}
	uc.logger.Info("auction ended", zap.String("tx", hash.Hex()))
	return uc.actionResult(ctx, hash, ""), nil
}

func (uc *auctionUsecase) CancelAuction(ctx context.Context) (*model.ActionResult, error) {
	from, err := uc.operatorAccount(ctx)
	if err != nil {
		return nil, err
	}
	hash, err := uc.gateway.CancelAuction(ctx, from)
	if err != nil {
		uc.logger.Error("cancel auction failed", zap.Error(err))
		return nil, err
	}
	uc.logger.Info("auction canceled", zap.String("tx", hash.Hex()))
	return uc.actionResult(ctx, hash, "Auction Canceled!"), nil
}

// actionResult は操作後に状態を再取得する。再取得の失敗はログのみ
func (uc *auctionUsecase) actionResult(ctx context.Context, hash common.Hash, message string) *model.ActionResult {
	result := &model.ActionResult{TxHash: hash.Hex(), Message: message}
	status, err := uc.RefreshStatus(ctx)
	if err != nil {
		uc.logger.Warn("status refresh after action failed", zap.Error(err))
		return result
	}
	result.Status = status
	return result
}

func (uc *auctionUsecase) GetStatus(ctx context.Context) (*model.AuctionStatus, error) {
	if uc.ttl > 0 {
		if s, ok := uc.status.Get(statusCacheKey); ok {
			metrics.ObserveStatusCache(true)
			return withTimer(s, uc.timer.Text()), nil
		}
		metrics.ObserveStatusCache(false)
	}
	return uc.RefreshStatus(ctx)
}

// InvalidateStatus はキャッシュ済みの状態を捨てる (表示名の登録時など)
func (uc *auctionUsecase) InvalidateStatus() {
	uc.status.Delete(statusCacheKey)
}

func (uc *auctionUsecase) RefreshStatus(ctx context.Context) (*model.AuctionStatus, error) {
	state, err := uc.readState(ctx)
	if err != nil {
		uc.status.Delete(statusCacheKey)
		return nil, err
	}

	if state.Active {
		uc.timer.Start(state.EndTime)
	} else {
		uc.timer.Stop()
	}

	status := uc.render(state)
	if uc.ttl > 0 {
		uc.status.Set(statusCacheKey, status, cache.WithExpiration(uc.ttl))
	}
	return withTimer(status, uc.timer.Text()), nil
}

// readState はコントラクトから表示に必要な値をすべて読み出す
func (uc *auctionUsecase) readState(ctx context.Context) (*model.AuctionState, error) {
	itemName, err := uc.gateway.ItemName(ctx)
	if err != nil {
		return nil, err
	}
	highestBid, err := uc.gateway.HighestBid(ctx)
	if err != nil {
		return nil, err
	}
	highestBidder, err := uc.gateway.HighestBidder(ctx)
	if err != nil {
		return nil, err
	}
	active, err := uc.gateway.Active(ctx)
	if err != nil {
		return nil, err
	}
	owner, err := uc.gateway.Owner(ctx)
	if err != nil {
		return nil, err
	}
	ownerBalance, err := uc.gateway.BalanceAt(ctx, owner)
	if err != nil {
		return nil, err
	}
	endTime, err := uc.gateway.EndTime(ctx)
	if err != nil {
		return nil, err
	}
	minBid, err := uc.gateway.MinBid(ctx)
	if err != nil {
		return nil, err
	}

	return &model.AuctionState{
		Active:        active,
		ItemName:      itemName,
		MinBid:        minBid,
		HighestBid:    highestBid,
		HighestBidder: highestBidder.Hex(),
		Owner:         owner.Hex(),
		OwnerBalance:  ownerBalance,
		EndTime:       unixSeconds(endTime),
	}, nil
}

// unixSeconds は uint256 の終了時刻を int64 に収める
func unixSeconds(v *big.Int) int64 {
	if v.Sign() <= 0 {
		return 0
	}
	if !v.IsInt64() {
		return math.MaxInt64
	}
	return v.Int64()
}

func (uc *auctionUsecase) render(state *model.AuctionState) *model.AuctionStatus {
	s := &model.AuctionStatus{
		Active:            state.Active,
		StatusText:        model.StatusTextEnded,
		ItemName:          model.NotAvailable,
		MinBidWei:         state.MinBid.String(),
		MinBid:            model.NotAvailable,
		HighestBidWei:     state.HighestBid.String(),
		HighestBid:        unit.FormatEth(state.HighestBid),
		HighestBidder:     state.HighestBidder,
		HighestBidderName: model.NoBidder,
		Owner:             state.Owner,
		OwnerBalance:      unit.FormatEth(state.OwnerBalance),
		EndTime:           uint64(state.EndTime),
	}
	if state.Active {
		s.StatusText = model.StatusTextActive
		s.ItemName = state.ItemName
		s.MinBid = unit.FormatEth(state.MinBid)
	}
	if name, ok := uc.names.Lookup(state.HighestBidder); ok {
		s.HighestBidderName = name
	}
	return s
}

// withTimer はキャッシュを書き換えないようコピーにタイマー表示を入れる
func withTimer(s *model.AuctionStatus, timer string) *model.AuctionStatus {
	out := *s
	out.Timer = timer
	return &out
}

func (uc *auctionUsecase) StartHeadListener(ctx context.Context) error {
	heads, err := uc.gateway.SubscribeHeads(ctx)
	if err != nil {
		return err
	}

	go func() {
		for block := range heads {
			if _, err := uc.RefreshStatus(ctx); err != nil {
				uc.logger.Warn("status refresh on new block failed", zap.Uint64("block", block), zap.Error(err))
				continue
			}
			uc.logger.Debug("status refreshed", zap.Uint64("block", block))
		}
		uc.logger.Info("head listener stopped")
	}()

	uc.logger.Info("head listener started")
	return nil
}

func (uc *auctionUsecase) TimerUpdates() (<-chan string, func()) {
	return uc.timer.Subscribe()
}

func (uc *auctionUsecase) VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error) {
	return uc.gateway.VerifyTransaction(ctx, txHash)
}

func (uc *auctionUsecase) ContractInfo() model.ContractInfo {
	return model.ContractInfo{
		Address: uc.gateway.GetContractAddress(),
		Methods: uc.gateway.Methods(),
	}
}
