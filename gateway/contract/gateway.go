package contract

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"auction-onchain/metrics"
	"auction-onchain/model"
)

const (
	defaultReceiptTimeout      = 2 * time.Minute
	defaultReceiptPollInterval = time.Second
)

// Backend はチェーンへの読み取りアクセス (*ethclient.Client が満たす)
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// AuctionGateway はオークションコントラクトとの連携を担当
type AuctionGateway interface {
	Active(ctx context.Context) (bool, error)
	ItemName(ctx context.Context) (string, error)
	HighestBid(ctx context.Context) (*big.Int, error)
	HighestBidder(ctx context.Context) (common.Address, error)
	Owner(ctx context.Context) (common.Address, error)
	EndTime(ctx context.Context) (*big.Int, error)
	MinBid(ctx context.Context) (*big.Int, error)

	// BalanceAt はアカウントの残高 (wei) を返す
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)

	// Accounts はプロバイダが管理するアカウントを返す
	Accounts(ctx context.Context) ([]common.Address, error)

	StartAuction(ctx context.Context, from common.Address, itemName string, minBid *big.Int, duration *big.Int) (common.Hash, error)
	PlaceBid(ctx context.Context, from common.Address, value *big.Int) (common.Hash, error)
	EndAuction(ctx context.Context, from common.Address) (common.Hash, error)
	CancelAuction(ctx context.Context, from common.Address) (common.Hash, error)

	// SubscribeHeads は新しいブロック番号を購読
	SubscribeHeads(ctx context.Context) (<-chan uint64, error)

	// VerifyTransaction はトランザクションを検証
	VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error)

	GetContractAddress() string
	Methods() []string
}

type Option func(o *Options)

type Options struct {
	receiptTimeout      time.Duration
	receiptPollInterval time.Duration
	logger              *zap.Logger
}

func WithReceiptTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.receiptTimeout = d
	}
}

func WithReceiptPollInterval(d time.Duration) Option {
	return func(o *Options) {
		o.receiptPollInterval = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.logger = l
	}
}

// AuctionContractGateway はオークションコントラクトとの連携実装
type AuctionContractGateway struct {
	backend         Backend
	sender          TxSender
	contractAddress common.Address
	contractABI     abi.ABI
	receiptTimeout  time.Duration
	pollInterval    time.Duration
	logger          *zap.Logger
}

// NewAuctionContractGateway は新しいコントラクトゲートウェイを作成
func NewAuctionContractGateway(backend Backend, sender TxSender, contractAddr string, contractABI abi.ABI, opts ...Option) (*AuctionContractGateway, error) {
	o := Options{
		receiptTimeout:      defaultReceiptTimeout,
		receiptPollInterval: defaultReceiptPollInterval,
		logger:              zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if !common.IsHexAddress(contractAddr) {
		return nil, errors.Errorf("invalid contract address %q", contractAddr)
	}
	contractAddress := common.HexToAddress(contractAddr)
	if contractAddress == (common.Address{}) {
		o.logger.Warn("contract address is the zero address")
	}

	for _, name := range RequiredMethods {
		if _, ok := contractABI.Methods[name]; !ok {
			return nil, errors.Errorf("ABI is missing method %s", name)
		}
	}
	o.logger.Info("auction contract gateway initialized",
		zap.String("contract", contractAddress.Hex()),
		zap.Int("methods", len(contractABI.Methods)),
	)

	return &AuctionContractGateway{
		backend:         backend,
		sender:          sender,
		contractAddress: contractAddress,
		contractABI:     contractABI,
		receiptTimeout:  o.receiptTimeout,
		pollInterval:    o.receiptPollInterval,
		logger:          o.logger,
	}, nil
}

func (g *AuctionContractGateway) GetContractAddress() string {
	return g.contractAddress.Hex()
}

// Methods は ABI に含まれる関数名をソートして返す
func (g *AuctionContractGateway) Methods() []string {
	names := make([]string, 0, len(g.contractABI.Methods))
	for name := range g.contractABI.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ===============================================
// 読み取り (view) 呼び出し
// ===============================================

func (g *AuctionContractGateway) call(ctx context.Context, method string) (out []interface{}, err error) {
	start := time.Now()
	defer func() { metrics.ObserveContractCall(method, start, err) }()

	data, err := g.contractABI.Pack(method)
	if err != nil {
		return nil, err
	}
	result, err := g.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &g.contractAddress,
		Data: data,
	}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s", method)
	}
	out, err = g.contractABI.Unpack(method, result)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("%s returned no values", method)
	}
	return out, nil
}

func view[T any](ctx context.Context, g *AuctionContractGateway, method string) (T, error) {
	var zero T
	out, err := g.call(ctx, method)
	if err != nil {
		return zero, err
	}
	v, ok := out[0].(T)
	if !ok {
		return zero, errors.Errorf("unexpected %s output type %T", method, out[0])
	}
	return v, nil
}

func (g *AuctionContractGateway) Active(ctx context.Context) (bool, error) {
	return view[bool](ctx, g, "active")
}

func (g *AuctionContractGateway) ItemName(ctx context.Context) (string, error) {
	return view[string](ctx, g, "itemName")
}

func (g *AuctionContractGateway) HighestBid(ctx context.Context) (*big.Int, error) {
	return view[*big.Int](ctx, g, "highestBid")
}

func (g *AuctionContractGateway) HighestBidder(ctx context.Context) (common.Address, error) {
	return view[common.Address](ctx, g, "highestBidder")
}

func (g *AuctionContractGateway) Owner(ctx context.Context) (common.Address, error) {
	return view[common.Address](ctx, g, "owner")
}

func (g *AuctionContractGateway) EndTime(ctx context.Context) (*big.Int, error) {
	return view[*big.Int](ctx, g, "endTime")
}

func (g *AuctionContractGateway) MinBid(ctx context.Context) (*big.Int, error) {
	return view[*big.Int](ctx, g, "minBid")
}

func (g *AuctionContractGateway) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := g.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "balance of %s", account.Hex())
	}
	return balance, nil
}

func (g *AuctionContractGateway) Accounts(ctx context.Context) ([]common.Address, error) {
	accounts, err := g.sender.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, model.ErrNoAccounts
	}
	return accounts, nil
}

// ===============================================
// トランザクション送信
// ===============================================

func (g *AuctionContractGateway) StartAuction(ctx context.Context, from common.Address, itemName string, minBid *big.Int, duration *big.Int) (common.Hash, error) {
	return g.transact(ctx, from, nil, "startAuction", itemName, minBid, duration)
}

func (g *AuctionContractGateway) PlaceBid(ctx context.Context, from common.Address, value *big.Int) (common.Hash, error) {
	return g.transact(ctx, from, value, "placeBid")
}

func (g *AuctionContractGateway) EndAuction(ctx context.Context, from common.Address) (common.Hash, error) {
	return g.transact(ctx, from, nil, "endAuction")
}

func (g *AuctionContractGateway) CancelAuction(ctx context.Context, from common.Address) (common.Hash, error) {
	return g.transact(ctx, from, nil, "cancelAuction")
}

func (g *AuctionContractGateway) transact(ctx context.Context, from common.Address, value *big.Int, method string, args ...interface{}) (hash common.Hash, err error) {
	start := time.Now()
	defer func() { metrics.ObserveContractCall(method, start, err) }()

	data, err := g.contractABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, errors.Wrapf(err, "pack %s", method)
	}

	// 送信前に eth_call で実行し、revert 理由をそのまま返す
	msg := ethereum.CallMsg{
		From:  from,
		To:    &g.contractAddress,
		Value: value,
		Data:  data,
	}
	if _, err := g.backend.CallContract(ctx, msg, nil); err != nil {
		return common.Hash{}, errors.Wrap(err, method)
	}

	hash, err = g.sender.Send(ctx, TxRequest{
		From:  from,
		To:    g.contractAddress,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, method)
	}
	g.logger.Info("transaction sent",
		zap.String("method", method),
		zap.String("from", from.Hex()),
		zap.String("tx", hash.Hex()),
	)

	receipt, err := g.waitReceipt(ctx, hash)
	if err != nil {
		return hash, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, errors.Errorf("%s: transaction %s reverted", method, hash.Hex())
	}
	g.logger.Info("transaction mined",
		zap.String("method", method),
		zap.String("tx", hash.Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	return hash, nil
}

// waitReceipt はレシートが取得できるまでポーリングする
func (g *AuctionContractGateway) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, errors.Wrapf(err, "receipt of %s", hash.Hex())
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "waiting for receipt of %s", hash.Hex())
		case <-ticker.C:
		}
	}
}

// ===============================================
// ブロック購読・トランザクション検証
// ===============================================

// SubscribeHeads は新しいブロックを WebSocket 経由で購読
func (g *AuctionContractGateway) SubscribeHeads(ctx context.Context) (<-chan uint64, error) {
	// 接続テスト: 最新ブロックを取得して接続を確認
	header, err := g.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "connection test failed")
	}
	g.logger.Info("connection test passed", zap.Uint64("latest_block", header.Number.Uint64()))

	heads := make(chan *types.Header)
	sub, err := g.backend.SubscribeNewHead(ctx, heads)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe new heads")
	}

	out := make(chan uint64, 16)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				g.logger.Info("context cancelled, stopping head subscription")
				return
			case err := <-sub.Err():
				g.logger.Error("head subscription error", zap.Error(err))
				return
			case h := <-heads:
				select {
				case out <- h.Number.Uint64():
				default:
					// 受信側が遅い場合は古い通知を捨てる
				}
			}
		}
	}()
	return out, nil
}

// VerifyTransaction は送信済みトランザクションの状態と宛先を確認する。
// ハッシュは 0x 付き 32 バイトのみ受け付ける
func (g *AuctionContractGateway) VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error) {
	raw, err := hexutil.Decode(txHash)
	if err != nil || len(raw) != common.HashLength {
		return nil, errors.Wrapf(model.ErrInvalidTxHash, "%q", txHash)
	}
	hash := common.BytesToHash(raw)

	tx, isPending, err := g.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup transaction %s", hash.Hex())
	}
	v := &model.TxVerification{
		TxHash:         hash.Hex(),
		Status:         "pending",
		IsContractCall: tx.To() != nil && *tx.To() == g.contractAddress,
	}
	if isPending {
		return v, nil
	}

	receipt, err := g.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "receipt of %s", hash.Hex())
	}
	v.BlockNumber = receipt.BlockNumber.Uint64()
	v.GasUsed = receipt.GasUsed
	v.Success = receipt.Status == types.ReceiptStatusSuccessful
	v.Status = "failed"
	if v.Success {
		v.Status = "success"
	}
	return v, nil
}
