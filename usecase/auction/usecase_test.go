package usecase

import (
	"context"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auction-onchain/model"
	"auction-onchain/usecase/countdown"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bidder   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type sentTx struct {
	method   string
	from     common.Address
	value    *big.Int
	item     string
	minBid   *big.Int
	duration *big.Int
}

// fakeGateway はコントラクトの状態をメモリ上に持つ
type fakeGateway struct {
	active        bool
	itemName      string
	minBid        *big.Int
	highestBid    *big.Int
	highestBidder common.Address
	owner         common.Address
	ownerBalance  *big.Int
	endTime       *big.Int

	accounts []common.Address
	sendErr  error
	readErr  error
	reads    int
	sent     []sentTx
	heads    chan uint64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		minBid:       big.NewInt(0),
		highestBid:   big.NewInt(0),
		owner:        operator,
		ownerBalance: big.NewInt(0),
		endTime:      big.NewInt(0),
		accounts:     []common.Address{operator, bidder},
	}
}

func (f *fakeGateway) Active(ctx context.Context) (bool, error) {
	return f.active, f.readErr
}

func (f *fakeGateway) ItemName(ctx context.Context) (string, error) {
	f.reads++
	return f.itemName, f.readErr
}

func (f *fakeGateway) HighestBid(ctx context.Context) (*big.Int, error) {
	return f.highestBid, f.readErr
}

func (f *fakeGateway) HighestBidder(ctx context.Context) (common.Address, error) {
	return f.highestBidder, f.readErr
}

func (f *fakeGateway) Owner(ctx context.Context) (common.Address, error) {
	return f.owner, f.readErr
}

func (f *fakeGateway) EndTime(ctx context.Context) (*big.Int, error) {
	return f.endTime, f.readErr
}

func (f *fakeGateway) MinBid(ctx context.Context) (*big.Int, error) {
	return f.minBid, f.readErr
}

func (f *fakeGateway) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return f.ownerBalance, f.readErr
}

func (f *fakeGateway) Accounts(ctx context.Context) ([]common.Address, error) {
	if len(f.accounts) == 0 {
		return nil, model.ErrNoAccounts
	}
	return f.accounts, nil
}

func (f *fakeGateway) StartAuction(ctx context.Context, from common.Address, itemName string, minBid *big.Int, duration *big.Int) (common.Hash, error) {
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, sentTx{method: "startAuction", from: from, item: itemName, minBid: minBid, duration: duration})
	f.active = true
	f.itemName = itemName
	f.minBid = minBid
	f.endTime = big.NewInt(time.Now().Unix() + duration.Int64())
	return common.HexToHash("0x01"), nil
}

func (f *fakeGateway) PlaceBid(ctx context.Context, from common.Address, value *big.Int) (common.Hash, error) {
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, sentTx{method: "placeBid", from: from, value: value})
	f.highestBid = value
	f.highestBidder = from
	return common.HexToHash("0x02"), nil
}

func (f *fakeGateway) EndAuction(ctx context.Context, from common.Address) (common.Hash, error) {
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, sentTx{method: "endAuction", from: from})
	f.active = false
	f.ownerBalance = new(big.Int).Add(f.ownerBalance, f.highestBid)
	return common.HexToHash("0x03"), nil
}

func (f *fakeGateway) CancelAuction(ctx context.Context, from common.Address) (common.Hash, error) {
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, sentTx{method: "cancelAuction", from: from})
	f.active = false
	return common.HexToHash("0x04"), nil
}

func (f *fakeGateway) SubscribeHeads(ctx context.Context) (<-chan uint64, error) {
	if f.heads == nil {
		return nil, errors.New("notifications not supported")
	}
	return f.heads, nil
}

func (f *fakeGateway) VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error) {
	return &model.TxVerification{TxHash: txHash, Status: "success", Success: true}, nil
}

func (f *fakeGateway) GetContractAddress() string {
	return "0xCd657F9f590F11215a9e83E84cd0118263e5a3a0"
}

func (f *fakeGateway) Methods() []string {
	return []string{"active", "placeBid"}
}

type fakeNames map[string]string

func (f fakeNames) Lookup(address string) (string, bool) {
	name, ok := f[common.HexToAddress(address).Hex()]
	return name, ok
}

func newTestUsecase(gw *fakeGateway, cfg Config) (*auctionUsecase, *countdown.Countdown) {
	timer := countdown.New(time.Hour)
	names := fakeNames{bidder.Hex(): "bob"}
	return NewAuctionUsecase(gw, names, timer, cfg, zap.NewNop()), timer
}

func TestCreateAuction(t *testing.T) {
	gw := newFakeGateway()
	uc, timer := newTestUsecase(gw, Config{})
	defer timer.Stop()

	res, err := uc.CreateAuction(context.Background(), model.CreateAuctionRequest{
		ItemName:  " Vintage Guitar ",
		MinBidEth: "0.5",
		Duration:  3600,
	})
	require.NoError(t, err)
	assert.Equal(t, "Auction Created!", res.Message)
	assert.Equal(t, common.HexToHash("0x01").Hex(), res.TxHash)

	require.Len(t, gw.sent, 1)
	assert.Equal(t, operator, gw.sent[0].from)
	assert.Equal(t, "Vintage Guitar", gw.sent[0].item)
	assert.Equal(t, "500000000000000000", gw.sent[0].minBid.String())
	assert.Equal(t, int64(3600), gw.sent[0].duration.Int64())

	require.NotNil(t, res.Status)
	assert.True(t, res.Status.Active)
	assert.Equal(t, model.StatusTextActive, res.Status.StatusText)
	assert.Equal(t, "Vintage Guitar", res.Status.ItemName)
	assert.Equal(t, "0.5 ETH", res.Status.MinBid)
	assert.NotEqual(t, model.StatusTextEnded, res.Status.Timer)
	assert.True(t, timer.Running())
}

func TestCreateAuctionUsesConfiguredOperator(t *testing.T) {
	gw := newFakeGateway()
	gw.accounts = nil
	uc, timer := newTestUsecase(gw, Config{Operator: bidder.Hex()})
	defer timer.Stop()

	_, err := uc.CreateAuction(context.Background(), model.CreateAuctionRequest{ItemName: "x", MinBidEth: "1", Duration: 60})
	require.NoError(t, err)
	assert.Equal(t, bidder, gw.sent[0].from)
}

func TestCreateAuctionRejectsWhenActive(t *testing.T) {
	gw := newFakeGateway()
	gw.active = true
	uc, _ := newTestUsecase(gw, Config{})

	_, err := uc.CreateAuction(context.Background(), model.CreateAuctionRequest{ItemName: "x", MinBidEth: "1", Duration: 60})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAuctionActive))
	assert.Empty(t, gw.sent)
}

func TestCreateAuctionInvalidAmount(t *testing.T) {
	gw := newFakeGateway()
	uc, _ := newTestUsecase(gw, Config{})

	_, err := uc.CreateAuction(context.Background(), model.CreateAuctionRequest{ItemName: "x", MinBidEth: "abc", Duration: 60})
	assert.True(t, errors.Is(err, model.ErrInvalidAmount))
	assert.Empty(t, gw.sent)
}

func TestCreateAuctionNoAccounts(t *testing.T) {
	gw := newFakeGateway()
	gw.accounts = nil
	uc, _ := newTestUsecase(gw, Config{})

	_, err := uc.CreateAuction(context.Background(), model.CreateAuctionRequest{ItemName: "x", MinBidEth: "1"})
	assert.True(t, errors.Is(err, model.ErrNoAccounts))
}

func TestPlaceBid(t *testing.T) {
	gw := newFakeGateway()
	gw.active = true
	gw.endTime = big.NewInt(time.Now().Add(time.Hour).Unix())
	uc, timer := newTestUsecase(gw, Config{})
	defer timer.Stop()

	res, err := uc.PlaceBid(context.Background(), model.PlaceBidRequest{
		Bidder:    bidder.Hex(),
		AmountEth: "1.25",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bid placed by bob!", res.Message)

	require.Len(t, gw.sent, 1)
	assert.Equal(t, bidder, gw.sent[0].from)
	assert.Equal(t, "1250000000000000000", gw.sent[0].value.String())

	assert.Equal(t, "1.25 ETH", res.Status.HighestBid)
	assert.Equal(t, "bob", res.Status.HighestBidderName)
	assert.Equal(t, bidder.Hex(), res.Status.HighestBidder)
}

func TestPlaceBidValidation(t *testing.T) {
	gw := newFakeGateway()
	uc, _ := newTestUsecase(gw, Config{})
	ctx := context.Background()

	_, err := uc.PlaceBid(ctx, model.PlaceBidRequest{Bidder: " ", AmountEth: "1"})
	assert.True(t, errors.Is(err, model.ErrBidderNotSelected))

	_, err = uc.PlaceBid(ctx, model.PlaceBidRequest{Bidder: operator.Hex(), AmountEth: "1"})
	assert.True(t, errors.Is(err, model.ErrBidderNotRegistered))

	_, err = uc.PlaceBid(ctx, model.PlaceBidRequest{Bidder: bidder.Hex(), AmountEth: ""})
	assert.True(t, errors.Is(err, model.ErrInvalidAmount))

	assert.Empty(t, gw.sent)
}

func TestPlaceBidSurfacesRawError(t *testing.T) {
	gw := newFakeGateway()
	gw.sendErr = errors.New("execution reverted: Bid must be higher than current highest bid")
	uc, _ := newTestUsecase(gw, Config{})

	_, err := uc.PlaceBid(context.Background(), model.PlaceBidRequest{Bidder: bidder.Hex(), AmountEth: "1"})
	require.Error(t, err)
	assert.Equal(t, "execution reverted: Bid must be higher than current highest bid", err.Error())
}

func TestEndAuction(t *testing.T) {
	gw := newFakeGateway()
	gw.active = true
	gw.itemName = "Painting"
	gw.highestBid = big.NewInt(2e18)
	gw.highestBidder = bidder
	gw.endTime = big.NewInt(time.Now().Add(time.Hour).Unix())
	uc, timer := newTestUsecase(gw, Config{})

	_, err := uc.RefreshStatus(context.Background())
	require.NoError(t, err)
	require.True(t, timer.Running())

	res, err := uc.EndAuction(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Message)
	assert.Equal(t, operator, gw.sent[0].from)

	s := res.Status
	require.NotNil(t, s)
	assert.False(t, s.Active)
	assert.Equal(t, model.StatusTextEnded, s.StatusText)
	assert.Equal(t, model.NotAvailable, s.ItemName)
	assert.Equal(t, model.NotAvailable, s.MinBid)
	assert.Equal(t, "2 ETH", s.OwnerBalance)
	assert.Equal(t, model.StatusTextEnded, s.Timer)
	assert.False(t, timer.Running())
}

func TestCancelAuction(t *testing.T) {
	gw := newFakeGateway()
	gw.active = true
	uc, _ := newTestUsecase(gw, Config{})

	res, err := uc.CancelAuction(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Auction Canceled!", res.Message)
	assert.Equal(t, "cancelAuction", gw.sent[0].method)
	assert.False(t, res.Status.Active)
}

func TestActionSucceedsWhenRefreshFails(t *testing.T) {
	gw := newFakeGateway()
	uc, _ := newTestUsecase(gw, Config{})

	gw.readErr = nil
	gw.active = true
	res, err := uc.CancelAuction(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Status)

	gw.readErr = errors.New("connection refused")
	res, err = uc.EndAuction(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Status)
	assert.NotEmpty(t, res.TxHash)
}

func TestStatusWithoutBidder(t *testing.T) {
	gw := newFakeGateway()
	uc, _ := newTestUsecase(gw, Config{})

	s, err := uc.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.NoBidder, s.HighestBidderName)
	assert.Equal(t, "0 ETH", s.HighestBid)
	assert.Equal(t, model.StatusTextEnded, s.Timer)
}

func TestGetStatusUsesCache(t *testing.T) {
	gw := newFakeGateway()
	uc, _ := newTestUsecase(gw, Config{StatusTTL: time.Minute})
	ctx := context.Background()

	_, err := uc.GetStatus(ctx)
	require.NoError(t, err)
	_, err = uc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, gw.reads)

	_, err = uc.RefreshStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, gw.reads)
}

func TestGetStatusWithoutCache(t *testing.T) {
	gw := newFakeGateway()
	uc, _ := newTestUsecase(gw, Config{})
	ctx := context.Background()

	_, err := uc.GetStatus(ctx)
	require.NoError(t, err)
	_, err = uc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, gw.reads)
}

func TestGetStatusReadError(t *testing.T) {
	gw := newFakeGateway()
	gw.readErr = errors.New("dial tcp: connection refused")
	uc, _ := newTestUsecase(gw, Config{StatusTTL: time.Minute})

	_, err := uc.GetStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStartHeadListenerRefreshes(t *testing.T) {
	gw := newFakeGateway()
	gw.heads = make(chan uint64)
	uc, _ := newTestUsecase(gw, Config{StatusTTL: time.Minute})

	require.NoError(t, uc.StartHeadListener(context.Background()))
	gw.heads <- 10
	gw.heads <- 11
	close(gw.heads)

	require.Eventually(t, func() bool {
		s, ok := uc.status.Get(statusCacheKey)
		return ok && s != nil
	}, time.Second, time.Millisecond)
}

func TestStartHeadListenerError(t *testing.T) {
	gw := newFakeGateway()
	uc, _ := newTestUsecase(gw, Config{})
	require.Error(t, uc.StartHeadListener(context.Background()))
}

func TestContractInfo(t *testing.T) {
	uc, _ := newTestUsecase(newFakeGateway(), Config{})
	info := uc.ContractInfo()
	assert.Equal(t, "0xCd657F9f590F11215a9e83E84cd0118263e5a3a0", info.Address)
	assert.Equal(t, []string{"active", "placeBid"}, info.Methods)
}

func TestRefreshStatusClampsFarEndTime(t *testing.T) {
	for _, endTime := range []*big.Int{
		new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1)),
		new(big.Int).Lsh(big.NewInt(1), 63),
	} {
		gw := newFakeGateway()
		gw.active = true
		gw.endTime = endTime
		uc, timer := newTestUsecase(gw, Config{})

		s, err := uc.RefreshStatus(context.Background())
		require.NoError(t, err)
		assert.True(t, s.Active)
		assert.Equal(t, uint64(math.MaxInt64), s.EndTime, endTime.String())
		assert.NotEqual(t, model.StatusTextEnded, s.Timer, endTime.String())
		assert.NotContains(t, s.Timer, "-", endTime.String())
		assert.True(t, timer.Running())
		timer.Stop()
	}
}

func TestInvalidateStatusPicksUpNewName(t *testing.T) {
	gw := newFakeGateway()
	gw.highestBidder = operator
	names := fakeNames{}
	timer := countdown.New(time.Hour)
	defer timer.Stop()
	uc := NewAuctionUsecase(gw, names, timer, Config{StatusTTL: time.Hour}, zap.NewNop())
	ctx := context.Background()

	s, err := uc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.NoBidder, s.HighestBidderName)

	names[operator.Hex()] = "alice"
	s, err = uc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.NoBidder, s.HighestBidderName)

	uc.InvalidateStatus()
	s, err = uc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", s.HighestBidderName)
}
