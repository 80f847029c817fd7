package usecase

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"auction-onchain/gateway/registry"
	"auction-onchain/metrics"
	"auction-onchain/model"
)

// RegistryUsecase はウォレットアドレスと表示名の対応を管理する
type RegistryUsecase interface {
	// Register はアドレスを表示名で登録する
	Register(ctx context.Context, username, address string) (*model.RegisteredUser, error)

	// List は登録順に一覧を返す
	List(ctx context.Context) []model.RegisteredUser

	// Lookup はアドレスに対応する表示名を返す
	Lookup(address string) (string, bool)
}

type registryUsecase struct {
	store  registry.RegistryStore
	logger *zap.Logger

	mu    sync.RWMutex
	users []model.RegisteredUser
	names map[common.Address]string
	hooks []func(model.RegisteredUser)
}

// NewRegistryUsecase は保存済みの一覧を読み込んで初期化する
func NewRegistryUsecase(store registry.RegistryStore, logger *zap.Logger) (*registryUsecase, error) {
	users, err := store.Load()
	if err != nil {
		return nil, err
	}
	uc := &registryUsecase{
		store:  store,
		logger: logger,
	}
	uc.set(users)
	logger.Info("registry loaded", zap.Int("users", len(uc.users)))
	return uc, nil
}

// OnRegister は登録成功時に呼ばれる関数を追加する
func (uc *registryUsecase) OnRegister(fn func(model.RegisteredUser)) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.hooks = append(uc.hooks, fn)
}

func (uc *registryUsecase) Register(ctx context.Context, username, address string) (*model.RegisteredUser, error) {
	username = strings.TrimSpace(username)
	address = strings.TrimSpace(address)

	if !IsAddress(address) {
		metrics.ObserveRegistration("invalid")
		return nil, errors.Wrapf(model.ErrInvalidAddress, "%q", address)
	}
	addr := common.HexToAddress(address)
	user := model.RegisteredUser{Address: addr.Hex(), Username: username}

	// 他プロセスの登録も含めて重複を確認するため、ストアのロック内で読み直す
	saved, err := uc.store.Update(func(users []model.RegisteredUser) ([]model.RegisteredUser, error) {
		current, names := normalize(users)
		if _, ok := names[addr]; ok {
			return nil, errors.Wrap(model.ErrAlreadyRegistered, addr.Hex())
		}
		return append(current, user), nil
	})
	if err != nil {
		if errors.Is(err, model.ErrAlreadyRegistered) {
			metrics.ObserveRegistration("duplicate")
		} else {
			metrics.ObserveRegistration("error")
		}
		return nil, err
	}
	uc.set(saved)

	metrics.ObserveRegistration("ok")
	uc.logger.Info("user registered", zap.String("username", username), zap.String("address", user.Address))

	uc.mu.RLock()
	hooks := append(([]func(model.RegisteredUser))(nil), uc.hooks...)
	uc.mu.RUnlock()
	for _, fn := range hooks {
		fn(user)
	}
	return &user, nil
}

func (uc *registryUsecase) List(ctx context.Context) []model.RegisteredUser {
	uc.reload()

	uc.mu.RLock()
	defer uc.mu.RUnlock()

	out := make([]model.RegisteredUser, len(uc.users))
	copy(out, uc.users)
	return out
}

func (uc *registryUsecase) Lookup(address string) (string, bool) {
	if !common.IsHexAddress(address) {
		return "", false
	}
	uc.reload()

	uc.mu.RLock()
	defer uc.mu.RUnlock()

	name, ok := uc.names[common.HexToAddress(address)]
	return name, ok
}

// reload は別プロセスが登録した分を取り込む。失敗時は手元の一覧を使い続ける
func (uc *registryUsecase) reload() {
	users, err := uc.store.Load()
	if err != nil {
		uc.logger.Warn("registry reload failed", zap.Error(err))
		return
	}
	uc.set(users)
}

func (uc *registryUsecase) set(users []model.RegisteredUser) {
	normalized, names := normalize(users)

	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.users = normalized
	uc.names = names
}

// normalize はアドレスをチェックサム形式に揃え、重複は最初の登録を残す
func normalize(users []model.RegisteredUser) ([]model.RegisteredUser, map[common.Address]string) {
	out := make([]model.RegisteredUser, 0, len(users))
	names := make(map[common.Address]string, len(users))
	for _, u := range users {
		addr := common.HexToAddress(u.Address)
		if _, dup := names[addr]; dup {
			continue
		}
		names[addr] = u.Username
		out = append(out, model.RegisteredUser{Address: addr.Hex(), Username: u.Username})
	}
	return out, names
}

// IsAddress は 0x 付き 40 桁の 16 進かを確認する。
// 大文字小文字が混在する場合は EIP-55 チェックサムも確認する。
func IsAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	if !common.IsHexAddress(s) {
		return false
	}
	body := s[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(s).Hex()[2:] == body
}
