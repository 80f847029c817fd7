package config

import (
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
)

// DefaultContractAddress はローカル開発チェーンにデプロイしたオークションコントラクト
const DefaultContractAddress = "0xCd657F9f590F11215a9e83E84cd0118263e5a3a0"

type Config struct {
	Node struct {
		URL   string `env:"ETH_NODE_URL" envDefault:"http://127.0.0.1:7545"`
		WSURL string `env:"ETH_NODE_WS_URL"` // 未設定ならブロック購読は無効
	}
	Contract struct {
		Address             string        `env:"AUCTION_CONTRACT_ADDRESS" envDefault:"0xCd657F9f590F11215a9e83E84cd0118263e5a3a0"`
		ABIPath             string        `env:"AUCTION_ABI_PATH"` // Truffle のビルド成果物 or ABI 配列
		Operator            string        `env:"OPERATOR_ADDRESS"` // 未設定ならプロバイダの先頭アカウント
		PrivateKeys         []string      `env:"SIGNER_PRIVATE_KEYS" envSeparator:","`
		ReceiptTimeout      time.Duration `env:"RECEIPT_TIMEOUT" envDefault:"2m"`
		ReceiptPollInterval time.Duration `env:"RECEIPT_POLL_INTERVAL" envDefault:"1s"`
	}
	Registry struct {
		DataDir string `env:"REGISTRY_DATA_DIR" envDefault:"./data/registry"`
		// LockTimeout は別プロセスがレジストリを使用中のときの待ち時間
		LockTimeout time.Duration `env:"REGISTRY_LOCK_TIMEOUT" envDefault:"3s"`
	}
	App struct {
		Port           int           `env:"PORT" envDefault:"8080"`
		LogLevel       string        `env:"LOG_LEVEL" envDefault:"INFO"`
		StatusCacheTTL time.Duration `env:"STATUS_CACHE_TTL" envDefault:"5s"`
		TimerInterval  time.Duration `env:"TIMER_INTERVAL" envDefault:"1s"`
	}
}

// Load は環境変数から設定を読み込み、検証する
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return c, errors.Wrap(err, "parse env")
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.Node.URL == "" {
		return errors.New("ETH_NODE_URL must not be empty")
	}
	if !common.IsHexAddress(c.Contract.Address) {
		return errors.Errorf("AUCTION_CONTRACT_ADDRESS is not a valid address: %q", c.Contract.Address)
	}
	if c.Contract.Operator != "" && !common.IsHexAddress(c.Contract.Operator) {
		return errors.Errorf("OPERATOR_ADDRESS is not a valid address: %q", c.Contract.Operator)
	}
	if c.Contract.ReceiptTimeout <= 0 {
		return errors.New("RECEIPT_TIMEOUT must be positive")
	}
	if c.Contract.ReceiptPollInterval <= 0 {
		return errors.New("RECEIPT_POLL_INTERVAL must be positive")
	}
	if c.App.TimerInterval <= 0 {
		return errors.New("TIMER_INTERVAL must be positive")
	}
	return nil
}
