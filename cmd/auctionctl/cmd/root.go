package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"auction-onchain/app"
	"auction-onchain/config"
)

const requestTimeout = 3 * time.Minute

var (
	endpoint string
	contract string
	logLevel string

	rootCmd = &cobra.Command{
		Use:          "auctionctl",
		Short:        "Auction contract CLI",
		SuggestFor:   []string{"auction", "auctionctl", "auction-cli"},
		SilenceUsage: true,
	}
)

func init() {
	cobra.EnablePrefixMatching = true
	rootCmd.AddCommand(
		registerCmd,
		usersCmd,
		createCmd,
		bidCmd,
		endCmd,
		cancelCmd,
		statusCmd,
		watchCmd,
		verifyTxCmd,
	)

	rootCmd.PersistentFlags().StringVar(
		&endpoint,
		"endpoint",
		"",
		"JSON-RPC endpoint of the node (overrides ETH_NODE_URL)",
	)
	rootCmd.PersistentFlags().StringVar(
		&contract,
		"contract",
		"",
		"auction contract address (overrides AUCTION_CONTRACT_ADDRESS)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel,
		"log-level",
		"error",
		"log level",
	)
}

func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// loadConfig は環境変数の設定にフラグを上書きする
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if endpoint != "" {
		cfg.Node.URL = endpoint
	}
	if contract != "" {
		cfg.Contract.Address = contract
	}
	// CLI はブロック購読を使わない
	cfg.Node.WSURL = ""
	return cfg, cfg.Validate()
}

// withApp は App を組み立てて fn を実行する
func withApp(parent context.Context, timeout time.Duration, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	a, err := app.Build(ctx, cfg, app.Logger(logLevel))
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
