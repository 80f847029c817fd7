package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"auction-onchain/app"
	"auction-onchain/model"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Shows a live countdown until the auction ends",
	RunE:  watchFunc,
}

func watchFunc(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	return withApp(ctx, 0, func(ctx context.Context, a *app.App) error {
		s, err := a.Auction.RefreshStatus(ctx)
		if err != nil {
			return err
		}
		printStatus(s)
		if !s.Active {
			return nil
		}

		updates, cancel := a.Auction.TimerUpdates()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return nil
			case text := <-updates:
				fmt.Printf("\r%-24s", text)
				if text == model.StatusTextEnded {
					fmt.Println()
					return nil
				}
			}
		}
	})
}
