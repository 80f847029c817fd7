package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"auction-onchain/app"
	"auction-onchain/model"
)

var createCmd = &cobra.Command{
	Use:   "create [options] <item-name> <min-bid-eth> <duration>",
	Short: "Starts an auction if none is active",
	RunE:  createFunc,
}

func createFunc(cmd *cobra.Command, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("expected exactly 3 arguments, got %d", len(args))
	}
	duration, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", args[2], err)
	}
	return withApp(cmd.Context(), requestTimeout, func(ctx context.Context, a *app.App) error {
		res, err := a.Auction.CreateAuction(ctx, model.CreateAuctionRequest{
			ItemName:  args[0],
			MinBidEth: args[1],
			Duration:  duration,
		})
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	})
}

var bidCmd = &cobra.Command{
	Use:   "bid [options] <bidder-address> <amount-eth>",
	Short: "Places a bid from a registered user",
	RunE:  bidFunc,
}

func bidFunc(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected exactly 2 arguments, got %d", len(args))
	}
	return withApp(cmd.Context(), requestTimeout, func(ctx context.Context, a *app.App) error {
		res, err := a.Auction.PlaceBid(ctx, model.PlaceBidRequest{
			Bidder:    args[0],
			AmountEth: args[1],
		})
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	})
}

var endCmd = &cobra.Command{
	Use:   "end",
	Short: "Ends the active auction",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, func(ctx context.Context, a *app.App) (*model.ActionResult, error) {
			return a.Auction.EndAuction(ctx)
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancels the active auction",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, func(ctx context.Context, a *app.App) (*model.ActionResult, error) {
			return a.Auction.CancelAuction(ctx)
		})
	},
}

func runAction(cmd *cobra.Command, action func(ctx context.Context, a *app.App) (*model.ActionResult, error)) error {
	return withApp(cmd.Context(), requestTimeout, func(ctx context.Context, a *app.App) error {
		res, err := action(ctx, a)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	})
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Reads the current auction status",
	RunE:  statusFunc,
}

func statusFunc(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), requestTimeout, func(ctx context.Context, a *app.App) error {
		s, err := a.Auction.RefreshStatus(ctx)
		if err != nil {
			return err
		}
		printStatus(s)
		return nil
	})
}

var verifyTxCmd = &cobra.Command{
	Use:   "verify-tx [options] <tx-hash>",
	Short: "Reports whether a transaction succeeded and targeted the auction",
	RunE:  verifyTxFunc,
}

func verifyTxFunc(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly 1 argument, got %d", len(args))
	}
	return withApp(cmd.Context(), requestTimeout, func(ctx context.Context, a *app.App) error {
		v, err := a.Auction.VerifyTransaction(ctx, args[0])
		if err != nil {
			return err
		}
		color.Cyan("tx:            %s", v.TxHash)
		color.Cyan("status:        %s", v.Status)
		color.Cyan("block:         %d", v.BlockNumber)
		color.Cyan("gas used:      %d", v.GasUsed)
		color.Cyan("contract call: %t", v.IsContractCall)
		return nil
	})
}

func printResult(res *model.ActionResult) {
	if res.Message != "" {
		color.Green("%s", res.Message)
	}
	color.Yellow("tx: %s", res.TxHash)
	if res.Status != nil {
		printStatus(res.Status)
	}
}

func printStatus(s *model.AuctionStatus) {
	color.Cyan("item:           %s", s.ItemName)
	color.Cyan("status:         %s", s.StatusText)
	color.Cyan("minimum bid:    %s", s.MinBid)
	color.Cyan("highest bid:    %s", s.HighestBid)
	color.Cyan("highest bidder: %s", s.HighestBidderName)
	color.Cyan("owner balance:  %s", s.OwnerBalance)
	color.Cyan("time left:      %s", s.Timer)
}
