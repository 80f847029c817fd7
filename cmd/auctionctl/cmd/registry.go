package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"auction-onchain/app"
)

var registerCmd = &cobra.Command{
	Use:   "register [options] <username> <address>",
	Short: "Registers a wallet address under a display name",
	RunE:  registerFunc,
}

func registerFunc(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected exactly 2 arguments, got %d", len(args))
	}
	return withApp(cmd.Context(), requestTimeout, func(ctx context.Context, a *app.App) error {
		user, err := a.Registry.Register(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		color.Green("User %s registered!", user.Username)
		return nil
	})
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Lists registered users",
	RunE:  usersFunc,
}

func usersFunc(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), requestTimeout, func(ctx context.Context, a *app.App) error {
		users := a.Registry.List(ctx)
		if len(users) == 0 {
			color.Yellow("no registered users")
			return nil
		}
		for _, u := range users {
			color.Cyan("%s => %s", u.Username, u.Address)
		}
		return nil
	})
}
