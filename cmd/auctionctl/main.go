// "auctionctl" はオークションコントラクトを操作する CLI。
package main

import (
	"os"

	"github.com/fatih/color"

	"auction-onchain/cmd/auctionctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		color.Red("auctionctl failed: %v", err)
		os.Exit(1)
	}
	os.Exit(0)
}
