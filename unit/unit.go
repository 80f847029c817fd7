// Package unit は ETH と wei の相互変換を行う。
package unit

import (
	"math/big"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"auction-onchain/model"
)

const etherDecimals = 18

// ToWei は "1.5" のような ETH 表記を wei に変換する
func ToWei(eth string) (*big.Int, error) {
	eth = strings.TrimSpace(eth)
	if eth == "" {
		return nil, errors.Wrap(model.ErrInvalidAmount, "empty amount")
	}
	d, err := decimal.NewFromString(eth)
	if err != nil {
		return nil, errors.Wrapf(model.ErrInvalidAmount, "%q", eth)
	}
	if d.IsNegative() {
		return nil, errors.Wrapf(model.ErrInvalidAmount, "negative amount %q", eth)
	}
	wei := d.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, errors.Wrapf(model.ErrInvalidAmount, "too many decimal places in %q", eth)
	}
	return wei.BigInt(), nil
}

// FromWei は wei を ETH 表記の文字列に変換する (末尾のゼロは付けない)
func FromWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// FormatEth は表示用に " ETH" を付ける
func FormatEth(wei *big.Int) string {
	return FromWei(wei) + " ETH"
}
