package model

import (
	"math/big"

	"github.com/go-faster/errors"
)

// 入力検証エラー (ハンドラーでは 400 を返す)
var (
	ErrInvalidAddress      = errors.New("invalid wallet address")
	ErrAlreadyRegistered   = errors.New("this address is already registered")
	ErrAuctionActive       = errors.New("an auction is already active, end or cancel it first")
	ErrBidderNotSelected   = errors.New("select a registered user to place a bid")
	ErrBidderNotRegistered = errors.New("bidder is not a registered user")
	ErrInvalidAmount       = errors.New("invalid ETH amount")
	ErrNoAccounts          = errors.New("no accounts available from provider")
	ErrInvalidTxHash       = errors.New("invalid transaction hash format")
)

// ErrRegistryLocked は別プロセスがレジストリを使用中で待ち時間内にロックできなかったことを示す
var ErrRegistryLocked = errors.New("registry is locked by another process")

// IsValidationError は利用者の入力起因のエラーかどうかを返す
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidAddress,
		ErrAlreadyRegistered,
		ErrAuctionActive,
		ErrBidderNotSelected,
		ErrBidderNotRegistered,
		ErrInvalidAmount,
		ErrNoAccounts,
		ErrInvalidTxHash,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ===============================================
// 登録ユーザー (ローカルで保持する唯一のデータ)
// ===============================================

// RegisteredUser はウォレットアドレスと表示名の対応
type RegisteredUser struct {
	Address  string `json:"address"`  // チェックサム形式のアドレス
	Username string `json:"username"` // 表示名
}

// ===============================================
// オークションコントラクト関連のモデル
// ===============================================

const (
	StatusTextActive = "Auction Active"
	StatusTextEnded  = "Auction Ended"
	NoBidder         = "None"
	NotAvailable     = "- -"
)

// AuctionState はコントラクトから読み出した生の値
type AuctionState struct {
	Active        bool
	ItemName      string
	MinBid        *big.Int
	HighestBid    *big.Int
	HighestBidder string
	Owner         string
	OwnerBalance  *big.Int
	EndTime       int64 // unix 秒。int64 に収まらない値は math.MaxInt64 に丸める
}

// AuctionStatus は表示用に整形したオークション状態 (キャッシュ用の一時的なコピー)
type AuctionStatus struct {
	Active            bool   `json:"active"`
	StatusText        string `json:"status_text"`
	ItemName          string `json:"item_name"`
	MinBidWei         string `json:"min_bid_wei"`
	MinBid            string `json:"min_bid"`
	HighestBidWei     string `json:"highest_bid_wei"`
	HighestBid        string `json:"highest_bid"`
	HighestBidder     string `json:"highest_bidder"`
	HighestBidderName string `json:"highest_bidder_name"`
	Owner             string `json:"owner"`
	OwnerBalance      string `json:"owner_balance"`
	EndTime           uint64 `json:"end_time"`
	Timer             string `json:"timer"`
}

// CreateAuctionRequest はオークション作成の入力
type CreateAuctionRequest struct {
	ItemName  string `json:"item_name"`
	MinBidEth string `json:"min_bid_eth"`
	Duration  uint64 `json:"duration"` // コントラクトにそのまま渡す
}

// PlaceBidRequest は入札の入力
type PlaceBidRequest struct {
	Bidder    string `json:"bidder"`
	AmountEth string `json:"amount_eth"`
}

// ActionResult は送信したトランザクションの結果
type ActionResult struct {
	TxHash  string         `json:"tx_hash"`
	Message string         `json:"message,omitempty"`
	Status  *AuctionStatus `json:"status,omitempty"`
}

// TxVerification はトランザクション検証結果
type TxVerification struct {
	TxHash         string `json:"tx_hash"`
	Status         string `json:"status"` // "pending", "success", "failed"
	BlockNumber    uint64 `json:"block_number,omitempty"`
	GasUsed        uint64 `json:"gas_used,omitempty"`
	Success        bool   `json:"success"`
	IsContractCall bool   `json:"is_contract_call"`
}

// ContractInfo はコントラクトの基本情報
type ContractInfo struct {
	Address string   `json:"address"`
	Methods []string `json:"methods"`
}
