package contract

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/go-faster/errors"
)

// AuctionABI はオークションコントラクトの ABI (利用するメソッドのみ)
const AuctionABI = `[
  {
    "inputs": [],
    "name": "active",
    "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "itemName",
    "outputs": [{"internalType": "string", "name": "", "type": "string"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "highestBid",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "highestBidder",
    "outputs": [{"internalType": "address", "name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "owner",
    "outputs": [{"internalType": "address", "name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "endTime",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "minBid",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "string", "name": "_itemName", "type": "string"},
      {"internalType": "uint256", "name": "_minBid", "type": "uint256"},
      {"internalType": "uint256", "name": "_duration", "type": "uint256"}
    ],
    "name": "startAuction",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "placeBid",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "endAuction",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "cancelAuction",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

// RequiredMethods はクライアントが呼び出すメソッド一覧
var RequiredMethods = []string{
	"active",
	"itemName",
	"highestBid",
	"highestBidder",
	"owner",
	"endTime",
	"minBid",
	"startAuction",
	"placeBid",
	"endAuction",
	"cancelAuction",
}

// LoadABI は ABI を読み込む。path が空なら組み込みの ABI を使う。
// Truffle のビルド成果物 ({"abi": [...]}) と ABI 配列のどちらも受け付ける。
func LoadABI(path string) (abi.ABI, error) {
	raw := []byte(AuctionABI)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, errors.Wrap(err, "read ABI file")
		}
		raw = b
	}
	return ParseABI(raw)
}

func ParseABI(raw []byte) (abi.ABI, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal([]byte(trimmed), &artifact); err != nil {
			return abi.ABI{}, errors.Wrap(err, "decode contract artifact")
		}
		if len(artifact.ABI) == 0 {
			return abi.ABI{}, errors.New("contract artifact has no abi field")
		}
		trimmed = string(artifact.ABI)
	}

	parsed, err := abi.JSON(strings.NewReader(trimmed))
	if err != nil {
		return abi.ABI{}, errors.Wrap(err, "parse ABI")
	}

	var missing []string
	for _, name := range RequiredMethods {
		if _, ok := parsed.Methods[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return abi.ABI{}, errors.Errorf("ABI is missing methods: %s", strings.Join(missing, ", "))
	}
	return parsed, nil
}
