package contract

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-faster/errors"
)

// TxRequest は送信するトランザクションの内容
type TxRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
}

// TxSender はトランザクションの署名と送信を担当 (ウォレットに相当)
type TxSender interface {
	// Accounts は送信元として使えるアカウントを返す
	Accounts(ctx context.Context) ([]common.Address, error)

	// Send はトランザクションを送信し、ハッシュを返す
	Send(ctx context.Context, req TxRequest) (common.Hash, error)
}

// rpcCaller は *rpc.Client の必要な部分
type rpcCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// ===============================================
// ノード管理アカウントによる送信 (eth_sendTransaction)
// ===============================================

type NodeSender struct {
	rpc rpcCaller
}

func NewNodeSender(c rpcCaller) *NodeSender {
	return &NodeSender{rpc: c}
}

type sendTxArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data"`
}

func (s *NodeSender) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := s.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, errors.Wrap(err, "eth_accounts")
	}
	return accounts, nil
}

func (s *NodeSender) Send(ctx context.Context, req TxRequest) (common.Hash, error) {
	to := req.To
	args := sendTxArgs{
		From: req.From,
		To:   &to,
		Data: req.Data,
	}
	if req.Value != nil && req.Value.Sign() > 0 {
		args.Value = (*hexutil.Big)(req.Value)
	}

	var hash common.Hash
	if err := s.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// ===============================================
// ローカル鍵による署名・送信
// ===============================================

// signingBackend は *ethclient.Client の必要な部分
type signingBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type KeyedSender struct {
	backend signingBackend
	keys    map[common.Address]*ecdsa.PrivateKey
	order   []common.Address

	// nonce の取得から送信までを直列化する
	mu sync.Mutex
}

// NewKeyedSender は 16 進の秘密鍵 (0x 付きでも可) から送信者を作成
func NewKeyedSender(backend signingBackend, hexKeys []string) (*KeyedSender, error) {
	s := &KeyedSender{
		backend: backend,
		keys:    make(map[common.Address]*ecdsa.PrivateKey, len(hexKeys)),
	}
	for i, k := range hexKeys {
		k = strings.TrimPrefix(strings.TrimSpace(k), "0x")
		if k == "" {
			continue
		}
		key, err := crypto.HexToECDSA(k)
		if err != nil {
			return nil, errors.Wrapf(err, "private key #%d", i)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if _, dup := s.keys[addr]; dup {
			continue
		}
		s.keys[addr] = key
		s.order = append(s.order, addr)
	}
	if len(s.order) == 0 {
		return nil, errors.New("no signing keys configured")
	}
	return s, nil
}

func (s *KeyedSender) Accounts(ctx context.Context) ([]common.Address, error) {
	out := make([]common.Address, len(s.order))
	copy(out, s.order)
	return out, nil
}

// Len は保持している鍵の数
func (s *KeyedSender) Len() int {
	return len(s.order)
}

func (s *KeyedSender) Send(ctx context.Context, req TxRequest) (common.Hash, error) {
	key, ok := s.keys[req.From]
	if !ok {
		return common.Hash{}, errors.Errorf("no signing key for account %s", req.From.Hex())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "chain id")
	}
	nonce, err := s.backend.PendingNonceAt(ctx, req.From)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pending nonce")
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "gas price")
	}
	to := req.To
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  req.From,
		To:    &to,
		Value: req.Value,
		Data:  req.Data,
	})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "estimate gas")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    req.Value,
		Data:     req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}
