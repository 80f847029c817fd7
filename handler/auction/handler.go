package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"auction-onchain/model"
	"auction-onchain/usecase/auction"
)

type AuctionHandler struct {
	auctionUC usecase.AuctionUsecase
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

func NewAuctionHandler(uc usecase.AuctionUsecase, logger *zap.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctionUC: uc,
		upgrader: websocket.Upgrader{
			// CORS と同じく全オリジンを許可
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// writeError は入力エラーなら 400、それ以外は 500 でエラーメッセージをそのまま返す
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if model.IsValidationError(err) {
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// HandleGetStatus はオークションの状態を返す (?refresh=1 でキャッシュを使わない)
func (h *AuctionHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	var (
		status *model.AuctionStatus
		err    error
	)
	if r.URL.Query().Get("refresh") != "" {
		status, err = h.auctionUC.RefreshStatus(r.Context())
	} else {
		status, err = h.auctionUC.GetStatus(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status)
}

// HandleCreateAuction はオークションを作成
func (h *AuctionHandler) HandleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.auctionUC.CreateAuction(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

// HandlePlaceBid は入札する
func (h *AuctionHandler) HandlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req model.PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.auctionUC.PlaceBid(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (h *AuctionHandler) HandleEndAuction(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, h.auctionUC.EndAuction)
}

func (h *AuctionHandler) HandleCancelAuction(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, h.auctionUC.CancelAuction)
}

func (h *AuctionHandler) handleAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context) (*model.ActionResult, error)) {
	result, err := action(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

// VerifyTxRequest はトランザクション検証リクエスト
type VerifyTxRequest struct {
	TxHash string `json:"tx_hash"`
}

// HandleVerifyTransaction はトランザクションを検証
func (h *AuctionHandler) HandleVerifyTransaction(w http.ResponseWriter, r *http.Request) {
	var req VerifyTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.TxHash == "" {
		http.Error(w, "tx_hash is required", http.StatusBadRequest)
		return
	}

	verification, err := h.auctionUC.VerifyTransaction(r.Context(), req.TxHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, verification)
}

// HandleContractInfo はコントラクト情報を返す
func (h *AuctionHandler) HandleContractInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.auctionUC.ContractInfo())
}

// HandleTimerStream はカウントダウン表示を WebSocket で配信する
func (h *AuctionHandler) HandleTimerStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := h.auctionUC.TimerUpdates()
	defer cancel()

	// クライアントからの切断を検知する
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case text := <-updates:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				h.logger.Debug("timer stream write failed", zap.Error(err))
				return
			}
		}
	}
}

// Register はルーティングを登録する
func (h *AuctionHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/auction/status", h.HandleGetStatus).Methods("GET")
	router.HandleFunc("/api/v1/auction", h.HandleCreateAuction).Methods("POST")
	router.HandleFunc("/api/v1/auction/bid", h.HandlePlaceBid).Methods("POST")
	router.HandleFunc("/api/v1/auction/end", h.HandleEndAuction).Methods("POST")
	router.HandleFunc("/api/v1/auction/cancel", h.HandleCancelAuction).Methods("POST")
	router.HandleFunc("/api/v1/auction/timer", h.HandleTimerStream).Methods("GET")

	router.HandleFunc("/api/v1/contract/info", h.HandleContractInfo).Methods("GET")
	router.HandleFunc("/api/v1/contract/verify-tx", h.HandleVerifyTransaction).Methods("POST")
}
