package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"auction-onchain/model"
	"auction-onchain/usecase/registry"
)

type RegistryHandler struct {
	registryUC usecase.RegistryUsecase
}

func NewRegistryHandler(uc usecase.RegistryUsecase) *RegistryHandler {
	return &RegistryHandler{registryUC: uc}
}

// RegisterUserRequest はユーザー登録の入力
type RegisterUserRequest struct {
	Username string `json:"username"`
	Address  string `json:"address"`
}

// RegisterUserResponse はユーザー登録の結果
type RegisterUserResponse struct {
	User    *model.RegisteredUser `json:"user"`
	Message string                `json:"message"`
}

// HandleRegisterUser はアドレスを表示名で登録
func (h *RegistryHandler) HandleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.registryUC.Register(r.Context(), req.Username, req.Address)
	if err != nil {
		status := http.StatusInternalServerError
		if model.IsValidationError(err) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(RegisterUserResponse{
		User:    user,
		Message: "User " + user.Username + " registered!",
	})
}

// HandleListUsers は登録ユーザーを登録順に返す
func (h *RegistryHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.registryUC.List(r.Context()))
}

func (h *RegistryHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/users", h.HandleRegisterUser).Methods("POST")
	router.HandleFunc("/api/v1/users", h.HandleListUsers).Methods("GET")
}
