package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/entities"
)

// HTTPHandler exposes the wallet API. The authenticated user id arrives in
// the X-User-ID header, set by the gateway in front of this service.
type HTTPHandler struct {
	logger      *slog.Logger
	wallets     ports.WalletService
	transfers   ports.TransferService
	interWallet ports.InterWalletService
}

func NewHTTPHandler(logger *slog.Logger, wallets ports.WalletService, transfers ports.TransferService, interWallet ports.InterWalletService) *HTTPHandler {
	return &HTTPHandler{
		logger:      logger,
		wallets:     wallets,
		transfers:   transfers,
		interWallet: interWallet,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// Wallets
	router.HandleFunc("/api/wallets", h.CreateWallet).Methods("POST")
	router.HandleFunc("/api/wallets", h.GetUserWallets).Methods("GET")
	router.HandleFunc("/api/wallets/{walletId}", h.GetWallet).Methods("GET")

	// Transactions
	router.HandleFunc("/api/transactions", h.GetUserTransactions).Methods("GET")
	router.HandleFunc("/api/transactions/{transactionId}/review", h.ResolveReview).Methods("POST")

	// Money movement
	router.HandleFunc("/api/deposits", h.Deposit).Methods("POST")
	router.HandleFunc("/api/withdrawals", h.Withdraw).Methods("POST")
	router.HandleFunc("/api/transfers", h.Transfer).Methods("POST")
	router.HandleFunc("/api/transfers/external", h.ExternalTransfer).Methods("POST")

	// Provider callbacks
	router.HandleFunc("/api/webhooks/payouts", h.PayoutWebhook).Methods("POST")
}

func (h *HTTPHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}

	var body struct {
		Name     string `json:"name"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	wallet, err := h.wallets.CreateWallet(r.Context(), userID, body.Name, body.Currency)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, wallet)
}

func (h *HTTPHandler) GetUserWallets(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}

	wallets, err := h.wallets.GetUserWallets(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wallets)
}

func (h *HTTPHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}

	walletID, err := uuid.Parse(mux.Vars(r)["walletId"])
	if err != nil {
		http.Error(w, "invalid wallet id", http.StatusBadRequest)
		return
	}

	wallet, err := h.wallets.GetWallet(r.Context(), userID, walletID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wallet)
}

func (h *HTTPHandler) GetUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}

	limit := 0
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	transactions, err := h.wallets.GetUserTransactions(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, transactions)
}

func (h *HTTPHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}

	var req entities.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.UserID = userID

	h.writeResult(w, h.transfers.Deposit(r.Context(), req))
}

func (h *HTTPHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}

	var req entities.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.UserID = userID

	h.writeResult(w, h.transfers.Withdraw(r.Context(), req))
}

func (h *HTTPHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}

	var req entities.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.UserID = userID

	h.writeResult(w, h.transfers.Transfer(r.Context(), req))
}

func (h *HTTPHandler) ExternalTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}

	var req entities.ExternalTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.UserID = userID

	h.writeResult(w, h.interWallet.SendExternal(r.Context(), req))
}

// ResolveReview applies an operator decision to a held transaction. The
// service rejects resolution by the transaction's own user, so a held
// transfer cannot be self-approved.
func (h *HTTPHandler) ResolveReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(mux.Vars(r)["transactionId"])
	if err != nil {
		http.Error(w, "invalid transaction id", http.StatusBadRequest)
		return
	}

	var body struct {
		Approve bool   `json:"approve"`
		Reason  string `json:"reason"`
	}
	if err = json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.writeResult(w, h.transfers.ResolveReview(r.Context(), userID, transactionID, body.Approve, body.Reason))
}

// PayoutWebhook receives payout status notifications from the payment
// provider. Deliveries are at-least-once; the service deduplicates them.
func (h *HTTPHandler) PayoutWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		FailureMessage string `json:"failure_message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.ID == "" {
		http.Error(w, "missing payout id", http.StatusBadRequest)
		return
	}

	var result *entities.TransferResult
	switch body.Status {
	case "paid":
		result = h.transfers.HandlePayoutPaid(r.Context(), body.ID)
	case "failed", "canceled":
		result = h.transfers.HandlePayoutFailed(r.Context(), body.ID, body.FailureMessage)
	default:
		h.logger.Info("Ignoring payout webhook", "payout_id", body.ID, "status", body.Status)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.writeResult(w, result)
}

func (h *HTTPHandler) authenticatedUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	header := r.Header.Get("X-User-ID")
	if header == "" {
		http.Error(w, "missing X-User-ID header", http.StatusUnauthorized)
		return 0, false
	}
	userID, err := strconv.ParseInt(header, 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid X-User-ID header", http.StatusUnauthorized)
		return 0, false
	}
	return userID, true
}

func (h *HTTPHandler) writeResult(w http.ResponseWriter, result *entities.TransferResult) {
	status := http.StatusOK
	if !result.Success {
		switch result.Status {
		case entities.StatusReview:
			status = http.StatusAccepted
		case entities.StatusBlocked:
			status = http.StatusForbidden
		default:
			status = http.StatusUnprocessableEntity
		}
	}
	writeJSON(w, status, result)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, ports.ErrWalletNotFound), errors.Is(err, ports.ErrTransactionNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, ports.ErrNotWalletOwner):
		status, message = http.StatusForbidden, err.Error()
	case errors.Is(err, ports.ErrWalletLimitReached),
		errors.Is(err, ports.ErrCurrencyUnsupported),
		errors.Is(err, ports.ErrCurrencyMismatch),
		errors.Is(err, ports.ErrWalletInactive),
		errors.Is(err, ports.ErrSelfTransfer),
		errors.Is(err, ports.ErrInvalidAmount):
		status, message = http.StatusBadRequest, err.Error()
	default:
		h.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	}

	http.Error(w, message, status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
