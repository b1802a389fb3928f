package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
)

const maxProtocolBodyBytes = 1 << 20

// InterWalletHandler serves the endpoints remote wallet systems call. All
// of them except discovery require a valid payload signature.
type InterWalletHandler struct {
	logger  *slog.Logger
	service ports.InterWalletService
}

func NewInterWalletHandler(logger *slog.Logger, service ports.InterWalletService) *InterWalletHandler {
	return &InterWalletHandler{
		logger:  logger,
		service: service,
	}
}

func (h *InterWalletHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(ports.TransferEndpoint, h.Transfer).Methods("POST")
	router.HandleFunc(ports.ValidateEndpoint, h.Validate).Methods("POST")
	router.HandleFunc(ports.StatusEndpoint, h.Status).Methods("POST")
	router.HandleFunc(ports.StatusEndpoint, h.SystemInfo).Methods("GET")
}

func (h *InterWalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	payload, signature, ok := h.readSigned(w, r)
	if !ok {
		return
	}

	response, err := h.service.HandleIncoming(r.Context(), payload, signature)
	if err != nil {
		h.writeProtocolError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *InterWalletHandler) Validate(w http.ResponseWriter, r *http.Request) {
	payload, signature, ok := h.readSigned(w, r)
	if !ok {
		return
	}

	response, err := h.service.HandleValidate(r.Context(), payload, signature)
	if err != nil {
		h.writeProtocolError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *InterWalletHandler) Status(w http.ResponseWriter, r *http.Request) {
	payload, signature, ok := h.readSigned(w, r)
	if !ok {
		return
	}

	response, err := h.service.Status(r.Context(), payload, signature)
	if err != nil {
		h.writeProtocolError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *InterWalletHandler) SystemInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.SystemInfo())
}

func (h *InterWalletHandler) readSigned(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	signature := r.Header.Get(ports.HeaderSignature)
	if signature == "" {
		http.Error(w, "missing signature", http.StatusUnauthorized)
		return nil, "", false
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxProtocolBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, "", false
	}

	h.logger.InfoContext(r.Context(), "Inter-wallet request received",
		"path", r.URL.Path, "source_system", r.Header.Get(ports.HeaderSourceSystem))

	return payload, signature, true
}

func (h *InterWalletHandler) writeProtocolError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ports.ErrSignatureInvalid), errors.Is(err, ports.ErrSignatureLength):
		h.logger.WarnContext(r.Context(), "Rejected inter-wallet request with bad signature",
			"path", r.URL.Path, "source_system", r.Header.Get(ports.HeaderSourceSystem), "error", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, ports.ErrTransactionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.ErrorContext(r.Context(), "Inter-wallet request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
