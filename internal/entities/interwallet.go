package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// InterWalletStatus values exchanged between systems.
const (
	InterWalletAccepted = "ACCEPTED"
	InterWalletRejected = "REJECTED"
)

// InterWalletTransferRequest is the signed payload sent to a remote wallet
// system to initiate a transfer. Field order is not significant; the
// canonical form used for signing sorts keys.
type InterWalletTransferRequest struct {
	Reference           string          `json:"reference"`
	SourceSystem        string          `json:"source_system"`
	SourceSystemURL     string          `json:"source_system_url"`
	SourceWalletID      string          `json:"source_wallet_id"`
	DestinationWalletID string          `json:"destination_wallet_id"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Description         string          `json:"description,omitempty"`
	Timestamp           time.Time       `json:"timestamp"`
}

// InterWalletTransferResponse is the signed acknowledgment of a transfer.
type InterWalletTransferResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// InterWalletValidateRequest reports the remote outcome for a transfer that
// is held locally in PROCESSING, matched by reference.
type InterWalletValidateRequest struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// InterWalletStatusRequest asks for the current state of a transfer.
type InterWalletStatusRequest struct {
	Reference string `json:"reference"`
}

// InterWalletStatusResponse is the signed status report for a transfer.
type InterWalletStatusResponse struct {
	Reference  string            `json:"reference"`
	Status     TransactionStatus `json:"status"`
	Amount     decimal.Decimal   `json:"amount"`
	Currency   string            `json:"currency"`
	CreatedAt  time.Time         `json:"created_at"`
	ExecutedAt *time.Time        `json:"executed_at,omitempty"`
	Steps      []TransactionLog  `json:"steps,omitempty"`
	Signature  string            `json:"signature,omitempty"`
}

// SystemInfo is the public, unsigned description of this wallet system.
type SystemInfo struct {
	SystemName          string   `json:"system_name"`
	SystemURL           string   `json:"system_url"`
	ProtocolVersion     string   `json:"protocol_version"`
	SupportedCurrencies []string `json:"supported_currencies"`
	TransferEndpoint    string   `json:"transfer_endpoint"`
	ValidateEndpoint    string   `json:"validate_endpoint"`
	StatusEndpoint      string   `json:"status_endpoint"`
}
