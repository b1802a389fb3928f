package entities

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FeeBreakdown is the result of applying the platform fee to an amount.
type FeeBreakdown struct {
	Fee       decimal.Decimal `json:"fee"`
	NetAmount decimal.Decimal `json:"net_amount"`
}

// TransferRequest describes a local transfer. Destination is either a
// wallet id or a recipient user id to resolve a wallet from.
type TransferRequest struct {
	UserID              int64           `json:"user_id"`
	SourceWalletID      uuid.UUID       `json:"source_wallet_id"`
	DestinationWalletID *uuid.UUID      `json:"destination_wallet_id,omitempty"`
	RecipientUserID     *int64          `json:"recipient_user_id,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description,omitempty"`
}

// WithdrawRequest describes a payout of wallet funds via the payment
// provider.
type WithdrawRequest struct {
	UserID      int64           `json:"user_id"`
	WalletID    uuid.UUID       `json:"wallet_id"`
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
}

// DepositRequest credits a wallet after an external payment succeeded.
type DepositRequest struct {
	UserID    int64           `json:"user_id"`
	WalletID  uuid.UUID       `json:"wallet_id"`
	Amount    decimal.Decimal `json:"amount"`
	PaymentID string          `json:"payment_id"`
}

// ExternalTransferRequest describes an outgoing inter-wallet transfer to an
// independently operated remote system.
type ExternalTransferRequest struct {
	UserID            int64           `json:"user_id"`
	SourceWalletID    uuid.UUID       `json:"source_wallet_id"`
	ExternalSystemURL string          `json:"external_system_url"`
	ExternalWalletID  string          `json:"external_wallet_id"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description,omitempty"`
}

// TransferResult is the structured outcome of every orchestrator operation.
// Failures never escape as raw errors past the service boundary.
type TransferResult struct {
	Success       bool              `json:"success"`
	Error         string            `json:"error,omitempty"`
	TransactionID *uuid.UUID        `json:"transaction_id,omitempty"`
	Status        TransactionStatus `json:"status,omitempty"`
	FraudScore    int               `json:"fraud_score,omitempty"`
	FraudReasons  []string          `json:"fraud_reasons,omitempty"`
}
