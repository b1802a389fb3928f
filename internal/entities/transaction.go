package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionDeposit     TransactionType = "DEPOSIT"
	TransactionWithdrawal  TransactionType = "WITHDRAWAL"
	TransactionTransfer    TransactionType = "TRANSFER"
	TransactionInterWallet TransactionType = "INTER_WALLET"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusReview     TransactionStatus = "REVIEW"
	StatusSuccess    TransactionStatus = "SUCCESS"
	StatusFailed     TransactionStatus = "FAILED"
	StatusBlocked    TransactionStatus = "BLOCKED"
)

// IsTerminal reports whether a status ends the transaction lifecycle for
// local transfers. PROCESSING inter-wallet transfers are completed later
// by validate/status callbacks.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusBlocked
}

// TransactionMetadata carries the bookkeeping details of a ledger mutation.
type TransactionMetadata struct {
	AmountDebited   *decimal.Decimal `json:"amount_debited,omitempty"`
	AmountCredited  *decimal.Decimal `json:"amount_credited,omitempty"`
	ExchangeRate    *decimal.Decimal `json:"exchange_rate,omitempty"`
	SameUser        bool             `json:"same_user,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
}

// Transaction is an immutable record of an attempted or completed value
// movement. Once a terminal status is reached only the orchestrator and the
// inter-wallet callbacks may transition it further.
type Transaction struct {
	ID                  uuid.UUID            `db:"id"                    json:"id"`
	UserID              int64                `db:"user_id"               json:"user_id"`
	Type                TransactionType      `db:"type"                  json:"type"`
	Status              TransactionStatus    `db:"status"                json:"status"`
	Amount              decimal.Decimal      `db:"amount"                json:"amount"`
	Fee                 decimal.Decimal      `db:"fee"                   json:"fee"`
	Currency            string               `db:"currency"              json:"currency"`
	SourceWalletID      *uuid.UUID           `db:"source_wallet_id"      json:"source_wallet_id,omitempty"`
	DestinationWalletID *uuid.UUID           `db:"destination_wallet_id" json:"destination_wallet_id,omitempty"`
	FraudScore          int                  `db:"fraud_score"           json:"fraud_score"`
	FraudReasons        []string             `db:"fraud_reasons"         json:"fraud_reasons,omitempty"`
	ExternalSystemURL   *string              `db:"external_system_url"   json:"external_system_url,omitempty"`
	ExternalWalletID    *string              `db:"external_wallet_id"    json:"external_wallet_id,omitempty"`
	InterWalletRef      *string              `db:"inter_wallet_ref"      json:"inter_wallet_ref,omitempty"`
	PaymentID           *string              `db:"payment_id"            json:"payment_id,omitempty"`
	Metadata            *TransactionMetadata `db:"metadata"              json:"metadata,omitempty"`
	CreatedAt           time.Time            `db:"created_at"            json:"created_at"`
	ExecutedAt          *time.Time           `db:"executed_at"           json:"executed_at,omitempty"`
}

// TransactionLog is an append-only audit record of one pipeline step.
type TransactionLog struct {
	ID            int64     `db:"id"             json:"id"`
	TransactionID uuid.UUID `db:"transaction_id" json:"transaction_id"`
	Step          string    `db:"step"           json:"step"`
	Status        string    `db:"status"         json:"status"`
	Data          string    `db:"data"           json:"data,omitempty"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
}
