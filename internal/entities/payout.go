package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutPaid    PayoutStatus = "paid"
	PayoutFailed  PayoutStatus = "failed"
)

// Payout links a withdrawal transaction to the payment provider's payout.
// Completion and failure are driven by provider callbacks.
type Payout struct {
	ID               uuid.UUID       `db:"id"`
	ProviderPayoutID string          `db:"provider_payout_id"`
	TransactionID    uuid.UUID       `db:"transaction_id"`
	WalletID         uuid.UUID       `db:"wallet_id"`
	Amount           decimal.Decimal `db:"amount"`
	Fee              decimal.Decimal `db:"fee"`
	Status           PayoutStatus    `db:"status"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}
