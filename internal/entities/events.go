package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionEvent is published whenever a transaction is recorded or
// changes status. Consumed by the Kafka publisher and the websocket feed.
type TransactionEvent struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	UserID        int64             `json:"user_id"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	Fee           decimal.Decimal   `json:"fee"`
	Currency      string            `json:"currency"`
	FraudScore    int               `json:"fraud_score,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}
