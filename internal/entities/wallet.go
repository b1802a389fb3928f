package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlatformUserID is the reserved owner of the wallet that accumulates
// platform fees.
const PlatformUserID int64 = 0

// Wallet represents a balance-holding account owned by a user.
// Balance is only ever mutated through an atomic ledger operation tied
// to a Transaction.
type Wallet struct {
	ID        uuid.UUID       `db:"id"         json:"id"`
	UserID    int64           `db:"user_id"    json:"user_id"`
	Name      string          `db:"name"       json:"name"`
	Currency  string          `db:"currency"   json:"currency"`
	Balance   decimal.Decimal `db:"balance"    json:"balance"`
	Active    bool            `db:"active"     json:"active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// SupportedCurrencies is the closed set of currencies wallets can hold.
var SupportedCurrencies = map[string]bool{
	"EUR": true,
	"USD": true,
	"GBP": true,
	"CHF": true,
	"PLN": true,
}
