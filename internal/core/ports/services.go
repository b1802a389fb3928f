package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/wallet/backend/internal/entities"
)

// WalletService manages wallet lifecycle and lookups.
type WalletService interface {
	CreateWallet(ctx context.Context, userID int64, name, currency string) (*entities.Wallet, error)
	GetWallet(ctx context.Context, userID int64, walletID uuid.UUID) (*entities.Wallet, error)
	GetUserWallets(ctx context.Context, userID int64) ([]entities.Wallet, error)
	GetUserTransactions(ctx context.Context, userID int64, limit int) ([]entities.Transaction, error)
}

// FraudService scores a proposed transaction against the configured rules
// and the user's stored history. A data-access failure is returned as an
// error; the orchestrator fails the transfer closed.
type FraudService interface {
	CheckTransaction(ctx context.Context, fctx entities.FraudContext) (*entities.FraudResult, error)
}

// SystemActor is the actor id used by background workers when resolving
// reviews; it never collides with a real user id.
const SystemActor int64 = 0

// TransferService is the ledger-mutation orchestrator for local flows.
type TransferService interface {
	Deposit(ctx context.Context, req entities.DepositRequest) *entities.TransferResult
	Withdraw(ctx context.Context, req entities.WithdrawRequest) *entities.TransferResult
	Transfer(ctx context.Context, req entities.TransferRequest) *entities.TransferResult
	// ResolveReview applies a manual decision to a held transaction.
	// actorUserID identifies the operator; SystemActor marks automated
	// resolutions. The transaction's owner cannot resolve their own review.
	ResolveReview(ctx context.Context, actorUserID int64, transactionID uuid.UUID, approve bool, reason string) *entities.TransferResult
	HandlePayoutPaid(ctx context.Context, providerPayoutID string) *entities.TransferResult
	HandlePayoutFailed(ctx context.Context, providerPayoutID string, reason string) *entities.TransferResult
}

// InterWalletService coordinates signed transfers with remote systems.
type InterWalletService interface {
	SendExternal(ctx context.Context, req entities.ExternalTransferRequest) *entities.TransferResult
	HandleIncoming(ctx context.Context, payload []byte, signature string) (*entities.InterWalletTransferResponse, error)
	HandleValidate(ctx context.Context, payload []byte, signature string) (*entities.InterWalletTransferResponse, error)
	Status(ctx context.Context, payload []byte, signature string) (*entities.InterWalletStatusResponse, error)
	SystemInfo() entities.SystemInfo
}

// PaymentProvider is the Stripe-equivalent collaborator contract.
type PaymentProvider interface {
	PaymentSucceeded(ctx context.Context, paymentID string) (bool, error)
	CreatePayout(ctx context.Context, amount decimal.Decimal, currency, destination string) (string, error)
}

// RateService converts amounts between supported currencies.
type RateService interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, decimal.Decimal, error)
}

// EventPublisher receives transaction lifecycle events. Publishing is
// best-effort; implementations must not fail the transfer path.
type EventPublisher interface {
	PublishTransactionEvent(ctx context.Context, event entities.TransactionEvent)
}

// ProtocolClient performs the signed HTTP exchange with a remote wallet
// system. Calls are bounded by the configured request timeout.
type ProtocolClient interface {
	SendTransfer(ctx context.Context, systemURL string, req entities.InterWalletTransferRequest) (*entities.InterWalletTransferResponse, error)
	GetStatus(ctx context.Context, systemURL, reference string) (*entities.InterWalletStatusResponse, error)
}

// InterWalletSettler finalizes outgoing transfers stuck in PROCESSING once
// the remote outcome is known.
type InterWalletSettler interface {
	SettleOutgoing(ctx context.Context, transactionID uuid.UUID, success bool, reason string) error
}

// SweepableTransactions exposes the queries the background workers need.
type SweepableTransactions interface {
	FindStuckTransactions(ctx context.Context, status entities.TransactionStatus, txType entities.TransactionType, olderThan time.Time, limit int) ([]entities.Transaction, error)
}
