package ports

import "errors"

// Domain conditions surfaced by repositories and services. The orchestrator
// translates these into structured transfer results; handlers map them to
// HTTP statuses.
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletInactive      = errors.New("wallet is not active")
	ErrWalletLimitReached  = errors.New("wallet limit reached for user")
	ErrNotWalletOwner      = errors.New("wallet does not belong to user")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCurrencyMismatch    = errors.New("wallet currencies do not match")
	ErrCurrencyUnsupported = errors.New("currency is not supported")
	ErrSelfTransfer        = errors.New("source and destination wallets are the same")
	ErrInvalidAmount       = errors.New("amount must be positive")

	ErrTransactionNotFound = errors.New("transaction not found")
	ErrReviewSelfResolved  = errors.New("transaction owner cannot resolve their own review")
	ErrReferenceReplayed   = errors.New("inter-wallet reference already processed")
	ErrPaymentNotSucceeded = errors.New("payment is not in a succeeded state")

	ErrSignatureInvalid = errors.New("signature verification failed")
	ErrSignatureLength  = errors.New("signature length mismatch")
)
