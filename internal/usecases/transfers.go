package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/entities"
)

type transactionRunner interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type walletLedger interface {
	FindWalletByID(ctx context.Context, id uuid.UUID) (*entities.Wallet, error)
	FindActiveWalletForUser(ctx context.Context, userID int64, currency string) (*entities.Wallet, error)
	Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	GetOrCreatePlatformWallet(ctx context.Context, currency string) (*entities.Wallet, error)
}

type transactionStore interface {
	InsertTransaction(ctx context.Context, t *entities.Transaction) error
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status entities.TransactionStatus, executedAt *time.Time) error
	UpdateTransactionOutcome(ctx context.Context, id uuid.UUID, status entities.TransactionStatus, executedAt *time.Time, metadata *entities.TransactionMetadata) error
	FindTransactionByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error)
	FindTransactionByPaymentID(ctx context.Context, paymentID string) (*entities.Transaction, error)
}

type auditTrail interface {
	AppendLog(ctx context.Context, transactionID uuid.UUID, step, status, data string) error
}

type payoutStore interface {
	InsertPayout(ctx context.Context, payout *entities.Payout) error
	FindPayoutByProviderID(ctx context.Context, providerPayoutID string) (*entities.Payout, error)
	UpdatePayoutStatus(ctx context.Context, providerPayoutID string, status entities.PayoutStatus) (bool, error)
}

// TransferService orchestrates every local ledger mutation: deposits,
// withdrawals and transfers between wallets of this system. Each money
// movement runs inside one database transaction so balances and the
// transaction record change together or not at all.
type TransferService struct {
	logger        *slog.Logger
	runner        transactionRunner
	wallets       walletLedger
	transactions  transactionStore
	trail         auditTrail
	payouts       payoutStore
	fraud         ports.FraudService
	payments      ports.PaymentProvider
	events        ports.EventPublisher
	riskThreshold decimal.Decimal
}

func NewTransferService(
	logger *slog.Logger,
	runner transactionRunner,
	wallets walletLedger,
	transactions transactionStore,
	trail auditTrail,
	payouts payoutStore,
	fraud ports.FraudService,
	payments ports.PaymentProvider,
	events ports.EventPublisher,
	withdrawalRiskThreshold float64,
) *TransferService {
	return &TransferService{
		logger:        logger,
		runner:        runner,
		wallets:       wallets,
		transactions:  transactions,
		trail:         trail,
		payouts:       payouts,
		fraud:         fraud,
		payments:      payments,
		events:        events,
		riskThreshold: decimal.NewFromFloat(withdrawalRiskThreshold),
	}
}

// Deposit credits a wallet after the referenced provider payment succeeded.
// Replays of the same payment id return the recorded outcome instead of
// crediting twice. A deposit interrupted after its row was written but
// before the credit committed is completed on the next delivery.
func (s *TransferService) Deposit(ctx context.Context, req entities.DepositRequest) *entities.TransferResult {
	res, err := s.deposit(ctx, req)
	if err != nil {
		s.logger.ErrorContext(ctx, "Deposit failed",
			"user_id", req.UserID, "wallet_id", req.WalletID, "payment_id", req.PaymentID, "error", err)
		return failureResult(err)
	}
	return res
}

func (s *TransferService) deposit(ctx context.Context, req entities.DepositRequest) (*entities.TransferResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ports.ErrInvalidAmount
	}

	existing, err := s.transactions.FindTransactionByPaymentID(ctx, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment: %w", err)
	}
	if existing != nil {
		if existing.Status != entities.StatusPending {
			return resultFromTransaction(existing), nil
		}
		// The row was written but the credit never committed. Finish it
		// instead of reporting the half-done deposit as settled.
		if existing.UserID != req.UserID {
			return nil, ports.ErrNotWalletOwner
		}
		if err = s.finishDeposit(ctx, existing); err != nil {
			return nil, err
		}
		return resultFromTransaction(existing), nil
	}

	succeeded, err := s.payments.PaymentSucceeded(ctx, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify payment %s: %w", req.PaymentID, err)
	}
	if !succeeded {
		return nil, ports.ErrPaymentNotSucceeded
	}

	wallet, err := s.ownedActiveWallet(ctx, req.UserID, req.WalletID)
	if err != nil {
		return nil, err
	}

	fee := PlatformFee(req.Amount)

	t := &entities.Transaction{
		ID:                  uuid.New(),
		UserID:              req.UserID,
		Type:                entities.TransactionDeposit,
		Status:              entities.StatusPending,
		Amount:              req.Amount,
		Fee:                 fee,
		Currency:            wallet.Currency,
		DestinationWalletID: &wallet.ID,
		PaymentID:           &req.PaymentID,
	}

	// The unique payment index makes a concurrent duplicate fail here
	// instead of crediting twice.
	if err = s.transactions.InsertTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to record deposit: %w", err)
	}

	if err = s.finishDeposit(ctx, t); err != nil {
		return nil, err
	}

	return resultFromTransaction(t), nil
}

// finishDeposit commits the credit side of a recorded deposit: wallet
// credit, platform fee and the SUCCESS flip in one unit. Safe to call
// again for a deposit stuck in PENDING.
func (s *TransferService) finishDeposit(ctx context.Context, t *entities.Transaction) error {
	now := time.Now()
	err := s.runner.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.wallets.Credit(txCtx, *t.DestinationWalletID, t.Amount); err != nil {
			return fmt.Errorf("failed to credit wallet: %w", err)
		}
		if err := s.creditPlatform(txCtx, t.Currency, t.Fee); err != nil {
			return err
		}
		return s.transactions.UpdateTransactionStatus(txCtx, t.ID, entities.StatusSuccess, &now)
	})
	if err != nil {
		return err
	}

	t.Status = entities.StatusSuccess
	t.ExecutedAt = &now

	paymentID := ""
	if t.PaymentID != nil {
		paymentID = *t.PaymentID
	}
	s.audit(ctx, t.ID, "deposit", string(t.Status), fmt.Sprintf("payment %s credited %s %s", paymentID, t.Amount, t.Currency))
	s.publish(ctx, t)

	s.logger.InfoContext(ctx, "Deposit completed",
		"transaction_id", t.ID, "wallet_id", *t.DestinationWalletID, "amount", t.Amount.String())

	return nil
}

// Withdraw debits the wallet by amount plus fee and requests a provider
// payout for the amount. The transaction stays PROCESSING until the
// provider confirms the payout via webhook.
func (s *TransferService) Withdraw(ctx context.Context, req entities.WithdrawRequest) *entities.TransferResult {
	res, err := s.withdraw(ctx, req)
	if err != nil {
		s.logger.ErrorContext(ctx, "Withdrawal failed",
			"user_id", req.UserID, "wallet_id", req.WalletID, "error", err)
		return failureResult(err)
	}
	return res
}

func (s *TransferService) withdraw(ctx context.Context, req entities.WithdrawRequest) (*entities.TransferResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ports.ErrInvalidAmount
	}

	wallet, err := s.ownedActiveWallet(ctx, req.UserID, req.WalletID)
	if err != nil {
		return nil, err
	}

	fee := PlatformFee(req.Amount)

	t := &entities.Transaction{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Type:           entities.TransactionWithdrawal,
		Status:         entities.StatusPending,
		Amount:         req.Amount,
		Fee:            fee,
		Currency:       wallet.Currency,
		SourceWalletID: &wallet.ID,
	}

	// Small withdrawals skip scoring; everything above the risk threshold
	// goes through the full fraud pipeline.
	if req.Amount.GreaterThan(s.riskThreshold) {
		fraudResult, err := s.fraud.CheckTransaction(ctx, entities.FraudContext{
			UserID:         req.UserID,
			Amount:         req.Amount,
			Type:           entities.TransactionWithdrawal,
			SourceWalletID: &wallet.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("fraud check unavailable: %w", err)
		}
		t.FraudScore = fraudResult.Score
		t.FraudReasons = fraudResult.Reasons

		if held := s.holdForFraud(ctx, t, fraudResult); held != nil {
			return held, nil
		}
	}

	if err = s.executeWithdrawal(ctx, t, req.Destination); err != nil {
		return nil, err
	}

	return resultFromTransaction(t), nil
}

// executeWithdrawal moves the funds and requests the payout. The wallet is
// debited first; a provider failure reverses the debit and fails the
// transaction.
func (s *TransferService) executeWithdrawal(ctx context.Context, t *entities.Transaction, destination string) error {
	if t.CreatedAt.IsZero() {
		if err := s.transactions.InsertTransaction(ctx, t); err != nil {
			return fmt.Errorf("failed to record withdrawal: %w", err)
		}
	}

	err := s.runner.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.wallets.Debit(txCtx, *t.SourceWalletID, t.Amount.Add(t.Fee)); err != nil {
			return err
		}
		return s.creditPlatform(txCtx, t.Currency, t.Fee)
	})
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientBalance) {
			s.recordRejected(ctx, t, entities.StatusFailed, err.Error())
		}
		return err
	}

	providerPayoutID, err := s.payments.CreatePayout(ctx, t.Amount, t.Currency, destination)
	if err != nil {
		s.compensateWithdrawal(ctx, t, fmt.Sprintf("payout request failed: %v", err))
		return fmt.Errorf("failed to create payout: %w", err)
	}

	payout := &entities.Payout{
		ID:               uuid.New(),
		ProviderPayoutID: providerPayoutID,
		TransactionID:    t.ID,
		WalletID:         *t.SourceWalletID,
		Amount:           t.Amount,
		Fee:              t.Fee,
		Status:           entities.PayoutPending,
	}
	if err = s.payouts.InsertPayout(ctx, payout); err != nil {
		s.compensateWithdrawal(ctx, t, fmt.Sprintf("payout bookkeeping failed: %v", err))
		return fmt.Errorf("failed to record payout: %w", err)
	}

	if err = s.transactions.UpdateTransactionStatus(ctx, t.ID, entities.StatusProcessing, nil); err != nil {
		return fmt.Errorf("failed to mark withdrawal processing: %w", err)
	}
	t.Status = entities.StatusProcessing

	s.audit(ctx, t.ID, "payout_requested", string(t.Status), fmt.Sprintf("provider payout %s for %s %s", providerPayoutID, t.Amount, t.Currency))
	s.publish(ctx, t)

	s.logger.InfoContext(ctx, "Withdrawal payout requested",
		"transaction_id", t.ID, "provider_payout_id", providerPayoutID, "amount", t.Amount.String())

	return nil
}

// compensateWithdrawal reverses the amount plus fee debit after a failed
// payout attempt.
func (s *TransferService) compensateWithdrawal(ctx context.Context, t *entities.Transaction, reason string) {
	now := time.Now()
	err := s.runner.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.wallets.Credit(txCtx, *t.SourceWalletID, t.Amount.Add(t.Fee)); err != nil {
			return err
		}
		if err := s.debitPlatform(txCtx, t.Currency, t.Fee); err != nil {
			return err
		}
		return s.transactions.UpdateTransactionOutcome(txCtx, t.ID, entities.StatusFailed, &now,
			&entities.TransactionMetadata{RejectionReason: reason})
	})
	if err != nil {
		// Funds are not lost, only the reversal is pending. Loud log so the
		// operator can replay it.
		s.logger.ErrorContext(ctx, "CRITICAL: withdrawal compensation failed",
			"transaction_id", t.ID, "error", err)
		return
	}
	t.Status = entities.StatusFailed
	s.audit(ctx, t.ID, "compensation", string(entities.StatusFailed), reason)
	s.publish(ctx, t)
}

// Transfer moves funds between two wallets of this system. The platform
// fee applies unless both wallets belong to the same user.
func (s *TransferService) Transfer(ctx context.Context, req entities.TransferRequest) *entities.TransferResult {
	res, err := s.transfer(ctx, req)
	if err != nil {
		s.logger.ErrorContext(ctx, "Transfer failed",
			"user_id", req.UserID, "source_wallet_id", req.SourceWalletID, "error", err)
		return failureResult(err)
	}
	return res
}

func (s *TransferService) transfer(ctx context.Context, req entities.TransferRequest) (*entities.TransferResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ports.ErrInvalidAmount
	}

	source, err := s.ownedActiveWallet(ctx, req.UserID, req.SourceWalletID)
	if err != nil {
		return nil, err
	}

	destination, err := s.resolveDestination(ctx, req, source.Currency)
	if err != nil {
		return nil, err
	}
	if destination.ID == source.ID {
		return nil, ports.ErrSelfTransfer
	}
	if destination.Currency != source.Currency {
		return nil, ports.ErrCurrencyMismatch
	}

	sameUser := destination.UserID == req.UserID
	fee := decimal.Zero
	if !sameUser {
		fee = PlatformFee(req.Amount)
	}
	totalDebit := req.Amount.Add(fee)

	t := &entities.Transaction{
		ID:                  uuid.New(),
		UserID:              req.UserID,
		Type:                entities.TransactionTransfer,
		Status:              entities.StatusPending,
		Amount:              req.Amount,
		Fee:                 fee,
		Currency:            source.Currency,
		SourceWalletID:      &source.ID,
		DestinationWalletID: &destination.ID,
		Metadata: &entities.TransactionMetadata{
			AmountDebited:  &totalDebit,
			AmountCredited: &req.Amount,
			SameUser:       sameUser,
		},
	}

	fraudResult, err := s.fraud.CheckTransaction(ctx, entities.FraudContext{
		UserID:              req.UserID,
		Amount:              req.Amount,
		Type:                entities.TransactionTransfer,
		SourceWalletID:      &source.ID,
		DestinationWalletID: &destination.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("fraud check unavailable: %w", err)
	}
	t.FraudScore = fraudResult.Score
	t.FraudReasons = fraudResult.Reasons

	switch fraudResult.Decision {
	case entities.DecisionBlocked:
		return s.holdForFraud(ctx, t, fraudResult), nil
	case entities.DecisionReview:
		if err = s.holdTransferFunds(ctx, t); err != nil {
			return nil, err
		}
		return &entities.TransferResult{
			Error:         "transaction held for review",
			TransactionID: &t.ID,
			Status:        entities.StatusReview,
			FraudScore:    fraudResult.Score,
			FraudReasons:  fraudResult.Reasons,
		}, nil
	}

	if err = s.executeTransfer(ctx, t); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Transfer completed",
		"transaction_id", t.ID, "source", source.ID, "destination", destination.ID,
		"amount", req.Amount.String(), "fee", fee.String())

	return resultFromTransaction(t), nil
}

// holdTransferFunds debits the source by amount plus fee and parks the
// transaction in REVIEW. Neither the destination nor the platform wallet
// is credited until the review is resolved.
func (s *TransferService) holdTransferFunds(ctx context.Context, t *entities.Transaction) error {
	if t.CreatedAt.IsZero() {
		if err := s.transactions.InsertTransaction(ctx, t); err != nil {
			return fmt.Errorf("failed to record transfer: %w", err)
		}
	}

	totalDebit := t.Amount.Add(t.Fee)
	err := s.runner.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.wallets.Debit(txCtx, *t.SourceWalletID, totalDebit); err != nil {
			return err
		}
		return s.transactions.UpdateTransactionOutcome(txCtx, t.ID, entities.StatusReview, nil, t.Metadata)
	})
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientBalance) {
			s.recordRejected(ctx, t, entities.StatusFailed, err.Error())
		}
		return err
	}
	t.Status = entities.StatusReview

	s.audit(ctx, t.ID, "held_for_review", string(t.Status), fmt.Sprintf("held %s %s", totalDebit, t.Currency))
	s.publish(ctx, t)

	s.logger.InfoContext(ctx, "Transfer held for review",
		"transaction_id", t.ID, "user_id", t.UserID, "score", t.FraudScore)

	return nil
}

// executeTransfer performs the three-way ledger mutation: debit the source
// by amount plus fee, credit the destination the amount, credit the
// platform wallet the fee, all inside one transaction.
func (s *TransferService) executeTransfer(ctx context.Context, t *entities.Transaction) error {
	totalDebit := t.Amount.Add(t.Fee)
	now := time.Now()

	if t.CreatedAt.IsZero() {
		if err := s.transactions.InsertTransaction(ctx, t); err != nil {
			return fmt.Errorf("failed to record transfer: %w", err)
		}
	}

	err := s.runner.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.wallets.Debit(txCtx, *t.SourceWalletID, totalDebit); err != nil {
			return err
		}
		if err := s.wallets.Credit(txCtx, *t.DestinationWalletID, t.Amount); err != nil {
			return fmt.Errorf("failed to credit destination: %w", err)
		}
		if err := s.creditPlatform(txCtx, t.Currency, t.Fee); err != nil {
			return err
		}
		return s.transactions.UpdateTransactionOutcome(txCtx, t.ID, entities.StatusSuccess, &now, t.Metadata)
	})
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientBalance) {
			s.recordRejected(ctx, t, entities.StatusFailed, err.Error())
		}
		return err
	}

	t.Status = entities.StatusSuccess
	t.ExecutedAt = &now
	s.audit(ctx, t.ID, "ledger_mutation", string(t.Status), fmt.Sprintf("debited %s, credited %s, fee %s", totalDebit, t.Amount, t.Fee))
	s.publish(ctx, t)

	return nil
}

func (s *TransferService) resolveDestination(ctx context.Context, req entities.TransferRequest, currency string) (*entities.Wallet, error) {
	switch {
	case req.DestinationWalletID != nil:
		destination, err := s.wallets.FindWalletByID(ctx, *req.DestinationWalletID)
		if err != nil {
			return nil, fmt.Errorf("failed to find destination wallet: %w", err)
		}
		if destination == nil {
			return nil, ports.ErrWalletNotFound
		}
		if !destination.Active {
			return nil, ports.ErrWalletInactive
		}
		return destination, nil

	case req.RecipientUserID != nil:
		destination, err := s.wallets.FindActiveWalletForUser(ctx, *req.RecipientUserID, currency)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve recipient wallet: %w", err)
		}
		if destination == nil {
			return nil, ports.ErrWalletNotFound
		}
		return destination, nil

	default:
		return nil, ports.ErrWalletNotFound
	}
}

// holdForFraud records a BLOCKED or REVIEW transaction without moving
// funds. Transfers that must hold the debited amount go through
// holdTransferFunds instead. Returns nil when the transaction is accepted.
func (s *TransferService) holdForFraud(ctx context.Context, t *entities.Transaction, fraudResult *entities.FraudResult) *entities.TransferResult {
	switch fraudResult.Decision {
	case entities.DecisionBlocked:
		s.recordRejected(ctx, t, entities.StatusBlocked, "blocked by fraud rules")
		s.logger.WarnContext(ctx, "Transaction blocked by fraud rules",
			"transaction_id", t.ID, "user_id", t.UserID, "score", fraudResult.Score, "reasons", fraudResult.Reasons)
		return &entities.TransferResult{
			Error:         "transaction blocked",
			TransactionID: &t.ID,
			Status:        entities.StatusBlocked,
			FraudScore:    fraudResult.Score,
			FraudReasons:  fraudResult.Reasons,
		}

	case entities.DecisionReview:
		s.recordRejected(ctx, t, entities.StatusReview, "held for manual review")
		s.logger.InfoContext(ctx, "Transaction held for review",
			"transaction_id", t.ID, "user_id", t.UserID, "score", fraudResult.Score)
		return &entities.TransferResult{
			Error:         "transaction held for review",
			TransactionID: &t.ID,
			Status:        entities.StatusReview,
			FraudScore:    fraudResult.Score,
			FraudReasons:  fraudResult.Reasons,
		}
	}
	return nil
}

// ResolveReview applies a manual decision to a transaction held in REVIEW.
// A held transfer already debited its source, so approval releases the
// destination and fee credits while rejection refunds the source. A held
// withdrawal moved nothing yet; approval executes it from scratch. The
// transaction's owner cannot resolve their own review.
func (s *TransferService) ResolveReview(ctx context.Context, actorUserID int64, transactionID uuid.UUID, approve bool, reason string) *entities.TransferResult {
	res, err := s.resolveReview(ctx, actorUserID, transactionID, approve, reason)
	if err != nil {
		s.logger.ErrorContext(ctx, "Review resolution failed",
			"transaction_id", transactionID, "actor_user_id", actorUserID, "approve", approve, "error", err)
		return failureResult(err)
	}
	return res
}

func (s *TransferService) resolveReview(ctx context.Context, actorUserID int64, transactionID uuid.UUID, approve bool, reason string) (*entities.TransferResult, error) {
	t, err := s.transactions.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	if t == nil {
		return nil, ports.ErrTransactionNotFound
	}
	if actorUserID != ports.SystemActor && actorUserID == t.UserID {
		return nil, ports.ErrReviewSelfResolved
	}
	if t.Status != entities.StatusReview {
		return nil, fmt.Errorf("transaction %s is %s, not under review", t.ID, t.Status)
	}

	if !approve {
		switch t.Type {
		case entities.TransactionTransfer:
			if err = s.refundHeldTransfer(ctx, t, reason); err != nil {
				return nil, err
			}
		default:
			now := time.Now()
			metadata := t.Metadata
			if metadata == nil {
				metadata = &entities.TransactionMetadata{}
			}
			metadata.RejectionReason = reason
			if err = s.transactions.UpdateTransactionOutcome(ctx, t.ID, entities.StatusFailed, &now, metadata); err != nil {
				return nil, fmt.Errorf("failed to reject transaction: %w", err)
			}
			t.Status = entities.StatusFailed
		}
		s.audit(ctx, t.ID, "review_resolved", string(t.Status), reason)
		s.publish(ctx, t)
		return resultFromTransaction(t), nil
	}

	switch t.Type {
	case entities.TransactionTransfer:
		if err = s.releaseHeldTransfer(ctx, t); err != nil {
			return nil, err
		}
	case entities.TransactionWithdrawal:
		if err = s.executeWithdrawal(ctx, t, reason); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("cannot resolve review for transaction type %s", t.Type)
	}

	s.audit(ctx, t.ID, "review_resolved", string(t.Status), "approved")
	s.logger.InfoContext(ctx, "Review approved", "transaction_id", t.ID)

	return resultFromTransaction(t), nil
}

// releaseHeldTransfer completes an approved transfer whose source was
// already debited when the hold was placed.
func (s *TransferService) releaseHeldTransfer(ctx context.Context, t *entities.Transaction) error {
	now := time.Now()
	err := s.runner.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.wallets.Credit(txCtx, *t.DestinationWalletID, t.Amount); err != nil {
			return fmt.Errorf("failed to credit destination: %w", err)
		}
		if err := s.creditPlatform(txCtx, t.Currency, t.Fee); err != nil {
			return err
		}
		return s.transactions.UpdateTransactionOutcome(txCtx, t.ID, entities.StatusSuccess, &now, t.Metadata)
	})
	if err != nil {
		return err
	}

	t.Status = entities.StatusSuccess
	t.ExecutedAt = &now
	return nil
}

// refundHeldTransfer returns the amount plus fee held by a rejected
// review to the source wallet.
func (s *TransferService) refundHeldTransfer(ctx context.Context, t *entities.Transaction, reason string) error {
	now := time.Now()
	metadata := t.Metadata
	if metadata == nil {
		metadata = &entities.TransactionMetadata{}
	}
	metadata.RejectionReason = reason

	err := s.runner.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.wallets.Credit(txCtx, *t.SourceWalletID, t.Amount.Add(t.Fee)); err != nil {
			return fmt.Errorf("failed to refund source: %w", err)
		}
		return s.transactions.UpdateTransactionOutcome(txCtx, t.ID, entities.StatusFailed, &now, metadata)
	})
	if err != nil {
		return err
	}

	t.Status = entities.StatusFailed
	return nil
}

// HandlePayoutPaid finalizes a withdrawal after the provider confirmed the
// payout. Repeated webhook deliveries are no-ops.
func (s *TransferService) HandlePayoutPaid(ctx context.Context, providerPayoutID string) *entities.TransferResult {
	res, err := s.handlePayoutPaid(ctx, providerPayoutID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Payout confirmation failed",
			"provider_payout_id", providerPayoutID, "error", err)
		return failureResult(err)
	}
	return res
}

func (s *TransferService) handlePayoutPaid(ctx context.Context, providerPayoutID string) (*entities.TransferResult, error) {
	payout, err := s.payouts.FindPayoutByProviderID(ctx, providerPayoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to find payout: %w", err)
	}
	if payout == nil {
		return nil, ports.ErrTransactionNotFound
	}

	moved, err := s.payouts.UpdatePayoutStatus(ctx, providerPayoutID, entities.PayoutPaid)
	if err != nil {
		return nil, fmt.Errorf("failed to update payout: %w", err)
	}

	t, err := s.transactions.FindTransactionByID(ctx, payout.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	if t == nil {
		return nil, ports.ErrTransactionNotFound
	}
	// A redelivery after the payout already flipped is a no-op unless the
	// first delivery died before finalizing the transaction.
	if !moved && (payout.Status != entities.PayoutPaid || t.Status == entities.StatusSuccess) {
		return resultFromTransaction(t), nil
	}

	now := time.Now()
	if err = s.transactions.UpdateTransactionStatus(ctx, t.ID, entities.StatusSuccess, &now); err != nil {
		return nil, fmt.Errorf("failed to finalize withdrawal: %w", err)
	}
	t.Status = entities.StatusSuccess
	t.ExecutedAt = &now

	s.audit(ctx, t.ID, "payout_paid", string(t.Status), providerPayoutID)
	s.publish(ctx, t)

	s.logger.InfoContext(ctx, "Withdrawal finalized", "transaction_id", t.ID, "provider_payout_id", providerPayoutID)

	return resultFromTransaction(t), nil
}

// HandlePayoutFailed reverses the withdrawal debit after the provider
// reported a failed payout.
func (s *TransferService) HandlePayoutFailed(ctx context.Context, providerPayoutID string, reason string) *entities.TransferResult {
	res, err := s.handlePayoutFailed(ctx, providerPayoutID, reason)
	if err != nil {
		s.logger.ErrorContext(ctx, "Payout failure handling failed",
			"provider_payout_id", providerPayoutID, "error", err)
		return failureResult(err)
	}
	return res
}

func (s *TransferService) handlePayoutFailed(ctx context.Context, providerPayoutID string, reason string) (*entities.TransferResult, error) {
	payout, err := s.payouts.FindPayoutByProviderID(ctx, providerPayoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to find payout: %w", err)
	}
	if payout == nil {
		return nil, ports.ErrTransactionNotFound
	}

	moved, err := s.payouts.UpdatePayoutStatus(ctx, providerPayoutID, entities.PayoutFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to update payout: %w", err)
	}

	t, err := s.transactions.FindTransactionByID(ctx, payout.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	if t == nil {
		return nil, ports.ErrTransactionNotFound
	}
	// Ignore redeliveries only once the refund actually committed; a
	// payout stuck on failed with an unreversed transaction retries the
	// compensation.
	if !moved && (payout.Status != entities.PayoutFailed || t.Status == entities.StatusFailed) {
		return resultFromTransaction(t), nil
	}

	s.compensateWithdrawal(ctx, t, fmt.Sprintf("payout failed: %s", reason))
	if t.Status != entities.StatusFailed {
		return nil, fmt.Errorf("failed to compensate withdrawal %s", t.ID)
	}

	return resultFromTransaction(t), nil
}

func (s *TransferService) ownedActiveWallet(ctx context.Context, userID int64, walletID uuid.UUID) (*entities.Wallet, error) {
	wallet, err := s.wallets.FindWalletByID(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}
	if wallet == nil {
		return nil, ports.ErrWalletNotFound
	}
	if wallet.UserID != userID {
		return nil, ports.ErrNotWalletOwner
	}
	if !wallet.Active {
		return nil, ports.ErrWalletInactive
	}
	return wallet, nil
}

func (s *TransferService) creditPlatform(ctx context.Context, currency string, fee decimal.Decimal) error {
	if !fee.IsPositive() {
		return nil
	}
	platform, err := s.wallets.GetOrCreatePlatformWallet(ctx, currency)
	if err != nil {
		return fmt.Errorf("failed to resolve platform wallet: %w", err)
	}
	if err = s.wallets.Credit(ctx, platform.ID, fee); err != nil {
		return fmt.Errorf("failed to credit platform fee: %w", err)
	}
	return nil
}

func (s *TransferService) debitPlatform(ctx context.Context, currency string, fee decimal.Decimal) error {
	if !fee.IsPositive() {
		return nil
	}
	platform, err := s.wallets.GetOrCreatePlatformWallet(ctx, currency)
	if err != nil {
		return fmt.Errorf("failed to resolve platform wallet: %w", err)
	}
	if err = s.wallets.Debit(ctx, platform.ID, fee); err != nil {
		return fmt.Errorf("failed to reverse platform fee: %w", err)
	}
	return nil
}

// recordRejected persists a transaction that never moved funds, for the
// audit trail and the user's history.
func (s *TransferService) recordRejected(ctx context.Context, t *entities.Transaction, status entities.TransactionStatus, reason string) {
	t.Status = status
	if t.Metadata == nil {
		t.Metadata = &entities.TransactionMetadata{}
	}
	t.Metadata.RejectionReason = reason

	if t.CreatedAt.IsZero() {
		if err := s.transactions.InsertTransaction(ctx, t); err != nil {
			s.logger.ErrorContext(ctx, "Failed to record rejected transaction",
				"transaction_id", t.ID, "status", status, "error", err)
			return
		}
	} else {
		if err := s.transactions.UpdateTransactionOutcome(ctx, t.ID, status, nil, t.Metadata); err != nil {
			s.logger.ErrorContext(ctx, "Failed to update rejected transaction",
				"transaction_id", t.ID, "status", status, "error", err)
			return
		}
	}

	s.audit(ctx, t.ID, "rejected", string(status), reason)
	s.publish(ctx, t)
}

func (s *TransferService) audit(ctx context.Context, transactionID uuid.UUID, step, status, data string) {
	if err := s.trail.AppendLog(ctx, transactionID, step, status, data); err != nil {
		s.logger.WarnContext(ctx, "Failed to append transaction log",
			"transaction_id", transactionID, "step", step, "error", err)
	}
}

func (s *TransferService) publish(ctx context.Context, t *entities.Transaction) {
	if s.events == nil {
		return
	}
	s.events.PublishTransactionEvent(ctx, entities.TransactionEvent{
		TransactionID: t.ID,
		UserID:        t.UserID,
		Type:          t.Type,
		Status:        t.Status,
		Amount:        t.Amount,
		Fee:           t.Fee,
		Currency:      t.Currency,
		FraudScore:    t.FraudScore,
		OccurredAt:    time.Now(),
	})
}

func resultFromTransaction(t *entities.Transaction) *entities.TransferResult {
	res := &entities.TransferResult{
		Success:       t.Status == entities.StatusSuccess || t.Status == entities.StatusPending || t.Status == entities.StatusProcessing,
		TransactionID: &t.ID,
		Status:        t.Status,
		FraudScore:    t.FraudScore,
		FraudReasons:  t.FraudReasons,
	}
	if !res.Success {
		switch t.Status {
		case entities.StatusBlocked:
			res.Error = "transaction blocked"
		case entities.StatusReview:
			res.Error = "transaction held for review"
		default:
			if t.Metadata != nil && t.Metadata.RejectionReason != "" {
				res.Error = t.Metadata.RejectionReason
			} else {
				res.Error = "transaction failed"
			}
		}
	}
	return res
}

// failureResult translates internal errors into a safe client-facing
// result. Known domain conditions keep their message, everything else is
// reported generically.
func failureResult(err error) *entities.TransferResult {
	known := []error{
		ports.ErrWalletNotFound,
		ports.ErrWalletInactive,
		ports.ErrWalletLimitReached,
		ports.ErrNotWalletOwner,
		ports.ErrInsufficientBalance,
		ports.ErrCurrencyMismatch,
		ports.ErrCurrencyUnsupported,
		ports.ErrSelfTransfer,
		ports.ErrInvalidAmount,
		ports.ErrTransactionNotFound,
		ports.ErrReviewSelfResolved,
		ports.ErrReferenceReplayed,
		ports.ErrPaymentNotSucceeded,
	}
	for _, candidate := range known {
		if errors.Is(err, candidate) {
			return &entities.TransferResult{Error: candidate.Error()}
		}
	}
	return &entities.TransferResult{Error: "internal error"}
}
