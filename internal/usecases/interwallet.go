package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/entities"
	"github.com/moneta-app/wallet/backend/internal/interwallet"
)

type interWalletTransactionStore interface {
	transactionStore
	FindTransactionByReference(ctx context.Context, ref string) (*entities.Transaction, error)
}

type auditReader interface {
	auditTrail
	ListLogsByTransaction(ctx context.Context, transactionID uuid.UUID) ([]entities.TransactionLog, error)
}

// InterWalletService implements both sides of the signed transfer protocol:
// outgoing transfers to remote systems and the three endpoints this system
// exposes to them. Every inbound payload is signature-checked before it is
// even parsed.
type InterWalletService struct {
	logger       *slog.Logger
	runner       transactionRunner
	wallets      walletLedger
	transactions interWalletTransactionStore
	trail        auditReader
	fraud        ports.FraudService
	rates        ports.RateService
	client       ports.ProtocolClient
	signer       *interwallet.Signer
	events       ports.EventPublisher
	systemName   string
	systemURL    string
}

func NewInterWalletService(
	logger *slog.Logger,
	runner transactionRunner,
	wallets walletLedger,
	transactions interWalletTransactionStore,
	trail auditReader,
	fraud ports.FraudService,
	rates ports.RateService,
	client ports.ProtocolClient,
	signer *interwallet.Signer,
	events ports.EventPublisher,
	systemName, systemURL string,
) *InterWalletService {
	return &InterWalletService{
		logger:       logger,
		runner:       runner,
		wallets:      wallets,
		transactions: transactions,
		trail:        trail,
		fraud:        fraud,
		rates:        rates,
		client:       client,
		signer:       signer,
		events:       events,
		systemName:   systemName,
		systemURL:    systemURL,
	}
}

// SendExternal transfers funds to a wallet in a remote system. The local
// debit happens before the remote call; a rejected or failed remote call
// reverses it.
func (s *InterWalletService) SendExternal(ctx context.Context, req entities.ExternalTransferRequest) *entities.TransferResult {
	res, err := s.sendExternal(ctx, req)
	if err != nil {
		s.logger.ErrorContext(ctx, "External transfer failed",
			"user_id", req.UserID, "external_system", req.ExternalSystemURL, "error", err)
		return failureResult(err)
	}
	return res
}

func (s *InterWalletService) sendExternal(ctx context.Context, req entities.ExternalTransferRequest) (*entities.TransferResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ports.ErrInvalidAmount
	}

	wallet, err := s.wallets.FindWalletByID(ctx, req.SourceWalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}
	if wallet == nil {
		return nil, ports.ErrWalletNotFound
	}
	if wallet.UserID != req.UserID {
		return nil, ports.ErrNotWalletOwner
	}
	if !wallet.Active {
		return nil, ports.ErrWalletInactive
	}

	reference, err := interwallet.NewReference(s.systemName)
	if err != nil {
		return nil, fmt.Errorf("failed to generate reference: %w", err)
	}

	fee := PlatformFee(req.Amount)
	net := req.Amount.Sub(fee)
	totalDebit := req.Amount.Add(fee)

	t := &entities.Transaction{
		ID:                uuid.New(),
		UserID:            req.UserID,
		Type:              entities.TransactionInterWallet,
		Status:            entities.StatusPending,
		Amount:            req.Amount,
		Fee:               fee,
		Currency:          wallet.Currency,
		SourceWalletID:    &wallet.ID,
		ExternalSystemURL: &req.ExternalSystemURL,
		ExternalWalletID:  &req.ExternalWalletID,
		InterWalletRef:    &reference,
		Metadata: &entities.TransactionMetadata{
			AmountDebited:  &totalDebit,
			AmountCredited: &net,
		},
	}

	fraudResult, err := s.fraud.CheckTransaction(ctx, entities.FraudContext{
		UserID:            req.UserID,
		Amount:            req.Amount,
		Type:              entities.TransactionInterWallet,
		SourceWalletID:    &wallet.ID,
		InterWallet:       true,
		ExternalSystemURL: req.ExternalSystemURL,
	})
	if err != nil {
		return nil, fmt.Errorf("fraud check unavailable: %w", err)
	}
	t.FraudScore = fraudResult.Score
	t.FraudReasons = fraudResult.Reasons

	if fraudResult.Decision != entities.DecisionAccepted {
		status := entities.StatusBlocked
		reason := "blocked by fraud rules"
		message := "transaction blocked"
		if fraudResult.Decision == entities.DecisionReview {
			status = entities.StatusReview
			reason = "held for manual review"
			message = "transaction held for review"
		}
		s.recordHeld(ctx, t, status, reason)
		return &entities.TransferResult{
			Error:         message,
			TransactionID: &t.ID,
			Status:        status,
			FraudScore:    fraudResult.Score,
			FraudReasons:  fraudResult.Reasons,
		}, nil
	}

	if err = s.transactions.InsertTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to record transfer: %w", err)
	}

	// Debit before the remote call so the funds cannot be spent while the
	// transfer is in flight.
	err = s.runner.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.wallets.Debit(txCtx, wallet.ID, totalDebit); err != nil {
			return err
		}
		return s.creditPlatformFee(txCtx, wallet.Currency, fee)
	})
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientBalance) {
			metadata := t.Metadata
			metadata.RejectionReason = err.Error()
			if updateErr := s.transactions.UpdateTransactionOutcome(ctx, t.ID, entities.StatusFailed, nil, metadata); updateErr != nil {
				s.logger.ErrorContext(ctx, "Failed to mark transfer failed", "transaction_id", t.ID, "error", updateErr)
			}
		}
		return nil, err
	}
	s.audit(ctx, t.ID, "debit", string(entities.StatusPending), fmt.Sprintf("reserved %s %s for %s", totalDebit, wallet.Currency, reference))

	response, err := s.client.SendTransfer(ctx, req.ExternalSystemURL, entities.InterWalletTransferRequest{
		Reference:           reference,
		SourceSystem:        s.systemName,
		SourceSystemURL:     s.systemURL,
		SourceWalletID:      wallet.ID.String(),
		DestinationWalletID: req.ExternalWalletID,
		Amount:              net,
		Currency:            wallet.Currency,
		Description:         req.Description,
		Timestamp:           time.Now().UTC(),
	})
	if err != nil {
		s.compensateExternal(ctx, t, fmt.Sprintf("remote system error: %v", err))
		return resultFromTransaction(t), nil
	}
	if response.Status != entities.InterWalletAccepted {
		s.compensateExternal(ctx, t, fmt.Sprintf("rejected by remote system: %s", response.Reason))
		return resultFromTransaction(t), nil
	}

	if err = s.transactions.UpdateTransactionStatus(ctx, t.ID, entities.StatusProcessing, nil); err != nil {
		return nil, fmt.Errorf("failed to mark transfer processing: %w", err)
	}
	t.Status = entities.StatusProcessing

	s.audit(ctx, t.ID, "remote_accepted", string(t.Status), reference)
	s.publishEvent(ctx, t)

	s.logger.InfoContext(ctx, "External transfer accepted by remote system",
		"transaction_id", t.ID, "reference", reference, "external_system", req.ExternalSystemURL)

	return resultFromTransaction(t), nil
}

// compensateExternal refunds the debited amount plus fee after a remote
// failure and reverses the platform fee, then fails the transaction.
func (s *InterWalletService) compensateExternal(ctx context.Context, t *entities.Transaction, reason string) {
	now := time.Now()
	metadata := t.Metadata
	if metadata == nil {
		metadata = &entities.TransactionMetadata{}
	}
	metadata.RejectionReason = reason

	err := s.runner.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.wallets.Credit(txCtx, *t.SourceWalletID, t.Amount.Add(t.Fee)); err != nil {
			return err
		}
		if err := s.debitPlatformFee(txCtx, t.Currency, t.Fee); err != nil {
			return err
		}
		return s.transactions.UpdateTransactionOutcome(txCtx, t.ID, entities.StatusFailed, &now, metadata)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "CRITICAL: external transfer compensation failed",
			"transaction_id", t.ID, "error", err)
		return
	}

	t.Status = entities.StatusFailed
	t.Metadata = metadata
	s.audit(ctx, t.ID, "compensation", string(entities.StatusFailed), reason)
	s.publishEvent(ctx, t)

	s.logger.WarnContext(ctx, "External transfer reversed", "transaction_id", t.ID, "reason", reason)
}

// HandleIncoming processes a signed transfer from a remote system. Replays
// of an already-processed reference return the original acknowledgment.
func (s *InterWalletService) HandleIncoming(ctx context.Context, payload []byte, signature string) (*entities.InterWalletTransferResponse, error) {
	if err := s.signer.Verify(json.RawMessage(payload), signature); err != nil {
		return nil, err
	}

	var req entities.InterWalletTransferRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("failed to parse transfer request: %w", err)
	}

	if req.Reference == "" {
		return s.signedResponse(entities.InterWalletRejected, req.Reference, "missing reference")
	}
	if !req.Amount.IsPositive() {
		return s.signedResponse(entities.InterWalletRejected, req.Reference, "amount must be positive")
	}

	existing, err := s.transactions.FindTransactionByReference(ctx, req.Reference)
	if err != nil {
		return nil, fmt.Errorf("failed to check reference: %w", err)
	}
	if existing != nil {
		return s.replayAck(req.Reference, existing)
	}

	walletID, err := uuid.Parse(req.DestinationWalletID)
	if err != nil {
		return s.signedResponse(entities.InterWalletRejected, req.Reference, "invalid destination wallet id")
	}
	wallet, err := s.wallets.FindWalletByID(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to find destination wallet: %w", err)
	}
	if wallet == nil {
		return s.signedResponse(entities.InterWalletRejected, req.Reference, "destination wallet not found")
	}
	if !wallet.Active {
		return s.signedResponse(entities.InterWalletRejected, req.Reference, "destination wallet is not active")
	}

	credited := req.Amount
	metadata := &entities.TransactionMetadata{AmountCredited: &credited}
	if req.Currency != wallet.Currency {
		converted, rate, convErr := s.rates.Convert(ctx, req.Amount, req.Currency, wallet.Currency)
		if convErr != nil {
			s.logger.WarnContext(ctx, "Incoming transfer currency not convertible",
				"reference", req.Reference, "from", req.Currency, "to", wallet.Currency, "error", convErr)
			return s.signedResponse(entities.InterWalletRejected, req.Reference, "unsupported currency")
		}
		credited = converted
		metadata.AmountCredited = &credited
		metadata.ExchangeRate = &rate
	}

	now := time.Now()
	t := &entities.Transaction{
		ID:                  uuid.New(),
		UserID:              wallet.UserID,
		Type:                entities.TransactionInterWallet,
		Status:              entities.StatusSuccess,
		Amount:              credited,
		Fee:                 decimal.Zero,
		Currency:            wallet.Currency,
		DestinationWalletID: &wallet.ID,
		ExternalSystemURL:   &req.SourceSystemURL,
		ExternalWalletID:    &req.SourceWalletID,
		InterWalletRef:      &req.Reference,
		Metadata:            metadata,
		ExecutedAt:          &now,
	}

	err = s.runner.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.transactions.InsertTransaction(txCtx, t); err != nil {
			return fmt.Errorf("failed to record incoming transfer: %w", err)
		}
		return s.wallets.Credit(txCtx, wallet.ID, credited)
	})
	if err != nil {
		// The unique reference index turns a concurrent replay into an
		// insert conflict; answer with the stored outcome.
		stored, findErr := s.transactions.FindTransactionByReference(ctx, req.Reference)
		if findErr == nil && stored != nil {
			return s.replayAck(req.Reference, stored)
		}
		return nil, err
	}

	s.audit(ctx, t.ID, "incoming_credit", string(t.Status), fmt.Sprintf("credited %s %s from %s", credited, wallet.Currency, req.SourceSystem))
	s.publishEvent(ctx, t)

	s.logger.InfoContext(ctx, "Incoming transfer credited",
		"transaction_id", t.ID, "reference", req.Reference, "source_system", req.SourceSystem,
		"amount", credited.String(), "currency", wallet.Currency)

	return s.signedResponse(entities.InterWalletAccepted, req.Reference, "")
}

// replayAck answers a repeated reference with the outcome of the first
// delivery instead of processing it again.
func (s *InterWalletService) replayAck(reference string, t *entities.Transaction) (*entities.InterWalletTransferResponse, error) {
	s.logger.Warn("Replayed inter-wallet reference", "reference", reference, "transaction_id", t.ID)

	if t.Status == entities.StatusFailed || t.Status == entities.StatusBlocked {
		reason := "transfer previously rejected"
		if t.Metadata != nil && t.Metadata.RejectionReason != "" {
			reason = t.Metadata.RejectionReason
		}
		return s.signedResponse(entities.InterWalletRejected, reference, reason)
	}
	return s.signedResponse(entities.InterWalletAccepted, reference, "")
}

// HandleValidate settles a transfer this system sent earlier: the remote
// system reports whether it finally accepted or rejected the reference.
func (s *InterWalletService) HandleValidate(ctx context.Context, payload []byte, signature string) (*entities.InterWalletTransferResponse, error) {
	if err := s.signer.Verify(json.RawMessage(payload), signature); err != nil {
		return nil, err
	}

	var req entities.InterWalletValidateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("failed to parse validate request: %w", err)
	}

	t, err := s.transactions.FindTransactionByReference(ctx, req.Reference)
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	if t == nil {
		return s.signedResponse(entities.InterWalletRejected, req.Reference, "unknown reference")
	}
	if t.SourceWalletID == nil {
		return s.signedResponse(entities.InterWalletRejected, req.Reference, "reference is not an outgoing transfer")
	}
	if t.Status.IsTerminal() {
		return s.replayAck(req.Reference, t)
	}

	switch req.Status {
	case entities.InterWalletAccepted:
		now := time.Now()
		if err = s.transactions.UpdateTransactionStatus(ctx, t.ID, entities.StatusSuccess, &now); err != nil {
			return nil, fmt.Errorf("failed to finalize transfer: %w", err)
		}
		t.Status = entities.StatusSuccess
		t.ExecutedAt = &now
		s.audit(ctx, t.ID, "remote_settled", string(t.Status), req.Reference)
		s.publishEvent(ctx, t)

	case entities.InterWalletRejected:
		reason := req.Reason
		if reason == "" {
			reason = "rejected by remote system"
		}
		s.compensateExternal(ctx, t, reason)

	default:
		return s.signedResponse(entities.InterWalletRejected, req.Reference, fmt.Sprintf("unknown status %q", req.Status))
	}

	return s.signedResponse(entities.InterWalletAccepted, req.Reference, "")
}

// SettleOutgoing finalizes an outgoing transfer whose remote outcome was
// learned out of band, by the reconciliation sweep. Success completes the
// transfer; failure reverses the debit.
func (s *InterWalletService) SettleOutgoing(ctx context.Context, transactionID uuid.UUID, success bool, reason string) error {
	t, err := s.transactions.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("failed to find transaction: %w", err)
	}
	if t == nil {
		return ports.ErrTransactionNotFound
	}
	inFlight := t.Status == entities.StatusProcessing || t.Status == entities.StatusPending
	if !inFlight || t.SourceWalletID == nil {
		return fmt.Errorf("transaction %s is not an in-flight outgoing transfer", transactionID)
	}

	if !success {
		s.compensateExternal(ctx, t, reason)
		if t.Status != entities.StatusFailed {
			return fmt.Errorf("failed to reverse transfer %s", transactionID)
		}
		return nil
	}

	now := time.Now()
	if err = s.transactions.UpdateTransactionStatus(ctx, t.ID, entities.StatusSuccess, &now); err != nil {
		return fmt.Errorf("failed to finalize transfer: %w", err)
	}
	t.Status = entities.StatusSuccess
	t.ExecutedAt = &now
	s.audit(ctx, t.ID, "reconciled", string(t.Status), reason)
	s.publishEvent(ctx, t)
	return nil
}

// Status reports the signed state of a transfer, including its audit steps.
func (s *InterWalletService) Status(ctx context.Context, payload []byte, signature string) (*entities.InterWalletStatusResponse, error) {
	if err := s.signer.Verify(json.RawMessage(payload), signature); err != nil {
		return nil, err
	}

	var req entities.InterWalletStatusRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("failed to parse status request: %w", err)
	}

	t, err := s.transactions.FindTransactionByReference(ctx, req.Reference)
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	if t == nil {
		return nil, ports.ErrTransactionNotFound
	}

	steps, err := s.trail.ListLogsByTransaction(ctx, t.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to load transaction logs", "transaction_id", t.ID, "error", err)
	}

	response := &entities.InterWalletStatusResponse{
		Reference:  req.Reference,
		Status:     t.Status,
		Amount:     t.Amount,
		Currency:   t.Currency,
		CreatedAt:  t.CreatedAt,
		ExecutedAt: t.ExecutedAt,
		Steps:      steps,
	}
	sig, err := s.signer.Sign(response)
	if err != nil {
		return nil, fmt.Errorf("failed to sign status response: %w", err)
	}
	response.Signature = sig
	return response, nil
}

// SystemInfo describes this system for protocol discovery. The response is
// public and unsigned.
func (s *InterWalletService) SystemInfo() entities.SystemInfo {
	currencies := make([]string, 0, len(entities.SupportedCurrencies))
	for currency := range entities.SupportedCurrencies {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	return entities.SystemInfo{
		SystemName:          s.systemName,
		SystemURL:           s.systemURL,
		ProtocolVersion:     ports.ProtocolVersion,
		SupportedCurrencies: currencies,
		TransferEndpoint:    ports.TransferEndpoint,
		ValidateEndpoint:    ports.ValidateEndpoint,
		StatusEndpoint:      ports.StatusEndpoint,
	}
}

func (s *InterWalletService) signedResponse(status, reference, reason string) (*entities.InterWalletTransferResponse, error) {
	response := &entities.InterWalletTransferResponse{
		Status:    status,
		Reference: reference,
		Reason:    reason,
	}
	sig, err := s.signer.Sign(response)
	if err != nil {
		return nil, fmt.Errorf("failed to sign response: %w", err)
	}
	response.Signature = sig
	return response, nil
}

func (s *InterWalletService) recordHeld(ctx context.Context, t *entities.Transaction, status entities.TransactionStatus, reason string) {
	t.Status = status
	if t.Metadata == nil {
		t.Metadata = &entities.TransactionMetadata{}
	}
	t.Metadata.RejectionReason = reason

	if err := s.transactions.InsertTransaction(ctx, t); err != nil {
		s.logger.ErrorContext(ctx, "Failed to record held transaction",
			"transaction_id", t.ID, "status", status, "error", err)
		return
	}
	s.audit(ctx, t.ID, "rejected", string(status), reason)
	s.publishEvent(ctx, t)
}

func (s *InterWalletService) creditPlatformFee(ctx context.Context, currency string, fee decimal.Decimal) error {
	if !fee.IsPositive() {
		return nil
	}
	platform, err := s.wallets.GetOrCreatePlatformWallet(ctx, currency)
	if err != nil {
		return fmt.Errorf("failed to resolve platform wallet: %w", err)
	}
	return s.wallets.Credit(ctx, platform.ID, fee)
}

func (s *InterWalletService) debitPlatformFee(ctx context.Context, currency string, fee decimal.Decimal) error {
	if !fee.IsPositive() {
		return nil
	}
	platform, err := s.wallets.GetOrCreatePlatformWallet(ctx, currency)
	if err != nil {
		return fmt.Errorf("failed to resolve platform wallet: %w", err)
	}
	return s.wallets.Debit(ctx, platform.ID, fee)
}

func (s *InterWalletService) audit(ctx context.Context, transactionID uuid.UUID, step, status, data string) {
	if err := s.trail.AppendLog(ctx, transactionID, step, status, data); err != nil {
		s.logger.WarnContext(ctx, "Failed to append transaction log",
			"transaction_id", transactionID, "step", step, "error", err)
	}
}

func (s *InterWalletService) publishEvent(ctx context.Context, t *entities.Transaction) {
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
