package usecases

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/entities"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type walletDirectory interface {
	FindWalletByID(ctx context.Context, id uuid.UUID) (*entities.Wallet, error)
	FindWalletsByUser(ctx context.Context, userID int64) ([]entities.Wallet, error)
	CountWalletsByUser(ctx context.Context, userID int64) (int, error)
	CreateWallet(ctx context.Context, wallet *entities.Wallet) error
}

type transactionHistory interface {
	FindTransactionsByUser(ctx context.Context, userID int64, limit int) ([]entities.Transaction, error)
}

// WalletService manages wallet lifecycle and per-user lookups.
type WalletService struct {
	logger       *slog.Logger
	wallets      walletDirectory
	transactions transactionHistory
}

func NewWalletService(logger *slog.Logger, wallets walletDirectory, transactions transactionHistory) *WalletService {
	return &WalletService{
		logger:       logger,
		wallets:      wallets,
		transactions: transactions,
	}
}

// CreateWallet opens a wallet for the user. Each user holds at most
// MaxWalletsPerUser wallets, each in one of the supported currencies.
func (s *WalletService) CreateWallet(ctx context.Context, userID int64, name, currency string) (*entities.Wallet, error) {
	if _, ok := entities.SupportedCurrencies[currency]; !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrCurrencyUnsupported, currency)
	}

	count, err := s.wallets.CountWalletsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count wallets: %w", err)
	}
	if count >= ports.MaxWalletsPerUser {
		return nil, ports.ErrWalletLimitReached
	}

	if name == "" {
		name = fmt.Sprintf("%s wallet", currency)
	}

	wallet := &entities.Wallet{
		ID:       uuid.New(),
		UserID:   userID,
		Name:     name,
		Currency: currency,
		Balance:  decimal.Zero,
		Active:   true,
	}

	if err = s.wallets.CreateWallet(ctx, wallet); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	s.logger.InfoContext(ctx, "Wallet created",
		"wallet_id", wallet.ID, "user_id", userID, "currency", currency)

	return wallet, nil
}

// GetWallet returns the wallet only when it belongs to the requesting user.
func (s *WalletService) GetWallet(ctx context.Context, userID int64, walletID uuid.UUID) (*entities.Wallet, error) {
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
	return wallet, nil
}

func (s *WalletService) GetUserWallets(ctx context.Context, userID int64) ([]entities.Wallet, error) {
	wallets, err := s.wallets.FindWalletsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

func (s *WalletService) GetUserTransactions(ctx context.Context, userID int64, limit int) ([]entities.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	transactions, err := s.transactions.FindTransactionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return transactions, nil
}
