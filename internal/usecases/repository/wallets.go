package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/entities"
	"github.com/moneta-app/wallet/backend/pkg/database"
)

// WalletsRepository is the ledger store for wallet balances. Balance
// mutations are single guarded UPDATE statements so that the balance check
// and the mutation are one atomic step even under concurrent transfers.
type WalletsRepository struct {
	logger     *slog.Logger
	db         tx.DBGetter
	transactor *tx.Transactor
}

// NewWalletsRepository creates a new wallet repository.
func NewWalletsRepository(logger *slog.Logger, pg *database.Postgres) *WalletsRepository {
	return &WalletsRepository{
		logger:     logger,
		db:         pg.DBGetter,
		transactor: pg.Transactor,
	}
}

// FindWalletByID retrieves a wallet by its id.
func (r *WalletsRepository) FindWalletByID(ctx context.Context, id uuid.UUID) (*entities.Wallet, error) {
	query := `SELECT id, user_id, name, currency, balance, active, created_at
	            FROM wallets
	           WHERE id = $1`

	var wallet entities.Wallet
	err := r.db(ctx).QueryRow(ctx, query, id).Scan(
		&wallet.ID,
		&wallet.UserID,
		&wallet.Name,
		&wallet.Currency,
		&wallet.Balance,
		&wallet.Active,
		&wallet.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet by id: %w", err)
	}

	return &wallet, nil
}

// FindWalletsByUser retrieves all wallets owned by a user, oldest first.
func (r *WalletsRepository) FindWalletsByUser(ctx context.Context, userID int64) ([]entities.Wallet, error) {
	query := `SELECT id, user_id, name, currency, balance, active, created_at
	            FROM wallets
	           WHERE user_id = $1
	           ORDER BY created_at`

	rows, err := r.db(ctx).Query(ctx, query, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets by user id: %w", err)
	}
	defer rows.Close()

	wallets, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Wallet])
	if err != nil {
		r.logger.Error("failed to collect user wallets rows", "error", err)
		return nil, fmt.Errorf("failed to collect user wallets rows: %w", err)
	}

	return wallets, nil
}

// FindActiveWalletForUser resolves a recipient's wallet by user id and
// currency, oldest active wallet first.
func (r *WalletsRepository) FindActiveWalletForUser(ctx context.Context, userID int64, currency string) (*entities.Wallet, error) {
	query := `SELECT id, user_id, name, currency, balance, active, created_at
	            FROM wallets
	           WHERE user_id = $1 AND currency = $2 AND active
	           ORDER BY created_at
	           LIMIT 1`

	var wallet entities.Wallet
	err := r.db(ctx).QueryRow(ctx, query, userID, currency).Scan(
		&wallet.ID,
		&wallet.UserID,
		&wallet.Name,
		&wallet.Currency,
		&wallet.Balance,
		&wallet.Active,
		&wallet.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve wallet for user %d: %w", userID, err)
	}

	return &wallet, nil
}

// CountWalletsByUser returns how many wallets a user owns.
func (r *WalletsRepository) CountWalletsByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM wallets WHERE user_id = $1", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count wallets for user %d: %w", userID, err)
	}
	return count, nil
}

// GetUserAccountAge returns how long ago the user's first wallet was
// created. A user with no wallets has zero age.
func (r *WalletsRepository) GetUserAccountAge(ctx context.Context, userID int64) (time.Duration, error) {
	var earliest *time.Time
	err := r.db(ctx).QueryRow(ctx, "SELECT MIN(created_at) FROM wallets WHERE user_id = $1", userID).Scan(&earliest)
	if err != nil {
		return 0, fmt.Errorf("failed to get account age for user %d: %w", userID, err)
	}
	if earliest == nil {
		return 0, nil
	}
	return time.Since(*earliest), nil
}

// CreateWallet inserts a new wallet with a zero balance.
func (r *WalletsRepository) CreateWallet(ctx context.Context, wallet *entities.Wallet) error {
	query := `INSERT INTO wallets (id, user_id, name, currency, balance, active, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db(ctx).Exec(ctx, query,
		wallet.ID, wallet.UserID, wallet.Name, wallet.Currency, wallet.Balance, wallet.Active, wallet.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert wallet: %w", err)
	}

	r.logger.Info("Wallet created", "wallet_id", wallet.ID, "user_id", wallet.UserID, "currency", wallet.Currency)
	return nil
}

// Credit adds amount to a wallet balance.
func (r *WalletsRepository) Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	tag, err := r.db(ctx).Exec(ctx,
		"UPDATE wallets SET balance = balance + $2 WHERE id = $1", id, amount)
	if err != nil {
		return fmt.Errorf("failed to credit wallet %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrWalletNotFound
	}
	return nil
}

// Debit subtracts amount from a wallet balance. The balance guard is part
// of the statement: zero affected rows means the funds were not there at
// commit time, not merely at check time.
func (r *WalletsRepository) Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	tag, err := r.db(ctx).Exec(ctx,
		"UPDATE wallets SET balance = balance - $2 WHERE id = $1 AND balance >= $2", id, amount)
	if err != nil {
		return fmt.Errorf("failed to debit wallet %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrInsufficientBalance
	}
	return nil
}

// GetOrCreatePlatformWallet returns the fee-accumulating wallet for a
// currency, lazily creating it on first use.
func (r *WalletsRepository) GetOrCreatePlatformWallet(ctx context.Context, currency string) (*entities.Wallet, error) {
	query := `INSERT INTO wallets (id, user_id, name, currency, balance, active, created_at)
	          VALUES ($1, $2, $3, $4, 0, TRUE, $5)
	          ON CONFLICT (user_id, currency) WHERE user_id = 0 DO UPDATE SET user_id = wallets.user_id
	          RETURNING id, user_id, name, currency, balance, active, created_at`

	var wallet entities.Wallet
	err := r.db(ctx).QueryRow(ctx, query,
		uuid.New(), entities.PlatformUserID, "platform fees "+currency, currency, time.Now()).Scan(
		&wallet.ID,
		&wallet.UserID,
		&wallet.Name,
		&wallet.Currency,
		&wallet.Balance,
		&wallet.Active,
		&wallet.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create platform wallet: %w", err)
	}

	return &wallet, nil
}
