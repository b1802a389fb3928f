package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/moneta-app/wallet/backend/internal/entities"
	"github.com/moneta-app/wallet/backend/pkg/database"
)

// PayoutsRepository links withdrawal transactions to provider payouts.
type PayoutsRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

// NewPayoutsRepository creates a new payout repository.
func NewPayoutsRepository(logger *slog.Logger, pg *database.Postgres) *PayoutsRepository {
	return &PayoutsRepository{
		logger: logger,
		db:     pg.DBGetter,
	}
}

// InsertPayout stores a new payout record.
func (r *PayoutsRepository) InsertPayout(ctx context.Context, payout *entities.Payout) error {
	query := `INSERT INTO payouts (id, provider_payout_id, transaction_id, wallet_id, amount, fee, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db(ctx).Exec(ctx, query,
		payout.ID, payout.ProviderPayoutID, payout.TransactionID, payout.WalletID,
		payout.Amount, payout.Fee, payout.Status, payout.CreatedAt, payout.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payout: %w", err)
	}
	return nil
}

// FindPayoutByProviderID retrieves a payout by the provider's identifier.
func (r *PayoutsRepository) FindPayoutByProviderID(ctx context.Context, providerPayoutID string) (*entities.Payout, error) {
	query := `SELECT id, provider_payout_id, transaction_id, wallet_id, amount, fee, status, created_at, updated_at
	            FROM payouts
	           WHERE provider_payout_id = $1`

	var payout entities.Payout
	err := r.db(ctx).QueryRow(ctx, query, providerPayoutID).Scan(
		&payout.ID,
		&payout.ProviderPayoutID,
		&payout.TransactionID,
		&payout.WalletID,
		&payout.Amount,
		&payout.Fee,
		&payout.Status,
		&payout.CreatedAt,
		&payout.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query payout by provider id: %w", err)
	}

	return &payout, nil
}

// UpdatePayoutStatus moves a pending payout to a terminal status. Returns
// false when the payout already left pending, which makes the provider
// callbacks idempotent.
func (r *PayoutsRepository) UpdatePayoutStatus(ctx context.Context, providerPayoutID string, status entities.PayoutStatus) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		"UPDATE payouts SET status = $2, updated_at = $3 WHERE provider_payout_id = $1 AND status = $4",
		providerPayoutID, status, time.Now(), entities.PayoutPending)
	if err != nil {
		return false, fmt.Errorf("failed to update payout status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
