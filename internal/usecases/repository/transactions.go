package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/wallet/backend/internal/entities"
	"github.com/moneta-app/wallet/backend/pkg/database"
)

const transactionColumns = `id, user_id, type, status, amount, fee, currency,
	source_wallet_id, destination_wallet_id, fraud_score, fraud_reasons,
	external_system_url, external_wallet_id, inter_wallet_ref, payment_id,
	metadata, created_at, executed_at`

// TransactionsRepository stores immutable transaction records and answers
// the aggregate history queries the fraud engine evaluates rules against.
type TransactionsRepository struct {
	logger     *slog.Logger
	db         tx.DBGetter
	transactor *tx.Transactor
	builder    sq.StatementBuilderType
}

// NewTransactionsRepository creates a new transaction repository.
func NewTransactionsRepository(logger *slog.Logger, pg *database.Postgres) *TransactionsRepository {
	return &TransactionsRepository{
		logger:     logger,
		db:         pg.DBGetter,
		transactor: pg.Transactor,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// InsertTransaction stores a new transaction record.
func (r *TransactionsRepository) InsertTransaction(ctx context.Context, t *entities.Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	query := `INSERT INTO transactions
		(id, user_id, type, status, amount, fee, currency,
		 source_wallet_id, destination_wallet_id, fraud_score, fraud_reasons,
		 external_system_url, external_wallet_id, inter_wallet_ref, payment_id,
		 metadata, created_at, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.db(ctx).Exec(ctx, query,
		t.ID, t.UserID, t.Type, t.Status, t.Amount, t.Fee, t.Currency,
		t.SourceWalletID, t.DestinationWalletID, t.FraudScore, t.FraudReasons,
		t.ExternalSystemURL, t.ExternalWalletID, t.InterWalletRef, t.PaymentID,
		t.Metadata, t.CreatedAt, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	r.logger.Info("Transaction recorded",
		"transaction_id", t.ID, "type", t.Type, "status", t.Status, "amount", t.Amount.String())
	return nil
}

// UpdateTransactionStatus transitions a transaction's status; the executed
// timestamp is set only when provided.
func (r *TransactionsRepository) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status entities.TransactionStatus, executedAt *time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE transactions SET status = $2, executed_at = COALESCE($3, executed_at) WHERE id = $1",
		id, status, executedAt)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}

// UpdateTransactionOutcome transitions status and replaces metadata in the
// same statement, used by compensation and callback paths.
func (r *TransactionsRepository) UpdateTransactionOutcome(ctx context.Context, id uuid.UUID, status entities.TransactionStatus, executedAt *time.Time, metadata *entities.TransactionMetadata) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE transactions SET status = $2, executed_at = COALESCE($3, executed_at), metadata = COALESCE($4, metadata) WHERE id = $1",
		id, status, executedAt, metadata)
	if err != nil {
		return fmt.Errorf("failed to update transaction outcome: %w", err)
	}
	return nil
}

// SetInterWalletRef attaches the protocol reference to a transaction.
func (r *TransactionsRepository) SetInterWalletRef(ctx context.Context, id uuid.UUID, ref string) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE transactions SET inter_wallet_ref = $2 WHERE id = $1", id, ref)
	if err != nil {
		return fmt.Errorf("failed to set inter-wallet reference: %w", err)
	}
	return nil
}

func (r *TransactionsRepository) findOne(ctx context.Context, where string, arg any) (*entities.Transaction, error) {
	query := fmt.Sprintf("SELECT %s FROM transactions WHERE %s LIMIT 1", transactionColumns, where)

	rows, err := r.db(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	defer rows.Close()

	t, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Transaction])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect transaction row: %w", err)
	}
	return &t, nil
}

// FindTransactionByID retrieves a transaction by id.
func (r *TransactionsRepository) FindTransactionByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error) {
	return r.findOne(ctx, "id = $1", id)
}

// FindTransactionByPaymentID retrieves a transaction linked to an external
// payment identifier, used for deposit idempotency.
func (r *TransactionsRepository) FindTransactionByPaymentID(ctx context.Context, paymentID string) (*entities.Transaction, error) {
	return r.findOne(ctx, "payment_id = $1", paymentID)
}

// FindTransactionByReference retrieves a transaction by its inter-wallet
// reference, used for replay rejection and validate/status correlation.
func (r *TransactionsRepository) FindTransactionByReference(ctx context.Context, ref string) (*entities.Transaction, error) {
	return r.findOne(ctx, "inter_wallet_ref = $1", ref)
}

// FindTransactionsByUser retrieves a user's transaction history, newest
// first.
func (r *TransactionsRepository) FindTransactionsByUser(ctx context.Context, userID int64, limit int) ([]entities.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, transactionColumns)

	rows, err := r.db(ctx).Query(ctx, query, userID, limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions by user: %w", err)
	}
	defer rows.Close()

	transactions, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Transaction])
	if err != nil {
		r.logger.Error("failed to collect transactions rows", "error", err)
		return nil, fmt.Errorf("failed to collect transactions rows: %w", err)
	}

	return transactions, nil
}

// CountTransactionsSince counts a user's transactions created after the
// given instant. Used by velocity rules.
func (r *TransactionsRepository) CountTransactionsSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	query, args, err := r.builder.
		Select("COUNT(*)").
		From("transactions").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.GtOrEq{"created_at": since}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build velocity query: %w", err)
	}

	var count int64
	if err = r.db(ctx).QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions since %s: %w", since, err)
	}
	return count, nil
}

// SumTransactionAmountsSince sums a user's transaction amounts in the given
// statuses created after the given instant. Used by daily-limit rules.
func (r *TransactionsRepository) SumTransactionAmountsSince(ctx context.Context, userID int64, since time.Time, statuses []entities.TransactionStatus) (decimal.Decimal, error) {
	query, args, err := r.builder.
		Select("COALESCE(SUM(amount), 0)").
		From("transactions").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Eq{"status": statuses}).
		Where(sq.GtOrEq{"created_at": since}).
		ToSql()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build daily sum query: %w", err)
	}

	var sum decimal.Decimal
	if err = r.db(ctx).QueryRow(ctx, query, args...).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions since %s: %w", since, err)
	}
	return sum, nil
}

// CountInterWalletTransactions counts a user's successful inter-wallet
// transactions, optionally narrowed to one external system.
func (r *TransactionsRepository) CountInterWalletTransactions(ctx context.Context, userID int64, externalSystemURL string) (int64, error) {
	builder := r.builder.
		Select("COUNT(*)").
		From("transactions").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Eq{"type": entities.TransactionInterWallet}).
		Where(sq.Eq{"status": entities.StatusSuccess})

	if externalSystemURL != "" {
		builder = builder.Where(sq.Eq{"external_system_url": externalSystemURL})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build inter-wallet count query: %w", err)
	}

	var count int64
	if err = r.db(ctx).QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count inter-wallet transactions: %w", err)
	}
	return count, nil
}

// FindStuckTransactions returns transactions held in a transient status
// since before the cutoff, oldest first. An empty type matches any type.
// Used by the sweep workers.
func (r *TransactionsRepository) FindStuckTransactions(ctx context.Context, status entities.TransactionStatus, txType entities.TransactionType, olderThan time.Time, limit int) ([]entities.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions
	   WHERE status = $1 AND ($2 = '' OR type = $2) AND created_at < $3
	   ORDER BY created_at
	   LIMIT $4`, transactionColumns)

	rows, err := r.db(ctx).Query(ctx, query, status, txType, olderThan, limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck transactions: %w", err)
	}
	defer rows.Close()

	transactions, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Transaction])
	if err != nil {
		r.logger.Error("failed to collect stuck transactions rows", "error", err)
		return nil, fmt.Errorf("failed to collect stuck transactions rows: %w", err)
	}

	return transactions, nil
}
