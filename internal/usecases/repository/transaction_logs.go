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

	"github.com/moneta-app/wallet/backend/internal/entities"
	"github.com/moneta-app/wallet/backend/pkg/database"
)

// TransactionLogsRepository is the append-only audit trail of pipeline
// steps. Rows are written once and never mutated.
type TransactionLogsRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

// NewTransactionLogsRepository creates a new transaction log repository.
func NewTransactionLogsRepository(logger *slog.Logger, pg *database.Postgres) *TransactionLogsRepository {
	return &TransactionLogsRepository{
		logger: logger,
		db:     pg.DBGetter,
	}
}

// AppendLog records one pipeline step for a transaction.
func (r *TransactionLogsRepository) AppendLog(ctx context.Context, transactionID uuid.UUID, step, status, data string) error {
	_, err := r.db(ctx).Exec(ctx,
		"INSERT INTO transaction_logs (transaction_id, step, status, data, created_at) VALUES ($1, $2, $3, $4, $5)",
		transactionID, step, status, data, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append transaction log: %w", err)
	}
	return nil
}

// ListLogsByTransaction returns the ordered step records for a transaction.
func (r *TransactionLogsRepository) ListLogsByTransaction(ctx context.Context, transactionID uuid.UUID) ([]entities.TransactionLog, error) {
	query := `SELECT id, transaction_id, step, status, data, created_at
	            FROM transaction_logs
	           WHERE transaction_id = $1
	           ORDER BY id`

	rows, err := r.db(ctx).Query(ctx, query, transactionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction logs: %w", err)
	}
	defer rows.Close()

	logs, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.TransactionLog])
	if err != nil {
		r.logger.Error("failed to collect transaction log rows", "error", err)
		return nil, fmt.Errorf("failed to collect transaction log rows: %w", err)
	}

	return logs, nil
}
