package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/entities"
)

const sweepBatchSize = 100

// ReviewResolver worker auto-rejects transactions that sat in manual
// review for too long, releasing them from limbo without moving funds.
type ReviewResolver struct {
	logger       *slog.Logger
	transactions ports.SweepableTransactions
	transfers    ports.TransferService

	// Age after which a REVIEW transaction is rejected automatically
	maxAge time.Duration

	// How often to run the sweep
	sweepInterval time.Duration
}

// NewReviewResolver creates a new review resolver worker
func NewReviewResolver(
	logger *slog.Logger,
	transactions ports.SweepableTransactions,
	transfers ports.TransferService,
	maxAge time.Duration,
	sweepInterval time.Duration,
) *ReviewResolver {
	return &ReviewResolver{
		logger:        logger,
		transactions:  transactions,
		transfers:     transfers,
		maxAge:        maxAge,
		sweepInterval: sweepInterval,
	}
}

// Start begins the periodic sweep of expired reviews
func (rr *ReviewResolver) Start(ctx context.Context) {
	rr.logger.Info("Starting review resolver worker",
		"max_age", rr.maxAge.String(),
		"sweep_interval", rr.sweepInterval.String())

	if err := rr.sweep(ctx); err != nil {
		rr.logger.Error("Initial review sweep failed", "error", err)
	}

	ticker := time.NewTicker(rr.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rr.logger.Info("Review resolver worker stopped")
			return
		case <-ticker.C:
			if err := rr.sweep(ctx); err != nil {
				rr.logger.Error("Review sweep failed", "error", err)
			}
		}
	}
}

func (rr *ReviewResolver) sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-rr.maxAge)

	expired, err := rr.transactions.FindStuckTransactions(ctx, entities.StatusReview, "", cutoff, sweepBatchSize)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	rr.logger.Info("Rejecting expired reviews", "count", len(expired))

	for _, t := range expired {
		result := rr.transfers.ResolveReview(ctx, ports.SystemActor, t.ID, false, "review window expired")
		if result.Status != entities.StatusFailed {
			rr.logger.Error("Failed to auto-reject expired review",
				"transaction_id", t.ID, "error", result.Error)
			continue
		}
		rr.logger.Info("Auto-rejected expired review",
			"transaction_id", t.ID, "created_at", t.CreatedAt)
	}

	return nil
}
