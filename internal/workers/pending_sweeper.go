package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/entities"
)

// PendingSweeper worker reconciles outgoing inter-wallet transfers stuck in
// PENDING or PROCESSING: it asks the remote system for the final outcome
// and settles or reverses the transfer accordingly. PENDING covers a crash
// between the local debit and the remote acknowledgment.
type PendingSweeper struct {
	logger       *slog.Logger
	transactions ports.SweepableTransactions
	client       ports.ProtocolClient
	interWallet  ports.InterWalletSettler

	// Age after which a PROCESSING transfer is reconciled
	maxAge time.Duration

	// How often to run the sweep
	sweepInterval time.Duration
}

// NewPendingSweeper creates a new pending sweeper worker
func NewPendingSweeper(
	logger *slog.Logger,
	transactions ports.SweepableTransactions,
	client ports.ProtocolClient,
	interWallet ports.InterWalletSettler,
	maxAge time.Duration,
	sweepInterval time.Duration,
) *PendingSweeper {
	return &PendingSweeper{
		logger:        logger,
		transactions:  transactions,
		client:        client,
		interWallet:   interWallet,
		maxAge:        maxAge,
		sweepInterval: sweepInterval,
	}
}

// Start begins the periodic reconciliation sweep
func (ps *PendingSweeper) Start(ctx context.Context) {
	ps.logger.Info("Starting pending sweeper worker",
		"max_age", ps.maxAge.String(),
		"sweep_interval", ps.sweepInterval.String())

	ticker := time.NewTicker(ps.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ps.logger.Info("Pending sweeper worker stopped")
			return
		case <-ticker.C:
			if err := ps.sweep(ctx); err != nil {
				ps.logger.Error("Pending sweep failed", "error", err)
			}
		}
	}
}

func (ps *PendingSweeper) sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-ps.maxAge)

	var stuck []entities.Transaction
	for _, status := range []entities.TransactionStatus{entities.StatusPending, entities.StatusProcessing} {
		batch, err := ps.transactions.FindStuckTransactions(ctx,
			status, entities.TransactionInterWallet, cutoff, sweepBatchSize)
		if err != nil {
			return err
		}
		stuck = append(stuck, batch...)
	}

	for _, t := range stuck {
		if t.InterWalletRef == nil || t.ExternalSystemURL == nil || t.SourceWalletID == nil {
			continue
		}

		status, err := ps.client.GetStatus(ctx, *t.ExternalSystemURL, *t.InterWalletRef)
		if err != nil {
			ps.logger.Warn("Remote status check failed",
				"transaction_id", t.ID, "reference", *t.InterWalletRef, "error", err)
			continue
		}

		switch status.Status {
		case entities.StatusSuccess:
			if err = ps.interWallet.SettleOutgoing(ctx, t.ID, true, ""); err != nil {
				ps.logger.Error("Failed to settle transfer", "transaction_id", t.ID, "error", err)
				continue
			}
			ps.logger.Info("Settled stuck transfer", "transaction_id", t.ID, "reference", *t.InterWalletRef)

		case entities.StatusFailed, entities.StatusBlocked:
			if err = ps.interWallet.SettleOutgoing(ctx, t.ID, false, "rejected by remote system"); err != nil {
				ps.logger.Error("Failed to reverse transfer", "transaction_id", t.ID, "error", err)
				continue
			}
			ps.logger.Info("Reversed stuck transfer", "transaction_id", t.ID, "reference", *t.InterWalletRef)

		default:
			// Remote side is still working on it, check again next sweep.
		}
	}

	return nil
}
