package events

import (
	"context"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/entities"
)

// Fanout delivers each transaction event to every configured sink.
type Fanout struct {
	sinks []ports.EventPublisher
}

func NewFanout(sinks ...ports.EventPublisher) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) PublishTransactionEvent(ctx context.Context, event entities.TransactionEvent) {
	for _, sink := range f.sinks {
		sink.PublishTransactionEvent(ctx, event)
	}
}
