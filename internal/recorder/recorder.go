package recorder

import (
	"context"

	"GapPullback/internal/model"
)

// Recorder is the append-only signal and trade ledger.
// Callers treat writes as fire-and-forget: errors are logged, never propagated.
type Recorder interface {
	RecordSignal(ctx context.Context, s *model.Signal) error
	// RecordTrade inserts a trade or updates it in place while it is not final.
	RecordTrade(ctx context.Context, t *model.Trade) error
	UpsertPosition(ctx context.Context, p *model.Position) error
	Close() error
}
