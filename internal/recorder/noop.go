package recorder

import (
	"context"

	"GapPullback/internal/model"
)

// NoopRecorder is a no-op implementation used when no ledger store is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordSignal(context.Context, *model.Signal) error     { return nil }
func (n *NoopRecorder) RecordTrade(context.Context, *model.Trade) error       { return nil }
func (n *NoopRecorder) UpsertPosition(context.Context, *model.Position) error { return nil }
func (n *NoopRecorder) Close() error                                          { return nil }
