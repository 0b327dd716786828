package recorder

import (
	"context"
	"errors"

	"GapPullback/internal/model"
)

// Multi fans each record out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) RecordSignal(ctx context.Context, s *model.Signal) error {
	return m.each(func(r Recorder) error { return r.RecordSignal(ctx, s) })
}

func (m Multi) RecordTrade(ctx context.Context, t *model.Trade) error {
	return m.each(func(r Recorder) error { return r.RecordTrade(ctx, t) })
}

func (m Multi) UpsertPosition(ctx context.Context, p *model.Position) error {
	return m.each(func(r Recorder) error { return r.UpsertPosition(ctx, p) })
}

func (m Multi) Close() error {
	return m.each(func(r Recorder) error { return r.Close() })
}

func (m Multi) each(fn func(Recorder) error) error {
	var errs []error
	for _, r := range m {
		if err := fn(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
