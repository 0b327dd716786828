package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"GapPullback/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2025, 3, 14, 9, 20, 0, 0, time.UTC)

func openSQLite(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "ledger.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSQLite_SignalsAppend(t *testing.T) {
	r := openSQLite(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		s := &model.Signal{Symbol: "A", Type: model.SignalHighFormed, At: t0, Price: d("10150"), HighPrice: d("10150")}
		if err := r.RecordSignal(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	n, err := r.CountSignals(ctx, "A", model.SignalHighFormed)
	if err != nil || n != 2 {
		t.Fatalf("count = %d, %v; want 2", n, err)
	}
}

func TestSQLite_TradeUpsertStopsAtFinal(t *testing.T) {
	r := openSQLite(t)
	ctx := context.Background()
	tr := &model.Trade{ClientOrderID: "c1", Symbol: "A", Side: model.SideBuy, OrderType: model.OrderMarket,
		RequestedQty: 100, RequestedPrice: d("10000"), Status: model.TradePending, CreatedAt: t0, UpdatedAt: t0}
	if err := r.RecordTrade(ctx, tr); err != nil {
		t.Fatal(err)
	}

	tr.FilledQty, tr.FilledPrice, tr.Status = 100, d("10000"), model.TradeFilled
	if err := r.RecordTrade(ctx, tr); err != nil {
		t.Fatal(err)
	}

	late := *tr
	late.FilledQty, late.Status = 40, model.TradePartial
	if err := r.RecordTrade(ctx, &late); err != nil {
		t.Fatal(err)
	}

	status, filled, err := r.TradeStatus(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if status != model.TradeFilled || filled != 100 {
		t.Errorf("status=%s filled=%d, want FILLED 100", status, filled)
	}
}

func TestSQLite_PositionUpsertAndPnL(t *testing.T) {
	r := openSQLite(t)
	ctx := context.Background()
	p := &model.Position{ID: "p1", Symbol: "A", TradingDate: "2025-03-14", Status: model.PositionOpen,
		EntryPrice: d("10000"), EntryQty: 100, RemainingQty: 100, OpenedAt: t0}
	if err := r.UpsertPosition(ctx, p); err != nil {
		t.Fatal(err)
	}
	p.Status, p.RemainingQty, p.RealizedPnL, p.ClosedAt = model.PositionClosed, 0, d("7500"), t0.Add(time.Hour)
	if err := r.UpsertPosition(ctx, p); err != nil {
		t.Fatal(err)
	}
	pnl, err := r.ClosedPnL(ctx, "2025-03-14")
	if err != nil || !pnl.Equal(d("7500")) {
		t.Fatalf("pnl = %s, %v", pnl, err)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafka_KeyedEnvelope(t *testing.T) {
	fw := &fakeWriter{}
	k := &KafkaRecorder{w: fw, topic: "ledger"}
	if err := k.RecordTrade(context.Background(), &model.Trade{ClientOrderID: "c1", Symbol: "A", UpdatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("messages = %d", len(fw.msgs))
	}
	m := fw.msgs[0]
	if string(m.Key) != "A" || m.Topic != "ledger" {
		t.Errorf("key=%q topic=%q", m.Key, m.Topic)
	}
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		t.Fatal(err)
	}
	var tr model.Trade
	if err := json.Unmarshal(env.Payload, &tr); err != nil {
		t.Fatal(err)
	}
	if env.Kind != KindTrade || tr.ClientOrderID != "c1" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestNewKafkaRecorder_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaRecorder(nil, "x"); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	mem := NewMemoryRecorder()
	boom := errors.New("boom")
	m := Multi{mem, &KafkaRecorder{w: &fakeWriter{err: boom}}}
	err := m.RecordSignal(context.Background(), &model.Signal{Symbol: "A", Type: model.SignalGapDetected})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(mem.SignalsOf(model.SignalGapDetected)) != 1 {
		t.Error("memory recorder missed the signal")
	}
}

func TestMemory_FinalTradeImmutable(t *testing.T) {
	mem := NewMemoryRecorder()
	ctx := context.Background()
	_ = mem.RecordTrade(ctx, &model.Trade{ClientOrderID: "c1", Status: model.TradeCancelled})
	_ = mem.RecordTrade(ctx, &model.Trade{ClientOrderID: "c1", Status: model.TradeFilled, FilledQty: 5})
	if got := mem.TradeList(); len(got) != 1 || got[0].Status != model.TradeCancelled {
		t.Errorf("trades = %+v", got)
	}
}
