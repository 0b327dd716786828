package risk

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"GapPullback/internal/apperr"
	"GapPullback/internal/broker"
	"GapPullback/internal/config"
	"GapPullback/internal/model"
	"GapPullback/internal/recorder"
	"GapPullback/internal/retry"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var day = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func testParams() Params {
	return Params{
		MaxPositions:        2,
		MaxPositionSize:     d("1000000"),
		PositionSizeRatio:   d("0.1"),
		StopLossPercent:     d("1.5"),
		TrailingStopPercent: d("0.8"),
		TP1Percent:          d("1.5"),
		TP1Ratio:            d("0.5"),
		TP2Ratio:            d("0.5"),
		TP3Percent:          d("3"),
		FinalExit:           config.Clock{Hour: 11, Minute: 20},
		OrderType:           model.OrderMarket,
	}
}

type fixture struct {
	m   *Manager
	pb  *broker.PaperBroker
	rec *recorder.MemoryRecorder
}

func newFixture(t *testing.T, prm Params) *fixture {
	t.Helper()
	pb := broker.NewPaperBroker(d("100000000"), decimal.Zero)
	ex := broker.NewExecutor(pb, time.Second, retry.Policy{Attempts: 2, BaseDelay: time.Millisecond},
		20*time.Millisecond, time.Millisecond, zerolog.Nop())
	rec := recorder.NewMemoryRecorder()
	m := NewManager(prm, ex, rec, nil, zerolog.Nop())
	if err := m.Reset("2025-03-14"); err != nil {
		t.Fatal(err)
	}
	return &fixture{m: m, pb: pb, rec: rec}
}

func cand(sym, high string) *model.Candidate {
	return &model.Candidate{Symbol: sym, Stage: model.StageEntryReady, HighPrice: d(high)}
}

func (f *fixture) open(t *testing.T, sym string) *model.Position {
	t.Helper()
	p, err := f.m.Open(context.Background(), cand(sym, "10200"), d("10000"), at(9, 20))
	if err != nil {
		t.Fatalf("open %s: %v", sym, err)
	}
	if p == nil {
		t.Fatalf("open %s: no fill", sym)
	}
	return p
}

func (f *fixture) pos(t *testing.T, sym string) model.Position {
	t.Helper()
	p, ok := f.m.Position(sym)
	if !ok {
		t.Fatalf("no position for %s", sym)
	}
	return p
}

func TestOpen_SetsLevels(t *testing.T) {
	f := newFixture(t, testParams())
	p := f.open(t, "A")

	if p.EntryQty != 100 || !p.EntryPrice.Equal(d("10000")) {
		t.Fatalf("entry = %d @ %s", p.EntryQty, p.EntryPrice)
	}
	if !p.StopLossPrice.Equal(d("9850")) || !p.TP1Price.Equal(d("10150")) || !p.TP2Price.Equal(d("10200")) {
		t.Errorf("levels sl=%s tp1=%s tp2=%s", p.StopLossPrice, p.TP1Price, p.TP2Price)
	}
	if p.Status != model.PositionOpen || f.m.PendingCount() != 0 {
		t.Errorf("status=%s pending=%d", p.Status, f.m.PendingCount())
	}
	trades := f.rec.TradeList()
	if len(trades) != 1 || trades[0].Status != model.TradeFilled || trades[0].PositionID != p.ID {
		t.Errorf("ledger trades = %+v", trades)
	}
}

func TestExitLadder(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.open(t, "A")

	if err := f.m.Evaluate(ctx, "A", d("10150"), at(9, 30)); err != nil {
		t.Fatal(err)
	}
	p := f.pos(t, "A")
	if p.RemainingQty != 50 || !p.RealizedPnL.Equal(d("7500")) || p.Status != model.PositionPartial {
		t.Fatalf("after TP1: remaining=%d pnl=%s status=%s", p.RemainingQty, p.RealizedPnL, p.Status)
	}
	if !p.TP1Done || !p.TrailingActive || !p.TrailingHigh.Equal(d("10150")) {
		t.Fatalf("trailing not armed: %+v", p)
	}

	// TP2 sells half the remainder and arms TP3.
	if err := f.m.Evaluate(ctx, "A", d("10300"), at(9, 35)); err != nil {
		t.Fatal(err)
	}
	p = f.pos(t, "A")
	if p.RemainingQty != 25 || !p.TP2Done || !p.TP3Price.Equal(d("10609")) {
		t.Fatalf("after TP2: remaining=%d tp3=%s", p.RemainingQty, p.TP3Price)
	}

	// No exit: the trailing high moves up.
	if err := f.m.Evaluate(ctx, "A", d("10400"), at(9, 40)); err != nil {
		t.Fatal(err)
	}
	if p = f.pos(t, "A"); !p.TrailingHigh.Equal(d("10400")) || p.RemainingQty != 25 {
		t.Fatalf("trailing high = %s", p.TrailingHigh)
	}

	// 10300 <= 10400 * 0.992 = 10316.8.
	if err := f.m.Evaluate(ctx, "A", d("10300"), at(9, 45)); err != nil {
		t.Fatal(err)
	}
	p = f.pos(t, "A")
	if p.Status != model.PositionClosed || p.CloseReason != model.CloseTrailing {
		t.Fatalf("status=%s reason=%s", p.Status, p.CloseReason)
	}
	if !p.RealizedPnL.Equal(d("22500")) || !p.RealizedPnLPercent.Equal(d("2.25")) {
		t.Errorf("pnl=%s pct=%s", p.RealizedPnL, p.RealizedPnLPercent)
	}
	if p.ExitQty != p.EntryQty {
		t.Errorf("exit qty %d != entry %d", p.ExitQty, p.EntryQty)
	}
	if n := len(f.rec.SignalsOf(model.SignalTrailingExit)); n != 1 {
		t.Errorf("trailing exit signals = %d", n)
	}
	if f.m.OpenCount() != 0 {
		t.Errorf("open count = %d", f.m.OpenCount())
	}
}

func TestDecide_StopLossBeatsTakeProfit(t *testing.T) {
	prm := testParams()
	prm.StopLossPercent = d("-2") // stop sits above TP1
	f := newFixture(t, prm)
	f.open(t, "A")

	if err := f.m.Evaluate(context.Background(), "A", d("10200"), at(9, 30)); err != nil {
		t.Fatal(err)
	}
	p := f.pos(t, "A")
	if p.CloseReason != model.CloseStopLoss || p.RemainingQty != 0 || p.TP1Done {
		t.Fatalf("reason=%s remaining=%d tp1=%v", p.CloseReason, p.RemainingQty, p.TP1Done)
	}
}

func TestDecide_TimeExitFirst(t *testing.T) {
	p := &model.Position{Status: model.PositionOpen, EntryQty: 100, RemainingQty: 100,
		StopLossPrice: d("9850"), TP1Price: d("10150")}
	dec, ok := Decide(p, testParams(), d("9000"), 100, at(11, 20))
	if !ok || dec.Reason != model.CloseTimeExit || dec.Qty != 100 {
		t.Fatalf("decision = %+v, %v", dec, ok)
	}
	if _, ok := Decide(p, testParams(), d("10000"), 100, at(11, 19)); ok {
		t.Error("no exit expected inside the band before final exit")
	}
}

func TestDecide_TP1RoundsUpToOneShare(t *testing.T) {
	p := &model.Position{Status: model.PositionOpen, EntryQty: 1, RemainingQty: 1,
		StopLossPrice: d("9850"), TP1Price: d("10150")}
	dec, ok := Decide(p, testParams(), d("10150"), 1, at(10, 0))
	if !ok || dec.Qty != 1 {
		t.Fatalf("decision = %+v", dec)
	}
}

func TestClose_RejectsOversizeWithoutMutation(t *testing.T) {
	f := newFixture(t, testParams())
	f.open(t, "A")
	before := f.pos(t, "A")
	submits := f.pb.Submits()

	err := f.m.Close(context.Background(), "A", 101, d("10000"), model.CloseManual, at(9, 30))
	if !apperr.IsValidation(err) {
		t.Fatalf("err = %v", err)
	}
	if after := f.pos(t, "A"); after != before {
		t.Errorf("position changed: %+v", after)
	}
	if f.pb.Submits() != submits {
		t.Error("order submitted for rejected close")
	}
	if err := f.m.Close(context.Background(), "B", 1, d("1"), model.CloseManual, at(9, 30)); !apperr.IsValidation(err) {
		t.Errorf("unknown symbol: %v", err)
	}
}

func TestOpen_CapacityAndDuplicates(t *testing.T) {
	prm := testParams()
	prm.MaxPositions = 1
	f := newFixture(t, prm)
	f.open(t, "A")

	ctx := context.Background()
	if _, err := f.m.Open(ctx, cand("A", "10200"), d("10000"), at(9, 21)); !apperr.IsValidation(err) {
		t.Errorf("duplicate symbol: %v", err)
	}
	if _, err := f.m.Open(ctx, cand("B", "10200"), d("10000"), at(9, 21)); !apperr.IsValidation(err) {
		t.Errorf("capacity: %v", err)
	}
}

func TestOpen_ZeroSizeRejected(t *testing.T) {
	f := newFixture(t, testParams())
	_, err := f.m.Open(context.Background(), cand("A", "0"), d("2000000"), at(9, 20))
	if !apperr.IsValidation(err) {
		t.Fatalf("err = %v", err)
	}
	if f.pb.Submits() != 0 {
		t.Error("zero-size order was submitted")
	}
}

func TestOpen_SubmitFailureLeavesNoPosition(t *testing.T) {
	f := newFixture(t, testParams())
	f.pb.FailNext(apperr.Permanent("SubmitOrder", "A", errors.New("rejected")))
	_, err := f.m.Open(context.Background(), cand("A", "10200"), d("10000"), at(9, 20))
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := f.m.Position("A"); ok || f.m.PendingCount() != 0 {
		t.Error("failed entry left state behind")
	}
	if tr := f.rec.TradeList(); len(tr) != 1 || tr[0].Status != model.TradeCancelled {
		t.Errorf("ledger = %+v", tr)
	}
}

func TestOpen_LostRepliesNeverDoubleBuy(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.pb.LoseReplies(2) // both attempts time out after the broker took the order

	p, err := f.m.Open(ctx, cand("A", "10200"), d("10000"), at(9, 20))
	if err != nil || p != nil {
		t.Fatalf("open = %v, %v", p, err)
	}
	if f.m.PendingCount() != 1 {
		t.Fatalf("pending = %d, want the unconfirmed buy", f.m.PendingCount())
	}

	// The next tick tries again.
	if _, err := f.m.Open(ctx, cand("A", "10200"), d("10000"), at(9, 21)); !apperr.IsValidation(err) {
		t.Fatalf("second open: %v", err)
	}
	if err := f.m.Reconcile(ctx, at(9, 21)); err != nil {
		t.Fatal(err)
	}

	if f.pb.Submits() != 1 {
		t.Fatalf("broker orders = %d, want 1", f.pb.Submits())
	}
	if got := f.pos(t, "A"); got.EntryQty != 100 || f.m.PendingCount() != 0 {
		t.Fatalf("position = %+v pending=%d", got, f.m.PendingCount())
	}
	cash, _ := f.pb.AvailableCash(ctx)
	if !cash.Equal(d("99000000")) {
		t.Errorf("broker cash = %s", cash)
	}
	if tr := f.rec.TradeList(); len(tr) != 1 || tr[0].Status != model.TradeFilled || tr[0].OrderID == "" {
		t.Errorf("ledger = %+v", tr)
	}
}

func TestOpen_TimeoutBeforeBrokerIsPlacedOnReconcile(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		f.pb.FailNext(apperr.Transient("SubmitOrder", "A", context.DeadlineExceeded))
	}
	if _, err := f.m.Open(ctx, cand("A", "10200"), d("10000"), at(9, 20)); err != nil {
		t.Fatal(err)
	}
	if f.pb.Submits() != 0 {
		t.Fatalf("submits = %d", f.pb.Submits())
	}
	if err := f.m.Reconcile(ctx, at(9, 21)); err != nil {
		t.Fatal(err)
	}
	if f.pb.Submits() != 1 || f.pos(t, "A").EntryQty != 100 {
		t.Fatalf("submits = %d", f.pb.Submits())
	}
}

func TestClose_LostRepliesNeverDoubleSell(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.open(t, "A")

	f.pb.LoseReplies(2)
	if err := f.m.CloseAll(ctx, model.CloseTimeExit, at(11, 20)); err != nil {
		t.Fatal(err)
	}
	if err := f.m.CloseAll(ctx, model.CloseTimeExit, at(11, 21)); err != nil {
		t.Fatal(err)
	}
	if f.pb.Submits() != 2 {
		t.Fatalf("broker orders = %d, want buy + one sell", f.pb.Submits())
	}
	if err := f.m.Reconcile(ctx, at(11, 22)); err != nil {
		t.Fatal(err)
	}
	p := f.pos(t, "A")
	if !p.Closed() || p.ExitQty != 100 || f.pb.Submits() != 2 {
		t.Fatalf("position = %+v submits=%d", p, f.pb.Submits())
	}
}

func TestReset_CarriesUnsettledPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	f := newFixture(t, testParams())
	f.m.PersistTo(path)
	ctx := context.Background()
	f.open(t, "A")
	f.open(t, "B")
	f.pb.Hold("B")
	_ = f.m.Close(ctx, "B", 100, d("10000"), model.CloseManual, at(11, 0))

	if err := f.m.Reset("2025-03-17"); err != nil {
		t.Fatal(err)
	}
	if n := f.m.OpenCount(); n != 2 {
		t.Fatalf("open after rollover = %d, want 2", n)
	}
	if f.m.PendingCount() != 1 {
		t.Fatalf("pending after rollover = %d", f.m.PendingCount())
	}
	b, err := LoadBook(path)
	if err != nil {
		t.Fatal(err)
	}
	if b.Date != "2025-03-17" || len(b.Positions) != 2 {
		t.Fatalf("book = %s with %d positions", b.Date, len(b.Positions))
	}

	next := day.AddDate(0, 0, 3)
	if err := f.m.CloseAll(ctx, model.CloseTimeExit, next.Add(11*time.Hour+20*time.Minute)); err != nil {
		t.Fatal(err)
	}
	f.pb.Release("B")
	if err := f.m.Reconcile(ctx, next.Add(11*time.Hour+21*time.Minute)); err != nil {
		t.Fatal(err)
	}
	for _, sym := range []string{"A", "B"} {
		if p := f.pos(t, sym); !p.Closed() {
			t.Errorf("%s still open: %+v", sym, p)
		}
	}
	if f.pb.Submits() != 4 {
		t.Errorf("broker orders = %d, want two buys and two sells", f.pb.Submits())
	}
}

func TestReset_RestartCarriesOpenPositionsFromEarlierBook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	f := newFixture(t, testParams())
	f.m.PersistTo(path)
	f.open(t, "A")
	f.open(t, "B")
	if err := f.m.Evaluate(context.Background(), "B", d("9800"), at(9, 30)); err != nil {
		t.Fatal(err)
	}

	pb := broker.NewPaperBroker(d("100000000"), decimal.Zero)
	ex := broker.NewExecutor(pb, time.Second, retry.Policy{Attempts: 2, BaseDelay: time.Millisecond},
		20*time.Millisecond, time.Millisecond, zerolog.Nop())
	m := NewManager(testParams(), ex, nil, nil, zerolog.Nop())
	m.PersistTo(path)
	if err := m.Reset("2025-03-17"); err != nil {
		t.Fatal(err)
	}
	ps := m.Positions()
	if len(ps) != 1 || ps[0].Symbol != "A" || ps[0].RemainingQty != 100 {
		t.Fatalf("carried = %+v", ps)
	}
}

func TestTrackDayHigh_MovesTP2(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.open(t, "A")
	if err := f.m.Evaluate(ctx, "A", d("10150"), at(9, 30)); err != nil {
		t.Fatal(err)
	}

	f.m.TrackDayHigh("A", d("10100")) // below target: ignored
	f.m.TrackDayHigh("A", d("10350"))
	if err := f.m.Evaluate(ctx, "A", d("10300"), at(9, 31)); err != nil {
		t.Fatal(err)
	}
	if p := f.pos(t, "A"); p.TP2Done || p.RemainingQty != 50 || !p.TP2Price.Equal(d("10350")) {
		t.Fatalf("TP2 fired below the day high: %+v", p)
	}

	if err := f.m.Evaluate(ctx, "A", d("10350"), at(9, 32)); err != nil {
		t.Fatal(err)
	}
	p := f.pos(t, "A")
	if !p.TP2Done || p.RemainingQty != 25 {
		t.Fatalf("after TP2: %+v", p)
	}
	if !p.TrailingHigh.Equal(d("10350")) {
		t.Errorf("trailing high = %s, want the TP2 price", p.TrailingHigh)
	}

	f.m.TrackDayHigh("A", d("10500"))
	if p := f.pos(t, "A"); !p.TP2Price.Equal(d("10350")) {
		t.Errorf("TP2 moved after firing: %s", p.TP2Price)
	}
}

func TestSummary(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.open(t, "A")
	f.open(t, "B")
	if err := f.m.Evaluate(ctx, "B", d("9800"), at(9, 30)); err != nil {
		t.Fatal(err)
	}
	sum := f.m.Summary()
	if sum.Total != 2 || sum.Open != 1 || sum.Closed != 1 || sum.Losses != 1 || sum.Wins != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if !sum.RealizedPnL.Equal(d("-20000")) || !sum.WinRate.IsZero() {
		t.Errorf("pnl = %s win rate = %s", sum.RealizedPnL, sum.WinRate)
	}
}

func TestReconcile_PartialFillsAppliedOnce(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.pb.Hold("A")

	p, err := f.m.Open(ctx, cand("A", "10200"), d("10000"), at(9, 20))
	if err != nil || p != nil {
		t.Fatalf("held entry: %v %v", p, err)
	}
	if err := f.m.CanOpen("A"); !apperr.IsValidation(err) {
		t.Errorf("pending entry should block a second one: %v", err)
	}

	f.pb.FillPartial("A", 40)
	for i := 0; i < 2; i++ {
		if err := f.m.Reconcile(ctx, at(9, 21)); err != nil {
			t.Fatal(err)
		}
	}
	if got := f.pos(t, "A"); got.EntryQty != 40 || got.RemainingQty != 40 {
		t.Fatalf("after partial: entry=%d remaining=%d", got.EntryQty, got.RemainingQty)
	}

	f.pb.Release("A")
	for i := 0; i < 2; i++ {
		if err := f.m.Reconcile(ctx, at(9, 22)); err != nil {
			t.Fatal(err)
		}
	}
	got := f.pos(t, "A")
	if got.EntryQty != 100 || f.m.PendingCount() != 0 {
		t.Fatalf("after release: entry=%d pending=%d", got.EntryQty, f.m.PendingCount())
	}
}

func TestCloseAll_ExitsExactlyOnceAfterFailure(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.open(t, "A")

	f.pb.FailNext(apperr.Permanent("SubmitOrder", "A", errors.New("market closed")))
	if err := f.m.CloseAll(ctx, model.CloseTimeExit, at(11, 20)); err == nil {
		t.Fatal("expected failure on first attempt")
	}
	if p := f.pos(t, "A"); p.RemainingQty != 100 || p.Closed() {
		t.Fatalf("failed exit changed position: %+v", p)
	}

	for i := 0; i < 3; i++ {
		if err := f.m.CloseAll(ctx, model.CloseTimeExit, at(11, 21)); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	p := f.pos(t, "A")
	if !p.Closed() || p.ExitQty != 100 || p.CloseReason != model.CloseTimeExit {
		t.Fatalf("position = %+v", p)
	}
	if n := len(f.rec.SignalsOf(model.SignalTimeExit)); n != 1 {
		t.Errorf("time exit signals = %d, want 1", n)
	}
	if f.pb.Submits() != 2 {
		t.Errorf("broker orders = %d, want buy + one sell", f.pb.Submits())
	}
}

func TestCloseAll_HeldSellNotResubmitted(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.open(t, "A")
	f.pb.Hold("A")

	_ = f.m.CloseAll(ctx, model.CloseTimeExit, at(11, 20))
	_ = f.m.CloseAll(ctx, model.CloseTimeExit, at(11, 21))
	if f.pb.Submits() != 2 {
		t.Fatalf("submits = %d; reserved quantity was sold twice", f.pb.Submits())
	}

	f.pb.Release("A")
	if err := f.m.Reconcile(ctx, at(11, 22)); err != nil {
		t.Fatal(err)
	}
	if p := f.pos(t, "A"); !p.Closed() {
		t.Fatalf("position = %+v", p)
	}
}

func TestExitQtyNeverExceedsEntry(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 20; run++ {
		f := newFixture(t, testParams())
		f.open(t, "A")
		price := d("10000")
		for tick := 0; tick < 120; tick++ {
			price = price.Add(decimal.NewFromInt(int64(rng.Intn(61) - 30)))
			now := at(9, 20).Add(time.Duration(tick) * time.Minute)
			_ = f.m.Evaluate(context.Background(), "A", price, now)
			p := f.pos(t, "A")
			if p.ExitQty > p.EntryQty || p.RemainingQty < 0 || p.ExitQty+p.RemainingQty != p.EntryQty {
				t.Fatalf("run %d tick %d: entry=%d exit=%d remaining=%d", run, tick, p.EntryQty, p.ExitQty, p.RemainingQty)
			}
		}
	}
}

func TestReset_RestoresBookForSameDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	f := newFixture(t, testParams())
	f.m.PersistTo(path)
	f.open(t, "A")

	g := newFixture(t, testParams())
	g.m.PersistTo(path)
	_ = g.m.Reset("2025-03-13")
	if err := g.m.Reset("2025-03-14"); err != nil {
		t.Fatal(err)
	}
	if p, ok := g.m.Position("A"); !ok || p.EntryQty != 100 {
		t.Fatalf("restored = %+v, %v", p, ok)
	}

	h := newFixture(t, testParams())
	h.m.PersistTo(path)
	_ = h.m.Reset("2025-03-15")
	if len(h.m.Positions()) != 0 {
		t.Error("book from another day restored")
	}
}

func TestSizeOrder(t *testing.T) {
	prm := testParams()
	cases := []struct {
		cash, price string
		want        int64
	}{
		{"100000000", "10000", 100}, // capped by max size
		{"5000000", "10000", 50},
		{"5000000", "0", 0},
		{"0", "10000", 0},
		{"1000", "10000", 0},
	}
	for _, c := range cases {
		if got := SizeOrder(d(c.cash), d(c.price), prm); got != c.want {
			t.Errorf("SizeOrder(%s, %s) = %d, want %d", c.cash, c.price, got, c.want)
		}
	}
}
