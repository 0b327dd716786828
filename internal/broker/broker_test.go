package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"GapPullback/internal/apperr"
	"GapPullback/internal/model"
	"GapPullback/internal/retry"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newExec(b Broker) *Executor {
	return NewExecutor(b, time.Second, retry.Policy{Attempts: 3, BaseDelay: time.Millisecond},
		20*time.Millisecond, time.Millisecond, zerolog.Nop())
}

func TestSubmit_LostReplyIsNotDoubleFilled(t *testing.T) {
	pb := NewPaperBroker(d("100000000"), decimal.Zero)
	pb.LoseNextReply()
	ex := newExec(pb)

	now := time.Now()
	tr := NewTrade("A", model.SideBuy, model.OrderMarket, 100, d("10000"), now)
	if err := ex.Submit(context.Background(), tr); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if pb.Submits() != 1 {
		t.Fatalf("broker created %d orders, want 1", pb.Submits())
	}
	if tr.OrderID == "" {
		t.Fatal("order id not recorded after retry")
	}
	cash, _ := pb.AvailableCash(context.Background())
	if !cash.Equal(d("99000000")) {
		t.Errorf("cash = %s, want 99000000", cash)
	}
}

func TestSubmit_PermanentNotRetried(t *testing.T) {
	pb := NewPaperBroker(d("1000"), decimal.Zero)
	ex := newExec(pb)
	tr := NewTrade("A", model.SideBuy, model.OrderMarket, 100, d("10000"), time.Now())
	err := ex.Submit(context.Background(), tr)
	if apperr.KindOf(err) != apperr.KindPermanent {
		t.Fatalf("expected permanent insufficient-cash error, got %v", err)
	}
}

func TestAwaitFill_PendingStaysPending(t *testing.T) {
	pb := NewPaperBroker(d("100000000"), decimal.Zero)
	pb.Hold("A")
	ex := newExec(pb)
	tr := NewTrade("A", model.SideBuy, model.OrderMarket, 100, d("10000"), time.Now())
	if err := ex.Submit(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	qty, _, err := ex.AwaitFill(context.Background(), tr, time.Now)
	if err != nil {
		t.Fatal(err)
	}
	if qty != 0 || tr.Status != model.TradePending {
		t.Fatalf("held order: qty=%d status=%s", qty, tr.Status)
	}

	pb.FillPartial("A", 40)
	qty, notional, err := ex.Refresh(context.Background(), tr, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if qty != 40 || !notional.Equal(d("400000")) || tr.Status != model.TradePartial {
		t.Fatalf("partial: qty=%d notional=%s status=%s", qty, notional, tr.Status)
	}

	pb.Release("A")
	qty, _, err = ex.Refresh(context.Background(), tr, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if qty != 60 || tr.Status != model.TradeFilled {
		t.Fatalf("release: qty=%d status=%s", qty, tr.Status)
	}

	// A filled trade is immutable.
	qty, _, _ = ex.Refresh(context.Background(), tr, time.Now())
	if qty != 0 {
		t.Errorf("final trade changed by %d", qty)
	}
}

func TestApply_StaleReportIgnored(t *testing.T) {
	tr := &model.Trade{ClientOrderID: "c1", RequestedQty: 100, FilledQty: 60, FilledPrice: d("10000"), Status: model.TradePartial}
	_, _, err := Apply(tr, &OrderStatus{ClientOrderID: "c1", FilledQty: 40, FilledPrice: d("10000")}, time.Now())
	if !apperr.IsDuplicate(err) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if tr.FilledQty != 60 {
		t.Errorf("stale report mutated trade: %d", tr.FilledQty)
	}

	// Same report twice only counts once.
	st := &OrderStatus{ClientOrderID: "c1", FilledQty: 80, FilledPrice: d("10000"), Status: model.TradePartial}
	q1, _, _ := Apply(tr, st, time.Now())
	q2, _, _ := Apply(tr, st, time.Now())
	if q1 != 20 || q2 != 0 {
		t.Errorf("deltas = %d, %d; want 20, 0", q1, q2)
	}
}

func TestRESTBroker_DuplicateReturnsExistingOrder(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/orders":
			var body orderBody
			_ = json.NewDecoder(r.Body).Decode(&body)
			if atomic.AddInt32(&posts, 1) > 1 {
				w.WriteHeader(http.StatusConflict)
			}
			_ = json.NewEncoder(w).Encode(orderReply{OrderID: "ord-1", ClientOrderID: body.ClientOrderID, Status: model.TradePending})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/orders/ord-1":
			_, _ = w.Write([]byte(`{"order_id":"ord-1","client_order_id":"c1","status":"FILLED","filled_qty":10,"filled_price":"10150","fee":"15"}`))
		case r.URL.Path == "/api/v1/account/cash":
			_, _ = w.Write([]byte(`{"cash":"12345678"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "")
	ctx := context.Background()
	req := OrderRequest{ClientOrderID: "c1", Symbol: "A", Side: model.SideSell, Type: model.OrderMarket, Qty: 10, Price: d("10150")}
	id1, err := b.SubmitOrder(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := b.SubmitOrder(ctx, req)
	if err != nil {
		t.Fatalf("duplicate submit should adopt existing order: %v", err)
	}
	if id1 != id2 {
		t.Errorf("ids differ: %s vs %s", id1, id2)
	}

	st, err := b.GetOrderStatus(ctx, "ord-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != model.TradeFilled || !st.Fee.Equal(d("15")) {
		t.Errorf("status = %+v", st)
	}
	cash, err := b.AvailableCash(ctx)
	if err != nil || !cash.Equal(d("12345678")) {
		t.Errorf("cash = %s, %v", cash, err)
	}
}

func TestRESTBroker_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewRESTBroker(srv.URL, "").SubmitOrder(context.Background(), OrderRequest{ClientOrderID: "x", Symbol: "A", Qty: 1})
	if !apperr.IsTransient(err) {
		t.Fatalf("expected transient, got %v", err)
	}
	if errors.Is(err, context.Canceled) {
		t.Error("unexpected cancellation")
	}
}

func TestSubmit_AllRepliesLostKeepsClientOrderID(t *testing.T) {
	pb := NewPaperBroker(d("100000000"), decimal.Zero)
	pb.LoseReplies(3)
	ex := newExec(pb)

	tr := NewTrade("A", model.SideBuy, model.OrderMarket, 100, d("10000"), time.Now())
	id := tr.ClientOrderID
	if err := ex.Submit(context.Background(), tr); !apperr.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if tr.OrderID != "" || tr.ClientOrderID != id {
		t.Fatalf("trade = %+v", tr)
	}

	if err := ex.Submit(context.Background(), tr); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if pb.Submits() != 1 || tr.OrderID == "" {
		t.Errorf("submits = %d order id = %q", pb.Submits(), tr.OrderID)
	}
}
