package refdata

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"GapPullback/internal/model"
)

func TestMemory_DateScoped(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := &model.Candle{Symbol: "A", Close: decimal.RequireFromString("9500")}
	if err := m.Put(ctx, "2025-03-14", c); err != nil {
		t.Fatal(err)
	}

	got, ok, err := m.Get(ctx, "2025-03-14", "A")
	if err != nil || !ok || !got.Close.Equal(c.Close) {
		t.Fatalf("get = %+v %v %v", got, ok, err)
	}
	if _, ok, _ := m.Get(ctx, "2025-03-15", "A"); ok {
		t.Error("candle visible on another date")
	}

	_ = m.Put(ctx, "2025-03-15", &model.Candle{Symbol: "B"})
	if _, ok, _ := m.Get(ctx, "2025-03-14", "A"); ok {
		t.Error("old date not dropped")
	}
}

func TestRedis_Key(t *testing.T) {
	r := &Redis{prefix: "gapbot"}
	if got := r.key("2025-03-14", "005930"); got != "gapbot:prevclose:2025-03-14:005930" {
		t.Errorf("key = %q", got)
	}
}

func TestRedis_UnreachableReturnsError(t *testing.T) {
	cli := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	r := newRedis(cli, "gapbot", time.Hour)
	defer r.Close()

	if _, _, err := r.Get(context.Background(), "2025-03-14", "A"); err == nil {
		t.Fatal("expected connection error")
	}
	if _, err := NewRedis("127.0.0.1:1", "", 0, "gapbot", time.Hour); err == nil {
		t.Fatal("expected ping error")
	}
}
