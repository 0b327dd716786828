package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"GapPullback/internal/model"
)

// Redis is a Cache shared across restarts and processes.
type Redis struct {
	cli    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects and pings addr.
func NewRedis(addr, password string, db int, prefix string, ttl time.Duration) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return newRedis(cli, prefix, ttl), nil
}

func newRedis(cli *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{cli: cli, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(date, symbol string) string {
	return fmt.Sprintf("%s:prevclose:%s:%s", r.prefix, date, symbol)
}

func (r *Redis) Get(ctx context.Context, date, symbol string) (*model.Candle, bool, error) {
	b, err := r.cli.Get(ctx, r.key(date, symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var c model.Candle
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, false, fmt.Errorf("decode candle %s: %w", symbol, err)
	}
	return &c, true, nil
}

func (r *Redis) Put(ctx context.Context, date string, c *model.Candle) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.cli.Set(ctx, r.key(date, c.Symbol), b, r.ttl).Err()
}

func (r *Redis) Close() error { return r.cli.Close() }
