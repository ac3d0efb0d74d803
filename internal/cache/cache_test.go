package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"floor-price-bot/internal/fetcher"
)

func unreachableQuotes() *Quotes {
	return &Quotes{
		rdb:    redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}),
		ttl:    time.Minute,
		logger: zerolog.Nop(),
	}
}

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); err == nil {
		t.Fatal("empty address should error")
	}
}

func TestGetTreatsFailureAsMiss(t *testing.T) {
	q := unreachableQuotes()
	defer q.Close()

	if _, ok := q.Get(context.Background(), "boredapeyachtclub"); ok {
		t.Fatal("unreachable redis should read as a miss")
	}
}

func TestPutSwallowsFailure(t *testing.T) {
	q := unreachableQuotes()
	defer q.Close()

	q.Put(context.Background(), fetcher.FloorQuote{
		CollectionSlug: "boredapeyachtclub",
		Floor:          decimal.NewFromFloat(80.5),
		Currency:       "ETH",
		FetchedAt:      time.Now().UTC(),
	})
}
