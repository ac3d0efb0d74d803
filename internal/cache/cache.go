package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"floor-price-bot/internal/fetcher"
	"floor-price-bot/internal/logging"
)

const keyPrefix = "floor:quote:"

// Options configures the Redis-backed quote cache.
type Options struct {
	Addr string
	TTL  time.Duration
}

// Quotes caches floor quotes for a short window so repeated lookups of the
// same collection do not hammer the marketplace API.
type Quotes struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(opts Options, logger zerolog.Logger) (*Quotes, error) {
	if opts.Addr == "" {
		return nil, errors.New("cache: redis address is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Quotes{
		rdb:    rdb,
		ttl:    opts.TTL,
		logger: logging.Component(logger, "quote_cache"),
	}, nil
}

func (q *Quotes) Close() error {
	return q.rdb.Close()
}

// Get returns the cached quote for a collection slug. Any cache failure is
// treated as a miss so a broken Redis never blocks a lookup.
func (q *Quotes) Get(ctx context.Context, slug string) (fetcher.FloorQuote, bool) {
	raw, err := q.rdb.Get(ctx, keyPrefix+slug).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			q.logger.Debug().Err(err).Str("slug", slug).Msg("cache read failed")
		}
		return fetcher.FloorQuote{}, false
	}

	var quote fetcher.FloorQuote
	if err := json.Unmarshal(raw, &quote); err != nil {
		q.logger.Debug().Err(err).Str("slug", slug).Msg("cache entry malformed")
		return fetcher.FloorQuote{}, false
	}
	return quote, true
}

// Put stores a quote under its collection slug for the configured TTL.
// Write failures are logged and ignored.
func (q *Quotes) Put(ctx context.Context, quote fetcher.FloorQuote) {
	raw, err := json.Marshal(quote)
	if err != nil {
		q.logger.Debug().Err(err).Str("slug", quote.CollectionSlug).Msg("cache encode failed")
		return
	}
	if err := q.rdb.Set(ctx, keyPrefix+quote.CollectionSlug, raw, q.ttl).Err(); err != nil {
		q.logger.Debug().Err(err).Str("slug", quote.CollectionSlug).Msg("cache write failed")
	}
}
