package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// FloorQuote is a point-in-time floor price observation for a collection.
// Values are immutable once constructed; every lookup produces a fresh quote.
type FloorQuote struct {
	CollectionSlug string
	Floor          decimal.Decimal
	Currency       string
	FetchedAt      time.Time
}

// FloorFetcher retrieves the current floor price for a named collection from
// the marketplace API.
type FloorFetcher interface {
	FetchFloor(ctx context.Context, slug string) (FloorQuote, error)
}

// EthUsdFetcher retrieves the current ETH/USD rate from the on-chain feed.
type EthUsdFetcher interface {
	FetchEthUsd(ctx context.Context) (decimal.Decimal, error)
}
