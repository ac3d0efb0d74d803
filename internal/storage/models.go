package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// FloorSample represents one persisted observation of a collection's floor
// price, bucketed to the watchlist interval.
type FloorSample struct {
	CollectionSlug string
	Bucket         time.Time
	Floor          decimal.Decimal
	Currency       string
	FloorUSD       *decimal.Decimal
	Status         string
	Error          *string
	CreatedAt      time.Time
}

// FloorAlert captures an emitted floor-move alert for cooldown checks and
// auditing.
type FloorAlert struct {
	ID             int64
	CollectionSlug string
	SampleTS       time.Time
	PreviousFloor  decimal.Decimal
	CurrentFloor   decimal.Decimal
	ChangePct      decimal.Decimal
	ThresholdPct   decimal.Decimal
	Direction      string
	ChannelID      string
	CreatedAt      time.Time
}
