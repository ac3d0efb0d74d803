package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"floor-price-bot/internal/alerting"
	"floor-price-bot/internal/config"
	"floor-price-bot/internal/fetcher"
	"floor-price-bot/internal/logging"
	"floor-price-bot/internal/scheduler"
	"floor-price-bot/internal/storage"
)

// QuoteWarmer stores freshly sampled quotes so user lookups right after a
// tick are served without another marketplace call.
type QuoteWarmer interface {
	Put(ctx context.Context, quote fetcher.FloorQuote)
}

// Tracker samples the floor of every watched collection on a schedule,
// persists the observations, and raises an alert when a floor moves past
// the configured threshold since the previous successful sample.
type Tracker struct {
	scheduler  *scheduler.Scheduler
	floors     fetcher.FloorFetcher
	ethUsd     fetcher.EthUsdFetcher
	store      storage.FloorSampleStore
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	warmer     QuoteWarmer
	logger     zerolog.Logger

	watchlist    []string
	threshold    decimal.Decimal
	cooldown     time.Duration
	alertsOn     bool
	alertChannel string
	locker       storage.AdvisoryLocker
	lockKey      int64
}

// New constructs the floor tracker.
func New(cfg *config.Config, sched *scheduler.Scheduler, floors fetcher.FloorFetcher, ethUsd fetcher.EthUsdFetcher, store storage.FloorSampleStore, alertStore storage.AlertStore, notifier alerting.Notifier, warmer QuoteWarmer, logger zerolog.Logger) *Tracker {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Tracker{
		scheduler:    sched,
		floors:       floors,
		ethUsd:       ethUsd,
		store:        store,
		alertStore:   alertStore,
		notifier:     notifier,
		warmer:       warmer,
		logger:       logging.Component(logger, "tracker"),
		watchlist:    cfg.Watchlist.Collections,
		threshold:    threshold,
		cooldown:     cfg.Alerting.Cooldown,
		alertsOn:     cfg.Alerting.Enabled,
		alertChannel: cfg.Alerting.ChannelID,
		locker:       locker,
		lockKey:      cfg.Watchlist.AdvisoryLockKey,
	}
}

// Run begins the sampling loop.
func (t *Tracker) Run(ctx context.Context) error {
	if t.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if len(t.watchlist) == 0 {
		return fmt.Errorf("watchlist is empty")
	}
	return t.scheduler.Run(ctx, t.ProcessBucket)
}

// ProcessBucket samples every watched collection for one time bucket. A
// collection failing does not stop the others.
func (t *Tracker) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := t.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		t.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	usdRate := t.fetchUsdRate(ctx)

	var failed int
	for _, slug := range t.watchlist {
		if err := t.sampleCollection(ctx, bucket, slug, usdRate); err != nil {
			failed++
			t.logger.Error().Err(err).Str("slug", slug).Time("bucket", bucket).Msg("collection sampling failed")
		}
	}
	if failed == len(t.watchlist) {
		return fmt.Errorf("all %d watched collections failed", failed)
	}
	return nil
}

// fetchUsdRate grabs the ETH/USD rate once per bucket. Enrichment is best
// effort; zero means unavailable.
func (t *Tracker) fetchUsdRate(ctx context.Context) decimal.Decimal {
	if t.ethUsd == nil {
		return decimal.Zero
	}
	rate, err := t.ethUsd.FetchEthUsd(ctx)
	if err != nil {
		t.logger.Debug().Err(err).Msg("eth/usd rate unavailable for this bucket")
		return decimal.Zero
	}
	return rate
}

func (t *Tracker) sampleCollection(ctx context.Context, bucket time.Time, slug string, usdRate decimal.Decimal) error {
	quote, err := t.floors.FetchFloor(ctx, slug)
	if err != nil {
		t.recordFailure(ctx, bucket, slug, err)
		return fmt.Errorf("fetch floor: %w", err)
	}
	if t.warmer != nil {
		t.warmer.Put(ctx, quote)
	}

	var previous *storage.FloorSample
	if prev, prevErr := t.store.LatestSample(ctx, slug); prevErr == nil {
		previous = &prev
	} else if !errors.Is(prevErr, pgx.ErrNoRows) {
		t.logger.Error().Err(prevErr).Str("slug", slug).Msg("failed to load previous sample")
	}

	sample := storage.FloorSample{
		CollectionSlug: quote.CollectionSlug,
		Bucket:         bucket,
		Floor:          quote.Floor,
		Currency:       quote.Currency,
		Status:         "ok",
		CreatedAt:      time.Now().UTC(),
	}
	if usdRate.IsPositive() {
		usd := quote.Floor.Mul(usdRate)
		sample.FloorUSD = &usd
	}

	if err := t.store.UpsertFloorSample(ctx, sample); err != nil {
		return fmt.Errorf("upsert sample: %w", err)
	}

	t.logger.Info().Str("slug", slug).Time("bucket", bucket).
		Str("floor", quote.Floor.String()).
		Str("currency", quote.Currency).
		Msg("floor sample recorded")

	if previous != nil {
		t.evaluateAlert(ctx, bucket, sample, *previous)
	}
	return nil
}

// recordFailure keeps a hole in the series visible instead of silently
// skipping the bucket.
func (t *Tracker) recordFailure(ctx context.Context, bucket time.Time, slug string, cause error) {
	msg := cause.Error()
	sample := storage.FloorSample{
		CollectionSlug: slug,
		Bucket:         bucket,
		Floor:          decimal.Zero,
		Currency:       "ETH",
		Status:         "errored",
		Error:          &msg,
		CreatedAt:      time.Now().UTC(),
	}
	if err := t.store.UpsertFloorSample(ctx, sample); err != nil {
		t.logger.Error().Err(err).Str("slug", slug).Msg("failed to record errored sample")
	}
}

func (t *Tracker) evaluateAlert(ctx context.Context, bucket time.Time, current storage.FloorSample, previous storage.FloorSample) {
	if !t.alertsOn || t.notifier == nil || t.threshold.IsZero() {
		return
	}
	if previous.Floor.IsZero() {
		return
	}

	change := current.Floor.Sub(previous.Floor).Div(previous.Floor).Mul(decimal.NewFromInt(100))
	if !change.Abs().GreaterThan(t.threshold) {
		return
	}
	if t.inCooldown(ctx, current.CollectionSlug) {
		t.logger.Debug().Str("slug", current.CollectionSlug).Msg("alert suppressed by cooldown")
		return
	}

	direction := classifyChange(change)
	if t.alertStore != nil {
		record := storage.FloorAlert{
			CollectionSlug: current.CollectionSlug,
			SampleTS:       bucket,
			PreviousFloor:  previous.Floor,
			CurrentFloor:   current.Floor,
			ChangePct:      change,
			ThresholdPct:   t.threshold,
			Direction:      direction,
			ChannelID:      t.alertChannel,
		}
		if _, err := t.alertStore.InsertAlert(ctx, record); err != nil {
			t.logger.Error().Err(err).Str("slug", current.CollectionSlug).Msg("failed to persist alert record")
		}
	}

	note := alerting.Notification{
		CollectionSlug: current.CollectionSlug,
		SampleTS:       bucket,
		PreviousFloor:  previous.Floor,
		CurrentFloor:   current.Floor,
		ChangePct:      change,
		ThresholdPct:   t.threshold,
		Direction:      direction,
		Currency:       current.Currency,
		ChannelID:      t.alertChannel,
	}
	if err := t.notifier.Notify(ctx, note); err != nil {
		t.logger.Error().Err(err).Str("slug", current.CollectionSlug).Msg("failed to dispatch alert")
	}
}

func (t *Tracker) inCooldown(ctx context.Context, slug string) bool {
	if t.cooldown <= 0 || t.alertStore == nil {
		return false
	}
	last, err := t.alertStore.LatestAlertFor(ctx, slug)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			t.logger.Error().Err(err).Str("slug", slug).Msg("failed to load last alert")
		}
		return false
	}
	return time.Since(last.CreatedAt) < t.cooldown
}

func classifyChange(d decimal.Decimal) string {
	if d.Sign() < 0 {
		return "down"
	}
	return "up"
}

func (t *Tracker) acquireLock(ctx context.Context) (func(), bool, error) {
	if t.lockKey == 0 || t.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := t.locker.TryAdvisoryLock(ctx, t.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
