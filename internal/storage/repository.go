package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertFloorSampleSQL = `INSERT INTO floor_samples (
        collection_slug,
        bucket_ts,
        floor,
        currency,
        floor_usd,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (collection_slug, bucket_ts) DO UPDATE
    SET
        floor     = EXCLUDED.floor,
        currency  = EXCLUDED.currency,
        floor_usd = EXCLUDED.floor_usd,
        status    = EXCLUDED.status,
        error     = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT
        collection_slug,
        bucket_ts,
        floor,
        currency,
        floor_usd,
        status,
        error,
        created_at
    FROM floor_samples
    WHERE collection_slug = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = `SELECT
        collection_slug,
        bucket_ts,
        floor,
        currency,
        floor_usd,
        status,
        error,
        created_at
    FROM floor_samples
    WHERE collection_slug = $1
    ORDER BY bucket_ts DESC
    LIMIT $2;`

	latestSampleSQL = `SELECT
        collection_slug,
        bucket_ts,
        floor,
        currency,
        floor_usd,
        status,
        error,
        created_at
    FROM floor_samples
    WHERE collection_slug = $1
      AND status = 'ok'
    ORDER BY bucket_ts DESC
    LIMIT 1;`

	countSamplesSQL = `SELECT COUNT(*) FROM floor_samples;`

	insertAlertSQL = `INSERT INTO floor_alerts (
        collection_slug,
        sample_ts,
        previous_floor,
        current_floor,
        change_pct,
        threshold_pct,
        direction,
        channel_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (collection_slug, sample_ts) DO UPDATE
    SET previous_floor = EXCLUDED.previous_floor,
        current_floor  = EXCLUDED.current_floor,
        change_pct     = EXCLUDED.change_pct,
        threshold_pct  = EXCLUDED.threshold_pct,
        direction      = EXCLUDED.direction,
        channel_id     = EXCLUDED.channel_id
    RETURNING id, collection_slug, sample_ts, previous_floor, current_floor,
              change_pct, threshold_pct, direction, channel_id, created_at;`

	latestAlertForSQL = `SELECT
        id,
        collection_slug,
        sample_ts,
        previous_floor,
        current_floor,
        change_pct,
        threshold_pct,
        direction,
        channel_id,
        created_at
    FROM floor_alerts
    WHERE collection_slug = $1
    ORDER BY created_at DESC
    LIMIT 1;`

	listRecentAlertsSQL = `SELECT
        id,
        collection_slug,
        sample_ts,
        previous_floor,
        current_floor,
        change_pct,
        threshold_pct,
        direction,
        channel_id,
        created_at
    FROM floor_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM floor_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// FloorSampleStore defines operations for floor sample persistence.
type FloorSampleStore interface {
	UpsertFloorSample(ctx context.Context, sample FloorSample) error
	ListSamplesBetween(ctx context.Context, slug string, from, to time.Time) ([]FloorSample, error)
	ListRecentSamples(ctx context.Context, slug string, limit int) ([]FloorSample, error)
	LatestSample(ctx context.Context, slug string) (FloorSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert FloorAlert) (FloorAlert, error)
	LatestAlertFor(ctx context.Context, slug string) (FloorAlert, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]FloorAlert, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to floor samples and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertFloorSample persists or updates a floor sample.
func (s *Store) UpsertFloorSample(ctx context.Context, sample FloorSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var floorUSD interface{}
	if sample.FloorUSD != nil {
		floorUSD = sample.FloorUSD.String()
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertFloorSampleSQL,
		sample.CollectionSlug,
		sample.Bucket,
		sample.Floor.String(),
		sample.Currency,
		floorUSD,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert floor sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists one collection's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, slug string, from, to time.Time) ([]FloorSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, slug, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]FloorSample, 0)
	for rows.Next() {
		sample, scanErr := scanFloorSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists one collection's most recent samples ordered by
// descending bucket.
func (s *Store) ListRecentSamples(ctx context.Context, slug string, limit int) ([]FloorSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, slug, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]FloorSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanFloorSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// LatestSample returns the most recent successful sample for a collection.
// pgx.ErrNoRows is returned when the collection has no samples yet.
func (s *Store) LatestSample(ctx context.Context, slug string) (FloorSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return FloorSample{}, err
	}

	rows, queryErr := pool.Query(ctx, latestSampleSQL, slug)
	if queryErr != nil {
		return FloorSample{}, fmt.Errorf("latest sample: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return FloorSample{}, rows.Err()
		}
		return FloorSample{}, pgx.ErrNoRows
	}
	return scanFloorSample(rows)
}

// CountSamples counts stored samples across all collections.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert FloorAlert) (FloorAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return FloorAlert{}, err
	}

	rows, queryErr := pool.Query(ctx, insertAlertSQL,
		alert.CollectionSlug,
		alert.SampleTS,
		alert.PreviousFloor.String(),
		alert.CurrentFloor.String(),
		alert.ChangePct.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		alert.ChannelID,
	)
	if queryErr != nil {
		return FloorAlert{}, fmt.Errorf("insert alert: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return FloorAlert{}, rows.Err()
		}
		return FloorAlert{}, fmt.Errorf("insert alert: no row returned")
	}
	return scanFloorAlert(rows)
}

// LatestAlertFor returns the most recent alert for a collection, for
// cooldown checks. pgx.ErrNoRows when none has fired yet.
func (s *Store) LatestAlertFor(ctx context.Context, slug string) (FloorAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return FloorAlert{}, err
	}

	rows, queryErr := pool.Query(ctx, latestAlertForSQL, slug)
	if queryErr != nil {
		return FloorAlert{}, fmt.Errorf("latest alert: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return FloorAlert{}, rows.Err()
		}
		return FloorAlert{}, pgx.ErrNoRows
	}
	return scanFloorAlert(rows)
}

// ListRecentAlerts lists most recent alerts across all collections.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]FloorAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]FloorAlert, 0, limit)
	for rows.Next() {
		alert, scanErr := scanFloorAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanFloorSample(rows pgx.Rows) (FloorSample, error) {
	var (
		slug      string
		bucket    time.Time
		floorStr  string
		currency  string
		floorUSD  sql.NullString
		status    string
		errMsg    sql.NullString
		createdAt time.Time
	)

	if err := rows.Scan(
		&slug,
		&bucket,
		&floorStr,
		&currency,
		&floorUSD,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return FloorSample{}, err
	}

	floor, err := decimal.NewFromString(floorStr)
	if err != nil {
		return FloorSample{}, fmt.Errorf("parse floor: %w", err)
	}

	sample := FloorSample{
		CollectionSlug: slug,
		Bucket:         bucket,
		Floor:          floor,
		Currency:       currency,
		Status:         status,
		CreatedAt:      createdAt,
	}

	if floorUSD.Valid {
		usd, convErr := decimal.NewFromString(floorUSD.String)
		if convErr != nil {
			return FloorSample{}, fmt.Errorf("parse floor usd: %w", convErr)
		}
		sample.FloorUSD = &usd
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}

	return sample, nil
}

func scanFloorAlert(rows pgx.Rows) (FloorAlert, error) {
	var (
		alert       FloorAlert
		previousStr string
		currentStr  string
		changeStr   string
		threshStr   string
	)

	if err := rows.Scan(
		&alert.ID,
		&alert.CollectionSlug,
		&alert.SampleTS,
		&previousStr,
		&currentStr,
		&changeStr,
		&threshStr,
		&alert.Direction,
		&alert.ChannelID,
		&alert.CreatedAt,
	); err != nil {
		return FloorAlert{}, err
	}

	var convErr error
	alert.PreviousFloor, convErr = decimal.NewFromString(previousStr)
	if convErr != nil {
		return FloorAlert{}, fmt.Errorf("parse previous floor: %w", convErr)
	}
	alert.CurrentFloor, convErr = decimal.NewFromString(currentStr)
	if convErr != nil {
		return FloorAlert{}, fmt.Errorf("parse current floor: %w", convErr)
	}
	alert.ChangePct, convErr = decimal.NewFromString(changeStr)
	if convErr != nil {
		return FloorAlert{}, fmt.Errorf("parse change pct: %w", convErr)
	}
	alert.ThresholdPct, convErr = decimal.NewFromString(threshStr)
	if convErr != nil {
		return FloorAlert{}, fmt.Errorf("parse threshold pct: %w", convErr)
	}

	return alert, nil
}
