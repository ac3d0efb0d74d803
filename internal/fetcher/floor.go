package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const statsPathFormat = "/api/v2/collections/%s/stats"

// FloorOptions parameterise the marketplace floor fetcher.
type FloorOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Floor fetches collection floor prices from the marketplace stats API.
type Floor struct {
	opts    FloorOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewFloor constructs a marketplace floor fetcher.
func NewFloor(opts FloorOptions, logger zerolog.Logger) *Floor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.opensea.io"
	}

	return &Floor{
		opts:    opts,
		logger:  logger.With().Str("component", "floor_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchFloor retrieves the current floor price for the given collection slug.
// The slug is lower-cased before the request; no other validation against the
// remote catalog happens locally. Exactly one outbound call is made and no
// retries are attempted here.
func (f *Floor) FetchFloor(ctx context.Context, slug string) (FloorQuote, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return FloorQuote{}, errors.New("collection slug must not be empty")
	}

	endpoint := f.baseURL + fmt.Sprintf(statsPathFormat, url.PathEscape(slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FloorQuote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "floorbot/1.0")
	}
	if f.opts.APIKey != "" {
		req.Header.Set("X-API-KEY", f.opts.APIKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FloorQuote{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return FloorQuote{}, fmt.Errorf("%w: read response: %v", ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return FloorQuote{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, slug)
	case resp.StatusCode == http.StatusTooManyRequests:
		return FloorQuote{}, &RateLimitError{RetryAfter: retryAfterHint(resp)}
	case resp.StatusCode != http.StatusOK:
		return FloorQuote{}, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(payload)),
		}
	}

	var stats statsResponse
	if err := json.Unmarshal(payload, &stats); err != nil {
		return FloorQuote{}, fmt.Errorf("%w: decode stats: %v", ErrUpstreamUnavailable, err)
	}
	if stats.Floor == nil {
		return FloorQuote{}, fmt.Errorf("%w: stats response missing floor", ErrUpstreamUnavailable)
	}

	currency := stats.Currency
	if currency == "" {
		currency = "ETH"
	}

	quote := FloorQuote{
		CollectionSlug: slug,
		Floor:          *stats.Floor,
		Currency:       currency,
		FetchedAt:      time.Now().UTC(),
	}

	f.logger.Debug().
		Str("slug", slug).
		Str("floor", quote.Floor.String()).
		Str("currency", quote.Currency).
		Msg("floor fetched")

	return quote, nil
}

type statsResponse struct {
	Floor    *decimal.Decimal `json:"floor"`
	Currency string           `json:"currency"`
}

func retryAfterHint(resp *http.Response) time.Duration {
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

var _ FloorFetcher = (*Floor)(nil)
