package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestFloor(baseURL string) *Floor {
	return NewFloor(FloorOptions{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		Timeout:   time.Second,
		UserAgent: "test",
	}, noopLogger())
}

func TestFetchFloorSuccess(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-KEY")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"floor": 80.5, "currency": "ETH"})
	}))
	defer srv.Close()

	quote, err := newTestFloor(srv.URL).FetchFloor(context.Background(), "boredapeyachtclub")
	if err != nil {
		t.Fatalf("successful response should not error: %v", err)
	}
	if gotPath != "/api/v2/collections/boredapeyachtclub/stats" {
		t.Fatalf("unexpected request path %s", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header not sent")
	}
	if quote.CollectionSlug != "boredapeyachtclub" {
		t.Fatalf("unexpected slug %s", quote.CollectionSlug)
	}
	if quote.Floor.Cmp(decimal.NewFromFloat(80.5)) != 0 {
		t.Fatalf("expected floor 80.5, got %s", quote.Floor.String())
	}
	if quote.Currency != "ETH" {
		t.Fatalf("expected currency ETH, got %s", quote.Currency)
	}
	if quote.FetchedAt.IsZero() {
		t.Fatal("fetched_at should be populated")
	}
}

func TestFetchFloorLowercasesSlug(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"floor": 1.0, "currency": "ETH"})
	}))
	defer srv.Close()

	quote, err := newTestFloor(srv.URL).FetchFloor(context.Background(), "  BoredApeYachtClub ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/api/v2/collections/boredapeyachtclub/stats" {
		t.Fatalf("slug should be lower-cased in path, got %s", gotPath)
	}
	if quote.CollectionSlug != "boredapeyachtclub" {
		t.Fatalf("quote should carry the normalised slug, got %s", quote.CollectionSlug)
	}
}

func TestFetchFloorNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "collection not found"})
	}))
	defer srv.Close()

	_, err := newTestFloor(srv.URL).FetchFloor(context.Background(), "nonexistent-collection")
	if !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("HTTP 404 should map to ErrCollectionNotFound, got %v", err)
	}
}

func TestFetchFloorRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestFloor(srv.URL).FetchFloor(context.Background(), "boredapeyachtclub")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("HTTP 429 should map to ErrRateLimited, got %v", err)
	}

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("429 error should carry a RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 3*time.Second {
		t.Fatalf("expected retry-after hint 3s, got %s", rl.RetryAfter)
	}
}

func TestFetchFloorUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFloor(srv.URL).FetchFloor(context.Background(), "boredapeyachtclub")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("HTTP 502 should map to ErrUpstreamUnavailable, got %v", err)
	}

	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusBadGateway {
		t.Fatalf("upstream error should carry the status code, got %v", err)
	}
}

func TestFetchFloorNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestFloor(srv.URL).FetchFloor(context.Background(), "boredapeyachtclub")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("network failure should map to ErrUpstreamUnavailable, got %v", err)
	}
}

func TestFetchFloorMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := newTestFloor(srv.URL).FetchFloor(context.Background(), "boredapeyachtclub")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("malformed body should map to ErrUpstreamUnavailable, got %v", err)
	}
}

func TestFetchFloorMissingFloorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"currency": "ETH"})
	}))
	defer srv.Close()

	_, err := newTestFloor(srv.URL).FetchFloor(context.Background(), "boredapeyachtclub")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("missing floor field should map to ErrUpstreamUnavailable, got %v", err)
	}
}

func TestFetchFloorEmptySlug(t *testing.T) {
	f := newTestFloor("http://localhost")
	if _, err := f.FetchFloor(context.Background(), "   "); err == nil {
		t.Fatal("empty slug should error")
	}
}

func TestFetchFloorTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestFloor(srv.URL).FetchFloor(ctx, "boredapeyachtclub")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("timeout should map to ErrUpstreamUnavailable, got %v", err)
	}
}
