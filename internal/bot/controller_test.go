package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"floor-price-bot/internal/command"
	"floor-price-bot/internal/fetcher"
	"floor-price-bot/internal/gateway"
)

type sentReply struct {
	ChannelID string
	Text      string
}

type fakeReplier struct {
	mu    sync.Mutex
	calls []sentReply
	botID string
}

func (f *fakeReplier) SendReply(_ context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentReply{ChannelID: channelID, Text: text})
	return nil
}

func (f *fakeReplier) BotUserID() string {
	return f.botID
}

func (f *fakeReplier) sent() []sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentReply, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeFloors struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, slug string) (fetcher.FloorQuote, error)
}

func (f *fakeFloors) FetchFloor(ctx context.Context, slug string) (fetcher.FloorQuote, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, slug)
}

func (f *fakeFloors) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEthUsd struct {
	rate decimal.Decimal
	err  error
}

func (f *fakeEthUsd) FetchEthUsd(context.Context) (decimal.Decimal, error) {
	return f.rate, f.err
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]fetcher.FloorQuote
	puts    []string
}

func (f *fakeCache) Get(_ context.Context, slug string) (fetcher.FloorQuote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	quote, ok := f.entries[slug]
	return quote, ok
}

func (f *fakeCache) Put(_ context.Context, quote fetcher.FloorQuote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, quote.CollectionSlug)
}

func quoteFor(slug string, floor float64) fetcher.FloorQuote {
	return fetcher.FloorQuote{
		CollectionSlug: slug,
		Floor:          decimal.NewFromFloat(floor),
		Currency:       "ETH",
		FetchedAt:      time.Now().UTC(),
	}
}

func fixedFloors(quote fetcher.FloorQuote) *fakeFloors {
	return &fakeFloors{fn: func(context.Context, string) (fetcher.FloorQuote, error) {
		return quote, nil
	}}
}

func failingFloors(err error) *fakeFloors {
	return &fakeFloors{fn: func(context.Context, string) (fetcher.FloorQuote, error) {
		return fetcher.FloorQuote{}, err
	}}
}

func newTestController(floors *fakeFloors, replier *fakeReplier, opts ...Option) *Controller {
	return NewController(command.NewParser("f"), floors, replier, zerolog.Nop(), opts...)
}

func drain(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Drain(ctx))
}

func userMessage(channelID, content string) gateway.InboundMessage {
	return gateway.InboundMessage{
		MessageID: "m1",
		ChannelID: channelID,
		AuthorID:  "user-1",
		Content:   content,
	}
}

func TestLookupCommandRepliesWithQuote(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	ctrl := newTestController(fixedFloors(quoteFor("boredapeyachtclub", 80.5)), replier)

	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "f boredapeyachtclub")))
	drain(t, ctrl)

	replies := replier.sent()
	require.Len(t, replies, 1)
	require.Equal(t, "C1", replies[0].ChannelID)
	require.Contains(t, replies[0].Text, "80.5")
	require.Contains(t, replies[0].Text, "ETH")
}

func TestLookupNormalisesSlugBeforeFetch(t *testing.T) {
	var gotSlug string
	floors := &fakeFloors{fn: func(_ context.Context, slug string) (fetcher.FloorQuote, error) {
		gotSlug = slug
		return quoteFor(slug, 1), nil
	}}
	replier := &fakeReplier{botID: "bot-1"}
	ctrl := newTestController(floors, replier)

	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "f BoredApeYachtClub")))
	drain(t, ctrl)

	require.Equal(t, "boredapeyachtclub", gotSlug)
}

func TestReplyIncludesUsdWhenRateAvailable(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	ctrl := newTestController(fixedFloors(quoteFor("boredapeyachtclub", 80.5)), replier,
		WithEthUsd(&fakeEthUsd{rate: decimal.NewFromInt(2000)}))

	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "f boredapeyachtclub")))
	drain(t, ctrl)

	replies := replier.sent()
	require.Len(t, replies, 1)
	require.Contains(t, replies[0].Text, "161000.00")
}

func TestReplyOmitsUsdWhenRateUnavailable(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	ctrl := newTestController(fixedFloors(quoteFor("boredapeyachtclub", 80.5)), replier,
		WithEthUsd(&fakeEthUsd{err: fmt.Errorf("rpc down")}))

	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "f boredapeyachtclub")))
	drain(t, ctrl)

	replies := replier.sent()
	require.Len(t, replies, 1)
	require.NotContains(t, replies[0].Text, "$")
	require.Contains(t, replies[0].Text, "80.5")
}

func TestNotFoundReplyCarriesSuggestion(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	ctrl := newTestController(failingFloors(fetcher.ErrCollectionNotFound), replier,
		WithSuggester(NewSuggester(nil)))

	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "f cryptopunk")))
	drain(t, ctrl)

	replies := replier.sent()
	require.Len(t, replies, 1)
	require.Contains(t, replies[0].Text, "not found")
	require.Contains(t, replies[0].Text, "did you mean")
	require.Contains(t, replies[0].Text, "cryptopunks")
}

func TestSuccessfulLookupFeedsSuggestions(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	floors := &fakeFloors{fn: func(_ context.Context, slug string) (fetcher.FloorQuote, error) {
		if slug == "milady-maker" {
			return quoteFor(slug, 2.1), nil
		}
		return fetcher.FloorQuote{}, fetcher.ErrCollectionNotFound
	}}
	ctrl := newTestController(floors, replier, WithSuggester(NewSuggester([]string{"azuki"})))

	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "f milady-maker")))
	drain(t, ctrl)
	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "f miladymakr")))
	drain(t, ctrl)

	replies := replier.sent()
	require.Len(t, replies, 2)
	require.Contains(t, replies[1].Text, "not found")
	require.Contains(t, replies[1].Text, `did you mean "milady-maker"?`)
}

func TestUpstreamFailureRepliesTryAgain(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	ctrl := newTestController(failingFloors(&fetcher.UpstreamError{StatusCode: 502}), replier)

	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "f boredapeyachtclub")))
	drain(t, ctrl)

	replies := replier.sent()
	require.Len(t, replies, 1)
	require.Contains(t, replies[0].Text, "try again later")
}

func TestRateLimitRepliesTryAgain(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	ctrl := newTestController(failingFloors(&fetcher.RateLimitError{RetryAfter: time.Second}), replier)

	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "f boredapeyachtclub")))
	drain(t, ctrl)

	replies := replier.sent()
	require.Len(t, replies, 1)
	require.Contains(t, replies[0].Text, "try again later")
}

func TestIgnoresMessagesFromBots(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	floors := fixedFloors(quoteFor("boredapeyachtclub", 80.5))
	ctrl := newTestController(floors, replier)

	msg := userMessage("C1", "f boredapeyachtclub")
	msg.AuthorBot = true
	require.NoError(t, ctrl.HandleMessage(msg))

	own := userMessage("C1", "f boredapeyachtclub")
	own.AuthorID = "bot-1"
	require.NoError(t, ctrl.HandleMessage(own))

	drain(t, ctrl)
	require.Empty(t, replier.sent())
	require.Zero(t, floors.callCount())
}

func TestIgnoresUnaddressedMessages(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	floors := fixedFloors(quoteFor("boredapeyachtclub", 80.5))
	ctrl := newTestController(floors, replier)

	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "hello there")))
	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "floor boredapeyachtclub")))

	drain(t, ctrl)
	require.Empty(t, replier.sent())
	require.Zero(t, floors.callCount())
}

func TestBareTriggerRepliesUsage(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	ctrl := newTestController(fixedFloors(quoteFor("boredapeyachtclub", 80.5)), replier)

	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "f")))
	drain(t, ctrl)

	replies := replier.sent()
	require.Len(t, replies, 1)
	require.Contains(t, replies[0].Text, "usage: f <collection-slug>")
}

func TestCacheHitSkipsFetch(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	floors := fixedFloors(quoteFor("boredapeyachtclub", 80.5))
	cache := &fakeCache{entries: map[string]fetcher.FloorQuote{
		"boredapeyachtclub": quoteFor("boredapeyachtclub", 79.9),
	}}
	ctrl := newTestController(floors, replier, WithQuoteCache(cache))

	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "f boredapeyachtclub")))
	drain(t, ctrl)

	replies := replier.sent()
	require.Len(t, replies, 1)
	require.Contains(t, replies[0].Text, "79.9")
	require.Zero(t, floors.callCount())
}

func TestCacheMissStoresFetchedQuote(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	cache := &fakeCache{entries: map[string]fetcher.FloorQuote{}}
	ctrl := newTestController(fixedFloors(quoteFor("boredapeyachtclub", 80.5)), replier,
		WithQuoteCache(cache))

	require.NoError(t, ctrl.HandleMessage(userMessage("C1", "f boredapeyachtclub")))
	drain(t, ctrl)

	require.Equal(t, []string{"boredapeyachtclub"}, cache.puts)
}

func TestOverlappingLookupsAllComplete(t *testing.T) {
	replier := &fakeReplier{botID: "bot-1"}
	floors := &fakeFloors{fn: func(_ context.Context, slug string) (fetcher.FloorQuote, error) {
		time.Sleep(10 * time.Millisecond)
		return quoteFor(slug, 1), nil
	}}
	ctrl := newTestController(floors, replier, WithMaxConcurrentLookups(2))

	for i := 0; i < 8; i++ {
		msg := userMessage("C1", fmt.Sprintf("f collection-%d", i))
		require.NoError(t, ctrl.HandleMessage(msg))
	}
	drain(t, ctrl)

	require.Len(t, replier.sent(), 8)
	require.Equal(t, 8, floors.callCount())
}
