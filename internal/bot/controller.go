package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"floor-price-bot/internal/command"
	"floor-price-bot/internal/fetcher"
	"floor-price-bot/internal/gateway"
	"floor-price-bot/internal/logging"
)

const (
	defaultLookupTimeout        = 5 * time.Second
	defaultMaxConcurrentLookups = 4
	replyTimeout                = 10 * time.Second
)

// Replier is the send capability the controller holds instead of the raw
// gateway connection.
type Replier interface {
	SendReply(ctx context.Context, channelID, text string) error
	BotUserID() string
}

// QuoteCache serves recent quotes so repeated lookups skip the marketplace.
type QuoteCache interface {
	Get(ctx context.Context, slug string) (fetcher.FloorQuote, bool)
	Put(ctx context.Context, quote fetcher.FloorQuote)
}

// Controller turns inbound chat messages into floor price replies. Each
// recognised command is handled on its own goroutine; a semaphore caps how
// many lookups run against the marketplace at once.
type Controller struct {
	parser  *command.Parser
	floors  fetcher.FloorFetcher
	replier Replier
	logger  zerolog.Logger

	ethUsd    fetcher.EthUsdFetcher
	quotes    QuoteCache
	suggester *Suggester

	lookupTimeout time.Duration
	sem           chan struct{}
	wg            sync.WaitGroup
}

type Option func(*Controller)

// WithLookupTimeout bounds each marketplace fetch.
func WithLookupTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.lookupTimeout = d
		}
	}
}

// WithMaxConcurrentLookups caps lookups running at the same time.
func WithMaxConcurrentLookups(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.sem = make(chan struct{}, n)
		}
	}
}

// WithEthUsd enables USD enrichment of ETH-denominated quotes.
func WithEthUsd(f fetcher.EthUsdFetcher) Option {
	return func(c *Controller) {
		c.ethUsd = f
	}
}

// WithQuoteCache serves repeat lookups from a cache before hitting the
// marketplace.
func WithQuoteCache(q QuoteCache) Option {
	return func(c *Controller) {
		c.quotes = q
	}
}

// WithSuggester adds "did you mean" hints to not-found replies.
func WithSuggester(s *Suggester) Option {
	return func(c *Controller) {
		c.suggester = s
	}
}

// NewController wires the parser, lookup client and reply capability
// together.
func NewController(parser *command.Parser, floors fetcher.FloorFetcher, replier Replier, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		parser:        parser,
		floors:        floors,
		replier:       replier,
		logger:        logging.Component(logger, "bot"),
		lookupTimeout: defaultLookupTimeout,
		sem:           make(chan struct{}, defaultMaxConcurrentLookups),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleMessage is the gateway message handler. Messages from bots,
// including this one, and messages that do not parse as a command are
// ignored. Recognised commands are answered asynchronously.
func (c *Controller) HandleMessage(msg gateway.InboundMessage) error {
	if msg.AuthorBot {
		return nil
	}
	if own := c.replier.BotUserID(); own != "" && msg.AuthorID == own {
		return nil
	}

	cmd, ok := c.parser.Parse(msg.Content)
	if !ok {
		return nil
	}

	if cmd.Argument == "" {
		usage := fmt.Sprintf("usage: %s <collection-slug>", c.parser.Trigger())
		c.dispatch(msg.ChannelID, func(context.Context) string { return usage })
		return nil
	}

	c.dispatch(msg.ChannelID, func(ctx context.Context) string {
		return c.lookup(ctx, cmd.Argument)
	})
	return nil
}

// dispatch runs produce under the lookup semaphore and delivers its result
// to the channel. It never blocks the caller, so the gateway read loop keeps
// draining while lookups are in flight.
func (c *Controller) dispatch(channelID string, produce func(context.Context) string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		c.sem <- struct{}{}
		defer func() { <-c.sem }()

		lookupCtx, cancel := context.WithTimeout(context.Background(), c.lookupTimeout)
		text := produce(lookupCtx)
		cancel()

		replyCtx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()
		if err := c.replier.SendReply(replyCtx, channelID, text); err != nil {
			c.logger.Warn().Err(err).Str("channel_id", channelID).Msg("reply delivery failed")
		}
	}()
}

// Drain waits for in-flight lookups to finish, up to ctx's deadline.
func (c *Controller) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) lookup(ctx context.Context, arg string) string {
	slug := strings.ToLower(strings.TrimSpace(arg))
	log := c.logger.With().Str("lookup_id", uuid.NewString()).Str("slug", slug).Logger()

	if c.quotes != nil {
		if quote, ok := c.quotes.Get(ctx, slug); ok {
			log.Debug().Msg("quote served from cache")
			c.learn(quote.CollectionSlug)
			return c.formatQuote(ctx, quote)
		}
	}

	quote, err := c.floors.FetchFloor(ctx, slug)
	if err != nil {
		switch {
		case errors.Is(err, fetcher.ErrCollectionNotFound):
			log.Info().Msg("collection not found")
			reply := fmt.Sprintf("collection %q not found", slug)
			if c.suggester != nil {
				if hint, ok := c.suggester.Suggest(slug); ok {
					reply += fmt.Sprintf(", did you mean %q?", hint)
				}
			}
			return reply
		case errors.Is(err, fetcher.ErrRateLimited):
			log.Warn().Err(err).Msg("marketplace rate limited")
			return "price lookup is rate limited right now, try again later"
		default:
			log.Warn().Err(err).Msg("floor lookup failed")
			return "price lookup failed, try again later"
		}
	}

	if c.quotes != nil {
		c.quotes.Put(ctx, quote)
	}
	c.learn(quote.CollectionSlug)
	log.Debug().Str("floor", quote.Floor.String()).Str("currency", quote.Currency).Msg("floor fetched")
	return c.formatQuote(ctx, quote)
}

// learn feeds a resolved slug into the suggestion index.
func (c *Controller) learn(slug string) {
	if c.suggester != nil {
		c.suggester.Learn(slug)
	}
}

// formatQuote renders the reply text. ETH quotes get an approximate USD
// figure when the on-chain rate is available; a failed rate fetch just drops
// the enrichment.
func (c *Controller) formatQuote(ctx context.Context, quote fetcher.FloorQuote) string {
	text := fmt.Sprintf("%s floor: %s %s", quote.CollectionSlug, quote.Floor.String(), quote.Currency)
	if c.ethUsd != nil && strings.EqualFold(quote.Currency, "ETH") {
		rate, err := c.ethUsd.FetchEthUsd(ctx)
		if err != nil {
			c.logger.Debug().Err(err).Msg("eth/usd rate unavailable, replying without usd")
		} else if rate.IsPositive() {
			text += fmt.Sprintf(" (~$%s)", quote.Floor.Mul(rate).StringFixed(2))
		}
	}
	return text
}
