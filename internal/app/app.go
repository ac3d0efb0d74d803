package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"floor-price-bot/internal/alerting"
	"floor-price-bot/internal/bot"
	"floor-price-bot/internal/cache"
	"floor-price-bot/internal/command"
	"floor-price-bot/internal/config"
	"floor-price-bot/internal/fetcher"
	"floor-price-bot/internal/gateway"
	"floor-price-bot/internal/health"
	"floor-price-bot/internal/scheduler"
	"floor-price-bot/internal/storage"
	"floor-price-bot/internal/tracker"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFloorFetcher() *fetcher.Floor {
	return fetcher.NewFloor(fetcher.FloorOptions{
		BaseURL:   a.Config.Marketplace.BaseURL,
		APIKey:    a.Config.Marketplace.APIKey,
		Timeout:   a.Config.Marketplace.RequestTimeout,
		UserAgent: a.Config.Marketplace.UserAgent,
	}, a.Logger)
}

// newEthUsdFetcher returns nil unless both the RPC endpoint and the feed
// address are configured. USD enrichment is strictly optional.
func (a *App) newEthUsdFetcher() fetcher.EthUsdFetcher {
	if a.Config.Ethereum.RPCURL == "" || a.Config.Ethereum.EthUsdFeed == "" {
		return nil
	}
	return fetcher.NewEthUsd(fetcher.EthUsdOptions{
		RPCURL:      a.Config.Ethereum.RPCURL,
		FeedAddress: a.Config.Ethereum.EthUsdFeed,
		Timeout:     a.Config.Ethereum.RequestTimeout,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// openQuoteCache connects to redis when configured. An unreachable redis is
// downgraded to a warning; the bot then fetches every lookup from the
// marketplace directly.
func (a *App) openQuoteCache() (*cache.Quotes, func()) {
	if a.Config.Cache.RedisAddr == "" {
		return nil, nil
	}

	quotes, err := cache.New(cache.Options{
		Addr: a.Config.Cache.RedisAddr,
		TTL:  a.Config.Cache.TTL,
	}, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis cache unavailable; lookups go straight to the marketplace")
		return nil, nil
	}
	return quotes, func() { _ = quotes.Close() }
}

// Run executes the long-running bot: the gateway session, the command
// controller, the liveness endpoint, and the optional watchlist tracker.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateRun(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	floors := a.newFloorFetcher()
	ethUsd := a.newEthUsdFetcher()

	parser := command.NewParser(a.Config.Bot.Trigger)

	session := gateway.NewSession(gateway.Options{
		Token:          a.Config.Discord.Token,
		GatewayURL:     a.Config.Discord.GatewayURL,
		APIBase:        a.Config.Discord.APIBase,
		ReplyMaxLength: a.Config.Discord.ReplyMaxLength,
		RequestTimeout: a.Config.Discord.RequestTimeout,
		Reconnect: gateway.ReconnectPolicy{
			InitialBackoff: a.Config.Discord.Reconnect.InitialBackoff,
			MaxBackoff:     a.Config.Discord.Reconnect.MaxBackoff,
			MaxAttempts:    a.Config.Discord.Reconnect.MaxAttempts,
		},
	}, a.Logger)

	ctrlOpts := []bot.Option{
		bot.WithLookupTimeout(a.Config.Bot.LookupTimeout),
		bot.WithMaxConcurrentLookups(a.Config.Bot.MaxConcurrentLookups),
		bot.WithSuggester(bot.NewSuggester(a.Config.Watchlist.Collections)),
	}
	if ethUsd != nil {
		ctrlOpts = append(ctrlOpts, bot.WithEthUsd(ethUsd))
	}

	quotes, closeCache := a.openQuoteCache()
	if closeCache != nil {
		defer closeCache()
	}
	if quotes != nil {
		ctrlOpts = append(ctrlOpts, bot.WithQuoteCache(quotes))
	}

	controller := bot.NewController(parser, floors, session, a.Logger, ctrlOpts...)
	session.OnMessage(controller.HandleMessage)

	healthSrv := health.NewServer(func() health.Status {
		if session.State() == gateway.StateFailed {
			return health.StatusDegraded
		}
		return health.StatusOK
	}, a.Logger)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var warmer tracker.QuoteWarmer
	if quotes != nil {
		warmer = quotes
	}
	trk, err := a.newTracker(session, floors, ethUsd, store, warmer)
	if err != nil {
		return err
	}

	go func() {
		if err := healthSrv.Start(a.Config.Health.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("health listener stopped")
		}
	}()

	if trk != nil {
		go func() {
			if err := trk.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("floor tracker stopped")
			}
		}()
	}

	sessErr := make(chan error, 1)
	go func() {
		sessErr <- session.Run(ctx)
	}()

	a.Logger.Info().Str("trigger", a.Config.Bot.Trigger).Msg("bot started")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-sessErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
			a.Logger.Error().Err(err).Msg("gateway session failed permanently; health endpoint now reports degraded")
			// Stay up so the external scheduler sees the 503 and restarts us.
			<-ctx.Done()
		}
	}

	a.shutdown(controller, healthSrv)
	return runErr
}

// newTracker wires the watchlist sampling loop when both a watchlist and a
// database are configured. Alerts reuse the gateway session as their
// delivery channel.
func (a *App) newTracker(session *gateway.Session, floors fetcher.FloorFetcher, ethUsd fetcher.EthUsdFetcher, store *storage.Store, warmer tracker.QuoteWarmer) (*tracker.Tracker, error) {
	if len(a.Config.Watchlist.Collections) == 0 {
		return nil, nil
	}
	if store == nil {
		a.Logger.Warn().Msg("watchlist configured but database.dsn missing; floor tracking disabled")
		return nil, nil
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:      a.Config.Watchlist.Interval,
		AlignToBucket: a.Config.Watchlist.AlignToBucket,
		StartupDelay:  a.Config.Watchlist.StartupDelay,
		TickTimeout:   a.Config.Watchlist.TickTimeout,
	}, a.Logger)
	if err != nil {
		return nil, err
	}

	var notifier alerting.Notifier
	if a.Config.Alerting.Enabled {
		notifier = alerting.NewDiscordNotifier(session, a.Config.Alerting.ChannelID, a.Logger)
	}

	return tracker.New(a.Config, sched, floors, ethUsd, store, store, notifier, warmer, a.Logger), nil
}

// shutdown gives in-flight lookups a grace window, then joins the health
// listener. The gateway close frame was already sent by session.Run when its
// context ended.
func (a *App) shutdown(controller *bot.Controller, healthSrv *health.Server) {
	grace := a.Config.Bot.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	shutCtx, shutCancel := context.WithTimeout(context.Background(), grace)
	defer shutCancel()

	if err := controller.Drain(shutCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("in-flight lookups did not finish within the shutdown grace")
	}
	if err := healthSrv.Shutdown(shutCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("health listener shutdown failed")
	}

	a.Logger.Info().Msg("bot stopped")
}

// ExportOptions hold parameters for exporting historical floor samples.
type ExportOptions struct {
	Collection string
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Collection string
	Limit      int
	Alerts     bool
}
