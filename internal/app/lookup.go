package app

import (
	"context"
	"fmt"
	"os"

	"floor-price-bot/internal/bot"
	"floor-price-bot/internal/command"
	"floor-price-bot/internal/gateway"
)

// Lookup runs one floor lookup through the full command pipeline and prints
// the reply the bot would have sent, without connecting to Discord.
func (a *App) Lookup(ctx context.Context, slug string) error {
	floors := a.newFloorFetcher()
	parser := command.NewParser(a.Config.Bot.Trigger)

	opts := []bot.Option{
		bot.WithLookupTimeout(a.Config.Bot.LookupTimeout),
		bot.WithSuggester(bot.NewSuggester(a.Config.Watchlist.Collections)),
	}
	if ethUsd := a.newEthUsdFetcher(); ethUsd != nil {
		opts = append(opts, bot.WithEthUsd(ethUsd))
	}

	controller := bot.NewController(parser, floors, &stdoutReplier{}, a.Logger, opts...)

	msg := gateway.InboundMessage{
		MessageID: "local",
		ChannelID: "stdout",
		AuthorID:  "operator",
		Content:   a.Config.Bot.Trigger + " " + slug,
	}
	if err := controller.HandleMessage(msg); err != nil {
		return err
	}
	return controller.Drain(ctx)
}

type stdoutReplier struct{}

func (r *stdoutReplier) SendReply(_ context.Context, _ string, text string) error {
	_, err := fmt.Fprintln(os.Stdout, text)
	return err
}

func (r *stdoutReplier) BotUserID() string { return "" }

var _ bot.Replier = (*stdoutReplier)(nil)
