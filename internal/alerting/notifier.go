package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"floor-price-bot/internal/logging"
)

// Notification 封装一次地板价异动的告警上下文。
type Notification struct {
	CollectionSlug string
	SampleTS       time.Time
	PreviousFloor  decimal.Decimal
	CurrentFloor   decimal.Decimal
	ChangePct      decimal.Decimal
	ThresholdPct   decimal.Decimal
	Direction      string
	Currency       string
	ChannelID      string
	AdditionalMsg  string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// ReplySender 是网关会话暴露的发送能力。
type ReplySender interface {
	SendReply(ctx context.Context, channelID, text string) error
}

// DiscordNotifier 通过已建立的网关会话把告警推进频道。
type DiscordNotifier struct {
	sender    ReplySender
	channelID string
	logger    zerolog.Logger
}

// NewDiscordNotifier 构造 Discord 告警器。channelID 为默认投递频道。
func NewDiscordNotifier(sender ReplySender, channelID string, logger zerolog.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		sender:    sender,
		channelID: channelID,
		logger:    logging.Component(logger, "alert_discord"),
	}
}

// Notify 渲染告警文本并发送。
func (n *DiscordNotifier) Notify(ctx context.Context, note Notification) error {
	channelID := note.ChannelID
	if channelID == "" {
		channelID = n.channelID
	}
	if channelID == "" {
		return fmt.Errorf("alerting: channel id 未配置")
	}

	if err := n.sender.SendReply(ctx, channelID, renderMessage(note)); err != nil {
		return fmt.Errorf("send discord alert: %w", err)
	}

	n.logger.Info().Time("sample_ts", note.SampleTS).
		Str("collection", note.CollectionSlug).
		Str("direction", note.Direction).
		Msg("告警已发送 (Discord)")
	return nil
}

func renderMessage(note Notification) string {
	currency := note.Currency
	if currency == "" {
		currency = "ETH"
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Floor Alert] %s\n", note.CollectionSlug))
	builder.WriteString(fmt.Sprintf("Floor: %s %s (was %s %s)\n",
		note.CurrentFloor.String(), currency, note.PreviousFloor.String(), currency))
	builder.WriteString(fmt.Sprintf("Change: %s%% (threshold %s%%)\n",
		note.ChangePct.StringFixed(2), note.ThresholdPct.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Direction: %s\n", note.Direction))
	builder.WriteString(fmt.Sprintf("Sampled: %s UTC\n", note.SampleTS.UTC().Format(time.RFC3339)))
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*DiscordNotifier)(nil)
