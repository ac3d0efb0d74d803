package alerting

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeSender struct {
	channelID string
	text      string
	err       error
}

func (f *fakeSender) SendReply(_ context.Context, channelID, text string) error {
	f.channelID = channelID
	f.text = text
	return f.err
}

func sampleNote() Notification {
	return Notification{
		CollectionSlug: "boredapeyachtclub",
		SampleTS:       time.Now(),
		PreviousFloor:  decimal.NewFromFloat(76.1),
		CurrentFloor:   decimal.NewFromFloat(80.5),
		ChangePct:      decimal.NewFromFloat(5.78),
		ThresholdPct:   decimal.NewFromInt(5),
		Direction:      "up",
		Currency:       "ETH",
	}
}

func TestDiscordNotifierSuccess(t *testing.T) {
	sender := &fakeSender{}
	notifier := NewDiscordNotifier(sender, "C-alerts", testLogger())

	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("Notify 应成功: %v", err)
	}
	if sender.channelID != "C-alerts" {
		t.Fatalf("应投递默认频道, 实际 %s", sender.channelID)
	}
	if !strings.Contains(sender.text, "boredapeyachtclub") {
		t.Fatalf("文本应包含集合名: %q", sender.text)
	}
	if !strings.Contains(sender.text, "80.5") || !strings.Contains(sender.text, "76.1") {
		t.Fatalf("文本应包含前后地板价: %q", sender.text)
	}
}

func TestDiscordNotifierPrefersNoteChannel(t *testing.T) {
	sender := &fakeSender{}
	notifier := NewDiscordNotifier(sender, "C-default", testLogger())

	note := sampleNote()
	note.ChannelID = "C-override"
	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Notify 应成功: %v", err)
	}
	if sender.channelID != "C-override" {
		t.Fatalf("应优先使用告警自带频道, 实际 %s", sender.channelID)
	}
}

func TestDiscordNotifierRequiresChannel(t *testing.T) {
	notifier := NewDiscordNotifier(&fakeSender{}, "", testLogger())

	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("缺少频道配置应报错")
	}
}

func TestDiscordNotifierSendFailure(t *testing.T) {
	sender := &fakeSender{err: fmt.Errorf("session not ready")}
	notifier := NewDiscordNotifier(sender, "C-alerts", testLogger())

	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("发送失败应报错")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
