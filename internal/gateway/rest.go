package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// SendError reports a failed reply delivery.
type SendError struct {
	ChannelID  string
	StatusCode int
	RetryAfter time.Duration
	Reason     string
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("send to channel %s failed (status %d): %s", e.ChannelID, e.StatusCode, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("send to channel %s failed: %v", e.ChannelID, e.Err)
	}
	return fmt.Sprintf("send to channel %s failed: %s", e.ChannelID, e.Reason)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

type createMessageRequest struct {
	Content string `json:"content"`
}

// SendReply posts a message to a channel over the REST API. It fails when
// the session is not Ready. Replies longer than the configured cap are
// truncated on a rune boundary with a trailing ellipsis rather than
// rejected, so an oversized quote still produces a useful answer.
func (s *Session) SendReply(ctx context.Context, channelID, text string) error {
	if channelID == "" {
		return &SendError{Reason: "channel id is required"}
	}
	if state := s.State(); state != StateReady {
		return &SendError{ChannelID: channelID, Reason: fmt.Sprintf("session not ready (state %s)", state)}
	}

	text = truncateContent(text, s.opts.ReplyMaxLength)

	body, err := json.Marshal(createMessageRequest{Content: text})
	if err != nil {
		return &SendError{ChannelID: channelID, Reason: "encode payload", Err: err}
	}

	url := fmt.Sprintf("%s/channels/%s/messages", s.opts.APIBase, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &SendError{ChannelID: channelID, Reason: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bot "+s.opts.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &SendError{ChannelID: channelID, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Debug().Str("channel_id", channelID).Int("length", len(text)).Msg("reply sent")
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	sendErr := &SendError{
		ChannelID:  channelID,
		StatusCode: resp.StatusCode,
		Reason:     string(snippet),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			sendErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return sendErr
}

func truncateContent(text string, limit int) string {
	if limit <= 0 {
		limit = defaultReplyMaxLength
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}
