package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func readySession(t *testing.T, apiBase string, replyMax int) *Session {
	t.Helper()
	session := NewSession(Options{
		Token:          "test-token",
		APIBase:        apiBase,
		ReplyMaxLength: replyMax,
	}, zerolog.Nop())
	session.setState(StateReady)
	return session
}

func TestSendReplyPostsToChannel(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody createMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	session := readySession(t, srv.URL, 0)
	err := session.SendReply(context.Background(), "C1", "floor is 80.5 ETH")
	require.NoError(t, err)
	require.Equal(t, "/channels/C1/messages", gotPath)
	require.Equal(t, "Bot test-token", gotAuth)
	require.Equal(t, "floor is 80.5 ETH", gotBody.Content)
}

func TestSendReplyFailsWhenNotReady(t *testing.T) {
	session := NewSession(Options{Token: "test-token"}, zerolog.Nop())

	err := session.SendReply(context.Background(), "C1", "hello")
	require.Error(t, err)

	var se *SendError
	require.ErrorAs(t, err, &se)
	require.Contains(t, se.Reason, "not ready")
}

func TestSendReplyTruncatesLongContent(t *testing.T) {
	var gotBody createMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	session := readySession(t, srv.URL, 10)
	err := session.SendReply(context.Background(), "C1", strings.Repeat("é", 15))
	require.NoError(t, err)
	require.Equal(t, 10, utf8.RuneCountInString(gotBody.Content))
	require.True(t, strings.HasSuffix(gotBody.Content, "…"))
}

func TestSendReplyReportsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	session := readySession(t, srv.URL, 0)
	err := session.SendReply(context.Background(), "C1", "hello")
	require.Error(t, err)

	var se *SendError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	require.Equal(t, 2*time.Second, se.RetryAfter)
}

func TestTruncateContent(t *testing.T) {
	require.Equal(t, "short", truncateContent("short", 10))
	require.Equal(t, "exactlyten", truncateContent("exactlyten", 10))

	out := truncateContent("well over the limit", 10)
	require.Equal(t, 10, utf8.RuneCountInString(out))
	require.Equal(t, "well over…", out)
}
