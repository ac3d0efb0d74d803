package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	mrand "math/rand/v2"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"floor-price-bot/internal/logging"
)

const (
	defaultGatewayURL     = "wss://gateway.discord.gg/?v=10&encoding=json"
	defaultAPIBase        = "https://discord.com/api/v10"
	defaultReplyMaxLength = 2000
	defaultRequestTimeout = 10 * time.Second

	writeTimeout     = 10 * time.Second
	handshakeTimeout = 30 * time.Second
)

// ReconnectPolicy bounds the backoff between reconnect attempts.
// MaxAttempts of zero means retry forever.
type ReconnectPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

// Options configures a gateway session.
type Options struct {
	Token          string
	GatewayURL     string
	APIBase        string
	Intents        int
	ReplyMaxLength int
	RequestTimeout time.Duration
	Reconnect      ReconnectPolicy
}

// Session owns the persistent gateway connection. It identifies, heartbeats,
// resumes after drops, and relays message-created events to the registered
// handler. Nothing outside the session touches the socket; other components
// interact only through OnMessage and SendReply.
type Session struct {
	opts       Options
	logger     zerolog.Logger
	httpClient *http.Client

	handler MessageHandler

	stateMux sync.Mutex
	state    State

	sessMux   sync.Mutex
	sessionID string
	resumeURL string
	botUserID string

	seq         atomic.Int64
	pendingAcks atomic.Int32
	sawReady    atomic.Bool

	writeMux sync.Mutex
}

// permanentError marks a close the session must not retry, such as a
// rejected token or disallowed intents.
type permanentError struct {
	Code int
	Text string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("gateway closed permanently (code %d): %s", e.Code, e.Text)
}

// NewSession creates a session manager. Zero option fields fall back to
// sensible defaults; the token is the only field without one.
func NewSession(opts Options, logger zerolog.Logger) *Session {
	if opts.GatewayURL == "" {
		opts.GatewayURL = defaultGatewayURL
	}
	if opts.APIBase == "" {
		opts.APIBase = defaultAPIBase
	}
	if opts.Intents == 0 {
		opts.Intents = defaultIntents
	}
	if opts.ReplyMaxLength <= 0 {
		opts.ReplyMaxLength = defaultReplyMaxLength
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Reconnect.InitialBackoff <= 0 {
		opts.Reconnect.InitialBackoff = time.Second
	}
	if opts.Reconnect.MaxBackoff <= 0 {
		opts.Reconnect.MaxBackoff = time.Minute
	}

	return &Session{
		opts:   opts,
		logger: logging.Component(logger, "gateway"),
		httpClient: &http.Client{
			Timeout: opts.RequestTimeout,
		},
		state: StateDisconnected,
	}
}

// OnMessage registers the handler that receives message-created events.
// It must be called before Run.
func (s *Session) OnMessage(handler MessageHandler) {
	s.handler = handler
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.stateMux.Lock()
	defer s.stateMux.Unlock()
	return s.state
}

// BotUserID returns the bot's own user ID once the first READY has been
// received, empty before that.
func (s *Session) BotUserID() string {
	s.sessMux.Lock()
	defer s.sessMux.Unlock()
	return s.botUserID
}

// Run connects and serves the gateway until ctx is cancelled or a permanent
// failure occurs. Transport drops are retried with capped exponential
// backoff; the attempt counter resets every time a connection reaches Ready.
func (s *Session) Run(ctx context.Context) error {
	if s.opts.Token == "" {
		s.setState(StateFailed)
		return errors.New("gateway: token is required")
	}

	attempts := 0
	for {
		err := s.serve(ctx)
		if s.sawReady.Swap(false) {
			attempts = 0
		}
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			s.logger.Info().Msg("gateway session closed")
			return nil
		}

		var pe *permanentError
		if errors.As(err, &pe) {
			s.setState(StateFailed)
			s.logger.Error().Err(err).Msg("gateway session failed permanently")
			return err
		}

		attempts++
		if s.opts.Reconnect.MaxAttempts > 0 && attempts > s.opts.Reconnect.MaxAttempts {
			s.setState(StateFailed)
			s.logger.Error().Err(err).Int("attempts", attempts-1).Msg("gateway reconnect attempts exhausted")
			return fmt.Errorf("gateway: reconnect attempts exhausted: %w", err)
		}

		s.setState(StateReconnecting)
		delay := s.backoffDelay(attempts)
		s.logger.Warn().Err(err).Int("attempt", attempts).Dur("backoff", delay).Msg("gateway connection lost, reconnecting")

		select {
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return nil
		case <-time.After(delay):
		}
	}
}

// serve runs a single connection from dial to close and returns the error
// that ended it.
func (s *Session) serve(ctx context.Context) error {
	s.setState(StateConnecting)
	s.pendingAcks.Store(0)

	url := s.opts.GatewayURL
	resuming := false
	s.sessMux.Lock()
	if s.sessionID != "" && s.resumeURL != "" {
		url = s.resumeURL
		resuming = true
	}
	s.sessMux.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resuming {
			// The resume endpoint may be gone; fall back to a fresh session.
			s.clearResumeState()
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"),
				time.Now().Add(writeTimeout))
			_ = conn.Close()
		case <-done:
		}
	}()

	interval, err := s.handshake(conn, resuming)
	if err != nil {
		return err
	}
	s.setState(StateAuthenticated)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.heartbeatLoop(hbCtx, conn, interval)

	return s.readLoop(conn)
}

// handshake waits for Hello and answers with Identify or Resume. It returns
// the heartbeat interval the server mandated.
func (s *Session) handshake(conn *websocket.Conn, resuming bool) (time.Duration, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return 0, s.classifyReadError(err)
	}

	var env payload
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, fmt.Errorf("decode hello: %w", err)
	}
	if env.Op != opHello {
		return 0, fmt.Errorf("expected hello, got op %d", env.Op)
	}

	var hello helloData
	if err := json.Unmarshal(env.D, &hello); err != nil {
		return 0, fmt.Errorf("decode hello payload: %w", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return 0, fmt.Errorf("invalid heartbeat interval %d", hello.HeartbeatInterval)
	}
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond

	if resuming {
		s.sessMux.Lock()
		resume := resumeData{
			Token:     s.opts.Token,
			SessionID: s.sessionID,
			Seq:       s.seq.Load(),
		}
		s.sessMux.Unlock()

		data, _ := json.Marshal(resume)
		if err := s.writeJSON(conn, payload{Op: opResume, D: data}); err != nil {
			return 0, fmt.Errorf("send resume: %w", err)
		}
		s.logger.Info().Str("session_id", resume.SessionID).Int64("seq", resume.Seq).Msg("resuming gateway session")
		return interval, nil
	}

	identify := identifyData{
		Token:   s.opts.Token,
		Intents: s.opts.Intents,
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: "floorbot",
			Device:  "floorbot",
		},
	}
	data, _ := json.Marshal(identify)
	if err := s.writeJSON(conn, payload{Op: opIdentify, D: data}); err != nil {
		return 0, fmt.Errorf("send identify: %w", err)
	}
	return interval, nil
}

// readLoop consumes frames until the connection dies.
func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return s.classifyReadError(err)
		}

		var env payload
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logger.Warn().Err(err).Msg("dropping undecodable gateway frame")
			continue
		}

		switch env.Op {
		case opDispatch:
			if env.S != nil {
				s.seq.Store(*env.S)
			}
			s.handleDispatch(env)
		case opHeartbeat:
			// Server asked for an immediate beat.
			if err := s.writeJSON(conn, s.heartbeatPayload()); err != nil {
				return fmt.Errorf("send requested heartbeat: %w", err)
			}
		case opHeartbeatAck:
			s.pendingAcks.Store(0)
		case opReconnect:
			s.logger.Info().Msg("server requested reconnect")
			return errors.New("server requested reconnect")
		case opInvalidSession:
			var resumable bool
			_ = json.Unmarshal(env.D, &resumable)
			if !resumable {
				s.clearResumeState()
			}
			s.logger.Warn().Bool("resumable", resumable).Msg("gateway session invalidated")
			return errors.New("session invalidated by server")
		default:
			s.logger.Debug().Int("op", env.Op).Msg("ignoring gateway opcode")
		}
	}
}

func (s *Session) handleDispatch(env payload) {
	switch env.T {
	case "READY":
		var ready readyData
		if err := json.Unmarshal(env.D, &ready); err != nil {
			s.logger.Warn().Err(err).Msg("undecodable READY payload")
			return
		}
		s.sessMux.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.botUserID = ready.User.ID
		s.sessMux.Unlock()
		s.markReady()
		s.logger.Info().Str("session_id", ready.SessionID).Str("user", ready.User.Username).Msg("gateway session ready")

	case "RESUMED":
		s.markReady()
		s.logger.Info().Msg("gateway session resumed")

	case "MESSAGE_CREATE":
		if s.State() != StateReady {
			return
		}
		var msg messageCreateData
		if err := json.Unmarshal(env.D, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("undecodable MESSAGE_CREATE payload")
			return
		}
		if s.handler == nil {
			return
		}
		inbound := InboundMessage{
			MessageID: msg.ID,
			ChannelID: msg.ChannelID,
			AuthorID:  msg.Author.ID,
			AuthorBot: msg.Author.Bot,
			Content:   msg.Content,
		}
		if err := s.handler(inbound); err != nil {
			s.logger.Warn().Err(err).Str("channel_id", msg.ChannelID).Msg("message handler failed")
		}

	default:
		s.logger.Debug().Str("event", env.T).Msg("ignoring dispatch event")
	}
}

// heartbeatLoop beats at the mandated interval. The first beat fires after a
// random fraction of the interval. Two beats without an ack mean the
// connection is a zombie, so the loop closes it and lets the read loop
// surface the failure.
func (s *Session) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	first := time.Duration(mrand.Float64() * float64(interval))
	timer := time.NewTimer(first)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if s.pendingAcks.Load() >= 2 {
			s.logger.Warn().Msg("two heartbeat acks missed, closing connection")
			_ = conn.Close()
			return
		}
		if err := s.writeJSON(conn, s.heartbeatPayload()); err != nil {
			_ = conn.Close()
			return
		}
		s.pendingAcks.Add(1)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) heartbeatPayload() payload {
	if seq := s.seq.Load(); seq > 0 {
		data, _ := json.Marshal(seq)
		return payload{Op: opHeartbeat, D: data}
	}
	return payload{Op: opHeartbeat, D: json.RawMessage("null")}
}

func (s *Session) writeJSON(conn *websocket.Conn, p payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.writeMux.Lock()
	defer s.writeMux.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// classifyReadError decides whether a dropped connection may be retried.
// Auth and intent rejections are permanent; session-invalidating codes clear
// the resume state so the next attempt identifies fresh.
func (s *Session) classifyReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case closeAuthenticationFailed, closeInvalidShard, closeShardingRequired,
			closeInvalidAPIVersion, closeInvalidIntents, closeDisallowedIntents:
			return &permanentError{Code: ce.Code, Text: ce.Text}
		case closeInvalidSeq, closeSessionTimedOut:
			s.clearResumeState()
		}
		return fmt.Errorf("connection closed (code %d): %s", ce.Code, ce.Text)
	}
	return fmt.Errorf("read: %w", err)
}

func (s *Session) setState(state State) {
	s.stateMux.Lock()
	prev := s.state
	s.state = state
	s.stateMux.Unlock()
	if prev != state {
		s.logger.Debug().Str("from", prev.String()).Str("to", state.String()).Msg("gateway state changed")
	}
}

func (s *Session) markReady() {
	s.setState(StateReady)
	s.sawReady.Store(true)
}

func (s *Session) clearResumeState() {
	s.sessMux.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.sessMux.Unlock()
	s.seq.Store(0)
}

func (s *Session) backoffDelay(attempt int) time.Duration {
	base := float64(s.opts.Reconnect.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if limit := float64(s.opts.Reconnect.MaxBackoff); base > limit {
		base = limit
	}
	return time.Duration(base * (0.5 + mrand.Float64()/2))
}
