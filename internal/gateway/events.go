package gateway

import "encoding/json"

// Discord gateway opcodes (v10).
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Gateway intents requested on Identify.
const (
	intentGuilds         = 1 << 0
	intentGuildMessages  = 1 << 9
	intentMessageContent = 1 << 15

	defaultIntents = intentGuilds | intentGuildMessages | intentMessageContent
)

// Close codes after which the server will never accept the same credentials
// or configuration again, so reconnecting is pointless.
const (
	closeAuthenticationFailed = 4004
	closeInvalidShard         = 4010
	closeShardingRequired     = 4011
	closeInvalidAPIVersion    = 4012
	closeInvalidIntents       = 4013
	closeDisallowedIntents    = 4014
)

// Close codes that invalidate the session but allow a fresh Identify.
const (
	closeInvalidSeq      = 4007
	closeSessionTimedOut = 4009
)

// payload is the envelope every gateway frame is wrapped in.
type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type userData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

type readyData struct {
	SessionID        string   `json:"session_id"`
	ResumeGatewayURL string   `json:"resume_gateway_url"`
	User             userData `json:"user"`
}

type messageCreateData struct {
	ID        string   `json:"id"`
	ChannelID string   `json:"channel_id"`
	Content   string   `json:"content"`
	Author    userData `json:"author"`
}

// InboundMessage is a message-created event as handed to the registered
// handler. It carries only what command handling needs, not the raw frame.
type InboundMessage struct {
	MessageID string
	ChannelID string
	AuthorID  string
	AuthorBot bool
	Content   string
}

// MessageHandler receives inbound messages relayed by the session. It is
// invoked from the connection's read loop in delivery order; handlers that
// do slow work should spawn it themselves. A returned error is logged and
// never tears down the connection.
type MessageHandler func(msg InboundMessage) error

// State describes where the session is in its connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateReady
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
