package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message types carried in Envelope.Type.
const (
	TypeClientHello      = "CLIENT_HELLO"
	TypeClientAudioChunk = "CLIENT_AUDIO_CHUNK"
	TypeClientEnd        = "CLIENT_END"
	TypeHeartbeat        = "HEARTBEAT"

	TypeServerReady      = "SERVER_READY"
	TypeServerStatus     = "SERVER_STATUS"
	TypeServerError      = "SERVER_ERROR"
	TypeServerAudioChunk = "SERVER_AUDIO_CHUNK"
	TypeServerAudioFlush = "SERVER_AUDIO_FLUSH"
	TypeServerTranscript = "SERVER_TRANSCRIPT"
)

// ConnectionState is reported in SERVER_STATUS.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateDisconnected ConnectionState = "DISCONNECTED"
)

const (
	HeartbeatPing = "ping"
	HeartbeatPong = "pong"

	FlushReasonInterrupted = "interrupted"

	RoleUser  = "user"
	RoleModel = "model"
)

// Error codes sent in SERVER_ERROR.
const (
	CodeBadPayload         = "bad_payload"
	CodeUnsupportedMessage = "unsupported_message"
	CodeSessionNotReady    = "session_not_ready"
	CodeForwardFailed      = "forward_failed"
	CodeModelConnectFailed = "model_connect_failed"
	CodeModelError         = "model_error"
	CodeSocketError        = "socket_error"
	CodeRateLimited        = "rate_limited"
)

// Envelope is the wire unit in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Seq       *int64          `json:"seq,omitempty"`
}

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badPayload(message, param string) *DecodeError {
	return &DecodeError{Code: CodeBadPayload, Message: message, Param: param}
}

type ClientHello struct {
	AppRoute string `json:"appRoute,omitempty"`
}

// ClientAudioChunk carries base64 PCM on the wire; Chunk holds the decoded bytes.
type ClientAudioChunk struct {
	Chunk      []byte `json:"chunk"`
	SampleRate int    `json:"sampleRate"`
}

type ClientEnd struct{}

type Heartbeat struct {
	Kind string `json:"kind"`
}

// Unknown is a well-formed envelope whose type the server does not handle.
type Unknown struct {
	Type string
}

// DecodeClientMessage parses one inbound frame. Malformed frames return a
// *DecodeError with code bad_payload; unrecognised types return Unknown.
func DecodeClientMessage(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badPayload("invalid json frame", "")
	}
	typ := strings.TrimSpace(env.Type)
	if typ == "" {
		return nil, badPayload("socket payload missing type", "type")
	}

	switch typ {
	case TypeClientHello:
		var msg ClientHello
		if err := decodePayload(env.Payload, &msg); err != nil {
			return nil, badPayload("invalid CLIENT_HELLO payload", "payload")
		}
		msg.AppRoute = strings.TrimSpace(msg.AppRoute)
		return msg, nil
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := decodePayload(env.Payload, &msg); err != nil {
			return nil, badPayload("invalid CLIENT_AUDIO_CHUNK payload", "payload")
		}
		if len(msg.Chunk) == 0 {
			return nil, badPayload("CLIENT_AUDIO_CHUNK.chunk is required", "payload.chunk")
		}
		if msg.SampleRate <= 0 {
			return nil, badPayload("CLIENT_AUDIO_CHUNK.sampleRate must be > 0", "payload.sampleRate")
		}
		return msg, nil
	case TypeClientEnd:
		return ClientEnd{}, nil
	case TypeHeartbeat:
		var msg Heartbeat
		if err := decodePayload(env.Payload, &msg); err != nil {
			return nil, badPayload("invalid HEARTBEAT payload", "payload")
		}
		return msg, nil
	default:
		return Unknown{Type: typ}, nil
	}
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// Reply returns the heartbeat answering h: ping gets pong, anything else gets ping.
func (h Heartbeat) Reply() Heartbeat {
	if h.Kind == HeartbeatPing {
		return Heartbeat{Kind: HeartbeatPong}
	}
	return Heartbeat{Kind: HeartbeatPing}
}

type ServerReady struct {
	SessionID      string `json:"sessionId"`
	RecordingToken string `json:"recordingToken"`
}

type ServerStatus struct {
	State  ConnectionState `json:"state"`
	Detail string          `json:"detail,omitempty"`
}

type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerAudioChunk encodes Chunk as base64 on the wire.
type ServerAudioChunk struct {
	Chunk       []byte `json:"chunk"`
	SampleRate  int    `json:"sampleRate"`
	IsLastChunk bool   `json:"isLastChunk"`
}

type ServerAudioFlush struct {
	Reason string `json:"reason"`
}

type ServerTranscript struct {
	Role  string `json:"role"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Encode wraps payload in an envelope stamped with now. seq is omitted when zero.
func Encode(typ string, payload any, seq int64, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env := Envelope{Type: typ, Payload: raw, Timestamp: now.UnixMilli()}
	if seq > 0 {
		env.Seq = &seq
	}
	return json.Marshal(env)
}
