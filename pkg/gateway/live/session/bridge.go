// Package session bridges one client websocket to one remote live session.
//
// A Bridge owns a single event loop goroutine. Inbound socket frames, the
// result of opening the remote session, remote messages and upstream send
// failures all arrive on channels and are handled one at a time by that
// loop; no other goroutine mutates bridge state.
//
// # Goroutines
//
//	readLoop      conn.ReadMessage → inbound
//	dial          Dialer.Dial → dialCh (at most once)
//	pumpRemote    Session.Receive → remoteCh (ends with one terminal event)
//	sendUpstream  upstream queue → Session.SendText / SendAudio
//	outboundWriter  priority/normal queues → conn
//
// Teardown runs exactly once, on the loop, whatever triggered it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-live/pkg/core/live"
	"github.com/vango-go/vai-live/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-live/pkg/gateway/metrics"
	"github.com/vango-go/vai-live/pkg/gateway/profiles"
)

// OutputSampleRate is the sample rate of audio produced by the remote model.
const OutputSampleRate = 24000

// Teardown reasons.
const (
	ReasonClientEnd          = "client_end"
	ReasonSocketClosed       = "socket_closed"
	ReasonSocketError        = protocol.CodeSocketError
	ReasonModelClosed        = "model_closed"
	ReasonModelError         = protocol.CodeModelError
	ReasonModelConnectFailed = protocol.CodeModelConnectFailed
	ReasonServerShutdown     = "server_shutdown"
)

const (
	helloUninitialized int32 = iota
	helloInitializing
	helloReady
)

var errBackpressure = errors.New("live outbound backpressure")

// Conn is the client transport. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	SetReadLimit(limit int64)
	wsWriter
}

// TokenIssuer mints and invalidates recording upload tokens.
type TokenIssuer interface {
	Generate(sessionID string) string
	MarkConnectionClosed(sessionID string)
}

// ProfileSource picks the persona for a client's appRoute.
type ProfileSource interface {
	ForRoute(appRoute string) profiles.Profile
}

type Config struct {
	MaxJSONMessageBytes    int64
	PingInterval           time.Duration
	WriteTimeout           time.Duration
	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	InboundBurstSeconds    int
	PendingAudioChunks     int
	OutboundQueueSize      int
}

type Dependencies struct {
	Conn      Conn
	Dialer    live.Dialer
	Profiles  ProfileSource
	Tokens    TokenIssuer
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	RequestID string
	Config    Config
	Now       func() time.Time
	// NewSessionID defaults to a random UUID.
	NewSessionID func() string
}

type Bridge struct {
	conn     Conn
	dialer   live.Dialer
	profiles ProfileSource
	tokens   TokenIssuer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time

	sessionID      string
	recordingToken string

	// ctx scopes the producers feeding the loop; teardown cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	hello     atomic.Int32
	active    atomic.Bool
	cleanedUp atomic.Bool

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
	closeReq         chan closeRequest
	flushedThrough   atomic.Int64

	stopCh       chan string
	dialCh       chan dialResult
	remoteCh     chan remoteEvent
	forwardErrCh chan error

	endReason atomic.Value // string

	// Owned by the loop goroutine.
	state        protocol.ConnectionState
	remote       live.Session
	dialing      bool
	openingTurn  string
	upstream     chan live.Audio
	limiter      *inboundAudioLimiter
	limited      bool
	seq          int64
	turn         int64
	reason       string
	transportErr error
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type dialResult struct {
	session live.Session
	err     error
}

type remoteEvent struct {
	msg live.Message
	err error
}

func New(deps Dependencies) (*Bridge, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if deps.Profiles == nil {
		return nil, fmt.Errorf("profiles are required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewSessionID == nil {
		deps.NewSessionID = uuid.NewString
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.PendingAudioChunks <= 0 {
		deps.Config.PendingAudioChunks = 256
	}

	sessionID := deps.NewSessionID()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", sessionID)
	if deps.RequestID != "" {
		logger = logger.With("request_id", deps.RequestID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		conn:             deps.Conn,
		dialer:           deps.Dialer,
		profiles:         deps.Profiles,
		tokens:           deps.Tokens,
		logger:           logger,
		metrics:          deps.Metrics,
		cfg:              deps.Config,
		now:              deps.Now,
		sessionID:        sessionID,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		closeReq:         make(chan closeRequest, 1),
		stopCh:           make(chan string, 1),
		dialCh:           make(chan dialResult, 1),
		remoteCh:         make(chan remoteEvent, 16),
		forwardErrCh:     make(chan error, 8),
		state:            protocol.StateConnecting,
		turn:             1,
	}
	b.recordingToken = deps.Tokens.Generate(sessionID)
	b.limiter = newInboundAudioLimiter(deps.Now, deps.Config.MaxAudioFPS, deps.Config.MaxAudioBytesPerSecond, deps.Config.InboundBurstSeconds)
	return b, nil
}

func (b *Bridge) SessionID() string { return b.sessionID }

func (b *Bridge) RecordingToken() string { return b.recordingToken }

// Reason reports why the bridge tore down, or "" while it is still live.
func (b *Bridge) Reason() string {
	reason, _ := b.endReason.Load().(string)
	return reason
}

// Cancel asks the bridge to tear down with reason. It does not wait.
func (b *Bridge) Cancel(reason string) {
	if b == nil {
		return
	}
	select {
	case b.stopCh <- reason:
	default:
	}
}

// Run binds to the connection and processes events until teardown. The
// returned error is the transport failure, if that is what ended the session.
func (b *Bridge) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := b.now()
	b.metrics.RecordLiveSessionStart()

	if b.cfg.MaxJSONMessageBytes > 0 {
		b.conn.SetReadLimit(b.cfg.MaxJSONMessageBytes)
	}

	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()
	writerDone := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:       b.conn,
			ctx:      writerCtx,
			cfg:      b.cfg,
			priority: b.outboundPriority,
			normal:   b.outboundNormal,
			closing:  b.closeReq,
			isStale:  b.isStaleAudio,
			onDrop:   b.metrics.RecordDroppedFrame,
		}
		writerDone <- w.Run()
	}()

	readCh := make(chan inboundFrame, 16)
	go b.readLoop(readCh)

	b.logger.Info("client connected")
	b.sendStatus(protocol.StateConnecting, "Awaiting client hello")

	writerExited := false
	for !b.cleanedUp.Load() {
		select {
		case <-ctx.Done():
			b.teardown(ReasonServerShutdown)
		case reason := <-b.stopCh:
			b.teardown(reason)
		case frame, ok := <-readCh:
			if !ok {
				b.teardown(ReasonSocketClosed)
				continue
			}
			b.onInbound(frame)
		case res := <-b.dialCh:
			b.onDialResult(res)
		case ev := <-b.remoteCh:
			b.onRemoteEvent(ev)
		case err := <-b.forwardErrCh:
			b.logger.Error("failed to forward audio chunk", "error", err)
			b.sendError(protocol.CodeForwardFailed, err.Error())
		case err := <-writerDone:
			writerExited = true
			if err == nil {
				err = errors.New("outbound writer stopped")
			}
			b.onTransportError(err)
		}
	}

	if !writerExited {
		timer := time.NewTimer(b.shutdownWait())
		select {
		case <-writerDone:
		case <-timer.C:
			b.logger.Warn("outbound writer did not finish before shutdown deadline")
		}
		timer.Stop()
	}
	stopWriter()
	_ = b.conn.Close()

	if b.dialing {
		// The dial goroutine always delivers; close a session nobody will use.
		go func() {
			if res := <-b.dialCh; res.session != nil {
				_ = res.session.Close()
			}
		}()
	}

	b.metrics.RecordLiveSessionEnd(b.reason, b.now().Sub(startedAt))
	b.logger.Info("client session ended", "reason", b.reason)
	return b.transportErr
}

func (b *Bridge) shutdownWait() time.Duration {
	wait := b.cfg.WriteTimeout
	if wait <= 0 {
		wait = defaultWriteTimeout
	}
	return wait + shutdownDrainTimeout
}

func (b *Bridge) onInbound(frame inboundFrame) {
	if frame.err != nil {
		var ce *websocket.CloseError
		if errors.As(frame.err, &ce) {
			b.logger.Info("socket closed by client", "code", ce.Code)
			b.teardown(ReasonSocketClosed)
			return
		}
		b.onTransportError(frame.err)
		return
	}

	msg, err := protocol.DecodeClientMessage(frame.data)
	if err != nil {
		b.logger.Warn("failed to parse incoming websocket payload", "error", err)
		code := protocol.CodeBadPayload
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.Code != "" {
			code = de.Code
		}
		b.sendError(code, err.Error())
		return
	}

	switch m := msg.(type) {
	case protocol.ClientHello:
		b.onHello(m)
	case protocol.ClientAudioChunk:
		b.onAudioChunk(m)
	case protocol.ClientEnd:
		b.logger.Info("client ended session")
		b.teardown(ReasonClientEnd)
	case protocol.Heartbeat:
		b.sendJSON(protocol.TypeHeartbeat, m.Reply())
	case protocol.Unknown:
		b.logger.Debug("unsupported client message", "type", m.Type)
		b.sendError(protocol.CodeUnsupportedMessage, "Unsupported client message type")
	}
}

func (b *Bridge) onTransportError(err error) {
	b.logger.Error("socket error", "error", err)
	b.transportErr = err
	b.sendError(protocol.CodeSocketError, err.Error())
	b.teardown(ReasonSocketError)
}

func (b *Bridge) onHello(msg protocol.ClientHello) {
	if !b.hello.CompareAndSwap(helloUninitialized, helloInitializing) {
		b.logger.Debug("ignoring repeated hello")
		return
	}

	profile := b.profiles.ForRoute(msg.AppRoute)
	b.logger.Info("initializing live session", "app_route", msg.AppRoute, "profile", profile.Name)

	b.openingTurn = profile.OpeningTurn
	b.upstream = make(chan live.Audio, b.cfg.PendingAudioChunks)
	b.dialing = true

	cfg := profile.LiveConfig()
	ctx := b.ctx
	go func() {
		sess, err := b.dialer.Dial(ctx, cfg)
		b.dialCh <- dialResult{session: sess, err: err}
	}()
}

func (b *Bridge) onDialResult(res dialResult) {
	b.dialing = false
	if res.err != nil {
		b.logger.Error("failed to create live session", "error", res.err)
		b.sendError(protocol.CodeModelConnectFailed, res.err.Error())
		b.teardown(ReasonModelConnectFailed)
		return
	}

	b.remote = res.session
	b.hello.Store(helloReady)
	b.active.Store(true)
	b.state = protocol.StateConnected
	b.logger.Info("live session opened")

	b.sendJSON(protocol.TypeServerReady, protocol.ServerReady{
		SessionID:      b.sessionID,
		RecordingToken: b.recordingToken,
	})
	b.sendStatus(protocol.StateConnected, "Live session ready")

	go b.pumpRemote(res.session)
	go b.sendUpstream(res.session, b.openingTurn, b.upstream)
}

func (b *Bridge) onAudioChunk(msg protocol.ClientAudioChunk) {
	if b.hello.Load() == helloUninitialized {
		b.sendError(protocol.CodeSessionNotReady, "Session not yet initialized")
		return
	}
	if !b.limiter.Allow(len(msg.Chunk)) {
		b.metrics.RecordRateLimitHit()
		if !b.limited {
			b.limited = true
			b.sendError(protocol.CodeRateLimited, "inbound audio rate limit exceeded")
		}
		return
	}
	b.limited = false

	select {
	case b.upstream <- live.Audio{Data: msg.Chunk, SampleRate: msg.SampleRate}:
		b.metrics.RecordLiveAudio("in", len(msg.Chunk))
	default:
		b.sendError(protocol.CodeForwardFailed, "upstream audio queue is full")
	}
}

func (b *Bridge) onRemoteEvent(ev remoteEvent) {
	if ev.err != nil {
		if errors.Is(ev.err, live.ErrClosed) {
			b.logger.Info("live session closed by model")
			b.sendStatus(protocol.StateDisconnected, "Model closed session")
			b.teardown(ReasonModelClosed)
			return
		}
		b.logger.Error("live session error", "error", ev.err)
		b.sendError(protocol.CodeModelError, ev.err.Error())
		b.teardown(ReasonModelError)
		return
	}

	msg := ev.msg
	if msg.Interrupted {
		b.flush()
	}
	if len(msg.Audio) > 0 {
		b.sendModelAudio(msg.Audio, msg.TurnComplete)
	}
	if t := msg.InputTranscript; t != nil && strings.TrimSpace(t.Text) != "" {
		b.sendJSON(protocol.TypeServerTranscript, protocol.ServerTranscript{Role: protocol.RoleUser, Text: t.Text, Final: t.Finished})
	}
	if t := msg.OutputTranscript; t != nil && strings.TrimSpace(t.Text) != "" {
		b.sendJSON(protocol.TypeServerTranscript, protocol.ServerTranscript{Role: protocol.RoleModel, Text: t.Text, Final: t.Finished})
	}
	if msg.TurnComplete {
		b.turn++
	}
}

// flush tells the client to drop buffered audio. Audio of the interrupted
// turn still queued for writing is discarded by the writer.
func (b *Bridge) flush() {
	b.flushedThrough.Store(b.turn)
	b.turn++
	payload, err := b.encode(protocol.TypeServerAudioFlush, protocol.ServerAudioFlush{Reason: protocol.FlushReasonInterrupted}, 0)
	if err != nil {
		b.logger.Error("encode audio flush", "error", err)
		return
	}
	if err := b.enqueuePriority(outboundFrame{textPayload: payload}); err != nil {
		// Earlier flushes are still queued ahead of all audio.
		b.logger.Debug("audio flush coalesced with pending flushes", "error", err)
		return
	}
	b.logger.Info("model response interrupted, sent audio flush")
}

func (b *Bridge) sendModelAudio(chunk []byte, last bool) {
	b.seq++
	payload, err := b.encode(protocol.TypeServerAudioChunk, protocol.ServerAudioChunk{
		Chunk:       chunk,
		SampleRate:  OutputSampleRate,
		IsLastChunk: last,
	}, b.seq)
	if err != nil {
		b.logger.Error("encode audio chunk", "error", err)
		return
	}
	if err := b.enqueueNormal(outboundFrame{turn: b.turn, textPayload: payload}); err != nil {
		b.logger.Warn("audio chunk dropped", "seq", b.seq, "error", err)
		b.metrics.RecordDroppedFrame("backpressure")
		return
	}
	b.metrics.RecordLiveAudio("out", len(chunk))
}

// teardown releases every resource exactly once.
func (b *Bridge) teardown(reason string) {
	if !b.cleanedUp.CompareAndSwap(false, true) {
		return
	}
	b.logger.Debug("tearing down", "reason", reason, "state", string(b.state))
	b.reason = reason
	b.endReason.Store(reason)
	b.state = protocol.StateDisconnected

	final, err := b.encode(protocol.TypeServerStatus, protocol.ServerStatus{State: protocol.StateDisconnected, Detail: reason}, 0)
	if err != nil {
		b.logger.Error("encode final status", "error", err)
	}

	b.tokens.MarkConnectionClosed(b.sessionID)

	// Stops the read loop, remote pump and upstream sender from delivering.
	b.cancel()
	b.active.Store(false)

	if b.remote != nil {
		if err := b.remote.Close(); err != nil {
			b.logger.Warn("failed to close live session", "error", err)
		}
	}

	b.closeReq <- closeRequest{final: final, code: websocket.CloseNormalClosure, reason: reason}
}

func (b *Bridge) isStaleAudio(turn int64) bool {
	return turn > 0 && turn <= b.flushedThrough.Load()
}

func (b *Bridge) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-b.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-b.ctx.Done():
			return
		}
	}
}
