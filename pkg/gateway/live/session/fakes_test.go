package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-live/pkg/core/live"
	"github.com/vango-go/vai-live/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-live/pkg/gateway/profiles"
	"github.com/vango-go/vai-live/pkg/gateway/tokens"
)

const waitTimeout = 2 * time.Second

type recordedWrite struct {
	messageType int
	data        []byte
}

type fakeRead struct {
	data []byte
	err  error
}

// fakeConn is an in-memory client socket. Tests push frames with push and
// observe everything the bridge wrote through writes.
type fakeConn struct {
	reads  chan fakeRead
	writes chan recordedWrite

	closeOnce sync.Once
	closed    chan struct{}
	readLimit atomic.Int64
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan fakeRead, 64),
		writes: make(chan recordedWrite, 1024),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-c.reads:
		if r.err != nil {
			return 0, nil, r.err
		}
		return websocket.TextMessage, r.data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) SetReadLimit(limit int64) { c.readLimit.Store(limit) }

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	buf := append([]byte(nil), data...)
	c.writes <- recordedWrite{messageType: messageType, data: buf}
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	return c.WriteMessage(messageType, data)
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(data []byte) { c.reads <- fakeRead{data: data} }

func (c *fakeConn) pushErr(err error) { c.reads <- fakeRead{err: err} }

type fakeSession struct {
	ops     chan string
	audio   chan live.Audio
	recv    chan live.Message
	recvErr chan error

	sendErr    atomic.Value // error
	closeOnce  sync.Once
	closed     chan struct{}
	closeCalls atomic.Int32
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		ops:     make(chan string, 64),
		audio:   make(chan live.Audio, 64),
		recv:    make(chan live.Message, 16),
		recvErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSession) SendText(text string) error {
	s.ops <- "text:" + text
	return nil
}

func (s *fakeSession) SendAudio(chunk live.Audio) error {
	if err, ok := s.sendErr.Load().(error); ok && err != nil {
		return err
	}
	s.ops <- "audio"
	s.audio <- chunk
	return nil
}

func (s *fakeSession) Receive() (live.Message, error) {
	select {
	case m := <-s.recv:
		return m, nil
	case err := <-s.recvErr:
		return live.Message{}, err
	case <-s.closed:
		return live.Message{}, live.ErrClosed
	}
}

func (s *fakeSession) Close() error {
	s.closeCalls.Add(1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	cfgs  []live.Config
	sess  *fakeSession
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, cfg live.Config) (live.Session, error) {
	d.calls.Add(1)
	d.mu.Lock()
	d.cfgs = append(d.cfgs, cfg)
	gate, sess, err := d.gate, d.sess, d.err
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (d *fakeDialer) lastConfig() live.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cfgs) == 0 {
		return live.Config{}
	}
	return d.cfgs[len(d.cfgs)-1]
}

type fakeProfiles struct{}

func (fakeProfiles) ForRoute(route string) profiles.Profile {
	name := "inbound"
	if route == "/outbound" {
		name = "outbound"
	}
	return profiles.Profile{
		Name:              name,
		SystemInstruction: "persona " + name,
		Voice:             "Charon",
		ProactiveAudio:    true,
		OpeningTurn:       profiles.OpeningTurn,
	}
}

type harness struct {
	t      *testing.T
	conn   *fakeConn
	dialer *fakeDialer
	sess   *fakeSession
	tokens *tokens.Store
	bridge *Bridge
	done   chan error
}

func newHarness(t *testing.T, mutate ...func(*Dependencies, *fakeDialer)) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		conn:   newFakeConn(),
		sess:   newFakeSession(),
		tokens: tokens.NewStore(),
		done:   make(chan error, 1),
	}
	h.dialer = &fakeDialer{sess: h.sess}
	deps := Dependencies{
		Conn:     h.conn,
		Dialer:   h.dialer,
		Profiles: fakeProfiles{},
		Tokens:   h.tokens,
		Config: Config{
			MaxJSONMessageBytes: 1 << 20,
			PingInterval:        time.Hour,
			WriteTimeout:        time.Second,
		},
		NewSessionID: func() string { return "sess-test" },
	}
	for _, m := range mutate {
		m(&deps, h.dialer)
	}
	b, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.bridge = b
	go func() { h.done <- b.Run(context.Background()) }()
	t.Cleanup(func() {
		b.Cancel(ReasonServerShutdown)
		select {
		case <-h.done:
		case <-time.After(waitTimeout):
			t.Errorf("bridge did not stop")
		}
	})
	return h
}

func (h *harness) send(typ string, payload any) {
	h.t.Helper()
	env := map[string]any{"type": typ, "timestamp": time.Now().UnixMilli()}
	if payload != nil {
		env["payload"] = payload
	}
	raw, err := json.Marshal(env)
	if err != nil {
		h.t.Fatalf("marshal: %v", err)
	}
	h.conn.push(raw)
}

func (h *harness) nextWrite() recordedWrite {
	h.t.Helper()
	for {
		select {
		case w := <-h.conn.writes:
			if w.messageType == websocket.PingMessage {
				continue
			}
			return w
		case <-time.After(waitTimeout):
			h.t.Fatalf("timed out waiting for a write")
			return recordedWrite{}
		}
	}
}

func (h *harness) expect(typ string, payload any) protocol.Envelope {
	h.t.Helper()
	w := h.nextWrite()
	if w.messageType != websocket.TextMessage {
		h.t.Fatalf("write type=%d (%q), want text %s", w.messageType, w.data, typ)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(w.data, &env); err != nil {
		h.t.Fatalf("unmarshal %q: %v", w.data, err)
	}
	if env.Type != typ {
		h.t.Fatalf("type=%q, want %q (frame %s)", env.Type, typ, w.data)
	}
	if env.Timestamp <= 0 {
		h.t.Fatalf("missing timestamp: %s", w.data)
	}
	if payload != nil {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			h.t.Fatalf("unmarshal payload %s: %v", env.Payload, err)
		}
	}
	return env
}

func (h *harness) expectStatus(state protocol.ConnectionState, detail string) {
	h.t.Helper()
	var st protocol.ServerStatus
	h.expect(protocol.TypeServerStatus, &st)
	if st.State != state || st.Detail != detail {
		h.t.Fatalf("status=%+v, want %s/%q", st, state, detail)
	}
}

func (h *harness) expectError(code string) {
	h.t.Helper()
	var e protocol.ServerError
	h.expect(protocol.TypeServerError, &e)
	if e.Code != code {
		h.t.Fatalf("error code=%q (%q), want %q", e.Code, e.Message, code)
	}
}

func (h *harness) expectClose(code int, reason string) {
	h.t.Helper()
	w := h.nextWrite()
	if w.messageType != websocket.CloseMessage {
		h.t.Fatalf("write type=%d (%q), want close", w.messageType, w.data)
	}
	if len(w.data) < 2 {
		h.t.Fatalf("close frame too short: %v", w.data)
	}
	if got := int(binary.BigEndian.Uint16(w.data[:2])); got != code {
		h.t.Fatalf("close code=%d, want %d", got, code)
	}
	if got := string(w.data[2:]); got != reason {
		h.t.Fatalf("close reason=%q, want %q", got, reason)
	}
}

func (h *harness) waitDone() error {
	h.t.Helper()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(waitTimeout):
		h.t.Fatalf("bridge did not finish")
		return nil
	}
}

// connect performs the hello handshake and consumes the handshake frames.
func (h *harness) connect(route string) protocol.ServerReady {
	h.t.Helper()
	h.expectStatus(protocol.StateConnecting, "Awaiting client hello")
	h.send(protocol.TypeClientHello, map[string]any{"appRoute": route})
	var ready protocol.ServerReady
	h.expect(protocol.TypeServerReady, &ready)
	h.expectStatus(protocol.StateConnected, "Live session ready")
	return ready
}

func (h *harness) nextOp() string {
	h.t.Helper()
	select {
	case op := <-h.sess.ops:
		return op
	case <-time.After(waitTimeout):
		h.t.Fatalf("timed out waiting for upstream op")
		return ""
	}
}

func (h *harness) ping() {
	h.t.Helper()
	h.send(protocol.TypeHeartbeat, map[string]any{"kind": "ping"})
	var hb protocol.Heartbeat
	h.expect(protocol.TypeHeartbeat, &hb)
	if hb.Kind != protocol.HeartbeatPong {
		h.t.Fatalf("heartbeat reply=%q, want pong", hb.Kind)
	}
}
