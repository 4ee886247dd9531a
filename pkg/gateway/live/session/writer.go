package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second

	// Budget for writing frames still queued when teardown asks to close.
	shutdownDrainTimeout = 250 * time.Millisecond
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type outboundFrame struct {
	// turn is set on model audio only; the frame is dropped once that turn
	// has been flushed.
	turn        int64
	textPayload []byte
}

type closeRequest struct {
	final  []byte
	code   int
	reason string
}

type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan outboundFrame
	normal   <-chan outboundFrame
	closing  <-chan closeRequest
	isStale  func(turn int64) bool
	onDrop   func(cause string)
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	writeTimeout := w.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var pendingNormal *outboundFrame

	for {
		select {
		case <-ctx.Done():
			w.drainPriority(writeTimeout, time.Now().Add(shutdownDrainTimeout))
			_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
			_ = w.ws.Close()
			return nil
		case req := <-w.closing:
			return w.shutdown(req, pendingNormal, writeTimeout)
		default:
		}

		// Priority frames always go out before any normal frame.
		select {
		case frame := <-w.priority:
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		if pendingNormal != nil {
			if err := w.writeFrame(*pendingNormal, writeTimeout); err != nil {
				return err
			}
			pendingNormal = nil
			continue
		}

		select {
		case <-ctx.Done():
		case req := <-w.closing:
			return w.shutdown(req, nil, writeTimeout)
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame := <-w.priority:
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
		case frame := <-w.normal:
			// Re-check priority before writing it.
			pendingNormal = &frame
		}
	}
}

// shutdown writes what is still queued within shutdownDrainTimeout, then the
// final frame and a close frame, and closes the connection.
func (w *outboundWriter) shutdown(req closeRequest, pending *outboundFrame, writeTimeout time.Duration) error {
	deadline := time.Now().Add(shutdownDrainTimeout)
	ok := w.drainPriority(writeTimeout, deadline)
	if ok && pending != nil {
		ok = w.writeFrame(*pending, writeTimeout) == nil
	}
	for ok && time.Now().Before(deadline) {
		var frame outboundFrame
		select {
		case frame = <-w.normal:
		default:
			ok = false
			continue
		}
		ok = w.writeFrame(frame, writeTimeout) == nil
	}
	if len(req.final) > 0 {
		_ = w.writeFrame(outboundFrame{textPayload: req.final}, writeTimeout)
	}
	_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(req.code, req.reason), time.Now().Add(writeTimeout))
	_ = w.ws.Close()
	return nil
}

// drainPriority reports false if a write failed.
func (w *outboundWriter) drainPriority(writeTimeout time.Duration, deadline time.Time) bool {
	for time.Now().Before(deadline) {
		select {
		case frame := <-w.priority:
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return false
			}
		default:
			return true
		}
	}
	return true
}

func (w *outboundWriter) writeFrame(frame outboundFrame, writeTimeout time.Duration) error {
	if frame.turn > 0 && w.isStale != nil && w.isStale(frame.turn) {
		if w.onDrop != nil {
			w.onDrop("stale_audio")
		}
		return nil
	}
	if len(frame.textPayload) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame.textPayload)
}
