package session

import (
	"errors"

	"github.com/vango-go/vai-live/pkg/core/live"
)

// pumpRemote turns Session.Receive into the loop's ordered event stream. The
// first error is the terminal event; nothing is delivered after it.
func (b *Bridge) pumpRemote(sess live.Session) {
	for {
		msg, err := sess.Receive()
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			select {
			case b.remoteCh <- remoteEvent{err: err}:
			case <-b.ctx.Done():
			}
			return
		}
		select {
		case b.remoteCh <- remoteEvent{msg: msg}:
		case <-b.ctx.Done():
			return
		}
	}
}

// sendUpstream is the only goroutine that writes to the remote session. The
// opening turn goes first so the model speaks before any queued caller audio
// is heard.
func (b *Bridge) sendUpstream(sess live.Session, openingTurn string, audio <-chan live.Audio) {
	if openingTurn != "" && b.active.Load() {
		if err := sess.SendText(openingTurn); err != nil {
			b.logger.Error("failed to send opening turn", "error", err)
		} else {
			b.logger.Info("sent opening turn to start conversation")
		}
	}
	for {
		select {
		case <-b.ctx.Done():
			return
		case chunk := <-audio:
			if !b.active.Load() {
				return
			}
			if err := sess.SendAudio(chunk); err != nil {
				if !b.active.Load() || errors.Is(err, live.ErrClosed) {
					return
				}
				select {
				case b.forwardErrCh <- err:
				case <-b.ctx.Done():
					return
				}
			}
		}
	}
}
