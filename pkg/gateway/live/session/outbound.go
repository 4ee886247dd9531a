package session

import (
	"github.com/vango-go/vai-live/pkg/gateway/live/protocol"
)

const outboundPriorityQueueSize = 8

func (b *Bridge) encode(typ string, payload any, seq int64) ([]byte, error) {
	return protocol.Encode(typ, payload, seq, b.now())
}

func (b *Bridge) sendStatus(state protocol.ConnectionState, detail string) {
	b.sendJSON(protocol.TypeServerStatus, protocol.ServerStatus{State: state, Detail: detail})
}

func (b *Bridge) sendError(code, message string) {
	b.metrics.RecordError(code)
	b.sendJSON(protocol.TypeServerError, protocol.ServerError{Code: code, Message: message})
}

func (b *Bridge) sendJSON(typ string, payload any) {
	data, err := b.encode(typ, payload, 0)
	if err != nil {
		b.logger.Error("encode outbound message", "type", typ, "error", err)
		return
	}
	if err := b.enqueueNormal(outboundFrame{textPayload: data}); err != nil {
		b.logger.Warn("outbound message dropped", "type", typ, "error", err)
		b.metrics.RecordDroppedFrame("backpressure")
	}
}

func (b *Bridge) enqueueNormal(frame outboundFrame) error {
	if b.isStaleAudio(frame.turn) {
		b.metrics.RecordDroppedFrame("stale_audio")
		return nil
	}
	select {
	case b.outboundNormal <- frame:
		return nil
	default:
		return errBackpressure
	}
}

// enqueuePriority never evicts: every queued frame is a flush, and a flush
// still waiting in the queue is written before any audio.
func (b *Bridge) enqueuePriority(frame outboundFrame) error {
	select {
	case b.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}
