package live

import (
	"context"
	"errors"
)

// ErrClosed reports that the remote side ended the session normally.
var ErrClosed = errors.New("live: remote session closed")

// Dialer opens remote sessions. A successful Dial means the session is open
// and ready to accept input.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Session, error)
}

// Session is an open remote streaming session.
//
// Receive must only be called from one goroutine. SendText and SendAudio may
// be called from a different goroutine than Receive, but not concurrently with
// each other. Close may be called at any time and more than once.
type Session interface {
	// SendText sends one complete user turn.
	SendText(text string) error
	// SendAudio streams realtime PCM audio.
	SendAudio(chunk Audio) error
	// Receive blocks for the next message.
	Receive() (Message, error)
	Close() error
}

// Audio is a realtime media unit.
type Audio struct {
	Data       []byte
	SampleRate int
}

// MIMEType describes raw 16-bit PCM at the chunk's sample rate.
func (a Audio) MIMEType() string {
	return PCMMIMEType(a.SampleRate)
}

// Message is one unit of server content.
type Message struct {
	// Audio holds the inline audio of the first content part, if any.
	Audio []byte

	TurnComplete bool
	Interrupted  bool

	InputTranscript  *Transcript
	OutputTranscript *Transcript
}

// Transcript is an incremental transcription of one side of the call.
type Transcript struct {
	Text     string
	Finished bool
}
