// Package gemini opens live.Sessions on the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/vai-live/pkg/core/live"
)

// DefaultVoice is the prebuilt voice used when a profile does not name one.
const DefaultVoice = "Charon"

// Dialer implements live.Dialer on top of a genai client.
type Dialer struct {
	client *genai.Client
	model  string
}

var _ live.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer for model authenticated with apiKey.
func NewDialer(ctx context.Context, apiKey, model string) (*Dialer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("gemini: model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Dialer{client: client, model: model}, nil
}

// Dial opens a live session. It returns once the remote side accepted the
// session setup.
func (d *Dialer) Dial(ctx context.Context, cfg live.Config) (live.Session, error) {
	s, err := d.client.Live.Connect(ctx, d.model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("gemini: connect: %w", err)
	}
	return &session{inner: s}, nil
}

type session struct {
	inner *genai.Session

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
}

func (s *session) SendText(text string) error {
	return s.inner.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
	})
}

func (s *session) SendAudio(chunk live.Audio) error {
	return s.inner.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: chunk.Data, MIMEType: chunk.MIMEType()},
	})
}

func (s *session) Receive() (live.Message, error) {
	for {
		msg, err := s.inner.Receive()
		if err != nil {
			return live.Message{}, s.mapReceiveErr(err)
		}
		out, ok := fromServerMessage(msg)
		if !ok {
			continue
		}
		return out, nil
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.closeErr = s.inner.Close()
	})
	return s.closeErr
}

func (s *session) mapReceiveErr(err error) error {
	s.mu.Lock()
	closedLocally := s.closed
	s.mu.Unlock()
	if closedLocally {
		return fmt.Errorf("%w: %v", live.ErrClosed, err)
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return fmt.Errorf("%w: %s", live.ErrClosed, ce.Text)
		}
		return fmt.Errorf("gemini: session closed with code %d: %s", ce.Code, ce.Text)
	}
	return fmt.Errorf("gemini: receive: %w", err)
}
