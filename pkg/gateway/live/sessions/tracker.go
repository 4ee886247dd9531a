// Package sessions tracks the bridges currently serving clients so the
// process can drain them on shutdown.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Handle is what the tracker needs from a live bridge.
type Handle struct {
	// Cancel asks the bridge to tear down with reason; it must not block.
	Cancel func(reason string)
}

// Info describes a tracked session.
type Info struct {
	SessionID string
	Started   time.Time
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
	now      func() time.Time
}

type trackedSession struct {
	handle  Handle
	started time.Time
	once    sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*trackedSession),
		now:      time.Now,
	}
}

// Register adds a session. A session registered twice under one id replaces
// the earlier entry. The returned func must be called when the bridge stops.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedSession{handle: h, started: t.now()}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions != nil && t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// List returns the tracked sessions, oldest first.
func (t *Tracker) List() []Info {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	out := make([]Info, 0, len(t.sessions))
	for id, entry := range t.sessions {
		out = append(out, Info{SessionID: id, Started: entry.started})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// CancelAll asks every tracked bridge to tear down with reason.
func (t *Tracker) CancelAll(reason string) (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func(string)
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel(reason)
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered or ctx ends.
// It reports whether all sessions finished.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
