package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is the process state shared across handlers. Once draining, the
// server refuses new live sessions and reports not ready.
type Lifecycle struct {
	drainingSince atomic.Int64
}

// BeginDrain marks the process as draining. It reports false if a drain was
// already in progress.
func (l *Lifecycle) BeginDrain(now time.Time) bool {
	if l == nil {
		return false
	}
	return l.drainingSince.CompareAndSwap(0, now.UnixNano())
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.drainingSince.Load() != 0
}

// DrainingSince returns when the drain began, or the zero time.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil {
		return time.Time{}
	}
	ns := l.drainingSince.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
