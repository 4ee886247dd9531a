package session

import "time"

// inboundAudioLimiter caps client audio by chunks per second and bytes per
// second. A zero rate disables that dimension; a nil limiter allows all.
type inboundAudioLimiter struct {
	now    func() time.Time
	chunks bucket
	bytes  bucket
}

// bucket refills against its own clock so a busy neighbour cannot swallow
// its partial tokens.
type bucket struct {
	rate     int64
	capacity int64
	tokens   int64
	last     time.Time
}

func newBucket(rate int64, burstSeconds int64, now time.Time) bucket {
	if rate <= 0 {
		return bucket{}
	}
	return bucket{rate: rate, capacity: rate * burstSeconds, tokens: rate * burstSeconds, last: now}
}

func (b *bucket) enabled() bool { return b.rate > 0 }

func (b *bucket) refill(now time.Time) {
	if !b.enabled() {
		return
	}
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	if b.tokens >= b.capacity || elapsed >= time.Duration(b.capacity/b.rate+1)*time.Second {
		b.tokens = b.capacity
		b.last = now
		return
	}
	add := (elapsed.Nanoseconds() * b.rate) / int64(time.Second)
	if add <= 0 {
		return
	}
	if b.tokens+add >= b.capacity {
		b.tokens = b.capacity
		b.last = now
		return
	}
	b.tokens += add
	// Advance only by the time the whole tokens cost; the rest carries over.
	b.last = b.last.Add(time.Duration(add * int64(time.Second) / b.rate))
}

func newInboundAudioLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *inboundAudioLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	start := now()
	return &inboundAudioLimiter{
		now:    now,
		chunks: newBucket(int64(fps), int64(burstSeconds), start),
		bytes:  newBucket(bps, int64(burstSeconds), start),
	}
}

// Allow reports whether a chunk of size n fits the budget and, if so,
// consumes it.
func (l *inboundAudioLimiter) Allow(n int) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.chunks.refill(now)
	l.bytes.refill(now)

	size := int64(max(n, 0))
	if l.chunks.enabled() && l.chunks.tokens < 1 {
		return false
	}
	if l.bytes.enabled() && l.bytes.tokens < size {
		return false
	}
	if l.chunks.enabled() {
		l.chunks.tokens--
	}
	if l.bytes.enabled() {
		l.bytes.tokens -= size
	}
	return true
}
