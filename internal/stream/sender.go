package stream

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Sender delivers one event to the connected client.
type Sender interface {
	Send(Event) error
}

// BestEffort wraps a Sender for a session's lifetime. The first failed
// send latches the channel as down; every later send is skipped instead of
// retried, and no send failure ever propagates into pipeline logic.
// It is not safe for concurrent use; a session sends from one goroutine.
type BestEffort struct {
	sender Sender
	down   bool
}

func NewBestEffort(sender Sender) *BestEffort {
	return &BestEffort{sender: sender}
}

// Send reports whether the event reached the transport.
func (b *BestEffort) Send(event Event) bool {
	if b.down || b.sender == nil {
		return false
	}
	if err := b.sender.Send(event); err != nil {
		b.down = true
		return false
	}
	return true
}

// Down reports whether a send has failed for this session.
func (b *BestEffort) Down() bool { return b.down }

// Pacer spaces successive channel sends so a burst of updates does not
// flood the client. The ordering guarantee lives in the caller; the pacer
// only shapes timing.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer paces to eventsPerSecond; a non-positive rate disables pacing.
func NewPacer(eventsPerSecond float64) *Pacer {
	if eventsPerSecond <= 0 {
		return &Pacer{}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), 1)}
}

// Wait blocks until the next send slot or ctx is done.
func (p *Pacer) Wait(ctx context.Context) {
	if p == nil || p.limiter == nil {
		return
	}
	_ = p.limiter.Wait(ctx)
}

// Interval reports the configured spacing, for logging and tests.
func (p *Pacer) Interval() time.Duration {
	if p == nil || p.limiter == nil {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(p.limiter.Limit()))
}
