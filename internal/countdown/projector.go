// Package countdown derives a live countdown from a server-provided end
// timestamp. Snapshots are recomputed against the wall clock at a fixed
// cadence, so delivery jitter on the channel never skews the countdown.
// Client/server clock skew is not compensated.
package countdown

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Snapshot is a derived countdown value, clamped to zero. It is never
// stored; it is always recomputable from the end timestamp and the clock.
type Snapshot struct {
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// Zero reports whether the countdown has run out.
func (s Snapshot) Zero() bool {
	return s == Snapshot{}
}

// FromRemaining breaks a remaining duration into a snapshot. Negative
// durations clamp to the zero snapshot.
func FromRemaining(d time.Duration) Snapshot {
	if d <= 0 {
		return Snapshot{}
	}
	secs := int(d / time.Second)
	return Snapshot{
		Days:    secs / 86400,
		Hours:   secs % 86400 / 3600,
		Minutes: secs % 3600 / 60,
		Seconds: secs % 60,
	}
}

// Projector produces countdown sequences on a 1 Hz cadence.
type Projector struct {
	clock clockwork.Clock
}

// NewProjector returns a projector ticking on the given clock.
func NewProjector(clock clockwork.Clock) *Projector {
	return &Projector{clock: clock}
}

// Run yields snapshots for the given end time until the countdown reaches
// zero, then closes the channel. An end time already in the past yields the
// zero snapshot once. Cancelling the context stops the sequence; a new end
// time is observed by cancelling and calling Run again.
func (p *Projector) Run(ctx context.Context, end time.Time) <-chan Snapshot {
	out := make(chan Snapshot, 1)

	go func() {
		defer close(out)

		snap := FromRemaining(end.Sub(p.clock.Now()))
		if !deliver(ctx, out, snap) || snap.Zero() {
			return
		}

		ticker := p.clock.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				snap = FromRemaining(end.Sub(p.clock.Now()))
				if !deliver(ctx, out, snap) || snap.Zero() {
					return
				}
			}
		}
	}()

	return out
}

func deliver(ctx context.Context, out chan<- Snapshot, snap Snapshot) bool {
	select {
	case out <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}
