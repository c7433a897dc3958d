package countdown

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRemaining(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want Snapshot
	}{
		{"negative clamps", -5 * time.Second, Snapshot{}},
		{"zero", 0, Snapshot{}},
		{"seconds only", 42 * time.Second, Snapshot{Seconds: 42}},
		{"full breakdown", 25*time.Hour + time.Minute + time.Second, Snapshot{Days: 1, Hours: 1, Minutes: 1, Seconds: 1}},
		{"sub-second truncates", 900 * time.Millisecond, Snapshot{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromRemaining(tt.d))
		})
	}
}

func TestRunCountsDownToZeroAndStops(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewProjector(clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := p.Run(ctx, clock.Now().Add(3*time.Second))

	require.Equal(t, Snapshot{Seconds: 3}, <-out)

	clock.BlockUntil(1) // ticker registered
	for _, want := range []int{2, 1, 0} {
		clock.Advance(time.Second)
		snap, ok := <-out
		require.True(t, ok)
		assert.Equal(t, Snapshot{Seconds: want}, snap)
	}

	_, ok := <-out
	assert.False(t, ok, "sequence must terminate after the zero snapshot")
}

func TestRunPastEndYieldsSingleZero(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewProjector(clock)

	out := p.Run(context.Background(), clock.Now().Add(-time.Minute))

	snap, ok := <-out
	require.True(t, ok)
	assert.True(t, snap.Zero())

	_, ok = <-out
	assert.False(t, ok)
}

func TestRunCancelStopsSequence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewProjector(clock)
	ctx, cancel := context.WithCancel(context.Background())

	out := p.Run(ctx, clock.Now().Add(time.Hour))
	require.Equal(t, Snapshot{Hours: 1}, <-out)

	cancel()

	for snap := range out { // drain anything racing the cancel
		_ = snap
	}
}

func TestRunRestartsOnNewEndTime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewProjector(clock)

	ctx1, cancel1 := context.WithCancel(context.Background())
	out1 := p.Run(ctx1, clock.Now().Add(10*time.Second))
	require.Equal(t, Snapshot{Seconds: 10}, <-out1)
	cancel1()

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	out2 := p.Run(ctx2, clock.Now().Add(5*time.Second))
	assert.Equal(t, Snapshot{Seconds: 5}, <-out2)
}
