/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package spinner

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEase(t *testing.T) {
	req := require.New(t)

	req.InDelta(0, Ease(0), 1e-12)
	req.InDelta(0.5, Ease(0.5), 1e-12)
	req.InDelta(1, Ease(1), 1e-12)
	req.InDelta(0.0625, Ease(0.25), 1e-12)
	req.InDelta(0.9375, Ease(0.75), 1e-12)

	prev := 0.0
	for i := 1; i <= 100; i++ {
		v := Ease(float64(i) / 100)
		req.GreaterOrEqual(v, prev)
		prev = v
	}
}

func TestAnimation_Advance(t *testing.T) {
	req := require.New(t)

	start := time.Unix(0, 0)
	settings := Settings{Duration: 5 * time.Second, TickDegrees: 30}

	var frames []float64
	ticks, completions := 0, 0

	a := NewAnimation(start, 10, 720, settings, Callbacks{
		OnFrame:    func(r float64) { frames = append(frames, r) },
		OnTick:     func() { ticks++ },
		OnComplete: func() { completions++ },
	})

	req.False(a.Advance(start))
	req.InDelta(10, frames[0], 1e-9)

	req.False(a.Advance(start.Add(2500 * time.Millisecond)))
	req.InDelta(10, frames[1], 1e-9)

	req.True(a.Advance(start.Add(5 * time.Second)))
	req.InDelta(10, frames[2], 1e-9)
	req.Equal(1, completions)

	// Completed animations stay completed and stay silent.
	req.True(a.Advance(start.Add(6 * time.Second)))
	req.Len(frames, 3)
	req.Equal(1, completions)
	req.Equal(2, ticks)
}

func TestAnimation_TicksFollowTravelledDegrees(t *testing.T) {
	start := time.Unix(0, 0)
	ticks := 0

	a := NewAnimation(start, 0, 3600, Settings{Duration: time.Second, TickDegrees: 30}, Callbacks{
		OnTick: func() { ticks++ },
	})

	for us := 0; us <= 1000000; us += 100 {
		a.Advance(start.Add(time.Duration(us) * time.Microsecond))
	}

	require.InDelta(t, 3600/30, ticks, 6)
}

func TestAnimation_ZeroDurationCompletesImmediately(t *testing.T) {
	completions := 0
	a := NewAnimation(time.Unix(0, 0), 0, 90, Settings{}, Callbacks{OnComplete: func() { completions++ }})

	require.True(t, a.Advance(time.Unix(0, 0)))
	require.Equal(t, 1, completions)
}

// serial runs posted frames one at a time, standing in for an owner loop.
type serial struct {
	mu sync.Mutex
}

func (s *serial) post(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	return true
}

func TestDriver_PlayCompletesOnce(t *testing.T) {
	req := require.New(t)

	loop := &serial{}
	d := NewDriver(Settings{Duration: 20 * time.Millisecond, FrameInterval: time.Millisecond, TickDegrees: 30}, nil, loop.post)

	var mu sync.Mutex
	completions, frames := 0, 0
	d.Play(0, 1800, Callbacks{
		OnFrame: func(float64) {
			mu.Lock()
			frames++
			mu.Unlock()
		},
		OnComplete: func() {
			mu.Lock()
			completions++
			mu.Unlock()
		},
	})

	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return completions == 1
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	req.Equal(1, completions)
	req.Greater(frames, 1)
}

func TestDriver_CancelSuppressesCompletion(t *testing.T) {
	loop := &serial{}
	d := NewDriver(Settings{Duration: 50 * time.Millisecond, FrameInterval: time.Millisecond}, nil, loop.post)

	var mu sync.Mutex
	completions := 0
	cancel := d.Play(0, 1800, Callbacks{
		OnComplete: func() {
			mu.Lock()
			completions++
			mu.Unlock()
		},
	})

	time.Sleep(5 * time.Millisecond)
	_ = loop.post(func() { cancel() })
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, completions)
}
