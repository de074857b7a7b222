/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package spinner

import (
	"math"
	"sync"
	"time"
)

// Callbacks receive the output of one animation.
type Callbacks struct {
	// OnFrame gets the wheel rotation, normalized to [0, 360), once per frame.
	OnFrame func(rotation float64)

	// OnTick fires every time the wheel has travelled another tick threshold.
	OnTick func()

	// OnComplete fires exactly once, when progress reaches 1.
	OnComplete func()
}

// Ease is the ease-in-out cubic curve.
func Ease(p float64) float64 {
	if p < 0.5 {
		return 4 * p * p * p
	}
	return 1 - math.Pow(-2*p+2, 3)/2
}

// Animation interpolates one spin. It is driven by wall-clock time, not by
// the number of frames rendered, and is not safe for concurrent use.
type Animation struct {
	start       time.Time
	from        float64
	total       float64
	duration    time.Duration
	tickDegrees float64
	lastTick    float64
	cb          Callbacks
	done        bool
}

func NewAnimation(start time.Time, from, total float64, s Settings, cb Callbacks) *Animation {
	s = s.withDefaults()

	return &Animation{
		start:       start,
		from:        from,
		total:       total,
		duration:    s.Duration,
		tickDegrees: s.TickDegrees,
		cb:          cb,
	}
}

// Advance renders the frame for now and reports whether the animation has
// finished. Calls after completion do nothing.
func (a *Animation) Advance(now time.Time) bool {
	if a.done {
		return true
	}

	progress := 1.0
	if a.duration > 0 {
		progress = min(max(float64(now.Sub(a.start))/float64(a.duration), 0), 1)
	}

	travelled := a.total * Ease(progress)

	if a.cb.OnFrame != nil {
		a.cb.OnFrame(math.Mod(a.from+travelled, 360))
	}

	if travelled-a.lastTick >= a.tickDegrees {
		a.lastTick = travelled
		if a.cb.OnTick != nil {
			a.cb.OnTick()
		}
	}

	if progress >= 1 {
		a.done = true
		if a.cb.OnComplete != nil {
			a.cb.OnComplete()
		}
	}

	return a.done
}

// Driver plays animations on a frame ticker. Every frame is handed to post,
// which runs it on the owner's event loop, so callbacks never race the
// owner's own handlers.
type Driver struct {
	settings Settings
	now      func() time.Time
	post     func(func()) bool
}

func NewDriver(s Settings, now func() time.Time, post func(func()) bool) *Driver {
	if now == nil {
		now = time.Now
	}

	return &Driver{
		settings: s.withDefaults(),
		now:      now,
		post:     post,
	}
}

// Play starts an animation of total degrees from the from rotation. The
// returned cancel stops the frame ticker; frames already queued on the owner
// loop become no-ops, so OnComplete never fires after cancel. cancel must be
// called from the owner loop.
func (d *Driver) Play(from, total float64, cb Callbacks) (cancel func()) {
	a := NewAnimation(d.now(), from, total, d.settings, cb)

	stop := make(chan struct{})
	var once sync.Once
	cancelled := false

	cancel = func() {
		cancelled = true
		once.Do(func() { close(stop) })
	}

	frame := func() {
		if cancelled {
			return
		}
		if a.Advance(d.now()) {
			cancel()
		}
	}

	go func() {
		ticker := time.NewTicker(d.settings.FrameInterval)
		defer ticker.Stop()

		if !d.post(frame) {
			return
		}

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !d.post(frame) {
					return
				}
			}
		}
	}()

	return cancel
}
