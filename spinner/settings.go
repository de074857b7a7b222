/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package spinner

import "time"

// Settings is fixed for the lifetime of a Coordinator.
type Settings struct {
	// Sound enables audible cues (start, tick, celebration).
	Sound bool

	// Duration of one spin animation.
	Duration time.Duration

	// TickDegrees of rotation between two tick cues.
	TickDegrees float64

	// FrameInterval between two animation frames.
	FrameInterval time.Duration

	// EchoTimeout bounds how long the authority waits for its own spin
	// broadcast to come back before giving the spin up. Zero disables it.
	EchoTimeout time.Duration

	// ResultLinger is how long the celebration stays up after a spin.
	ResultLinger time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Sound:         true,
		Duration:      5 * time.Second,
		TickDegrees:   30,
		FrameInterval: time.Second / 60,
		EchoTimeout:   10 * time.Second,
		ResultLinger:  1200 * time.Millisecond,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Duration < 0 {
		s.Duration = 0
	}
	if s.TickDegrees <= 0 {
		s.TickDegrees = d.TickDegrees
	}
	if s.FrameInterval <= 0 {
		s.FrameInterval = d.FrameInterval
	}
	return s
}
