/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package spinner

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
)

const (
	minSpins   = 5
	spinsRange = 3
)

// Source yields uniform draws in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Outcome is the result of one draw.
type Outcome struct {
	SelectedIndex int
	TotalRotation float64
}

// NewSource returns a PCG generator seeded from crypto/rand.
func NewSource() (*rand.Rand, error) {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}

	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:]))), nil
}

// Select draws between five and eight full turns plus a random offset and
// returns the segment that ends up under the marker when the wheel, currently
// at startRotation degrees, has turned by the drawn amount.
func Select(n int, startRotation float64, rng Source) (Outcome, error) {
	if n < 1 {
		return Outcome{}, fmt.Errorf("%w: wheel needs at least one name", ErrValidation)
	}

	spins := minSpins + rng.Float64()*spinsRange
	offset := rng.Float64() * 360
	total := spins*360 + offset

	return Outcome{
		SelectedIndex: WinnerAt(n, startRotation+total),
		TotalRotation: total,
	}, nil
}

// WinnerAt maps a cumulative clockwise rotation to the segment under the top
// marker. At rest segment i covers [i*w, (i+1)*w) degrees clockwise from the
// marker, w = 360/n. Turning the wheel clockwise by r brings the wheel angle
// 360-r under the marker, so segments pass it in descending index order.
func WinnerAt(n int, rotation float64) int {
	if n < 1 {
		return 0
	}

	r := math.Mod(rotation, 360)
	if r < 0 {
		r += 360
	}

	under := math.Mod(360-r, 360)
	index := int(math.Floor(under / (360 / float64(n))))

	return min(max(index, 0), n-1)
}
