/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package spinner

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedSource struct {
	values []float64
	calls  int
}

func (f *fixedSource) Float64() float64 {
	v := f.values[f.calls%len(f.values)]
	f.calls++
	return v
}

func TestWinnerAt(t *testing.T) {
	cases := []struct {
		name     string
		n        int
		rotation float64
		want     int
	}{
		{"at rest", 4, 0, 0},
		{"full turns", 4, 720, 0},
		{"just past rest", 4, 10, 3},
		{"quarter and a bit", 4, 100, 2},
		{"three quarters", 4, 275, 0},
		{"negative rotation", 4, -10, 0},
		{"single segment", 1, 123.4, 0},
		{"two segments first half", 2, 200, 0},
		{"two segments second half", 2, 90, 1},
		{"five turns plus offset", 3, 5*360 + 130, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, WinnerAt(tc.n, tc.rotation))
		})
	}
}

func TestSelect_IndexAlwaysInRange(t *testing.T) {
	req := require.New(t)
	rng := rand.New(rand.NewPCG(1, 2))

	for n := 1; n <= 40; n++ {
		for range 500 {
			start := rng.Float64() * 360
			out, err := Select(n, start, rng)
			req.NoError(err)
			req.GreaterOrEqual(out.SelectedIndex, 0)
			req.Less(out.SelectedIndex, n)
			req.GreaterOrEqual(out.TotalRotation, float64(minSpins*360))
			req.Less(out.TotalRotation, float64((minSpins+spinsRange)*360+360))
			req.Equal(WinnerAt(n, start+out.TotalRotation), out.SelectedIndex)
		}
	}
}

func TestSelect_IsPureInItsInputs(t *testing.T) {
	req := require.New(t)

	a, err := Select(5, 42, &fixedSource{values: []float64{0.25, 0.5}})
	req.NoError(err)
	b, err := Select(5, 42, &fixedSource{values: []float64{0.25, 0.5}})
	req.NoError(err)

	req.Equal(a, b)
	req.InDelta(5.75*360+180, a.TotalRotation, 1e-9)
}

func TestSelect_ZeroDrawLandsOnFirstName(t *testing.T) {
	out, err := Select(2, 0, &fixedSource{values: []float64{0}})
	require.NoError(t, err)
	require.Equal(t, 0, out.SelectedIndex)
	require.InDelta(t, 1800, out.TotalRotation, 1e-9)
}

func TestSelect_RejectsEmptyWheel(t *testing.T) {
	_, err := Select(0, 0, &fixedSource{values: []float64{0}})
	require.ErrorIs(t, err, ErrValidation)
}

func TestValidateRoomCode(t *testing.T) {
	req := require.New(t)

	req.NoError(ValidateRoomCode("AB12CD"))
	req.ErrorIs(ValidateRoomCode("AB12C"), ErrValidation)
	req.ErrorIs(ValidateRoomCode("ab12cd"), ErrValidation)
	req.ErrorIs(ValidateRoomCode("AB-2CD"), ErrValidation)
	req.Equal("AB12CD", NormalizeRoomCode("  ab12cd "))
}
