// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

package slotpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddSubRoundtrip(t *testing.T) {
	p := New(0, 7)
	q := p.Add(5)
	require.True(t, p.Before(q))
	require.Equal(t, p, q.Sub(5))
}

func TestOrderingWraps(t *testing.T) {
	p := New(1, slotsPerHyperFrame(1)-1)
	q := p.Add(1) // wraps to index 0
	require.True(t, p.Before(q))
	require.False(t, q.Before(p))
}

func TestIntervalContains(t *testing.T) {
	start := New(0, 9)
	iv := Interval{Start: start, Stop: start.Add(3)}
	require.True(t, iv.Contains(start))
	require.True(t, iv.Contains(start.Add(2)))
	require.False(t, iv.Contains(start.Add(3)))
	require.False(t, iv.Contains(start.Sub(1)))
}

func TestFrameSlotIndex(t *testing.T) {
	p := New(0, 87) // 10 slots/frame at numerology 0
	require.Equal(t, uint32(7), p.FrameSlotIndex())
}
