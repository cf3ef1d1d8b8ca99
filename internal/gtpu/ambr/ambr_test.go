// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

package ambr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConsumeWithinBurstSucceeds(t *testing.T) {
	l := New(8_000_000, 1000) // 1 MB/s, 1000-byte burst
	require.True(t, l.Consume(500))
	require.True(t, l.Consume(500))
	require.False(t, l.Consume(1))
}

func TestConsumeRefillsOverTime(t *testing.T) {
	l := New(8_000_000, 1000) // 1,000,000 bytes/sec
	clock := time.Unix(0, 0)
	l.now = func() time.Time { return clock }

	require.True(t, l.Consume(1000))
	require.False(t, l.Consume(1))

	clock = clock.Add(500 * time.Millisecond) // ~500,000 bytes of refill, capped at the 1000-byte burst
	require.True(t, l.Consume(400))
	require.False(t, l.Consume(200_000))
}

func TestConsumeNeverExceedsBurstCap(t *testing.T) {
	l := New(8_000_000, 1000)
	clock := time.Unix(0, 0)
	l.now = func() time.Time { return clock }
	l.Consume(0) // establish l.last

	clock = clock.Add(10 * time.Second) // would refill far past the cap
	require.True(t, l.Consume(1000))
	require.False(t, l.Consume(1))
}
