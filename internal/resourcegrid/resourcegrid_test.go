// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

package resourcegrid

import (
	"testing"

	"github.com/oss5g/gnbcore/internal/prb"
	"github.com/oss5g/gnbcore/internal/slotpoint"
	"github.com/stretchr/testify/require"
)

func fddRing() *Ring {
	always := func(slotpoint.Point) bool { return true }
	return NewRing(106, 106, always, always)
}

func TestSlotIndicationProgresses(t *testing.T) {
	r := fddRing()
	sl := slotpoint.New(0, 0)
	r.SlotIndication(sl)
	require.Equal(t, sl, r.SlotTx())
	r.SlotIndication(sl.Add(1))
	require.Equal(t, sl.Add(1), r.SlotTx())
}

func TestSlotIndicationPanicsOnSkip(t *testing.T) {
	r := fddRing()
	sl := slotpoint.New(0, 0)
	r.SlotIndication(sl)
	require.Panics(t, func() { r.SlotIndication(sl.Add(2)) })
}

func TestSlotIndicationResetsOldSlot(t *testing.T) {
	r := fddRing()
	sl := slotpoint.New(0, 0)
	r.SlotIndication(sl)

	alloc := r.Allocator(0)
	alloc.FillPDSCH(DLGrant{CRNTI: 0x4601, PRBs: prb.NewInterval(0, 4)})
	require.True(t, alloc.UsedDLPRBs().Test(0))

	for i := uint32(1); i <= resetLookback; i++ {
		r.SlotIndication(sl.Add(i))
	}
	reused := r.Allocator(0)
	require.Equal(t, sl.Add(resetLookback), reused.Slot())
	// alloc still views the grid of slot sl, which the indication of
	// sl+resetLookback cleared.
	require.False(t, alloc.UsedDLPRBs().Any(), "slot must have been reset resetLookback slots later")
	require.Empty(t, alloc.DLRes().DLGrants)
}

func TestFillMaintainsBitmapGrantInvariant(t *testing.T) {
	r := fddRing()
	r.SlotIndication(slotpoint.New(0, 5))
	alloc := r.Allocator(0)

	alloc.FillRAR(RARGrant{RARNTI: 99, PRBs: prb.NewInterval(0, 4)})
	alloc.FillPUSCH(ULGrant{CRNTI: 0x4601, PRBs: prb.NewInterval(0, 3)})

	for i := 0; i < 4; i++ {
		require.True(t, alloc.UsedDLPRBs().Test(i))
	}
	for i := 0; i < 3; i++ {
		require.True(t, alloc.UsedULPRBs().Test(i))
	}
	require.Len(t, alloc.DLRes().RARGrants, 1)
	require.Len(t, alloc.ULRes().ULGrants, 1)
}

func TestAllocatorDelayBeyondHalfRingPanics(t *testing.T) {
	r := fddRing()
	r.SlotIndication(slotpoint.New(0, 0))
	require.Panics(t, func() { r.Allocator(RingSize / 2) })
}
