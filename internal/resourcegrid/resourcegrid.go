// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package resourcegrid implements the per-cell resource grid ring described
// in spec.md sections 3 and 4.5: a ring of R slot grids, each owning a DL
// and UL PRB bitmap plus bounded DL/UL/broadcast grant lists. Grounded on
// original_source/lib/mac/sched/cell/resource_grid.h/.cc
// (cell_resource_grid_pool, RESOURCE_GRID_SIZE=40, slot_indication).
package resourcegrid

import (
	"fmt"

	"github.com/oss5g/gnbcore/internal/prb"
	"github.com/oss5g/gnbcore/internal/slotpoint"
)

// RingSize is the number of slot grids kept in the ring. Must satisfy
// RingSize/2 > the largest delay ever requested of a SlotAllocator (spec.md
// section 4.5); 40 matches the source's RESOURCE_GRID_SIZE.
const RingSize = 40

// resetLookback is how many slots behind the newly-indicated slot get
// cleared, per cell_resource_grid_pool::slot_indication's old_slot_delay.
const resetLookback = 10

// MaxDLGrants/MaxULGrants/MaxBroadcast bound the per-slot grant lists.
const (
	MaxDLGrants   = 32
	MaxULGrants   = 32
	MaxBroadcast  = 4
)

// RARGrant is the logical (not wire) representation of spec.md section 6's
// RarInformation.
type RARGrant struct {
	CellIndex int
	RARNTI    uint16
	Msg3s     []Msg3Info
	PRBs      prb.Interval
}

// Msg3Info is one Msg3 sub-grant inside a RAR grant.
type Msg3Info struct {
	RAPID     uint8
	TempCRNTI uint16
	TA        int
	PRBs      prb.Interval
}

// ULGrant is a PUSCH allocation (spec.md section 6's UlSchedInfo), used
// both for Msg3 and for regular unicast UL grants.
type ULGrant struct {
	CRNTI uint16
	PRBs  prb.Interval
	MCS   uint32
}

// DLGrant is a unicast PDSCH allocation.
type DLGrant struct {
	CRNTI uint16
	PRBs  prb.Interval
	MCS   uint32
}

// BroadcastGrant is an SSB (or other broadcast) entry in the DL schedule.
type BroadcastGrant struct {
	PRBs prb.Interval
}

// SlotGrid holds everything scheduled for one {slot, cell}.
type SlotGrid struct {
	dlPRBs prb.Bitmap
	ulPRBs prb.Bitmap

	RARGrants  []RARGrant
	DLGrants   []DLGrant
	ULGrants   []ULGrant
	Broadcasts []BroadcastGrant
}

func newSlotGrid(nDLPRBs, nULPRBs int) *SlotGrid {
	return &SlotGrid{dlPRBs: prb.New(nDLPRBs), ulPRBs: prb.New(nULPRBs)}
}

// reset clears this slot's bitmaps and grant lists for reuse, R slots
// later in the ring.
func (g *SlotGrid) reset() {
	g.dlPRBs.Reset()
	g.ulPRBs.Reset()
	g.RARGrants = g.RARGrants[:0]
	g.DLGrants = g.DLGrants[:0]
	g.ULGrants = g.ULGrants[:0]
	g.Broadcasts = g.Broadcasts[:0]
}

// Ring is the circular pool of slot grids for one cell.
type Ring struct {
	nDLPRBs, nULPRBs int
	slots            [RingSize]*SlotGrid
	last             slotpoint.Point
	initialised      bool
	isDLEnabled      func(slotpoint.Point) bool
	isULEnabled      func(slotpoint.Point) bool
}

// NewRing builds a ring sized for a cell with the given DL/UL PRB counts.
// isDLEnabled/isULEnabled encode the cell's TDD DL/UL slot pattern (for
// FDD cells, both should always return true).
func NewRing(nDLPRBs, nULPRBs int, isDLEnabled, isULEnabled func(slotpoint.Point) bool) *Ring {
	r := &Ring{nDLPRBs: nDLPRBs, nULPRBs: nULPRBs, isDLEnabled: isDLEnabled, isULEnabled: isULEnabled}
	for i := range r.slots {
		r.slots[i] = newSlotGrid(nDLPRBs, nULPRBs)
	}
	return r
}

// IsDLEnabled reports whether sl is a DL-capable slot under the cell's TDD
// pattern (always true for FDD).
func (r *Ring) IsDLEnabled(sl slotpoint.Point) bool { return r.isDLEnabled(sl) }

// IsULEnabled reports whether sl is a UL-capable slot under the cell's TDD
// pattern (always true for FDD).
func (r *Ring) IsULEnabled(sl slotpoint.Point) bool { return r.isULEnabled(sl) }

// SlotTx returns the slot most recently indicated via SlotIndication.
func (r *Ring) SlotTx() slotpoint.Point { return r.last }

func (r *Ring) index(sl slotpoint.Point) int {
	return int(sl.Index % RingSize)
}

// SlotIndication advances the ring to slTx, which must be exactly one slot
// after the previously indicated slot (or the first call ever). It resets
// the slot resetLookback positions behind slTx, which is about to be
// reused.
func (r *Ring) SlotIndication(slTx slotpoint.Point) {
	if r.initialised && !r.last.Add(1).Equal(slTx) {
		panic(fmt.Sprintf("resourcegrid: slot indication was skipped: last=%v new=%v", r.last, slTx))
	}
	r.last = slTx
	r.initialised = true
	r.slots[r.index(slTx.Sub(resetLookback))].reset()
}

// Allocator returns a view onto the slot `delay` slots after the last
// indicated slot.
func (r *Ring) Allocator(delay int) *SlotAllocator {
	if delay < 0 || delay >= RingSize/2 {
		panic(fmt.Sprintf("resourcegrid: delay %d exceeds ring capacity", delay))
	}
	sl := r.last.Add(uint32(delay))
	return &SlotAllocator{ring: r, slot: sl, grid: r.slots[r.index(sl)]}
}

// SlotAllocator is a handle onto a single {slot, cell} grid, matching
// spec.md section 4.5's "Slot allocator handle".
type SlotAllocator struct {
	ring *Ring
	slot slotpoint.Point
	grid *SlotGrid
}

// Slot returns the slot this allocator is a view of.
func (a *SlotAllocator) Slot() slotpoint.Point { return a.slot }

// IsDLActive reports whether this slot is DL-enabled under the cell's TDD pattern.
func (a *SlotAllocator) IsDLActive() bool { return a.ring.IsDLEnabled(a.slot) }

// IsULActive reports whether this slot is UL-enabled under the cell's TDD pattern.
func (a *SlotAllocator) IsULActive() bool { return a.ring.IsULEnabled(a.slot) }

// UsedDLPRBs returns the slot's current DL PRB occupancy bitmap.
func (a *SlotAllocator) UsedDLPRBs() *prb.Bitmap { return &a.grid.dlPRBs }

// UsedULPRBs returns the slot's current UL PRB occupancy bitmap.
func (a *SlotAllocator) UsedULPRBs() *prb.Bitmap { return &a.grid.ulPRBs }

// DLRes returns the slot's DL schedule result (grant lists).
func (a *SlotAllocator) DLRes() *SlotGrid { return a.grid }

// ULRes returns the slot's UL schedule result (grant lists). Same
// underlying object as DLRes: DL/UL grants and bitmaps are split fields
// on one SlotGrid, matching cell_resource_grid's single struct housing
// both dl_grants and ul_grants.
func (a *SlotAllocator) ULRes() *SlotGrid { return a.grid }

// FillRAR reserves the given DL PRBs and appends a RAR grant, maintaining
// the invariant that the bitmap and the grant list never disagree
// (spec.md section 3).
func (a *SlotAllocator) FillRAR(rar RARGrant) {
	a.grid.dlPRBs.SetRange(rar.PRBs.Start(), rar.PRBs.Stop())
	a.grid.RARGrants = append(a.grid.RARGrants, rar)
}

// FillPUSCH reserves the given UL PRBs and appends a PUSCH (UL) grant.
func (a *SlotAllocator) FillPUSCH(g ULGrant) {
	a.grid.ulPRBs.SetRange(g.PRBs.Start(), g.PRBs.Stop())
	a.grid.ULGrants = append(a.grid.ULGrants, g)
}

// FillPDSCH reserves the given DL PRBs and appends a unicast DL grant.
func (a *SlotAllocator) FillPDSCH(g DLGrant) {
	a.grid.dlPRBs.SetRange(g.PRBs.Start(), g.PRBs.Stop())
	a.grid.DLGrants = append(a.grid.DLGrants, g)
}

// FillBroadcast reserves the given DL PRBs and appends a broadcast (e.g.
// SSB) entry.
func (a *SlotAllocator) FillBroadcast(g BroadcastGrant) {
	a.grid.dlPRBs.SetRange(g.PRBs.Start(), g.PRBs.Stop())
	a.grid.Broadcasts = append(a.grid.Broadcasts, g)
}

// RARGrantsFull reports whether this slot's RAR grant list has reached
// MaxDLGrants.
func (a *SlotAllocator) RARGrantsFull() bool { return len(a.grid.RARGrants) >= MaxDLGrants }

// ULGrantsFull reports whether this slot's UL grant list has reached
// MaxULGrants.
func (a *SlotAllocator) ULGrantsFull() bool { return len(a.grid.ULGrants) >= MaxULGrants }

// ULGrantsFreeSpace returns how many more UL grants this slot can still
// accept.
func (a *SlotAllocator) ULGrantsFreeSpace() int {
	n := MaxULGrants - len(a.grid.ULGrants)
	if n < 0 {
		return 0
	}
	return n
}
