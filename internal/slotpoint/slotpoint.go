// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package slotpoint implements the slot-point arithmetic shared by the
// resource grid, the HARQ entity and the RA scheduler: an ordered pair of
// (numerology, frame-wrapping index) as described in 3GPP TS 38.211.
package slotpoint

// NumerologiesPerFrame gives the number of slots per radio frame (10ms)
// for each supported numerology (subcarrier-spacing family) 0..3, i.e.
// 2^numerology * 10.
var NumerologiesPerFrame = [4]uint32{10, 20, 40, 80}

// MaxFrame bounds the wrapping frame counter. 1024 matches the 3GPP
// hyper-frame-independent frame numbering range (0..1023).
const MaxFrame = 1024

// Point identifies a single slot within a numerology's timeline. Index
// wraps modulo NumerologiesPerFrame[Numerology]*MaxFrame.
type Point struct {
	Numerology uint8
	Index      uint32
}

// New builds a Point, normalising index into its wrap range.
func New(numerology uint8, index uint32) Point {
	return Point{Numerology: numerology, Index: index % slotsPerHyperFrame(numerology)}
}

func slotsPerHyperFrame(numerology uint8) uint32 {
	return NumerologiesPerFrame[numerology&0x3] * MaxFrame
}

// Valid reports whether the point has ever been assigned (zero value is
// considered invalid, matching slot_point::valid() in the source this was
// distilled from).
func (p Point) Valid() bool { return p.Numerology != 0 || p.Index != 0 }

// Add returns the slot `delta` positions after p, wrapping as needed.
func (p Point) Add(delta uint32) Point {
	total := slotsPerHyperFrame(p.Numerology)
	return Point{Numerology: p.Numerology, Index: (p.Index + delta) % total}
}

// Sub returns the slot `delta` positions before p, wrapping as needed.
func (p Point) Sub(delta uint32) Point {
	total := slotsPerHyperFrame(p.Numerology)
	d := delta % total
	return Point{Numerology: p.Numerology, Index: (p.Index + total - d) % total}
}

// Equal reports whether p and q refer to the same slot.
func (p Point) Equal(q Point) bool { return p.Numerology == q.Numerology && p.Index == q.Index }

// Before reports whether p occurs strictly earlier than q, within the same
// numerology, under modular (nearest-half-range) ordering.
func (p Point) Before(q Point) bool {
	total := slotsPerHyperFrame(p.Numerology)
	diff := (q.Index + total - p.Index) % total
	return diff != 0 && diff < total/2
}

// AtOrAfter reports whether p occurs at or after q.
func (p Point) AtOrAfter(q Point) bool { return p.Equal(q) || q.Before(p) }

// FrameSlotIndex returns the slot index within a single radio frame
// (0..NumerologiesPerFrame[Numerology)-1), used by the RA-RNTI formula's
// t_id term.
func (p Point) FrameSlotIndex() uint32 {
	return p.Index % NumerologiesPerFrame[p.Numerology&0x3]
}

// Interval is a half-open range [Start, Stop) of slots, e.g. a RAR window.
type Interval struct {
	Start Point
	Stop  Point
}

// Contains reports whether sl falls within [Start, Stop).
func (w Interval) Contains(sl Point) bool {
	return sl.AtOrAfter(w.Start) && sl.Before(w.Stop)
}
