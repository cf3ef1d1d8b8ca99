// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package harq implements the per-UE HARQ process bookkeeping described in
// spec.md section 4.5 and section 3 ("HARQ process", "HARQ entity"),
// grounded on original_source/lib/mac/sched/sched_harq.h's harq_proc /
// harq_entity split.
package harq

import (
	"fmt"

	"github.com/oss5g/gnbcore/internal/metrics"
	"github.com/oss5g/gnbcore/internal/prb"
	"github.com/oss5g/gnbcore/internal/slotpoint"
)

// State is the lifecycle state of a single HARQ process.
type State int

const (
	Empty State = iota
	PendingRetx
	WaitingAck
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case PendingRetx:
		return "pending_retx"
	case WaitingAck:
		return "waiting_ack"
	default:
		return "unknown"
	}
}

// rvCycle is the 3GPP redundancy-version cycling order applied across
// successive retransmissions (spec.md section 4.5).
var rvCycle = [4]int{0, 2, 3, 1}

// DCI carries the subset of downlink/uplink control information this
// scheduler core fills in; PHY-layer fields beyond pid/mcs/ndi/rv are out
// of scope per spec.md section 1.
type DCI struct {
	PID uint32
	MCS uint32
	NDI bool
	RV  int
}

// Process is a single HARQ process, identified by PID, shared by the DL
// and UL entity arrays.
type Process struct {
	PID int

	state   State
	ndi     bool
	nRtx    uint32
	maxRetx uint32
	mcs     uint32
	tbs     uint32
	prbs    prb.Interval
	slotTx  slotpoint.Point
	slotAck slotpoint.Point
	rvIndex int
}

// NewProcess constructs an empty HARQ process with the given pid.
func NewProcess(pid int) *Process {
	return &Process{PID: pid, state: Empty}
}

// State returns the process's current lifecycle state.
func (p *Process) State() State { return p.state }

// Empty reports whether the process has no outstanding transmission
// (invariant (a) of spec.md section 3).
func (p *Process) Empty() bool { return p.state == Empty }

// HasPendingRetx reports whether the process is awaiting a scheduled
// retransmission.
func (p *Process) HasPendingRetx() bool { return p.state == PendingRetx }

// NDI returns the current new-data-indicator bit.
func (p *Process) NDI() bool { return p.ndi }

// NRtx returns the number of retransmissions sent so far for the current
// transmission attempt.
func (p *Process) NRtx() uint32 { return p.nRtx }

// MCS returns the modulation and coding scheme index in use.
func (p *Process) MCS() uint32 { return p.mcs }

// PRBs returns the PRB interval reserved for the current transmission.
func (p *Process) PRBs() prb.Interval { return p.prbs }

// SlotTx returns the slot at which the current transmission was/will be sent.
func (p *Process) SlotTx() slotpoint.Point { return p.slotTx }

// SlotAck returns the slot at which feedback for the current transmission
// is expected.
func (p *Process) SlotAck() slotpoint.Point { return p.slotAck }

// NewTx starts a brand-new transmission. Precondition: State() == Empty.
// Toggles NDI, resets the retransmission counter, fills dci with
// {pid, mcs, ndi, rv=0} and transitions to WaitingAck.
func (p *Process) NewTx(slotTx, slotAck slotpoint.Point, grant prb.Interval, mcs, maxRetx uint32) (DCI, error) {
	if p.state != Empty {
		return DCI{}, fmt.Errorf("harq: new_tx on pid=%d while state=%s, expected empty", p.PID, p.state)
	}
	p.ndi = !p.ndi
	p.nRtx = 0
	p.maxRetx = maxRetx
	p.mcs = mcs
	p.prbs = grant
	p.slotTx = slotTx
	p.slotAck = slotAck
	p.rvIndex = 0
	p.state = WaitingAck
	return DCI{PID: uint32(p.PID), MCS: mcs, NDI: p.ndi, RV: rvCycle[p.rvIndex]}, nil
}

// NewRetx schedules a retransmission of the current TB. Precondition:
// State() == PendingRetx. NDI is unchanged; n_rtx increments; RV cycles
// per the 3GPP order {0,2,3,1}.
func (p *Process) NewRetx(slotTx, slotAck slotpoint.Point, grant prb.Interval) (DCI, error) {
	if p.state != PendingRetx {
		return DCI{}, fmt.Errorf("harq: new_retx on pid=%d while state=%s, expected pending_retx", p.PID, p.state)
	}
	p.nRtx++
	p.prbs = grant
	p.slotTx = slotTx
	p.slotAck = slotAck
	p.rvIndex = (p.rvIndex + 1) % len(rvCycle)
	p.state = WaitingAck
	return DCI{PID: uint32(p.PID), MCS: p.mcs, NDI: p.ndi, RV: rvCycle[p.rvIndex]}, nil
}

// AckInfo delivers ACK/NACK feedback for the outstanding transmission.
// Precondition: State() == WaitingAck. A positive ack empties the
// process. A negative ack with n_rtx < max_retx moves it to
// PendingRetx; once n_rtx has reached max_retx, the packet is discarded
// (state becomes Empty) per spec.md invariant (c).
func (p *Process) AckInfo(ack bool) (State, error) {
	if p.state != WaitingAck {
		return p.state, fmt.Errorf("harq: ack_info on pid=%d while state=%s, expected waiting_ack", p.PID, p.state)
	}
	if ack {
		p.state = Empty
		return p.state, nil
	}
	if p.nRtx < p.maxRetx {
		p.state = PendingRetx
	} else {
		p.state = Empty
	}
	return p.state, nil
}

// NewSlot advances the process's view of the current slot. Any process
// waiting for an ACK whose slot_ack has already passed without feedback is
// treated as an implicit NACK.
func (p *Process) NewSlot(slotRx slotpoint.Point) {
	if p.state == WaitingAck && p.slotAck.Before(slotRx) {
		_, _ = p.AckInfo(false)
	}
}

// Entity is the per-UE-per-cell HARQ bookkeeping: fixed DL and UL process
// arrays plus the current receive slot, per spec.md section 3.
type Entity struct {
	dl      []*Process
	ul      []*Process
	slotRx  slotpoint.Point
	metrics *metrics.Metrics
}

// NewEntity builds an Entity with nProcs DL and UL HARQ processes
// (nProcs <= 16 per spec.md's N <= 16 bound). m may be nil.
func NewEntity(nProcs int, m *metrics.Metrics) *Entity {
	e := &Entity{dl: make([]*Process, nProcs), ul: make([]*Process, nProcs), metrics: m}
	for i := 0; i < nProcs; i++ {
		e.dl[i] = NewProcess(i)
		e.ul[i] = NewProcess(i)
	}
	return e
}

// DLProcess returns the DL HARQ process for the given pid.
func (e *Entity) DLProcess(pid int) *Process { return e.dl[pid] }

// ULProcess returns the UL HARQ process for the given pid.
func (e *Entity) ULProcess(pid int) *Process { return e.ul[pid] }

// NewSlot advances every DL and UL process's view of the current slot.
func (e *Entity) NewSlot(slotRx slotpoint.Point) {
	e.slotRx = slotRx
	for _, p := range e.dl {
		p.NewSlot(slotRx)
	}
	for _, p := range e.ul {
		p.NewSlot(slotRx)
	}
}

// DLAckInfo delivers DL ACK/NACK feedback for the given pid. Feedback for
// an unknown pid, or a process not in WaitingAck, is ignored with an
// error return (callers are expected to log a warning, per spec.md
// section 6) rather than surfaced as a crash.
func (e *Entity) DLAckInfo(pid int, ack bool) (State, error) {
	if pid < 0 || pid >= len(e.dl) {
		return Empty, fmt.Errorf("harq: dl_ack_info unknown pid=%d", pid)
	}
	st, err := e.dl[pid].AckInfo(ack)
	if err == nil && !ack && st == Empty {
		e.metrics.IncHARQDiscarded("dl")
	}
	return st, err
}

// ULCRCInfo delivers UL CRC pass/fail feedback for the given pid.
func (e *Entity) ULCRCInfo(pid int, ack bool) (State, error) {
	if pid < 0 || pid >= len(e.ul) {
		return Empty, fmt.Errorf("harq: ul_crc_info unknown pid=%d", pid)
	}
	st, err := e.ul[pid].AckInfo(ack)
	if err == nil && !ack && st == Empty {
		e.metrics.IncHARQDiscarded("ul")
	}
	return st, err
}

func findDL(procs []*Process, pred func(*Process) bool) *Process {
	for _, p := range procs {
		if pred(p) {
			return p
		}
	}
	return nil
}

// FindEmptyDLHARQ returns the first DL process in the Empty state, or nil.
func (e *Entity) FindEmptyDLHARQ() *Process { return findDL(e.dl, (*Process).Empty) }

// FindEmptyULHARQ returns the first UL process in the Empty state, or nil.
func (e *Entity) FindEmptyULHARQ() *Process { return findDL(e.ul, (*Process).Empty) }

// FindPendingDLRetx returns the first DL process awaiting a scheduled
// retransmission, or nil.
func (e *Entity) FindPendingDLRetx() *Process { return findDL(e.dl, (*Process).HasPendingRetx) }

// FindPendingULRetx returns the first UL process awaiting a scheduled
// retransmission, or nil.
func (e *Entity) FindPendingULRetx() *Process { return findDL(e.ul, (*Process).HasPendingRetx) }
