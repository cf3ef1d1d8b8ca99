// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package rasched implements the RA (Random Access) scheduler described in
// spec.md section 4.4: PRACH preamble detections are turned into paired
// RAR+Msg3 grants within the TS 38.321 RAR window, honouring resource-grid
// occupancy and the cell's TDD DL/UL pattern.
//
// Grounded on original_source/lib/mac/sched/cell/ra_sched.cpp/.h (pending
// RAR FIFO list, MAX_RAR_LIST cap, allocate_rar's staged capacity
// reduction) and phy_helpers.cc (Msg3 delay table).
package rasched

import (
	"github.com/oss5g/gnbcore/internal/gnblog"
	"github.com/oss5g/gnbcore/internal/harq"
	"github.com/oss5g/gnbcore/internal/metrics"
	"github.com/oss5g/gnbcore/internal/prb"
	"github.com/oss5g/gnbcore/internal/resourcegrid"
	"github.com/oss5g/gnbcore/internal/slotpoint"
)

// maxRARList bounds the TC-RNTIs queued under a single pending RAR
// (implementation-defined per spec.md section 3; preserved per spec.md
// section 9's open-question note).
const maxRARList = 16

// maxNofMsg3 bounds the pending-Msg3 index space (spec.md section 3's
// "M <= 1024").
const maxNofMsg3 = 1024

const (
	nofPRBsPerRAR  = 4
	nofPRBsPerMsg3 = 3
	msg3MaxRetx    = 4
	msg3MCS        = 0
)

// msg3Delta is TS 38.214 Table 6.1.2.1.1-5, indexed by PUSCH numerology
// mu in {0,1,2,3}.
var msg3Delta = [4]uint32{2, 3, 4, 6}

// PUSCHCandidate is one entry of the cell's PUSCH-TimeDomainResourceAllocationList.
type PUSCHCandidate struct {
	K2 uint32
}

// Config is the subset of cell/RACH configuration the RA scheduler needs.
type Config struct {
	CellIndex         int
	NofSlotsPerFrame  uint32
	PRACHDuration     uint32 // slots; spec.md defaults this to 1
	RaRespWindowSlots uint32
	Numerology        uint8 // PUSCH numerology, indexes msg3Delta
	PUSCHCandidates   []PUSCHCandidate
}

// RACHIndication is the MAC-layer event carrying one detected PRACH
// preamble (spec.md section 4.4).
type RACHIndication struct {
	CRNTI          uint16
	SlotRx         slotpoint.Point
	SymbolIndex    uint8 // s_id, 0..13
	FrequencyIndex uint8 // f_id, 0..7
	ULCarrierID    uint8 // 0 = NUL, 1 = SUL
	PreambleID     uint8
	TimingAdvance  int
}

// ComputeRARNTI is the TS 38.321 section 5.1.3 formula (spec.md's P2).
func ComputeRARNTI(msg RACHIndication) uint16 {
	tID := msg.SlotRx.FrameSlotIndex()
	rnti := 1 + uint32(msg.SymbolIndex) + 14*tID + 14*80*uint32(msg.FrequencyIndex) + 14*80*8*uint32(msg.ULCarrierID)
	return uint16(rnti)
}

type pendingRAR struct {
	raRNTI      uint16
	prachSlotRx slotpoint.Point
	window      slotpoint.Interval
	tcRNTIs     []uint16
}

type pendingMsg3Entry struct {
	valid    bool
	indMsg   RACHIndication
	msg3HARQ *harq.Process
}

// Scheduler turns PRACH indications into RAR+Msg3 allocations.
type Scheduler struct {
	cfg     Config
	ring    *resourcegrid.Ring
	log     *gnblog.Logger
	metrics *metrics.Metrics

	pendingRARs  []*pendingRAR
	pendingMsg3s [maxNofMsg3]pendingMsg3Entry
}

// New builds a Scheduler for one cell, bound to its resource grid ring. m
// may be nil.
func New(cfg Config, ring *resourcegrid.Ring, log *gnblog.Logger, m *metrics.Metrics) *Scheduler {
	if log == nil {
		log = gnblog.Nop()
	}
	return &Scheduler{cfg: cfg, ring: ring, log: log.With("component", "ra-sched", "cell", cfg.CellIndex), metrics: m}
}

// HandleRACHIndication enqueues a detected PRACH preamble, per spec.md
// section 4.4. Returns false (without error) when the indication was
// rejected as a duplicate TC-RNTI or a full pending-RAR TC-RNTI list —
// these are ordinary, expected drop paths, not programming errors.
func (s *Scheduler) HandleRACHIndication(msg RACHIndication) bool {
	raRNTI := ComputeRARNTI(msg)
	idx := int(msg.CRNTI) % maxNofMsg3
	entry := &s.pendingMsg3s[idx]

	if entry.valid && !entry.msg3HARQ.Empty() {
		s.log.Warn("PRACH ignored: TC-RNTI already under use", "tc_rnti", msg.CRNTI)
		return false
	}

	var target *pendingRAR
	for _, r := range s.pendingRARs {
		if r.prachSlotRx.Equal(msg.SlotRx) && r.raRNTI == raRNTI {
			target = r
			break
		}
	}

	if target != nil {
		if len(target.tcRNTIs) >= maxRARList {
			s.log.Warn("PRACH ignored: pending RAR TC-RNTI list full", "ra_rnti", raRNTI)
			return false
		}
		target.tcRNTIs = append(target.tcRNTIs, msg.CRNTI)
	} else {
		target = &pendingRAR{
			raRNTI:      raRNTI,
			prachSlotRx: msg.SlotRx,
			window:      s.computeWindow(msg.SlotRx),
			tcRNTIs:     []uint16{msg.CRNTI},
		}
		s.pendingRARs = append(s.pendingRARs, target)
	}

	entry.valid = true
	entry.indMsg = msg
	if entry.msg3HARQ == nil {
		entry.msg3HARQ = harq.NewProcess(0)
	}
	return true
}

// computeWindow finds the RAR window for a just-arrived PRACH: the first
// DL-enabled slot at or after prachSlotRx+PRACHDuration starts the window,
// which spans RaRespWindowSlots slots.
func (s *Scheduler) computeWindow(prachSlotRx slotpoint.Point) slotpoint.Interval {
	for i := uint32(0); i < s.cfg.NofSlotsPerFrame; i++ {
		start := prachSlotRx.Add(s.cfg.PRACHDuration + i)
		if s.ring.IsDLEnabled(start) {
			return slotpoint.Interval{Start: start, Stop: start.Add(s.cfg.RaRespWindowSlots)}
		}
	}
	start := prachSlotRx.Add(s.cfg.PRACHDuration)
	return slotpoint.Interval{Start: start, Stop: start.Add(s.cfg.RaRespWindowSlots)}
}

func (s *Scheduler) msg3Delay(candidate PUSCHCandidate) uint32 {
	return candidate.K2 + msg3Delta[s.cfg.Numerology&0x3]
}

// anyULEnabledMsg3Slot reports whether at least one configured PUSCH
// time-domain candidate resolves to a UL-enabled slot from pdcchSlot.
func (s *Scheduler) anyULEnabledMsg3Slot(pdcchSlot slotpoint.Point) bool {
	for _, cand := range s.cfg.PUSCHCandidates {
		slot := pdcchSlot.Add(s.msg3Delay(cand))
		if s.ring.IsULEnabled(slot) {
			return true
		}
	}
	return false
}

// RunSlot allocates pending RARs + Msg3s for the slot currently at the
// front of the resource grid ring (spec.md section 4.4's per-slot
// allocation algorithm).
func (s *Scheduler) RunSlot() {
	rarAlloc := s.ring.Allocator(0)
	if !rarAlloc.IsDLActive() {
		return
	}
	if !s.anyULEnabledMsg3Slot(rarAlloc.Slot()) {
		return
	}

	var kept []*pendingRAR
	for i := 0; i < len(s.pendingRARs); i++ {
		rar := s.pendingRARs[i]

		if rarAlloc.Slot().AtOrAfter(rar.window.Stop) {
			s.log.Warn("RAR window missed, discarding pending RAR", "ra_rnti", rar.raRNTI, "window", rar.window)
			s.metrics.IncRARWindowExpired()
			continue
		}
		if rarAlloc.Slot().Before(rar.window.Start) {
			kept = append(kept, s.pendingRARs[i:]...)
			break
		}

		n := s.allocateRAR(rar, rarAlloc)
		if n > 0 {
			rar.tcRNTIs = rar.tcRNTIs[n:]
		}
		if len(rar.tcRNTIs) == 0 {
			continue
		}
		// Partial or zero allocation: resource exhaustion this slot, stop
		// processing further pending RARs (spec.md section 4.4).
		kept = append(kept, s.pendingRARs[i:]...)
		break
	}
	s.pendingRARs = kept
}

// allocateRAR implements spec.md section 4.4's "allocate_rar internals":
// fixed 4 PRBs/RAR and 3 PRBs/Msg3, capped in turn by DL grant-list space,
// UL PUSCH-list space and longest contiguous free PRB run on each side,
// trying PUSCH time-domain candidates in configuration order. Returns the
// number of Msg3s actually placed.
func (s *Scheduler) allocateRAR(rar *pendingRAR, rarAlloc *resourcegrid.SlotAllocator) int {
	if rarAlloc.RARGrantsFull() {
		s.log.Debug("RAR allocation postponed: no PDSCH space for RAR", "ra_rnti", rar.raRNTI)
		return 0
	}

	n := len(rar.tcRNTIs)
	if n == 0 {
		return 0
	}

	var msg3Alloc *resourcegrid.SlotAllocator
	var ulPRBs prb.Interval
	found := false

	for _, cand := range s.cfg.PUSCHCandidates {
		delay := s.msg3Delay(cand)
		alloc := s.ring.Allocator(int(delay))
		if !alloc.IsULActive() {
			continue
		}
		candN := n
		if free := alloc.ULGrantsFreeSpace(); free < candN {
			candN = free
		}
		if candN == 0 {
			continue
		}
		iv := prb.FindEmptyIntervalOfLength(alloc.UsedULPRBs(), nofPRBsPerMsg3*candN, 0)
		candN = iv.Length() / nofPRBsPerMsg3
		if candN == 0 {
			continue
		}
		n = candN
		msg3Alloc = alloc
		ulPRBs = prb.NewInterval(iv.Start(), iv.Start()+nofPRBsPerMsg3*n)
		found = true
		break
	}
	if !found {
		s.log.Debug("RAR allocation postponed: no UL PUSCH space for Msg3", "ra_rnti", rar.raRNTI)
		return 0
	}

	dlIv := prb.FindEmptyIntervalOfLength(rarAlloc.UsedDLPRBs(), nofPRBsPerRAR*n, 0)
	n = dlIv.Length() / nofPRBsPerRAR
	if n == 0 {
		s.log.Debug("RAR allocation postponed: no PDSCH PRBs for RAR", "ra_rnti", rar.raRNTI)
		return 0
	}
	dlPRBs := prb.NewInterval(dlIv.Start(), dlIv.Start()+nofPRBsPerRAR*n)
	ulPRBs = prb.NewInterval(ulPRBs.Start(), ulPRBs.Start()+nofPRBsPerMsg3*n)

	s.fillRARGrant(rar, dlPRBs, ulPRBs, rarAlloc, msg3Alloc, n)
	return n
}

// fillRARGrant reserves the PRBs, emits one RAR grant containing n Msg3
// sub-grants, and installs n Msg3 UL HARQ processes.
func (s *Scheduler) fillRARGrant(rar *pendingRAR, dlPRBs, ulPRBs prb.Interval, rarAlloc, msg3Alloc *resourcegrid.SlotAllocator, n int) {
	grant := resourcegrid.RARGrant{
		CellIndex: s.cfg.CellIndex,
		RARNTI:    rar.raRNTI,
		PRBs:      dlPRBs,
	}

	msg3Start := ulPRBs.Start()
	for i := 0; i < n; i++ {
		tcRNTI := rar.tcRNTIs[i]
		entry := &s.pendingMsg3s[int(tcRNTI)%maxNofMsg3]
		msg3PRBs := prb.NewInterval(msg3Start, msg3Start+nofPRBsPerMsg3)
		msg3Start += nofPRBsPerMsg3

		grant.Msg3s = append(grant.Msg3s, resourcegrid.Msg3Info{
			RAPID:     entry.indMsg.PreambleID,
			TempCRNTI: tcRNTI,
			TA:        entry.indMsg.TimingAdvance,
			PRBs:      msg3PRBs,
		})

		msg3Alloc.FillPUSCH(resourcegrid.ULGrant{CRNTI: tcRNTI, PRBs: msg3PRBs, MCS: msg3MCS})

		if _, err := entry.msg3HARQ.NewTx(msg3Alloc.Slot(), msg3Alloc.Slot(), msg3PRBs, msg3MCS, msg3MaxRetx); err != nil {
			s.log.Error("unexpected Msg3 HARQ allocation failure", "tc_rnti", tcRNTI, "err", err)
		}
	}

	rarAlloc.FillRAR(grant)
	s.log.Info("RAR allocated", "ra_rnti", rar.raRNTI, "nof_msg3", n)
}

// PendingMsg3HARQ returns the Msg3 UL HARQ process tracking TC-RNTI's
// third message, or nil if none is outstanding. Exposed for CRC feedback
// wiring (spec.md section 6's ul_crc_info).
func (s *Scheduler) PendingMsg3HARQ(tcRNTI uint16) *harq.Process {
	entry := &s.pendingMsg3s[int(tcRNTI)%maxNofMsg3]
	if !entry.valid {
		return nil
	}
	return entry.msg3HARQ
}
