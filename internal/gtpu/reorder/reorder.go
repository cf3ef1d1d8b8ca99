// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package reorder implements the GTP-U NG-U receive reordering window state
// machine described in spec.md section 4.2 (RX_NEXT / RX_DELIV / RX_REORD),
// grounded on
// original_source/lib/gtpu/gtpu_tunnel_ngu_rx_impl.h's gtpu_rx_state,
// inside_rx_window, handle_pdu, deliver_all_consecutive_sdus and
// handle_t_reordering_expire.
//
// Engine owns only the state machine; the reordering timer itself (start,
// stop, generation-tagged expiry) is owned by the caller, since that is a
// concurrency concern of internal/execctx rather than of the reordering
// algorithm.
package reorder

// SNMod is the GTP-U sequence number modulus (16-bit).
const SNMod = 65536

// WindowSize is the width of the receive window, in SNs.
const WindowSize = 32768

// State is the reordering engine's externally observable state, mirroring
// gtpu_rx_state.
type State struct {
	RxNext  uint16
	RxDeliv uint16
	RxReord uint16
}

// SDU is one reassembled GTP-U service data unit.
type SDU struct {
	Payload []byte
	QFI     uint8
	SN      uint16
}

// HandleResult reports what Handle did: which SDUs became deliverable, and
// what the caller's timer should do next.
type HandleResult struct {
	Delivered   []SDU
	Duplicate   bool
	OutOfWindow bool
	StopTimer   bool
	StartTimer  bool
}

// Engine is one UE bearer's reordering state.
type Engine struct {
	state  State
	window map[uint16]SDU
}

// NewEngine returns a fresh Engine with RX_NEXT = RX_DELIV = RX_REORD = 0.
func NewEngine() *Engine {
	return &Engine{window: make(map[uint16]SDU)}
}

// State returns a copy of the engine's current state (test/debug hook,
// mirrors gtpu_tunnel_ngu_rx_impl::get_state).
func (e *Engine) State() State { return e.state }

// SetState overwrites the engine's state (test hook, mirrors set_state).
func (e *Engine) SetState(st State) { e.state = st }

// rxModBase rebases sn against RX_DELIV, the lower edge of the window.
// uint16 subtraction wraps modulo SNMod automatically.
func (e *Engine) rxModBase(sn uint16) uint16 { return sn - e.state.RxDeliv }

// InsideWindow reports whether sn falls in [RX_DELIV, RX_DELIV+WindowSize).
func (e *Engine) InsideWindow(sn uint16) bool { return e.rxModBase(sn) < WindowSize }

// Handle processes one received PDU carrying sequence number sn.
// timerRunning must reflect whether the caller's reordering timer is
// currently running; tReorderingZero is true when t-Reordering is
// configured to 0ms (the UE-AMBR-style "reorder disabled" configuration).
func (e *Engine) Handle(sn uint16, sdu SDU, timerRunning, tReorderingZero bool) HandleResult {
	var res HandleResult

	if !e.InsideWindow(sn) {
		sdu.SN = sn
		res.OutOfWindow = true
		res.Delivered = []SDU{sdu}
		return res
	}

	// "Late SN" check. rx_mod_base(RX_DELIV) rebases RX_DELIV against
	// itself, so it is always 0 — this comparison can never be true. The
	// branch is preserved verbatim from the implementation this engine was
	// distilled from; see the open-question note in the design ledger.
	if e.rxModBase(sn) < e.rxModBase(e.state.RxDeliv) {
		sdu.SN = sn
		res.Delivered = []SDU{sdu}
		return res
	}

	if _, dup := e.window[sn]; dup {
		res.Duplicate = true
		return res
	}

	sdu.SN = sn
	e.window[sn] = sdu

	if e.rxModBase(sn) >= e.rxModBase(e.state.RxNext) {
		e.state.RxNext = sn + 1
	}

	if sn == e.state.RxDeliv {
		res.Delivered = append(res.Delivered, e.drainConsecutive()...)
	}

	if timerRunning && !e.InsideWindow(e.state.RxReord) {
		res.StopTimer = true
		timerRunning = false
	}

	if tReorderingZero {
		e.state.RxReord = e.state.RxNext
		delivered, _ := e.ExpireReordering(tReorderingZero)
		res.Delivered = append(res.Delivered, delivered...)
	} else if !timerRunning && e.rxModBase(e.state.RxDeliv) < e.rxModBase(e.state.RxNext) {
		e.state.RxReord = e.state.RxNext
		res.StartTimer = true
	}

	return res
}

// drainConsecutive delivers every buffered SDU starting at RX_DELIV for as
// long as the run stays unbroken, advancing RX_DELIV past each one.
func (e *Engine) drainConsecutive() []SDU {
	var out []SDU
	for e.state.RxDeliv != e.state.RxNext {
		sdu, ok := e.window[e.state.RxDeliv]
		if !ok {
			break
		}
		out = append(out, sdu)
		delete(e.window, e.state.RxDeliv)
		e.state.RxDeliv++
	}
	return out
}

// ExpireReordering runs the t-Reordering expiry handler: everything up to
// RX_REORD is force-delivered (gaps are simply skipped over), then any
// further consecutive run is drained. restart reports whether RX_DELIV is
// still behind RX_NEXT afterwards, meaning the caller should restart the
// timer against a new RX_REORD. The caller is responsible for checking
// whether its timer is still the current one (a stale/superseded firing
// must not call this at all).
func (e *Engine) ExpireReordering(tReorderingZero bool) (delivered []SDU, restart bool) {
	if !e.InsideWindow(e.state.RxReord) {
		return nil, false
	}

	var out []SDU
	for e.state.RxDeliv != e.state.RxReord {
		if sdu, ok := e.window[e.state.RxDeliv]; ok {
			out = append(out, sdu)
			delete(e.window, e.state.RxDeliv)
		}
		e.state.RxDeliv++
	}
	out = append(out, e.drainConsecutive()...)

	if e.rxModBase(e.state.RxDeliv) < e.rxModBase(e.state.RxNext) {
		if tReorderingZero {
			return out, false
		}
		e.state.RxReord = e.state.RxNext
		return out, true
	}
	return out, false
}
