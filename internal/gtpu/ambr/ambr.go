// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package ambr implements the token-bucket UE-AMBR (Aggregate Maximum Bit
// Rate) limiter applied to GTP-U NG-U receive traffic, grounded on
// original_source/lib/gtpu/gtpu_tunnel_ngu_rx_impl.h's
// config.ue_ambr_limiter->consume(pdu.buf.length()) gate in handle_pdu.
package ambr

import (
	"sync"
	"time"
)

// Limiter is a token bucket sized in bytes, refilled continuously at a
// configured rate.
type Limiter struct {
	mu         sync.Mutex
	rateBps    float64
	burstBytes float64
	tokens     float64
	last       time.Time
	now        func() time.Time
}

// New returns a Limiter for the given AMBR (bits per second) and burst size
// in bytes. The bucket starts full.
func New(ambrBitsPerSec uint64, burstBytes uint64) *Limiter {
	rate := float64(ambrBitsPerSec) / 8
	return &Limiter{
		rateBps:    rate,
		burstBytes: float64(burstBytes),
		tokens:     float64(burstBytes),
		now:        time.Now,
	}
}

// Consume reports whether nBytes may be admitted under the current budget,
// deducting from the bucket if so. Mirrors ue_ambr_limiter::consume's
// boolean accept/reject contract.
func (l *Limiter) Consume(nBytes int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens < float64(nBytes) {
		return false
	}
	l.tokens -= float64(nBytes)
	return true
}

func (l *Limiter) refillLocked() {
	now := l.now()
	if l.last.IsZero() {
		l.last = now
		return
	}
	elapsed := now.Sub(l.last).Seconds()
	if elapsed <= 0 {
		return
	}
	l.last = now
	l.tokens += elapsed * l.rateBps
	if l.tokens > l.burstBytes {
		l.tokens = l.burstBytes
	}
}
