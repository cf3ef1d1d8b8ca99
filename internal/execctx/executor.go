// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package execctx implements the single-threaded cooperative executor
// described in spec.md section 5: one goroutine per affinity domain (CU-UP
// tunnel, UE control, cell scheduler), draining a queue of posted closures
// in arrival order, with no lock held across a yield point.
//
// The pattern is generalised from the teacher's own concurrency idiom in
// example.go (one goroutine per affinity - decap/encap/runUPlane - driven
// by a context.Context and a channel/select loop) into a reusable
// single-worker executor that the rest of this module posts work onto.
package execctx

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Executor runs posted closures one at a time, in the order they were
// posted, on a single goroutine. It stands in for the "CU-UP executor" /
// "UE control executor" / "cell scheduler executor" of spec.md section 5.
type Executor struct {
	id     string
	queue  chan func()
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts an Executor backed by one goroutine. Call Stop to shut it
// down. The correlation id (surfaced by ID) lets logs from multiple
// concurrently-running executors (e.g. one per cell, one per UE) be told
// apart.
func New(ctx context.Context, queueDepth int) *Executor {
	cctx, cancel := context.WithCancel(ctx)
	e := &Executor{
		id:     xid.New().String(),
		queue:  make(chan func(), queueDepth),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go e.run(cctx)
	return e
}

// ID returns this executor's correlation id.
func (e *Executor) ID() string { return e.id }

func (e *Executor) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.queue:
			fn()
		}
	}
}

// Post enqueues fn to run on the executor's goroutine. Post never blocks
// the caller on fn's execution; it only blocks if the queue is full,
// applying backpressure the same way an unbounded mailbox would overflow.
func (e *Executor) Post(fn func()) {
	select {
	case e.queue <- fn:
	case <-e.done:
		// Executor stopped: drop, matching spec.md's "subsequent input is
		// dropped without updating state" semantics after stop().
	}
}

// Stop cancels the executor's goroutine. It does not wait for in-flight
// work to drain beyond the currently-running closure.
func (e *Executor) Stop() {
	e.cancel()
}

// Timer is a generation-tagged timer descriptor, per Design Notes section
// 9: Stop (and any restart) bumps the generation, and the deferred
// callback checks its captured generation against the current one before
// posting the expiry closure back onto the owning executor. This
// reproduces unique_timer::is_running() without pre-emptive cancellation.
type Timer struct {
	mu         sync.Mutex
	exec       *Executor
	duration   time.Duration
	onExpire   func()
	generation uint64
	running    bool
	realTimer  *time.Timer
}

// NewTimer builds a (stopped) timer that, once started, fires onExpire on
// the given executor after duration.
func NewTimer(exec *Executor, duration time.Duration, onExpire func()) *Timer {
	return &Timer{exec: exec, duration: duration, onExpire: onExpire}
}

// IsRunning reports whether the timer is currently scheduled.
func (t *Timer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Run (re)starts the timer, superseding any previously scheduled firing:
// the prior generation's callback will observe a generation mismatch and
// no-op.
func (t *Timer) Run() {
	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.running = true
	if t.realTimer != nil {
		t.realTimer.Stop()
	}
	t.realTimer = time.AfterFunc(t.duration, func() {
		t.exec.Post(func() { t.fire(gen) })
	})
	t.mu.Unlock()
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cb := t.onExpire
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Stop cancels the timer. Safe to call whether or not it is running.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.generation++
	t.running = false
	if t.realTimer != nil {
		t.realTimer.Stop()
	}
	t.mu.Unlock()
}
