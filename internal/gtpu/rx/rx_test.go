// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

package rx

import (
	"context"
	"testing"
	"time"

	"github.com/oss5g/gnbcore/internal/execctx"
	"github.com/oss5g/gnbcore/internal/gtpu/ambr"
	"github.com/oss5g/gnbcore/internal/gtpu/pdu"
	"github.com/oss5g/gnbcore/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	delivered chan deliveredSDU
}

type deliveredSDU struct {
	payload []byte
	qfi     uint8
}

func newRecorder() *recorder { return &recorder{delivered: make(chan deliveredSDU, 16)} }

func (r *recorder) OnNewSDU(payload []byte, qfi uint8) {
	r.delivered <- deliveredSDU{payload: append([]byte(nil), payload...), qfi: qfi}
}

func mustReceive(t *testing.T, ch <-chan deliveredSDU, timeout time.Duration) deliveredSDU {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(timeout):
		t.Fatal("timed out waiting for delivery")
		return deliveredSDU{}
	}
}

func mustNotReceive(t *testing.T, ch <-chan deliveredSDU, within time.Duration) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery: %+v", d)
	case <-time.After(within):
	}
}

func tpdu(payload []byte, hasSeq bool, sn uint16, qfi uint8) []byte {
	p := pdu.PDU{
		Header: pdu.Header{
			MessageType: pdu.MsgTPDU,
			TEID:        1,
			HasExtHdr:   true,
			HasSeq:      hasSeq,
			SeqNumber:   sn,
			ExtHeaders:  []pdu.ExtensionHeader{pdu.EncodePDUSessionContainer(pdu.PDUSessionInfo{Type: pdu.PDUSessionTypeUL, QFI: qfi})},
		},
		Payload: payload,
	}
	return p.Write()
}

func newTestExecutor(t *testing.T) *execctx.Executor {
	t.Helper()
	exec := execctx.New(context.Background(), 16)
	t.Cleanup(exec.Stop)
	return exec
}

func TestImmediateDeliveryWithoutReordering(t *testing.T) {
	exec := newTestExecutor(t)
	rec := newRecorder()
	r := New(Config{TEID: 1, TReordering: 0, IgnoreAMBR: true}, exec, nil, rec, nil, nil)

	r.HandlePDU(tpdu([]byte("hello"), false, 0, 9))
	d := mustReceive(t, rec.delivered, time.Second)
	require.Equal(t, []byte("hello"), d.payload)
	require.Equal(t, uint8(9), d.qfi)
}

func TestMissingPDUSessionContainerDropped(t *testing.T) {
	exec := newTestExecutor(t)
	rec := newRecorder()
	r := New(Config{TEID: 1, IgnoreAMBR: true}, exec, nil, rec, nil, nil)

	p := pdu.PDU{Header: pdu.Header{MessageType: pdu.MsgTPDU, TEID: 1}, Payload: []byte("x")}
	r.HandlePDU(p.Write())
	mustNotReceive(t, rec.delivered, 100*time.Millisecond)
}

func TestReorderingBuffersThenDeliversInOrder(t *testing.T) {
	exec := newTestExecutor(t)
	rec := newRecorder()
	r := New(Config{TEID: 1, TReordering: time.Hour, IgnoreAMBR: true}, exec, nil, rec, nil, nil)

	r.HandlePDU(tpdu([]byte("second"), true, 1, 1))
	mustNotReceive(t, rec.delivered, 100*time.Millisecond)

	r.HandlePDU(tpdu([]byte("first"), true, 0, 1))
	d1 := mustReceive(t, rec.delivered, time.Second)
	d2 := mustReceive(t, rec.delivered, time.Second)
	require.Equal(t, []byte("first"), d1.payload)
	require.Equal(t, []byte("second"), d2.payload)
}

func TestReorderingTimerExpiryForceDelivers(t *testing.T) {
	exec := newTestExecutor(t)
	rec := newRecorder()
	r := New(Config{TEID: 1, TReordering: 20 * time.Millisecond, IgnoreAMBR: true}, exec, nil, rec, nil, nil)

	r.HandlePDU(tpdu([]byte("gap-filler-missing"), true, 1, 1))
	mustNotReceive(t, rec.delivered, 5*time.Millisecond)

	d := mustReceive(t, rec.delivered, time.Second)
	require.Equal(t, []byte("gap-filler-missing"), d.payload)
}

func TestAMBRDropsOverBudget(t *testing.T) {
	exec := newTestExecutor(t)
	rec := newRecorder()
	limiter := ambr.New(0, 0)
	r := New(Config{TEID: 1}, exec, limiter, rec, nil, nil)

	r.HandlePDU(tpdu([]byte("blocked"), false, 0, 1))
	mustNotReceive(t, rec.delivered, 100*time.Millisecond)
}

func TestMetricsRecordDeliveredAndDroppedPDUs(t *testing.T) {
	exec := newTestExecutor(t)
	rec := newRecorder()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	limiter := ambr.New(0, 0)
	r := New(Config{TEID: 1}, exec, limiter, rec, nil, m)

	r.HandlePDU(tpdu([]byte("blocked"), false, 0, 1))
	mustNotReceive(t, rec.delivered, 100*time.Millisecond)
	require.Equal(t, float64(1), testutil.ToFloat64(m.AMBRDrops.WithLabelValues("1")))

	r2 := New(Config{TEID: 1, IgnoreAMBR: true}, exec, nil, rec, nil, m)
	r2.HandlePDU(tpdu([]byte("hello"), false, 0, 1))
	mustReceive(t, rec.delivered, time.Second)
	require.Equal(t, float64(1), testutil.ToFloat64(m.PDUsReceived.WithLabelValues("1")))
}
