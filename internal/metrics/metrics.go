// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package metrics defines the Prometheus collectors instrumenting the GTP-U
// and RA-scheduling core (SPEC_FULL.md section 2), grounded on
// runZeroInc/sockstats's exporter.go/prometheus.MustRegister pattern,
// simplified from its per-connection pull collector to plain counters,
// since nothing here needs a custom Collector (Describe/Collect).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of collectors a running gNB core process exposes on
// its /metrics endpoint. A nil *Metrics is valid everywhere it is injected
// (all methods below are nil-receiver safe), matching gnblog.Logger's
// optional-injection convention.
type Metrics struct {
	PDUsReceived     *prometheus.CounterVec
	PDUsSent         *prometheus.CounterVec
	AMBRDrops        *prometheus.CounterVec
	ReorderDuplicate *prometheus.CounterVec
	ReorderOutOfWindow *prometheus.CounterVec
	RARWindowExpired prometheus.Counter
	HARQDiscarded    *prometheus.CounterVec
}

// New builds and registers the collector set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PDUsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnbcore",
			Subsystem: "gtpu",
			Name:      "pdus_received_total",
			Help:      "GTP-U PDUs received on the N3 interface, by TEID.",
		}, []string{"teid"}),
		PDUsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnbcore",
			Subsystem: "gtpu",
			Name:      "pdus_sent_total",
			Help:      "GTP-U PDUs sent on the N3 interface, by TEID.",
		}, []string{"teid"}),
		AMBRDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnbcore",
			Subsystem: "gtpu",
			Name:      "ambr_drops_total",
			Help:      "PDUs dropped for exceeding the UE-AMBR budget, by TEID.",
		}, []string{"teid"}),
		ReorderDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnbcore",
			Subsystem: "gtpu",
			Name:      "reorder_duplicate_total",
			Help:      "Duplicate sequence numbers dropped by the reorder window, by TEID.",
		}, []string{"teid"}),
		ReorderOutOfWindow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnbcore",
			Subsystem: "gtpu",
			Name:      "reorder_out_of_window_total",
			Help:      "Sequence numbers outside the reorder window, forwarded immediately, by TEID.",
		}, []string{"teid"}),
		RARWindowExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnbcore",
			Subsystem: "rasched",
			Name:      "ra_window_expired_total",
			Help:      "Pending RARs discarded after their ra-ResponseWindow elapsed.",
		}),
		HARQDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnbcore",
			Subsystem: "harq",
			Name:      "discarded_total",
			Help:      "HARQ processes discarded after exhausting max_retx, by direction (dl/ul).",
		}, []string{"direction"}),
	}

	reg.MustRegister(
		m.PDUsReceived,
		m.PDUsSent,
		m.AMBRDrops,
		m.ReorderDuplicate,
		m.ReorderOutOfWindow,
		m.RARWindowExpired,
		m.HARQDiscarded,
	)
	return m
}

// fmtTEID avoids pulling in fmt just for one base-10 conversion in the hot
// PDU path.
func fmtTEID(teid uint32) string {
	if teid == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for teid > 0 {
		i--
		buf[i] = byte('0' + teid%10)
		teid /= 10
	}
	return string(buf[i:])
}

func (m *Metrics) IncPDUsReceived(teid uint32) {
	if m == nil {
		return
	}
	m.PDUsReceived.WithLabelValues(fmtTEID(teid)).Inc()
}

func (m *Metrics) IncPDUsSent(teid uint32) {
	if m == nil {
		return
	}
	m.PDUsSent.WithLabelValues(fmtTEID(teid)).Inc()
}

func (m *Metrics) IncAMBRDrop(teid uint32) {
	if m == nil {
		return
	}
	m.AMBRDrops.WithLabelValues(fmtTEID(teid)).Inc()
}

func (m *Metrics) IncReorderDuplicate(teid uint32) {
	if m == nil {
		return
	}
	m.ReorderDuplicate.WithLabelValues(fmtTEID(teid)).Inc()
}

func (m *Metrics) IncReorderOutOfWindow(teid uint32) {
	if m == nil {
		return
	}
	m.ReorderOutOfWindow.WithLabelValues(fmtTEID(teid)).Inc()
}

func (m *Metrics) IncRARWindowExpired() {
	if m == nil {
		return
	}
	m.RARWindowExpired.Inc()
}

func (m *Metrics) IncHARQDiscarded(direction string) {
	if m == nil {
		return
	}
	m.HARQDiscarded.WithLabelValues(direction).Inc()
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
