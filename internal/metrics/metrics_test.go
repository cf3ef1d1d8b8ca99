// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

package metrics

import (
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestFmtTEIDMatchesStrconv(t *testing.T) {
	cases := []uint32{0, 1, 9, 10, 100, 4660, 4294967295}
	for _, teid := range cases {
		require.Equal(t, expectedDecimal(teid), fmtTEID(teid))
	}
}

func expectedDecimal(teid uint32) string {
	return strconv.FormatUint(uint64(teid), 10)
}

func TestCountersIncrementAndAreRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncPDUsReceived(7)
	m.IncPDUsSent(7)
	m.IncAMBRDrop(7)
	m.IncReorderDuplicate(7)
	m.IncReorderOutOfWindow(7)
	m.IncRARWindowExpired()
	m.IncHARQDiscarded("dl")

	require.Equal(t, float64(1), testutil.ToFloat64(m.PDUsReceived.WithLabelValues("7")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PDUsSent.WithLabelValues("7")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.AMBRDrops.WithLabelValues("7")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ReorderDuplicate.WithLabelValues("7")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ReorderOutOfWindow.WithLabelValues("7")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.RARWindowExpired))
	require.Equal(t, float64(1), testutil.ToFloat64(m.HARQDiscarded.WithLabelValues("dl")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.IncPDUsReceived(1)
		m.IncPDUsSent(1)
		m.IncAMBRDrop(1)
		m.IncReorderDuplicate(1)
		m.IncReorderOutOfWindow(1)
		m.IncRARWindowExpired()
		m.IncHARQDiscarded("ul")
	})
}
